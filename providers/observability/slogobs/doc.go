// Package slogobs implements observability.Provider on top of log/slog.
//
// Spans become start/end log lines, counters and histograms are kept in
// memory and logged at DEBUG, and log calls go straight to the logger. The
// output format (compact, pretty, json) and level come from options or from
// AGENTFLOW_LOG_FORMAT and AGENTFLOW_LOG_LEVEL, falling back to LOG_FORMAT
// and LOG_LEVEL.
package slogobs
