package slogobs

import (
	"log/slog"
	"strings"
)

// LevelTrace sits below DEBUG. Provider.Trace logs at this level.
const LevelTrace = slog.LevelDebug - 4

// GetLogLevelFromEnv reads AGENTFLOW_LOG_LEVEL, then LOG_LEVEL. Default: INFO.
func GetLogLevelFromEnv() slog.Level {
	level, _ := ParseLogLevel(firstEnv(envLogLevel, envLogLevelFallback))
	return level
}

// ParseLogLevel parses TRACE, DEBUG, INFO, WARN (or WARNING) and ERROR,
// ignoring case and surrounding space. Unknown or empty names yield INFO and
// false.
func ParseLogLevel(name string) (slog.Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "TRACE":
		return LevelTrace, true
	case "DEBUG":
		return slog.LevelDebug, true
	case "INFO":
		return slog.LevelInfo, true
	case "WARN", "WARNING":
		return slog.LevelWarn, true
	case "ERROR":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// LevelName returns the label printed for level.
func LevelName(level slog.Level) string {
	switch {
	case level < slog.LevelDebug:
		return "TRACE"
	case level < slog.LevelInfo:
		return "DEBUG"
	case level < slog.LevelWarn:
		return "INFO"
	case level < slog.LevelError:
		return "WARN"
	default:
		return "ERROR"
	}
}
