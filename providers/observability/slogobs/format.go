package slogobs

import (
	"os"
	"strings"
)

// Format is the output layout of the Handler.
type Format string

const (
	// FormatCompact prints one line per record with attributes as JSON:
	//
	//	2026-10-18 10:40:35  INFO node completed -> {"node.id":"parse"}
	FormatCompact Format = "compact"

	// FormatPretty prints the message followed by one attribute per line:
	//
	//	2026-10-18 10:40:35 INFO   node completed
	//	                    `- node.id: parse
	FormatPretty Format = "pretty"

	// FormatJSON prints one JSON object per record.
	FormatJSON Format = "json"
)

// ParseFormat maps a format name to a Format. Unknown names yield
// FormatCompact.
func ParseFormat(name string) Format {
	switch Format(strings.ToLower(strings.TrimSpace(name))) {
	case FormatPretty:
		return FormatPretty
	case FormatJSON:
		return FormatJSON
	default:
		return FormatCompact
	}
}

// GetFormatFromEnv reads AGENTFLOW_LOG_FORMAT, then LOG_FORMAT.
func GetFormatFromEnv() Format {
	return ParseFormat(firstEnv(envLogFormat, envLogFormatFallback))
}

func (format Format) String() string {
	return string(format)
}

const (
	envLogFormat         = "AGENTFLOW_LOG_FORMAT"
	envLogFormatFallback = "LOG_FORMAT"
	envLogLevel          = "AGENTFLOW_LOG_LEVEL"
	envLogLevelFallback  = "LOG_LEVEL"
)

// firstEnv returns the first non-empty environment variable among names.
func firstEnv(names ...string) string {
	for _, name := range names {
		if setting := os.Getenv(name); setting != "" {
			return setting
		}
	}
	return ""
}
