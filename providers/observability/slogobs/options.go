package slogobs

import (
	"io"
	"log/slog"
	"os"

	"github.com/leofalp/agentflow/providers/observability"
)

// Option configures an Observer.
type Option func(*config)

type config struct {
	format Format
	level  slog.Level
	output io.Writer
	colors bool

	// logger, when set, replaces the handler built from the fields above.
	logger *slog.Logger

	// attrs are attached to every record.
	attrs []observability.Attribute
}

// WithFormat sets the output format.
func WithFormat(format Format) Option {
	return func(cfg *config) {
		cfg.format = format
	}
}

// WithLevel sets the minimum level.
func WithLevel(level slog.Level) Option {
	return func(cfg *config) {
		cfg.level = level
	}
}

// WithOutput sets the destination. Default: os.Stderr.
func WithOutput(output io.Writer) Option {
	return func(cfg *config) {
		cfg.output = output
	}
}

// WithColors forces ANSI colors on or off for compact and pretty output.
func WithColors(enabled bool) Option {
	return func(cfg *config) {
		cfg.colors = enabled
	}
}

// WithLogger uses logger as is; format, level, output and colors are ignored.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		cfg.logger = logger
	}
}

// WithAttributes attaches attrs to every record, e.g. a service name.
func WithAttributes(attrs ...observability.Attribute) Option {
	return func(cfg *config) {
		cfg.attrs = append(cfg.attrs, attrs...)
	}
}

func defaultConfig() *config {
	return &config{
		format: GetFormatFromEnv(),
		level:  GetLogLevelFromEnv(),
		output: os.Stderr,
	}
}

func applyOptions(opts ...Option) *config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
