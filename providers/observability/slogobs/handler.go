package slogobs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Handler is a slog.Handler that writes compact, pretty or JSON records.
// Attributes are printed in key order so output is stable across runs.
type Handler struct {
	format Format
	level  slog.Leveler
	colors bool

	// mu is shared by every handler derived with WithAttrs or WithGroup so
	// that records written to the same output never interleave.
	mu     *sync.Mutex
	output io.Writer

	attrs  []slog.Attr
	prefix string
}

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	// Format defaults to FormatCompact.
	Format Format
	// Level is the minimum level written. Default: INFO.
	Level slog.Leveler
	// Output defaults to os.Stderr.
	Output io.Writer
	// Colors enables ANSI colors for compact and pretty output. They are
	// also enabled when Output is a terminal.
	Colors bool
}

// NewHandler creates a Handler.
func NewHandler(opts *HandlerOptions) *Handler {
	if opts == nil {
		opts = &HandlerOptions{}
	}

	handler := &Handler{
		format: opts.Format,
		level:  opts.Level,
		colors: opts.Colors,
		mu:     &sync.Mutex{},
		output: opts.Output,
	}
	if handler.format == "" {
		handler.format = FormatCompact
	}
	if handler.level == nil {
		handler.level = slog.LevelInfo
	}
	if handler.output == nil {
		handler.output = os.Stderr
	}
	if !handler.colors && handler.format != FormatJSON {
		if file, ok := handler.output.(*os.File); ok {
			handler.colors = isTerminal(file)
		}
	}
	return handler
}

// Enabled implements slog.Handler.
func (handler *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= handler.level.Level()
}

// Handle implements slog.Handler.
func (handler *Handler) Handle(_ context.Context, record slog.Record) error {
	fields := handler.fields(record)

	var line []byte
	var err error
	switch handler.format {
	case FormatJSON:
		line, err = handler.formatJSON(record, fields)
	case FormatPretty:
		line = handler.formatPretty(record, fields)
	default:
		line, err = handler.formatCompact(record, fields)
	}
	if err != nil {
		return err
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	_, err = handler.output.Write(line)
	return err
}

// WithAttrs implements slog.Handler.
func (handler *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	derived := *handler
	derived.attrs = make([]slog.Attr, 0, len(handler.attrs)+len(attrs))
	derived.attrs = append(derived.attrs, handler.attrs...)
	for _, attr := range attrs {
		attr.Key = handler.prefix + attr.Key
		derived.attrs = append(derived.attrs, attr)
	}
	return &derived
}

// WithGroup implements slog.Handler. Group names prefix later keys with
// "name.".
func (handler *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return handler
	}
	derived := *handler
	derived.prefix = handler.prefix + name + "."
	return &derived
}

type field struct {
	key   string
	value any
}

// fields merges handler and record attributes, flattens groups and sorts
// the result by key. A later attribute with the same key wins.
func (handler *Handler) fields(record slog.Record) []field {
	collected := make(map[string]any, len(handler.attrs)+record.NumAttrs())
	for _, attr := range handler.attrs {
		addAttr(collected, "", attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		addAttr(collected, handler.prefix, attr)
		return true
	})

	fields := make([]field, 0, len(collected))
	for key, item := range collected {
		fields = append(fields, field{key: key, value: item})
	}
	sort.Slice(fields, func(left, right int) bool { return fields[left].key < fields[right].key })
	return fields
}

func addAttr(collected map[string]any, prefix string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}

	if attr.Value.Kind() == slog.KindGroup {
		groupPrefix := prefix
		if attr.Key != "" {
			groupPrefix = prefix + attr.Key + "."
		}
		for _, member := range attr.Value.Group() {
			addAttr(collected, groupPrefix, member)
		}
		return
	}

	collected[prefix+attr.Key] = plainValue(attr.Value)
}

// plainValue converts a slog value to something encoding/json renders
// readably.
func plainValue(item slog.Value) any {
	switch item.Kind() {
	case slog.KindDuration:
		return item.Duration().String()
	case slog.KindTime:
		return item.Time().Format(time.RFC3339Nano)
	case slog.KindAny:
		switch typed := item.Any().(type) {
		case error:
			return typed.Error()
		case time.Duration:
			return typed.String()
		case fmt.Stringer:
			return typed.String()
		}
	}
	return item.Any()
}

func (handler *Handler) formatCompact(record slog.Record, fields []field) ([]byte, error) {
	var builder strings.Builder
	builder.WriteString(record.Time.Format(time.DateTime))
	builder.WriteByte(' ')
	handler.writeLevel(&builder, record.Level, fmt.Sprintf("%5s", LevelName(record.Level)))
	builder.WriteByte(' ')
	builder.WriteString(record.Message)

	if len(fields) > 0 {
		encoded, err := encodeFields(fields)
		if err != nil {
			return nil, err
		}
		builder.WriteString(" -> ")
		builder.Write(encoded)
	}

	builder.WriteByte('\n')
	return []byte(builder.String()), nil
}

// prettyIndent aligns attribute lines under the message.
const prettyIndent = "                    "

func (handler *Handler) formatPretty(record slog.Record, fields []field) []byte {
	var builder strings.Builder
	builder.WriteString(record.Time.Format(time.DateTime))
	builder.WriteByte(' ')
	handler.writeLevel(&builder, record.Level, fmt.Sprintf("%-6s", LevelName(record.Level)))
	builder.WriteByte(' ')
	builder.WriteString(record.Message)
	builder.WriteByte('\n')

	for position, entry := range fields {
		builder.WriteString(prettyIndent)
		if position == len(fields)-1 {
			builder.WriteString("`- ")
		} else {
			builder.WriteString("|- ")
		}
		fmt.Fprintf(&builder, "%s: %v\n", entry.key, entry.value)
	}

	return []byte(builder.String())
}

func (handler *Handler) formatJSON(record slog.Record, fields []field) ([]byte, error) {
	reserved := []field{
		{key: "time", value: record.Time.Format(time.RFC3339)},
		{key: "level", value: LevelName(record.Level)},
		{key: "msg", value: record.Message},
	}
	for _, entry := range fields {
		switch entry.key {
		case "time", "level", "msg":
			entry.key = "attr." + entry.key
		}
		reserved = append(reserved, entry)
	}

	encoded, err := encodeFields(reserved)
	if err != nil {
		return nil, err
	}
	return append(encoded, '\n'), nil
}

// encodeFields writes fields as a JSON object in the given order.
func encodeFields(fields []field) ([]byte, error) {
	var builder strings.Builder
	builder.WriteByte('{')
	for position, entry := range fields {
		if position > 0 {
			builder.WriteByte(',')
		}
		key, err := json.Marshal(entry.key)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(entry.value)
		if err != nil {
			encoded, _ = json.Marshal(fmt.Sprintf("%v", entry.value))
		}
		builder.Write(key)
		builder.WriteByte(':')
		builder.Write(encoded)
	}
	builder.WriteByte('}')
	return []byte(builder.String()), nil
}

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorGreen  = "\033[32m"
	colorBlue   = "\033[34m"
	colorGray   = "\033[90m"
)

func (handler *Handler) writeLevel(builder *strings.Builder, level slog.Level, label string) {
	if !handler.colors {
		builder.WriteString(label)
		return
	}
	builder.WriteString(colorForLevel(level))
	builder.WriteString(label)
	builder.WriteString(colorReset)
}

func colorForLevel(level slog.Level) string {
	switch {
	case level < slog.LevelDebug:
		return colorGray
	case level < slog.LevelInfo:
		return colorBlue
	case level < slog.LevelWarn:
		return colorGreen
	case level < slog.LevelError:
		return colorYellow
	default:
		return colorRed
	}
}

func isTerminal(file *os.File) bool {
	info, err := file.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
