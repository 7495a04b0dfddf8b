package otelobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/leofalp/agentflow/providers/observability"
	"github.com/leofalp/agentflow/providers/observability/slogobs"
)

// DefaultInstrumentationName names the tracer and meter.
const DefaultInstrumentationName = "github.com/leofalp/agentflow"

// Provider implements observability.Provider with OpenTelemetry.
type Provider struct {
	tracer trace.Tracer
	meter  metric.Meter
	logger *slog.Logger

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
}

var _ observability.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*config)

type config struct {
	tracerProvider  trace.TracerProvider
	meterProvider   metric.MeterProvider
	logger          *slog.Logger
	instrumentation string
}

// WithTracerProvider sets the TracerProvider. Default: otel.GetTracerProvider().
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(cfg *config) {
		cfg.tracerProvider = provider
	}
}

// WithMeterProvider sets the MeterProvider. Default: otel.GetMeterProvider().
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(cfg *config) {
		cfg.meterProvider = provider
	}
}

// WithLogger sets the logger. Default: a slogobs logger configured from the
// environment.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		cfg.logger = logger
	}
}

// WithInstrumentationName overrides DefaultInstrumentationName.
func WithInstrumentationName(name string) Option {
	return func(cfg *config) {
		cfg.instrumentation = name
	}
}

// New creates a Provider.
//
//	otel.SetTracerProvider(sdktrace.NewTracerProvider(...))
//	observer := otelobs.New()
//	result, err := digest.Run(observability.ContextWithObserver(ctx, observer), inputs)
func New(opts ...Option) *Provider {
	cfg := &config{instrumentation: DefaultInstrumentationName}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.tracerProvider == nil {
		cfg.tracerProvider = otel.GetTracerProvider()
	}
	if cfg.meterProvider == nil {
		cfg.meterProvider = otel.GetMeterProvider()
	}
	if cfg.logger == nil {
		cfg.logger = slogobs.New().Logger()
	}

	return &Provider{
		tracer:     cfg.tracerProvider.Tracer(cfg.instrumentation),
		meter:      cfg.meterProvider.Meter(cfg.instrumentation),
		logger:     cfg.logger,
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

// --- Tracing ---

// StartSpan starts an OpenTelemetry span; the returned context carries it so
// that spans started from it become children.
func (provider *Provider) StartSpan(ctx context.Context, name string, attrs ...observability.Attribute) (context.Context, observability.Span) {
	ctx, span := provider.tracer.Start(ctx, name, trace.WithAttributes(toOtel(attrs)...))
	return ctx, &otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (span *otelSpan) End() {
	span.span.End()
}

func (span *otelSpan) SetAttributes(attrs ...observability.Attribute) {
	span.span.SetAttributes(toOtel(attrs)...)
}

func (span *otelSpan) SetStatus(code observability.StatusCode, description string) {
	switch code {
	case observability.StatusOK:
		span.span.SetStatus(codes.Ok, description)
	case observability.StatusError:
		span.span.SetStatus(codes.Error, description)
	default:
		span.span.SetStatus(codes.Unset, description)
	}
}

func (span *otelSpan) RecordError(err error) {
	if err != nil {
		span.span.RecordError(err)
	}
}

func (span *otelSpan) AddEvent(name string, attrs ...observability.Attribute) {
	span.span.AddEvent(name, trace.WithAttributes(toOtel(attrs)...))
}

// --- Metrics ---

// Counter returns an Int64Counter. Instruments are created once per name;
// if the meter refuses one, a no-op counter is returned and the error logged.
func (provider *Provider) Counter(name string) observability.Counter {
	provider.mu.Lock()
	defer provider.mu.Unlock()

	instrument, exists := provider.counters[name]
	if !exists {
		var err error
		instrument, err = provider.meter.Int64Counter(name)
		if err != nil {
			provider.logger.Warn("cannot create counter", slog.String("metric", name), slog.String(observability.AttrError, err.Error()))
			instrument = metricnoop.Int64Counter{}
		}
		provider.counters[name] = instrument
	}
	return &otelCounter{instrument: instrument}
}

// Histogram returns a Float64Histogram. Names ending in ".duration" get the
// unit "s".
func (provider *Provider) Histogram(name string) observability.Histogram {
	provider.mu.Lock()
	defer provider.mu.Unlock()

	instrument, exists := provider.histograms[name]
	if !exists {
		var options []metric.Float64HistogramOption
		if strings.HasSuffix(name, ".duration") {
			options = append(options, metric.WithUnit("s"))
		}

		var err error
		instrument, err = provider.meter.Float64Histogram(name, options...)
		if err != nil {
			provider.logger.Warn("cannot create histogram", slog.String("metric", name), slog.String(observability.AttrError, err.Error()))
			instrument = metricnoop.Float64Histogram{}
		}
		provider.histograms[name] = instrument
	}
	return &otelHistogram{instrument: instrument}
}

type otelCounter struct {
	instrument metric.Int64Counter
}

func (counter *otelCounter) Add(ctx context.Context, delta int64, attrs ...observability.Attribute) {
	counter.instrument.Add(ctx, delta, metric.WithAttributes(toOtel(attrs)...))
}

type otelHistogram struct {
	instrument metric.Float64Histogram
}

func (histogram *otelHistogram) Record(ctx context.Context, value float64, attrs ...observability.Attribute) {
	histogram.instrument.Record(ctx, value, metric.WithAttributes(toOtel(attrs)...))
}

// --- Logging ---

func (provider *Provider) Trace(ctx context.Context, msg string, attrs ...observability.Attribute) {
	provider.log(ctx, slogobs.LevelTrace, msg, attrs)
}

func (provider *Provider) Debug(ctx context.Context, msg string, attrs ...observability.Attribute) {
	provider.log(ctx, slog.LevelDebug, msg, attrs)
}

func (provider *Provider) Info(ctx context.Context, msg string, attrs ...observability.Attribute) {
	provider.log(ctx, slog.LevelInfo, msg, attrs)
}

func (provider *Provider) Warn(ctx context.Context, msg string, attrs ...observability.Attribute) {
	provider.log(ctx, slog.LevelWarn, msg, attrs)
}

func (provider *Provider) Error(ctx context.Context, msg string, attrs ...observability.Attribute) {
	provider.log(ctx, slog.LevelError, msg, attrs)
}

// log adds trace_id and span_id when ctx carries a valid span context.
func (provider *Provider) log(ctx context.Context, level slog.Level, msg string, attrs []observability.Attribute) {
	if !provider.logger.Enabled(ctx, level) {
		return
	}

	logAttrs := make([]slog.Attr, 0, len(attrs)+2)
	if spanContext := trace.SpanContextFromContext(ctx); spanContext.IsValid() {
		logAttrs = append(logAttrs,
			slog.String("trace_id", spanContext.TraceID().String()),
			slog.String("span_id", spanContext.SpanID().String()),
		)
	}
	for _, attr := range attrs {
		logAttrs = append(logAttrs, slog.Any(attr.Key, attr.Value))
	}
	provider.logger.LogAttrs(ctx, level, msg, logAttrs...)
}

// toOtel converts attributes to OpenTelemetry key-values. Durations become
// float seconds; unsupported values are formatted with %v.
func toOtel(attrs []observability.Attribute) []attribute.KeyValue {
	converted := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		switch typed := attr.Value.(type) {
		case string:
			converted = append(converted, attribute.String(attr.Key, typed))
		case []string:
			converted = append(converted, attribute.StringSlice(attr.Key, typed))
		case bool:
			converted = append(converted, attribute.Bool(attr.Key, typed))
		case int:
			converted = append(converted, attribute.Int(attr.Key, typed))
		case int64:
			converted = append(converted, attribute.Int64(attr.Key, typed))
		case float64:
			converted = append(converted, attribute.Float64(attr.Key, typed))
		case time.Duration:
			converted = append(converted, attribute.Float64(attr.Key, typed.Seconds()))
		default:
			converted = append(converted, attribute.String(attr.Key, fmt.Sprintf("%v", typed)))
		}
	}
	return converted
}
