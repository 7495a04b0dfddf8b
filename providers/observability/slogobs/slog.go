package slogobs

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/leofalp/agentflow/providers/observability"
)

// Observer implements observability.Provider with a slog.Logger. Spans are
// logged when they start and end; metrics are aggregated in memory and each
// update is logged at DEBUG.
type Observer struct {
	logger  *slog.Logger
	metrics *metricsStore
}

var _ observability.Provider = (*Observer)(nil)

// New creates an Observer. Without options it writes compact records to
// stderr at the level and format found in the environment.
//
//	observer := slogobs.New(
//	    slogobs.WithFormat(slogobs.FormatPretty),
//	    slogobs.WithLevel(slog.LevelDebug),
//	)
//	digest, err := flow.NewBuilder("digest", flow.WithObserver(observer)).
//	    AddNode(...).
//	    Build()
func New(opts ...Option) *Observer {
	cfg := applyOptions(opts...)

	logger := cfg.logger
	if logger == nil {
		logger = slog.New(NewHandler(&HandlerOptions{
			Format: cfg.format,
			Level:  cfg.level,
			Output: cfg.output,
			Colors: cfg.colors,
		}))
	}
	if len(cfg.attrs) > 0 {
		logger = logger.With(toArgs(cfg.attrs)...)
	}

	return &Observer{logger: logger, metrics: newMetricsStore()}
}

// Logger returns the underlying logger.
func (observer *Observer) Logger() *slog.Logger {
	return observer.logger
}

// --- Tracing ---

// StartSpan logs the span start at DEBUG. The context is returned unchanged.
func (observer *Observer) StartSpan(ctx context.Context, name string, attrs ...observability.Attribute) (context.Context, observability.Span) {
	span := &slogSpan{
		name:    name,
		started: time.Now(),
		logger:  observer.logger,
		attrs:   append([]observability.Attribute(nil), attrs...),
	}

	observer.logger.LogAttrs(ctx, slog.LevelDebug, "span started",
		append([]slog.Attr{slog.String("span", name)}, toSlog(attrs)...)...)
	return ctx, span
}

type slogSpan struct {
	name    string
	started time.Time
	logger  *slog.Logger

	mu     sync.Mutex
	attrs  []observability.Attribute
	status observability.StatusCode
	ended  bool
}

// End logs the span with its duration and accumulated attributes. Only the
// first call has an effect.
func (span *slogSpan) End() {
	span.mu.Lock()
	if span.ended {
		span.mu.Unlock()
		return
	}
	span.ended = true
	attrs := append([]slog.Attr{
		slog.String("span", span.name),
		slog.Duration(observability.AttrDuration, time.Since(span.started)),
	}, toSlog(span.attrs)...)
	level := slog.LevelDebug
	if span.status == observability.StatusError {
		level = slog.LevelWarn
	}
	span.mu.Unlock()

	span.logger.LogAttrs(context.Background(), level, "span ended", attrs...)
}

func (span *slogSpan) SetAttributes(attrs ...observability.Attribute) {
	span.mu.Lock()
	defer span.mu.Unlock()
	span.attrs = append(span.attrs, attrs...)
}

func (span *slogSpan) SetStatus(code observability.StatusCode, description string) {
	span.mu.Lock()
	defer span.mu.Unlock()

	span.status = code
	span.attrs = append(span.attrs, observability.String(observability.AttrStatus, code.String()))
	if description != "" {
		span.attrs = append(span.attrs, observability.String(observability.AttrStatusDescription, description))
	}
}

// RecordError attaches err to the span; it is logged when the span ends.
func (span *slogSpan) RecordError(err error) {
	if err == nil {
		return
	}
	span.mu.Lock()
	defer span.mu.Unlock()
	span.attrs = append(span.attrs, observability.Error(err))
}

func (span *slogSpan) AddEvent(name string, attrs ...observability.Attribute) {
	span.logger.LogAttrs(context.Background(), slog.LevelDebug, "span event",
		append([]slog.Attr{slog.String("span", span.name), slog.String("event", name)}, toSlog(attrs)...)...)
}

// --- Metrics ---

// Counter returns the counter registered under name, creating it on first use.
func (observer *Observer) Counter(name string) observability.Counter {
	return observer.metrics.counter(name, observer.logger)
}

// Histogram returns the histogram registered under name, creating it on
// first use.
func (observer *Observer) Histogram(name string) observability.Histogram {
	return observer.metrics.histogram(name, observer.logger)
}

// HistogramSummary aggregates the values recorded by a histogram.
type HistogramSummary struct {
	Count int64
	Sum   float64
	Min   float64
	Max   float64
}

// Counters returns the current total of every counter.
func (observer *Observer) Counters() map[string]int64 {
	return observer.metrics.counterTotals()
}

// Histograms returns a summary of every histogram.
func (observer *Observer) Histograms() map[string]HistogramSummary {
	return observer.metrics.histogramSummaries()
}

// MetricNames returns every registered metric name in sorted order.
func (observer *Observer) MetricNames() []string {
	counters := observer.Counters()
	histograms := observer.Histograms()

	names := make([]string, 0, len(counters)+len(histograms))
	for name := range counters {
		names = append(names, name)
	}
	for name := range histograms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type metricsStore struct {
	mu         sync.Mutex
	counters   map[string]*slogCounter
	histograms map[string]*slogHistogram
}

func newMetricsStore() *metricsStore {
	return &metricsStore{
		counters:   make(map[string]*slogCounter),
		histograms: make(map[string]*slogHistogram),
	}
}

func (store *metricsStore) counter(name string, logger *slog.Logger) *slogCounter {
	store.mu.Lock()
	defer store.mu.Unlock()

	if existing, exists := store.counters[name]; exists {
		return existing
	}
	created := &slogCounter{name: name, logger: logger}
	store.counters[name] = created
	return created
}

func (store *metricsStore) histogram(name string, logger *slog.Logger) *slogHistogram {
	store.mu.Lock()
	defer store.mu.Unlock()

	if existing, exists := store.histograms[name]; exists {
		return existing
	}
	created := &slogHistogram{name: name, logger: logger}
	store.histograms[name] = created
	return created
}

func (store *metricsStore) counterTotals() map[string]int64 {
	store.mu.Lock()
	defer store.mu.Unlock()

	totals := make(map[string]int64, len(store.counters))
	for name, registered := range store.counters {
		totals[name] = registered.total()
	}
	return totals
}

func (store *metricsStore) histogramSummaries() map[string]HistogramSummary {
	store.mu.Lock()
	defer store.mu.Unlock()

	summaries := make(map[string]HistogramSummary, len(store.histograms))
	for name, registered := range store.histograms {
		summaries[name] = registered.summary()
	}
	return summaries
}

type slogCounter struct {
	name   string
	logger *slog.Logger

	mu    sync.Mutex
	value int64
}

func (counter *slogCounter) Add(ctx context.Context, delta int64, attrs ...observability.Attribute) {
	counter.mu.Lock()
	counter.value += delta
	current := counter.value
	counter.mu.Unlock()

	counter.logger.LogAttrs(ctx, slog.LevelDebug, "counter",
		append([]slog.Attr{
			slog.String("metric", counter.name),
			slog.Int64("delta", delta),
			slog.Int64("value", current),
		}, toSlog(attrs)...)...)
}

func (counter *slogCounter) total() int64 {
	counter.mu.Lock()
	defer counter.mu.Unlock()
	return counter.value
}

type slogHistogram struct {
	name   string
	logger *slog.Logger

	mu        sync.Mutex
	aggregate HistogramSummary
}

func (histogram *slogHistogram) Record(ctx context.Context, observed float64, attrs ...observability.Attribute) {
	histogram.mu.Lock()
	current := &histogram.aggregate
	if current.Count == 0 || observed < current.Min {
		current.Min = observed
	}
	if current.Count == 0 || observed > current.Max {
		current.Max = observed
	}
	current.Count++
	current.Sum += observed
	histogram.mu.Unlock()

	histogram.logger.LogAttrs(ctx, slog.LevelDebug, "histogram",
		append([]slog.Attr{
			slog.String("metric", histogram.name),
			slog.Float64("value", observed),
		}, toSlog(attrs)...)...)
}

func (histogram *slogHistogram) summary() HistogramSummary {
	histogram.mu.Lock()
	defer histogram.mu.Unlock()
	return histogram.aggregate
}

// --- Logging ---

// Trace logs at LevelTrace, below DEBUG.
func (observer *Observer) Trace(ctx context.Context, msg string, attrs ...observability.Attribute) {
	observer.logger.LogAttrs(ctx, LevelTrace, msg, toSlog(attrs)...)
}

func (observer *Observer) Debug(ctx context.Context, msg string, attrs ...observability.Attribute) {
	observer.logger.LogAttrs(ctx, slog.LevelDebug, msg, toSlog(attrs)...)
}

func (observer *Observer) Info(ctx context.Context, msg string, attrs ...observability.Attribute) {
	observer.logger.LogAttrs(ctx, slog.LevelInfo, msg, toSlog(attrs)...)
}

func (observer *Observer) Warn(ctx context.Context, msg string, attrs ...observability.Attribute) {
	observer.logger.LogAttrs(ctx, slog.LevelWarn, msg, toSlog(attrs)...)
}

func (observer *Observer) Error(ctx context.Context, msg string, attrs ...observability.Attribute) {
	observer.logger.LogAttrs(ctx, slog.LevelError, msg, toSlog(attrs)...)
}

func toSlog(attrs []observability.Attribute) []slog.Attr {
	converted := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		converted = append(converted, slog.Any(attr.Key, attr.Value))
	}
	return converted
}

func toArgs(attrs []observability.Attribute) []any {
	args := make([]any, 0, len(attrs))
	for _, attr := range toSlog(attrs) {
		args = append(args, attr)
	}
	return args
}
