package flow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leofalp/agentflow/core/value"
	"github.com/leofalp/agentflow/providers/observability"
)

// --- Node helpers ---

// textNode returns a node that outputs text.
func textNode(text string) NodeFunc {
	return func(_ context.Context, _ *Handle) (value.Value, error) {
		return value.Text(text), nil
	}
}

// failingNode returns a node that always fails with err.
func failingNode(err error) NodeFunc {
	return func(_ context.Context, _ *Handle) (value.Value, error) {
		return value.Null(), err
	}
}

// blockingNode returns an async node that waits for cancellation and
// reports whether it observed it.
func blockingNode(observed *sync.WaitGroup) Node {
	return Async(func(ctx context.Context, _ *Handle) (value.Value, error) {
		defer observed.Done()
		<-ctx.Done()
		return value.Null(), ctx.Err()
	})
}

// sleepingNode returns an async node that sleeps for delay unless cancelled.
func sleepingNode(delay time.Duration, text string) Node {
	return Async(func(ctx context.Context, _ *Handle) (value.Value, error) {
		select {
		case <-ctx.Done():
			return value.Null(), ctx.Err()
		case <-time.After(delay):
			return value.Text(text), nil
		}
	})
}

var errSummarize = errors.New("summarizer unavailable")

func mustBuild(testCase *testing.T, builder *Builder) *Flow {
	testCase.Helper()
	built, err := builder.Build()
	if err != nil {
		testCase.Fatalf("build error: %v", err)
	}
	return built
}

// --- Mock observer ---

// testObserver implements observability.Provider for verifying observe calls.
type testObserver struct {
	mu       sync.Mutex
	spans    []string
	ended    int
	logs     []string
	warnings []string
	errors   []string
	metrics  map[string]float64
}

var _ observability.Provider = (*testObserver)(nil)

func newTestObserver() *testObserver {
	return &testObserver{
		spans:    make([]string, 0),
		logs:     make([]string, 0),
		warnings: make([]string, 0),
		errors:   make([]string, 0),
		metrics:  make(map[string]float64),
	}
}

func (observer *testObserver) StartSpan(ctx context.Context, name string, _ ...observability.Attribute) (context.Context, observability.Span) {
	observer.mu.Lock()
	defer observer.mu.Unlock()
	observer.spans = append(observer.spans, name)
	return ctx, &testSpan{observer: observer}
}

func (observer *testObserver) Trace(_ context.Context, msg string, _ ...observability.Attribute) {
	observer.log(&observer.logs, msg)
}

func (observer *testObserver) Debug(_ context.Context, msg string, _ ...observability.Attribute) {
	observer.log(&observer.logs, msg)
}

func (observer *testObserver) Info(_ context.Context, msg string, _ ...observability.Attribute) {
	observer.log(&observer.logs, msg)
}

func (observer *testObserver) Warn(_ context.Context, msg string, _ ...observability.Attribute) {
	observer.log(&observer.warnings, msg)
}

func (observer *testObserver) Error(_ context.Context, msg string, _ ...observability.Attribute) {
	observer.log(&observer.errors, msg)
}

func (observer *testObserver) log(target *[]string, msg string) {
	observer.mu.Lock()
	defer observer.mu.Unlock()
	*target = append(*target, msg)
}

func (observer *testObserver) Counter(name string) observability.Counter {
	return &testCounter{name: name, observer: observer}
}

func (observer *testObserver) Histogram(name string) observability.Histogram {
	return &testHistogram{name: name, observer: observer}
}

func (observer *testObserver) metric(name string) float64 {
	observer.mu.Lock()
	defer observer.mu.Unlock()
	return observer.metrics[name]
}

// testSpan is a mock span that counts End calls.
type testSpan struct {
	observer *testObserver
}

func (span *testSpan) End() {
	span.observer.mu.Lock()
	defer span.observer.mu.Unlock()
	span.observer.ended++
}
func (span *testSpan) SetAttributes(_ ...observability.Attribute)      {}
func (span *testSpan) SetStatus(_ observability.StatusCode, _ string)  {}
func (span *testSpan) RecordError(_ error)                             {}
func (span *testSpan) AddEvent(_ string, _ ...observability.Attribute) {}

// testCounter sums every Add.
type testCounter struct {
	name     string
	observer *testObserver
}

func (counter *testCounter) Add(_ context.Context, value int64, _ ...observability.Attribute) {
	counter.observer.mu.Lock()
	defer counter.observer.mu.Unlock()
	counter.observer.metrics[counter.name] += float64(value)
}

// testHistogram keeps the last recorded value.
type testHistogram struct {
	name     string
	observer *testObserver
}

func (histogram *testHistogram) Record(_ context.Context, value float64, _ ...observability.Attribute) {
	histogram.observer.mu.Lock()
	defer histogram.observer.mu.Unlock()
	histogram.observer.metrics[histogram.name] = value
}
