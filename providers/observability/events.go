package observability

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// EventType names a lifecycle point of a flow run.
type EventType string

const (
	EventFlowStarted      EventType = "flow_started"
	EventNodeStarted      EventType = "node_started"
	EventNodeRetrying     EventType = "node_retrying"
	EventNodeCompleted    EventType = "node_completed"
	EventNodeFailed       EventType = "node_failed"
	EventNodeSkipped      EventType = "node_skipped"
	EventContextOverwrite EventType = "context_overwrite"
	EventContextLimit     EventType = "context_limit"
	EventFlowCompleted    EventType = "flow_completed"
)

// Event is one lifecycle notification. Fields that do not apply to the
// event type are left zero.
type Event struct {
	Type  EventType
	Time  time.Time
	Flow  string
	RunID string

	// NodeID is set for node events and for context overwrites (the writer).
	NodeID string

	// Attempt is the 1-based attempt number of node events.
	Attempt int

	// Duration is set on NodeCompleted, NodeFailed and FlowCompleted.
	Duration time.Duration

	// Err is the failure of NodeFailed and NodeRetrying, and the first fatal
	// error on FlowCompleted.
	Err error

	// Reason is the error kind of a skip, e.g. "dependency_failed", or the
	// limit involved in a ContextLimit event, e.g. "value_size".
	Reason string

	// Cause is the node whose failure led to a skip.
	Cause string

	// Status is the terminal flow status on FlowCompleted, or the terminal
	// node state on node events.
	Status string

	// Key and PreviousWriter describe a ContextOverwrite. Key is also the
	// key being written on a ContextLimit event.
	Key            string
	PreviousWriter string

	// Size is the encoded size in bytes that a ContextLimit event reports.
	Size int
}

// String renders a compact one-line description, for logs and tests.
func (event Event) String() string {
	description := string(event.Type)
	if event.NodeID != "" {
		description += " " + event.NodeID
	}
	if event.Key != "" {
		description += " key=" + event.Key
	}
	if event.Status != "" {
		description += " status=" + event.Status
	}
	if event.Reason != "" {
		description += " reason=" + event.Reason
	}
	if event.Err != nil {
		description += fmt.Sprintf(" err=%q", event.Err.Error())
	}
	return description
}

// Sink consumes lifecycle events. Sinks are write-only: nothing they do can
// change a scheduling outcome. A sink receives events from every running
// flow and must be safe for concurrent use.
type Sink interface {
	HandleEvent(event Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(event Event)

// HandleEvent calls the function.
func (sinkFunc SinkFunc) HandleEvent(event Event) {
	sinkFunc(event)
}

type registeredSink struct {
	sink Sink
}

var processSink atomic.Pointer[registeredSink]

// RegisterSink installs the process-wide sink. Register once during start-up,
// before the first flow runs. Passing nil removes the current sink.
func RegisterSink(sink Sink) {
	if sink == nil {
		processSink.Store(nil)
		return
	}
	processSink.Store(&registeredSink{sink: sink})
}

// CurrentSink returns the process-wide sink, or nil.
func CurrentSink() Sink {
	registered := processSink.Load()
	if registered == nil {
		return nil
	}
	return registered.sink
}

// Emit delivers event to the process-wide sink. Without a sink it does
// nothing. A panicking sink is contained so the caller is never affected.
func Emit(event Event) {
	Deliver(CurrentSink(), event)
}

// Deliver hands event to sink, tolerating a nil sink and recovering panics.
func Deliver(sink Sink, event Event) {
	if sink == nil {
		return
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	defer func() {
		_ = recover()
	}()
	sink.HandleEvent(event)
}

// --- Sinks ---

// Recorder is an in-memory sink that keeps every event, in arrival order.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{events: make([]Event, 0)}
}

// HandleEvent appends the event.
func (recorder *Recorder) HandleEvent(event Event) {
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	recorder.events = append(recorder.events, event)
}

// Events returns a copy of the recorded events.
func (recorder *Recorder) Events() []Event {
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	copied := make([]Event, len(recorder.events))
	copy(copied, recorder.events)
	return copied
}

// Types returns the recorded event types, optionally restricted to one run.
func (recorder *Recorder) Types(runID string) []EventType {
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	types := make([]EventType, 0, len(recorder.events))
	for _, event := range recorder.events {
		if runID == "" || event.RunID == runID {
			types = append(types, event.Type)
		}
	}
	return types
}

// Reset drops all recorded events.
func (recorder *Recorder) Reset() {
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	recorder.events = recorder.events[:0]
}

// MultiSink fans every event out to all sinks, in order.
func MultiSink(sinks ...Sink) Sink {
	active := make([]Sink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			active = append(active, sink)
		}
	}
	return SinkFunc(func(event Event) {
		for _, sink := range active {
			Deliver(sink, event)
		}
	})
}

// NewLogSink returns a sink that writes every event to the provider's logger:
// failures and limit breaches at ERROR, overwrites, skips and limit warnings
// at WARN, the rest at INFO.
func NewLogSink(provider Provider) Sink {
	return SinkFunc(func(event Event) {
		if provider == nil {
			return
		}

		ctx := context.Background()
		attrs := eventAttributes(event)
		message := "flow event " + string(event.Type)

		switch event.Type {
		case EventNodeFailed:
			provider.Error(ctx, message, attrs...)
		case EventContextOverwrite, EventNodeSkipped, EventNodeRetrying:
			provider.Warn(ctx, message, attrs...)
		case EventContextLimit:
			if event.Err != nil {
				provider.Error(ctx, message, attrs...)
				return
			}
			provider.Warn(ctx, message, attrs...)
		case EventFlowCompleted:
			if event.Err != nil {
				provider.Error(ctx, message, attrs...)
				return
			}
			provider.Info(ctx, message, attrs...)
		default:
			provider.Info(ctx, message, attrs...)
		}
	})
}

func eventAttributes(event Event) []Attribute {
	attrs := []Attribute{
		String(AttrFlowName, event.Flow),
		String(AttrFlowRunID, event.RunID),
	}
	if event.NodeID != "" {
		attrs = append(attrs, String(AttrNodeID, event.NodeID))
	}
	if event.Attempt > 0 {
		attrs = append(attrs, Int(AttrNodeAttempt, event.Attempt))
	}
	if event.Duration > 0 {
		attrs = append(attrs, Duration(AttrDuration, event.Duration))
	}
	if event.Status != "" {
		attrs = append(attrs, String(AttrStatus, event.Status))
	}
	if event.Reason != "" {
		attrs = append(attrs, String(AttrNodeSkipReason, event.Reason))
	}
	if event.Cause != "" {
		attrs = append(attrs, String(AttrNodeCause, event.Cause))
	}
	if event.Key != "" {
		attrs = append(attrs, String(AttrContextKey, event.Key))
	}
	if event.PreviousWriter != "" {
		attrs = append(attrs, String(AttrContextPreviousWriter, event.PreviousWriter))
	}
	if event.Size > 0 {
		attrs = append(attrs, Int(AttrContextSize, event.Size))
	}
	if event.Err != nil {
		attrs = append(attrs, Error(event.Err))
	}
	return attrs
}
