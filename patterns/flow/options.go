package flow

import (
	"time"

	"github.com/leofalp/agentflow/providers/observability"
)

// FailurePolicy decides how far a node failure propagates.
type FailurePolicy string

const (
	// FailFast fails the run on the first node failure. In-flight async
	// nodes are cancelled and nodes not yet started are skipped.
	FailFast FailurePolicy = "fail_fast"

	// BestEffort skips only the failed node's transitive dependents.
	// Independent branches run to completion.
	BestEffort FailurePolicy = "best_effort"
)

func (policy FailurePolicy) valid() bool {
	return policy == FailFast || policy == BestEffort
}

// ParseFailurePolicy maps a policy name to a FailurePolicy. The empty string
// selects FailFast.
func ParseFailurePolicy(name string) (FailurePolicy, bool) {
	switch FailurePolicy(name) {
	case "", FailFast:
		return FailFast, true
	case BestEffort:
		return BestEffort, true
	default:
		return "", false
	}
}

// flowConfig holds the flow-level configuration populated from Options.
type flowConfig struct {
	failurePolicy FailurePolicy
	maxInFlight   int
	runTimeout    time.Duration
	observer      observability.Provider
	version       string
	sink          observability.Sink
	limits        ContextLimits
}

// Option is a functional option for configuring a Flow.
// Options are applied by NewBuilder.
type Option func(*flowConfig)

// NodeOption is a functional option for configuring a single node.
// Node options are applied by Builder.AddNode.
type NodeOption func(*flowNode)

// --- Flow Options ---

// WithFailurePolicy selects FailFast (default) or BestEffort.
//
// Example:
//
//	flow.NewBuilder("digest", flow.WithFailurePolicy(flow.BestEffort))
func WithFailurePolicy(policy FailurePolicy) Option {
	return func(config *flowConfig) {
		config.failurePolicy = policy
	}
}

// WithMaxInFlight bounds the number of async nodes running at the same time.
// Ready async nodes beyond the bound wait without holding a goroutine.
// A value of 0 (default) means no bound. Sync nodes are not counted.
func WithMaxInFlight(maxInFlight int) Option {
	return func(config *flowConfig) {
		config.maxInFlight = maxInFlight
	}
}

// WithRunTimeout bounds the duration of a whole run. When it expires the
// run fails with a Timeout error and in-flight async nodes are cancelled.
// A value of 0 (default) means no timeout.
func WithRunTimeout(timeout time.Duration) Option {
	return func(config *flowConfig) {
		config.runTimeout = timeout
	}
}

// WithObserver attaches an observability provider for spans, metrics and
// logs. Without one, a provider found on the run context is used; with
// neither, observability costs nothing.
func WithObserver(provider observability.Provider) Option {
	return func(config *flowConfig) {
		config.observer = provider
	}
}

// WithVersion records the version of the workflow definition the flow was
// built from. It is reported on every run.
func WithVersion(version string) Option {
	return func(config *flowConfig) {
		config.version = version
	}
}

// WithEventSink attaches a sink that receives this flow's lifecycle events
// in addition to the process-wide sink.
func WithEventSink(sink observability.Sink) Option {
	return func(config *flowConfig) {
		config.sink = sink
	}
}

// WithContextLimits caps the size of each run's execution context. A node
// whose write breaks a limit fails with a ResourceLimitExceeded error, and
// every breach or warning is reported as a ContextLimit event.
//
// Example:
//
//	flow.NewBuilder("digest", flow.WithContextLimits(flow.ContextLimits{
//	    MaxValueSize: 1 << 20,
//	    MaxStateSize: 16 << 20,
//	    WarnFraction: 0.8,
//	}))
func WithContextLimits(limits ContextLimits) Option {
	return func(config *flowConfig) {
		config.limits = limits
	}
}

// --- Node Options ---

// DependsOn declares the nodes that must complete before this one is ready.
// It may be given more than once; duplicates are ignored.
//
// Example:
//
//	builder.AddNode("summarize", summarize, flow.DependsOn("parse"))
func DependsOn(nodeIDs ...string) NodeOption {
	return func(flowNode *flowNode) {
		flowNode.dependencies = append(flowNode.dependencies, nodeIDs...)
	}
}

// WithOutputKey sets the context key the node's result is written under.
// It defaults to the node ID.
func WithOutputKey(key string) NodeOption {
	return func(flowNode *flowNode) {
		flowNode.outputKey = key
	}
}

// WithMode overrides the execution mode the node declares.
func WithMode(mode Mode) NodeOption {
	return func(flowNode *flowNode) {
		flowNode.mode = mode
		flowNode.modeSet = true
	}
}

// WithTimeout bounds each attempt of the node. Exceeding it is treated as
// the node returning a Timeout error. A sync node cannot be interrupted, so
// its overrun is detected when it returns.
func WithTimeout(timeout time.Duration) NodeOption {
	return func(flowNode *flowNode) {
		flowNode.timeout = timeout
	}
}

// WithRetry attaches a retry policy. Without one a failed attempt is final.
func WithRetry(policy RetryPolicy) NodeOption {
	return func(flowNode *flowNode) {
		flowNode.retry = policy
	}
}

// WithCircuitBreaker runs the node through breaker. While the breaker is
// open the node fails with a CircuitOpen error without being invoked. Share
// one breaker between nodes to trip them together.
func WithCircuitBreaker(breaker *CircuitBreaker) NodeOption {
	return func(flowNode *flowNode) {
		flowNode.breaker = breaker
	}
}

// WithInputKeys declares the context keys the node reads. If any of them is
// absent when the node becomes ready, the node fails with a
// MissingDependencyOutput error without being invoked.
func WithInputKeys(keys ...string) NodeOption {
	return func(flowNode *flowNode) {
		flowNode.inputKeys = append(flowNode.inputKeys, keys...)
	}
}
