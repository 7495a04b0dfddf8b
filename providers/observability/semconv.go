package observability

// Semantic conventions shared by the flow scheduler and the providers. Using
// these names keeps spans, metrics and log lines from different backends
// comparable.

// --- Flow Attributes ---

const (
	// AttrFlowName is the name the flow was built with.
	AttrFlowName = "flow.name"

	// AttrFlowVersion is the version of the workflow definition, if any.
	AttrFlowVersion = "flow.version"

	// AttrFlowRunID uniquely identifies one run of a flow.
	AttrFlowRunID = "flow.run_id"

	// AttrFlowPolicy is the failure policy (fail_fast, best_effort).
	AttrFlowPolicy = "flow.failure_policy"

	// AttrFlowStatus is the terminal status of a run.
	AttrFlowStatus = "flow.status"

	// AttrFlowTotalNodes is the number of nodes in the flow.
	AttrFlowTotalNodes = "flow.total_nodes"

	// AttrFlowMaxInFlight is the async concurrency bound.
	AttrFlowMaxInFlight = "flow.max_in_flight"
)

// --- Node Attributes ---

const (
	// AttrNodeID identifies the node within its flow.
	AttrNodeID = "node.id"

	// AttrNodeMode is the execution mode (sync, async).
	AttrNodeMode = "node.mode"

	// AttrNodeState is the terminal state of the node.
	AttrNodeState = "node.state"

	// AttrNodeAttempt is the 1-based attempt number.
	AttrNodeAttempt = "node.attempt"

	// AttrNodeDependencies lists the upstream node IDs.
	AttrNodeDependencies = "node.dependencies"

	// AttrNodeOutputKey is the context key the node writes.
	AttrNodeOutputKey = "node.output_key"

	// AttrNodeSkipReason is the error kind explaining a skip.
	AttrNodeSkipReason = "node.skip_reason"

	// AttrNodeCause is the node whose failure caused a skip.
	AttrNodeCause = "node.cause"

	// AttrNodeOutput is a truncated preview of the node output.
	AttrNodeOutput = "node.output"
)

// --- Context Attributes ---

const (
	// AttrContextKey is the execution context key involved.
	AttrContextKey = "context.key"

	// AttrContextPreviousWriter is the node that wrote the key before.
	AttrContextPreviousWriter = "context.previous_writer"

	// AttrContextWriter is the node writing the key now.
	AttrContextWriter = "context.writer"

	// AttrContextLimit names the size limit a write approached or broke.
	AttrContextLimit = "context.limit"

	// AttrContextSize is an encoded size in bytes.
	AttrContextSize = "context.size"
)

// --- General Attributes ---

const (
	// AttrError is the error message.
	AttrError = "error"

	// AttrErrorType is the error kind.
	AttrErrorType = "error.type"

	// AttrDuration is the operation duration.
	AttrDuration = "duration"

	// AttrStatus is the operation status.
	AttrStatus = "status"

	// AttrStatusDescription is the status description.
	AttrStatusDescription = "status_description"
)

// --- Span Names ---

const (
	// SpanFlowRun covers one complete run of a flow.
	SpanFlowRun = "flow.run"

	// SpanNodeRun covers one node, including its retries.
	SpanNodeRun = "flow.node.run"
)

// --- Span Event Names ---

const (
	// EventNodeRetry marks a failed attempt that will be retried.
	EventNodeRetry = "node.retry"
)

// --- Metric Names ---

const (
	// MetricFlowRunDuration is the histogram of run durations in seconds.
	MetricFlowRunDuration = "agentflow.flow.run.duration"

	// MetricFlowRunCount counts runs by terminal status.
	MetricFlowRunCount = "agentflow.flow.run.count"

	// MetricNodeDuration is the histogram of node durations in seconds.
	MetricNodeDuration = "agentflow.node.duration"

	// MetricNodeCount counts nodes by terminal state.
	MetricNodeCount = "agentflow.node.count"

	// MetricNodeRetries counts retried attempts.
	MetricNodeRetries = "agentflow.node.retries"

	// MetricContextOverwrites counts context keys written more than once.
	MetricContextOverwrites = "agentflow.context.overwrites"

	// MetricContextLimits counts context writes that broke or approached a
	// size limit.
	MetricContextLimits = "agentflow.context.limits"
)
