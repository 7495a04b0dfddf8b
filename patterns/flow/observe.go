package flow

import (
	"context"
	"time"

	"github.com/leofalp/agentflow/core/flowerr"
	"github.com/leofalp/agentflow/internal/utils"
	"github.com/leofalp/agentflow/providers/observability"
)

// outputPreviewLength bounds the node output preview attached to log lines.
const outputPreviewLength = 100

// runObserver holds the observability provider and the spans of one run.
// A nil provider disables every hook.
type runObserver struct {
	// provider comes from WithObserver, or from the run context as a fallback.
	provider observability.Provider

	flow  *Flow
	runID string

	// rootSpan covers the whole run.
	rootSpan observability.Span

	// nodeSpans holds the open span of every running node. Only the
	// scheduler goroutine touches it.
	nodeSpans map[string]observability.Span
}

func newRunObserver(flow *Flow, runID string, ctx context.Context) *runObserver {
	provider := flow.config.observer
	if provider == nil {
		provider = observability.ObserverFromContext(ctx)
	}

	return &runObserver{
		provider:  provider,
		flow:      flow,
		runID:     runID,
		nodeSpans: make(map[string]observability.Span),
	}
}

func (observer *runObserver) flowAttributes() []observability.Attribute {
	return []observability.Attribute{
		observability.String(observability.AttrFlowName, observer.flow.name),
		observability.String(observability.AttrFlowRunID, observer.runID),
	}
}

// flowStarted opens the root span and returns the context carrying it.
func (observer *runObserver) flowStarted(ctx context.Context) context.Context {
	if observer.provider == nil {
		return ctx
	}

	attrs := append(observer.flowAttributes(),
		observability.String(observability.AttrFlowVersion, observer.flow.config.version),
		observability.String(observability.AttrFlowPolicy, string(observer.flow.config.failurePolicy)),
		observability.Int(observability.AttrFlowTotalNodes, len(observer.flow.nodes)),
		observability.Int(observability.AttrFlowMaxInFlight, observer.flow.config.maxInFlight),
	)

	ctx, observer.rootSpan = observer.provider.StartSpan(ctx, observability.SpanFlowRun, attrs...)
	ctx = observability.ContextWithSpan(ctx, observer.rootSpan)
	ctx = observability.ContextWithObserver(ctx, observer.provider)

	observer.provider.Info(ctx, "flow run started", attrs...)
	return ctx
}

// flowFinished records the run duration and status and closes the root span.
func (observer *runObserver) flowFinished(result *RunResult) {
	if observer.provider == nil {
		return
	}

	ctx := context.Background()
	status := observability.String(observability.AttrFlowStatus, string(result.Status))

	observer.provider.Histogram(observability.MetricFlowRunDuration).Record(ctx, result.Duration.Seconds(),
		observability.String(observability.AttrFlowName, observer.flow.name),
		status,
	)
	observer.provider.Counter(observability.MetricFlowRunCount).Add(ctx, 1,
		observability.String(observability.AttrFlowName, observer.flow.name),
		status,
	)

	attrs := append(observer.flowAttributes(),
		status,
		observability.Duration(observability.AttrDuration, result.Duration),
		observability.Int("flow.completed_nodes", result.Count(NodeCompleted)),
		observability.Int("flow.failed_nodes", result.Count(NodeFailed)),
		observability.Int("flow.skipped_nodes", result.Count(NodeSkipped)),
	)

	if result.Err != nil {
		observer.provider.Error(ctx, "flow run finished with error", append(attrs, observability.Error(result.Err))...)
	} else {
		observer.provider.Info(ctx, "flow run completed", attrs...)
	}

	if observer.rootSpan == nil {
		return
	}
	observer.rootSpan.SetAttributes(status)
	if result.Err != nil {
		observer.rootSpan.RecordError(result.Err)
		observer.rootSpan.SetStatus(observability.StatusError, "flow run "+string(result.Status))
	} else {
		observer.rootSpan.SetStatus(observability.StatusOK, "flow run completed")
	}
	observer.rootSpan.End()
}

// nodeStarted opens a child span for the node and returns the context
// carrying it.
func (observer *runObserver) nodeStarted(ctx context.Context, flowNode *flowNode) context.Context {
	if observer.provider == nil {
		return ctx
	}

	var nodeSpan observability.Span
	ctx, nodeSpan = observer.provider.StartSpan(ctx, observability.SpanNodeRun,
		observability.String(observability.AttrNodeID, flowNode.id),
		observability.String(observability.AttrNodeMode, string(flowNode.mode)),
		observability.String(observability.AttrNodeOutputKey, flowNode.outputKey),
		observability.StringSlice(observability.AttrNodeDependencies, flowNode.dependencies),
	)
	observer.nodeSpans[flowNode.id] = nodeSpan

	ctx = observability.ContextWithSpan(ctx, nodeSpan)

	observer.provider.Debug(ctx, "node started",
		observability.String(observability.AttrNodeID, flowNode.id),
		observability.String(observability.AttrNodeMode, string(flowNode.mode)),
	)
	return ctx
}

// nodeCompleted records the node duration and closes its span.
func (observer *runObserver) nodeCompleted(flowNode *flowNode, finished completion) {
	if observer.provider == nil {
		return
	}

	ctx := context.Background()
	observer.recordNode(ctx, flowNode.id, NodeCompleted, finished.duration)

	observer.provider.Info(ctx, "node completed",
		observability.String(observability.AttrNodeID, flowNode.id),
		observability.Int(observability.AttrNodeAttempt, finished.attempts),
		observability.Duration(observability.AttrDuration, finished.duration),
		observability.String(observability.AttrNodeOutput, utils.Truncate(finished.output.String(), outputPreviewLength)),
	)

	if nodeSpan := observer.takeSpan(flowNode.id); nodeSpan != nil {
		nodeSpan.SetAttributes(
			observability.String(observability.AttrNodeState, string(NodeCompleted)),
			observability.Duration(observability.AttrDuration, finished.duration),
		)
		nodeSpan.SetStatus(observability.StatusOK, "node completed")
		nodeSpan.End()
	}
}

// nodeFailed records a failed or cancelled node and closes its span.
func (observer *runObserver) nodeFailed(flowNode *flowNode, state NodeState, finished completion) {
	if observer.provider == nil {
		return
	}

	ctx := context.Background()
	observer.recordNode(ctx, flowNode.id, state, finished.duration)

	attrs := []observability.Attribute{
		observability.String(observability.AttrNodeID, flowNode.id),
		observability.String(observability.AttrNodeState, string(state)),
		observability.Int(observability.AttrNodeAttempt, finished.attempts),
		observability.String(observability.AttrErrorType, errorKind(finished.err)),
		observability.Error(finished.err),
		observability.Duration(observability.AttrDuration, finished.duration),
	}
	if state == NodeCancelled {
		observer.provider.Warn(ctx, "node cancelled", attrs...)
	} else {
		observer.provider.Error(ctx, "node failed", attrs...)
	}

	if nodeSpan := observer.takeSpan(flowNode.id); nodeSpan != nil {
		nodeSpan.RecordError(finished.err)
		nodeSpan.SetAttributes(
			observability.String(observability.AttrNodeState, string(state)),
			observability.Duration(observability.AttrDuration, finished.duration),
		)
		nodeSpan.SetStatus(observability.StatusError, "node "+string(state))
		nodeSpan.End()
	}
}

// nodeSkipped counts the skip and logs its reason.
func (observer *runObserver) nodeSkipped(flowNode *flowNode, outcome NodeOutcome) {
	if observer.provider == nil {
		return
	}

	ctx := context.Background()
	observer.provider.Counter(observability.MetricNodeCount).Add(ctx, 1,
		observability.String(observability.AttrNodeState, string(NodeSkipped)),
		observability.String(observability.AttrNodeID, flowNode.id),
	)

	observer.provider.Info(ctx, "node skipped",
		observability.String(observability.AttrNodeID, flowNode.id),
		observability.String(observability.AttrNodeSkipReason, string(outcome.SkipReason)),
		observability.String(observability.AttrNodeCause, outcome.Cause),
	)
}

// nodeRetrying is called from the node's goroutine before it waits for the
// next attempt.
func (observer *runObserver) nodeRetrying(ctx context.Context, flowNode *flowNode, attempt int, err error, delay time.Duration) {
	if observer.provider == nil {
		return
	}

	observer.provider.Counter(observability.MetricNodeRetries).Add(ctx, 1,
		observability.String(observability.AttrNodeID, flowNode.id),
	)

	attrs := []observability.Attribute{
		observability.String(observability.AttrNodeID, flowNode.id),
		observability.Int(observability.AttrNodeAttempt, attempt),
		observability.Duration("retry.delay", delay),
		observability.Error(err),
	}
	observer.provider.Warn(ctx, "node attempt failed, retrying", attrs...)

	if span := observability.SpanFromContext(ctx); span != nil {
		span.AddEvent(observability.EventNodeRetry, attrs...)
	}
}

// contextOverwritten may be called from any goroutine.
func (observer *runObserver) contextOverwritten(key, previousWriter, writer string) {
	if observer.provider == nil {
		return
	}

	ctx := context.Background()
	observer.provider.Counter(observability.MetricContextOverwrites).Add(ctx, 1,
		observability.String(observability.AttrFlowName, observer.flow.name),
	)
	observer.provider.Warn(ctx, "context key overwritten",
		observability.String(observability.AttrFlowRunID, observer.runID),
		observability.String(observability.AttrContextKey, key),
		observability.String(observability.AttrContextPreviousWriter, previousWriter),
		observability.String(observability.AttrContextWriter, writer),
	)
}

// contextLimit may be called from any goroutine.
func (observer *runObserver) contextLimit(notice limitNotice) {
	if observer.provider == nil {
		return
	}

	ctx := context.Background()
	observer.provider.Counter(observability.MetricContextLimits).Add(ctx, 1,
		observability.String(observability.AttrFlowName, observer.flow.name),
		observability.String(observability.AttrContextLimit, notice.reason),
	)

	attrs := []observability.Attribute{
		observability.String(observability.AttrFlowRunID, observer.runID),
		observability.String(observability.AttrContextKey, notice.key),
		observability.String(observability.AttrContextWriter, notice.writer),
		observability.String(observability.AttrContextLimit, notice.reason),
		observability.Int(observability.AttrContextSize, notice.size),
	}
	if notice.err != nil {
		observer.provider.Error(ctx, "context write rejected by size limit", append(attrs, observability.Error(notice.err))...)
		return
	}
	observer.provider.Warn(ctx, "context size approaching limit", attrs...)
}

func (observer *runObserver) recordNode(ctx context.Context, nodeID string, state NodeState, duration time.Duration) {
	observer.provider.Histogram(observability.MetricNodeDuration).Record(ctx, duration.Seconds(),
		observability.String(observability.AttrNodeID, nodeID),
	)
	observer.provider.Counter(observability.MetricNodeCount).Add(ctx, 1,
		observability.String(observability.AttrNodeState, string(state)),
		observability.String(observability.AttrNodeID, nodeID),
	)
}

func (observer *runObserver) takeSpan(nodeID string) observability.Span {
	nodeSpan := observer.nodeSpans[nodeID]
	delete(observer.nodeSpans, nodeID)
	return nodeSpan
}

func errorKind(err error) string {
	if kind := flowerr.KindOf(err); kind != "" {
		return string(kind)
	}
	return "unknown"
}
