package flow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/leofalp/agentflow/core/flowerr"
	"github.com/leofalp/agentflow/core/value"
	"github.com/leofalp/agentflow/providers/observability"
)

// completion is what an executed node reports back to the scheduler loop.
type completion struct {
	nodeID   string
	output   value.Value
	err      error
	attempts int
	duration time.Duration
}

// run holds the state of one Flow.Run call. Everything except the
// completions and releases channels, the execution context and the emitter
// is owned by the scheduler goroutine.
type run struct {
	flow  *Flow
	runID string

	// ctx is cancelled on fail-fast failure, external cancellation or run
	// timeout. Every node attempt derives from it.
	ctx    context.Context
	cancel context.CancelCauseFunc
	stop   context.CancelFunc

	context  *ExecutionContext
	observer *runObserver
	emitter  *emitter

	states    map[string]NodeState
	remaining map[string]int
	ready     map[string]bool
	outcomes  []NodeOutcome

	completions chan completion
	slots       *semaphore.Weighted

	// releases receives one signal per async node once its last invocation
	// has returned and its slot is free again. A timed-out invocation keeps
	// its slot until then.
	releases chan struct{}

	// running counts async nodes whose completion has not been collected.
	running int

	// halted stops further dispatch. Set on fail-fast failure and on
	// interruption.
	halted      bool
	firstErr    error
	interrupted error

	startedAt time.Time
}

func newRun(parent context.Context, flow *Flow, inputs map[string]value.Value) *run {
	runCtx, stop := parent, context.CancelFunc(func() {})
	if flow.config.runTimeout > 0 {
		runCtx, stop = context.WithTimeout(parent, flow.config.runTimeout)
	}
	runCtx, cancel := context.WithCancelCause(runCtx)

	slotCount := int64(flow.config.maxInFlight)
	if slotCount <= 0 {
		slotCount = int64(len(flow.nodes))
	}

	current := &run{
		flow:        flow,
		runID:       uuid.NewString(),
		ctx:         runCtx,
		cancel:      cancel,
		stop:        stop,
		context:     newLimitedContext(flow.config.limits),
		states:      make(map[string]NodeState, len(flow.nodes)),
		remaining:   make(map[string]int, len(flow.nodes)),
		ready:       make(map[string]bool),
		outcomes:    make([]NodeOutcome, 0, len(flow.nodes)),
		completions: make(chan completion, len(flow.nodes)),
		slots:       semaphore.NewWeighted(slotCount),
		releases:    make(chan struct{}, len(flow.nodes)),
	}

	for key, item := range inputs {
		current.context.Set(key, item)
	}

	current.emitter = &emitter{flow: flow.name, runID: current.runID, sink: flow.config.sink}
	current.observer = newRunObserver(flow, current.runID, parent)
	current.context.onOverwrite = current.onOverwrite
	current.context.onLimit = current.onLimit

	for nodeID, flowNode := range flow.nodes {
		current.states[nodeID] = NodePending
		current.remaining[nodeID] = len(flowNode.dependencies)
		if len(flowNode.dependencies) == 0 {
			current.ready[nodeID] = true
		}
	}

	return current
}

func (current *run) release() {
	current.cancel(context.Canceled)
	current.stop()
}

// execute drives the scheduler loop until every node is terminal.
func (current *run) execute() *RunResult {
	current.startedAt = time.Now()
	current.ctx = current.observer.flowStarted(current.ctx)
	current.emitter.emit(observability.Event{Type: observability.EventFlowStarted})

	for {
		current.drainCompletions()

		if !current.halted && current.ctx.Err() != nil {
			current.interrupt()
		}

		if !current.halted && current.dispatchReady() {
			continue
		}

		// Ready nodes left here wait for a slot held by an abandoned
		// invocation. Once halted nothing is ready and abandoned
		// invocations are not waited for.
		if current.running == 0 && len(current.ready) == 0 {
			break
		}

		var interrupted <-chan struct{}
		if !current.halted {
			interrupted = current.ctx.Done()
		}

		select {
		case finished := <-current.completions:
			current.collect(finished)
		case <-current.releases:
		case <-interrupted:
		}
	}

	return current.finish()
}

func (current *run) drainCompletions() {
	for {
		select {
		case finished := <-current.completions:
			current.collect(finished)
		default:
			return
		}
	}
}

// dispatchReady starts every ready node in ID order. Sync nodes run to
// completion inline; async nodes start on their own goroutine when a slot
// is free and otherwise stay ready. It reports whether anything started.
func (current *run) dispatchReady() bool {
	readyIDs := make([]string, 0, len(current.ready))
	for nodeID := range current.ready {
		readyIDs = append(readyIDs, nodeID)
	}
	sort.Strings(readyIDs)

	dispatched := false
	for _, nodeID := range readyIDs {
		if current.halted {
			break
		}
		if current.states[nodeID] != NodePending {
			delete(current.ready, nodeID)
			continue
		}

		flowNode := current.flow.nodes[nodeID]

		if missingKey, missing := current.missingInput(flowNode); missing {
			delete(current.ready, nodeID)
			current.complete(completion{
				nodeID: nodeID,
				output: value.Null(),
				err:    flowerr.MissingDependencyOutput(nodeID, missingKey),
			})
			dispatched = true
			continue
		}

		if flowNode.mode == ModeAsync && !current.slots.TryAcquire(1) {
			continue
		}

		delete(current.ready, nodeID)
		current.states[nodeID] = NodeRunning
		nodeCtx := current.observer.nodeStarted(current.ctx, flowNode)
		current.emitter.emit(observability.Event{Type: observability.EventNodeStarted, NodeID: nodeID})
		dispatched = true

		if flowNode.mode == ModeSync {
			finished, _ := current.runNode(nodeCtx, flowNode)
			current.complete(finished)
			continue
		}

		current.running++
		go func() {
			finished, lingering := current.runNode(nodeCtx, flowNode)
			current.completions <- finished
			if lingering != nil {
				<-lingering
			}
			current.slots.Release(1)
			current.releases <- struct{}{}
		}()
	}

	return dispatched
}

func (current *run) missingInput(flowNode *flowNode) (string, bool) {
	for _, key := range flowNode.inputKeys {
		if _, exists := current.context.Get(key); !exists {
			return key, true
		}
	}
	return "", false
}

// collect records a node that finished on its own goroutine.
func (current *run) collect(finished completion) {
	current.running--
	current.complete(finished)
}

// complete records a finished node and applies the failure policy.
func (current *run) complete(finished completion) {
	flowNode := current.flow.nodes[finished.nodeID]

	outcome := NodeOutcome{
		NodeID:   finished.nodeID,
		Attempts: finished.attempts,
		Duration: finished.duration,
		Err:      finished.err,
	}

	if finished.err == nil {
		if err := current.context.set(finished.nodeID, flowNode.outputKey, finished.output); err != nil {
			finished.output = value.Null()
			finished.err = err
			outcome.Err = err
		}
	}

	if finished.err == nil {
		outcome.State = NodeCompleted
		current.record(outcome)
		current.observer.nodeCompleted(flowNode, finished)
		current.emitter.emit(observability.Event{
			Type:     observability.EventNodeCompleted,
			NodeID:   finished.nodeID,
			Attempt:  finished.attempts,
			Duration: finished.duration,
			Status:   string(NodeCompleted),
		})
		current.unblockDependents(flowNode)
		return
	}

	outcome.State = NodeFailed
	if flowerr.KindOf(finished.err) == flowerr.KindCancelled && current.ctx.Err() != nil {
		outcome.State = NodeCancelled
	}
	current.record(outcome)
	current.observer.nodeFailed(flowNode, outcome.State, finished)
	current.emitter.emit(observability.Event{
		Type:     observability.EventNodeFailed,
		NodeID:   finished.nodeID,
		Attempt:  finished.attempts,
		Duration: finished.duration,
		Err:      finished.err,
		Status:   string(outcome.State),
	})

	// A failure caused by cancellation or the run deadline must not be
	// mistaken for the first node failure.
	if !current.halted && current.ctx.Err() != nil {
		current.interrupt()
	}
	if !current.halted {
		current.fail(finished.nodeID, finished.err)
	}
}

// unblockDependents makes the dependents of a completed node ready once all
// of their dependencies have completed.
func (current *run) unblockDependents(flowNode *flowNode) {
	for _, dependentID := range flowNode.dependents {
		current.remaining[dependentID]--
		if current.remaining[dependentID] == 0 && current.states[dependentID] == NodePending && !current.halted {
			current.ready[dependentID] = true
		}
	}
}

// fail applies the failure policy to a node failure.
func (current *run) fail(nodeID string, err error) {
	if current.firstErr == nil {
		current.firstErr = err
	}

	if current.flow.config.failurePolicy == BestEffort {
		current.skipDependents(nodeID)
		return
	}

	current.halted = true
	current.cancel(fmt.Errorf("node %q failed", nodeID))
	for _, pendingID := range current.flow.topologicalOrder {
		if current.states[pendingID] == NodePending {
			current.skip(pendingID, flowerr.DependencyFailed(pendingID, nodeID), nodeID)
		}
	}
}

// skipDependents skips every transitive dependent of a failed node.
func (current *run) skipDependents(failedID string) {
	queue := append([]string(nil), current.flow.nodes[failedID].dependents...)
	for len(queue) > 0 {
		dependentID := queue[0]
		queue = queue[1:]

		if current.states[dependentID] != NodePending {
			continue
		}
		current.skip(dependentID, flowerr.DependencyFailed(dependentID, failedID), failedID)
		queue = append(queue, current.flow.nodes[dependentID].dependents...)
	}
}

// interrupt halts the run after external cancellation or a deadline.
func (current *run) interrupt() {
	current.halted = true

	reason := flowerr.KindCancelled
	if errors.Is(current.ctx.Err(), context.DeadlineExceeded) {
		reason = flowerr.KindTimeout
		if current.firstErr == nil {
			current.firstErr = flowerr.Timeout("", current.flow.config.runTimeout)
		}
	} else {
		current.interrupted = flowerr.Cancelled("", context.Cause(current.ctx))
	}

	for _, pendingID := range current.flow.topologicalOrder {
		if current.states[pendingID] != NodePending {
			continue
		}
		var skipErr error = flowerr.Cancelled(pendingID, context.Cause(current.ctx))
		if reason == flowerr.KindTimeout {
			skipErr = flowerr.Timeout(pendingID, current.flow.config.runTimeout)
		}
		current.skip(pendingID, skipErr, "")
	}
}

func (current *run) skip(nodeID string, err error, causeID string) {
	delete(current.ready, nodeID)

	outcome := NodeOutcome{
		NodeID:     nodeID,
		State:      NodeSkipped,
		Err:        err,
		SkipReason: flowerr.KindOf(err),
		Cause:      causeID,
	}
	current.record(outcome)
	current.observer.nodeSkipped(current.flow.nodes[nodeID], outcome)
	current.emitter.emit(observability.Event{
		Type:   observability.EventNodeSkipped,
		NodeID: nodeID,
		Reason: string(outcome.SkipReason),
		Cause:  causeID,
		Status: string(NodeSkipped),
	})
}

func (current *run) record(outcome NodeOutcome) {
	current.states[outcome.NodeID] = outcome.State
	current.outcomes = append(current.outcomes, outcome)
}

func (current *run) finish() *RunResult {
	duration := time.Since(current.startedAt)

	status := StatusCompleted
	var runErr error
	switch {
	case current.interrupted != nil:
		status = StatusCancelled
		runErr = current.interrupted
	case current.firstErr != nil:
		status = StatusFailed
		runErr = current.firstErr
	}

	result := &RunResult{
		RunID:     current.runID,
		Flow:      current.flow.name,
		Version:   current.flow.config.version,
		Status:    status,
		Err:       runErr,
		Context:   current.context.Snapshot(),
		Outcomes:  current.outcomes,
		StartedAt: current.startedAt,
		Duration:  duration,
	}

	current.observer.flowFinished(result)
	current.emitter.emit(observability.Event{
		Type:     observability.EventFlowCompleted,
		Duration: duration,
		Err:      runErr,
		Status:   string(status),
	})

	return result
}

// onOverwrite is called by the execution context, possibly from a node
// goroutine.
func (current *run) onOverwrite(key, previousWriter, writer string) {
	current.observer.contextOverwritten(key, previousWriter, writer)
	current.emitter.emit(observability.Event{
		Type:           observability.EventContextOverwrite,
		NodeID:         writer,
		Key:            key,
		PreviousWriter: previousWriter,
	})
}

// onLimit is called by the execution context, possibly from a node
// goroutine.
func (current *run) onLimit(notice limitNotice) {
	current.observer.contextLimit(notice)

	event := observability.Event{
		Type:   observability.EventContextLimit,
		NodeID: notice.writer,
		Key:    notice.key,
		Reason: notice.reason,
		Size:   notice.size,
	}
	if notice.err != nil {
		event.Err = notice.err
	}
	current.emitter.emit(event)
}

// --- Node execution ---

// runNode executes every attempt of a node, honouring its retry policy.
// When the last attempt was abandoned before its invocation returned, the
// returned channel is closed once it does; it is nil otherwise. A retry
// never starts while an earlier invocation of the node is still running.
func (current *run) runNode(ctx context.Context, flowNode *flowNode) (completion, <-chan struct{}) {
	start := time.Now()
	attempts := 0

	for {
		attempts++
		output, lingering, err := current.attempt(ctx, flowNode)
		if err == nil {
			return completion{nodeID: flowNode.id, output: output, attempts: attempts, duration: time.Since(start)}, nil
		}

		delay, retry := current.nextDelay(flowNode, attempts, err)
		if !retry {
			return completion{nodeID: flowNode.id, output: value.Null(), err: err, attempts: attempts, duration: time.Since(start)}, lingering
		}

		current.observer.nodeRetrying(ctx, flowNode, attempts, err, delay)
		current.emitter.emit(observability.Event{
			Type:     observability.EventNodeRetrying,
			NodeID:   flowNode.id,
			Attempt:  attempts,
			Duration: delay,
			Err:      err,
		})

		if lingering != nil {
			select {
			case <-current.ctx.Done():
				return current.cancelledBetweenAttempts(flowNode, attempts, start), lingering
			case <-lingering:
			}
		}

		timer := time.NewTimer(delay)
		select {
		case <-current.ctx.Done():
			timer.Stop()
			return current.cancelledBetweenAttempts(flowNode, attempts, start), nil
		case <-timer.C:
		}
	}
}

func (current *run) cancelledBetweenAttempts(flowNode *flowNode, attempts int, start time.Time) completion {
	return completion{
		nodeID:   flowNode.id,
		output:   value.Null(),
		err:      flowerr.Cancelled(flowNode.id, context.Cause(current.ctx)),
		attempts: attempts,
		duration: time.Since(start),
	}
}

func (current *run) nextDelay(flowNode *flowNode, attempt int, err error) (time.Duration, bool) {
	if flowNode.retry == nil || neverRetried(err) || current.ctx.Err() != nil {
		return 0, false
	}
	return flowNode.retry.NextDelay(attempt, err)
}

type attemptResult struct {
	output value.Value
	err    error
}

// attempt invokes the node once with a fresh handle that is closed when
// the attempt ends. Async attempts are abandoned as soon as their context
// is done; the node is expected to notice and return. An abandoned attempt
// returns a channel that is closed when its invocation finally returns.
func (current *run) attempt(ctx context.Context, flowNode *flowNode) (value.Value, <-chan struct{}, error) {
	attemptCtx, cancel := ctx, context.CancelFunc(func() {})
	if flowNode.timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, flowNode.timeout)
	}
	defer cancel()

	handle := newHandle(flowNode.id, current.context)
	defer handle.close()
	attemptCtx = contextWithHandle(attemptCtx, handle)

	if flowNode.mode == ModeSync {
		start := time.Now()
		output, err := invoke(attemptCtx, flowNode.node, handle)
		if err == nil {
			err = handle.rejection()
		}
		if err == nil && flowNode.timeout > 0 && time.Since(start) > flowNode.timeout {
			return value.Null(), nil, flowerr.Timeout(flowNode.id, flowNode.timeout)
		}
		output, err = current.settle(attemptCtx, flowNode, output, err)
		return output, nil, err
	}

	done := make(chan attemptResult, 1)
	returned := make(chan struct{})
	go func() {
		defer close(returned)
		output, err := invoke(attemptCtx, flowNode.node, handle)
		if err == nil {
			err = handle.rejection()
		}
		done <- attemptResult{output: output, err: err}
	}()

	select {
	case result := <-done:
		output, err := current.settle(attemptCtx, flowNode, result.output, result.err)
		return output, nil, err
	case <-attemptCtx.Done():
		select {
		case result := <-done:
			output, err := current.settle(attemptCtx, flowNode, result.output, result.err)
			return output, nil, err
		default:
		}
		return value.Null(), returned, current.interruption(flowNode)
	}
}

// settle classifies the outcome of an attempt that returned.
func (current *run) settle(attemptCtx context.Context, flowNode *flowNode, output value.Value, err error) (value.Value, error) {
	if err == nil {
		return output, nil
	}
	if current.ctx.Err() != nil {
		return value.Null(), flowerr.Cancelled(flowNode.id, err)
	}
	if flowNode.timeout > 0 && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return value.Null(), flowerr.Timeout(flowNode.id, flowNode.timeout)
	}
	return value.Null(), flowerr.NodeExecutionFailed(flowNode.id, err)
}

// interruption returns the error of an attempt abandoned before it returned.
func (current *run) interruption(flowNode *flowNode) error {
	if current.ctx.Err() != nil {
		return flowerr.Cancelled(flowNode.id, context.Cause(current.ctx))
	}
	return flowerr.Timeout(flowNode.id, flowNode.timeout)
}

// invoke calls the node, turning a panic into an error.
func invoke(ctx context.Context, node Node, handle *Handle) (output value.Value, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			output = value.Null()
			err = fmt.Errorf("node panicked: %v", recovered)
		}
	}()
	return node.Run(ctx, handle)
}

// --- Events ---

// emitter serializes a run's events so sinks observe them in order.
type emitter struct {
	mu    sync.Mutex
	flow  string
	runID string
	sink  observability.Sink
}

func (emitter *emitter) emit(event observability.Event) {
	emitter.mu.Lock()
	defer emitter.mu.Unlock()

	event.Flow = emitter.flow
	event.RunID = emitter.runID
	event.Time = time.Now()

	observability.Emit(event)
	observability.Deliver(emitter.sink, event)
}
