package flow

import (
	"time"

	"github.com/leofalp/agentflow/core/flowerr"
)

// Status is the lifecycle status of a run.
type Status string

const (
	// StatusPending indicates the graph is validated but no node has started.
	StatusPending Status = "pending"

	// StatusRunning indicates at least one node has been dispatched.
	StatusRunning Status = "running"

	// StatusCompleted indicates every node completed successfully.
	StatusCompleted Status = "completed"

	// StatusFailed indicates a node failed or the run timed out.
	StatusFailed Status = "failed"

	// StatusCancelled indicates the caller cancelled the run.
	StatusCancelled Status = "cancelled"
)

// NodeState is the lifecycle state of one node within a run.
type NodeState string

const (
	// NodePending indicates the node has not been dispatched yet.
	NodePending NodeState = "pending"

	// NodeRunning indicates the node is executing.
	NodeRunning NodeState = "running"

	// NodeCompleted indicates the node returned a value.
	NodeCompleted NodeState = "completed"

	// NodeFailed indicates the node returned an error, panicked or timed out.
	NodeFailed NodeState = "failed"

	// NodeSkipped indicates the node never ran. SkipReason says why.
	NodeSkipped NodeState = "skipped"

	// NodeCancelled indicates the node was interrupted while running.
	NodeCancelled NodeState = "cancelled"
)

// NodeOutcome is the ledger entry of one node.
type NodeOutcome struct {
	NodeID string
	State  NodeState

	// Err is the node's error for Failed and Cancelled nodes, and the
	// propagated error for Skipped ones.
	Err error

	// SkipReason is flowerr.KindDependencyFailed, KindCancelled or
	// KindTimeout for Skipped nodes, empty otherwise.
	SkipReason flowerr.Kind

	// Cause is the ID of the failed node that led to a DependencyFailed skip.
	Cause string

	// Attempts counts invocations of the node, retries included. Zero for
	// nodes that never ran.
	Attempts int

	// Duration is the wall-clock time from dispatch to completion.
	Duration time.Duration
}

// RunResult is the terminal record of one run.
type RunResult struct {
	RunID   string
	Flow    string
	Version string
	Status  Status

	// Err is the first fatal error, or nil when the run completed.
	Err error

	// Context is the final state of the execution context. Outputs of
	// completed nodes stay there even when the run failed.
	Context Snapshot

	// Outcomes lists every node once, in the order it reached a terminal
	// state.
	Outcomes []NodeOutcome

	StartedAt time.Time
	Duration  time.Duration
}

// Outcome returns the ledger entry of nodeID.
func (result *RunResult) Outcome(nodeID string) (NodeOutcome, bool) {
	for _, outcome := range result.Outcomes {
		if outcome.NodeID == nodeID {
			return outcome, true
		}
	}
	return NodeOutcome{}, false
}

// States maps every node ID to its terminal state.
func (result *RunResult) States() map[string]NodeState {
	states := make(map[string]NodeState, len(result.Outcomes))
	for _, outcome := range result.Outcomes {
		states[outcome.NodeID] = outcome.State
	}
	return states
}

// Count returns how many nodes ended in state.
func (result *RunResult) Count(state NodeState) int {
	count := 0
	for _, outcome := range result.Outcomes {
		if outcome.State == state {
			count++
		}
	}
	return count
}
