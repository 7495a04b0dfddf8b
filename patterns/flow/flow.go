package flow

import (
	"context"
	"sort"
	"time"

	"github.com/leofalp/agentflow/core/value"
)

// flowNode is a single node of the graph. It is created by the Builder and
// never mutated after Build.
type flowNode struct {
	// id is the unique identifier for this node within the flow.
	id string

	// node contains the work.
	node Node

	mode    Mode
	modeSet bool

	// dependencies lists the IDs that must complete before this node runs.
	dependencies []string

	// dependents lists the IDs that depend on this node, sorted. Populated
	// by Build.
	dependents []string

	// outputKey is the context key the result is written under.
	outputKey string

	// inputKeys are context keys that must exist at dispatch.
	inputKeys []string

	// timeout bounds each attempt. Zero means no timeout.
	timeout time.Duration

	// retry is nil when failed attempts are final.
	retry RetryPolicy

	// breaker, when set, already wraps node.
	breaker *CircuitBreaker
}

// Flow is a validated, immutable dependency graph of nodes. A Flow holds no
// run state: Run may be called any number of times, concurrently, and each
// call gets its own execution context and ledger.
type Flow struct {
	name   string
	config *flowConfig

	nodes map[string]*flowNode

	// topologicalOrder lists every node ID, level by level, each level sorted by ID.
	topologicalOrder []string

	// levels groups node IDs by depth (level 0 = nodes without dependencies).
	levels [][]string
}

// NodeInfo describes one node of a built flow.
type NodeInfo struct {
	ID           string
	Mode         Mode
	OutputKey    string
	Dependencies []string
	Dependents   []string
	InputKeys    []string
	Timeout      time.Duration
	Retries      bool
	Level        int

	// Breaker is the state of the node's circuit breaker, empty without one.
	Breaker BreakerState
}

// Name returns the flow name.
func (flow *Flow) Name() string {
	return flow.name
}

// Version returns the version set with WithVersion.
func (flow *Flow) Version() string {
	return flow.config.version
}

// FailurePolicy returns the configured failure policy.
func (flow *Flow) FailurePolicy() FailurePolicy {
	return flow.config.failurePolicy
}

// MaxInFlight returns the async concurrency bound, 0 meaning unbounded.
func (flow *Flow) MaxInFlight() int {
	return flow.config.maxInFlight
}

// ContextLimits returns the limits set with WithContextLimits.
func (flow *Flow) ContextLimits() ContextLimits {
	return flow.config.limits
}

// TopologicalOrder returns every node ID in a valid execution order.
func (flow *Flow) TopologicalOrder() []string {
	order := make([]string, len(flow.topologicalOrder))
	copy(order, flow.topologicalOrder)
	return order
}

// Levels returns the node IDs grouped by depth.
func (flow *Flow) Levels() [][]string {
	levels := make([][]string, len(flow.levels))
	for index, level := range flow.levels {
		levels[index] = append([]string(nil), level...)
	}
	return levels
}

// NodeIDs returns every node ID in lexical order.
func (flow *Flow) NodeIDs() []string {
	nodeIDs := make([]string, 0, len(flow.nodes))
	for nodeID := range flow.nodes {
		nodeIDs = append(nodeIDs, nodeID)
	}
	sort.Strings(nodeIDs)
	return nodeIDs
}

// Node describes nodeID.
func (flow *Flow) Node(nodeID string) (NodeInfo, bool) {
	flowNode, exists := flow.nodes[nodeID]
	if !exists {
		return NodeInfo{}, false
	}

	level := 0
	for index, ids := range flow.levels {
		for _, candidate := range ids {
			if candidate == nodeID {
				level = index
			}
		}
	}

	return NodeInfo{
		ID:           flowNode.id,
		Mode:         flowNode.mode,
		OutputKey:    flowNode.outputKey,
		Dependencies: append([]string(nil), flowNode.dependencies...),
		Dependents:   append([]string(nil), flowNode.dependents...),
		InputKeys:    append([]string(nil), flowNode.inputKeys...),
		Timeout:      flowNode.timeout,
		Retries:      flowNode.retry != nil,
		Level:        level,
		Breaker:      breakerState(flowNode.breaker),
	}, true
}

// Run executes the flow once. inputs seed the execution context before the
// first node is dispatched; nil is allowed.
//
// The returned result is never nil. The error is the result's Err: nil when
// every node completed, the first fatal error otherwise. Cancelling ctx
// cancels the run; in-flight async nodes are asked to stop and nodes not yet
// started are skipped.
func (flow *Flow) Run(ctx context.Context, inputs map[string]value.Value) (*RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	run := newRun(ctx, flow, inputs)
	defer run.release()

	result := run.execute()
	return result, result.Err
}
