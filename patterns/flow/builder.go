package flow

import (
	"errors"
	"fmt"
	"sort"

	"github.com/leofalp/agentflow/core/flowerr"
)

// Builder constructs a validated Flow using a fluent API. Nodes are added
// incrementally; Build performs structural validation, including cycle
// detection via Kahn's algorithm.
//
// The builder enforces the following constraints:
//   - Node IDs must be non-empty and unique
//   - Every dependency must reference a declared node
//   - The dependency graph must be acyclic
//
// Example:
//
//	digest, err := flow.NewBuilder("digest").
//	    AddNode("parse", parse).
//	    AddNode("summarize", summarize, flow.DependsOn("parse")).
//	    AddNode("translate", translate, flow.DependsOn("summarize")).
//	    Build()
type Builder struct {
	name   string
	config *flowConfig

	// nodes stores all registered nodes keyed by their ID.
	nodes map[string]*flowNode

	// nodeOrder preserves insertion order for error reporting.
	nodeOrder []string

	// buildErrors accumulates validation errors encountered during AddNode
	// and is reported when Build is called.
	buildErrors []error
}

// NewBuilder creates a Builder for a flow called name. Flow-level options
// (WithFailurePolicy, WithMaxInFlight, ...) are applied here; node options
// are applied by AddNode.
func NewBuilder(name string, opts ...Option) *Builder {
	config := &flowConfig{
		failurePolicy: FailFast,
	}

	for _, opt := range opts {
		opt(config)
	}

	return &Builder{
		name:        name,
		config:      config,
		nodes:       make(map[string]*flowNode),
		nodeOrder:   make([]string, 0),
		buildErrors: make([]error, 0),
	}
}

// AddNode registers node under a unique ID. Node options (DependsOn,
// WithOutputKey, WithMode, WithTimeout, WithRetry, WithInputKeys) customize
// how the flow schedules it.
//
// Returns the builder for method chaining. Problems are recorded and
// reported together by Build.
func (builder *Builder) AddNode(nodeID string, node Node, opts ...NodeOption) *Builder {
	if nodeID == "" {
		builder.buildErrors = append(builder.buildErrors, flowerr.InvalidDefinition("node ID must not be empty"))
		return builder
	}

	if node == nil {
		builder.buildErrors = append(builder.buildErrors, flowerr.InvalidDefinition("node %q has no implementation", nodeID))
		return builder
	}

	if _, exists := builder.nodes[nodeID]; exists {
		builder.buildErrors = append(builder.buildErrors, flowerr.InvalidDefinition("duplicate node ID %q", nodeID))
		return builder
	}

	flowNode := &flowNode{
		id:   nodeID,
		node: node,
	}

	for _, opt := range opts {
		opt(flowNode)
	}

	if flowNode.modeSet && !flowNode.mode.valid() {
		builder.buildErrors = append(builder.buildErrors, flowerr.InvalidDefinition("node %q has unknown mode %q", nodeID, flowNode.mode))
		return builder
	}
	if !flowNode.modeSet {
		flowNode.mode = modeOf(node)
	}
	if flowNode.breaker != nil {
		flowNode.node = flowNode.breaker.Wrap(node)
	}
	if flowNode.outputKey == "" {
		flowNode.outputKey = nodeID
	}
	if flowNode.timeout < 0 {
		builder.buildErrors = append(builder.buildErrors, flowerr.InvalidDefinition("node %q has a negative timeout", nodeID))
		return builder
	}

	flowNode.dependencies = uniqueStrings(flowNode.dependencies)
	for _, dependencyID := range flowNode.dependencies {
		if dependencyID == nodeID {
			builder.buildErrors = append(builder.buildErrors, flowerr.CycleDetected([]string{nodeID}))
			return builder
		}
	}

	builder.nodes[nodeID] = flowNode
	builder.nodeOrder = append(builder.nodeOrder, nodeID)

	return builder
}

// Build validates the graph and produces an executable Flow:
//
//  1. No accumulated errors from AddNode
//  2. At least one node and a valid failure policy
//  3. Every dependency references a declared node
//  4. The graph is acyclic
//
// On success it computes the topological order and the level assignment.
// Errors carry a flowerr kind (InvalidDefinition, UnknownDependency,
// CycleDetected) that errors.Is can match.
func (builder *Builder) Build() (*Flow, error) {
	if len(builder.buildErrors) > 0 {
		return nil, fmt.Errorf("flow %q build errors: %w", builder.name, errors.Join(builder.buildErrors...))
	}

	if len(builder.nodes) == 0 {
		return nil, flowerr.InvalidDefinition("flow %q must contain at least one node", builder.name)
	}

	if !builder.config.failurePolicy.valid() {
		return nil, flowerr.InvalidDefinition("unknown failure policy %q", builder.config.failurePolicy)
	}
	if builder.config.maxInFlight < 0 {
		return nil, flowerr.InvalidDefinition("max in-flight must not be negative, got %d", builder.config.maxInFlight)
	}

	if err := builder.validateDependencies(); err != nil {
		return nil, err
	}

	inDegree, adjacency := builder.buildAdjacency()

	topologicalOrder, levels, err := kahnTopologicalSort(inDegree, adjacency)
	if err != nil {
		return nil, err
	}

	for _, flowNode := range builder.nodes {
		sort.Strings(adjacency[flowNode.id])
		flowNode.dependents = adjacency[flowNode.id]
	}

	return &Flow{
		name:             builder.name,
		config:           builder.config,
		nodes:            builder.nodes,
		topologicalOrder: topologicalOrder,
		levels:           levels,
	}, nil
}

// validateDependencies reports every dependency on an undeclared node.
func (builder *Builder) validateDependencies() error {
	problems := make([]error, 0)

	for _, nodeID := range builder.nodeOrder {
		for _, dependencyID := range builder.nodes[nodeID].dependencies {
			if _, exists := builder.nodes[dependencyID]; !exists {
				problems = append(problems, flowerr.UnknownDependency(nodeID, dependencyID))
			}
		}
	}

	if len(problems) == 1 {
		return problems[0]
	}
	return errors.Join(problems...)
}

// buildAdjacency constructs the in-degree map and the dependency -> dependent
// adjacency list. Every node starts with in-degree 0.
func (builder *Builder) buildAdjacency() (map[string]int, map[string][]string) {
	inDegree := make(map[string]int, len(builder.nodes))
	adjacency := make(map[string][]string, len(builder.nodes))

	for nodeID := range builder.nodes {
		inDegree[nodeID] = 0
		adjacency[nodeID] = make([]string, 0)
	}

	for nodeID, flowNode := range builder.nodes {
		for _, dependencyID := range flowNode.dependencies {
			adjacency[dependencyID] = append(adjacency[dependencyID], nodeID)
			inDegree[nodeID]++
		}
	}

	return inDegree, adjacency
}

// kahnTopologicalSort performs Kahn's algorithm. It detects cycles and
// groups nodes into levels (level 0 = roots). Within each level nodes are
// sorted by ID, which makes the order reproducible for a given graph.
func kahnTopologicalSort(inDegree map[string]int, adjacency map[string][]string) ([]string, [][]string, error) {
	remaining := make(map[string]int, len(inDegree))
	currentLevel := make([]string, 0)
	for nodeID, degree := range inDegree {
		remaining[nodeID] = degree
		if degree == 0 {
			currentLevel = append(currentLevel, nodeID)
		}
	}
	sort.Strings(currentLevel)

	topologicalOrder := make([]string, 0, len(inDegree))
	levels := make([][]string, 0)

	for len(currentLevel) > 0 {
		levels = append(levels, currentLevel)
		topologicalOrder = append(topologicalOrder, currentLevel...)

		nextLevel := make([]string, 0)
		for _, nodeID := range currentLevel {
			for _, dependentID := range adjacency[nodeID] {
				remaining[dependentID]--
				if remaining[dependentID] == 0 {
					nextLevel = append(nextLevel, dependentID)
				}
			}
		}
		sort.Strings(nextLevel)

		currentLevel = nextLevel
	}

	if len(topologicalOrder) != len(inDegree) {
		cycleNodes := make([]string, 0)
		for nodeID, degree := range remaining {
			if degree > 0 {
				cycleNodes = append(cycleNodes, nodeID)
			}
		}
		sort.Strings(cycleNodes)
		return nil, nil, flowerr.CycleDetected(cycleNodes)
	}

	return topologicalOrder, levels, nil
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]bool, len(values))
	unique := make([]string, 0, len(values))
	for _, candidate := range values {
		if seen[candidate] {
			continue
		}
		seen[candidate] = true
		unique = append(unique, candidate)
	}
	return unique
}
