package main

import (
	"context"
	"fmt"
	"time"

	"github.com/leofalp/agentflow/core/value"
	"github.com/leofalp/agentflow/core/workflow"
	"github.com/leofalp/agentflow/patterns/flow"
)

// stubRegistry resolves every node type to a stub node that sleeps for its
// configured delay and then either fails or writes "<id> done".
type stubRegistry struct {
	failing map[string]bool
	delays  map[string]time.Duration
}

var _ flow.Registry = stubRegistry{}

func (registry stubRegistry) Lookup(string) (flow.Factory, bool) {
	return registry.build, true
}

func (registry stubRegistry) build(spec workflow.NodeSpec, _ value.Value) (flow.Node, error) {
	nodeID := spec.ID
	delay := registry.delays[nodeID]
	failing := registry.failing[nodeID]

	return flow.NodeFunc(func(ctx context.Context, _ *flow.Handle) (value.Value, error) {
		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return value.Null(), ctx.Err()
			case <-timer.C:
			}
		}

		if failing {
			return value.Null(), fmt.Errorf("simulated failure of %s", nodeID)
		}
		return value.Text(nodeID + " done"), nil
	}), nil
}
