package workflow

import (
	"errors"

	"github.com/leofalp/agentflow/core/flowerr"
)

// Validate checks the structural integrity of the document:
//   - the workflow name is non-empty and at least one node exists
//   - node IDs are non-empty and unique
//   - every dependency references a declared node, and no node depends on itself
//   - failure policy and modes use known values
//   - timeouts, concurrency and retry settings are not negative
//
// All problems are reported together, joined with errors.Join. Each one is a
// *flowerr.Error, so errors.Is(err, flowerr.ErrUnknownDependency) works on
// the joined result.
func (definition *Definition) Validate() error {
	var problems []error

	if definition.Name == "" {
		problems = append(problems, flowerr.InvalidDefinition("workflow name is required"))
	}
	if len(definition.Nodes) == 0 {
		problems = append(problems, flowerr.InvalidDefinition("workflow %q declares no nodes", definition.Name))
	}

	switch definition.FailurePolicy {
	case "", PolicyFailFast, PolicyBestEffort:
	default:
		problems = append(problems, flowerr.InvalidDefinition("unknown failure policy %q", definition.FailurePolicy))
	}
	if definition.MaxInFlight < 0 {
		problems = append(problems, flowerr.InvalidDefinition("max_in_flight must not be negative, got %d", definition.MaxInFlight))
	}
	if definition.RunTimeout < 0 {
		problems = append(problems, flowerr.InvalidDefinition("run_timeout must not be negative, got %s", definition.RunTimeout))
	}
	if limits := definition.Limits; limits.MaxValueSize < 0 || limits.MaxStateSize < 0 {
		problems = append(problems, flowerr.InvalidDefinition("context_limits sizes must not be negative"))
	}
	if fraction := definition.Limits.WarnFraction; fraction < 0 || fraction > 1 {
		problems = append(problems, flowerr.InvalidDefinition("context_limits warn_fraction must be within [0, 1], got %g", fraction))
	}

	declared := make(map[string]bool, len(definition.Nodes))
	for position, spec := range definition.Nodes {
		if spec.ID == "" {
			problems = append(problems, flowerr.InvalidDefinition("node at position %d has no id", position))
			continue
		}
		if declared[spec.ID] {
			problems = append(problems, flowerr.InvalidDefinition("duplicate node ID %q", spec.ID))
			continue
		}
		declared[spec.ID] = true
	}

	for _, spec := range definition.Nodes {
		if spec.ID == "" {
			continue
		}
		problems = append(problems, spec.validate(declared)...)
	}

	return errors.Join(problems...)
}

func (spec NodeSpec) validate(declared map[string]bool) []error {
	var problems []error

	switch spec.Mode {
	case "", ModeSync, ModeAsync:
	default:
		problems = append(problems, flowerr.InvalidDefinition("node %q: unknown mode %q", spec.ID, spec.Mode))
	}

	for _, dependencyID := range spec.DependsOn {
		if dependencyID == spec.ID {
			problems = append(problems, flowerr.CycleDetected([]string{spec.ID}))
			continue
		}
		if !declared[dependencyID] {
			problems = append(problems, flowerr.UnknownDependency(spec.ID, dependencyID))
		}
	}

	if spec.Timeout < 0 {
		problems = append(problems, flowerr.InvalidDefinition("node %q: timeout must not be negative", spec.ID))
	}

	if retry := spec.Retry; retry != nil {
		if retry.MaxRetries < 0 || retry.InitialBackoff < 0 || retry.MaxBackoff < 0 {
			problems = append(problems, flowerr.InvalidDefinition("node %q: retry settings must not be negative", spec.ID))
		}
		if retry.BackoffFactor != 0 && retry.BackoffFactor < 1 {
			problems = append(problems, flowerr.InvalidDefinition("node %q: backoff_factor must be at least 1", spec.ID))
		}
		if retry.JitterFraction < 0 || retry.JitterFraction > 1 {
			problems = append(problems, flowerr.InvalidDefinition("node %q: jitter_fraction must be within [0, 1]", spec.ID))
		}
	}

	if breaker := spec.CircuitBreaker; breaker != nil {
		if breaker.FailureThreshold < 1 {
			problems = append(problems, flowerr.InvalidDefinition("node %q: circuit_breaker failure_threshold must be at least 1", spec.ID))
		}
		if breaker.RecoveryTimeout < 0 {
			problems = append(problems, flowerr.InvalidDefinition("node %q: circuit_breaker recovery_timeout must not be negative", spec.ID))
		}
	}

	return problems
}
