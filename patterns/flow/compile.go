package flow

import (
	"errors"
	"fmt"
	"sort"

	"github.com/leofalp/agentflow/core/flowerr"
	"github.com/leofalp/agentflow/core/value"
	"github.com/leofalp/agentflow/core/workflow"
)

// Factory builds the node implementation for one workflow node spec. params
// is the spec's params block converted to a mapping (Null when absent).
type Factory func(spec workflow.NodeSpec, params value.Value) (Node, error)

// Registry resolves node types named in workflow documents.
type Registry interface {
	Lookup(typeName string) (Factory, bool)
}

// RegistryMap is a Registry backed by a map of type name to factory.
type RegistryMap map[string]Factory

// Lookup implements Registry.
func (registry RegistryMap) Lookup(typeName string) (Factory, bool) {
	factory, exists := registry[typeName]
	return factory, exists
}

// Compile validates a workflow definition and builds the Flow it describes,
// resolving every node type through registry. The document's run settings
// and context limits become flow options; opts are applied after them and
// take precedence. Each node's circuit breaker is created here and shared by
// every run of the returned Flow.
//
// Example:
//
//	definition, _ := workflow.Load("digest.yaml")
//	digest, err := flow.Compile(definition, flow.RegistryMap{
//	    "pdf_parser": newParser,
//	    "summarizer": newSummarizer,
//	}, flow.WithObserver(observer))
func Compile(definition *workflow.Definition, registry Registry, opts ...Option) (*Flow, error) {
	if definition == nil {
		return nil, flowerr.InvalidDefinition("workflow definition is nil")
	}
	if registry == nil {
		return nil, flowerr.InvalidDefinition("node registry is nil")
	}
	if err := definition.Validate(); err != nil {
		return nil, fmt.Errorf("workflow %q: %w", definition.Name, err)
	}

	policy, _ := ParseFailurePolicy(definition.FailurePolicy)
	flowOptions := []Option{
		WithFailurePolicy(policy),
		WithMaxInFlight(definition.MaxInFlight),
		WithRunTimeout(definition.RunTimeout),
		WithVersion(definition.Version),
		WithContextLimits(ContextLimits{
			MaxValueSize: definition.Limits.MaxValueSize,
			MaxStateSize: definition.Limits.MaxStateSize,
			WarnFraction: definition.Limits.WarnFraction,
		}),
	}
	flowOptions = append(flowOptions, opts...)

	builder := NewBuilder(definition.Name, flowOptions...)
	problems := make([]error, 0)

	for _, spec := range definition.Nodes {
		node, err := buildNode(spec, registry)
		if err != nil {
			problems = append(problems, err)
			continue
		}
		builder.AddNode(spec.ID, node, nodeOptions(spec)...)
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("workflow %q: %w", definition.Name, errors.Join(problems...))
	}

	return builder.Build()
}

func buildNode(spec workflow.NodeSpec, registry Registry) (Node, error) {
	factory, exists := registry.Lookup(spec.TypeName())
	if !exists {
		return nil, &flowerr.Error{
			Kind:    flowerr.KindInvalidDefinition,
			NodeID:  spec.ID,
			Message: fmt.Sprintf("no factory registered for node type %q", spec.TypeName()),
		}
	}

	params := value.Null()
	if len(spec.Params) > 0 {
		converted, err := value.FromAny(spec.Params)
		if err != nil {
			return nil, &flowerr.Error{
				Kind:    flowerr.KindInvalidDefinition,
				NodeID:  spec.ID,
				Message: "params",
				Err:     err,
			}
		}
		params = converted
	}

	node, err := factory(spec, params)
	if err != nil {
		return nil, &flowerr.Error{
			Kind:    flowerr.KindInvalidDefinition,
			NodeID:  spec.ID,
			Message: fmt.Sprintf("factory for type %q failed", spec.TypeName()),
			Err:     err,
		}
	}
	if node == nil {
		return nil, &flowerr.Error{
			Kind:    flowerr.KindInvalidDefinition,
			NodeID:  spec.ID,
			Message: fmt.Sprintf("factory for type %q returned no node", spec.TypeName()),
		}
	}
	return node, nil
}

func nodeOptions(spec workflow.NodeSpec) []NodeOption {
	options := []NodeOption{
		DependsOn(spec.DependsOn...),
		WithOutputKey(spec.Key()),
		WithInputKeys(spec.Inputs...),
		WithTimeout(spec.Timeout),
	}
	if spec.Mode != "" {
		options = append(options, WithMode(Mode(spec.Mode)))
	}
	if policy := RetryFromSpec(spec.Retry); policy != nil {
		options = append(options, WithRetry(policy))
	}
	if breaker := spec.CircuitBreaker; breaker != nil {
		options = append(options, WithCircuitBreaker(NewCircuitBreaker(breaker.FailureThreshold, breaker.RecoveryTimeout)))
	}
	return options
}

// InputsOf converts the document's initial inputs into context values.
func InputsOf(definition *workflow.Definition) (map[string]value.Value, error) {
	inputs := make(map[string]value.Value, len(definition.Inputs))

	keys := make([]string, 0, len(definition.Inputs))
	for key := range definition.Inputs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	problems := make([]error, 0)
	for _, key := range keys {
		converted, err := value.FromAny(definition.Inputs[key])
		if err != nil {
			problems = append(problems, fmt.Errorf("input %q: %w", key, err))
			continue
		}
		inputs[key] = converted
	}

	if len(problems) > 0 {
		return nil, errors.Join(problems...)
	}
	return inputs, nil
}
