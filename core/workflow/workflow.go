package workflow

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Failure policies accepted in a document.
const (
	PolicyFailFast   = "fail_fast"
	PolicyBestEffort = "best_effort"
)

// Execution modes accepted in a node spec.
const (
	ModeSync  = "sync"
	ModeAsync = "async"
)

// Definition is a complete workflow document.
type Definition struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version,omitempty"`
	Description string `yaml:"description,omitempty"`

	// FailurePolicy is PolicyFailFast (default when empty) or PolicyBestEffort.
	FailurePolicy string `yaml:"failure_policy,omitempty"`

	// MaxInFlight bounds concurrently running async nodes. Zero keeps the
	// flow default.
	MaxInFlight int `yaml:"max_in_flight,omitempty"`

	// RunTimeout bounds the whole run. Zero means no limit.
	RunTimeout time.Duration `yaml:"run_timeout,omitempty"`

	// Limits caps the size of the execution context.
	Limits LimitsSpec `yaml:"context_limits,omitempty"`

	// Inputs seed the execution context before the first node runs.
	Inputs map[string]any `yaml:"inputs,omitempty"`

	Nodes []NodeSpec `yaml:"nodes"`
}

// NodeSpec declares one node of the workflow.
type NodeSpec struct {
	ID string `yaml:"id"`

	// Type selects the node factory in the registry. Defaults to ID.
	Type string `yaml:"type,omitempty"`

	DependsOn []string `yaml:"depends_on,omitempty"`

	// Mode is ModeSync or ModeAsync. Empty keeps the node's own default.
	Mode string `yaml:"mode,omitempty"`

	// OutputKey is the context key the result is written to. Defaults to ID.
	OutputKey string `yaml:"output_key,omitempty"`

	// Inputs lists context keys that must exist before the node runs.
	Inputs []string `yaml:"inputs,omitempty"`

	Timeout time.Duration `yaml:"timeout,omitempty"`
	Retry   *RetrySpec    `yaml:"retry,omitempty"`

	// CircuitBreaker stops invoking the node after repeated failures. Its
	// state is kept across runs of the compiled flow.
	CircuitBreaker *BreakerSpec `yaml:"circuit_breaker,omitempty"`

	// Params is passed verbatim to the node factory.
	Params map[string]any `yaml:"params,omitempty"`
}

// RetrySpec configures exponential backoff retries for a node.
type RetrySpec struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff,omitempty"`
	MaxBackoff     time.Duration `yaml:"max_backoff,omitempty"`
	BackoffFactor  float64       `yaml:"backoff_factor,omitempty"`
	JitterFraction float64       `yaml:"jitter_fraction,omitempty"`
}

// LimitsSpec bounds the execution context in bytes of JSON encoding. Zero
// fields mean no limit.
type LimitsSpec struct {
	MaxValueSize int     `yaml:"max_value_size,omitempty"`
	MaxStateSize int     `yaml:"max_state_size,omitempty"`
	WarnFraction float64 `yaml:"warn_fraction,omitempty"`
}

// BreakerSpec configures a node's circuit breaker.
type BreakerSpec struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout,omitempty"`
}

// TypeName returns the factory name of the node.
func (spec NodeSpec) TypeName() string {
	if spec.Type != "" {
		return spec.Type
	}
	return spec.ID
}

// Key returns the context key the node's output is written to.
func (spec NodeSpec) Key() string {
	if spec.OutputKey != "" {
		return spec.OutputKey
	}
	return spec.ID
}

// Parse decodes a YAML or JSON workflow document. It does not validate it.
func Parse(data []byte) (*Definition, error) {
	var definition Definition
	if err := yaml.Unmarshal(data, &definition); err != nil {
		return nil, fmt.Errorf("parse workflow document: %w", err)
	}
	return &definition, nil
}

// Load reads, parses and validates the workflow document at path.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow %s: %w", path, err)
	}

	definition, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if err := definition.Validate(); err != nil {
		return nil, fmt.Errorf("workflow %s: %w", path, err)
	}

	return definition, nil
}

// Marshal serializes the definition back to YAML.
func (definition *Definition) Marshal() ([]byte, error) {
	return yaml.Marshal(definition)
}

// Node returns the spec with the given ID.
func (definition *Definition) Node(nodeID string) (NodeSpec, bool) {
	for _, spec := range definition.Nodes {
		if spec.ID == nodeID {
			return spec, true
		}
	}
	return NodeSpec{}, false
}
