package flow

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/leofalp/agentflow/core/flowerr"
	"github.com/leofalp/agentflow/core/value"
	"github.com/leofalp/agentflow/core/workflow"
)

const digestDocument = `
name: paper-digest
version: "3"
failure_policy: best_effort
max_in_flight: 2
inputs:
  path: ./paper.pdf
nodes:
  - id: parse
    type: echo
    inputs: [path]
    params:
      key: path
  - id: summarize
    type: upper
    mode: async
    depends_on: [parse]
    output_key: summary
    timeout: 5s
    retry:
      max_retries: 2
      initial_backoff: 10ms
    params:
      key: parse
  - id: upper
    depends_on: [summarize]
    params:
      key: summary
`

// testRegistry builds nodes that read params.key from the context.
func testRegistry() RegistryMap {
	readKey := func(params value.Value) (string, error) {
		key, _, err := params.Lookup("key")
		if err != nil {
			return "", err
		}
		return key.AsText()
	}

	return RegistryMap{
		"echo": func(_ workflow.NodeSpec, params value.Value) (Node, error) {
			key, err := readKey(params)
			if err != nil {
				return nil, err
			}
			return NodeFunc(func(_ context.Context, handle *Handle) (value.Value, error) {
				return handle.Require(key)
			}), nil
		},
		"upper": func(_ workflow.NodeSpec, params value.Value) (Node, error) {
			key, err := readKey(params)
			if err != nil {
				return nil, err
			}
			return NodeFunc(func(_ context.Context, handle *Handle) (value.Value, error) {
				text, err := handle.RequireText(key)
				if err != nil {
					return value.Null(), err
				}
				return value.Text(strings.ToUpper(text)), nil
			}), nil
		},
	}
}

func TestCompile_BuildsAndRuns(testCase *testing.T) {
	definition, err := workflow.Parse([]byte(digestDocument))
	if err != nil {
		testCase.Fatalf("parse error: %v", err)
	}

	digest, err := Compile(definition, testRegistry())
	if err != nil {
		testCase.Fatalf("compile error: %v", err)
	}

	if digest.Name() != "paper-digest" || digest.Version() != "3" {
		testCase.Errorf("unexpected identity %q %q", digest.Name(), digest.Version())
	}
	if digest.FailurePolicy() != BestEffort || digest.MaxInFlight() != 2 {
		testCase.Errorf("unexpected policy %s %d", digest.FailurePolicy(), digest.MaxInFlight())
	}

	summarize, _ := digest.Node("summarize")
	want := NodeInfo{
		ID:           "summarize",
		Mode:         ModeAsync,
		OutputKey:    "summary",
		Dependencies: []string{"parse"},
		Dependents:   []string{"upper"},
		Timeout:      5 * time.Second,
		Retries:      true,
		Level:        1,
	}
	if diff := cmp.Diff(want, summarize); diff != "" {
		testCase.Errorf("node info mismatch (-want +got):\n%s", diff)
	}

	inputs, err := InputsOf(definition)
	if err != nil {
		testCase.Fatalf("inputs error: %v", err)
	}

	result, err := digest.Run(context.Background(), inputs)
	if err != nil {
		testCase.Fatalf("run error: %v", err)
	}
	upper, _ := result.Context.Get("upper")
	if !upper.Equal(value.Text("./PAPER.PDF")) {
		testCase.Errorf("unexpected output %v", upper)
	}
}

func TestCompile_CallerOptionsTakePrecedence(testCase *testing.T) {
	definition, _ := workflow.Parse([]byte(digestDocument))

	digest, err := Compile(definition, testRegistry(), WithFailurePolicy(FailFast), WithMaxInFlight(8))
	if err != nil {
		testCase.Fatalf("compile error: %v", err)
	}
	if digest.FailurePolicy() != FailFast || digest.MaxInFlight() != 8 {
		testCase.Errorf("expected caller options to win, got %s %d", digest.FailurePolicy(), digest.MaxInFlight())
	}
}

const guardedDocument = `
name: guarded
context_limits:
  max_value_size: 64
  warn_fraction: 0.5
nodes:
  - id: fetch
    type: flaky
    circuit_breaker:
      failure_threshold: 1
      recovery_timeout: 1m
`

func TestCompile_BreakerAndLimitsSpanRuns(testCase *testing.T) {
	definition, err := workflow.Parse([]byte(guardedDocument))
	if err != nil {
		testCase.Fatalf("parse error: %v", err)
	}

	var calls atomic.Int32
	guarded, err := Compile(definition, RegistryMap{
		"flaky": func(workflow.NodeSpec, value.Value) (Node, error) {
			return NodeFunc(func(context.Context, *Handle) (value.Value, error) {
				calls.Add(1)
				return value.Null(), errSummarize
			}), nil
		},
	})
	if err != nil {
		testCase.Fatalf("compile error: %v", err)
	}

	if diff := cmp.Diff(ContextLimits{MaxValueSize: 64, WarnFraction: 0.5}, guarded.ContextLimits()); diff != "" {
		testCase.Errorf("limits mismatch (-want +got):\n%s", diff)
	}

	if _, err := guarded.Run(context.Background(), nil); !errors.Is(err, errSummarize) {
		testCase.Fatalf("expected the node error on the first run, got %v", err)
	}
	if _, err := guarded.Run(context.Background(), nil); !errors.Is(err, flowerr.ErrCircuitOpen) {
		testCase.Fatalf("expected the open circuit on the second run, got %v", err)
	}
	if calls.Load() != 1 {
		testCase.Errorf("expected the node to be invoked once, got %d", calls.Load())
	}
	if info, _ := guarded.Node("fetch"); info.Breaker != BreakerOpen {
		testCase.Errorf("expected breaker open, got %q", info.Breaker)
	}
}

func TestCompile_Errors(testCase *testing.T) {
	failingFactory := func(workflow.NodeSpec, value.Value) (Node, error) {
		return nil, errors.New("model not configured")
	}
	nilFactory := func(workflow.NodeSpec, value.Value) (Node, error) {
		return nil, nil
	}

	tests := []struct {
		name       string
		definition *workflow.Definition
		registry   Registry
		want       error
		fragment   string
	}{
		{
			name:     "nil definition",
			registry: RegistryMap{},
			want:     flowerr.ErrInvalidDefinition,
		},
		{
			name:       "nil registry",
			definition: &workflow.Definition{Name: "f", Nodes: []workflow.NodeSpec{{ID: "a"}}},
			want:       flowerr.ErrInvalidDefinition,
		},
		{
			name:       "invalid document",
			definition: &workflow.Definition{Name: "f"},
			registry:   RegistryMap{},
			want:       flowerr.ErrInvalidDefinition,
		},
		{
			name:       "unknown type",
			definition: &workflow.Definition{Name: "f", Nodes: []workflow.NodeSpec{{ID: "a", Type: "ocr"}}},
			registry:   RegistryMap{},
			want:       flowerr.ErrInvalidDefinition,
			fragment:   `"ocr"`,
		},
		{
			name:       "factory failure",
			definition: &workflow.Definition{Name: "f", Nodes: []workflow.NodeSpec{{ID: "a", Type: "llm"}}},
			registry:   RegistryMap{"llm": failingFactory},
			want:       flowerr.ErrInvalidDefinition,
			fragment:   "model not configured",
		},
		{
			name:       "factory returns nil",
			definition: &workflow.Definition{Name: "f", Nodes: []workflow.NodeSpec{{ID: "a", Type: "llm"}}},
			registry:   RegistryMap{"llm": nilFactory},
			want:       flowerr.ErrInvalidDefinition,
		},
		{
			name: "cycle",
			definition: &workflow.Definition{Name: "f", Nodes: []workflow.NodeSpec{
				{ID: "a", Type: "echo", DependsOn: []string{"b"}, Params: map[string]any{"key": "x"}},
				{ID: "b", Type: "echo", DependsOn: []string{"a"}, Params: map[string]any{"key": "x"}},
			}},
			registry: testRegistry(),
			want:     flowerr.ErrCycleDetected,
		},
	}

	for _, tt := range tests {
		testCase.Run(tt.name, func(testCase *testing.T) {
			compiled, err := Compile(tt.definition, tt.registry)
			if compiled != nil {
				testCase.Error("expected nil flow on error")
			}
			if !errors.Is(err, tt.want) {
				testCase.Fatalf("expected %v, got %v", tt.want, err)
			}
			if tt.fragment != "" && !strings.Contains(err.Error(), tt.fragment) {
				testCase.Errorf("expected %s in %q", tt.fragment, err.Error())
			}
		})
	}
}

func TestCompile_ReportsEveryBrokenNode(testCase *testing.T) {
	definition := &workflow.Definition{Name: "f", Nodes: []workflow.NodeSpec{
		{ID: "a", Type: "ocr"},
		{ID: "b", Type: "vision"},
	}}

	_, err := Compile(definition, RegistryMap{})
	for _, fragment := range []string{`"ocr"`, `"vision"`} {
		if err == nil || !strings.Contains(err.Error(), fragment) {
			testCase.Errorf("expected %s in %v", fragment, err)
		}
	}
}

func TestCompile_TypeDefaultsToID(testCase *testing.T) {
	var receivedParams value.Value
	registry := RegistryMap{
		"fetch": func(_ workflow.NodeSpec, params value.Value) (Node, error) {
			receivedParams = params
			return textNode("page"), nil
		},
	}

	definition := &workflow.Definition{Name: "f", Nodes: []workflow.NodeSpec{{ID: "fetch"}}}
	if _, err := Compile(definition, registry); err != nil {
		testCase.Fatalf("compile error: %v", err)
	}
	if !receivedParams.IsNull() {
		testCase.Errorf("expected Null params, got %v", receivedParams)
	}
}

func TestInputsOf(testCase *testing.T) {
	definition := &workflow.Definition{Inputs: map[string]any{
		"path":      "./paper.pdf",
		"languages": []any{"fr", "de"},
		"pages":     12,
	}}

	inputs, err := InputsOf(definition)
	if err != nil {
		testCase.Fatalf("unexpected error: %v", err)
	}

	if len(inputs) != 3 {
		testCase.Fatalf("expected 3 inputs, got %d", len(inputs))
	}
	if !inputs["languages"].Equal(value.Sequence(value.Text("fr"), value.Text("de"))) {
		testCase.Errorf("unexpected languages %v", inputs["languages"])
	}
	if !inputs["pages"].Equal(value.Int(12)) {
		testCase.Errorf("unexpected pages %v", inputs["pages"])
	}

	_, err = InputsOf(&workflow.Definition{Inputs: map[string]any{"handler": func() {}}})
	if err == nil || !strings.Contains(err.Error(), `input "handler"`) {
		testCase.Errorf("expected conversion error naming the input, got %v", err)
	}
}
