package flow

import (
	"errors"
	"testing"
	"time"

	"github.com/leofalp/agentflow/core/flowerr"
	"github.com/leofalp/agentflow/core/workflow"
)

func TestBackoff_Defaults(testCase *testing.T) {
	config := Backoff{}.withDefaults()

	if config.MaxRetries != 3 {
		testCase.Errorf("expected MaxRetries 3, got %d", config.MaxRetries)
	}
	if config.InitialBackoff != 100*time.Millisecond {
		testCase.Errorf("expected InitialBackoff 100ms, got %v", config.InitialBackoff)
	}
	if config.MaxBackoff != 10*time.Second {
		testCase.Errorf("expected MaxBackoff 10s, got %v", config.MaxBackoff)
	}
	if config.Factor != 2.0 {
		testCase.Errorf("expected Factor 2.0, got %f", config.Factor)
	}
	if config.JitterFraction != 0 {
		testCase.Errorf("expected no jitter, got %f", config.JitterFraction)
	}
}

func TestComputeBackoff_Exponential(testCase *testing.T) {
	config := Backoff{InitialBackoff: 100 * time.Millisecond, MaxBackoff: 10 * time.Second, Factor: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{10, 10 * time.Second},
	}

	for _, tt := range tests {
		if got := computeBackoff(config, tt.attempt); got != tt.want {
			testCase.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.want, got)
		}
	}
}

func TestComputeBackoff_JitterBounds(testCase *testing.T) {
	config := Backoff{InitialBackoff: time.Second, MaxBackoff: time.Minute, Factor: 1, JitterFraction: 0.5}

	for range 100 {
		delay := computeBackoff(config, 0)
		if delay < time.Second || delay > 1500*time.Millisecond {
			testCase.Fatalf("delay %v outside [1s, 1.5s]", delay)
		}
	}
}

func TestBackoff_NextDelay(testCase *testing.T) {
	policy := Backoff{MaxRetries: 2, InitialBackoff: 10 * time.Millisecond}
	failure := errors.New("connection reset")

	delay, retry := policy.NextDelay(1, failure)
	if !retry || delay != 10*time.Millisecond {
		testCase.Errorf("attempt 1: expected retry after 10ms, got %v %v", delay, retry)
	}
	delay, retry = policy.NextDelay(2, failure)
	if !retry || delay != 20*time.Millisecond {
		testCase.Errorf("attempt 2: expected retry after 20ms, got %v %v", delay, retry)
	}
	if _, retry = policy.NextDelay(3, failure); retry {
		testCase.Error("attempt 3: expected retries to be exhausted")
	}
}

func TestBackoff_DefaultRetryable(testCase *testing.T) {
	policy := Backoff{}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"domain error", errors.New("rate limited"), true},
		{"timeout", flowerr.Timeout("n", time.Second), true},
		{"type mismatch", flowerr.NodeExecutionFailed("n", flowerr.TypeMismatch("text", "int")), false},
		{"missing output", flowerr.MissingDependencyOutput("n", "doc"), false},
		{"resource limit", flowerr.ResourceLimitExceeded("n", "doc", "value size", 10, 5), false},
		{"circuit open", flowerr.CircuitOpen("n", time.Second), false},
	}

	for _, tt := range tests {
		testCase.Run(tt.name, func(testCase *testing.T) {
			if _, got := policy.NextDelay(1, tt.err); got != tt.want {
				testCase.Errorf("expected retry=%v, got %v", tt.want, got)
			}
		})
	}
}

func TestBackoff_CustomRetryable(testCase *testing.T) {
	transient := errors.New("transient")
	policy := Backoff{Retryable: func(err error) bool { return errors.Is(err, transient) }}

	if _, retry := policy.NextDelay(1, transient); !retry {
		testCase.Error("expected transient error to be retried")
	}
	if _, retry := policy.NextDelay(1, errors.New("permanent")); retry {
		testCase.Error("expected other errors not to be retried")
	}
}

func TestNeverRetried(testCase *testing.T) {
	if !neverRetried(flowerr.Cancelled("n", nil)) {
		testCase.Error("expected cancellation never to be retried")
	}
	if !neverRetried(flowerr.DependencyFailed("n", "upstream")) {
		testCase.Error("expected dependency failure never to be retried")
	}
	if neverRetried(flowerr.NodeExecutionFailed("n", errors.New("boom"))) {
		testCase.Error("expected execution failures to be left to the policy")
	}
}

func TestRetryFromSpec(testCase *testing.T) {
	if RetryFromSpec(nil) != nil {
		testCase.Error("expected nil policy for nil spec")
	}
	if RetryFromSpec(&workflow.RetrySpec{}) != nil {
		testCase.Error("expected nil policy for zero retries")
	}

	policy := RetryFromSpec(&workflow.RetrySpec{
		MaxRetries:     2,
		InitialBackoff: 500 * time.Millisecond,
		BackoffFactor:  3,
	})
	backoff, ok := policy.(Backoff)
	if !ok {
		testCase.Fatalf("expected Backoff, got %T", policy)
	}
	if backoff.MaxRetries != 2 || backoff.InitialBackoff != 500*time.Millisecond || backoff.Factor != 3 {
		testCase.Errorf("unexpected backoff %+v", backoff)
	}

	if delay, _ := policy.NextDelay(2, errors.New("x")); delay != 1500*time.Millisecond {
		testCase.Errorf("expected 1.5s before the second retry, got %v", delay)
	}
}

func TestRetryFunc(testCase *testing.T) {
	calls := 0
	policy := RetryFunc(func(attempt int, _ error) (time.Duration, bool) {
		calls++
		return time.Duration(attempt) * time.Millisecond, attempt < 2
	})

	delay, retry := policy.NextDelay(1, nil)
	if delay != time.Millisecond || !retry || calls != 1 {
		testCase.Errorf("unexpected result %v %v after %d calls", delay, retry, calls)
	}
}
