package flow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leofalp/agentflow/core/flowerr"
	"github.com/leofalp/agentflow/core/value"
)

// manualClock is a settable time source for breakers.
type manualClock struct {
	current time.Time
}

func (clock *manualClock) now() time.Time { return clock.current }

func (clock *manualClock) advance(step time.Duration) { clock.current = clock.current.Add(step) }

func newManualBreaker(threshold int, recovery time.Duration) (*CircuitBreaker, *manualClock) {
	clock := &manualClock{current: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	breaker := NewCircuitBreaker(threshold, recovery)
	breaker.now = clock.now
	return breaker, clock
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(testCase *testing.T) {
	breaker, _ := newManualBreaker(3, time.Minute)

	breaker.record(errSummarize, false)
	breaker.record(errSummarize, false)
	breaker.record(nil, false)
	breaker.record(errSummarize, false)
	breaker.record(errSummarize, false)
	if breaker.State() != BreakerClosed {
		testCase.Fatalf("a success must reset the failure count, got %s", breaker.State())
	}

	if opened := breaker.record(errSummarize, false); !opened {
		testCase.Error("expected the third consecutive failure to open the breaker")
	}
	retryIn, allowed := breaker.allow()
	if allowed || retryIn != time.Minute {
		testCase.Errorf("expected rejection for 1m, got allowed=%v retryIn=%s", allowed, retryIn)
	}
}

func TestCircuitBreaker_HalfOpenAdmitsOneTrial(testCase *testing.T) {
	breaker, clock := newManualBreaker(1, time.Second)
	breaker.record(errSummarize, false)

	clock.advance(time.Second)
	if breaker.State() != BreakerHalfOpen {
		testCase.Fatalf("expected half open after recovery, got %s", breaker.State())
	}
	if _, allowed := breaker.allow(); !allowed {
		testCase.Fatal("expected the trial to be admitted")
	}
	if _, allowed := breaker.allow(); allowed {
		testCase.Fatal("expected a second caller to be rejected during the trial")
	}

	breaker.record(errSummarize, false)
	if breaker.State() != BreakerOpen {
		testCase.Fatalf("a failed trial must reopen the breaker, got %s", breaker.State())
	}

	clock.advance(time.Second)
	breaker.allow()
	breaker.record(nil, false)
	if breaker.State() != BreakerClosed {
		testCase.Errorf("a successful trial must close the breaker, got %s", breaker.State())
	}
}

func TestCircuitBreaker_CancellationDoesNotCount(testCase *testing.T) {
	breaker, clock := newManualBreaker(1, time.Second)

	breaker.record(context.Canceled, true)
	breaker.record(flowerr.Cancelled("fetch", context.Canceled), false)
	if breaker.State() != BreakerClosed {
		testCase.Fatalf("cancellations must not open the breaker, got %s", breaker.State())
	}

	breaker.record(errSummarize, false)
	clock.advance(time.Second)
	breaker.allow()
	breaker.record(context.Canceled, true)
	if _, allowed := breaker.allow(); !allowed {
		testCase.Error("a cancelled trial must free the trial slot")
	}
}

func TestCircuitBreaker_WrapKeepsMode(testCase *testing.T) {
	breaker := NewCircuitBreaker(1, time.Second)

	if mode := modeOf(breaker.Wrap(Async(textNode("x")))); mode != ModeAsync {
		testCase.Errorf("expected async, got %s", mode)
	}
	if mode := modeOf(breaker.Wrap(textNode("x"))); mode != ModeSync {
		testCase.Errorf("expected sync, got %s", mode)
	}
}

func TestRun_OpenCircuitStopsRetries(testCase *testing.T) {
	var calls atomic.Int32
	breaker := NewCircuitBreaker(2, time.Minute)

	guarded := mustBuild(testCase, NewBuilder("guarded").
		AddNode("fetch", NodeFunc(func(context.Context, *Handle) (value.Value, error) {
			calls.Add(1)
			return value.Null(), errSummarize
		}), WithCircuitBreaker(breaker), WithRetry(Backoff{MaxRetries: 5, InitialBackoff: time.Millisecond})))

	result, err := guarded.Run(context.Background(), nil)
	if !errors.Is(err, flowerr.ErrCircuitOpen) {
		testCase.Fatalf("expected open circuit, got %v", err)
	}
	if calls.Load() != 2 {
		testCase.Errorf("expected 2 invocations before the breaker opened, got %d", calls.Load())
	}

	outcome, _ := result.Outcome("fetch")
	if outcome.Attempts != 3 || outcome.State != NodeFailed {
		testCase.Errorf("expected the third attempt to be rejected, got %d attempts in state %s", outcome.Attempts, outcome.State)
	}
	if info, _ := guarded.Node("fetch"); info.Breaker != BreakerOpen {
		testCase.Errorf("expected breaker open, got %q", info.Breaker)
	}
}

func TestRun_PanickingNodeTripsBreaker(testCase *testing.T) {
	breaker := NewCircuitBreaker(1, time.Minute)

	guarded := mustBuild(testCase, NewBuilder("guarded").
		AddNode("fetch", NodeFunc(func(context.Context, *Handle) (value.Value, error) {
			panic("connection pool exhausted")
		}), WithCircuitBreaker(breaker)))

	if _, err := guarded.Run(context.Background(), nil); !errors.Is(err, flowerr.ErrNodeExecutionFailed) {
		testCase.Fatalf("expected the panic as a node failure, got %v", err)
	}
	if breaker.State() != BreakerOpen {
		testCase.Errorf("expected a panic to count as a failure, got %s", breaker.State())
	}
}
