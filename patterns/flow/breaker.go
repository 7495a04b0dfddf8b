package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/leofalp/agentflow/core/flowerr"
	"github.com/leofalp/agentflow/core/value"
	"github.com/leofalp/agentflow/providers/observability"
)

// BreakerState is the state of a CircuitBreaker.
type BreakerState string

const (
	// BreakerClosed lets every invocation through and counts consecutive
	// failures.
	BreakerClosed BreakerState = "closed"

	// BreakerOpen rejects invocations with a CircuitOpen error until the
	// recovery timeout has passed.
	BreakerOpen BreakerState = "open"

	// BreakerHalfOpen lets a single trial invocation through. Its success
	// closes the breaker and its failure opens it again.
	BreakerHalfOpen BreakerState = "half_open"
)

// CircuitBreaker stops invoking a node that keeps failing. It lives as long
// as the flow it is attached to, so its state carries over from one run to
// the next. Cancellations do not count as failures.
type CircuitBreaker struct {
	threshold int
	recovery  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	trial    bool
}

// NewCircuitBreaker returns a closed breaker that opens after threshold
// consecutive failures and allows a trial once recovery has passed.
// Non-positive arguments select 5 failures and 30 seconds.
func NewCircuitBreaker(threshold int, recovery time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if recovery <= 0 {
		recovery = 30 * time.Second
	}
	return &CircuitBreaker{
		threshold: threshold,
		recovery:  recovery,
		now:       time.Now,
		state:     BreakerClosed,
	}
}

// State returns the current state. An open breaker whose recovery timeout
// has passed reports BreakerHalfOpen.
func (breaker *CircuitBreaker) State() BreakerState {
	breaker.mu.Lock()
	defer breaker.mu.Unlock()

	if breaker.state == BreakerOpen && breaker.now().Sub(breaker.openedAt) >= breaker.recovery {
		return BreakerHalfOpen
	}
	return breaker.state
}

func breakerState(breaker *CircuitBreaker) BreakerState {
	if breaker == nil {
		return ""
	}
	return breaker.State()
}

// Wrap returns a node that runs node through the breaker. The wrapper keeps
// the mode node declares.
func (breaker *CircuitBreaker) Wrap(node Node) Node {
	return breakerNode{node: node, breaker: breaker}
}

// allow admits an invocation, or reports how long until the next trial.
func (breaker *CircuitBreaker) allow() (time.Duration, bool) {
	breaker.mu.Lock()
	defer breaker.mu.Unlock()

	switch breaker.state {
	case BreakerOpen:
		waited := breaker.now().Sub(breaker.openedAt)
		if waited < breaker.recovery {
			return breaker.recovery - waited, false
		}
		breaker.state = BreakerHalfOpen
		breaker.trial = true
		return 0, true
	case BreakerHalfOpen:
		if breaker.trial {
			return breaker.recovery, false
		}
		breaker.trial = true
		return 0, true
	default:
		return 0, true
	}
}

// record settles an admitted invocation and reports whether it opened the
// breaker. A cancelled invocation only frees the trial slot.
func (breaker *CircuitBreaker) record(err error, cancelled bool) bool {
	breaker.mu.Lock()
	defer breaker.mu.Unlock()

	wasTrial := breaker.state == BreakerHalfOpen
	if wasTrial {
		breaker.trial = false
	}

	switch {
	case err == nil:
		breaker.state = BreakerClosed
		breaker.failures = 0
		return false
	case cancelled || flowerr.KindOf(err) == flowerr.KindCancelled:
		return false
	}

	breaker.failures++
	if wasTrial || breaker.failures >= breaker.threshold {
		breaker.state = BreakerOpen
		breaker.openedAt = breaker.now()
		return true
	}
	return false
}

type breakerNode struct {
	node    Node
	breaker *CircuitBreaker
}

func (wrapped breakerNode) Mode() Mode { return modeOf(wrapped.node) }

func (wrapped breakerNode) Run(ctx context.Context, handle *Handle) (value.Value, error) {
	retryIn, allowed := wrapped.breaker.allow()
	if !allowed {
		return value.Null(), flowerr.CircuitOpen(handle.NodeID(), retryIn)
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			wrapped.breaker.record(fmt.Errorf("node panicked: %v", recovered), false)
			panic(recovered)
		}
	}()

	output, err := wrapped.node.Run(ctx, handle)
	if wrapped.breaker.record(err, errors.Is(ctx.Err(), context.Canceled)) {
		if provider := observability.ObserverFromContext(ctx); provider != nil {
			provider.Warn(ctx, "circuit breaker opened",
				observability.String(observability.AttrNodeID, handle.NodeID()),
				observability.Error(err),
			)
		}
	}
	return output, err
}
