package flow

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/leofalp/agentflow/core/flowerr"
	"github.com/leofalp/agentflow/core/workflow"
)

// RetryPolicy decides whether a failed attempt is retried and how long to
// wait first. attempt is the 1-based number of the attempt that just failed.
//
// The scheduler never retries cancellations or skipped dependencies,
// whatever the policy says. When the policy gives up, the last attempt's
// error is the node's error.
type RetryPolicy interface {
	NextDelay(attempt int, err error) (time.Duration, bool)
}

// RetryFunc adapts a function to RetryPolicy.
type RetryFunc func(attempt int, err error) (time.Duration, bool)

// NextDelay calls the function.
func (retryFunc RetryFunc) NextDelay(attempt int, err error) (time.Duration, bool) {
	return retryFunc(attempt, err)
}

// Backoff retries with exponential backoff and jitter:
//
//	delay = min(InitialBackoff * Factor^(attempt-1), MaxBackoff) + jitter
//
// Zero-valued fields are replaced with the defaults documented below.
type Backoff struct {
	// MaxRetries is the number of retries after the first failure.
	// A value of 2 means the node runs at most 3 times. Default: 3.
	MaxRetries int

	// InitialBackoff is the wait before the first retry. Default: 100ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the computed delay. Default: 10s.
	MaxBackoff time.Duration

	// Factor is the exponential growth multiplier. Default: 2.0.
	Factor float64

	// JitterFraction adds up to JitterFraction * delay of random noise.
	// Default: 0 (no jitter).
	JitterFraction float64

	// Retryable reports whether err is worth another attempt. Default: every
	// error except the kinds a retry cannot fix: type mismatch, missing
	// dependency output, resource limit and open circuit.
	Retryable func(error) bool
}

// NextDelay implements RetryPolicy.
func (backoff Backoff) NextDelay(attempt int, err error) (time.Duration, bool) {
	config := backoff.withDefaults()
	if attempt > config.MaxRetries || !config.Retryable(err) {
		return 0, false
	}
	return computeBackoff(config, attempt-1), true
}

func (backoff Backoff) withDefaults() Backoff {
	if backoff.MaxRetries == 0 {
		backoff.MaxRetries = 3
	}
	if backoff.InitialBackoff == 0 {
		backoff.InitialBackoff = 100 * time.Millisecond
	}
	if backoff.MaxBackoff == 0 {
		backoff.MaxBackoff = 10 * time.Second
	}
	if backoff.Factor == 0 {
		backoff.Factor = 2.0
	}
	if backoff.Retryable == nil {
		backoff.Retryable = defaultRetryable
	}
	return backoff
}

// computeBackoff returns the delay before retry number attempt (0-indexed).
func computeBackoff(config Backoff, attempt int) time.Duration {
	base := float64(config.InitialBackoff) * math.Pow(config.Factor, float64(attempt))
	if base > float64(config.MaxBackoff) {
		base = float64(config.MaxBackoff)
	}

	jitter := base * config.JitterFraction * rand.Float64() //nolint:gosec // non-cryptographic jitter is intentional
	return time.Duration(base + jitter)
}

func defaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch flowerr.KindOf(err) {
	case flowerr.KindTypeMismatch, flowerr.KindMissingDependencyOutput,
		flowerr.KindResourceLimitExceeded, flowerr.KindCircuitOpen:
		return false
	}
	return true
}

// neverRetried reports errors no policy may retry.
func neverRetried(err error) bool {
	switch flowerr.KindOf(err) {
	case flowerr.KindCancelled, flowerr.KindDependencyFailed:
		return true
	}
	return false
}

// RetryFromSpec converts a workflow retry block into a Backoff. A nil spec
// or one with MaxRetries 0 yields nil (no retry).
func RetryFromSpec(spec *workflow.RetrySpec) RetryPolicy {
	if spec == nil || spec.MaxRetries <= 0 {
		return nil
	}
	return Backoff{
		MaxRetries:     spec.MaxRetries,
		InitialBackoff: spec.InitialBackoff,
		MaxBackoff:     spec.MaxBackoff,
		Factor:         spec.BackoffFactor,
		JitterFraction: spec.JitterFraction,
	}
}
