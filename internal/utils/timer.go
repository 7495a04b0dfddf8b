package utils

import (
	"sync"
	"time"
)

// Timer measures wall-clock time from its start. It is safe for concurrent
// use.
type Timer struct {
	mu      sync.Mutex
	started time.Time
	stopped time.Duration
	running bool
}

// NewTimer returns a running Timer.
func NewTimer() *Timer {
	return &Timer{started: time.Now(), running: true}
}

// Restart starts a fresh measurement.
func (timer *Timer) Restart() {
	timer.mu.Lock()
	defer timer.mu.Unlock()
	timer.started = time.Now()
	timer.running = true
}

// Stop freezes the measurement and returns it. Later calls return the same
// value until Restart.
func (timer *Timer) Stop() time.Duration {
	timer.mu.Lock()
	defer timer.mu.Unlock()
	if timer.running {
		timer.stopped = time.Since(timer.started)
		timer.running = false
	}
	return timer.stopped
}

// Elapsed returns the time since the start, or the frozen value once stopped.
func (timer *Timer) Elapsed() time.Duration {
	timer.mu.Lock()
	defer timer.mu.Unlock()
	if timer.running {
		return time.Since(timer.started)
	}
	return timer.stopped
}
