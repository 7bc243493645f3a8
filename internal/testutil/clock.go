// Package testutil provides deterministic stand-ins for the sources of
// nondeterminism in the orchestrator: run IDs, pool sampling, and event
// sequence numbers.
package testutil

import "sync"

// DeterministicClock is a thread-safe monotonic logical clock for tests.
//
// The harness stamps trace events with it instead of wall time, so the
// same scenario produces byte-identical traces on every run.
type DeterministicClock struct {
	mu  sync.Mutex
	seq int64
}

// NewDeterministicClock creates a clock starting at 0; the first call to
// Next() returns 1.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{}
}

// Next increments and returns the next sequence number.
func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the current sequence number without incrementing.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset resets the clock to 0 for test reuse.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}
