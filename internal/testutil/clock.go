package testutil

import "sync"

// BaseMillis is the first timestamp a DeterministicClock hands out.
// 2024-01-01T00:00:00Z, far enough from zero that "unset" is unambiguous.
const BaseMillis int64 = 1704067200000

// DeterministicClock is a thread-safe millisecond clock for tests.
//
// Each call to Next advances by exactly one millisecond, so the same scenario
// run twice stamps identical timestamps. The method value clock.Next satisfies
// event.Clock.
type DeterministicClock struct {
	mu  sync.Mutex
	seq int64
}

// NewDeterministicClock creates a clock whose first Next returns BaseMillis+1.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{}
}

// Next advances the clock and returns the new time in unix milliseconds.
func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return BaseMillis + c.seq
}

// Current returns the last value handed out (BaseMillis before any Next).
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return BaseMillis + c.seq
}

// Reset rewinds the clock so the next call returns BaseMillis+1 again.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}
