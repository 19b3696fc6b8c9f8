package testutil

import "sync"

// StepClock is a deterministic millisecond time source for tests.
//
// Every call to Now returns the current reading and then advances it by the
// step, so the same scenario stamps events with identical timestamps on
// every run.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type StepClock struct {
	mu    sync.Mutex
	start int64
	step  int64
	now   int64
}

// NewStepClock returns a clock reading start and advancing by step.
// A step below 1 is treated as 1.
func NewStepClock(start, step int64) *StepClock {
	if step < 1 {
		step = 1
	}
	return &StepClock{start: start, step: step, now: start}
}

// Now returns the current reading, then advances the clock.
// Matches the func() int64 signature eventlog.NewClock expects.
func (c *StepClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now += c.step
	return t
}

// Current returns the next reading without advancing.
func (c *StepClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Reset rewinds the clock to its start.
func (c *StepClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.start
}
