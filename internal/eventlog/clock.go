package eventlog

import (
	"sync"
	"time"
)

// Clock stamps events with wall-clock milliseconds that never go backwards.
// If the time source steps back, the last stamp is reused.
//
// Thread-safety: Clock is safe for concurrent use.
type Clock struct {
	mu   sync.Mutex
	now  func() int64
	last int64
}

// NewClock returns a clock reading now, or the system clock when now is nil.
func NewClock(now func() int64) *Clock {
	if now == nil {
		now = func() int64 { return time.Now().UnixMilli() }
	}
	return &Clock{now: now}
}

// Stamp returns max(last stamp, now).
func (c *Clock) Stamp() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t := c.now(); t > c.last {
		c.last = t
	}
	return c.last
}

// Last returns the most recent stamp without reading the time source.
func (c *Clock) Last() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
