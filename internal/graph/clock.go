package graph

import "sync/atomic"

// Stamper issues trace sequence numbers. *Clock is the default; tests may
// supply a resettable clock.
type Stamper interface {
	Next() int64
	Current() int64
}

// Clock is a monotonic logical clock stamping trace events.
// Safe for concurrent use, though only the writer calls Next.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock starting at start. Used to resume a trace.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next increments the clock and returns the new value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the clock without incrementing it.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
