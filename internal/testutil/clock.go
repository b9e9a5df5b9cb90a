package testutil

import "sync/atomic"

// DeterministicClock is a resettable logical clock. It satisfies
// graph.Stamper, so one clock can stamp several graph runs that must
// produce identical traces.
type DeterministicClock struct {
	seq atomic.Int64
}

// NewDeterministicClock creates a clock whose first Next returns 1.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{}
}

// Next advances the clock and returns the new stamp.
func (c *DeterministicClock) Next() int64 { return c.seq.Add(1) }

// Current returns the last stamp handed out, 0 before the first Next.
func (c *DeterministicClock) Current() int64 { return c.seq.Load() }

// Reset rewinds the clock so the next stamp is 1 again.
func (c *DeterministicClock) Reset() { c.seq.Store(0) }
