package machine

import "sync/atomic"

// Clock issues the monotonic retire sequence. The first retired operation
// observes sequence 1.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at zero.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock that resumes after start: the next issued
// value is start+1. Snapshot restore and trace replay use this to continue
// an interrupted sequence.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next issues the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number without advancing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
