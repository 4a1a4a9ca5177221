// Package testutil provides shared helpers for exercising machines in
// tests: event collection for observer-stream assertions.
package testutil

import (
	"slices"
	"sync"

	"github.com/roach88/warden/internal/trace"
)

// EventCollector is a trace.Observer that buffers every retired-operation
// event it sees.
//
// Unlike trace.Tracer, which renders events to a logger and forgets them,
// EventCollector keeps the stream so a test can run a machine and assert
// on exactly what retired afterwards. It can be reset for reuse, letting
// the same scenario run repeatedly from an empty buffer.
//
// Thread-safety: all methods are safe for concurrent use via internal
// mutex. A single machine delivers events from one goroutine, but suites
// sweep codecs in parallel subtests that may share a collector.
type EventCollector struct {
	mu     sync.Mutex
	events []trace.Event
}

// OpRetired implements trace.Observer.
func (c *EventCollector) OpRetired(ev trace.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

// Events returns a copy of everything observed so far, in retire order.
func (c *EventCollector) Events() []trace.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.events)
}

// Last returns the most recent event. The second return is false when
// nothing has retired yet.
func (c *EventCollector) Last() (trace.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return trace.Event{}, false
	}
	return c.events[len(c.events)-1], true
}

// Reset drops the buffer. After Reset the collector observes from empty.
func (c *EventCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}
