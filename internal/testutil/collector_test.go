package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/warden/internal/trace"
)

func TestEventCollector_StartsEmpty(t *testing.T) {
	c := &EventCollector{}
	assert.Empty(t, c.Events())

	_, ok := c.Last()
	assert.False(t, ok)
}

func TestEventCollector_KeepsRetireOrder(t *testing.T) {
	c := &EventCollector{}
	c.OpRetired(trace.Event{Seq: 1, Op: "cgettag"})
	c.OpRetired(trace.Event{Seq: 2, Op: "csetbounds"})
	c.OpRetired(trace.Event{Seq: 3, Op: "cincoffset"})

	events := c.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "cgettag", events[0].Op)
	assert.Equal(t, "csetbounds", events[1].Op)
	assert.Equal(t, "cincoffset", events[2].Op)

	last, ok := c.Last()
	require.True(t, ok)
	assert.Equal(t, int64(3), last.Seq)
}

func TestEventCollector_EventsReturnsCopy(t *testing.T) {
	c := &EventCollector{}
	c.OpRetired(trace.Event{Seq: 1, Op: "cgettag"})

	events := c.Events()
	events[0].Op = "mutated"

	fresh := c.Events()
	assert.Equal(t, "cgettag", fresh[0].Op)
}

func TestEventCollector_Reset(t *testing.T) {
	c := &EventCollector{}
	c.OpRetired(trace.Event{Seq: 1, Op: "cgettag"})
	c.OpRetired(trace.Event{Seq: 2, Op: "cgetlen"})
	require.Len(t, c.Events(), 2)

	c.Reset()
	assert.Empty(t, c.Events())

	c.OpRetired(trace.Event{Seq: 1, Op: "cbez"})
	events := c.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "cbez", events[0].Op)
}

func TestEventCollector_ConcurrentObservers(t *testing.T) {
	c := &EventCollector{}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.OpRetired(trace.Event{Op: "cgettag"})
			}
		}()
	}
	wg.Wait()

	assert.Len(t, c.Events(), 1000)
}
