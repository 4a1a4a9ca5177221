package trace

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/warden/internal/capability"
	"github.com/roach88/warden/internal/fault"
)

func TestObserverFunc_Adapts(t *testing.T) {
	var got []Event
	var o Observer = ObserverFunc(func(ev Event) { got = append(got, ev) })

	o.OpRetired(Event{Seq: 1, Op: "cgettag"})
	o.OpRetired(Event{Seq: 2, Op: "cgetlen"})

	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].Seq)
	assert.Equal(t, "cgetlen", got[1].Op)
}

func debugTracer() (*Tracer, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	return NewTracer(logger), buf
}

func TestTracer_RegisterWrite(t *testing.T) {
	tr, buf := debugTracer()

	old := capability.Null()
	nw := capability.Max()
	tr.OpRetired(Event{Seq: 3, Op: "cmove", PC: 0x40, Target: "C05", Old: old, New: nw})

	out := buf.String()
	assert.Contains(t, out, "level=DEBUG")
	assert.Contains(t, out, "op retired")
	assert.Contains(t, out, "seq=3")
	assert.Contains(t, out, "op=cmove")
	assert.Contains(t, out, "target=C05")
	assert.Contains(t, out, "old=")
	assert.Contains(t, out, "new=")
}

func TestTracer_ValueOp(t *testing.T) {
	tr, buf := debugTracer()

	tr.OpRetired(Event{Seq: 1, Op: "cgettag", PC: 0x40})

	out := buf.String()
	assert.Contains(t, out, "op=cgettag")
	assert.NotContains(t, out, "target=")
}

func TestTracer_FaultLogsAtWarn(t *testing.T) {
	tr, buf := debugTracer()

	tr.OpRetired(Event{
		Seq:   7,
		Op:    "clc",
		PC:    0x44,
		Fault: fault.NewCapability(fault.CauseTag, 4),
	})

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "op faulted")
	assert.Contains(t, out, "Tag Violation")
}

func TestNewTracer_NilLoggerUsesDefault(t *testing.T) {
	tr := NewTracer(nil)
	require.NotNil(t, tr)
	// Must not panic when driven
	tr.OpRetired(Event{Seq: 1, Op: "cgettag"})
}
