package trace

import (
	"log/slog"

	"github.com/roach88/warden/internal/capability"
	"github.com/roach88/warden/internal/fault"
)

// Event is the record of one retired operation.
//
// Target names the capability register the operation wrote ("C04", "DDC",
// "PCC", "CapBranchTarget", ...) and is empty when the operation retired
// without changing one. Old and New are the register's value before and
// after the write. Fault is non-nil when the operation raised an exception;
// a faulting operation never writes a register, so Fault and a non-empty
// Target are mutually exclusive.
type Event struct {
	Seq    int64
	Op     string
	PC     uint64
	Target string
	Old    capability.Capability
	New    capability.Capability
	Fault  *fault.Exception
}

// Observer receives one Event per retired operation. Calls are made
// synchronously in retire order from the machine's writer; implementations
// must return promptly and must not call back into the machine.
type Observer interface {
	OpRetired(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// OpRetired implements Observer.
func (f ObserverFunc) OpRetired(ev Event) { f(ev) }

// Tracer is an Observer that logs every retired operation through slog.
type Tracer struct {
	log *slog.Logger
}

// NewTracer creates a Tracer writing to the given logger.
func NewTracer(logger *slog.Logger) *Tracer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracer{log: logger}
}

// OpRetired implements Observer.
func (t *Tracer) OpRetired(ev Event) {
	if ev.Fault != nil {
		t.log.Warn("op faulted",
			"seq", ev.Seq,
			"op", ev.Op,
			"pc", ev.PC,
			"fault", ev.Fault.Error())
		return
	}
	if ev.Target == "" {
		t.log.Debug("op retired",
			"seq", ev.Seq,
			"op", ev.Op,
			"pc", ev.PC)
		return
	}
	t.log.Debug("op retired",
		"seq", ev.Seq,
		"op", ev.Op,
		"pc", ev.PC,
		"target", ev.Target,
		"old", ev.Old.String(),
		"new", ev.New.String())
}
