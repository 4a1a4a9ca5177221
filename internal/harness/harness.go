package harness

import (
	"errors"
	"fmt"

	"github.com/roach88/warden/internal/capability"
	"github.com/roach88/warden/internal/fault"
	"github.com/roach88/warden/internal/machine"
	"github.com/roach88/warden/internal/testutil"
	"github.com/roach88/warden/internal/trace"
)

// Result is the outcome of one scenario execution under one codec.
type Result struct {
	Scenario string
	Codec    string

	// Pass is true when every expectation held.
	Pass bool

	// Errors holds one message per failed expectation, in step order.
	Errors []string

	// Events is the observer stream of the run, one event per retired
	// operation, faulting ones included.
	Events []trace.Event

	// RetireCount and FinalCause are the machine's closing counters: ops
	// retired and the capability cause register. Recorded runs stamp both
	// into the run row, and replay verifies them, so they come from the
	// machine itself rather than a reading of the event stream (csetcause
	// rewrites the cause register without faulting).
	RetireCount int64
	FinalCause  uint16

	// Machine is the machine the last step retired on, left in place
	// so callers can capture its closing state.
	Machine *machine.Machine
}

// AddError records an expectation failure and fails the result.
func (r *Result) AddError(format string, args ...any) {
	r.Pass = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Run executes the scenario under every codec, or under the pinned one,
// and returns one Result per run. The error return is infrastructural: a
// definition that does not compile, an unknown operation, a malformed
// operand. Expectation failures land in the Results instead.
func Run(sc *Scenario) ([]*Result, error) {
	codecs := capability.Names()
	if sc.Codec != "" {
		codecs = []string{sc.Codec}
	}
	results := make([]*Result, 0, len(codecs))
	for _, name := range codecs {
		res, err := RunCodec(sc, name)
		if err != nil {
			return nil, fmt.Errorf("codec %s: %w", name, err)
		}
		results = append(results, res)
	}
	return results, nil
}

// RunCodec executes the scenario once under the named codec, overriding
// whatever codec the machine definition carries.
func RunCodec(sc *Scenario, codecName string) (*Result, error) {
	return RunRecorded(sc, codecName, nil)
}

// StepHook observes every dispatched step before it executes. The trace
// recorder rides it to keep its replay log alongside the event stream.
type StepHook func(op string, a machine.Args)

// RunRecorded is RunCodec with recording taps: the hook fires per step
// and the extra options (typically an observer) attach to the machine
// after the scenario's own.
func RunRecorded(sc *Scenario, codecName string, hook StepHook, extra ...machine.Option) (*Result, error) {
	cdc, err := capability.ByName(codecName)
	if err != nil {
		return nil, err
	}
	def, err := sc.definition()
	if err != nil {
		return nil, fmt.Errorf("machine definition: %w", err)
	}

	collector := &testutil.EventCollector{}
	opts := append([]machine.Option{machine.WithCodec(cdc), machine.WithObserver(collector)}, extra...)
	m, err := def.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("building machine: %w", err)
	}

	res := &Result{Scenario: sc.Name, Codec: codecName, Pass: true}
	for i, step := range sc.Steps {
		if hook != nil {
			hook(step.Op, step.Args)
		}
		out, err := m.Invoke(step.Op, step.Args)
		var exc *fault.Exception
		if err != nil && !errors.As(err, &exc) {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		}
		checkStep(res, i, &step, out, exc, m)
	}
	res.Events = collector.Events()
	res.RetireCount = m.RetireCount()
	res.FinalCause = m.CauseRegister()
	res.Machine = m
	return res, nil
}
