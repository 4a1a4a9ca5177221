package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/warden/internal/capability"
	"github.com/roach88/warden/internal/fault"
	"github.com/roach88/warden/internal/machine"
	"github.com/roach88/warden/internal/queryir"
	"github.com/roach88/warden/internal/trace"
)

// Mismatch is one divergence between a recorded run and its replay.
type Mismatch struct {
	Seq   int64
	Field string
	Want  string
	Got   string
}

// ReplayResult summarizes a replay: how much was re-executed and every
// point where the fresh machine disagreed with the recording.
type ReplayResult struct {
	RunID      string
	Steps      int
	Events     int
	Mismatches []Mismatch
}

// Diverged reports whether the replay produced any mismatch.
func (r *ReplayResult) Diverged() bool {
	return len(r.Mismatches) > 0
}

// Replay rebuilds a machine from a run's recorded configuration,
// re-invokes its step log and checks the fresh event stream against the
// recorded one, including the final retire count and cause register.
//
// Divergences are collected in the result; the error return is for
// storage and configuration failures only.
func Replay(ctx context.Context, s *Store, runID string) (*ReplayResult, error) {
	meta, err := s.ReadRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", runID, err)
	}

	codec, err := capability.ByName(meta.Codec)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", runID, err)
	}
	policy, err := machine.ParseTypeCheckPolicy(meta.TypeCheck)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", runID, err)
	}

	steps, err := s.ReadSteps(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", runID, err)
	}
	recorded, err := s.ReadEvents(ctx, queryir.Filter{RunID: runID})
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", runID, err)
	}

	live := &collector{}
	m := machine.New(
		machine.WithCodec(codec),
		machine.WithUnalignedAccess(meta.Unaligned),
		machine.WithTypeCheckPolicy(policy),
		machine.WithObserver(live),
	)
	if meta.Mode == "user" {
		m.SetKernelMode(false)
	}

	for _, st := range steps {
		if _, err := m.Invoke(st.Op, st.Args); err != nil {
			var exc *fault.Exception
			if errors.As(err, &exc) {
				continue // faults are part of the recorded stream
			}
			return nil, fmt.Errorf("replay %s step %d: %w", runID, st.Idx, err)
		}
	}

	res := &ReplayResult{
		RunID:  runID,
		Steps:  len(steps),
		Events: len(recorded),
	}

	if len(live.events) != len(recorded) {
		res.Mismatches = append(res.Mismatches, Mismatch{
			Seq:   -1,
			Field: "event count",
			Want:  fmt.Sprintf("%d", len(recorded)),
			Got:   fmt.Sprintf("%d", len(live.events)),
		})
	}
	n := len(recorded)
	if len(live.events) < n {
		n = len(live.events)
	}
	for i := 0; i < n; i++ {
		res.Mismatches = append(res.Mismatches, compareEvents(recorded[i], live.events[i])...)
	}

	if m.RetireCount() != meta.Retired {
		res.Mismatches = append(res.Mismatches, Mismatch{
			Seq:   -1,
			Field: "retired",
			Want:  fmt.Sprintf("%d", meta.Retired),
			Got:   fmt.Sprintf("%d", m.RetireCount()),
		})
	}
	if m.CauseRegister() != meta.FinalCause {
		res.Mismatches = append(res.Mismatches, Mismatch{
			Seq:   -1,
			Field: "final cause",
			Want:  fmt.Sprintf("0x%04x", meta.FinalCause),
			Got:   fmt.Sprintf("0x%04x", m.CauseRegister()),
		})
	}

	return res, nil
}

// collector buffers the live event stream during replay.
type collector struct {
	events []trace.Event
}

func (c *collector) OpRetired(ev trace.Event) {
	c.events = append(c.events, ev)
}

func compareEvents(want, got trace.Event) []Mismatch {
	var out []Mismatch
	add := func(field, w, g string) {
		if w != g {
			out = append(out, Mismatch{Seq: want.Seq, Field: field, Want: w, Got: g})
		}
	}

	add("op", want.Op, got.Op)
	add("pc", fmt.Sprintf("0x%016x", want.PC), fmt.Sprintf("0x%016x", got.PC))
	add("target", want.Target, got.Target)
	if want.Target != "" && got.Target == want.Target {
		add("old", want.Old.String(), got.Old.String())
		add("new", want.New.String(), got.New.String())
	}
	add("fault", faultString(want.Fault), faultString(got.Fault))

	return out
}

func faultString(e *fault.Exception) string {
	if e == nil {
		return "none"
	}
	return e.Error()
}
