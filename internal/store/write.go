package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/warden/internal/machine"
	"github.com/roach88/warden/internal/trace"
)

// RunMeta describes one recorded run: the machine configuration it ran
// under and, once finished, its final counters.
type RunMeta struct {
	ID        string
	Identity  string
	Codec     string
	Mode      string
	Unaligned bool
	TypeCheck string
	CreatedAt string

	// Final counters, written by FinishRun.
	Retired    int64
	FinalCause uint16
}

// BeginRun inserts a runs row and returns its generated uuid. The
// machine configuration fields pin how replay rebuilds the machine.
//
// An explicit meta.ID must itself be a uuid; trace filters validate run
// ids against that shape.
func (s *Store) BeginRun(ctx context.Context, meta RunMeta) (string, error) {
	id := meta.ID
	if id == "" {
		id = uuid.NewString()
	} else if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("begin run: id %q is not a uuid", id)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, identity, codec, mode, unaligned, type_check)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		id,
		meta.Identity,
		meta.Codec,
		meta.Mode,
		boolInt(meta.Unaligned),
		meta.TypeCheck,
	)
	if err != nil {
		return "", fmt.Errorf("begin run: %w", err)
	}

	return id, nil
}

// FinishRun stamps a run's final counters.
func (s *Store) FinishRun(ctx context.Context, id string, retired int64, finalCause uint16) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET retired = ?, final_cause = ? WHERE id = ?
	`, retired, int64(finalCause), id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// WriteEvent inserts one retired-operation event. Uses ON CONFLICT DO
// NOTHING on the (run_id, seq) key for idempotency: re-recording the
// same sequence point is silently ignored.
func (s *Store) WriteEvent(ctx context.Context, runID string, ev trace.Event) error {
	var oldBlob, newBlob []byte
	if ev.Target != "" {
		var err error
		if oldBlob, err = packCapability(&ev.Old); err != nil {
			return fmt.Errorf("write event: %w", err)
		}
		if newBlob, err = packCapability(&ev.New); err != nil {
			return fmt.Errorf("write event: %w", err)
		}
	}

	class := ""
	cause := int64(0)
	reg := int64(255)
	var vaddr any
	if ev.Fault != nil {
		class = string(ev.Fault.Class)
		cause = int64(ev.Fault.Cause)
		reg = int64(ev.Fault.Reg)
		if ev.Fault.HasVAddr {
			vaddr = int64(ev.Fault.BadVAddr)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (run_id, seq, op, pc, target, old, new, class, cause, reg, vaddr)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		runID,
		ev.Seq,
		ev.Op,
		int64(ev.PC),
		ev.Target,
		oldBlob,
		newBlob,
		class,
		cause,
		reg,
		vaddr,
	)
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	return nil
}

// WriteStep inserts one dispatched operation into the replay log.
func (s *Store) WriteStep(ctx context.Context, runID string, idx int64, op string, a machine.Args) error {
	blob, err := packArgs(a)
	if err != nil {
		return fmt.Errorf("write step: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO steps (run_id, idx, op, args)
		VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, runID, idx, op, blob)
	if err != nil {
		return fmt.Errorf("write step: %w", err)
	}

	return nil
}

// Recorder couples a run to the machine's observer stream and the
// dispatch loop. OpRetired cannot return an error, so the first failure
// sticks and subsequent writes are dropped; callers check Err after the
// run.
type Recorder struct {
	s     *Store
	ctx   context.Context
	runID string
	steps int64
	err   error
}

// NewRecorder starts recording into the given run.
func (s *Store) NewRecorder(ctx context.Context, runID string) *Recorder {
	return &Recorder{s: s, ctx: ctx, runID: runID}
}

// RunID returns the run being recorded.
func (r *Recorder) RunID() string {
	return r.runID
}

// OpRetired implements trace.Observer.
func (r *Recorder) OpRetired(ev trace.Event) {
	if r.err != nil {
		return
	}
	r.err = r.s.WriteEvent(r.ctx, r.runID, ev)
}

// RecordStep appends one dispatched operation to the replay log. Called
// by the dispatch loop alongside Invoke.
func (r *Recorder) RecordStep(op string, a machine.Args) {
	if r.err != nil {
		return
	}
	r.err = r.s.WriteStep(r.ctx, r.runID, r.steps, op, a)
	if r.err == nil {
		r.steps++
	}
}

// Err returns the first write failure, if any.
func (r *Recorder) Err() error {
	return r.err
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
