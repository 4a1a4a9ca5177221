package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/warden/internal/fault"
	"github.com/roach88/warden/internal/machine"
	"github.com/roach88/warden/internal/queryir"
	"github.com/roach88/warden/internal/querysql"
	"github.com/roach88/warden/internal/trace"
)

// Step is one replayable entry from a run's dispatch log.
type Step struct {
	Idx  int64
	Op   string
	Args machine.Args
}

// ListRuns returns the ids of all recorded runs, oldest first.
//
// Returns an empty slice (not nil) if the store holds no runs.
func (s *Store) ListRuns(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM runs ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return ids, nil
}

// ReadRun returns a run's metadata. sql.ErrNoRows surfaces unwrapped so
// callers can distinguish "unknown run" from storage failures.
func (s *Store) ReadRun(ctx context.Context, id string) (RunMeta, error) {
	var (
		meta      RunMeta
		unaligned int64
		cause     int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, identity, codec, mode, unaligned, type_check, created_at, retired, final_cause
		FROM runs WHERE id = ?
	`, id).Scan(
		&meta.ID,
		&meta.Identity,
		&meta.Codec,
		&meta.Mode,
		&unaligned,
		&meta.TypeCheck,
		&meta.CreatedAt,
		&meta.Retired,
		&cause,
	)
	if err == sql.ErrNoRows {
		return RunMeta{}, err
	}
	if err != nil {
		return RunMeta{}, fmt.Errorf("read run %s: %w", id, err)
	}

	meta.Unaligned = unaligned != 0
	meta.FinalCause = uint16(cause)
	return meta, nil
}

// ReadEvents returns the events matching a validated filter, ordered by
// seq ascending.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) ReadEvents(ctx context.Context, f queryir.Filter) ([]trace.Event, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}

	query, params, err := querysql.Compile(f)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	defer rows.Close()

	events := []trace.Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}

// ReadSteps returns a run's full dispatch log, ordered by idx ascending.
//
// Returns an empty slice (not nil) if the run recorded no steps.
func (s *Store) ReadSteps(ctx context.Context, runID string) ([]Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, op, args FROM steps
		WHERE run_id = ?
		ORDER BY idx ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("read steps: %w", err)
	}
	defer rows.Close()

	steps := []Step{}
	for rows.Next() {
		var (
			st   Step
			blob []byte
		)
		if err := rows.Scan(&st.Idx, &st.Op, &blob); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		args, err := unpackArgs(blob)
		if err != nil {
			return nil, fmt.Errorf("unpack step %d: %w", st.Idx, err)
		}
		st.Args = args
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}

	return steps, nil
}

// scanEvent rebuilds a trace.Event from one events row. The fault, when
// present, is reconstructed from its stored class, cause, register and
// bad virtual address.
func scanEvent(rows *sql.Rows) (trace.Event, error) {
	var (
		ev      trace.Event
		pc      int64
		oldBlob []byte
		newBlob []byte
		class   string
		cause   int64
		reg     int64
		vaddr   sql.NullInt64
	)
	err := rows.Scan(&ev.Seq, &ev.Op, &pc, &ev.Target, &oldBlob, &newBlob, &class, &cause, &reg, &vaddr)
	if err != nil {
		return trace.Event{}, fmt.Errorf("scan event: %w", err)
	}

	ev.PC = uint64(pc)

	if ev.Target != "" {
		old, err := unpackCapability(oldBlob)
		if err != nil {
			return trace.Event{}, fmt.Errorf("unpack event %d old: %w", ev.Seq, err)
		}
		nw, err := unpackCapability(newBlob)
		if err != nil {
			return trace.Event{}, fmt.Errorf("unpack event %d new: %w", ev.Seq, err)
		}
		ev.Old = old
		ev.New = nw
	}

	if class != "" {
		exc := &fault.Exception{
			Class: fault.Class(class),
			Cause: fault.Cause(cause),
			Reg:   int(reg),
			Op:    ev.Op,
		}
		if vaddr.Valid {
			exc.BadVAddr = uint64(vaddr.Int64)
			exc.HasVAddr = true
		}
		ev.Fault = exc
	}

	return ev, nil
}
