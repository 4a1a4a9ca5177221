package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/roach88/warden/internal/capability"
	"github.com/roach88/warden/internal/fault"
	"github.com/roach88/warden/internal/queryir"
	"github.com/roach88/warden/internal/store"
	"github.com/roach88/warden/internal/trace"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Op      string
	Cause   string
	Reg     int
	Faulted bool
	From    int64
	To      int64
	Limit   int
}

// RunSummary is one row of the run listing.
type RunSummary struct {
	ID         string `json:"id"`
	Identity   string `json:"identity"`
	Codec      string `json:"codec"`
	Mode       string `json:"mode"`
	Retired    int64  `json:"retired"`
	FinalCause string `json:"final_cause,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// RunListResult holds the run listing output.
type RunListResult struct {
	Database string       `json:"database"`
	Runs     []RunSummary `json:"runs"`
}

// EventRecord is the JSON form of one retired event.
type EventRecord struct {
	Seq    int64              `json:"seq"`
	Op     string             `json:"op"`
	PC     uint64             `json:"pc"`
	Target string             `json:"target,omitempty"`
	Old    *capability.Packed `json:"old,omitempty"`
	New    *capability.Packed `json:"new,omitempty"`
	Fault  string             `json:"fault,omitempty"`
}

// TraceQueryResult holds the event query output.
type TraceQueryResult struct {
	RunID  string        `json:"run_id"`
	Count  int           `json:"count"`
	Events []EventRecord `json:"events"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace <db> [run-id]",
		Short: "Query recorded runs",
		Long: `List recorded runs or query one run's retired-event stream.

Without a run id, lists every run in the database with its codec,
mode and final counters. With a run id, prints the run's events in
sequence order; the filter flags conjoin (all must hold).

Cause names are the canonical fault strings, for example
"Tag Violation" or "Permit_Store_Capability Violation". Register
numbers follow the cause register encoding: 0-31 for the general
file, 32 and up for hardware registers, 255 for no owning register.

Examples:
  warden trace ./traces.db
  warden trace ./traces.db 0d9c5c9e-6e0f-4e8f-9c69-1bb840b4c715
  warden trace ./traces.db <run-id> --op csetbounds --limit 10
  warden trace ./traces.db <run-id> --cause "Tag Violation" --reg 4
  warden trace ./traces.db <run-id> --faulted --from 100 --to 200`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := ""
			if len(args) == 2 {
				runID = args[1]
			}
			return runTrace(opts, args[0], runID, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Op, "op", "", "select events retired by one operation")
	cmd.Flags().StringVar(&opts.Cause, "cause", "", "select events faulting with this cause name")
	cmd.Flags().IntVar(&opts.Reg, "reg", -1, "select faults blaming this register number")
	cmd.Flags().BoolVar(&opts.Faulted, "faulted", false, "select only faulting events")
	cmd.Flags().Int64Var(&opts.From, "from", -1, "select events with seq >= from")
	cmd.Flags().Int64Var(&opts.To, "to", -1, "select events with seq <= to")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "stop after this many events (0 = unlimited)")

	return cmd
}

func runTrace(opts *TraceOptions, dbPath, runID string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if runID == "" {
		return listRuns(ctx, formatter, st, dbPath)
	}
	return queryEvents(ctx, formatter, st, opts, runID)
}

// listRuns renders every recorded run.
func listRuns(ctx context.Context, formatter *OutputFormatter, st *store.Store, dbPath string) error {
	ids, err := st.ListRuns(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	result := RunListResult{Database: dbPath, Runs: []RunSummary{}}
	for _, id := range ids {
		meta, err := st.ReadRun(ctx, id)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to read run %s", id), err)
		}
		result.Runs = append(result.Runs, RunSummary{
			ID:         meta.ID,
			Identity:   meta.Identity,
			Codec:      meta.Codec,
			Mode:       meta.Mode,
			Retired:    meta.Retired,
			FinalCause: causeRegisterString(meta.FinalCause),
			CreatedAt:  meta.CreatedAt,
		})
	}

	if formatter.Format == "json" {
		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(CLIResponse{Status: "ok", Data: result})
	}

	w := formatter.Writer
	if len(result.Runs) == 0 {
		fmt.Fprintf(w, "No runs recorded in %s\n", dbPath)
		return nil
	}

	fmt.Fprintf(w, "Runs in %s:\n\n", dbPath)
	fmt.Fprintf(w, "  %-36s  %-11s  %-6s  %7s  %s\n", "RUN", "CODEC", "MODE", "RETIRED", "FINAL FAULT")
	for _, r := range result.Runs {
		final := r.FinalCause
		if final == "" {
			final = "-"
		}
		fmt.Fprintf(w, "  %-36s  %-11s  %-6s  %7d  %s\n", r.ID, r.Codec, r.Mode, r.Retired, final)
	}
	fmt.Fprintf(w, "\n%d run(s)\n", len(result.Runs))
	return nil
}

// queryEvents renders one run's event stream through the filter flags.
func queryEvents(ctx context.Context, formatter *OutputFormatter, st *store.Store, opts *TraceOptions, runID string) error {
	filter, err := buildFilter(opts, runID)
	if err != nil {
		formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return NewExitError(ExitFailure, err.Error())
	}

	events, err := st.ReadEvents(ctx, filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read events", err)
	}

	result := TraceQueryResult{RunID: runID, Count: len(events), Events: []EventRecord{}}
	for _, ev := range events {
		result.Events = append(result.Events, eventRecord(ev))
	}

	if formatter.Format == "json" {
		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(CLIResponse{Status: "ok", Data: result, RunID: runID})
	}

	w := formatter.Writer
	if len(events) == 0 {
		fmt.Fprintf(w, "No events matched in run %s\n", runID)
		return nil
	}

	fmt.Fprintf(w, "Events in run %s:\n\n", runID)
	for _, ev := range events {
		printEventLine(w, ev)
	}
	fmt.Fprintf(w, "\n%d event(s)\n", len(events))
	return nil
}

// buildFilter conjoins the filter flags into the query IR. Validation
// happens here so a bad op or cause name reads as the user's mistake,
// not a storage failure.
func buildFilter(opts *TraceOptions, runID string) (queryir.Filter, error) {
	var preds []queryir.Predicate
	if opts.Op != "" {
		preds = append(preds, queryir.OpIs{Op: opts.Op})
	}
	if opts.Faulted {
		preds = append(preds, queryir.Faulted{})
	}
	if opts.Cause != "" {
		preds = append(preds, queryir.CauseIs{Cause: opts.Cause})
	}
	if opts.Reg >= 0 {
		preds = append(preds, queryir.RegIs{Reg: opts.Reg})
	}
	if opts.From >= 0 || opts.To >= 0 {
		from := opts.From
		if from < 0 {
			from = 0
		}
		to := opts.To
		if to < 0 {
			to = math.MaxInt64
		}
		preds = append(preds, queryir.SeqRange{From: from, To: to})
	}

	filter := queryir.Filter{RunID: runID, Limit: opts.Limit}
	switch len(preds) {
	case 0:
	case 1:
		filter.Where = preds[0]
	default:
		filter.Where = queryir.And{Predicates: preds}
	}

	if err := filter.Validate(); err != nil {
		return queryir.Filter{}, err
	}
	return filter, nil
}

// eventRecord converts a trace event to its JSON form.
func eventRecord(ev trace.Event) EventRecord {
	rec := EventRecord{
		Seq:    ev.Seq,
		Op:     ev.Op,
		PC:     ev.PC,
		Target: ev.Target,
	}
	if ev.Target != "" {
		old := ev.Old.Pack()
		nw := ev.New.Pack()
		rec.Old = &old
		rec.New = &nw
	}
	if ev.Fault != nil {
		rec.Fault = ev.Fault.Error()
	}
	return rec
}

// causeRegisterString renders a packed cause register value. Zero means
// no capability fault was recorded.
func causeRegisterString(cr uint16) string {
	if cr == 0 {
		return ""
	}
	return fmt.Sprintf("%s (reg %d)", fault.Cause(cr>>8).String(), cr&0xff)
}
