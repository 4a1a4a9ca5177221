package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/warden/internal/store"
)

// ReplayMismatch is the JSON form of one replay divergence.
type ReplayMismatch struct {
	Seq   int64  `json:"seq"`
	Field string `json:"field"`
	Want  string `json:"want"`
	Got   string `json:"got"`
}

// ReplayReport holds the replay verification output.
type ReplayReport struct {
	RunID      string           `json:"run_id"`
	Steps      int              `json:"steps"`
	Events     int              `json:"events"`
	Matched    bool             `json:"matched"`
	Mismatches []ReplayMismatch `json:"mismatches,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <db> <run-id>",
		Short: "Re-execute a recorded run and verify it",
		Long: `Rebuild the run's machine, re-invoke its step log and compare.

The machine is reconstructed from the run's recorded configuration
(codec, mode, alignment and type-check policy). Every re-executed
event is checked against the recorded stream, along with the final
retire count and cause register. Divergence means the recording and
the engine no longer agree.

Exit codes:
  0 - Replay matched the recording
  1 - Replay diverged
  2 - Command error (missing database, unknown run)

Examples:
  warden replay ./traces.db 0d9c5c9e-6e0f-4e8f-9c69-1bb840b4c715
  warden replay ./traces.db <run-id> --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(rootOpts, args[0], args[1], cmd)
		},
	}

	return cmd
}

func runReplay(rootOpts *RootOptions, dbPath, runID string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    rootOpts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   rootOpts.Verbose,
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

	res, err := store.Replay(ctx, st, runID)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay run %s", runID), err)
	}

	report := ReplayReport{
		RunID:   res.RunID,
		Steps:   res.Steps,
		Events:  res.Events,
		Matched: !res.Diverged(),
	}
	for _, mm := range res.Mismatches {
		report.Mismatches = append(report.Mismatches, ReplayMismatch(mm))
	}

	if formatter.Format == "json" {
		response := CLIResponse{Status: "ok", Data: report, RunID: res.RunID}
		if res.Diverged() {
			response.Status = "error"
			response.Error = &CLIError{
				Code:    ErrCodeGeneric,
				Message: fmt.Sprintf("replay diverged in %d place(s)", len(res.Mismatches)),
			}
		}
		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		if res.Diverged() {
			return NewExitError(ExitFailure, "replay diverged")
		}
		return nil
	}

	w := formatter.Writer
	if res.Diverged() {
		fmt.Fprintf(w, "✗ Replay of %s diverged (%d steps, %d events)\n\n", res.RunID, res.Steps, res.Events)
		for _, mm := range res.Mismatches {
			if mm.Seq < 0 {
				fmt.Fprintf(w, "  %-12s want %s, got %s\n", mm.Field, mm.Want, mm.Got)
				continue
			}
			fmt.Fprintf(w, "  seq %-6d %-8s want %s, got %s\n", mm.Seq, mm.Field, mm.Want, mm.Got)
		}
		return NewExitError(ExitFailure, "replay diverged")
	}

	fmt.Fprintf(w, "✓ Replay matched the recording (%d steps, %d events)\n", res.Steps, res.Events)
	return nil
}
