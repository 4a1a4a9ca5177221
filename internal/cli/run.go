package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/warden/internal/capability"
	"github.com/roach88/warden/internal/harness"
	"github.com/roach88/warden/internal/machdef"
	"github.com/roach88/warden/internal/machine"
	"github.com/roach88/warden/internal/store"
	"github.com/roach88/warden/internal/trace"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string // trace database path, empty = no recording
	Codec    string // pin one codec, empty = scenario's choice or sweep
}

// RunCodecResult holds one codec execution of the scenario.
type RunCodecResult struct {
	Codec  string   `json:"codec"`
	Pass   bool     `json:"pass"`
	RunID  string   `json:"run_id,omitempty"`
	Events int      `json:"events"`
	Errors []string `json:"errors,omitempty"`
}

// RunReport holds the overall run result.
type RunReport struct {
	Scenario string           `json:"scenario"`
	Database string           `json:"database,omitempty"`
	Results  []RunCodecResult `json:"results"`
	Passed   int              `json:"passed"`
	Failed   int              `json:"failed"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a scenario, optionally recording the trace",
		Long: `Run one scenario against fresh machines.

The scenario executes under every codec unless it pins one or --codec
narrows the sweep. With --trace-db, each codec execution is recorded
into the SQLite trace database (created if missing) as one run: the
step log for replay and the full retired-event stream.

Exit codes:
  0 - Every expectation held
  1 - One or more expectations failed
  2 - Command error (scenario invalid, database failure)

Examples:
  warden run scenario.yaml
  warden run scenario.yaml --codec wide
  warden run scenario.yaml --trace-db ./traces.db --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioCommand(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "trace-db", "", "record each run into this SQLite trace database")
	cmd.Flags().StringVar(&opts.Codec, "codec", "", "run under one codec only (concentrate|magic|wide)")

	return cmd
}

func runScenarioCommand(opts *RunOptions, scenarioPath string, cmd *cobra.Command) error {
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

	slog.Info("loading scenario", "path", scenarioPath)
	sc, loadErr := LoadScenario(scenarioPath)
	if loadErr != nil {
		return outputLoadError(formatter, loadErr)
	}

	codecs, err := runCodecs(sc, opts.Codec)
	if err != nil {
		return outputCommandError(formatter, ErrCodeGeneric, err.Error())
	}

	var st *store.Store
	if opts.Database != "" {
		slog.Info("opening trace database", "path", opts.Database)
		st, err = store.Open(opts.Database)
		if err != nil {
			return outputCommandError(formatter, ErrCodeStore, fmt.Sprintf("opening trace database: %v", err))
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				slog.Error("error closing trace database", "err", closeErr)
			}
		}()
	}

	report := &RunReport{Scenario: sc.Name, Database: opts.Database}
	for _, codecName := range codecs {
		slog.Info("running scenario", "scenario", sc.Name, "codec", codecName)

		var res *harness.Result
		var runID string
		if st != nil {
			res, runID, err = runRecorded(ctx, st, sc, codecName)
		} else {
			res, err = harness.RunCodec(sc, codecName)
		}
		if err != nil {
			return outputCommandError(formatter, ErrCodeGeneric,
				fmt.Sprintf("codec %s: %v", codecName, err))
		}

		report.Results = append(report.Results, RunCodecResult{
			Codec:  codecName,
			Pass:   res.Pass,
			RunID:  runID,
			Events: len(res.Events),
			Errors: res.Errors,
		})
		if res.Pass {
			report.Passed++
		} else {
			report.Failed++
		}

		printCodecResult(formatter, res, runID)
	}

	return outputRunReport(formatter, report)
}

// runCodecs resolves which codecs the scenario executes under: the
// --codec flag wins, then the scenario's pin, then the full sweep.
func runCodecs(sc *harness.Scenario, flag string) ([]string, error) {
	if flag != "" {
		if _, err := capability.ByName(flag); err != nil {
			return nil, err
		}
		return []string{flag}, nil
	}
	if sc.Codec != "" {
		return []string{sc.Codec}, nil
	}
	return capability.Names(), nil
}

// runRecorded executes one codec run with the store's recorder attached:
// a runs row pinned to the definition identity, the step log for replay,
// and every retired event.
func runRecorded(ctx context.Context, st *store.Store, sc *harness.Scenario, codecName string) (*harness.Result, string, error) {
	def, err := sc.CompiledDefinition()
	if err != nil {
		return nil, "", fmt.Errorf("machine definition: %w", err)
	}
	identity, err := def.Identity()
	if err != nil {
		return nil, "", fmt.Errorf("definition identity: %w", err)
	}

	runID, err := st.BeginRun(ctx, store.RunMeta{
		Identity:  identity,
		Codec:     codecName,
		Mode:      def.Mode,
		Unaligned: def.Policy.Unaligned == machdef.UnalignedAllow,
		TypeCheck: def.Policy.TypeCheck,
	})
	if err != nil {
		return nil, "", err
	}

	rec := st.NewRecorder(ctx, runID)
	res, err := harness.RunRecorded(sc, codecName, rec.RecordStep, machine.WithObserver(rec))
	if err != nil {
		return nil, runID, err
	}
	if rec.Err() != nil {
		return nil, runID, fmt.Errorf("recording run %s: %w", runID, rec.Err())
	}

	if err := st.FinishRun(ctx, runID, res.RetireCount, res.FinalCause); err != nil {
		return nil, runID, err
	}

	return res, runID, nil
}

// printCodecResult renders one codec execution in text mode.
func printCodecResult(formatter *OutputFormatter, res *harness.Result, runID string) {
	if formatter.Format == "json" {
		return
	}
	w := formatter.Writer

	status := "✓"
	if !res.Pass {
		status = "✗"
	}
	fmt.Fprintf(w, "%s codec %s (%d events)\n", status, res.Codec, len(res.Events))
	if runID != "" {
		fmt.Fprintf(w, "  run: %s\n", runID)
	}
	for _, msg := range res.Errors {
		fmt.Fprintf(w, "  %s\n", msg)
	}
	if formatter.Verbose {
		for _, ev := range res.Events {
			printEventLine(w, ev)
		}
	}
	fmt.Fprintln(w)
}

// printEventLine renders one retired event for human eyes.
func printEventLine(w io.Writer, ev trace.Event) {
	switch {
	case ev.Fault != nil:
		fmt.Fprintf(w, "  [%d] %s pc=%#x fault %s\n", ev.Seq, ev.Op, ev.PC, ev.Fault.Error())
	case ev.Target != "":
		fmt.Fprintf(w, "  [%d] %s pc=%#x -> %s\n", ev.Seq, ev.Op, ev.PC, ev.Target)
	default:
		fmt.Fprintf(w, "  [%d] %s pc=%#x\n", ev.Seq, ev.Op, ev.PC)
	}
}

// outputRunReport emits the final report and the exit status.
func outputRunReport(formatter *OutputFormatter, report *RunReport) error {
	if formatter.Format == "json" {
		response := CLIResponse{Status: "ok", Data: report}
		if report.Failed > 0 {
			response.Status = "error"
			response.Error = &CLIError{
				Code:    ErrCodeGeneric,
				Message: fmt.Sprintf("%d codec run(s) failed", report.Failed),
			}
		}
		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		if report.Failed > 0 {
			return NewExitError(ExitFailure, fmt.Sprintf("%d codec run(s) failed", report.Failed))
		}
		return nil
	}

	fmt.Fprintf(formatter.Writer, "Run summary: %d passed, %d failed\n", report.Passed, report.Failed)
	if report.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d codec run(s) failed", report.Failed))
	}
	return nil
}
