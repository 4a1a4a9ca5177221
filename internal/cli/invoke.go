package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/warden/internal/capability"
	"github.com/roach88/warden/internal/fault"
	"github.com/roach88/warden/internal/machine"
	"github.com/roach88/warden/internal/trace"
)

// InvokeOptions holds flags for the invoke command.
type InvokeOptions struct {
	*RootOptions
	Codec string // override the definition's codec
}

// InvokeReport holds the outcome of a one-shot dispatch.
type InvokeReport struct {
	Op       string `json:"op"`
	Value    string `json:"value,omitempty"`
	HasValue bool   `json:"has_value"`
	Target   string `json:"target,omitempty"`
	Old      string `json:"old,omitempty"`
	New      string `json:"new,omitempty"`
	Fault    string `json:"fault,omitempty"`
}

// NewInvokeCommand creates the invoke command.
func NewInvokeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InvokeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invoke <def.cue> <op> [key=value...]",
		Short: "Dispatch one operation on a fresh machine",
		Long: `Build a machine from the definition and dispatch a single operation.

Operands are key=value pairs with the same keys scenario steps use
(cd, cb, cs, ct, rt, rs, imm, size, sel, value, addr, offset, hwr,
mask, signed). Numbers accept 0x prefixes.

An architectural fault prints the decoded cause and exits 2. Unknown
mnemonics and malformed operands exit 1.

Examples:
  warden invoke machine.cue cgetlen cd=1 cb=2
  warden invoke machine.cue csetbounds cd=1 cb=1 rt=0x1000
  warden invoke machine.cue cload cb=4 size=8 --format json`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInvoke(opts, args[0], args[1], args[2:], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Codec, "codec", "", "override the definition's codec (concentrate|magic|wide)")

	return cmd
}

func runInvoke(opts *InvokeOptions, defPath, op string, operands []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	margs, err := parseOperands(operands)
	if err != nil {
		return err
	}

	def, loadErr := LoadDefinition(defPath)
	if loadErr != nil {
		return outputLoadError(formatter, loadErr)
	}

	var last *trace.Event
	collect := trace.ObserverFunc(func(ev trace.Event) {
		last = &ev
	})

	buildOpts := []machine.Option{machine.WithObserver(collect)}
	if opts.Codec != "" {
		cdc, err := capability.ByName(opts.Codec)
		if err != nil {
			return err
		}
		buildOpts = append(buildOpts, machine.WithCodec(cdc))
	}

	m, err := def.Build(buildOpts...)
	if err != nil {
		return fmt.Errorf("building machine: %w", err)
	}

	out, err := m.Invoke(op, margs)
	report := InvokeReport{Op: op}
	if last != nil {
		report.Target = last.Target
		if last.Target != "" {
			report.Old = last.Old.String()
			report.New = last.New.String()
		}
	}

	var exc *fault.Exception
	if errors.As(err, &exc) {
		report.Fault = exc.Error()
		return outputInvokeFault(formatter, report, exc)
	}
	if err != nil {
		// RuntimeError: nothing dispatched, nothing retired.
		return err
	}

	report.HasValue = out.HasValue
	if out.HasValue {
		report.Value = fmt.Sprintf("%#x", out.Value)
	}
	return outputInvokeSuccess(formatter, report)
}

// parseOperands turns key=value pairs into dispatch arguments.
func parseOperands(operands []string) (machine.Args, error) {
	var a machine.Args
	for _, operand := range operands {
		key, val, ok := strings.Cut(operand, "=")
		if !ok {
			return a, fmt.Errorf("malformed operand %q (want key=value)", operand)
		}

		var err error
		switch strings.ToLower(key) {
		case "cd":
			a.Cd, err = parseRegIndex(val)
		case "cb":
			a.Cb, err = parseRegIndex(val)
		case "cs":
			a.Cs, err = parseRegIndex(val)
		case "ct":
			a.Ct, err = parseRegIndex(val)
		case "hwr":
			a.Hwr, err = parseRegIndex(val)
		case "rt":
			a.Rt, err = strconv.ParseUint(val, 0, 64)
		case "rs":
			a.Rs, err = strconv.ParseUint(val, 0, 64)
		case "value":
			a.Value, err = strconv.ParseUint(val, 0, 64)
		case "addr":
			a.Addr, err = strconv.ParseUint(val, 0, 64)
		case "offset":
			a.Offset, err = strconv.ParseUint(val, 0, 64)
		case "imm":
			var n int64
			n, err = strconv.ParseInt(val, 0, 32)
			a.Imm = int32(n)
		case "size":
			var n uint64
			n, err = strconv.ParseUint(val, 0, 32)
			a.Size = uint32(n)
		case "sel":
			var n uint64
			n, err = strconv.ParseUint(val, 0, 32)
			a.Sel = uint32(n)
		case "mask":
			var n uint64
			n, err = strconv.ParseUint(val, 0, 32)
			a.Mask = uint32(n)
		case "signed":
			a.Signed, err = strconv.ParseBool(val)
		default:
			return a, fmt.Errorf("unknown operand key %q", key)
		}
		if err != nil {
			return a, fmt.Errorf("operand %s: %w", operand, err)
		}
	}
	return a, nil
}

func parseRegIndex(val string) (int, error) {
	n, err := strconv.ParseInt(val, 0, 32)
	return int(n), err
}

// outputInvokeSuccess renders a retired dispatch.
func outputInvokeSuccess(formatter *OutputFormatter, report InvokeReport) error {
	if formatter.Format == "json" {
		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(CLIResponse{Status: "ok", Data: report})
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ %s retired\n", report.Op)
	if report.HasValue {
		fmt.Fprintf(w, "  value   %s\n", report.Value)
	}
	if report.Target != "" {
		fmt.Fprintf(w, "  target  %s\n", report.Target)
		fmt.Fprintf(w, "  old     %s\n", report.Old)
		fmt.Fprintf(w, "  new     %s\n", report.New)
	}
	return nil
}

// outputInvokeFault renders a faulting dispatch. Faults surface as
// command failures with exit code 2.
func outputInvokeFault(formatter *OutputFormatter, report InvokeReport, exc *fault.Exception) error {
	if formatter.Format == "json" {
		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		response := CLIResponse{
			Status: "error",
			Data:   report,
			Error: &CLIError{
				Code:    ErrCodeGeneric,
				Message: exc.Error(),
			},
		}
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return NewExitError(ExitCommandError, exc.Error())
	}

	fmt.Fprintf(formatter.Writer, "✗ %s faulted\n", report.Op)
	fmt.Fprintf(formatter.Writer, "  %s\n", exc.Error())
	return NewExitError(ExitCommandError, exc.Error())
}
