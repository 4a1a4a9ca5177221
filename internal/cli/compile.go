package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompilationResult holds the compiled definition summary: the canonical
// JSON form and the identity that pins runs and snapshots to it.
type CompilationResult struct {
	Name      string          `json:"name"`
	Codec     string          `json:"codec"`
	Mode      string          `json:"mode"`
	Unaligned string          `json:"unaligned"`
	TypeCheck string          `json:"type_check"`
	Identity  string          `json:"identity"`
	Canonical json.RawMessage `json:"canonical"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <def.cue>",
		Short: "Compile a machine definition to canonical JSON",
		Long: `Compile a CUE machine definition to its canonical JSON form.

The compiler validates the document, fills defaults, and prints the
canonical JSON together with the definition identity: the SHA-256 of
the canonical form under a domain prefix. Trace runs and snapshots
carry the identity, so recorded artifacts can only be replayed into
the configuration that produced them.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path for the canonical JSON")

	return cmd
}

func runCompile(opts *CompileOptions, defPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	formatter.VerboseLog("Compiling definition: %s", defPath)

	def, loadErr := LoadDefinition(defPath)
	if loadErr != nil {
		return outputLoadError(formatter, loadErr)
	}

	canonical, err := def.MarshalCanonical()
	if err != nil {
		return outputCommandError(formatter, ErrCodeGeneric, fmt.Sprintf("canonical form: %v", err))
	}
	identity, err := def.Identity()
	if err != nil {
		return outputCommandError(formatter, ErrCodeGeneric, fmt.Sprintf("identity: %v", err))
	}

	result := &CompilationResult{
		Name:      def.Name,
		Codec:     def.Codec,
		Mode:      def.Mode,
		Unaligned: def.Policy.Unaligned,
		TypeCheck: def.Policy.TypeCheck,
		Identity:  identity,
		Canonical: canonical,
	}

	// Write to file if --output specified
	if opts.Output != "" {
		if err := os.WriteFile(opts.Output, canonical, 0644); err != nil {
			return outputCommandError(formatter, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err))
		}
	}

	return outputCompileSuccess(formatter, result, opts.Output)
}

// outputCompileSuccess outputs the compiled definition.
func outputCompileSuccess(formatter *OutputFormatter, result *CompilationResult, outputFile string) error {
	if formatter.Format == "json" {
		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(CLIResponse{Status: "ok", Data: result})
	}

	// Human-readable text output
	fmt.Fprintf(formatter.Writer, "✓ Compiled %s\n\n", result.Name)
	fmt.Fprintf(formatter.Writer, "  codec      %s\n", result.Codec)
	fmt.Fprintf(formatter.Writer, "  mode       %s\n", result.Mode)
	fmt.Fprintf(formatter.Writer, "  unaligned  %s\n", result.Unaligned)
	fmt.Fprintf(formatter.Writer, "  typecheck  %s\n", result.TypeCheck)
	fmt.Fprintf(formatter.Writer, "  identity   %s\n\n", result.Identity)
	fmt.Fprintf(formatter.Writer, "%s\n", result.Canonical)

	if outputFile != "" {
		fmt.Fprintf(formatter.Writer, "\nWrote canonical JSON to %s\n", outputFile)
	}

	return nil
}

// outputLoadError reports a load failure with the exit code the failure
// class calls for: missing paths are command errors, documents that load
// but do not validate are validation failures.
func outputLoadError(formatter *OutputFormatter, loadErr *LoadError) error {
	_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
	code := ExitFailure
	if loadErr.Code == ErrCodeNotFound {
		code = ExitCommandError
	}
	return NewExitError(code, fmt.Sprintf("%s: %s", loadErr.Code, loadErr.Message))
}

// outputCommandError reports a command-level failure (exit code 2).
func outputCommandError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}
