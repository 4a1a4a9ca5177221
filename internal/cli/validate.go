package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

// ValidationIssue is one validation finding with its source location
// when the document format records one.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Kind   string            `json:"kind"` // "definition" or "scenario"
	Issues []ValidationIssue `json:"issues,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <scenario.yaml|def.cue>",
		Short: "Validate a scenario or machine definition",
		Long: `Validate a document without running anything.

CUE files compile as machine definitions; YAML files load as scenarios,
including operand and expectation checking against the dispatch table.

Exit codes:
  0 - Document valid
  1 - Validation failed
  2 - Command error (file not found, unrecognized extension)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	var kind string
	var loadErr *LoadError

	switch filepath.Ext(path) {
	case ".cue":
		kind = "definition"
		formatter.VerboseLog("Validating definition: %s", path)
		_, loadErr = LoadDefinition(path)
	case ".yaml", ".yml":
		kind = "scenario"
		formatter.VerboseLog("Validating scenario: %s", path)
		_, loadErr = LoadScenario(path)
	default:
		return outputCommandError(formatter, ErrCodeGeneric,
			fmt.Sprintf("unrecognized extension %q (expected .cue, .yaml or .yml)", filepath.Ext(path)))
	}

	if loadErr != nil {
		if loadErr.Code == ErrCodeNotFound {
			return outputCommandError(formatter, loadErr.Code, loadErr.Message)
		}
		return outputValidationErrors(formatter, kind, []ValidationIssue{issueFromLoadError(loadErr)})
	}

	return outputValidateSuccess(formatter, kind, path)
}

// issueFromLoadError lifts a load error's position into a finding.
func issueFromLoadError(loadErr *LoadError) ValidationIssue {
	issue := ValidationIssue{
		Code:    loadErr.Code,
		Message: loadErr.Message,
	}
	if loadErr.Pos.IsValid() {
		issue.File = loadErr.Pos.Filename()
		issue.Line = loadErr.Pos.Line()
	}
	return issue
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, kind, path string) error {
	if formatter.Format == "json" {
		result := ValidationResult{Valid: true, Kind: kind}
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ %s valid (%s)\n", filepath.Base(path), kind)
	return nil
}

// outputValidationErrors outputs validation findings.
func outputValidationErrors(formatter *OutputFormatter, kind string, issues []ValidationIssue) error {
	if formatter.Format == "json" {
		result := ValidationResult{
			Valid:  false,
			Kind:   kind,
			Issues: issues,
		}

		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    issues[0].Code,
				Message: issues[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Validation failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
	}

	// Text format
	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, issue := range issues {
		if issue.File != "" {
			fmt.Fprintf(formatter.Writer, "%s:%d\n", issue.File, issue.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", issue.Code, issue.Message)
	}

	// Validation failures = exit code 1
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
}
