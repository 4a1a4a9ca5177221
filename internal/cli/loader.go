package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue/token"

	"github.com/roach88/warden/internal/harness"
	"github.com/roach88/warden/internal/machdef"
)

// LoadError represents an error that occurred while loading a definition
// or scenario document.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadDefinition compiles a CUE machine definition from a file, mapping
// compile errors onto the CLI error codes.
func LoadDefinition(path string) (*machdef.Definition, *LoadError) {
	if err := statFile(path); err != nil {
		return nil, err
	}
	def, err := machdef.CompileFile(path)
	if err != nil {
		return nil, convertCompileError(err)
	}
	return def, nil
}

// LoadScenario loads a YAML scenario from a file, mapping validation
// errors onto the CLI error codes.
func LoadScenario(path string) (*harness.Scenario, *LoadError) {
	if err := statFile(path); err != nil {
		return nil, err
	}
	sc, err := harness.LoadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScenarioInvalid, Message: err.Error()}
	}
	return sc, nil
}

// statFile verifies the path names a regular file.
func statFile(path string) *LoadError {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("file not found: %s", path)}
	}
	if err != nil {
		return &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing %s: %v", path, err)}
	}
	if info.IsDir() {
		return &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a file: %s", path)}
	}
	return nil
}

// FindScenarioFiles walks the directory and returns all YAML scenario
// paths, optionally filtered by a glob pattern over the base name.
func FindScenarioFiles(dir string, filter string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		if filter != "" {
			base := filepath.Base(path)
			name := strings.TrimSuffix(base, ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})

	return files, err
}

// convertCompileError converts a definition compile error to a LoadError
// with position info.
func convertCompileError(err error) *LoadError {
	var compileErr *machdef.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: compileErr.Message,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeCompileFailed,
		Message: err.Error(),
	}
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric         = "E001" // Generic/unknown error
	ErrCodeScanError       = "E002" // Directory scan error
	ErrCodeNoScenarios     = "E003" // No scenario files found
	ErrCodeCompileFailed   = "E004" // Definition compile failed
	ErrCodeNotFound        = "E005" // Path not found
	ErrCodeScenarioInvalid = "E006" // Scenario document invalid
	ErrCodeWriteFailed     = "E007" // File write error
	ErrCodeStore           = "E008" // Trace database error
	ErrCodeDecode          = "E009" // Capability image decode error
	ErrCodeSnapshot        = "E010" // Machine image save/restore error

	// Definition field errors
	ErrCodeDefName      = "E101" // Bad definition name
	ErrCodeDefCodec     = "E102" // Unknown codec
	ErrCodeDefMode      = "E103" // Unknown mode
	ErrCodeDefPolicy    = "E104" // Bad policy field
	ErrCodeDefMemory    = "E105" // Bad memory geometry
	ErrCodeDefRegisters = "E106" // Bad register override
)

// MapFieldToErrorCode maps a definition compile error field to an error
// code. Fields are dotted paths ("policy.unaligned", "registers.gpr.5").
func MapFieldToErrorCode(field string) string {
	switch {
	case field == "name":
		return ErrCodeDefName
	case field == "codec":
		return ErrCodeDefCodec
	case field == "mode":
		return ErrCodeDefMode
	case field == "policy" || strings.HasPrefix(field, "policy."):
		return ErrCodeDefPolicy
	case field == "memory" || strings.HasPrefix(field, "memory."):
		return ErrCodeDefMemory
	case field == "registers" || strings.HasPrefix(field, "registers."):
		return ErrCodeDefRegisters
	default:
		return ErrCodeCompileFailed
	}
}
