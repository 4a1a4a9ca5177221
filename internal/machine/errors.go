package machine

import (
	"errors"
	"fmt"
)

// RuntimeError represents a non-architectural failure: the dispatch or
// configuration surface was misused, as opposed to a capability check
// failing. Architectural failures are fault.Exception values; a
// RuntimeError never retires an operation.
//
// Runtime errors include:
//   - Unknown operation: the mnemonic is not in the dispatch table
//   - Bad operand: an operand is malformed (e.g. scalar size not 1/2/4/8)
//   - Unknown register: a name or index resolves to no register
//   - Bad policy: a policy string has no parse
//
// RuntimeError includes structured fields for diagnostics.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Op identifies the mnemonic being dispatched, when known.
	Op string

	// Details contains additional context.
	Details map[string]string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeUnknownOp indicates the mnemonic is not dispatchable.
	ErrCodeUnknownOp RuntimeErrorCode = "UNKNOWN_OP"

	// ErrCodeBadOperand indicates a malformed operand value.
	ErrCodeBadOperand RuntimeErrorCode = "BAD_OPERAND"

	// ErrCodeUnknownRegister indicates a register name or index with no slot.
	ErrCodeUnknownRegister RuntimeErrorCode = "UNKNOWN_REGISTER"

	// ErrCodeBadPolicy indicates an unparseable policy string.
	ErrCodeBadPolicy RuntimeErrorCode = "BAD_POLICY"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s (op=%s)", e.Code, e.Message, e.Op)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsUnknownOp returns true if the error is an unknown-operation error.
// Uses errors.As to handle wrapped errors.
func IsUnknownOp(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeUnknownOp
	}
	return false
}

// AsRuntimeError extracts a RuntimeError from an error chain, or nil.
func AsRuntimeError(err error) *RuntimeError {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re
	}
	return nil
}

// NewUnknownOpError creates a RuntimeError for an undispatchable mnemonic.
func NewUnknownOpError(op string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeUnknownOp,
		Message: fmt.Sprintf("unknown operation %q", op),
	}
}

// NewOperandError creates a RuntimeError for a malformed operand.
func NewOperandError(message string, details map[string]string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeBadOperand,
		Message: message,
		Details: details,
	}
}

// NewRegisterError creates a RuntimeError for a register lookup failure.
func NewRegisterError(message string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeUnknownRegister,
		Message: message,
	}
}
