package fault

import (
	"errors"
	"fmt"
)

// Class is the architectural exception vector an Exception belongs to.
type Class string

const (
	// ClassCapability is the capability coprocessor exception (C2E):
	// every failed tag, seal, permission, bounds or type check.
	ClassCapability Class = "C2E"

	// ClassAddressLoad is the address error on a load or instruction
	// fetch (AdEL): misaligned or otherwise unusable address.
	ClassAddressLoad Class = "AdEL"

	// ClassAddressStore is the address error on a store (AdES).
	ClassAddressStore Class = "AdES"

	// ClassReservedInstruction covers removed legacy operations and
	// unknown opcodes (RI).
	ClassReservedInstruction Class = "RI"
)

// Exception is the typed error every faulting operation resolves to.
//
// For capability faults, Cause and Reg mirror what the machine writes to
// the cause register. Address-class exceptions carry the bad address and
// CauseNone. Op is the operation that raised, for diagnostics.
type Exception struct {
	Class Class
	Cause Cause

	// Reg is the faulting register number, or NoReg.
	Reg int

	// BadVAddr is the faulting address when HasVAddr is set. Capability
	// faults raised by memory operations carry it too.
	BadVAddr uint64
	HasVAddr bool

	// Op names the raising operation.
	Op string
}

// Error implements the error interface.
func (e *Exception) Error() string {
	switch e.Class {
	case ClassCapability:
		if e.Reg == NoReg {
			return fmt.Sprintf("%s: %s (pcc)", e.Class, e.Cause)
		}
		return fmt.Sprintf("%s: %s (reg=%d)", e.Class, e.Cause, e.Reg)
	case ClassAddressLoad, ClassAddressStore:
		return fmt.Sprintf("%s: address error at 0x%016x", e.Class, e.BadVAddr)
	default:
		return fmt.Sprintf("%s: %s", e.Class, e.Op)
	}
}

// CauseRegister returns the 16-bit cause register value this exception
// writes.
func (e *Exception) CauseRegister() uint16 {
	return Register(e.Cause, e.Reg)
}

// NewCapability builds a capability fault for the given cause and
// register.
func NewCapability(c Cause, reg int) *Exception {
	return &Exception{Class: ClassCapability, Cause: c, Reg: reg}
}

// NewCapabilityAddr builds a capability fault raised by a memory
// operation, carrying the faulting address.
func NewCapabilityAddr(c Cause, reg int, vaddr uint64) *Exception {
	return &Exception{Class: ClassCapability, Cause: c, Reg: reg, BadVAddr: vaddr, HasVAddr: true}
}

// NewAddressLoad builds an AdEL address error.
func NewAddressLoad(vaddr uint64) *Exception {
	return &Exception{Class: ClassAddressLoad, Reg: NoReg, BadVAddr: vaddr, HasVAddr: true}
}

// NewAddressStore builds an AdES address error.
func NewAddressStore(vaddr uint64) *Exception {
	return &Exception{Class: ClassAddressStore, Reg: NoReg, BadVAddr: vaddr, HasVAddr: true}
}

// NewReservedInstruction builds the fault raised by removed legacy
// operations.
func NewReservedInstruction(op string) *Exception {
	return &Exception{Class: ClassReservedInstruction, Reg: NoReg, Op: op}
}

// IsCapabilityFault reports whether err is (or wraps) a capability
// fault. Uses errors.As to handle wrapped errors.
func IsCapabilityFault(err error) bool {
	var e *Exception
	return errors.As(err, &e) && e.Class == ClassCapability
}

// CauseOf extracts the cause code from err, or CauseNone if err is not a
// capability fault.
func CauseOf(err error) Cause {
	var e *Exception
	if errors.As(err, &e) && e.Class == ClassCapability {
		return e.Cause
	}
	return CauseNone
}

// trap is the panic payload for non-local fault delivery. Keeping it
// unexported means a recover cannot confuse an operation fault with an
// unrelated panic.
type trap struct {
	e *Exception
}

// Raise delivers e to the operation boundary. It never returns.
func Raise(e *Exception) {
	panic(trap{e: e})
}

// FromPanic converts a recovered panic value back into the exception it
// carries. Unrelated panics return false and must be re-raised by the
// caller.
func FromPanic(r any) (*Exception, bool) {
	t, ok := r.(trap)
	if !ok {
		return nil, false
	}
	return t.e, true
}
