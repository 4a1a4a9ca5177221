package machine

import (
	"fmt"

	"github.com/roach88/warden/internal/capability"
	"github.com/roach88/warden/internal/fault"
)

// TypeCheckPolicy selects the behavior of the executing-context type check,
// step 5 of the fault ladder.
type TypeCheckPolicy int

const (
	// TypeCheckOff never runs the type check.
	TypeCheckOff TypeCheckPolicy = iota
	// TypeCheckLog logs mismatches and continues.
	TypeCheckLog
	// TypeCheckTrap raises a Type fault on mismatch.
	TypeCheckTrap
)

// String returns the machine-definition spelling of the policy.
func (p TypeCheckPolicy) String() string {
	switch p {
	case TypeCheckOff:
		return "off"
	case TypeCheckLog:
		return "log"
	case TypeCheckTrap:
		return "trap"
	default:
		return fmt.Sprintf("TypeCheckPolicy(%d)", int(p))
	}
}

// ParseTypeCheckPolicy resolves a machine-definition policy name.
func ParseTypeCheckPolicy(s string) (TypeCheckPolicy, error) {
	switch s {
	case "off":
		return TypeCheckOff, nil
	case "log":
		return TypeCheckLog, nil
	case "trap":
		return TypeCheckTrap, nil
	default:
		return TypeCheckOff, &RuntimeError{
			Code:    ErrCodeBadPolicy,
			Message: fmt.Sprintf("unknown type-check policy %q (valid: off, log, trap)", s),
		}
	}
}

// checkCap is the legality checker. The order is architectural and
// observable: TAG, then SEAL, then the specific permission, then the 65-bit
// bounds check, then the optional executing-context type check. On fault it
// delivers the exception with reg and addr attached; it performs no other
// writes.
func (m *Machine) checkCap(c *capability.Capability, perm capability.Perms, addr uint64, reg int, length uint32) {
	switch {
	case !c.Tag:
		m.capFaultAddr(fault.CauseTag, reg, addr)
	case c.IsSealed():
		m.capFaultAddr(fault.CauseSeal, reg, addr)
	case !c.Perms.Has(perm):
		m.capFaultAddr(permCause(perm), reg, addr)
	case !c.InBounds(addr, length):
		m.capFaultAddr(fault.CauseLength, reg, addr)
	default:
		m.checkContextType(c, reg, addr)
	}
}

// permCause maps a required permission to its violation cause.
func permCause(perm capability.Perms) fault.Cause {
	switch perm {
	case capability.PermExecute:
		return fault.CausePermExecute
	case capability.PermLoad:
		return fault.CausePermLoad
	case capability.PermStore:
		return fault.CausePermStore
	case capability.PermLoadCap:
		return fault.CausePermLoadCap
	case capability.PermStoreCap:
		return fault.CausePermStoreCap
	case capability.PermStoreLocalCap:
		return fault.CausePermStoreLocalCap
	case capability.PermSeal:
		return fault.CausePermSeal
	case capability.PermCCall:
		return fault.CausePermCCall
	case capability.PermAccessSysRegs:
		return fault.CauseAccessSysRegs
	default:
		return fault.CauseNone
	}
}

// checkContextType compares the operand's object type against the
// executing context's under the configured policy. Register 0 (DDC) is
// exempt under every policy.
func (m *Machine) checkContextType(c *capability.Capability, reg int, addr uint64) {
	if m.typePolicy == TypeCheckOff || reg == 0 {
		return
	}
	if m.regs.pcc.OType == c.OType {
		return
	}
	if m.typePolicy == TypeCheckLog {
		m.log.Warn("object type differs from executing context",
			"reg", reg,
			"otype", c.OType.Extended(),
			"pcc_otype", m.regs.pcc.OType.Extended())
		return
	}
	m.capFaultAddr(fault.CauseType, reg, addr)
}

// checkLoadAlign faults AdEL on a misaligned scalar load unless the
// machine permits unaligned access.
func (m *Machine) checkLoadAlign(addr uint64, size uint32) {
	if addr&uint64(size-1) == 0 {
		return
	}
	if m.allowUnaligned {
		m.log.Debug("allowing unaligned load", "size", size, "addr", addr)
		return
	}
	loadFault(addr)
}

// checkStoreAlign is the AdES counterpart for scalar stores.
func (m *Machine) checkStoreAlign(addr uint64, size uint32) {
	if addr&uint64(size-1) == 0 {
		return
	}
	if m.allowUnaligned {
		m.log.Debug("allowing unaligned store", "size", size, "addr", addr)
		return
	}
	storeFault(addr)
}

// checkSysRegsAccess faults when the executing context lacks the
// system-register permission.
func (m *Machine) checkSysRegsAccess() {
	if !m.regs.pcc.Perms.Has(capability.PermAccessSysRegs) {
		m.capFault(fault.CauseAccessSysRegs, fault.NoReg)
	}
}

// capFault raises a capability fault owned by reg. Never returns.
func (m *Machine) capFault(cause fault.Cause, reg int) {
	fault.Raise(fault.NewCapability(cause, reg))
}

// capFaultAddr raises a capability fault carrying the faulting address.
func (m *Machine) capFaultAddr(cause fault.Cause, reg int, addr uint64) {
	fault.Raise(fault.NewCapabilityAddr(cause, reg, addr))
}

func loadFault(addr uint64) {
	fault.Raise(fault.NewAddressLoad(addr))
}

func storeFault(addr uint64) {
	fault.Raise(fault.NewAddressStore(addr))
}

func riFault(op string) {
	fault.Raise(fault.NewReservedInstruction(op))
}
