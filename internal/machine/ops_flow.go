package machine

import (
	"github.com/roach88/warden/internal/capability"
	"github.com/roach88/warden/internal/fault"
)

// CBTU reports branch-taken when cb is untagged. Branches never fault.
func (m *Machine) CBTU(cb int) (bool, error) {
	var taken bool
	err := m.retire("cbtu", func() {
		c := m.regs.reg(cb)
		taken = !c.Tag
	})
	return taken, err
}

// CBTS reports branch-taken when cb is tagged.
func (m *Machine) CBTS(cb int) (bool, error) {
	var taken bool
	err := m.retire("cbts", func() {
		c := m.regs.reg(cb)
		taken = c.Tag
	})
	return taken, err
}

// CBEZ reports branch-taken when cb is the canonical null: untagged, base
// zero, offset zero. Bounds and permissions are deliberately not part of
// the test.
func (m *Machine) CBEZ(cb int) (bool, error) {
	var taken bool
	err := m.retire("cbez", func() {
		c := m.regs.reg(cb)
		taken = c.IsNull()
	})
	return taken, err
}

// CBNZ is the negation of CBEZ.
func (m *Machine) CBNZ(cb int) (bool, error) {
	var taken bool
	err := m.retire("cbnz", func() {
		c := m.regs.reg(cb)
		taken = !c.IsNull()
	})
	return taken, err
}

// jumpTarget runs the capability-jump ladder on cb and returns the branch
// target, unsealed when cb is a sentry. Direct jumps may unseal a sentry;
// any other sealed capability faults.
func (m *Machine) jumpTarget(cb int) capability.Capability {
	c := m.regs.reg(cb)
	if !c.Tag {
		m.capFault(fault.CauseTag, cb)
	}
	if c.IsSealed() && !c.IsSentry() {
		m.capFault(fault.CauseSeal, cb)
	}
	if !c.Perms.Has(capability.PermExecute) {
		m.capFault(fault.CausePermExecute, cb)
	}
	if !c.Perms.Has(capability.PermGlobal) {
		m.capFault(fault.CauseGlobal, cb)
	}
	cursor := c.Cursor()
	if !c.InBounds(cursor, 4) {
		m.capFault(fault.CauseLength, cb)
	}
	if cursor&3 != 0 {
		loadFault(cursor)
	}
	if c.IsSentry() {
		c = c.UnsealedCopy()
	}
	return c
}

// CJR jumps to cb: the target is staged for the landing checks and its
// cursor returned as the next pc.
func (m *Machine) CJR(cb int) (uint64, error) {
	var target uint64
	err := m.retire("cjr", func() {
		c := m.jumpTarget(cb)
		m.stageBranch(c)
		target = c.Cursor()
	})
	return target, err
}

// CJALR jumps to cb and links: cd receives the executing context advanced
// past the branch (offset + 8). Jumping through a sentry unseals the
// target and seals the link as a sentry, so the callee can only return
// through it.
func (m *Machine) CJALR(cd, cb int) (uint64, error) {
	var target uint64
	err := m.retire("cjalr", func() {
		c := m.regs.reg(cb)
		sentry := c.Tag && c.IsSentry()
		t := m.jumpTarget(cb)
		m.stageBranch(t)
		link := m.regs.pcc
		link.Offset += 8
		if sentry {
			link = link.SentryCopy()
		}
		m.writeGPR(cd, link)
		target = t.Cursor()
	})
	return target, err
}

// CCall invokes the sealed pair (cs code, ct data). Selector 0 is the
// software path: the common ladder then the Call trap. Selector 1 is the
// fast path: both operands need the CCall permission; the unsealed data
// capability lands in IDC and the unsealed code capability is staged as
// the branch target.
func (m *Machine) CCall(cs, ct int, selector uint32) (uint64, error) {
	var target uint64
	err := m.retire("ccall", func() {
		s := m.regs.reg(cs)
		t := m.regs.reg(ct)
		if !s.Tag {
			m.capFault(fault.CauseTag, cs)
		}
		if !t.Tag {
			m.capFault(fault.CauseTag, ct)
		}
		if !s.IsSealedWithType() {
			m.capFault(fault.CauseSeal, cs)
		}
		if !t.IsSealedWithType() {
			m.capFault(fault.CauseSeal, ct)
		}
		if s.OType != t.OType || s.OType > capability.MaxSealedOType {
			m.capFault(fault.CauseType, cs)
		}
		if !s.Perms.Has(capability.PermExecute) {
			m.capFault(fault.CausePermExecute, cs)
		}
		if t.Perms.Has(capability.PermExecute) {
			m.capFault(fault.CausePermExecute, ct)
		}
		if !s.InBounds(s.Cursor(), 1) {
			m.capFault(fault.CauseLength, cs)
		}
		switch selector {
		case 0:
			m.capFault(fault.CauseCallTrap, cs)
		case 1:
			if !s.Perms.Has(capability.PermCCall) {
				m.capFault(fault.CausePermCCall, cs)
			}
			if !t.Perms.Has(capability.PermCCall) {
				m.capFault(fault.CausePermCCall, ct)
			}
			m.stageBranch(s.UnsealedCopy())
			m.writeGPR(IDC, t.UnsealedCopy())
			target = s.Cursor()
		default:
			riFault("ccall")
		}
	})
	return target, err
}

// CReturn raises the Return trap; the domain switch back is a software
// concern.
func (m *Machine) CReturn() error {
	return m.retire("creturn", func() {
		m.capFault(fault.CauseReturnTrap, fault.NoReg)
	})
}
