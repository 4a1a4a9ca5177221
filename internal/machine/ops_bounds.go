package machine

import (
	"github.com/roach88/warden/internal/capability"
	"github.com/roach88/warden/internal/fault"
)

// setBounds narrows cb to [cursor, cursor+length). The codec may round the
// region outward; needExact turns rounding into an Inexact fault. A
// capability reaching exactly to the top of the address space is the
// widest allowed; requests past 1<<64 fault Length.
func (m *Machine) setBounds(op string, cd, cb int, length uint64, needExact bool) {
	c := m.regs.reg(cb)
	if !c.Tag {
		m.capFault(fault.CauseTag, cb)
	}
	if c.IsSealed() {
		m.capFault(fault.CauseSeal, cb)
	}
	cursor := c.Cursor()
	if cursor < c.Base {
		m.capFault(fault.CauseLength, cb)
	}
	newTop := capability.T65(cursor).AddU64(length)
	if newTop.Cmp(capability.MaxTop()) > 0 {
		m.capFault(fault.CauseLength, cb)
	}
	if newTop.Cmp(c.Top) > 0 {
		m.capFault(fault.CauseLength, cb)
	}
	derived, exact := m.codec.SetBounds(&c, newTop)
	if !exact {
		m.log.Debug("widened requested bounds",
			"op", op, "base", cursor, "length", length,
			"rounded_base", derived.Base, "rounded_length", derived.LengthSat())
		if m.stats != nil {
			m.stats.ImpreciseSetBounds()
		}
		if needExact {
			m.capFault(fault.CauseInexact, cb)
		}
	}
	m.writeGPR(cd, derived)
}

// CSetBounds narrows cb to length bytes at its cursor, rounding outward
// when the codec cannot represent the region exactly.
func (m *Machine) CSetBounds(cd, cb int, rt uint64) error {
	return m.retire("csetbounds", func() {
		m.setBounds("csetbounds", cd, cb, rt, false)
	})
}

// CSetBoundsExact is CSetBounds that faults Inexact instead of rounding.
func (m *Machine) CSetBoundsExact(cd, cb int, rt uint64) error {
	return m.retire("csetboundsexact", func() {
		m.setBounds("csetboundsexact", cd, cb, rt, true)
	})
}

// CSetBoundsImm is CSetBounds with an immediate length.
func (m *Machine) CSetBoundsImm(cd, cb int, imm uint64) error {
	return m.retire("csetboundsimm", func() {
		m.setBounds("csetboundsimm", cd, cb, imm, false)
	})
}

// CIncBase was removed from the architecture; it raises the
// reserved-instruction exception, not a capability cause.
func (m *Machine) CIncBase(cd, cb int, rt uint64) error {
	return m.retire("cincbase", func() {
		riFault("cincbase")
	})
}

// CSetLen was removed from the architecture alongside CIncBase.
func (m *Machine) CSetLen(cd, cb int, rt uint64) error {
	return m.retire("csetlen", func() {
		riFault("csetlen")
	})
}
