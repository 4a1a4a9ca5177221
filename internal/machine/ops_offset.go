package machine

import (
	"github.com/roach88/warden/internal/capability"
	"github.com/roach88/warden/internal/fault"
)

// moveOffset writes c with the new offset to cd, through the
// representability engine. An unrepresentable move does not fault: it
// retires normally, writing the untagged marker at the target address, and
// is counted (only tagged sources feed the counter; untagged images with
// undecodable bounds are marked the same way but not counted). statOp
// names the stat aggregate: CSetAddr and CAndAddr fold into cincoffset.
func (m *Machine) moveOffset(statOp string, cd int, c capability.Capability, newOffset uint64) {
	result := c
	if m.codec.Representable(&c, newOffset) {
		result.Offset = newOffset
	} else {
		if c.Tag {
			m.log.Debug("unrepresentable offset",
				"op", statOp, "base", c.Base, "offset", newOffset)
			if m.stats != nil {
				m.stats.Unrepresentable(statOp)
			}
		}
		result = capability.MarkUnrepresentable(c.Base + newOffset)
	}
	if m.stats != nil {
		m.stats.TrackArithmetic(statOp, &result)
	}
	m.writeGPR(cd, result)
}

// incOffset is the shared CIncOffset path: a sealed tagged source faults
// only when the delta is nonzero.
func (m *Machine) incOffset(cd, cb int, delta uint64) {
	c := m.regs.reg(cb)
	if c.Tag && c.IsSealed() && delta != 0 {
		m.capFault(fault.CauseSeal, cb)
	}
	m.moveOffset("cincoffset", cd, c, c.Offset+delta)
}

// CIncOffset advances cb's offset by rt.
func (m *Machine) CIncOffset(cd, cb int, rt uint64) error {
	return m.retire("cincoffset", func() {
		m.incOffset(cd, cb, rt)
	})
}

// CSetOffset replaces cb's offset with rt. A sealed tagged source faults
// for any rt.
func (m *Machine) CSetOffset(cd, cb int, rt uint64) error {
	return m.retire("csetoffset", func() {
		c := m.regs.reg(cb)
		if c.Tag && c.IsSealed() {
			m.capFault(fault.CauseSeal, cb)
		}
		m.moveOffset("csetoffset", cd, c, rt)
	})
}

// CSetAddr moves cb's cursor to rt: CIncOffset by (rt - cursor).
func (m *Machine) CSetAddr(cd, cb int, rt uint64) error {
	return m.retire("csetaddr", func() {
		c := m.regs.reg(cb)
		m.incOffset(cd, cb, rt-c.Cursor())
	})
}

// CAndAddr masks cb's cursor with rt: CIncOffset by the cursor delta the
// mask produces.
func (m *Machine) CAndAddr(cd, cb int, rt uint64) error {
	return m.retire("candaddr", func() {
		c := m.regs.reg(cb)
		cursor := c.Cursor()
		m.incOffset(cd, cb, (cursor&rt)-cursor)
	})
}

// CFromPtr converts an integer pointer rt relative to the authorizing cb
// (index 0 reads DDC) into a capability: rt 0 becomes the canonical null
// with no checks, anything else derives cb at offset rt.
func (m *Machine) CFromPtr(cd, cb int, rt uint64) error {
	return m.retire("cfromptr", func() {
		if rt == 0 {
			m.writeGPR(cd, capability.Null())
			return
		}
		c := m.regs.regDDC(cb)
		if !c.Tag {
			m.capFault(fault.CauseTag, cb)
		}
		if c.IsSealed() {
			m.capFault(fault.CauseSeal, cb)
		}
		m.moveOffset("cfromptr", cd, c, rt)
	})
}

// CMovz writes cs to cd when rs is zero. A plain conditional register
// move; no capability checks.
func (m *Machine) CMovz(cd, cs int, rs uint64) error {
	return m.retire("cmovz", func() {
		if rs == 0 {
			m.writeGPR(cd, m.regs.reg(cs))
		}
	})
}

// CMovn writes cs to cd when rs is nonzero.
func (m *Machine) CMovn(cd, cs int, rs uint64) error {
	return m.retire("cmovn", func() {
		if rs != 0 {
			m.writeGPR(cd, m.regs.reg(cs))
		}
	})
}
