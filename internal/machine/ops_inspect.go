package machine

import (
	"github.com/roach88/warden/internal/capability"
	"github.com/roach88/warden/internal/fault"
)

// The inspection operations read capability fields into integer values.
// None of them requires authority and none can fault, with the single
// exception of CToPtr's tag check on its authorizing operand.

// CGetBase returns cb's base.
func (m *Machine) CGetBase(cb int) (uint64, error) {
	var v uint64
	err := m.retire("cgetbase", func() {
		c := m.regs.reg(cb)
		v = c.Base
	})
	return v, err
}

// CGetOffset returns cb's offset.
func (m *Machine) CGetOffset(cb int) (uint64, error) {
	var v uint64
	err := m.retire("cgetoffset", func() {
		c := m.regs.reg(cb)
		v = c.Offset
	})
	return v, err
}

// CGetAddr returns cb's cursor.
func (m *Machine) CGetAddr(cb int) (uint64, error) {
	var v uint64
	err := m.retire("cgetaddr", func() {
		c := m.regs.reg(cb)
		v = c.Cursor()
	})
	return v, err
}

// CGetAndAddr returns cb's cursor masked with rt.
func (m *Machine) CGetAndAddr(cb int, rt uint64) (uint64, error) {
	var v uint64
	err := m.retire("cgetandaddr", func() {
		c := m.regs.reg(cb)
		v = c.Cursor() & rt
	})
	return v, err
}

// CGetLen returns cb's length, saturated: a whole-space capability reads
// as 2^64-1.
func (m *Machine) CGetLen(cb int) (uint64, error) {
	var v uint64
	err := m.retire("cgetlen", func() {
		c := m.regs.reg(cb)
		v = c.LengthSat()
	})
	return v, err
}

// CGetTag returns cb's tag as 0 or 1.
func (m *Machine) CGetTag(cb int) (uint64, error) {
	var v uint64
	err := m.retire("cgettag", func() {
		if c := m.regs.reg(cb); c.Tag {
			v = 1
		}
	})
	return v, err
}

// CGetSealed returns 1 when cb is sealed with a type or as a sentry.
func (m *Machine) CGetSealed(cb int) (uint64, error) {
	var v uint64
	err := m.retire("cgetsealed", func() {
		if c := m.regs.reg(cb); c.IsSealed() {
			v = 1
		}
	})
	return v, err
}

// CGetType returns cb's object type. Tagged capabilities report the
// reserved encodings sign-extended (unsealed -1, sentry -2); untagged
// images mask to the 18-bit space instead.
func (m *Machine) CGetType(cb int) (uint64, error) {
	var v uint64
	err := m.retire("cgettype", func() {
		c := m.regs.reg(cb)
		if c.Tag {
			v = c.OType.Extended()
		} else {
			v = uint64(c.OType & capability.MaxReprOType)
		}
	})
	return v, err
}

// CGetPerm returns cb's composite permission word.
func (m *Machine) CGetPerm(cb int) (uint64, error) {
	var v uint64
	err := m.retire("cgetperm", func() {
		c := m.regs.reg(cb)
		v = capability.CompositePerms(c.Perms, c.UPerms)
	})
	return v, err
}

// CGetPCC writes the executing context to cd.
func (m *Machine) CGetPCC(cd int) error {
	return m.retire("cgetpcc", func() {
		m.writeGPR(cd, m.regs.pcc)
	})
}

// CGetPCCSetOffset writes the executing context with offset rs to cd,
// through the representability engine: an unrepresentable move still
// retires, writing the untagged marker.
func (m *Machine) CGetPCCSetOffset(cd int, rs uint64) error {
	return m.retire("cgetpccsetoffset", func() {
		m.moveOffset("cgetpccsetoffset", cd, m.regs.pcc, rs)
	})
}

// CSub returns the cursor difference cb - ct, mod 2^64.
func (m *Machine) CSub(cb, ct int) (uint64, error) {
	var v uint64
	err := m.retire("csub", func() {
		b := m.regs.reg(cb)
		t := m.regs.reg(ct)
		v = b.Cursor() - t.Cursor()
	})
	return v, err
}

// CToPtr converts cb to an integer pointer relative to the authorizing
// capability ct (index 0 reads DDC): cursor - ct.base when the cursor
// falls inside ct's bounds, 0 otherwise ("not a pointer"). An untagged cb
// returns 0; an untagged ct faults.
func (m *Machine) CToPtr(cb, ct int) (uint64, error) {
	var v uint64
	err := m.retire("ctoptr", func() {
		t := m.regs.regDDC(ct)
		if !t.Tag {
			m.capFault(fault.CauseTag, ct)
		}
		b := m.regs.reg(cb)
		if !b.Tag {
			return
		}
		cursor := b.Cursor()
		if cursor < t.Base || capability.T65(cursor).Cmp(t.Top) >= 0 {
			return
		}
		v = cursor - t.Base
	})
	return v, err
}

// CRRL rounds a requested length up to one the codec can represent
// exactly.
func (m *Machine) CRRL(length uint64) (uint64, error) {
	var v uint64
	err := m.retire("crrl", func() {
		v = m.codec.RepresentableLength(length)
		if v != length {
			m.log.Debug("rounded requested length", "requested", length, "representable", v)
		}
	})
	return v, err
}

// CRAM returns the base-alignment mask under which a region of the given
// length is exactly representable.
func (m *Machine) CRAM(length uint64) (uint64, error) {
	var v uint64
	err := m.retire("cram", func() {
		v = m.codec.AlignmentMask(length)
	})
	return v, err
}
