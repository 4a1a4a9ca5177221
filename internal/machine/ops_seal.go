package machine

import (
	"github.com/roach88/warden/internal/capability"
	"github.com/roach88/warden/internal/fault"
)

// sealCommon seals cs with the object type at ct's cursor. The conditional
// variant degrades to a plain move of cs when ct is untagged or its cursor
// is the all-ones "don't seal" marker.
func (m *Machine) sealCommon(cd, cs, ct int, conditional bool) {
	s := m.regs.reg(cs)
	t := m.regs.reg(ct)
	if !s.Tag {
		m.capFault(fault.CauseTag, cs)
	}
	if !t.Tag {
		if conditional {
			m.writeGPR(cd, s)
			return
		}
		m.capFault(fault.CauseTag, ct)
	}
	if conditional && t.Cursor() == ^uint64(0) {
		m.writeGPR(cd, s)
		return
	}
	if s.IsSealed() {
		m.capFault(fault.CauseSeal, cs)
	}
	if t.IsSealed() {
		m.capFault(fault.CauseSeal, ct)
	}
	if !t.Perms.Has(capability.PermSeal) {
		m.capFault(fault.CausePermSeal, ct)
	}
	cursor := t.Cursor()
	if !t.InBounds(cursor, 1) {
		m.capFault(fault.CauseLength, ct)
	}
	if cursor > uint64(capability.MaxSealedOType) {
		m.capFault(fault.CauseLength, ct)
	}
	if !m.codec.RepresentableWhenSealed(&s, s.Offset) {
		m.capFault(fault.CauseInexact, cs)
	}
	m.writeGPR(cd, s.SealedCopy(capability.OType(cursor)))
}

// CSeal seals cs with the object type at ct's cursor.
func (m *Machine) CSeal(cd, cs, ct int) error {
	return m.retire("cseal", func() {
		m.sealCommon(cd, cs, ct, false)
	})
}

// CCSeal is the conditional seal: an untagged ct or a ct cursor of -1
// writes cs through unchanged.
func (m *Machine) CCSeal(cd, cs, ct int) error {
	return m.retire("ccseal", func() {
		m.sealCommon(cd, cs, ct, true)
	})
}

// CSealEntry seals cs as a sentry: jumps may unseal it, nothing else may
// touch it.
func (m *Machine) CSealEntry(cd, cs int) error {
	return m.retire("csealentry", func() {
		s := m.regs.reg(cs)
		if !s.Tag {
			m.capFault(fault.CauseTag, cs)
		}
		if s.IsSealed() {
			m.capFault(fault.CauseSeal, cs)
		}
		if !s.Perms.Has(capability.PermExecute) {
			m.capFault(fault.CausePermExecute, cs)
		}
		m.writeGPR(cd, s.SentryCopy())
	})
}

// CUnseal reverses CSeal under ct's authority: ct's cursor must name cs's
// object type and ct must carry the Unseal permission. The result's Global
// permission is the conjunction of both operands'.
func (m *Machine) CUnseal(cd, cs, ct int) error {
	return m.retire("cunseal", func() {
		s := m.regs.reg(cs)
		t := m.regs.reg(ct)
		if !s.Tag {
			m.capFault(fault.CauseTag, cs)
		}
		if !t.Tag {
			m.capFault(fault.CauseTag, ct)
		}
		if !s.IsSealed() {
			m.capFault(fault.CauseSeal, cs)
		}
		if t.IsSealed() {
			m.capFault(fault.CauseSeal, ct)
		}
		cursor := t.Cursor()
		if cursor != uint64(s.OType) || !s.IsSealedWithType() {
			m.capFault(fault.CauseType, ct)
		}
		if !t.Perms.Has(capability.PermUnseal) {
			m.capFault(fault.CausePermSeal, ct)
		}
		if !t.InBounds(cursor, 1) {
			m.capFault(fault.CauseLength, ct)
		}
		if cursor > uint64(capability.MaxSealedOType) {
			m.capFault(fault.CauseLength, ct)
		}
		r := s.UnsealedCopy()
		if !t.Perms.Has(capability.PermGlobal) {
			r.Perms &^= capability.PermGlobal
		}
		m.writeGPR(cd, r)
	})
}

// CBuildCap rebuilds ct's fields into a tagged capability under cb's
// authority (index 0 reads DDC): bounds nested in cb, permissions covered
// by cb's. The result is unsealed unless ct is a sentry, which rebuilds as
// a sentry. cd may alias ct; the result is computed before the write.
func (m *Machine) CBuildCap(cd, cb, ct int) error {
	return m.retire("cbuildcap", func() {
		b := m.regs.regDDC(cb)
		t := m.regs.reg(ct)
		if !b.Tag {
			m.capFault(fault.CauseTag, cb)
		}
		if b.IsSealed() {
			m.capFault(fault.CauseSeal, cb)
		}
		if t.Base < b.Base {
			m.capFault(fault.CauseLength, cb)
		}
		if t.Top.Cmp(b.Top) > 0 {
			m.capFault(fault.CauseLength, cb)
		}
		if !b.Perms.Has(t.Perms & capability.PermsAll) {
			m.capFault(fault.CauseUserDefined, cb)
		}
		if !b.UPerms.Has(t.UPerms & capability.UPermsAll) {
			m.capFault(fault.CauseUserDefined, cb)
		}
		r := b
		r.Base = t.Base
		r.Top = t.Top
		r.Offset = t.Offset
		r.Perms = t.Perms & capability.PermsAll
		r.UPerms = t.UPerms & capability.UPermsAll
		if t.IsSentry() {
			r = r.SentryCopy()
		} else {
			r = r.UnsealedCopy()
		}
		m.writeGPR(cd, r)
	})
}

// CCopyType resolves ct's object type into a pointer within cb: an
// unsealed ct yields the -1 integer, a sealed one yields cb with its
// cursor at the type, which must fall inside cb's bounds.
func (m *Machine) CCopyType(cd, cb, ct int) error {
	return m.retire("ccopytype", func() {
		b := m.regs.reg(cb)
		t := m.regs.reg(ct)
		if !b.Tag {
			m.capFault(fault.CauseTag, cb)
		}
		if b.IsSealed() {
			m.capFault(fault.CauseSeal, cb)
		}
		if !t.IsSealedWithType() {
			m.writeGPR(cd, capability.IntCap(^uint64(0)))
			return
		}
		otype := uint64(t.OType)
		if otype < b.Base {
			m.capFault(fault.CauseLength, cb)
		}
		if capability.T65(otype).Cmp(b.Top) >= 0 {
			m.capFault(fault.CauseLength, cb)
		}
		r := b
		r.Offset = otype - b.Base
		m.writeGPR(cd, r)
	})
}
