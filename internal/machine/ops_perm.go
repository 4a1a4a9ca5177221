package machine

import (
	"github.com/roach88/warden/internal/capability"
	"github.com/roach88/warden/internal/fault"
)

// CAndPerm narrows cb's permissions by the composite word rt: hardware
// permissions by rt's low bits, user permissions by the field at bit 15.
func (m *Machine) CAndPerm(cd, cb int, rt uint64) error {
	return m.retire("candperm", func() {
		c := m.regs.reg(cb)
		if !c.Tag {
			m.capFault(fault.CauseTag, cb)
		}
		if c.IsSealed() {
			m.capFault(fault.CauseSeal, cb)
		}
		c.Perms &= capability.Perms(rt) & capability.PermsAll
		c.UPerms &= capability.Perms(rt>>capability.UPermsShift) & capability.UPermsAll
		m.writeGPR(cd, c)
	})
}

// CClearTag writes cb to cd with the tag cleared. No authority is needed;
// the codec refreshes its memory remnant so a later untagged store writes
// the image the capability had when the tag dropped.
func (m *Machine) CClearTag(cd, cb int) error {
	return m.retire("ccleartag", func() {
		c := m.regs.reg(cb)
		m.writeGPR(cd, m.codec.ClearTag(&c))
	})
}

// CClearRegs nulls the registers selected by mask: bits 1-31 the general
// registers, bit 0 the DDC (clearing the constant null register would be
// useless, so its bit targets DDC instead).
func (m *Machine) CClearRegs(mask uint32) error {
	return m.retire("cclearregs", func() {
		if mask&1 != 0 {
			m.writeNamed(RegNameDDC, &m.regs.ddc, capability.Null())
		}
		for i := 1; i < 32; i++ {
			if mask&(1<<i) != 0 {
				m.writeGPR(i, capability.Null())
			}
		}
	})
}

// CCheckPerm faults User_defined unless cs's composite permissions cover
// rt: hardware bits, user bits, and nothing requested above the defined
// fields.
func (m *Machine) CCheckPerm(cs int, rt uint64) error {
	return m.retire("ccheckperm", func() {
		c := m.regs.reg(cs)
		if !c.Tag {
			m.capFault(fault.CauseTag, cs)
		}
		perms := capability.Perms(rt) & capability.PermsAll
		uperms := capability.Perms(rt>>capability.UPermsShift) & capability.UPermsAll
		if !c.Perms.Has(perms) {
			m.capFault(fault.CauseUserDefined, cs)
		}
		if !c.UPerms.Has(uperms) {
			m.capFault(fault.CauseUserDefined, cs)
		}
		if rt>>(capability.UPermsShift+4) != 0 {
			m.capFault(fault.CauseUserDefined, cs)
		}
	})
}

// CCheckType faults unless cs and cb are sealed with the same concrete
// object type.
func (m *Machine) CCheckType(cs, cb int) error {
	return m.retire("cchecktype", func() {
		s := m.regs.reg(cs)
		b := m.regs.reg(cb)
		if !s.Tag {
			m.capFault(fault.CauseTag, cs)
		}
		if !b.Tag {
			m.capFault(fault.CauseTag, cb)
		}
		if !s.IsSealedWithType() {
			m.capFault(fault.CauseSeal, cs)
		}
		if !b.IsSealedWithType() {
			m.capFault(fault.CauseSeal, cb)
		}
		if s.OType != b.OType || s.OType > capability.MaxSealedOType {
			m.capFault(fault.CauseType, cs)
		}
	})
}
