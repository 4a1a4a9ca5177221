package machine

import (
	"github.com/roach88/warden/internal/capability"
	"github.com/roach88/warden/internal/fault"
)

// memOperand runs the capability half of the memory ladder on the base
// register (0 → DDC): tag, seal, then the one required permission. These
// faults carry no address; the address is computed afterwards and only
// the bounds fault attaches it.
func (m *Machine) memOperand(cb int, perm capability.Perms) capability.Capability {
	b := m.regs.regDDC(cb)
	if !b.Tag {
		m.capFault(fault.CauseTag, cb)
	}
	if b.IsSealed() {
		m.capFault(fault.CauseSeal, cb)
	}
	if !b.Perms.Has(perm) {
		m.capFault(permCause(perm), cb)
	}
	return b
}

// memReadScalar reads size big-endian bytes at addr. The aligned path is
// the common case; the byte path serves policy-allowed unaligned access,
// which may straddle a page.
func (m *Machine) memReadScalar(addr uint64, size uint32) uint64 {
	if addr&uint64(size-1) == 0 {
		return m.mem.ReadScalar(addr, size)
	}
	var v uint64
	for _, b := range m.mem.ReadBytes(addr, int(size)) {
		v = v<<8 | uint64(b)
	}
	return v
}

// memWriteScalar is the store counterpart. Both paths invalidate the
// covered granule tags before any data lands.
func (m *Machine) memWriteScalar(addr uint64, size uint32, v uint64) {
	if addr&uint64(size-1) == 0 {
		m.mem.WriteScalar(addr, size, v)
		return
	}
	buf := make([]byte, size)
	for i := int(size) - 1; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	m.mem.WriteBytes(addr, buf)
}

// signExtend widens the low size bytes of v to 64 bits.
func signExtend(v uint64, size uint32) uint64 {
	shift := 64 - 8*size
	return uint64(int64(v<<shift) >> shift)
}

// Load reads a scalar of 1, 2, 4 or 8 bytes through cb (0 → DDC) at
// cursor + rt + imm. Signed loads sign-extend the result.
func (m *Machine) Load(cb int, rt uint64, imm int32, size uint32, signed bool) (uint64, error) {
	var v uint64
	err := m.retire("cload", func() {
		b := m.memOperand(cb, capability.PermLoad)
		addr := b.Cursor() + rt + uint64(int64(imm))
		if !b.InBounds(addr, size) {
			m.capFaultAddr(fault.CauseLength, cb, addr)
		}
		m.checkLoadAlign(addr, size)
		v = m.memReadScalar(addr, size)
		if signed {
			v = signExtend(v, size)
		}
	})
	return v, err
}

// Store writes a scalar through cb (0 → DDC) at cursor + rt + imm.
func (m *Machine) Store(cb int, rt uint64, imm int32, size uint32, value uint64) error {
	return m.retire("cstore", func() {
		b := m.memOperand(cb, capability.PermStore)
		addr := b.Cursor() + rt + uint64(int64(imm))
		if !b.InBounds(addr, size) {
			m.capFaultAddr(fault.CauseLength, cb, addr)
		}
		m.checkStoreAlign(addr, size)
		m.memWriteScalar(addr, size, value)
	})
}

// LoadLinked is the scalar load at the cursor that opens a link. The flag
// drops before any check, so a faulting LL leaves no stale link, and is
// set again only after the read succeeds.
func (m *Machine) LoadLinked(cb int, size uint32, signed bool) (uint64, error) {
	var v uint64
	err := m.retire("cloadlinked", func() {
		m.linked = false
		b := m.memOperand(cb, capability.PermLoad)
		addr := b.Cursor()
		if !b.InBounds(addr, size) {
			m.capFaultAddr(fault.CauseLength, cb, addr)
		}
		m.checkLoadAlign(addr, size)
		v = m.memReadScalar(addr, size)
		if signed {
			v = signExtend(v, size)
		}
		m.linked = true
	})
	return v, err
}

// StoreConditional runs the full store ladder and only then consults the
// link flag: a bad capability or address faults whether or not the link
// is intact, a broken link merely suppresses the write. Returns 1 when
// the store happened, 0 otherwise. The link flag is left as is.
func (m *Machine) StoreConditional(cb int, size uint32, value uint64) (uint64, error) {
	var stored uint64
	err := m.retire("cstorecond", func() {
		b := m.memOperand(cb, capability.PermStore)
		addr := b.Cursor()
		if !b.InBounds(addr, size) {
			m.capFaultAddr(fault.CauseLength, cb, addr)
		}
		m.checkStoreAlign(addr, size)
		if !m.linked {
			return
		}
		m.memWriteScalar(addr, size, value)
		stored = 1
	})
	return stored, err
}

// capMemAddr finishes a capability-sized ladder: bounds over one granule,
// then the alignment check. Capability accesses are never allowed
// unaligned, whatever the scalar policy says.
func (m *Machine) capMemAddr(b *capability.Capability, cb int, addr uint64, store bool) {
	g := m.codec.GranuleBytes()
	if !b.InBounds(addr, uint32(g)) {
		m.capFaultAddr(fault.CauseLength, cb, addr)
	}
	if addr&(g-1) != 0 {
		if store {
			storeFault(addr)
		} else {
			loadFault(addr)
		}
	}
}

// loadCap is the CLC/CLLC tail from the computed address. A stored tag
// loads live only when the base grants LoadCap; otherwise the value
// arrives untagged with its memory image intact and no fault is raised.
func (m *Machine) loadCap(cd, cb int, b *capability.Capability, addr uint64) {
	m.capMemAddr(b, cb, addr, false)
	if m.stats != nil {
		m.stats.CapRead(m.mem.Tag(addr))
	}
	c := m.codec.Load(m.mem, addr)
	if c.Tag && !b.Perms.Has(capability.PermLoadCap) {
		m.log.Debug("clearing tag on loaded capability", "addr", addr, "reg", cb)
		c.Tag = false
	}
	m.writeGPR(cd, c)
}

// CLC loads the capability at cursor + rt + imm*granule into cd.
func (m *Machine) CLC(cd, cb int, rt uint64, imm int32) error {
	return m.retire("clc", func() {
		b := m.memOperand(cb, capability.PermLoad)
		addr := b.Cursor() + rt + uint64(int64(imm))*m.codec.GranuleBytes()
		m.loadCap(cd, cb, &b, addr)
	})
}

// CLLC is the capability load-linked at the cursor.
func (m *Machine) CLLC(cd, cb int) error {
	return m.retire("cllc", func() {
		m.linked = false
		b := m.memOperand(cb, capability.PermLoad)
		m.loadCap(cd, cb, &b, b.Cursor())
		m.linked = true
	})
}

// storeCapChecks runs the CSC ladder through the alignment check and
// returns the value to store. The StoreCap and StoreLocalCap demands
// apply only to tagged values: an untagged pattern stores under plain
// Store authority.
func (m *Machine) storeCapChecks(b *capability.Capability, cs, cb int, addr uint64) capability.Capability {
	s := m.regs.reg(cs)
	if !b.Tag {
		m.capFault(fault.CauseTag, cb)
	}
	if b.IsSealed() {
		m.capFault(fault.CauseSeal, cb)
	}
	if !b.Perms.Has(capability.PermStore) {
		m.capFault(fault.CausePermStore, cb)
	}
	if s.Tag && !b.Perms.Has(capability.PermStoreCap) {
		m.capFault(fault.CausePermStoreCap, cb)
	}
	if s.Tag && !s.Perms.Has(capability.PermGlobal) && !b.Perms.Has(capability.PermStoreLocalCap) {
		m.capFault(fault.CausePermStoreLocalCap, cb)
	}
	m.capMemAddr(b, cb, addr, true)
	return s
}

// CSC stores the capability in cs at cursor + rt + imm*granule. The codec
// writes tag and sideband before the data words; every fault fires before
// the first byte lands. Returns the translated address.
func (m *Machine) CSC(cs, cb int, rt uint64, imm int32) (uint64, error) {
	var addr uint64
	err := m.retire("csc", func() {
		b := m.regs.regDDC(cb)
		a := b.Cursor() + rt + uint64(int64(imm))*m.codec.GranuleBytes()
		s := m.storeCapChecks(&b, cs, cb, a)
		if m.stats != nil {
			m.stats.CapWrite(s.Tag)
		}
		m.codec.Store(m.mem, a, &s)
		addr = a
	})
	return addr, err
}

// CSCC is the conditional capability store at the cursor. The full CSC
// ladder runs before the link test; the flag only decides whether the
// bytes land. Returns 1 when they do.
func (m *Machine) CSCC(cs, cb int) (uint64, error) {
	var stored uint64
	err := m.retire("cscc", func() {
		b := m.regs.regDDC(cb)
		addr := b.Cursor()
		s := m.storeCapChecks(&b, cs, cb, addr)
		if !m.linked {
			return
		}
		if m.stats != nil {
			m.stats.CapWrite(s.Tag)
		}
		m.codec.Store(m.mem, addr, &s)
		stored = 1
	})
	return stored, err
}

// CLoadTags reads the tag bits of the 8 granules starting at cursor + rt
// as a bitmask, bit 0 the lowest granule. The window is alignment checked
// but not bounds checked; the bits reveal tag presence only, never
// capability contents.
func (m *Machine) CLoadTags(cb int, rt uint64) (uint64, error) {
	var mask uint64
	err := m.retire("cloadtags", func() {
		b := m.memOperand(cb, capability.PermLoad)
		if !b.Perms.Has(capability.PermLoadCap) {
			m.capFault(fault.CausePermLoadCap, cb)
		}
		addr := b.Cursor() + rt
		span := 8 * m.codec.GranuleBytes()
		if !b.InBounds(addr, uint32(span)) {
			m.capFaultAddr(fault.CauseLength, cb, addr)
		}
		if addr&(span-1) != 0 {
			loadFault(addr)
		}
		mask = m.mem.TagsIn8(addr)
	})
	return mask, err
}

// checkDDC translates a DDC-relative offset and runs the legality ladder
// against DDC as register 0.
func (m *Machine) checkDDC(perm capability.Perms, offset uint64, length uint32) uint64 {
	ddc := m.regs.ddc
	addr := ddc.Cursor() + offset
	m.checkCap(&ddc, perm, addr, 0, length)
	return addr
}

// CheckLoad validates a legacy (pre-capability) load of size bytes at a
// DDC-relative offset and returns the translated address. Alignment stays
// with the legacy pipeline.
func (m *Machine) CheckLoad(offset uint64, size uint32) (uint64, error) {
	var addr uint64
	err := m.retire("checkload", func() {
		addr = m.checkDDC(capability.PermLoad, offset, size)
	})
	return addr, err
}

// CheckStore is the store-side legacy check.
func (m *Machine) CheckStore(offset uint64, size uint32) (uint64, error) {
	var addr uint64
	err := m.retire("checkstore", func() {
		addr = m.checkDDC(capability.PermStore, offset, size)
	})
	return addr, err
}

// CheckLoadRight validates the partial-word legacy loads: the access
// touches the naturally aligned word containing offset from its start
// through the addressed byte, so the checked length is lowbits + 1.
func (m *Machine) CheckLoadRight(offset uint64, size uint32) (uint64, error) {
	var addr uint64
	err := m.retire("checkloadright", func() {
		low := offset & uint64(size-1)
		addr = m.checkDDC(capability.PermLoad, offset&^uint64(size-1), uint32(low)+1) + low
	})
	return addr, err
}

// CheckStoreRight is the store-side partial-word check. The byte write
// that follows goes through Memory, which invalidates the covered granule
// tag before data lands.
func (m *Machine) CheckStoreRight(offset uint64, size uint32) (uint64, error) {
	var addr uint64
	err := m.retire("checkstoreright", func() {
		low := offset & uint64(size-1)
		addr = m.checkDDC(capability.PermStore, offset&^uint64(size-1), uint32(low)+1) + low
	})
	return addr, err
}
