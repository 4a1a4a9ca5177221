package machine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/warden/internal/capability"
	"github.com/roach88/warden/internal/fault"
	"github.com/roach88/warden/internal/trace"
)

func TestLoadStore_ScalarRoundTrip(t *testing.T) {
	m := testMachine(t)

	tests := []struct {
		name  string
		addr  uint64
		size  uint32
		value uint64
	}{
		{"byte", 0x100, 1, 0x80},
		{"half", 0x110, 2, 0xbeef},
		{"word", 0x120, 4, 0xdeadbeef},
		{"double", 0x130, 8, 0x0123456789abcdef},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, m.Store(0, tt.addr, 0, tt.size, tt.value))
			v, err := m.Load(0, tt.addr, 0, tt.size, false)
			require.NoError(t, err)
			assert.Equal(t, tt.value, v, "unsigned loads zero-extend")
		})
	}
}

func TestLoad_SignExtension(t *testing.T) {
	m := testMachine(t)
	require.NoError(t, m.Store(0, 0x100, 0, 1, 0xff))
	require.NoError(t, m.Store(0, 0x110, 0, 2, 0x8000))
	require.NoError(t, m.Store(0, 0x120, 0, 4, 0x42))

	v, err := m.Load(0, 0x100, 0, 1, true)
	require.NoError(t, err)
	assert.Equal(t, ^uint64(0), v)

	v, err = m.Load(0, 0x110, 0, 2, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xffffffffffff8000), v)

	v, err = m.Load(0, 0x120, 0, 4, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x42), v, "positive values are unchanged")
}

func TestLoad_AddressArithmetic(t *testing.T) {
	m := testMachine(t)
	require.NoError(t, m.Store(0, 0x1028, 0, 8, 0x1111))

	// cursor 0x1020 + rt 0x10 + imm -8 = 0x1028
	m.SetReg(2, boundedCap(t, m, 0x1000, 0x100, 0x20))
	v, err := m.Load(2, 0x10, -8, 8, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1111), v)
}

func TestLoad_Faults(t *testing.T) {
	m := testMachine(t)
	c := boundedCap(t, m, 0x1000, 0x100, 0)

	m.SetReg(2, capability.IntCap(0x1000))
	_, err := m.Load(2, 0, 0, 4, false)
	exc := requireFault(t, err, fault.CauseTag, 2)
	assert.False(t, exc.HasVAddr, "operand faults carry no address")

	m.SetReg(2, c.SealedCopy(7))
	_, err = m.Load(2, 0, 0, 4, false)
	requireFault(t, err, fault.CauseSeal, 2)

	m.SetReg(2, dropPerm(c, capability.PermLoad))
	_, err = m.Load(2, 0, 0, 4, false)
	exc = requireFault(t, err, fault.CausePermLoad, 2)
	assert.False(t, exc.HasVAddr)

	m.SetReg(2, c)
	_, err = m.Load(2, 0xfd, 0, 4, false)
	exc = requireFault(t, err, fault.CauseLength, 2, "bounds faults carry the address")
	require.True(t, exc.HasVAddr)
	assert.Equal(t, uint64(0x10fd), exc.BadVAddr)
}

func TestStore_Faults(t *testing.T) {
	m := testMachine(t)
	c := boundedCap(t, m, 0x1000, 0x100, 0)

	m.SetReg(2, dropPerm(c, capability.PermStore))
	err := m.Store(2, 0, 0, 4, 1)
	requireFault(t, err, fault.CausePermStore, 2)

	m.SetReg(2, c)
	err = m.Store(2, 0x100, 0, 1, 1)
	exc := requireFault(t, err, fault.CauseLength, 2)
	require.True(t, exc.HasVAddr)
	assert.Equal(t, uint64(0x1100), exc.BadVAddr)
}

func TestLoadStore_AlignmentPolicy(t *testing.T) {
	m := testMachine(t)

	_, err := m.Load(0, 0x101, 0, 4, false)
	requireAddrFault(t, err, fault.ClassAddressLoad, 0x101)

	err = m.Store(0, 0x102, 0, 8, 1)
	requireAddrFault(t, err, fault.ClassAddressStore, 0x102)
}

func TestLoadStore_UnalignedAllowedStraddlesPages(t *testing.T) {
	m := testMachine(t, WithUnalignedAccess(true))

	// 0xffe..0x1002 crosses the first page boundary.
	require.NoError(t, m.Store(0, 0xffe, 0, 4, 0xcafef00d))
	v, err := m.Load(0, 0xffe, 0, 4, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xcafef00d), v)
}

func TestStore_InvalidatesCoveredTag(t *testing.T) {
	m := testMachine(t)
	c := boundedCap(t, m, 0x3000, 0x100, 0x40)
	m.SetReg(2, c)

	_, err := m.CSC(2, 0, 0x200, 0)
	require.NoError(t, err)
	require.True(t, m.Mem().Tag(0x200))

	require.NoError(t, m.Store(0, 0x208, 0, 8, 0))
	assert.False(t, m.Mem().Tag(0x200), "a scalar store anywhere in the granule kills the tag")
}

func TestLoadLinked_StoreConditional(t *testing.T) {
	m := testMachine(t)
	require.NoError(t, m.Store(0, 0x200, 0, 8, 0x7777))
	m.SetReg(2, boundedCap(t, m, 0x200, 0x40, 0))

	v, err := m.LoadLinked(2, 8, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x7777), v)
	require.True(t, m.Linked())

	stored, err := m.StoreConditional(2, 8, 0x8888)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stored)
	v, err = m.Load(0, 0x200, 0, 8, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x8888), v)

	// The store does not consume the link.
	assert.True(t, m.Linked())
	stored, err = m.StoreConditional(2, 8, 0x9999)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stored)
}

func TestStoreConditional_BrokenLink(t *testing.T) {
	m := testMachine(t)
	m.SetReg(2, boundedCap(t, m, 0x200, 0x40, 0))

	stored, err := m.StoreConditional(2, 8, 0x8888)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stored)
	v, err := m.Load(0, 0x200, 0, 8, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), v, "a suppressed store leaves memory untouched")
}

func TestLoadLinked_FaultLeavesNoLink(t *testing.T) {
	m := testMachine(t)
	m.SetReg(2, boundedCap(t, m, 0x200, 0x40, 0x40))

	_, err := m.LoadLinked(2, 8, false)
	requireFault(t, err, fault.CauseLength, 2)
	assert.False(t, m.Linked())

	m.SetReg(3, boundedCap(t, m, 0x200, 0x40, 0))
	stored, err := m.StoreConditional(3, 8, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stored)
}

func TestStoreConditional_FaultsEvenWhenUnlinked(t *testing.T) {
	m := testMachine(t)
	m.SetReg(2, capability.IntCap(0x200))

	_, err := m.StoreConditional(2, 8, 1)
	requireFault(t, err, fault.CauseTag, 2, "the ladder runs before the link test")
}

func TestCSC_CLC_RoundTrip(t *testing.T) {
	m := testMachine(t)
	c := boundedCap(t, m, 0x3000, 0x100, 0x40)
	m.SetReg(2, c)

	addr, err := m.CSC(2, 0, 0x300, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x320), addr, "the immediate scales by the granule")
	assert.True(t, m.Mem().Tag(0x320))

	require.NoError(t, m.CLC(5, 0, 0x300, 2))
	got := m.Reg(5)
	assert.True(t, got.Tag)
	assert.Equal(t, c.Base, got.Base)
	assert.Equal(t, c.Top, got.Top)
	assert.Equal(t, c.Offset, got.Offset)
	assert.Equal(t, c.Perms, got.Perms)
	assert.Equal(t, c.OType, got.OType)
}

func TestCLC_TagStripWithoutLoadCap(t *testing.T) {
	stats := trace.NewStats()
	m := testMachine(t, WithStats(stats))
	c := boundedCap(t, m, 0x3000, 0x100, 0x40)
	m.SetReg(2, c)
	_, err := m.CSC(2, 0, 0x400, 0)
	require.NoError(t, err)

	bearer := dropPerm(boundedCap(t, m, 0x400, 0x40, 0), capability.PermLoadCap)
	m.SetReg(3, bearer)
	require.NoError(t, m.CLC(5, 3, 0, 0))

	got := m.Reg(5)
	assert.False(t, got.Tag, "LoadCap gates the tag, not the bytes")
	assert.Equal(t, c.Base, got.Base)
	assert.Equal(t, c.Offset, got.Offset)
	assert.True(t, m.Mem().Tag(0x400), "memory keeps its tag")

	total, tagged := stats.CapReads()
	assert.Equal(t, int64(1), total)
	assert.Equal(t, int64(1), tagged, "the read counts what memory held")
}

func TestCSC_Faults(t *testing.T) {
	m := testMachine(t)
	c := boundedCap(t, m, 0x3000, 0x100, 0x40)

	m.SetReg(2, c)
	m.SetReg(3, dropPerm(boundedCap(t, m, 0x500, 0x40, 0), capability.PermStoreCap))
	_, err := m.CSC(2, 3, 0, 0)
	requireFault(t, err, fault.CausePermStoreCap, 3)
	assert.False(t, m.Mem().Tag(0x500))
	v, err := m.Load(0, 0x500, 0, 8, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), v, "no byte lands on a fault")

	local := dropPerm(c, capability.PermGlobal)
	m.SetReg(2, local)
	m.SetReg(3, dropPerm(boundedCap(t, m, 0x500, 0x40, 0), capability.PermStoreLocalCap))
	_, err = m.CSC(2, 3, 0, 0)
	requireFault(t, err, fault.CausePermStoreLocalCap, 3)

	// A full-permission bearer stores local capabilities fine.
	m.SetReg(3, boundedCap(t, m, 0x500, 0x40, 0))
	_, err = m.CSC(2, 3, 0, 0)
	require.NoError(t, err)
	assert.True(t, m.Mem().Tag(0x500))
}

func TestCSC_UntaggedValueNeedsOnlyStore(t *testing.T) {
	m := testMachine(t)
	pattern := capability.IntCap(0x1234)
	m.SetReg(2, pattern)
	bearer := dropPerm(dropPerm(boundedCap(t, m, 0x500, 0x40, 0),
		capability.PermStoreCap), capability.PermStoreLocalCap)
	m.SetReg(3, bearer)

	_, err := m.CSC(2, 3, 0, 0)
	require.NoError(t, err)
	assert.False(t, m.Mem().Tag(0x500))

	require.NoError(t, m.CLC(5, 0, 0x500, 0))
	got := m.Reg(5)
	assert.False(t, got.Tag)
	assert.Equal(t, uint64(0x1234), got.Cursor())
}

func TestCapMemory_AlignmentIgnoresUnalignedPolicy(t *testing.T) {
	m := testMachine(t, WithUnalignedAccess(true))
	c := boundedCap(t, m, 0x3000, 0x100, 0x40)
	m.SetReg(2, c)

	_, err := m.CSC(2, 0, 0x308, 0)
	requireAddrFault(t, err, fault.ClassAddressStore, 0x308)

	err = m.CLC(5, 0, 0x308, 0)
	requireAddrFault(t, err, fault.ClassAddressLoad, 0x308)
}

func TestCLLC_CSCC(t *testing.T) {
	m := testMachine(t)
	c := boundedCap(t, m, 0x3000, 0x100, 0x40)
	m.SetReg(2, c)
	_, err := m.CSC(2, 0, 0x600, 0)
	require.NoError(t, err)

	bearer := boundedCap(t, m, 0x600, 0x40, 0)
	m.SetReg(3, bearer)
	require.NoError(t, m.CLLC(5, 3))
	assert.True(t, m.Linked())
	assert.Equal(t, c.Base, m.Reg(5).Base)

	swap := boundedCap(t, m, 0x7000, 0x80, 0)
	m.SetReg(6, swap)
	stored, err := m.CSCC(6, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stored)

	require.NoError(t, m.CLC(7, 3, 0, 0))
	assert.Equal(t, uint64(0x7000), m.Reg(7).Base)
}

func TestCSCC_Unlinked(t *testing.T) {
	m := testMachine(t)
	c := boundedCap(t, m, 0x3000, 0x100, 0x40)
	m.SetReg(2, c)
	m.SetReg(3, boundedCap(t, m, 0x600, 0x40, 0))

	stored, err := m.CSCC(2, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stored)
	assert.False(t, m.Mem().Tag(0x600))
}

func TestCSCC_FaultsEvenWhenUnlinked(t *testing.T) {
	m := testMachine(t)
	m.SetReg(2, boundedCap(t, m, 0x3000, 0x100, 0x40))
	m.SetReg(3, capability.IntCap(0x600))

	_, err := m.CSCC(2, 3)
	requireFault(t, err, fault.CauseTag, 3)
}

func TestCLoadTags(t *testing.T) {
	m := testMachine(t)
	c := boundedCap(t, m, 0x3000, 0x100, 0x40)
	m.SetReg(2, c)
	_, err := m.CSC(2, 0, 0x800, 0)
	require.NoError(t, err)
	_, err = m.CSC(2, 0, 0x830, 0)
	require.NoError(t, err)

	mask, err := m.CLoadTags(0, 0x800)
	require.NoError(t, err)
	assert.Equal(t, uint64(0b1001), mask, "granules 0 and 3 of the window are tagged")
}

func TestCLoadTags_WindowAlignment(t *testing.T) {
	m := testMachine(t)

	_, err := m.CLoadTags(0, 0x810)
	requireAddrFault(t, err, fault.ClassAddressLoad, 0x810)
}

func TestCLoadTags_NeedsLoadCap(t *testing.T) {
	m := testMachine(t)
	m.SetReg(2, dropPerm(boundedCap(t, m, 0x1000, 0x100, 0), capability.PermLoadCap))

	_, err := m.CLoadTags(2, 0)
	requireFault(t, err, fault.CausePermLoadCap, 2)
}

func TestCLoadTags_NoBoundsCheck(t *testing.T) {
	m := testMachine(t)
	c := boundedCap(t, m, 0x3000, 0x100, 0x40)
	m.SetReg(2, c)
	_, err := m.CSC(2, 0, 0x1070, 0)
	require.NoError(t, err)

	// The window [0x1000, 0x1080) runs past the capability's top at
	// 0x1020; only tag presence leaks, so the probe is allowed.
	m.SetReg(3, boundedCap(t, m, 0x1000, 0x20, 0))
	mask, err := m.CLoadTags(3, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1)<<7, mask)
}

func TestCheckLoad_CheckStore(t *testing.T) {
	m := testMachine(t)
	ddc := boundedCap(t, m, 0x1000, 0x100, 0)
	m.SetHwReg(HwrDDC, ddc)

	addr, err := m.CheckLoad(0x20, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1020), addr)

	addr, err = m.CheckStore(0xfc, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x10fc), addr)

	_, err = m.CheckStore(0xfd, 4)
	exc := requireFault(t, err, fault.CauseLength, 0)
	require.True(t, exc.HasVAddr)
	assert.Equal(t, uint64(0x10fd), exc.BadVAddr)

	m.SetHwReg(HwrDDC, dropPerm(ddc, capability.PermStore))
	_, err = m.CheckStore(0x20, 4)
	requireFault(t, err, fault.CausePermStore, 0)
}

func TestCheckLoadRight(t *testing.T) {
	m := testMachine(t)
	ddc := boundedCap(t, m, 0x1000, 0x100, 0)
	m.SetHwReg(HwrDDC, ddc)

	// Offset 0xb in a doubleword: the access spans the word start
	// through the addressed byte, 4 bytes from 0x1008.
	addr, err := m.CheckLoadRight(0xb, 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x100b), addr)

	// A full-width check at 0xfb would run past the top; the partial
	// word stays inside.
	addr, err = m.CheckLoadRight(0xfb, 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x10fb), addr)
	_, err = m.CheckLoad(0xfb, 8)
	requireFault(t, err, fault.CauseLength, 0)
}

func TestCheckStoreRight(t *testing.T) {
	m := testMachine(t)
	ddc := boundedCap(t, m, 0x1000, 0x100, 0)
	m.SetHwReg(HwrDDC, dropPerm(ddc, capability.PermStore))

	_, err := m.CheckStoreRight(0xb, 8)
	requireFault(t, err, fault.CausePermStore, 0)

	m.SetHwReg(HwrDDC, ddc)
	addr, err := m.CheckStoreRight(0xb, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x100b), addr)
}
