package machine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/warden/internal/capability"
	"github.com/roach88/warden/internal/fault"
)

// sealer returns a capability whose cursor names the given object type,
// ready to authorize CSeal.
func sealer(otype uint64) capability.Capability {
	c := capability.Max()
	c.Offset = otype
	return c
}

func TestCSeal(t *testing.T) {
	m := testMachine(t)
	target := boundedCap(t, m, 0x1000, 0x100, 0x10)
	m.SetReg(3, target)
	m.SetReg(4, sealer(42))

	require.NoError(t, m.CSeal(2, 3, 4))

	got := m.Reg(2)
	assert.True(t, got.Tag)
	assert.True(t, got.IsSealedWithType())
	assert.Equal(t, capability.OType(42), got.OType)
	assert.Equal(t, target.Base, got.Base)
	assert.Equal(t, target.Offset, got.Offset)
}

func TestCSeal_Faults(t *testing.T) {
	m := testMachine(t)
	target := boundedCap(t, m, 0x1000, 0x100, 0)

	m.SetReg(3, capability.IntCap(0))
	m.SetReg(4, sealer(42))
	err := m.CSeal(2, 3, 4)
	requireFault(t, err, fault.CauseTag, 3)

	m.SetReg(3, target)
	m.SetReg(4, capability.IntCap(42))
	err = m.CSeal(2, 3, 4)
	requireFault(t, err, fault.CauseTag, 4)

	m.SetReg(3, target.SealedCopy(7))
	m.SetReg(4, sealer(42))
	err = m.CSeal(2, 3, 4)
	requireFault(t, err, fault.CauseSeal, 3)

	m.SetReg(3, target)
	s := sealer(42)
	m.SetReg(4, s.SealedCopy(7))
	err = m.CSeal(2, 3, 4)
	requireFault(t, err, fault.CauseSeal, 4)

	m.SetReg(4, dropPerm(sealer(42), capability.PermSeal))
	err = m.CSeal(2, 3, 4)
	requireFault(t, err, fault.CausePermSeal, 4)

	// The sealer's cursor must fall inside the sealer's own bounds.
	narrow := boundedCap(t, m, 0x1000, 0x100, 0)
	narrow.Offset = ^uint64(0) - 0xfbf // cursor 0x40, below base
	m.SetReg(4, narrow)
	err = m.CSeal(2, 3, 4)
	requireFault(t, err, fault.CauseLength, 4)

	// And inside the object type space.
	m.SetReg(4, sealer(uint64(capability.MaxSealedOType)+1))
	err = m.CSeal(2, 3, 4)
	requireFault(t, err, fault.CauseLength, 4)
}

func TestCSeal_MaxObjectType(t *testing.T) {
	m := testMachine(t)
	m.SetReg(3, boundedCap(t, m, 0x1000, 0x100, 0))
	m.SetReg(4, sealer(uint64(capability.MaxSealedOType)))

	require.NoError(t, m.CSeal(2, 3, 4))
	assert.Equal(t, capability.MaxSealedOType, m.Reg(2).OType)
}

func TestCCSeal_Conditional(t *testing.T) {
	m := testMachine(t)
	target := boundedCap(t, m, 0x1000, 0x100, 0)
	m.SetReg(3, target)

	// Untagged sealer: the target moves through unsealed.
	m.SetReg(4, capability.IntCap(42))
	require.NoError(t, m.CCSeal(2, 3, 4))
	assert.Equal(t, target, m.Reg(2))

	// The all-ones cursor means "do not seal".
	m.SetReg(4, sealer(^uint64(0)))
	require.NoError(t, m.CCSeal(2, 3, 4))
	assert.Equal(t, target, m.Reg(2))

	// Anything else seals as CSeal would.
	m.SetReg(4, sealer(42))
	require.NoError(t, m.CCSeal(2, 3, 4))
	assert.Equal(t, capability.OType(42), m.Reg(2).OType)
}

func TestCCSeal_UntaggedTargetStillFaults(t *testing.T) {
	m := testMachine(t)
	m.SetReg(3, capability.IntCap(0))
	m.SetReg(4, capability.IntCap(42))

	err := m.CCSeal(2, 3, 4)
	requireFault(t, err, fault.CauseTag, 3)
}

func TestCSealEntry(t *testing.T) {
	m := testMachine(t)
	m.SetReg(3, boundedCap(t, m, 0x1000, 0x100, 0))

	require.NoError(t, m.CSealEntry(2, 3))

	got := m.Reg(2)
	assert.True(t, got.IsSentry())
	assert.True(t, got.IsSealed())
	assert.False(t, got.IsSealedWithType())
}

func TestCSealEntry_Faults(t *testing.T) {
	m := testMachine(t)

	m.SetReg(3, capability.IntCap(0))
	err := m.CSealEntry(2, 3)
	requireFault(t, err, fault.CauseTag, 3)

	c := boundedCap(t, m, 0x1000, 0x100, 0)
	m.SetReg(3, c.SealedCopy(7))
	err = m.CSealEntry(2, 3)
	requireFault(t, err, fault.CauseSeal, 3)

	m.SetReg(3, dropPerm(c, capability.PermExecute))
	err = m.CSealEntry(2, 3)
	requireFault(t, err, fault.CausePermExecute, 3)
}

func TestCUnseal_InvertsCSeal(t *testing.T) {
	m := testMachine(t)
	target := boundedCap(t, m, 0x1000, 0x100, 0x10)
	m.SetReg(3, target)
	m.SetReg(4, sealer(42))

	require.NoError(t, m.CSeal(2, 3, 4))
	m.SetReg(5, m.Reg(2))
	require.NoError(t, m.CUnseal(6, 5, 4))

	assert.Equal(t, target, m.Reg(6), "seal then unseal is the identity")
}

func TestCUnseal_GlobalConjunction(t *testing.T) {
	m := testMachine(t)
	c := boundedCap(t, m, 0x1000, 0x100, 0)
	m.SetReg(3, c.SealedCopy(42))
	m.SetReg(4, dropPerm(sealer(42), capability.PermGlobal))

	require.NoError(t, m.CUnseal(2, 3, 4))
	assert.False(t, m.Reg(2).Perms.Has(capability.PermGlobal),
		"a local unsealer yields a local result")
}

func TestCUnseal_Faults(t *testing.T) {
	m := testMachine(t)
	c := boundedCap(t, m, 0x1000, 0x100, 0)
	sealed := c.SealedCopy(42)

	m.SetReg(3, c)
	m.SetReg(4, sealer(42))
	err := m.CUnseal(2, 3, 4)
	requireFault(t, err, fault.CauseSeal, 3)

	m.SetReg(3, sealed)
	m.SetReg(4, sealer(43))
	err = m.CUnseal(2, 3, 4)
	requireFault(t, err, fault.CauseType, 4)

	m.SetReg(4, dropPerm(sealer(42), capability.PermUnseal))
	err = m.CUnseal(2, 3, 4)
	requireFault(t, err, fault.CausePermSeal, 4)

	// A sentry has no concrete type to name.
	m.SetReg(3, c.SentryCopy())
	m.SetReg(4, sealer(42))
	err = m.CUnseal(2, 3, 4)
	requireFault(t, err, fault.CauseType, 4)
}

func TestCBuildCap(t *testing.T) {
	m := testMachine(t)
	pattern := boundedCap(t, m, 0x1000, 0x100, 0x10)
	pattern.Tag = false
	pattern.Perms = capability.PermLoad | capability.PermStore
	m.SetReg(3, pattern)

	require.NoError(t, m.CBuildCap(2, 1, 3))

	got := m.Reg(2)
	assert.True(t, got.Tag, "the rebuilt capability is live")
	assert.False(t, got.IsSealed())
	assert.Equal(t, pattern.Base, got.Base)
	assert.Equal(t, pattern.Top, got.Top)
	assert.Equal(t, pattern.Offset, got.Offset)
	assert.Equal(t, pattern.Perms, got.Perms)
}

func TestCBuildCap_SentryPatternRebuildsSentry(t *testing.T) {
	m := testMachine(t)
	pattern := boundedCap(t, m, 0x1000, 0x100, 0)
	pattern = pattern.SentryCopy()
	pattern.Tag = false
	m.SetReg(3, pattern)

	require.NoError(t, m.CBuildCap(2, 1, 3))
	r2 := m.Reg(2)
	assert.True(t, r2.IsSentry())
}

func TestCBuildCap_SealedPatternRebuildsUnsealed(t *testing.T) {
	m := testMachine(t)
	pattern := boundedCap(t, m, 0x1000, 0x100, 0)
	pattern = pattern.SealedCopy(42)
	pattern.Tag = false
	m.SetReg(3, pattern)

	require.NoError(t, m.CBuildCap(2, 1, 3))
	got := m.Reg(2)
	assert.False(t, got.IsSealed(), "only the sentry state survives a rebuild")
}

func TestCBuildCap_AuthorityFaults(t *testing.T) {
	m := testMachine(t)
	auth := boundedCap(t, m, 0x1000, 0x100, 0)
	m.SetReg(4, auth)

	wide := capability.Max()
	wide.Tag = false
	m.SetReg(3, wide)
	err := m.CBuildCap(2, 4, 3)
	requireFault(t, err, fault.CauseLength, 4, "pattern bounds exceed the authority")

	inside := boundedCap(t, m, 0x1000, 0x10, 0)
	inside.Tag = false
	m.SetReg(3, inside)
	m.SetReg(4, dropPerm(auth, capability.PermSeal))
	err = m.CBuildCap(2, 4, 3)
	requireFault(t, err, fault.CauseUserDefined, 4, "pattern permissions exceed the authority")

	m.SetReg(4, capability.IntCap(0))
	err = m.CBuildCap(2, 4, 3)
	requireFault(t, err, fault.CauseTag, 4)
}

func TestCBuildCap_DestinationMayAliasPattern(t *testing.T) {
	m := testMachine(t)
	pattern := boundedCap(t, m, 0x1000, 0x100, 0x10)
	pattern.Tag = false
	m.SetReg(3, pattern)

	require.NoError(t, m.CBuildCap(3, 1, 3))

	got := m.Reg(3)
	assert.True(t, got.Tag)
	assert.Equal(t, pattern.Base, got.Base)
}

func TestCCopyType(t *testing.T) {
	m := testMachine(t)
	rangeCap := boundedCap(t, m, 0, 0x100, 0)
	m.SetReg(4, rangeCap)

	c := capability.Max()
	m.SetReg(3, c.SealedCopy(42))

	require.NoError(t, m.CCopyType(2, 4, 3))
	got := m.Reg(2)
	assert.True(t, got.Tag)
	assert.Equal(t, uint64(42), got.Cursor())
	assert.Equal(t, uint64(42), got.Offset)
}

func TestCCopyType_UnsealedReportsMinusOne(t *testing.T) {
	m := testMachine(t)
	m.SetReg(4, boundedCap(t, m, 0, 0x100, 0))
	m.SetReg(3, capability.Max())

	require.NoError(t, m.CCopyType(2, 4, 3))
	got := m.Reg(2)
	assert.False(t, got.Tag)
	assert.Equal(t, ^uint64(0), got.Cursor())

	// A sentry counts as typeless here too.
	c := capability.Max()
	m.SetReg(3, c.SentryCopy())
	require.NoError(t, m.CCopyType(2, 4, 3))
	r2 := m.Reg(2)
	assert.Equal(t, ^uint64(0), r2.Cursor())
}

func TestCCopyType_TypeOutsideRangeFaults(t *testing.T) {
	m := testMachine(t)
	c := capability.Max()
	m.SetReg(3, c.SealedCopy(42))

	m.SetReg(4, boundedCap(t, m, 0x1000, 0x100, 0))
	err := m.CCopyType(2, 4, 3)
	requireFault(t, err, fault.CauseLength, 4, "type below the range base")

	m.SetReg(4, boundedCap(t, m, 0, 0x20, 0))
	err = m.CCopyType(2, 4, 3)
	requireFault(t, err, fault.CauseLength, 4, "type at or past the range top")
}
