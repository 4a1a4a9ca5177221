package machine

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/warden/internal/capability"
	"github.com/roach88/warden/internal/fault"
)

func TestInvoke_UnknownOp(t *testing.T) {
	m := testMachine(t)

	_, err := m.Invoke("bogus", Args{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown operation "bogus"`)
	assert.Equal(t, int64(0), m.RetireCount(), "nothing retires on a bad mnemonic")
}

func TestInvoke_InvalidScalarSize(t *testing.T) {
	m := testMachine(t)

	for _, op := range []string{"cload", "cstore", "cloadlinked", "cstorecond", "checkload"} {
		_, err := m.Invoke(op, Args{Size: 3})
		require.Error(t, err, op)
		assert.Contains(t, err.Error(), "invalid scalar size 3", op)
	}
	assert.Equal(t, int64(0), m.RetireCount())
}

func TestInvoke_ValueOutcome(t *testing.T) {
	m := testMachine(t)

	out, err := m.Invoke("cgetlen", Args{Cb: 1})
	require.NoError(t, err)
	assert.True(t, out.HasValue)
	assert.Equal(t, ^uint64(0), out.Value)
}

func TestInvoke_RegisterEffectWithoutValue(t *testing.T) {
	m := testMachine(t)

	out, err := m.Invoke("cincoffset", Args{Cd: 2, Cb: 1, Rt: 4})
	require.NoError(t, err)
	assert.False(t, out.HasValue)
	assert.Equal(t, uint64(4), m.Reg(2).Offset)
}

func TestInvoke_OperandRoles(t *testing.T) {
	m := testMachine(t)
	c := boundedCap(t, m, 0x3000, 0x100, 0x40)
	m.SetReg(2, c)

	// csc takes the value in cs and the bearer in cb.
	out, err := m.Invoke("csc", Args{Cs: 2, Cb: 0, Rt: 0x320})
	require.NoError(t, err)
	assert.True(t, out.HasValue)
	assert.Equal(t, uint64(0x320), out.Value)
	assert.True(t, m.Mem().Tag(0x320))

	out, err = m.Invoke("clc", Args{Cd: 5, Cb: 0, Rt: 0x300, Imm: 2})
	require.NoError(t, err)
	assert.False(t, out.HasValue)
	assert.Equal(t, c.Base, m.Reg(5).Base)
}

func TestInvoke_FaultPropagatesAndRetires(t *testing.T) {
	m := testMachine(t)
	m.SetReg(3, capability.IntCap(0))

	_, err := m.Invoke("candperm", Args{Cd: 2, Cb: 3})
	requireFault(t, err, fault.CauseTag, 3)
	assert.Equal(t, int64(1), m.RetireCount(), "faulting operations still retire")
}

func TestInvoke_BranchPredicateValue(t *testing.T) {
	m := testMachine(t)

	out, err := m.Invoke("cbez", Args{Cb: 0})
	require.NoError(t, err)
	require.True(t, out.HasValue)
	assert.Equal(t, uint64(1), out.Value)

	out, err = m.Invoke("cbnz", Args{Cb: 0})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), out.Value)
}

func TestInvoke_CommitBranchDoesNotRetire(t *testing.T) {
	m := testMachine(t)
	code := boundedCap(t, m, 0x2000, 0x100, 0x40)
	m.SetReg(4, code)

	out, err := m.Invoke("cjr", Args{Cb: 4})
	require.NoError(t, err)
	require.True(t, out.HasValue)

	_, err = m.Invoke("commitbranch", Args{Addr: out.Value})
	require.NoError(t, err)
	assert.Equal(t, uint64(0x2040), m.PC())
	assert.Equal(t, uint64(0x2000), m.PCC().Base)
	assert.Equal(t, int64(1), m.RetireCount(), "only the jump retires")
}

func TestOps_Sorted(t *testing.T) {
	names := Ops()
	assert.True(t, sort.StringsAreSorted(names))

	for _, want := range []string{
		"ccall", "cjalr", "clc", "cload", "commitbranch",
		"csetbounds", "cseal", "ctestsubset", "checkstoreright",
	} {
		assert.Contains(t, names, want)
	}
}
