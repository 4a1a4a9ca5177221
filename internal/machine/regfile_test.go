package machine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/warden/internal/capability"
)

func TestRegName(t *testing.T) {
	assert.Equal(t, "C00", RegName(0))
	assert.Equal(t, "C07", RegName(7))
	assert.Equal(t, "C31", RegName(31))
	assert.Equal(t, "C00", RegName(32), "indexes wrap at 32")
}

func TestRegFile_RegisterZero(t *testing.T) {
	m := testMachine(t)

	assert.Equal(t, capability.Null(), m.Reg(0))

	// Pokes to the constant register are discarded.
	m.SetReg(0, capability.Max())
	assert.Equal(t, capability.Null(), m.Reg(0))

	// Operations writing register 0 discard too, and report no change.
	rec := &recorder{}
	m2 := testMachine(t, WithObserver(rec))
	require.NoError(t, m2.CIncOffset(0, 1, 16))
	assert.Equal(t, capability.Null(), m2.Reg(0))
	assert.Empty(t, rec.last(t).Target)
}

func TestRegFile_RegisterZeroReadsDDCForAuthorizingOperands(t *testing.T) {
	m := testMachine(t)
	ddc := boundedCap(t, m, 0x1000, 0x100, 0)
	m.SetHwReg(HwrDDC, ddc)

	// CToPtr's authorizing operand redefines index 0 as DDC.
	m.SetReg(2, boundedCap(t, m, 0x1000, 0x100, 0x20))
	v, err := m.CToPtr(2, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x20), v)
}

func TestLookupRegister(t *testing.T) {
	m := testMachine(t)
	c := boundedCap(t, m, 0x1000, 0x100, 4)
	m.SetReg(5, c)

	got, err := m.LookupRegister("C05")
	require.NoError(t, err)
	assert.Equal(t, c, got)

	got, err = m.LookupRegister("PCC")
	require.NoError(t, err)
	assert.Equal(t, capability.Max(), got)

	got, err = m.LookupRegister("CapBranchTarget")
	require.NoError(t, err)
	assert.Equal(t, capability.Null(), got)

	for _, name := range []string{"DDC", "UserTlsCap", "PrivTlsCap", "KR1C",
		"KR2C", "ErrorEPCC", "KCC", "KDC", "EPCC"} {
		got, err = m.LookupRegister(name)
		require.NoError(t, err, name)
		assert.Equal(t, capability.Max(), got, name)
	}

	_, err = m.LookupRegister("C32")
	assert.Error(t, err)
	_, err = m.LookupRegister("c05")
	assert.Error(t, err)
	_, err = m.LookupRegister("C5")
	assert.Error(t, err, "short forms are not register names")
	_, err = m.LookupRegister("IDC")
	assert.Error(t, err)
}

func TestSetRegisterByName(t *testing.T) {
	m := testMachine(t)
	c := boundedCap(t, m, 0x2000, 0x40, 0)

	require.NoError(t, m.SetRegisterByName("C09", c))
	assert.Equal(t, c, m.Reg(9))

	require.NoError(t, m.SetRegisterByName("KDC", c))
	got, ok := m.HwReg(HwrKDC)
	require.True(t, ok)
	assert.Equal(t, c, got)

	require.NoError(t, m.SetRegisterByName("PCC", c))
	assert.Equal(t, c, m.PCC())

	require.NoError(t, m.SetRegisterByName("CapBranchTarget", c))
	assert.Equal(t, c, m.BranchTarget())

	assert.Error(t, m.SetRegisterByName("C99", c))
}

func TestHwReg_UnknownIndex(t *testing.T) {
	m := testMachine(t)

	_, ok := m.HwReg(2)
	assert.False(t, ok)
	assert.False(t, m.SetHwReg(2, capability.Max()))
}

func TestSetHwReg_RoundTrip(t *testing.T) {
	m := testMachine(t)
	c := boundedCap(t, m, 0x3000, 0x20, 8)

	require.True(t, m.SetHwReg(HwrUserTls, c))
	got, ok := m.HwReg(HwrUserTls)
	require.True(t, ok)
	assert.Equal(t, c, got)
}

func TestIDC_IsGeneralRegister26(t *testing.T) {
	assert.Equal(t, 26, IDC)
	assert.Equal(t, "C26", RegName(IDC))
}
