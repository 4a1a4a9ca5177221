package machine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuntimeError_Format(t *testing.T) {
	err := &RuntimeError{Code: ErrCodeBadPolicy, Message: "no such policy"}
	assert.Equal(t, "BAD_POLICY: no such policy", err.Error())

	err.Op = "cload"
	assert.Equal(t, "BAD_POLICY: no such policy (op=cload)", err.Error())
}

func TestIsUnknownOp(t *testing.T) {
	m := New()

	_, err := m.Invoke("bogus", Args{})
	require.Error(t, err)
	assert.True(t, IsUnknownOp(err))
	assert.True(t, IsUnknownOp(fmt.Errorf("dispatch: %w", err)))

	_, err = m.Invoke("cload", Args{Size: 3})
	require.Error(t, err)
	assert.False(t, IsUnknownOp(err))
}

func TestAsRuntimeError(t *testing.T) {
	m := New()

	_, err := m.Invoke("cload", Args{Size: 3})
	require.Error(t, err)

	re := AsRuntimeError(err)
	require.NotNil(t, re)
	assert.Equal(t, ErrCodeBadOperand, re.Code)
	assert.Equal(t, "3", re.Details["size"])

	assert.Nil(t, AsRuntimeError(fmt.Errorf("plain")))
}

func TestLookupRegister_UnknownIsRegisterError(t *testing.T) {
	m := New()

	_, err := m.LookupRegister("Q99")
	require.Error(t, err)

	re := AsRuntimeError(err)
	require.NotNil(t, re)
	assert.Equal(t, ErrCodeUnknownRegister, re.Code)
}
