package machdef

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityShape(t *testing.T) {
	def, err := compileString(t, `
		name:  "m"
		codec: "concentrate"
	`)
	require.NoError(t, err)

	id, err := def.Identity()
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9a-f]{64}$`, id)

	again, err := def.Identity()
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestIdentitySpellingInvariant(t *testing.T) {
	a, err := compileString(t, `
		name:  "m"
		codec: "wide"
		mode:  "kernel"
		registers: ddc: { base: 0x1000, top: 0x3000 }
	`)
	require.NoError(t, err)

	b, err := compileString(t, `
		name:  "m"
		codec: "wide"
		registers: ddc: { base: 0x1000, length: 0x2000 }
	`)
	require.NoError(t, err)

	idA, err := a.Identity()
	require.NoError(t, err)
	idB, err := b.Identity()
	require.NoError(t, err)
	assert.Equal(t, idA, idB)
}

func TestIdentityCoversEveryKnob(t *testing.T) {
	base := `
		name:  "m"
		codec: "concentrate"
	`
	ref, err := compileString(t, base)
	require.NoError(t, err)
	refID, err := ref.Identity()
	require.NoError(t, err)

	variants := map[string]string{
		"name":      `name: "m2"` + "\ncodec: \"concentrate\"",
		"codec":     `name: "m"` + "\ncodec: \"magic\"",
		"mode":      base + `mode: "user"`,
		"unaligned": base + `policy: unaligned: "allow"`,
		"typeCheck": base + `policy: typeCheck: "log"`,
		"register":  base + `registers: gpr: "3": { base: 0, length: 8 }`,
	}
	for knob, src := range variants {
		def, err := compileString(t, src)
		require.NoError(t, err, knob)
		id, err := def.Identity()
		require.NoError(t, err, knob)
		assert.NotEqual(t, refID, id, "changing %s must change the identity", knob)
	}
}

func TestHashWithDomainSeparatesBoundary(t *testing.T) {
	// The null separator keeps ("ab", "c") and ("a", "bc") apart.
	assert.NotEqual(t,
		hashWithDomain("ab", []byte("c")),
		hashWithDomain("a", []byte("bc")))
}
