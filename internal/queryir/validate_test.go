package queryir

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validFilter() Filter {
	return Filter{
		RunID: uuid.NewString(),
		Where: And{Predicates: []Predicate{
			OpIs{Op: "csc"},
			CauseIs{Cause: "Permit_Store_Capability Violation"},
			RegIs{Reg: 4},
			SeqRange{From: 1, To: 100},
			Faulted{},
		}},
		Limit: 50,
	}
}

func TestValidate_WellFormedFilter(t *testing.T) {
	result := Validate(validFilter())

	assert.True(t, result.OK)
	assert.Empty(t, result.Problems)
}

func TestValidate_PointerPredicates(t *testing.T) {
	f := Filter{
		RunID: uuid.NewString(),
		Where: &And{Predicates: []Predicate{
			&OpIs{Op: "clc"},
			&CauseIs{Cause: "Tag Violation"},
			&RegIs{Reg: 0},
			&SeqRange{From: 0, To: 0},
			&Faulted{},
		}},
	}

	result := Validate(f)

	assert.True(t, result.OK)
	assert.Empty(t, result.Problems)
}

func TestValidate_MissingRunID(t *testing.T) {
	result := Validate(Filter{})

	assert.False(t, result.OK)
	require.Len(t, result.Problems, 1)
	assert.Contains(t, result.Problems[0], "missing run id")
}

func TestValidate_RunIDNotUUID(t *testing.T) {
	result := Validate(Filter{RunID: "run-1"})

	assert.False(t, result.OK)
	require.Len(t, result.Problems, 1)
	assert.Contains(t, result.Problems[0], "not a uuid")
}

func TestValidate_UnknownOperation(t *testing.T) {
	f := Filter{RunID: uuid.NewString(), Where: OpIs{Op: "cfrobnicate"}}

	result := Validate(f)

	assert.False(t, result.OK)
	require.Len(t, result.Problems, 1)
	assert.Contains(t, result.Problems[0], `unknown operation "cfrobnicate"`)
}

func TestValidate_EmptyOperation(t *testing.T) {
	f := Filter{RunID: uuid.NewString(), Where: OpIs{}}

	result := Validate(f)

	assert.False(t, result.OK)
	require.Len(t, result.Problems, 1)
	assert.Contains(t, result.Problems[0], "empty operation name")
}

func TestValidate_UnknownCause(t *testing.T) {
	f := Filter{RunID: uuid.NewString(), Where: CauseIs{Cause: "Vibe Violation"}}

	result := Validate(f)

	assert.False(t, result.OK)
	require.Len(t, result.Problems, 1)
	assert.Contains(t, result.Problems[0], `unknown cause name "Vibe Violation"`)
}

func TestValidate_ReservedCauseNameRejected(t *testing.T) {
	// Reserved placeholders render from codes but do not parse back
	f := Filter{RunID: uuid.NewString(), Where: CauseIs{Cause: "Reserved 0x0b"}}

	result := Validate(f)

	assert.False(t, result.OK)
}

func TestValidate_RegisterRange(t *testing.T) {
	for _, reg := range []int{-1, 256, 1000} {
		f := Filter{RunID: uuid.NewString(), Where: RegIs{Reg: reg}}
		result := Validate(f)
		assert.False(t, result.OK, "reg %d should not validate", reg)
	}

	for _, reg := range []int{0, 31, 63, 255} {
		f := Filter{RunID: uuid.NewString(), Where: RegIs{Reg: reg}}
		result := Validate(f)
		assert.True(t, result.OK, "reg %d should validate", reg)
	}
}

func TestValidate_InvertedSeqRange(t *testing.T) {
	f := Filter{RunID: uuid.NewString(), Where: SeqRange{From: 10, To: 1}}

	result := Validate(f)

	assert.False(t, result.OK)
	require.Len(t, result.Problems, 1)
	assert.Contains(t, result.Problems[0], "inverted sequence range")
}

func TestValidate_NegativeLimit(t *testing.T) {
	f := Filter{RunID: uuid.NewString(), Limit: -5}

	result := Validate(f)

	assert.False(t, result.OK)
	require.Len(t, result.Problems, 1)
	assert.Contains(t, result.Problems[0], "negative limit")
}

func TestValidate_NilPredicateInsideAnd(t *testing.T) {
	f := Filter{
		RunID: uuid.NewString(),
		Where: And{Predicates: []Predicate{OpIs{Op: "clc"}, nil}},
	}

	result := Validate(f)

	assert.False(t, result.OK)
	require.Len(t, result.Problems, 1)
	assert.Contains(t, result.Problems[0], "nil predicate")
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	f := Filter{
		RunID: "nope",
		Where: And{Predicates: []Predicate{
			OpIs{Op: "cfrobnicate"},
			SeqRange{From: 5, To: 2},
		}},
		Limit: -1,
	}

	result := Validate(f)

	assert.False(t, result.OK)
	assert.Len(t, result.Problems, 4)
}

func TestFilterValidate_JoinsProblems(t *testing.T) {
	f := Filter{RunID: "nope", Limit: -1}

	err := f.Validate()
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "invalid filter: "))
	assert.Contains(t, err.Error(), "not a uuid")
	assert.Contains(t, err.Error(), "negative limit")

	assert.NoError(t, validFilter().Validate())
}
