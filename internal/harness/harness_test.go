package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/warden/internal/machine"
)

// TestScenarioSuite runs every checked-in scenario under every codec it
// allows. A failing expectation prints the offending clause per codec.
func TestScenarioSuite(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		name := filepath.Base(file)
		t.Run(name, func(t *testing.T) {
			sc, err := LoadFile(file)
			require.NoError(t, err)

			results, err := Run(sc)
			require.NoError(t, err)
			for _, res := range results {
				for _, msg := range res.Errors {
					t.Errorf("[%s] %s", res.Codec, msg)
				}
			}
		})
	}
}

func TestRun_SweepsAllCodecs(t *testing.T) {
	sc, err := Load([]byte("name: sweep\nsteps:\n  - op: cgettag\n    cb: 1\n    expect:\n      value: 1\n"))
	require.NoError(t, err)

	results, err := Run(sc)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "concentrate", results[0].Codec)
	assert.Equal(t, "magic", results[1].Codec)
	assert.Equal(t, "wide", results[2].Codec)
	for _, res := range results {
		assert.True(t, res.Pass)
		assert.Len(t, res.Events, 1)
	}
}

func TestRun_HonorsPinnedCodec(t *testing.T) {
	sc, err := Load([]byte("name: pinned\ncodec: magic\nsteps:\n  - op: cgettag\n    cb: 1\n"))
	require.NoError(t, err)

	results, err := Run(sc)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "magic", results[0].Codec)
}

func TestRun_ReportsValueMismatch(t *testing.T) {
	sc, err := Load([]byte("name: wrong\nsteps:\n  - op: cgettag\n    cb: 0\n    expect:\n      value: 1\n"))
	require.NoError(t, err)

	res, err := RunCodec(sc, "concentrate")
	require.NoError(t, err)
	assert.False(t, res.Pass)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "step 0 (cgettag)")
	assert.Contains(t, res.Errors[0], "value 0x0, expected 0x1")
}

func TestRun_ExpectedFaultContinues(t *testing.T) {
	doc := `
name: fault-then-go
steps:
  - op: ccleartag
    cd: 1
    cb: 1
  - op: cload
    cb: 1
    size: 8
    expect:
      fault: "Tag Violation"
      reg: 1
  - op: cgettag
    cb: 2
    expect:
      value: 1
`
	sc, err := Load([]byte(doc))
	require.NoError(t, err)

	res, err := RunCodec(sc, "concentrate")
	require.NoError(t, err)
	assert.True(t, res.Pass, "errors: %v", res.Errors)
	require.Len(t, res.Events, 3)
	assert.Nil(t, res.Events[0].Fault)
	require.NotNil(t, res.Events[1].Fault)
	assert.Nil(t, res.Events[2].Fault)
}

func TestRun_UnexpectedFaultFails(t *testing.T) {
	doc := `
name: boom
steps:
  - op: ccleartag
    cd: 1
    cb: 1
  - op: cload
    cb: 1
    size: 8
`
	sc, err := Load([]byte(doc))
	require.NoError(t, err)

	res, err := RunCodec(sc, "concentrate")
	require.NoError(t, err)
	assert.False(t, res.Pass)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "unexpected fault")
	assert.Contains(t, res.Errors[0], "Tag Violation")
}

func TestRun_WrongFaultReported(t *testing.T) {
	doc := `
name: wrong-fault
steps:
  - op: ccleartag
    cd: 1
    cb: 1
  - op: cload
    cb: 1
    size: 8
    expect:
      fault: "Length Violation"
`
	sc, err := Load([]byte(doc))
	require.NoError(t, err)

	res, err := RunCodec(sc, "concentrate")
	require.NoError(t, err)
	assert.False(t, res.Pass)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], `expected fault "Length Violation", got "Tag Violation"`)
}

func TestRun_CleanRetireWhenFaultExpected(t *testing.T) {
	doc := `
name: no-fault
steps:
  - op: cgettag
    cb: 1
    expect:
      fault: "Tag Violation"
`
	sc, err := Load([]byte(doc))
	require.NoError(t, err)

	res, err := RunCodec(sc, "concentrate")
	require.NoError(t, err)
	assert.False(t, res.Pass)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "retired cleanly")
}

func TestRun_InfrastructureErrorAborts(t *testing.T) {
	sc := &Scenario{
		Name:  "bad-size",
		Steps: []Step{{Op: "cload", Args: machine.Args{Cb: 1, Size: 3}}},
	}
	_, err := RunCodec(sc, "concentrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid scalar size")
}

func TestRun_EventsCarryRetireSequence(t *testing.T) {
	doc := `
name: seq
steps:
  - op: cgettag
    cb: 1
  - op: cgetlen
    cb: 1
  - op: cgetbase
    cb: 1
`
	sc, err := Load([]byte(doc))
	require.NoError(t, err)

	res, err := RunCodec(sc, "wide")
	require.NoError(t, err)
	require.Len(t, res.Events, 3)
	for i, ev := range res.Events {
		assert.Equal(t, int64(i+1), ev.Seq)
	}
}
