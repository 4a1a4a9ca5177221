package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/warden/internal/store"
)

func TestRunScenarioAllCodecs(t *testing.T) {
	path := writeScenario(t, "probe.yaml", validScenarioYAML)

	buf := &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "✓ codec concentrate")
	assert.Contains(t, output, "✓ codec magic")
	assert.Contains(t, output, "✓ codec wide")
	assert.Contains(t, output, "Run summary: 3 passed, 0 failed")
}

func TestRunScenarioPinnedByFlag(t *testing.T) {
	path := writeScenario(t, "probe.yaml", validScenarioYAML)

	buf := &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path, "--codec", "wide"})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "✓ codec wide")
	assert.NotContains(t, output, "codec concentrate")
	assert.Contains(t, output, "Run summary: 1 passed, 0 failed")
}

func TestRunScenarioPinnedByDocument(t *testing.T) {
	path := writeScenario(t, "pinned.yaml", `
name: pinned
codec: magic
steps:
  - op: cgetlen
    cb: 2
`)

	buf := &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Run summary: 1 passed, 0 failed")
}

func TestRunFailingExpectation(t *testing.T) {
	path := writeScenario(t, "failing.yaml", `
name: failing
steps:
  - op: cgettag
    cb: 1
    expect:
      value: 0
`)

	buf := &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path, "--codec", "concentrate"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	output := buf.String()
	assert.Contains(t, output, "✗ codec concentrate")
	assert.Contains(t, output, "Run summary: 0 passed, 1 failed")
}

func TestRunUnknownCodecFlag(t *testing.T) {
	path := writeScenario(t, "probe.yaml", validScenarioYAML)

	buf := &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path, "--codec", "shannon"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "unknown codec")
}

func TestRunMissingScenario(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"/nonexistent/probe.yaml"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNotFound)
}

func TestRunRecordsTraces(t *testing.T) {
	path := writeScenario(t, "probe.yaml", validScenarioYAML)
	dbPath := filepath.Join(t.TempDir(), "traces.db")

	buf := &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path, "--trace-db", dbPath})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "run: ")

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	ids, err := st.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 3, "one recorded run per codec")

	codecs := map[string]bool{}
	for _, id := range ids {
		meta, err := st.ReadRun(ctx, id)
		require.NoError(t, err)
		codecs[meta.Codec] = true
		assert.Equal(t, int64(1), meta.Retired)
		assert.Equal(t, uint16(0), meta.FinalCause)
		assert.Len(t, meta.Identity, 64)
	}
	assert.Len(t, codecs, 3)
}

func TestRunJSONOutput(t *testing.T) {
	path := writeScenario(t, "probe.yaml", validScenarioYAML)

	buf := &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path, "--codec", "magic"})

	err := cmd.Execute()
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)

	dataMap, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "probe", dataMap["scenario"])
	assert.Equal(t, float64(1), dataMap["passed"])
	assert.Equal(t, float64(0), dataMap["failed"])
}

func TestRunVerboseEventLines(t *testing.T) {
	path := writeScenario(t, "probe.yaml", validScenarioYAML)

	buf := &bytes.Buffer{}
	errBuf := &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: "text", Verbose: true})
	cmd.SetOut(buf)
	cmd.SetErr(errBuf)
	cmd.SetArgs([]string{path, "--codec", "concentrate"})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "[1] cgettag")
}
