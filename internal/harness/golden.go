package harness

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/warden/internal/trace"
)

// Snapshot renders results into the golden fixture form: one block per
// codec, one line per retired operation in the packed entry layout.
// Faulting operations render the exception text instead of value words.
// The rendering is deterministic, so byte equality is trace equality.
func Snapshot(results []*Result) []byte {
	var buf bytes.Buffer
	for _, res := range results {
		fmt.Fprintf(&buf, "scenario %s codec %s pass=%t\n", res.Scenario, res.Codec, res.Pass)
		for _, ev := range res.Events {
			if ev.Fault != nil {
				fmt.Fprintf(&buf, "%3d %-12s pc=%016x fault %s\n", ev.Seq, ev.Op, ev.PC, ev.Fault.Error())
				continue
			}
			e := trace.PackEvent(ev)
			fmt.Fprintf(&buf, "%3d %-12s pc=%016x v=%02d %016x %016x %016x %016x %016x\n",
				ev.Seq, ev.Op, ev.PC, e.Version, e.Val1, e.Val2, e.Val3, e.Val4, e.Val5)
		}
		for _, msg := range res.Errors {
			fmt.Fprintf(&buf, "error %s\n", msg)
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// RunWithGolden executes the scenario and compares the rendered stream to
// the fixture named after it under testdata/golden. Expectation failures
// fail the test directly as well, so a broken scenario reports both the
// failed clause and the trace drift.
func RunWithGolden(t *testing.T, sc *Scenario) []*Result {
	t.Helper()

	results, err := Run(sc)
	if err != nil {
		t.Fatalf("running scenario %s: %v", sc.Name, err)
	}
	for _, res := range results {
		for _, msg := range res.Errors {
			t.Errorf("%s [%s]: %s", res.Scenario, res.Codec, msg)
		}
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, sc.Name, Snapshot(results))
	return results
}
