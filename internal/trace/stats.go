package trace

import (
	"fmt"
	"io"
	"sort"

	"github.com/roach88/warden/internal/capability"
)

// boundsBuckets are the histogram limits for out-of-bounds distances, in
// bytes. A distance lands in the first bucket whose limit it does not
// exceed; anything past the last limit lands in the overflow bucket.
var boundsBuckets = [...]uint64{
	1, 2, 4, 8, 16, 32, 64, 256, 1024, 4096, 64 << 10, 1 << 20, 64 << 20,
}

var boundsBucketNames = [...]string{
	"1", "2", "4", "8", "16", "32", "64", "256", "1024", "4096",
	"64k", "1M", "64M", ">64M",
}

func bucketIndex(distance uint64) int {
	for i, limit := range boundsBuckets {
		if distance <= limit {
			return i
		}
	}
	return len(boundsBuckets)
}

// MissDistance reports how far a capability's offset strayed from its
// bounds: positive counts bytes past the top, negative counts bytes before
// the base, zero is in bounds. Untagged capabilities are never counted.
// One past the end reports zero here; OpBounds tracks it separately.
func MissDistance(c *capability.Capability) int64 {
	if !c.Tag {
		return 0
	}
	length := c.LengthSat()
	offset := c.Offset
	if offset == length {
		return 0
	}
	if offset > length {
		if int64(offset) < int64(length) {
			return int64(offset)
		}
		return int64(offset - length + 1)
	}
	return 0
}

// OpBounds aggregates pointer-arithmetic results for one operation: how
// many retired, how many landed exactly one past the end, how many left the
// representable region, and histograms of in-tag out-of-bounds distances
// past the top (After) and before the base (Before).
type OpBounds struct {
	Total           int64
	OnePastEnd      int64
	Unrepresentable int64
	After           [len(boundsBuckets) + 1]int64
	Before          [len(boundsBuckets) + 1]int64
}

// Stats collects machine counters. It is an Observer for the per-op
// bookkeeping and exposes direct hooks for the counters only the machine
// can see (capability memory traffic, instruction counts, unrepresentable
// results). Not safe for concurrent use; the machine drives it from its
// writer.
type Stats struct {
	retired map[string]int64
	bounds  map[string]*OpBounds

	capReads         int64
	capReadsTagged   int64
	capWrites        int64
	capWritesTagged  int64
	instUser         int64
	instKernel       int64
	impreciseSetBnds int64
}

// NewStats creates an empty collector.
func NewStats() *Stats {
	return &Stats{
		retired: make(map[string]int64),
		bounds:  make(map[string]*OpBounds),
	}
}

func (s *Stats) opBounds(op string) *OpBounds {
	b := s.bounds[op]
	if b == nil {
		b = &OpBounds{}
		s.bounds[op] = b
	}
	return b
}

// OpRetired implements Observer: counts the retire against the op's total.
func (s *Stats) OpRetired(ev Event) {
	s.retired[ev.Op]++
}

// TrackArithmetic buckets one pointer-arithmetic result. The machine calls
// it for the offset-moving operations (CSetAddr and CAndAddr fold into the
// cincoffset aggregate, matching the hardware counters).
func (s *Stats) TrackArithmetic(op string, c *capability.Capability) {
	b := s.opBounds(op)
	b.Total++
	if !c.Tag {
		return
	}
	if c.Offset == c.LengthSat() {
		b.OnePastEnd++
		return
	}
	d := MissDistance(c)
	switch {
	case d > 0:
		b.After[bucketIndex(uint64(d))]++
	case d < 0:
		b.Before[bucketIndex(uint64(-d))]++
	}
}

// Unrepresentable counts an offset-moving result that left the
// representable region and retired as the untagged marker.
func (s *Stats) Unrepresentable(op string) {
	s.opBounds(op).Unrepresentable++
}

// CapRead counts a capability-sized memory read and whether it was tagged.
func (s *Stats) CapRead(tagged bool) {
	s.capReads++
	if tagged {
		s.capReadsTagged++
	}
}

// CapWrite counts a capability-sized memory write and whether it was tagged.
func (s *Stats) CapWrite(tagged bool) {
	s.capWrites++
	if tagged {
		s.capWritesTagged++
	}
}

// Instruction counts one retired operation against the kernel or user
// bucket.
func (s *Stats) Instruction(kernel bool) {
	if kernel {
		s.instKernel++
	} else {
		s.instUser++
	}
}

// ImpreciseSetBounds counts a bounds-setting request the codec had to
// widen.
func (s *Stats) ImpreciseSetBounds() {
	s.impreciseSetBnds++
}

// Retired returns how many times op retired.
func (s *Stats) Retired(op string) int64 {
	return s.retired[op]
}

// Bounds returns a copy of the bounds aggregate for op.
func (s *Stats) Bounds(op string) OpBounds {
	if b := s.bounds[op]; b != nil {
		return *b
	}
	return OpBounds{}
}

// CapReads returns total and tagged capability reads.
func (s *Stats) CapReads() (total, tagged int64) {
	return s.capReads, s.capReadsTagged
}

// CapWrites returns total and tagged capability writes.
func (s *Stats) CapWrites() (total, tagged int64) {
	return s.capWrites, s.capWritesTagged
}

// Instructions returns the user and kernel retire counts.
func (s *Stats) Instructions() (user, kernel int64) {
	return s.instUser, s.instKernel
}

// ImpreciseSetBoundsCount returns how many bounds requests were widened.
func (s *Stats) ImpreciseSetBoundsCount() int64 {
	return s.impreciseSetBnds
}

// Dump writes a plain-text report of every counter.
func (s *Stats) Dump(w io.Writer) error {
	ops := make([]string, 0, len(s.retired))
	for op := range s.retired {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	for _, op := range ops {
		if _, err := fmt.Fprintf(w, "%s: %d\n", op, s.retired[op]); err != nil {
			return err
		}
		b := s.bounds[op]
		if b == nil {
			continue
		}
		if _, err := fmt.Fprintf(w, "  one past the end: %d, unrepresentable: %d\n",
			b.OnePastEnd, b.Unrepresentable); err != nil {
			return err
		}
		if err := dumpHistogram(w, "after bounds", b.After); err != nil {
			return err
		}
		if err := dumpHistogram(w, "before bounds", b.Before); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "cap reads: %d (%d tagged)\ncap writes: %d (%d tagged)\n",
		s.capReads, s.capReadsTagged, s.capWrites, s.capWritesTagged); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "instructions: user %d, kernel %d\n",
		s.instUser, s.instKernel); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "imprecise setbounds: %d\n", s.impreciseSetBnds)
	return err
}

func dumpHistogram(w io.Writer, label string, counts [len(boundsBuckets) + 1]int64) error {
	total := int64(0)
	for _, n := range counts {
		total += n
	}
	if total == 0 {
		return nil
	}
	if _, err := fmt.Fprintf(w, "  %s:", label); err != nil {
		return err
	}
	for i, n := range counts {
		if n == 0 {
			continue
		}
		if _, err := fmt.Fprintf(w, " %s=%d", boundsBucketNames[i], n); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}
