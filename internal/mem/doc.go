// Package mem implements sparse tagged physical memory.
//
// Pages are 4 KiB and allocated on first touch, covering the full 64-bit
// space. Multi-byte scalars and capability words are big-endian. Each
// capability granule carries one tag bit and two opaque sideband words;
// the sideband belongs to whichever codec the machine runs, the memory
// just stores it.
//
// The tag store is the safety-critical piece: scalar writes must
// invalidate every granule they touch, while the codec word path
// (capability.TagIO) leaves tags alone so a capability store can commit
// its tag first and then its data words.
//
// Memory is not safe for concurrent use. The machine is a single-writer
// loop; snapshots and the debug wire read between operations.
package mem
