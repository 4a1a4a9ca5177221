// Package capability defines the capability value type and its three
// memory representations.
//
// This package is the foundational layer: machine, mem, trace and
// snapshot all import capability; capability imports nothing internal.
//
// A Capability is an unforgeable, bounded reference. Its bounds run from
// Base up to an exclusive 65-bit Top, the cursor is Base+Offset, and the
// metadata carries permission bits, four software-defined permission
// bits, and an 18-bit object type whose top four values are reserved
// encodings (unsealed, sentry, two spares).
//
// Key design constraints:
//   - Top is 65 bits (Top65), never a truncated uint64. A capability to
//     the whole address space has Top = 1<<64.
//   - The tag is the only authority bit. Untagged values are plain data
//     and round-trip through memory bit-exactly.
//   - Codecs own representability. Operations never inspect the format;
//     they ask the Codec whether bounds survive, and the compressed
//     format answers by re-deriving its decode.
//
// Three codecs implement the Codec interface:
//   - Concentrate: compressed 128-bit format, floating-point style
//     bounds with a 14-bit mantissa. Bounds setting may round; offset
//     movement may become unrepresentable.
//   - Magic: 128-bit words plus out-of-band metadata in the tag
//     sideband. Exact bounds, trivial representability.
//   - Wide: 256-bit format with all metadata in data words. Exact.
package capability
