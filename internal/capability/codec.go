package capability

import "fmt"

// Codec names accepted by machine definitions.
const (
	CodecConcentrate = "concentrate"
	CodecMagic       = "magic"
	CodecWide        = "wide"
)

// TagIO is the memory view a codec reads and writes through: 64-bit
// big-endian data words, one tag bit per granule, and two opaque sideband
// words per granule. Only the magic codec uses the sideband; the others
// pass zeros. Addresses handed to a codec are granule-aligned and already
// legality-checked.
type TagIO interface {
	ReadWord(addr uint64) uint64
	WriteWord(addr uint64, v uint64)
	// ReadTagMeta returns the granule's tag bit and sideband words.
	ReadTagMeta(addr uint64) (tag bool, m0, m1 uint64)
	// WriteTagMeta sets the granule's tag bit and sideband words. Codecs
	// call it BEFORE the data words so a fault cannot leave a tagged,
	// half-written granule (the store path has no fault left at this
	// point; the ordering guards the documented single-writer contract).
	WriteTagMeta(addr uint64, tag bool, m0, m1 uint64)
}

// Codec is one in-memory capability format. It is chosen once, when the
// machine is built; operations never branch on the variant. Everything
// format-specific lives here: the wire image, the memory load/store
// contract, representability, bounds-setting exactness and the
// representable-length queries.
type Codec interface {
	Name() string
	// GranuleBytes is the size and alignment of one capability in memory.
	GranuleBytes() uint64

	// Load decodes the capability at a granule-aligned address. The tag
	// comes from the tag store; untagged loads retain the codec's remnant
	// so a later Store writes the byte-identical image.
	Load(m TagIO, addr uint64) Capability
	// Store encodes c at a granule-aligned address, writing tag and
	// sideband before the data words.
	Store(m TagIO, addr uint64, c *Capability)

	// ClearTag returns c untagged with the codec's memory view refreshed,
	// so the image stored later reflects the capability as it was when
	// the tag was cleared.
	ClearTag(c *Capability) Capability

	// Representable reports whether moving the cursor to base+newOffset
	// keeps the encoded bounds intact.
	Representable(c *Capability, newOffset uint64) bool
	// RepresentableWhenSealed is the sealing-time variant of the same
	// predicate.
	RepresentableWhenSealed(c *Capability, offset uint64) bool

	// SetBounds derives from c a capability spanning [c.Cursor(), top).
	// The result's offset is zero. Codecs with compressed bounds may
	// round outward and report exact=false; the rounded region always
	// contains the requested one.
	SetBounds(c *Capability, top Top65) (derived Capability, exact bool)

	// RepresentableLength rounds a requested length up to one that can be
	// set exactly at a suitably aligned base (CRRL).
	RepresentableLength(length uint64) uint64
	// AlignmentMask returns the base-alignment mask under which a region
	// of the given length is exactly representable (CRAM).
	AlignmentMask(length uint64) uint64
}

// ByName returns the codec for a machine-definition name.
func ByName(name string) (Codec, error) {
	switch name {
	case CodecConcentrate:
		return Concentrate{}, nil
	case CodecMagic:
		return Magic{}, nil
	case CodecWide:
		return Wide{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q (valid: %s, %s, %s)",
			name, CodecConcentrate, CodecMagic, CodecWide)
	}
}

// Names lists the valid codec names in definition order.
func Names() []string {
	return []string{CodecConcentrate, CodecMagic, CodecWide}
}

// tpsWord packs otype, composite permissions and the sealed bit into the
// sideband/metadata word shared by the magic and wide formats. The otype is
// XORed with the unsealed encoding so the null capability packs to zero.
func tpsWord(c *Capability) uint64 {
	sbit := c.sbit
	if c.Tag {
		sbit = c.IsSealed()
	}
	w := (uint64(c.OType) ^ uint64(MaxReprOType)) << 32
	w |= CompositePerms(c.Perms, c.UPerms) << 1
	if sbit {
		w |= 1
	}
	return w
}

// unpackTPS splits a tps word into otype, perms, uperms and the sealed bit.
// The otype keeps junk above bit 17 so untagged images round-trip.
func unpackTPS(w uint64) (otype OType, perms, uperms Perms, sbit bool) {
	otype = OType(uint32(w>>32)) ^ MaxReprOType
	perms = Perms(w>>1) & PermsAll
	uperms = Perms((w>>1)>>UPermsShift) & UPermsAll
	sbit = w&1 != 0
	return
}

// lengthXWord is the stored form of the 64-bit saturated length, inverted
// so a null (whole-space) capability stores zero.
func lengthXWord(c *Capability) uint64 {
	return c.LengthSat() ^ ^uint64(0)
}
