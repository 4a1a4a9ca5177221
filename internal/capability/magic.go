package capability

// Magic is the uncompressed 128-bit format: base and cursor in the data
// words, with object type, permissions, sealed bit and a 64-bit saturated
// length riding out-of-band in the tag sideband. Every bound is exact, so
// the representability queries are trivial. A top of exactly 1<<64 narrows
// by one byte on reload; that narrowing is monotone-safe and a fixed point.
type Magic struct{}

// Name implements Codec.
func (Magic) Name() string { return CodecMagic }

// GranuleBytes implements Codec.
func (Magic) GranuleBytes() uint64 { return 16 }

// Load implements Codec.
func (Magic) Load(m TagIO, addr uint64) Capability {
	base := m.ReadWord(addr)
	cursor := m.ReadWord(addr + 8)
	tag, tps, lenX := m.ReadTagMeta(addr)

	otype, perms, uperms, sbit := unpackTPS(tps)
	return Capability{
		Tag:    tag,
		Base:   base,
		Top:    T65(base).AddU64(lenX ^ ^uint64(0)),
		Offset: cursor - base,
		Perms:  perms,
		UPerms: uperms,
		OType:  otype,
		sbit:   sbit,
	}
}

// Store implements Codec. The sideband carries the metadata with the tag;
// it is written before the data words.
func (Magic) Store(m TagIO, addr uint64, c *Capability) {
	m.WriteTagMeta(addr, c.Tag, tpsWord(c), lengthXWord(c))
	m.WriteWord(addr, c.Base)
	m.WriteWord(addr+8, c.Cursor())
}

// ClearTag implements Codec. The sealed bit stored for an untagged value
// comes from its memory remnant, which a register-born value does not
// have; only the tag changes here.
func (Magic) ClearTag(c *Capability) Capability {
	r := *c
	r.Tag = false
	return r
}

// Representable implements Codec: bounds are stored exactly.
func (Magic) Representable(*Capability, uint64) bool { return true }

// RepresentableWhenSealed implements Codec.
func (Magic) RepresentableWhenSealed(*Capability, uint64) bool { return true }

// SetBounds implements Codec: always exact.
func (Magic) SetBounds(c *Capability, top Top65) (Capability, bool) {
	r := *c
	r.Base = c.Cursor()
	r.Top = top
	r.Offset = 0
	return r, true
}

// RepresentableLength implements Codec.
func (Magic) RepresentableLength(length uint64) uint64 { return length }

// AlignmentMask implements Codec.
func (Magic) AlignmentMask(uint64) uint64 { return ^uint64(0) }
