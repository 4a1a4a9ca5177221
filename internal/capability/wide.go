package capability

// Wide is the 256-bit format: four data words holding metadata, cursor,
// base and saturated length, with only the tag itself in the sideband.
// Word zero packs the object type, permissions and sealed bit exactly the
// way the sideband word of the 128-bit formats does, which keeps the null
// image all-zero.
type Wide struct{}

// Name implements Codec.
func (Wide) Name() string { return CodecWide }

// GranuleBytes implements Codec.
func (Wide) GranuleBytes() uint64 { return 32 }

// Load implements Codec.
func (Wide) Load(m TagIO, addr uint64) Capability {
	tps := m.ReadWord(addr)
	cursor := m.ReadWord(addr + 8)
	base := m.ReadWord(addr + 16)
	lenX := m.ReadWord(addr + 24)
	tag, _, _ := m.ReadTagMeta(addr)

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

// Store implements Codec. The tag is committed before the data words.
func (Wide) Store(m TagIO, addr uint64, c *Capability) {
	m.WriteTagMeta(addr, c.Tag, 0, 0)
	m.WriteWord(addr, tpsWord(c))
	m.WriteWord(addr+8, c.Cursor())
	m.WriteWord(addr+16, c.Base)
	m.WriteWord(addr+24, lengthXWord(c))
}

// ClearTag implements Codec.
func (Wide) ClearTag(c *Capability) Capability {
	r := *c
	r.Tag = false
	return r
}

// Representable implements Codec: bounds are stored exactly.
func (Wide) Representable(*Capability, uint64) bool { return true }

// RepresentableWhenSealed implements Codec.
func (Wide) RepresentableWhenSealed(*Capability, uint64) bool { return true }

// SetBounds implements Codec: always exact.
func (Wide) SetBounds(c *Capability, top Top65) (Capability, bool) {
	r := *c
	r.Base = c.Cursor()
	r.Top = top
	r.Offset = 0
	return r, true
}

// RepresentableLength implements Codec.
func (Wide) RepresentableLength(length uint64) uint64 { return length }

// AlignmentMask implements Codec.
func (Wide) AlignmentMask(uint64) uint64 { return ^uint64(0) }
