package capability

import "math/bits"

// Concentrate field geometry. The metadata word (PESBT) packs, high to low:
// uperms[63:60], hwperms[59:49], reserved[48:46], flags[45], otype[44:27],
// IE[26], T[25:14], B[13:0]. With IE set, the low three bits of T hold
// E[5:3] and the low three bits of B hold E[2:0], and the bound mantissas
// are the remaining bits with three implied zeros.
const (
	ccMW   = 14 // mantissa width (B field)
	ccMaxE = 52

	ccBMask uint32 = 1<<ccMW - 1 // 0x3FFF
	ccTMask uint32 = 0xFFF      // stored T field (12 bits)

	// concentrateNullMask is the PESBT of the null capability. Stored
	// words are XORed with it so null's in-memory image is all zeros.
	concentrateNullMask uint64 = 0x00001ffffc018004
)

// Concentrate is the compressed 128-bit format: a 16-byte image holding the
// metadata word and the cursor, with bounds recovered from the cursor's
// high bits. Offsets can leave the representable window; SetBounds may
// round outward.
type Concentrate struct{}

// Name implements Codec.
func (Concentrate) Name() string { return CodecConcentrate }

// GranuleBytes implements Codec.
func (Concentrate) GranuleBytes() uint64 { return 16 }

// Load implements Codec. The raw metadata word is retained as the remnant
// on every load, so untagged values write back byte-identically.
func (Concentrate) Load(m TagIO, addr uint64) Capability {
	raw := m.ReadWord(addr)
	cursor := m.ReadWord(addr + 8)
	tag, _, _ := m.ReadTagMeta(addr)

	c := decodeConcentrate(raw, cursor)
	c.Tag = tag
	return c
}

// Store implements Codec. Tagged values re-encode (bounds may have been
// rewritten since the last decode); untagged values store their remnant.
func (Concentrate) Store(m TagIO, addr uint64, c *Capability) {
	raw := c.remnant
	if c.Tag {
		raw = encodePESBT(c) ^ concentrateNullMask
	}
	m.WriteTagMeta(addr, c.Tag, 0, 0)
	m.WriteWord(addr, raw)
	m.WriteWord(addr+8, c.Cursor())
}

// ClearTag implements Codec: the remnant is refreshed from the current
// fields so the image stored later shows the capability as cleared.
func (Concentrate) ClearTag(c *Capability) Capability {
	r := *c
	r.Tag = false
	r.remnant = encodePESBT(c) ^ concentrateNullMask
	return r
}

// Representable implements Codec: encode the bounds once, decode them
// against the moved cursor, and require the bounds to survive.
func (Concentrate) Representable(c *Capability, newOffset uint64) bool {
	ebt := encodeEBT(c.Base, c.Top)
	base, top := decodeBounds(ebt, c.Base+newOffset)
	return base == c.Base && top == c.Top
}

// RepresentableWhenSealed implements Codec. The object type has its own
// field here, so sealing does not steal bounds bits.
func (cc Concentrate) RepresentableWhenSealed(c *Capability, offset uint64) bool {
	return cc.Representable(c, offset)
}

// SetBounds implements Codec. Mirrors the architectural CapSetBounds: pick
// the exponent from the requested length, round the mantissas outward when
// precision is lost, bump the exponent when the rounded length overflows,
// then decode the chosen encoding to obtain the actual bounds. The cursor
// is preserved; exact reports whether nothing rounded.
func (Concentrate) SetBounds(c *Capability, top Top65) (Capability, bool) {
	base := c.Cursor()
	length := top.SubU64(base)
	e := computeE(length)
	ie := e != 0 || length.Lo>>12&1 != 0

	r := *c
	if !ie {
		r.Base = base
		r.Top = top
		r.Offset = 0
		return r, true
	}

	bIE := uint32(base>>(e+3)) & 0x7FF
	tIE := uint32(shr65(top, e+3)) & 0x7FF
	maskLo := uint64(1)<<(e+3) - 1
	lostBase := base&maskLo != 0
	lostTop := top.Lo&maskLo != 0
	if lostTop {
		tIE = (tIE + 1) & 0x7FF
	}
	if lIE := (tIE - bIE) & 0x7FF; lIE&0x400 != 0 {
		// The rounded length needs one more exponent step.
		lostBase = lostBase || bIE&1 != 0
		lostTop = lostTop || tIE&1 != 0
		incT := uint32(0)
		if lostTop {
			incT = 1
		}
		bIE = uint32(base>>(e+4)) & 0x7FF
		tIE = (uint32(shr65(top, e+4)) + incT) & 0x7FF
		e++
	}

	tf := (tIE<<3)&ccTMask | (e>>3)&7
	bf := (bIE<<3)&ccBMask | e&7
	ebt := 1<<26 | tf<<14 | bf
	nb, nt := decodeBounds(ebt, base)

	r.Base = nb
	r.Top = nt
	r.Offset = base - nb
	return r, !(lostBase || lostTop)
}

// RepresentableLength implements Codec (CRRL).
func (cc Concentrate) RepresentableLength(length uint64) uint64 {
	c := Max()
	r, _ := cc.SetBounds(&c, T65(length))
	return r.LengthSat()
}

// AlignmentMask implements Codec (CRAM): derive the exponent the rounded
// length lands on and clear that many mantissa-alignment bits.
func (cc Concentrate) AlignmentMask(length uint64) uint64 {
	c := Max()
	r, _ := cc.SetBounds(&c, T65(length))
	rounded := r.Length()
	e := computeE(rounded)
	ie := e != 0 || rounded.Lo>>12&1 != 0
	if !ie {
		return ^uint64(0)
	}
	return ^(uint64(1)<<(e+3) - 1)
}

// decodeConcentrate rebuilds every field from the raw (still XORed)
// metadata word and the cursor. The tag is the caller's business.
func decodeConcentrate(raw, cursor uint64) Capability {
	pesbt := raw ^ concentrateNullMask
	base, top := decodeBounds(uint32(pesbt)&0x7FFFFFF, cursor)
	return Capability{
		Base:    base,
		Top:     top,
		Offset:  cursor - base,
		Perms:   Perms(pesbt>>49) & PermsAll,
		UPerms:  Perms(pesbt>>60) & UPermsAll,
		OType:   OType(pesbt>>27) & MaxReprOType,
		remnant: raw,
	}
}

// encodePESBT is the canonical metadata word (before the null XOR) for the
// current fields. For bounds produced by decode or SetBounds this is their
// fixed point.
func encodePESBT(c *Capability) uint64 {
	p := uint64(c.UPerms&UPermsAll) << 60
	p |= uint64(c.Perms&PermsAll) << 49
	p |= uint64(c.OType&MaxReprOType) << 27
	p |= uint64(encodeEBT(c.Base, c.Top))
	return p
}

// encodeEBT derives the IE/T/B fields from aligned bounds. Misaligned
// bounds lose bits here; Representable detects that by decode comparison.
func encodeEBT(base uint64, top Top65) uint32 {
	length := top.SubU64(base)
	e := computeE(length)
	ie := e != 0 || length.Lo>>12&1 != 0
	if !ie {
		return (uint32(top.Lo)&ccTMask)<<14 | uint32(base)&ccBMask
	}
	tf := (uint32(shr65(top, e+3))<<3)&ccTMask | (e>>3)&7
	bf := (uint32(base>>(e+3))<<3)&ccBMask | e&7
	return 1<<26 | tf<<14 | bf
}

// decodeBounds runs the Concentrate bounds recovery: reconstruct the top
// two T bits, split the address space into representable regions around
// R = B - 2^(MW-3), correct the cursor's high bits per region, and apply
// the 65-bit top fixup.
func decodeBounds(ebt uint32, cursor uint64) (uint64, Top65) {
	t := ebt >> 14 & ccTMask
	b := ebt & ccBMask
	var e, lmsb uint32
	if ebt>>26&1 != 0 {
		e = (t&7)<<3 | b&7
		if e > ccMaxE {
			e = ccMaxE
		}
		t &^= 7
		b &^= 7
		lmsb = 1
	}

	lcarry := uint32(0)
	if t < b&ccTMask {
		lcarry = 1
	}
	t |= ((b>>12 + lcarry + lmsb) & 3) << 12

	amid := uint32(cursor>>e) & ccBMask
	r := (b - 1<<(ccMW-3)) & ccBMask
	var aHi, bHi, tHi int64
	if amid < r {
		aHi = 1
	}
	if b < r {
		bHi = 1
	}
	if t < r {
		tHi = 1
	}

	sh := e + ccMW
	var atop uint64
	if sh < 64 {
		atop = cursor >> sh
	}
	base := (atop+uint64(bHi-aHi))<<sh | uint64(b)<<e
	top := or65(shl65(atop+uint64(tHi-aHi), sh), shl65(uint64(t), e))
	top.Hi &= 1

	if e < ccMaxE-1 {
		t21 := int64(top.Hi<<1 | top.Lo>>63)
		if t21-int64(base>>63) > 1 {
			top.Hi ^= 1
		}
	}
	return base, top
}

// computeE picks the exponent for a 65-bit length: the position of the
// most significant bit of length[64:13].
func computeE(length Top65) uint32 {
	x := length.Hi<<51 | length.Lo>>13
	if x == 0 {
		return 0
	}
	return uint32(64 - bits.LeadingZeros64(x))
}

// shl65 shifts a 64-bit value left into 65-bit space. Callers mask Hi.
func shl65(v uint64, s uint32) Top65 {
	switch {
	case s == 0:
		return Top65{Lo: v}
	case s < 64:
		return Top65{Hi: v >> (64 - s), Lo: v << s}
	case s == 64:
		return Top65{Hi: v}
	default:
		return Top65{Hi: v << (s - 64)}
	}
}

// shr65 shifts a 65-bit value right into 64 bits (s in 1..63).
func shr65(t Top65, s uint32) uint64 {
	return t.Hi<<(64-s) | t.Lo>>s
}

func or65(a, b Top65) Top65 {
	return Top65{Hi: a.Hi | b.Hi, Lo: a.Lo | b.Lo}
}
