package capability

import (
	"fmt"
	"math/bits"
)

// Perms is a bitset of hardware (low 11 bits) or user-defined (4 bits)
// permissions. Hardware and user permissions travel in separate fields on
// Capability; the composite word packs both for integer-register transfer.
type Perms uint32

// Hardware permission bits.
const (
	PermGlobal Perms = 1 << iota
	PermExecute
	PermLoad
	PermStore
	PermLoadCap
	PermStoreCap
	PermStoreLocalCap
	PermSeal
	PermCCall
	PermUnseal
	PermAccessSysRegs
)

const (
	// PermsAll masks the 11 defined hardware permission bits.
	PermsAll Perms = 0x7ff
	// UPermsAll masks the 4 defined user permission bits.
	UPermsAll Perms = 0xf
	// UPermsShift positions user permissions within the composite word.
	UPermsShift = 15
)

// Has reports whether every bit of p is present.
func (ps Perms) Has(p Perms) bool {
	return ps&p == p
}

// CompositePerms packs hardware and user permissions into the single word
// reported to integer registers: uperms<<15 | perms.
func CompositePerms(perms, uperms Perms) uint64 {
	return uint64(uperms&UPermsAll)<<UPermsShift | uint64(perms&PermsAll)
}

// OType is an 18-bit object type. Values above MaxSealedOType are reserved
// encodings; when read back through CGetType they sign-extend (Unsealed
// reads as -1, Sentry as -2). The type is 32 bits wide because untagged
// memory images may carry junk above bit 17, which must survive a
// round-trip unmasked.
type OType uint32

const (
	// OTypeUnsealed marks an unsealed capability (-1).
	OTypeUnsealed OType = 0x3FFFF
	// OTypeSentry marks a sealed-entry capability (-2): jumps unseal it,
	// link registers re-seal.
	OTypeSentry OType = 0x3FFFE
	// OTypeReserved3 and OTypeReserved4 are reserved encodings (-3, -4).
	OTypeReserved3 OType = 0x3FFFD
	OTypeReserved4 OType = 0x3FFFC

	// MaxSealedOType is the largest object type usable with CSeal.
	MaxSealedOType OType = 0x3FFFB
	// MaxReprOType masks the 18-bit object type space.
	MaxReprOType OType = 0x3FFFF
)

// Extended returns the integer view of the type: the reserved encodings
// sign-extend to small negatives (Unsealed -1, Sentry -2, the reserved
// pair -3/-4); every concrete sealed type reads back unchanged.
func (t OType) Extended() uint64 {
	if t > MaxSealedOType && t <= MaxReprOType {
		return uint64(int64(uint64(t)<<46) >> 46)
	}
	return uint64(t)
}

// Top65 is an unsigned 65-bit quantity. A capability covering the whole
// address space has top exactly 1<<64, one past the last addressable byte,
// which does not fit in uint64. Hi carries bits 64 and above (at most bit 0
// of Hi is meaningful for a normalized bound; intermediate sums may carry
// more).
type Top65 struct {
	Hi uint64
	Lo uint64
}

// T65 builds a Top65 from a 64-bit value.
func T65(lo uint64) Top65 {
	return Top65{Lo: lo}
}

// MaxTop is 1<<64, the top of a capability spanning the whole space.
func MaxTop() Top65 {
	return Top65{Hi: 1}
}

// AddU64 returns t + v with carry into Hi.
func (t Top65) AddU64(v uint64) Top65 {
	lo, carry := bits.Add64(t.Lo, v, 0)
	return Top65{Hi: t.Hi + carry, Lo: lo}
}

// SubU64 returns t - v with borrow from Hi.
func (t Top65) SubU64(v uint64) Top65 {
	lo, borrow := bits.Sub64(t.Lo, v, 0)
	return Top65{Hi: t.Hi - borrow, Lo: lo}
}

// Cmp returns -1, 0 or 1 comparing t against o.
func (t Top65) Cmp(o Top65) int {
	if t.Hi != o.Hi {
		if t.Hi < o.Hi {
			return -1
		}
		return 1
	}
	if t.Lo != o.Lo {
		if t.Lo < o.Lo {
			return -1
		}
		return 1
	}
	return 0
}

// CmpU64 compares t against a 64-bit value.
func (t Top65) CmpU64(v uint64) int {
	return t.Cmp(T65(v))
}

// Sat saturates to uint64: 1<<64 (and anything above) reads as 2^64-1.
// Every integer-register view of a length or top uses this conversion.
func (t Top65) Sat() uint64 {
	if t.Hi != 0 {
		return ^uint64(0)
	}
	return t.Lo
}

// Bit64 reports bit 64, the only Hi bit of a normalized bound.
func (t Top65) Bit64() bool {
	return t.Hi&1 != 0
}

// String renders the bound in hex, 65-bit aware.
func (t Top65) String() string {
	if t.Hi != 0 {
		return fmt.Sprintf("0x%x%016x", t.Hi, t.Lo)
	}
	return fmt.Sprintf("0x%x", t.Lo)
}

// Capability is the register-file representation of a capability: a tagged,
// bounded, permission-carrying pointer. The zero value is NOT the null
// capability (its Top is zero, not 1<<64); use Null, Max or IntCap.
//
// remnant and sbit are codec-private bits preserved across untagged memory
// round-trips. Operations never read them; only codecs and Pack do.
type Capability struct {
	Tag    bool
	Base   uint64
	Top    Top65
	Offset uint64
	Perms  Perms
	UPerms Perms
	OType  OType

	remnant uint64 // concentrate: raw metadata word observed in memory
	sbit    bool   // magic/wide: sealed bit observed in memory
}

// Null returns the canonical null capability: untagged, base 0, top 1<<64,
// cursor 0, no permissions, unsealed. Its in-memory image is all-zero
// bytes in every codec.
func Null() Capability {
	return Capability{
		Top:   MaxTop(),
		OType: OTypeUnsealed,
	}
}

// Max returns the almighty capability: the register reset value with every
// permission, spanning the whole address space, tagged and unsealed.
func Max() Capability {
	return Capability{
		Tag:    true,
		Top:    MaxTop(),
		Perms:  PermsAll,
		UPerms: UPermsAll,
		OType:  OTypeUnsealed,
	}
}

// IntCap returns an integer travelling in a capability register: null-derived
// with the cursor set to x.
func IntCap(x uint64) Capability {
	c := Null()
	c.Offset = x
	return c
}

// MarkUnrepresentable is the result written by an offset-moving operation
// whose new cursor left the representable region: the untagged integer
// capability holding addr. The operation retires normally with this value.
func MarkUnrepresentable(addr uint64) Capability {
	return IntCap(addr)
}

// Cursor returns base + offset (mod 2^64), the address the capability
// points at.
func (c *Capability) Cursor() uint64 {
	return c.Base + c.Offset
}

// Length returns top - base as a 65-bit quantity.
func (c *Capability) Length() Top65 {
	return c.Top.SubU64(c.Base)
}

// LengthSat returns the saturated 64-bit length: a whole-space capability
// reads as 2^64-1.
func (c *Capability) LengthSat() uint64 {
	return c.Length().Sat()
}

// IsSealedWithType reports a capability sealed with a concrete object type
// (CSeal product; unsealed only through CUnseal or CCall).
func (c *Capability) IsSealedWithType() bool {
	return c.OType <= MaxSealedOType
}

// IsSentry reports a sealed-entry capability.
func (c *Capability) IsSentry() bool {
	return c.OType == OTypeSentry
}

// IsSealed reports any sealed state: sealed-with-type or sentry.
func (c *Capability) IsSealed() bool {
	return c.IsSealedWithType() || c.IsSentry()
}

// IsNull is the branch-if-null test: untagged, base 0, offset 0. Bounds and
// permissions are deliberately excluded.
func (c *Capability) IsNull() bool {
	return !c.Tag && c.Base == 0 && c.Offset == 0
}

// InBounds reports base <= addr && addr+length <= top, the LENGTH check for
// an access of the given byte length at addr. The sum is computed in 65
// bits so one-past-end wraps are caught.
func (c *Capability) InBounds(addr uint64, length uint32) bool {
	if addr < c.Base {
		return false
	}
	return T65(addr).AddU64(uint64(length)).Cmp(c.Top) <= 0
}

// SealedCopy returns c sealed with the given object type. Callers must have
// validated t <= MaxSealedOType.
func (c *Capability) SealedCopy(t OType) Capability {
	r := *c
	r.OType = t & MaxReprOType
	return r
}

// SentryCopy returns c sealed as a sentry.
func (c *Capability) SentryCopy() Capability {
	r := *c
	r.OType = OTypeSentry
	return r
}

// UnsealedCopy returns c with the object type cleared to unsealed.
func (c *Capability) UnsealedCopy() Capability {
	r := *c
	r.OType = OTypeUnsealed
	return r
}

// Equal is pointer equality: tags match and cursors match.
func (c *Capability) Equal(o *Capability) bool {
	return c.Tag == o.Tag && c.Cursor() == o.Cursor()
}

// ExactEqual compares tag, base, offset, top, object type and hardware
// permissions. User permissions are excluded.
func (c *Capability) ExactEqual(o *Capability) bool {
	return c.Tag == o.Tag &&
		c.Base == o.Base &&
		c.Offset == o.Offset &&
		c.Top == o.Top &&
		c.OType == o.OType &&
		c.Perms == o.Perms
}

// Subset reports c within o: equal tags, bounds nested, permissions and
// user permissions both covered.
func (c *Capability) Subset(o *Capability) bool {
	return c.Tag == o.Tag &&
		o.Base <= c.Base &&
		c.Top.Cmp(o.Top) <= 0 &&
		o.Perms.Has(c.Perms&PermsAll) &&
		o.UPerms.Has(c.UPerms&UPermsAll)
}

// Packed is the codec-independent serialized register image used by
// snapshots, traces and the debug wire. It carries the codec-private
// remnants so a restored machine stores byte-identical images.
type Packed struct {
	Tag     bool   `msgpack:"tag" json:"tag"`
	Base    uint64 `msgpack:"base" json:"base"`
	TopHi   uint64 `msgpack:"top_hi" json:"top_hi"`
	TopLo   uint64 `msgpack:"top_lo" json:"top_lo"`
	Offset  uint64 `msgpack:"offset" json:"offset"`
	Perms   uint32 `msgpack:"perms" json:"perms"`
	UPerms  uint32 `msgpack:"uperms" json:"uperms"`
	OType   uint32 `msgpack:"otype" json:"otype"`
	Remnant uint64 `msgpack:"remnant" json:"remnant"`
	SBit    bool   `msgpack:"sbit" json:"sbit"`
}

// Pack flattens the capability, remnants included.
func (c *Capability) Pack() Packed {
	return Packed{
		Tag:     c.Tag,
		Base:    c.Base,
		TopHi:   c.Top.Hi,
		TopLo:   c.Top.Lo,
		Offset:  c.Offset,
		Perms:   uint32(c.Perms),
		UPerms:  uint32(c.UPerms),
		OType:   uint32(c.OType),
		Remnant: c.remnant,
		SBit:    c.sbit,
	}
}

// FromPacked rebuilds a capability from its packed image.
func FromPacked(p Packed) Capability {
	return Capability{
		Tag:     p.Tag,
		Base:    p.Base,
		Top:     Top65{Hi: p.TopHi, Lo: p.TopLo},
		Offset:  p.Offset,
		Perms:   Perms(p.Perms),
		UPerms:  Perms(p.UPerms),
		OType:   OType(p.OType),
		remnant: p.Remnant,
		sbit:    p.SBit,
	}
}

// String renders the register-dump form: tag, sealed bit, composite perms,
// base, saturated length, offset, extended otype.
func (c *Capability) String() string {
	s := 0
	if c.IsSealed() {
		s = 1
	}
	t := 0
	if c.Tag {
		t = 1
	}
	return fmt.Sprintf("t:%d s:%d perms:0x%08x type:0x%016x offset:0x%016x base:0x%016x length:0x%016x",
		t, s, CompositePerms(c.Perms, c.UPerms), c.OType.Extended(), c.Offset, c.Base, c.LengthSat())
}
