package trace

import "github.com/roach88/warden/internal/capability"

// Entry versions, matching the identifiers hardware trace streams use for
// each record shape.
const (
	EntryNoReg    uint8 = 0
	EntryGPR      uint8 = 1
	EntryCap      uint8 = 11
	EntryLoadCap  uint8 = 12
	EntryStoreCap uint8 = 13
)

// Entry is the fixed-width packed form of an Event. Val2 folds the
// capability metadata into one word:
//
//	tag<<63 | (otype & 0x3ffff)<<32 | composite perms<<1 | sealed
//
// Val1 and Val3 carry the cursor, Val4 the base, Val5 the saturated length.
// Operations that wrote no capability register pack as EntryNoReg with the
// value words zero.
type Entry struct {
	Version uint8
	Op      string
	PC      uint64
	Val1    uint64
	Val2    uint64
	Val3    uint64
	Val4    uint64
	Val5    uint64
}

// PackEvent flattens an Event into its Entry.
func PackEvent(ev Event) Entry {
	e := Entry{Version: EntryNoReg, Op: ev.Op, PC: ev.PC}
	if ev.Target == "" {
		return e
	}
	e.Version = EntryCap
	c := ev.New
	e.Val1 = c.Cursor()
	e.Val2 = PackMeta(&c)
	e.Val3 = c.Cursor()
	e.Val4 = c.Base
	e.Val5 = c.LengthSat()
	return e
}

// PackMeta folds tag, object type, composite permissions and the sealed bit
// into the Val2 word.
func PackMeta(c *capability.Capability) uint64 {
	var v uint64
	if c.Tag {
		v |= 1 << 63
	}
	v |= (uint64(c.OType) & uint64(capability.MaxReprOType)) << 32
	v |= capability.CompositePerms(c.Perms, c.UPerms) << 1
	if c.IsSealed() {
		v |= 1
	}
	return v
}
