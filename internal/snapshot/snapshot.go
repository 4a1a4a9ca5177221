// Package snapshot serializes a machine image and restores it.
//
// An image is the full architectural state: the retire count, the cause
// register, the privilege mode, every capability register in packed
// canonical form (remnants included), the staged branch target, the
// load-linked flag, the touched memory pages and the tag store. The
// image carries the identity of the machine definition it was taken
// under; Restore refuses an image whose identity does not match the
// definition it is being restored into.
package snapshot

import (
	"fmt"
	"io"
	"slices"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/roach88/warden/internal/capability"
	"github.com/roach88/warden/internal/machdef"
	"github.com/roach88/warden/internal/machine"
)

// imageVersion is the encoding format, bumped on incompatible change.
const imageVersion = 1

// Image is one serialized machine state.
type Image struct {
	Version  uint32 `msgpack:"version"`
	Identity string `msgpack:"identity"`

	Retired  int64  `msgpack:"retired"`
	CapCause uint16 `msgpack:"cap_cause"`
	BadVAddr uint64 `msgpack:"bad_vaddr"`
	Mode     string `msgpack:"mode"`
	Linked   bool   `msgpack:"linked"`

	// Registers is keyed by change-event name: "C00".."C31", "PCC",
	// "DDC", the TLS and kernel slots, "CapBranchTarget".
	Registers map[string]capability.Packed `msgpack:"registers"`

	Pages    []Page    `msgpack:"pages"`
	Granules []Granule `msgpack:"granules"`
}

// Page is one allocated memory page.
type Page struct {
	Addr uint64 `msgpack:"addr"`
	Data []byte `msgpack:"data"`
}

// Granule is one tag-store entry: the tag bit and the sideband words.
type Granule struct {
	Addr uint64 `msgpack:"addr"`
	Tag  bool   `msgpack:"tag"`
	M0   uint64 `msgpack:"m0"`
	M1   uint64 `msgpack:"m1"`
}

// registerNames lists every register an image carries, in dump order.
func registerNames() []string {
	names := make([]string, 0, 43)
	for i := 0; i < 32; i++ {
		names = append(names, machine.RegName(i))
	}
	return append(names,
		machine.RegNamePCC,
		machine.RegNameBranchTarget,
		machine.RegNameDDC,
		machine.RegNameUserTls,
		machine.RegNamePrivTls,
		machine.RegNameKR1C,
		machine.RegNameKR2C,
		machine.RegNameKCC,
		machine.RegNameKDC,
		machine.RegNameEPCC,
		machine.RegNameErrorEPCC,
	)
}

// Capture copies the machine's architectural state into an image tagged
// with the definition identity.
func Capture(m *machine.Machine, identity string) *Image {
	img := &Image{
		Version:   imageVersion,
		Identity:  identity,
		Retired:   m.RetireCount(),
		CapCause:  m.CauseRegister(),
		BadVAddr:  m.BadVAddr(),
		Mode:      machdef.ModeUser,
		Linked:    m.Linked(),
		Registers: make(map[string]capability.Packed, 43),
	}
	if m.KernelMode() {
		img.Mode = machdef.ModeKernel
	}

	for _, name := range registerNames() {
		c, _ := m.LookupRegister(name)
		img.Registers[name] = c.Pack()
	}

	mm := m.Mem()
	mm.EachPage(func(addr uint64, data []byte) {
		img.Pages = append(img.Pages, Page{Addr: addr, Data: slices.Clone(data)})
	})
	mm.EachTagGranule(func(addr uint64, tag bool, m0, m1 uint64) {
		img.Granules = append(img.Granules, Granule{Addr: addr, Tag: tag, M0: m0, M1: m1})
	})
	return img
}

// Save msgpack-encodes the image to w.
func (img *Image) Save(w io.Writer) error {
	if err := msgpack.NewEncoder(w).Encode(img); err != nil {
		return fmt.Errorf("snapshot: encode: %w", err)
	}
	return nil
}

// Load decodes an image from r and checks the format version and mode.
// Identity verification happens in Restore, where the target definition
// is known.
func Load(r io.Reader) (*Image, error) {
	var img Image
	if err := msgpack.NewDecoder(r).Decode(&img); err != nil {
		return nil, fmt.Errorf("snapshot: decode: %w", err)
	}
	if img.Version != imageVersion {
		return nil, fmt.Errorf("snapshot: unsupported image version %d", img.Version)
	}
	switch img.Mode {
	case machdef.ModeKernel, machdef.ModeUser:
	default:
		return nil, fmt.Errorf("snapshot: unknown mode %q", img.Mode)
	}
	return &img, nil
}

// Restore builds a machine from the definition and loads the image into
// it. The image must have been captured under the same definition
// identity. The retire clock resumes at the image's count, so the next
// retired operation continues the original sequence. Extra options
// attach observers and loggers; the codec comes from the definition.
func Restore(img *Image, def *machdef.Definition, extra ...machine.Option) (*machine.Machine, error) {
	id, err := def.Identity()
	if err != nil {
		return nil, err
	}
	if id != img.Identity {
		return nil, fmt.Errorf("snapshot: image was captured under definition %s, not %s", img.Identity, id)
	}

	opts, err := def.Options()
	if err != nil {
		return nil, err
	}
	opts = append(opts, extra...)
	m := machine.NewWithClock(machine.NewClockAt(img.Retired), opts...)

	m.SetKernelMode(img.Mode == machdef.ModeKernel)
	m.SetCauseRegister(img.CapCause)
	m.SetBadVAddr(img.BadVAddr)
	m.SetLinked(img.Linked)

	for name, p := range img.Registers {
		if err := m.SetRegisterByName(name, capability.FromPacked(p)); err != nil {
			return nil, fmt.Errorf("snapshot: %w", err)
		}
	}

	// Pages land before granules: raw byte writes invalidate covering
	// tags, so the tag store must be replayed last.
	mm := m.Mem()
	for _, pg := range img.Pages {
		mm.WriteBytes(pg.Addr, pg.Data)
	}
	for _, g := range img.Granules {
		mm.WriteTagMeta(g.Addr, g.Tag, g.M0, g.M1)
	}
	return m, nil
}
