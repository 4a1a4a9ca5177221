// Package machdef compiles CUE machine definitions into typed Definition
// values and gives each one a canonical identity.
//
// A definition names the codec, the privilege mode, the access policies
// and optional initial register overrides. Compilation rejects unknown
// fields and reports errors with source positions. The identity is the
// SHA-256 of the definition's canonical JSON under a domain prefix; trace
// runs and snapshots carry it so a recorded artifact can only be replayed
// or restored into the configuration that produced it.
package machdef

import (
	"github.com/roach88/warden/internal/capability"
	"github.com/roach88/warden/internal/machine"
)

// Machine modes. Kernel mode opens the privileged hardware registers.
const (
	ModeKernel = "kernel"
	ModeUser   = "user"
)

// Unaligned-access policies. Trap raises an address fault on misaligned
// scalar accesses; allow lets them through.
const (
	UnalignedTrap  = "trap"
	UnalignedAllow = "allow"
)

// Definition is a compiled machine definition. Every field is
// materialized: optional document fields arrive here with their defaults
// filled in, so two documents that mean the same machine compare and
// hash identically.
type Definition struct {
	Name      string
	Codec     string
	Mode      string
	Policy    Policy
	Memory    Memory
	Registers Registers
}

// Policy holds the access-checking knobs.
type Policy struct {
	Unaligned string // UnalignedTrap or UnalignedAllow
	TypeCheck string // "off", "log" or "trap"
}

// Memory holds the memory geometry. PageSize is pinned to the allocation
// unit the memory actually carves; the field exists so the identity hash
// covers it.
type Memory struct {
	PageSize uint64
}

// Registers holds the optional initial register overrides. A nil entry
// leaves the register at its reset value.
type Registers struct {
	DDC *RegisterSpec
	PCC *RegisterSpec
	GPR map[int]RegisterSpec
}

// RegisterSpec gives the initial value for one capability register.
// Bounds are stored base-plus-length; a document may spell the upper
// bound as "top" and compilation normalizes it.
type RegisterSpec struct {
	Base   uint64
	Length uint64
	Offset uint64
	Perms  capability.Perms
	UPerms capability.Perms
	OType  capability.OType
	Tag    bool
}

// Capability materializes the override as an unpacked register value.
func (r RegisterSpec) Capability() capability.Capability {
	return capability.Capability{
		Tag:    r.Tag,
		Base:   r.Base,
		Top:    capability.T65(r.Base).AddU64(r.Length),
		Offset: r.Offset,
		Perms:  r.Perms,
		UPerms: r.UPerms,
		OType:  r.OType,
	}
}

// Options returns the constructor options the definition implies: codec,
// unaligned-access policy and type-check policy. Build consumes them;
// snapshot restore pairs them with a resumed clock instead.
func (d *Definition) Options() ([]machine.Option, error) {
	codec, err := capability.ByName(d.Codec)
	if err != nil {
		return nil, err
	}
	typeCheck, err := machine.ParseTypeCheckPolicy(d.Policy.TypeCheck)
	if err != nil {
		return nil, err
	}
	return []machine.Option{
		machine.WithCodec(codec),
		machine.WithUnalignedAccess(d.Policy.Unaligned == UnalignedAllow),
		machine.WithTypeCheckPolicy(typeCheck),
	}, nil
}

// Build constructs a machine configured the way the definition says and
// applies the register overrides. Extra options are appended after the
// definition's own, so callers can attach observers or override the
// codec for a cross-codec sweep.
func (d *Definition) Build(extra ...machine.Option) (*machine.Machine, error) {
	opts, err := d.Options()
	if err != nil {
		return nil, err
	}
	opts = append(opts, extra...)

	m := machine.New(opts...)
	if d.Mode == ModeUser {
		m.SetKernelMode(false)
	}
	if d.Registers.DDC != nil {
		m.SetHwReg(machine.HwrDDC, d.Registers.DDC.Capability())
	}
	if d.Registers.PCC != nil {
		m.SetPCC(d.Registers.PCC.Capability())
	}
	for n, spec := range d.Registers.GPR {
		m.SetReg(n, spec.Capability())
	}
	return m, nil
}
