package machdef

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/warden/internal/capability"
	"github.com/roach88/warden/internal/machine"
	"github.com/roach88/warden/internal/mem"
)

// CompileFile reads one CUE document from disk and compiles it.
func CompileFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading definition: %w", err)
	}
	return CompileBytes(data, path)
}

// CompileBytes compiles a CUE document held in memory. The filename only
// feeds error positions.
func CompileBytes(data []byte, filename string) (*Definition, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return CompileDefinition(v)
}

// CompileDefinition parses a CUE value into a Definition.
//
// The value is the definition document itself:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`name: "m", codec: "magic", ...`)
//	def, err := CompileDefinition(v)
//
// Unknown fields are rejected at every level. Optional fields compile to
// their defaults: kernel mode, trapping unaligned accesses, type checks
// off, the native page size.
func CompileDefinition(v cue.Value) (*Definition, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if err := rejectUnknown(v, "", "name", "codec", "mode", "policy", "memory", "registers"); err != nil {
		return nil, err
	}

	def := &Definition{
		Mode:   ModeKernel,
		Policy: Policy{Unaligned: UnalignedTrap, TypeCheck: "off"},
		Memory: Memory{PageSize: mem.PageSize},
	}

	nameVal := v.LookupPath(cue.ParsePath("name"))
	if !nameVal.Exists() {
		return nil, &CompileError{Field: "name", Message: "name is required", Pos: v.Pos()}
	}
	name, err := nameVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	if name == "" {
		return nil, &CompileError{Field: "name", Message: "name must be non-empty", Pos: nameVal.Pos()}
	}
	def.Name = name

	codecVal := v.LookupPath(cue.ParsePath("codec"))
	if !codecVal.Exists() {
		return nil, &CompileError{Field: "codec", Message: "codec is required", Pos: v.Pos()}
	}
	codec, err := codecVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	if _, err := capability.ByName(codec); err != nil {
		return nil, &CompileError{Field: "codec", Message: err.Error(), Pos: codecVal.Pos()}
	}
	def.Codec = codec

	modeVal := v.LookupPath(cue.ParsePath("mode"))
	if modeVal.Exists() {
		mode, err := modeVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		switch mode {
		case ModeKernel, ModeUser:
		default:
			return nil, &CompileError{
				Field:   "mode",
				Message: fmt.Sprintf("unknown mode %q (valid: kernel, user)", mode),
				Pos:     modeVal.Pos(),
			}
		}
		def.Mode = mode
	}

	if err := compilePolicy(v, def); err != nil {
		return nil, err
	}
	if err := compileMemory(v, def); err != nil {
		return nil, err
	}
	if err := compileRegisters(v, def); err != nil {
		return nil, err
	}
	return def, nil
}

func compilePolicy(v cue.Value, def *Definition) error {
	policyVal := v.LookupPath(cue.ParsePath("policy"))
	if !policyVal.Exists() {
		return nil
	}
	if err := rejectUnknown(policyVal, "policy", "unaligned", "typeCheck"); err != nil {
		return err
	}

	unalignedVal := policyVal.LookupPath(cue.ParsePath("unaligned"))
	if unalignedVal.Exists() {
		s, err := unalignedVal.String()
		if err != nil {
			return formatCUEError(err)
		}
		switch s {
		case UnalignedTrap, UnalignedAllow:
		default:
			return &CompileError{
				Field:   "policy.unaligned",
				Message: fmt.Sprintf("unknown unaligned policy %q (valid: trap, allow)", s),
				Pos:     unalignedVal.Pos(),
			}
		}
		def.Policy.Unaligned = s
	}

	typeCheckVal := policyVal.LookupPath(cue.ParsePath("typeCheck"))
	if typeCheckVal.Exists() {
		s, err := typeCheckVal.String()
		if err != nil {
			return formatCUEError(err)
		}
		if _, err := machine.ParseTypeCheckPolicy(s); err != nil {
			return &CompileError{Field: "policy.typeCheck", Message: err.Error(), Pos: typeCheckVal.Pos()}
		}
		def.Policy.TypeCheck = s
	}
	return nil
}

func compileMemory(v cue.Value, def *Definition) error {
	memoryVal := v.LookupPath(cue.ParsePath("memory"))
	if !memoryVal.Exists() {
		return nil
	}
	if err := rejectUnknown(memoryVal, "memory", "pageSize"); err != nil {
		return err
	}

	pageVal := memoryVal.LookupPath(cue.ParsePath("pageSize"))
	if pageVal.Exists() {
		n, err := pageVal.Uint64()
		if err != nil {
			return formatCUEError(err)
		}
		if n != mem.PageSize {
			return &CompileError{
				Field:   "memory.pageSize",
				Message: fmt.Sprintf("unsupported page size %d (the memory carves %d-byte pages)", n, mem.PageSize),
				Pos:     pageVal.Pos(),
			}
		}
		def.Memory.PageSize = n
	}
	return nil
}

func compileRegisters(v cue.Value, def *Definition) error {
	regsVal := v.LookupPath(cue.ParsePath("registers"))
	if !regsVal.Exists() {
		return nil
	}
	if err := rejectUnknown(regsVal, "registers", "ddc", "pcc", "gpr"); err != nil {
		return err
	}

	if ddcVal := regsVal.LookupPath(cue.ParsePath("ddc")); ddcVal.Exists() {
		spec, err := compileRegisterSpec(ddcVal, "registers.ddc")
		if err != nil {
			return err
		}
		def.Registers.DDC = spec
	}
	if pccVal := regsVal.LookupPath(cue.ParsePath("pcc")); pccVal.Exists() {
		spec, err := compileRegisterSpec(pccVal, "registers.pcc")
		if err != nil {
			return err
		}
		def.Registers.PCC = spec
	}

	gprVal := regsVal.LookupPath(cue.ParsePath("gpr"))
	if !gprVal.Exists() {
		return nil
	}
	iter, err := gprVal.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		label := iter.Label()
		n, err := strconv.Atoi(label)
		if err != nil || n < 0 || n > 31 {
			return &CompileError{
				Field:   "registers.gpr." + label,
				Message: "register number must be 0..31",
				Pos:     iter.Value().Pos(),
			}
		}
		if n == 0 {
			return &CompileError{
				Field:   "registers.gpr.0",
				Message: "register 0 is hardwired null",
				Pos:     iter.Value().Pos(),
			}
		}
		spec, err := compileRegisterSpec(iter.Value(), "registers.gpr."+label)
		if err != nil {
			return err
		}
		if def.Registers.GPR == nil {
			def.Registers.GPR = make(map[int]RegisterSpec)
		}
		def.Registers.GPR[n] = *spec
	}
	return nil
}

// compileRegisterSpec parses one register override. The bound may be
// spelled length or top, never both; top normalizes to length relative
// to base. Unset fields default to a tagged, unsealed, all-permission
// register at offset 0.
func compileRegisterSpec(v cue.Value, field string) (*RegisterSpec, error) {
	if err := rejectUnknown(v, field, "base", "length", "top", "offset", "perms", "uperms", "otype", "tag"); err != nil {
		return nil, err
	}

	spec := &RegisterSpec{
		Perms:  capability.PermsAll,
		UPerms: capability.UPermsAll,
		OType:  capability.OTypeUnsealed,
		Tag:    true,
	}

	base, err := uintField(v, "base", 0)
	if err != nil {
		return nil, err
	}
	spec.Base = base

	lengthVal := v.LookupPath(cue.ParsePath("length"))
	topVal := v.LookupPath(cue.ParsePath("top"))
	switch {
	case lengthVal.Exists() && topVal.Exists():
		return nil, &CompileError{Field: field, Message: "length and top are mutually exclusive", Pos: v.Pos()}
	case lengthVal.Exists():
		n, err := lengthVal.Uint64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		spec.Length = n
	case topVal.Exists():
		top, err := topVal.Uint64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		if top < base {
			return nil, &CompileError{
				Field:   field + ".top",
				Message: fmt.Sprintf("top %#x is below base %#x", top, base),
				Pos:     topVal.Pos(),
			}
		}
		spec.Length = top - base
	default:
		return nil, &CompileError{Field: field, Message: "one of length or top is required", Pos: v.Pos()}
	}

	offset, err := uintField(v, "offset", 0)
	if err != nil {
		return nil, err
	}
	spec.Offset = offset

	permsVal := v.LookupPath(cue.ParsePath("perms"))
	if permsVal.Exists() {
		n, err := permsVal.Uint64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		if n&^uint64(capability.PermsAll) != 0 {
			return nil, &CompileError{
				Field:   field + ".perms",
				Message: fmt.Sprintf("perms %#x has bits outside the hardware field %#x", n, uint64(capability.PermsAll)),
				Pos:     permsVal.Pos(),
			}
		}
		spec.Perms = capability.Perms(n)
	}

	upermsVal := v.LookupPath(cue.ParsePath("uperms"))
	if upermsVal.Exists() {
		n, err := upermsVal.Uint64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		if n&^uint64(capability.UPermsAll) != 0 {
			return nil, &CompileError{
				Field:   field + ".uperms",
				Message: fmt.Sprintf("uperms %#x has bits outside the hardware field %#x", n, uint64(capability.UPermsAll)),
				Pos:     upermsVal.Pos(),
			}
		}
		spec.UPerms = capability.Perms(n)
	}

	otypeVal := v.LookupPath(cue.ParsePath("otype"))
	if otypeVal.Exists() {
		n, err := otypeVal.Uint64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		if n > uint64(capability.MaxReprOType) {
			return nil, &CompileError{
				Field:   field + ".otype",
				Message: fmt.Sprintf("otype %#x exceeds the 18-bit field", n),
				Pos:     otypeVal.Pos(),
			}
		}
		spec.OType = capability.OType(n)
	}

	tagVal := v.LookupPath(cue.ParsePath("tag"))
	if tagVal.Exists() {
		b, err := tagVal.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		spec.Tag = b
	}
	return spec, nil
}

// rejectUnknown errors on any regular field of v outside the known set.
// context prefixes the reported field path; empty means top level.
func rejectUnknown(v cue.Value, context string, known ...string) error {
	iter, err := v.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		label := iter.Label()
		if slices.Contains(known, label) {
			continue
		}
		field := label
		if context != "" {
			field = context + "." + label
		}
		return &CompileError{
			Field:   field,
			Message: fmt.Sprintf("unknown field (valid: %s)", strings.Join(known, ", ")),
			Pos:     iter.Value().Pos(),
		}
	}
	return nil
}

func uintField(v cue.Value, name string, def uint64) (uint64, error) {
	fv := v.LookupPath(cue.ParsePath(name))
	if !fv.Exists() {
		return def, nil
	}
	n, err := fv.Uint64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return n, nil
}

// CompileError is a definition compilation error with a source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError pulls position information out of CUE's error tree.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}
