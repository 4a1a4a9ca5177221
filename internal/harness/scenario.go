package harness

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/warden/internal/capability"
	"github.com/roach88/warden/internal/fault"
	"github.com/roach88/warden/internal/machdef"
	"github.com/roach88/warden/internal/machine"
	"github.com/roach88/warden/internal/mem"
)

// Scenario is one loaded conformance scenario.
type Scenario struct {
	// Name identifies the scenario; golden fixtures are named after it.
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`

	// Machine is the path to a CUE machine definition, resolved relative
	// to the scenario file. Definition is an inline CUE document. At most
	// one may be set; with neither, steps run on a default kernel machine
	// with every register at maximum authority.
	Machine    string `yaml:"machine,omitempty"`
	Definition string `yaml:"definition,omitempty"`

	// Codec pins the scenario to one bounds format. Empty sweeps all.
	Codec string `yaml:"codec,omitempty"`

	Steps []Step `yaml:"steps"`

	// basePath resolves relative machine paths; set by LoadFile.
	basePath string
}

// Step is one operation invocation with its expected outcome.
type Step struct {
	Op     string       `yaml:"op"`
	Args   machine.Args `yaml:",inline"`
	Expect *Expect      `yaml:"expect,omitempty"`
}

// Expect asserts on what a step produced. All set clauses are checked;
// fault and value are mutually exclusive.
type Expect struct {
	// Value is the scalar the operation must return.
	Value *uint64 `yaml:"value,omitempty"`

	// Fault is the canonical cause name the operation must raise. Reg
	// additionally pins the faulting register.
	Fault string `yaml:"fault,omitempty"`
	Reg   *int   `yaml:"reg,omitempty"`

	// Register asserts fields of a named register after the step.
	Register *RegisterExpect `yaml:"register,omitempty"`

	// Memory asserts bytes and the tag bit at an address after the step.
	Memory *MemoryExpect `yaml:"memory,omitempty"`
}

// RegisterExpect asserts individual fields of a capability register.
// Nil fields are not checked. The register is named the way the state
// dump names it: "C04", "PCC", "DDC", "CapBranchTarget".
type RegisterExpect struct {
	Name   string  `yaml:"name"`
	Tag    *bool   `yaml:"tag,omitempty"`
	Sealed *bool   `yaml:"sealed,omitempty"`
	Base   *uint64 `yaml:"base,omitempty"`
	Length *uint64 `yaml:"length,omitempty"`
	Offset *uint64 `yaml:"offset,omitempty"`
	Cursor *uint64 `yaml:"cursor,omitempty"`
	Perms  *uint64 `yaml:"perms,omitempty"`
	UPerms *uint64 `yaml:"uperms,omitempty"`
	OType  *uint64 `yaml:"otype,omitempty"`
}

// MemoryExpect asserts memory contents. Bytes is hex, spaces allowed.
type MemoryExpect struct {
	Addr  uint64 `yaml:"addr"`
	Bytes string `yaml:"bytes,omitempty"`
	Tag   *bool  `yaml:"tag,omitempty"`
}

// Load parses and validates a scenario document. Unknown fields are
// errors, so a typoed operand cannot silently assert nothing.
func Load(data []byte) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	if err := sc.validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// LoadFile loads a scenario from disk. Relative machine paths inside the
// scenario resolve against the file's directory.
func LoadFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	sc, err := Load(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	sc.basePath = filepath.Dir(path)
	return sc, nil
}

func (s *Scenario) validate() error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if s.Machine != "" && s.Definition != "" {
		return errors.New("machine and definition are mutually exclusive")
	}
	if s.Codec != "" {
		if _, err := capability.ByName(s.Codec); err != nil {
			return err
		}
	}
	if len(s.Steps) == 0 {
		return errors.New("at least one step is required")
	}
	known := machine.Ops()
	for i := range s.Steps {
		if err := s.Steps[i].validate(known); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	return nil
}

func (st *Step) validate(known []string) error {
	if st.Op == "" {
		return errors.New("op is required")
	}
	if !slices.Contains(known, st.Op) {
		return fmt.Errorf("unknown op %q", st.Op)
	}
	if st.Expect != nil {
		if err := st.Expect.validate(); err != nil {
			return fmt.Errorf("expect: %w", err)
		}
	}
	return nil
}

func (e *Expect) validate() error {
	if e.Fault != "" {
		if _, ok := fault.ParseCause(e.Fault); !ok {
			return fmt.Errorf("unknown fault cause %q", e.Fault)
		}
		if e.Value != nil {
			return errors.New("fault and value are mutually exclusive")
		}
	} else if e.Reg != nil {
		return errors.New("reg requires fault")
	}
	if e.Register != nil && e.Register.Name == "" {
		return errors.New("register: name is required")
	}
	if e.Memory != nil {
		if e.Memory.Bytes == "" && e.Memory.Tag == nil {
			return errors.New("memory: bytes or tag is required")
		}
		if _, err := e.Memory.bytes(); err != nil {
			return fmt.Errorf("memory: %w", err)
		}
	}
	return nil
}

// bytes decodes the hex byte expectation.
func (mx *MemoryExpect) bytes() ([]byte, error) {
	if mx.Bytes == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(strings.ReplaceAll(mx.Bytes, " ", ""))
	if err != nil {
		return nil, fmt.Errorf("bytes %q: %w", mx.Bytes, err)
	}
	return b, nil
}

// CompiledDefinition resolves and compiles the machine definition the
// scenario runs on: the referenced file, the inline document, or the
// max-authority default. Recording surfaces call it for the identity
// hash that pins a run to its configuration.
func (s *Scenario) CompiledDefinition() (*machdef.Definition, error) {
	return s.definition()
}

// definition resolves the machine the scenario runs on.
func (s *Scenario) definition() (*machdef.Definition, error) {
	switch {
	case s.Machine != "":
		path := s.Machine
		if !filepath.IsAbs(path) && s.basePath != "" {
			path = filepath.Join(s.basePath, path)
		}
		return machdef.CompileFile(path)
	case s.Definition != "":
		return machdef.CompileBytes([]byte(s.Definition), s.Name+".cue")
	default:
		return &machdef.Definition{
			Name:   s.Name,
			Codec:  capability.CodecConcentrate,
			Mode:   machdef.ModeKernel,
			Policy: machdef.Policy{Unaligned: machdef.UnalignedTrap, TypeCheck: "off"},
			Memory: machdef.Memory{PageSize: mem.PageSize},
		}, nil
	}
}
