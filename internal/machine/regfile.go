package machine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/warden/internal/capability"
)

// Hardware register indexes, the CReadHwr/CWriteHwr operand space.
const (
	HwrDDC       = 0
	HwrUserTls   = 1
	HwrPrivTls   = 8
	HwrKR1C      = 22
	HwrKR2C      = 23
	HwrErrorEPCC = 28
	HwrKCC       = 29
	HwrKDC       = 30
	HwrEPCC      = 31
)

// IDC is the invoked data capability register; the CCall fast path writes
// the unsealed data capability here.
const IDC = 26

// hwrFaultBase offsets hardware register indexes into the fault register
// space: DDC faults as register 32, EPCC as 63.
const hwrFaultBase = 32

// Change-event register names, used by trace events, the state dump and
// scenario assertions.
const (
	RegNamePCC          = "PCC"
	RegNameDDC          = "DDC"
	RegNameUserTls      = "UserTlsCap"
	RegNamePrivTls      = "PrivTlsCap"
	RegNameKR1C         = "KR1C"
	RegNameKR2C         = "KR2C"
	RegNameErrorEPCC    = "ErrorEPCC"
	RegNameKCC          = "KCC"
	RegNameKDC          = "KDC"
	RegNameEPCC         = "EPCC"
	RegNameBranchTarget = "CapBranchTarget"
)

// RegName returns the change-event name of a general register: "C00"
// through "C31".
func RegName(i int) string {
	return fmt.Sprintf("C%02d", i&31)
}

// regFile is the full architectural register set. gpr[0] is the constant
// null register: reads return null, writes are discarded; some operands
// redefine index 0 to mean DDC instead.
type regFile struct {
	gpr [32]capability.Capability

	pcc          capability.Capability
	ddc          capability.Capability
	userTls      capability.Capability
	privTls      capability.Capability
	kr1c         capability.Capability
	kr2c         capability.Capability
	errorEPCC    capability.Capability
	kcc          capability.Capability
	kdc          capability.Capability
	epcc         capability.Capability
	branchTarget capability.Capability
}

// reset installs the architectural reset state: the almighty capability
// everywhere a program could need authority, null in the constant register
// and the branch staging slot.
func (r *regFile) reset() {
	max := capability.Max()
	for i := 1; i < len(r.gpr); i++ {
		r.gpr[i] = max
	}
	r.gpr[0] = capability.Null()
	r.pcc = max
	r.ddc = max
	r.userTls = max
	r.privTls = max
	r.kr1c = max
	r.kr2c = max
	r.errorEPCC = max
	r.kcc = max
	r.kdc = max
	r.epcc = max
	r.branchTarget = capability.Null()
}

// reg is the plain general-register read: index 0 returns null.
func (r *regFile) reg(i int) capability.Capability {
	i &= 31
	if i == 0 {
		return capability.Null()
	}
	return r.gpr[i]
}

// regDDC is the read for operands that redefine index 0 as DDC.
func (r *regFile) regDDC(i int) capability.Capability {
	i &= 31
	if i == 0 {
		return r.ddc
	}
	return r.gpr[i]
}

// hwSlot pairs a hardware register's storage with its index and
// change-event name.
type hwSlot struct {
	index int
	name  string
	slot  *capability.Capability
}

// hwSlots enumerates the hardware registers in index order. Used by the
// dump, the debug wire and name lookup; access checks live in hwreg.go.
func (r *regFile) hwSlots() []hwSlot {
	return []hwSlot{
		{HwrDDC, RegNameDDC, &r.ddc},
		{HwrUserTls, RegNameUserTls, &r.userTls},
		{HwrPrivTls, RegNamePrivTls, &r.privTls},
		{HwrKR1C, RegNameKR1C, &r.kr1c},
		{HwrKR2C, RegNameKR2C, &r.kr2c},
		{HwrErrorEPCC, RegNameErrorEPCC, &r.errorEPCC},
		{HwrKCC, RegNameKCC, &r.kcc},
		{HwrKDC, RegNameKDC, &r.kdc},
		{HwrEPCC, RegNameEPCC, &r.epcc},
	}
}

// Reg reads a general register the plain way: index 0 reads null.
func (m *Machine) Reg(i int) capability.Capability {
	return m.regs.reg(i)
}

// SetReg pokes a general register directly, bypassing the operation
// boundary: no checks, no trace event. Index 0 discards. Scenario setup
// and snapshot restore use it.
func (m *Machine) SetReg(i int, c capability.Capability) {
	i &= 31
	if i == 0 {
		return
	}
	m.regs.gpr[i] = c
}

// PCC returns the executing context.
func (m *Machine) PCC() capability.Capability {
	return m.regs.pcc
}

// SetPCC pokes the executing context (setup API).
func (m *Machine) SetPCC(c capability.Capability) {
	m.regs.pcc = c
}

// BranchTarget returns the staged branch target.
func (m *Machine) BranchTarget() capability.Capability {
	return m.regs.branchTarget
}

// SetBranchTarget pokes the staged branch target (snapshot restore).
func (m *Machine) SetBranchTarget(c capability.Capability) {
	m.regs.branchTarget = c
}

// HwReg reads a hardware register by index without access checks (debug,
// dump and snapshot use). ok is false for unknown indexes.
func (m *Machine) HwReg(i int) (c capability.Capability, ok bool) {
	for _, hw := range m.regs.hwSlots() {
		if hw.index == i {
			return *hw.slot, true
		}
	}
	return capability.Capability{}, false
}

// SetHwReg pokes a hardware register by index without access checks.
func (m *Machine) SetHwReg(i int, c capability.Capability) bool {
	for _, hw := range m.regs.hwSlots() {
		if hw.index == i {
			*hw.slot = c
			return true
		}
	}
	return false
}

// LookupRegister resolves a change-event name ("C07", "DDC", "PCC",
// "CapBranchTarget") to the register's current value.
func (m *Machine) LookupRegister(name string) (capability.Capability, error) {
	if i, ok := parseGPRName(name); ok {
		return m.regs.reg(i), nil
	}
	switch name {
	case RegNamePCC:
		return m.regs.pcc, nil
	case RegNameBranchTarget:
		return m.regs.branchTarget, nil
	}
	for _, hw := range m.regs.hwSlots() {
		if hw.name == name {
			return *hw.slot, nil
		}
	}
	return capability.Capability{}, NewRegisterError(fmt.Sprintf("unknown register %q", name))
}

// SetRegisterByName pokes a register by change-event name (setup API; no
// access checks, no trace event).
func (m *Machine) SetRegisterByName(name string, c capability.Capability) error {
	if i, ok := parseGPRName(name); ok {
		m.SetReg(i, c)
		return nil
	}
	switch name {
	case RegNamePCC:
		m.regs.pcc = c
		return nil
	case RegNameBranchTarget:
		m.regs.branchTarget = c
		return nil
	}
	for _, hw := range m.regs.hwSlots() {
		if hw.name == name {
			*hw.slot = c
			return nil
		}
	}
	return NewRegisterError(fmt.Sprintf("unknown register %q", name))
}

func parseGPRName(name string) (int, bool) {
	if len(name) != 3 || !strings.HasPrefix(name, "C") {
		return 0, false
	}
	n, err := strconv.Atoi(name[1:])
	if err != nil || n < 0 || n > 31 {
		return 0, false
	}
	return n, true
}
