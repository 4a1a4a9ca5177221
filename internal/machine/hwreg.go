package machine

import (
	"github.com/roach88/warden/internal/capability"
	"github.com/roach88/warden/internal/fault"
)

// hwrSlot resolves a hardware register operand under the access rules,
// returning its storage and change-event name. Reads and writes share one
// rule set. Unknown indexes raise the reserved-instruction class;
// privilege violations raise the register's own access cause with the
// register offset into the hardware fault space.
func (m *Machine) hwrSlot(op string, hwr int) (*capability.Capability, string) {
	switch hwr {
	case HwrDDC:
		return &m.regs.ddc, RegNameDDC
	case HwrUserTls:
		return &m.regs.userTls, RegNameUserTls
	case HwrPrivTls:
		if !m.regs.pcc.Perms.Has(capability.PermAccessSysRegs) {
			m.capFault(fault.CauseAccessSysRegs, hwrFaultBase+hwr)
		}
		return &m.regs.privTls, RegNamePrivTls
	case HwrKR1C:
		if !m.kernel {
			m.capFault(fault.CauseAccessKR1C, hwrFaultBase+hwr)
		}
		return &m.regs.kr1c, RegNameKR1C
	case HwrKR2C:
		if !m.kernel {
			m.capFault(fault.CauseAccessKR2C, hwrFaultBase+hwr)
		}
		return &m.regs.kr2c, RegNameKR2C
	case HwrErrorEPCC:
		m.checkKernelSysRegs(fault.CauseAccessEPCC, hwr)
		return &m.regs.errorEPCC, RegNameErrorEPCC
	case HwrKCC:
		m.checkKernelSysRegs(fault.CauseAccessKCC, hwr)
		return &m.regs.kcc, RegNameKCC
	case HwrKDC:
		m.checkKernelSysRegs(fault.CauseAccessKDC, hwr)
		return &m.regs.kdc, RegNameKDC
	case HwrEPCC:
		m.checkKernelSysRegs(fault.CauseAccessEPCC, hwr)
		return &m.regs.epcc, RegNameEPCC
	default:
		riFault(op)
		panic("unreachable")
	}
}

// checkKernelSysRegs guards the exception-handling registers: kernel mode
// and AccessSysRegs on the executing context, violations raising the
// register's own cause.
func (m *Machine) checkKernelSysRegs(cause fault.Cause, hwr int) {
	if !m.kernel || !m.regs.pcc.Perms.Has(capability.PermAccessSysRegs) {
		m.capFault(cause, hwrFaultBase+hwr)
	}
}

// CReadHwr copies a hardware register into cd.
func (m *Machine) CReadHwr(cd, hwr int) error {
	return m.retire("creadhwr", func() {
		slot, _ := m.hwrSlot("creadhwr", hwr)
		m.writeGPR(cd, *slot)
	})
}

// CWriteHwr copies cs into a hardware register.
func (m *Machine) CWriteHwr(cs, hwr int) error {
	return m.retire("cwritehwr", func() {
		slot, name := m.hwrSlot("cwritehwr", hwr)
		m.writeNamed(name, slot, m.regs.reg(cs))
	})
}

// CGetCause reads the capability cause register. AccessSysRegs on the
// executing context is required.
func (m *Machine) CGetCause() (uint64, error) {
	var v uint64
	err := m.retire("cgetcause", func() {
		m.checkSysRegsAccess()
		v = uint64(m.capCause)
	})
	return v, err
}

// CSetCause writes the capability cause register.
func (m *Machine) CSetCause(rt uint64) error {
	return m.retire("csetcause", func() {
		m.checkSysRegsAccess()
		m.capCause = uint16(rt)
	})
}

// SetEPC writes the exception pc, the offset view of EPCC. Kernel mode is
// required; AccessSysRegs gates the capability side.
func (m *Machine) SetEPC(rt uint64) error {
	return m.retire("setepc", func() {
		if !m.kernel {
			riFault("setepc")
		}
		if !m.regs.pcc.Perms.Has(capability.PermAccessSysRegs) {
			m.capFault(fault.CauseAccessEPCC, hwrFaultBase+HwrEPCC)
		}
		c := m.regs.epcc
		c.Offset = rt
		m.writeNamed(RegNameEPCC, &m.regs.epcc, c)
	})
}

// SetErrorEPC is the ErrorEPCC counterpart.
func (m *Machine) SetErrorEPC(rt uint64) error {
	return m.retire("seterrorepc", func() {
		if !m.kernel {
			riFault("seterrorepc")
		}
		if !m.regs.pcc.Perms.Has(capability.PermAccessSysRegs) {
			m.capFault(fault.CauseAccessEPCC, hwrFaultBase+HwrErrorEPCC)
		}
		c := m.regs.errorEPCC
		c.Offset = rt
		m.writeNamed(RegNameErrorEPCC, &m.regs.errorEPCC, c)
	})
}

// EPC returns the offset view of EPCC without access checks (assertions
// and snapshots; SetEPC is the checked path).
func (m *Machine) EPC() uint64 {
	return m.regs.epcc.Offset
}

// ErrorEPC is the ErrorEPCC counterpart.
func (m *Machine) ErrorEPC() uint64 {
	return m.regs.errorEPCC.Offset
}
