package fault

import (
	"fmt"
	"strings"
)

// Cause is the 8-bit capability fault cause code. It occupies the high
// byte of the cause register; the low byte holds the faulting register.
type Cause uint8

const (
	CauseNone              Cause = 0x00
	CauseLength            Cause = 0x01
	CauseTag               Cause = 0x02
	CauseSeal              Cause = 0x03
	CauseType              Cause = 0x04
	CauseCallTrap          Cause = 0x05
	CauseReturnTrap        Cause = 0x06
	CauseStackUnderflow    Cause = 0x07
	CauseUserDefined       Cause = 0x08
	CauseTLBNoStoreCap     Cause = 0x09
	CauseInexact           Cause = 0x0a
	CauseGlobal            Cause = 0x10
	CausePermExecute       Cause = 0x11
	CausePermLoad          Cause = 0x12
	CausePermStore         Cause = 0x13
	CausePermLoadCap       Cause = 0x14
	CausePermStoreCap      Cause = 0x15
	CausePermStoreLocalCap Cause = 0x16
	CausePermSeal          Cause = 0x17
	CauseAccessSysRegs     Cause = 0x18
	CausePermCCall         Cause = 0x19
	CauseAccessEPCC        Cause = 0x1a
	CauseAccessKDC         Cause = 0x1b
	CauseAccessKCC         Cause = 0x1c
	CauseAccessKR1C        Cause = 0x1d
	CauseAccessKR2C        Cause = 0x1e
)

// NoReg is the register field for faults with no owning register, such
// as instruction-fetch checks against PCC.
const NoReg = 0xff

// causeStrings holds the canonical cause names. Test suites match these
// exactly; do not reword them.
var causeStrings = [...]string{
	"None",
	"Length Violation",
	"Tag Violation",
	"Seal Violation",
	"Type Violation",
	"Call Trap",
	"Return Trap",
	"Underflow of Trusted System Stack",
	"User-defined Permission Violation",
	"TLB prohibits Store Capability",
	"Bounds Cannot Be Represented Exactly",
	"Reserved 0x0b",
	"Reserved 0x0c",
	"Reserved 0x0d",
	"Reserved 0x0e",
	"Reserved 0x0f",
	"Global Violation",
	"Permit_Execute Violation",
	"Permit_Load Violation",
	"Permit_Store Violation",
	"Permit_Load_Capability Violation",
	"Permit_Store_Capability Violation",
	"Permit_Store_Local_Capability Violation",
	"Permit_Seal Violation",
	"Access_Sys_Reg Violation",
	"Permit_CCall Violation",
	"Access_EPCC Violation",
	"Access_KDC Violation",
	"Access_KCC Violation",
	"Access_KR1C Violation",
	"Access_KR2C Violation",
}

// String returns the canonical cause name.
func (c Cause) String() string {
	if int(c) < len(causeStrings) {
		return causeStrings[c]
	}
	return fmt.Sprintf("Reserved %#02x", uint8(c))
}

// Register packs the 16-bit cause register value: cause in the high
// byte, faulting register in the low byte.
func Register(c Cause, reg int) uint16 {
	return uint16(c)<<8 | uint16(reg)&0xff
}

// ParseCause resolves a canonical cause name back to its code. Reserved
// placeholder names do not parse.
func ParseCause(name string) (Cause, bool) {
	for i, s := range causeStrings {
		if s == name && !strings.HasPrefix(s, "Reserved") {
			return Cause(i), true
		}
	}
	return CauseNone, false
}
