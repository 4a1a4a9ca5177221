package harness

import (
	"bytes"

	"github.com/roach88/warden/internal/fault"
	"github.com/roach88/warden/internal/machine"
)

// checkStep evaluates one step's expect clause against what the machine
// did. Failures go to the result; execution continues so a scenario can
// assert on the state a fault left behind.
func checkStep(res *Result, i int, step *Step, out machine.Outcome, exc *fault.Exception, m *machine.Machine) {
	exp := step.Expect
	if exp == nil {
		if exc != nil {
			res.AddError("step %d (%s): unexpected fault: %v", i, step.Op, exc)
		}
		return
	}

	if exp.Fault != "" {
		want, _ := fault.ParseCause(exp.Fault)
		switch {
		case exc == nil:
			res.AddError("step %d (%s): expected fault %q, retired cleanly", i, step.Op, exp.Fault)
		case exc.Cause != want:
			res.AddError("step %d (%s): expected fault %q, got %q", i, step.Op, exp.Fault, exc.Cause)
		case exp.Reg != nil && exc.Reg != *exp.Reg:
			res.AddError("step %d (%s): fault on register %d, expected %d", i, step.Op, exc.Reg, *exp.Reg)
		}
	} else if exc != nil {
		res.AddError("step %d (%s): unexpected fault: %v", i, step.Op, exc)
	}

	if exp.Value != nil && exc == nil {
		switch {
		case !out.HasValue:
			res.AddError("step %d (%s): expected value %#x, operation returns none", i, step.Op, *exp.Value)
		case out.Value != *exp.Value:
			res.AddError("step %d (%s): value %#x, expected %#x", i, step.Op, out.Value, *exp.Value)
		}
	}

	if exp.Register != nil {
		checkRegister(res, i, step, exp.Register, m)
	}
	if exp.Memory != nil {
		checkMemory(res, i, step, exp.Memory, m)
	}
}

func checkRegister(res *Result, i int, step *Step, want *RegisterExpect, m *machine.Machine) {
	c, err := m.LookupRegister(want.Name)
	if err != nil {
		res.AddError("step %d (%s): %v", i, step.Op, err)
		return
	}
	if want.Tag != nil && c.Tag != *want.Tag {
		res.AddError("step %d (%s): %s tag=%v, expected %v", i, step.Op, want.Name, c.Tag, *want.Tag)
	}
	if want.Sealed != nil && c.IsSealed() != *want.Sealed {
		res.AddError("step %d (%s): %s sealed=%v, expected %v", i, step.Op, want.Name, c.IsSealed(), *want.Sealed)
	}
	if want.Base != nil && c.Base != *want.Base {
		res.AddError("step %d (%s): %s base=%#x, expected %#x", i, step.Op, want.Name, c.Base, *want.Base)
	}
	if want.Length != nil && c.LengthSat() != *want.Length {
		res.AddError("step %d (%s): %s length=%#x, expected %#x", i, step.Op, want.Name, c.LengthSat(), *want.Length)
	}
	if want.Offset != nil && c.Offset != *want.Offset {
		res.AddError("step %d (%s): %s offset=%#x, expected %#x", i, step.Op, want.Name, c.Offset, *want.Offset)
	}
	if want.Cursor != nil && c.Cursor() != *want.Cursor {
		res.AddError("step %d (%s): %s cursor=%#x, expected %#x", i, step.Op, want.Name, c.Cursor(), *want.Cursor)
	}
	if want.Perms != nil && uint64(c.Perms) != *want.Perms {
		res.AddError("step %d (%s): %s perms=%#x, expected %#x", i, step.Op, want.Name, uint64(c.Perms), *want.Perms)
	}
	if want.UPerms != nil && uint64(c.UPerms) != *want.UPerms {
		res.AddError("step %d (%s): %s uperms=%#x, expected %#x", i, step.Op, want.Name, uint64(c.UPerms), *want.UPerms)
	}
	if want.OType != nil && uint64(c.OType) != *want.OType {
		res.AddError("step %d (%s): %s otype=%#x, expected %#x", i, step.Op, want.Name, uint64(c.OType), *want.OType)
	}
}

func checkMemory(res *Result, i int, step *Step, want *MemoryExpect, m *machine.Machine) {
	if want.Bytes != "" {
		wantBytes, err := want.bytes()
		if err != nil {
			res.AddError("step %d (%s): %v", i, step.Op, err)
			return
		}
		got := m.Mem().ReadBytes(want.Addr, len(wantBytes))
		if !bytes.Equal(got, wantBytes) {
			res.AddError("step %d (%s): memory at %#x = %x, expected %x", i, step.Op, want.Addr, got, wantBytes)
		}
	}
	if want.Tag != nil {
		if got := m.Mem().Tag(want.Addr); got != *want.Tag {
			res.AddError("step %d (%s): tag at %#x = %v, expected %v", i, step.Op, want.Addr, got, *want.Tag)
		}
	}
}
