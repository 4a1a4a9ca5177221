package machine

// The comparison operations order capabilities by cursor. A tag mismatch
// makes the operands unequal, and the untagged operand sorts first in the
// ordered comparisons. None of these fault.

func boolVal(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// CEQ reports pointer equality: tags match and cursors match.
func (m *Machine) CEQ(cb, ct int) (uint64, error) {
	var v uint64
	err := m.retire("ceq", func() {
		b, t := m.regs.reg(cb), m.regs.reg(ct)
		v = boolVal(b.Equal(&t))
	})
	return v, err
}

// CNE is the negation of CEQ.
func (m *Machine) CNE(cb, ct int) (uint64, error) {
	var v uint64
	err := m.retire("cne", func() {
		b, t := m.regs.reg(cb), m.regs.reg(ct)
		v = boolVal(!b.Equal(&t))
	})
	return v, err
}

// cmpOrdered resolves the ordered comparisons: a tag mismatch orders the
// untagged operand first; otherwise the cursors decide, signed or
// unsigned.
func cmpOrdered(bTag bool, bCursor uint64, tTag bool, tCursor uint64, signed bool) int {
	if bTag != tTag {
		if bTag {
			return 1
		}
		return -1
	}
	if bCursor == tCursor {
		return 0
	}
	if signed {
		if int64(bCursor) < int64(tCursor) {
			return -1
		}
		return 1
	}
	if bCursor < tCursor {
		return -1
	}
	return 1
}

func (m *Machine) compare(op string, cb, ct int, signed bool, accept func(int) bool) (uint64, error) {
	var v uint64
	err := m.retire(op, func() {
		b, t := m.regs.reg(cb), m.regs.reg(ct)
		v = boolVal(accept(cmpOrdered(b.Tag, b.Cursor(), t.Tag, t.Cursor(), signed)))
	})
	return v, err
}

// CLT is the signed cursor comparison cb < ct.
func (m *Machine) CLT(cb, ct int) (uint64, error) {
	return m.compare("clt", cb, ct, true, func(c int) bool { return c < 0 })
}

// CLE is the signed cursor comparison cb <= ct.
func (m *Machine) CLE(cb, ct int) (uint64, error) {
	return m.compare("cle", cb, ct, true, func(c int) bool { return c <= 0 })
}

// CLTU is the unsigned cursor comparison cb < ct.
func (m *Machine) CLTU(cb, ct int) (uint64, error) {
	return m.compare("cltu", cb, ct, false, func(c int) bool { return c < 0 })
}

// CLEU is the unsigned cursor comparison cb <= ct.
func (m *Machine) CLEU(cb, ct int) (uint64, error) {
	return m.compare("cleu", cb, ct, false, func(c int) bool { return c <= 0 })
}

// CExEq reports exact equality: tag, base, offset, top, object type and
// hardware permissions. User permissions are excluded.
func (m *Machine) CExEq(cb, ct int) (uint64, error) {
	var v uint64
	err := m.retire("cexeq", func() {
		b, t := m.regs.reg(cb), m.regs.reg(ct)
		v = boolVal(b.ExactEqual(&t))
	})
	return v, err
}

// CNExEq is the negation of CExEq.
func (m *Machine) CNExEq(cb, ct int) (uint64, error) {
	var v uint64
	err := m.retire("cnexeq", func() {
		b, t := m.regs.reg(cb), m.regs.reg(ct)
		v = boolVal(!b.ExactEqual(&t))
	})
	return v, err
}

// CTestSubset reports whether ct is a subset of the authorizing cb (index
// 0 reads DDC): equal tags, nested bounds, covered permissions.
func (m *Machine) CTestSubset(cb, ct int) (uint64, error) {
	var v uint64
	err := m.retire("ctestsubset", func() {
		b := m.regs.regDDC(cb)
		t := m.regs.reg(ct)
		v = boolVal(t.Subset(&b))
	})
	return v, err
}
