package machine

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/roach88/warden/internal/capability"
)

// hwrDisplayName maps a hardware register to its dump column name. The
// TLS pair keeps the legacy short forms.
func hwrDisplayName(hwr int) string {
	switch hwr {
	case HwrDDC:
		return "DDC"
	case HwrUserTls:
		return "CTLSU"
	case HwrPrivTls:
		return "CTLSP"
	case HwrKR1C:
		return "KR1C"
	case HwrKR2C:
		return "KR2C"
	case HwrErrorEPCC:
		return "ErrorEPCC"
	case HwrKCC:
		return "KCC"
	case HwrKDC:
		return "KDC"
	case HwrEPCC:
		return "EPCC"
	default:
		return fmt.Sprintf("HWR%02d", hwr)
	}
}

// DumpState writes the register dump: PCC, the 32 general registers, then
// the hardware registers under their display names, then a blank line.
// Golden-file tests compare this output byte for byte.
func (m *Machine) DumpState(w io.Writer) error {
	if _, err := fmt.Fprintln(w, "DEBUG CAP COREID 0"); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "DEBUG CAP PCC %s\n", m.regs.pcc.String()); err != nil {
		return err
	}
	for i := 0; i < 32; i++ {
		c := m.regs.reg(i)
		if _, err := fmt.Fprintf(w, "DEBUG CAP REG %02d %s\n", i, c.String()); err != nil {
			return err
		}
	}
	for _, hw := range m.regs.hwSlots() {
		if _, err := fmt.Fprintf(w, "DEBUG CAP HWREG %02d (%s) %s\n",
			hw.index, hwrDisplayName(hw.index), hw.slot.String()); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}

// scratchTagIO is a one-granule TagIO for producing a capability's wire
// image without touching machine memory.
type scratchTagIO struct {
	words  map[uint64]uint64
	tag    bool
	m0, m1 uint64
}

func (s *scratchTagIO) ReadWord(addr uint64) uint64     { return s.words[addr] }
func (s *scratchTagIO) WriteWord(addr uint64, v uint64) { s.words[addr] = v }

func (s *scratchTagIO) ReadTagMeta(addr uint64) (bool, uint64, uint64) {
	return s.tag, s.m0, s.m1
}

func (s *scratchTagIO) WriteTagMeta(addr uint64, tag bool, m0, m1 uint64) {
	s.tag, s.m0, s.m1 = tag, m0, m1
}

// capImage renders c's in-memory data words big-endian: 16 bytes for the
// 128-bit codecs, 32 for wide. The tag travels separately (register 43).
func (m *Machine) capImage(c *capability.Capability) []byte {
	s := &scratchTagIO{words: make(map[uint64]uint64)}
	m.codec.Store(s, 0, c)
	g := m.codec.GranuleBytes()
	out := make([]byte, g)
	for off := uint64(0); off < g; off += 8 {
		binary.BigEndian.PutUint64(out[off:], s.words[off])
	}
	return out
}

// Debug wire register numbers above the general file.
const (
	debugRegDDC = 32 + iota
	debugRegPCC
	debugRegUserTls
	debugRegPrivTls
	debugRegKR1C
	debugRegKR2C
	debugRegKCC
	debugRegKDC
	debugRegEPCC
	debugRegErrorEPCC
	debugRegCause
	debugRegTagMask
)

// DebugRegister serializes one register for the debug wire. Registers
// 0-31 are the general file, 32-41 the hardware context, 42 the cause
// register and 43 the tag validity mask (bit 0 DDC, bits 1-31 the general
// registers, bit 32 PCC), the last two as 8 big-endian bytes.
func (m *Machine) DebugRegister(n int) ([]byte, error) {
	if n >= 0 && n < 32 {
		c := m.regs.reg(n)
		return m.capImage(&c), nil
	}
	switch n {
	case debugRegDDC:
		return m.capImage(&m.regs.ddc), nil
	case debugRegPCC:
		return m.capImage(&m.regs.pcc), nil
	case debugRegUserTls:
		return m.capImage(&m.regs.userTls), nil
	case debugRegPrivTls:
		return m.capImage(&m.regs.privTls), nil
	case debugRegKR1C:
		return m.capImage(&m.regs.kr1c), nil
	case debugRegKR2C:
		return m.capImage(&m.regs.kr2c), nil
	case debugRegKCC:
		return m.capImage(&m.regs.kcc), nil
	case debugRegKDC:
		return m.capImage(&m.regs.kdc), nil
	case debugRegEPCC:
		return m.capImage(&m.regs.epcc), nil
	case debugRegErrorEPCC:
		return m.capImage(&m.regs.errorEPCC), nil
	case debugRegCause:
		out := make([]byte, 8)
		binary.BigEndian.PutUint64(out, uint64(m.capCause))
		return out, nil
	case debugRegTagMask:
		var mask uint64
		if m.regs.ddc.Tag {
			mask |= 1
		}
		for i := 1; i < 32; i++ {
			if m.regs.gpr[i].Tag {
				mask |= 1 << i
			}
		}
		if m.regs.pcc.Tag {
			mask |= 1 << 32
		}
		out := make([]byte, 8)
		binary.BigEndian.PutUint64(out, mask)
		return out, nil
	default:
		return nil, NewRegisterError(fmt.Sprintf("debug register %d out of range", n))
	}
}
