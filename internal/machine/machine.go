package machine

import (
	"log/slog"

	"github.com/roach88/warden/internal/capability"
	"github.com/roach88/warden/internal/fault"
	"github.com/roach88/warden/internal/mem"
	"github.com/roach88/warden/internal/trace"
)

// Machine is the capability machine.
//
// CRITICAL: All mutations happen on a single owning goroutine. Operations,
// pokes and dumps must not race; observers are invoked synchronously on
// that goroutine in retire order.
//
// Thread-safety model:
//   - every exported method: single goroutine only
//   - Clock: safe from any goroutine (replay readers poll it)
type Machine struct {
	codec capability.Codec
	mem   *mem.Memory
	clock *Clock
	log   *slog.Logger

	regs regFile

	capCause uint16 // cause << 8 | regnum of the last capability fault
	badVAddr uint64
	linked   bool // load-linked/store-conditional flag
	kernel   bool

	typePolicy     TypeCheckPolicy
	allowUnaligned bool

	observers []trace.Observer
	stats     *trace.Stats

	// pending is the register write recorded by the current operation,
	// folded into the retire event. Valid only inside retire.
	pending pendingWrite
}

type pendingWrite struct {
	target    string
	old, next capability.Capability
}

// Option configures a Machine.
type Option func(*Machine)

// WithCodec selects the in-memory capability format. Default: concentrate.
func WithCodec(c capability.Codec) Option {
	return func(m *Machine) {
		m.codec = c
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.log = l
		}
	}
}

// WithObserver registers a retire observer. Observers are notified in
// registration order.
func WithObserver(o trace.Observer) Option {
	return func(m *Machine) {
		if o != nil {
			m.observers = append(m.observers, o)
		}
	}
}

// WithStats installs a stats collector: it receives every retire event and
// the machine drives its memory-traffic, arithmetic and instruction hooks.
func WithStats(s *trace.Stats) Option {
	return func(m *Machine) {
		if s != nil {
			m.stats = s
			m.observers = append(m.observers, s)
		}
	}
}

// WithUnalignedAccess permits unaligned scalar loads and stores.
// Capability-sized accesses stay alignment-checked regardless.
func WithUnalignedAccess(allow bool) Option {
	return func(m *Machine) {
		m.allowUnaligned = allow
	}
}

// WithTypeCheckPolicy sets the executing-context type check policy
// (default TypeCheckOff).
func WithTypeCheckPolicy(p TypeCheckPolicy) Option {
	return func(m *Machine) {
		m.typePolicy = p
	}
}

// New creates a machine at architectural reset: every authority register
// holds the almighty capability, kernel mode, empty memory, retire
// sequence at zero.
func New(opts ...Option) *Machine {
	m := &Machine{
		codec:  capability.Concentrate{},
		clock:  NewClock(),
		log:    slog.Default(),
		kernel: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.mem = mem.New(m.codec.GranuleBytes())
	m.regs.reset()
	return m
}

// NewWithClock creates a machine whose retire sequence resumes from the
// given clock. Snapshot restore and trace replay use it to continue an
// earlier run's numbering.
func NewWithClock(clock *Clock, opts ...Option) *Machine {
	m := New(opts...)
	if clock != nil {
		m.clock = clock
	}
	return m
}

// Codec returns the machine's capability codec.
func (m *Machine) Codec() capability.Codec {
	return m.codec
}

// Mem returns the machine's memory. Direct access bypasses the operation
// boundary; scenario setup and snapshots use it.
func (m *Machine) Mem() *mem.Memory {
	return m.mem
}

// Clock returns the retire clock.
func (m *Machine) Clock() *Clock {
	return m.clock
}

// RetireCount returns how many operations have retired.
func (m *Machine) RetireCount() int64 {
	return m.clock.Current()
}

// CauseRegister returns the 16-bit capability cause register:
// cause << 8 | regnum of the last capability fault.
func (m *Machine) CauseRegister() uint16 {
	return m.capCause
}

// SetCauseRegister pokes the cause register (snapshot restore; CSetCause
// is the checked operation).
func (m *Machine) SetCauseRegister(v uint16) {
	m.capCause = v
}

// BadVAddr returns the address recorded by the last address-carrying
// fault.
func (m *Machine) BadVAddr() uint64 {
	return m.badVAddr
}

// SetBadVAddr pokes the bad-address register (snapshot restore).
func (m *Machine) SetBadVAddr(v uint64) {
	m.badVAddr = v
}

// Linked reports the load-linked flag.
func (m *Machine) Linked() bool {
	return m.linked
}

// SetLinked pokes the load-linked flag (snapshot restore).
func (m *Machine) SetLinked(v bool) {
	m.linked = v
}

// KernelMode reports the privilege mode.
func (m *Machine) KernelMode() bool {
	return m.kernel
}

// SetKernelMode switches the privilege mode. It gates the kernel-only
// hardware registers and the instruction-count split.
func (m *Machine) SetKernelMode(kernel bool) {
	m.kernel = kernel
}

// PC returns the executing cursor: PCC base + offset.
func (m *Machine) PC() uint64 {
	return m.regs.pcc.Cursor()
}

// retire is the single operation boundary. It runs fn, converts a raised
// fault into the returned error after recording cause and BadVAddr, bumps
// the retire clock, and notifies observers exactly once. fn runs with a
// clean pending write.
func (m *Machine) retire(op string, fn func()) (err error) {
	m.pending = pendingWrite{}
	defer func() {
		ev := trace.Event{Seq: m.clock.Next(), Op: op, PC: m.PC()}
		if r := recover(); r != nil {
			exc, ok := fault.FromPanic(r)
			if !ok {
				panic(r)
			}
			exc.Op = op
			if exc.Class == fault.ClassCapability {
				m.capCause = exc.CauseRegister()
			}
			if exc.HasVAddr {
				m.badVAddr = exc.BadVAddr
			}
			ev.Fault = exc
			err = exc
		} else if m.pending.target != "" {
			ev.Target = m.pending.target
			ev.Old = m.pending.old
			ev.New = m.pending.next
		}
		for _, o := range m.observers {
			o.OpRetired(ev)
		}
	}()
	fn()
	return nil
}

// recordWrite folds a register change into the retire event. Writes that
// leave the value bit-identical are not reported; when an operation writes
// several registers the last change wins.
func (m *Machine) recordWrite(name string, old, next capability.Capability) {
	if old == next {
		return
	}
	m.pending = pendingWrite{target: name, old: old, next: next}
}

// writeGPR replaces a general register. Index 0 discards.
func (m *Machine) writeGPR(i int, c capability.Capability) {
	i &= 31
	if i == 0 {
		return
	}
	old := m.regs.gpr[i]
	m.regs.gpr[i] = c
	m.recordWrite(RegName(i), old, c)
}

// writeNamed replaces a named register slot (hardware registers, PCC, the
// branch staging slot).
func (m *Machine) writeNamed(name string, slot *capability.Capability, c capability.Capability) {
	old := *slot
	*slot = c
	m.recordWrite(name, old, c)
}

// stageBranch parks the branch target for the landing checks.
func (m *Machine) stageBranch(c capability.Capability) {
	m.writeNamed(RegNameBranchTarget, &m.regs.branchTarget, c)
}

// CheckBranchTarget runs the fetch legality ladder against the staged
// branch target: Execute permission, 4 bytes in bounds at its cursor.
func (m *Machine) CheckBranchTarget() error {
	return m.retire("ccheckbtarget", func() {
		c := m.regs.branchTarget
		m.checkCap(&c, capability.PermExecute, c.Cursor(), fault.NoReg, 4)
	})
}

// CommitBranch lands the staged branch: the target becomes the executing
// context with its offset at the branch cursor. Callers run
// CheckBranchTarget or PCCFetchCheck around it; CommitBranch itself does
// not fault.
func (m *Machine) CommitBranch(target uint64) {
	c := m.regs.branchTarget
	c.Offset = target - c.Base
	m.regs.pcc = c
}

// PCCFetchCheck validates the next fetch address against the executing
// context. The offset is written before the check so a faulting fetch
// still exposes the correct pc to the exception path; this is the one
// deliberate exception to faults performing no writes.
func (m *Machine) PCCFetchCheck(nextPC uint64) error {
	return m.retire("ccheckpc", func() {
		if m.stats != nil {
			m.stats.Instruction(m.kernel)
		}
		old := m.regs.pcc
		m.regs.pcc.Offset = nextPC - m.regs.pcc.Base
		m.recordWrite(RegNamePCC, old, m.regs.pcc)
		m.checkCap(&m.regs.pcc, capability.PermExecute, nextPC, fault.NoReg, 4)
	})
}
