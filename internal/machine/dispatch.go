package machine

import (
	"fmt"
	"sort"
)

// Args carries the operands of one dispatched operation. Field use varies
// by mnemonic; unused fields stay zero. The struct round-trips through
// scenario YAML and the recorder's msgpack step blobs.
type Args struct {
	Cd int `yaml:"cd,omitempty" json:"cd,omitempty" msgpack:"cd,omitempty"`
	Cb int `yaml:"cb,omitempty" json:"cb,omitempty" msgpack:"cb,omitempty"`
	Cs int `yaml:"cs,omitempty" json:"cs,omitempty" msgpack:"cs,omitempty"`
	Ct int `yaml:"ct,omitempty" json:"ct,omitempty" msgpack:"ct,omitempty"`

	Rt uint64 `yaml:"rt,omitempty" json:"rt,omitempty" msgpack:"rt,omitempty"`
	Rs uint64 `yaml:"rs,omitempty" json:"rs,omitempty" msgpack:"rs,omitempty"`

	Imm    int32  `yaml:"imm,omitempty" json:"imm,omitempty" msgpack:"imm,omitempty"`
	Size   uint32 `yaml:"size,omitempty" json:"size,omitempty" msgpack:"size,omitempty"`
	Sel    uint32 `yaml:"sel,omitempty" json:"sel,omitempty" msgpack:"sel,omitempty"`
	Value  uint64 `yaml:"value,omitempty" json:"value,omitempty" msgpack:"value,omitempty"`
	Addr   uint64 `yaml:"addr,omitempty" json:"addr,omitempty" msgpack:"addr,omitempty"`
	Offset uint64 `yaml:"offset,omitempty" json:"offset,omitempty" msgpack:"offset,omitempty"`
	Hwr    int    `yaml:"hwr,omitempty" json:"hwr,omitempty" msgpack:"hwr,omitempty"`
	Mask   uint32 `yaml:"mask,omitempty" json:"mask,omitempty" msgpack:"mask,omitempty"`
	Signed bool   `yaml:"signed,omitempty" json:"signed,omitempty" msgpack:"signed,omitempty"`
}

// Outcome is what a dispatched operation produced besides its register
// and memory effects: the scalar result of value-returning mnemonics.
type Outcome struct {
	Value    uint64 `json:"value"`
	HasValue bool   `json:"has_value"`
}

func value(v uint64) Outcome {
	return Outcome{Value: v, HasValue: true}
}

type opFunc func(m *Machine, a Args) (Outcome, error)

func scalarSize(size uint32) (uint32, error) {
	switch size {
	case 1, 2, 4, 8:
		return size, nil
	default:
		return 0, NewOperandError(
			fmt.Sprintf("invalid scalar size %d (valid: 1, 2, 4, 8)", size),
			map[string]string{"size": fmt.Sprintf("%d", size)},
		)
	}
}

var ops = map[string]opFunc{
	// inspection
	"cgetbase": func(m *Machine, a Args) (Outcome, error) {
		v, err := m.CGetBase(a.Cb)
		return value(v), err
	},
	"cgetoffset": func(m *Machine, a Args) (Outcome, error) {
		v, err := m.CGetOffset(a.Cb)
		return value(v), err
	},
	"cgetaddr": func(m *Machine, a Args) (Outcome, error) {
		v, err := m.CGetAddr(a.Cb)
		return value(v), err
	},
	"cgetandaddr": func(m *Machine, a Args) (Outcome, error) {
		v, err := m.CGetAndAddr(a.Cb, a.Rt)
		return value(v), err
	},
	"cgetlen": func(m *Machine, a Args) (Outcome, error) {
		v, err := m.CGetLen(a.Cb)
		return value(v), err
	},
	"cgettag": func(m *Machine, a Args) (Outcome, error) {
		v, err := m.CGetTag(a.Cb)
		return value(v), err
	},
	"cgetsealed": func(m *Machine, a Args) (Outcome, error) {
		v, err := m.CGetSealed(a.Cb)
		return value(v), err
	},
	"cgettype": func(m *Machine, a Args) (Outcome, error) {
		v, err := m.CGetType(a.Cb)
		return value(v), err
	},
	"cgetperm": func(m *Machine, a Args) (Outcome, error) {
		v, err := m.CGetPerm(a.Cb)
		return value(v), err
	},
	"cgetpcc": func(m *Machine, a Args) (Outcome, error) {
		return Outcome{}, m.CGetPCC(a.Cd)
	},
	"cgetpccsetoffset": func(m *Machine, a Args) (Outcome, error) {
		return Outcome{}, m.CGetPCCSetOffset(a.Cd, a.Rs)
	},
	"csub": func(m *Machine, a Args) (Outcome, error) {
		v, err := m.CSub(a.Cb, a.Ct)
		return value(v), err
	},
	"ctoptr": func(m *Machine, a Args) (Outcome, error) {
		v, err := m.CToPtr(a.Cb, a.Ct)
		return value(v), err
	},
	"crrl": func(m *Machine, a Args) (Outcome, error) {
		v, err := m.CRRL(a.Rt)
		return value(v), err
	},
	"cram": func(m *Machine, a Args) (Outcome, error) {
		v, err := m.CRAM(a.Rt)
		return value(v), err
	},

	// comparison
	"ceq": func(m *Machine, a Args) (Outcome, error) {
		v, err := m.CEQ(a.Cb, a.Ct)
		return value(v), err
	},
	"cne": func(m *Machine, a Args) (Outcome, error) {
		v, err := m.CNE(a.Cb, a.Ct)
		return value(v), err
	},
	"clt": func(m *Machine, a Args) (Outcome, error) {
		v, err := m.CLT(a.Cb, a.Ct)
		return value(v), err
	},
	"cle": func(m *Machine, a Args) (Outcome, error) {
		v, err := m.CLE(a.Cb, a.Ct)
		return value(v), err
	},
	"cltu": func(m *Machine, a Args) (Outcome, error) {
		v, err := m.CLTU(a.Cb, a.Ct)
		return value(v), err
	},
	"cleu": func(m *Machine, a Args) (Outcome, error) {
		v, err := m.CLEU(a.Cb, a.Ct)
		return value(v), err
	},
	"cexeq": func(m *Machine, a Args) (Outcome, error) {
		v, err := m.CExEq(a.Cb, a.Ct)
		return value(v), err
	},
	"cnexeq": func(m *Machine, a Args) (Outcome, error) {
		v, err := m.CNExEq(a.Cb, a.Ct)
		return value(v), err
	},
	"ctestsubset": func(m *Machine, a Args) (Outcome, error) {
		v, err := m.CTestSubset(a.Cb, a.Ct)
		return value(v), err
	},

	// permission and tag manipulation
	"candperm": func(m *Machine, a Args) (Outcome, error) {
		return Outcome{}, m.CAndPerm(a.Cd, a.Cb, a.Rt)
	},
	"ccleartag": func(m *Machine, a Args) (Outcome, error) {
		return Outcome{}, m.CClearTag(a.Cd, a.Cb)
	},
	"cclearregs": func(m *Machine, a Args) (Outcome, error) {
		return Outcome{}, m.CClearRegs(a.Mask)
	},
	"ccheckperm": func(m *Machine, a Args) (Outcome, error) {
		return Outcome{}, m.CCheckPerm(a.Cs, a.Rt)
	},
	"cchecktype": func(m *Machine, a Args) (Outcome, error) {
		return Outcome{}, m.CCheckType(a.Cs, a.Cb)
	},

	// offset and address movement
	"cincoffset": func(m *Machine, a Args) (Outcome, error) {
		return Outcome{}, m.CIncOffset(a.Cd, a.Cb, a.Rt)
	},
	"csetoffset": func(m *Machine, a Args) (Outcome, error) {
		return Outcome{}, m.CSetOffset(a.Cd, a.Cb, a.Rt)
	},
	"csetaddr": func(m *Machine, a Args) (Outcome, error) {
		return Outcome{}, m.CSetAddr(a.Cd, a.Cb, a.Rt)
	},
	"candaddr": func(m *Machine, a Args) (Outcome, error) {
		return Outcome{}, m.CAndAddr(a.Cd, a.Cb, a.Rt)
	},
	"cfromptr": func(m *Machine, a Args) (Outcome, error) {
		return Outcome{}, m.CFromPtr(a.Cd, a.Cb, a.Rt)
	},
	"cmovz": func(m *Machine, a Args) (Outcome, error) {
		return Outcome{}, m.CMovz(a.Cd, a.Cs, a.Rs)
	},
	"cmovn": func(m *Machine, a Args) (Outcome, error) {
		return Outcome{}, m.CMovn(a.Cd, a.Cs, a.Rs)
	},

	// bounds
	"csetbounds": func(m *Machine, a Args) (Outcome, error) {
		return Outcome{}, m.CSetBounds(a.Cd, a.Cb, a.Rt)
	},
	"csetboundsexact": func(m *Machine, a Args) (Outcome, error) {
		return Outcome{}, m.CSetBoundsExact(a.Cd, a.Cb, a.Rt)
	},
	"csetboundsimm": func(m *Machine, a Args) (Outcome, error) {
		return Outcome{}, m.CSetBoundsImm(a.Cd, a.Cb, uint64(a.Imm))
	},
	"cincbase": func(m *Machine, a Args) (Outcome, error) {
		return Outcome{}, m.CIncBase(a.Cd, a.Cb, a.Rt)
	},
	"csetlen": func(m *Machine, a Args) (Outcome, error) {
		return Outcome{}, m.CSetLen(a.Cd, a.Cb, a.Rt)
	},

	// sealing
	"cseal": func(m *Machine, a Args) (Outcome, error) {
		return Outcome{}, m.CSeal(a.Cd, a.Cs, a.Ct)
	},
	"ccseal": func(m *Machine, a Args) (Outcome, error) {
		return Outcome{}, m.CCSeal(a.Cd, a.Cs, a.Ct)
	},
	"csealentry": func(m *Machine, a Args) (Outcome, error) {
		return Outcome{}, m.CSealEntry(a.Cd, a.Cs)
	},
	"cunseal": func(m *Machine, a Args) (Outcome, error) {
		return Outcome{}, m.CUnseal(a.Cd, a.Cs, a.Ct)
	},
	"cbuildcap": func(m *Machine, a Args) (Outcome, error) {
		return Outcome{}, m.CBuildCap(a.Cd, a.Cb, a.Ct)
	},
	"ccopytype": func(m *Machine, a Args) (Outcome, error) {
		return Outcome{}, m.CCopyType(a.Cd, a.Cb, a.Ct)
	},

	// control flow
	"cbtu": func(m *Machine, a Args) (Outcome, error) {
		taken, err := m.CBTU(a.Cb)
		return value(boolVal(taken)), err
	},
	"cbts": func(m *Machine, a Args) (Outcome, error) {
		taken, err := m.CBTS(a.Cb)
		return value(boolVal(taken)), err
	},
	"cbez": func(m *Machine, a Args) (Outcome, error) {
		taken, err := m.CBEZ(a.Cb)
		return value(boolVal(taken)), err
	},
	"cbnz": func(m *Machine, a Args) (Outcome, error) {
		taken, err := m.CBNZ(a.Cb)
		return value(boolVal(taken)), err
	},
	"cjr": func(m *Machine, a Args) (Outcome, error) {
		v, err := m.CJR(a.Cb)
		return value(v), err
	},
	"cjalr": func(m *Machine, a Args) (Outcome, error) {
		v, err := m.CJALR(a.Cd, a.Cb)
		return value(v), err
	},
	"ccall": func(m *Machine, a Args) (Outcome, error) {
		v, err := m.CCall(a.Cs, a.Ct, a.Sel)
		return value(v), err
	},
	"creturn": func(m *Machine, a Args) (Outcome, error) {
		return Outcome{}, m.CReturn()
	},
	"ccheckbtarget": func(m *Machine, a Args) (Outcome, error) {
		return Outcome{}, m.CheckBranchTarget()
	},
	"ccheckpc": func(m *Machine, a Args) (Outcome, error) {
		return Outcome{}, m.PCCFetchCheck(a.Addr)
	},
	"commitbranch": func(m *Machine, a Args) (Outcome, error) {
		m.CommitBranch(a.Addr)
		return Outcome{}, nil
	},

	// hardware registers
	"creadhwr": func(m *Machine, a Args) (Outcome, error) {
		return Outcome{}, m.CReadHwr(a.Cd, a.Hwr)
	},
	"cwritehwr": func(m *Machine, a Args) (Outcome, error) {
		return Outcome{}, m.CWriteHwr(a.Cs, a.Hwr)
	},
	"cgetcause": func(m *Machine, a Args) (Outcome, error) {
		v, err := m.CGetCause()
		return value(v), err
	},
	"csetcause": func(m *Machine, a Args) (Outcome, error) {
		return Outcome{}, m.CSetCause(a.Rt)
	},
	"setepc": func(m *Machine, a Args) (Outcome, error) {
		return Outcome{}, m.SetEPC(a.Rt)
	},
	"seterrorepc": func(m *Machine, a Args) (Outcome, error) {
		return Outcome{}, m.SetErrorEPC(a.Rt)
	},

	// memory
	"cload": func(m *Machine, a Args) (Outcome, error) {
		size, err := scalarSize(a.Size)
		if err != nil {
			return Outcome{}, err
		}
		v, err := m.Load(a.Cb, a.Rt, a.Imm, size, a.Signed)
		return value(v), err
	},
	"cstore": func(m *Machine, a Args) (Outcome, error) {
		size, err := scalarSize(a.Size)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{}, m.Store(a.Cb, a.Rt, a.Imm, size, a.Value)
	},
	"cloadlinked": func(m *Machine, a Args) (Outcome, error) {
		size, err := scalarSize(a.Size)
		if err != nil {
			return Outcome{}, err
		}
		v, err := m.LoadLinked(a.Cb, size, a.Signed)
		return value(v), err
	},
	"cstorecond": func(m *Machine, a Args) (Outcome, error) {
		size, err := scalarSize(a.Size)
		if err != nil {
			return Outcome{}, err
		}
		v, err := m.StoreConditional(a.Cb, size, a.Value)
		return value(v), err
	},
	"clc": func(m *Machine, a Args) (Outcome, error) {
		return Outcome{}, m.CLC(a.Cd, a.Cb, a.Rt, a.Imm)
	},
	"cllc": func(m *Machine, a Args) (Outcome, error) {
		return Outcome{}, m.CLLC(a.Cd, a.Cb)
	},
	"csc": func(m *Machine, a Args) (Outcome, error) {
		v, err := m.CSC(a.Cs, a.Cb, a.Rt, a.Imm)
		return value(v), err
	},
	"cscc": func(m *Machine, a Args) (Outcome, error) {
		v, err := m.CSCC(a.Cs, a.Cb)
		return value(v), err
	},
	"cloadtags": func(m *Machine, a Args) (Outcome, error) {
		v, err := m.CLoadTags(a.Cb, a.Rt)
		return value(v), err
	},
	"checkload": func(m *Machine, a Args) (Outcome, error) {
		size, err := scalarSize(a.Size)
		if err != nil {
			return Outcome{}, err
		}
		v, err := m.CheckLoad(a.Offset, size)
		return value(v), err
	},
	"checkstore": func(m *Machine, a Args) (Outcome, error) {
		size, err := scalarSize(a.Size)
		if err != nil {
			return Outcome{}, err
		}
		v, err := m.CheckStore(a.Offset, size)
		return value(v), err
	},
	"checkloadright": func(m *Machine, a Args) (Outcome, error) {
		size, err := scalarSize(a.Size)
		if err != nil {
			return Outcome{}, err
		}
		v, err := m.CheckLoadRight(a.Offset, size)
		return value(v), err
	},
	"checkstoreright": func(m *Machine, a Args) (Outcome, error) {
		size, err := scalarSize(a.Size)
		if err != nil {
			return Outcome{}, err
		}
		v, err := m.CheckStoreRight(a.Offset, size)
		return value(v), err
	},
}

// Invoke dispatches one operation by mnemonic. Unknown mnemonics and
// malformed operands are RuntimeErrors: nothing retires.
func (m *Machine) Invoke(op string, a Args) (Outcome, error) {
	fn, ok := ops[op]
	if !ok {
		return Outcome{}, NewUnknownOpError(op)
	}
	return fn(m, a)
}

// Ops returns the dispatchable mnemonics, sorted.
func Ops() []string {
	names := make([]string, 0, len(ops))
	for name := range ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
