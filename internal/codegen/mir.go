package codegen

import "fmt"

// RegClass is a register file.
type RegClass uint8

const (
	ClassGPR RegClass = iota
	ClassFPR
)

func (c RegClass) String() string {
	if c == ClassFPR {
		return "fpr"
	}
	return "gpr"
}

// VReg is a virtual register number.
type VReg int32

// MOpKind distinguishes machine operands.
type MOpKind uint8

const (
	MReg MOpKind = iota
	MImm
	MSlot   // stack slot, resolved to an sp offset by frame lowering
	MTarget // branch target
	MSym    // external symbol or constant pool label
)

// MOperand is a machine instruction input.
type MOperand struct {
	Kind  MOpKind
	Reg   VReg
	Imm   int64
	Index int
	Sym   string
}

func regOp(r VReg) MOperand { return MOperand{Kind: MReg, Reg: r} }
func immOp(v int64) MOperand { return MOperand{Kind: MImm, Imm: v} }
func slotOp(i int) MOperand { return MOperand{Kind: MSlot, Index: i} }
func blockOp(i int) MOperand { return MOperand{Kind: MTarget, Index: i} }
func symOp(s string) MOperand { return MOperand{Kind: MSym, Sym: s} }

func regOps(rs []VReg) []MOperand {
	out := make([]MOperand, len(rs))
	for i, r := range rs {
		out[i] = regOp(r)
	}
	return out
}

// MInstr is a selected machine instruction.
type MInstr struct {
	Op    string // mnemonic
	Width int    // operation width in bits, 0 when not applicable
	Cond  string // condition code of compares, branches and selects
	Defs  []VReg
	Uses  []MOperand
	Call  bool // clobbers caller-saved registers
	Term  bool
}

// MBlock is a machine basic block.
type MBlock struct {
	Name   string
	Instrs []*MInstr
	Succs  []int
}

// StackSlot is a frame object.
type StackSlot struct {
	Size   int
	Align  int
	Offset int // assigned by frame lowering
	Spill  bool
}

// MFunc is a function in machine form.
type MFunc struct {
	Name    string
	Blocks  []*MBlock
	Classes []RegClass // per virtual register
	Slots   []StackSlot
	Pool    []uint64 // constant pool, 8 bytes per entry

	// Assigned by register allocation: physical register per virtual
	// register, -1 when the register lives in Spill[v].
	Phys  []int
	Spill []int

	FrameSize int
	HasCalls  bool
}

// NewVReg allocates a virtual register of class c.
func (mf *MFunc) NewVReg(c RegClass) VReg {
	mf.Classes = append(mf.Classes, c)
	return VReg(len(mf.Classes) - 1)
}

// NewSlot allocates a stack slot and returns its index.
func (mf *MFunc) NewSlot(size, align int, spill bool) int {
	if align <= 0 {
		align = 1
	}
	mf.Slots = append(mf.Slots, StackSlot{Size: size, Align: align, Spill: spill})
	return len(mf.Slots) - 1
}

// PoolIndex returns the constant pool entry holding bits, adding one when
// missing.
func (mf *MFunc) PoolIndex(bits uint64) int {
	for i, v := range mf.Pool {
		if v == bits {
			return i
		}
	}
	mf.Pool = append(mf.Pool, bits)
	return len(mf.Pool) - 1
}

// NumInstrs counts machine instructions.
func (mf *MFunc) NumInstrs() int {
	n := 0
	for _, mb := range mf.Blocks {
		n += len(mb.Instrs)
	}
	return n
}

func (r VReg) String() string { return fmt.Sprintf("%%v%d", int32(r)) }
