package ir

import "math"

// ValueID names an instruction result within a function.
type ValueID int32

// NoValueID marks an instruction without an assigned id.
const NoValueID ValueID = -1

// Opcode enumerates instruction kinds.
type Opcode uint8

const (
	OpInvalid Opcode = iota

	// integer binary operators
	OpAdd
	OpSub
	OpMul
	OpUDiv
	OpSDiv
	OpURem
	OpSRem
	OpShl
	OpLShr
	OpAShr
	OpAnd
	OpOr
	OpXor

	// floating point binary operators
	OpFAdd
	OpFSub
	OpFMul
	OpFDiv
	OpFRem

	// comparisons and selection
	OpICmp
	OpFCmp
	OpSelect

	// memory
	OpAlloca
	OpLoad
	OpStore

	// terminators
	OpRet
	OpBr
	OpCondBr
	OpUnreachable

	opCount
)

var opNames = [...]string{
	OpInvalid:     "invalid",
	OpAdd:         "add",
	OpSub:         "sub",
	OpMul:         "mul",
	OpUDiv:        "udiv",
	OpSDiv:        "sdiv",
	OpURem:        "urem",
	OpSRem:        "srem",
	OpShl:         "shl",
	OpLShr:        "lshr",
	OpAShr:        "ashr",
	OpAnd:         "and",
	OpOr:          "or",
	OpXor:         "xor",
	OpFAdd:        "fadd",
	OpFSub:        "fsub",
	OpFMul:        "fmul",
	OpFDiv:        "fdiv",
	OpFRem:        "frem",
	OpICmp:        "icmp",
	OpFCmp:        "fcmp",
	OpSelect:      "select",
	OpAlloca:      "alloca",
	OpLoad:        "load",
	OpStore:       "store",
	OpRet:         "ret",
	OpBr:          "br",
	OpCondBr:      "br",
	OpUnreachable: "unreachable",
}

func (op Opcode) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return "invalid"
}

// Valid reports whether op is a known opcode.
func (op Opcode) Valid() bool { return op > OpInvalid && op < opCount }

// IsIntBinary reports whether op is an integer binary operator.
func (op Opcode) IsIntBinary() bool { return op >= OpAdd && op <= OpXor }

// IsFloatBinary reports whether op is a floating point binary operator.
func (op Opcode) IsFloatBinary() bool { return op >= OpFAdd && op <= OpFRem }

// IsBinary reports whether op takes two operands of the result type.
func (op Opcode) IsBinary() bool { return op.IsIntBinary() || op.IsFloatBinary() }

// IsTerminator reports whether op ends a block.
func (op Opcode) IsTerminator() bool { return op >= OpRet && op <= OpUnreachable }

// Predicate is the condition code of icmp and fcmp.
type Predicate uint8

const (
	PredNone Predicate = iota

	// icmp
	PredEQ
	PredNE
	PredUGT
	PredUGE
	PredULT
	PredULE
	PredSGT
	PredSGE
	PredSLT
	PredSLE

	// fcmp
	PredFalse
	PredOEQ
	PredOGT
	PredOGE
	PredOLT
	PredOLE
	PredONE
	PredORD
	PredUEQ
	PredFUGT
	PredFUGE
	PredFULT
	PredFULE
	PredUNE
	PredUNO
	PredTrue

	predCount
)

var predNames = [...]string{
	PredNone:  "",
	PredEQ:    "eq",
	PredNE:    "ne",
	PredUGT:   "ugt",
	PredUGE:   "uge",
	PredULT:   "ult",
	PredULE:   "ule",
	PredSGT:   "sgt",
	PredSGE:   "sge",
	PredSLT:   "slt",
	PredSLE:   "sle",
	PredFalse: "false",
	PredOEQ:   "oeq",
	PredOGT:   "ogt",
	PredOGE:   "oge",
	PredOLT:   "olt",
	PredOLE:   "ole",
	PredONE:   "one",
	PredORD:   "ord",
	PredUEQ:   "ueq",
	PredFUGT:  "ugt",
	PredFUGE:  "uge",
	PredFULT:  "ult",
	PredFULE:  "ule",
	PredUNE:   "une",
	PredUNO:   "uno",
	PredTrue:  "true",
}

func (p Predicate) String() string {
	if int(p) < len(predNames) {
		return predNames[p]
	}
	return "?"
}

// IsIntPredicate reports whether p is valid for icmp.
func (p Predicate) IsIntPredicate() bool { return p >= PredEQ && p <= PredSLE }

// IsFloatPredicate reports whether p is valid for fcmp.
func (p Predicate) IsFloatPredicate() bool { return p >= PredFalse && p <= PredTrue }

// IntPredicates lists all icmp condition codes.
func IntPredicates() []Predicate {
	out := make([]Predicate, 0, PredSLE-PredEQ+1)
	for p := PredEQ; p <= PredSLE; p++ {
		out = append(out, p)
	}
	return out
}

// FloatPredicates lists all fcmp condition codes.
func FloatPredicates() []Predicate {
	out := make([]Predicate, 0, PredTrue-PredFalse+1)
	for p := PredFalse; p <= PredTrue; p++ {
		out = append(out, p)
	}
	return out
}

// OperandKind distinguishes operand sources.
type OperandKind uint8

const (
	// OperandValue refers to the result of an instruction in the same function.
	OperandValue OperandKind = iota
	// OperandParam refers to a function parameter.
	OperandParam
	// OperandConst is an immediate constant.
	OperandConst
)

// Const is an immediate of a scalar type. Integers keep their bits
// zero-extended in Int; floats keep their value in Float.
type Const struct {
	Type  Type
	Int   uint64
	Float float64
}

// IntConst builds an integer constant truncated to the width of t.
func IntConst(t Type, v uint64) Const {
	return Const{Type: t, Int: TruncBits(v, int(t.Bits))}
}

// FloatConst builds a float constant; single precision values are rounded.
func FloatConst(t Type, v float64) Const {
	if t.Kind == KindFloat {
		v = float64(float32(v))
	}
	return Const{Type: t, Float: v}
}

// Bits returns the raw bit pattern of the constant in its own width.
func (c Const) Bits() uint64 {
	switch c.Type.Kind {
	case KindFloat:
		return uint64(math.Float32bits(float32(c.Float)))
	case KindDouble:
		return math.Float64bits(c.Float)
	default:
		return c.Int
	}
}

// TruncBits keeps the low bits of v.
func TruncBits(v uint64, bits int) uint64 {
	if bits <= 0 || bits >= 64 {
		return v
	}
	return v & (1<<uint(bits) - 1)
}

// Operand is an instruction input.
type Operand struct {
	Kind  OperandKind
	Value ValueID
	Param int
	Const Const
}

// ValueOperand refers to an instruction result.
func ValueOperand(id ValueID) Operand { return Operand{Kind: OperandValue, Value: id} }

// ParamOperand refers to parameter i.
func ParamOperand(i int) Operand { return Operand{Kind: OperandParam, Param: i} }

// ConstOperand wraps an immediate.
func ConstOperand(c Const) Operand { return Operand{Kind: OperandConst, Const: c} }

// Instr is a single SSA instruction.
//
// Operand layout by opcode:
//   - binary, icmp, fcmp: lhs, rhs
//   - select: cond, true value, false value
//   - load: ptr; store: value, ptr; alloca: none
//   - ret: optional value; condbr: cond
//
// Targets holds successor block indices for br (one) and condbr (then, else).
type Instr struct {
	ID       ValueID
	Op       Opcode
	Type     Type
	Pred     Predicate
	ElemType Type
	Operands []Operand
	Targets  []int
}

// HasResult reports whether the instruction defines a value.
func (in *Instr) HasResult() bool {
	return in != nil && !in.Type.IsVoid() && !in.Op.IsTerminator() && in.Op != OpStore
}
