package codegen

import (
	"fmt"

	"iselfuzz/internal/ir"
)

// intSuffix returns the compiler-rt mode suffix for an integer width.
func intSuffix(bits int) string {
	switch {
	case bits <= 32:
		return "si"
	case bits <= 64:
		return "di"
	default:
		return "ti"
	}
}

func floatSuffix(t ir.Type) string {
	if t.Kind == ir.KindFloat {
		return "sf"
	}
	return "df"
}

var intLibcalls = map[ir.Opcode]string{
	ir.OpMul:  "__mul%s3",
	ir.OpSDiv: "__div%s3",
	ir.OpUDiv: "__udiv%s3",
	ir.OpSRem: "__mod%s3",
	ir.OpURem: "__umod%s3",
	ir.OpShl:  "__ashl%s3",
	ir.OpLShr: "__lshr%s3",
	ir.OpAShr: "__ashr%s3",
}

var floatLibcalls = map[ir.Opcode]string{
	ir.OpFAdd: "__add%s3",
	ir.OpFSub: "__sub%s3",
	ir.OpFMul: "__mul%s3",
	ir.OpFDiv: "__div%s3",
}

// libcallName returns the runtime routine implementing op on values of
// width bits (integers) or of type t (floating point).
func libcallName(op ir.Opcode, t ir.Type, bits int) (string, bool) {
	if op == ir.OpFRem {
		if t.Kind == ir.KindFloat {
			return "fmodf", true
		}
		return "fmod", true
	}
	if f, ok := intLibcalls[op]; ok {
		return fmt.Sprintf(f, intSuffix(bits)), true
	}
	if f, ok := floatLibcalls[op]; ok {
		return fmt.Sprintf(f, floatSuffix(t)), true
	}
	return "", false
}

// softCmpCall is one runtime comparison whose integer result is tested
// against zero with Cond.
type softCmpCall struct {
	Fn   string
	Cond string
}

// softCmp is the expansion of a floating point predicate without hardware
// support. Two calls are combined with Join. Const holds the value of
// predicates that need no call.
type softCmp struct {
	Calls []softCmpCall
	Join  string
	Const int
}

// softCmpTable follows the libgcc comparison routines: __eq/__ne return
// zero on equality, __ge/__gt return >= 0 and > 0, __lt/__le return < 0
// and <= 0, __unord returns nonzero if either operand is NaN.
var softCmpTable = map[ir.Predicate]softCmp{
	ir.PredFalse: {Const: 0},
	ir.PredTrue:  {Const: 1},
	ir.PredOEQ:   {Calls: []softCmpCall{{"__eq%s2", "eq"}}},
	ir.PredUNE:   {Calls: []softCmpCall{{"__ne%s2", "ne"}}},
	ir.PredOGE:   {Calls: []softCmpCall{{"__ge%s2", "ge"}}},
	ir.PredOLT:   {Calls: []softCmpCall{{"__lt%s2", "lt"}}},
	ir.PredOLE:   {Calls: []softCmpCall{{"__le%s2", "le"}}},
	ir.PredOGT:   {Calls: []softCmpCall{{"__gt%s2", "gt"}}},
	ir.PredUNO:   {Calls: []softCmpCall{{"__unord%s2", "ne"}}},
	ir.PredORD:   {Calls: []softCmpCall{{"__unord%s2", "eq"}}},
	ir.PredFUGT:  {Calls: []softCmpCall{{"__le%s2", "gt"}}},
	ir.PredFUGE:  {Calls: []softCmpCall{{"__lt%s2", "ge"}}},
	ir.PredFULT:  {Calls: []softCmpCall{{"__ge%s2", "lt"}}},
	ir.PredFULE:  {Calls: []softCmpCall{{"__gt%s2", "le"}}},
	ir.PredONE:   {Calls: []softCmpCall{{"__gt%s2", "gt"}, {"__lt%s2", "lt"}}, Join: "or"},
	ir.PredUEQ:   {Calls: []softCmpCall{{"__unord%s2", "ne"}, {"__eq%s2", "eq"}}, Join: "or"},
}

// softCmpFor instantiates the expansion of pred for type t.
func softCmpFor(pred ir.Predicate, t ir.Type) (softCmp, bool) {
	sc, ok := softCmpTable[pred]
	if !ok {
		return softCmp{}, false
	}
	out := softCmp{Join: sc.Join, Const: sc.Const}
	for _, c := range sc.Calls {
		out.Calls = append(out.Calls, softCmpCall{Fn: fmt.Sprintf(c.Fn, floatSuffix(t)), Cond: c.Cond})
	}
	return out, true
}
