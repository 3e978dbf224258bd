package codegen

import (
	"iselfuzz/internal/ir"
	"iselfuzz/internal/target"
)

// Action is the legalization decision for an instruction.
type Action uint8

const (
	ActLegal   Action = iota
	ActPromote        // operate in a wider register
	ActExpand         // split across several registers
	ActLibcall        // call a runtime routine
)

func (a Action) String() string {
	switch a {
	case ActPromote:
		return "promote"
	case ActExpand:
		return "expand"
	case ActLibcall:
		return "libcall"
	default:
		return "legal"
	}
}

// valueLayout describes how a value is held in registers.
type valueLayout struct {
	Class RegClass
	Parts int // registers per value
	Bits  int // width of each register part
}

func (l valueLayout) promoted(t ir.Type) bool {
	return t.IsInt() && l.Parts == 1 && l.Bits > int(t.Bits)
}

// layoutOf maps an IR type onto the register files of tgt.
func layoutOf(tgt *target.Target, t ir.Type) valueLayout {
	switch {
	case t.IsPtr():
		return valueLayout{Class: ClassGPR, Parts: 1, Bits: tgt.PtrBits()}
	case t.IsInt():
		bits := int(t.Bits)
		if tgt.LegalInt(bits) {
			return valueLayout{Class: ClassGPR, Parts: 1, Bits: bits}
		}
		if bits > tgt.MaxLegalInt() {
			widest := tgt.MaxLegalInt()
			return valueLayout{Class: ClassGPR, Parts: (bits + widest - 1) / widest, Bits: widest}
		}
		for _, w := range tgt.Arch.LegalInts {
			if w > bits {
				return valueLayout{Class: ClassGPR, Parts: 1, Bits: w}
			}
		}
	case t.Kind == ir.KindFloat:
		if tgt.HardFloat() {
			return valueLayout{Class: ClassFPR, Parts: 1, Bits: 32}
		}
		return layoutOf(tgt, ir.I32)
	case t.Kind == ir.KindDouble:
		if tgt.HardDouble() {
			return valueLayout{Class: ClassFPR, Parts: 1, Bits: 64}
		}
		return layoutOf(tgt, ir.I64)
	}
	return valueLayout{Class: ClassGPR, Parts: 1, Bits: tgt.PtrBits()}
}

// softFloat reports whether arithmetic on t goes through the runtime.
func softFloat(tgt *target.Target, t ir.Type) bool {
	switch t.Kind {
	case ir.KindFloat:
		return !tgt.HardFloat()
	case ir.KindDouble:
		return !tgt.HardDouble()
	}
	return false
}

// classify decides how an instruction is legalized on tgt. opType is the
// type of the first operand.
func classify(tgt *target.Target, in *ir.Instr, opType ir.Type) Action {
	switch {
	case in.Op.IsIntBinary():
		l := layoutOf(tgt, in.Type)
		if l.Parts > 1 {
			switch in.Op {
			case ir.OpAdd, ir.OpSub, ir.OpAnd, ir.OpOr, ir.OpXor:
				return ActExpand
			}
			return ActLibcall
		}
		if isDivRem(in.Op) && !tgt.HardDiv() {
			return ActLibcall
		}
		if l.promoted(in.Type) {
			return ActPromote
		}
	case in.Op.IsFloatBinary():
		if in.Op == ir.OpFRem || softFloat(tgt, in.Type) {
			return ActLibcall
		}
	case in.Op == ir.OpFCmp:
		if softFloat(tgt, opType) {
			return ActLibcall
		}
	case in.Op == ir.OpICmp, in.Op == ir.OpSelect, in.Op == ir.OpLoad:
		t := opType
		if in.Op != ir.OpICmp {
			t = in.Type
		}
		l := layoutOf(tgt, t)
		if l.Parts > 1 {
			return ActExpand
		}
		if l.promoted(t) {
			return ActPromote
		}
	case in.Op == ir.OpStore:
		l := layoutOf(tgt, opType)
		if l.Parts > 1 {
			return ActExpand
		}
	}
	return ActLegal
}

func isDivRem(op ir.Opcode) bool {
	switch op {
	case ir.OpUDiv, ir.OpSDiv, ir.OpURem, ir.OpSRem:
		return true
	}
	return false
}

// legalizeStats counts legalization actions of one function.
type legalizeStats [4]int

// planFunc classifies every instruction of f.
func planFunc(tgt *target.Target, f *ir.Func, types valueTypes) (map[*ir.Instr]Action, legalizeStats) {
	plan := make(map[*ir.Instr]Action)
	var stats legalizeStats
	for _, bb := range f.Blocks {
		for _, in := range bb.Instrs {
			var opType ir.Type
			if len(in.Operands) > 0 {
				opType = types.of(f, in.Operands[0])
			}
			a := classify(tgt, in, opType)
			plan[in] = a
			stats[a]++
		}
	}
	return plan, stats
}

// valueTypes maps instruction results to their types.
type valueTypes map[ir.ValueID]ir.Type

func collectTypes(f *ir.Func) valueTypes {
	types := make(valueTypes)
	for _, bb := range f.Blocks {
		for _, in := range bb.Instrs {
			if in.HasResult() {
				types[in.ID] = in.Type
			}
		}
	}
	return types
}

func (vt valueTypes) of(f *ir.Func, op ir.Operand) ir.Type {
	switch op.Kind {
	case ir.OperandConst:
		return op.Const.Type
	case ir.OperandParam:
		if op.Param >= 0 && op.Param < len(f.Params) {
			return f.Params[op.Param]
		}
	case ir.OperandValue:
		return vt[op.Value]
	}
	return ir.Void
}
