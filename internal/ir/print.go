package ir

import (
	"fmt"
	"io"
	"math"
	"strings"
)

// Printer renders a module in an LLVM-like textual form.
type Printer struct {
	mod *Module
	buf strings.Builder
}

// Print writes the textual form of m to w.
func Print(w io.Writer, m *Module) error {
	p := &Printer{mod: m}
	p.emitModule()
	_, err := io.WriteString(w, p.buf.String())
	return err
}

// String returns the textual form of m.
func (m *Module) String() string {
	p := &Printer{mod: m}
	p.emitModule()
	return p.buf.String()
}

func (p *Printer) emitModule() {
	if p.mod == nil {
		return
	}
	fmt.Fprintf(&p.buf, "; ModuleID = '%s'\n", p.mod.Name)
	if p.mod.DataLayout != "" {
		fmt.Fprintf(&p.buf, "target datalayout = %q\n", p.mod.DataLayout)
	}
	if p.mod.TargetTriple != "" {
		fmt.Fprintf(&p.buf, "target triple = %q\n", p.mod.TargetTriple)
	}
	for _, f := range p.mod.Funcs {
		if f == nil {
			continue
		}
		p.buf.WriteString("\n")
		p.emitFunc(f)
	}
}

func (p *Printer) emitFunc(f *Func) {
	params := make([]string, len(f.Params))
	for i, t := range f.Params {
		params[i] = fmt.Sprintf("%s %%p%d", t, i)
	}
	fmt.Fprintf(&p.buf, "define %s @%s(%s) {\n", f.Result, f.Name, strings.Join(params, ", "))
	for bi, bb := range f.Blocks {
		if bb == nil {
			continue
		}
		if bi > 0 {
			p.buf.WriteString("\n")
		}
		if bb.Name != "" {
			fmt.Fprintf(&p.buf, "bb%d: ; %s\n", bi, bb.Name)
		} else {
			fmt.Fprintf(&p.buf, "bb%d:\n", bi)
		}
		for _, in := range bb.Instrs {
			if in == nil {
				continue
			}
			p.buf.WriteString("  ")
			p.buf.WriteString(FormatInstr(f, in))
			p.buf.WriteString("\n")
		}
	}
	p.buf.WriteString("}\n")
}

// FormatInstr renders a single instruction.
func FormatInstr(f *Func, in *Instr) string {
	var sb strings.Builder
	if in.HasResult() {
		fmt.Fprintf(&sb, "%%%d = ", in.ID)
	}
	ops := make([]string, len(in.Operands))
	for i, op := range in.Operands {
		ops[i] = formatTypedOperand(f, op)
	}
	switch {
	case in.Op.IsBinary():
		fmt.Fprintf(&sb, "%s %s %s, %s", in.Op, in.Type, untyped(in, 0), untyped(in, 1))
	case in.Op == OpICmp || in.Op == OpFCmp:
		lhsTy := operandTypeName(f, in.Operands, 0)
		fmt.Fprintf(&sb, "%s %s %s %s, %s", in.Op, in.Pred, lhsTy, untyped(in, 0), untyped(in, 1))
	case in.Op == OpSelect:
		fmt.Fprintf(&sb, "select %s", strings.Join(ops, ", "))
	case in.Op == OpAlloca:
		fmt.Fprintf(&sb, "alloca %s", in.ElemType)
	case in.Op == OpLoad:
		fmt.Fprintf(&sb, "load %s, %s", in.Type, strings.Join(ops, ", "))
	case in.Op == OpStore:
		fmt.Fprintf(&sb, "store %s", strings.Join(ops, ", "))
	case in.Op == OpRet:
		if len(ops) == 0 {
			sb.WriteString("ret void")
		} else {
			fmt.Fprintf(&sb, "ret %s", ops[0])
		}
	case in.Op == OpBr:
		fmt.Fprintf(&sb, "br label %s", blockRef(in.Targets, 0))
	case in.Op == OpCondBr:
		fmt.Fprintf(&sb, "br %s, label %s, label %s", strings.Join(ops, ", "), blockRef(in.Targets, 0), blockRef(in.Targets, 1))
	case in.Op == OpUnreachable:
		sb.WriteString("unreachable")
	default:
		fmt.Fprintf(&sb, "%s %s", in.Op, strings.Join(ops, ", "))
	}
	return sb.String()
}

func blockRef(targets []int, i int) string {
	if i >= len(targets) {
		return "%<missing>"
	}
	return fmt.Sprintf("%%bb%d", targets[i])
}

func untyped(in *Instr, i int) string {
	if i >= len(in.Operands) {
		return "<missing>"
	}
	return formatOperand(in.Operands[i])
}

func operandTypeName(f *Func, ops []Operand, i int) string {
	if i >= len(ops) {
		return "<missing>"
	}
	t, err := f.OperandType(ops[i])
	if err != nil {
		return "<bad>"
	}
	return t.String()
}

func formatTypedOperand(f *Func, op Operand) string {
	name := "<bad>"
	if t, err := f.OperandType(op); err == nil {
		name = t.String()
	}
	return name + " " + formatOperand(op)
}

func formatOperand(op Operand) string {
	switch op.Kind {
	case OperandValue:
		return fmt.Sprintf("%%%d", op.Value)
	case OperandParam:
		return fmt.Sprintf("%%p%d", op.Param)
	case OperandConst:
		return FormatConst(op.Const)
	default:
		return "<bad>"
	}
}

// FormatConst renders a constant the way LLVM prints immediates: signed
// decimal for integers, true/false for i1 and hexadecimal doubles for
// floating point.
func FormatConst(c Const) string {
	switch c.Type.Kind {
	case KindInt:
		if c.Type.Bits == 1 {
			if c.Int&1 == 1 {
				return "true"
			}
			return "false"
		}
		shift := 64 - uint(c.Type.Bits)
		return fmt.Sprintf("%d", int64(c.Int<<shift)>>shift)
	case KindFloat, KindDouble:
		return fmt.Sprintf("0x%016X", math.Float64bits(c.Float))
	default:
		return "<bad const>"
	}
}
