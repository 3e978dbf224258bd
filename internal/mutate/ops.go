package mutate

import (
	"iselfuzz/internal/ir"
)

// Shape groups templates that are instantiated the same way.
type Shape uint8

const (
	ShapeIntBinary Shape = iota
	ShapeFloatBinary
	ShapeICmp
	ShapeFCmp
	ShapeSelect
	ShapeAlloca
	ShapeLoad
	ShapeStore
)

// Template describes one injectable instruction.
type Template struct {
	Name  string
	Shape Shape
	Op    ir.Opcode
	Pred  ir.Predicate
}

// IntOps returns templates for integer arithmetic and comparisons.
func IntOps() []Template {
	var out []Template
	for op := ir.OpAdd; op <= ir.OpXor; op++ {
		out = append(out, Template{Name: op.String(), Shape: ShapeIntBinary, Op: op})
	}
	for _, p := range ir.IntPredicates() {
		out = append(out, Template{Name: "icmp " + p.String(), Shape: ShapeICmp, Op: ir.OpICmp, Pred: p})
	}
	return out
}

// FloatOps returns templates for floating point arithmetic and comparisons.
func FloatOps() []Template {
	var out []Template
	for op := ir.OpFAdd; op <= ir.OpFRem; op++ {
		out = append(out, Template{Name: op.String(), Shape: ShapeFloatBinary, Op: op})
	}
	for _, p := range ir.FloatPredicates() {
		out = append(out, Template{Name: "fcmp " + p.String(), Shape: ShapeFCmp, Op: ir.OpFCmp, Pred: p})
	}
	return out
}

// ControlOps returns the select template.
func ControlOps() []Template {
	return []Template{{Name: "select", Shape: ShapeSelect, Op: ir.OpSelect}}
}

// MemoryOps returns templates for stack memory.
func MemoryOps() []Template {
	return []Template{
		{Name: "alloca", Shape: ShapeAlloca, Op: ir.OpAlloca},
		{Name: "load", Shape: ShapeLoad, Op: ir.OpLoad},
		{Name: "store", Shape: ShapeStore, Op: ir.OpStore},
	}
}

// DefaultCatalog is the full template set of the injector.
func DefaultCatalog() []Template {
	var out []Template
	out = append(out, IntOps()...)
	out = append(out, FloatOps()...)
	out = append(out, ControlOps()...)
	out = append(out, MemoryOps()...)
	return out
}

// typedOperand is an operand available at an insertion point.
type typedOperand struct {
	op ir.Operand
	t  ir.Type
}

// operandPool indexes the values available at one site.
type operandPool struct {
	vals []typedOperand
}

func newOperandPool(f *ir.Func, site ir.Site) *operandPool {
	types := make(map[ir.ValueID]ir.Type)
	for _, bb := range f.Blocks {
		for _, in := range bb.Instrs {
			if in.HasResult() {
				types[in.ID] = in.Type
			}
		}
	}
	p := &operandPool{}
	for _, op := range f.Available(site) {
		var t ir.Type
		switch op.Kind {
		case ir.OperandParam:
			t = f.Params[op.Param]
		case ir.OperandValue:
			t = types[op.Value]
		default:
			continue
		}
		p.vals = append(p.vals, typedOperand{op: op, t: t})
	}
	return p
}

func (p *operandPool) ofType(t ir.Type) []ir.Operand {
	var out []ir.Operand
	for _, v := range p.vals {
		if v.t == t {
			out = append(out, v.op)
		}
	}
	return out
}

// types returns the distinct value types matching pred in first use order.
func (p *operandPool) types(pred func(ir.Type) bool) []ir.Type {
	var out []ir.Type
	seen := make(map[ir.Type]bool)
	for _, v := range p.vals {
		if pred(v.t) && !seen[v.t] {
			seen[v.t] = true
			out = append(out, v.t)
		}
	}
	return out
}
