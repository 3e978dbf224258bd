package mutate

import (
	"iselfuzz/internal/ir"
)

// injectMargin is the headroom in bytes the injector wants below the size
// limit before it takes part in selection.
const injectMargin = 32

// Injector inserts one instruction instantiated from a template catalog.
// Operands are values that dominate the insertion point or fresh
// constants.
type Injector struct {
	types   []ir.Type
	catalog []Template
}

// NewInjector returns an injector drawing result and constant types from
// types.
func NewInjector(types []ir.Type, catalog []Template) *Injector {
	return &Injector{
		types:   append([]ir.Type(nil), types...),
		catalog: append([]Template(nil), catalog...),
	}
}

func (inj *Injector) Name() string { return StrategyInject }

// Catalog returns the templates of the injector.
func (inj *Injector) Catalog() []Template { return inj.catalog }

func (inj *Injector) Weight(curSize, maxSize int, _ uint64) uint64 {
	if maxSize > 0 && curSize+injectMargin > maxSize {
		return 0
	}
	return uint64(len(inj.catalog))
}

type operandEdit struct {
	in  *ir.Instr
	idx int
	old ir.Operand
}

func (inj *Injector) Mutate(f *ir.Func, r *RandGen, b *Budget) bool {
	if len(f.Blocks) == 0 || len(inj.catalog) == 0 {
		return false
	}
	bi := r.rand(len(f.Blocks))
	bb := f.Blocks[bi]
	if len(bb.Instrs) == 0 {
		return false
	}
	// Anywhere up to and including the slot before the terminator.
	site := ir.Site{Block: bi, Pos: r.rand(len(bb.Instrs))}
	pool := newOperandPool(f, site)

	var in *ir.Instr
	start := r.rand(len(inj.catalog))
	for i := range inj.catalog {
		if in = inj.instantiate(inj.catalog[(start+i)%len(inj.catalog)], pool, r); in != nil {
			break
		}
	}
	if in == nil {
		return false
	}
	f.Insert(site.Block, site.Pos, in)
	edit := inj.connect(f, site, in, r)

	if !b.Allows() {
		if edit != nil {
			edit.in.Operands[edit.idx] = edit.old
		}
		f.Remove(site.Block, site.Pos)
		return false
	}
	return true
}

// connect feeds the new value into a later instruction of the same block
// so that it is not trivially dead.
func (inj *Injector) connect(f *ir.Func, site ir.Site, in *ir.Instr, r *RandGen) *operandEdit {
	if !in.HasResult() || !r.bin() {
		return nil
	}
	types := make(map[ir.ValueID]ir.Type)
	for _, x := range f.Blocks[site.Block].Instrs[:site.Pos] {
		if x.HasResult() {
			types[x.ID] = x.Type
		}
	}
	var sinks []operandEdit
	for _, user := range f.Blocks[site.Block].Instrs[site.Pos+1:] {
		for i, op := range user.Operands {
			t, ok := operandTypeIn(f, types, op)
			if ok && t == in.Type {
				sinks = append(sinks, operandEdit{in: user, idx: i, old: op})
			}
		}
		if user.HasResult() {
			types[user.ID] = user.Type
		}
	}
	if len(sinks) == 0 {
		return nil
	}
	e := sinks[r.rand(len(sinks))]
	e.in.Operands[e.idx] = ir.ValueOperand(in.ID)
	return &e
}

// operandTypeIn types op from params, constants and the local map. Values
// defined outside the map are reported as unknown.
func operandTypeIn(f *ir.Func, types map[ir.ValueID]ir.Type, op ir.Operand) (ir.Type, bool) {
	switch op.Kind {
	case ir.OperandConst:
		return op.Const.Type, true
	case ir.OperandParam:
		if op.Param >= 0 && op.Param < len(f.Params) {
			return f.Params[op.Param], true
		}
	case ir.OperandValue:
		t, ok := types[op.Value]
		if ok {
			return t, true
		}
		if def, _, found := f.Def(op.Value); found {
			return def.Type, true
		}
	}
	return ir.Void, false
}

func (inj *Injector) paletteTypes(pred func(ir.Type) bool) []ir.Type {
	var out []ir.Type
	for _, t := range inj.types {
		if pred(t) {
			out = append(out, t)
		}
	}
	return out
}

// pickType prefers types of existing values so new instructions combine
// with the function rather than only with constants.
func (inj *Injector) pickType(pool *operandPool, pred func(ir.Type) bool, r *RandGen) (ir.Type, bool) {
	have := pool.types(pred)
	if len(have) > 0 && r.nOutOf(3, 4) {
		return have[r.rand(len(have))], true
	}
	palette := inj.paletteTypes(func(t ir.Type) bool { return pred(t) && t.IsScalar() })
	if len(palette) == 0 {
		if len(have) > 0 {
			return have[r.rand(len(have))], true
		}
		return ir.Void, false
	}
	return palette[r.rand(len(palette))], true
}

// operand returns a value of type t or a constant. Pointers have no
// constant form.
func (inj *Injector) operand(pool *operandPool, t ir.Type, r *RandGen) (ir.Operand, bool) {
	vals := pool.ofType(t)
	if len(vals) > 0 && (!t.IsScalar() || r.nOutOf(3, 4)) {
		return vals[r.rand(len(vals))], true
	}
	if !t.IsScalar() {
		return ir.Operand{}, false
	}
	return ir.ConstOperand(r.Const(t)), true
}

func isInt(t ir.Type) bool { return t.IsInt() }
func isFloat(t ir.Type) bool { return t.IsFloat() }
func isScalar(t ir.Type) bool { return t.IsScalar() }
func isFirstClass(t ir.Type) bool { return t.IsFirstClass() }
func isIntOrPtr(t ir.Type) bool { return t.IsInt() || t.IsPtr() }

// instantiate builds an instruction for tmpl or returns nil when its
// operand constraints cannot be met at this site.
func (inj *Injector) instantiate(tmpl Template, pool *operandPool, r *RandGen) *ir.Instr {
	in := &ir.Instr{Op: tmpl.Op, Pred: tmpl.Pred}
	operands := func(t ir.Type, n int) bool {
		for i := 0; i < n; i++ {
			op, ok := inj.operand(pool, t, r)
			if !ok {
				return false
			}
			in.Operands = append(in.Operands, op)
		}
		return true
	}

	switch tmpl.Shape {
	case ShapeIntBinary, ShapeFloatBinary:
		pred := isInt
		if tmpl.Shape == ShapeFloatBinary {
			pred = isFloat
		}
		t, ok := inj.pickType(pool, pred, r)
		if !ok || !operands(t, 2) {
			return nil
		}
		if isShiftOp(tmpl.Op) && in.Operands[1].Kind == ir.OperandConst && r.nOutOf(7, 8) {
			// keep most shift amounts in range
			in.Operands[1] = ir.ConstOperand(ir.IntConst(t, uint64(r.rand(int(t.Bits)))))
		}
		in.Type = t
	case ShapeICmp, ShapeFCmp:
		pred := isIntOrPtr
		if tmpl.Shape == ShapeFCmp {
			pred = isFloat
		}
		t, ok := inj.pickType(pool, pred, r)
		if !ok || !operands(t, 2) {
			return nil
		}
		in.Type = ir.I1
	case ShapeSelect:
		t, ok := inj.pickType(pool, isFirstClass, r)
		if !ok || !operands(ir.I1, 1) || !operands(t, 2) {
			return nil
		}
		in.Type = t
	case ShapeAlloca:
		elems := inj.paletteTypes(isScalar)
		if len(elems) == 0 {
			return nil
		}
		in.Type = ir.Ptr
		in.ElemType = elems[r.rand(len(elems))]
	case ShapeLoad:
		t, ok := inj.pickType(pool, isScalar, r)
		if !ok || !operands(ir.Ptr, 1) {
			return nil
		}
		in.Type = t
	case ShapeStore:
		t, ok := inj.pickType(pool, isScalar, r)
		if !ok || !operands(t, 1) || !operands(ir.Ptr, 1) {
			return nil
		}
		in.Type = ir.Void
	default:
		return nil
	}
	return in
}

func isShiftOp(op ir.Opcode) bool {
	return op == ir.OpShl || op == ir.OpLShr || op == ir.OpAShr
}
