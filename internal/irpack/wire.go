package irpack

import (
	"fmt"
	"math"

	"fortio.org/safecast"

	"iselfuzz/internal/ir"
)

// Current schema version - increment when the wire layout changes
const schemaVersion uint16 = 1

// wireModule is the serialized form of ir.Module. All wire structs are
// encoded as msgpack arrays to keep inputs compact for the fuzzer.
type wireModule struct {
	_msgpack struct{} `msgpack:",as_array"`

	Schema uint16
	Name   string
	Triple string
	Layout string
	Funcs  []wireFunc
}

type wireFunc struct {
	_msgpack struct{} `msgpack:",as_array"`

	Name   string
	Params []uint8
	Result uint8
	Blocks []wireBlock
}

type wireBlock struct {
	_msgpack struct{} `msgpack:",as_array"`

	Name   string
	Instrs []wireInstr
}

type wireInstr struct {
	_msgpack struct{} `msgpack:",as_array"`

	ID       int32
	Op       uint8
	Type     uint8
	Pred     uint8
	Elem     uint8
	Operands []wireOperand
	Targets  []uint32
}

type wireOperand struct {
	_msgpack struct{} `msgpack:",as_array"`

	Kind uint8
	Ref  int64
	Type uint8
	Bits uint64
}

// Type codes are dense so that random bytes rarely decode into something
// unexpected.
var typeCodes = []ir.Type{ir.Void, ir.I1, ir.I8, ir.I16, ir.I32, ir.I64, ir.Float, ir.Double, ir.Ptr}

func typeCode(t ir.Type) (uint8, error) {
	for i, c := range typeCodes {
		if c == t {
			return safecast.Conv[uint8](i)
		}
	}
	return 0, fmt.Errorf("type %s has no wire code", t)
}

func codeType(code uint8) (ir.Type, error) {
	if int(code) >= len(typeCodes) {
		return ir.Void, fmt.Errorf("unknown type code %d", code)
	}
	return typeCodes[code], nil
}

// moduleToWire converts a module to its wire form.
func moduleToWire(m *ir.Module) (*wireModule, error) {
	w := &wireModule{
		Schema: schemaVersion,
		Name:   m.Name,
		Triple: m.TargetTriple,
		Layout: m.DataLayout,
		Funcs:  make([]wireFunc, 0, len(m.Funcs)),
	}
	for _, f := range m.Funcs {
		if f == nil {
			return nil, fmt.Errorf("nil function")
		}
		wf, err := funcToWire(f)
		if err != nil {
			return nil, fmt.Errorf("function @%s: %w", f.Name, err)
		}
		w.Funcs = append(w.Funcs, wf)
	}
	return w, nil
}

func funcToWire(f *ir.Func) (wireFunc, error) {
	wf := wireFunc{
		Name:   f.Name,
		Params: make([]uint8, len(f.Params)),
		Blocks: make([]wireBlock, 0, len(f.Blocks)),
	}
	var err error
	for i, p := range f.Params {
		if wf.Params[i], err = typeCode(p); err != nil {
			return wf, err
		}
	}
	if wf.Result, err = typeCode(f.Result); err != nil {
		return wf, err
	}
	for _, bb := range f.Blocks {
		if bb == nil {
			return wf, fmt.Errorf("nil block")
		}
		wb := wireBlock{Name: bb.Name, Instrs: make([]wireInstr, 0, len(bb.Instrs))}
		for _, in := range bb.Instrs {
			if in == nil {
				return wf, fmt.Errorf("nil instruction")
			}
			wi, err := instrToWire(in)
			if err != nil {
				return wf, err
			}
			wb.Instrs = append(wb.Instrs, wi)
		}
		wf.Blocks = append(wf.Blocks, wb)
	}
	return wf, nil
}

func instrToWire(in *ir.Instr) (wireInstr, error) {
	wi := wireInstr{
		ID:       int32(in.ID),
		Op:       uint8(in.Op),
		Pred:     uint8(in.Pred),
		Operands: make([]wireOperand, 0, len(in.Operands)),
		Targets:  make([]uint32, 0, len(in.Targets)),
	}
	var err error
	if wi.Type, err = typeCode(in.Type); err != nil {
		return wi, err
	}
	if wi.Elem, err = typeCode(in.ElemType); err != nil {
		return wi, err
	}
	for _, op := range in.Operands {
		wo, err := operandToWire(op)
		if err != nil {
			return wi, err
		}
		wi.Operands = append(wi.Operands, wo)
	}
	for _, t := range in.Targets {
		u, err := safecast.Conv[uint32](t)
		if err != nil {
			return wi, fmt.Errorf("branch target %d: %w", t, err)
		}
		wi.Targets = append(wi.Targets, u)
	}
	return wi, nil
}

func operandToWire(op ir.Operand) (wireOperand, error) {
	wo := wireOperand{Kind: uint8(op.Kind)}
	switch op.Kind {
	case ir.OperandValue:
		wo.Ref = int64(op.Value)
	case ir.OperandParam:
		wo.Ref = int64(op.Param)
	case ir.OperandConst:
		code, err := typeCode(op.Const.Type)
		if err != nil {
			return wo, err
		}
		wo.Type = code
		wo.Bits = op.Const.Bits()
	default:
		return wo, fmt.Errorf("bad operand kind %d", op.Kind)
	}
	return wo, nil
}

// wireToModule converts the wire form back into a module. Only structural
// decoding problems are reported here; semantic checks belong to ir.Verify.
func wireToModule(w *wireModule) (*ir.Module, error) {
	if w.Schema != schemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrSchema, w.Schema)
	}
	m := &ir.Module{
		Name:         w.Name,
		TargetTriple: w.Triple,
		DataLayout:   w.Layout,
		Funcs:        make([]*ir.Func, 0, len(w.Funcs)),
	}
	for i := range w.Funcs {
		f, err := wireToFunc(&w.Funcs[i])
		if err != nil {
			return nil, fmt.Errorf("function #%d: %w", i, err)
		}
		m.Funcs = append(m.Funcs, f)
	}
	return m, nil
}

func wireToFunc(wf *wireFunc) (*ir.Func, error) {
	f := &ir.Func{
		Name:   wf.Name,
		Params: make([]ir.Type, len(wf.Params)),
		Blocks: make([]*ir.Block, 0, len(wf.Blocks)),
	}
	var err error
	for i, code := range wf.Params {
		if f.Params[i], err = codeType(code); err != nil {
			return nil, err
		}
	}
	if f.Result, err = codeType(wf.Result); err != nil {
		return nil, err
	}
	for bi := range wf.Blocks {
		wb := &wf.Blocks[bi]
		bb := &ir.Block{Name: wb.Name, Instrs: make([]*ir.Instr, 0, len(wb.Instrs))}
		for ii := range wb.Instrs {
			in, err := wireToInstr(&wb.Instrs[ii])
			if err != nil {
				return nil, fmt.Errorf("bb%d instr %d: %w", bi, ii, err)
			}
			bb.Instrs = append(bb.Instrs, in)
		}
		f.Blocks = append(f.Blocks, bb)
	}
	return f, nil
}

func wireToInstr(wi *wireInstr) (*ir.Instr, error) {
	in := &ir.Instr{
		ID:       ir.ValueID(wi.ID),
		Op:       ir.Opcode(wi.Op),
		Pred:     ir.Predicate(wi.Pred),
		Operands: make([]ir.Operand, 0, len(wi.Operands)),
	}
	if !in.Op.Valid() {
		return nil, fmt.Errorf("unknown opcode %d", wi.Op)
	}
	var err error
	if in.Type, err = codeType(wi.Type); err != nil {
		return nil, err
	}
	if in.ElemType, err = codeType(wi.Elem); err != nil {
		return nil, err
	}
	for _, wo := range wi.Operands {
		op, err := wireToOperand(wo)
		if err != nil {
			return nil, err
		}
		in.Operands = append(in.Operands, op)
	}
	if len(wi.Targets) > 0 {
		in.Targets = make([]int, 0, len(wi.Targets))
		for _, t := range wi.Targets {
			target, err := safecast.Conv[int](t)
			if err != nil {
				return nil, err
			}
			in.Targets = append(in.Targets, target)
		}
	}
	return in, nil
}

func wireToOperand(wo wireOperand) (ir.Operand, error) {
	switch ir.OperandKind(wo.Kind) {
	case ir.OperandValue:
		id, err := safecast.Conv[int32](wo.Ref)
		if err != nil {
			return ir.Operand{}, fmt.Errorf("value ref: %w", err)
		}
		return ir.ValueOperand(ir.ValueID(id)), nil
	case ir.OperandParam:
		idx, err := safecast.Conv[int](wo.Ref)
		if err != nil {
			return ir.Operand{}, fmt.Errorf("param ref: %w", err)
		}
		return ir.ParamOperand(idx), nil
	case ir.OperandConst:
		t, err := codeType(wo.Type)
		if err != nil {
			return ir.Operand{}, err
		}
		c := ir.Const{Type: t, Int: wo.Bits}
		switch t.Kind {
		case ir.KindFloat:
			if wo.Bits > math.MaxUint32 {
				return ir.Operand{}, fmt.Errorf("float constant bits %#x out of range", wo.Bits)
			}
			c = ir.Const{Type: t, Float: float64(math.Float32frombits(uint32(wo.Bits)))}
		case ir.KindDouble:
			c = ir.Const{Type: t, Float: math.Float64frombits(wo.Bits)}
		}
		return ir.ConstOperand(c), nil
	default:
		return ir.Operand{}, fmt.Errorf("unknown operand kind %d", wo.Kind)
	}
}
