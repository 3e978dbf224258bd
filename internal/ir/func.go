package ir

import (
	"fmt"
	"math"
)

// Func is a function definition. Blocks[0] is the entry block.
type Func struct {
	Name   string
	Params []Type
	Result Type
	Blocks []*Block
}

// NewFunc returns a function with no blocks.
func NewFunc(name string, result Type, params ...Type) *Func {
	return &Func{
		Name:   name,
		Params: append([]Type(nil), params...),
		Result: result,
	}
}

// AddBlock appends an empty block and returns its index.
func (f *Func) AddBlock(name string) int {
	f.Blocks = append(f.Blocks, &Block{Name: name})
	return len(f.Blocks) - 1
}

// NewValueID returns an id unused by any instruction of f: one past the
// largest id, or the smallest free id once the largest is math.MaxInt32.
func (f *Func) NewValueID() ValueID {
	used := make(map[ValueID]struct{})
	top := NoValueID
	for _, bb := range f.Blocks {
		if bb == nil {
			continue
		}
		for _, in := range bb.Instrs {
			if in != nil && in.ID >= 0 {
				used[in.ID] = struct{}{}
				top = max(top, in.ID)
			}
		}
	}
	if top < math.MaxInt32 {
		return top + 1
	}
	id := ValueID(0)
	for {
		if _, ok := used[id]; !ok {
			return id
		}
		id++
	}
}

// Site locates an instruction.
type Site struct {
	Block int
	Pos   int
}

// Def returns the instruction defining id together with its location.
func (f *Func) Def(id ValueID) (*Instr, Site, bool) {
	if id == NoValueID {
		return nil, Site{}, false
	}
	for bi, bb := range f.Blocks {
		if bb == nil {
			continue
		}
		for pi, in := range bb.Instrs {
			if in != nil && in.ID == id && in.HasResult() {
				return in, Site{Block: bi, Pos: pi}, true
			}
		}
	}
	return nil, Site{}, false
}

// OperandType returns the type an operand evaluates to.
func (f *Func) OperandType(op Operand) (Type, error) {
	switch op.Kind {
	case OperandConst:
		return op.Const.Type, nil
	case OperandParam:
		if op.Param < 0 || op.Param >= len(f.Params) {
			return Void, fmt.Errorf("parameter %d out of range", op.Param)
		}
		return f.Params[op.Param], nil
	case OperandValue:
		def, _, ok := f.Def(op.Value)
		if !ok {
			return Void, fmt.Errorf("use of undefined value %%%d", op.Value)
		}
		return def.Type, nil
	default:
		return Void, fmt.Errorf("bad operand kind %d", op.Kind)
	}
}

// Insert places in at position pos of block b, assigning a fresh id when
// the instruction produces a value.
func (f *Func) Insert(b, pos int, in *Instr) {
	if in.HasResult() {
		in.ID = f.NewValueID()
	} else {
		in.ID = NoValueID
	}
	bb := f.Blocks[b]
	bb.Instrs = append(bb.Instrs, nil)
	copy(bb.Instrs[pos+1:], bb.Instrs[pos:])
	bb.Instrs[pos] = in
}

// Remove deletes the instruction at pos of block b and returns it. Callers
// must rewrite uses first.
func (f *Func) Remove(b, pos int) *Instr {
	bb := f.Blocks[b]
	in := bb.Instrs[pos]
	copy(bb.Instrs[pos:], bb.Instrs[pos+1:])
	bb.Instrs[len(bb.Instrs)-1] = nil
	bb.Instrs = bb.Instrs[:len(bb.Instrs)-1]
	return in
}

// Uses returns the sites of instructions that read id.
func (f *Func) Uses(id ValueID) []Site {
	var sites []Site
	for bi, bb := range f.Blocks {
		if bb == nil {
			continue
		}
		for pi, in := range bb.Instrs {
			if in == nil {
				continue
			}
			for _, op := range in.Operands {
				if op.Kind == OperandValue && op.Value == id {
					sites = append(sites, Site{Block: bi, Pos: pi})
					break
				}
			}
		}
	}
	return sites
}

// ReplaceUses rewrites every read of id into repl.
func (f *Func) ReplaceUses(id ValueID, repl Operand) int {
	n := 0
	for _, bb := range f.Blocks {
		if bb == nil {
			continue
		}
		for _, in := range bb.Instrs {
			if in == nil {
				continue
			}
			for i := range in.Operands {
				if in.Operands[i].Kind == OperandValue && in.Operands[i].Value == id {
					in.Operands[i] = repl
					n++
				}
			}
		}
	}
	return n
}

// Available returns operands usable at site: parameters and results that
// dominate the position.
func (f *Func) Available(site Site) []Operand {
	dom := ComputeDominators(f)
	out := make([]Operand, 0, len(f.Params)+8)
	for i := range f.Params {
		out = append(out, ParamOperand(i))
	}
	for bi, bb := range f.Blocks {
		if bb == nil {
			continue
		}
		limit := len(bb.Instrs)
		if bi == site.Block {
			limit = site.Pos
		} else if !dom.Dominates(bi, site.Block) {
			continue
		}
		for pi := 0; pi < limit && pi < len(bb.Instrs); pi++ {
			in := bb.Instrs[pi]
			if in.HasResult() {
				out = append(out, ValueOperand(in.ID))
			}
		}
	}
	return out
}

// Clone returns a deep copy of the function.
func (f *Func) Clone() *Func {
	if f == nil {
		return nil
	}
	out := &Func{
		Name:   f.Name,
		Params: append([]Type(nil), f.Params...),
		Result: f.Result,
		Blocks: make([]*Block, 0, len(f.Blocks)),
	}
	for _, bb := range f.Blocks {
		out.Blocks = append(out.Blocks, bb.clone())
	}
	return out
}
