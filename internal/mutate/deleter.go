package mutate

import (
	"iselfuzz/internal/ir"
)

// deleteBoost multiplies the deleter weight once the input is within
// deleteMargin bytes of the size limit.
const (
	deleteMargin = 200
	deleteBoost  = 100
)

// Deleter removes one non-terminator instruction. Uses of its result are
// rewritten to another dominating value of the same type or to a
// constant.
type Deleter struct{}

// NewDeleter returns the deleter strategy.
func NewDeleter() *Deleter { return &Deleter{} }

func (*Deleter) Name() string { return StrategyDelete }

func (*Deleter) Weight(curSize, maxSize int, totalWeight uint64) uint64 {
	if maxSize > 0 && curSize > maxSize-deleteMargin {
		if totalWeight == 0 {
			return 1
		}
		return totalWeight * deleteBoost
	}
	return 1
}

func (d *Deleter) Mutate(f *ir.Func, r *RandGen, _ *Budget) bool {
	var sites []ir.Site
	for bi, bb := range f.Blocks {
		for pi, in := range bb.Instrs {
			if !in.Op.IsTerminator() {
				sites = append(sites, ir.Site{Block: bi, Pos: pi})
			}
		}
	}
	if len(sites) == 0 {
		return false
	}
	start := r.rand(len(sites))
	for i := range sites {
		site := sites[(start+i)%len(sites)]
		if d.remove(f, site, r) {
			return true
		}
	}
	return false
}

func (d *Deleter) remove(f *ir.Func, site ir.Site, r *RandGen) bool {
	in := f.Blocks[site.Block].Instrs[site.Pos]
	if in.HasResult() && len(f.Uses(in.ID)) > 0 {
		repl, ok := replacement(f, site, in.Type, r)
		if !ok {
			return false
		}
		f.ReplaceUses(in.ID, repl)
	}
	f.Remove(site.Block, site.Pos)
	return true
}

// replacement picks a value available at site, which therefore dominates
// every use of the instruction there, or a constant of type t.
func replacement(f *ir.Func, site ir.Site, t ir.Type, r *RandGen) (ir.Operand, bool) {
	vals := newOperandPool(f, site).ofType(t)
	if len(vals) > 0 && (!t.IsScalar() || r.bin()) {
		return vals[r.rand(len(vals))], true
	}
	if !t.IsScalar() {
		return ir.Operand{}, false
	}
	return ir.ConstOperand(r.Const(t)), true
}
