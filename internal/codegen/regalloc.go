package codegen

import (
	"math/bits"
	"sort"

	"iselfuzz/internal/fatal"
	"iselfuzz/internal/target"
)

// regSet is a bitset over virtual registers.
type regSet []uint64

func newRegSet(n int) regSet { return make(regSet, (n+63)/64) }

func (s regSet) add(v VReg) { s[v/64] |= 1 << (uint(v) % 64) }
func (s regSet) has(v VReg) bool { return s[v/64]&(1<<(uint(v)%64)) != 0 }

// union adds o to s and reports whether s changed.
func (s regSet) union(o regSet) bool {
	changed := false
	for i := range s {
		n := s[i] | o[i]
		if n != s[i] {
			s[i] = n
			changed = true
		}
	}
	return changed
}

func (s regSet) first() (VReg, bool) {
	for i, w := range s {
		if w != 0 {
			return VReg(i*64 + bits.TrailingZeros64(w)), true
		}
	}
	return 0, false
}

func (s regSet) each(fn func(VReg)) {
	for i, w := range s {
		for w != 0 {
			b := bits.TrailingZeros64(w)
			fn(VReg(i*64 + b))
			w &^= 1 << uint(b)
		}
	}
}

// liveInterval is the hull of positions where a virtual register is live.
// Uses sit on even positions, definitions on the following odd one.
type liveInterval struct {
	v          VReg
	start, end int
}

type liveness struct {
	blockStart, blockEnd []int
	liveIn, liveOut      []regSet
	calls                []int
}

func computeLiveness(mf *MFunc) *liveness {
	n := len(mf.Classes)
	lv := &liveness{
		blockStart: make([]int, len(mf.Blocks)),
		blockEnd:   make([]int, len(mf.Blocks)),
		liveIn:     make([]regSet, len(mf.Blocks)),
		liveOut:    make([]regSet, len(mf.Blocks)),
	}
	use := make([]regSet, len(mf.Blocks))
	def := make([]regSet, len(mf.Blocks))

	pos := 0
	for bi, mb := range mf.Blocks {
		use[bi], def[bi] = newRegSet(n), newRegSet(n)
		lv.liveIn[bi], lv.liveOut[bi] = newRegSet(n), newRegSet(n)
		lv.blockStart[bi] = pos
		for _, mi := range mb.Instrs {
			for _, op := range mi.Uses {
				if op.Kind == MReg && !def[bi].has(op.Reg) {
					use[bi].add(op.Reg)
				}
			}
			for _, d := range mi.Defs {
				def[bi].add(d)
			}
			if mi.Call {
				lv.calls = append(lv.calls, pos)
			}
			pos += 2
		}
		lv.blockEnd[bi] = pos - 1
		if len(mb.Instrs) == 0 {
			lv.blockEnd[bi] = pos
		}
	}

	for changed := true; changed; {
		changed = false
		for bi := len(mf.Blocks) - 1; bi >= 0; bi-- {
			for _, s := range mf.Blocks[bi].Succs {
				if s >= 0 && s < len(mf.Blocks) && lv.liveOut[bi].union(lv.liveIn[s]) {
					changed = true
				}
			}
			in := newRegSet(n)
			in.union(lv.liveOut[bi])
			for i := range in {
				in[i] &^= def[bi][i]
				in[i] |= use[bi][i]
			}
			if lv.liveIn[bi].union(in) {
				changed = true
			}
		}
	}
	return lv
}

func (lv *liveness) intervals(mf *MFunc) []liveInterval {
	n := len(mf.Classes)
	start := make([]int, n)
	end := make([]int, n)
	for i := range start {
		start[i], end[i] = -1, -1
	}
	touch := func(v VReg, p int) {
		if start[v] < 0 || p < start[v] {
			start[v] = p
		}
		if p > end[v] {
			end[v] = p
		}
	}
	pos := 0
	for bi, mb := range mf.Blocks {
		lv.liveIn[bi].each(func(v VReg) { touch(v, lv.blockStart[bi]) })
		lv.liveOut[bi].each(func(v VReg) { touch(v, lv.blockEnd[bi]) })
		for _, mi := range mb.Instrs {
			for _, op := range mi.Uses {
				if op.Kind == MReg {
					touch(op.Reg, pos)
				}
			}
			for _, d := range mi.Defs {
				touch(d, pos+1)
			}
			pos += 2
		}
	}
	out := make([]liveInterval, 0, n)
	for v := range start {
		if start[v] >= 0 {
			out = append(out, liveInterval{v: VReg(v), start: start[v], end: end[v]})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].start != out[j].start {
			return out[i].start < out[j].start
		}
		return out[i].v < out[j].v
	})
	return out
}

func (lv *liveness) crossesCall(iv liveInterval) bool {
	i := sort.SearchInts(lv.calls, iv.start+1)
	return i < len(lv.calls) && lv.calls[i] < iv.end
}

const spillSlotSize = 8

// allocateRegisters assigns physical registers with a linear scan.
// Values live across a call are kept on the stack since every register is
// caller-saved. It returns the number of spilled virtual registers.
func allocateRegisters(tgt *target.Target, mf *MFunc) int {
	n := len(mf.Classes)
	mf.Phys = make([]int, n)
	mf.Spill = make([]int, n)
	for i := range mf.Phys {
		mf.Phys[i], mf.Spill[i] = -1, -1
	}

	lv := computeLiveness(mf)
	if len(mf.Blocks) > 0 {
		if v, ok := lv.liveIn[0].first(); ok {
			fatal.Reportf("Register allocation: %s used before definition in @%s", v, mf.Name)
		}
	}

	spills := 0
	spill := func(v VReg) {
		mf.Phys[v] = -1
		mf.Spill[v] = mf.NewSlot(spillSlotSize, spillSlotSize, true)
		spills++
	}

	limits := map[RegClass]int{ClassGPR: tgt.Arch.NumGPR, ClassFPR: tgt.Arch.NumFPR}
	type active struct {
		iv   liveInterval
		phys int
	}
	actives := make(map[RegClass][]active)
	used := make(map[RegClass][]bool)
	for c, k := range limits {
		used[c] = make([]bool, k)
	}

	intervals := lv.intervals(mf)
	for _, iv := range intervals {
		if lv.crossesCall(iv) {
			spill(iv.v)
			continue
		}
		class := mf.Classes[iv.v]

		kept := actives[class][:0]
		for _, a := range actives[class] {
			if a.iv.end < iv.start {
				used[class][a.phys] = false
				continue
			}
			kept = append(kept, a)
		}
		actives[class] = kept

		phys := -1
		for r, busy := range used[class] {
			if !busy {
				phys = r
				break
			}
		}
		if phys < 0 {
			victim := -1
			for i, a := range actives[class] {
				if victim < 0 || a.iv.end > actives[class][victim].iv.end {
					victim = i
				}
			}
			if victim < 0 || actives[class][victim].iv.end <= iv.end {
				spill(iv.v)
				continue
			}
			phys = actives[class][victim].phys
			spill(actives[class][victim].iv.v)
			actives[class] = append(actives[class][:victim], actives[class][victim+1:]...)
		}
		used[class][phys] = true
		mf.Phys[iv.v] = phys
		actives[class] = append(actives[class], active{iv: iv, phys: phys})
	}

	verifyAllocation(mf, intervals)
	return spills
}

// verifyAllocation checks that no two overlapping intervals share a
// physical register.
func verifyAllocation(mf *MFunc, intervals []liveInterval) {
	type key struct {
		class RegClass
		phys  int
	}
	last := make(map[key]liveInterval)
	for _, iv := range intervals {
		phys := mf.Phys[iv.v]
		if phys < 0 {
			if mf.Spill[iv.v] < 0 {
				fatal.Reportf("Register allocation: %s in @%s has neither register nor slot", iv.v, mf.Name)
			}
			continue
		}
		k := key{mf.Classes[iv.v], phys}
		if prev, ok := last[k]; ok && prev.end >= iv.start {
			fatal.Reportf("Register allocation: %s and %s overlap in %s%d of @%s", prev.v, iv.v, k.class, phys, mf.Name)
		}
		last[k] = iv
	}
}
