package codegen

import (
	"fmt"

	"iselfuzz/internal/fatal"
	"iselfuzz/internal/ir"
	"iselfuzz/internal/target"
)

// selector lowers one verified IR function to machine instructions.
type selector struct {
	tgt   *target.Target
	f     *ir.Func
	mf    *MFunc
	types valueTypes
	plan  map[*ir.Instr]Action

	vals   map[ir.ValueID][]VReg
	params [][]VReg
	slots  map[ir.ValueID]int // alloca results
	uses   map[ir.ValueID]int
	fused  map[*ir.Instr]bool // compares folded into the following branch

	cur     *MBlock
	pending string // condition left in flags by a fused compare

	foldImm  bool
	foldAddr bool
	fuseBr   bool
	libcalls int
	selected int
}

func selectFunc(tgt *target.Target, f *ir.Func, plan map[*ir.Instr]Action, types valueTypes) (*MFunc, *selector) {
	s := &selector{
		tgt:      tgt,
		f:        f,
		mf:       &MFunc{Name: f.Name},
		types:    types,
		plan:     plan,
		vals:     make(map[ir.ValueID][]VReg),
		slots:    make(map[ir.ValueID]int),
		uses:     make(map[ir.ValueID]int),
		fused:    make(map[*ir.Instr]bool),
		foldImm:  tgt.OptLevel >= target.OptLess,
		foldAddr: tgt.OptLevel >= target.OptLess,
		fuseBr:   tgt.OptLevel >= target.OptDefault,
	}
	s.prepare()
	for bi, bb := range f.Blocks {
		s.cur = s.mf.Blocks[bi]
		if bi == 0 {
			s.lowerArgs()
		}
		for _, in := range bb.Instrs {
			s.selectInstr(in)
			s.selected++
		}
		if s.pending != "" {
			fatal.Reportf("Cannot select: compare in bb%d of @%s left flags unused", bi, f.Name)
		}
	}
	return s.mf, s
}

// prepare creates machine blocks and virtual registers for every value so
// that uses in blocks laid out before their definition resolve.
func (s *selector) prepare() {
	for bi, bb := range s.f.Blocks {
		s.mf.Blocks = append(s.mf.Blocks, &MBlock{
			Name:  fmt.Sprintf(".LBB_%s_%d", s.f.Name, bi),
			Succs: append([]int(nil), bb.Successors()...),
		})
	}
	for _, p := range s.f.Params {
		s.params = append(s.params, s.newRegs(layoutOf(s.tgt, p)))
	}
	for _, bb := range s.f.Blocks {
		for _, in := range bb.Instrs {
			for _, op := range in.Operands {
				if op.Kind == ir.OperandValue {
					s.uses[op.Value]++
				}
			}
			if !in.HasResult() {
				continue
			}
			s.vals[in.ID] = s.newRegs(layoutOf(s.tgt, in.Type))
			if in.Op == ir.OpAlloca {
				size := (in.ElemType.SizeInBits() + 7) / 8
				s.slots[in.ID] = s.mf.NewSlot(size, size, false)
			}
		}
	}
	if !s.fuseBr {
		return
	}
	for _, bb := range s.f.Blocks {
		n := len(bb.Instrs)
		if n < 2 {
			continue
		}
		term, prev := bb.Instrs[n-1], bb.Instrs[n-2]
		if term.Op != ir.OpCondBr || (prev.Op != ir.OpICmp && prev.Op != ir.OpFCmp) {
			continue
		}
		cond := term.Operands[0]
		if cond.Kind != ir.OperandValue || cond.Value != prev.ID || s.uses[prev.ID] != 1 {
			continue
		}
		if s.plan[prev] != ActLegal || prev.Pred == ir.PredFalse || prev.Pred == ir.PredTrue {
			continue
		}
		s.fused[prev] = true
	}
}

func (s *selector) newRegs(l valueLayout) []VReg {
	regs := make([]VReg, l.Parts)
	for i := range regs {
		regs[i] = s.mf.NewVReg(l.Class)
	}
	return regs
}

func (s *selector) emit(mi *MInstr) *MInstr {
	s.cur.Instrs = append(s.cur.Instrs, mi)
	return mi
}

func (s *selector) op(name string, width int, def VReg, uses ...MOperand) {
	s.emit(&MInstr{Op: name, Width: width, Defs: []VReg{def}, Uses: uses})
}

func (s *selector) call(fn string, defs []VReg, args []VReg) {
	s.mf.HasCalls = true
	s.libcalls++
	uses := append([]MOperand{symOp(fn)}, regOps(args)...)
	s.emit(&MInstr{Op: "call", Defs: defs, Uses: uses, Call: true})
}

func (s *selector) lowerArgs() {
	idx := int64(0)
	for _, regs := range s.params {
		for _, r := range regs {
			s.op("arg", 0, r, immOp(idx))
			idx++
		}
	}
}

// constParts splits the bit pattern of c into register sized pieces.
// Promoted integers are sign extended.
func constParts(c ir.Const, l valueLayout) []int64 {
	bits := c.Bits()
	if c.Type.IsInt() && c.Type.Bits < 64 {
		shift := 64 - uint(c.Type.Bits)
		bits = uint64(int64(bits<<shift) >> shift)
	}
	parts := make([]int64, l.Parts)
	for i := range parts {
		v := bits >> (uint(i*l.Bits) % 64)
		if i*l.Bits >= 64 {
			v = 0
		}
		if l.Bits < 64 {
			v = ir.TruncBits(v, l.Bits)
			// keep the part sign extended so immediates print naturally
			shift := 64 - uint(l.Bits)
			v = uint64(int64(v<<shift) >> shift)
		}
		parts[i] = int64(v)
	}
	return parts
}

// regs returns the registers holding op, materializing constants.
func (s *selector) regs(op ir.Operand) []VReg {
	switch op.Kind {
	case ir.OperandValue:
		regs, ok := s.vals[op.Value]
		if !ok {
			fatal.Reportf("Cannot select: use of undefined value %%%d in @%s", op.Value, s.f.Name)
		}
		return regs
	case ir.OperandParam:
		if op.Param < 0 || op.Param >= len(s.params) {
			fatal.Reportf("Cannot select: parameter %d out of range in @%s", op.Param, s.f.Name)
		}
		return s.params[op.Param]
	case ir.OperandConst:
		l := layoutOf(s.tgt, op.Const.Type)
		regs := s.newRegs(l)
		if l.Class == ClassFPR {
			idx := s.mf.PoolIndex(op.Const.Bits())
			s.op("fldc", l.Bits, regs[0], symOp(fmt.Sprintf(".LCPI_%s_%d", s.f.Name, idx)))
			return regs
		}
		for i, v := range constParts(op.Const, l) {
			s.op("li", l.Bits, regs[i], immOp(v))
		}
		return regs
	}
	fatal.Reportf("Cannot select: bad operand kind %d in @%s", op.Kind, s.f.Name)
	return nil
}

func (s *selector) immFits(v int64) bool {
	bits := s.tgt.Arch.ImmBits
	if bits >= 64 {
		return true
	}
	lim := int64(1) << (bits - 1)
	return v >= -lim && v < lim
}

// operand returns op as an immediate when it folds, otherwise as registers.
func (s *selector) operand(op ir.Operand) []MOperand {
	if s.foldImm && op.Kind == ir.OperandConst && op.Const.Type.IsInt() {
		l := layoutOf(s.tgt, op.Const.Type)
		if l.Parts == 1 {
			v := constParts(op.Const, l)[0]
			if s.immFits(v) {
				return []MOperand{immOp(v)}
			}
		}
	}
	return regOps(s.regs(op))
}

// address returns the memory operand for a pointer.
func (s *selector) address(op ir.Operand) MOperand {
	if s.foldAddr && op.Kind == ir.OperandValue {
		if slot, ok := s.slots[op.Value]; ok {
			return slotOp(slot)
		}
	}
	return regOp(s.regs(op)[0])
}

// extend widens the low bits of r to its full register width.
func (s *selector) extend(r VReg, from, width int, signed bool) VReg {
	name := "zext"
	if signed {
		name = "sext"
	}
	out := s.mf.NewVReg(ClassGPR)
	s.op(name, width, out, regOp(r), immOp(int64(from)))
	return out
}

func (s *selector) extendOperand(op ir.Operand, t ir.Type, l valueLayout, signed bool) []VReg {
	regs := s.regs(op)
	if !l.promoted(t) {
		return regs
	}
	return []VReg{s.extend(regs[0], int(t.Bits), l.Bits, signed)}
}

func (s *selector) result(in *ir.Instr) []VReg {
	regs, ok := s.vals[in.ID]
	if !ok {
		fatal.Reportf("Cannot select: no register for %%%d in @%s", in.ID, s.f.Name)
	}
	return regs
}

func (s *selector) selectInstr(in *ir.Instr) {
	switch {
	case in.Op.IsIntBinary():
		s.selectIntBinary(in)
	case in.Op.IsFloatBinary():
		s.selectFloatBinary(in)
	default:
		switch in.Op {
		case ir.OpICmp:
			s.selectICmp(in)
		case ir.OpFCmp:
			s.selectFCmp(in)
		case ir.OpSelect:
			s.selectSelect(in)
		case ir.OpAlloca:
			s.op("lea", s.tgt.PtrBits(), s.result(in)[0], slotOp(s.slots[in.ID]))
		case ir.OpLoad:
			s.selectLoad(in)
		case ir.OpStore:
			s.selectStore(in)
		case ir.OpRet:
			var uses []MOperand
			if len(in.Operands) == 1 {
				uses = regOps(s.regs(in.Operands[0]))
			}
			s.emit(&MInstr{Op: "ret", Uses: uses, Term: true})
		case ir.OpBr:
			s.emit(&MInstr{Op: "b", Uses: []MOperand{blockOp(in.Targets[0])}, Term: true})
		case ir.OpCondBr:
			s.selectCondBr(in)
		case ir.OpUnreachable:
			s.emit(&MInstr{Op: "trap", Term: true})
		default:
			fatal.Reportf("Cannot select: %s", ir.FormatInstr(s.f, in))
		}
	}
}

func signedOp(op ir.Opcode) bool {
	return op == ir.OpSDiv || op == ir.OpSRem || op == ir.OpAShr
}

func zeroExtOp(op ir.Opcode) bool {
	return op == ir.OpUDiv || op == ir.OpURem || op == ir.OpLShr
}

func isShift(op ir.Opcode) bool {
	return op == ir.OpShl || op == ir.OpLShr || op == ir.OpAShr
}

func (s *selector) selectIntBinary(in *ir.Instr) {
	l := layoutOf(s.tgt, in.Type)
	dst := s.result(in)
	lhs, rhs := in.Operands[0], in.Operands[1]

	switch s.plan[in] {
	case ActLibcall:
		fn, ok := libcallName(in.Op, in.Type, l.Bits*l.Parts)
		if !ok {
			fatal.Reportf("Cannot select: no runtime routine for %s", ir.FormatInstr(s.f, in))
		}
		signed := signedOp(in.Op)
		a := s.extendOperand(lhs, in.Type, l, signed)
		var b []VReg
		if isShift(in.Op) {
			b = s.regs(rhs)[:1]
		} else {
			b = s.extendOperand(rhs, in.Type, l, signed)
		}
		s.call(fn, dst, append(append([]VReg(nil), a...), b...))
	case ActExpand:
		a, b := s.regs(lhs), s.regs(rhs)
		for i := range dst {
			name := in.Op.String()
			switch {
			case in.Op == ir.OpAdd && i == 0:
				name = "adds"
			case in.Op == ir.OpAdd:
				name = "adc"
			case in.Op == ir.OpSub && i == 0:
				name = "subs"
			case in.Op == ir.OpSub:
				name = "sbc"
			}
			s.op(name, l.Bits, dst[i], regOp(a[i]), regOp(b[i]))
		}
	case ActPromote:
		signed, zero := signedOp(in.Op), zeroExtOp(in.Op)
		var a VReg
		if signed || zero {
			a = s.extendOperand(lhs, in.Type, l, signed)[0]
		} else {
			a = s.regs(lhs)[0]
		}
		var b []MOperand
		if (signed || zero) && !isShift(in.Op) {
			b = regOps(s.extendOperand(rhs, in.Type, l, signed))
		} else {
			b = s.operand(rhs)
		}
		s.op(in.Op.String(), l.Bits, dst[0], append([]MOperand{regOp(a)}, b...)...)
	default:
		a := s.regs(lhs)[0]
		s.op(in.Op.String(), l.Bits, dst[0], append([]MOperand{regOp(a)}, s.operand(rhs)...)...)
	}
}

func (s *selector) selectFloatBinary(in *ir.Instr) {
	dst := s.result(in)
	a, b := s.regs(in.Operands[0]), s.regs(in.Operands[1])
	if s.plan[in] == ActLibcall {
		fn, _ := libcallName(in.Op, in.Type, 0)
		s.call(fn, dst, append(append([]VReg(nil), a...), b...))
		return
	}
	s.op(in.Op.String(), in.Type.SizeInBits(), dst[0], regOp(a[0]), regOp(b[0]))
}

// unsignedCond maps a signed predicate onto the unsigned condition used
// for low halves of expanded compares.
func unsignedCond(p ir.Predicate) string {
	switch p {
	case ir.PredSGT:
		return "ugt"
	case ir.PredSGE:
		return "uge"
	case ir.PredSLT:
		return "ult"
	case ir.PredSLE:
		return "ule"
	}
	return p.String()
}

func signedPred(p ir.Predicate) bool {
	return p >= ir.PredSGT && p <= ir.PredSLE
}

func (s *selector) setcc(cond string, dst VReg) {
	s.emit(&MInstr{Op: "setcc", Cond: cond, Defs: []VReg{dst}})
}

func (s *selector) cmp(width int, uses ...MOperand) {
	s.emit(&MInstr{Op: "cmp", Width: width, Uses: uses})
}

func (s *selector) selectICmp(in *ir.Instr) {
	t := s.types.of(s.f, in.Operands[0])
	l := layoutOf(s.tgt, t)
	cond := in.Pred.String()

	switch s.plan[in] {
	case ActExpand:
		dst := s.result(in)[0]
		a, b := s.regs(in.Operands[0]), s.regs(in.Operands[1])
		hi := len(a) - 1
		if in.Pred == ir.PredEQ || in.Pred == ir.PredNE {
			acc := s.mf.NewVReg(ClassGPR)
			s.op("xor", l.Bits, acc, regOp(a[0]), regOp(b[0]))
			for i := 1; i < len(a); i++ {
				x := s.mf.NewVReg(ClassGPR)
				s.op("xor", l.Bits, x, regOp(a[i]), regOp(b[i]))
				next := s.mf.NewVReg(ClassGPR)
				s.op("or", l.Bits, next, regOp(acc), regOp(x))
				acc = next
			}
			s.cmp(l.Bits, regOp(acc), immOp(0))
			s.setcc(cond, dst)
			return
		}
		hiRes, loRes, hiEq := s.mf.NewVReg(ClassGPR), s.mf.NewVReg(ClassGPR), s.mf.NewVReg(ClassGPR)
		s.cmp(l.Bits, regOp(a[hi]), regOp(b[hi]))
		s.setcc(cond, hiRes)
		s.cmp(l.Bits, regOp(a[0]), regOp(b[0]))
		s.setcc(unsignedCond(in.Pred), loRes)
		s.cmp(l.Bits, regOp(a[hi]), regOp(b[hi]))
		s.setcc("eq", hiEq)
		s.selectRegs(hiEq, []VReg{loRes}, []VReg{hiRes}, []VReg{dst}, ClassGPR, l.Bits)
		return
	case ActPromote:
		signed := signedPred(in.Pred)
		a := s.extendOperand(in.Operands[0], t, l, signed)
		b := s.extendOperand(in.Operands[1], t, l, signed)
		s.cmp(l.Bits, regOp(a[0]), regOp(b[0]))
	default:
		a := s.regs(in.Operands[0])
		s.cmp(l.Bits, append([]MOperand{regOp(a[0])}, s.operand(in.Operands[1])...)...)
	}
	if s.fused[in] {
		s.pending = cond
		return
	}
	s.setcc(cond, s.result(in)[0])
}

func (s *selector) selectFCmp(in *ir.Instr) {
	t := s.types.of(s.f, in.Operands[0])
	dst := s.result(in)[0]

	if in.Pred == ir.PredFalse || in.Pred == ir.PredTrue {
		v := int64(0)
		if in.Pred == ir.PredTrue {
			v = 1
		}
		s.op("li", layoutOf(s.tgt, ir.I1).Bits, dst, immOp(v))
		return
	}

	a, b := s.regs(in.Operands[0]), s.regs(in.Operands[1])
	if s.plan[in] == ActLibcall {
		sc, ok := softCmpFor(in.Pred, t)
		if !ok {
			fatal.Reportf("Cannot select: no soft-float expansion for %s", ir.FormatInstr(s.f, in))
		}
		width := layoutOf(s.tgt, ir.I32).Bits
		args := append(append([]VReg(nil), a...), b...)
		var results []VReg
		for _, c := range sc.Calls {
			r := s.mf.NewVReg(ClassGPR)
			s.call(c.Fn, []VReg{r}, args)
			s.cmp(width, regOp(r), immOp(0))
			out := dst
			if len(sc.Calls) > 1 {
				out = s.mf.NewVReg(ClassGPR)
			}
			s.setcc(c.Cond, out)
			results = append(results, out)
		}
		if len(results) > 1 {
			s.op(sc.Join, width, dst, regOp(results[0]), regOp(results[1]))
		}
		return
	}

	s.emit(&MInstr{Op: "fcmp", Width: t.SizeInBits(), Uses: []MOperand{regOp(a[0]), regOp(b[0])}})
	if s.fused[in] {
		s.pending = in.Pred.String()
		return
	}
	s.setcc(in.Pred.String(), dst)
}

// boolReg returns an i1 operand zero extended to its register.
func (s *selector) boolReg(op ir.Operand) VReg {
	l := layoutOf(s.tgt, ir.I1)
	return s.extendOperand(op, ir.I1, l, false)[0]
}

// selectRegs writes cond ? a : b into dst part by part.
func (s *selector) selectRegs(cond VReg, a, b, dst []VReg, class RegClass, width int) {
	for i := range dst {
		if s.tgt.Arch.HasCondSelect || class == ClassFPR {
			name := "csel"
			if class == ClassFPR {
				name = "fcsel"
			}
			s.emit(&MInstr{Op: name, Width: width, Cond: "ne", Defs: []VReg{dst[i]}, Uses: []MOperand{regOp(cond), regOp(a[i]), regOp(b[i])}})
			continue
		}
		// dst = b ^ ((a ^ b) & -cond)
		mask, diff, masked := s.mf.NewVReg(ClassGPR), s.mf.NewVReg(ClassGPR), s.mf.NewVReg(ClassGPR)
		s.op("neg", width, mask, regOp(cond))
		s.op("xor", width, diff, regOp(a[i]), regOp(b[i]))
		s.op("and", width, masked, regOp(diff), regOp(mask))
		s.op("xor", width, dst[i], regOp(masked), regOp(b[i]))
	}
}

func (s *selector) selectSelect(in *ir.Instr) {
	l := layoutOf(s.tgt, in.Type)
	cond := s.boolReg(in.Operands[0])
	a, b := s.regs(in.Operands[1]), s.regs(in.Operands[2])
	s.selectRegs(cond, a, b, s.result(in), l.Class, l.Bits)
}

// memWidth returns the access width of part i of a value of type t.
func memWidth(t ir.Type, l valueLayout) int {
	if l.Parts > 1 {
		return l.Bits
	}
	switch bits := t.SizeInBits(); {
	case bits == 0:
		return l.Bits
	case bits < 8:
		return 8
	default:
		return bits
	}
}

func (s *selector) selectLoad(in *ir.Instr) {
	l := layoutOf(s.tgt, in.Type)
	addr := s.address(in.Operands[0])
	name := "ld"
	if l.Class == ClassFPR {
		name = "fld"
	}
	width := memWidth(in.Type, l)
	for i, r := range s.result(in) {
		s.op(name, width, r, addr, immOp(int64(i*l.Bits/8)))
	}
}

func (s *selector) selectStore(in *ir.Instr) {
	t := s.types.of(s.f, in.Operands[0])
	l := layoutOf(s.tgt, t)
	vals := s.regs(in.Operands[0])
	addr := s.address(in.Operands[1])
	name := "st"
	if l.Class == ClassFPR {
		name = "fst"
	}
	width := memWidth(t, l)
	for i, r := range vals {
		s.emit(&MInstr{Op: name, Width: width, Uses: []MOperand{regOp(r), addr, immOp(int64(i * l.Bits / 8))}})
	}
}

func (s *selector) selectCondBr(in *ir.Instr) {
	then, els := blockOp(in.Targets[0]), blockOp(in.Targets[1])
	if s.pending != "" {
		s.emit(&MInstr{Op: "bcc", Cond: s.pending, Uses: []MOperand{then}, Term: true})
		s.pending = ""
	} else {
		c := s.boolReg(in.Operands[0])
		s.emit(&MInstr{Op: "bnez", Uses: []MOperand{regOp(c), then}, Term: true})
	}
	s.emit(&MInstr{Op: "b", Uses: []MOperand{els}, Term: true})
}
