package ir

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Verify checks module invariants.
// Returns nil for a well-formed module, otherwise the joined diagnostics.
func Verify(m *Module) error {
	if m == nil {
		return errors.New("nil module")
	}
	var errs []error
	if err := checkSymbol("module", m.Name); err != nil {
		errs = append(errs, err)
	}
	seen := make(map[string]bool, len(m.Funcs))
	for i, f := range m.Funcs {
		if f == nil {
			errs = append(errs, fmt.Errorf("function #%d is nil", i))
			continue
		}
		if seen[f.Name] {
			errs = append(errs, fmt.Errorf("function @%s redefined", f.Name))
		}
		seen[f.Name] = true
		if err := verifyFunc(f); err != nil {
			errs = append(errs, fmt.Errorf("function @%s: %w", f.Name, err))
		}
	}
	return errors.Join(errs...)
}

func checkSymbol(what, name string) error {
	if name == "" {
		return fmt.Errorf("%s name is empty", what)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("%s name is not valid UTF-8", what)
	}
	if !norm.NFC.IsNormalString(name) {
		return fmt.Errorf("%s name %q is not NFC-normalized", what, name)
	}
	return nil
}

func verifyFunc(f *Func) error {
	var errs []error

	// 1. Signature
	if err := checkSymbol("function", f.Name); err != nil {
		errs = append(errs, err)
	}
	for i, p := range f.Params {
		if !p.IsFirstClass() {
			errs = append(errs, fmt.Errorf("parameter %d has invalid type %s", i, p))
		}
	}
	if !f.Result.IsVoid() && !f.Result.IsFirstClass() {
		errs = append(errs, fmt.Errorf("invalid result type %s", f.Result))
	}
	if len(f.Blocks) == 0 {
		errs = append(errs, errors.New("function has no blocks"))
		return errors.Join(errs...)
	}

	// 2. Block shape, ids and successors
	if err := verifyBlocks(f); err != nil {
		errs = append(errs, err)
		return errors.Join(errs...)
	}

	// 3. Types and dominance of operands
	if err := verifyInstrs(f); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// verifyBlocks checks that every block is terminated exactly once, that
// value ids are unique and that branch targets exist.
func verifyBlocks(f *Func) error {
	var errs []error
	ids := make(map[ValueID]bool)
	for bi, bb := range f.Blocks {
		if bb == nil {
			errs = append(errs, fmt.Errorf("bb%d is nil", bi))
			continue
		}
		if len(bb.Instrs) == 0 {
			errs = append(errs, fmt.Errorf("bb%d: empty block", bi))
			continue
		}
		for pi, in := range bb.Instrs {
			if in == nil {
				errs = append(errs, fmt.Errorf("bb%d instr %d: nil instruction", bi, pi))
				continue
			}
			if !in.Op.Valid() {
				errs = append(errs, fmt.Errorf("bb%d instr %d: invalid opcode %d", bi, pi, in.Op))
				continue
			}
			last := pi == len(bb.Instrs)-1
			if in.Op.IsTerminator() && !last {
				errs = append(errs, fmt.Errorf("bb%d instr %d: terminator in the middle of a block", bi, pi))
			}
			if last && !in.Op.IsTerminator() {
				errs = append(errs, fmt.Errorf("bb%d: unterminated block", bi))
			}
			if in.HasResult() {
				if in.ID < 0 {
					errs = append(errs, fmt.Errorf("bb%d instr %d: result without id", bi, pi))
				} else if ids[in.ID] {
					errs = append(errs, fmt.Errorf("bb%d instr %d: value %%%d defined twice", bi, pi, in.ID))
				}
				ids[in.ID] = true
			}
			for _, target := range in.Targets {
				if target < 0 || target >= len(f.Blocks) {
					errs = append(errs, fmt.Errorf("bb%d: branch target bb%d does not exist", bi, target))
				} else if target == 0 {
					errs = append(errs, fmt.Errorf("bb%d: entry block cannot be a branch target", bi))
				}
			}
		}
	}
	return errors.Join(errs...)
}

func verifyInstrs(f *Func) error {
	var errs []error
	dom := ComputeDominators(f)
	defs := make(map[ValueID]Site)
	for bi, bb := range f.Blocks {
		for pi, in := range bb.Instrs {
			if in.HasResult() {
				defs[in.ID] = Site{Block: bi, Pos: pi}
			}
		}
	}

	for bi, bb := range f.Blocks {
		for pi, in := range bb.Instrs {
			ctx := fmt.Sprintf("bb%d instr %d (%s)", bi, pi, in.Op)
			types := make([]Type, len(in.Operands))
			ok := true
			for oi, op := range in.Operands {
				t, err := operandType(f, defs, op)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: operand %d: %w", ctx, oi, err))
					ok = false
					continue
				}
				if op.Kind == OperandValue {
					def := defs[op.Value]
					if !dominatesUse(dom, def, Site{Block: bi, Pos: pi}) {
						errs = append(errs, fmt.Errorf("%s: operand %d: %%%d does not dominate its use", ctx, oi, op.Value))
						ok = false
					}
				}
				types[oi] = t
			}
			if !ok {
				continue
			}
			if err := checkInstrTypes(f, in, types); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", ctx, err))
			}
		}
	}
	return errors.Join(errs...)
}

func operandType(f *Func, defs map[ValueID]Site, op Operand) (Type, error) {
	switch op.Kind {
	case OperandConst:
		if !op.Const.Type.IsScalar() {
			return Void, fmt.Errorf("constant of non-scalar type %s", op.Const.Type)
		}
		if op.Const.Type.IsInt() && TruncBits(op.Const.Int, int(op.Const.Type.Bits)) != op.Const.Int {
			return Void, fmt.Errorf("constant %d does not fit %s", op.Const.Int, op.Const.Type)
		}
		return op.Const.Type, nil
	case OperandParam:
		if op.Param < 0 || op.Param >= len(f.Params) {
			return Void, fmt.Errorf("parameter %d out of range", op.Param)
		}
		return f.Params[op.Param], nil
	case OperandValue:
		site, ok := defs[op.Value]
		if !ok {
			return Void, fmt.Errorf("use of undefined value %%%d", op.Value)
		}
		return f.Blocks[site.Block].Instrs[site.Pos].Type, nil
	default:
		return Void, fmt.Errorf("bad operand kind %d", op.Kind)
	}
}

func dominatesUse(dom *DomTree, def, use Site) bool {
	if def.Block == use.Block {
		return def.Pos < use.Pos
	}
	return dom.Dominates(def.Block, use.Block)
}

func wantOperands(in *Instr, n int) error {
	if len(in.Operands) != n {
		return fmt.Errorf("expected %d operands, got %d", n, len(in.Operands))
	}
	return nil
}

func wantTargets(in *Instr, n int) error {
	if len(in.Targets) != n {
		return fmt.Errorf("expected %d successors, got %d", n, len(in.Targets))
	}
	return nil
}

// checkInstrTypes validates the typing rules of a single instruction.
func checkInstrTypes(f *Func, in *Instr, ops []Type) error {
	if in.Op != OpBr && in.Op != OpCondBr && len(in.Targets) != 0 {
		return errors.New("non-branch instruction has successors")
	}
	if in.Op != OpAlloca && !in.ElemType.IsVoid() {
		return fmt.Errorf("unexpected element type %s", in.ElemType)
	}
	if in.Op != OpICmp && in.Op != OpFCmp && in.Pred != PredNone {
		return fmt.Errorf("unexpected predicate %s", in.Pred)
	}
	if in.Op.IsTerminator() && !in.Type.IsVoid() {
		return fmt.Errorf("terminator typed %s", in.Type)
	}
	switch {
	case in.Op.IsIntBinary():
		if err := wantOperands(in, 2); err != nil {
			return err
		}
		if !in.Type.IsInt() || ops[0] != in.Type || ops[1] != in.Type {
			return fmt.Errorf("integer operator on %s, %s -> %s", ops[0], ops[1], in.Type)
		}
	case in.Op.IsFloatBinary():
		if err := wantOperands(in, 2); err != nil {
			return err
		}
		if !in.Type.IsFloat() || ops[0] != in.Type || ops[1] != in.Type {
			return fmt.Errorf("float operator on %s, %s -> %s", ops[0], ops[1], in.Type)
		}
	}

	switch in.Op {
	case OpICmp:
		if err := wantOperands(in, 2); err != nil {
			return err
		}
		if !in.Pred.IsIntPredicate() {
			return fmt.Errorf("invalid icmp predicate %d", in.Pred)
		}
		if ops[0] != ops[1] || !(ops[0].IsInt() || ops[0].IsPtr()) || in.Type != I1 {
			return fmt.Errorf("icmp on %s, %s -> %s", ops[0], ops[1], in.Type)
		}
	case OpFCmp:
		if err := wantOperands(in, 2); err != nil {
			return err
		}
		if !in.Pred.IsFloatPredicate() {
			return fmt.Errorf("invalid fcmp predicate %d", in.Pred)
		}
		if ops[0] != ops[1] || !ops[0].IsFloat() || in.Type != I1 {
			return fmt.Errorf("fcmp on %s, %s -> %s", ops[0], ops[1], in.Type)
		}
	case OpSelect:
		if err := wantOperands(in, 3); err != nil {
			return err
		}
		if ops[0] != I1 {
			return fmt.Errorf("select condition must be i1, got %s", ops[0])
		}
		if ops[1] != ops[2] || ops[1] != in.Type || !in.Type.IsFirstClass() {
			return fmt.Errorf("select arms %s, %s -> %s", ops[1], ops[2], in.Type)
		}
	case OpAlloca:
		if err := wantOperands(in, 0); err != nil {
			return err
		}
		if !in.ElemType.IsScalar() || in.Type != Ptr {
			return fmt.Errorf("alloca of %s -> %s", in.ElemType, in.Type)
		}
	case OpLoad:
		if err := wantOperands(in, 1); err != nil {
			return err
		}
		if !ops[0].IsPtr() || !in.Type.IsScalar() {
			return fmt.Errorf("load %s from %s", in.Type, ops[0])
		}
	case OpStore:
		if err := wantOperands(in, 2); err != nil {
			return err
		}
		if !ops[0].IsScalar() || !ops[1].IsPtr() || !in.Type.IsVoid() {
			return fmt.Errorf("store %s to %s", ops[0], ops[1])
		}
	case OpRet:
		if err := wantTargets(in, 0); err != nil {
			return err
		}
		if f.Result.IsVoid() {
			if len(in.Operands) != 0 {
				return errors.New("value returned from void function")
			}
			return nil
		}
		if err := wantOperands(in, 1); err != nil {
			return err
		}
		if ops[0] != f.Result {
			return fmt.Errorf("returning %s from function of type %s", ops[0], f.Result)
		}
	case OpBr:
		if err := wantOperands(in, 0); err != nil {
			return err
		}
		return wantTargets(in, 1)
	case OpCondBr:
		if err := wantOperands(in, 1); err != nil {
			return err
		}
		if ops[0] != I1 {
			return fmt.Errorf("branch condition must be i1, got %s", ops[0])
		}
		return wantTargets(in, 2)
	case OpUnreachable:
		if err := wantOperands(in, 0); err != nil {
			return err
		}
		return wantTargets(in, 0)
	}
	return nil
}
