package codegen

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"iselfuzz/internal/fatal"
	"iselfuzz/internal/ir"
	"iselfuzz/internal/observ"
	"iselfuzz/internal/target"
	"iselfuzz/internal/trace"
)

func value(id ir.ValueID) ir.Operand { return ir.ValueOperand(id) }
func param(i int) ir.Operand { return ir.ParamOperand(i) }
func i32(v uint64) ir.Operand { return ir.ConstOperand(ir.IntConst(ir.I32, v)) }
func i64(v uint64) ir.Operand { return ir.ConstOperand(ir.IntConst(ir.I64, v)) }

func bin(id ir.ValueID, op ir.Opcode, t ir.Type, a, b ir.Operand) *ir.Instr {
	return &ir.Instr{ID: id, Op: op, Type: t, Operands: []ir.Operand{a, b}}
}

func ret(ops ...ir.Operand) *ir.Instr {
	return &ir.Instr{ID: ir.NoValueID, Op: ir.OpRet, Operands: ops}
}

// mixedModule exercises every opcode class:
//
//	define double @f(i32 %p0, i64 %p1, double %p2, i1 %p3, float %p4, i8 %p5)
func mixedModule() *ir.Module {
	m := ir.NewModule("mixed")
	f := m.AddFunc(ir.NewFunc("f", ir.Double, ir.I32, ir.I64, ir.Double, ir.I1, ir.Float, ir.I8))
	f.AddBlock("entry")
	f.AddBlock("then")
	f.AddBlock("exit")
	f.Blocks[0].Instrs = []*ir.Instr{
		{ID: 0, Op: ir.OpAlloca, Type: ir.Ptr, ElemType: ir.I64},
		bin(1, ir.OpAdd, ir.I32, param(0), i32(7)),
		bin(2, ir.OpMul, ir.I64, param(1), param(1)),
		bin(3, ir.OpSDiv, ir.I64, value(2), i64(3)),
		bin(4, ir.OpURem, ir.I8, param(5), ir.ConstOperand(ir.IntConst(ir.I8, 5))),
		{ID: ir.NoValueID, Op: ir.OpStore, Type: ir.Void, Operands: []ir.Operand{value(3), value(0)}},
		{ID: 5, Op: ir.OpLoad, Type: ir.I64, Operands: []ir.Operand{value(0)}},
		{ID: 6, Op: ir.OpICmp, Type: ir.I1, Pred: ir.PredSLT, Operands: []ir.Operand{value(1), i32(100)}},
		bin(7, ir.OpFAdd, ir.Double, param(2), ir.ConstOperand(ir.FloatConst(ir.Double, 1.5))),
		bin(8, ir.OpFRem, ir.Float, param(4), ir.ConstOperand(ir.FloatConst(ir.Float, 2))),
		{ID: 9, Op: ir.OpFCmp, Type: ir.I1, Pred: ir.PredOLT, Operands: []ir.Operand{value(7), param(2)}},
		{ID: 10, Op: ir.OpSelect, Type: ir.Double, Operands: []ir.Operand{value(9), value(7), param(2)}},
		bin(11, ir.OpShl, ir.I64, value(5), i64(3)),
		{ID: 12, Op: ir.OpSelect, Type: ir.I64, Operands: []ir.Operand{param(3), value(11), param(1)}},
		{ID: 13, Op: ir.OpICmp, Type: ir.I1, Pred: ir.PredSGE, Operands: []ir.Operand{value(12), param(1)}},
		{ID: ir.NoValueID, Op: ir.OpCondBr, Operands: []ir.Operand{value(6)}, Targets: []int{1, 2}},
	}
	f.Blocks[1].Instrs = []*ir.Instr{
		{ID: 14, Op: ir.OpFCmp, Type: ir.I1, Pred: ir.PredUEQ, Operands: []ir.Operand{value(8), param(4)}},
		{ID: ir.NoValueID, Op: ir.OpBr, Targets: []int{2}},
	}
	f.Blocks[2].Instrs = []*ir.Instr{ret(value(10))}
	return m
}

// branchModule is a compare feeding a conditional branch:
//
//	define i32 @g(i32 %p0, i32 %p1)
func branchModule() *ir.Module {
	m := ir.NewModule("branch")
	f := m.AddFunc(ir.NewFunc("g", ir.I32, ir.I32, ir.I32))
	f.AddBlock("entry")
	f.AddBlock("lt")
	f.AddBlock("ge")
	f.Blocks[0].Instrs = []*ir.Instr{
		{ID: 0, Op: ir.OpICmp, Type: ir.I1, Pred: ir.PredSLT, Operands: []ir.Operand{param(0), param(1)}},
		{ID: ir.NoValueID, Op: ir.OpCondBr, Operands: []ir.Operand{value(0)}, Targets: []int{1, 2}},
	}
	f.Blocks[1].Instrs = []*ir.Instr{ret(param(0))}
	f.Blocks[2].Instrs = []*ir.Instr{ret(param(1))}
	return m
}

// pressureModule keeps n values live at once.
func pressureModule(n int) *ir.Module {
	m := ir.NewModule("pressure")
	f := m.AddFunc(ir.NewFunc("p", ir.I32, ir.I32))
	f.AddBlock("entry")
	bb := f.Blocks[0]
	for i := 0; i < n; i++ {
		bb.Instrs = append(bb.Instrs, bin(ir.ValueID(i), ir.OpMul, ir.I32, param(0), i32(uint64(i+2))))
	}
	acc := ir.ValueID(0)
	for i := 1; i < n; i++ {
		id := ir.ValueID(n + i)
		bb.Instrs = append(bb.Instrs, bin(id, ir.OpAdd, ir.I32, value(acc), value(ir.ValueID(i))))
		acc = id
	}
	bb.Instrs = append(bb.Instrs, ret(value(acc)))
	return m
}

func mustTarget(t *testing.T, cfg target.Config) *target.Target {
	t.Helper()
	tgt, err := target.New(cfg)
	if err != nil {
		t.Fatalf("target.New(%+v): %v", cfg, err)
	}
	return tgt
}

func compile(t *testing.T, cfg target.Config, m *ir.Module) (string, Stats) {
	t.Helper()
	if err := ir.Verify(m); err != nil {
		t.Fatalf("fixture does not verify: %v", err)
	}
	var out strings.Builder
	p := New(mustTarget(t, cfg), &out)
	if err := p.Run(m); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return out.String(), p.Stats()
}

func TestRunAcrossTargets(t *testing.T) {
	configs := []target.Config{
		{Triple: "x86_64-unknown-linux-gnu"},
		{Triple: "x86_64-unknown-linux-gnu", Features: "+soft-float"},
		{Triple: "i686-pc-linux-gnu"},
		{Triple: "aarch64-unknown-linux-gnu", CPU: "neoverse-n1"},
		{Triple: "armv7-none-eabi"},
		{Triple: "armv7-none-eabihf", CPU: "cortex-a15"},
		{Triple: "riscv64-unknown-elf"},
		{Triple: "riscv64-unknown-elf", CPU: "sifive-u74"},
		{Triple: "riscv32-unknown-elf", CPU: "sifive-e76"},
	}
	for _, cfg := range configs {
		for opt := target.OptNone; opt <= target.OptAggressive; opt++ {
			cfg := cfg
			cfg.OptLevel = opt
			name := fmt.Sprintf("%s/%s/%s", cfg.Triple, cfg.CPU+cfg.Features, opt)
			t.Run(name, func(t *testing.T) {
				asm, st := compile(t, cfg, mixedModule())
				if !strings.Contains(asm, "\t.globl\tf\n") {
					t.Fatalf("missing function header:\n%s", asm)
				}
				if st.Funcs != 1 || st.Selected != mixedModule().InstrCount() {
					t.Fatalf("stats = %+v", st)
				}
				if !strings.Contains(asm, "fmodf") {
					t.Fatalf("frem must lower to fmodf:\n%s", asm)
				}
				if st.FrameBytes == 0 {
					t.Fatalf("function with alloca and calls has an empty frame")
				}
			})
		}
	}
}

func TestSoftFloatAndDivideLibcalls(t *testing.T) {
	asm, st := compile(t, target.Config{Triple: "riscv64-unknown-elf"}, mixedModule())
	for _, fn := range []string{"__adddf3", "__divdi3", "__umoddi3", "__ltdf2", "__eqsf2", "__unordsf2"} {
		if !strings.Contains(asm, fn) {
			t.Errorf("expected call to %s", fn)
		}
	}
	if st.Libcalls < 6 {
		t.Errorf("Libcalls = %d", st.Libcalls)
	}

	asm, _ = compile(t, target.Config{Triple: "riscv64-unknown-elf", CPU: "sifive-u74"}, mixedModule())
	if strings.Contains(asm, "__adddf3") || strings.Contains(asm, "__divdi3") {
		t.Errorf("hardware float and divide still use libcalls:\n%s", asm)
	}
}

func TestExpandedIntegersOn32BitTargets(t *testing.T) {
	asm, st := compile(t, target.Config{Triple: "i686-pc-linux-gnu", OptLevel: target.OptDefault}, mixedModule())
	for _, want := range []string{"__muldi3", "__divdi3", "__ashldi3"} {
		if !strings.Contains(asm, want) {
			t.Errorf("expected %s on i686", want)
		}
	}
	if st.Actions[ActExpand] == 0 {
		t.Errorf("no expanded instructions: %+v", st.Actions)
	}

	m := ir.NewModule("wide")
	f := m.AddFunc(ir.NewFunc("w", ir.I64, ir.I64, ir.I64))
	f.AddBlock("entry")
	f.Blocks[0].Instrs = []*ir.Instr{
		bin(0, ir.OpAdd, ir.I64, param(0), param(1)),
		bin(1, ir.OpSub, ir.I64, value(0), param(1)),
		ret(value(1)),
	}
	asm, _ = compile(t, target.Config{Triple: "armv7-none-eabi"}, m)
	for _, want := range []string{"adds.32", "adc.32", "subs.32", "sbc.32"} {
		if !strings.Contains(asm, want) {
			t.Errorf("missing %s:\n%s", want, asm)
		}
	}
}

func TestCompareBranchFusion(t *testing.T) {
	tests := []struct {
		opt      target.OptLevel
		want     []string
		unwanted []string
	}{
		{target.OptNone, []string{"setcc.slt", "bnez"}, []string{"bcc"}},
		{target.OptLess, []string{"setcc.slt", "bnez"}, []string{"bcc"}},
		{target.OptDefault, []string{"bcc.slt"}, []string{"setcc", "bnez"}},
		{target.OptAggressive, []string{"bcc.slt"}, []string{"setcc", "bnez"}},
	}
	for _, tt := range tests {
		t.Run(tt.opt.String(), func(t *testing.T) {
			asm, _ := compile(t, target.Config{Triple: "aarch64-linux-gnu", OptLevel: tt.opt}, branchModule())
			for _, w := range tt.want {
				if !strings.Contains(asm, w) {
					t.Errorf("missing %q:\n%s", w, asm)
				}
			}
			for _, u := range tt.unwanted {
				if strings.Contains(asm, u) {
					t.Errorf("unexpected %q:\n%s", u, asm)
				}
			}
		})
	}
}

func TestSelectWithoutConditionalSelect(t *testing.T) {
	m := ir.NewModule("sel")
	f := m.AddFunc(ir.NewFunc("s", ir.I64, ir.I1, ir.I64, ir.I64))
	f.AddBlock("entry")
	f.Blocks[0].Instrs = []*ir.Instr{
		{ID: 0, Op: ir.OpSelect, Type: ir.I64, Operands: []ir.Operand{param(0), param(1), param(2)}},
		ret(value(0)),
	}
	asm, _ := compile(t, target.Config{Triple: "riscv64-unknown-elf"}, m)
	if strings.Contains(asm, "csel") || !strings.Contains(asm, "neg.64") {
		t.Fatalf("riscv select must use mask arithmetic:\n%s", asm)
	}
	asm, _ = compile(t, target.Config{Triple: "x86_64-linux-gnu"}, m)
	if !strings.Contains(asm, "csel.ne.64") {
		t.Fatalf("x86_64 select must use csel:\n%s", asm)
	}
}

func TestRegisterPressureSpills(t *testing.T) {
	asm, st := compile(t, target.Config{Triple: "i686-pc-linux-gnu"}, pressureModule(16))
	if st.Spills == 0 {
		t.Fatalf("expected spills with 16 live values and 6 registers")
	}
	if !strings.Contains(asm, "[esp, #") {
		t.Fatalf("spilled operands are not printed as stack references:\n%s", asm)
	}
	_, st = compile(t, target.Config{Triple: "aarch64-linux-gnu"}, pressureModule(16))
	if st.Spills != 0 {
		t.Fatalf("aarch64 spilled %d values with 28 registers", st.Spills)
	}
}

func TestAllocationNeverSharesLiveRegisters(t *testing.T) {
	tgt := mustTarget(t, target.Config{Triple: "i686-pc-linux-gnu"})
	f := pressureModule(12).Funcs[0]
	types := collectTypes(f)
	plan, _ := planFunc(tgt, f, types)
	mf, _ := selectFunc(tgt, f, plan, types)
	allocateRegisters(tgt, mf)

	lv := computeLiveness(mf)
	ivs := lv.intervals(mf)
	for i, a := range ivs {
		for _, b := range ivs[i+1:] {
			if mf.Phys[a.v] < 0 || mf.Phys[a.v] != mf.Phys[b.v] || mf.Classes[a.v] != mf.Classes[b.v] {
				continue
			}
			if a.start <= b.end && b.start <= a.end {
				t.Fatalf("%s [%d,%d] and %s [%d,%d] share register %d", a.v, a.start, a.end, b.v, b.start, b.end, mf.Phys[a.v])
			}
		}
	}
}

func TestFrameLayout(t *testing.T) {
	tgt := mustTarget(t, target.Config{Triple: "armv7-none-eabi"})
	mf := &MFunc{Name: "fr", HasCalls: true}
	mf.Blocks = []*MBlock{{Name: "entry", Instrs: []*MInstr{{Op: "ret", Term: true}}}}
	a := mf.NewSlot(1, 1, false)
	b := mf.NewSlot(8, 8, false)
	c := mf.NewSlot(2, 2, true)
	lowerFrame(tgt, mf)

	if got := mf.Slots[a].Offset; got != 4 {
		t.Errorf("slot a at %d, want 4 after the link slot", got)
	}
	if got := mf.Slots[b].Offset; got != 8 {
		t.Errorf("slot b at %d, want 8", got)
	}
	if got := mf.Slots[c].Offset; got != 16 {
		t.Errorf("slot c at %d, want 16", got)
	}
	if mf.FrameSize != 24 || mf.FrameSize%tgt.Arch.StackAlign != 0 {
		t.Errorf("FrameSize = %d", mf.FrameSize)
	}
	ops := make([]string, 0, 3)
	for _, mi := range mf.Blocks[0].Instrs {
		ops = append(ops, mi.Op)
	}
	if strings.Join(ops, ",") != "subsp,addsp,ret" {
		t.Errorf("prologue/epilogue = %v", ops)
	}
}

type fatalPanic string

func expectFatal(t *testing.T, fn func()) string {
	t.Helper()
	prev := fatal.Install(func(msg string) { panic(fatalPanic(msg)) })
	defer fatal.Install(prev)

	var msg string
	func() {
		defer func() {
			if r := recover(); r != nil {
				p, ok := r.(fatalPanic)
				if !ok {
					panic(r)
				}
				msg = string(p)
			}
		}()
		fn()
	}()
	if msg == "" {
		t.Fatalf("expected a fatal error")
	}
	return msg
}

func TestInternalDefectsAreFatal(t *testing.T) {
	m := branchModule()
	m.Funcs[0].Blocks[1].Instrs[0].Operands[0] = value(99)
	tgt := mustTarget(t, target.Config{Triple: "x86_64-linux-gnu"})
	msg := expectFatal(t, func() { _ = New(tgt, nil).Run(m) })
	if !strings.HasPrefix(msg, "Cannot select") {
		t.Fatalf("message = %q", msg)
	}

	mf := &MFunc{Name: "bad"}
	v := mf.NewVReg(ClassGPR)
	mf.Blocks = []*MBlock{{Name: "entry", Instrs: []*MInstr{{Op: "ret", Uses: []MOperand{regOp(v)}, Term: true}}}}
	msg = expectFatal(t, func() { allocateRegisters(tgt, mf) })
	if !strings.Contains(msg, "used before definition") {
		t.Fatalf("message = %q", msg)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestRunReportsWriteErrors(t *testing.T) {
	tgt := mustTarget(t, target.Config{Triple: "x86_64-linux-gnu"})
	err := New(tgt, failingWriter{}).Run(branchModule())
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("Run error = %v", err)
	}
}

func TestRunTracesAndTimesPasses(t *testing.T) {
	ring := trace.NewRingTracer(256, trace.LevelDetail)
	timer := observ.NewTimer()
	tgt := mustTarget(t, target.Config{Triple: "x86_64-linux-gnu"})
	if err := New(tgt, nil, WithTracer(ring, 0), WithTimer(timer)).Run(branchModule()); err != nil {
		t.Fatal(err)
	}
	seen := make(map[string]bool)
	for _, ev := range ring.Snapshot() {
		if ev.Kind == trace.KindSpanEnd && ev.Scope == trace.ScopePass {
			seen[ev.Name] = true
		}
	}
	for _, pass := range []string{"legalize", "isel", "regalloc", "prologepilog", "asm-printer", "asm-emit"} {
		if !seen[pass] {
			t.Errorf("pass %s not traced", pass)
		}
	}
	if n := len(timer.Report().Passes); n != 6 {
		t.Errorf("timer recorded %d passes, want 6", n)
	}
}

func TestAsmHeaderNamesTarget(t *testing.T) {
	tgt := mustTarget(t, target.Config{Triple: "x86_64-linux-gnu", CPU: "haswell", Features: "-avx2,+soft-float"})
	var out strings.Builder
	if err := New(tgt, &out).Run(branchModule()); err != nil {
		t.Fatal(err)
	}
	asm := out.String()
	if !strings.Contains(asm, "; target "+tgt.Triple+" cpu haswell") {
		t.Errorf("missing target line:\n%s", asm)
	}
	if !strings.Contains(asm, "; features "+strings.Join(tgt.EnabledFeatures(), ",")) || strings.Contains(asm, "avx2") {
		t.Errorf("feature line disagrees with %v:\n%s", tgt.EnabledFeatures(), asm)
	}
}
