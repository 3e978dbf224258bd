package testkit

import (
	"strings"
	"testing"

	"iselfuzz/internal/ir"
)

func addOne() *ir.Module {
	m := ir.NewModule("M")
	f := m.AddFunc(ir.NewFunc("f", ir.I32, ir.I32))
	f.AddBlock("entry")
	f.Blocks[0].Instrs = []*ir.Instr{
		{ID: 0, Op: ir.OpAdd, Type: ir.I32, Operands: []ir.Operand{ir.ParamOperand(0), ir.ConstOperand(ir.IntConst(ir.I32, 1))}},
		{ID: ir.NoValueID, Op: ir.OpRet, Operands: []ir.Operand{ir.ValueOperand(0)}},
	}
	return m
}

func TestChecksPassOnValidModule(t *testing.T) {
	m := addOne()
	if err := CheckVerifies(m); err != nil {
		t.Fatal(err)
	}
	if err := CheckRoundTrip(m); err != nil {
		t.Fatal(err)
	}
}

func TestCheckVerifiesShowsModule(t *testing.T) {
	m := addOne()
	m.Funcs[0].Blocks[0].Instrs[1].Operands = nil
	err := CheckVerifies(m)
	if err == nil || !strings.Contains(err.Error(), "@f") {
		t.Fatalf("CheckVerifies = %v", err)
	}
}
