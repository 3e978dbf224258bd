package codegen

import (
	"fmt"
	"strings"

	"iselfuzz/internal/fatal"
	"iselfuzz/internal/target"
)

// regFile names the physical registers of one class. Registers past the
// end of names are spelled prefix followed by base+index.
type regFile struct {
	names  []string
	prefix string
	base   int
}

func (rf regFile) name(i int) string {
	if i < len(rf.names) {
		return rf.names[i]
	}
	return fmt.Sprintf("%s%d", rf.prefix, rf.base+i)
}

var regFiles = map[string][2]regFile{
	"x86_64": {
		{names: []string{"rax", "rcx", "rdx", "rsi", "rdi", "r8", "r9", "r10", "r11", "rbx", "r12", "r13", "r14", "r15"}},
		{prefix: "xmm"},
	},
	"i686": {
		{names: []string{"eax", "ecx", "edx", "ebx", "esi", "edi"}},
		{prefix: "st"},
	},
	"aarch64": {{prefix: "x"}, {prefix: "d"}},
	"armv7":   {{prefix: "r"}, {prefix: "d"}},
	"riscv64": {{prefix: "x", base: 5}, {prefix: "f"}},
	"riscv32": {{prefix: "x", base: 5}, {prefix: "f"}},
}

func stackPointer(arch string) string {
	switch arch {
	case "x86_64":
		return "rsp"
	case "i686":
		return "esp"
	}
	return "sp"
}

type asmPrinter struct {
	tgt  *target.Target
	regs [2]regFile
	sp   string
	sb   strings.Builder
}

func newAsmPrinter(tgt *target.Target) *asmPrinter {
	rf, ok := regFiles[tgt.Arch.Name]
	if !ok {
		rf = [2]regFile{{prefix: "r"}, {prefix: "f"}}
	}
	return &asmPrinter{tgt: tgt, regs: rf, sp: stackPointer(tgt.Arch.Name)}
}

func (p *asmPrinter) header(source string) {
	fmt.Fprintf(&p.sb, "\t.file\t%q\n", source)
	fmt.Fprintf(&p.sb, "\t; target %s cpu %s\n", p.tgt.Triple, p.tgt.CPU)
	if feats := p.tgt.EnabledFeatures(); len(feats) > 0 {
		fmt.Fprintf(&p.sb, "\t; features %s\n", strings.Join(feats, ","))
	}
	fmt.Fprintf(&p.sb, "\t.text\n")
}

func (p *asmPrinter) slot(mf *MFunc, i int) string {
	if i < 0 || i >= len(mf.Slots) {
		fatal.Reportf("Asm printer: stack slot %d out of range in @%s", i, mf.Name)
	}
	return fmt.Sprintf("[%s, #%d]", p.sp, mf.Slots[i].Offset)
}

func (p *asmPrinter) reg(mf *MFunc, v VReg) string {
	if int(v) < 0 || int(v) >= len(mf.Phys) {
		fatal.Reportf("Asm printer: unknown virtual register %s in @%s", v, mf.Name)
	}
	if phys := mf.Phys[v]; phys >= 0 {
		return p.regs[mf.Classes[v]].name(phys)
	}
	if mf.Spill[v] >= 0 {
		return p.slot(mf, mf.Spill[v])
	}
	fatal.Reportf("Asm printer: unassigned virtual register %s in @%s", v, mf.Name)
	return ""
}

func (p *asmPrinter) operand(mf *MFunc, op MOperand) string {
	switch op.Kind {
	case MReg:
		return p.reg(mf, op.Reg)
	case MImm:
		return fmt.Sprintf("#%d", op.Imm)
	case MSlot:
		return p.slot(mf, op.Index)
	case MTarget:
		if op.Index < 0 || op.Index >= len(mf.Blocks) {
			fatal.Reportf("Asm printer: branch to missing block %d in @%s", op.Index, mf.Name)
		}
		return mf.Blocks[op.Index].Name
	case MSym:
		return op.Sym
	}
	fatal.Reportf("Asm printer: bad operand kind %d in @%s", op.Kind, mf.Name)
	return ""
}

func (p *asmPrinter) instr(mf *MFunc, mi *MInstr) {
	p.sb.WriteByte('\t')
	p.sb.WriteString(mi.Op)
	if mi.Cond != "" {
		p.sb.WriteByte('.')
		p.sb.WriteString(mi.Cond)
	}
	if mi.Width > 0 {
		fmt.Fprintf(&p.sb, ".%d", mi.Width)
	}
	ops := make([]string, 0, len(mi.Defs)+len(mi.Uses))
	for _, d := range mi.Defs {
		ops = append(ops, p.reg(mf, d))
	}
	for _, u := range mi.Uses {
		ops = append(ops, p.operand(mf, u))
	}
	if len(ops) > 0 {
		p.sb.WriteByte('\t')
		p.sb.WriteString(strings.Join(ops, ", "))
	}
	p.sb.WriteByte('\n')
}

func (p *asmPrinter) function(mf *MFunc) {
	fmt.Fprintf(&p.sb, "\t.globl\t%s\n", mf.Name)
	fmt.Fprintf(&p.sb, "\t.p2align\t2\n")
	fmt.Fprintf(&p.sb, "%s:\t\t\t\t# @%s\n", mf.Name, mf.Name)
	if mf.FrameSize > 0 {
		fmt.Fprintf(&p.sb, "\t# frame: %d bytes, %d slots\n", mf.FrameSize, len(mf.Slots))
	}
	for i, mb := range mf.Blocks {
		if i > 0 {
			fmt.Fprintf(&p.sb, "%s:\n", mb.Name)
		}
		for _, mi := range mb.Instrs {
			p.instr(mf, mi)
		}
	}
	fmt.Fprintf(&p.sb, ".Lfunc_end_%s:\n", mf.Name)
	fmt.Fprintf(&p.sb, "\t.size\t%s, .Lfunc_end_%s-%s\n", mf.Name, mf.Name, mf.Name)
	if len(mf.Pool) == 0 {
		return
	}
	fmt.Fprintf(&p.sb, "\t.section\t.rodata.cst8,\"aM\",@progbits,8\n")
	fmt.Fprintf(&p.sb, "\t.p2align\t3\n")
	for i, bits := range mf.Pool {
		fmt.Fprintf(&p.sb, ".LCPI_%s_%d:\n\t.quad\t0x%016x\n", mf.Name, i, bits)
	}
	fmt.Fprintf(&p.sb, "\t.text\n")
}

func (p *asmPrinter) String() string { return p.sb.String() }
