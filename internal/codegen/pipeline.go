// Package codegen lowers verified IR modules to target assembly through
// legalization, instruction selection, register allocation and frame
// lowering. Internal invariant violations are reported through the fatal
// package; they indicate a code generator defect, never bad input.
package codegen

import (
	"fmt"
	"io"
	"strconv"

	"iselfuzz/internal/fatal"
	"iselfuzz/internal/ir"
	"iselfuzz/internal/observ"
	"iselfuzz/internal/target"
	"iselfuzz/internal/trace"
)

// Stats summarizes one Run.
type Stats struct {
	Funcs      int
	Selected   int // IR instructions selected
	MInstrs    int // machine instructions emitted
	Libcalls   int
	Spills     int
	FrameBytes int
	Actions    [4]int // legalization actions, indexed by Action
}

// Pipeline runs code generation for one target. A Pipeline is not safe for
// concurrent use; build one per module.
type Pipeline struct {
	tgt    *target.Target
	out    io.Writer
	tracer trace.Tracer
	timer  *observ.Timer
	parent uint64
	stats  Stats
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTracer records pass spans to t.
func WithTracer(t trace.Tracer, parent uint64) Option {
	return func(p *Pipeline) {
		p.tracer = t
		p.parent = parent
	}
}

// WithTimer records pass durations to t.
func WithTimer(t *observ.Timer) Option {
	return func(p *Pipeline) { p.timer = t }
}

// New binds a pipeline to tgt writing assembly to out.
func New(tgt *target.Target, out io.Writer, opts ...Option) *Pipeline {
	if out == nil {
		out = io.Discard
	}
	p := &Pipeline{tgt: tgt, out: out, tracer: trace.Nop}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Stats returns the counters accumulated by Run.
func (p *Pipeline) Stats() Stats { return p.stats }

func (p *Pipeline) pass(name, fname string, parent uint64, fn func() string) {
	span := trace.Begin(p.tracer, trace.ScopePass, name, parent)
	idx := -1
	if p.timer != nil {
		idx = p.timer.Begin(name, fname)
	}
	note := fn()
	if p.timer != nil {
		p.timer.End(idx, note)
	}
	span.End(note)
}

// Run compiles every defined function of m. The module must verify.
func (p *Pipeline) Run(m *ir.Module) error {
	if p.tgt == nil {
		fatal.Reportf("codegen: pipeline has no target")
	}
	span := trace.Begin(p.tracer, trace.ScopeModule, "codegen", p.parent)
	defer span.End("")
	span.WithExtra("target", p.tgt.String())

	asm := newAsmPrinter(p.tgt)
	asm.header(m.Name)
	for _, f := range m.Funcs {
		if f == nil || len(f.Blocks) == 0 {
			continue
		}
		p.runFunc(asm, f, span.ID())
		p.stats.Funcs++
	}

	var err error
	p.pass("asm-emit", "", span.ID(), func() string {
		var n int
		n, err = io.WriteString(p.out, asm.String())
		return strconv.Itoa(n) + " bytes"
	})
	if err != nil {
		span.Fail("asm-emit", err)
		return fmt.Errorf("emit %s: %w", m.Name, err)
	}
	return nil
}

func (p *Pipeline) runFunc(asm *asmPrinter, f *ir.Func, parent uint64) {
	span := trace.Begin(p.tracer, trace.ScopeModule, "@"+f.Name, parent)
	defer span.End("")
	id := span.ID()

	types := collectTypes(f)
	var plan map[*ir.Instr]Action
	p.pass("legalize", f.Name, id, func() string {
		var st legalizeStats
		plan, st = planFunc(p.tgt, f, types)
		for i, n := range st {
			p.stats.Actions[i] += n
		}
		return fmt.Sprintf("promote=%d expand=%d libcall=%d", st[ActPromote], st[ActExpand], st[ActLibcall])
	})

	var mf *MFunc
	p.pass("isel", f.Name, id, func() string {
		var sel *selector
		mf, sel = selectFunc(p.tgt, f, plan, types)
		p.stats.Selected += sel.selected
		p.stats.Libcalls += sel.libcalls
		return fmt.Sprintf("%d minstrs", mf.NumInstrs())
	})

	p.pass("regalloc", f.Name, id, func() string {
		n := allocateRegisters(p.tgt, mf)
		p.stats.Spills += n
		return fmt.Sprintf("%d vregs, %d spills", len(mf.Classes), n)
	})

	p.pass("prologepilog", f.Name, id, func() string {
		lowerFrame(p.tgt, mf)
		p.stats.FrameBytes += mf.FrameSize
		return fmt.Sprintf("%d bytes", mf.FrameSize)
	})

	p.pass("asm-printer", f.Name, id, func() string {
		asm.function(mf)
		p.stats.MInstrs += mf.NumInstrs()
		return ""
	})
}
