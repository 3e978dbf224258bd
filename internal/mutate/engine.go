// Package mutate implements structure-aware mutation of IR modules. An
// Engine picks a function and a weighted strategy per call; strategies
// only make edits that keep the module verifiable.
package mutate

import (
	"errors"
	"fmt"

	"iselfuzz/internal/ir"
	"iselfuzz/internal/irpack"
	"iselfuzz/internal/trace"
)

// DefaultTypeNames is the default type palette.
var DefaultTypeNames = []string{"i1", "i8", "i16", "i32", "i64", "float", "double"}

// DefaultTypes returns the default type palette.
func DefaultTypes() []ir.Type {
	return []ir.Type{ir.I1, ir.I8, ir.I16, ir.I32, ir.I64, ir.Float, ir.Double}
}

// ParseTypes resolves a palette from type names. Only scalar types are
// accepted.
func ParseTypes(names []string) ([]ir.Type, error) {
	out := make([]ir.Type, 0, len(names))
	for _, name := range names {
		t, err := ir.ParseType(name)
		if err != nil {
			return nil, err
		}
		if !t.IsScalar() {
			return nil, fmt.Errorf("type %s cannot be part of the palette", t)
		}
		out = append(out, t)
	}
	return out, nil
}

// Engine applies strategies to modules. It holds no per-call state and may
// be shared between goroutines as long as each call owns its module.
type Engine struct {
	types      []ir.Type
	strategies []Strategy
	measure    func(*ir.Module) int
	tracer     trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithTracer records strategy application to t.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithMeasure replaces the encoded size function used by the budget.
func WithMeasure(fn func(*ir.Module) int) Option {
	return func(e *Engine) { e.measure = fn }
}

// NewEngine builds an engine over a type palette and an ordered strategy
// set.
func NewEngine(types []ir.Type, strategies []Strategy, opts ...Option) (*Engine, error) {
	if len(types) == 0 {
		return nil, errors.New("mutate: empty type palette")
	}
	for _, t := range types {
		if !t.IsScalar() {
			return nil, fmt.Errorf("mutate: type %s cannot be part of the palette", t)
		}
	}
	if len(strategies) == 0 {
		return nil, errors.New("mutate: no strategies")
	}
	e := &Engine{
		types:      append([]ir.Type(nil), types...),
		strategies: append([]Strategy(nil), strategies...),
		measure:    irpack.EncodedSize,
		tracer:     trace.Nop,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Types returns the palette.
func (e *Engine) Types() []ir.Type { return e.types }

// Strategies returns the strategy set in order.
func (e *Engine) Strategies() []Strategy { return e.strategies }

// Result describes one Mutate call.
type Result struct {
	Synthesized bool   // the module was empty and received a stub function
	Func        string // function the strategies were applied to
	Strategy    string // strategy that succeeded, empty when all declined
}

// Applied reports whether a strategy changed the module.
func (r Result) Applied() bool { return r.Strategy != "" }

// Synthesize adds the minimal function "define void @f() { BB: ret void }".
// A numeric suffix keeps the name unique next to existing declarations.
func Synthesize(m *ir.Module) *ir.Func {
	name := "f"
	for i := 1; m.Func(name) != nil; i++ {
		name = fmt.Sprintf("f%d", i)
	}
	f := m.AddFunc(ir.NewFunc(name, ir.Void))
	f.AddBlock("BB")
	f.Blocks[0].Instrs = []*ir.Instr{{ID: ir.NoValueID, Op: ir.OpRet}}
	return f
}

// Mutate edits m in place. seed drives every random choice; curSize is the
// encoded size of the input and maxSize the limit for the result.
func (e *Engine) Mutate(m *ir.Module, seed uint32, curSize, maxSize int) Result {
	span := trace.Begin(e.tracer, trace.ScopeModule, "mutate", 0)
	var res Result
	defer func() {
		span.End(res.Strategy)
	}()

	r := NewRandGen(seed)
	if m.Empty() {
		Synthesize(m)
		res.Synthesized = true
	}

	var funcs []*ir.Func
	for _, f := range m.Funcs {
		if f != nil && len(f.Blocks) > 0 {
			funcs = append(funcs, f)
		}
	}
	f := funcs[r.rand(len(funcs))]
	res.Func = f.Name

	budget := &Budget{Max: maxSize}
	if e.measure != nil {
		budget.Measure = func() int { return e.measure(m) }
	}

	for _, i := range e.order(r, curSize, maxSize) {
		s := e.strategies[i]
		if s.Mutate(f, r, budget) {
			res.Strategy = s.Name()
			span.Point(trace.ScopeNode, s.Name(), fmt.Sprintf("@%s: %d instrs", f.Name, m.InstrCount()))
			return res
		}
		span.Point(trace.ScopeNode, s.Name(), "declined")
	}
	return res
}

// order returns the strategies to try: the weighted pick first, then the
// remaining strategies with nonzero weight in set order.
func (e *Engine) order(r *RandGen, curSize, maxSize int) []int {
	weights := make([]uint64, len(e.strategies))
	var total uint64
	for i, s := range e.strategies {
		weights[i] = s.Weight(curSize, maxSize, total)
		total += weights[i]
	}
	first := r.pick(weights)
	if first < 0 {
		return nil
	}
	out := []int{first}
	for i, w := range weights {
		if i != first && w > 0 {
			out = append(out, i)
		}
	}
	return out
}
