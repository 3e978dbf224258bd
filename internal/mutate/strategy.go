package mutate

import (
	"fmt"
	"strings"

	"iselfuzz/internal/ir"
)

// Budget bounds the encoded size of the module being mutated.
type Budget struct {
	Max     int
	Measure func() int
}

// Allows reports whether the module currently fits the budget. A budget
// without a limit or a measure allows everything.
func (b *Budget) Allows() bool {
	if b == nil || b.Max <= 0 || b.Measure == nil {
		return true
	}
	return b.Measure() <= b.Max
}

// Strategy is one way of editing a function. Mutate reports whether it
// changed f; a strategy that declines leaves f untouched. A successful
// edit keeps the module verifiable.
type Strategy interface {
	Name() string
	// Weight returns the selection weight given the encoded size of the
	// input, the size limit and the weight of strategies ranked before it.
	Weight(curSize, maxSize int, totalWeight uint64) uint64
	Mutate(f *ir.Func, r *RandGen, b *Budget) bool
}

// Strategy names accepted by ParseStrategies.
const (
	StrategyInject = "inject"
	StrategyDelete = "delete"
)

// ParseStrategies builds strategies from their names.
func ParseStrategies(names []string, types []ir.Type) ([]Strategy, error) {
	var out []Strategy
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case StrategyInject:
			out = append(out, NewInjector(types, DefaultCatalog()))
		case StrategyDelete:
			out = append(out, NewDeleter())
		default:
			return nil, fmt.Errorf("unknown mutation strategy %q", name)
		}
	}
	return out, nil
}

// DefaultStrategies returns an injector over the full catalog followed by
// a deleter.
func DefaultStrategies(types []ir.Type) []Strategy {
	return []Strategy{NewInjector(types, DefaultCatalog()), NewDeleter()}
}
