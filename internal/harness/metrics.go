package harness

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"iselfuzz/internal/codegen"
)

const namespace = "iselfuzz"

// Input outcomes recorded by TestOneInput.
const (
	resultTrivial  = "trivial"
	resultRejected = "rejected"
	resultCompiled = "compiled"
)

// Metrics are the harness counters. All fields are safe for concurrent use.
type Metrics struct {
	Mutations   *prometheus.CounterVec
	Synthesized prometheus.Counter
	Oversize    prometheus.Counter
	Inputs      *prometheus.CounterVec
	Functions   prometheus.Counter
	MInstrs     prometheus.Counter
	Libcalls    prometheus.Counter
	Spills      prometheus.Counter
	ExecSeconds prometheus.Histogram
}

// NewMetrics creates the harness metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Mutations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Mutation calls by the strategy that applied (none when all declined).",
		}, []string{"strategy"}),
		Synthesized: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesized_total",
			Help:      "Empty modules that received a stub function.",
		}),
		Oversize: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_oversize_total",
			Help:      "Mutated modules dropped because their encoding exceeded the size limit.",
		}),
		Inputs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inputs_total",
			Help:      "Executed inputs by outcome.",
		}, []string{"result"}),
		Functions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "codegen",
			Name:      "functions_total",
			Help:      "Functions compiled.",
		}),
		MInstrs: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "codegen",
			Name:      "machine_instructions_total",
			Help:      "Machine instructions emitted.",
		}),
		Libcalls: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "codegen",
			Name:      "libcalls_total",
			Help:      "Operations lowered to runtime library calls.",
		}),
		Spills: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "codegen",
			Name:      "spills_total",
			Help:      "Virtual registers assigned to stack slots.",
		}),
		ExecSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "exec_seconds",
			Help:      "Time spent compiling one accepted input.",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 10),
		}),
	}
}

func (m *Metrics) recordCodegen(s codegen.Stats) {
	m.Functions.Add(float64(s.Funcs))
	m.MInstrs.Add(float64(s.MInstrs))
	m.Libcalls.Add(float64(s.Libcalls))
	m.Spills.Add(float64(s.Spills))
}
