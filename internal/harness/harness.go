// Package harness exposes the fuzzing entry points: Initialize configures
// the target and the mutation engine once per process, CustomMutate
// rewrites an input in place and TestOneInput runs code generation on it.
//
// A code generator defect terminates the process through the fatal hook
// installed by Initialize so that the fuzzing driver records a crash.
package harness

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"iselfuzz/internal/codegen"
	"iselfuzz/internal/config"
	"iselfuzz/internal/fatal"
	"iselfuzz/internal/ir"
	"iselfuzz/internal/irpack"
	"iselfuzz/internal/mutate"
	"iselfuzz/internal/target"
	"iselfuzz/internal/trace"
)

// TrivialInputSize is the largest input treated as empty. Drivers hand
// such inputs over when the corpus is empty.
const TrivialInputSize = 1

// ringSize bounds the in-memory trace dumped by the fatal hook.
const ringSize = 1024

// ErrNoTriple reports a command line without -mtriple.
var ErrNoTriple = errors.New("-mtriple must be specified")

// Harness is the state shared by all entry point calls. It is read-only
// after Initialize and safe for concurrent use.
type Harness struct {
	tgt     *target.Target
	engine  *mutate.Engine
	tracer  trace.Tracer
	ownsTr  bool
	reg     *prometheus.Registry
	metrics *Metrics
	stderr  io.Writer
	diag    io.Writer
	onFatal func(msg string)
	abort   func()
	base    *config.Config
	cfg     config.Config
}

// Option configures Initialize.
type Option func(*Harness)

// WithConfig supplies settings that the -config file and flags override.
func WithConfig(c config.Config) Option {
	return func(h *Harness) { h.base = &c }
}

// WithDiagnostics redirects the diagnostics of rejected inputs. They go to
// stderr by default.
func WithDiagnostics(w io.Writer) Option {
	return func(h *Harness) { h.diag = w }
}

// WithTracer replaces the tracer built from the -trace flags.
func WithTracer(t trace.Tracer) Option {
	return func(h *Harness) { h.tracer = t }
}

// WithRegistry registers the harness metrics with reg instead of a private
// registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(h *Harness) { h.reg = reg }
}

// WithOnFatal runs fn from the fatal hook before the process aborts.
func WithOnFatal(fn func(msg string)) Option {
	return func(h *Harness) { h.onFatal = fn }
}

// WithAbort replaces the process abort performed by the fatal hook.
func WithAbort(fn func()) Option {
	return func(h *Harness) { h.abort = fn }
}

// Initialize parses argv, resolves the target, builds the mutation engine
// and installs the fatal hook. Errors are also written to stderr as
// "<argv0>: <message>".
func Initialize(args []string, stderr io.Writer, opts ...Option) (*Harness, error) {
	if stderr == nil {
		stderr = os.Stderr
	}
	argv0 := "iselfuzz"
	if len(args) > 0 {
		argv0 = args[0]
		args = args[1:]
	}
	h, err := initialize(argv0, args, stderr, opts)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", argv0, err)
		if errors.Is(err, pflag.ErrHelp) {
			fmt.Fprint(stderr, Usage())
		}
		return nil, err
	}
	return h, nil
}

// InitializeStatus is Initialize with the libFuzzer return convention:
// 0 on success, 1 on configuration errors.
func InitializeStatus(args []string, stderr io.Writer, opts ...Option) (*Harness, int) {
	h, err := Initialize(args, stderr, opts...)
	if err != nil {
		return nil, 1
	}
	return h, 0
}

func initialize(argv0 string, args []string, stderr io.Writer, opts []Option) (*Harness, error) {
	h := &Harness{stderr: stderr, abort: fatal.Abort}
	for _, opt := range opts {
		opt(h)
	}
	if h.diag == nil {
		h.diag = stderr
	}

	fv, fs, err := parseFlags(filepath.Base(argv0), harnessArgs(args))
	if err != nil {
		return nil, err
	}
	cfg, err := h.resolveConfig(fv, fs)
	if err != nil {
		return nil, err
	}
	h.cfg = cfg

	if cfg.Target.Triple == "" {
		return nil, ErrNoTriple
	}
	lvl, err := target.ParseOptLevel(cfg.Target.Opt)
	if err != nil {
		return nil, err
	}
	h.tgt, err = target.New(target.Config{
		Triple:   cfg.Target.Triple,
		Arch:     cfg.Target.Arch,
		CPU:      cfg.Target.CPU,
		Features: cfg.Target.Features,
		OptLevel: lvl,
	})
	if err != nil {
		return nil, err
	}
	for _, w := range h.tgt.Warnings {
		fmt.Fprintf(stderr, "%s: warning: %s\n", argv0, w)
	}

	if h.tracer == nil {
		if h.tracer, err = newTracer(fv); err != nil {
			return nil, err
		}
		h.ownsTr = true
	}

	types, err := mutate.ParseTypes(cfg.Mutator.Types)
	if err != nil {
		return nil, err
	}
	strategies, err := mutate.ParseStrategies(cfg.Mutator.Strategies, types)
	if err != nil {
		return nil, err
	}
	h.engine, err = mutate.NewEngine(types, strategies, mutate.WithTracer(h.tracer))
	if err != nil {
		return nil, err
	}

	if h.reg == nil {
		h.reg = prometheus.NewRegistry()
	}
	h.metrics = NewMetrics(h.reg)

	fatal.Install(h.handleFatal)
	return h, nil
}

// resolveConfig layers the -config file and the flags over the base
// settings.
func (h *Harness) resolveConfig(fv *flagValues, fs *pflag.FlagSet) (config.Config, error) {
	cfg := config.Default()
	if h.base != nil {
		cfg = *h.base
	}
	if fv.config != "" {
		loaded, err := config.Load(fv.config)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if fs.Changed("mtriple") {
		cfg.Target.Triple = fv.triple
	}
	if fs.Changed("O") || cfg.Target.Opt == "" {
		cfg.Target.Opt = fv.opt
	}
	if fs.Changed("mcpu") {
		cfg.Target.CPU = fv.cpu
	}
	if fs.Changed("mattr") {
		cfg.Target.Features = fv.attr
	}
	if fs.Changed("march") {
		cfg.Target.Arch = fv.march
	}
	return cfg, nil
}

func newTracer(fv *flagValues) (trace.Tracer, error) {
	level, err := trace.ParseLevel(fv.traceLevel)
	if err != nil {
		return nil, err
	}
	format, err := trace.ParseFormat(fv.traceFormat)
	if err != nil {
		return nil, err
	}
	var mode trace.StorageMode
	if fv.traceMode != "" {
		if mode, err = trace.ParseMode(fv.traceMode); err != nil {
			return nil, err
		}
	}
	return trace.New(trace.Config{
		Level:      level,
		Mode:       mode,
		Format:     format,
		OutputPath: fv.tracePath,
		RingSize:   ringSize,
	})
}

// Close flushes the tracer and removes the fatal hook.
func (h *Harness) Close() error {
	fatal.Install(nil)
	if h.ownsTr {
		return h.tracer.Close()
	}
	return nil
}

// Target returns the resolved target.
func (h *Harness) Target() *target.Target { return h.tgt }

// Engine returns the mutation engine.
func (h *Harness) Engine() *mutate.Engine { return h.engine }

// Config returns the effective settings.
func (h *Harness) Config() config.Config { return h.cfg }

// Tracer returns the harness tracer.
func (h *Harness) Tracer() trace.Tracer { return h.tracer }

// Registry returns the registry holding the harness metrics.
func (h *Harness) Registry() *prometheus.Registry { return h.reg }

// Metrics returns the harness counters.
func (h *Harness) Metrics() *Metrics { return h.metrics }

// CustomMutate decodes buf[:size], mutates it with seed and writes the
// result back into buf. It returns the new length, or 0 when the result
// does not fit into maxSize bytes. Undecodable input is replaced by a
// fresh module.
func (h *Harness) CustomMutate(buf []byte, size, maxSize int, seed uint32) int {
	span := trace.Begin(h.tracer, trace.ScopeDriver, "custom-mutate", 0)
	size = min(size, len(buf))
	var m *ir.Module
	if size > TrivialInputSize {
		m = h.decode(buf[:size], nil)
	}
	if m == nil {
		m = ir.NewModule("M")
	}

	res := h.engine.Mutate(m, seed, size, maxSize)
	strategy := res.Strategy
	if !res.Applied() {
		strategy = "none"
	}
	h.metrics.Mutations.WithLabelValues(strategy).Inc()
	if res.Synthesized {
		h.metrics.Synthesized.Inc()
	}

	n, err := irpack.EncodeInto(buf, m, maxSize)
	if err != nil {
		h.metrics.Oversize.Inc()
		span.End("oversize")
		return 0
	}
	span.End(fmt.Sprintf("%s %d bytes", strategy, n))
	return n
}

// TestOneInput compiles data for the harness target, discarding the
// output. It returns 1 when data is not a valid module and 0 otherwise.
func (h *Harness) TestOneInput(data []byte) int {
	if len(data) <= TrivialInputSize {
		h.metrics.Inputs.WithLabelValues(resultTrivial).Inc()
		return 0
	}
	span := trace.Begin(h.tracer, trace.ScopeDriver, "test-one-input", 0)
	m := h.decode(data, h.diag)
	if m == nil {
		fmt.Fprintln(h.diag, "error: input module is broken!")
		h.metrics.Inputs.WithLabelValues(resultRejected).Inc()
		span.End(resultRejected)
		return 1
	}

	m.TargetTriple = h.tgt.Triple
	m.DataLayout = h.tgt.DataLayout

	start := time.Now()
	p := codegen.New(h.tgt, io.Discard, codegen.WithTracer(h.tracer, span.ID()))
	if err := p.Run(m); err != nil {
		fatal.Reportf("%v", err)
	}
	h.metrics.ExecSeconds.Observe(time.Since(start).Seconds())
	h.metrics.recordCodegen(p.Stats())
	h.metrics.Inputs.WithLabelValues(resultCompiled).Inc()
	span.End(resultCompiled)
	return 0
}

// decode returns the verified module in data, or nil. Problems are written
// to diag when it is set.
func (h *Harness) decode(data []byte, diag io.Writer) *ir.Module {
	m, err := irpack.Decode(data)
	if err == nil {
		err = ir.Verify(m)
	}
	if err != nil {
		if diag != nil {
			fmt.Fprintln(diag, err)
		}
		return nil
	}
	return m
}

var fatalBanner = color.New(color.FgRed, color.Bold)

func (h *Harness) handleFatal(msg string) {
	fatalBanner.Fprint(h.stderr, "ISEL ERROR:")
	fmt.Fprintf(h.stderr, " %s\nAborting to trigger fuzzer exit handling.\n", msg)
	if ring := trace.Ring(h.tracer); ring != nil && ring.Len() > 0 {
		fmt.Fprintf(h.stderr, "--- last %d trace events ---\n", ring.Len())
		_ = ring.Dump(h.stderr, trace.FormatText)
	}
	if h.onFatal != nil {
		h.onFatal(msg)
	}
	h.abort()
}
