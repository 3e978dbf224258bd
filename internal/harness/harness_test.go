package harness

import (
	"bytes"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"iselfuzz/internal/fatal"
	"iselfuzz/internal/ir"
	"iselfuzz/internal/irpack"
	"iselfuzz/internal/target"
	"iselfuzz/internal/trace"
)

type abortPanic struct{}

func newHarness(t *testing.T, extra []string, opts ...Option) (*Harness, *bytes.Buffer) {
	t.Helper()
	var stderr bytes.Buffer
	args := append([]string{"iselfuzz", "-runs=10", IgnoreRemainingArgs}, extra...)
	opts = append([]Option{WithAbort(func() { panic(abortPanic{}) })}, opts...)
	h, err := Initialize(args, &stderr, opts...)
	if err != nil {
		t.Fatalf("Initialize: %v\n%s", err, stderr.String())
	}
	t.Cleanup(func() { _ = h.Close() })
	return h, &stderr
}

func TestInitializeParsesArgsAfterSeparator(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
		opt  target.OptLevel
	}{
		{"ignore_remaining_args", []string{"fuzzer", "-max_len=64", IgnoreRemainingArgs, "-mtriple=aarch64-linux-gnu", "-O1"}, "aarch64-unknown-linux-gnu", target.OptLess},
		{"double dash", []string{"fuzzer", "--", "-mtriple", "x86_64-linux-gnu", "-O", "0"}, "x86_64-unknown-linux-gnu", target.OptNone},
		{"default opt", []string{"fuzzer", "--", "--mtriple=riscv64-unknown-elf"}, "riscv64-unknown-unknown-elf", target.OptDefault},
		{"march", []string{"fuzzer", "--", "-mtriple=x86_64-linux-gnu", "-march=aarch64"}, "aarch64-unknown-linux-gnu", target.OptDefault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr bytes.Buffer
			h, err := Initialize(tt.args, &stderr)
			if err != nil {
				t.Fatalf("Initialize: %v", err)
			}
			defer h.Close()
			tgt := h.Target()
			if tgt.Triple != target.Normalize(tt.want) || tgt.OptLevel != tt.opt {
				t.Fatalf("target = %s %s, want %s %s", tgt.Triple, tgt.OptLevel, target.Normalize(tt.want), tt.opt)
			}
			if !fatal.Installed() {
				t.Fatalf("fatal hook not installed")
			}
		})
	}
}

func TestInitializeErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
		is   error
	}{
		{"no separator", []string{"fuzzer", "-mtriple=x86_64-linux-gnu"}, "fuzzer: -mtriple must be specified", ErrNoTriple},
		{"no triple", []string{"fuzzer", IgnoreRemainingArgs, "-O2"}, "fuzzer: -mtriple must be specified", ErrNoTriple},
		{"bad opt", []string{"fuzzer", "--", "-mtriple=x86_64", "-O7"}, "invalid optimization level", target.ErrBadOptLevel},
		{"unknown target", []string{"fuzzer", "--", "-mtriple=mips-linux-gnu"}, "no available targets", target.ErrUnknownTarget},
		{"unknown flag", []string{"fuzzer", "--", "-mtriple=x86_64", "-fast-isel"}, "unknown flag", nil},
		{"positional", []string{"fuzzer", "--", "-mtriple=x86_64", "corpus"}, "unexpected argument", nil},
		{"bad trace format", []string{"fuzzer", "--", "-mtriple=x86_64", "-trace-format=xml"}, "invalid trace format", nil},
		{"bad trace mode", []string{"fuzzer", "--", "-mtriple=x86_64", "-trace-mode=disk"}, "invalid storage mode", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr bytes.Buffer
			h, status := InitializeStatus(tt.args, &stderr)
			if h != nil || status != 1 {
				t.Fatalf("InitializeStatus = %v, %d", h, status)
			}
			if !strings.Contains(stderr.String(), tt.want) {
				t.Fatalf("stderr = %q, want %q", stderr.String(), tt.want)
			}
			if tt.is != nil {
				if _, err := Initialize(tt.args, &bytes.Buffer{}); !errors.Is(err, tt.is) {
					t.Fatalf("error = %v, want %v", err, tt.is)
				}
			}
		})
	}
}

func TestTraceFlagsSelectStreamOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	h, _ := newHarness(t, []string{"-mtriple=x86_64-linux-gnu", "-trace=" + path, "-trace-mode=stream", "-trace-format=ndjson"})
	if trace.Ring(h.Tracer()) != nil {
		t.Fatalf("stream mode kept a ring buffer")
	}
	buf := make([]byte, 4096)
	n := h.CustomMutate(buf, 0, len(buf), 1)
	h.TestOneInput(buf[:n])
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	first, _, _ := strings.Cut(string(data), "\n")
	if !strings.HasPrefix(first, "{") || !strings.Contains(string(data), "test-one-input") {
		t.Fatalf("trace output is not ndjson:\n%s", data)
	}
}

func TestInitializeWarnsAboutUnknownCPU(t *testing.T) {
	_, stderr := newHarness(t, []string{"-mtriple=x86_64-linux-gnu", "-mcpu=pentium9", "-mattr=+nosuch"})
	out := stderr.String()
	if !strings.Contains(out, "'pentium9' is not a recognized processor") || !strings.Contains(out, "'nosuch' is not a recognized feature") {
		t.Fatalf("stderr = %q", out)
	}
}

func TestConfigFileAndFlagPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iselfuzz.toml")
	body := "[target]\ntriple = \"armv7-linux-gnueabihf\"\nopt = \"3\"\n[mutator]\ntypes = [\"i32\"]\nstrategies = [\"inject\"]\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	h, _ := newHarness(t, []string{"-config=" + path, "-O1"})
	if h.Target().Arch.Name != "armv7" || h.Target().OptLevel != target.OptLess {
		t.Fatalf("target = %s", h.Target())
	}
	if got := h.Engine().Types(); len(got) != 1 || got[0] != ir.I32 {
		t.Fatalf("palette = %v", got)
	}
	if got := h.Engine().Strategies(); len(got) != 1 {
		t.Fatalf("strategies = %d", len(got))
	}
}

func TestTestOneInputEmptyIsNeutral(t *testing.T) {
	h, stderr := newHarness(t, []string{"-mtriple=x86_64-linux-gnu"})
	for _, in := range [][]byte{nil, {}, {0xff}} {
		if got := h.TestOneInput(in); got != 0 {
			t.Fatalf("TestOneInput(%x) = %d", in, got)
		}
	}
	if stderr.Len() != 0 {
		t.Fatalf("trivial inputs printed %q", stderr.String())
	}
	if got := testutil.ToFloat64(h.Metrics().Inputs.WithLabelValues(resultTrivial)); got != 3 {
		t.Fatalf("trivial inputs counted %v", got)
	}
}

func TestCustomMutateFromTrivialInput(t *testing.T) {
	h, _ := newHarness(t, []string{"-mtriple=x86_64-linux-gnu"})
	buf := make([]byte, 4096)
	n := h.CustomMutate(buf, 1, len(buf), 17)
	if n == 0 {
		t.Fatalf("CustomMutate returned 0")
	}
	m, err := irpack.Decode(buf[:n])
	if err != nil {
		t.Fatal(err)
	}
	if err := ir.Verify(m); err != nil {
		t.Fatal(err)
	}
	if m.Name != "M" || len(m.Funcs) != 1 || m.InstrCount() != 2 {
		t.Fatalf("unexpected module:\n%s", m)
	}
	if got := h.TestOneInput(buf[:n]); got != 0 {
		t.Fatalf("TestOneInput on mutated module = %d", got)
	}
}

func TestCustomMutateIsDeterministic(t *testing.T) {
	h, _ := newHarness(t, []string{"-mtriple=aarch64-linux-gnu"})
	run := func() []byte {
		buf := make([]byte, 4096)
		n := 1
		for seed := uint32(0); seed < 30; seed++ {
			if next := h.CustomMutate(buf, n, len(buf), seed); next > 0 {
				n = next
			}
		}
		return append([]byte(nil), buf[:n]...)
	}
	if a, b := run(), run(); !bytes.Equal(a, b) {
		t.Fatalf("same seeds produced different inputs")
	}
}

func TestCustomMutateRespectsMaxSize(t *testing.T) {
	h, _ := newHarness(t, []string{"-mtriple=x86_64-linux-gnu"})
	buf := make([]byte, 8192)
	n := 1
	for seed := uint32(0); seed < 200; seed++ {
		next := h.CustomMutate(buf, n, 512, seed)
		if next > 512 {
			t.Fatalf("seed %d: wrote %d bytes, limit 512", seed, next)
		}
		if next > 0 {
			n = next
		}
	}

	// A module that cannot shrink below the limit yields 0.
	data, err := irpack.Encode(growModule(t, h, 40))
	if err != nil {
		t.Fatal(err)
	}
	copy(buf, data)
	if got := h.CustomMutate(buf, len(data), 16, 3); got != 0 {
		t.Fatalf("CustomMutate over a 16 byte limit = %d", got)
	}
	if testutil.ToFloat64(h.Metrics().Oversize) == 0 {
		t.Fatalf("oversize result not counted")
	}
}

func TestCustomMutateReplacesUndecodableInput(t *testing.T) {
	h, _ := newHarness(t, []string{"-mtriple=x86_64-linux-gnu"})
	buf := make([]byte, 4096)
	copy(buf, "definitely not a module")
	n := h.CustomMutate(buf, 23, len(buf), 5)
	if n == 0 {
		t.Fatalf("CustomMutate returned 0")
	}
	if _, err := irpack.Decode(buf[:n]); err != nil {
		t.Fatalf("result does not decode: %v", err)
	}
}

func TestTestOneInputRejectsNoise(t *testing.T) {
	var diag bytes.Buffer
	h, _ := newHarness(t, []string{"-mtriple=x86_64-linux-gnu"}, WithDiagnostics(&diag))
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		data := make([]byte, 2+rng.Intn(64))
		rng.Read(data)
		if i%2 == 0 {
			copy(data, irpack.Magic)
		}
		if got := h.TestOneInput(data); got != 1 {
			t.Fatalf("noise %x accepted with %d", data, got)
		}
	}
	if !strings.Contains(diag.String(), "error: input module is broken!") {
		t.Fatalf("diagnostics = %q", diag.String())
	}
}

func TestTestOneInputRejectsUnverifiedModule(t *testing.T) {
	var diag bytes.Buffer
	h, _ := newHarness(t, []string{"-mtriple=x86_64-linux-gnu"}, WithDiagnostics(&diag))
	m := ir.NewModule("M")
	f := m.AddFunc(ir.NewFunc("f", ir.I32))
	f.AddBlock("entry")
	f.Blocks[0].Instrs = []*ir.Instr{{ID: ir.NoValueID, Op: ir.OpRet}}
	data, err := irpack.Encode(m)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if got := h.TestOneInput(data); got != 1 {
			t.Fatalf("call %d: TestOneInput = %d", i, got)
		}
	}
	if got := strings.Count(diag.String(), "error: input module is broken!"); got != 2 {
		t.Fatalf("diagnostics = %q", diag.String())
	}
}

// growModule applies n mutations to an empty module.
func growModule(t *testing.T, h *Harness, n int) *ir.Module {
	t.Helper()
	m := ir.NewModule("M")
	for i := 0; i < n; i++ {
		h.Engine().Mutate(m, uint32(i), irpack.EncodedSize(m), 1<<16)
	}
	return m
}

func TestMutatedInputsCompileOnEveryTarget(t *testing.T) {
	triples := []string{
		"x86_64-unknown-linux-gnu",
		"i686-pc-linux-gnu",
		"aarch64-unknown-linux-gnu",
		"armv7-unknown-linux-gnueabihf",
		"riscv64-unknown-elf",
	}
	for _, triple := range triples {
		t.Run(triple, func(t *testing.T) {
			h, _ := newHarness(t, []string{"-mtriple=" + triple, "-trace-level=off"})
			buf := make([]byte, 1<<14)
			n := 1
			for seed := uint32(0); seed < 150; seed++ {
				next := h.CustomMutate(buf, n, len(buf), seed*7919)
				if next == 0 {
					continue
				}
				n = next
				if got := h.TestOneInput(buf[:n]); got != 0 {
					t.Fatalf("seed %d: valid mutation rejected", seed)
				}
			}
			if testutil.ToFloat64(h.Metrics().Inputs.WithLabelValues(resultCompiled)) == 0 {
				t.Fatalf("nothing compiled")
			}
		})
	}
}

func TestFatalHookReportsAndAborts(t *testing.T) {
	color.NoColor = true
	var saved string
	h, stderr := newHarness(t, []string{"-mtriple=x86_64-linux-gnu", "-trace-level=phase"},
		WithOnFatal(func(msg string) { saved = msg }))
	h.TestOneInput(mustEncode(t, trivialFunc()))

	aborted := false
	func() {
		defer func() {
			if _, ok := recover().(abortPanic); ok {
				aborted = true
			}
		}()
		fatal.Reportf("Cannot select: %s", "t3: i64 = frob t1")
	}()
	if !aborted {
		t.Fatalf("fatal hook did not abort")
	}
	if saved != "Cannot select: t3: i64 = frob t1" {
		t.Fatalf("OnFatal got %q", saved)
	}
	out := stderr.String()
	if !strings.Contains(out, "ISEL ERROR: Cannot select: t3: i64 = frob t1\nAborting to trigger fuzzer exit handling.\n") {
		t.Fatalf("stderr = %q", out)
	}
	if !strings.Contains(out, "trace events") || !strings.Contains(out, "isel") {
		t.Fatalf("trace ring not dumped: %q", out)
	}
}

func TestCloseRemovesFatalHook(t *testing.T) {
	var stderr bytes.Buffer
	h, err := Initialize([]string{"x", "--", "-mtriple=x86_64"}, &stderr)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	if fatal.Installed() {
		t.Fatalf("hook still installed after Close")
	}
}

func TestHarnessTracesEntryPoints(t *testing.T) {
	ring := trace.NewRingTracer(256, trace.LevelDetail)
	h, _ := newHarness(t, []string{"-mtriple=x86_64-linux-gnu"}, WithTracer(ring))
	buf := make([]byte, 1024)
	n := h.CustomMutate(buf, 0, len(buf), 1)
	h.TestOneInput(buf[:n])
	seen := map[string]bool{}
	for _, ev := range ring.Snapshot() {
		seen[ev.Name] = true
	}
	for _, name := range []string{"custom-mutate", "mutate", "test-one-input", "codegen", "regalloc"} {
		if !seen[name] {
			t.Errorf("no %q event in trace", name)
		}
	}
}

func TestNormalizeArgs(t *testing.T) {
	got := strings.Join(normalizeArgs([]string{"-mtriple=x", "-O3", "-O", "2", "--mcpu=y", "-", "file"}), " ")
	want := "--mtriple=x --O=3 --O 2 --mcpu=y - file"
	if got != want {
		t.Fatalf("normalizeArgs = %q, want %q", got, want)
	}
	if got := harnessArgs([]string{"-a", "--", "-b", IgnoreRemainingArgs, "-c"}); len(got) != 1 || got[0] != "-c" {
		t.Fatalf("harnessArgs = %v", got)
	}
}

func trivialFunc() *ir.Module {
	m := ir.NewModule("M")
	f := m.AddFunc(ir.NewFunc("f", ir.I32, ir.I32))
	f.AddBlock("entry")
	f.Blocks[0].Instrs = []*ir.Instr{
		{ID: 0, Op: ir.OpAdd, Type: ir.I32, Operands: []ir.Operand{ir.ParamOperand(0), ir.ConstOperand(ir.IntConst(ir.I32, 1))}},
		{ID: ir.NoValueID, Op: ir.OpRet, Operands: []ir.Operand{ir.ValueOperand(0)}},
	}
	return m
}

func mustEncode(t *testing.T, m *ir.Module) []byte {
	t.Helper()
	data, err := irpack.Encode(m)
	if err != nil {
		t.Fatal(err)
	}
	return data
}
