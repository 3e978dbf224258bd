package driver

import (
	"bytes"
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"iselfuzz/internal/harness"
	"iselfuzz/internal/irpack"
	"iselfuzz/internal/trace"
)

func newHarness(t *testing.T, d *Driver) *harness.Harness {
	t.Helper()
	var opts []harness.Option
	if d != nil {
		opts = append(opts, harness.WithOnFatal(d.HandleFatal))
	}
	var stderr bytes.Buffer
	h, err := harness.Initialize([]string{"iselfuzz", "--", "-mtriple=x86_64-linux-gnu", "-trace-level=off"}, &stderr, opts...)
	if err != nil {
		t.Fatalf("Initialize: %v\n%s", err, stderr.String())
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestCorpusDeduplicatesAndPersists(t *testing.T) {
	dir := t.TempDir()
	c, err := OpenCorpus(dir, 2)
	if err != nil {
		t.Fatal(err)
	}
	for i, tt := range []struct {
		data string
		want bool
	}{
		{"alpha", true},
		{"alpha", false},
		{"beta", true},
		{"gamma", false}, // over the limit
	} {
		got, err := c.Add([]byte(tt.data))
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Fatalf("step %d: Add(%q) = %v", i, tt.data, got)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, digestOf([]byte("alpha")).String())); err != nil {
		t.Fatalf("entry not written: %v", err)
	}

	again, err := OpenCorpus(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	if again.Len() != 2 {
		t.Fatalf("reloaded %d entries, want 2", again.Len())
	}
	buf := make([]byte, 16)
	n := again.Pick(rand.New(rand.NewSource(1)), buf)
	if s := string(buf[:n]); s != "alpha" && s != "beta" {
		t.Fatalf("Pick = %q", s)
	}
}

func TestEmptyCorpusPicksNothing(t *testing.T) {
	c, err := OpenCorpus("", 0)
	if err != nil {
		t.Fatal(err)
	}
	if n := c.Pick(rand.New(rand.NewSource(1)), make([]byte, 8)); n != 0 {
		t.Fatalf("Pick = %d", n)
	}
}

func TestCrashStoreRecordsMetadata(t *testing.T) {
	s, err := OpenCrashStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	path, err := s.Save([]byte("boom"), CrashMeta{Session: "s1", Worker: 3, Seed: 9, Message: "Cannot select"})
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "boom" {
		t.Fatalf("input = %q, %v", data, err)
	}
	meta, err := LoadCrashMeta(path)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Session != "s1" || meta.Worker != 3 || meta.Seed != 9 || meta.Message != "Cannot select" || meta.Schema != crashSchemaVersion {
		t.Fatalf("meta = %+v", meta)
	}
}

func TestRunStopsAfterRuns(t *testing.T) {
	progress := make(chan Stats, 4)
	d, err := New(Options{
		Workers:   3,
		Runs:      120,
		MaxLen:    2048,
		Seed:      1,
		CorpusDir: t.TempDir(),
		Progress:  progress,
		Interval:  time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}
	h := newHarness(t, d)
	s, err := d.Run(context.Background(), h)
	if err != nil {
		t.Fatal(err)
	}
	if s.Execs != 120 || !s.Done {
		t.Fatalf("stats = %+v", s)
	}
	if s.Accepted == 0 || s.Corpus == 0 {
		t.Fatalf("nothing accepted: %+v", s)
	}
	if s.Rejected != 0 {
		t.Fatalf("harness rejected its own mutations: %+v", s)
	}
	if s.Accepted+s.Empty != s.Execs {
		t.Fatalf("counters disagree: %+v", s)
	}
	last := <-progress
	if !last.Done || last.Session != d.Session() {
		t.Fatalf("final progress = %+v", last)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	d, err := New(Options{Workers: 2, MaxLen: 1024})
	if err != nil {
		t.Fatal(err)
	}
	h := newHarness(t, d)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s, err := d.Run(ctx, h)
	if err != nil {
		t.Fatalf("Run = %v", err)
	}
	if s.Execs == 0 {
		t.Fatalf("no iterations before cancellation")
	}
}

func TestNewRejectsTinyMaxLen(t *testing.T) {
	if _, err := New(Options{MaxLen: harness.TrivialInputSize}); err == nil {
		t.Fatalf("max length %d accepted", harness.TrivialInputSize)
	}
}

func TestHandleFatalSavesInflightInputs(t *testing.T) {
	dir := t.TempDir()
	d, err := New(Options{Workers: 2, MaxLen: 1024, CrashDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	d.h = newHarness(t, nil)

	buf := make([]byte, 1024)
	n := d.h.CustomMutate(buf, 0, len(buf), 4)
	d.slots[1].data = append([]byte(nil), buf[:n]...)
	d.slots[1].seed = 4
	d.slots[1].busy = true

	d.HandleFatal("Register allocation: %7 used before definition in @f")

	s := d.Stats()
	if s.Crashes != 1 || s.LastCrash == "" {
		t.Fatalf("stats = %+v", s)
	}
	data, err := os.ReadFile(s.LastCrash)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := irpack.Decode(data); err != nil {
		t.Fatalf("saved input does not decode: %v", err)
	}
	meta, err := LoadCrashMeta(s.LastCrash)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Worker != 1 || meta.Seed != 4 || meta.Session != d.Session() || meta.Triple != d.h.Target().Triple {
		t.Fatalf("meta = %+v", meta)
	}
}

func TestPanicDuringExecutionSavesInput(t *testing.T) {
	dir := t.TempDir()
	d, err := New(Options{Workers: 1, MaxLen: 1024, CrashDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	d.h = newHarness(t, nil)
	d.test = func([]byte) int { panic("index out of range [3] with length 3") }

	buf := make([]byte, 1024)
	n := d.h.CustomMutate(buf, 0, len(buf), 11)

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Fatalf("panic was swallowed")
			}
		}()
		d.execute(0, buf[:n], 11)
	}()

	s := d.Stats()
	if s.Crashes != 1 || s.LastCrash == "" {
		t.Fatalf("stats = %+v", s)
	}
	data, err := os.ReadFile(s.LastCrash)
	if err != nil || !bytes.Equal(data, buf[:n]) {
		t.Fatalf("saved input = %x, %v", data, err)
	}
	meta, err := LoadCrashMeta(s.LastCrash)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Seed != 11 || meta.Message != "panic: index out of range [3] with length 3" {
		t.Fatalf("meta = %+v", meta)
	}
}

func TestWorkerSpansNestUnderRun(t *testing.T) {
	ring := trace.NewRingTracer(4096, trace.LevelPhase)
	h, err := harness.Initialize([]string{"iselfuzz", "--", "-mtriple=riscv64-linux-gnu"}, &bytes.Buffer{}, harness.WithTracer(ring))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = h.Close() })

	d, err := New(Options{Workers: 2, Runs: 6, MaxLen: 2048})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Run(context.Background(), h); err != nil {
		t.Fatal(err)
	}

	var run uint64
	workers := make(map[string]uint64)
	for _, ev := range ring.Snapshot() {
		if ev.Kind != trace.KindSpanBegin {
			continue
		}
		switch ev.Name {
		case "fuzz":
			run = ev.SpanID
		case "worker-0", "worker-1":
			workers[ev.Name] = ev.ParentID
		}
	}
	if run == 0 || len(workers) != 2 {
		t.Fatalf("run span %d, worker spans %v", run, workers)
	}
	for name, parent := range workers {
		if parent != run {
			t.Errorf("%s parent = %d, want %d", name, parent, run)
		}
	}
}
