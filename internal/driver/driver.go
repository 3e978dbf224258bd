// Package driver runs the harness without libFuzzer: parallel workers pick
// inputs from the corpus, mutate them with CustomMutate and execute the
// results with TestOneInput. Accepted inputs grow the corpus; inputs that
// crash the code generator are saved before the process aborts.
package driver

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"iselfuzz/internal/harness"
	"iselfuzz/internal/trace"
)

// Options configures a Driver.
type Options struct {
	Workers     int
	Runs        int64 // iterations before stopping; 0 runs until cancelled
	MaxLen      int
	Seed        int64
	CorpusDir   string
	CorpusLimit int
	CrashDir    string
	MetricsAddr string
	Heartbeat   time.Duration

	// Progress receives periodic snapshots. Sends never block.
	Progress chan<- Stats
	Interval time.Duration
}

// Stats is a snapshot of a run.
type Stats struct {
	Session   string
	Execs     int64 // iterations, including Empty ones
	Accepted  int64
	Rejected  int64
	Empty     int64 // mutations that produced no input
	Corpus    int
	Crashes   int64
	Elapsed   time.Duration
	Done      bool
	LastCrash string
}

// ExecsPerSec returns the average execution rate.
func (s Stats) ExecsPerSec() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Execs) / s.Elapsed.Seconds()
}

type inflight struct {
	mu   sync.Mutex
	data []byte
	seed uint32
	busy bool
}

// Driver owns the corpus and crash store of one run.
type Driver struct {
	opts    Options
	session string
	corpus  *Corpus
	crashes *CrashStore
	h       *harness.Harness
	test    func([]byte) int
	slots   []inflight
	start   time.Time

	execs    atomic.Int64
	accepted atomic.Int64
	rejected atomic.Int64
	empty    atomic.Int64
	crashed  atomic.Int64

	lastMu    sync.Mutex
	lastCrash string
}

// New opens the corpus and crash directories.
func New(opts Options) (*Driver, error) {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.MaxLen <= harness.TrivialInputSize {
		return nil, fmt.Errorf("max length must exceed %d, got %d", harness.TrivialInputSize, opts.MaxLen)
	}
	if opts.Interval <= 0 {
		opts.Interval = 250 * time.Millisecond
	}
	corpus, err := OpenCorpus(opts.CorpusDir, opts.CorpusLimit)
	if err != nil {
		return nil, err
	}
	var crashes *CrashStore
	if opts.CrashDir != "" {
		if crashes, err = OpenCrashStore(opts.CrashDir); err != nil {
			return nil, err
		}
	}
	return &Driver{
		opts:    opts,
		session: uuid.NewString(),
		corpus:  corpus,
		crashes: crashes,
		slots:   make([]inflight, opts.Workers),
	}, nil
}

// Session returns the run identifier recorded in crash metadata.
func (d *Driver) Session() string { return d.session }

// Corpus returns the corpus.
func (d *Driver) Corpus() *Corpus { return d.corpus }

// HandleFatal saves every input under execution. Pass it to the harness
// with harness.WithOnFatal; it runs right before the process aborts.
func (d *Driver) HandleFatal(msg string) {
	for i := range d.slots {
		slot := &d.slots[i]
		if !slot.mu.TryLock() {
			// Held only by a worker that is not executing.
			continue
		}
		if slot.busy {
			d.saveCrash(i, slot.data, slot.seed, msg)
		}
		slot.mu.Unlock()
	}
}

func (d *Driver) saveCrash(worker int, data []byte, seed uint32, msg string) {
	d.crashed.Add(1)
	if d.h == nil || d.crashes == nil {
		return
	}
	tgt := d.h.Target()
	path, err := d.crashes.Save(data, CrashMeta{
		Session: d.session,
		Worker:  worker,
		Seed:    seed,
		Triple:  tgt.Triple,
		CPU:     tgt.CPU,
		Opt:     tgt.OptLevel.String(),
		Message: msg,
		Time:    time.Now().UTC(),
	})
	if err != nil {
		trace.Error(d.h.Tracer(), trace.ScopeDriver, "save-crash", err, 0)
		return
	}
	d.lastMu.Lock()
	d.lastCrash = path
	d.lastMu.Unlock()
}

// Stats returns the current counters.
func (d *Driver) Stats() Stats {
	d.lastMu.Lock()
	last := d.lastCrash
	d.lastMu.Unlock()
	var elapsed time.Duration
	if !d.start.IsZero() {
		elapsed = time.Since(d.start)
	}
	return Stats{
		Session:   d.session,
		Execs:     d.execs.Load(),
		Accepted:  d.accepted.Load(),
		Rejected:  d.rejected.Load(),
		Empty:     d.empty.Load(),
		Corpus:    d.corpus.Len(),
		Crashes:   d.crashed.Load(),
		Elapsed:   elapsed,
		LastCrash: last,
	}
}

// Run fuzzes with h until ctx is cancelled or opts.Runs iterations are done.
func (d *Driver) Run(ctx context.Context, h *harness.Harness) (Stats, error) {
	d.h = h
	if d.test == nil {
		d.test = h.TestOneInput
	}
	d.start = time.Now()
	tracer := h.Tracer()
	span := trace.Begin(tracer, trace.ScopeDriver, "fuzz", 0).
		WithExtra("session", d.session).
		WithExtra("target", h.Target().String())
	ctx = trace.ContextWithSpan(ctx, span)

	hb := trace.StartHeartbeat(tracer, d.opts.Heartbeat, func() string {
		s := d.Stats()
		return fmt.Sprintf("execs=%d corpus=%d crashes=%d", s.Execs, s.Corpus, s.Crashes)
	})
	if hb != nil {
		defer hb.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	workCtx, stopWork := context.WithCancel(gctx)
	defer stopWork()

	var workers sync.WaitGroup
	for i := 0; i < d.opts.Workers; i++ {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			return d.worker(workCtx, i)
		})
	}
	if d.opts.MetricsAddr != "" {
		if err := d.serveMetrics(workCtx, g, h); err != nil {
			stopWork()
			_ = g.Wait()
			span.End("metrics failed")
			return d.Stats(), err
		}
	}
	g.Go(func() error {
		d.report(workCtx)
		return nil
	})
	g.Go(func() error {
		workers.Wait()
		stopWork()
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	s := d.Stats()
	s.Done = true
	d.send(s)
	span.End(fmt.Sprintf("%d execs", s.Execs))
	return s, err
}

func (d *Driver) worker(ctx context.Context, id int) error {
	span := trace.SpanFromContext(ctx).Child(trace.ScopeDriver, fmt.Sprintf("worker-%d", id))
	var iterations int64
	defer func() { span.End(fmt.Sprintf("%d iterations", iterations)) }()

	r := rand.New(rand.NewSource(d.opts.Seed + int64(id)))
	buf := make([]byte, d.opts.MaxLen)
	for ctx.Err() == nil {
		if n := d.execs.Add(1); d.opts.Runs > 0 && n > d.opts.Runs {
			d.execs.Add(-1)
			return nil
		}
		iterations++
		size := d.corpus.Pick(r, buf)
		seed := r.Uint32()
		n := d.h.CustomMutate(buf, size, len(buf), seed)
		if n == 0 {
			d.empty.Add(1)
			continue
		}
		if d.execute(id, buf[:n], seed) != 0 {
			d.rejected.Add(1)
			continue
		}
		d.accepted.Add(1)
		if _, err := d.corpus.Add(buf[:n]); err != nil {
			span.Fail("corpus", err)
			return fmt.Errorf("corpus: %w", err)
		}
	}
	return nil
}

// execute runs data on the harness while it is recorded in the worker
// slot. A panic saves the in-flight inputs the way a fatal error does and
// keeps unwinding.
func (d *Driver) execute(worker int, data []byte, seed uint32) int {
	slot := &d.slots[worker]
	slot.mu.Lock()
	slot.data = append(slot.data[:0], data...)
	slot.seed = seed
	slot.busy = true
	slot.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			d.HandleFatal(fmt.Sprintf("panic: %v", r))
			panic(r)
		}
		slot.mu.Lock()
		slot.busy = false
		slot.mu.Unlock()
	}()
	return d.test(data)
}

func (d *Driver) send(s Stats) {
	if d.opts.Progress == nil {
		return
	}
	select {
	case d.opts.Progress <- s:
	default:
	}
}

func (d *Driver) report(ctx context.Context) {
	if d.opts.Progress == nil {
		return
	}
	ticker := time.NewTicker(d.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.send(d.Stats())
		}
	}
}

// serveMetrics exposes the harness registry on /metrics until ctx ends.
func (d *Driver) serveMetrics(ctx context.Context, g *errgroup.Group, h *harness.Harness) error {
	ln, err := net.Listen("tcp", d.opts.MetricsAddr)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(h.Registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			trace.SpanFromContext(ctx).Fail("metrics", err)
			return fmt.Errorf("metrics: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return nil
}
