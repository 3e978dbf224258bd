package observ

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Run is one execution of a code generation pass. Func is empty for
// module-level passes.
type Run struct {
	Pass  string
	Func  string
	Start time.Time
	Dur   time.Duration
	Note  string
}

// Timer records pass runs of a pipeline. It is not safe for concurrent use.
type Timer struct {
	runs []Run
}

// NewTimer creates a new empty Timer.
func NewTimer() *Timer { return &Timer{runs: make([]Run, 0, 16)} }

// Begin starts a run of pass over fn and returns its index.
func (t *Timer) Begin(pass, fn string) int {
	t.runs = append(t.runs, Run{Pass: pass, Func: fn, Start: time.Now()})
	return len(t.runs) - 1
}

// End finishes the run at idx.
func (t *Timer) End(idx int, note string) {
	if idx < 0 || idx >= len(t.runs) {
		return
	}
	r := &t.runs[idx]
	r.Dur = time.Since(r.Start)
	r.Note = note
}

// PassReport totals the runs of one pass.
type PassReport struct {
	Name       string  `json:"name"`
	Runs       int     `json:"runs"`
	DurationMS float64 `json:"duration_ms"`
}

// RunReport is the serializable form of a Run.
type RunReport struct {
	Pass       string  `json:"pass"`
	Func       string  `json:"func,omitempty"`
	DurationMS float64 `json:"duration_ms"`
	Note       string  `json:"note,omitempty"`
}

// Report aggregates the runs of a Timer.
type Report struct {
	TotalMS float64      `json:"total_ms"`
	Passes  []PassReport `json:"passes"`
	Slowest []RunReport  `json:"slowest"`
}

// slowestRuns is the number of runs listed in Report.Slowest.
const slowestRuns = 3

// Report returns per-pass totals in first-run order and the slowest runs.
func (t *Timer) Report() Report {
	if len(t.runs) == 0 {
		return Report{}
	}
	var report Report
	index := make(map[string]int)
	var total time.Duration
	for _, r := range t.runs {
		total += r.Dur
		i, ok := index[r.Pass]
		if !ok {
			i = len(report.Passes)
			index[r.Pass] = i
			report.Passes = append(report.Passes, PassReport{Name: r.Pass})
		}
		report.Passes[i].Runs++
		report.Passes[i].DurationMS += millis(r.Dur)
	}
	report.TotalMS = millis(total)

	order := make([]int, len(t.runs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return t.runs[order[a]].Dur > t.runs[order[b]].Dur })
	for _, i := range order[:min(slowestRuns, len(order))] {
		r := t.runs[i]
		report.Slowest = append(report.Slowest, RunReport{Pass: r.Pass, Func: r.Func, DurationMS: millis(r.Dur), Note: r.Note})
	}
	return report
}

// Summary renders the report as an aligned table.
func (t *Timer) Summary() string {
	report := t.Report()
	var b strings.Builder
	b.WriteString("timings:\n")
	for _, p := range report.Passes {
		fmt.Fprintf(&b, "  %-16s %7.2f ms  x%d\n", p.Name, p.DurationMS, p.Runs)
	}
	fmt.Fprintf(&b, "  %-16s %7.2f ms\n", "total", report.TotalMS)
	if len(report.Slowest) > 0 {
		b.WriteString("slowest:\n")
	}
	for _, r := range report.Slowest {
		name := r.Pass
		if r.Func != "" {
			name += " @" + r.Func
		}
		fmt.Fprintf(&b, "  %-24s %7.2f ms", name, r.DurationMS)
		if r.Note != "" {
			b.WriteString("  // " + r.Note)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
