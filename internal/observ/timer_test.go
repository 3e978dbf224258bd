package observ

import (
	"strings"
	"testing"
	"time"
)

func TestTimerReport(t *testing.T) {
	tm := NewTimer()
	a := tm.Begin("isel", "f")
	tm.End(a, "12 minstrs")
	b := tm.Begin("regalloc", "f")
	tm.End(b, "")
	c := tm.Begin("isel", "g")
	tm.End(c, "3 minstrs")
	d := tm.Begin("asm-emit", "")
	tm.End(d, "80 bytes")
	tm.End(7, "ignored")

	r := tm.Report()
	if len(r.Passes) != 3 || r.Passes[0].Name != "isel" || r.Passes[0].Runs != 2 || r.Passes[2].Name != "asm-emit" {
		t.Fatalf("passes = %+v", r.Passes)
	}
	if len(r.Slowest) != slowestRuns {
		t.Fatalf("slowest = %+v", r.Slowest)
	}
	for i := 1; i < len(r.Slowest); i++ {
		if r.Slowest[i].DurationMS > r.Slowest[i-1].DurationMS {
			t.Fatalf("slowest not sorted: %+v", r.Slowest)
		}
	}
	if r.TotalMS < r.Passes[0].DurationMS {
		t.Fatalf("total %v below a pass", r.TotalMS)
	}
	sum := tm.Summary()
	for _, want := range []string{"isel", "x2", "regalloc", "total", "slowest:"} {
		if !strings.Contains(sum, want) {
			t.Errorf("summary lacks %q:\n%s", want, sum)
		}
	}
}

func TestSlowestNamesFunction(t *testing.T) {
	tm := NewTimer()
	tm.runs = []Run{
		{Pass: "isel", Func: "fast", Dur: time.Millisecond},
		{Pass: "regalloc", Func: "slow", Dur: 5 * time.Millisecond, Note: "4 spills"},
	}
	r := tm.Report()
	if r.Slowest[0].Func != "slow" || r.Slowest[0].Note != "4 spills" {
		t.Fatalf("slowest = %+v", r.Slowest)
	}
	if !strings.Contains(tm.Summary(), "regalloc @slow") {
		t.Fatalf("summary:\n%s", tm.Summary())
	}
}

func TestEmptyReport(t *testing.T) {
	r := NewTimer().Report()
	if r.TotalMS != 0 || r.Passes != nil || r.Slowest != nil {
		t.Fatalf("report = %+v", r)
	}
	if s := NewTimer().Summary(); strings.Contains(s, "slowest") {
		t.Fatalf("empty summary:\n%s", s)
	}
}
