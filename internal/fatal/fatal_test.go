package fatal

import (
	"strings"
	"testing"
)

type caught string

func expectPanic(t *testing.T, fn func()) any {
	t.Helper()
	var got any
	func() {
		defer func() { got = recover() }()
		fn()
	}()
	if got == nil {
		t.Fatalf("expected panic")
	}
	return got
}

func TestReportfWithoutHandlerPanics(t *testing.T) {
	prev := Install(nil)
	defer Install(prev)

	got := expectPanic(t, func() { Reportf("bad %s", "thing") })
	if s, ok := got.(string); !ok || !strings.Contains(s, "bad thing") {
		t.Fatalf("panic value = %v", got)
	}
}

func TestReportfCallsHandler(t *testing.T) {
	prev := Install(func(msg string) { panic(caught(msg)) })
	defer Install(prev)

	if !Installed() {
		t.Fatalf("handler not installed")
	}
	got := expectPanic(t, func() { Reportf("register %d spilled twice", 3) })
	if got != caught("register 3 spilled twice") {
		t.Fatalf("handler got %v", got)
	}
}

func TestHandlerThatReturnsStillPanics(t *testing.T) {
	calls := 0
	prev := Install(func(string) { calls++ })
	defer Install(prev)

	expectPanic(t, func() { Reportf("oops") })
	if calls != 1 {
		t.Fatalf("handler called %d times", calls)
	}
}

func TestInstallReturnsPrevious(t *testing.T) {
	orig := Install(nil)
	defer Install(orig)

	first := Handler(func(string) {})
	if prev := Install(first); prev != nil {
		t.Fatalf("expected no previous handler")
	}
	if prev := Install(nil); prev == nil {
		t.Fatalf("expected previous handler")
	}
	if Installed() {
		t.Fatalf("handler still installed")
	}
}
