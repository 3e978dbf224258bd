//go:build unix

package harness

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"testing"

	"iselfuzz/internal/fatal"
)

const abortChildEnv = "ISELFUZZ_ABORT_CHILD"

// TestFatalErrorAbortsProcess runs itself in a child process that installs
// the real fatal hook and reports a code generator error.
func TestFatalErrorAbortsProcess(t *testing.T) {
	if os.Getenv(abortChildEnv) == "1" {
		if _, err := Initialize([]string{"iselfuzz", IgnoreRemainingArgs, "-mtriple=x86_64-linux-gnu"}, os.Stderr); err != nil {
			os.Exit(3)
		}
		fatal.Reportf("Register allocation: %%%d spilled twice in @%s", 7, "f")
		os.Exit(4)
	}
	if testing.Short() {
		t.Skip("spawns a subprocess")
	}

	cmd := exec.Command(os.Args[0], "-test.run=^TestFatalErrorAbortsProcess$")
	cmd.Env = append(os.Environ(), abortChildEnv+"=1")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("child did not fail: %v\n%s", err, stderr.String())
	}
	ws, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		t.Fatalf("unexpected wait status %T", exitErr.Sys())
	}
	if !ws.Signaled() || ws.Signal() != syscall.SIGABRT {
		t.Fatalf("child exited with %v, want SIGABRT\n%s", exitErr, stderr.String())
	}
	out := stderr.String()
	for _, want := range []string{
		"ISEL ERROR:",
		"Register allocation: %7 spilled twice in @f",
		"Aborting to trigger fuzzer exit handling.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("stderr lacks %q:\n%s", want, out)
		}
	}
}
