//go:build unix

package fatal

import (
	"os"
	"runtime/debug"
	"time"

	"golang.org/x/sys/unix"
)

// Abort terminates the process with SIGABRT so that a fuzzing driver
// records a crash. Goroutine stacks are printed first.
func Abort() {
	debug.SetTraceback("crash")
	_ = unix.Kill(unix.Getpid(), unix.SIGABRT)
	// Signal delivery is asynchronous.
	time.Sleep(time.Second)
	os.Exit(128 + int(unix.SIGABRT))
}
