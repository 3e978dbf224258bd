// Package fatal routes unrecoverable code generator errors to a single
// process-wide handler. The handler is expected to terminate the process.
package fatal

import (
	"fmt"
	"sync/atomic"
)

// Handler receives the formatted message of a fatal error. It must not
// return.
type Handler func(msg string)

var current atomic.Pointer[Handler]

// Install makes h the process-wide handler and returns the previous one.
// A nil h uninstalls the handler.
func Install(h Handler) Handler {
	var old *Handler
	if h == nil {
		old = current.Swap(nil)
	} else {
		old = current.Swap(&h)
	}
	if old == nil {
		return nil
	}
	return *old
}

// Installed reports whether a handler is present.
func Installed() bool {
	return current.Load() != nil
}

// Reportf reports a fatal error. Without an installed handler, or if the
// handler returns, Reportf panics with the message.
func Reportf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if h := current.Load(); h != nil {
		(*h)(msg)
	}
	panic("fatal error: " + msg)
}
