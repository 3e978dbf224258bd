//go:build !unix

package fatal

import "os"

// Abort terminates the process with the conventional abort status.
func Abort() {
	os.Exit(3)
}
