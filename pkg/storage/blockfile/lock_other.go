//go:build !unix

package blockfile

import "os"

// Advisory locking is only implemented on unix; elsewhere the single-owner
// assumption is left to the caller.
func lockFile(f *os.File) error { return nil }

func unlockFile(f *os.File) {}
