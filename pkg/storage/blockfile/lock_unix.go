//go:build unix

package blockfile

import (
	"fmt"
	"os"
	"syscall"
)

// lockFile places an exclusive, non-blocking flock(2) on f. A second
// process opening the same store fails instead of corrupting it.
func lockFile(f *os.File) error {
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		return fmt.Errorf("%s is in use by another process: %w", f.Name(), err)
	}
	return nil
}

func unlockFile(f *os.File) {
	syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}
