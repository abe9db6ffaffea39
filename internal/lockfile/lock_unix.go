//go:build unix

package lockfile

import (
	"errors"
	"os"
	"syscall"
)

// errDaemonLocked signals that flockExclusive found the file already
// locked by another process, distinguishing "someone else holds this"
// from a genuine I/O error.
var errDaemonLocked = errors.New("flock: already locked")

// flockExclusive takes a non-blocking exclusive lock on f. Returns
// errDaemonLocked if the lock is already held elsewhere.
func flockExclusive(f *os.File) error {
	err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN) {
		return errDaemonLocked
	}
	return err
}

// isProcessRunning reports whether pid names a live process, by
// sending it signal 0 (no-op, delivery only).
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}
