//go:build unix

package lockfile

import (
	"os"

	"golang.org/x/sys/unix"
)

// TryLock acquires an exclusive non-blocking lock on f, returning
// ErrLockBusy when another process holds it.
func TryLock(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == unix.EWOULDBLOCK {
		return ErrLockBusy
	}
	return err
}

// Unlock releases the lock on f.
func Unlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
