//go:build windows

package lockfile

import (
	"os"

	"golang.org/x/sys/windows"
)

// TryLock acquires an exclusive non-blocking lock on f, returning
// ErrLockBusy when another process holds it.
func TryLock(f *os.File) error {
	const flags = windows.LOCKFILE_EXCLUSIVE_LOCK | windows.LOCKFILE_FAIL_IMMEDIATELY
	ol := &windows.Overlapped{}
	err := windows.LockFileEx(windows.Handle(f.Fd()), flags, 0, 0xFFFFFFFF, 0xFFFFFFFF, ol)
	if err == windows.ERROR_LOCK_VIOLATION {
		return ErrLockBusy
	}
	return err
}

// Unlock releases the lock on f.
func Unlock(f *os.File) error {
	ol := &windows.Overlapped{}
	return windows.UnlockFileEx(windows.Handle(f.Fd()), 0, 0xFFFFFFFF, 0xFFFFFFFF, ol)
}
