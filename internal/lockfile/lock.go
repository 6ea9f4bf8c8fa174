// Package lockfile guards a store directory with an exclusive advisory
// file lock, giving local backends their single-writer-per-process
// guarantee. Alongside the lock itself it maintains a small JSON file
// naming the holder, so a second process refused the lock can tell the
// user who has it.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LockFileName is the well-known name of the writer lock file inside a
// store directory.
const LockFileName = "writer.lock"

// ErrLockBusy is returned when the lock is already held by another
// process.
var ErrLockBusy = errors.New("lock busy: held by another process")

// WriterLockInfo records which process holds the writer lock for a
// store directory.
type WriterLockInfo struct {
	PID       int       `json:"pid"`
	ParentPID int       `json:"parent_pid"`
	Database  string    `json:"database"`
	Version   string    `json:"version"`
	StartedAt time.Time `json:"started_at"`
}

// WriteLockInfo records info as the contents of dir's lock file. The
// caller must already hold the lock.
func WriteLockInfo(dir string, info WriterLockInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal lock info: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, LockFileName), data, 0644)
}

// ReadLockInfo parses dir's lock file.
func ReadLockInfo(dir string) (*WriterLockInfo, error) {
	data, err := os.ReadFile(filepath.Join(dir, LockFileName))
	if err != nil {
		return nil, err
	}
	var info WriterLockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse lock file: %w", err)
	}
	return &info, nil
}

// Holder reports whether another process currently holds dir's writer
// lock, and its PID when the lock file names one. Taking the lock
// ourselves is the authoritative probe; a successful acquisition is
// released immediately.
func Holder(dir string) (held bool, pid int) {
	f, err := os.OpenFile(filepath.Join(dir, LockFileName), os.O_RDWR, 0644)
	if err != nil {
		return false, 0
	}
	defer f.Close()

	if err := TryLock(f); err != nil {
		if info, rerr := ReadLockInfo(dir); rerr == nil {
			return true, info.PID
		}
		return true, 0
	}
	Unlock(f)
	return false, 0
}
