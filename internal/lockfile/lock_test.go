package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openLockFile(t *testing.T, dir string) *os.File {
	t.Helper()
	f, err := os.OpenFile(filepath.Join(dir, LockFileName), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		t.Fatalf("open lock file: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestTryLockConflict(t *testing.T) {
	dir := t.TempDir()

	f1 := openLockFile(t, dir)
	if err := TryLock(f1); err != nil {
		t.Fatalf("first TryLock failed: %v", err)
	}
	defer Unlock(f1)

	f2 := openLockFile(t, dir)
	if err := TryLock(f2); !errors.Is(err, ErrLockBusy) {
		t.Errorf("second TryLock: expected ErrLockBusy, got %v", err)
	}

	if err := Unlock(f1); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if err := TryLock(f2); err != nil {
		t.Errorf("TryLock after Unlock failed: %v", err)
	}
	Unlock(f2)
}

func TestLockInfoRoundTrip(t *testing.T) {
	dir := t.TempDir()

	want := WriterLockInfo{
		PID:       os.Getpid(),
		ParentPID: os.Getppid(),
		Database:  filepath.Join(dir, "facts.db"),
		Version:   "1",
		StartedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := WriteLockInfo(dir, want); err != nil {
		t.Fatalf("WriteLockInfo failed: %v", err)
	}

	got, err := ReadLockInfo(dir)
	if err != nil {
		t.Fatalf("ReadLockInfo failed: %v", err)
	}
	if got.PID != want.PID || got.Database != want.Database || got.Version != want.Version {
		t.Errorf("ReadLockInfo = %+v, want %+v", got, want)
	}
}

func TestReadLockInfoErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := ReadLockInfo(dir); err == nil {
		t.Error("expected error when lock file is missing")
	}

	if err := os.WriteFile(filepath.Join(dir, LockFileName), []byte("not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadLockInfo(dir); err == nil {
		t.Error("expected error for malformed lock file")
	}
}

func TestHolder(t *testing.T) {
	dir := t.TempDir()

	if held, _ := Holder(dir); held {
		t.Error("expected no holder for a fresh directory")
	}

	f := openLockFile(t, dir)
	if err := TryLock(f); err != nil {
		t.Fatalf("TryLock failed: %v", err)
	}
	defer Unlock(f)
	if err := WriteLockInfo(dir, WriterLockInfo{PID: os.Getpid()}); err != nil {
		t.Fatalf("WriteLockInfo failed: %v", err)
	}

	held, pid := Holder(dir)
	if !held {
		t.Error("expected Holder to report the lock as held")
	}
	if pid != os.Getpid() {
		t.Errorf("Holder pid = %d, want %d", pid, os.Getpid())
	}
}
