// Package sqlite is the default Store backend: a single embedded SQLite
// file holding the append-only fact log plus its derived current/archive
// views and the collapse trigger.
package sqlite

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/google/uuid"

	"github.com/coreutil/factdb/internal/idgen"
	"github.com/coreutil/factdb/internal/lockfile"
)

const minSaltLength = 6

// Store is the sqlite-backed implementation of store.Store.
type Store struct {
	db        *sql.DB
	codec     *idgen.Codec
	storeUUID string
	dir       string
	lockFile  *os.File

	// writeMu enforces the single-writer-per-process rule across
	// goroutines within this process; the flock in lockFile enforces it
	// across processes.
	writeMu sync.Mutex
}

// Open opens or creates a store at path. If salt is empty, a fresh one
// is generated (and persisted) on first open.
func Open(ctx context.Context, path string, salt string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	lockPath := filepath.Join(dir, lockfile.LockFileName)
	lf, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open writer lock: %w", err)
	}
	if err := lockfile.TryLock(lf); err != nil {
		lf.Close()
		if held, pid := lockfile.Holder(dir); held && pid > 0 {
			return nil, fmt.Errorf("acquire writer lock (held by pid %d): %w", pid, lockfile.ErrLockBusy)
		}
		return nil, fmt.Errorf("acquire writer lock: %w", lockfile.ErrLockBusy)
	}

	db, err := sql.Open("sqlite3", connString(path, false))
	if err != nil {
		lockfile.Unlock(lf)
		lf.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := ensureSchema(db); err != nil {
		db.Close()
		lockfile.Unlock(lf)
		lf.Close()
		return nil, err
	}

	resolvedSalt, err := ensureConfigValue(ctx, db, "salt", func() (string, error) {
		if salt != "" {
			if len(salt) < minSaltLength {
				return "", fmt.Errorf("salt must be at least %d characters", minSaltLength)
			}
			return salt, nil
		}
		return randomHex(minSaltLength)
	})
	if err != nil {
		db.Close()
		lockfile.Unlock(lf)
		lf.Close()
		return nil, err
	}

	storeUUID, err := ensureConfigValue(ctx, db, "store_uuid", func() (string, error) {
		return uuid.NewString(), nil
	})
	if err != nil {
		db.Close()
		lockfile.Unlock(lf)
		lf.Close()
		return nil, err
	}

	if _, err := ensureConfigValue(ctx, db, "created", func() (string, error) {
		return time.Now().UTC().Format(time.RFC3339), nil
	}); err != nil {
		db.Close()
		lockfile.Unlock(lf)
		lf.Close()
		return nil, err
	}

	if err := lockfile.WriteLockInfo(dir, lockfile.WriterLockInfo{
		PID:       os.Getpid(),
		ParentPID: os.Getppid(),
		Database:  path,
		Version:   fmt.Sprintf("%d", 1),
		StartedAt: time.Now().UTC(),
	}); err != nil {
		db.Close()
		lockfile.Unlock(lf)
		lf.Close()
		return nil, fmt.Errorf("write lock info: %w", err)
	}

	saltBytes, err := hex.DecodeString(resolvedSalt)
	if err != nil {
		// Salts are allowed to be arbitrary strings, not just hex; fall
		// back to hashing the raw bytes as the codec key.
		saltBytes = []byte(resolvedSalt)
	}

	return &Store{
		db:        db,
		codec:     idgen.NewCodec(saltBytes),
		storeUUID: storeUUID,
		dir:       dir,
		lockFile:  lf,
	}, nil
}

// UUID returns this store's own origin identifier.
func (s *Store) UUID() string { return s.storeUUID }

// Close releases the database handle and the process writer lock.
func (s *Store) Close() error {
	err := s.db.Close()
	lockfile.Unlock(s.lockFile)
	s.lockFile.Close()
	return err
}

// ensureConfigValue reads key from config, or computes and persists a
// value via generate if absent.
func ensureConfigValue(ctx context.Context, db *sql.DB, key string, generate func() (string, error)) (string, error) {
	var val string
	err := db.QueryRowContext(ctx, `SELECT val FROM config WHERE key = ?`, key).Scan(&val)
	if err == nil {
		return val, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("read config %s: %w", key, err)
	}
	val, err = generate()
	if err != nil {
		return "", err
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO config (key, val) VALUES (?, ?)`, key, val); err != nil {
		return "", fmt.Errorf("write config %s: %w", key, err)
	}
	return val, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return hex.EncodeToString(b), nil
}
