package dolt

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"sync"
	"time"

	embedded "github.com/dolthub/driver"
	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/coreutil/factdb/internal/idgen"
)

const minSaltLength = 6

// Store is the Dolt-backed implementation of store.Store: the same
// schema and operations as internal/storage/sqlite, run over a
// MySQL-wire connection (embedded or server mode). No DOLT_COMMIT is
// issued by the store.
type Store struct {
	db        *sql.DB
	connector *embedded.Connector // non-nil only in embedded mode; released on Close
	codec     *idgen.Codec
	storeUUID string

	// writeMu enforces the single-writer-per-process rule the same
	// way the sqlite backend does; Dolt's own commit graph provides no
	// such guarantee across concurrent writers in one process.
	writeMu sync.Mutex
}

// Open connects to a Dolt database described by cfg, creating the
// embedded directory (or target database, in server mode) and schema on
// first use.
func Open(ctx context.Context, cfg Config, salt string) (*Store, error) {
	if cfg.ServerMode {
		return openServer(ctx, cfg, salt)
	}
	return openEmbedded(ctx, cfg, salt)
}

func openEmbedded(ctx context.Context, cfg Config, salt string) (*Store, error) {
	if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
		return nil, fmt.Errorf("create dolt directory: %w", err)
	}

	dcfg, err := embedded.ParseDSN(cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("parse dolt dsn: %w", err)
	}
	connector, err := embedded.NewConnector(dcfg)
	if err != nil {
		return nil, fmt.Errorf("open embedded dolt connector: %w", err)
	}
	db := sql.OpenDB(connector)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		connector.Close()
		return nil, fmt.Errorf("ping embedded dolt: %w", err)
	}

	s, err := newStore(ctx, db, salt)
	if err != nil {
		db.Close()
		connector.Close()
		return nil, err
	}
	s.connector = connector
	return s, nil
}

func openServer(ctx context.Context, cfg Config, salt string) (*Store, error) {
	db, err := sql.Open("mysql", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("open dolt server connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping dolt server %s:%d: %w", cfg.ServerHost, cfg.ServerPort, err)
	}
	return newStore(ctx, db, salt)
}

func newStore(ctx context.Context, db *sql.DB, salt string) (*Store, error) {
	if err := ensureSchema(ctx, db); err != nil {
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
		return nil, err
	}

	storeUUID, err := ensureConfigValue(ctx, db, "store_uuid", func() (string, error) {
		return uuid.NewString(), nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := ensureConfigValue(ctx, db, "created", func() (string, error) {
		return time.Now().UTC().Format(time.RFC3339), nil
	}); err != nil {
		return nil, err
	}

	saltBytes, err := hex.DecodeString(resolvedSalt)
	if err != nil {
		saltBytes = []byte(resolvedSalt)
	}

	return &Store{
		db:        db,
		codec:     idgen.NewCodec(saltBytes),
		storeUUID: storeUUID,
	}, nil
}

// UUID returns this store's own origin identifier.
func (s *Store) UUID() string { return s.storeUUID }

// Close releases the database handle and, in embedded mode, the Dolt
// engine's own filesystem lock.
func (s *Store) Close() error {
	err := s.db.Close()
	if s.connector != nil {
		if cerr := s.connector.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func ensureConfigValue(ctx context.Context, db *sql.DB, key string, generate func() (string, error)) (string, error) {
	var val string
	err := db.QueryRowContext(ctx, `SELECT val FROM config WHERE `+"`key`"+` = ?`, key).Scan(&val)
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
	if _, err := db.ExecContext(ctx, "INSERT INTO config (`key`, val) VALUES (?, ?)", key, val); err != nil {
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
