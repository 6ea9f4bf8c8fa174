package dolt

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/coreutil/factdb/pkg/store"
)

// wrapDBError wraps a database error with operation context, converting
// sql.ErrNoRows to the shared store.ErrNotFound sentinel so callers can
// match on it regardless of backend.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, store.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// queryer is the subset of *sql.DB / *sql.Tx used by read/write helpers,
// so ApplyChangeSet can run them inside one backend transaction.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}
