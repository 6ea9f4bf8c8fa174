package sqlite

import (
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
