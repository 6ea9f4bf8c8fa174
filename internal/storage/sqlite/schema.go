package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/coreutil/factdb/internal/storage/sqlite/migrations"
	"github.com/coreutil/factdb/pkg/store"
)

// ensureSchema reads the schema version from PRAGMA user_version and
// brings the database up to migrations.CurrentVersion. A fresh
// database (version 0) gets the full schema; a database from a newer
// binary is rejected rather than silently misread.
func ensureSchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	switch {
	case version == 0:
		if err := migrations.ApplyInitialSchema(db); err != nil {
			return err
		}
	case version > migrations.CurrentVersion:
		return fmt.Errorf("schema version %d: %w", version, store.ErrSchemaVersion)
	case version < migrations.CurrentVersion:
		// No intermediate steps exist yet; this store starts fresh
		// from a single schema vintage rather than rewriting legacy
		// `db` -> `_db` fact rows from an older implementation.
		return fmt.Errorf("schema version %d is older than %d and has no migration path: %w", version, migrations.CurrentVersion, store.ErrSchemaVersion)
	}

	if _, err := db.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, migrations.CurrentVersion)); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}
