package dolt

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaVersion is the version this binary creates from scratch, stored
// in the config table (Dolt has no PRAGMA user_version equivalent).
const schemaVersion = "1"

// ensureSchema creates every table, index and view for a fresh database,
// mirroring internal/storage/sqlite/migrations in Dolt's MySQL-compatible
// dialect: AUTO_INCREMENT instead of rowid, an explicit `id` primary key
// column. There is no collapse trigger here — MySQL forbids a trigger on
// facts from updating facts itself — so insertFactsTx issues the collapse
// UPDATE explicitly inside the apply transaction.
func ensureSchema(ctx context.Context, db *sql.DB) error {
	var exists int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM information_schema.tables WHERE table_name = 'config'`).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check schema presence: %w", err)
	}
	if exists > 0 {
		return nil
	}

	stmts := []string{
		"CREATE TABLE config (`key` VARCHAR(255) PRIMARY KEY, val TEXT NOT NULL)",
		`CREATE TABLE idlist (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			ref VARCHAR(64) UNIQUE NOT NULL,
			uuid VARCHAR(64),
			changeset_uuid VARCHAR(64),
			created VARCHAR(64) NOT NULL,
			archived TINYINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX idx_idlist_uuid ON idlist(uuid)`,
		`CREATE INDEX idx_idlist_changeset_uuid ON idlist(changeset_uuid)`,
		`CREATE TABLE facts (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			changeset BIGINT NOT NULL,
			dbid BIGINT NOT NULL,
			tag VARCHAR(255) NOT NULL,
			prop VARCHAR(255) NOT NULL DEFAULT '',
			val TEXT NOT NULL,
			revoked TINYINT NOT NULL DEFAULT 0,
			current TINYINT NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX idx_facts_dbid ON facts(dbid)`,
		`CREATE INDEX idx_facts_current ON facts(dbid, tag, prop, current)`,
		`CREATE INDEX idx_facts_tag_prop ON facts(tag, prop, current)`,
		`CREATE TABLE changesets (
			uuid VARCHAR(64) PRIMARY KEY,
			client VARCHAR(255) NOT NULL,
			created VARCHAR(64) NOT NULL,
			query TEXT NOT NULL,
			changes LONGTEXT NOT NULL,
			origin VARCHAR(64) NOT NULL,
			origin_rowid BIGINT NOT NULL,
			applied TINYINT NOT NULL DEFAULT 0,
			replicated TINYINT NOT NULL DEFAULT 0
		)`,
		`CREATE UNIQUE INDEX idx_changesets_origin_rowid ON changesets(origin, origin_rowid)`,
		`CREATE TABLE ingest_cursor (
			origin_uuid VARCHAR(64) PRIMARY KEY,
			last_rowid BIGINT NOT NULL
		)`,
		`CREATE VIEW current_facts_inc_tx AS
			SELECT f.* FROM facts f
			JOIN idlist i ON i.id = f.dbid
			WHERE f.revoked = 0 AND f.current = 1 AND i.archived = 0`,
		`CREATE VIEW current_facts_inc_archived AS
			SELECT f.* FROM facts f
			JOIN idlist i ON i.id = f.dbid
			WHERE f.revoked = 0 AND f.current = 1 AND i.changeset_uuid IS NULL`,
		`CREATE VIEW current_facts AS
			SELECT f.* FROM facts f
			JOIN idlist i ON i.id = f.dbid
			WHERE f.revoked = 0 AND f.current = 1 AND i.changeset_uuid IS NULL AND i.archived = 0`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply dolt schema: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, "INSERT INTO config (`key`, val) VALUES ('schema_version', ?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return nil
}
