// Package migrations holds the forward-only schema steps for the
// sqlite backend, numbered by file and driven by PRAGMA user_version.
// Each step is a plain function over *sql.DB so it can use
// PRAGMA table_info style idempotency checks the way later steps will
// need to.
package migrations

import (
	"database/sql"
	"fmt"
)

// CurrentVersion is the schema version this binary creates from
// scratch and expects to find in PRAGMA user_version.
const CurrentVersion = 1

// ApplyInitialSchema creates every table, index, view and trigger for a
// fresh store (schema version 0 -> 1).
func ApplyInitialSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS config (
			key TEXT PRIMARY KEY,
			val TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS idlist (
			ref TEXT UNIQUE NOT NULL,
			uuid TEXT,
			changeset_uuid TEXT,
			created TEXT NOT NULL,
			archived INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_idlist_uuid ON idlist(uuid)`,
		`CREATE INDEX IF NOT EXISTS idx_idlist_changeset_uuid ON idlist(changeset_uuid)`,
		`CREATE TABLE IF NOT EXISTS facts (
			changeset INTEGER NOT NULL,
			dbid INTEGER NOT NULL,
			tag TEXT NOT NULL,
			prop TEXT NOT NULL DEFAULT '',
			val TEXT NOT NULL DEFAULT '',
			revoke INTEGER NOT NULL DEFAULT 0,
			current INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_dbid ON facts(dbid)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_current ON facts(dbid, tag, prop, current)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_tag_prop ON facts(tag, prop, current)`,
		`CREATE TABLE IF NOT EXISTS changesets (
			uuid TEXT PRIMARY KEY,
			client TEXT NOT NULL,
			created TEXT NOT NULL,
			query TEXT NOT NULL DEFAULT '',
			changes TEXT NOT NULL,
			origin TEXT NOT NULL,
			origin_rowid INTEGER NOT NULL,
			applied INTEGER NOT NULL DEFAULT 0,
			replicated INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_changesets_origin_rowid ON changesets(origin, origin_rowid)`,
		`CREATE TABLE IF NOT EXISTS ingest_cursor (
			origin_uuid TEXT PRIMARY KEY,
			last_rowid INTEGER NOT NULL
		)`,
		`CREATE VIEW IF NOT EXISTS items AS
			SELECT rowid AS id, ref, uuid, changeset_uuid, created, archived FROM idlist`,
		`CREATE VIEW IF NOT EXISTS current_items AS
			SELECT * FROM items WHERE changeset_uuid IS NULL AND archived = 0`,
		`CREATE VIEW IF NOT EXISTS transactions AS
			SELECT * FROM items WHERE changeset_uuid IS NOT NULL`,
		`CREATE VIEW IF NOT EXISTS current_facts_inc_tx AS
			SELECT f.* FROM facts f
			JOIN idlist i ON i.rowid = f.dbid
			WHERE f.revoke = 0 AND f.current = 1 AND i.archived = 0`,
		`CREATE VIEW IF NOT EXISTS current_facts_inc_archived AS
			SELECT f.* FROM facts f
			JOIN idlist i ON i.rowid = f.dbid
			WHERE f.revoke = 0 AND f.current = 1 AND i.changeset_uuid IS NULL`,
		`CREATE VIEW IF NOT EXISTS current_facts AS
			SELECT f.* FROM facts f
			JOIN idlist i ON i.rowid = f.dbid
			WHERE f.revoke = 0 AND f.current = 1 AND i.changeset_uuid IS NULL AND i.archived = 0`,
		`CREATE TRIGGER IF NOT EXISTS collapse_current_fact
			AFTER INSERT ON facts
			WHEN NEW.current = 1
			BEGIN
				UPDATE facts
				SET current = 0
				WHERE dbid = NEW.dbid AND tag = NEW.tag AND prop = NEW.prop
				  AND current = 1 AND rowid != NEW.rowid;
			END`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("apply initial schema: %w", err)
		}
	}
	return nil
}
