package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/coreutil/factdb/pkg/changeset"
	"github.com/coreutil/factdb/pkg/fact"
	"github.com/coreutil/factdb/pkg/store"
)

// ChangeSetExists reports whether uuid has already been recorded.
func (s *Store) ChangeSetExists(ctx context.Context, uuid string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM changesets WHERE uuid = ?`, uuid).Scan(&n)
	if err != nil {
		return false, wrapDBError("check changeset exists", err)
	}
	return n > 0, nil
}

// RecordChangeSet persists cs in the NEW->RECORDED transition,
// rejecting a uuid that already exists.
func (s *Store) RecordChangeSet(ctx context.Context, cs *changeset.ChangeSet) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	exists, err := s.ChangeSetExists(ctx, cs.UUID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("record changeset %s: %w", cs.UUID, store.ErrDuplicateChangeSet)
	}

	if cs.OriginRowID == 0 {
		var max sql.NullInt64
		if err := s.db.QueryRowContext(ctx, `SELECT MAX(origin_rowid) FROM changesets WHERE origin = ?`, cs.Origin).Scan(&max); err != nil {
			return wrapDBError("compute origin rowid", err)
		}
		cs.OriginRowID = max.Int64 + 1
	}

	changesJSON, err := cs.ChangesJSON()
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO changesets (uuid, client, created, query, changes, origin, origin_rowid, applied, replicated)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0)`,
		cs.UUID, cs.Client, cs.Created.UTC().Format(time.RFC3339Nano), cs.Query, changesJSON, cs.Origin, cs.OriginRowID)
	if err != nil {
		return wrapDBError("record changeset", err)
	}
	return nil
}

// LoadChangeSet fetches a previously recorded changeset by uuid.
func (s *Store) LoadChangeSet(ctx context.Context, uuid string) (*changeset.ChangeSet, error) {
	var (
		client, createdStr, query, changesJSON, origin string
		originRowID                                    int64
		applied, replicated                            int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT client, created, query, changes, origin, origin_rowid, applied, replicated
		FROM changesets WHERE uuid = ?`, uuid).
		Scan(&client, &createdStr, &query, &changesJSON, &origin, &originRowID, &applied, &replicated)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("load changeset %s", uuid), err)
	}

	created, err := time.Parse(time.RFC3339Nano, createdStr)
	if err != nil {
		return nil, fmt.Errorf("parse changeset created timestamp: %w", err)
	}
	changes, err := changeset.ParseChanges([]byte(changesJSON))
	if err != nil {
		return nil, err
	}

	return &changeset.ChangeSet{
		UUID:        uuid,
		Client:      client,
		Origin:      origin,
		OriginRowID: originRowID,
		Created:     created,
		Query:       query,
		Changes:     changes,
		Applied:     applied != 0,
		Replicated:  replicated != 0,
	}, nil
}

// UpdateChangeSet flips the applied/replicated terminal flags; either
// pointer may be nil to leave that flag untouched.
func (s *Store) UpdateChangeSet(ctx context.Context, uuid string, applied, replicated *bool) error {
	if applied == nil && replicated == nil {
		return nil
	}
	if applied != nil {
		if _, err := s.db.ExecContext(ctx, `UPDATE changesets SET applied = ? WHERE uuid = ?`, boolToInt(*applied), uuid); err != nil {
			return wrapDBError("update changeset applied flag", err)
		}
	}
	if replicated != nil {
		if _, err := s.db.ExecContext(ctx, `UPDATE changesets SET replicated = ? WHERE uuid = ?`, boolToInt(*replicated), uuid); err != nil {
			return wrapDBError("update changeset replicated flag", err)
		}
	}
	return nil
}

// GetUnreplicatedChangeSets returns changesets originated by this store
// that are applied but not yet replicated.
func (s *Store) GetUnreplicatedChangeSets(ctx context.Context) ([]*changeset.ChangeSet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT uuid FROM changesets
		WHERE origin = ? AND applied = 1 AND replicated = 0
		ORDER BY origin_rowid ASC`, s.storeUUID)
	if err != nil {
		return nil, wrapDBError("list unreplicated changesets", err)
	}
	defer rows.Close()

	var uuids []string
	for rows.Next() {
		var uuid string
		if err := rows.Scan(&uuid); err != nil {
			return nil, fmt.Errorf("scan changeset uuid: %w", err)
		}
		uuids = append(uuids, uuid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unreplicated changesets: %w", err)
	}

	var out []*changeset.ChangeSet
	for _, uuid := range uuids {
		cs, err := s.LoadChangeSet(ctx, uuid)
		if err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, nil
}

// GetLastIngestedChangeSet returns the highest origin_rowid ingested
// from originUUID, or 0 if none has been ingested yet.
func (s *Store) GetLastIngestedChangeSet(ctx context.Context, originUUID string) (int64, error) {
	var rowid sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT last_rowid FROM ingest_cursor WHERE origin_uuid = ?`, originUUID).Scan(&rowid)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, wrapDBError("get ingest cursor", err)
	}
	return rowid.Int64, nil
}

func (s *Store) setIngestCursor(ctx context.Context, q queryer, originUUID string, rowid int64) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO ingest_cursor (origin_uuid, last_rowid) VALUES (?, ?)
		ON CONFLICT(origin_uuid) DO UPDATE SET last_rowid = excluded.last_rowid
		WHERE excluded.last_rowid > ingest_cursor.last_rowid`, originUUID, rowid)
	if err != nil {
		return wrapDBError("set ingest cursor", err)
	}
	return nil
}

// SetIngestCursor advances the ingestion cursor for originUUID, used by
// the replicator after it successfully applies an ingested changeset.
func (s *Store) SetIngestCursor(ctx context.Context, originUUID string, rowid int64) error {
	return s.setIngestCursor(ctx, s.db, originUUID, rowid)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ApplyChangeSet performs the RECORDED->APPLIED transition under
// a single backend transaction: materialise the changeset-item, apply
// each Change in order, mark the changeset applied, and return the
// changeset-item followed by one item per Change.
func (s *Store) ApplyChangeSet(ctx context.Context, uuid string) ([]*fact.Item, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cs, err := s.LoadChangeSet(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if cs.Applied {
		return nil, fmt.Errorf("apply changeset %s: %w", uuid, store.ErrAlreadyApplied)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin apply transaction: %w", err)
	}
	defer tx.Rollback()

	items, err := s.applyChangeSetTx(ctx, tx, cs)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE changesets SET applied = 1 WHERE uuid = ?`, uuid); err != nil {
		return nil, wrapDBError("mark changeset applied", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit apply transaction: %w", err)
	}
	return items, nil
}

func (s *Store) applyChangeSetTx(ctx context.Context, tx *sql.Tx, cs *changeset.ChangeSet) ([]*fact.Item, error) {
	now := time.Now().UTC()

	csRef, csDBID, err := s.nextRefTx(ctx, tx, cs.UUID, cs.Created, true)
	if err != nil {
		return nil, err
	}

	csFacts := []fact.Fact{
		fact.Ref(csRef),
		fact.Created(now.Format(time.RFC3339Nano)),
		fact.Tag(fact.TxTag),
		fact.Value(fact.TxTag, "client", cs.Client),
		fact.Value(fact.TxTag, "created", cs.Created.UTC().Format(time.RFC3339Nano)),
		fact.Value(fact.TxTag, "uuid", cs.UUID),
		fact.Value(fact.TxTag, "origin", cs.Origin),
	}
	if cs.Query != "" {
		csFacts = append(csFacts, fact.Value(fact.TxTag, "query", cs.Query))
	}
	changesJSON, err := cs.ChangesJSON()
	if err != nil {
		return nil, err
	}
	csFacts = append(csFacts, fact.Content(changesJSON))

	if err := s.insertFacts(ctx, tx, csDBID, csDBID, csFacts); err != nil {
		return nil, err
	}
	csItem := fact.New(cs.UUID, csFacts)
	items := []*fact.Item{&csItem}

	for _, change := range cs.Changes {
		item, err := s.applyChange(ctx, tx, csDBID, now, change)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	return items, nil
}

func (s *Store) applyChange(ctx context.Context, tx *sql.Tx, csDBID int64, now time.Time, change changeset.Change) (*fact.Item, error) {
	switch {
	case change.Revoke:
		dbid, err := s.dbidForUUID(ctx, tx, change.UUID)
		if err != nil {
			return nil, err
		}
		revoked := make([]fact.Fact, len(change.Facts))
		for i, f := range change.Facts {
			revoked[i] = fact.Fact{Tag: f.Tag, Prop: f.Prop, Value: f.Value}
		}
		if err := s.insertRevokedFacts(ctx, tx, csDBID, dbid, revoked); err != nil {
			return nil, err
		}
		facts, err := s.currentFactsByDBIDTx(ctx, tx, dbid)
		if err != nil {
			return nil, err
		}
		item := fact.New(change.UUID, facts)
		return &item, nil

	case change.IsCreate():
		ref, dbid, err := s.nextRefTx(ctx, tx, change.UUID, now, false)
		if err != nil {
			return nil, err
		}
		facts := append([]fact.Fact{fact.Ref(ref)}, change.Facts...)
		if err := s.insertFacts(ctx, tx, csDBID, dbid, facts); err != nil {
			return nil, err
		}
		item := fact.New(change.UUID, facts)
		return &item, nil

	default:
		dbid, err := s.dbidForUUID(ctx, tx, change.UUID)
		if err != nil {
			return nil, err
		}
		if err := s.insertFacts(ctx, tx, csDBID, dbid, change.Facts); err != nil {
			return nil, err
		}
		facts, err := s.currentFactsByDBIDTx(ctx, tx, dbid)
		if err != nil {
			return nil, err
		}
		item := fact.New(change.UUID, facts)
		return &item, nil
	}
}

func (s *Store) dbidForUUID(ctx context.Context, tx *sql.Tx, itemUUID string) (int64, error) {
	var dbid int64
	err := tx.QueryRowContext(ctx, `SELECT rowid FROM idlist WHERE uuid = ?`, itemUUID).Scan(&dbid)
	if err != nil {
		return 0, wrapDBError(fmt.Sprintf("resolve item %s", itemUUID), err)
	}
	return dbid, nil
}

func (s *Store) insertFacts(ctx context.Context, tx *sql.Tx, csDBID, dbid int64, facts []fact.Fact) error {
	for _, f := range facts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO facts (changeset, dbid, tag, prop, val, revoke, current)
			VALUES (?, ?, ?, ?, ?, 0, 1)`, csDBID, dbid, f.Tag, f.Prop, f.Value); err != nil {
			return wrapDBError("insert fact", err)
		}
		if f.Kind() == fact.KindArchived {
			if _, err := tx.ExecContext(ctx, `UPDATE idlist SET archived = 1 WHERE rowid = ?`, dbid); err != nil {
				return wrapDBError("mark item archived", err)
			}
		}
	}
	return nil
}

func (s *Store) insertRevokedFacts(ctx context.Context, tx *sql.Tx, csDBID, dbid int64, facts []fact.Fact) error {
	if len(facts) == 0 {
		return fmt.Errorf("revoke facts: %w", store.ErrMissingFacts)
	}
	for _, f := range facts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO facts (changeset, dbid, tag, prop, val, revoke, current)
			VALUES (?, ?, ?, ?, ?, 1, 1)`, csDBID, dbid, f.Tag, f.Prop, f.Value); err != nil {
			return wrapDBError("insert revoked fact", err)
		}
		if f.Kind() == fact.KindArchived {
			if _, err := tx.ExecContext(ctx, `UPDATE idlist SET archived = 0 WHERE rowid = ?`, dbid); err != nil {
				return wrapDBError("clear item archived", err)
			}
		}
	}
	return nil
}

func (s *Store) currentFactsByDBIDTx(ctx context.Context, tx *sql.Tx, dbid int64) ([]fact.Fact, error) {
	rows, err := tx.QueryContext(ctx, `SELECT tag, prop, val FROM facts WHERE dbid = ? AND revoke = 0 AND current = 1`, dbid)
	if err != nil {
		return nil, wrapDBError("query current facts in transaction", err)
	}
	return scanFactRows(rows)
}

var _ store.Store = (*Store)(nil)
