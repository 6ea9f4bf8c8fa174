package dolt

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/coreutil/factdb/pkg/changeset"
	"github.com/coreutil/factdb/pkg/fact"
	"github.com/coreutil/factdb/pkg/store"
)

// ChangeSetExists reports whether uuid has already been recorded.
func (s *Store) ChangeSetExists(ctx context.Context, uuid string) (bool, error) {
	var n int
	err := s.queryRowContext(ctx, func(row *sql.Row) error { return row.Scan(&n) },
		`SELECT COUNT(*) FROM changesets WHERE uuid = ?`, uuid)
	if err != nil {
		return false, wrapDBError("check changeset exists", err)
	}
	return n > 0, nil
}

// RecordChangeSet persists cs in the NEW->RECORDED transition, rejecting
// a uuid that already exists.
func (s *Store) RecordChangeSet(ctx context.Context, cs *changeset.ChangeSet) error {
	unlock := s.lockWriter(ctx)
	defer unlock()

	exists, err := s.ChangeSetExists(ctx, cs.UUID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("record changeset %s: %w", cs.UUID, store.ErrDuplicateChangeSet)
	}

	if cs.OriginRowID == 0 {
		var max sql.NullInt64
		err := s.queryRowContext(ctx, func(row *sql.Row) error { return row.Scan(&max) },
			`SELECT MAX(origin_rowid) FROM changesets WHERE origin = ?`, cs.Origin)
		if err != nil {
			return wrapDBError("compute origin rowid", err)
		}
		cs.OriginRowID = max.Int64 + 1
	}

	changesJSON, err := cs.ChangesJSON()
	if err != nil {
		return err
	}

	_, err = s.execContext(ctx, `
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
	err := s.queryRowContext(ctx, func(row *sql.Row) error {
		return row.Scan(&client, &createdStr, &query, &changesJSON, &origin, &originRowID, &applied, &replicated)
	}, `
		SELECT client, created, query, changes, origin, origin_rowid, applied, replicated
		FROM changesets WHERE uuid = ?`, uuid)
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
		if _, err := s.execContext(ctx, `UPDATE changesets SET applied = ? WHERE uuid = ?`, boolToInt(*applied), uuid); err != nil {
			return wrapDBError("update changeset applied flag", err)
		}
	}
	if replicated != nil {
		if _, err := s.execContext(ctx, `UPDATE changesets SET replicated = ? WHERE uuid = ?`, boolToInt(*replicated), uuid); err != nil {
			return wrapDBError("update changeset replicated flag", err)
		}
	}
	return nil
}

// GetUnreplicatedChangeSets returns changesets originated by this store
// that are applied but not yet replicated.
func (s *Store) GetUnreplicatedChangeSets(ctx context.Context) ([]*changeset.ChangeSet, error) {
	rows, err := s.queryContext(ctx, `
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
	err := s.queryRowContext(ctx, func(row *sql.Row) error { return row.Scan(&rowid) },
		`SELECT last_rowid FROM ingest_cursor WHERE origin_uuid = ?`, originUUID)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, wrapDBError("get ingest cursor", err)
	}
	return rowid.Int64, nil
}

// SetIngestCursor advances the ingestion cursor for originUUID, used by
// the replicator after it successfully applies an ingested changeset.
func (s *Store) SetIngestCursor(ctx context.Context, originUUID string, rowid int64) error {
	_, err := s.execContext(ctx, `
		INSERT INTO ingest_cursor (origin_uuid, last_rowid) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE last_rowid = IF(VALUES(last_rowid) > last_rowid, VALUES(last_rowid), last_rowid)`,
		originUUID, rowid)
	if err != nil {
		return wrapDBError("set ingest cursor", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ApplyChangeSet performs the RECORDED->APPLIED transition under a
// single backend transaction: materialise the changeset-item, apply
// each Change in order, mark the changeset applied, and return the
// changeset-item followed by one item per Change. The SQL commit lands
// the rows in the working set; no DOLT_COMMIT is issued here.
func (s *Store) ApplyChangeSet(ctx context.Context, uuid string) (result []*fact.Item, applyErr error) {
	ctx, span := doltTracer.Start(ctx, "dolt.apply_changeset",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(s.doltSpanAttrs(), attribute.String("factdb.changeset_uuid", uuid))...),
	)
	defer func() { endSpan(span, applyErr) }()

	unlock := s.lockWriter(ctx)
	defer unlock()

	cs, err := s.LoadChangeSet(ctx, uuid)
	if err != nil {
		applyErr = err
		return nil, err
	}
	if cs.Applied {
		applyErr = fmt.Errorf("apply changeset %s: %w", uuid, store.ErrAlreadyApplied)
		return nil, applyErr
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		applyErr = fmt.Errorf("begin apply transaction: %w", err)
		return nil, applyErr
	}
	defer tx.Rollback()

	items, err := s.applyChangeSetTx(ctx, tx, cs)
	if err != nil {
		applyErr = err
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE changesets SET applied = 1 WHERE uuid = ?`, uuid); err != nil {
		applyErr = wrapDBError("mark changeset applied", err)
		return nil, applyErr
	}

	if err := tx.Commit(); err != nil {
		applyErr = fmt.Errorf("commit apply transaction: %w", err)
		return nil, applyErr
	}
	doltMetrics.changesetsApplied.Add(ctx, 1)
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
	if err := s.insertFactsTx(ctx, tx, csDBID, csDBID, csFacts); err != nil {
		return nil, err
	}
	csItem := fact.New(cs.UUID, csFacts)
	items := []*fact.Item{&csItem}

	for _, change := range cs.Changes {
		item, err := s.applyChangeTx(ctx, tx, csDBID, now, change)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *Store) applyChangeTx(ctx context.Context, tx *sql.Tx, csDBID int64, now time.Time, change changeset.Change) (*fact.Item, error) {
	switch {
	case change.Revoke:
		if len(change.Facts) == 0 {
			return nil, fmt.Errorf("revoke facts: %w", store.ErrMissingFacts)
		}
		dbid, err := s.resolveUUIDTx(ctx, tx, change.UUID)
		if err != nil {
			return nil, err
		}
		if err := s.insertRevokedFactsTx(ctx, tx, csDBID, dbid, change.Facts); err != nil {
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
		if err := s.insertFactsTx(ctx, tx, csDBID, dbid, facts); err != nil {
			return nil, err
		}
		item := fact.New(change.UUID, facts)
		return &item, nil

	default:
		dbid, err := s.resolveUUIDTx(ctx, tx, change.UUID)
		if err != nil {
			return nil, err
		}
		if err := s.insertFactsTx(ctx, tx, csDBID, dbid, change.Facts); err != nil {
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

func (s *Store) resolveUUIDTx(ctx context.Context, tx *sql.Tx, itemUUID string) (int64, error) {
	var dbid int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM idlist WHERE uuid = ?`, itemUUID).Scan(&dbid)
	if err != nil {
		return 0, wrapDBError(fmt.Sprintf("resolve item %s", itemUUID), err)
	}
	return dbid, nil
}

func (s *Store) currentFactsByDBIDTx(ctx context.Context, tx *sql.Tx, dbid int64) ([]fact.Fact, error) {
	rows, err := tx.QueryContext(ctx, `SELECT tag, prop, val FROM facts WHERE dbid = ? AND revoked = 0 AND current = 1`, dbid)
	if err != nil {
		return nil, wrapDBError("query facts", err)
	}
	return scanFactRows(rows)
}

// collapseCurrentTx flips any older current row for (dbid, tag, prop) to
// non-current. MySQL forbids a trigger on facts from updating facts, so
// unlike the sqlite backend the collapse is an explicit statement issued
// before each insert, inside the same apply transaction.
func (s *Store) collapseCurrentTx(ctx context.Context, tx *sql.Tx, dbid int64, f fact.Fact) error {
	if _, err := tx.ExecContext(ctx, `UPDATE facts SET current = 0 WHERE dbid = ? AND tag = ? AND prop = ? AND current = 1`,
		dbid, f.Tag, f.Prop); err != nil {
		return wrapDBError("collapse current fact", err)
	}
	return nil
}

// insertFactsTx appends asserted facts for dbid, collapsing any older
// current row sharing the same (tag, prop).
func (s *Store) insertFactsTx(ctx context.Context, tx *sql.Tx, csDBID, dbid int64, facts []fact.Fact) error {
	for _, f := range facts {
		if err := s.collapseCurrentTx(ctx, tx, dbid, f); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO facts (changeset, dbid, tag, prop, val, revoked, current) VALUES (?, ?, ?, ?, ?, 0, 1)`,
			csDBID, dbid, f.Tag, f.Prop, f.Value); err != nil {
			return wrapDBError("insert fact", err)
		}
		if f.Kind() == fact.KindArchived {
			if _, err := tx.ExecContext(ctx, `UPDATE idlist SET archived = 1 WHERE id = ?`, dbid); err != nil {
				return wrapDBError("mark item archived", err)
			}
		}
	}
	return nil
}

func (s *Store) insertRevokedFactsTx(ctx context.Context, tx *sql.Tx, csDBID, dbid int64, facts []fact.Fact) error {
	for _, f := range facts {
		if err := s.collapseCurrentTx(ctx, tx, dbid, f); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO facts (changeset, dbid, tag, prop, val, revoked, current) VALUES (?, ?, ?, ?, ?, 1, 1)`,
			csDBID, dbid, f.Tag, f.Prop, f.Value); err != nil {
			return wrapDBError("insert revoked fact", err)
		}
		if f.Kind() == fact.KindArchived {
			if _, err := tx.ExecContext(ctx, `UPDATE idlist SET archived = 0 WHERE id = ?`, dbid); err != nil {
				return wrapDBError("clear item archived", err)
			}
		}
	}
	return nil
}

var _ store.Store = (*Store)(nil)
