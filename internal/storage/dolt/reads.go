package dolt

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/coreutil/factdb/pkg/fact"
)

const itemResultCap = 100

func scanFactRows(rows *sql.Rows) ([]fact.Fact, error) {
	defer rows.Close()
	var facts []fact.Fact
	for rows.Next() {
		var tag, prop, val string
		if err := rows.Scan(&tag, &prop, &val); err != nil {
			return nil, fmt.Errorf("scan fact row: %w", err)
		}
		facts = append(facts, fact.Fact{Tag: tag, Prop: prop, Value: val})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fact rows: %w", err)
	}
	return facts, nil
}

func (s *Store) currentFactsByDBID(ctx context.Context, dbid int64) ([]fact.Fact, error) {
	rows, err := s.queryContext(ctx, `SELECT tag, prop, val FROM current_facts_inc_archived WHERE dbid = ?`, dbid)
	if err != nil {
		return nil, wrapDBError("query current facts", err)
	}
	return scanFactRows(rows)
}

func (s *Store) currentFactsByDBIDAny(ctx context.Context, dbid int64) ([]fact.Fact, error) {
	rows, err := s.queryContext(ctx, `SELECT tag, prop, val FROM facts WHERE dbid = ? AND revoked = 0 AND current = 1`, dbid)
	if err != nil {
		return nil, wrapDBError("query facts", err)
	}
	return scanFactRows(rows)
}

// GetItem returns the current item for ref, excluding revoked and
// non-current rows. Archived items remain reachable by ref.
func (s *Store) GetItem(ctx context.Context, ref string) (*fact.Item, error) {
	var dbid int64
	var itemUUID string
	err := s.queryRowContext(ctx, func(row *sql.Row) error { return row.Scan(&dbid, &itemUUID) },
		`SELECT id, uuid FROM idlist WHERE ref = ? AND uuid IS NOT NULL`, ref)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("get item %s", ref), err)
	}
	facts, err := s.currentFactsByDBID(ctx, dbid)
	if err != nil {
		return nil, err
	}
	item := fact.New(itemUUID, facts)
	return &item, nil
}

// GetItemByUUID resolves an item or changeset-item by its durable uuid.
func (s *Store) GetItemByUUID(ctx context.Context, uuid string) (*fact.Item, error) {
	var dbid int64
	err := s.queryRowContext(ctx, func(row *sql.Row) error { return row.Scan(&dbid) },
		`SELECT id FROM idlist WHERE uuid = ? OR changeset_uuid = ?`, uuid, uuid)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("get item by uuid %s", uuid), err)
	}
	facts, err := s.currentFactsByDBIDAny(ctx, dbid)
	if err != nil {
		return nil, err
	}
	item := fact.New(uuid, facts)
	return &item, nil
}

// GetItems returns every current item matching all of search (AND),
// ordered by creation time, capped at itemResultCap.
func (s *Store) GetItems(ctx context.Context, search []fact.Fact) ([]*fact.Item, error) {
	rows, err := s.queryContext(ctx, `SELECT id, uuid, archived FROM idlist WHERE uuid IS NOT NULL ORDER BY created ASC, id ASC`)
	if err != nil {
		return nil, wrapDBError("list items", err)
	}
	defer rows.Close()

	var candidates []struct {
		dbid     int64
		uuid     string
		archived bool
	}
	for rows.Next() {
		var dbid int64
		var itemUUID string
		var archived int
		if err := rows.Scan(&dbid, &itemUUID, &archived); err != nil {
			return nil, fmt.Errorf("scan idlist row: %w", err)
		}
		candidates = append(candidates, struct {
			dbid     int64
			uuid     string
			archived bool
		}{dbid, itemUUID, archived != 0})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate idlist rows: %w", err)
	}

	var out []*fact.Item
	for _, c := range candidates {
		if c.archived && !anyArchivedSearch(search) {
			// archived items are excluded from the current view unless
			// explicitly queried.
			continue
		}
		facts, err := s.currentFactsByDBID(ctx, c.dbid)
		if err != nil {
			return nil, err
		}
		item := fact.New(c.uuid, facts)
		if item.MatchesAll(search) {
			out = append(out, &item)
			if len(out) >= itemResultCap {
				break
			}
		}
	}
	return out, nil
}

func anyArchivedSearch(search []fact.Fact) bool {
	for _, f := range search {
		if f.Tag == fact.SysTag && f.Prop == "archived" {
			return true
		}
	}
	return false
}

// GetHints implements tag/prop discovery.
func (s *Store) GetHints(ctx context.Context, prefix string) ([]*fact.Item, error) {
	prefix = strings.TrimPrefix(prefix, "#")
	tagPart, rest, hasSlash := strings.Cut(prefix, "/")
	includeSystem := strings.HasPrefix(tagPart, "_")

	if !hasSlash {
		return s.hintTags(ctx, tagPart, includeSystem)
	}
	return s.hintProps(ctx, tagPart, rest)
}

func (s *Store) hintTags(ctx context.Context, tagPrefix string, includeSystem bool) ([]*fact.Item, error) {
	rows, err := s.queryContext(ctx, `
		SELECT tag, COUNT(DISTINCT dbid) FROM current_facts
		WHERE tag LIKE ?
		GROUP BY tag
		ORDER BY tag`, likePrefix(tagPrefix))
	if err != nil {
		return nil, wrapDBError("hint tags", err)
	}
	defer rows.Close()

	var out []*fact.Item
	for rows.Next() {
		var tag string
		var count int
		if err := rows.Scan(&tag, &count); err != nil {
			return nil, fmt.Errorf("scan tag hint: %w", err)
		}
		if strings.HasPrefix(tag, "_") && !includeSystem {
			continue
		}
		item := fact.New("", []fact.Fact{fact.Tag(tag), fact.Value(fact.SysTag, "count", strconv.Itoa(count))})
		out = append(out, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tag hints: %w", err)
	}
	return out, nil
}

func (s *Store) hintProps(ctx context.Context, tag, propPrefix string) ([]*fact.Item, error) {
	rows, err := s.queryContext(ctx, `
		SELECT prop, COUNT(DISTINCT dbid) FROM current_facts
		WHERE tag = ? AND prop != '' AND prop LIKE ?
		GROUP BY prop
		ORDER BY prop`, tag, likePrefix(propPrefix))
	if err != nil {
		return nil, wrapDBError("hint props", err)
	}
	defer rows.Close()

	var out []*fact.Item
	for rows.Next() {
		var prop string
		var count int
		if err := rows.Scan(&prop, &count); err != nil {
			return nil, fmt.Errorf("scan prop hint: %w", err)
		}
		item := fact.New("", []fact.Fact{fact.Flag(tag, prop), fact.Value(fact.SysTag, "count", strconv.Itoa(count))})
		out = append(out, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prop hints: %w", err)
	}
	return out, nil
}

func likePrefix(prefix string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	return escaped + "%"
}

// GetHistory returns every fact row ever written for ref, newest-first.
// Without a ref it returns the last 100 transactions instead.
func (s *Store) GetHistory(ctx context.Context, ref string) ([]*fact.Item, error) {
	if ref == "" {
		return s.GetChangesets(ctx)
	}

	var dbid int64
	err := s.queryRowContext(ctx, func(row *sql.Row) error { return row.Scan(&dbid) },
		`SELECT id FROM idlist WHERE ref = ?`, ref)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("get history %s", ref), err)
	}

	rows, err := s.queryContext(ctx, `
		SELECT tag, prop, val, revoked FROM facts
		WHERE dbid = ?
		ORDER BY id DESC`, dbid)
	if err != nil {
		return nil, wrapDBError("query history", err)
	}
	defer rows.Close()

	var out []*fact.Item
	for rows.Next() {
		var tag, prop, val string
		var revoke int
		if err := rows.Scan(&tag, &prop, &val, &revoke); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		verb := "Added "
		if revoke != 0 {
			verb = "Revoked "
		}
		rendered := fact.Fact{Tag: tag, Prop: prop, Value: val}.Render()
		item := fact.New("", []fact.Fact{fact.Content(verb + rendered)})
		out = append(out, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}
	return out, nil
}

// GetChangesets returns the last 100 changeset-items, newest first.
func (s *Store) GetChangesets(ctx context.Context) ([]*fact.Item, error) {
	rows, err := s.queryContext(ctx, `
		SELECT id, changeset_uuid FROM idlist
		WHERE changeset_uuid IS NOT NULL
		ORDER BY id DESC
		LIMIT ?`, itemResultCap)
	if err != nil {
		return nil, wrapDBError("list changesets", err)
	}
	defer rows.Close()

	var candidates []struct {
		dbid int64
		uuid string
	}
	for rows.Next() {
		var dbid int64
		var csUUID string
		if err := rows.Scan(&dbid, &csUUID); err != nil {
			return nil, fmt.Errorf("scan changeset idlist row: %w", err)
		}
		candidates = append(candidates, struct {
			dbid int64
			uuid string
		}{dbid, csUUID})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changeset idlist rows: %w", err)
	}

	var out []*fact.Item
	for _, c := range candidates {
		facts, err := s.currentFactsByDBIDAny(ctx, c.dbid)
		if err != nil {
			return nil, err
		}
		item := fact.New(c.uuid, facts)
		out = append(out, &item)
	}
	return out, nil
}

// NextRef allocates the next monotonic id, materialises its ref via the
// salt-keyed codec, and persists the mapping.
func (s *Store) NextRef(ctx context.Context, itemUUID string, created time.Time, isChangeset bool) (string, int64, error) {
	return s.nextRefTx(ctx, s.db, itemUUID, created, isChangeset)
}

func (s *Store) nextRefTx(ctx context.Context, q queryer, itemUUID string, created time.Time, isChangeset bool) (string, int64, error) {
	var uuidCol, csCol interface{}
	if isChangeset {
		csCol = itemUUID
	} else {
		uuidCol = itemUUID
	}

	// Dolt requires a ref value at insert time (unique, non-null); a
	// short placeholder is replaced with the real codec-derived ref once
	// the auto-increment id is known, mirroring the sqlite backend's
	// allocate-then-fix-up two-step.
	res, err := q.ExecContext(ctx, `INSERT INTO idlist (ref, uuid, changeset_uuid, created, archived) VALUES (UUID(), ?, ?, ?, 0)`,
		uuidCol, csCol, created.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", 0, wrapDBError("allocate id", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", 0, fmt.Errorf("read last insert id: %w", err)
	}

	ref := s.codec.Encode(uint64(id))
	if _, err := q.ExecContext(ctx, `UPDATE idlist SET ref = ? WHERE id = ?`, ref, id); err != nil {
		return "", 0, wrapDBError("persist ref", err)
	}
	return ref, id, nil
}
