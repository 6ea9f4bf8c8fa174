package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/coreutil/factdb/pkg/fact"
)

// factRow mirrors one row of the facts table.
type factRow struct {
	tag    string
	prop   string
	val    string
	revoke bool
}

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

// currentFactsByDBID loads every current_facts_inc_archived row for dbid,
// the view used by ref-based item lookup.
func (s *Store) currentFactsByDBID(ctx context.Context, dbid int64) ([]fact.Fact, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tag, prop, val FROM current_facts_inc_archived WHERE dbid = ?`, dbid)
	if err != nil {
		return nil, wrapDBError("query current facts", err)
	}
	return scanFactRows(rows)
}

// currentFactsByDBIDAny loads every current fact row for dbid regardless
// of archived/changeset status, used for uuid-based lookup which must
// also resolve changeset-items.
func (s *Store) currentFactsByDBIDAny(ctx context.Context, dbid int64) ([]fact.Fact, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tag, prop, val FROM facts WHERE dbid = ? AND revoke = 0 AND current = 1`, dbid)
	if err != nil {
		return nil, wrapDBError("query facts", err)
	}
	return scanFactRows(rows)
}
