// Package memory is an in-process Transport for tests and single-machine
// multi-store demos: a mutex-guarded map keyed by (origin, rowid).
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/coreutil/factdb/internal/replicate"
)

// Transport is a map-backed replicate.Transport. The zero value is ready
// to use.
type Transport struct {
	mu   sync.Mutex
	data map[string]map[int64][]byte
}

// New returns a ready-to-use in-process Transport.
func New() *Transport {
	return &Transport{data: make(map[string]map[int64][]byte)}
}

// Put stores payload at (origin, rowid), overwriting any existing entry.
func (t *Transport) Put(ctx context.Context, origin string, rowid int64, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.data == nil {
		t.data = make(map[string]map[int64][]byte)
	}
	byRow, ok := t.data[origin]
	if !ok {
		byRow = make(map[int64][]byte)
		t.data[origin] = byRow
	}
	byRow[rowid] = append([]byte(nil), payload...)
	return nil
}

// Query returns every record for origin with rowid > sinceRowID,
// ascending by rowid.
func (t *Transport) Query(ctx context.Context, origin string, sinceRowID int64) ([]replicate.Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	byRow := t.data[origin]
	out := make([]replicate.Record, 0, len(byRow))
	for rowid, payload := range byRow {
		if rowid <= sinceRowID {
			continue
		}
		out = append(out, replicate.Record{Origin: origin, RowID: rowid, Payload: append([]byte(nil), payload...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RowID < out[j].RowID })
	return out, nil
}

var _ replicate.Transport = (*Transport)(nil)
