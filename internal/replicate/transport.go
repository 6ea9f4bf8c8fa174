// Package replicate ships applied changesets to peer stores and ingests
// changesets peers have shipped, over a pluggable key-range transport
// keyed by (origin_uuid, origin_rowid).
package replicate

import "context"

// Record is one entry read back from a Transport: the changeset payload
// plus the (origin, rowid) key it was stored under.
type Record struct {
	Origin  string
	RowID   int64
	Payload []byte
}

// Transport is the ordered key-range KV contract the replicator needs:
// "put at (origin, rowid)" and "query by origin, rowid > cursor". Any
// durable store satisfying this — a cloud KV table, an embedded log, an
// in-process map for tests — is a valid replication medium.
type Transport interface {
	// Put writes payload at (origin, rowid). Writes must be safe to
	// retry and must accept overwrites of an identical key.
	Put(ctx context.Context, origin string, rowid int64, payload []byte) error
	// Query returns every record for origin with rowid > sinceRowID,
	// ascending by rowid.
	Query(ctx context.Context, origin string, sinceRowID int64) ([]Record, error)
}
