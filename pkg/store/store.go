// Package store defines the engine contract every backend (sqlite,
// dolt, in-memory) implements: the append-only fact log plus the
// changeset persistence and replication bookkeeping.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/coreutil/factdb/pkg/changeset"
	"github.com/coreutil/factdb/pkg/fact"
)

// Sentinel errors every backend returns for the same failure modes.
// Backends wrap these with operation context via
// fmt.Errorf("%s: %w", op, err) rather than defining their own error
// types.
var (
	ErrNotFound           = errors.New("not found")
	ErrMissingFacts       = errors.New("missing facts")
	ErrDuplicateChangeSet = errors.New("changeset already exists")
	ErrAlreadyApplied     = errors.New("changeset already applied")
	ErrSchemaVersion      = errors.New("unsupported schema version")
)

// Store is the stateful engine contract. A failure that matches one of
// the modes above returns that sentinel error, wrapped with context;
// other backend errors are wrapped and returned without a sentinel.
type Store interface {
	// UUID is this store's own origin identifier, used to tag
	// changesets it records and to recognise self-loops in ingestion.
	UUID() string

	// GetItem returns the current item for ref, excluding revoked and
	// non-current rows. Archived items remain reachable by ref.
	GetItem(ctx context.Context, ref string) (*fact.Item, error)
	// GetItemByUUID resolves an item (or changeset-item) by its durable
	// uuid rather than its store-local ref.
	GetItemByUUID(ctx context.Context, uuid string) (*fact.Item, error)
	// GetItems returns items matching every fact in search (AND),
	// ordered by creation time, capped at 100.
	GetItems(ctx context.Context, search []fact.Fact) ([]*fact.Item, error)
	// GetHints returns one item per distinct tag or prop matching
	// prefix (a "#t" or "#t/p" literal), each carrying a count.
	GetHints(ctx context.Context, prefix string) ([]*fact.Item, error)
	// GetHistory returns every fact row ever written for ref,
	// newest-first. An empty ref returns the last 100 transactions
	// across the whole store instead of one item's history.
	GetHistory(ctx context.Context, ref string) ([]*fact.Item, error)
	// GetChangesets returns the last 100 changeset-items.
	GetChangesets(ctx context.Context) ([]*fact.Item, error)

	// NextRef allocates the next monotonic id, materialises its ref via
	// the salt-keyed codec, and persists the (ref, uuid, created)
	// mapping.
	NextRef(ctx context.Context, itemUUID string, created time.Time, isChangeset bool) (ref string, id int64, err error)

	// RecordChangeSet persists cs in the NEW->RECORDED transition,
	// rejecting a uuid that already exists.
	RecordChangeSet(ctx context.Context, cs *changeset.ChangeSet) error
	// LoadChangeSet fetches a previously recorded changeset by uuid.
	LoadChangeSet(ctx context.Context, uuid string) (*changeset.ChangeSet, error)
	// ChangeSetExists reports whether a changeset with uuid has already
	// been recorded.
	ChangeSetExists(ctx context.Context, uuid string) (bool, error)
	// ApplyChangeSet performs the RECORDED->APPLIED transition,
	// returning the changeset-item followed by one item per Change, in
	// change order.
	ApplyChangeSet(ctx context.Context, uuid string) ([]*fact.Item, error)
	// UpdateChangeSet flips the applied/replicated terminal flags;
	// either pointer may be nil to leave that flag untouched.
	UpdateChangeSet(ctx context.Context, uuid string, applied, replicated *bool) error

	// GetUnreplicatedChangeSets returns changesets originated by this
	// store that are applied but not yet replicated.
	GetUnreplicatedChangeSets(ctx context.Context) ([]*changeset.ChangeSet, error)
	// GetLastIngestedChangeSet returns the highest origin_rowid ingested
	// from originUUID, or 0 if none has been ingested yet.
	GetLastIngestedChangeSet(ctx context.Context, originUUID string) (int64, error)
	// SetIngestCursor advances the ingestion cursor for originUUID to
	// rowid, the bookkeeping ingest_replication uses to avoid
	// re-querying already-applied changesets. Implementations
	// must only move the cursor forward.
	SetIngestCursor(ctx context.Context, originUUID string, rowid int64) error

	// Close releases the backend's underlying resources.
	Close() error
}
