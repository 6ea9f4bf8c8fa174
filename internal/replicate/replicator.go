package replicate

import (
	"context"
	"errors"
	"log"
	"sort"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/coreutil/factdb/pkg/changeset"
	"github.com/coreutil/factdb/pkg/fact"
	"github.com/coreutil/factdb/pkg/store"
)

// ingestTag is the system tag marking an item as a replication source:
// its content field names the origin store uuid to pull from.
const ingestTag = "_ingest"

// Replicator implements txn.Replicator against a store.Store and a
// Transport, satisfying the push/pull contract.
type Replicator struct {
	store     store.Store
	transport Transport

	// newBackOff builds a fresh retry policy per attempt; overridable in
	// tests to avoid real sleeps.
	newBackOff func() backoff.BackOff
}

// New returns a Replicator shipping changesets between s and transport.
func New(s store.Store, transport Transport) *Replicator {
	return &Replicator{
		store:     s,
		transport: transport,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
}

// Push implements the outbound half of: idempotently ship every
// applied-but-unreplicated changeset originated by this store. A
// transport error for one changeset is logged and retried on the next
// call rather than aborting the whole push.
func (r *Replicator) Push(ctx context.Context) error {
	pending, err := r.store.GetUnreplicatedChangeSets(ctx)
	if err != nil {
		return err
	}
	for _, cs := range pending {
		payload, err := cs.MarshalPayload()
		if err != nil {
			return err
		}
		origin, rowid := cs.Origin, cs.OriginRowID
		putErr := backoff.Retry(func() error {
			return r.transport.Put(ctx, origin, rowid, payload)
		}, backoff.WithContext(r.newBackOff(), ctx))
		if putErr != nil {
			log.Printf("replicate: push changeset %s failed, will retry later: %v", cs.UUID, putErr)
			continue
		}
		replicated := true
		if err := r.store.UpdateChangeSet(ctx, cs.UUID, nil, &replicated); err != nil {
			return err
		}
	}
	return nil
}

// Pull implements the inbound half of: for every item tagged
// _ingest, fetch and apply changesets newer than the last ingested
// cursor from that origin. Origins are pulled concurrently; within one
// origin, changesets are applied in origin_rowid order.
func (r *Replicator) Pull(ctx context.Context) error {
	sources, err := r.store.GetItems(ctx, []fact.Fact{fact.Tag(ingestTag)})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range sources {
		origin := src.Content()
		if origin == "" || origin == r.store.UUID() {
			continue
		}
		g.Go(func() error {
			return r.pullFrom(gctx, origin)
		})
	}
	return g.Wait()
}

func (r *Replicator) pullFrom(ctx context.Context, origin string) error {
	cursor, err := r.store.GetLastIngestedChangeSet(ctx, origin)
	if err != nil {
		return err
	}

	var records []Record
	err = backoff.Retry(func() error {
		var qerr error
		records, qerr = r.transport.Query(ctx, origin, cursor)
		return qerr
	}, backoff.WithContext(r.newBackOff(), ctx))
	if err != nil {
		log.Printf("replicate: pull from %s failed, will retry later: %v", origin, err)
		return nil
	}

	sort.Slice(records, func(i, j int) bool { return records[i].RowID < records[j].RowID })

	for _, rec := range records {
		if err := r.ingest(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// ingest applies a single fetched record per the three steps of:
// self-loop skip, idempotent record, apply. A malformed payload is
// logged and skipped without advancing the cursor past it.
func (r *Replicator) ingest(ctx context.Context, rec Record) error {
	if rec.Origin == r.store.UUID() {
		return nil
	}

	var cs changeset.ChangeSet
	if err := cs.UnmarshalPayload(rec.Payload); err != nil {
		log.Printf("replicate: ingest payload at (%s, %d) invalid, skipping: %v", rec.Origin, rec.RowID, err)
		return nil
	}
	cs.Origin = rec.Origin
	cs.OriginRowID = rec.RowID

	if err := r.store.RecordChangeSet(ctx, &cs); err != nil {
		if errors.Is(err, store.ErrDuplicateChangeSet) {
			return r.store.SetIngestCursor(ctx, rec.Origin, rec.RowID)
		}
		return err
	}
	if _, err := r.store.ApplyChangeSet(ctx, cs.UUID); err != nil {
		return err
	}
	return r.store.SetIngestCursor(ctx, rec.Origin, rec.RowID)
}
