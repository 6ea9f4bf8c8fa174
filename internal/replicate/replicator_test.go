package replicate_test

import (
	"context"
	"testing"

	"github.com/coreutil/factdb/internal/replicate"
	"github.com/coreutil/factdb/internal/replicate/transport/memory"
	memstore "github.com/coreutil/factdb/internal/storage/memory"
	"github.com/coreutil/factdb/pkg/changeset"
	"github.com/coreutil/factdb/pkg/fact"
)

func createItem(t *testing.T, s *memstore.Store, itemUUID string, facts []fact.Fact) {
	t.Helper()
	cs := changeset.New("factdb:alice", s.UUID(), "")
	cs.AddChange(changeset.Change{UUID: itemUUID, Facts: facts})
	if err := s.RecordChangeSet(context.Background(), cs); err != nil {
		t.Fatalf("RecordChangeSet: %v", err)
	}
	if _, err := s.ApplyChangeSet(context.Background(), cs.UUID); err != nil {
		t.Fatalf("ApplyChangeSet: %v", err)
	}
}

func TestPushThenPullReplicatesAcrossStores(t *testing.T) {
	ctx := context.Background()

	src, err := memstore.Open("salt-a")
	if err != nil {
		t.Fatalf("Open src: %v", err)
	}
	dst, err := memstore.Open("salt-b")
	if err != nil {
		t.Fatalf("Open dst: %v", err)
	}

	transport := memory.New()
	srcReplicator := replicate.New(src, transport)
	dstReplicator := replicate.New(dst, transport)

	createItem(t, src, "item-1", []fact.Fact{fact.Created("2026-01-01T00:00:00Z"), fact.Tag("todo"), fact.Content("buy milk")})

	if err := srcReplicator.Push(ctx); err != nil {
		t.Fatalf("Push: %v", err)
	}

	// tell dst to ingest from src
	createItem(t, dst, "ingest-src", []fact.Fact{fact.Created("2026-01-01T00:00:00Z"), fact.Tag("_ingest"), fact.Content(src.UUID())})

	if err := dstReplicator.Pull(ctx); err != nil {
		t.Fatalf("Pull: %v", err)
	}

	got, err := dst.GetItemByUUID(ctx, "item-1")
	if err != nil {
		t.Fatalf("expected item-1 to be ingested into dst: %v", err)
	}
	if got.Content() != "buy milk" {
		t.Fatalf("unexpected ingested content: %+v", got.Facts)
	}
}

func TestPullIsIdempotent(t *testing.T) {
	ctx := context.Background()

	src, err := memstore.Open("salt-a")
	if err != nil {
		t.Fatalf("Open src: %v", err)
	}
	dst, err := memstore.Open("salt-b")
	if err != nil {
		t.Fatalf("Open dst: %v", err)
	}

	transport := memory.New()
	srcReplicator := replicate.New(src, transport)
	dstReplicator := replicate.New(dst, transport)

	createItem(t, src, "item-2", []fact.Fact{fact.Created("2026-01-01T00:00:00Z"), fact.Tag("todo")})
	if err := srcReplicator.Push(ctx); err != nil {
		t.Fatalf("Push: %v", err)
	}
	createItem(t, dst, "ingest-src", []fact.Fact{fact.Created("2026-01-01T00:00:00Z"), fact.Tag("_ingest"), fact.Content(src.UUID())})

	if err := dstReplicator.Pull(ctx); err != nil {
		t.Fatalf("first Pull: %v", err)
	}
	if err := dstReplicator.Pull(ctx); err != nil {
		t.Fatalf("second Pull: %v", err)
	}

	changesets, err := dst.GetChangesets(ctx)
	if err != nil {
		t.Fatalf("GetChangesets: %v", err)
	}
	// one changeset for the local "_ingest" item creation, one for the
	// ingested item-2 changeset — re-pulling must not add a third.
	if len(changesets) != 2 {
		t.Fatalf("expected exactly 2 changesets after re-pull, got %d", len(changesets))
	}
}

func TestPullSkipsSelfOrigin(t *testing.T) {
	ctx := context.Background()

	s, err := memstore.Open("salt-a")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	transport := memory.New()
	r := replicate.New(s, transport)

	createItem(t, s, "ingest-self", []fact.Fact{fact.Created("2026-01-01T00:00:00Z"), fact.Tag("_ingest"), fact.Content(s.UUID())})

	if err := r.Pull(ctx); err != nil {
		t.Fatalf("Pull should skip self-origin without error: %v", err)
	}
}
