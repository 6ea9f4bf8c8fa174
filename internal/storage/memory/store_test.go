package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coreutil/factdb/pkg/changeset"
	"github.com/coreutil/factdb/pkg/fact"
	"github.com/coreutil/factdb/pkg/store"
)

func mustOpen(t *testing.T) *Store {
	t.Helper()
	s, err := Open("test-salt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func recordAndApply(t *testing.T, s *Store, client string, changes ...changeset.Change) []*fact.Item {
	t.Helper()
	cs := changeset.New(client, s.UUID(), "")
	for _, c := range changes {
		cs.AddChange(c)
	}
	if err := s.RecordChangeSet(context.Background(), cs); err != nil {
		t.Fatalf("RecordChangeSet: %v", err)
	}
	items, err := s.ApplyChangeSet(context.Background(), cs.UUID)
	if err != nil {
		t.Fatalf("ApplyChangeSet: %v", err)
	}
	return items
}

func TestCreateThenGetItem(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()

	itemUUID := "item-1"
	facts := []fact.Fact{
		fact.Created(time.Now().UTC().Format(time.RFC3339Nano)),
		fact.Tag("todo"),
		fact.Content("go to supermarket"),
	}
	items := recordAndApply(t, s, "factdb:alice", changeset.Change{UUID: itemUUID, Facts: facts})
	if len(items) != 2 {
		t.Fatalf("expected changeset-item + item, got %d", len(items))
	}

	created := items[1]
	ref := created.Ref()
	if ref == "" {
		t.Fatalf("expected allocated ref, got none: %+v", created.Facts)
	}

	got, err := s.GetItem(ctx, ref)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if !got.HasTag("todo") || got.Content() != "go to supermarket" {
		t.Fatalf("unexpected item: %+v", got.Facts)
	}
}

func TestCollapseOnUpdate(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()

	itemUUID := "item-2"
	recordAndApply(t, s, "factdb:alice", changeset.Change{
		UUID:  itemUUID,
		Facts: []fact.Fact{fact.Created("2026-01-01T00:00:00Z"), fact.Value("book", "status", "open")},
	})

	recordAndApply(t, s, "factdb:alice", changeset.Change{
		UUID:  itemUUID,
		Facts: []fact.Fact{fact.Value("book", "status", "closed")},
	})

	got, err := s.GetItemByUUID(ctx, itemUUID)
	if err != nil {
		t.Fatalf("GetItemByUUID: %v", err)
	}
	if !got.HasValue("book", "status", "closed") {
		t.Fatalf("expected only current value to survive collapse: %+v", got.Facts)
	}
	for _, f := range got.Facts {
		if f.Tag == "book" && f.Prop == "status" && f.Value == "open" {
			t.Fatalf("stale value should have been collapsed out: %+v", got.Facts)
		}
	}
}

func TestRevokeHidesFact(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()

	itemUUID := "item-3"
	recordAndApply(t, s, "factdb:alice", changeset.Change{
		UUID:  itemUUID,
		Facts: []fact.Fact{fact.Created("2026-01-01T00:00:00Z"), fact.Flag("todo", "waiting")},
	})
	recordAndApply(t, s, "factdb:alice", changeset.Change{
		UUID:   itemUUID,
		Facts:  []fact.Fact{fact.Flag("todo", "waiting")},
		Revoke: true,
	})

	got, err := s.GetItemByUUID(ctx, itemUUID)
	if err != nil {
		t.Fatalf("GetItemByUUID: %v", err)
	}
	if got.Has("todo", "waiting") {
		t.Fatalf("revoked flag should not be present: %+v", got.Facts)
	}
}

func TestArchivedItemExcludedFromGetItemsButReachableByRef(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()

	itemUUID := "item-4"
	items := recordAndApply(t, s, "factdb:alice", changeset.Change{
		UUID:  itemUUID,
		Facts: []fact.Fact{fact.Created("2026-01-01T00:00:00Z"), fact.Tag("todo")},
	})
	ref := items[1].Ref()

	recordAndApply(t, s, "factdb:alice", changeset.Change{
		UUID:  itemUUID,
		Facts: []fact.Fact{fact.Archived()},
	})

	list, err := s.GetItems(ctx, nil)
	if err != nil {
		t.Fatalf("GetItems: %v", err)
	}
	for _, it := range list {
		if it.UUID == itemUUID {
			t.Fatalf("archived item should be excluded from default listing")
		}
	}

	byRef, err := s.GetItem(ctx, ref)
	if err != nil {
		t.Fatalf("archived item should remain reachable by ref: %v", err)
	}
	if !byRef.Archived() {
		t.Fatalf("expected archived flag on ref lookup: %+v", byRef.Facts)
	}
}

func TestDuplicateChangeSetRejected(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()

	cs := changeset.New("factdb:alice", s.UUID(), "")
	cs.AddChange(changeset.Change{UUID: "item-5", Facts: []fact.Fact{fact.Created("2026-01-01T00:00:00Z"), fact.Tag("todo")}})
	if err := s.RecordChangeSet(ctx, cs); err != nil {
		t.Fatalf("RecordChangeSet: %v", err)
	}
	if err := s.RecordChangeSet(ctx, cs); err == nil {
		t.Fatal("expected duplicate changeset to be rejected")
	} else if !errors.Is(err, store.ErrDuplicateChangeSet) {
		t.Fatalf("expected ErrDuplicateChangeSet, got %v", err)
	}
}

func TestHintsCountDistinctItems(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()

	recordAndApply(t, s, "factdb:alice",
		changeset.Change{UUID: "a", Facts: []fact.Fact{fact.Created("2026-01-01T00:00:00Z"), fact.Tag("todo")}},
		changeset.Change{UUID: "b", Facts: []fact.Fact{fact.Created("2026-01-01T00:00:00Z"), fact.Tag("todo")}},
	)

	hints, err := s.GetHints(ctx, "#tod")
	if err != nil {
		t.Fatalf("GetHints: %v", err)
	}
	found := false
	for _, h := range hints {
		if h.HasTag("todo") {
			found = true
			if h.Facts[len(h.Facts)-1].Value != "2" {
				t.Fatalf("expected count=2 for #todo, got %+v", h.Facts)
			}
		}
	}
	if !found {
		t.Fatal("expected #todo in hints")
	}
}
