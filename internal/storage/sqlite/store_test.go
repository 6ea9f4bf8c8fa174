package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/coreutil/factdb/internal/storage/sqlite"
	"github.com/coreutil/factdb/internal/txn"
	"github.com/coreutil/factdb/pkg/changeset"
	"github.com/coreutil/factdb/pkg/fact"
	"github.com/coreutil/factdb/pkg/store"
)

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "facts.db")
	s, err := sqlite.Open(context.Background(), path, "test-salt")
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateGetSetDelArchiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	c := txn.NewClient(s, "factdb:alice")

	created, err := c.Q(ctx, "CREATE buy milk #todo", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("expected changeset-item + created item, got %d", len(created))
	}
	item := created[1]
	ref := item.Ref()

	got, err := c.Q(ctx, "@"+ref, nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 1 || got[0].Content() != "buy milk" {
		t.Fatalf("unexpected get result: %+v", got)
	}

	if _, err := c.Q(ctx, "@"+ref+" SET #todo/priority=high", nil); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err = c.Q(ctx, "@"+ref, nil)
	if err != nil {
		t.Fatalf("get after set: %v", err)
	}
	if !got[0].HasValue("todo", "priority", "high") {
		t.Fatalf("expected priority=high after set, got %+v", got[0].Facts)
	}

	if _, err := c.Q(ctx, "@"+ref+" DEL #todo/priority=high", nil); err != nil {
		t.Fatalf("del: %v", err)
	}
	got, err = c.Q(ctx, "@"+ref, nil)
	if err != nil {
		t.Fatalf("get after del: %v", err)
	}
	if got[0].Has("todo", "priority") {
		t.Fatalf("expected priority to be revoked, got %+v", got[0].Facts)
	}

	if _, err := c.Q(ctx, "@"+ref+" ARCHIVE", nil); err != nil {
		t.Fatalf("archive: %v", err)
	}
	got, err = c.Q(ctx, "@"+ref, nil)
	if err != nil {
		t.Fatalf("get after archive: %v", err)
	}
	if !got[0].Archived() {
		t.Fatalf("expected item to be archived, got %+v", got[0].Facts)
	}
}

func TestCollapseKeepsOneCurrentRowPerProp(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	c := txn.NewClient(s, "factdb:alice")

	created, err := c.Q(ctx, "CREATE #book #book/status=reading", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ref := created[1].Ref()

	for i := 0; i < 3; i++ {
		if _, err := c.Q(ctx, "@"+ref+" SET #book/status=done", nil); err != nil {
			t.Fatalf("set %d: %v", i, err)
		}
	}

	got, err := c.Q(ctx, "@"+ref, nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	n := 0
	for _, f := range got[0].Facts {
		if f.Tag == "book" && f.Prop == "status" {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("expected exactly one current book/status fact after repeated sets, got %d", n)
	}
}

func TestHintsReturnTagsAndProps(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	c := txn.NewClient(s, "factdb:alice")

	if _, err := c.Q(ctx, "CREATE a #todo #todo/priority=high", nil); err != nil {
		t.Fatalf("create a: %v", err)
	}
	if _, err := c.Q(ctx, "CREATE b #todo", nil); err != nil {
		t.Fatalf("create b: %v", err)
	}

	tagHints, err := c.Q(ctx, "HINTS #tod", nil)
	if err != nil {
		t.Fatalf("hints tags: %v", err)
	}
	if len(tagHints) != 1 || !tagHints[0].HasTag("todo") {
		t.Fatalf("expected one todo tag hint, got %+v", tagHints)
	}

	propHints, err := c.Q(ctx, "HINTS #todo/pri", nil)
	if err != nil {
		t.Fatalf("hints props: %v", err)
	}
	if len(propHints) != 1 {
		t.Fatalf("expected one todo/priority prop hint, got %+v", propHints)
	}
}

func TestHistoryListsRevokedAndCurrentFacts(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	c := txn.NewClient(s, "factdb:alice")

	created, err := c.Q(ctx, "CREATE #todo", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ref := created[1].Ref()
	if _, err := c.Q(ctx, "@"+ref+" SET #todo/priority=high", nil); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := c.Q(ctx, "@"+ref+" DEL #todo/priority=high", nil); err != nil {
		t.Fatalf("del: %v", err)
	}

	hist, err := c.Q(ctx, "@"+ref+" HISTORY", nil)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) < 2 {
		t.Fatalf("expected at least 2 history entries (add + revoke), got %d", len(hist))
	}
}

func TestApplyChangeSetRejectsDuplicateAndDoubleApply(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	cs := changeset.New("factdb:alice", s.UUID(), "CREATE #todo")
	cs.AddChange(changeset.Change{UUID: "item-1", Facts: []fact.Fact{fact.Created("2026-01-01T00:00:00Z"), fact.Tag("todo")}})

	if err := s.RecordChangeSet(ctx, cs); err != nil {
		t.Fatalf("first RecordChangeSet: %v", err)
	}
	if err := s.RecordChangeSet(ctx, cs); !errors.Is(err, store.ErrDuplicateChangeSet) {
		t.Fatalf("expected ErrDuplicateChangeSet on re-record, got %v", err)
	}

	if _, err := s.ApplyChangeSet(ctx, cs.UUID); err != nil {
		t.Fatalf("first ApplyChangeSet: %v", err)
	}
	if _, err := s.ApplyChangeSet(ctx, cs.UUID); !errors.Is(err, store.ErrAlreadyApplied) {
		t.Fatalf("expected ErrAlreadyApplied on re-apply, got %v", err)
	}
}

func TestGetItemNotFound(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if _, err := s.GetItem(ctx, "nonexistent-ref"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestChangesetsListsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	c := txn.NewClient(s, "factdb:alice")

	if _, err := c.Q(ctx, "CREATE first #todo", nil); err != nil {
		t.Fatalf("create first: %v", err)
	}
	if _, err := c.Q(ctx, "CREATE second #todo", nil); err != nil {
		t.Fatalf("create second: %v", err)
	}

	changesets, err := c.Q(ctx, "CHANGESETS", nil)
	if err != nil {
		t.Fatalf("changesets: %v", err)
	}
	if len(changesets) < 2 {
		t.Fatalf("expected at least 2 changesets, got %d", len(changesets))
	}
	if !changesets[0].HasValue("_tx", "query", "CREATE second #todo") {
		t.Fatalf("expected newest changeset first, got %v", changesets[0])
	}
}
