package txn_test

import (
	"context"
	"testing"

	"github.com/coreutil/factdb/internal/storage/memory"
	"github.com/coreutil/factdb/internal/txn"
	"github.com/coreutil/factdb/pkg/fact"
)

func newClient(t *testing.T) *txn.Client {
	t.Helper()
	s, err := memory.Open("test-salt")
	if err != nil {
		t.Fatalf("memory.Open: %v", err)
	}
	return txn.NewClient(s, "factdb:alice")
}

func TestCreateGetListRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	created, err := c.Q(ctx, "CREATE go to supermarket #todo", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// changeset-item + the created item
	if len(created) != 2 {
		t.Fatalf("expected 2 items from create, got %d", len(created))
	}
	ref := created[1].Ref()
	if ref == "" {
		t.Fatalf("expected a ref on the created item: %+v", created[1].Facts)
	}

	got, err := c.Q(ctx, "@"+ref, nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 1 || got[0].Content() != "go to supermarket" {
		t.Fatalf("unexpected get result: %+v", got)
	}

	listed, err := c.Q(ctx, "#todo", nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected 1 todo item, got %d", len(listed))
	}
}

func TestSetDelArchiveLifecycle(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	created, err := c.Q(ctx, "CREATE #book #book/what=physio", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ref := created[1].Ref()

	if _, err := c.Q(ctx, "@"+ref+" SET #book/status=open", nil); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := c.Q(ctx, "@"+ref, nil)
	if err != nil {
		t.Fatalf("get after set: %v", err)
	}
	if !got[0].HasValue("book", "status", "open") {
		t.Fatalf("expected status=open after set: %+v", got[0].Facts)
	}

	if _, err := c.Q(ctx, "@"+ref+" DEL #book/status=open", nil); err != nil {
		t.Fatalf("del: %v", err)
	}
	got, err = c.Q(ctx, "@"+ref, nil)
	if err != nil {
		t.Fatalf("get after del: %v", err)
	}
	if got[0].Has("book", "status") {
		t.Fatalf("expected status to be revoked: %+v", got[0].Facts)
	}

	if _, err := c.Q(ctx, "@"+ref+" ARCHIVE", nil); err != nil {
		t.Fatalf("archive: %v", err)
	}
	got, err = c.Q(ctx, "@"+ref, nil)
	if err != nil {
		t.Fatalf("get after archive: %v", err)
	}
	if !got[0].Archived() {
		t.Fatalf("expected item to be archived: %+v", got[0].Facts)
	}
}

func TestHintsReportsTagCounts(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	if _, err := c.Q(ctx, "CREATE a #todo", nil); err != nil {
		t.Fatalf("create a: %v", err)
	}
	if _, err := c.Q(ctx, "CREATE b #todo", nil); err != nil {
		t.Fatalf("create b: %v", err)
	}

	hints, err := c.Q(ctx, "HINTS #tod", nil)
	if err != nil {
		t.Fatalf("hints: %v", err)
	}
	found := false
	for _, h := range hints {
		if h.HasTag("todo") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected #todo hint")
	}
}

func TestBatchedTransactionCommitsOneChangeset(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	tr := c.NewTransaction()
	if err := tr.CreateItem(ctx, []fact.Fact{fact.Content("one"), fact.Tag("todo")}); err != nil {
		t.Fatalf("create one: %v", err)
	}
	if err := tr.CreateItem(ctx, []fact.Fact{fact.Content("two"), fact.Tag("todo")}); err != nil {
		t.Fatalf("create two: %v", err)
	}
	if err := tr.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// one changeset-item plus one item per batched change
	if got := len(tr.Response()); got != 3 {
		t.Fatalf("expected 3 response items, got %d", got)
	}

	changesets, err := c.Q(ctx, "CHANGESETS", nil)
	if err != nil {
		t.Fatalf("changesets: %v", err)
	}
	if len(changesets) != 1 {
		t.Fatalf("expected a single changeset for the batch, got %d", len(changesets))
	}
}

func TestCreateItemRequiresFacts(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	tr := c.NewTransaction()
	if err := tr.CreateItem(ctx, nil); err == nil {
		t.Fatal("expected error creating item with no facts")
	}
}

func TestCommittedTransactionRejectsFurtherUse(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	tr := c.NewTransaction()
	if err := tr.CreateItem(ctx, []fact.Fact{fact.Content("once")}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := tr.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := tr.Commit(ctx); err == nil {
		t.Fatal("expected error committing twice")
	}
	if err := tr.CreateItem(ctx, []fact.Fact{fact.Content("again")}); err == nil {
		t.Fatal("expected error mutating a committed transaction")
	}
}
