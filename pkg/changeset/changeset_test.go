package changeset

import (
	"testing"

	"github.com/coreutil/factdb/pkg/fact"
)

func TestIsCreate(t *testing.T) {
	create := Change{UUID: "u1", Facts: []fact.Fact{fact.Created("2026-01-01T00:00:00Z"), fact.Tag("todo")}}
	if !create.IsCreate() {
		t.Error("expected Created fact to mark change as create")
	}
	update := Change{UUID: "u1", Facts: []fact.Fact{fact.Flag("todo", "done")}}
	if update.IsCreate() {
		t.Error("update should not be detected as create")
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	cs := New("factdb:alice", "origin-uuid", "CREATE go to supermarket #todo")
	cs.AddChange(Change{
		UUID:   "item-uuid",
		Facts:  []fact.Fact{fact.Created("2026-01-01T00:00:00Z"), fact.Content("go to supermarket"), fact.Tag("todo")},
		Revoke: false,
	})

	data, err := cs.MarshalPayload()
	if err != nil {
		t.Fatalf("MarshalPayload: %v", err)
	}

	var got ChangeSet
	if err := got.UnmarshalPayload(data); err != nil {
		t.Fatalf("UnmarshalPayload: %v", err)
	}

	if got.UUID != cs.UUID || got.Client != cs.Client || got.Query != cs.Query {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, cs)
	}
	if len(got.Changes) != 1 || len(got.Changes[0].Facts) != 3 {
		t.Fatalf("unexpected changes: %+v", got.Changes)
	}
	if got.Changes[0].Facts[1] != fact.Content("go to supermarket") {
		t.Errorf("fact mismatch: %+v", got.Changes[0].Facts[1])
	}

	// Origin is not part of the wire payload; the caller must carry it
	// separately from the replication log key.
	if got.Origin != "" {
		t.Errorf("expected Origin to stay unset after UnmarshalPayload, got %q", got.Origin)
	}
}

func TestChangesJSON(t *testing.T) {
	cs := New("factdb:alice", "origin-uuid", "")
	cs.AddChange(Change{UUID: "u1", Facts: []fact.Fact{fact.Tag("chores")}})
	js, err := cs.ChangesJSON()
	if err != nil {
		t.Fatalf("ChangesJSON: %v", err)
	}
	if js == "" || js == "null" {
		t.Fatalf("expected non-empty JSON, got %q", js)
	}
}
