// Package changeset defines the unit-of-commit bundle the transaction
// orchestrator records and applies, and its wire serialisation for the
// replication log.
package changeset

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coreutil/factdb/pkg/fact"
)

// Change is a single per-item mutation within a ChangeSet: an assertion
// (Revoke=false) or a revocation (Revoke=true) of Facts belonging to the
// item identified by UUID.
type Change struct {
	UUID   string
	Facts  []fact.Fact
	Revoke bool
}

// IsCreate reports whether this Change materialises a brand new item —
// its Facts carry a Created fact.
func (c Change) IsCreate() bool {
	for _, f := range c.Facts {
		if f.Kind() == fact.KindCreated {
			return true
		}
	}
	return false
}

// ChangeSet is a unit-of-commit bundle of Changes with provenance,
// following the NEW -> RECORDED -> APPLIED -> REPLICATED lifecycle.
type ChangeSet struct {
	UUID        string
	Client      string
	Origin      string
	OriginRowID int64
	Created     time.Time
	Query       string
	Changes     []Change
	Applied     bool
	Replicated  bool
}

// New starts a NEW changeset for the given client and origin store, with
// a fresh uuid. Query records the original query text for audit.
func New(client, origin, query string) *ChangeSet {
	return &ChangeSet{
		UUID:    uuid.NewString(),
		Client:  client,
		Origin:  origin,
		Query:   query,
		Created: time.Now().UTC(),
	}
}

// AddChange appends a Change to the changeset.
func (cs *ChangeSet) AddChange(c Change) {
	cs.Changes = append(cs.Changes, c)
}

type wireFact struct {
	Tag   string `json:"tag"`
	Prop  string `json:"prop"`
	Value string `json:"value"`
}

type wireChange struct {
	UUID   string     `json:"uuid"`
	Revoke bool       `json:"revoke"`
	Facts  []wireFact `json:"facts"`
}

type wirePayload struct {
	UUID    string       `json:"uuid"`
	Client  string       `json:"client"`
	Created time.Time    `json:"created"`
	Query   string       `json:"query,omitempty"`
	Changes []wireChange `json:"changes"`
}

func toWireChanges(changes []Change) []wireChange {
	out := make([]wireChange, len(changes))
	for i, c := range changes {
		wc := wireChange{UUID: c.UUID, Revoke: c.Revoke, Facts: make([]wireFact, len(c.Facts))}
		for j, f := range c.Facts {
			wc.Facts[j] = wireFact{Tag: f.Tag, Prop: f.Prop, Value: f.Value}
		}
		out[i] = wc
	}
	return out
}

func fromWireChanges(changes []wireChange) []Change {
	out := make([]Change, len(changes))
	for i, wc := range changes {
		facts := make([]fact.Fact, len(wc.Facts))
		for j, wf := range wc.Facts {
			facts[j] = fact.Fact{Tag: wf.Tag, Prop: wf.Prop, Value: wf.Value}
		}
		out[i] = Change{UUID: wc.UUID, Revoke: wc.Revoke, Facts: facts}
	}
	return out
}

// MarshalPayload serialises the replicated portion of a ChangeSet: uuid,
// client, created, query and changes. Origin and origin_rowid travel as
// the replication log's key rather than the payload.
func (cs ChangeSet) MarshalPayload() ([]byte, error) {
	w := wirePayload{
		UUID:    cs.UUID,
		Client:  cs.Client,
		Created: cs.Created,
		Query:   cs.Query,
		Changes: toWireChanges(cs.Changes),
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("marshal changeset payload: %w", err)
	}
	return data, nil
}

// UnmarshalPayload parses a replication payload into cs, leaving Origin
// and OriginRowID untouched — the caller fills those in from the
// replication log key.
func (cs *ChangeSet) UnmarshalPayload(data []byte) error {
	var w wirePayload
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("unmarshal changeset payload: %w", err)
	}
	cs.UUID = w.UUID
	cs.Client = w.Client
	cs.Created = w.Created
	cs.Query = w.Query
	cs.Changes = fromWireChanges(w.Changes)
	return nil
}

// ChangesJSON renders just the Changes list as JSON, for the
// changeset-item's Content fact and for the changesets
// table's own changes column.
func (cs ChangeSet) ChangesJSON() (string, error) {
	data, err := json.Marshal(toWireChanges(cs.Changes))
	if err != nil {
		return "", fmt.Errorf("marshal changes: %w", err)
	}
	return string(data), nil
}

// ParseChanges is the inverse of ChangesJSON, used to reload a
// persisted changeset's Changes without the rest of the payload.
func ParseChanges(data []byte) ([]Change, error) {
	var wcs []wireChange
	if err := json.Unmarshal(data, &wcs); err != nil {
		return nil, fmt.Errorf("unmarshal changes: %w", err)
	}
	return fromWireChanges(wcs), nil
}
