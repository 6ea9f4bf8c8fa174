package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/coreutil/factdb/pkg/changeset"
	"github.com/coreutil/factdb/pkg/fact"
	"github.com/coreutil/factdb/pkg/store"
)

// ChangeSetExists reports whether uuid has already been recorded.
func (s *Store) ChangeSetExists(ctx context.Context, uuid string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.changesets[uuid]
	return ok, nil
}

// RecordChangeSet persists cs in the NEW->RECORDED transition, rejecting
// a uuid that already exists.
func (s *Store) RecordChangeSet(ctx context.Context, cs *changeset.ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.changesets[cs.UUID]; exists {
		return fmt.Errorf("record changeset %s: %w", cs.UUID, store.ErrDuplicateChangeSet)
	}
	if cs.OriginRowID == 0 {
		var max int64
		for _, other := range s.changesets {
			if other.Origin == cs.Origin && other.OriginRowID > max {
				max = other.OriginRowID
			}
		}
		cs.OriginRowID = max + 1
	}

	stored := *cs
	stored.Changes = append([]changeset.Change(nil), cs.Changes...)
	s.changesets[cs.UUID] = &stored
	s.csOrder = append(s.csOrder, cs.UUID)
	return nil
}

// LoadChangeSet fetches a previously recorded changeset by uuid.
func (s *Store) LoadChangeSet(ctx context.Context, uuid string) (*changeset.ChangeSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cs, ok := s.changesets[uuid]
	if !ok {
		return nil, fmt.Errorf("load changeset %s: %w", uuid, store.ErrNotFound)
	}
	out := *cs
	out.Changes = append([]changeset.Change(nil), cs.Changes...)
	return &out, nil
}

// UpdateChangeSet flips the applied/replicated terminal flags; either
// pointer may be nil to leave that flag untouched.
func (s *Store) UpdateChangeSet(ctx context.Context, uuid string, applied, replicated *bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.changesets[uuid]
	if !ok {
		return fmt.Errorf("update changeset %s: %w", uuid, store.ErrNotFound)
	}
	if applied != nil {
		cs.Applied = *applied
	}
	if replicated != nil {
		cs.Replicated = *replicated
	}
	return nil
}

// GetUnreplicatedChangeSets returns changesets originated by this store
// that are applied but not yet replicated.
func (s *Store) GetUnreplicatedChangeSets(ctx context.Context) ([]*changeset.ChangeSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*changeset.ChangeSet
	for _, uuid := range s.csOrder {
		cs := s.changesets[uuid]
		if cs.Origin == s.storeUUID && cs.Applied && !cs.Replicated {
			copied := *cs
			copied.Changes = append([]changeset.Change(nil), cs.Changes...)
			out = append(out, &copied)
		}
	}
	return out, nil
}

// GetLastIngestedChangeSet returns the highest origin_rowid ingested from
// originUUID, or 0 if none has been ingested yet.
func (s *Store) GetLastIngestedChangeSet(ctx context.Context, originUUID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ingestCursor[originUUID], nil
}

// SetIngestCursor advances the ingestion cursor for originUUID.
func (s *Store) SetIngestCursor(ctx context.Context, originUUID string, rowid int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rowid > s.ingestCursor[originUUID] {
		s.ingestCursor[originUUID] = rowid
	}
	return nil
}

// ApplyChangeSet performs the RECORDED->APPLIED transition:
// materialise the changeset-item, apply each Change in order, mark the
// changeset applied, and return the changeset-item followed by one item
// per Change.
func (s *Store) ApplyChangeSet(ctx context.Context, uuid string) ([]*fact.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.changesets[uuid]
	if !ok {
		return nil, fmt.Errorf("apply changeset %s: %w", uuid, store.ErrNotFound)
	}
	if cs.Applied {
		return nil, fmt.Errorf("apply changeset %s: %w", uuid, store.ErrAlreadyApplied)
	}

	now := time.Now().UTC()
	csRef, csDBID, err := s.nextRefLocked(cs.UUID, cs.Created, true)
	if err != nil {
		return nil, err
	}

	csFacts := []fact.Fact{
		fact.Ref(csRef),
		fact.Created(now.Format(time.RFC3339Nano)),
		fact.Tag(fact.TxTag),
		fact.Value(fact.TxTag, "client", cs.Client),
		fact.Value(fact.TxTag, "created", cs.Created.UTC().Format(time.RFC3339Nano)),
		fact.Value(fact.TxTag, "uuid", cs.UUID),
		fact.Value(fact.TxTag, "origin", cs.Origin),
	}
	if cs.Query != "" {
		csFacts = append(csFacts, fact.Value(fact.TxTag, "query", cs.Query))
	}
	changesJSON, err := cs.ChangesJSON()
	if err != nil {
		return nil, err
	}
	csFacts = append(csFacts, fact.Content(changesJSON))
	s.insertFacts(csDBID, csFacts)
	csItem := fact.New(cs.UUID, csFacts)
	items := []*fact.Item{&csItem}

	for _, change := range cs.Changes {
		item, err := s.applyChange(now, change)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	cs.Applied = true
	return items, nil
}

func (s *Store) applyChange(now time.Time, change changeset.Change) (*fact.Item, error) {
	switch {
	case change.Revoke:
		if len(change.Facts) == 0 {
			return nil, fmt.Errorf("revoke facts: %w", store.ErrMissingFacts)
		}
		dbid, ok := s.uuidIdx[change.UUID]
		if !ok {
			return nil, fmt.Errorf("resolve item %s: %w", change.UUID, store.ErrNotFound)
		}
		s.insertRevokedFacts(dbid, change.Facts)
		item := fact.New(change.UUID, currentFacts(s.facts[dbid], true))
		return &item, nil

	case change.IsCreate():
		ref, dbid, err := s.nextRefLocked(change.UUID, now, false)
		if err != nil {
			return nil, err
		}
		facts := append([]fact.Fact{fact.Ref(ref)}, change.Facts...)
		s.insertFacts(dbid, facts)
		item := fact.New(change.UUID, facts)
		return &item, nil

	default:
		dbid, ok := s.uuidIdx[change.UUID]
		if !ok {
			return nil, fmt.Errorf("resolve item %s: %w", change.UUID, store.ErrNotFound)
		}
		s.insertFacts(dbid, change.Facts)
		item := fact.New(change.UUID, currentFacts(s.facts[dbid], true))
		return &item, nil
	}
}

// insertFacts appends asserted facts for dbid and collapses any older
// current row sharing the same (tag, prop), mirroring the sqlite
// backend's collapse trigger.
func (s *Store) insertFacts(dbid int64, facts []fact.Fact) {
	for _, f := range facts {
		s.collapseCurrent(dbid, f.Tag, f.Prop)
		s.facts[dbid] = append(s.facts[dbid], factRow{tag: f.Tag, prop: f.Prop, val: f.Value, current: true})
		if f.Kind() == fact.KindArchived {
			s.idlist[dbid].archived = true
		}
	}
}

func (s *Store) insertRevokedFacts(dbid int64, facts []fact.Fact) {
	for _, f := range facts {
		s.collapseCurrent(dbid, f.Tag, f.Prop)
		s.facts[dbid] = append(s.facts[dbid], factRow{tag: f.Tag, prop: f.Prop, val: f.Value, revoke: true, current: true})
		if f.Kind() == fact.KindArchived {
			s.idlist[dbid].archived = false
		}
	}
}

func (s *Store) collapseCurrent(dbid int64, tag, prop string) {
	rows := s.facts[dbid]
	for i := range rows {
		if rows[i].tag == tag && rows[i].prop == prop && rows[i].current {
			rows[i].current = false
		}
	}
}

var _ store.Store = (*Store)(nil)
