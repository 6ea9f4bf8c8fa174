package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/coreutil/factdb/pkg/fact"
	"github.com/coreutil/factdb/pkg/store"
)

const itemResultCap = 100

// currentFacts renders rows as Facts, excluding revoked rows and (when
// currentOnly) rows a later insert has collapsed to non-current.
func currentFacts(rows []factRow, currentOnly bool) []fact.Fact {
	out := make([]fact.Fact, 0, len(rows))
	for _, r := range rows {
		if r.revoke {
			continue
		}
		if currentOnly && !r.current {
			continue
		}
		out = append(out, fact.Fact{Tag: r.tag, Prop: r.prop, Value: r.val})
	}
	return out
}

// GetItem returns the current item for ref, excluding revoked and
// non-current rows. Archived items remain reachable by ref.
func (s *Store) GetItem(ctx context.Context, ref string) (*fact.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.refToID[ref]
	if !ok {
		return nil, fmt.Errorf("get item %s: %w", ref, store.ErrNotFound)
	}
	row := s.idlist[id]
	if row.itemUUID == "" {
		return nil, fmt.Errorf("get item %s: %w", ref, store.ErrNotFound)
	}
	facts := currentFacts(s.facts[id], true)
	item := fact.New(row.itemUUID, facts)
	return &item, nil
}

// GetItemByUUID resolves an item or changeset-item by its durable uuid.
func (s *Store) GetItemByUUID(ctx context.Context, itemUUID string) (*fact.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.uuidIdx[itemUUID]
	if !ok {
		id, ok = s.csIdx[itemUUID]
	}
	if !ok {
		return nil, fmt.Errorf("get item by uuid %s: %w", itemUUID, store.ErrNotFound)
	}
	facts := currentFacts(s.facts[id], true)
	item := fact.New(itemUUID, facts)
	return &item, nil
}

// GetItems returns every current item matching all of search (AND),
// ordered by creation time, capped at itemResultCap.
func (s *Store) GetItems(ctx context.Context, search []fact.Fact) ([]*fact.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.idlist))
	for id, row := range s.idlist {
		if row.itemUUID == "" {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ci, cj := s.created[ids[i]], s.created[ids[j]]
		if ci != cj {
			return ci < cj
		}
		return ids[i] < ids[j]
	})

	var out []*fact.Item
	for _, id := range ids {
		row := s.idlist[id]
		facts := currentFacts(s.facts[id], true)
		if row.archived && !anyArchivedSearch(search) {
			// archived items are excluded from the current view unless
			// explicitly queried.
			continue
		}
		item := fact.New(row.itemUUID, facts)
		if item.MatchesAll(search) {
			out = append(out, &item)
			if len(out) >= itemResultCap {
				break
			}
		}
	}
	return out, nil
}

func anyArchivedSearch(search []fact.Fact) bool {
	for _, f := range search {
		if f.Tag == fact.SysTag && f.Prop == "archived" {
			return true
		}
	}
	return false
}

// GetHints returns one item per distinct tag or prop matching prefix.
func (s *Store) GetHints(ctx context.Context, prefix string) ([]*fact.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix = strings.TrimPrefix(prefix, "#")
	tagPart, rest, hasSlash := strings.Cut(prefix, "/")
	includeSystem := strings.HasPrefix(tagPart, "_")

	if !hasSlash {
		return s.hintTags(tagPart, includeSystem), nil
	}
	return s.hintProps(tagPart, rest), nil
}

func (s *Store) currentFactRowsByTagProp() map[[2]string]map[int64]bool {
	counts := make(map[[2]string]map[int64]bool)
	for id, rows := range s.facts {
		row := s.idlist[id]
		if row.archived || row.itemUUID == "" {
			continue
		}
		for _, r := range rows {
			if r.revoke || !r.current {
				continue
			}
			key := [2]string{r.tag, r.prop}
			if counts[key] == nil {
				counts[key] = make(map[int64]bool)
			}
			counts[key][id] = true
		}
	}
	return counts
}

func (s *Store) hintTags(tagPrefix string, includeSystem bool) []*fact.Item {
	byTag := make(map[string]map[int64]bool)
	for key, ids := range s.currentFactRowsByTagProp() {
		if !strings.HasPrefix(key[0], tagPrefix) {
			continue
		}
		if byTag[key[0]] == nil {
			byTag[key[0]] = make(map[int64]bool)
		}
		for id := range ids {
			byTag[key[0]][id] = true
		}
	}
	tags := make([]string, 0, len(byTag))
	for t := range byTag {
		if strings.HasPrefix(t, "_") && !includeSystem {
			continue
		}
		tags = append(tags, t)
	}
	sort.Strings(tags)

	out := make([]*fact.Item, 0, len(tags))
	for _, t := range tags {
		item := fact.New("", []fact.Fact{fact.Tag(t), fact.Value(fact.SysTag, "count", strconv.Itoa(len(byTag[t])))})
		out = append(out, &item)
	}
	return out
}

func (s *Store) hintProps(tag, propPrefix string) []*fact.Item {
	byProp := make(map[string]map[int64]bool)
	for key, ids := range s.currentFactRowsByTagProp() {
		if key[0] != tag || key[1] == "" || !strings.HasPrefix(key[1], propPrefix) {
			continue
		}
		byProp[key[1]] = ids
	}
	props := make([]string, 0, len(byProp))
	for p := range byProp {
		props = append(props, p)
	}
	sort.Strings(props)

	out := make([]*fact.Item, 0, len(props))
	for _, p := range props {
		item := fact.New("", []fact.Fact{fact.Flag(tag, p), fact.Value(fact.SysTag, "count", strconv.Itoa(len(byProp[p])))})
		out = append(out, &item)
	}
	return out
}

// GetHistory returns every fact row ever written for ref, newest-first.
// Without a ref it returns the last 100 transactions instead.
func (s *Store) GetHistory(ctx context.Context, ref string) ([]*fact.Item, error) {
	if ref == "" {
		return s.GetChangesets(ctx)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.refToID[ref]
	if !ok {
		return nil, fmt.Errorf("get history %s: %w", ref, store.ErrNotFound)
	}
	rows := s.facts[id]
	out := make([]*fact.Item, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		verb := "Added "
		if r.revoke {
			verb = "Revoked "
		}
		rendered := fact.Fact{Tag: r.tag, Prop: r.prop, Value: r.val}.Render()
		item := fact.New("", []fact.Fact{fact.Content(verb + rendered)})
		out = append(out, &item)
	}
	return out, nil
}

// GetChangesets returns the last 100 changeset-items, newest first.
func (s *Store) GetChangesets(ctx context.Context) ([]*fact.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.csOrder)
	start := 0
	if n > itemResultCap {
		start = n - itemResultCap
	}
	out := make([]*fact.Item, 0, n-start)
	for i := n - 1; i >= start; i-- {
		csUUID := s.csOrder[i]
		id := s.csIdx[csUUID]
		facts := currentFacts(s.facts[id], true)
		item := fact.New(csUUID, facts)
		out = append(out, &item)
	}
	return out, nil
}

// NextRef allocates the next monotonic id and materialises its ref via
// the salt-keyed codec.
func (s *Store) NextRef(ctx context.Context, itemUUID string, created time.Time, isChangeset bool) (string, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRefLocked(itemUUID, created, isChangeset)
}

func (s *Store) nextRefLocked(itemUUID string, created time.Time, isChangeset bool) (string, int64, error) {
	s.nextID++
	id := s.nextID
	ref := s.codec.Encode(uint64(id))

	row := &idRow{ref: ref}
	if isChangeset {
		row.changesetUUID = itemUUID
		s.csIdx[itemUUID] = id
	} else {
		row.itemUUID = itemUUID
		s.uuidIdx[itemUUID] = id
	}
	s.idlist[id] = row
	s.refToID[ref] = id
	s.created[id] = created.UTC().Format(time.RFC3339Nano)
	return ref, id, nil
}
