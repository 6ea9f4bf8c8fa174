package txn

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coreutil/factdb/pkg/changeset"
	"github.com/coreutil/factdb/pkg/fact"
	"github.com/coreutil/factdb/pkg/query"
	"github.com/coreutil/factdb/pkg/store"
)

// Transaction owns a lazily-created in-flight ChangeSet, a response list,
// and a closed flag. A transaction that never mutates anything
// never records a changeset; read-only dispatch just fills response.
type Transaction struct {
	client *Client
	store  store.Store

	cs       *changeset.ChangeSet
	response []*fact.Item
	closed   bool
}

// Closed reports whether Commit has already run on this transaction.
func (t *Transaction) Closed() bool { return t.closed }

// Response returns the items accumulated so far by read operations or by
// a prior Commit.
func (t *Transaction) Response() []*fact.Item { return t.response }

func (t *Transaction) ensureChangeSet(queryText string) *changeset.ChangeSet {
	if t.cs == nil {
		t.cs = changeset.New(t.client.ID(), t.store.UUID(), queryText)
	}
	return t.cs
}

// CreateItem requires a non-empty fact list, auto-adds (_db,created,now)
// if absent, and appends a Change with a fresh item uuid.
func (t *Transaction) CreateItem(ctx context.Context, facts []fact.Fact) error {
	if t.closed {
		return fmt.Errorf("create item: transaction already committed")
	}
	if len(facts) == 0 {
		return fmt.Errorf("create item: %w", store.ErrMissingFacts)
	}
	hasCreated := false
	for _, f := range facts {
		if f.Kind() == fact.KindCreated {
			hasCreated = true
			break
		}
	}
	if !hasCreated {
		facts = append(append([]fact.Fact{}, facts...), fact.Created(time.Now().UTC().Format(time.RFC3339Nano)))
	}
	cs := t.ensureChangeSet("")
	cs.AddChange(changeset.Change{UUID: uuid.NewString(), Facts: facts, Revoke: false})
	return nil
}

// SetFacts resolves ref to its durable uuid and appends an assertion
// Change for it.
func (t *Transaction) SetFacts(ctx context.Context, ref string, facts []fact.Fact) error {
	if t.closed {
		return fmt.Errorf("set facts: transaction already committed")
	}
	if len(facts) == 0 {
		return fmt.Errorf("set facts: %w", store.ErrMissingFacts)
	}
	itemUUID, err := t.resolveUUID(ctx, ref)
	if err != nil {
		return err
	}
	cs := t.ensureChangeSet("")
	cs.AddChange(changeset.Change{UUID: itemUUID, Facts: facts, Revoke: false})
	return nil
}

// RevokeFacts resolves ref to its durable uuid and appends a revocation
// Change for it.
func (t *Transaction) RevokeFacts(ctx context.Context, ref string, facts []fact.Fact) error {
	if t.closed {
		return fmt.Errorf("revoke facts: transaction already committed")
	}
	if len(facts) == 0 {
		return fmt.Errorf("revoke facts: %w", store.ErrMissingFacts)
	}
	itemUUID, err := t.resolveUUID(ctx, ref)
	if err != nil {
		return err
	}
	cs := t.ensureChangeSet("")
	cs.AddChange(changeset.Change{UUID: itemUUID, Facts: facts, Revoke: true})
	return nil
}

func (t *Transaction) resolveUUID(ctx context.Context, ref string) (string, error) {
	item, err := t.store.GetItem(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("resolve ref %s: %w", ref, err)
	}
	return item.UUID, nil
}

// GetItem is a read-only op: it populates response with the single item
// resolved from ref, if any.
func (t *Transaction) GetItem(ctx context.Context, ref string) error {
	item, err := t.store.GetItem(ctx, ref)
	if err != nil {
		return err
	}
	t.response = append(t.response, item)
	return nil
}

// GetItems populates response with every item matching search.
func (t *Transaction) GetItems(ctx context.Context, search []fact.Fact) error {
	items, err := t.store.GetItems(ctx, search)
	if err != nil {
		return err
	}
	t.response = append(t.response, items...)
	return nil
}

// GetHistory populates response with ref's fact history, or the last 100
// store-wide transactions when ref is empty.
func (t *Transaction) GetHistory(ctx context.Context, ref string) error {
	items, err := t.store.GetHistory(ctx, ref)
	if err != nil {
		return err
	}
	t.response = append(t.response, items...)
	return nil
}

// GetHints populates response with the tag/prop discovery items for
// prefix.
func (t *Transaction) GetHints(ctx context.Context, prefix string) error {
	items, err := t.store.GetHints(ctx, prefix)
	if err != nil {
		return err
	}
	t.response = append(t.response, items...)
	return nil
}

// GetChangesets populates response with the last 100 changeset-items.
func (t *Transaction) GetChangesets(ctx context.Context) error {
	items, err := t.store.GetChangesets(ctx)
	if err != nil {
		return err
	}
	t.response = append(t.response, items...)
	return nil
}

// Commit records and applies the in-flight changeset, if any, appending
// the produced items to response, then marks the transaction closed.
// A transaction with no mutations commits as a no-op.
func (t *Transaction) Commit(ctx context.Context) error {
	if t.closed {
		return fmt.Errorf("commit: transaction already committed")
	}
	t.closed = true
	if t.cs == nil {
		return nil
	}
	if err := t.store.RecordChangeSet(ctx, t.cs); err != nil {
		return err
	}
	items, err := t.store.ApplyChangeSet(ctx, t.cs.UUID)
	if err != nil {
		return err
	}
	t.response = append(t.response, items...)
	if t.client.replicator != nil {
		if err := t.client.replicator.Push(ctx); err != nil {
			return fmt.Errorf("push after commit: %w", err)
		}
	}
	return nil
}

// rewriteRefs applies Replacements, substituting any Ref(key) literal in
// facts for Ref(replacement.Ref), the mechanism a REPL uses to chain a
// freshly created item's ref into a later statement in the same batch.
func rewriteRefs(facts []fact.Fact, replacements []Replacement) []fact.Fact {
	if len(replacements) == 0 {
		return facts
	}
	byKey := make(map[string]string, len(replacements))
	for _, r := range replacements {
		byKey[r.Key] = r.Ref
	}
	out := make([]fact.Fact, len(facts))
	for i, f := range facts {
		if f.Kind() == fact.KindRef {
			if ref, ok := byKey[f.Value]; ok {
				out[i] = fact.Ref(ref)
				continue
			}
		}
		out[i] = f
	}
	return out
}

// Run parses text and dispatches it to completion on this transaction,
// returning the resulting response items.
func (t *Transaction) Run(ctx context.Context, text string, replacements []Replacement) ([]*fact.Item, error) {
	q, err := query.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	return t.RunParsed(ctx, q, text, replacements)
}

// RunParsed dispatches an already-parsed query, skipping the parse step
// for callers that already hold a *query.Query.
func (t *Transaction) RunParsed(ctx context.Context, q *query.Query, text string, replacements []Replacement) ([]*fact.Item, error) {
	facts := rewriteRefs(q.Facts, replacements)

	switch q.Action {
	case query.ActionCreate:
		if err := t.CreateItem(ctx, facts); err != nil {
			return nil, err
		}
		t.cs.Query = text
		if err := t.Commit(ctx); err != nil {
			return nil, err
		}
	case query.ActionSet:
		if len(facts) == 0 {
			return nil, fmt.Errorf("set: %w", store.ErrMissingFacts)
		}
		if err := t.SetFacts(ctx, facts[0].Value, facts[1:]); err != nil {
			return nil, err
		}
		t.cs.Query = text
		if err := t.Commit(ctx); err != nil {
			return nil, err
		}
	case query.ActionDel:
		if len(facts) == 0 {
			return nil, fmt.Errorf("del: %w", store.ErrMissingFacts)
		}
		if err := t.RevokeFacts(ctx, facts[0].Value, facts[1:]); err != nil {
			return nil, err
		}
		t.cs.Query = text
		if err := t.Commit(ctx); err != nil {
			return nil, err
		}
	case query.ActionArchive:
		if len(facts) == 0 {
			return nil, fmt.Errorf("archive: %w", store.ErrMissingFacts)
		}
		if err := t.SetFacts(ctx, facts[0].Value, []fact.Fact{fact.Archived()}); err != nil {
			return nil, err
		}
		t.cs.Query = text
		if err := t.Commit(ctx); err != nil {
			return nil, err
		}
	case query.ActionGet:
		if len(facts) == 0 {
			return nil, fmt.Errorf("get: %w", store.ErrMissingFacts)
		}
		if err := t.GetItem(ctx, facts[0].Value); err != nil {
			return nil, err
		}
	case query.ActionHistory:
		ref := ""
		if len(facts) > 0 {
			ref = facts[0].Value
		}
		if err := t.GetHistory(ctx, ref); err != nil {
			return nil, err
		}
	case query.ActionList:
		if err := t.GetItems(ctx, facts); err != nil {
			return nil, err
		}
	case query.ActionHints:
		if err := t.GetHints(ctx, q.HintsPrefix); err != nil {
			return nil, err
		}
	case query.ActionChangesets:
		if err := t.GetChangesets(ctx); err != nil {
			return nil, err
		}
	case query.ActionReplicate:
		if t.client.replicator == nil {
			return nil, fmt.Errorf("replicate: no replicator configured")
		}
		if err := t.client.replicator.Push(ctx); err != nil {
			return nil, fmt.Errorf("replicate push: %w", err)
		}
		if err := t.client.replicator.Pull(ctx); err != nil {
			return nil, fmt.Errorf("replicate pull: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown action %q", q.Action)
	}

	return t.response, nil
}
