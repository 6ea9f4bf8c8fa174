// Package txn implements the transaction orchestrator: it turns
// parsed queries into ChangeSets, records and applies them through a
// store.Store, and returns the resulting items.
package txn

import (
	"context"

	"github.com/coreutil/factdb/pkg/fact"
	"github.com/coreutil/factdb/pkg/store"
)

// Replicator kicks outbound/inbound replication on demand; satisfied by
// internal/replicate.Replicator. Kept as a narrow interface here so txn
// never imports the replication package.
type Replicator interface {
	Push(ctx context.Context) error
	Pull(ctx context.Context) error
}

// Replacement rewrites a parsed Ref(key) fact to Ref(ref) before
// dispatch, the shortcut mechanism a REPL uses to let a user refer to
// an item it just created by a short-lived key.
type Replacement struct {
	Key string
	Ref string
}

// Client is the caller-facing handle bound to one store and one
// "<client>:<user>" identity string; every changeset it records carries
// that identity.
type Client struct {
	store      store.Store
	id         string
	replicator Replicator
}

// NewClient returns a Client bound to s, tagging changesets with id.
func NewClient(s store.Store, id string) *Client {
	return &Client{store: s, id: id}
}

// ID returns the client identity string changesets are tagged with.
func (c *Client) ID() string { return c.id }

// SetReplicator wires a Replicator so the "replicate" query action has
// something to kick; without one, that action returns an error.
func (c *Client) SetReplicator(r Replicator) { c.replicator = r }

// NewTransaction starts a fresh Transaction against this client's store.
func (c *Client) NewTransaction() *Transaction {
	return &Transaction{client: c, store: c.store}
}

// Q parses text and runs it to completion on a fresh transaction: a
// single mutation commits immediately, a single read returns its
// result. This is the shape most callers want; use NewTransaction
// directly to batch several mutations into one changeset.
func (c *Client) Q(ctx context.Context, text string, replacements []Replacement) ([]*fact.Item, error) {
	return c.NewTransaction().Run(ctx, text, replacements)
}
