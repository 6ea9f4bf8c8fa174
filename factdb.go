// Package factdb is the public entry point for embedding the fact
// database: opening a store and creating a client to issue queries
// against it.
package factdb

import (
	"context"
	"fmt"

	"github.com/coreutil/factdb/internal/storage/factory"
	"github.com/coreutil/factdb/internal/txn"
	"github.com/coreutil/factdb/pkg/store"
)

// Open opens or creates a store at conn: a bare filesystem path selects
// the sqlite backend, a "dolt://" URI selects the dolt backend. salt may
// be empty to let the store generate its own on first open.
func Open(ctx context.Context, conn string, salt string) (store.Store, error) {
	s, err := factory.Open(ctx, conn, salt)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return s, nil
}

// NewClient returns a Client bound to s, tagging every changeset it
// records with clientID (conventionally "<client>:<user>").
func NewClient(s store.Store, clientID string) *txn.Client {
	return txn.NewClient(s, clientID)
}
