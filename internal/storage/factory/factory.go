// Package factory selects a Store backend from a connection string: a
// bare filesystem path selects sqlite, a "dolt://" URI selects dolt.
package factory

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreutil/factdb/internal/storage/dolt"
	"github.com/coreutil/factdb/internal/storage/sqlite"
	"github.com/coreutil/factdb/pkg/store"
)

// BackendFactory opens a Store from a connection string and salt.
type BackendFactory func(ctx context.Context, conn string, salt string) (store.Store, error)

var backendRegistry = make(map[string]BackendFactory)

// RegisterBackend registers a backend factory under scheme (e.g. "dolt").
// This package's own init registers "dolt"; sqlite is not registered
// and is opened directly by Open for any conn without a scheme.
func RegisterBackend(scheme string, f BackendFactory) {
	backendRegistry[scheme] = f
}

func init() {
	RegisterBackend("dolt", func(ctx context.Context, conn, salt string) (store.Store, error) {
		cfg, err := dolt.ParseConnString(conn)
		if err != nil {
			return nil, fmt.Errorf("parse dolt connection string: %w", err)
		}
		return dolt.Open(ctx, cfg, salt)
	})
}

// Open selects a backend from conn: a "dolt://" URI opens the dolt
// backend, anything else is treated as a sqlite file path (the default,
// matching factdb.Open's documented behaviour).
func Open(ctx context.Context, conn string, salt string) (store.Store, error) {
	if scheme, _, ok := strings.Cut(conn, "://"); ok {
		if f, registered := backendRegistry[scheme]; registered {
			return f(ctx, conn, salt)
		}
		return nil, fmt.Errorf("unknown storage backend %q (supported: dolt, or a filesystem path for sqlite)", scheme)
	}
	return sqlite.Open(ctx, conn, salt)
}
