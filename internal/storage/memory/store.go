// Package memory is a map-backed Store implementation: mutex-guarded
// in-process maps instead of SQL tables, same derived-view semantics as
// the sqlite backend. It exists for tests and ephemeral/scratch stores.
package memory

import (
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/google/uuid"

	"github.com/coreutil/factdb/internal/idgen"
	"github.com/coreutil/factdb/pkg/changeset"
)

// idRow mirrors one row of the sqlite backend's idlist table.
type idRow struct {
	ref           string
	itemUUID      string
	changesetUUID string
	archived      bool
}

// factRow mirrors one row of the sqlite backend's facts table.
type factRow struct {
	tag     string
	prop    string
	val     string
	revoke  bool
	current bool
}

// Store is the in-process Store implementation. The zero value is not
// usable; construct with Open.
type Store struct {
	mu sync.RWMutex

	storeUUID string
	codec     *idgen.Codec

	nextID  int64
	idlist  map[int64]*idRow
	refToID map[string]int64
	uuidIdx map[string]int64 // item uuid -> id
	csIdx   map[string]int64 // changeset uuid -> id
	created map[int64]string // id -> RFC3339Nano creation timestamp

	facts map[int64][]factRow // id -> append-only fact log, in write order

	changesets   map[string]*changeset.ChangeSet
	csOrder      []string // changeset uuid, in record order
	ingestCursor map[string]int64
}

const minSaltLength = 6

// Open returns a ready-to-use in-process Store. If salt is empty, a
// fresh one is generated, matching the sqlite backend's first-open
// behaviour.
func Open(salt string) (*Store, error) {
	if salt == "" {
		b := make([]byte, minSaltLength)
		if _, err := rand.Read(b); err != nil {
			return nil, err
		}
		salt = hex.EncodeToString(b)
	}
	return &Store{
		storeUUID:    uuid.NewString(),
		codec:        idgen.NewCodec([]byte(salt)),
		idlist:       make(map[int64]*idRow),
		refToID:      make(map[string]int64),
		uuidIdx:      make(map[string]int64),
		csIdx:        make(map[string]int64),
		created:      make(map[int64]string),
		facts:        make(map[int64][]factRow),
		changesets:   make(map[string]*changeset.ChangeSet),
		ingestCursor: make(map[string]int64),
	}, nil
}

// UUID returns this store's own origin identifier.
func (s *Store) UUID() string { return s.storeUUID }

// Close is a no-op for the in-process backend.
func (s *Store) Close() error { return nil }
