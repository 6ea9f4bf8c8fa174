package replicate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/coreutil/factdb/internal/replicate"
	memstore "github.com/coreutil/factdb/internal/storage/memory"
	"github.com/coreutil/factdb/internal/txn"
)

func TestSyncPeersIsIdempotent(t *testing.T) {
	ctx := context.Background()

	s, err := memstore.Open("salt-a")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	client := txn.NewClient(s, "factdb:test")

	peers := []replicate.PeerOrigin{{Name: "laptop", Origin: "origin-uuid-1"}}

	err = replicate.SyncPeers(ctx, client, peers)
	assert.NoError(t, err)

	err = replicate.SyncPeers(ctx, client, peers)
	assert.NoError(t, err)

	items, err := client.Q(ctx, "#_ingest", nil)
	assert.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, "origin-uuid-1", items[0].Content())
}
