package replicate

import (
	"context"
	"fmt"

	"github.com/coreutil/factdb/internal/txn"
)

// PeerOrigin is the subset of config.Peer this package needs, kept
// decoupled from internal/config so replicate never has to import a
// CLI-level concern.
type PeerOrigin struct {
	Name   string
	Origin string
}

// SyncPeers ensures an _ingest item exists for each configured peer,
// creating one per missing origin. It is idempotent: re-running it with
// the same peer list is a no-op once the items exist, so cmd/factdb can
// call it on every startup rather than tracking its own state.
func SyncPeers(ctx context.Context, client *txn.Client, peers []PeerOrigin) error {
	for _, p := range peers {
		existing, err := client.Q(ctx, "#"+ingestTag, nil)
		if err != nil {
			return fmt.Errorf("sync peer %s: %w", p.Name, err)
		}
		found := false
		for _, item := range existing {
			if item.Content() == p.Origin {
				found = true
				break
			}
		}
		if found {
			continue
		}
		if _, err := client.Q(ctx, fmt.Sprintf("CREATE %s #%s", p.Origin, ingestTag), nil); err != nil {
			return fmt.Errorf("register peer %s: %w", p.Name, err)
		}
	}
	return nil
}
