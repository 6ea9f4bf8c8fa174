package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// PeerFile is the declarative list of replication sources a store should
// ingest from: one TOML file, one Unmarshal call.
type PeerFile struct {
	Peers []Peer `toml:"peer"`
}

// Peer names one upstream store to pull changesets from.
type Peer struct {
	// Name is a human label only; the actual ingestion key is Origin.
	Name string `toml:"name"`
	// Origin is the upstream store's UUID, the value written into the
	// local _ingest item's content field.
	Origin string `toml:"origin"`
}

// LoadPeerFile parses a peers.toml file. A missing file yields an empty
// PeerFile rather than an error, since replication peers are optional.
func LoadPeerFile(path string) (*PeerFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &PeerFile{}, nil
		}
		return nil, fmt.Errorf("read peer file %s: %w", path, err)
	}
	var pf PeerFile
	if _, err := toml.Decode(string(data), &pf); err != nil {
		return nil, fmt.Errorf("parse peer file %s: %w", path, err)
	}
	for _, p := range pf.Peers {
		if p.Origin == "" {
			return nil, fmt.Errorf("peer file %s: peer %q missing origin", path, p.Name)
		}
	}
	return &pf, nil
}
