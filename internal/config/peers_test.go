package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/coreutil/factdb/internal/config"
)

func TestLoadPeerFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "peers.toml")
	contents := `
[[peer]]
name = "laptop"
origin = "11111111-1111-1111-1111-111111111111"

[[peer]]
name = "phone"
origin = "22222222-2222-2222-2222-222222222222"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	pf, err := config.LoadPeerFile(path)
	if err != nil {
		t.Fatalf("LoadPeerFile: %v", err)
	}
	if len(pf.Peers) != 2 {
		t.Fatalf("expected 2 peers, got %d", len(pf.Peers))
	}
	if pf.Peers[0].Name != "laptop" || pf.Peers[0].Origin != "11111111-1111-1111-1111-111111111111" {
		t.Errorf("unexpected first peer: %+v", pf.Peers[0])
	}
}

func TestLoadPeerFileMissingIsEmpty(t *testing.T) {
	pf, err := config.LoadPeerFile(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("LoadPeerFile on missing file should not error: %v", err)
	}
	if len(pf.Peers) != 0 {
		t.Fatalf("expected empty peer list, got %+v", pf.Peers)
	}
}

func TestLoadPeerFileRejectsMissingOrigin(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "peers.toml")
	if err := os.WriteFile(path, []byte("[[peer]]\nname = \"laptop\"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := config.LoadPeerFile(path); err == nil {
		t.Fatal("expected error for peer missing origin")
	}
}
