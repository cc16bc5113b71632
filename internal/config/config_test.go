package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "ca3.yaml", `
self:
  nodename: nodeA
  rpc_port: 9001
max_sign_nodes: 3
min_sign_nodes: 1
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Self.NodeName != "nodeA" || cfg.Self.RPCPort != 9001 {
		t.Fatalf("unexpected self: %+v", cfg.Self)
	}
	if cfg.MaxLifeTimeMs != 30000 {
		t.Fatalf("expected default max_life_time_ms 30000, got %d", cfg.MaxLifeTimeMs)
	}
	if !cfg.RejectEmptyDataBlocks {
		t.Fatalf("expected reject_empty_data_blocks default true")
	}
	if cfg.StrictEmptyTxSuppression {
		t.Fatalf("expected strict_empty_tx_suppression default false")
	}
}

func TestLoadRejectsInvalidSignNodeRange(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "ca3.yaml", `
min_sign_nodes: 5
max_sign_nodes: 2
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for min_sign_nodes > max_sign_nodes")
	}
}

func TestLoadRoster(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "roster.yaml", `
peers:
  - name: nodeA
    host: 127.0.0.1
    port: 9001
    allow_outgoing: true
  - name: nodeB
    host: 127.0.0.1
    port: 9002
    allow_outgoing: true
`)
	r, err := LoadRoster(path, "nodeA", 5)
	if err != nil {
		t.Fatalf("load roster: %v", err)
	}
	cands, err := r.Candidates(nil)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(cands) != 1 || cands[0].Name != "nodeB" {
		t.Fatalf("expected nodeB as only candidate, got %+v", cands)
	}
}
