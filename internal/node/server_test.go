package node

import (
	"path/filepath"
	"testing"
)

func TestLoadServerEnvAppliesDefaults(t *testing.T) {
	t.Setenv("KIOSK_MARKET_NODE_DB_PATH", "")
	t.Setenv("KIOSK_MARKET_AUTH_SECRET", "")

	cfg, err := loadServerEnv()
	if err != nil {
		t.Fatalf("load server env: %v", err)
	}
	if cfg.DBPath != filepath.Join("data", "node.db") {
		t.Fatalf("db path = %q, want default", cfg.DBPath)
	}
	if cfg.AuthSecret != "dev-secret" {
		t.Fatalf("auth secret = %q, want default", cfg.AuthSecret)
	}
}

func TestLoadServerEnvReadsOverrides(t *testing.T) {
	t.Setenv("KIOSK_MARKET_NODE_DB_PATH", filepath.Join("var", "ledger.db"))
	t.Setenv("KIOSK_MARKET_AUTH_SECRET", "s3cret")

	cfg, err := loadServerEnv()
	if err != nil {
		t.Fatalf("load server env: %v", err)
	}
	if cfg.DBPath != filepath.Join("var", "ledger.db") {
		t.Fatalf("db path = %q, want override", cfg.DBPath)
	}
	if cfg.AuthSecret != "s3cret" {
		t.Fatalf("auth secret = %q, want override", cfg.AuthSecret)
	}
}
