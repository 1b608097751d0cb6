package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

const validConfig = `
server:
  addr: 127.0.0.1:9000
  token: super-secret-token-value
storage:
  data_dir: /var/lib/warmpath
bridge:
  base_url: http://localhost:7700
send:
  send_interval: 30s
enrich:
  warn_threshold: 2
  ban_threshold: 3
log_level: debug
`

func TestLoadValidFile(t *testing.T) {
	path := writeConfig(t, validConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Errorf("addr = %s", cfg.Server.Addr)
	}
	if cfg.Bridge.BaseURL != "http://localhost:7700" {
		t.Errorf("bridge url = %s", cfg.Bridge.BaseURL)
	}
	if cfg.Send.SendInterval != 30*time.Second {
		t.Errorf("send interval = %v", cfg.Send.SendInterval)
	}
	if cfg.Enrich.BanThreshold != 3 {
		t.Errorf("ban threshold = %d", cfg.Enrich.BanThreshold)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %s", cfg.LogLevel)
	}
}

func TestLoadRequiresToken(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: 127.0.0.1:9000
  token: short
`)
	if _, err := Load(path); err == nil {
		t.Fatal("a token under 16 characters must be rejected")
	}
}

func TestLoadTenantTokens(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: 127.0.0.1:9000
  token: super-secret-token-value
  tenants:
    - token: acme-tenant-token-value
      company_id: acme
    - token: umbrella-tenant-token-value
      company_id: umbrella
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	m := cfg.Server.TenantMap()
	if len(m) != 2 || m["acme-tenant-token-value"] != "acme" || m["umbrella-tenant-token-value"] != "umbrella" {
		t.Errorf("tenant map = %v", m)
	}
}

func TestLoadRejectsShortTenantToken(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: 127.0.0.1:9000
  token: super-secret-token-value
  tenants:
    - token: short
      company_id: acme
`)
	if _, err := Load(path); err == nil {
		t.Fatal("a tenant token under 16 characters must be rejected")
	}
}

func TestLoadRejectsBanBelowWarn(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: 127.0.0.1:9000
  token: super-secret-token-value
enrich:
  warn_threshold: 4
  ban_threshold: 3
`)
	if _, err := Load(path); err == nil {
		t.Fatal("ban threshold at or below warn threshold must be rejected")
	}
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: 127.0.0.1:9000
  token: super-secret-token-value
log_level: verbose
`)
	if _, err := Load(path); err == nil {
		t.Fatal("unknown log level must be rejected")
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, validConfig)
	t.Setenv("WARMPATH_ADDR", "0.0.0.0:9100")
	t.Setenv("WARMPATH_TOKEN", "env-token-overrides-file")
	t.Setenv("WARMPATH_SEND_INTERVAL", "90s")
	t.Setenv("WARMPATH_BAN_THRESHOLD", "5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != "0.0.0.0:9100" {
		t.Errorf("addr override ignored: %s", cfg.Server.Addr)
	}
	if cfg.Server.Token != "env-token-overrides-file" {
		t.Errorf("token override ignored")
	}
	if cfg.Send.SendInterval != 90*time.Second {
		t.Errorf("send interval override ignored: %v", cfg.Send.SendInterval)
	}
	if cfg.Enrich.BanThreshold != 5 {
		t.Errorf("ban threshold override ignored: %d", cfg.Enrich.BanThreshold)
	}
}

func TestLoadWithoutFileNeedsTokenFromEnv(t *testing.T) {
	t.Setenv("WARMPATH_TOKEN", "env-only-token-value")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:8470" {
		t.Errorf("default addr = %s", cfg.Server.Addr)
	}
	if cfg.Storage.DataDir == "" {
		t.Error("default data dir empty")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing explicit config file must be an error")
	}
}
