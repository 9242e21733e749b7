package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
broker:
  host: darwin.example.com
  port: 61613
  topic: /topic/darwin.pushport-v16
store:
  path: /var/lib/darwincancel/store.db
server:
  listen: ":8090"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Broker.HeartbeatMs != 10000 {
		t.Errorf("expected default heartbeat_ms, got %d", cfg.Broker.HeartbeatMs)
	}
	if cfg.Cache.MaxEntries != 500 {
		t.Errorf("expected default cache max_entries, got %d", cfg.Cache.MaxEntries)
	}
	if cfg.Store.RetentionDays != 90 {
		t.Errorf("expected default retention_days, got %d", cfg.Store.RetentionDays)
	}
	if cfg.RateLimit.Default != 120 {
		t.Errorf("expected default rate_limit.default, got %d", cfg.RateLimit.Default)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
broker:
  host: darwin.example.com
  port: 61613
  topic: /topic/darwin.pushport-v16
  heartbeat_ms: 5000
store:
  path: /var/lib/darwincancel/store.db
  retention_days: 30
server:
  listen: ":9000"
cache:
  max_entries: 1000
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Broker.HeartbeatMs != 5000 {
		t.Errorf("expected overridden heartbeat_ms, got %d", cfg.Broker.HeartbeatMs)
	}
	if cfg.Store.RetentionDays != 30 {
		t.Errorf("expected overridden retention_days, got %d", cfg.Store.RetentionDays)
	}
	if cfg.Cache.MaxEntries != 1000 {
		t.Errorf("expected overridden cache max_entries, got %d", cfg.Cache.MaxEntries)
	}
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	path := writeConfigFile(t, `
broker:
  host: darwin.example.com
store:
  path: /var/lib/darwincancel/store.db
server:
  listen: ":8090"
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected a missing required broker.port/topic to fail validation")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfigFile(t, `
broker:
  host: darwin.example.com
  port: 61613
  topic: /topic/darwin.pushport-v16
store:
  path: /var/lib/darwincancel/store.db
server:
  listen: ":8090"
bogus_key: true
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected an unknown top-level key to be rejected")
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected a missing file to error")
	}
}

func TestLoadParsesMaxAgeDurationString(t *testing.T) {
	path := writeConfigFile(t, `
broker:
  host: darwin.example.com
  port: 61613
  topic: /topic/darwin.pushport-v16
store:
  path: /var/lib/darwincancel/store.db
server:
  listen: ":8090"
cache:
  max_age: 2h30m
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if time.Duration(cfg.Cache.MaxAge) != 2*time.Hour+30*time.Minute {
		t.Errorf("expected max_age to parse as 2h30m, got %v", time.Duration(cfg.Cache.MaxAge))
	}
}

func TestLoadRejectsUnparseableMaxAge(t *testing.T) {
	path := writeConfigFile(t, `
broker:
  host: darwin.example.com
  port: 61613
  topic: /topic/darwin.pushport-v16
store:
  path: /var/lib/darwincancel/store.db
server:
  listen: ":8090"
cache:
  max_age: not-a-duration
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected an unparseable max_age to fail")
	}
}
