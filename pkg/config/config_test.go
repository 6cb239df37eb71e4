package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Governance.DefaultFallbackAgent != "SAGE" {
		t.Errorf("DefaultFallbackAgent = %q, want SAGE", cfg.Governance.DefaultFallbackAgent)
	}
	if cfg.Governance.DecayInterval != 60*time.Second {
		t.Errorf("DecayInterval = %v, want 60s", cfg.Governance.DecayInterval)
	}
	if cfg.Governance.RerouteScanInterval != 10*time.Second {
		t.Errorf("RerouteScanInterval = %v, want 10s", cfg.Governance.RerouteScanInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config failed validation: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
server:
  http_port: 9000
store:
  type: postgres
  dsn: postgres://sentinel@localhost/sentinel?sslmode=disable
governance:
  default_fallback_agent: ORACLE
  fallback_map:
    ATLAS: SAGE
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Server.HTTPPort != 9000 {
		t.Errorf("HTTPPort = %d, want 9000", cfg.Server.HTTPPort)
	}
	if cfg.Store.Type != "postgres" {
		t.Errorf("Store.Type = %q, want postgres", cfg.Store.Type)
	}
	if cfg.Governance.DefaultFallbackAgent != "ORACLE" {
		t.Errorf("DefaultFallbackAgent = %q, want ORACLE", cfg.Governance.DefaultFallbackAgent)
	}
	if cfg.Governance.FallbackMap["ATLAS"] != "SAGE" {
		t.Errorf("FallbackMap[ATLAS] = %q, want SAGE", cfg.Governance.FallbackMap["ATLAS"])
	}
	// Defaults survive partial files.
	if cfg.Governance.DecayInterval != 60*time.Second {
		t.Errorf("DecayInterval = %v, want default 60s", cfg.Governance.DecayInterval)
	}
}

func TestLoadFromFileExpandsEnv(t *testing.T) {
	t.Setenv("SENTINEL_TEST_DSN", "postgres://expanded")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "store:\n  type: postgres\n  dsn: ${SENTINEL_TEST_DSN}\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if cfg.Store.DSN != "postgres://expanded" {
		t.Errorf("DSN = %q, want expanded value", cfg.Store.DSN)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("SENTINEL_HTTP_PORT", "7777")
	t.Setenv("SENTINEL_FALLBACK_AGENT", "KEEPER")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.Server.HTTPPort != 7777 {
		t.Errorf("HTTPPort = %d, want 7777", cfg.Server.HTTPPort)
	}
	if cfg.Governance.DefaultFallbackAgent != "KEEPER" {
		t.Errorf("DefaultFallbackAgent = %q, want KEEPER", cfg.Governance.DefaultFallbackAgent)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Type = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted postgres store without DSN")
	}

	cfg = DefaultConfig()
	cfg.Store.Type = "carrier-pigeon"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted unknown store type")
	}

	cfg = DefaultConfig()
	cfg.Server.HTTPPort = -1
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted negative port")
	}
}

func TestValidateRejectsNonPositiveIntervals(t *testing.T) {
	// A zero interval would panic time.NewTicker at engine start.
	cfg := DefaultConfig()
	cfg.Governance.DecayInterval = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted zero decay_interval")
	}

	cfg = DefaultConfig()
	cfg.Governance.DriftSweepInterval = -5 * time.Second
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted negative drift_sweep_interval")
	}

	cfg = DefaultConfig()
	cfg.Governance.RerouteScanInterval = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted zero reroute_scan_interval")
	}
}
