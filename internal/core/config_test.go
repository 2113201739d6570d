package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// ─── Loading ────────────────────────────────────────────────────────────────

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Port != 1790 {
		t.Errorf("default port = %d, want 1790", cfg.Server.Port)
	}
	if cfg.Redis.Enabled {
		t.Error("redis must be disabled by default")
	}
	if cfg.RateLimits["critical"].MaxRequests != 10 {
		t.Errorf("critical tier = %d, want 10", cfg.RateLimits["critical"].MaxRequests)
	}
}

func TestLoadConfig_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Executor.MaxConcurrent != 32 {
		t.Errorf("default max_concurrent = %d, want 32", cfg.Executor.MaxConcurrent)
	}
}

func TestLoadConfig_FileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aegis.yaml")
	doc := `
server:
  port: 9090
  api_keys: ["sk-test"]
redis:
  enabled: true
  addr: "redis:6379"
rate_limits:
  low:
    max_requests: 50
    window: 30s
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "redis:6379" {
		t.Errorf("redis overlay lost: %+v", cfg.Redis)
	}
	if cfg.RateLimits["low"].MaxRequests != 50 || cfg.RateLimits["low"].Window != 30*time.Second {
		t.Errorf("low tier overlay lost: %+v", cfg.RateLimits["low"])
	}
	// Untouched defaults survive.
	if cfg.Orchestrator.Thresholds.Critical != 90 {
		t.Errorf("thresholds should keep defaults, got %+v", cfg.Orchestrator.Thresholds)
	}
}

func TestLoadConfig_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("server: [not a map"), 0o600)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("malformed YAML must error")
	}
}

// ─── Validation ─────────────────────────────────────────────────────────────

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"zero port", func(c *Config) { c.Server.Port = 0 }, false},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, false},
		{"zero max_requests", func(c *Config) {
			c.RateLimits["low"] = RuleConfig{MaxRequests: 0, Window: time.Minute}
		}, false},
		{"zero window", func(c *Config) {
			c.RateLimits["low"] = RuleConfig{MaxRequests: 5}
		}, false},
		{"negative concurrency", func(c *Config) { c.Executor.MaxConcurrent = -1 }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

// ─── API keys ───────────────────────────────────────────────────────────────

func TestCheckAPIKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.APIKeys = []string{"sk-alpha", "sk-beta"}

	if !cfg.AuthEnabled() {
		t.Fatal("auth should be enabled with configured keys")
	}
	if !cfg.CheckAPIKey("sk-alpha") || !cfg.CheckAPIKey("sk-beta") {
		t.Error("configured keys must pass")
	}
	if cfg.CheckAPIKey("sk-gamma") || cfg.CheckAPIKey("") {
		t.Error("unknown keys must fail")
	}
}

func TestCheckAPIKey_EnvOverride(t *testing.T) {
	t.Setenv("AEGIS_API_KEY", "sk-env")

	cfg := DefaultConfig()
	if !cfg.AuthEnabled() {
		t.Fatal("env key should enable auth")
	}
	if !cfg.CheckAPIKey("sk-env") {
		t.Error("env key must pass")
	}
}

func TestAuthDisabledWithoutKeys(t *testing.T) {
	t.Setenv("AEGIS_API_KEY", "")
	cfg := DefaultConfig()
	if cfg.AuthEnabled() {
		t.Error("no keys means no auth")
	}
}

func TestLogLevelDefault(t *testing.T) {
	cfg := &Config{}
	if got := cfg.LogLevel(); got != "info" {
		t.Errorf("LogLevel() = %q, want info", got)
	}
}
