package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const validYAML = `
server:
  listen_address: "0.0.0.0:9090"
logging:
  level: debug
cooldowns:
  rate_limited: 60s
providers:
  - id: openai-main
    base_url: https://api.openai.com/v1
    api_key: sk-live
    protocol: openai
    weight: 8
  - id: claude
    base_url: https://api.anthropic.com/v1
    api_key: sk-ant
    protocol: anthropic
    timeout: 90s
model_mappings:
  gpt-4o:
    openai-main: ["gpt-4o-2024-08-06"]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.ListenAddress != "0.0.0.0:9090" {
		t.Errorf("listen address = %q", cfg.Server.ListenAddress)
	}
	if cfg.Cooldowns.RateLimited != 60*time.Second {
		t.Errorf("rate limited cooldown = %v", cfg.Cooldowns.RateLimited)
	}
	// Unset cooldowns fall back to defaults.
	if cfg.Cooldowns.ServerError != DefaultServerErrorCooldown {
		t.Errorf("server error cooldown = %v", cfg.Cooldowns.ServerError)
	}

	if len(cfg.Providers) != 2 {
		t.Fatalf("providers = %d", len(cfg.Providers))
	}
	p := cfg.Providers[1]
	if p.Name != "claude" {
		t.Errorf("name should default to id, got %q", p.Name)
	}
	if p.Weight != DefaultProviderWeight {
		t.Errorf("weight should default to %d, got %d", DefaultProviderWeight, p.Weight)
	}
	if !p.IsEnabled() || !p.SyncAllowed() {
		t.Error("enabled and allow_model_sync should default to true")
	}
	if p.Timeout != 90*time.Second {
		t.Errorf("timeout = %v", p.Timeout)
	}

	if cfg.ModelMappings["gpt-4o"]["openai-main"][0] != "gpt-4o-2024-08-06" {
		t.Errorf("model mappings = %v", cfg.ModelMappings)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("want error for missing file")
	}
}

func TestAPIKeyEnvResolution(t *testing.T) {
	t.Setenv("TEST_RELAY_OPENAI_KEY", "sk-from-env")

	cfg, err := Load(writeConfig(t, `
providers:
  - id: p1
    base_url: https://api.openai.com/v1
    api_key: sk-file
    api_key_env: TEST_RELAY_OPENAI_KEY
    protocol: openai
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers[0].APIKey != "sk-from-env" {
		t.Errorf("api key = %q, want the environment value", cfg.Providers[0].APIKey)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RELAY_SERVER_LISTEN_ADDRESS", "127.0.0.1:7777")
	t.Setenv("RELAY_COOLDOWNS_RATE_LIMITED", "45s")
	t.Setenv("RELAY_METRICS_ENABLED", "false")

	cfg, err := LoadWithEnvOverrides(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("LoadWithEnvOverrides: %v", err)
	}
	if cfg.Server.ListenAddress != "127.0.0.1:7777" {
		t.Errorf("listen address = %q, env should win", cfg.Server.ListenAddress)
	}
	if cfg.Cooldowns.RateLimited != 45*time.Second {
		t.Errorf("rate limited cooldown = %v", cfg.Cooldowns.RateLimited)
	}
	if cfg.Metrics.IsEnabled() {
		t.Error("metrics should be disabled by env override")
	}
}
