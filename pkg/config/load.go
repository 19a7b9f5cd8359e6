package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads, defaults, and validates a configuration file. Provider
// credentials declared through api_key_env are resolved here.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)
	resolveAPIKeys(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadWithEnvOverrides loads a configuration file and applies
// RELAY_SECTION_FIELD environment overrides on top. Environment always
// wins over the file.
func LoadWithEnvOverrides(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("after environment overrides: %w", err)
	}
	return cfg, nil
}

// resolveAPIKeys fills in provider credentials declared indirectly via
// api_key_env.
func resolveAPIKeys(cfg *Config) {
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.APIKeyEnv == "" {
			continue
		}
		if val := os.Getenv(p.APIKeyEnv); val != "" {
			p.APIKey = val
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("RELAY_SERVER_LISTEN_ADDRESS"); val != "" {
		cfg.Server.ListenAddress = val
	}
	if val := os.Getenv("RELAY_SERVER_SHUTDOWN_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Server.ShutdownTimeout = d
		}
	}
	if val := os.Getenv("RELAY_SERVER_API_KEYS"); val != "" {
		cfg.Server.APIKeys = strings.Split(val, ",")
	}

	if val := os.Getenv("RELAY_LOGGING_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("RELAY_LOGGING_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}

	if val := os.Getenv("RELAY_UPSTREAM_DEFAULT_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Upstream.DefaultTimeout = d
		}
	}

	if val := os.Getenv("RELAY_COOLDOWNS_RATE_LIMITED"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Cooldowns.RateLimited = d
		}
	}
	if val := os.Getenv("RELAY_COOLDOWNS_SERVER_ERROR"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Cooldowns.ServerError = d
		}
	}
	if val := os.Getenv("RELAY_COOLDOWNS_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Cooldowns.Timeout = d
		}
	}

	if val := os.Getenv("RELAY_METRICS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Metrics.Enabled = &b
		}
	}
	if val := os.Getenv("RELAY_REQUEST_LOG_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.RequestLog.Enabled = b
		}
	}
	if val := os.Getenv("RELAY_REQUEST_LOG_PATH"); val != "" {
		cfg.RequestLog.Path = val
	}
	if val := os.Getenv("RELAY_PASSIVE_HEALTH_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.PassiveHealth.Enabled = b
		}
	}
	if val := os.Getenv("RELAY_MODEL_SYNC_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.ModelSync.Enabled = b
		}
	}
	if val := os.Getenv("RELAY_ADMIN_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Admin.Enabled = &b
		}
	}
}
