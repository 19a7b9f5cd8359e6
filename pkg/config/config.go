// Package config defines the gateway's YAML configuration, its
// defaults, validation, and hot reload.
package config

import "time"

// Config is the root configuration document.
type Config struct {
	// Server configures the inbound HTTP listener.
	Server ServerConfig `yaml:"server"`

	// Logging configures the structured logger.
	Logging LoggingConfig `yaml:"logging"`

	// Upstream configures the shared outbound HTTP client.
	Upstream UpstreamConfig `yaml:"upstream"`

	// Cooldowns configures circuit breaker recovery windows.
	Cooldowns CooldownConfig `yaml:"cooldowns"`

	// Providers lists the upstream providers in declaration order.
	// Declaration order is the routing tie-break for equal weights.
	Providers []ProviderConfig `yaml:"providers"`

	// ModelMappings maps unified model name -> provider id -> upstream
	// model names in preference order.
	ModelMappings map[string]map[string][]string `yaml:"model_mappings"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`

	// RequestLog configures persistent request logging.
	RequestLog RequestLogConfig `yaml:"request_log"`

	// PassiveHealth configures persistent attempt-outcome recording.
	PassiveHealth PassiveHealthConfig `yaml:"passive_health"`

	// ModelSync configures periodic upstream model list discovery.
	ModelSync ModelSyncConfig `yaml:"model_sync"`

	// Admin configures the operator endpoints.
	Admin AdminConfig `yaml:"admin"`
}

// ServerConfig configures the inbound HTTP listener.
type ServerConfig struct {
	// ListenAddress is the host:port to bind.
	ListenAddress string `yaml:"listen_address"`

	// ReadHeaderTimeout bounds request header reads. Body reads and
	// writes are unbounded because responses stream.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`

	// IdleTimeout closes idle keep-alive connections.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes caps request header size.
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// MaxBodyBytes caps request body size.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// APIKeys are the inbound credentials. Empty disables inbound
	// authentication.
	APIKeys []string `yaml:"api_keys"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is the minimum level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`

	// Format is "json" or "text".
	Format string `yaml:"format"`

	// AddSource includes file:line in log records.
	AddSource bool `yaml:"add_source"`
}

// UpstreamConfig configures the shared outbound HTTP client.
type UpstreamConfig struct {
	// DefaultTimeout bounds an upstream attempt when the provider does
	// not set its own timeout.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// Connection pool settings.
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// CooldownConfig configures circuit breaker recovery windows. Network
// errors share the server error window.
type CooldownConfig struct {
	RateLimited time.Duration `yaml:"rate_limited"`
	ServerError time.Duration `yaml:"server_error"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ProviderConfig declares one upstream provider.
type ProviderConfig struct {
	// ID uniquely identifies the provider. Required.
	ID string `yaml:"id"`

	// Name is the display name, defaulting to ID.
	Name string `yaml:"name"`

	// BaseURL is the upstream API root, without a trailing slash.
	BaseURL string `yaml:"base_url"`

	// APIKey is the upstream credential. APIKeyEnv names an
	// environment variable to read instead; it wins when both are set.
	APIKey    string `yaml:"api_key"`
	APIKeyEnv string `yaml:"api_key_env"`

	// Protocol is the upstream wire protocol: "openai", "responses",
	// "anthropic", or "gemini".
	Protocol string `yaml:"protocol"`

	// Weight sets the share of first-attempt traffic. Must be >= 1.
	Weight int `yaml:"weight"`

	// Timeout bounds one attempt against this provider. Zero falls
	// back to upstream.default_timeout.
	Timeout time.Duration `yaml:"timeout"`

	// Enabled removes the provider from routing when false. Defaults
	// to true.
	Enabled *bool `yaml:"enabled"`

	// AllowModelSync permits periodic model list discovery against
	// this provider. Defaults to true.
	AllowModelSync *bool `yaml:"allow_model_sync"`

	// Models is the static list of upstream models this provider
	// serves. Empty means it serves any model it is asked for.
	Models []string `yaml:"models"`
}

// IsEnabled resolves the Enabled default.
func (p ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// SyncAllowed resolves the AllowModelSync default.
func (p ProviderConfig) SyncAllowed() bool {
	return p.AllowModelSync == nil || *p.AllowModelSync
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled defaults to true.
	Enabled *bool `yaml:"enabled"`

	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
}

// IsEnabled resolves the Enabled default.
func (m MetricsConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// RequestLogConfig configures persistent request logging.
type RequestLogConfig struct {
	// Enabled defaults to false: request logging is opt-in.
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database file.
	Path string `yaml:"path"`

	// BufferSize is the async write queue length.
	BufferSize int `yaml:"buffer_size"`

	// RetentionDays prunes records older than this many days. Zero
	// disables pruning.
	RetentionDays int `yaml:"retention_days"`

	// PruneSchedule is the cron expression for the prune job.
	PruneSchedule string `yaml:"prune_schedule"`
}

// PassiveHealthConfig configures persistent attempt-outcome recording.
type PassiveHealthConfig struct {
	// Enabled defaults to false.
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database file.
	Path string `yaml:"path"`

	// BufferSize is the async write queue length.
	BufferSize int `yaml:"buffer_size"`
}

// ModelSyncConfig configures periodic upstream model discovery.
type ModelSyncConfig struct {
	// Enabled defaults to false.
	Enabled bool `yaml:"enabled"`

	// Schedule is the cron expression for sync runs.
	Schedule string `yaml:"schedule"`

	// Timeout bounds one provider's model list request.
	Timeout time.Duration `yaml:"timeout"`
}

// AdminConfig configures the operator endpoints.
type AdminConfig struct {
	// Enabled defaults to true.
	Enabled *bool `yaml:"enabled"`
}

// IsEnabled resolves the Enabled default.
func (a AdminConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}
