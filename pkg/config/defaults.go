package config

import "time"

// Default values for configuration fields.
const (
	DefaultListenAddress     = "127.0.0.1:8080"
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultIdleTimeout       = 120 * time.Second
	DefaultShutdownTimeout   = 30 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20
	DefaultMaxBodyBytes      = int64(16 << 20)

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultUpstreamTimeout     = 120 * time.Second
	DefaultMaxIdleConns        = 100
	DefaultMaxIdleConnsPerHost = 10
	DefaultIdleConnTimeout     = 90 * time.Second

	DefaultRateLimitedCooldown = 180 * time.Second
	DefaultServerErrorCooldown = 600 * time.Second
	DefaultTimeoutCooldown     = 300 * time.Second

	DefaultProviderWeight = 1

	DefaultMetricsNamespace = "relay"
	DefaultMetricsSubsystem = "gateway"

	DefaultRequestLogPath       = "data/requests.db"
	DefaultRequestLogBuffer     = 1000
	DefaultRequestLogRetention  = 30
	DefaultRequestLogSchedule   = "0 3 * * *"
	DefaultPassiveHealthPath    = "data/health.db"
	DefaultPassiveHealthBuffer  = 1000
	DefaultModelSyncSchedule    = "@every 1h"
	DefaultModelSyncTimeout     = 30 * time.Second
)

// ApplyDefaults fills in zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadHeaderTimeout <= 0 {
		cfg.Server.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if cfg.Server.IdleTimeout <= 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxHeaderBytes <= 0 {
		cfg.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		cfg.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}

	if cfg.Upstream.DefaultTimeout <= 0 {
		cfg.Upstream.DefaultTimeout = DefaultUpstreamTimeout
	}
	if cfg.Upstream.MaxIdleConns <= 0 {
		cfg.Upstream.MaxIdleConns = DefaultMaxIdleConns
	}
	if cfg.Upstream.MaxIdleConnsPerHost <= 0 {
		cfg.Upstream.MaxIdleConnsPerHost = DefaultMaxIdleConnsPerHost
	}
	if cfg.Upstream.IdleConnTimeout <= 0 {
		cfg.Upstream.IdleConnTimeout = DefaultIdleConnTimeout
	}

	if cfg.Cooldowns.RateLimited <= 0 {
		cfg.Cooldowns.RateLimited = DefaultRateLimitedCooldown
	}
	if cfg.Cooldowns.ServerError <= 0 {
		cfg.Cooldowns.ServerError = DefaultServerErrorCooldown
	}
	if cfg.Cooldowns.Timeout <= 0 {
		cfg.Cooldowns.Timeout = DefaultTimeoutCooldown
	}

	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.Name == "" {
			p.Name = p.ID
		}
		if p.Weight == 0 {
			p.Weight = DefaultProviderWeight
		}
	}

	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Metrics.Subsystem == "" {
		cfg.Metrics.Subsystem = DefaultMetricsSubsystem
	}

	if cfg.RequestLog.Path == "" {
		cfg.RequestLog.Path = DefaultRequestLogPath
	}
	if cfg.RequestLog.BufferSize <= 0 {
		cfg.RequestLog.BufferSize = DefaultRequestLogBuffer
	}
	if cfg.RequestLog.RetentionDays == 0 {
		cfg.RequestLog.RetentionDays = DefaultRequestLogRetention
	}
	if cfg.RequestLog.PruneSchedule == "" {
		cfg.RequestLog.PruneSchedule = DefaultRequestLogSchedule
	}

	if cfg.PassiveHealth.Path == "" {
		cfg.PassiveHealth.Path = DefaultPassiveHealthPath
	}
	if cfg.PassiveHealth.BufferSize <= 0 {
		cfg.PassiveHealth.BufferSize = DefaultPassiveHealthBuffer
	}

	if cfg.ModelSync.Schedule == "" {
		cfg.ModelSync.Schedule = DefaultModelSyncSchedule
	}
	if cfg.ModelSync.Timeout <= 0 {
		cfg.ModelSync.Timeout = DefaultModelSyncTimeout
	}
}
