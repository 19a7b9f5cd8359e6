// Package metrics exposes the gateway's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"relaylabs/relay/pkg/adapters"
)

// Config controls metric construction.
type Config struct {
	// Namespace and Subsystem prefix every metric name.
	Namespace string
	Subsystem string

	// RequestDurationBuckets are the histogram buckets for upstream
	// attempt latency, in seconds. LLM completions routinely take tens
	// of seconds, so the defaults reach further than typical HTTP
	// buckets.
	RequestDurationBuckets []float64
}

// Metrics holds every collector the gateway records into. It satisfies
// the orchestrator's MetricsSink.
type Metrics struct {
	registry *prometheus.Registry

	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	promptTokens    *prometheus.CounterVec
	outputTokens    *prometheus.CounterVec
	providerState   *prometheus.GaugeVec
	activeStreams   prometheus.Gauge
}

// New creates the metric set on a fresh registry.
func New(cfg Config) *Metrics {
	if cfg.Namespace == "" {
		cfg.Namespace = "relay"
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = "gateway"
	}
	if len(cfg.RequestDurationBuckets) == 0 {
		cfg.RequestDurationBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120}
	}

	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "upstream_attempts_total",
			Help:      "Upstream attempts by provider, model, and HTTP status (0 for transport failures).",
		}, []string{"provider", "model", "status"}),
		attemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "upstream_attempt_duration_seconds",
			Help:      "Upstream attempt latency by provider and model.",
			Buckets:   cfg.RequestDurationBuckets,
		}, []string{"provider", "model"}),
		promptTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "prompt_tokens_total",
			Help:      "Prompt tokens reported by upstreams.",
		}, []string{"provider", "model"}),
		outputTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "completion_tokens_total",
			Help:      "Completion tokens reported by upstreams.",
		}, []string{"provider", "model"}),
		providerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "provider_state",
			Help:      "Circuit breaker state per provider: 1 healthy, 0.5 cooling, 0 disabled.",
		}, []string{"provider"}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "active_streams",
			Help:      "Streaming responses currently open.",
		}),
	}

	registry.MustRegister(
		m.attempts,
		m.attemptDuration,
		m.promptTokens,
		m.outputTokens,
		m.providerState,
		m.activeStreams,
	)
	return m
}

// RecordAttempt implements the orchestrator's MetricsSink.
func (m *Metrics) RecordAttempt(providerID, model string, statusCode int, duration time.Duration) {
	m.attempts.WithLabelValues(providerID, model, statusLabel(statusCode)).Inc()
	m.attemptDuration.WithLabelValues(providerID, model).Observe(duration.Seconds())
}

// RecordUsage implements the orchestrator's MetricsSink.
func (m *Metrics) RecordUsage(providerID, model string, usage adapters.TokenUsage) {
	if usage.PromptTokens > 0 {
		m.promptTokens.WithLabelValues(providerID, model).Add(float64(usage.PromptTokens))
	}
	if usage.CompletionTokens > 0 {
		m.outputTokens.WithLabelValues(providerID, model).Add(float64(usage.CompletionTokens))
	}
}

// SetProviderState records the breaker state of one provider.
func (m *Metrics) SetProviderState(providerID, status string) {
	var v float64
	switch status {
	case "healthy":
		v = 1
	case "cooling":
		v = 0.5
	}
	m.providerState.WithLabelValues(providerID).Set(v)
}

// StreamStarted and StreamEnded track the open-stream gauge.
func (m *Metrics) StreamStarted() { m.activeStreams.Inc() }
func (m *Metrics) StreamEnded()   { m.activeStreams.Dec() }

// Handler returns the scrape endpoint for this metric set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func statusLabel(code int) string {
	switch {
	case code == 0:
		return "0"
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "other"
	}
}
