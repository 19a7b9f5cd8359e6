package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"relaylabs/relay/pkg/adapters"
	"relaylabs/relay/pkg/registry"
	"relaylabs/relay/pkg/routing"
)

// PassiveHealthSink receives the outcome of every upstream attempt.
// Implementations must not block the request path.
type PassiveHealthSink interface {
	Record(providerID, model string, success bool, statusCode int, errMsg string)
}

// ActivitySink receives a touch for every successful upstream request.
type ActivitySink interface {
	Touch(providerID, model, kind string)
}

// MetricsSink receives per-attempt and per-usage measurements.
type MetricsSink interface {
	RecordAttempt(providerID, model string, statusCode int, duration time.Duration)
	RecordUsage(providerID, model string, usage adapters.TokenUsage)
}

// Result is a completed non-streaming proxy request.
type Result struct {
	// Response is the unified chat completion returned to the caller.
	Response *adapters.ChatCompletion

	// Usage is the token accounting reported by the upstream.
	Usage *adapters.TokenUsage

	// ProviderID, ProviderName, and Model identify the candidate that
	// served the request.
	ProviderID   string
	ProviderName string
	Model        string
}

// Orchestrator fans a unified request out to upstream candidates in
// weighted order, retrying retryable failures until a candidate
// succeeds or the list is exhausted.
type Orchestrator struct {
	router   *routing.Router
	picker   *routing.Picker
	registry *registry.Registry
	client   *http.Client
	timeout  time.Duration
	logger   *slog.Logger

	health   PassiveHealthSink
	activity ActivitySink
	metrics  MetricsSink
}

// Config assembles an Orchestrator. Router, Registry, and Client are
// required; the sinks are optional and skipped when nil.
type Config struct {
	Router   *routing.Router
	Registry *registry.Registry
	Client   *http.Client

	// Picker orders candidates. A time-seeded picker is created when
	// nil; tests inject a deterministic one.
	Picker *routing.Picker

	// DefaultTimeout bounds an attempt when the provider does not
	// configure its own timeout.
	DefaultTimeout time.Duration

	Logger   *slog.Logger
	Health   PassiveHealthSink
	Activity ActivitySink
	Metrics  MetricsSink
}

// DefaultTimeout bounds one upstream attempt when neither the provider
// nor the configuration sets a timeout.
const DefaultTimeout = 120 * time.Second

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	picker := cfg.Picker
	if picker == nil {
		picker = routing.NewPicker()
	}
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		router:   cfg.Router,
		picker:   picker,
		registry: cfg.Registry,
		client:   cfg.Client,
		timeout:  timeout,
		logger:   logger,
		health:   cfg.Health,
		activity: cfg.Activity,
		metrics:  cfg.Metrics,
	}
}

// ForwardRequest proxies a non-streaming request. Candidates are tried
// in weighted order; each failed attempt is recorded against the
// provider's health before moving on. When every candidate fails, the
// last error is returned.
func (o *Orchestrator) ForwardRequest(ctx context.Context, adapter adapters.Adapter, body []byte, model string) (*Result, error) {
	candidates := o.router.Candidates(model, nil)
	if len(candidates) == 0 {
		return nil, &RoutingError{Model: model}
	}

	var lastErr *Error
	for _, cand := range o.picker.Order(candidates) {
		result, perr := o.attempt(ctx, adapter, cand, body, model)
		if perr == nil {
			return result, nil
		}

		o.logAttemptFailure(cand, perr)
		if perr.SkipRetry {
			// Host-level fault: abort without blaming the candidate.
			return nil, perr
		}
		o.registry.MarkFailure(cand.Provider.ID, perr.UpstreamStatus, perr.Message)
		o.recordHealth(cand, false, perr.UpstreamStatus, perr.Message)
		lastErr = perr
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, &Error{
		Message:    fmt.Sprintf("all providers failed for model %q", model),
		StatusCode: 500,
		Kind:       KindProxy,
	}
}

// adapterFor resolves the adapter for one candidate. Candidates speak
// their provider's wire protocol, which may differ from the protocol of
// the inbound endpoint; failover across heterogeneous providers depends
// on this.
func (o *Orchestrator) adapterFor(cand routing.Candidate, fallback adapters.Adapter) adapters.Adapter {
	if cand.Provider.Protocol == "" || cand.Provider.Protocol == fallback.Name() {
		return fallback
	}
	a, err := adapters.ForProtocol(cand.Provider.Protocol)
	if err != nil {
		return fallback
	}
	return a
}

// attempt runs one candidate end to end: build, send, check status,
// transform.
func (o *Orchestrator) attempt(ctx context.Context, adapter adapters.Adapter, cand routing.Candidate, body []byte, model string) (*Result, *Error) {
	adapter = o.adapterFor(cand, adapter)
	preq, err := adapter.BuildRequest(cand.Provider.BaseURL, cand.Provider.APIKey, body, cand.Model)
	if err != nil {
		return nil, &Error{
			Message:      fmt.Sprintf("failed to build upstream request: %v", err),
			StatusCode:   400,
			ProviderID:   cand.Provider.ID,
			ProviderName: cand.Provider.Name,
			Model:        cand.Model,
			SkipRetry:    true,
			Kind:         KindProxy,
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, o.attemptTimeout(cand.Provider))
	defer cancel()

	start := time.Now()
	resp, perr := o.send(attemptCtx, cand, preq)
	if perr != nil {
		o.recordAttempt(cand, 0, time.Since(start))
		return nil, perr
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	duration := time.Since(start)
	o.recordAttempt(cand, resp.StatusCode, duration)
	if err != nil {
		return nil, o.transportError(cand, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{
			Message:        fmt.Sprintf("upstream returned status %d", resp.StatusCode),
			StatusCode:     resp.StatusCode,
			UpstreamStatus: resp.StatusCode,
			ProviderID:     cand.Provider.ID,
			ProviderName:   cand.Provider.Name,
			Model:          cand.Model,
			UpstreamBody:   string(raw),
			Kind:           KindProxy,
		}
	}

	completion, usage, err := adapter.TransformResponse(raw, model)
	if err != nil {
		return nil, &Error{
			Message:      fmt.Sprintf("failed to decode upstream response: %v", err),
			StatusCode:   502,
			ProviderID:   cand.Provider.ID,
			ProviderName: cand.Provider.Name,
			Model:        cand.Model,
			UpstreamBody: string(raw),
			Kind:         KindProxy,
		}
	}

	o.registry.MarkSuccess(cand.Provider.ID)
	o.recordHealth(cand, true, resp.StatusCode, "")
	o.touch(cand, "completion")
	if usage != nil {
		o.recordUsage(cand, *usage)
	}
	o.logger.Debug("request completed",
		"provider", cand.Provider.Name,
		"model", cand.Model,
		"duration_ms", duration.Milliseconds(),
	)

	return &Result{
		Response:     completion,
		Usage:        usage,
		ProviderID:   cand.Provider.ID,
		ProviderName: cand.Provider.Name,
		Model:        cand.Model,
	}, nil
}

// send issues the upstream HTTP request and classifies transport
// failures. The response body is the caller's to close.
func (o *Orchestrator) send(ctx context.Context, cand routing.Candidate, preq *adapters.ProtocolRequest) (*http.Response, *Error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, preq.URL, strings.NewReader(string(preq.Body)))
	if err != nil {
		return nil, &Error{
			Message:      fmt.Sprintf("invalid upstream request: %v", err),
			StatusCode:   400,
			ProviderID:   cand.Provider.ID,
			ProviderName: cand.Provider.Name,
			Model:        cand.Model,
			SkipRetry:    true,
			Kind:         KindProxy,
		}
	}
	for k, v := range preq.Headers {
		req.Header.Set(k, v)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, o.transportError(cand, err)
	}
	return resp, nil
}

// transportError maps a transport-level failure to a proxy error.
// Stream truncation and TLS faults abort the whole request
// immediately; everything else is retryable against the remaining
// candidates.
func (o *Orchestrator) transportError(cand routing.Candidate, err error) *Error {
	if isFatalTransport(err) {
		return &Error{
			Message:      fmt.Sprintf("upstream connection failed: %v", err),
			StatusCode:   503,
			ProviderID:   cand.Provider.ID,
			ProviderName: cand.Provider.Name,
			Model:        cand.Model,
			SkipRetry:    true,
			Kind:         KindSystem,
		}
	}

	msg := fmt.Sprintf("upstream request failed: %v", err)
	if isTimeout(err) {
		// The word matters: the circuit breaker classifies timeouts
		// by message when no status code exists.
		msg = fmt.Sprintf("upstream request timeout: %v", err)
	}
	return &Error{
		Message:      msg,
		StatusCode:   502,
		ProviderID:   cand.Provider.ID,
		ProviderName: cand.Provider.Name,
		Model:        cand.Model,
		Kind:         KindProxy,
	}
}

// isFatalTransport reports whether the error is a host-level transport
// fault (TLS handshake failure, truncated stream) that no other
// candidate would survive either.
func isFatalTransport(err error) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unexpected eof") {
		return true
	}
	return strings.Contains(msg, "tls") && strings.Contains(msg, "handshake")
}

// isTimeout reports whether the error is a deadline or network timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (o *Orchestrator) attemptTimeout(p registry.Provider) time.Duration {
	if p.Timeout > 0 {
		return p.Timeout
	}
	return o.timeout
}

func (o *Orchestrator) logAttemptFailure(cand routing.Candidate, perr *Error) {
	o.logger.Warn("upstream attempt failed",
		"provider", cand.Provider.Name,
		"model", cand.Model,
		"status", perr.UpstreamStatus,
		"kind", string(perr.Kind),
		"skip_retry", perr.SkipRetry,
		"error", perr.Message,
	)
}

func (o *Orchestrator) recordHealth(cand routing.Candidate, success bool, status int, errMsg string) {
	if o.health != nil {
		o.health.Record(cand.Provider.ID, cand.Model, success, status, errMsg)
	}
}

func (o *Orchestrator) touch(cand routing.Candidate, kind string) {
	if o.activity != nil {
		o.activity.Touch(cand.Provider.ID, cand.Model, kind)
	}
}

func (o *Orchestrator) recordAttempt(cand routing.Candidate, status int, duration time.Duration) {
	if o.metrics != nil {
		o.metrics.RecordAttempt(cand.Provider.ID, cand.Model, status, duration)
	}
}

func (o *Orchestrator) recordUsage(cand routing.Candidate, usage adapters.TokenUsage) {
	if o.metrics != nil {
		o.metrics.RecordUsage(cand.Provider.ID, cand.Model, usage)
	}
}
