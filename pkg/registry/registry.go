package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Registry holds the runtime state of every configured provider and
// implements the circuit breaker that governs provider availability.
//
// All state transitions happen through MarkSuccess, MarkFailure, Reset,
// and the lazy recovery inside IsAvailable. There is no background
// recovery task: a Cooling provider flips back to Healthy the first time
// its availability is checked after the cooldown expires.
//
// Circuit-breaker state is tracked per provider, not per (provider,
// model) pair. All operations apply that granularity consistently.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	order     []string
	cooldowns Cooldowns

	// now is replaceable in tests to simulate time.
	now func() time.Time
}

type entry struct {
	provider Provider
	state    State
	models   map[string]struct{}
}

// New creates an empty registry using the given cooldown durations.
func New(cooldowns Cooldowns) *Registry {
	return &Registry{
		entries:   make(map[string]*entry),
		cooldowns: cooldowns,
		now:       time.Now,
	}
}

// Register adds a provider to the registry in Healthy state.
// Registration order is preserved and used as the stable tie-break for
// routing. Returns an error for duplicate IDs or weights below 1.
func (r *Registry) Register(p Provider) error {
	if p.ID == "" {
		return fmt.Errorf("provider registration: empty id")
	}
	if p.Weight < 1 {
		return fmt.Errorf("provider %q: weight must be >= 1, got %d", p.ID, p.Weight)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[p.ID]; exists {
		return fmt.Errorf("provider %q already registered", p.ID)
	}

	r.entries[p.ID] = &entry{
		provider: p,
		state:    State{Status: StatusHealthy},
		models:   make(map[string]struct{}),
	}
	r.order = append(r.order, p.ID)

	slog.Info("provider registered",
		"provider", p.ID,
		"weight", p.Weight,
		"protocol", p.Protocol,
	)
	return nil
}

// Deregister removes a provider and destroys its runtime state.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; !exists {
		return
	}
	delete(r.entries, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	slog.Info("provider deregistered", "provider", id)
}

// Get returns the configuration of a registered provider.
func (r *Registry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return Provider{}, false
	}
	return e.provider, true
}

// List returns all registered providers in registration order.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Provider, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].provider)
	}
	return out
}

// SetModels replaces the set of upstream models the provider is known to
// support. Called by the model-sync job and at configuration load.
func (r *Registry) SetModels(id string, models []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return
	}
	set := make(map[string]struct{}, len(models))
	for _, m := range models {
		set[m] = struct{}{}
	}
	e.models = set
}

// SupportsModel reports whether the provider is known to support the
// given upstream model name. A provider with no recorded model list is
// assumed to support everything it is asked for.
func (r *Registry) SupportsModel(id, model string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return false
	}
	if len(e.models) == 0 {
		return true
	}
	_, ok = e.models[model]
	return ok
}

// IsAvailable reports whether the provider may receive traffic.
//
// This is the only place where cooldown recovery happens: a Cooling
// provider whose cooldown has expired is transitioned back to Healthy
// here, lazily, on the availability check itself.
func (r *Registry) IsAvailable(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return false
	}
	if !e.provider.Enabled {
		return false
	}

	switch e.state.Status {
	case StatusDisabled:
		return false
	case StatusCooling:
		if !r.now().Before(e.state.CooldownUntil) {
			e.state.Status = StatusHealthy
			e.state.CooldownUntil = time.Time{}
			e.state.Reason = ""
			slog.Info("provider recovered from cooldown", "provider", id)
			return true
		}
		return false
	default:
		return true
	}
}

// MarkSuccess records a successful attempt. It never changes status.
func (r *Registry) MarkSuccess(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return
	}
	e.state.TotalRequests++
	e.state.SuccessCount++
}

// MarkFailure records a failed attempt and classifies it into a cooldown
// policy. Classification precedence is strict and ordered: auth status,
// rate-limit status, server-error status, timeout message, then the
// network-error fallback. Only the first matching rule applies.
func (r *Registry) MarkFailure(id string, statusCode int, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return
	}
	e.state.TotalRequests++
	e.state.FailureCount++
	e.state.LastError = errMsg

	reason := classify(statusCode, errMsg)
	if reason == ReasonAuthFailed {
		e.state.Status = StatusDisabled
		e.state.Reason = reason
		e.state.CooldownUntil = time.Time{}
		slog.Warn("provider permanently disabled",
			"provider", id,
			"status", statusCode,
			"error", errMsg,
		)
		return
	}

	duration, _ := r.cooldowns.For(reason)
	e.state.Status = StatusCooling
	e.state.Reason = reason
	e.state.CooldownUntil = r.now().Add(duration)
	slog.Warn("provider entered cooldown",
		"provider", id,
		"reason", string(reason),
		"cooldown", duration,
		"status", statusCode,
		"error", errMsg,
	)
}

// classify maps a failure to a cooldown reason. Order matters.
func classify(statusCode int, errMsg string) CooldownReason {
	switch {
	case statusCode == 401 || statusCode == 403:
		return ReasonAuthFailed
	case statusCode == 429:
		return ReasonRateLimited
	case statusCode >= 500 && statusCode < 600:
		return ReasonServerError
	case strings.Contains(strings.ToLower(errMsg), "timeout"):
		return ReasonTimeout
	default:
		return ReasonNetworkError
	}
}

// Reset forces a provider back to Healthy, clearing any cooldown or
// permanent disablement. Administrative use only; the request path never
// calls this.
func (r *Registry) Reset(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("provider %q not registered", id)
	}
	r.resetLocked(id, e)
	return nil
}

// ResetAll forces every provider back to Healthy.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, e := range r.entries {
		r.resetLocked(id, e)
	}
}

func (r *Registry) resetLocked(id string, e *entry) {
	e.state.Status = StatusHealthy
	e.state.CooldownUntil = time.Time{}
	e.state.Reason = ""
	slog.Info("provider reset", "provider", id)
}

// Snapshot returns a point-in-time status view of every provider, in
// registration order.
func (r *Registry) Snapshot() []ProviderStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ProviderStatus, 0, len(r.order))
	for _, id := range r.order {
		e := r.entries[id]
		models := make([]string, 0, len(e.models))
		for m := range e.models {
			models = append(models, m)
		}
		sort.Strings(models)

		out = append(out, ProviderStatus{
			ID:            e.provider.ID,
			Name:          e.provider.Name,
			BaseURL:       e.provider.BaseURL,
			Weight:        e.provider.Weight,
			Protocol:      e.provider.Protocol,
			Enabled:       e.provider.Enabled,
			Status:        e.state.Status,
			CooldownUntil: e.state.CooldownUntil,
			Reason:        e.state.Reason,
			TotalRequests: e.state.TotalRequests,
			SuccessCount:  e.state.SuccessCount,
			FailureCount:  e.state.FailureCount,
			LastError:     e.state.LastError,
			Models:        models,
		})
	}
	return out
}

// SetNow replaces the registry clock. Tests use this to simulate the
// passage of time without sleeping.
func (r *Registry) SetNow(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// State returns a copy of the runtime state for one provider.
func (r *Registry) State(id string) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return State{}, false
	}
	return e.state, true
}
