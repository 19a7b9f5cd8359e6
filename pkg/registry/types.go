package registry

import "time"

// Status represents the circuit-breaker state of a provider.
type Status string

const (
	// StatusHealthy means the provider is eligible for routing.
	StatusHealthy Status = "healthy"

	// StatusCooling means the provider is temporarily suppressed and will
	// recover automatically once its cooldown expires.
	StatusCooling Status = "cooling"

	// StatusDisabled means the provider is permanently suppressed and
	// requires an explicit reset to recover.
	StatusDisabled Status = "disabled"
)

// CooldownReason classifies why a provider entered cooldown.
type CooldownReason string

const (
	// ReasonRateLimited is set when the provider returned HTTP 429.
	ReasonRateLimited CooldownReason = "rate_limited"

	// ReasonServerError is set when the provider returned a 5xx status.
	ReasonServerError CooldownReason = "server_error"

	// ReasonTimeout is set when a request to the provider timed out.
	ReasonTimeout CooldownReason = "timeout"

	// ReasonNetworkError is set for transport failures that are neither
	// timeouts nor classified HTTP statuses.
	ReasonNetworkError CooldownReason = "network_error"

	// ReasonAuthFailed is set when the provider returned HTTP 401 or 403.
	// This reason has no duration: the provider stays disabled until reset.
	ReasonAuthFailed CooldownReason = "auth_failed"
)

// Cooldowns holds the process-level cooldown durations per reason.
// It is the single source of truth for the reason-to-duration mapping.
type Cooldowns struct {
	// RateLimited is the cooldown applied after HTTP 429.
	// Default: 180s
	RateLimited time.Duration

	// ServerError is the cooldown applied after 5xx responses and
	// unclassified network errors.
	// Default: 600s
	ServerError time.Duration

	// Timeout is the cooldown applied after request timeouts.
	// Default: 300s
	Timeout time.Duration
}

// DefaultCooldowns returns the default cooldown durations.
func DefaultCooldowns() Cooldowns {
	return Cooldowns{
		RateLimited: 180 * time.Second,
		ServerError: 600 * time.Second,
		Timeout:     300 * time.Second,
	}
}

// For returns the cooldown duration for the given reason. The second
// return value is false when the reason maps to permanent disablement
// rather than a timed cooldown.
func (c Cooldowns) For(reason CooldownReason) (time.Duration, bool) {
	switch reason {
	case ReasonRateLimited:
		return c.RateLimited, true
	case ReasonServerError:
		return c.ServerError, true
	case ReasonTimeout:
		return c.Timeout, true
	case ReasonNetworkError:
		// Unclassified network faults reuse the server-error cooldown.
		return c.ServerError, true
	default:
		return 0, false
	}
}

// Provider is the immutable configuration of one upstream backend.
// Runtime state lives in State and is mutated only by the Registry.
type Provider struct {
	// ID is the unique provider identifier.
	ID string

	// Name is the human-readable display name.
	Name string

	// BaseURL is the provider's API endpoint base URL.
	BaseURL string

	// APIKey is the upstream credential.
	APIKey string

	// Weight controls routing preference and load share. Must be >= 1.
	Weight int

	// Timeout is the per-provider request timeout. Zero means the
	// global upstream timeout applies.
	Timeout time.Duration

	// Enabled controls whether the provider participates in routing.
	Enabled bool

	// AllowModelSync controls whether the model-sync job may probe
	// this provider's model listing endpoint.
	AllowModelSync bool

	// Protocol selects the wire format spoken to this provider
	// (openai, responses, anthropic, gemini).
	Protocol string
}

// State is the mutable runtime state of one registered provider.
type State struct {
	// Status is the current circuit-breaker state.
	Status Status

	// CooldownUntil is when a Cooling provider becomes eligible again.
	CooldownUntil time.Time

	// Reason records why the provider entered its current cooldown.
	Reason CooldownReason

	// TotalRequests counts every attempt routed to this provider.
	TotalRequests int64

	// SuccessCount counts successful attempts.
	SuccessCount int64

	// FailureCount counts failed attempts.
	FailureCount int64

	// LastError is the message of the most recent failure.
	LastError string
}

// ProviderStatus is a point-in-time view of one provider, returned by
// Registry.Snapshot for the admin surface. The upstream credential is
// deliberately not included.
type ProviderStatus struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	BaseURL       string         `json:"base_url"`
	Weight        int            `json:"weight"`
	Protocol      string         `json:"protocol"`
	Enabled       bool           `json:"enabled"`
	Status        Status         `json:"status"`
	CooldownUntil time.Time      `json:"cooldown_until,omitzero"`
	Reason        CooldownReason `json:"cooldown_reason,omitempty"`
	TotalRequests int64          `json:"total_requests"`
	SuccessCount  int64          `json:"success_count"`
	FailureCount  int64          `json:"failure_count"`
	LastError     string         `json:"last_error,omitempty"`
	Models        []string       `json:"models,omitempty"`
}
