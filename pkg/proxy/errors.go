package proxy

import "fmt"

// ErrorKind classifies a proxy failure for logging: provider-side
// failures are "proxy", host-level transport faults are "system".
type ErrorKind string

const (
	// KindProxy marks failures attributable to one upstream candidate.
	KindProxy ErrorKind = "proxy"

	// KindSystem marks transport faults of the local host or network
	// path, unrelated to any one candidate's health.
	KindSystem ErrorKind = "system"
)

// Error is the failure of one proxy attempt. The orchestrator retries
// retryable errors against the remaining candidates and surfaces only
// the last one to the caller.
type Error struct {
	// Message describes the failure.
	Message string

	// StatusCode is the HTTP status surfaced to the caller.
	StatusCode int

	// UpstreamStatus is the status returned by the upstream, zero for
	// transport-level faults. The circuit breaker classifies on this,
	// not on the surfaced status.
	UpstreamStatus int

	// ProviderID and ProviderName identify the failed candidate.
	ProviderID   string
	ProviderName string

	// Model is the upstream model the candidate was asked for.
	Model string

	// UpstreamBody is the raw upstream response body, when one exists.
	UpstreamBody string

	// SkipRetry marks the failure fatal to the whole request: the
	// orchestrator aborts immediately instead of trying further
	// candidates, and does not count it against provider health.
	SkipRetry bool

	// Kind is the log classification.
	Kind ErrorKind
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.ProviderName != "" {
		return fmt.Sprintf("provider %q (%s): %s", e.ProviderName, e.Model, e.Message)
	}
	return e.Message
}

// RoutingError means no candidate exists for the requested model. It is
// surfaced as HTTP 404 and never retried.
type RoutingError struct {
	// Model is the requested unified model name.
	Model string
}

// Error implements the error interface.
func (e *RoutingError) Error() string {
	return fmt.Sprintf("no available provider for model %q", e.Model)
}

// APIError is the OpenAI-shaped error object returned to callers.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// ErrorBody is the OpenAI-shaped error envelope.
type ErrorBody struct {
	Error APIError `json:"error"`
}

// NewErrorBody builds the caller-facing error envelope for an error
// surfaced by the orchestrator.
func NewErrorBody(err error) (int, ErrorBody) {
	switch e := err.(type) {
	case *RoutingError:
		return 404, ErrorBody{Error: APIError{
			Message: e.Error(),
			Type:    "not_found_error",
			Code:    "model_not_found",
		}}
	case *Error:
		status := e.StatusCode
		if status == 0 {
			status = 500
		}
		return status, ErrorBody{Error: APIError{
			Message: e.Message,
			Type:    "upstream_error",
		}}
	default:
		return 500, ErrorBody{Error: APIError{
			Message: err.Error(),
			Type:    "internal_error",
		}}
	}
}
