package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"relaylabs/relay/pkg/adapters"
	"relaylabs/relay/pkg/registry"
	"relaylabs/relay/pkg/routing"
)

// zeroSource pins the weighted first pick to the highest-weight
// candidate, making attempt order deterministic in tests.
type zeroSource struct{}

func (zeroSource) Int63() int64 { return 0 }
func (zeroSource) Seed(int64)   {}

// literalResolver routes every model name literally.
type literalResolver struct{}

func (literalResolver) Resolve(string) map[string][]string { return nil }

func newTestOrchestrator(t *testing.T, providers ...registry.Provider) (*Orchestrator, *registry.Registry) {
	t.Helper()
	reg := registry.New(registry.DefaultCooldowns())
	for _, p := range providers {
		if err := reg.Register(p); err != nil {
			t.Fatalf("register %s: %v", p.ID, err)
		}
	}
	return New(Config{
		Router:         routing.New(reg, literalResolver{}),
		Registry:       reg,
		Client:         NewHTTPClient(DefaultClientConfig()),
		Picker:         routing.NewPickerWithSource(zeroSource{}),
		DefaultTimeout: 5 * time.Second,
	}), reg
}

func completionBody(content string) string {
	return `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"created": 1700000000,
		"model": "upstream-model",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "` + content + `"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 5, "completion_tokens": 3, "total_tokens": 8}
	}`
}

const chatBody = `{"model": "gpt-test", "messages": [{"role": "user", "content": "hi"}]}`

func TestForwardRequest_Success(t *testing.T) {
	var gotAuth atomic.Value
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(completionBody("hello")))
	}))
	defer upstream.Close()

	o, reg := newTestOrchestrator(t, registry.Provider{
		ID: "p1", Name: "primary", BaseURL: upstream.URL + "/v1",
		APIKey: "sk-test", Weight: 10, Enabled: true, Protocol: adapters.ProtocolOpenAI,
	})

	result, err := o.ForwardRequest(context.Background(), adapters.OpenAI{}, []byte(chatBody), "gpt-test")
	if err != nil {
		t.Fatalf("ForwardRequest: %v", err)
	}
	if result.ProviderID != "p1" {
		t.Errorf("provider = %q, want p1", result.ProviderID)
	}
	if result.Response.Model != "gpt-test" {
		t.Errorf("response model = %q, want the requested name", result.Response.Model)
	}
	if result.Usage == nil || result.Usage.TotalTokens != 8 {
		t.Errorf("usage = %+v, want total 8", result.Usage)
	}
	if got := gotAuth.Load(); got != "Bearer sk-test" {
		t.Errorf("Authorization = %v, want Bearer sk-test", got)
	}

	state, _ := reg.State("p1")
	if state.SuccessCount != 1 || state.Status != registry.StatusHealthy {
		t.Errorf("state after success = %+v", state)
	}
}

func TestForwardRequest_FailoverToSecondProvider(t *testing.T) {
	var primaryHits, backupHits atomic.Int64
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryHits.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer primary.Close()
	backup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupHits.Add(1)
		w.Write([]byte(completionBody("from backup")))
	}))
	defer backup.Close()

	o, reg := newTestOrchestrator(t,
		registry.Provider{ID: "a", Name: "a", BaseURL: primary.URL, APIKey: "k", Weight: 10, Enabled: true, Protocol: adapters.ProtocolOpenAI},
		registry.Provider{ID: "b", Name: "b", BaseURL: backup.URL, APIKey: "k", Weight: 1, Enabled: true, Protocol: adapters.ProtocolOpenAI},
	)

	result, err := o.ForwardRequest(context.Background(), adapters.OpenAI{}, []byte(chatBody), "gpt-test")
	if err != nil {
		t.Fatalf("ForwardRequest: %v", err)
	}
	if result.ProviderID != "b" {
		t.Errorf("served by %q, want b", result.ProviderID)
	}
	if primaryHits.Load() != 1 || backupHits.Load() != 1 {
		t.Errorf("hits = %d/%d, want 1/1", primaryHits.Load(), backupHits.Load())
	}

	state, _ := reg.State("a")
	if state.Status != registry.StatusCooling || state.Reason != registry.ReasonServerError {
		t.Errorf("failed provider state = %+v, want cooling/server_error", state)
	}
}

func TestForwardRequest_ExhaustionReturnsLastError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer upstream.Close()

	o, reg := newTestOrchestrator(t,
		registry.Provider{ID: "a", Name: "a", BaseURL: upstream.URL, APIKey: "k", Weight: 10, Enabled: true, Protocol: adapters.ProtocolOpenAI},
		registry.Provider{ID: "b", Name: "b", BaseURL: upstream.URL, APIKey: "k", Weight: 1, Enabled: true, Protocol: adapters.ProtocolOpenAI},
	)

	_, err := o.ForwardRequest(context.Background(), adapters.OpenAI{}, []byte(chatBody), "gpt-test")
	perr, ok := err.(*Error)
	if !ok {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if perr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", perr.StatusCode)
	}
	// Last error comes from the last candidate tried.
	if perr.ProviderID != "b" {
		t.Errorf("last error from %q, want b", perr.ProviderID)
	}

	for _, id := range []string{"a", "b"} {
		state, _ := reg.State(id)
		if state.Status != registry.StatusCooling || state.Reason != registry.ReasonRateLimited {
			t.Errorf("provider %s state = %+v, want cooling/rate_limited", id, state)
		}
		if state.FailureCount != 1 {
			t.Errorf("provider %s failure count = %d, want 1", id, state.FailureCount)
		}
	}
}

func TestForwardRequest_AuthFailureDisablesProvider(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer upstream.Close()

	o, reg := newTestOrchestrator(t, registry.Provider{
		ID: "p1", Name: "p1", BaseURL: upstream.URL, APIKey: "bad", Weight: 1, Enabled: true, Protocol: adapters.ProtocolOpenAI,
	})

	_, err := o.ForwardRequest(context.Background(), adapters.OpenAI{}, []byte(chatBody), "gpt-test")
	if err == nil {
		t.Fatal("want error")
	}

	state, _ := reg.State("p1")
	if state.Status != registry.StatusDisabled || state.Reason != registry.ReasonAuthFailed {
		t.Errorf("state = %+v, want disabled/auth_failed", state)
	}
	// Disabled providers drop out of routing entirely.
	if _, err := o.ForwardRequest(context.Background(), adapters.OpenAI{}, []byte(chatBody), "gpt-test"); err == nil {
		t.Fatal("want routing error after disable")
	} else if _, ok := err.(*RoutingError); !ok {
		t.Errorf("error type = %T, want *RoutingError", err)
	}
}

func TestForwardRequest_TruncatedBodyAbortsWithoutRetry(t *testing.T) {
	var backupHits atomic.Int64
	truncating := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "4096")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"partial":`))
	}))
	defer truncating.Close()
	backup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupHits.Add(1)
		w.Write([]byte(completionBody("unreachable")))
	}))
	defer backup.Close()

	o, reg := newTestOrchestrator(t,
		registry.Provider{ID: "a", Name: "a", BaseURL: truncating.URL, APIKey: "k", Weight: 10, Enabled: true, Protocol: adapters.ProtocolOpenAI},
		registry.Provider{ID: "b", Name: "b", BaseURL: backup.URL, APIKey: "k", Weight: 1, Enabled: true, Protocol: adapters.ProtocolOpenAI},
	)

	_, err := o.ForwardRequest(context.Background(), adapters.OpenAI{}, []byte(chatBody), "gpt-test")
	perr, ok := err.(*Error)
	if !ok {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if !perr.SkipRetry || perr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("error = %+v, want skip_retry 503", perr)
	}
	if backupHits.Load() != 0 {
		t.Errorf("backup was tried %d times, want 0", backupHits.Load())
	}
	// Transport faults of this kind are not charged to the provider.
	state, _ := reg.State("a")
	if state.Status != registry.StatusHealthy {
		t.Errorf("provider state = %+v, want healthy", state)
	}
}

func TestForwardRequest_TimeoutClassifiedAsTimeout(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte(completionBody("late")))
	}))
	defer upstream.Close()

	o, reg := newTestOrchestrator(t, registry.Provider{
		ID: "slow", Name: "slow", BaseURL: upstream.URL, APIKey: "k",
		Weight: 1, Timeout: 50 * time.Millisecond, Enabled: true, Protocol: adapters.ProtocolOpenAI,
	})

	_, err := o.ForwardRequest(context.Background(), adapters.OpenAI{}, []byte(chatBody), "gpt-test")
	perr, ok := err.(*Error)
	if !ok {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if perr.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", perr.StatusCode)
	}
	if !strings.Contains(strings.ToLower(perr.Message), "timeout") {
		t.Errorf("message %q should mention timeout", perr.Message)
	}

	state, _ := reg.State("slow")
	if state.Status != registry.StatusCooling || state.Reason != registry.ReasonTimeout {
		t.Errorf("state = %+v, want cooling/timeout", state)
	}
}

func TestForwardRequest_MalformedBodyIsRetryable(t *testing.T) {
	var backupHits atomic.Int64
	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json at all"))
	}))
	defer garbage.Close()
	backup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupHits.Add(1)
		w.Write([]byte(completionBody("rescued")))
	}))
	defer backup.Close()

	o, _ := newTestOrchestrator(t,
		registry.Provider{ID: "a", Name: "a", BaseURL: garbage.URL, APIKey: "k", Weight: 10, Enabled: true, Protocol: adapters.ProtocolOpenAI},
		registry.Provider{ID: "b", Name: "b", BaseURL: backup.URL, APIKey: "k", Weight: 1, Enabled: true, Protocol: adapters.ProtocolOpenAI},
	)

	result, err := o.ForwardRequest(context.Background(), adapters.OpenAI{}, []byte(chatBody), "gpt-test")
	if err != nil {
		t.Fatalf("ForwardRequest: %v", err)
	}
	if result.ProviderID != "b" || backupHits.Load() != 1 {
		t.Errorf("served by %q (backup hits %d), want b/1", result.ProviderID, backupHits.Load())
	}
}

func TestForwardRequest_FailoverAcrossProtocols(t *testing.T) {
	openai := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusInternalServerError)
	}))
	defer openai.Close()
	var gotKey atomic.Value
	anthropic := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey.Store(r.Header.Get("x-api-key"))
		w.Write([]byte(`{
			"id": "msg_1",
			"content": [{"type": "text", "text": "Hi"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 5, "output_tokens": 3}
		}`))
	}))
	defer anthropic.Close()

	o, _ := newTestOrchestrator(t,
		registry.Provider{ID: "oa", Name: "oa", BaseURL: openai.URL, APIKey: "sk-oa", Weight: 10, Enabled: true, Protocol: adapters.ProtocolOpenAI},
		registry.Provider{ID: "an", Name: "an", BaseURL: anthropic.URL, APIKey: "sk-an", Weight: 1, Enabled: true, Protocol: adapters.ProtocolAnthropic},
	)

	result, err := o.ForwardRequest(context.Background(), adapters.OpenAI{}, []byte(chatBody), "gpt-test")
	if err != nil {
		t.Fatalf("ForwardRequest: %v", err)
	}
	if result.ProviderID != "an" {
		t.Errorf("served by %q, want the anthropic provider", result.ProviderID)
	}
	// The fallback spoke Anthropic upstream but the result is unified.
	if got := result.Response.Choices[0].Message.Content; got != "Hi" {
		t.Errorf("content = %q, want Hi", got)
	}
	if result.Usage.TotalTokens != 8 {
		t.Errorf("usage total = %d, want 8", result.Usage.TotalTokens)
	}
	if got := gotKey.Load(); got != "sk-an" {
		t.Errorf("x-api-key = %v, want sk-an", got)
	}
}

func TestForwardRequest_UnknownModelReturnsRoutingError(t *testing.T) {
	reg := registry.New(registry.DefaultCooldowns())
	o := New(Config{
		Router:   routing.New(reg, literalResolver{}),
		Registry: reg,
		Client:   NewHTTPClient(DefaultClientConfig()),
		Picker:   routing.NewPickerWithSource(zeroSource{}),
	})

	_, err := o.ForwardRequest(context.Background(), adapters.OpenAI{}, []byte(chatBody), "gpt-test")
	rerr, ok := err.(*RoutingError)
	if !ok {
		t.Fatalf("error type = %T, want *RoutingError", err)
	}
	if rerr.Model != "gpt-test" {
		t.Errorf("model = %q", rerr.Model)
	}
}

func TestNewErrorBody(t *testing.T) {
	status, body := NewErrorBody(&RoutingError{Model: "m"})
	if status != 404 || body.Error.Code != "model_not_found" {
		t.Errorf("routing error rendered as %d %+v", status, body)
	}

	status, body = NewErrorBody(&Error{Message: "upstream returned status 429", StatusCode: 429})
	if status != 429 || body.Error.Type != "upstream_error" {
		t.Errorf("proxy error rendered as %d %+v", status, body)
	}

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"error"`) {
		t.Errorf("envelope missing error key: %s", data)
	}
}
