package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"relaylabs/relay/pkg/adapters"
	"relaylabs/relay/pkg/proxy"
	"relaylabs/relay/pkg/requestlog"
)

// completionHandler serves one unified inbound endpoint. All four
// surfaces accept the unified body; they differ only in path shape and
// in which protocol's clients they attract, so one handler covers them.
type completionHandler struct {
	srv     *Server
	adapter adapters.Adapter
}

func (h *completionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, ok := h.srv.readBody(w, r)
	if !ok {
		return
	}

	model, stream, err := h.adapter.ParseRequest(body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, proxy.ErrorBody{
			Error: proxy.APIError{
				Message: "request body must include a model",
				Type:    "invalid_request_error",
			},
		})
		return
	}

	h.srv.serveCompletion(w, r, h.adapter, body, model, stream)
}

// geminiHandler serves the generateContent surfaces, where the model
// and the streaming mode live in the URL path instead of the body.
type geminiHandler struct {
	srv *Server
}

func (h *geminiHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	segment := r.PathValue("model")
	model, action, found := strings.Cut(segment, ":")
	if !found || model == "" {
		writeJSONError(w, http.StatusNotFound, proxy.ErrorBody{
			Error: proxy.APIError{
				Message: "expected /v1beta/models/{model}:generateContent",
				Type:    "invalid_request_error",
			},
		})
		return
	}

	var stream bool
	switch action {
	case "generateContent":
		stream = false
	case "streamGenerateContent":
		stream = true
	default:
		writeJSONError(w, http.StatusNotFound, proxy.ErrorBody{
			Error: proxy.APIError{
				Message: "unknown action :" + action,
				Type:    "invalid_request_error",
			},
		})
		return
	}

	body, ok := h.srv.readBody(w, r)
	if !ok {
		return
	}

	h.srv.serveCompletion(w, r, adapters.OpenAI{}, body, model, stream)
}

// readBody reads the request body under the configured size cap.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusRequestEntityTooLarge, proxy.ErrorBody{
			Error: proxy.APIError{
				Message: "request body too large",
				Type:    "invalid_request_error",
			},
		})
		return nil, false
	}
	return body, true
}

// serveCompletion forwards one unified request, streaming or not, and
// writes the response or the mapped error.
func (s *Server) serveCompletion(w http.ResponseWriter, r *http.Request, adapter adapters.Adapter, body []byte, model string, stream bool) {
	if stream {
		s.serveStream(w, r, adapter, body, model)
		return
	}

	start := time.Now()
	result, err := s.orchestrator.ForwardRequest(r.Context(), adapter, body, model)
	if err != nil {
		s.writeProxyError(w, r, adapter, model, start, err)
		return
	}

	s.logRequest(requestlog.Entry{
		Protocol:     adapter.Name(),
		Model:        model,
		ProviderID:   result.ProviderID,
		ProviderName: result.ProviderName,
		StatusCode:   http.StatusOK,
		DurationMs:   time.Since(start).Milliseconds(),
		PromptTokens: usageField(result.Usage, func(u adapters.TokenUsage) int { return u.PromptTokens }),
		CompletionTokens: usageField(result.Usage, func(u adapters.TokenUsage) int {
			return u.CompletionTokens
		}),
		TotalTokens: usageField(result.Usage, func(u adapters.TokenUsage) int { return u.TotalTokens }),
	})

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result.Response)
}

func (s *Server) serveStream(w http.ResponseWriter, r *http.Request, adapter adapters.Adapter, body []byte, model string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, proxy.ErrorBody{
			Error: proxy.APIError{
				Message: "streaming unsupported by this connection",
				Type:    "internal_error",
			},
		})
		return
	}

	start := time.Now()
	var sctx proxy.StreamContext
	ch, err := s.orchestrator.ForwardStream(r.Context(), adapter, body, model, &sctx)
	if err != nil {
		s.writeProxyError(w, r, adapter, model, start, err)
		return
	}

	if s.metrics != nil {
		s.metrics.StreamStarted()
		defer s.metrics.StreamEnded()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writing := true
	for event := range ch {
		if !writing {
			continue
		}
		if _, err := io.WriteString(w, event); err != nil {
			// Client went away; the orchestrator notices through the
			// request context. Keep draining so the pump finishes
			// before sctx is read below.
			writing = false
			continue
		}
		flusher.Flush()
	}

	s.logRequest(requestlog.Entry{
		Protocol:         adapter.Name(),
		Model:            model,
		ProviderID:       sctx.ProviderID,
		ProviderName:     sctx.ProviderName,
		Stream:           true,
		StatusCode:       http.StatusOK,
		DurationMs:       time.Since(start).Milliseconds(),
		PromptTokens:     sctx.Usage.PromptTokens,
		CompletionTokens: sctx.Usage.CompletionTokens,
		TotalTokens:      sctx.Usage.TotalTokens,
	})
}

// writeProxyError maps an orchestrator error onto the wire and records
// it in the request log.
func (s *Server) writeProxyError(w http.ResponseWriter, r *http.Request, adapter adapters.Adapter, model string, start time.Time, err error) {
	status, body := proxy.NewErrorBody(err)

	entry := requestlog.Entry{
		Protocol:   adapter.Name(),
		Model:      model,
		StatusCode: status,
		DurationMs: time.Since(start).Milliseconds(),
		Error:      body.Error.Message,
	}
	if perr, ok := err.(*proxy.Error); ok {
		entry.ProviderID = perr.ProviderID
		entry.ProviderName = perr.ProviderName
	}
	s.logRequest(entry)

	s.logger.Warn("request failed",
		"model", model,
		"status", status,
		"request_id", RequestID(r.Context()),
		"error", err,
	)
	writeJSONError(w, status, body)
}

func (s *Server) logRequest(e requestlog.Entry) {
	if s.requestLog != nil {
		s.requestLog.Log(e)
	}
}

func usageField(u *adapters.TokenUsage, f func(adapters.TokenUsage) int) int {
	if u == nil {
		return 0
	}
	return f(*u)
}

// handleHealthz reports process liveness and whether any provider is
// currently routable.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	available := 0
	for _, p := range s.registry.List() {
		if s.registry.IsAvailable(p.ID) {
			available++
		}
	}

	status := http.StatusOK
	state := "ok"
	if available == 0 {
		status = http.StatusServiceUnavailable
		state = "no_available_providers"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":              state,
		"available_providers": available,
	})
}
