package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"relaylabs/relay/pkg/proxy"
)

// handleAdminProviders returns the breaker snapshot of every provider.
func (s *Server) handleAdminProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.registry.Snapshot())
}

// handleAdminResetProvider forces one provider back to healthy. This is
// the only way out of the disabled state.
func (s *Server) handleAdminResetProvider(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.registry.Reset(id); err != nil {
		writeJSONError(w, http.StatusNotFound, proxy.ErrorBody{
			Error: proxy.APIError{
				Message: err.Error(),
				Type:    "not_found_error",
			},
		})
		return
	}
	s.logger.Info("provider reset by operator",
		"provider", id,
		"request_id", RequestID(r.Context()),
	)
	writeJSON(w, map[string]string{"status": "reset", "provider": id})
}

// handleAdminResetAll forces every provider back to healthy.
func (s *Server) handleAdminResetAll(w http.ResponseWriter, r *http.Request) {
	s.registry.ResetAll()
	s.logger.Info("all providers reset by operator",
		"request_id", RequestID(r.Context()),
	)
	writeJSON(w, map[string]string{"status": "reset"})
}

// handleAdminActivity returns the live provider/model usage records.
func (s *Server) handleAdminActivity(w http.ResponseWriter, r *http.Request) {
	if s.activity == nil {
		writeJSON(w, []struct{}{})
		return
	}
	writeJSON(w, s.activity.Snapshot())
}

// handleAdminRequests returns the newest request log entries.
func (s *Server) handleAdminRequests(w http.ResponseWriter, r *http.Request) {
	if s.requestLog == nil {
		writeJSON(w, []struct{}{})
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := s.requestLog.Recent(limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, proxy.ErrorBody{
			Error: proxy.APIError{
				Message: "failed to read request log",
				Type:    "internal_error",
			},
		})
		return
	}
	writeJSON(w, entries)
}

// handleAdminHealth returns persisted attempt statistics per provider.
func (s *Server) handleAdminHealth(w http.ResponseWriter, r *http.Request) {
	if s.passiveHealth == nil {
		writeJSON(w, []struct{}{})
		return
	}

	window := time.Hour
	if v := r.URL.Query().Get("window"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			window = d
		}
	}

	stats, err := s.passiveHealth.Stats(time.Now().Add(-window))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, proxy.ErrorBody{
			Error: proxy.APIError{
				Message: "failed to read health statistics",
				Type:    "internal_error",
			},
		})
		return
	}
	writeJSON(w, stats)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
