// Package server is the gateway's inbound HTTP surface: the four
// unified completion endpoints, health and metrics, and the operator
// admin endpoints.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"relaylabs/relay/pkg/activity"
	"relaylabs/relay/pkg/adapters"
	"relaylabs/relay/pkg/config"
	"relaylabs/relay/pkg/passivehealth"
	"relaylabs/relay/pkg/proxy"
	"relaylabs/relay/pkg/registry"
	"relaylabs/relay/pkg/requestlog"
	"relaylabs/relay/pkg/telemetry/metrics"
)

// Options assembles a Server. Orchestrator and Registry are required;
// the rest are optional and their endpoints degrade gracefully when
// absent.
type Options struct {
	Config       config.ServerConfig
	Orchestrator *proxy.Orchestrator
	Registry     *registry.Registry
	Logger       *slog.Logger

	Activity      *activity.Tracker
	PassiveHealth *passivehealth.Recorder
	RequestLog    *requestlog.Store
	Metrics       *metrics.Metrics

	// AdminEnabled exposes the /admin endpoints.
	AdminEnabled bool
}

// Server is the inbound HTTP server.
type Server struct {
	cfg          config.ServerConfig
	orchestrator *proxy.Orchestrator
	registry     *registry.Registry
	logger       *slog.Logger

	activity      *activity.Tracker
	passiveHealth *passivehealth.Recorder
	requestLog    *requestlog.Store
	metrics       *metrics.Metrics

	adminEnabled bool
	httpServer   *http.Server
}

// New creates a Server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:           opts.Config,
		orchestrator:  opts.Orchestrator,
		registry:      opts.Registry,
		logger:        logger,
		activity:      opts.Activity,
		passiveHealth: opts.PassiveHealth,
		requestLog:    opts.RequestLog,
		metrics:       opts.Metrics,
		adminEnabled:  opts.AdminEnabled,
	}
}

// Handler builds the full route table with the middleware chain
// applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Completion surfaces. All accept the unified body; the handler's
	// adapter only drives inbound parsing and the default outbound
	// shape.
	completions := authMiddleware(s.cfg.APIKeys, &completionHandler{srv: s, adapter: adapters.OpenAI{}})
	mux.Handle("POST /v1/chat/completions", completions)
	mux.Handle("POST /v1/responses", authMiddleware(s.cfg.APIKeys, &completionHandler{srv: s, adapter: adapters.Responses{}}))
	mux.Handle("POST /v1/messages", authMiddleware(s.cfg.APIKeys, &completionHandler{srv: s, adapter: adapters.Anthropic{}}))
	mux.Handle("POST /v1beta/models/{model}", authMiddleware(s.cfg.APIKeys, &geminiHandler{srv: s}))

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	if s.adminEnabled {
		admin := func(h http.HandlerFunc) http.Handler {
			return authMiddleware(s.cfg.APIKeys, h)
		}
		mux.Handle("GET /admin/providers", admin(s.handleAdminProviders))
		mux.Handle("POST /admin/providers/reset", admin(s.handleAdminResetAll))
		mux.Handle("POST /admin/providers/{id}/reset", admin(s.handleAdminResetProvider))
		mux.Handle("GET /admin/activity", admin(s.handleAdminActivity))
		mux.Handle("GET /admin/requests", admin(s.handleAdminRequests))
		mux.Handle("GET /admin/health", admin(s.handleAdminHealth))
	}

	var handler http.Handler = mux
	handler = loggingMiddleware(s.logger, handler)
	handler = requestIDMiddleware(handler)
	handler = recoveryMiddleware(s.logger, handler)
	return handler
}

// Run serves until the context is cancelled, then shuts down
// gracefully within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		MaxHeaderBytes:    s.cfg.MaxHeaderBytes,
		// No WriteTimeout: streaming responses are open-ended.
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "address", s.cfg.ListenAddress)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down", "timeout", s.cfg.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
