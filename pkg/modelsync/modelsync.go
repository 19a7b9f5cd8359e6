// Package modelsync periodically asks each provider for its model list
// and feeds the result into the registry, so routing can filter
// candidates by what an upstream actually serves instead of trusting
// static configuration forever.
package modelsync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"relaylabs/relay/pkg/adapters"
	"relaylabs/relay/pkg/registry"
)

// Config configures the syncer.
type Config struct {
	// Schedule is the cron expression for sync runs.
	Schedule string

	// Timeout bounds one provider's model list request.
	Timeout time.Duration
}

// Syncer discovers upstream model lists on a schedule.
type Syncer struct {
	registry *registry.Registry
	client   *http.Client
	timeout  time.Duration
	logger   *slog.Logger

	cron     *cron.Cron
	stopOnce sync.Once
}

// New creates a syncer over the shared upstream client.
func New(reg *registry.Registry, client *http.Client, cfg Config, logger *slog.Logger) (*Syncer, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Syncer{
		registry: reg,
		client:   client,
		timeout:  cfg.Timeout,
		logger:   logger.With("component", "modelsync"),
	}

	if cfg.Schedule != "" {
		s.cron = cron.New()
		if _, err := s.cron.AddFunc(cfg.Schedule, func() {
			s.SyncAll(context.Background())
		}); err != nil {
			return nil, fmt.Errorf("invalid model sync schedule %q: %w", cfg.Schedule, err)
		}
	}
	return s, nil
}

// Start begins scheduled runs. A first sync is kicked off immediately
// in the background so routing does not wait for the first tick.
func (s *Syncer) Start() {
	go s.SyncAll(context.Background())
	if s.cron != nil {
		s.cron.Start()
	}
}

// Stop halts scheduled runs.
func (s *Syncer) Stop() {
	s.stopOnce.Do(func() {
		if s.cron != nil {
			s.cron.Stop()
		}
	})
}

// SyncAll refreshes the model list of every provider that permits it.
// Failures are logged per provider and do not affect the others; a
// provider whose sync fails keeps its previous model list.
func (s *Syncer) SyncAll(ctx context.Context) {
	for _, p := range s.registry.List() {
		if !p.AllowModelSync || !p.Enabled {
			continue
		}
		models, err := s.fetch(ctx, p)
		if err != nil {
			s.logger.Warn("model sync failed",
				"provider", p.ID,
				"error", err,
			)
			continue
		}
		s.registry.SetModels(p.ID, models)
		s.logger.Info("model list synced",
			"provider", p.ID,
			"models", len(models),
		)
	}
}

// fetch retrieves one provider's model list using the list endpoint of
// its wire protocol.
func (s *Syncer) fetch(ctx context.Context, p registry.Provider) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	listURL, headers := listRequest(p)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list models returned status %d", resp.StatusCode)
	}

	return parseModelList(p.Protocol, raw)
}

// listRequest builds the model list URL and headers for a provider's
// protocol. Gemini authenticates in the query string; everyone else
// uses headers.
func listRequest(p registry.Provider) (string, map[string]string) {
	switch p.Protocol {
	case adapters.ProtocolAnthropic:
		return p.BaseURL + "/models", map[string]string{
			"x-api-key":         p.APIKey,
			"anthropic-version": "2023-06-01",
		}
	case adapters.ProtocolGemini:
		return p.BaseURL + "/models?key=" + url.QueryEscape(p.APIKey), nil
	default:
		return p.BaseURL + "/models", map[string]string{
			"Authorization": "Bearer " + p.APIKey,
		}
	}
}

func parseModelList(protocol string, raw []byte) ([]string, error) {
	if protocol == adapters.ProtocolGemini {
		var body struct {
			Models []struct {
				Name string `json:"name"`
			} `json:"models"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("decode model list: %w", err)
		}
		models := make([]string, 0, len(body.Models))
		for _, m := range body.Models {
			// Gemini names models "models/gemini-...".
			models = append(models, strings.TrimPrefix(m.Name, "models/"))
		}
		return models, nil
	}

	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode model list: %w", err)
	}
	models := make([]string, 0, len(body.Data))
	for _, m := range body.Data {
		models = append(models, m.ID)
	}
	return models, nil
}
