package modelsync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"relaylabs/relay/pkg/adapters"
	"relaylabs/relay/pkg/registry"
)

func TestSyncAllUpdatesRegistry(t *testing.T) {
	openai := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer sk-1" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"data":[{"id":"gpt-4o"},{"id":"gpt-4o-mini"}]}`))
	}))
	defer openai.Close()

	gemini := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "g-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"models":[{"name":"models/gemini-2.0-flash"}]}`))
	}))
	defer gemini.Close()

	reg := registry.New(registry.DefaultCooldowns())
	reg.Register(registry.Provider{ID: "oa", Name: "oa", BaseURL: openai.URL, APIKey: "sk-1", Weight: 1, Enabled: true, AllowModelSync: true, Protocol: adapters.ProtocolOpenAI})
	reg.Register(registry.Provider{ID: "gm", Name: "gm", BaseURL: gemini.URL, APIKey: "g-key", Weight: 1, Enabled: true, AllowModelSync: true, Protocol: adapters.ProtocolGemini})

	s, err := New(reg, http.DefaultClient, Config{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.SyncAll(context.Background())

	if !reg.SupportsModel("oa", "gpt-4o-mini") {
		t.Error("openai model list not applied")
	}
	if reg.SupportsModel("oa", "claude-sonnet") {
		t.Error("unknown model should not be supported after sync")
	}
	if !reg.SupportsModel("gm", "gemini-2.0-flash") {
		t.Error("gemini model name prefix not stripped")
	}
}

func TestSyncSkipsOptedOutProviders(t *testing.T) {
	var hits int
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(`{"data":[]}`))
	}))
	defer upstream.Close()

	reg := registry.New(registry.DefaultCooldowns())
	reg.Register(registry.Provider{ID: "p", Name: "p", BaseURL: upstream.URL, APIKey: "k", Weight: 1, Enabled: true, AllowModelSync: false, Protocol: adapters.ProtocolOpenAI})

	s, err := New(reg, http.DefaultClient, Config{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.SyncAll(context.Background())

	if hits != 0 {
		t.Errorf("opted-out provider was probed %d times", hits)
	}
}

func TestSyncFailureKeepsPreviousList(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer upstream.Close()

	reg := registry.New(registry.DefaultCooldowns())
	reg.Register(registry.Provider{ID: "p", Name: "p", BaseURL: upstream.URL, APIKey: "k", Weight: 1, Enabled: true, AllowModelSync: true, Protocol: adapters.ProtocolOpenAI})
	reg.SetModels("p", []string{"existing-model"})

	s, err := New(reg, http.DefaultClient, Config{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.SyncAll(context.Background())

	if !reg.SupportsModel("p", "existing-model") {
		t.Error("failed sync wiped the previous model list")
	}
}
