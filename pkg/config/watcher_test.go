package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o600); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 1)
	go func() {
		_ = w.Watch(ctx, func(cfg *Config) {
			select {
			case reloaded <- cfg:
			default:
			}
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(50 * time.Millisecond)

	updated := validYAML + "\nmetrics:\n  namespace: changed\n"
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Metrics.Namespace != "changed" {
			t.Errorf("reloaded namespace = %q", cfg.Metrics.Namespace)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reload never fired")
	}
}

func TestWatcherKeepsPreviousConfigOnBadReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o600); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	go func() {
		_ = w.Watch(ctx, func(cfg *Config) { reloaded <- cfg })
	}()
	time.Sleep(50 * time.Millisecond)

	// Invalid config: reload must not fire.
	if err := os.WriteFile(path, []byte("providers: []\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		t.Fatalf("invalid configuration was applied: %+v", cfg)
	case <-time.After(300 * time.Millisecond):
	}
}
