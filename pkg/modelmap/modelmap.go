// Package modelmap maintains the unified-model routing table: which
// upstream model each provider should be asked for when a caller
// requests a unified name. The table is replaced wholesale on
// configuration reload.
package modelmap

import (
	"log/slog"
	"sync"
)

// Table maps unified model name -> provider id -> upstream model names
// in preference order.
type Table map[string]map[string][]string

// Mapper is a thread-safe model resolver.
type Mapper struct {
	mu    sync.RWMutex
	table Table
}

// New creates a mapper over the given table. A nil table is valid and
// resolves nothing.
func New(table Table) *Mapper {
	return &Mapper{table: table}
}

// Resolve returns the per-provider upstream models for a unified name.
// The returned map is a copy; callers may not see later updates through
// it. A nil result means no mapping exists and the name should be
// treated literally.
func (m *Mapper) Resolve(name string) map[string][]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.table[name]
	if !ok {
		return nil
	}
	out := make(map[string][]string, len(entry))
	for provider, models := range entry {
		out[provider] = append([]string(nil), models...)
	}
	return out
}

// Names returns every unified model name in the table.
func (m *Mapper) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.table))
	for name := range m.table {
		names = append(names, name)
	}
	return names
}

// Update replaces the whole table. Used by configuration hot reload.
func (m *Mapper) Update(table Table) {
	m.mu.Lock()
	m.table = table
	m.mu.Unlock()
	slog.Info("model mapping table updated", "models", len(table))
}
