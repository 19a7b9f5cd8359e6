// Package activity keeps an in-memory record of which provider/model
// pairs are actually serving traffic. The admin surface exposes it so
// operators can see live routing behavior without scraping metrics.
package activity

import (
	"sort"
	"sync"
	"time"
)

// Record is the usage summary of one provider/model/kind combination.
type Record struct {
	ProviderID string    `json:"provider_id"`
	Model      string    `json:"model"`
	Kind       string    `json:"kind"`
	Count      int64     `json:"count"`
	LastUsed   time.Time `json:"last_used"`
}

// Tracker accumulates touches. Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	records map[key]*Record
	now     func() time.Time
}

type key struct {
	providerID string
	model      string
	kind       string
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{
		records: make(map[key]*Record),
		now:     time.Now,
	}
}

// Touch records one served request. Implements the orchestrator's
// ActivitySink.
func (t *Tracker) Touch(providerID, model, kind string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key{providerID, model, kind}
	r, ok := t.records[k]
	if !ok {
		r = &Record{ProviderID: providerID, Model: model, Kind: kind}
		t.records[k] = r
	}
	r.Count++
	r.LastUsed = t.now()
}

// Snapshot returns all records ordered by provider, model, kind.
func (t *Tracker) Snapshot() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Record, 0, len(t.records))
	for _, r := range t.records {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProviderID != out[j].ProviderID {
			return out[i].ProviderID < out[j].ProviderID
		}
		if out[i].Model != out[j].Model {
			return out[i].Model < out[j].Model
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// SetNow overrides the clock. Tests only.
func (t *Tracker) SetNow(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}
