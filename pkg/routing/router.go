// Package routing resolves a requested model name into an ordered list
// of (provider, upstream model) candidates, filtered by circuit-breaker
// availability and ordered by provider weight.
package routing

import (
	"log/slog"
	"sort"

	"relaylabs/relay/pkg/registry"
)

// Candidate pairs a provider with the upstream model name it should be
// asked for. The router produces an ordered sequence of candidates per
// request; each provider contributes at most one.
type Candidate struct {
	Provider registry.Provider
	Model    string
}

// ModelResolver resolves a unified model name into the per-provider
// upstream model table. It is an external collaborator; the router only
// consumes its output.
type ModelResolver interface {
	// Resolve returns provider id -> upstream model names for the given
	// unified name. An empty or nil map means no mapping exists.
	Resolve(name string) map[string][]string
}

// Router builds candidate lists from the registry and model resolver.
type Router struct {
	registry *registry.Registry
	resolver ModelResolver
}

// New creates a router over the given registry and resolver.
func New(reg *registry.Registry, resolver ModelResolver) *Router {
	return &Router{registry: reg, resolver: resolver}
}

// resolveModels returns the upstream model names a provider should be
// asked for when serving the unified name. When the resolver has no
// mapping, the name is treated literally as a single-candidate model
// understood by whichever provider supports it verbatim.
func (r *Router) resolveModels(name string, providerID string) []string {
	table := r.resolver.Resolve(name)
	if len(table) == 0 {
		return []string{name}
	}
	return table[providerID]
}

// Candidates returns the ordered candidate list for the requested model,
// excluding the given provider IDs and every provider the circuit
// breaker reports unavailable. Providers are ordered by weight
// descending; ties keep registration order. An empty result is a valid
// return — the caller surfaces it as a routing error.
func (r *Router) Candidates(model string, excluded []string) []Candidate {
	skip := make(map[string]struct{}, len(excluded))
	for _, id := range excluded {
		skip[id] = struct{}{}
	}

	var candidates []Candidate
	for _, p := range r.registry.List() {
		if _, ok := skip[p.ID]; ok {
			continue
		}
		if !r.registry.IsAvailable(p.ID) {
			slog.Debug("provider excluded from candidates",
				"provider", p.ID,
				"model", model,
			)
			continue
		}

		for _, upstream := range r.resolveModels(model, p.ID) {
			if !r.registry.SupportsModel(p.ID, upstream) {
				continue
			}
			candidates = append(candidates, Candidate{Provider: p, Model: upstream})
			break // at most one candidate per provider
		}
	}

	// List() is registration-ordered, so a stable sort keeps that order
	// for equal weights.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Provider.Weight > candidates[j].Provider.Weight
	})

	slog.Debug("resolved candidates",
		"model", model,
		"count", len(candidates),
	)
	return candidates
}
