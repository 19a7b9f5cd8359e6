package routing

import (
	"math/rand"
	"sync"
	"time"
)

// Picker reorders candidate lists for attempt scheduling: the first
// attempt is chosen by weighted random selection across all candidates,
// which spreads load in proportion to weight, while the remaining
// candidates keep their weight-descending order so retries fall back
// deterministically to the strongest providers.
type Picker struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewPicker creates a picker seeded from the current time.
func NewPicker() *Picker {
	return &Picker{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// NewPickerWithSource creates a picker over the given source. Tests use
// this for deterministic selection.
func NewPickerWithSource(src rand.Source) *Picker {
	return &Picker{rng: rand.New(src)}
}

// Order returns the attempt order for the given candidates: one
// weighted random first pick, then the remaining candidates in their
// original weight-descending order. The input slice is not modified.
func (p *Picker) Order(candidates []Candidate) []Candidate {
	if len(candidates) <= 1 {
		return candidates
	}

	total := 0
	for _, c := range candidates {
		total += c.Provider.Weight
	}

	p.mu.Lock()
	n := p.rng.Intn(total)
	p.mu.Unlock()

	chosen := 0
	for i, c := range candidates {
		n -= c.Provider.Weight
		if n < 0 {
			chosen = i
			break
		}
	}

	ordered := make([]Candidate, 0, len(candidates))
	ordered = append(ordered, candidates[chosen])
	for i, c := range candidates {
		if i != chosen {
			ordered = append(ordered, c)
		}
	}
	return ordered
}
