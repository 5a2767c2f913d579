package arbitrage

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/alanyoungcy/syntharb/internal/domain"
)

// Registry maps strategy names from config to detectors.
type Registry struct {
	mu     sync.RWMutex
	byName map[domain.StrategyType]Strategy
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[domain.StrategyType]Strategy)}
}

// DefaultRegistry holds the cross-exchange, spot-perp and funding detectors.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, s := range []Strategy{CrossExchange{}, SpotPerp{}, FundingRate{}} {
		r.Register(s)
	}
	return r
}

// Register adds s, replacing any strategy with the same name.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	r.byName[s.Name()] = s
	r.mu.Unlock()
}

// Get returns the named strategy; a miss wraps domain.ErrNotFound.
func (r *Registry) Get(name domain.StrategyType) (Strategy, error) {
	r.mu.RLock()
	s, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("strategy %q: %w", name, domain.ErrNotFound)
	}
	return s, nil
}

// Select resolves names in order, skipping repeats. No names selects every
// registered strategy.
func (r *Registry) Select(names []domain.StrategyType) ([]Strategy, error) {
	if len(names) == 0 {
		names = r.List()
	}
	seen := make(map[domain.StrategyType]bool, len(names))
	out := make([]Strategy, 0, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		s, err := r.Get(n)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// List returns the registered names in lexical order.
func (r *Registry) List() []domain.StrategyType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.byName))
}
