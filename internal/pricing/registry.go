package pricing

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/syntharb/internal/domain"
)

// Registry maps instrument ids to their specs. It is filled at startup and
// read by every pricing pass.
type Registry struct {
	mu    sync.RWMutex
	specs map[domain.InstrumentID]domain.InstrumentSpec
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[domain.InstrumentID]domain.InstrumentSpec)}
}

// Register adds spec. Registering an identical spec again is a no-op; the
// same (exchange, symbol) with a different type is rejected.
func (r *Registry) Register(spec domain.InstrumentSpec) error {
	if spec.Symbol == "" || !spec.Type.Valid() || !spec.Exchange.Valid() {
		return fmt.Errorf("pricing: invalid instrument %+v", spec)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := spec.ID()
	if existing, ok := r.specs[id]; ok {
		if existing.Type != spec.Type {
			return fmt.Errorf("pricing: %s registered as %s, got %s: %w",
				id, existing.Type, spec.Type, domain.ErrAmbiguousInstrument)
		}
		return nil
	}
	r.specs[id] = spec
	return nil
}

// Get returns the instrument registered under id.
func (r *Registry) Get(id domain.InstrumentID) (domain.InstrumentSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[id]
	return s, ok
}

// Lookup returns the instrument for symbol on exchange.
func (r *Registry) Lookup(exchange domain.Exchange, symbol string) (domain.InstrumentSpec, bool) {
	return r.Get(domain.NewInstrumentID(exchange, symbol))
}

// List returns all specs ordered by id.
func (r *Registry) List() []domain.InstrumentSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.InstrumentSpec, 0, len(r.specs))
	for _, s := range r.specs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Len returns the number of registered instruments.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.specs)
}
