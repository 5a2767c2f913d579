// Package market holds the latest-snapshot store of normalised market data.
package market

import (
	"sync"
	"sync/atomic"

	"github.com/alanyoungcy/syntharb/internal/domain"
)

// Store keeps the freshest point per (exchange, symbol). Readers receive an
// immutable snapshot; writers copy, modify and swap it.
type Store struct {
	mu   sync.Mutex // serialises writers
	snap atomic.Pointer[domain.MarketData]
}

// NewStore returns an empty store.
func NewStore() *Store {
	s := &Store{}
	empty := domain.MarketData{}
	s.snap.Store(&empty)
	return s
}

// Put records points, replacing earlier points with the same key.
func (s *Store) Put(points ...domain.MarketDataPoint) {
	if len(points) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := *s.snap.Load()
	next := make(domain.MarketData, len(cur)+len(points))
	for k, v := range cur {
		next[k] = v
	}
	for _, p := range points {
		next[p.Key()] = p
	}
	s.snap.Store(&next)
}

// Remove drops the point for key, if any.
func (s *Store) Remove(key domain.MarketKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := *s.snap.Load()
	if _, ok := cur[key]; !ok {
		return
	}
	next := make(domain.MarketData, len(cur))
	for k, v := range cur {
		if k != key {
			next[k] = v
		}
	}
	s.snap.Store(&next)
}

// Snapshot returns the current snapshot. Callers must not modify it.
func (s *Store) Snapshot() domain.MarketData {
	return *s.snap.Load()
}

// Get returns the latest point for symbol on exchange.
func (s *Store) Get(exchange domain.Exchange, symbol string) (domain.MarketDataPoint, bool) {
	return s.Snapshot().Get(exchange, symbol)
}

// Len returns the number of tracked keys.
func (s *Store) Len() int {
	return len(s.Snapshot())
}
