// Package strategy defines the signal-source contract the engine executes
// and a Registry for looking up implementations by name. The engine is a
// substrate: it executes whichever signals a strategy emits and ships no
// trading algorithm of its own.
package strategy

import (
	"context"
	"sort"
	"time"

	"kestrel/internal/domain"
)

// Strategy is a source of trading signals.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Init performs any one-time setup before the first batch.
	Init(ctx context.Context) error

	// OnBars is called once per market-data batch, after the order book has
	// been updated. It returns zero or more signals for the engine to gate
	// and execute.
	OnBars(ctx context.Context, timestamp time.Time, data map[string]domain.MarketData) ([]domain.Signal, error)
}

// Registry holds a named collection of strategies for lookup and enumeration.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Register adds a strategy to the registry, keyed by its Name().
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(name string) (Strategy, bool) {
	s, ok := r.strategies[name]
	return s, ok
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
