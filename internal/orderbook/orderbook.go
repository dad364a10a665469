// Package orderbook holds the latest market data per ticker and derives a
// current price from it. A book serves exactly one market-data kind (bars or
// quotes), fixed at construction.
package orderbook

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"kestrel/internal/domain"
	"kestrel/internal/event"
)

// ErrUnknownTicker is returned by price lookups for tickers the book has
// never seen.
var ErrUnknownTicker = errors.New("ticker not in order book")

// Book maps tickers to their most recent market data. Entries are replaced
// wholesale per update batch; quote sides are never merged across updates.
type Book struct {
	kind domain.MarketDataKind
	bus  *event.Bus

	mu          sync.RWMutex
	entries     map[string]domain.MarketData
	lastUpdated time.Time
}

// New creates a Book serving the given data kind. An unknown kind is a
// configuration error and fails construction.
func New(kind domain.MarketDataKind, bus *event.Bus) (*Book, error) {
	switch kind {
	case domain.MarketDataBar, domain.MarketDataQuote:
	default:
		return nil, fmt.Errorf("unknown market data kind %q", kind)
	}
	return &Book{
		kind:    kind,
		bus:     bus,
		entries: make(map[string]domain.MarketData),
	}, nil
}

// Kind returns the data kind this book serves.
func (b *Book) Kind() domain.MarketDataKind { return b.kind }

// Update overwrites the stored entry for every ticker in the batch, advances
// the book's last-updated timestamp, and emits one market event carrying the
// whole batch. An entry whose kind does not match the book's kind rejects the
// entire batch before any entry is applied.
func (b *Book) Update(data map[string]domain.MarketData, timestamp time.Time) error {
	for ticker, md := range data {
		if md.Kind != b.kind {
			return fmt.Errorf("market data for %s has kind %q, book serves %q", ticker, md.Kind, b.kind)
		}
	}

	b.mu.Lock()
	for ticker, md := range data {
		b.entries[ticker] = md
	}
	b.lastUpdated = timestamp
	b.mu.Unlock()

	if b.bus != nil {
		b.bus.Publish(event.MarketEvent{Timestamp: timestamp, Data: data})
	}
	return nil
}

// CurrentPrice returns the derived price for one ticker: close for bar books,
// (bid+ask)/2 for quote books. Unknown tickers return ErrUnknownTicker.
func (b *Book) CurrentPrice(ticker string) (float64, error) {
	b.mu.RLock()
	md, ok := b.entries[ticker]
	b.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTicker, ticker)
	}
	return md.Price(), nil
}

// CurrentPrices returns the derived price for every known ticker.
func (b *Book) CurrentPrices() map[string]float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]float64, len(b.entries))
	for ticker, md := range b.entries {
		out[ticker] = md.Price()
	}
	return out
}

// Data returns the stored market data for one ticker.
func (b *Book) Data(ticker string) (domain.MarketData, error) {
	b.mu.RLock()
	md, ok := b.entries[ticker]
	b.mu.RUnlock()
	if !ok {
		return domain.MarketData{}, fmt.Errorf("%w: %s", ErrUnknownTicker, ticker)
	}
	return md, nil
}

// LastUpdated returns the timestamp of the most recent batch.
func (b *Book) LastUpdated() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdated
}
