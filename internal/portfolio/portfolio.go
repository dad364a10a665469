// Package portfolio is the single source of truth for current positions,
// working orders, and the latest account snapshot. Every mutation notifies
// bus subscribers with a typed event and logs a human-readable summary.
package portfolio

import (
	"log/slog"
	"sort"
	"sync"

	"kestrel/internal/domain"
	"kestrel/internal/event"
)

// Portfolio aggregates the three mutable ledgers of the engine. Mutations
// derived from a single fill are applied under one lock so concurrent readers
// never observe a half-applied update.
type Portfolio struct {
	bus *event.Bus
	log *slog.Logger

	mu        sync.RWMutex
	positions map[string]*domain.Position    // by ticker
	orders    map[string]*domain.ActiveOrder // by broker order id
	refresh   map[string]bool                // tickers awaiting a position refresh
	completed map[string]bool                // order ids already seen in a terminal status
	account   domain.Account
}

// New creates an empty Portfolio publishing to bus.
func New(bus *event.Bus, log *slog.Logger) *Portfolio {
	return &Portfolio{
		bus:       bus,
		log:       log.With("component", "portfolio"),
		positions: make(map[string]*domain.Position),
		orders:    make(map[string]*domain.ActiveOrder),
		refresh:   make(map[string]bool),
		completed: make(map[string]bool),
	}
}

// UpdatePosition stores pos under ticker, or removes the position entirely
// when pos is nil or has zero quantity.
func (p *Portfolio) UpdatePosition(ticker string, pos *domain.Position) {
	p.mu.Lock()
	if pos == nil || pos.Quantity == 0 {
		delete(p.positions, ticker)
		pos = nil
	} else {
		cp := *pos
		p.positions[ticker] = &cp
	}
	p.mu.Unlock()

	if pos == nil {
		p.log.Info("position closed", "ticker", ticker)
	} else {
		p.log.Info("position updated",
			"ticker", ticker,
			"qty", pos.Quantity,
			"avgCost", pos.AvgCost,
			"unrealized", pos.UnrealizedPnL,
		)
	}
	p.bus.Publish(event.PositionEvent{Ticker: ticker, Position: pos})
}

// Position returns a copy of the position for ticker, if open.
func (p *Portfolio) Position(ticker string) (domain.Position, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pos, ok := p.positions[ticker]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// Positions returns copies of every open position keyed by ticker.
func (p *Portfolio) Positions() map[string]domain.Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]domain.Position, len(p.positions))
	for t, pos := range p.positions {
		out[t] = *pos
	}
	return out
}

// UpdateOrder applies an active-order status change. Terminal Filled removes
// the order from the active set and flags its ticker for a position refresh;
// Cancelled and Inactive remove without the flag. Order ids seen in a
// terminal status are remembered, so a re-delivered terminal report is a
// no-op while a first terminal report whose earlier updates were lost still
// applies in full.
func (p *Portfolio) UpdateOrder(ao domain.ActiveOrder) {
	p.mu.Lock()
	if p.completed[ao.OrderID] {
		p.mu.Unlock()
		p.log.Debug("ignoring update for completed order", "orderID", ao.OrderID, "status", ao.Status)
		return
	}
	switch {
	case ao.Status == domain.OrderFilled:
		delete(p.orders, ao.OrderID)
		p.refresh[ao.Ticker] = true
		p.completed[ao.OrderID] = true
	case ao.Status.Terminal():
		delete(p.orders, ao.OrderID)
		p.completed[ao.OrderID] = true
	default:
		cp := ao
		p.orders[ao.OrderID] = &cp
	}
	p.mu.Unlock()

	p.log.Info("order updated",
		"orderID", ao.OrderID,
		"ticker", ao.Ticker,
		"status", ao.Status,
		"filled", ao.FilledQty,
		"remaining", ao.RemainingQty,
		"avgFillPrice", ao.AvgFillPrice,
	)
	p.bus.Publish(event.OrderStatusEvent{Order: ao})
}

// ActiveOrders returns copies of all non-terminal orders keyed by order id.
func (p *Portfolio) ActiveOrders() map[string]domain.ActiveOrder {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]domain.ActiveOrder, len(p.orders))
	for id, ao := range p.orders {
		out[id] = *ao
	}
	return out
}

// UpdateAccount replaces the account snapshot.
func (p *Portfolio) UpdateAccount(acct domain.Account) {
	p.mu.Lock()
	p.account = acct
	p.mu.Unlock()

	p.log.Info("account updated",
		"availableFunds", acct.AvailableFunds,
		"requiredMargin", acct.RequiredMargin,
		"netLiquidation", acct.NetLiquidation,
		"unrealized", acct.UnrealizedPnL,
	)
	p.bus.Publish(event.AccountEvent{Account: acct})
}

// Account returns the latest account snapshot.
func (p *Portfolio) Account() domain.Account {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.account
}

// ActiveOrderTickers returns the union of tickers with a working order and
// tickers flagged for a pending position refresh, sorted. The order manager
// consults this set to block duplicate signals.
func (p *Portfolio) ActiveOrderTickers() []string {
	p.mu.RLock()
	set := make(map[string]bool, len(p.orders)+len(p.refresh))
	for _, ao := range p.orders {
		set[ao.Ticker] = true
	}
	for t := range p.refresh {
		set[t] = true
	}
	p.mu.RUnlock()

	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// PendingRefresh reports whether ticker is flagged for a position refresh.
func (p *Portfolio) PendingRefresh(ticker string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.refresh[ticker]
}

// RefreshTickers returns all tickers flagged for a position refresh.
func (p *Portfolio) RefreshTickers() []string {
	p.mu.RLock()
	out := make([]string, 0, len(p.refresh))
	for t := range p.refresh {
		out = append(out, t)
	}
	p.mu.RUnlock()
	sort.Strings(out)
	return out
}

// ClearRefresh drops the position-refresh flag for ticker, once the refreshed
// position has been applied.
func (p *Portfolio) ClearRefresh(ticker string) {
	p.mu.Lock()
	delete(p.refresh, ticker)
	p.mu.Unlock()
}
