// Package engine coordinates the trading lifecycle: it gates strategy
// signals on available capital, routes approved orders to an execution
// engine, and drives the backtest and live event loops over one shared
// portfolio state model.
package engine

import (
	"fmt"
	"log/slog"

	"kestrel/internal/domain"
	"kestrel/internal/event"
	"kestrel/internal/instrument"
	"kestrel/internal/orderbook"
	"kestrel/internal/portfolio"
)

// PlacedOrder pairs an approved order with the identity of the instruction
// that produced it.
type PlacedOrder struct {
	TradeID string
	LegID   int
	Order   *domain.Order
}

// OrderManager converts trading signals into broker orders, subject to the
// capital gate and the duplicate-order gate. Gating is all-or-nothing at the
// signal level: either every instruction becomes an order or none do.
type OrderManager struct {
	book     *orderbook.Book
	pf       *portfolio.Portfolio
	registry *instrument.Registry
	bus      *event.Bus
	log      *slog.Logger
}

// NewOrderManager wires an OrderManager.
func NewOrderManager(book *orderbook.Book, pf *portfolio.Portfolio, registry *instrument.Registry, bus *event.Bus, log *slog.Logger) *OrderManager {
	return &OrderManager{
		book:     book,
		pf:       pf,
		registry: registry,
		bus:      bus,
		log:      log.With("component", "ordermanager"),
	}
}

// OnSignal evaluates one signal. Rejections for business reasons (pending
// order on an instrument, insufficient capital) are expected control flow:
// they are logged, the whole signal is dropped, and no error is returned.
// Errors are reserved for invariant violations such as an unknown ticker.
func (m *OrderManager) OnSignal(sig domain.Signal) ([]PlacedOrder, error) {
	m.bus.Publish(event.SignalEvent{Signal: sig})

	if len(sig.Instructions) == 0 {
		return nil, nil
	}

	// Duplicate gate: skip the entire signal if any instrument already has
	// a pending order or an unsettled position refresh.
	blocked := make(map[string]bool)
	for _, t := range m.pf.ActiveOrderTickers() {
		blocked[t] = true
	}
	for _, ins := range sig.Instructions {
		if blocked[ins.Ticker] {
			m.log.Info("signal dropped: pending order on instrument",
				"strategy", sig.StrategyID, "ticker", ins.Ticker)
			return nil, nil
		}
	}

	// Capital gate: sum every instruction's requirement before approving
	// any. Futures reserve margin; linear instruments consume notional.
	var total float64
	type legPlan struct {
		ins  domain.TradeInstruction
		inst *instrument.Instrument
	}
	plans := make([]legPlan, 0, len(sig.Instructions))
	for _, ins := range sig.Instructions {
		inst, err := m.registry.Get(ins.Ticker)
		if err != nil {
			return nil, fmt.Errorf("signal instruction: %w", err)
		}
		qty := ins.Quantity
		if qty < 0 {
			qty = -qty
		}
		if inst.Leveraged() {
			total += float64(qty) * inst.InitialMargin
		} else {
			price, err := m.book.CurrentPrice(ins.Ticker)
			if err != nil {
				return nil, fmt.Errorf("signal instruction: %w", err)
			}
			total += float64(qty) * price
		}
		plans = append(plans, legPlan{ins: ins, inst: inst})
	}

	acct := m.pf.Account()
	free := acct.AvailableFunds - acct.RequiredMargin
	if free < total {
		m.log.Info("signal dropped: insufficient capital",
			"strategy", sig.StrategyID,
			"required", total,
			"free", free,
			"legs", len(sig.Instructions),
		)
		return nil, nil
	}

	placed := make([]PlacedOrder, 0, len(plans))
	for _, p := range plans {
		order, err := domain.NewOrder(p.inst, p.ins.Action, p.ins.Quantity, p.ins.Kind, p.ins.LimitPrice, p.ins.AuxPrice)
		if err != nil {
			return nil, fmt.Errorf("building order: %w", err)
		}
		po := PlacedOrder{TradeID: p.ins.TradeID, LegID: p.ins.LegID, Order: order}
		placed = append(placed, po)
		m.bus.Publish(event.OrderEvent{
			Timestamp: sig.Timestamp,
			TradeID:   po.TradeID,
			LegID:     po.LegID,
			Order:     order,
		})
	}
	m.log.Info("signal approved", "strategy", sig.StrategyID, "legs", len(placed), "required", total)
	return placed, nil
}
