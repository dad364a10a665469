package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"kestrel/internal/domain"
	"kestrel/internal/event"
	"kestrel/internal/instrument"
	"kestrel/internal/orderbook"
	"kestrel/internal/portfolio"
)

// Compile-time interface check.
var _ Broker = (*SimBroker)(nil)

// tradeRef remembers the identity of the last execution per ticker, so a
// forced liquidation supersedes that record instead of inventing a new trade.
type tradeRef struct {
	tradeID string
	legID   int
}

// SimBroker is the backtest execution simulator. It fills every order
// immediately at the order-book price adjusted for slippage, applies
// commission, and maintains positions and the account snapshot with the same
// margin and PnL arithmetic a real broker would report.
//
// SimBroker is driven by the single-threaded backtest loop and performs no
// internal locking of its own; the portfolio guards its own state.
type SimBroker struct {
	book *orderbook.Book
	pf   *portfolio.Portfolio
	bus  *event.Bus
	log  *slog.Logger

	cash      float64 // available funds ledger
	lastTrade map[string]tradeRef
}

// NewSimBroker creates a simulator starting with initialCapital of available
// funds.
func NewSimBroker(book *orderbook.Book, pf *portfolio.Portfolio, bus *event.Bus, initialCapital float64, log *slog.Logger) (*SimBroker, error) {
	if initialCapital <= 0 {
		return nil, fmt.Errorf("initial capital must be positive, got %v", initialCapital)
	}
	return &SimBroker{
		book:      book,
		pf:        pf,
		bus:       bus,
		log:       log.With("broker", "sim"),
		cash:      initialCapital,
		lastTrade: make(map[string]tradeRef),
	}, nil
}

// Name returns "sim".
func (b *SimBroker) Name() string { return "sim" }

// Connect is a no-op; the simulator is always ready.
func (b *SimBroker) Connect(_ context.Context) error { return nil }

// Close is a no-op.
func (b *SimBroker) Close() error { return nil }

// CancelOrder is a no-op: simulated orders fill the instant they are placed,
// so there is never a working order to cancel.
func (b *SimBroker) CancelOrder(_ context.Context, _ string) error { return nil }

// PlaceOrder fills the order at the current book price adjusted for the
// instrument's slippage, debits commission, updates the position and account
// ledgers, and emits one execution event.
func (b *SimBroker) PlaceOrder(_ context.Context, timestamp time.Time, tradeID string, legID int, order *domain.Order) error {
	inst := order.Instrument

	price, err := b.book.CurrentPrice(inst.Ticker)
	if err != nil {
		return fmt.Errorf("resolving fill price: %w", err)
	}
	fillPrice := slippedPrice(price, inst, order.Action)

	commission := float64(abs(order.Quantity)) * inst.FeeRate
	b.cash -= commission

	realized := b.applyFill(inst, order.Quantity, fillPrice, price)
	if inst.Leveraged() {
		b.cash += realized
	} else {
		// Linear instruments consume funds on buys and release them on
		// sells; realized PnL falls out of the two cash flows.
		b.cash -= fillPrice * inst.Multiplier() * float64(order.Quantity)
	}

	b.recomputeAccount(timestamp)

	exec := domain.Execution{
		Timestamp:   timestamp,
		TradeID:     tradeID,
		LegID:       legID,
		Ticker:      inst.Ticker,
		Quantity:    order.Quantity,
		Price:       fillPrice,
		Value:       fillPrice * inst.Multiplier() * float64(abs(order.Quantity)),
		Action:      order.Action,
		Fees:        commission,
		RealizedPnL: realized,
	}
	b.lastTrade[inst.Ticker] = tradeRef{tradeID: tradeID, legID: legID}

	b.log.Info("order filled",
		"ticker", inst.Ticker,
		"action", order.Action,
		"qty", order.Quantity,
		"fillPrice", fillPrice,
		"fees", commission,
		"realized", realized,
	)
	b.bus.Publish(event.ExecutionEvent{Execution: exec})
	return nil
}

// applyFill updates the position ledger for one fill and returns the realized
// PnL. markPrice is the raw book price used as the position's current mark.
func (b *SimBroker) applyFill(inst *instrument.Instrument, signedQty int64, fillPrice, markPrice float64) float64 {
	cost := fillPrice * inst.Multiplier()
	old, open := b.pf.Position(inst.Ticker)

	var pos domain.Position
	var realized float64

	switch {
	case !open:
		pos = b.newPosition(inst, signedQty, cost)

	case sameSign(old.Quantity, signedQty):
		// Same-direction add: size-weighted average cost.
		oldAbs := float64(old.AbsQuantity())
		addAbs := float64(abs(signedQty))
		pos = old
		pos.AvgCost = (old.AvgCost*oldAbs + cost*addAbs) / (oldAbs + addAbs)
		pos.Quantity = old.Quantity + signedQty

	default:
		overlap := min64(abs(signedQty), old.AbsQuantity())
		realized = (cost - old.AvgCost) * float64(overlap) * float64(sign(old.Quantity))

		newQty := old.Quantity + signedQty
		switch {
		case newQty == 0:
			b.pf.UpdatePosition(inst.Ticker, nil)
			return realized
		case abs(signedQty) < old.AbsQuantity():
			// Partial reduction: average cost carries unchanged.
			pos = old
			pos.Quantity = newQty
		default:
			// Flip: old exposure fully realized, residual opens fresh.
			pos = b.newPosition(inst, newQty, cost)
		}
	}

	pos.MarketPrice = markPrice
	pos.UnrealizedPnL = pos.ComputeUnrealized()
	b.pf.UpdatePosition(inst.Ticker, &pos)
	return realized
}

func (b *SimBroker) newPosition(inst *instrument.Instrument, signedQty int64, cost float64) domain.Position {
	side := domain.SideBuy
	if signedQty < 0 {
		side = domain.SideSell
	}
	pos := domain.Position{
		Instrument: inst,
		Side:       side,
		Quantity:   signedQty,
		AvgCost:    cost,
	}
	if inst.Leveraged() {
		pos.MarginPerUnit = inst.InitialMargin
	}
	return pos
}

// MarkToMarket refreshes every position's mark and unrealized PnL from the
// current book prices and recomputes the account, without generating a trade.
func (b *SimBroker) MarkToMarket(timestamp time.Time) {
	for ticker, pos := range b.pf.Positions() {
		price, err := b.book.CurrentPrice(ticker)
		if err != nil {
			continue // no fresh mark yet, keep the old one
		}
		pos.MarketPrice = price
		pos.UnrealizedPnL = pos.ComputeUnrealized()
		b.pf.UpdatePosition(ticker, &pos)
	}
	b.recomputeAccount(timestamp)
}

// CheckMarginCall reports whether available funds have fallen below the
// required initial margin. It only signals; it never liquidates.
func (b *SimBroker) CheckMarginCall() bool {
	acct := b.pf.Account()
	return acct.AvailableFunds < acct.RequiredMargin
}

// LiquidatePositions force-closes every open position at the current book
// price with zero fee, emitting one closing execution per instrument that
// supersedes the instrument's last trade record. Used to finalize a backtest.
func (b *SimBroker) LiquidatePositions(timestamp time.Time) {
	for ticker, pos := range b.pf.Positions() {
		price, err := b.book.CurrentPrice(ticker)
		if err != nil {
			price = pos.MarketPrice
		}

		action := domain.ActionSell
		if pos.Quantity < 0 {
			action = domain.ActionCover
		}
		closeQty := -pos.Quantity
		inst := pos.Instrument

		realized := b.applyFill(inst, closeQty, price, price)
		if inst.Leveraged() {
			b.cash += realized
		} else {
			b.cash -= price * inst.Multiplier() * float64(closeQty)
		}

		ref, ok := b.lastTrade[ticker]
		if !ok {
			ref = tradeRef{tradeID: "liquidation-" + ticker}
		}
		exec := domain.Execution{
			Timestamp:   timestamp,
			TradeID:     ref.tradeID,
			LegID:       ref.legID,
			Ticker:      ticker,
			Quantity:    closeQty,
			Price:       price,
			Value:       price * inst.Multiplier() * float64(abs(closeQty)),
			Action:      action,
			RealizedPnL: realized,
		}
		b.log.Info("position liquidated", "ticker", ticker, "qty", closeQty, "price", price, "realized", realized)
		b.bus.Publish(event.ExecutionEvent{Execution: exec})
	}
	b.recomputeAccount(timestamp)
}

// AvailableFunds returns the current cash ledger.
func (b *SimBroker) AvailableFunds() float64 { return b.cash }

// recomputeAccount rebuilds the account snapshot as a pure function of the
// open positions, their marks, and the cash ledger.
func (b *SimBroker) recomputeAccount(timestamp time.Time) {
	var requiredMargin, unrealized, liquidation float64
	for _, pos := range b.pf.Positions() {
		requiredMargin += pos.RequiredMargin()
		unrealized += pos.UnrealizedPnL
		liquidation += pos.LiquidationValue()
	}
	b.pf.UpdateAccount(domain.Account{
		Timestamp:       timestamp,
		AvailableFunds:  b.cash,
		RequiredMargin:  requiredMargin,
		NetLiquidation:  b.cash + liquidation,
		UnrealizedPnL:   unrealized,
		ExcessLiquidity: b.cash - requiredMargin,
		BuyingPower:     b.cash - requiredMargin,
		Currency:        "USD",
		CashBalance:     b.cash,
	})
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int64) int64 {
	if v < 0 {
		return -1
	}
	return 1
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func sameSign(a, b int64) bool {
	return (a > 0) == (b > 0)
}

// slippedPrice applies the instrument's tick-scaled slippage: buys fill above
// the quoted price, sells below.
func slippedPrice(price float64, inst *instrument.Instrument, action domain.Action) float64 {
	if action.IsBuy() {
		return price + inst.Slippage()
	}
	return price - inst.Slippage()
}
