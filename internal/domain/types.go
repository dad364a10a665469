// Package domain defines the core value types shared across the trading
// engine: market data, actions, orders, signals, executions, positions, and
// account snapshots. All types are plain structs validated at construction;
// nothing in this package performs I/O.
package domain

import (
	"fmt"
	"time"

	"kestrel/internal/instrument"
)

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// MarketDataKind selects which market-data representation an order book
// serves. A book is constructed for exactly one kind.
type MarketDataKind string

const (
	MarketDataBar   MarketDataKind = "bar"
	MarketDataQuote MarketDataKind = "quote"
)

// Bar is a single OHLCV bar for one ticker.
type Bar struct {
	Ticker    string
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
	Timestamp time.Time
}

// Quote is a top-of-book bid/ask snapshot for one ticker.
type Quote struct {
	Ticker    string
	Bid       float64
	BidSize   int64
	Ask       float64
	AskSize   int64
	Timestamp time.Time
}

// MarketData is a tagged union of Bar and Quote. Exactly one of the two
// payload fields is set, matching Kind.
type MarketData struct {
	Kind  MarketDataKind
	Bar   *Bar
	Quote *Quote
}

// NewBarData wraps a Bar after validating its fields.
func NewBarData(b Bar) (MarketData, error) {
	if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
		return MarketData{}, fmt.Errorf("bar for %s has non-positive price", b.Ticker)
	}
	if b.Volume < 0 {
		return MarketData{}, fmt.Errorf("bar for %s has negative volume %d", b.Ticker, b.Volume)
	}
	return MarketData{Kind: MarketDataBar, Bar: &b}, nil
}

// NewQuoteData wraps a Quote after validating its fields.
func NewQuoteData(q Quote) (MarketData, error) {
	if q.Bid <= 0 || q.Ask <= 0 || q.BidSize <= 0 || q.AskSize <= 0 {
		return MarketData{}, fmt.Errorf("quote for %s has non-positive field", q.Ticker)
	}
	return MarketData{Kind: MarketDataQuote, Quote: &q}, nil
}

// Ticker returns the ticker of the wrapped payload.
func (m MarketData) Ticker() string {
	switch m.Kind {
	case MarketDataBar:
		return m.Bar.Ticker
	case MarketDataQuote:
		return m.Quote.Ticker
	}
	return ""
}

// Price returns the reference price of the payload: close for bars, mid for
// quotes.
func (m MarketData) Price() float64 {
	switch m.Kind {
	case MarketDataBar:
		return m.Bar.Close
	case MarketDataQuote:
		return (m.Quote.Bid + m.Quote.Ask) / 2
	}
	return 0
}

// ---------------------------------------------------------------------------
// Actions and sides
// ---------------------------------------------------------------------------

// Action is a trade direction tag. LONG and SHORT open new exposure; SELL and
// COVER close existing exposure of the opposite sign.
type Action string

const (
	ActionLong  Action = "LONG"
	ActionShort Action = "SHORT"
	ActionSell  Action = "SELL"
	ActionCover Action = "COVER"
)

// Side is the broker-level order side an Action maps to.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether a is one of the four defined actions.
func (a Action) Valid() bool {
	switch a {
	case ActionLong, ActionShort, ActionSell, ActionCover:
		return true
	}
	return false
}

// IsEntry reports whether the action opens new exposure.
func (a Action) IsEntry() bool { return a == ActionLong || a == ActionShort }

// IsBuy reports whether the action maps to a broker BUY.
func (a Action) IsBuy() bool { return a == ActionLong || a == ActionCover }

// BrokerSide maps the action to its broker order side: LONG/COVER buy,
// SHORT/SELL sell.
func (a Action) BrokerSide() Side {
	if a.IsBuy() {
		return SideBuy
	}
	return SideSell
}

// SignQuantity applies the action's sign to an absolute quantity: buy-side
// actions are positive, sell-side negative.
func (a Action) SignQuantity(qty int64) int64 {
	if qty < 0 {
		qty = -qty
	}
	if a.IsBuy() {
		return qty
	}
	return -qty
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// OrderKind is the order type sent to the broker.
type OrderKind string

const (
	OrderMarket OrderKind = "MARKET"
	OrderLimit  OrderKind = "LIMIT"
	OrderStop   OrderKind = "STOP"
)

// Order is a broker order built from one trade instruction. Quantity is
// signed; the sign is derived from Action at construction and never supplied
// separately.
type Order struct {
	Instrument *instrument.Instrument
	Action     Action
	Quantity   int64 // signed, non-zero
	Kind       OrderKind
	LimitPrice float64 // LIMIT only
	AuxPrice   float64 // STOP only
}

// NewOrder builds an Order from an instrument, action, and absolute quantity.
func NewOrder(inst *instrument.Instrument, action Action, qty int64, kind OrderKind, limitPrice, auxPrice float64) (*Order, error) {
	if inst == nil {
		return nil, fmt.Errorf("order requires an instrument")
	}
	if !action.Valid() {
		return nil, fmt.Errorf("unknown action %q", action)
	}
	if qty == 0 {
		return nil, fmt.Errorf("order for %s has zero quantity", inst.Ticker)
	}
	switch kind {
	case OrderMarket, OrderLimit, OrderStop:
	default:
		return nil, fmt.Errorf("unknown order kind %q", kind)
	}
	if kind == OrderLimit && limitPrice <= 0 {
		return nil, fmt.Errorf("limit order for %s has no limit price", inst.Ticker)
	}
	if kind == OrderStop && auxPrice <= 0 {
		return nil, fmt.Errorf("stop order for %s has no stop price", inst.Ticker)
	}
	return &Order{
		Instrument: inst,
		Action:     action,
		Quantity:   action.SignQuantity(qty),
		Kind:       kind,
		LimitPrice: limitPrice,
		AuxPrice:   auxPrice,
	}, nil
}

// OrderStatus is the lifecycle state of a broker order.
type OrderStatus string

const (
	OrderPendingSubmit OrderStatus = "PendingSubmit"
	OrderPreSubmitted  OrderStatus = "PreSubmitted"
	OrderSubmitted     OrderStatus = "Submitted"
	OrderCancelled     OrderStatus = "Cancelled"
	OrderFilled        OrderStatus = "Filled"
	OrderInactive      OrderStatus = "Inactive"
)

// Terminal reports whether the status ends the order's life at the broker.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderCancelled || s == OrderInactive
}

// ActiveOrder tracks a broker order that has been submitted and not yet
// reached a terminal status, plus its fill progress.
type ActiveOrder struct {
	OrderID      string // broker-assigned
	ClientID     string // caller-assigned, stable across re-reports
	ParentID     string // bracket parent, empty if none
	Ticker       string
	Status       OrderStatus
	Quantity     int64 // signed
	FilledQty    int64
	RemainingQty int64
	AvgFillPrice float64
}

// ---------------------------------------------------------------------------
// Signals
// ---------------------------------------------------------------------------

// TradeInstruction is one leg of a strategy signal.
type TradeInstruction struct {
	Ticker     string
	Kind       OrderKind
	Action     Action
	TradeID    string
	LegID      int
	Weight     float64
	Quantity   int64 // absolute
	LimitPrice float64
	AuxPrice   float64
}

// Signal is a strategy's intended trades for one decision point. Legs may
// span multiple instruments and share a trade id.
type Signal struct {
	Timestamp    time.Time
	StrategyID   string
	Instructions []TradeInstruction
}

// ---------------------------------------------------------------------------
// Executions
// ---------------------------------------------------------------------------

// Execution records one fill. Re-reports of the same (TradeID, LegID)
// supersede the earlier record rather than appending a new one.
type Execution struct {
	Timestamp   time.Time
	TradeID     string
	LegID       int
	Ticker      string
	Quantity    int64 // signed
	Price       float64
	Value       float64 // price x |quantity| x multipliers
	Action      Action
	Fees        float64
	RealizedPnL float64 // non-zero only when the fill reduces or closes exposure
}

// ---------------------------------------------------------------------------
// Positions
// ---------------------------------------------------------------------------

// Position is the engine's view of open exposure in one instrument.
// Quantity is signed (long positive, short negative). AvgCost is the
// size-weighted per-unit entry price multiplied by the instrument's price and
// quantity multipliers (broker average-cost convention).
type Position struct {
	Instrument    *instrument.Instrument
	Side          Side
	Quantity      int64
	AvgCost       float64
	MarketPrice   float64
	MarginPerUnit float64 // leveraged instruments only
	UnrealizedPnL float64
}

// AbsQuantity returns the unsigned position size.
func (p *Position) AbsQuantity() int64 {
	if p.Quantity < 0 {
		return -p.Quantity
	}
	return p.Quantity
}

// Multiplier returns the combined price and quantity multiplier.
func (p *Position) Multiplier() float64 {
	return p.Instrument.Multiplier()
}

// MarkValue returns the per-unit mark price scaled by the multipliers,
// comparable to AvgCost.
func (p *Position) MarkValue() float64 {
	return p.MarketPrice * p.Multiplier()
}

// ComputeUnrealized returns the unrealized PnL at the current mark.
func (p *Position) ComputeUnrealized() float64 {
	return (p.MarkValue() - p.AvgCost) * float64(p.Quantity)
}

// LiquidationValue returns the cash the position would realize if closed at
// the current mark. Linear instruments return their signed market value;
// leveraged instruments return only their unrealized PnL, since entry never
// consumed funds beyond commission.
func (p *Position) LiquidationValue() float64 {
	if p.Instrument.Leveraged() {
		return p.ComputeUnrealized()
	}
	return p.MarkValue() * float64(p.Quantity)
}

// RequiredMargin returns the initial margin the position reserves. Zero for
// linear instruments.
func (p *Position) RequiredMargin() float64 {
	if !p.Instrument.Leveraged() {
		return 0
	}
	return p.MarginPerUnit * float64(p.AbsQuantity())
}

// ---------------------------------------------------------------------------
// Account
// ---------------------------------------------------------------------------

// Account is a point-in-time snapshot of account equity and margin. It is
// always recomputed as a pure function of positions, marks, and realized cash
// flows, never mutated field by field.
type Account struct {
	Timestamp       time.Time
	AvailableFunds  float64
	RequiredMargin  float64
	NetLiquidation  float64
	UnrealizedPnL   float64
	ExcessLiquidity float64
	BuyingPower     float64
	Currency        string
	CashBalance     float64
}
