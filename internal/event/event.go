// Package event defines the closed set of events flowing through the engine
// and a small pub/sub bus for delivering them to subscribers.
package event

import (
	"time"

	"kestrel/internal/domain"
)

// Kind tags each event variant.
type Kind string

const (
	KindMarket    Kind = "MARKET"
	KindSignal    Kind = "SIGNAL"
	KindOrder     Kind = "ORDER"
	KindExecution Kind = "EXECUTION"
	KindPosition  Kind = "POSITION_UPDATE"
	KindOrderStat Kind = "ORDER_UPDATE"
	KindAccount   Kind = "ACCOUNT_DETAIL_UPDATE"
)

// Event is the sum type of everything published on a Bus. Subscribers switch
// on the concrete type or on Kind().
type Event interface {
	Kind() Kind
}

// MarketEvent carries one whole market-data batch after an order-book update.
type MarketEvent struct {
	Timestamp time.Time
	Data      map[string]domain.MarketData
}

// SignalEvent carries a strategy signal entering the engine.
type SignalEvent struct {
	Signal domain.Signal
}

// OrderEvent carries one order approved by the order manager.
type OrderEvent struct {
	Timestamp time.Time
	TradeID   string
	LegID     int
	Order     *domain.Order
}

// ExecutionEvent carries one fill produced by an execution engine.
type ExecutionEvent struct {
	Execution domain.Execution
}

// PositionEvent announces a position mutation. Position is nil when the
// position was removed.
type PositionEvent struct {
	Ticker   string
	Position *domain.Position
}

// OrderStatusEvent announces an active-order status change.
type OrderStatusEvent struct {
	Order domain.ActiveOrder
}

// AccountEvent announces a recomputed account snapshot.
type AccountEvent struct {
	Account domain.Account
}

func (MarketEvent) Kind() Kind      { return KindMarket }
func (SignalEvent) Kind() Kind      { return KindSignal }
func (OrderEvent) Kind() Kind       { return KindOrder }
func (ExecutionEvent) Kind() Kind   { return KindExecution }
func (PositionEvent) Kind() Kind    { return KindPosition }
func (OrderStatusEvent) Kind() Kind { return KindOrderStat }
func (AccountEvent) Kind() Kind     { return KindAccount }
