package domain

import (
	"testing"
	"time"

	"kestrel/internal/instrument"
)

func stk(t *testing.T, ticker string) *instrument.Instrument {
	t.Helper()
	inst, err := instrument.New(instrument.Instrument{Ticker: ticker, Kind: instrument.Equity, Currency: "USD"})
	if err != nil {
		t.Fatalf("instrument.New(%s) error: %v", ticker, err)
	}
	return inst
}

func TestActionSides(t *testing.T) {
	cases := []struct {
		action Action
		buy    bool
		entry  bool
	}{
		{ActionLong, true, true},
		{ActionShort, false, true},
		{ActionSell, false, false},
		{ActionCover, true, false},
	}
	for _, tc := range cases {
		if got := tc.action.IsBuy(); got != tc.buy {
			t.Errorf("%s.IsBuy() = %v, want %v", tc.action, got, tc.buy)
		}
		if got := tc.action.IsEntry(); got != tc.entry {
			t.Errorf("%s.IsEntry() = %v, want %v", tc.action, got, tc.entry)
		}
	}
	if ActionLong.BrokerSide() != SideBuy {
		t.Errorf("LONG.BrokerSide() = %v, want BUY", ActionLong.BrokerSide())
	}
	if ActionShort.BrokerSide() != SideSell {
		t.Errorf("SHORT.BrokerSide() = %v, want SELL", ActionShort.BrokerSide())
	}
}

func TestSignQuantity(t *testing.T) {
	if got := ActionLong.SignQuantity(5); got != 5 {
		t.Errorf("LONG.SignQuantity(5) = %d, want 5", got)
	}
	if got := ActionShort.SignQuantity(5); got != -5 {
		t.Errorf("SHORT.SignQuantity(5) = %d, want -5", got)
	}
	if got := ActionSell.SignQuantity(3); got != -3 {
		t.Errorf("SELL.SignQuantity(3) = %d, want -3", got)
	}
	if got := ActionCover.SignQuantity(3); got != 3 {
		t.Errorf("COVER.SignQuantity(3) = %d, want 3", got)
	}
}

func TestNewOrderSignsQuantity(t *testing.T) {
	inst := stk(t, "AAPL")

	order, err := NewOrder(inst, ActionShort, 10, OrderMarket, 0, 0)
	if err != nil {
		t.Fatalf("NewOrder error: %v", err)
	}
	if order.Quantity != -10 {
		t.Errorf("SHORT order quantity = %d, want -10", order.Quantity)
	}

	order, err = NewOrder(inst, ActionCover, 10, OrderMarket, 0, 0)
	if err != nil {
		t.Fatalf("NewOrder error: %v", err)
	}
	if order.Quantity != 10 {
		t.Errorf("COVER order quantity = %d, want 10", order.Quantity)
	}
}

func TestNewOrderValidation(t *testing.T) {
	inst := stk(t, "AAPL")

	if _, err := NewOrder(inst, ActionLong, 0, OrderMarket, 0, 0); err == nil {
		t.Error("NewOrder with zero quantity should fail")
	}
	if _, err := NewOrder(inst, Action("HOLD"), 1, OrderMarket, 0, 0); err == nil {
		t.Error("NewOrder with unknown action should fail")
	}
	if _, err := NewOrder(inst, ActionLong, 1, OrderLimit, 0, 0); err == nil {
		t.Error("limit order without limit price should fail")
	}
	if _, err := NewOrder(inst, ActionLong, 1, OrderStop, 0, 0); err == nil {
		t.Error("stop order without stop price should fail")
	}
	if _, err := NewOrder(inst, ActionLong, 1, OrderLimit, 101.5, 0); err != nil {
		t.Errorf("valid limit order failed: %v", err)
	}
}

func TestNewBarDataValidation(t *testing.T) {
	ts := time.Now()

	if _, err := NewBarData(Bar{Ticker: "X", Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10, Timestamp: ts}); err != nil {
		t.Errorf("valid bar rejected: %v", err)
	}
	if _, err := NewBarData(Bar{Ticker: "X", Open: 0, High: 2, Low: 0.5, Close: 1.5, Timestamp: ts}); err == nil {
		t.Error("bar with zero open should fail")
	}
	if _, err := NewBarData(Bar{Ticker: "X", Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: -1, Timestamp: ts}); err == nil {
		t.Error("bar with negative volume should fail")
	}
}

func TestNewQuoteDataValidation(t *testing.T) {
	ts := time.Now()

	if _, err := NewQuoteData(Quote{Ticker: "X", Bid: 1, BidSize: 1, Ask: 1.1, AskSize: 1, Timestamp: ts}); err != nil {
		t.Errorf("valid quote rejected: %v", err)
	}
	if _, err := NewQuoteData(Quote{Ticker: "X", Bid: 0, BidSize: 1, Ask: 1.1, AskSize: 1, Timestamp: ts}); err == nil {
		t.Error("quote with zero bid should fail")
	}
	if _, err := NewQuoteData(Quote{Ticker: "X", Bid: 1, BidSize: 0, Ask: 1.1, AskSize: 1, Timestamp: ts}); err == nil {
		t.Error("quote with zero bid size should fail")
	}
}

func TestMarketDataPrice(t *testing.T) {
	bar, err := NewBarData(Bar{Ticker: "X", Open: 10, High: 12, Low: 9, Close: 11, Volume: 1, Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("NewBarData error: %v", err)
	}
	if got := bar.Price(); got != 11 {
		t.Errorf("bar Price() = %v, want close 11", got)
	}

	quote, err := NewQuoteData(Quote{Ticker: "X", Bid: 10, BidSize: 1, Ask: 12, AskSize: 1, Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("NewQuoteData error: %v", err)
	}
	if got := quote.Price(); got != 11 {
		t.Errorf("quote Price() = %v, want mid 11", got)
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	terminal := []OrderStatus{OrderFilled, OrderCancelled, OrderInactive}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}
	working := []OrderStatus{OrderPendingSubmit, OrderPreSubmitted, OrderSubmitted}
	for _, s := range working {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", s)
		}
	}
}

func TestPositionArithmetic(t *testing.T) {
	fut, err := instrument.New(instrument.Instrument{
		Ticker:          "HE",
		Kind:            instrument.Future,
		Currency:        "USD",
		InitialMargin:   1500,
		QtyMultiplier:   4,
		PriceMultiplier: 100,
	})
	if err != nil {
		t.Fatalf("instrument.New error: %v", err)
	}

	pos := Position{
		Instrument:    fut,
		Side:          SideSell,
		Quantity:      -3,
		AvgCost:       50 * 400,
		MarketPrice:   48,
		MarginPerUnit: 1500,
	}
	if got := pos.AbsQuantity(); got != 3 {
		t.Errorf("AbsQuantity() = %d, want 3", got)
	}
	if got := pos.MarkValue(); got != 48*400 {
		t.Errorf("MarkValue() = %v, want %v", got, 48*400)
	}
	// Short 3 at 50, marked at 48: (19200 - 20000) * -3 = +2400.
	if got := pos.ComputeUnrealized(); got != 2400 {
		t.Errorf("ComputeUnrealized() = %v, want 2400", got)
	}
	if got := pos.RequiredMargin(); got != 4500 {
		t.Errorf("RequiredMargin() = %v, want 4500", got)
	}
	pos.UnrealizedPnL = pos.ComputeUnrealized()
	if got := pos.LiquidationValue(); got != 2400 {
		t.Errorf("future LiquidationValue() = %v, want unrealized 2400", got)
	}
}
