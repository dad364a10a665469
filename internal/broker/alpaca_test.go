package broker

import (
	"testing"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"kestrel/internal/domain"
	"kestrel/internal/instrument"
)

func TestTranslateStatus(t *testing.T) {
	cases := []struct {
		broker string
		want   domain.OrderStatus
	}{
		{"pending_new", domain.OrderPendingSubmit},
		{"accepted", domain.OrderPreSubmitted},
		{"pending_cancel", domain.OrderPreSubmitted},
		{"pending_replace", domain.OrderPreSubmitted},
		{"new", domain.OrderSubmitted},
		{"partially_filled", domain.OrderSubmitted},
		{"calculated", domain.OrderSubmitted},
		{"filled", domain.OrderFilled},
		{"canceled", domain.OrderCancelled},
		{"expired", domain.OrderCancelled},
		{"replaced", domain.OrderCancelled},
		{"rejected", domain.OrderInactive},
		{"suspended", domain.OrderInactive},
		{"some_future_status", domain.OrderInactive},
	}
	for _, tc := range cases {
		if got := translateStatus(tc.broker); got != tc.want {
			t.Errorf("translateStatus(%q) = %v, want %v", tc.broker, got, tc.want)
		}
	}
}

func TestTranslateOrder(t *testing.T) {
	qty := decimal.NewFromInt(10)
	avg := decimal.NewFromFloat(150.25)
	o := &alpaca.Order{
		ID:             "broker-1",
		ClientOrderID:  "kestrel-abc-3",
		Symbol:         "AAPL",
		Side:           alpaca.Sell,
		Status:         "partially_filled",
		Qty:            &qty,
		FilledQty:      decimal.NewFromInt(4),
		FilledAvgPrice: &avg,
	}

	ao := translateOrder(o)
	if ao.OrderID != "broker-1" || ao.ClientID != "kestrel-abc-3" {
		t.Errorf("ids = %s/%s", ao.OrderID, ao.ClientID)
	}
	if ao.Status != domain.OrderSubmitted {
		t.Errorf("Status = %v, want Submitted", ao.Status)
	}
	if ao.Quantity != -10 {
		t.Errorf("Quantity = %d, want -10 for a sell", ao.Quantity)
	}
	if ao.FilledQty != 4 || ao.RemainingQty != 6 {
		t.Errorf("fill progress = %d/%d, want 4/6", ao.FilledQty, ao.RemainingQty)
	}
	if ao.AvgFillPrice != 150.25 {
		t.Errorf("AvgFillPrice = %v, want 150.25", ao.AvgFillPrice)
	}
}

func TestTranslateOrderNilQty(t *testing.T) {
	o := &alpaca.Order{
		ID:            "broker-2",
		ClientOrderID: "kestrel-abc-4",
		Symbol:        "AAPL",
		Side:          alpaca.Buy,
		Status:        "new",
		FilledQty:     decimal.Zero,
	}
	ao := translateOrder(o)
	if ao.Quantity != 0 || ao.FilledQty != 0 || ao.RemainingQty != 0 {
		t.Errorf("notional order fields = %+v", ao)
	}
}

func TestTranslatePosition(t *testing.T) {
	reg, err := instrument.NewRegistry([]instrument.Instrument{
		{Ticker: "AAPL", Kind: instrument.Equity},
		{Ticker: "HE", Kind: instrument.Future, InitialMargin: 1500, QtyMultiplier: 4, PriceMultiplier: 100},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	b := &AlpacaBroker{registry: reg}

	mark := decimal.NewFromFloat(48)
	pl := decimal.NewFromFloat(2400)
	pos, err := b.translatePosition(&alpaca.Position{
		Symbol:        "HE",
		Qty:           decimal.NewFromInt(-3),
		AvgEntryPrice: decimal.NewFromFloat(50),
		CurrentPrice:  &mark,
		UnrealizedPL:  &pl,
	})
	if err != nil {
		t.Fatalf("translatePosition: %v", err)
	}
	if pos.Side != domain.SideSell || pos.Quantity != -3 {
		t.Errorf("side/qty = %v/%d, want SELL/-3", pos.Side, pos.Quantity)
	}
	if pos.AvgCost != 20000 {
		t.Errorf("AvgCost = %v, want 20000 (entry 50 scaled by the 400x multiplier)", pos.AvgCost)
	}
	if pos.MarginPerUnit != 1500 {
		t.Errorf("MarginPerUnit = %v, want 1500", pos.MarginPerUnit)
	}
	if pos.MarketPrice != 48 || pos.UnrealizedPnL != 2400 {
		t.Errorf("mark = %v, pnl = %v, want 48, 2400", pos.MarketPrice, pos.UnrealizedPnL)
	}

	// Without a broker-supplied PnL the local mark is used.
	mark2 := decimal.NewFromFloat(105)
	epos, err := b.translatePosition(&alpaca.Position{
		Symbol:        "AAPL",
		Qty:           decimal.NewFromInt(10),
		AvgEntryPrice: decimal.NewFromFloat(100),
		CurrentPrice:  &mark2,
	})
	if err != nil {
		t.Fatalf("translatePosition: %v", err)
	}
	if epos.UnrealizedPnL != 50 {
		t.Errorf("UnrealizedPnL = %v, want 50", epos.UnrealizedPnL)
	}

	if _, err := b.translatePosition(&alpaca.Position{Symbol: "TSLA", Qty: decimal.NewFromInt(1)}); err == nil {
		t.Error("expected error for a position in an unregistered symbol")
	}
}
