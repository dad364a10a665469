package strategy

import (
	"context"
	"fmt"
	"sort"
	"time"

	"kestrel/internal/domain"
)

// Compile-time interface check.
var _ Strategy = (*BuyHold)(nil)

// BuyHold is a reference signal source: it enters a fixed-size long position
// in each ticker the first time market data for it arrives, then holds. It
// exists to exercise the execution pipeline end to end, not as a trading
// idea.
type BuyHold struct {
	qty       int64
	entered   map[string]bool
	nextTrade int
}

// NewBuyHold creates a BuyHold entering qty units per ticker.
func NewBuyHold(qty int64) *BuyHold {
	return &BuyHold{qty: qty, entered: make(map[string]bool)}
}

// Name returns "buy-hold".
func (s *BuyHold) Name() string { return "buy-hold" }

// Init resets the entered set.
func (s *BuyHold) Init(_ context.Context) error {
	s.entered = make(map[string]bool)
	s.nextTrade = 0
	return nil
}

// OnBars emits one multi-leg signal covering every ticker not yet entered.
func (s *BuyHold) OnBars(_ context.Context, timestamp time.Time, data map[string]domain.MarketData) ([]domain.Signal, error) {
	var fresh []string
	for ticker := range data {
		if !s.entered[ticker] {
			fresh = append(fresh, ticker)
		}
	}
	if len(fresh) == 0 {
		return nil, nil
	}
	sort.Strings(fresh)

	s.nextTrade++
	tradeID := fmt.Sprintf("buy-hold-%d", s.nextTrade)
	instructions := make([]domain.TradeInstruction, 0, len(fresh))
	for i, ticker := range fresh {
		s.entered[ticker] = true
		instructions = append(instructions, domain.TradeInstruction{
			Ticker:   ticker,
			Kind:     domain.OrderMarket,
			Action:   domain.ActionLong,
			TradeID:  tradeID,
			LegID:    i,
			Weight:   1.0 / float64(len(fresh)),
			Quantity: s.qty,
		})
	}
	return []domain.Signal{{
		Timestamp:    timestamp,
		StrategyID:   s.Name(),
		Instructions: instructions,
	}}, nil
}
