package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"kestrel/internal/broker"
	"kestrel/internal/event"
	"kestrel/internal/orderbook"
	"kestrel/internal/perf"
	"kestrel/internal/portfolio"
	"kestrel/internal/strategy"
)

const (
	// connectTimeout bounds the whole connection handshake.
	connectTimeout = 30 * time.Second
	// requestTimeout bounds individual broker round-trips from the loop.
	requestTimeout = 10 * time.Second
)

// LiveEngine drives the live trading runtime. One owner goroutine drains the
// event channel and applies every portfolio mutation, so broker callbacks and
// market-data producers never touch shared state directly; they post events.
type LiveEngine struct {
	events  chan event.Event
	book    *orderbook.Book
	pf      *portfolio.Portfolio
	om      *OrderManager
	gateway *broker.AlpacaBroker
	strat   strategy.Strategy // nil = state sync only, no signal generation
	tracker *perf.Tracker
	log     *slog.Logger
}

// NewLiveEngine wires a LiveEngine around the given gateway. events is the
// shared channel broker callbacks and market-data producers post into; nil
// creates a fresh one. strat may be nil to run the engine as a pure state
// mirror.
func NewLiveEngine(book *orderbook.Book, pf *portfolio.Portfolio, om *OrderManager, gateway *broker.AlpacaBroker, strat strategy.Strategy, events chan event.Event, log *slog.Logger) *LiveEngine {
	if events == nil {
		events = make(chan event.Event, 4096)
	}
	return &LiveEngine{
		events:  events,
		book:    book,
		pf:      pf,
		om:      om,
		gateway: gateway,
		strat:   strat,
		tracker: perf.NewTracker(),
		log:     log.With("component", "live"),
	}
}

// Events returns the channel producers post into: market-data feeds, broker
// callbacks, and external signal sources.
func (e *LiveEngine) Events() chan<- event.Event { return e.events }

// Tracker exposes the run history accumulated so far.
func (e *LiveEngine) Tracker() *perf.Tracker { return e.tracker }

// Run completes the connection handshake and then drains events until ctx is
// cancelled. It returns the handshake error if connecting fails; no trading
// happens in that case.
func (e *LiveEngine) Run(ctx context.Context) error {
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	err := e.gateway.Connect(connectCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("live engine: %w", err)
	}
	defer e.gateway.Close()

	if e.strat != nil {
		if err := e.strat.Init(ctx); err != nil {
			return fmt.Errorf("initializing strategy: %w", err)
		}
	}

	e.log.Info("live engine running")
	for {
		select {
		case <-ctx.Done():
			e.log.Info("live engine stopping")
			return nil
		case evt := <-e.events:
			e.handle(ctx, evt)
		}
	}
}

// handle applies one event. It runs only on the owner goroutine.
func (e *LiveEngine) handle(ctx context.Context, evt event.Event) {
	switch ev := evt.(type) {
	case event.MarketEvent:
		if err := e.book.Update(ev.Data, ev.Timestamp); err != nil {
			e.log.Error("order book update failed", "error", err)
			return
		}
		e.generateSignals(ctx, ev)

	case event.SignalEvent:
		e.tracker.RecordSignal(ev.Signal)
		e.executeSignal(ctx, ev)

	case event.OrderStatusEvent:
		e.pf.UpdateOrder(ev.Order)
		e.refreshPositions(ctx)

	case event.PositionEvent:
		e.pf.UpdatePosition(ev.Ticker, ev.Position)
		e.pf.ClearRefresh(ev.Ticker)

	case event.AccountEvent:
		e.pf.UpdateAccount(ev.Account)
		e.tracker.RecordEquity(ev.Account.Timestamp, ev.Account.NetLiquidation)

	case event.ExecutionEvent:
		e.tracker.RecordExecution(ev.Execution)
		e.log.Info("execution",
			"ticker", ev.Execution.Ticker,
			"qty", ev.Execution.Quantity,
			"price", ev.Execution.Price,
		)
	}
}

func (e *LiveEngine) generateSignals(ctx context.Context, ev event.MarketEvent) {
	if e.strat == nil {
		return
	}
	signals, err := e.strat.OnBars(ctx, ev.Timestamp, ev.Data)
	if err != nil {
		e.log.Error("strategy failed", "error", err)
		return
	}
	for _, sig := range signals {
		e.tracker.RecordSignal(sig)
		e.executeSignal(ctx, event.SignalEvent{Signal: sig})
	}
}

func (e *LiveEngine) executeSignal(ctx context.Context, ev event.SignalEvent) {
	placed, err := e.om.OnSignal(ev.Signal)
	if err != nil {
		e.log.Error("signal evaluation failed", "error", err)
		return
	}
	for _, po := range placed {
		reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		err := e.gateway.PlaceOrder(reqCtx, ev.Signal.Timestamp, po.TradeID, po.LegID, po.Order)
		cancel()
		switch {
		case errors.Is(err, broker.ErrAssetInvalid):
			e.log.Warn("order skipped: invalid asset", "ticker", po.Order.Instrument.Ticker)
		case errors.Is(err, broker.ErrNotConnected):
			e.log.Error("order refused: gateway disconnected", "ticker", po.Order.Instrument.Ticker)
		case err != nil:
			e.log.Error("order submission failed", "ticker", po.Order.Instrument.Ticker, "error", err)
		}
	}
}

// refreshPositions reconciles every ticker flagged by a terminal fill. The
// refreshed position arrives back through the event channel.
func (e *LiveEngine) refreshPositions(ctx context.Context) {
	for _, ticker := range e.pf.RefreshTickers() {
		reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		err := e.gateway.RefreshPosition(reqCtx, ticker)
		cancel()
		if err != nil {
			e.log.Error("position refresh failed", "ticker", ticker, "error", err)
		}
	}
}
