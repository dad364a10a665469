package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"kestrel/internal/broker"
	"kestrel/internal/domain"
	"kestrel/internal/event"
	"kestrel/internal/instrument"
	"kestrel/internal/orderbook"
	"kestrel/internal/perf"
	"kestrel/internal/portfolio"
	"kestrel/internal/store"
	"kestrel/internal/strategy"
)

// BacktestParams describes one backtest run.
type BacktestParams struct {
	Symbols        []string      `json:"symbols"`
	Market         string        `json:"market"`
	Start          time.Time     `json:"start"`
	End            time.Time     `json:"end"`
	InitialCapital float64       `json:"initial_capital"`
	Strategy       string        `json:"strategy"`
	MarginPolicy   MarginPolicy  `json:"margin_policy"`
}

// Backtester replays historical bars through the full pipeline (order book,
// strategy, order manager, execution simulator, portfolio) one batch at a
// time, then liquidates and reduces the run to performance statistics.
// The replay is single-threaded: a batch fully drains before the next one is
// admitted.
type Backtester struct {
	bars       store.BarStore
	runs       store.RunStore // nil disables persistence
	registry   *instrument.Registry
	strategies *strategy.Registry
	log        *slog.Logger
}

// NewBacktester creates a Backtester. runs may be nil to skip persistence.
func NewBacktester(bars store.BarStore, runs store.RunStore, registry *instrument.Registry, strategies *strategy.Registry, log *slog.Logger) *Backtester {
	return &Backtester{
		bars:       bars,
		runs:       runs,
		registry:   registry,
		strategies: strategies,
		log:        log.With("component", "backtester"),
	}
}

// Run executes one backtest and returns its performance summary.
func (bt *Backtester) Run(ctx context.Context, params BacktestParams) (*perf.Result, error) {
	if params.InitialCapital <= 0 {
		return nil, fmt.Errorf("initial capital must be positive")
	}
	strat, ok := bt.strategies.Get(params.Strategy)
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", params.Strategy)
	}

	timestamps, batches, err := bt.loadBatches(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(timestamps) == 0 {
		return nil, fmt.Errorf("no bars for %v in [%s, %s]",
			params.Symbols, params.Start.Format("2006-01-02"), params.End.Format("2006-01-02"))
	}

	bus := event.NewBus()
	pf := portfolio.New(bus, bt.log)
	book, err := orderbook.New(domain.MarketDataBar, bus)
	if err != nil {
		return nil, err
	}
	sim, err := broker.NewSimBroker(book, pf, bus, params.InitialCapital, bt.log)
	if err != nil {
		return nil, err
	}
	om := NewOrderManager(book, pf, bt.registry, bus, bt.log)
	monitor := NewMarginMonitor(params.MarginPolicy, bt.log)
	tracker := perf.NewTracker()

	subID, events := bus.Subscribe(8192)
	defer bus.Unsubscribe(subID)
	drain := func() {
		for {
			select {
			case evt := <-events:
				tracker.Observe(evt)
			default:
				return
			}
		}
	}

	if err := strat.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing strategy %s: %w", params.Strategy, err)
	}

	runID := uuid.NewString()
	startedAt := time.Now()
	if bt.runs != nil {
		paramsJSON, _ := json.Marshal(params)
		if err := bt.runs.CreateRun(ctx, &store.RunRecord{
			ID:         runID,
			Kind:       "backtest",
			StrategyID: params.Strategy,
			StartedAt:  startedAt,
			Params:     string(paramsJSON),
		}); err != nil {
			return nil, err
		}
	}
	bt.log.Info("backtest starting",
		"runID", runID,
		"symbols", params.Symbols,
		"batches", len(timestamps),
		"capital", params.InitialCapital,
	)

	for _, ts := range timestamps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch := batches[ts]
		when := time.UnixMilli(ts)

		if err := book.Update(batch, when); err != nil {
			return nil, err
		}
		sim.MarkToMarket(when)
		monitor.Check(when, sim)

		signals, err := strat.OnBars(ctx, when, batch)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", params.Strategy, err)
		}
		for _, sig := range signals {
			placed, err := om.OnSignal(sig)
			if err != nil {
				return nil, err
			}
			for _, po := range placed {
				if err := sim.PlaceOrder(ctx, when, po.TradeID, po.LegID, po.Order); err != nil {
					return nil, err
				}
			}
		}

		drain()
		tracker.RecordEquity(when, pf.Account().NetLiquidation)
	}

	// Finalize: force-close everything so the equity curve ends flat in cash.
	final := time.UnixMilli(timestamps[len(timestamps)-1])
	sim.LiquidatePositions(final)
	drain()
	tracker.RecordEquity(final, pf.Account().NetLiquidation)

	result := tracker.Result(params.InitialCapital)
	bt.log.Info("backtest finished",
		"runID", runID,
		"finalEquity", result.FinalEquity,
		"totalReturn", result.TotalReturn,
		"trades", result.TotalTrades,
		"marginCalls", monitor.Calls(),
	)

	if bt.runs != nil {
		if err := bt.persist(ctx, runID, tracker, &result); err != nil {
			return nil, err
		}
	}
	return &result, nil
}

// loadBatches reads bars for every symbol and groups them into per-timestamp
// batches, returning the sorted timestamps (Unix ms) and the batch map.
func (bt *Backtester) loadBatches(ctx context.Context, params BacktestParams) ([]int64, map[int64]map[string]domain.MarketData, error) {
	batches := make(map[int64]map[string]domain.MarketData)
	for _, symbol := range params.Symbols {
		if _, err := bt.registry.Get(symbol); err != nil {
			return nil, nil, err
		}
		bars, err := bt.bars.ReadBars(ctx, symbol, params.Market, params.Start, params.End)
		if err != nil {
			return nil, nil, fmt.Errorf("reading bars for %s: %w", symbol, err)
		}
		for _, bar := range bars {
			md, err := domain.NewBarData(bar)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid bar: %w", err)
			}
			ts := bar.Timestamp.UnixMilli()
			if batches[ts] == nil {
				batches[ts] = make(map[string]domain.MarketData)
			}
			batches[ts][symbol] = md
		}
	}

	timestamps := make([]int64, 0, len(batches))
	for ts := range batches {
		timestamps = append(timestamps, ts)
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })
	return timestamps, batches, nil
}

func (bt *Backtester) persist(ctx context.Context, runID string, tracker *perf.Tracker, result *perf.Result) error {
	if err := bt.runs.SaveTrades(ctx, runID, tracker.Executions()); err != nil {
		return fmt.Errorf("persisting trades: %w", err)
	}
	if err := bt.runs.SaveSignals(ctx, runID, tracker.Signals()); err != nil {
		return fmt.Errorf("persisting signals: %w", err)
	}
	if err := bt.runs.SaveEquityCurve(ctx, runID, tracker.EquityCurve()); err != nil {
		return fmt.Errorf("persisting equity curve: %w", err)
	}
	stats, _ := json.Marshal(result)
	if err := bt.runs.FinishRun(ctx, runID, time.Now(), string(stats)); err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	return nil
}
