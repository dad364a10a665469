package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata/stream"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"kestrel/internal/broker"
	"kestrel/internal/config"
	"kestrel/internal/domain"
	"kestrel/internal/engine"
	"kestrel/internal/event"
	"kestrel/internal/orderbook"
	"kestrel/internal/perf"
	"kestrel/internal/portfolio"
	"kestrel/internal/store"
	"kestrel/internal/strategy"
	"kestrel/internal/util"
)

func main() {
	_ = godotenv.Load()

	cfgPath := "config/kestrel.yaml"
	if p := os.Getenv("KESTREL_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	registry, err := cfg.Registry()
	if err != nil {
		log.Fatalf("failed to build symbol registry: %v", err)
	}

	strategies := strategy.NewRegistry()
	strategies.Register(strategy.NewBuyHold(1))
	strat, ok := strategies.Get(cfg.Live.Strategy)
	if !ok {
		log.Fatalf("unknown strategy %q (registered: %v)", cfg.Live.Strategy, strategies.List())
	}

	dataKind := domain.MarketDataBar
	if cfg.Live.MarketData == "quote" {
		dataKind = domain.MarketDataQuote
	}

	bus := event.NewBus()
	pf := portfolio.New(bus, logger)
	book, err := orderbook.New(dataKind, bus)
	if err != nil {
		log.Fatalf("failed to create order book: %v", err)
	}
	om := engine.NewOrderManager(book, pf, registry, bus, logger)

	events := make(chan event.Event, 4096)
	gw := broker.NewAlpacaBroker(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL, registry, pf, events, logger)
	eng := engine.NewLiveEngine(book, pf, om, gw, strat, events, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := startMarketData(ctx, cfg, events, logger); err != nil {
		log.Fatalf("failed to start market data stream: %v", err)
	}

	var runs store.RunStore
	runID := uuid.NewString()
	startedAt := time.Now()
	if cfg.Storage.SQLitePath != "" {
		sqlStore, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			log.Fatalf("failed to open run store: %v", err)
		}
		defer sqlStore.Close()
		runs = sqlStore

		paramsJSON, _ := json.Marshal(cfg.Live)
		if err := runs.CreateRun(ctx, &store.RunRecord{
			ID:         runID,
			Kind:       "live",
			StrategyID: cfg.Live.Strategy,
			StartedAt:  startedAt,
			Params:     string(paramsJSON),
		}); err != nil {
			log.Fatalf("failed to record live run: %v", err)
		}
	}

	fmt.Printf("kestrel-live starting (strategy=%s, symbols=%v)\n", cfg.Live.Strategy, cfg.Live.Symbols)
	runErr := eng.Run(ctx)

	if runs != nil {
		// Persist what the session produced even when Run returned an error.
		saveCtx, saveCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer saveCancel()
		tracker := eng.Tracker()
		if err := runs.SaveTrades(saveCtx, runID, tracker.Executions()); err != nil {
			logger.Error("Failed to save trades.", "error", err)
		}
		if err := runs.SaveSignals(saveCtx, runID, tracker.Signals()); err != nil {
			logger.Error("Failed to save signals.", "error", err)
		}
		if err := runs.SaveEquityCurve(saveCtx, runID, tracker.EquityCurve()); err != nil {
			logger.Error("Failed to save equity curve.", "error", err)
		}
		statsJSON, _ := json.Marshal(tracker.Result(initialEquity(tracker)))
		if err := runs.FinishRun(saveCtx, runID, time.Now(), string(statsJSON)); err != nil {
			logger.Error("Failed to finish run record.", "error", err)
		}
	}

	if runErr != nil && ctx.Err() == nil {
		log.Fatalf("live engine error: %v", runErr)
	}
	fmt.Println("kestrel-live stopped")
}

// initialEquity returns the first equity sample of the session, or zero when
// no account snapshot ever arrived.
func initialEquity(t *perf.Tracker) float64 {
	curve := t.EquityCurve()
	if len(curve) == 0 {
		return 0
	}
	return curve[0].Equity
}

// startMarketData connects the Alpaca market data websocket and forwards
// incoming bars or quotes into the engine's event channel as one-ticker
// batches.
func startMarketData(ctx context.Context, cfg *config.Config, events chan<- event.Event, logger *slog.Logger) error {
	feed := marketdata.IEX
	if cfg.Alpaca.Feed != "" {
		feed = marketdata.Feed(cfg.Alpaca.Feed)
	}
	sc := stream.NewStocksClient(feed,
		stream.WithCredentials(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret),
	)

	if err := util.Retry(ctx, 5, 2*time.Second, func() error {
		return sc.Connect(ctx)
	}); err != nil {
		return fmt.Errorf("connecting market data stream: %w", err)
	}

	post := func(md domain.MarketData, ts time.Time) {
		select {
		case events <- event.MarketEvent{Timestamp: ts, Data: map[string]domain.MarketData{md.Ticker(): md}}:
		default:
			logger.Warn("Engine busy, drop market data.", "ticker", md.Ticker())
		}
	}

	if cfg.Live.MarketData == "quote" {
		return sc.SubscribeToQuotes(func(q stream.Quote) {
			md, err := domain.NewQuoteData(domain.Quote{
				Ticker:    q.Symbol,
				Bid:       q.BidPrice,
				BidSize:   int64(q.BidSize),
				Ask:       q.AskPrice,
				AskSize:   int64(q.AskSize),
				Timestamp: q.Timestamp,
			})
			if err != nil {
				logger.Warn("Drop malformed quote.", "ticker", q.Symbol, "error", err)
				return
			}
			post(md, q.Timestamp)
		}, cfg.Live.Symbols...)
	}
	return sc.SubscribeToBars(func(b stream.Bar) {
		md, err := domain.NewBarData(domain.Bar{
			Ticker:    b.Symbol,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    int64(b.Volume),
			Timestamp: b.Timestamp,
		})
		if err != nil {
			logger.Warn("Drop malformed bar.", "ticker", b.Symbol, "error", err)
			return
		}
		post(md, b.Timestamp)
	}, cfg.Live.Symbols...)
}
