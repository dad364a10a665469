package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"kestrel/internal/config"
	"kestrel/internal/engine"
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

	bars := store.NewParquetStore(cfg.Storage.DataDir)

	var runs store.RunStore
	if cfg.Storage.SQLitePath != "" {
		sqlStore, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			log.Fatalf("failed to open run store: %v", err)
		}
		defer sqlStore.Close()
		runs = sqlStore
	}

	strategies := strategy.NewRegistry()
	strategies.Register(strategy.NewBuyHold(1))

	start, err := time.Parse("2006-01-02", cfg.Backtest.StartDate)
	if err != nil {
		log.Fatalf("invalid backtest start_date %q: %v", cfg.Backtest.StartDate, err)
	}
	end, err := time.Parse("2006-01-02", cfg.Backtest.EndDate)
	if err != nil {
		log.Fatalf("invalid backtest end_date %q: %v", cfg.Backtest.EndDate, err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bt := engine.NewBacktester(bars, runs, registry, strategies, logger)
	result, err := bt.Run(ctx, engine.BacktestParams{
		Symbols:        cfg.Backtest.Symbols,
		Market:         cfg.Backtest.Market,
		Start:          start,
		End:            end.Add(24*time.Hour - time.Nanosecond),
		InitialCapital: cfg.Backtest.InitialCapital,
		Strategy:       cfg.Backtest.Strategy,
		MarginPolicy:   engine.MarginPolicy(cfg.Backtest.MarginPolicy),
	})
	if err != nil {
		log.Fatalf("backtest failed: %v", err)
	}

	fmt.Printf("strategy:       %s\n", cfg.Backtest.Strategy)
	fmt.Printf("period:         %s .. %s\n", cfg.Backtest.StartDate, cfg.Backtest.EndDate)
	fmt.Printf("final equity:   %.2f\n", result.FinalEquity)
	fmt.Printf("total return:   %.2f%%\n", result.TotalReturn*100)
	fmt.Printf("sharpe ratio:   %.3f\n", result.SharpeRatio)
	fmt.Printf("max drawdown:   %.2f%%\n", result.MaxDrawdown*100)
	fmt.Printf("trades:         %d (win rate %.1f%%, profit factor %.2f)\n",
		result.TotalTrades, result.WinRate*100, result.ProfitFactor)
}
