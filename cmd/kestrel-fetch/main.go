package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"kestrel/internal/config"
	"kestrel/internal/gather"
	"kestrel/internal/store"
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

	start, err := time.Parse("2006-01-02", cfg.Backtest.StartDate)
	if err != nil {
		log.Fatalf("invalid start_date %q: %v", cfg.Backtest.StartDate, err)
	}
	end, err := time.Parse("2006-01-02", cfg.Backtest.EndDate)
	if err != nil {
		log.Fatalf("invalid end_date %q: %v", cfg.Backtest.EndDate, err)
	}

	bars := store.NewParquetStore(cfg.Storage.DataDir)
	fetcher := gather.NewFetcher(
		cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL,
		cfg.Backtest.Market, bars, logger,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := fetcher.Run(ctx, cfg.Backtest.Symbols, start, end); err != nil {
		log.Fatalf("fetch failed: %v", err)
	}
}
