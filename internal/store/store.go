// Package store persists engine data: historical bars feeding backtests, and
// completed run records with their trades, signals, and equity curves.
package store

import (
	"context"
	"time"

	"kestrel/internal/domain"
	"kestrel/internal/perf"
)

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars under the given market.
	WriteBars(ctx context.Context, bars []domain.Bar, market string) error

	// ReadBars returns bars for the given symbol and market within [start, end].
	ReadBars(ctx context.Context, symbol, market string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market string) ([]string, error)
}

// RunRecord is the persisted summary of one backtest or live session.
// Params and Stats are JSON documents.
type RunRecord struct {
	ID         string
	Kind       string // "backtest" or "live"
	StrategyID string
	StartedAt  time.Time
	FinishedAt time.Time
	Params     string
	Stats      string
}

// RunStore persists completed runs and their history. Bulk child rows are
// written in fixed-size chunks to keep individual statements bounded.
type RunStore interface {
	// CreateRun inserts a new run row.
	CreateRun(ctx context.Context, run *RunRecord) error

	// FinishRun stamps the run's completion time and statistics document.
	FinishRun(ctx context.Context, id string, finishedAt time.Time, stats string) error

	// SaveTrades persists the run's executions. A re-saved (trade id,
	// leg id) pair replaces the earlier row.
	SaveTrades(ctx context.Context, runID string, execs []domain.Execution) error

	// SaveSignals persists the run's signals.
	SaveSignals(ctx context.Context, runID string, signals []domain.Signal) error

	// SaveEquityCurve persists the run's equity samples.
	SaveEquityCurve(ctx context.Context, runID string, points []perf.EquityPoint) error

	// GetRun retrieves one run by id.
	GetRun(ctx context.Context, id string) (*RunRecord, error)

	// ListRuns returns the most recent runs of the given kind, up to limit.
	// An empty kind matches all runs.
	ListRuns(ctx context.Context, kind string, limit int) ([]RunRecord, error)
}
