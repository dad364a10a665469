package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"kestrel/internal/domain"
	"kestrel/internal/perf"
)

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	got := ps.barPath("aapl", "us", 2024)
	want := filepath.Join("/data", "us", "daily", "AAPL", "2024.parquet")
	if got != want {
		t.Errorf("barPath mismatch:\n  got  %s\n  want %s", got, want)
	}
}

func TestParquetStoreWriteReadBars(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	bars := []domain.Bar{
		{Ticker: "AAPL", Open: 148, High: 152, Low: 147, Close: 150, Volume: 1000, Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		{Ticker: "AAPL", Open: 150, High: 155, Low: 149, Close: 154, Volume: 1200, Timestamp: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)},
		{Ticker: "AAPL", Open: 154, High: 156, Low: 153, Close: 155, Volume: 900, Timestamp: time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)},
	}
	if err := ps.WriteBars(ctx, bars, "us"); err != nil {
		t.Fatalf("WriteBars error: %v", err)
	}

	got, err := ps.ReadBars(ctx, "AAPL", "us",
		time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ReadBars error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars, want 2 inside the range", len(got))
	}
	if got[0].Close != 150 || got[1].Close != 154 {
		t.Errorf("bars = %+v", got)
	}
}

func TestParquetStoreMergeReplaces(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()
	ts := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	first := []domain.Bar{{Ticker: "AAPL", Open: 1, High: 1, Low: 1, Close: 1, Volume: 1, Timestamp: ts}}
	if err := ps.WriteBars(ctx, first, "us"); err != nil {
		t.Fatalf("WriteBars error: %v", err)
	}
	// Rewriting the same (ticker, timestamp) replaces the stored bar.
	second := []domain.Bar{{Ticker: "AAPL", Open: 2, High: 2, Low: 2, Close: 2, Volume: 2, Timestamp: ts}}
	if err := ps.WriteBars(ctx, second, "us"); err != nil {
		t.Fatalf("WriteBars error: %v", err)
	}

	got, err := ps.ReadBars(ctx, "AAPL", "us", ts.AddDate(0, 0, -1), ts.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("ReadBars error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ReadBars returned %d bars, want 1 after merge", len(got))
	}
	if got[0].Close != 2 {
		t.Errorf("Close = %v, want the replacing bar's 2", got[0].Close)
	}
}

func TestParquetStoreListSymbols(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()
	ts := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	bars := []domain.Bar{
		{Ticker: "MSFT", Open: 1, High: 1, Low: 1, Close: 1, Volume: 1, Timestamp: ts},
		{Ticker: "AAPL", Open: 1, High: 1, Low: 1, Close: 1, Volume: 1, Timestamp: ts},
	}
	if err := ps.WriteBars(ctx, bars, "us"); err != nil {
		t.Fatalf("WriteBars error: %v", err)
	}

	symbols, err := ps.ListSymbols(ctx, "us")
	if err != nil {
		t.Fatalf("ListSymbols error: %v", err)
	}
	if len(symbols) != 2 || symbols[0] != "AAPL" || symbols[1] != "MSFT" {
		t.Errorf("ListSymbols = %v, want [AAPL MSFT]", symbols)
	}

	empty, err := ps.ListSymbols(ctx, "cn")
	if err != nil {
		t.Fatalf("ListSymbols(cn) error: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("ListSymbols for empty market = %v, want none", empty)
	}
}

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "kestrel.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteRunLifecycle(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	started := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	run := &RunRecord{
		ID:         "run-1",
		Kind:       "backtest",
		StrategyID: "buy-hold",
		StartedAt:  started,
		Params:     `{"symbols":["AAPL"]}`,
	}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun error: %v", err)
	}

	finished := started.Add(time.Minute)
	if err := s.FinishRun(ctx, "run-1", finished, `{"total_return":0.02}`); err != nil {
		t.Fatalf("FinishRun error: %v", err)
	}
	if err := s.FinishRun(ctx, "missing", finished, "{}"); err == nil {
		t.Error("FinishRun for unknown id should fail")
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun error: %v", err)
	}
	if got.Kind != "backtest" || got.StrategyID != "buy-hold" {
		t.Errorf("run = %+v", got)
	}
	if !got.StartedAt.Equal(started) || !got.FinishedAt.Equal(finished) {
		t.Errorf("timestamps = %v / %v, want %v / %v", got.StartedAt, got.FinishedAt, started, finished)
	}
	if got.Stats != `{"total_return":0.02}` {
		t.Errorf("Stats = %s", got.Stats)
	}

	runs, err := s.ListRuns(ctx, "backtest", 10)
	if err != nil {
		t.Fatalf("ListRuns error: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-1" {
		t.Errorf("ListRuns = %+v", runs)
	}
	none, err := s.ListRuns(ctx, "live", 10)
	if err != nil {
		t.Fatalf("ListRuns(live) error: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("ListRuns(live) = %+v, want none", none)
	}
}

func TestSQLiteSaveTradesReplaces(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	ts := time.Date(2024, 6, 3, 15, 0, 0, 0, time.UTC)

	if err := s.CreateRun(ctx, &RunRecord{ID: "run-1", Kind: "backtest", StartedAt: ts}); err != nil {
		t.Fatalf("CreateRun error: %v", err)
	}

	entry := domain.Execution{
		Timestamp: ts, TradeID: "t1", LegID: 0, Ticker: "AAPL",
		Quantity: 10, Price: 100, Value: 1000, Action: domain.ActionLong,
	}
	if err := s.SaveTrades(ctx, "run-1", []domain.Execution{entry}); err != nil {
		t.Fatalf("SaveTrades error: %v", err)
	}

	// Re-saving the same trade/leg replaces the row.
	closing := entry
	closing.Timestamp = ts.Add(time.Hour)
	closing.Action = domain.ActionSell
	closing.Quantity = -10
	closing.RealizedPnL = 40
	if err := s.SaveTrades(ctx, "run-1", []domain.Execution{closing}); err != nil {
		t.Fatalf("SaveTrades error: %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM trades WHERE run_id = 'run-1'`).Scan(&count); err != nil {
		t.Fatalf("counting trades: %v", err)
	}
	if count != 1 {
		t.Errorf("trade rows = %d, want 1 after replace", count)
	}
	var action string
	var pnl float64
	if err := s.db.QueryRow(`SELECT action, realized_pnl FROM trades WHERE run_id = 'run-1'`).Scan(&action, &pnl); err != nil {
		t.Fatalf("reading trade: %v", err)
	}
	if action != string(domain.ActionSell) || pnl != 40 {
		t.Errorf("stored trade = %s/%v, want SELL/40", action, pnl)
	}
}

func TestSQLiteSaveSignalsAndEquity(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	ts := time.Date(2024, 6, 3, 15, 0, 0, 0, time.UTC)

	if err := s.CreateRun(ctx, &RunRecord{ID: "run-1", Kind: "backtest", StartedAt: ts}); err != nil {
		t.Fatalf("CreateRun error: %v", err)
	}

	signals := []domain.Signal{{
		Timestamp:  ts,
		StrategyID: "buy-hold",
		Instructions: []domain.TradeInstruction{
			{Ticker: "AAPL", Kind: domain.OrderMarket, Action: domain.ActionLong, TradeID: "t1", Quantity: 10},
		},
	}}
	if err := s.SaveSignals(ctx, "run-1", signals); err != nil {
		t.Fatalf("SaveSignals error: %v", err)
	}

	// Chunked insert must handle more rows than one chunk.
	points := make([]perf.EquityPoint, 0, insertChunkRows+10)
	for i := 0; i < insertChunkRows+10; i++ {
		points = append(points, perf.EquityPoint{Timestamp: ts.Add(time.Duration(i) * time.Minute), Equity: 100000 + float64(i)})
	}
	if err := s.SaveEquityCurve(ctx, "run-1", points); err != nil {
		t.Fatalf("SaveEquityCurve error: %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM equity_curve WHERE run_id = 'run-1'`).Scan(&count); err != nil {
		t.Fatalf("counting equity rows: %v", err)
	}
	if count != insertChunkRows+10 {
		t.Errorf("equity rows = %d, want %d", count, insertChunkRows+10)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM signals WHERE run_id = 'run-1'`).Scan(&count); err != nil {
		t.Fatalf("counting signal rows: %v", err)
	}
	if count != 1 {
		t.Errorf("signal rows = %d, want 1", count)
	}
}
