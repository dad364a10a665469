package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"kestrel/internal/domain"
	"kestrel/internal/perf"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ RunStore = (*SQLiteStore)(nil)

// insertChunkRows caps the number of rows per bulk INSERT batch.
const insertChunkRows = 1000

// SQLiteStore implements RunStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    kind        TEXT NOT NULL,
    strategy_id TEXT NOT NULL DEFAULT '',
    started_at  INTEGER NOT NULL,
    finished_at INTEGER NOT NULL DEFAULT 0,
    params      TEXT NOT NULL DEFAULT '',
    stats       TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS trades (
    run_id       TEXT NOT NULL,
    trade_id     TEXT NOT NULL,
    leg_id       INTEGER NOT NULL,
    ts           INTEGER NOT NULL,
    ticker       TEXT NOT NULL,
    qty          INTEGER NOT NULL,
    price        REAL NOT NULL,
    value        REAL NOT NULL,
    action       TEXT NOT NULL,
    fees         REAL NOT NULL,
    realized_pnl REAL NOT NULL,
    PRIMARY KEY (run_id, trade_id, leg_id)
);
CREATE TABLE IF NOT EXISTS signals (
    run_id      TEXT NOT NULL,
    ts          INTEGER NOT NULL,
    strategy_id TEXT NOT NULL,
    payload     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS equity_curve (
    run_id TEXT NOT NULL,
    ts     INTEGER NOT NULL,
    equity REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_run ON signals(run_id);
CREATE INDEX IF NOT EXISTS idx_equity_run ON equity_curve(run_id);
`)
	return err
}

// CreateRun inserts a new run row.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *RunRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, kind, strategy_id, started_at, finished_at, params, stats)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Kind, run.StrategyID,
		run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli(),
		run.Params, run.Stats,
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun stamps the run's completion time and statistics document.
func (s *SQLiteStore) FinishRun(ctx context.Context, id string, finishedAt time.Time, stats string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, stats = ? WHERE id = ?`,
		finishedAt.UnixMilli(), stats, id,
	)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finishing run %s: no such run", id)
	}
	return nil
}

// SaveTrades persists the run's executions in chunks of insertChunkRows,
// replacing earlier rows for re-reported trade/leg ids.
func (s *SQLiteStore) SaveTrades(ctx context.Context, runID string, execs []domain.Execution) error {
	for start := 0; start < len(execs); start += insertChunkRows {
		end := start + insertChunkRows
		if end > len(execs) {
			end = len(execs)
		}
		if err := s.saveTradeChunk(ctx, runID, execs[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) saveTradeChunk(ctx context.Context, runID string, execs []domain.Execution) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO trades
		 (run_id, trade_id, leg_id, ts, ticker, qty, price, value, action, fees, realized_pnl)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range execs {
		if _, err := stmt.ExecContext(ctx,
			runID, e.TradeID, e.LegID, e.Timestamp.UnixMilli(),
			e.Ticker, e.Quantity, e.Price, e.Value, string(e.Action), e.Fees, e.RealizedPnL,
		); err != nil {
			return fmt.Errorf("inserting trade %s/%d: %w", e.TradeID, e.LegID, err)
		}
	}
	return tx.Commit()
}

// SaveSignals persists the run's signals with their instructions JSON-encoded.
func (s *SQLiteStore) SaveSignals(ctx context.Context, runID string, signals []domain.Signal) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO signals (run_id, ts, strategy_id, payload) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, sig := range signals {
		payload, err := json.Marshal(sig.Instructions)
		if err != nil {
			return fmt.Errorf("encoding signal: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			runID, sig.Timestamp.UnixMilli(), sig.StrategyID, string(payload),
		); err != nil {
			return fmt.Errorf("inserting signal: %w", err)
		}
	}
	return tx.Commit()
}

// SaveEquityCurve persists the run's equity samples in chunks.
func (s *SQLiteStore) SaveEquityCurve(ctx context.Context, runID string, points []perf.EquityPoint) error {
	for start := 0; start < len(points); start += insertChunkRows {
		end := start + insertChunkRows
		if end > len(points) {
			end = len(points)
		}
		if err := s.saveEquityChunk(ctx, runID, points[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) saveEquityChunk(ctx context.Context, runID string, points []perf.EquityPoint) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO equity_curve (run_id, ts, equity) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, runID, p.Timestamp.UnixMilli(), p.Equity); err != nil {
			return fmt.Errorf("inserting equity point: %w", err)
		}
	}
	return tx.Commit()
}

// GetRun retrieves one run by id.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, strategy_id, started_at, finished_at, params, stats
		 FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// ListRuns returns the most recent runs of the given kind, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, kind string, limit int) ([]RunRecord, error) {
	query := `SELECT id, kind, strategy_id, started_at, finished_at, params, stats
	          FROM runs`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var run RunRecord
	var startedMs, finishedMs int64
	if err := row.Scan(&run.ID, &run.Kind, &run.StrategyID, &startedMs, &finishedMs, &run.Params, &run.Stats); err != nil {
		return nil, err
	}
	run.StartedAt = time.UnixMilli(startedMs)
	run.FinishedAt = time.UnixMilli(finishedMs)
	return &run, nil
}
