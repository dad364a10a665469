// Package perf tracks the equity curve, executions, and signals of a run and
// reduces them to summary statistics. Deeper regression analytics live
// outside the engine.
package perf

import (
	"math"
	"sort"
	"time"

	"kestrel/internal/domain"
	"kestrel/internal/event"
)

// tradingDaysPerYear annualizes per-bar returns for the Sharpe ratio.
const tradingDaysPerYear = 252

// EquityPoint is one sample of the account's net liquidation value.
type EquityPoint struct {
	Timestamp time.Time
	Equity    float64
}

// Result holds the summary metrics of a completed run.
type Result struct {
	InitialCapital float64
	FinalEquity    float64
	TotalReturn    float64
	SharpeRatio    float64
	MaxDrawdown    float64
	TotalTrades    int
	WinRate        float64
	ProfitFactor   float64
}

type execKey struct {
	tradeID string
	legID   int
}

// Tracker accumulates run history. A re-reported (trade id, leg id) pair
// supersedes its earlier execution record rather than appending.
type Tracker struct {
	executions map[execKey]domain.Execution
	signals    []domain.Signal
	equity     []EquityPoint
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{executions: make(map[execKey]domain.Execution)}
}

// RecordExecution stores or supersedes the execution for its trade/leg id.
func (t *Tracker) RecordExecution(exec domain.Execution) {
	t.executions[execKey{tradeID: exec.TradeID, legID: exec.LegID}] = exec
}

// RecordSignal appends a signal to the run history.
func (t *Tracker) RecordSignal(sig domain.Signal) {
	t.signals = append(t.signals, sig)
}

// RecordEquity appends one equity sample.
func (t *Tracker) RecordEquity(timestamp time.Time, equity float64) {
	t.equity = append(t.equity, EquityPoint{Timestamp: timestamp, Equity: equity})
}

// Observe routes bus events into the tracker.
func (t *Tracker) Observe(evt event.Event) {
	switch e := evt.(type) {
	case event.ExecutionEvent:
		t.RecordExecution(e.Execution)
	case event.SignalEvent:
		t.RecordSignal(e.Signal)
	}
}

// Executions returns all recorded executions ordered by timestamp.
func (t *Tracker) Executions() []domain.Execution {
	out := make([]domain.Execution, 0, len(t.executions))
	for _, exec := range t.executions {
		out = append(out, exec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Ticker < out[j].Ticker
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Signals returns the recorded signals in arrival order.
func (t *Tracker) Signals() []domain.Signal { return t.signals }

// EquityCurve returns the recorded equity samples in arrival order.
func (t *Tracker) EquityCurve() []EquityPoint { return t.equity }

// Result reduces the run history to summary statistics.
func (t *Tracker) Result(initialCapital float64) Result {
	res := Result{
		InitialCapital: initialCapital,
		FinalEquity:    initialCapital,
		TotalTrades:    len(t.executions),
	}
	if len(t.equity) > 0 {
		res.FinalEquity = t.equity[len(t.equity)-1].Equity
	}
	if initialCapital > 0 {
		res.TotalReturn = res.FinalEquity/initialCapital - 1
	}
	res.SharpeRatio = sharpe(t.equity)
	res.MaxDrawdown = maxDrawdown(t.equity)

	var wins, rounds int
	var grossProfit, grossLoss float64
	for _, exec := range t.executions {
		if exec.Action.IsEntry() {
			continue
		}
		rounds++
		switch {
		case exec.RealizedPnL > 0:
			wins++
			grossProfit += exec.RealizedPnL
		case exec.RealizedPnL < 0:
			grossLoss += -exec.RealizedPnL
		}
	}
	if rounds > 0 {
		res.WinRate = float64(wins) / float64(rounds)
	}
	if grossLoss > 0 {
		res.ProfitFactor = grossProfit / grossLoss
	}
	return res
}

// sharpe computes the annualized Sharpe ratio of per-sample returns, with a
// zero risk-free rate.
func sharpe(curve []EquityPoint) float64 {
	if len(curve) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev == 0 {
			continue
		}
		returns = append(returns, curve[i].Equity/prev-1)
	}
	if len(returns) < 2 {
		return 0
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	if variance == 0 {
		return 0
	}
	return mean / math.Sqrt(variance) * math.Sqrt(tradingDaysPerYear)
}

// maxDrawdown returns the largest peak-to-trough equity decline as a
// positive fraction.
func maxDrawdown(curve []EquityPoint) float64 {
	var peak, maxDD float64
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			if dd := (peak - p.Equity) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}
