package engine

import (
	"log/slog"
	"time"

	"kestrel/internal/broker"
)

// MarginPolicy selects the response to a margin call during a backtest.
type MarginPolicy string

const (
	// MarginLog records the margin call and keeps running.
	MarginLog MarginPolicy = "log"
	// MarginLiquidate force-closes every position at the current price.
	MarginLiquidate MarginPolicy = "liquidate"
)

// MarginMonitor watches the simulator for margin calls and applies the
// configured policy.
type MarginMonitor struct {
	policy MarginPolicy
	calls  int
	log    *slog.Logger
}

// NewMarginMonitor creates a monitor with the given policy; an empty policy
// defaults to MarginLog.
func NewMarginMonitor(policy MarginPolicy, log *slog.Logger) *MarginMonitor {
	if policy == "" {
		policy = MarginLog
	}
	return &MarginMonitor{policy: policy, log: log.With("component", "margin")}
}

// Check tests the simulator for a margin call at timestamp and applies the
// policy. Returns true when a call occurred.
func (m *MarginMonitor) Check(timestamp time.Time, sim *broker.SimBroker) bool {
	if !sim.CheckMarginCall() {
		return false
	}
	m.calls++
	m.log.Warn("margin call", "timestamp", timestamp, "policy", m.policy, "count", m.calls)
	if m.policy == MarginLiquidate {
		sim.LiquidatePositions(timestamp)
	}
	return true
}

// Calls returns the number of margin calls observed.
func (m *MarginMonitor) Calls() int { return m.calls }
