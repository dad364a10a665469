// Package broker defines the execution-engine contract shared by the
// backtest simulator and the live brokerage gateway, which maintain the same
// portfolio state model through interchangeable implementations.
package broker

import (
	"context"
	"errors"
	"time"

	"kestrel/internal/domain"
)

// ErrNotConnected is returned when an order is submitted before the
// connection handshake has completed, or after a disconnect.
var ErrNotConnected = errors.New("broker not connected")

// Broker executes approved orders and feeds the resulting position, order,
// and account updates back into the portfolio.
type Broker interface {
	// Name returns the broker identifier (e.g. "sim", "alpaca").
	Name() string

	// Connect prepares the broker for trading. For live brokers this runs
	// the full connection handshake; ctx bounds every blocking wait.
	Connect(ctx context.Context) error

	// PlaceOrder executes or relays one approved order. tradeID and legID
	// tie the resulting execution back to its originating instruction.
	PlaceOrder(ctx context.Context, timestamp time.Time, tradeID string, legID int, order *domain.Order) error

	// CancelOrder requests cancellation of a working order by broker id.
	CancelOrder(ctx context.Context, orderID string) error

	// Close releases broker resources. After Close the broker refuses
	// further submissions.
	Close() error
}
