package storage

import (
	"context"
	"time"

	"daytrade-core/internal/domain"
)

// Recorder durably records domain events and broadcasts a notification
// for each successful write. Persistence is best effort relative to the
// scheduling decision: a recorder error never blocks admission.
type Recorder interface {
	// RecordPositionOpened inserts a new open position and returns its id.
	RecordPositionOpened(ctx context.Context, symbol string, quantity, entryPrice float64, strategy, orderID string) (int64, error)

	// RecordPositionClosed marks a position closed with its exit price
	// and realized P&L.
	RecordPositionClosed(ctx context.Context, positionID int64, exitPrice, realizedPL float64) error

	// RecordSignal inserts a generated signal and returns its id.
	RecordSignal(ctx context.Context, sig domain.Signal) (int64, error)

	// Close releases the underlying connection.
	Close()
}

// Notification is the outward message broadcast after every successful
// mutating write, so API and dashboard processes observe state changes
// without polling.
type Notification struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// Notification event types.
const (
	NotifyPositionOpened  = "position.opened"
	NotifyPositionClosed  = "position.closed"
	NotifySignalGenerated = "signal.generated"
)
