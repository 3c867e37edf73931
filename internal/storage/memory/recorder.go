// Package memory implements the recorder on in-process maps. It backs
// tests and runs the engine without a database; notifications are
// retained for inspection instead of being broadcast.
package memory

import (
	"context"
	"sync"
	"time"

	"daytrade-core/internal/domain"
	"daytrade-core/internal/storage"
)

// Recorder is an in-memory storage.Recorder.
type Recorder struct {
	mu            sync.Mutex
	nextID        int64
	positions     map[int64]*domain.Position
	signals       map[int64]*domain.Signal
	notifications []storage.Notification
}

var _ storage.Recorder = (*Recorder)(nil)

// NewRecorder creates an empty in-memory recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		positions: make(map[int64]*domain.Position),
		signals:   make(map[int64]*domain.Signal),
	}
}

// RecordPositionOpened inserts a new open position and returns its id.
func (r *Recorder) RecordPositionOpened(_ context.Context, symbol string, quantity, entryPrice float64, strategy, orderID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.positions[id] = &domain.Position{
		ID:           id,
		Symbol:       symbol,
		Quantity:     quantity,
		EntryPrice:   entryPrice,
		CurrentPrice: entryPrice,
		Strategy:     strategy,
		Status:       domain.PositionStatusOpen,
		OrderID:      orderID,
		CreatedAt:    time.Now().UTC(),
	}

	r.notifyLocked(storage.NotifyPositionOpened, map[string]any{
		"id":          id,
		"symbol":      symbol,
		"quantity":    quantity,
		"entry_price": entryPrice,
		"strategy":    strategy,
		"order_id":    orderID,
	})
	return id, nil
}

// RecordPositionClosed marks a position closed. Returns ErrNotFound for
// an unknown id.
func (r *Recorder) RecordPositionClosed(_ context.Context, positionID int64, exitPrice, realizedPL float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos, ok := r.positions[positionID]
	if !ok {
		return storage.ErrNotFound
	}
	now := time.Now().UTC()
	pos.Status = domain.PositionStatusClosed
	pos.CurrentPrice = exitPrice
	pos.RealizedPL = realizedPL
	pos.ClosedAt = &now

	r.notifyLocked(storage.NotifyPositionClosed, map[string]any{
		"id":          positionID,
		"symbol":      pos.Symbol,
		"quantity":    pos.Quantity,
		"exit_price":  exitPrice,
		"realized_pl": realizedPL,
		"strategy":    pos.Strategy,
	})
	return nil
}

// RecordSignal inserts a signal and returns its id.
func (r *Recorder) RecordSignal(_ context.Context, sig domain.Signal) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	stored := sig
	r.signals[id] = &stored

	r.notifyLocked(storage.NotifySignalGenerated, map[string]any{
		"id":              id,
		"strategy":        sig.Strategy,
		"symbol":          sig.Symbol,
		"action":          string(sig.Action),
		"confidence":      sig.Confidence,
		"expected_profit": sig.EstimatedProfit,
	})
	return id, nil
}

// Close is a no-op.
func (r *Recorder) Close() {}

// Position returns a stored position by id.
func (r *Recorder) Position(id int64) (*domain.Position, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pos, ok := r.positions[id]
	if !ok {
		return nil, false
	}
	copied := *pos
	return &copied, true
}

// Signal returns a stored signal by id.
func (r *Recorder) Signal(id int64) (*domain.Signal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sig, ok := r.signals[id]
	if !ok {
		return nil, false
	}
	copied := *sig
	return &copied, true
}

// Notifications returns every notification emitted so far.
func (r *Recorder) Notifications() []storage.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]storage.Notification, len(r.notifications))
	copy(out, r.notifications)
	return out
}

func (r *Recorder) notifyLocked(eventType string, data map[string]any) {
	r.notifications = append(r.notifications, storage.Notification{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}
