package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daytrade-core/internal/domain"
	"daytrade-core/internal/storage"
)

func TestRecordPositionLifecycle(t *testing.T) {
	rec := NewRecorder()
	ctx := context.Background()

	id, err := rec.RecordPositionOpened(ctx, "AAPL", 10, 185.5, "momentum", "ORD-1")
	require.NoError(t, err)

	pos, ok := rec.Position(id)
	require.True(t, ok)
	assert.Equal(t, "AAPL", pos.Symbol)
	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
	assert.Equal(t, "ORD-1", pos.OrderID)
	assert.InDelta(t, 185.5, pos.CurrentPrice, 1e-9)
	assert.Nil(t, pos.ClosedAt)

	require.NoError(t, rec.RecordPositionClosed(ctx, id, 190.0, 45.0))

	pos, ok = rec.Position(id)
	require.True(t, ok)
	assert.Equal(t, domain.PositionStatusClosed, pos.Status)
	assert.InDelta(t, 45.0, pos.RealizedPL, 1e-9)
	assert.NotNil(t, pos.ClosedAt)
}

func TestRecordPositionClosedNotFound(t *testing.T) {
	rec := NewRecorder()
	err := rec.RecordPositionClosed(context.Background(), 42, 100.0, 0)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRecordSignal(t *testing.T) {
	rec := NewRecorder()

	sig := domain.Signal{
		Strategy:   "momentum",
		Symbol:     "NVDA",
		Action:     domain.ActionSell,
		Confidence: 0.85,
		Metadata:   domain.Metadata{"stop_loss": true},
	}
	id, err := rec.RecordSignal(context.Background(), sig)
	require.NoError(t, err)

	stored, ok := rec.Signal(id)
	require.True(t, ok)
	assert.Equal(t, sig.Strategy, stored.Strategy)
	assert.Equal(t, sig.Action, stored.Action)
	assert.True(t, stored.Metadata.StopLoss())
}

func TestNotificationsMatchWrites(t *testing.T) {
	rec := NewRecorder()
	ctx := context.Background()

	id, err := rec.RecordPositionOpened(ctx, "AAPL", 10, 185.5, "momentum", "ORD-1")
	require.NoError(t, err)
	require.NoError(t, rec.RecordPositionClosed(ctx, id, 190.0, 45.0))
	_, err = rec.RecordSignal(ctx, domain.Signal{Strategy: "momentum", Symbol: "AAPL", Action: domain.ActionBuy})
	require.NoError(t, err)

	notes := rec.Notifications()
	require.Len(t, notes, 3)
	assert.Equal(t, storage.NotifyPositionOpened, notes[0].Type)
	assert.Equal(t, storage.NotifyPositionClosed, notes[1].Type)
	assert.Equal(t, storage.NotifySignalGenerated, notes[2].Type)
	assert.Equal(t, "AAPL", notes[0].Data["symbol"])
	assert.False(t, notes[0].Timestamp.IsZero())
}

func TestDistinctIDs(t *testing.T) {
	rec := NewRecorder()
	ctx := context.Background()

	seen := map[int64]bool{}
	for i := 0; i < 5; i++ {
		id, err := rec.RecordPositionOpened(ctx, "AAPL", 1, 100, "s", "o")
		require.NoError(t, err)
		require.False(t, seen[id], "id %d reused", id)
		seen[id] = true
	}
}
