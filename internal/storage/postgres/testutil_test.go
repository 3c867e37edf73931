package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"daytrade-core/internal/storage"
)

// setupTestDB starts a PostgreSQL container with the full expected
// schema applied. Returns the recorder config and a cleanup function
// that must be called after tests complete.
func setupTestDB(t *testing.T) (Config, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	cfg := Config{
		DSN:               dsn,
		ConnectAttempts:   3,
		ConnectRetryDelay: time.Second,
		OpTimeout:         5 * time.Second,
		NotifyChannel:     "trading_events",
	}

	pool, err := NewPool(ctx, cfg, zerolog.Nop())
	require.NoError(t, err, "failed to create pool")

	// Exec without arguments runs over the simple protocol, so the
	// multi-statement schema dump applies in one call.
	_, err = pool.Exec(ctx, storage.SchemaSQL())
	require.NoError(t, err, "failed to apply schema")
	pool.Close()

	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return cfg, cleanup
}

// execSQL runs one statement against the test database outside any
// recorder, for simulating schema drift.
func execSQL(t *testing.T, cfg Config, sql string) {
	t.Helper()
	ctx := context.Background()
	pool, err := NewPool(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	defer pool.Close()
	_, err = pool.Exec(ctx, sql)
	require.NoError(t, err, "failed to execute: %s", sql)
}
