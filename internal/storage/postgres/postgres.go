// Package postgres implements the resilient recorder on PostgreSQL
// using pgx. It validates the expected schema on startup, keeps writing
// with a reduced column set when the live schema has drifted, and
// broadcasts a pg_notify message for every successful write.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"daytrade-core/internal/storage"
)

// Config controls the connection and retry behavior.
type Config struct {
	// DSN is the PostgreSQL connection string. When empty the engine
	// falls back to the in-memory recorder.
	DSN string `yaml:"dsn"`
	// ConnectAttempts bounds the initial connection retries.
	ConnectAttempts int `yaml:"connect_attempts" default:"3" validate:"min=1"`
	// ConnectRetryDelay is the pause between connection attempts.
	ConnectRetryDelay time.Duration `yaml:"connect_retry_delay" default:"1s"`
	// OpTimeout bounds each write or validation round-trip. A timeout
	// is treated as a connectivity failure.
	OpTimeout time.Duration `yaml:"op_timeout" default:"5s"`
	// NotifyChannel is the pg_notify channel for outward notifications.
	NotifyChannel string `yaml:"notify_channel" default:"trading_events"`
}

// Pool wraps pgxpool.Pool for dependency injection.
type Pool struct {
	*pgxpool.Pool
}

// NewPool connects to PostgreSQL with bounded retries.
func NewPool(ctx context.Context, cfg Config, log zerolog.Logger) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.ConnectAttempts; attempt++ {
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, cfg.OpTimeout)
			err = pool.Ping(pingCtx)
			cancel()
			if err == nil {
				return &Pool{Pool: pool}, nil
			}
			pool.Close()
		}
		lastErr = err
		if attempt < cfg.ConnectAttempts {
			log.Warn().
				Int("attempt", attempt).
				Int("max_attempts", cfg.ConnectAttempts).
				Err(err).
				Msg("postgres connection attempt failed")
			select {
			case <-time.After(cfg.ConnectRetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("connect to postgres after %d attempts: %w", cfg.ConnectAttempts, lastErr)
}

// PostgreSQL error codes used for classification.
const (
	pgErrUndefinedColumn  = "42703"
	pgErrUndefinedTable   = "42P01"
	pgErrNotNullViolation = "23502"
	pgErrCheckViolation   = "23514"
	pgErrUniqueViolation  = "23505"
	pgErrConnExceptionCls = "08" // connection_exception class prefix
)

// Classify maps a write or validation error to the recovery taxonomy.
func Classify(err error) storage.ErrorKind {
	if err == nil {
		return ""
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgErrUndefinedColumn, pgErrUndefinedTable:
			return storage.KindSchemaMismatch
		case pgErrNotNullViolation, pgErrCheckViolation, pgErrUniqueViolation:
			return storage.KindDataValidation
		}
		if len(pgErr.Code) >= 2 && pgErr.Code[:2] == pgErrConnExceptionCls {
			return storage.KindConnectivity
		}
		return storage.KindUnknown
	}

	if errors.Is(err, storage.ErrNotConnected) ||
		errors.Is(err, context.DeadlineExceeded) ||
		pgconn.Timeout(err) {
		return storage.KindConnectivity
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return storage.KindConnectivity
	}

	return storage.KindUnknown
}

var undefinedColumnRe = regexp.MustCompile(`column "([^"]+)" of relation "([^"]+)" does not exist`)

// undefinedColumn extracts the column and table named by an
// undefined_column error, when present in the message.
func undefinedColumn(err error) (column, table string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgErrUndefinedColumn {
		return "", "", false
	}
	m := undefinedColumnRe.FindStringSubmatch(pgErr.Message)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}
