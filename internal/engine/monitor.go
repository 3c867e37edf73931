package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"daytrade-core/internal/observability"
	"daytrade-core/internal/storage"
)

// Revalidation outcomes. Each attempt ends in exactly one of these;
// the label feeds both the revalidation counter and the log line.
const (
	outcomeHealthy  = "healthy"
	outcomeDegraded = "degraded"
	outcomeError    = "error"
)

// schemaValidator is the slice of the postgres recorder the monitor
// needs.
type schemaValidator interface {
	ValidateSchema(ctx context.Context) error
	Ping(ctx context.Context) error
}

// SchemaMonitor revalidates a degraded store until the schema is
// fixed. Retry delays climb a ladder and hold at the top; an operator
// applying the fix SQL is the expected resolution, so there is no give
// up point.
type SchemaMonitor struct {
	log       zerolog.Logger
	store     schemaValidator
	onHealthy func()
	backoff   []time.Duration
	opTimeout time.Duration
}

// NewSchemaMonitor creates a monitor for a store that failed schema
// validation. onHealthy fires once, after the first successful
// revalidation.
func NewSchemaMonitor(store schemaValidator, log zerolog.Logger, onHealthy func()) *SchemaMonitor {
	return &SchemaMonitor{
		log:       log.With().Str("component", "schema_monitor").Logger(),
		store:     store,
		onHealthy: onHealthy,
		backoff:   []time.Duration{30 * time.Second, time.Minute, 5 * time.Minute, 10 * time.Minute},
		opTimeout: 10 * time.Second,
	}
}

// Run blocks until the schema validates or ctx is cancelled.
func (m *SchemaMonitor) Run(ctx context.Context) {
	attempt := 0

	for {
		delay := m.backoff[len(m.backoff)-1]
		if attempt < len(m.backoff) {
			delay = m.backoff[attempt]
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		vctx, cancel := context.WithTimeout(ctx, m.opTimeout)
		err := m.store.ValidateSchema(vctx)
		cancel()

		var mismatch *storage.SchemaMismatchError
		switch {
		case err == nil:
			observability.RecordRevalidation(outcomeHealthy)
			observability.SetSchemaDegraded(false)
			m.log.Info().
				Str("outcome", outcomeHealthy).
				Int("attempts", attempt+1).
				Msg("schema validated")
			if m.onHealthy != nil {
				m.onHealthy()
			}
			return

		case errors.As(err, &mismatch):
			observability.RecordRevalidation(outcomeDegraded)
			m.log.Warn().
				Str("outcome", outcomeDegraded).
				Dur("next_check", m.nextDelay(attempt + 1)).
				Msg("schema still mismatched")

		default:
			// Connectivity or unknown. Ping separates the two for the log.
			observability.RecordRevalidation(outcomeError)
			pctx, pcancel := context.WithTimeout(ctx, m.opTimeout)
			pingErr := m.store.Ping(pctx)
			pcancel()
			m.log.Error().
				Err(err).
				Str("outcome", outcomeError).
				Bool("reachable", pingErr == nil).
				Dur("next_check", m.nextDelay(attempt + 1)).
				Msg("schema revalidation failed")
		}

		attempt++
	}
}

func (m *SchemaMonitor) nextDelay(attempt int) time.Duration {
	if attempt >= len(m.backoff) {
		return m.backoff[len(m.backoff)-1]
	}
	return m.backoff[attempt]
}
