package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"daytrade-core/internal/domain"
	"daytrade-core/internal/observability"
	"daytrade-core/internal/storage"
)

// Recorder is the schema-aware PostgreSQL recorder. Writes build their
// column list from the last-known present-column set, retry once
// without an optional column the store reports as undefined, and cache
// the absence so later writes skip the fallback round-trip.
type Recorder struct {
	cfg  Config
	log  zerolog.Logger
	pool *Pool

	// mu guards only the schema state below; it is never held across a
	// database round-trip, so validation cannot block writers.
	mu           sync.Mutex
	present      map[string]map[string]bool // table -> confirmed-present columns; nil set = unknown
	validated    bool
	lastMismatch *storage.SchemaMismatchError
}

var _ storage.Recorder = (*Recorder)(nil)

// NewRecorder connects and validates the expected schema. On a schema
// mismatch the returned Recorder is usable in degraded mode alongside
// the returned *storage.SchemaMismatchError; the caller decides whether
// to continue. Any other non-nil error means the recorder is unusable.
func NewRecorder(ctx context.Context, cfg Config, log zerolog.Logger) (*Recorder, error) {
	pool, err := NewPool(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	r := &Recorder{
		cfg:     cfg,
		log:     log.With().Str("component", "recorder").Logger(),
		pool:    pool,
		present: make(map[string]map[string]bool),
	}

	if err := r.ValidateSchema(ctx); err != nil {
		var mismatch *storage.SchemaMismatchError
		if errors.As(err, &mismatch) {
			r.log.Warn().Err(err).Msg("schema validation failed, continuing degraded")
			return r, err
		}
		pool.Close()
		return nil, fmt.Errorf("validate schema: %w", err)
	}

	return r, nil
}

// ValidateSchema checks every expected table and column against
// information_schema and records the per-table present-column sets.
// Returns a *storage.SchemaMismatchError when anything expected is
// absent. Runs on its own round-trips; the state lock is taken only for
// the final update.
func (r *Recorder) ValidateSchema(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, r.cfg.OpTimeout)
	defer cancel()

	mismatch := &storage.SchemaMismatchError{MissingColumns: make(map[string][]string)}
	found := make(map[string]map[string]bool)

	for _, table := range storage.ExpectedSchema() {
		var exists bool
		err := r.pool.QueryRow(opCtx, `
			SELECT EXISTS (
				SELECT FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)`, table.Name).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check table %s: %w", table.Name, err)
		}
		if !exists {
			mismatch.MissingTables = append(mismatch.MissingTables, table.Name)
			continue
		}

		rows, err := r.pool.Query(opCtx, `
			SELECT column_name FROM information_schema.columns
			WHERE table_schema = 'public' AND table_name = $1`, table.Name)
		if err != nil {
			return fmt.Errorf("list columns of %s: %w", table.Name, err)
		}
		existing := make(map[string]bool)
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				rows.Close()
				return fmt.Errorf("scan column of %s: %w", table.Name, err)
			}
			existing[name] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate columns of %s: %w", table.Name, err)
		}

		found[table.Name] = existing
		var missing []string
		for _, col := range table.Columns {
			if !existing[col.Name] {
				missing = append(missing, col.Name)
			}
		}
		if len(missing) > 0 {
			mismatch.MissingColumns[table.Name] = missing
		}
	}

	ok := len(mismatch.MissingTables) == 0 && len(mismatch.MissingColumns) == 0

	r.mu.Lock()
	for name, cols := range found {
		r.present[name] = cols
	}
	r.validated = ok
	if ok {
		r.lastMismatch = nil
	} else {
		r.lastMismatch = mismatch
	}
	r.mu.Unlock()

	if !ok {
		return mismatch
	}
	r.log.Info().Msg("schema validation passed")
	return nil
}

// Validated reports whether the last validation found the full schema.
func (r *Recorder) Validated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.validated
}

// LastMismatch returns the most recent mismatch detail, nil when healthy.
func (r *Recorder) LastMismatch() *storage.SchemaMismatchError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastMismatch
}

// Ping verifies connectivity within the operation timeout.
func (r *Recorder) Ping(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, r.cfg.OpTimeout)
	defer cancel()
	return r.pool.Ping(opCtx)
}

// SchemaSQL returns the DDL for the full expected schema.
func (r *Recorder) SchemaSQL() string {
	return storage.SchemaSQL()
}

// Close releases the connection pool.
func (r *Recorder) Close() {
	r.pool.Close()
}

// RecordPositionOpened inserts a new open position and notifies
// position.opened. The execution reference is skipped when the order_id
// column is known to be absent; the notification always carries it.
func (r *Recorder) RecordPositionOpened(ctx context.Context, symbol string, quantity, entryPrice float64, strategy, orderID string) (int64, error) {
	cols := []string{"symbol", "quantity", "entry_price", "current_price", "unrealized_pl", "strategy", "status"}
	args := []any{symbol, quantity, entryPrice, entryPrice, 0.0, strategy, domain.PositionStatusOpen}

	if r.columnKnownAbsent(storage.TablePositions, "order_id") {
		r.log.Warn().Str("order_id", orderID).
			Msg("order_id column absent, execution reference not persisted")
	} else {
		cols = append(cols, "order_id")
		args = append(args, orderID)
	}

	id, err := r.insertReturningID(ctx, storage.TablePositions, cols, args)
	if err != nil {
		r.reportWriteError("record position opened", err)
		return 0, fmt.Errorf("record position opened: %w", err)
	}

	r.notify(ctx, storage.NotifyPositionOpened, map[string]any{
		"id":          id,
		"symbol":      symbol,
		"quantity":    quantity,
		"entry_price": entryPrice,
		"strategy":    strategy,
		"order_id":    orderID,
	})
	r.log.Info().Str("symbol", symbol).Float64("quantity", quantity).
		Float64("entry_price", entryPrice).Msg("position opened recorded")
	return id, nil
}

// RecordPositionClosed marks a position closed and notifies
// position.closed.
func (r *Recorder) RecordPositionClosed(ctx context.Context, positionID int64, exitPrice, realizedPL float64) error {
	withClosedAt := !r.columnKnownAbsent(storage.TablePositions, "closed_at")

	symbol, quantity, strategy, err := r.updateClosed(ctx, positionID, exitPrice, realizedPL, withClosedAt)
	if err != nil {
		if col, tbl, ok := undefinedColumn(err); ok && tbl == storage.TablePositions && col == "closed_at" && withClosedAt {
			r.markColumnAbsent(storage.TablePositions, col)
			r.log.Warn().Msg("closed_at column absent, retrying close without it")
			symbol, quantity, strategy, err = r.updateClosed(ctx, positionID, exitPrice, realizedPL, false)
		}
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.ErrNotFound
		}
		r.reportWriteError("record position closed", err)
		return fmt.Errorf("record position closed: %w", err)
	}

	r.notify(ctx, storage.NotifyPositionClosed, map[string]any{
		"id":          positionID,
		"symbol":      symbol,
		"quantity":    quantity,
		"exit_price":  exitPrice,
		"realized_pl": realizedPL,
		"strategy":    strategy,
	})
	r.log.Info().Str("symbol", symbol).Float64("exit_price", exitPrice).
		Float64("realized_pl", realizedPL).Msg("position closed recorded")
	return nil
}

func (r *Recorder) updateClosed(ctx context.Context, positionID int64, exitPrice, realizedPL float64, withClosedAt bool) (symbol string, quantity float64, strategy string, err error) {
	sets := "status = $1, current_price = $2, realized_pl = $3"
	if withClosedAt {
		sets += ", closed_at = NOW()"
	}
	query := fmt.Sprintf(`
		UPDATE positions SET %s
		WHERE id = $4
		RETURNING symbol, quantity, strategy`, sets)

	opCtx, cancel := context.WithTimeout(ctx, r.cfg.OpTimeout)
	defer cancel()
	err = r.pool.QueryRow(opCtx, query,
		domain.PositionStatusClosed, exitPrice, realizedPL, positionID).
		Scan(&symbol, &quantity, &strategy)
	return symbol, quantity, strategy, err
}

// RecordSignal inserts a generated signal and notifies signal.generated.
// Optional columns known to be absent are omitted up front.
func (r *Recorder) RecordSignal(ctx context.Context, sig domain.Signal) (int64, error) {
	cols := []string{"strategy", "symbol", "action", "confidence"}
	args := []any{sig.Strategy, sig.Symbol, string(sig.Action), sig.Confidence}

	if !r.columnKnownAbsent(storage.TableSignals, "expected_profit") {
		cols = append(cols, "expected_profit")
		args = append(args, sig.EstimatedProfit)
	}
	if !r.columnKnownAbsent(storage.TableSignals, "metadata") {
		var meta any
		if sig.Metadata != nil {
			encoded, err := json.Marshal(sig.Metadata)
			if err != nil {
				return 0, fmt.Errorf("encode signal metadata: %w", err)
			}
			meta = string(encoded)
		}
		cols = append(cols, "metadata")
		args = append(args, meta)
	}

	id, err := r.insertReturningID(ctx, storage.TableSignals, cols, args)
	if err != nil {
		r.reportWriteError("record signal", err)
		return 0, fmt.Errorf("record signal: %w", err)
	}

	r.notify(ctx, storage.NotifySignalGenerated, map[string]any{
		"id":              id,
		"strategy":        sig.Strategy,
		"symbol":          sig.Symbol,
		"action":          string(sig.Action),
		"confidence":      sig.Confidence,
		"expected_profit": sig.EstimatedProfit,
	})
	r.log.Info().Str("symbol", sig.Symbol).Str("action", string(sig.Action)).
		Float64("confidence", sig.Confidence).Msg("signal recorded")
	return id, nil
}

// insertReturningID executes a parameterized insert built from the
// column list. When the store rejects an optional column as undefined
// the insert is retried once without it and the absence is cached.
func (r *Recorder) insertReturningID(ctx context.Context, table string, cols []string, args []any) (int64, error) {
	var id int64
	opCtx, cancel := context.WithTimeout(ctx, r.cfg.OpTimeout)
	defer cancel()

	err := r.pool.QueryRow(opCtx, buildInsert(table, cols), args...).Scan(&id)
	if err == nil {
		return id, nil
	}

	col, tbl, ok := undefinedColumn(err)
	if !ok || tbl != table {
		return 0, err
	}
	desc, haveTable := storage.ExpectedTable(table)
	colDesc, haveCol := desc.Column(col)
	if !haveTable || !haveCol || !colDesc.Optional {
		return 0, err
	}

	r.markColumnAbsent(table, col)
	r.log.Warn().Str("table", table).Str("column", col).
		Msg("optional column undefined, retrying write without it")

	retryCols := make([]string, 0, len(cols)-1)
	retryArgs := make([]any, 0, len(args)-1)
	for i, c := range cols {
		if c == col {
			continue
		}
		retryCols = append(retryCols, c)
		retryArgs = append(retryArgs, args[i])
	}

	retryCtx, cancelRetry := context.WithTimeout(ctx, r.cfg.OpTimeout)
	defer cancelRetry()
	if err := r.pool.QueryRow(retryCtx, buildInsert(table, retryCols), retryArgs...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func buildInsert(table string, cols []string) string {
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
}

// notify broadcasts a structured notification on the configured
// pg_notify channel. Failures are logged, never propagated; the write
// itself already succeeded.
func (r *Recorder) notify(ctx context.Context, eventType string, data map[string]any) {
	n := storage.Notification{Type: eventType, Data: data, Timestamp: time.Now().UTC()}
	payload, err := json.Marshal(n)
	if err != nil {
		r.log.Error().Err(err).Str("type", eventType).Msg("encode notification")
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, r.cfg.OpTimeout)
	defer cancel()
	if _, err := r.pool.Exec(opCtx, "SELECT pg_notify($1, $2)", r.cfg.NotifyChannel, string(payload)); err != nil {
		observability.DefaultMetrics.NotifyFailures.Inc()
		r.log.Error().Err(err).Str("type", eventType).Msg("send notification")
	}
}

// reportWriteError logs a failed write with the severity and recovery
// note its error class calls for. Failed writes are dropped, not queued.
func (r *Recorder) reportWriteError(op string, err error) {
	kind := Classify(err)
	observability.RecordWriteError(string(kind))
	switch kind {
	case storage.KindConnectivity:
		r.log.Error().Err(err).Str("op", op).
			Msg("store unreachable, write dropped; monitor will reconnect")
	case storage.KindSchemaMismatch:
		r.log.Warn().Err(err).Str("op", op).Msg("schema mismatch on write")
		if mismatch := r.LastMismatch(); mismatch != nil {
			r.log.Warn().Str("fix_sql", mismatch.FixSQL()).Msg("corrective schema statements")
		}
	case storage.KindDataValidation:
		r.log.Warn().Err(err).Str("op", op).Msg("constraint violation, write dropped")
	default:
		r.log.Error().Err(err).Str("op", op).Msg("write failed")
	}
}

func (r *Recorder) columnKnownAbsent(table, col string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.present[table]
	if set == nil {
		// Never validated this table: attempt optimistically.
		return false
	}
	return !set[col]
}

func (r *Recorder) markColumnAbsent(table, col string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.present[table]
	if set == nil {
		// Seed from the expected schema so a single surprise column
		// does not blank out the whole table.
		set = make(map[string]bool)
		if desc, ok := storage.ExpectedTable(table); ok {
			for _, c := range desc.Columns {
				set[c.Name] = true
			}
		}
		r.present[table] = set
	}
	delete(set, col)
	r.validated = false
}
