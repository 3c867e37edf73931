// Package engine wires the dispatcher, compliance tracker, allocator
// and recorder into one coordinator. Construction is explicit; there
// are no package singletons.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"daytrade-core/internal/allocator"
	"daytrade-core/internal/compliance"
	"daytrade-core/internal/domain"
	"daytrade-core/internal/events"
	"daytrade-core/internal/observability"
	"daytrade-core/internal/storage"
	chstore "daytrade-core/internal/storage/clickhouse"
	"daytrade-core/internal/storage/postgres"
)

// Config holds coordinator-level settings.
type Config struct {
	// BatchSchedule is the cron expression for the weekly batch
	// allocation run. The default fires Monday at midnight, right
	// after the week rollover.
	BatchSchedule string `yaml:"batch_schedule" default:"0 0 * * MON"`
	// MetricsAddr serves Prometheus metrics when non-empty.
	MetricsAddr string `yaml:"metrics_addr" default:":9090"`
	// WriteTimeout bounds each recorder call made from event handlers.
	WriteTimeout time.Duration `yaml:"write_timeout" default:"5s"`
	// PortfolioValue is the account value the position-fraction risk
	// rule sizes trade requests against.
	PortfolioValue float64 `yaml:"portfolio_value" default:"100000" validate:"gt=0"`
}

// Strategy analyzes one market-data observation and may emit a signal.
// Implementations live outside this module.
type Strategy interface {
	Name() string
	Analyze(data domain.MarketData) (domain.Signal, bool)
}

// openPosition is what the coordinator needs to settle a close: the
// row id for the recorder and the entry terms for realized P&L.
type openPosition struct {
	id         int64
	entryPrice float64
	quantity   float64
	strategy   string
}

// Engine is the coordinator. It runs the market-data analysis loop,
// routes signals through compliance, persists position lifecycle
// events and triggers the weekly allocation batch.
type Engine struct {
	cfg      Config
	log      zerolog.Logger
	bus      *events.Bus
	tracker  *compliance.Tracker
	alloc    *allocator.Allocator
	recorder storage.Recorder
	audit    *chstore.DecisionAuditStore

	cron    *cron.Cron
	monitor *SchemaMonitor

	mu         sync.Mutex
	strategies []Strategy
	open       map[string]openPosition
	// lastStrategy remembers which strategy's approval preceded an
	// open, keyed by symbol; position.opened events carry no strategy.
	lastStrategy map[string]string
}

// New creates the coordinator and registers its event handlers. The
// audit store is optional; pass nil to disable the decision audit
// trail.
func New(cfg Config, log zerolog.Logger, bus *events.Bus, tracker *compliance.Tracker, alloc *allocator.Allocator, recorder storage.Recorder, audit *chstore.DecisionAuditStore) *Engine {
	e := &Engine{
		cfg:          cfg,
		log:          log.With().Str("component", "engine").Logger(),
		bus:          bus,
		tracker:      tracker,
		alloc:        alloc,
		recorder:     recorder,
		audit:        audit,
		cron:         cron.New(),
		open:         make(map[string]openPosition),
		lastStrategy: make(map[string]string),
	}

	bus.Subscribe(events.TopicMarketData, func(ev events.Event) error {
		data, ok := ev.(events.MarketData)
		if !ok {
			return nil
		}
		e.analyze(data.Data)
		return nil
	})
	bus.Subscribe(events.TopicSignalGenerated, func(ev events.Event) error {
		sig, ok := ev.(events.SignalGenerated)
		if !ok {
			return nil
		}
		e.handleSignal(sig.Signal)
		return nil
	})
	bus.Subscribe(events.TopicDayTradeApproved, func(ev events.Event) error {
		dec, ok := ev.(events.DayTradeApproved)
		if !ok {
			return nil
		}
		e.handleDecision(dec.Approval)
		return nil
	})
	bus.Subscribe(events.TopicPositionOpened, func(ev events.Event) error {
		opened, ok := ev.(events.PositionOpened)
		if !ok {
			return nil
		}
		e.handlePositionOpened(opened)
		return nil
	})
	bus.Subscribe(events.TopicPositionClosed, func(ev events.Event) error {
		closed, ok := ev.(events.PositionClosed)
		if !ok {
			return nil
		}
		e.handlePositionClosed(closed)
		return nil
	})

	return e
}

// RegisterStrategy adds a strategy to the analysis loop.
func (e *Engine) RegisterStrategy(s Strategy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategies = append(e.strategies, s)
	e.log.Info().Str("strategy", s.Name()).Msg("strategy registered")
}

// Start schedules the weekly batch run and, when the recorder came up
// in degraded mode, launches the schema monitor. It does not block.
func (e *Engine) Start(ctx context.Context) error {
	if _, err := e.cron.AddFunc(e.cfg.BatchSchedule, e.runWeeklyBatch); err != nil {
		return err
	}
	e.cron.Start()

	if pg, ok := e.recorder.(*postgres.Recorder); ok && !pg.Validated() {
		e.reportDegraded(pg.LastMismatch())
		e.monitor = NewSchemaMonitor(pg, e.log, func() {
			e.log.Info().Msg("schema recovered, persistence fully operational")
		})
		go e.monitor.Run(ctx)
	}

	e.log.Info().Str("batch_schedule", e.cfg.BatchSchedule).Msg("engine started")
	return nil
}

// Stop halts the batch scheduler and closes the recorder.
func (e *Engine) Stop() {
	stopCtx := e.cron.Stop()
	<-stopCtx.Done()
	e.recorder.Close()
	e.log.Info().Msg("engine stopped")
}

// Status returns the compliance and allocation state for operators.
func (e *Engine) Status() compliance.Status {
	return e.tracker.Status()
}

// EmitSignal publishes a signal into the dispatcher, stamping the
// emission time if the caller left it zero.
func (e *Engine) EmitSignal(sig domain.Signal) {
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now()
	}
	e.bus.Publish(events.SignalGenerated{Signal: sig})
}

// analyze runs every registered strategy over one observation and
// emits whatever signals come back.
func (e *Engine) analyze(data domain.MarketData) {
	e.mu.Lock()
	strategies := make([]Strategy, len(e.strategies))
	copy(strategies, e.strategies)
	e.mu.Unlock()

	for _, s := range strategies {
		sig, ok := s.Analyze(data)
		if !ok {
			continue
		}
		sig.Strategy = s.Name()
		e.EmitSignal(sig)
	}
}

// handleSignal persists the signal and, for actionable ones, submits
// an admission request. Recorder failures never block the request.
func (e *Engine) handleSignal(sig domain.Signal) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.WriteTimeout)
	start := time.Now()
	_, err := e.recorder.RecordSignal(ctx, sig)
	cancel()
	observability.RecordWrite("record_signal", time.Since(start).Seconds(), err)

	if sig.Action == domain.ActionHold {
		return
	}

	e.bus.Publish(events.DayTradeRequested{Request: domain.TradeRequest{
		Signal:        sig,
		IsDayTrade:    sig.Metadata.DayTrade(),
		RequestedSize: e.tracker.Rules().PositionSize(e.cfg.PortfolioValue),
	}})
}

// handleDecision records the admission decision in the audit trail and
// updates the slot gauges.
func (e *Engine) handleDecision(approval domain.TradeApproval) {
	verdict := "rejected"
	if approval.Approved {
		verdict = "approved"
		e.mu.Lock()
		e.lastStrategy[approval.Request.Signal.Symbol] = approval.Request.Signal.Strategy
		e.mu.Unlock()
	}
	if approval.Reason == compliance.ReasonEmergencyExit {
		observability.RecordEmergencyApproval()
	} else {
		observability.RecordDecision(verdict)
	}

	st := e.tracker.Status()
	observability.UpdateSlotUsage(st.TradesUsed, st.TradesRemaining)
	observability.UpdatePendingAllocations(st.PendingAllocations)

	if e.audit != nil {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.WriteTimeout)
		defer cancel()
		if err := e.audit.Insert(ctx, chstore.RecordFromApproval(approval, time.Now())); err != nil {
			e.log.Error().Err(err).Msg("decision audit insert failed")
		}
	}
}

func (e *Engine) handlePositionOpened(opened events.PositionOpened) {
	e.mu.Lock()
	strategy := e.lastStrategy[opened.Symbol]
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.WriteTimeout)
	defer cancel()
	start := time.Now()
	id, err := e.recorder.RecordPositionOpened(ctx, opened.Symbol, opened.Size, opened.Price, strategy, opened.OrderID)
	observability.RecordWrite("record_position_opened", time.Since(start).Seconds(), err)
	if err != nil {
		e.log.Error().Err(err).Str("symbol", opened.Symbol).Msg("record position open failed")
		return
	}

	e.mu.Lock()
	e.open[opened.Symbol] = openPosition{
		id:         id,
		entryPrice: opened.Price,
		quantity:   opened.Size,
		strategy:   strategy,
	}
	e.mu.Unlock()
}

// handlePositionClosed settles the position: realized P&L goes to the
// recorder and the outcome feeds future allocation scoring.
func (e *Engine) handlePositionClosed(closed events.PositionClosed) {
	e.mu.Lock()
	pos, ok := e.open[closed.Symbol]
	if ok {
		delete(e.open, closed.Symbol)
	}
	e.mu.Unlock()
	if !ok {
		e.log.Debug().Str("symbol", closed.Symbol).Msg("close for untracked position")
		return
	}

	realized := (closed.Price - pos.entryPrice) * pos.quantity
	if pos.strategy != "" {
		e.alloc.RecordOutcome(closed.Symbol, pos.strategy, realized > 0, realized)
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.WriteTimeout)
	defer cancel()
	start := time.Now()
	err := e.recorder.RecordPositionClosed(ctx, pos.id, closed.Price, realized)
	observability.RecordWrite("record_position_closed", time.Since(start).Seconds(), err)
	if err != nil {
		e.log.Error().Err(err).Str("symbol", closed.Symbol).Int64("position_id", pos.id).
			Msg("record position close failed")
	}
}

func (e *Engine) runWeeklyBatch() {
	before := e.alloc.Pending()
	usedBefore := e.tracker.TradesUsed()
	e.tracker.RunWeeklyBatch()

	st := e.tracker.Status()
	approved := st.TradesUsed - usedBefore
	observability.RecordBatchRun(approved, before-approved)
	observability.UpdateSlotUsage(st.TradesUsed, st.TradesRemaining)
	observability.UpdatePendingAllocations(st.PendingAllocations)
	observability.DefaultMetrics.LastBatchRun.SetToCurrentTime()

	e.log.Info().Int("requests", before).Msg("weekly batch completed")
}

// reportDegraded logs the operator-facing mismatch report: what is
// missing, what each gap costs, and the SQL that fixes it.
func (e *Engine) reportDegraded(mismatch *storage.SchemaMismatchError) {
	if mismatch == nil {
		return
	}
	observability.SetSchemaDegraded(true)

	ev := e.log.Warn()
	if len(mismatch.MissingTables) > 0 {
		ev = ev.Strs("missing_tables", mismatch.MissingTables)
	}
	for table, cols := range mismatch.MissingColumns {
		ev = ev.Strs("missing_columns_"+table, cols)
	}
	ev.Msg("running in degraded mode: writes touching missing schema will be skipped or trimmed")
	e.log.Warn().Msgf("run the following SQL to restore full persistence:\n%s", mismatch.FixSQL())
}
