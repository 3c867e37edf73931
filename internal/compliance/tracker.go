// Package compliance enforces the rolling-week day-trade limit.
//
// The week window is anchored to the Monday of the current calendar week
// and recomputed lazily on every query; entries older than the boundary
// are dropped outright. This is a deliberate approximation of the
// regulatory rolling five-business-day window, not an exact one.
package compliance

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"daytrade-core/internal/allocator"
	"daytrade-core/internal/domain"
	"daytrade-core/internal/events"
)

// Admission reasons.
const (
	ReasonSwingTrade    = "swing trade - no day-trade restrictions"
	ReasonEmergencyExit = "emergency stop-loss exit"
	ReasonSlotAvailable = "day trade slot available"
)

// Config holds the tracker limits.
type Config struct {
	// WeeklyLimit is the total day trades allowed per rolling week.
	WeeklyLimit int `yaml:"weekly_limit" default:"3" validate:"min=1"`
	// EmergencyReserve is withheld from ordinary allocation and spent
	// only on loss-cutting exits.
	EmergencyReserve int `yaml:"emergency_reserve" default:"1" validate:"min=0"`
	// RecentTrades is how many ledger entries Status reports.
	RecentTrades int `yaml:"recent_trades" default:"5" validate:"min=1"`
	// Risk is the exposure rule set reported alongside the slot state.
	Risk allocator.RiskRules `yaml:"risk"`
}

// ledgerEntry marks emergency admissions so they never count against
// the ordinary slot budget.
type ledgerEntry struct {
	domain.DayTrade
	Emergency bool
}

// Status is the in-process query surface.
type Status struct {
	TradesUsed         int
	TradesRemaining    int
	CanDayTrade        bool
	WeekStart          time.Time
	RecentTrades       []domain.DayTrade
	PendingAllocations int
	EmergencyReserve   int
	RiskRules          allocator.RiskRules
}

// Tracker admits, queues or rejects day-trade requests. The admission
// check and the ledger append happen under one mutex so two concurrent
// requests can never both claim the last slot. Tracker operations never
// fail terminally; ambiguous requests take the conservative
// slot-required branch.
type Tracker struct {
	cfg   Config
	bus   *events.Bus
	alloc *allocator.Allocator
	log   zerolog.Logger

	now func() time.Time

	mu         sync.Mutex
	ledger     []ledgerEntry
	weekAnchor time.Time
}

// New creates a Tracker and registers it on the bus for trade requests
// and position closes.
func New(cfg Config, bus *events.Bus, alloc *allocator.Allocator, log zerolog.Logger) *Tracker {
	t := &Tracker{
		cfg:   cfg,
		bus:   bus,
		alloc: alloc,
		log:   log.With().Str("component", "compliance").Logger(),
		now:   time.Now,
	}
	t.weekAnchor = t.weekStart(t.now())

	bus.Subscribe(events.TopicDayTradeRequested, func(e events.Event) error {
		req, ok := e.(events.DayTradeRequested)
		if !ok {
			return fmt.Errorf("unexpected payload %T on %s", e, events.TopicDayTradeRequested)
		}
		t.HandleRequest(req.Request)
		return nil
	})
	bus.Subscribe(events.TopicPositionClosed, func(e events.Event) error {
		closed, ok := e.(events.PositionClosed)
		if !ok {
			return fmt.Errorf("unexpected payload %T on %s", e, events.TopicPositionClosed)
		}
		t.HandlePositionClosed(closed)
		return nil
	})

	return t
}

// HandleRequest makes the admission decision for one trade request and
// publishes it as a day_trade.approved event. The decision and the
// ledger append happen under one lock; the publish happens after.
func (t *Tracker) HandleRequest(req domain.TradeRequest) {
	t.mu.Lock()
	t.rolloverLocked()

	ambiguous := req.Signal.Symbol == "" || req.Signal.Strategy == ""
	if ambiguous {
		t.log.Warn().
			Str("symbol", req.Signal.Symbol).
			Str("strategy", req.Signal.Strategy).
			Msg("ambiguous trade request, treating as slot-required day trade")
	}

	var approved, emergency bool
	var reason string
	switch {
	case !req.IsDayTrade && !ambiguous:
		approved, reason = true, ReasonSwingTrade
	case !ambiguous && t.isEmergencyExit(req):
		approved, emergency, reason = true, true, ReasonEmergencyExit
	case t.ordinaryUsedLocked() < t.ordinaryLimit():
		approved, reason = true, ReasonSlotAvailable
	default:
		// Saturated: queue for the weekly batch, reject for this cycle.
		t.alloc.RequestAllocation(req)
		reason = fmt.Sprintf("limit reached: %d/%d trades used, queued for weekly batch",
			t.ordinaryUsedLocked(), t.ordinaryLimit())
	}

	if approved && (req.IsDayTrade || ambiguous) {
		t.appendLedgerLocked(req, emergency)
	}
	t.mu.Unlock()

	t.log.Info().
		Str("strategy", req.Signal.Strategy).
		Str("symbol", req.Signal.Symbol).
		Bool("approved", approved).
		Str("reason", reason).
		Msg("admission decision")

	t.bus.Publish(events.DayTradeApproved{
		Approval: domain.TradeApproval{Request: req, Approved: approved, Reason: reason},
	})
}

// HandlePositionClosed stamps the close time on the oldest unclosed
// ledger entry for the symbol and records the outcome for future
// allocation scoring.
func (t *Tracker) HandlePositionClosed(closed events.PositionClosed) {
	t.mu.Lock()
	for i := range t.ledger {
		e := &t.ledger[i]
		if e.Symbol == closed.Symbol && !e.Closed() {
			e.CloseTime = closed.Timestamp
			t.mu.Unlock()
			t.log.Debug().Str("symbol", closed.Symbol).Msg("day trade closed")
			return
		}
	}
	t.mu.Unlock()
}

// RunWeeklyBatch re-evaluates all pending allocation requests against
// the slots still open this week and publishes every decision. The
// slot count, the batch decision and the ledger appends stay under one
// lock so a concurrent HandleRequest cannot claim a slot the batch is
// about to fill. The allocator locks only itself and never calls back
// into the tracker, so nesting its lock here is safe.
func (t *Tracker) RunWeeklyBatch() {
	t.mu.Lock()
	t.rolloverLocked()
	slots := t.ordinaryLimit() - t.ordinaryUsedLocked()

	decisions := t.alloc.ScheduleWeeklyBatch(slots)
	for _, d := range decisions {
		if d.Approved {
			t.appendLedgerLocked(d.Request, false)
		}
	}
	t.mu.Unlock()

	for _, d := range decisions {
		t.bus.Publish(events.DayTradeApproved{Approval: d})
	}
}

// TradesUsed returns the ordinary day trades consumed this week.
func (t *Tracker) TradesUsed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()
	return t.ordinaryUsedLocked()
}

// TradesRemaining returns the ordinary slots still open this week.
func (t *Tracker) TradesRemaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()
	remaining := t.ordinaryLimit() - t.ordinaryUsedLocked()
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// CanDayTrade reports whether an ordinary day trade would be admitted
// right now.
func (t *Tracker) CanDayTrade() bool {
	return t.TradesRemaining() > 0
}

// Status returns the tracker and allocator state for operators.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	t.rolloverLocked()

	recent := make([]domain.DayTrade, 0, t.cfg.RecentTrades)
	start := len(t.ledger) - t.cfg.RecentTrades
	if start < 0 {
		start = 0
	}
	for _, e := range t.ledger[start:] {
		recent = append(recent, e.DayTrade)
	}

	used := t.ordinaryUsedLocked()
	remaining := t.ordinaryLimit() - used
	if remaining < 0 {
		remaining = 0
	}
	anchor := t.weekAnchor
	t.mu.Unlock()

	return Status{
		TradesUsed:         used,
		TradesRemaining:    remaining,
		CanDayTrade:        remaining > 0,
		WeekStart:          anchor,
		RecentTrades:       recent,
		PendingAllocations: t.alloc.Pending(),
		EmergencyReserve:   t.cfg.EmergencyReserve,
		RiskRules:          t.cfg.Risk,
	}
}

// Rules returns the configured exposure rule set.
func (t *Tracker) Rules() allocator.RiskRules {
	return t.cfg.Risk
}

func (t *Tracker) appendLedgerLocked(req domain.TradeRequest, emergency bool) {
	now := t.now()
	t.ledger = append(t.ledger, ledgerEntry{
		DayTrade: domain.DayTrade{
			Symbol:    req.Signal.Symbol,
			OpenTime:  now,
			CloseTime: now, // stamped on position close
			Strategy:  req.Signal.Strategy,
		},
		Emergency: emergency,
	})
}

func (t *Tracker) isEmergencyExit(req domain.TradeRequest) bool {
	return req.Signal.Action == domain.ActionSell && req.Signal.Metadata.StopLoss()
}

func (t *Tracker) ordinaryLimit() int {
	limit := t.cfg.WeeklyLimit - t.cfg.EmergencyReserve
	if limit < 0 {
		return 0
	}
	return limit
}

func (t *Tracker) ordinaryUsedLocked() int {
	used := 0
	for _, e := range t.ledger {
		if !e.Emergency {
			used++
		}
	}
	return used
}

// rolloverLocked drops every ledger entry older than the current week
// boundary once the boundary has advanced. Hard reset, not a sliding
// window.
func (t *Tracker) rolloverLocked() {
	boundary := t.weekStart(t.now())
	if !boundary.After(t.weekAnchor) {
		return
	}

	kept := t.ledger[:0]
	for _, e := range t.ledger {
		if !e.OpenTime.Before(boundary) {
			kept = append(kept, e)
		}
	}
	dropped := len(t.ledger) - len(kept)
	t.ledger = kept
	t.weekAnchor = boundary

	t.log.Info().
		Time("week_start", boundary).
		Int("dropped", dropped).
		Msg("week boundary rollover")
}

// weekStart returns midnight on Monday of ts's calendar week.
func (t *Tracker) weekStart(ts time.Time) time.Time {
	midnight := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, ts.Location())
	offset := int(ts.Weekday()) - int(time.Monday)
	if offset < 0 {
		offset += 7 // Sunday belongs to the week that started six days back
	}
	return midnight.AddDate(0, 0, -offset)
}
