// Package allocator decides which strategies get the scarce day-trade
// slots when demand exceeds the weekly limit.
//
// Requests are scored once, on enqueue, as
//
//	score = confidence × estimated profit × historical success factor
//
// where the historical success factor is 0.8 for a strategy with no
// recorded outcomes and otherwise clamp(0.5 + winRate, 0.1, 1.5). The
// clamp keeps a new strategy from being unfairly advantaged or buried
// relative to one with mixed history.
package allocator

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"daytrade-core/internal/domain"
)

// Historical success factor bounds.
const (
	neutralSuccessFactor = 0.8
	minSuccessFactor     = 0.1
	maxSuccessFactor     = 1.5
)

// Batch rejection reasons.
const (
	ReasonNotInTopN   = "not in top-N this week"
	ReasonNoSlots     = "no slots available"
	ReasonBatchWinner = "weekly batch allocation"
)

// RiskRules caps position exposure independently of the weekly
// day-trade limit. The rule set is reported through the compliance
// status surface and the position fraction sizes new trade requests.
type RiskRules struct {
	// MaxPositionFraction is the share of portfolio value a single
	// position may take.
	MaxPositionFraction float64 `yaml:"max_position_fraction" default:"0.02" validate:"gt=0,lte=1"`
	// MaxDailyLoss is the daily drawdown fraction that halts trading.
	MaxDailyLoss float64 `yaml:"max_daily_loss" default:"0.05" validate:"gt=0,lte=1"`
	// MaxOpenPositions bounds concurrent open positions.
	MaxOpenPositions int `yaml:"max_open_positions" default:"10" validate:"min=1"`
}

// PositionSize returns the largest position value the fraction rule
// allows for the given portfolio value.
func (r RiskRules) PositionSize(portfolioValue float64) float64 {
	return portfolioValue * r.MaxPositionFraction
}

// AllocationRequest is a queued trade request with its score. The score
// is set once on enqueue and never recomputed in place.
type AllocationRequest struct {
	Request domain.TradeRequest
	Score   float64
}

// StrategyStats aggregates recorded outcomes for one strategy.
type StrategyStats struct {
	Trades      int
	Wins        int
	TotalProfit float64
}

// WinRate returns wins/trades, zero with no history.
func (s StrategyStats) WinRate() float64 {
	if s.Trades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Trades)
}

// Allocator maintains the pending-request queue and per-strategy outcome
// history. Safe for concurrent use.
type Allocator struct {
	log zerolog.Logger

	mu      sync.Mutex
	pending []AllocationRequest
	history map[string]StrategyStats
}

// New creates an Allocator.
func New(log zerolog.Logger) *Allocator {
	return &Allocator{
		log:     log.With().Str("component", "allocator").Logger(),
		history: make(map[string]StrategyStats),
	}
}

// RequestAllocation scores and enqueues the request for the next weekly
// batch. The return value reports "queued, not decided" and is always
// true in the batch model; callers must not read it as an approval.
func (a *Allocator) RequestAllocation(req domain.TradeRequest) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	score := req.Signal.Confidence * req.Signal.EstimatedProfit * a.successFactorLocked(req.Signal.Strategy)
	a.pending = append(a.pending, AllocationRequest{Request: req, Score: score})

	a.log.Debug().
		Str("strategy", req.Signal.Strategy).
		Str("symbol", req.Signal.Symbol).
		Float64("score", score).
		Int("pending", len(a.pending)).
		Msg("allocation request queued")
	return true
}

// ScheduleWeeklyBatch ranks every pending request by score, descending,
// with ties broken by arrival order, approves the top availableSlots and
// rejects the rest. The pending queue is cleared unconditionally;
// unselected requests are not retried and the owning strategy must
// resubmit.
func (a *Allocator) ScheduleWeeklyBatch(availableSlots int) []domain.TradeApproval {
	a.mu.Lock()
	defer a.mu.Unlock()

	batch := a.pending
	a.pending = nil

	if len(batch) == 0 {
		return nil
	}

	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].Score > batch[j].Score
	})

	decisions := make([]domain.TradeApproval, 0, len(batch))
	for i, r := range batch {
		switch {
		case availableSlots <= 0:
			decisions = append(decisions, domain.TradeApproval{
				Request: r.Request, Approved: false, Reason: ReasonNoSlots,
			})
		case i < availableSlots:
			decisions = append(decisions, domain.TradeApproval{
				Request: r.Request, Approved: true, Reason: ReasonBatchWinner,
			})
		default:
			decisions = append(decisions, domain.TradeApproval{
				Request: r.Request, Approved: false, Reason: ReasonNotInTopN,
			})
		}
	}

	approved := availableSlots
	if approved < 0 {
		approved = 0
	}
	if approved > len(batch) {
		approved = len(batch)
	}
	a.log.Info().
		Int("requests", len(batch)).
		Int("slots", availableSlots).
		Int("approved", approved).
		Msg("weekly allocation batch")

	return decisions
}

// RecordOutcome folds a closed trade into the strategy's aggregates,
// shifting its historical success factor for future scoring. The
// symbol identifies the trade in logs; aggregates are per strategy.
func (a *Allocator) RecordOutcome(symbol, strategy string, wasProfitable bool, profit float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := a.history[strategy]
	stats.Trades++
	if wasProfitable {
		stats.Wins++
	}
	stats.TotalProfit += profit
	a.history[strategy] = stats

	a.log.Debug().
		Str("symbol", symbol).
		Str("strategy", strategy).
		Bool("profitable", wasProfitable).
		Float64("profit", profit).
		Msg("trade outcome recorded")
}

// Pending returns the number of requests awaiting the next batch.
func (a *Allocator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Stats returns the recorded aggregates for a strategy.
func (a *Allocator) Stats(strategy string) StrategyStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.history[strategy]
}

// SuccessFactor returns the bounded historical-success multiplier used
// for scoring the given strategy.
func (a *Allocator) SuccessFactor(strategy string) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.successFactorLocked(strategy)
}

func (a *Allocator) successFactorLocked(strategy string) float64 {
	stats, ok := a.history[strategy]
	if !ok || stats.Trades == 0 {
		return neutralSuccessFactor
	}
	f := 0.5 + stats.WinRate()
	if f < minSuccessFactor {
		f = minSuccessFactor
	}
	if f > maxSuccessFactor {
		f = maxSuccessFactor
	}
	return f
}
