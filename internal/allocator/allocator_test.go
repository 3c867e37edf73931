package allocator

import (
	"fmt"
	"math"
	"testing"

	"github.com/rs/zerolog"

	"daytrade-core/internal/domain"
)

func request(strategy string, confidence, estProfit float64) domain.TradeRequest {
	return domain.TradeRequest{
		Signal: domain.Signal{
			Strategy:        strategy,
			Symbol:          "AAPL",
			Action:          domain.ActionBuy,
			Confidence:      confidence,
			EstimatedProfit: estProfit,
		},
		IsDayTrade: true,
	}
}

func TestScheduleWeeklyBatchPicksTopScores(t *testing.T) {
	a := New(zerolog.Nop())

	// All confidences 1.0 and no history, so scores are the estimated
	// profits scaled by the neutral factor: order is 90, 50, 30, 10, 5.
	profits := []float64{10, 50, 5, 90, 30}
	for i, p := range profits {
		a.RequestAllocation(request(fmt.Sprintf("s%d", i), 1.0, p))
	}

	decisions := a.ScheduleWeeklyBatch(2)
	if len(decisions) != 5 {
		t.Fatalf("got %d decisions, want 5", len(decisions))
	}

	wantApproved := map[string]bool{"s3": true, "s1": true} // profits 90 and 50
	for _, d := range decisions {
		if wantApproved[d.Request.Signal.Strategy] != d.Approved {
			t.Errorf("strategy %s approved=%v, want %v",
				d.Request.Signal.Strategy, d.Approved, wantApproved[d.Request.Signal.Strategy])
		}
		if d.Approved && d.Reason != ReasonBatchWinner {
			t.Errorf("approved reason = %q, want %q", d.Reason, ReasonBatchWinner)
		}
		if !d.Approved && d.Reason != ReasonNotInTopN {
			t.Errorf("rejected reason = %q, want %q", d.Reason, ReasonNotInTopN)
		}
	}
}

func TestScheduleWeeklyBatchClearsQueue(t *testing.T) {
	a := New(zerolog.Nop())

	for i := 0; i < 4; i++ {
		a.RequestAllocation(request(fmt.Sprintf("s%d", i), 0.5, 10))
	}
	a.ScheduleWeeklyBatch(1)

	if got := a.Pending(); got != 0 {
		t.Errorf("pending after batch = %d, want 0", got)
	}
	if decisions := a.ScheduleWeeklyBatch(1); decisions != nil {
		t.Errorf("second batch returned %d decisions, want none", len(decisions))
	}
}

func TestScheduleWeeklyBatchNoSlots(t *testing.T) {
	a := New(zerolog.Nop())

	a.RequestAllocation(request("s1", 0.9, 10))
	a.RequestAllocation(request("s2", 0.8, 10))

	decisions := a.ScheduleWeeklyBatch(0)
	if len(decisions) != 2 {
		t.Fatalf("got %d decisions, want 2", len(decisions))
	}
	for _, d := range decisions {
		if d.Approved {
			t.Errorf("strategy %s approved with zero slots", d.Request.Signal.Strategy)
		}
		if d.Reason != ReasonNoSlots {
			t.Errorf("reason = %q, want %q", d.Reason, ReasonNoSlots)
		}
	}
}

func TestScheduleWeeklyBatchTiesKeepArrivalOrder(t *testing.T) {
	a := New(zerolog.Nop())

	// Identical scores: arrival order must decide.
	a.RequestAllocation(request("first", 0.5, 10))
	a.RequestAllocation(request("second", 0.5, 10))
	a.RequestAllocation(request("third", 0.5, 10))

	decisions := a.ScheduleWeeklyBatch(2)
	if !decisions[0].Approved || decisions[0].Request.Signal.Strategy != "first" {
		t.Errorf("decision[0] = %s approved=%v, want first approved",
			decisions[0].Request.Signal.Strategy, decisions[0].Approved)
	}
	if !decisions[1].Approved || decisions[1].Request.Signal.Strategy != "second" {
		t.Errorf("decision[1] = %s approved=%v, want second approved",
			decisions[1].Request.Signal.Strategy, decisions[1].Approved)
	}
	if decisions[2].Approved {
		t.Error("third tied request approved over earlier arrivals")
	}
}

func TestSuccessFactorNeutralWithoutHistory(t *testing.T) {
	a := New(zerolog.Nop())

	if got := a.SuccessFactor("unknown"); got != neutralSuccessFactor {
		t.Errorf("factor = %v, want %v", got, neutralSuccessFactor)
	}
}

func TestSuccessFactorTracksWinRate(t *testing.T) {
	tests := []struct {
		name       string
		wins, loss int
		want       float64
	}{
		{"all wins", 4, 0, 1.5},
		{"all losses", 0, 4, 0.5},
		{"half", 2, 2, 1.0},
		{"quarter", 1, 3, 0.75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(zerolog.Nop())
			for i := 0; i < tt.wins; i++ {
				a.RecordOutcome("AAPL", "s", true, 10)
			}
			for i := 0; i < tt.loss; i++ {
				a.RecordOutcome("AAPL", "s", false, -5)
			}
			if got := a.SuccessFactor("s"); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("factor = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSuccessFactorShiftsRanking(t *testing.T) {
	a := New(zerolog.Nop())

	// Equal raw scores; history should break the tie in winner's favor.
	for i := 0; i < 3; i++ {
		a.RecordOutcome("AAPL", "winner", true, 10)
		a.RecordOutcome("AAPL", "loser", false, -10)
	}

	a.RequestAllocation(request("loser", 0.5, 10))
	a.RequestAllocation(request("winner", 0.5, 10))

	decisions := a.ScheduleWeeklyBatch(1)
	if decisions[0].Request.Signal.Strategy != "winner" || !decisions[0].Approved {
		t.Errorf("top decision = %s approved=%v, want winner approved",
			decisions[0].Request.Signal.Strategy, decisions[0].Approved)
	}
}

func TestRiskRulesPositionSize(t *testing.T) {
	rules := RiskRules{MaxPositionFraction: 0.02, MaxDailyLoss: 0.05, MaxOpenPositions: 10}

	if got := rules.PositionSize(100000); math.Abs(got-2000) > 1e-9 {
		t.Errorf("position size = %v, want 2000", got)
	}
	if got := rules.PositionSize(0); got != 0 {
		t.Errorf("position size for empty portfolio = %v, want 0", got)
	}
}

func TestRecordOutcomeAggregates(t *testing.T) {
	a := New(zerolog.Nop())

	a.RecordOutcome("AAPL", "s", true, 12.5)
	a.RecordOutcome("AAPL", "s", false, -4.5)
	a.RecordOutcome("AAPL", "s", true, 7)

	stats := a.Stats("s")
	if stats.Trades != 3 {
		t.Errorf("trades = %d, want 3", stats.Trades)
	}
	if stats.Wins != 2 {
		t.Errorf("wins = %d, want 2", stats.Wins)
	}
	if math.Abs(stats.TotalProfit-15) > 1e-9 {
		t.Errorf("total profit = %v, want 15", stats.TotalProfit)
	}
}
