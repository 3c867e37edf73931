package domain

import "time"

// Action is the direction a strategy wants to take on a symbol.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// Signal is a trading signal emitted by a strategy. Immutable once emitted.
type Signal struct {
	Strategy        string    // strategy identifier
	Symbol          string    // ticker symbol
	Action          Action    // buy | sell | hold
	Confidence      float64   // [0, 1]
	EstimatedProfit float64   // fractional expected return
	Metadata        Metadata  // optional free-form context
	CreatedAt       time.Time // emission timestamp
}

// Metadata carries optional signal context such as exit markers.
type Metadata map[string]any

// StopLoss reports whether the signal is marked as a loss-cutting exit.
func (m Metadata) StopLoss() bool {
	if m == nil {
		return false
	}
	v, ok := m["stop_loss"].(bool)
	return ok && v
}

// DayTrade reports whether the signal expects a same-day exit. Signals
// without the marker count as day trades, the conservative reading for
// the weekly limit.
func (m Metadata) DayTrade() bool {
	if m == nil {
		return true
	}
	if v, ok := m["day_trade"].(bool); ok {
		return v
	}
	return true
}
