package domain

import "time"

// TradeRequest wraps a signal with execution intent. Created by the
// execution collaborator when it receives a signal; immutable.
type TradeRequest struct {
	Signal        Signal
	IsDayTrade    bool
	RequestedSize float64 // position value sized by the risk rules
}

// TradeApproval is the admission decision for a trade request.
// Produced exactly once per request per cycle.
type TradeApproval struct {
	Request  TradeRequest
	Approved bool
	Reason   string
}

// DayTrade is a ledger entry counted against the weekly limit.
// CloseTime == OpenTime means the position has not been closed yet.
type DayTrade struct {
	Symbol    string
	OpenTime  time.Time
	CloseTime time.Time
	Strategy  string
}

// Closed reports whether the entry's position has been closed.
func (t DayTrade) Closed() bool {
	return !t.CloseTime.Equal(t.OpenTime)
}

// Position status values as persisted.
const (
	PositionStatusOpen   = "open"
	PositionStatusClosed = "closed"
)

// Position is a persisted position row.
type Position struct {
	ID           int64
	Symbol       string
	Quantity     float64
	EntryPrice   float64
	CurrentPrice float64
	UnrealizedPL float64
	RealizedPL   float64
	Strategy     string
	Status       string
	OrderID      string // execution reference from the broker collaborator
	ClosedAt     *time.Time
	CreatedAt    time.Time
}

// MarketData is one observation of a symbol, fed to strategies by the
// market-data collaborator.
type MarketData struct {
	Symbol       string
	Timestamp    time.Time
	CurrentPrice float64
	Volume       float64
	High         float64
	Low          float64
	Open         float64
	Close        float64
	Indicators   map[string]float64
}
