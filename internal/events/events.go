// Package events provides the in-process typed publish/subscribe
// dispatcher that decouples signal generation from allocation and
// execution. Delivery is synchronous, in-memory and at-most-once:
// there is no persistence and no replay.
package events

import (
	"time"

	"daytrade-core/internal/domain"
)

// Topic enumerates the event types flowing through the dispatcher.
type Topic string

const (
	TopicSignalGenerated   Topic = "signal.generated"
	TopicDayTradeRequested Topic = "day_trade.requested"
	TopicDayTradeApproved  Topic = "day_trade.approved"
	TopicPositionOpened    Topic = "position.opened"
	TopicPositionClosed    Topic = "position.closed"
	TopicMarketData        Topic = "market_data.received"
)

// Event is the closed set of dispatcher payloads. Each topic has exactly
// one payload shape; publishing routes on the payload's Topic.
type Event interface {
	Topic() Topic
}

// SignalGenerated carries a freshly emitted strategy signal.
type SignalGenerated struct {
	Signal domain.Signal
}

func (SignalGenerated) Topic() Topic { return TopicSignalGenerated }

// DayTradeRequested asks the compliance tracker for admission.
type DayTradeRequested struct {
	Request domain.TradeRequest
}

func (DayTradeRequested) Topic() Topic { return TopicDayTradeRequested }

// DayTradeApproved carries the admission decision back to execution.
type DayTradeApproved struct {
	Approval domain.TradeApproval
}

func (DayTradeApproved) Topic() Topic { return TopicDayTradeApproved }

// PositionOpened is emitted after the execution collaborator opens a position.
type PositionOpened struct {
	Symbol    string
	Size      float64
	Price     float64
	OrderID   string
	Timestamp time.Time
}

func (PositionOpened) Topic() Topic { return TopicPositionOpened }

// PositionClosed is emitted when a position closes; the compliance
// tracker uses it to stamp the matching ledger entry.
type PositionClosed struct {
	Symbol    string
	Size      float64
	Price     float64
	OrderID   string
	Timestamp time.Time
}

func (PositionClosed) Topic() Topic { return TopicPositionClosed }

// MarketData triggers one analysis pass in the engine.
type MarketData struct {
	Data domain.MarketData
}

func (MarketData) Topic() Topic { return TopicMarketData }
