package domain

import "time"

// EventKind names a decision-loop event handed to recorders.
type EventKind string

const (
	EventSignal   EventKind = "signal"
	EventEntry    EventKind = "entry"
	EventExit     EventKind = "exit"
	EventRedeem   EventKind = "redeem"
	EventSnapshot EventKind = "snapshot"
	EventError    EventKind = "error"
)

// Event is an immutable record of something the loop did. Exactly one of
// the pointer fields is set, matching Kind.
type Event struct {
	Kind      EventKind          `json:"kind"`
	At        time.Time          `json:"at"`
	MarketID  string             `json:"market_id,omitempty"`
	Message   string             `json:"message,omitempty"`
	Signal    *TradeSignal       `json:"signal,omitempty"`
	Position  *Position          `json:"position,omitempty"`
	Trade     *Trade             `json:"trade,omitempty"`
	Snapshot  *PortfolioSnapshot `json:"snapshot,omitempty"`
	Execution *Execution         `json:"-"`
}
