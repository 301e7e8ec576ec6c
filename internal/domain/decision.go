package domain

import "time"

// MarketData is the per-symbol view handed to a strategy on every tick.
type MarketData struct {
	Symbol       string
	Price        float64
	Timestamp    time.Time
	Prices       []float64 // oldest first, includes Price
	HasPosition  bool
	PositionSide PositionSide
	EntryPrice   float64
}

// Signal is an external scoring input (sentiment, screener, ...) passed through to strategies.
type Signal struct {
	Source     string
	Symbol     string
	Score      float64
	Confidence float64
	Timestamp  time.Time
}

// Action is what a strategy wants done for a symbol.
type Action string

const (
	ActionBuy   Action = "BUY"
	ActionSell  Action = "SELL"
	ActionClose Action = "CLOSE"
	ActionHold  Action = "HOLD"
)

// Decision is the outcome of a strategy analysis.
type Decision struct {
	Action     Action
	Symbol     string
	Confidence float64
	Reason     string
}
