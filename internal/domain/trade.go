package domain

import "time"

// ClosedTrade is the immutable record of a position from entry to exit.
type ClosedTrade struct {
	ID           string       `json:"id"`
	PositionID   string       `json:"positionId"`
	Symbol       string       `json:"symbol"`
	Side         PositionSide `json:"side"`
	EntryPrice   float64      `json:"entryPrice"`
	ExitPrice    float64      `json:"exitPrice"`
	Quantity     float64      `json:"quantity"`
	EntryTime    time.Time    `json:"entryTime"`
	ExitTime     time.Time    `json:"exitTime"`
	PnL          float64      `json:"pnl"`
	PnLPercent   float64      `json:"pnlPercent"`
	Fees         float64      `json:"fees"`
	Slippage     float64      `json:"slippage"`
	EntryOrderID string       `json:"entryOrderId"`
	ExitOrderID  string       `json:"exitOrderId"`
	ExitReason   ExitReason   `json:"exitReason"`
	StrategyName string       `json:"strategyName,omitempty"`
}

// HoldingTime returns how long the position was open.
func (t ClosedTrade) HoldingTime() time.Duration {
	return t.ExitTime.Sub(t.EntryTime)
}
