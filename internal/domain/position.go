package domain

import "time"

// Position is an open simulated position. It is tied 1:1 to the order that opened it.
//
// MarketValue is signed: positive for long, negative for short, so that account
// equity is always cash plus the sum of market values.
type Position struct {
	ID                   string       `json:"id"`
	OrderID              string       `json:"orderId"`
	Symbol               string       `json:"symbol"`
	Side                 PositionSide `json:"side"`
	EntryPrice           float64      `json:"entryPrice"`
	EntryTime            time.Time    `json:"entryTime"`
	Quantity             float64      `json:"quantity"`
	EntryFees            float64      `json:"entryFees"`
	EntrySlippage        float64      `json:"entrySlippage"`
	CurrentPrice         float64      `json:"currentPrice"`
	MarketValue          float64      `json:"marketValue"`
	UnrealizedPnL        float64      `json:"unrealizedPnl"`
	UnrealizedPnLPercent float64      `json:"unrealizedPnlPercent"`
	StopLoss             float64      `json:"stopLoss,omitempty"`
	TakeProfit           float64      `json:"takeProfit,omitempty"`
	StrategyName         string       `json:"strategyName,omitempty"`

	// Collateral is the cash locked while a short position is open.
	Collateral float64 `json:"collateral,omitempty"`
}

// CostBasis returns quantity × entry price.
func (p *Position) CostBasis() float64 {
	return p.Quantity * p.EntryPrice
}

// StopLossHit reports whether price crosses the stop-loss threshold.
func (p *Position) StopLossHit(price float64) bool {
	if p.StopLoss <= 0 {
		return false
	}
	if p.Side == SideShort {
		return price >= p.StopLoss
	}
	return price <= p.StopLoss
}

// TakeProfitHit reports whether price crosses the take-profit threshold.
func (p *Position) TakeProfitHit(price float64) bool {
	if p.TakeProfit <= 0 {
		return false
	}
	if p.Side == SideShort {
		return price <= p.TakeProfit
	}
	return price >= p.TakeProfit
}

// ClosingSide returns the order side that closes the position.
func (p *Position) ClosingSide() OrderSide {
	if p.Side == SideShort {
		return Buy
	}
	return Sell
}
