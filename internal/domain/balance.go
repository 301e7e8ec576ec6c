package domain

import (
	"encoding/json"
	"math"
	"time"
)

// Balance is a derived snapshot of the account. It is never stored.
type Balance struct {
	Currency       string    `json:"currency"`
	InitialBalance float64   `json:"initialBalance"`
	Cash           float64   `json:"cash"`
	LockedCash     float64   `json:"lockedCash"`
	AvailableCash  float64   `json:"availableCash"`
	Equity         float64   `json:"equity"`
	UnrealizedPnL  float64   `json:"unrealizedPnl"`
	RealizedPnL    float64   `json:"realizedPnl"`
	PeakEquity     float64   `json:"peakEquity"`
	Drawdown       float64   `json:"drawdown"`
	OpenPositions  int       `json:"openPositions"`
	Timestamp      time.Time `json:"timestamp"`
}

// PaperTradingStats aggregates performance over the closed trade history.
type PaperTradingStats struct {
	TotalTrades          int           `json:"totalTrades"`
	WinningTrades        int           `json:"winningTrades"`
	LosingTrades         int           `json:"losingTrades"`
	WinRate              float64       `json:"winRate"`
	AverageWin           float64       `json:"averageWin"`
	AverageLoss          float64       `json:"averageLoss"`
	LargestWin           float64       `json:"largestWin"`
	LargestLoss          float64       `json:"largestLoss"`
	GrossProfit          float64       `json:"grossProfit"`
	GrossLoss            float64       `json:"grossLoss"`
	ProfitFactor         float64       `json:"profitFactor"` // +Inf when there are no losing trades
	TotalPnL             float64       `json:"totalPnl"`
	TotalFees            float64       `json:"totalFees"`
	TotalSlippage        float64       `json:"totalSlippage"`
	SharpeRatio          float64       `json:"sharpeRatio"`
	MaxDrawdown          float64       `json:"maxDrawdown"`
	MaxConsecutiveWins   int           `json:"maxConsecutiveWins"`
	MaxConsecutiveLosses int           `json:"maxConsecutiveLosses"`
	AverageHoldingTime   time.Duration `json:"averageHoldingTime"`
	InitialBalance       float64       `json:"initialBalance"`
	CurrentEquity        float64       `json:"currentEquity"`
	ReturnPercent        float64       `json:"returnPercent"`
}

// MarshalJSON encodes an infinite profit factor as null since JSON has no infinity.
func (s PaperTradingStats) MarshalJSON() ([]byte, error) {
	type alias PaperTradingStats
	out := struct {
		alias
		ProfitFactor *float64 `json:"profitFactor"`
	}{alias: alias(s)}
	if !math.IsInf(s.ProfitFactor, 0) && !math.IsNaN(s.ProfitFactor) {
		pf := s.ProfitFactor
		out.ProfitFactor = &pf
	}
	return json.Marshal(out)
}
