package paper

import (
	"math"

	"paperTrader/internal/analytics"
	"paperTrader/internal/domain"
)

// StatsTracker is a read-only projection over the closed trade history and
// observed equity. It never mutates account or order state.
type StatsTracker struct {
	initialBalance float64
	trades         []domain.ClosedTrade
	peakEquity     float64
	currentEquity  float64
	maxDrawdown    float64
}

// NewStatsTracker creates a tracker starting from initialBalance.
func NewStatsTracker(initialBalance float64) *StatsTracker {
	return &StatsTracker{
		initialBalance: initialBalance,
		peakEquity:     initialBalance,
		currentEquity:  initialBalance,
	}
}

// RecordTrade appends a closed trade.
func (s *StatsTracker) RecordTrade(trade domain.ClosedTrade) {
	s.trades = append(s.trades, trade)
}

// RecordBalance samples equity for drawdown tracking.
func (s *StatsTracker) RecordBalance(b domain.Balance) {
	s.currentEquity = b.Equity
	s.peakEquity = math.Max(s.peakEquity, math.Max(b.PeakEquity, b.Equity))
	if s.peakEquity > 0 {
		s.maxDrawdown = math.Max(s.maxDrawdown, (s.peakEquity-b.Equity)/s.peakEquity)
	}
}

// Trades returns a copy of the closed trade history in close order.
func (s *StatsTracker) Trades() []domain.ClosedTrade {
	out := make([]domain.ClosedTrade, len(s.trades))
	copy(out, s.trades)
	return out
}

// Stats computes the aggregate statistics.
func (s *StatsTracker) Stats() domain.PaperTradingStats {
	m := analytics.AnalyzePerformance(s.trades, s.initialBalance)

	stats := domain.PaperTradingStats{
		TotalTrades:          m.TotalTrades,
		WinningTrades:        m.WinningTrades,
		LosingTrades:         m.LosingTrades,
		WinRate:              m.WinRate,
		AverageWin:           m.AverageWin,
		AverageLoss:          m.AverageLoss,
		LargestWin:           m.LargestWin,
		LargestLoss:          m.LargestLoss,
		GrossProfit:          m.GrossProfit,
		GrossLoss:            m.GrossLoss,
		ProfitFactor:         m.ProfitFactor,
		TotalPnL:             m.TotalProfit,
		TotalFees:            m.TotalFees,
		TotalSlippage:        m.TotalSlippage,
		SharpeRatio:          m.SharpeRatio,
		MaxDrawdown:          math.Max(s.maxDrawdown, m.MaxDrawdown),
		MaxConsecutiveWins:   m.MaxConsecutiveWins,
		MaxConsecutiveLosses: m.MaxConsecutiveLosses,
		AverageHoldingTime:   m.AverageHoldingTime,
		InitialBalance:       s.initialBalance,
		CurrentEquity:        s.currentEquity,
	}
	if s.initialBalance > 0 {
		stats.ReturnPercent = (s.currentEquity - s.initialBalance) / s.initialBalance * 100
	}
	return stats
}
