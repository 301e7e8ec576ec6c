package analytics

import (
	"math"
	"sort"
	"time"

	"paperTrader/internal/domain"
)

// PerformanceMetrics holds performance metrics derived from closed trades
type PerformanceMetrics struct {
	// Basic Metrics
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64
	TotalProfit   float64
	GrossProfit   float64
	GrossLoss     float64 // positive magnitude
	ProfitFactor  float64
	AverageWin    float64
	AverageLoss   float64 // negative or zero
	LargestWin    float64
	LargestLoss   float64 // negative or zero
	TotalFees     float64
	TotalSlippage float64
	FinalBalance  float64
	ReturnPercent float64

	// Advanced Metrics
	SharpeRatio          float64
	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	AverageHoldingTime   time.Duration
	Expectancy           float64
	MaxDrawdown          float64 // over the realized-balance curve
	MonthlyReturns       map[string]float64
	EquityCurve          []EquityPoint
}

// EquityPoint represents a point on the realized equity curve
type EquityPoint struct {
	Time     time.Time
	Value    float64
	Drawdown float64
}

// AnalyzePerformance calculates performance metrics from closed trades.
// The input slice is not modified.
func AnalyzePerformance(trades []domain.ClosedTrade, initialBalance float64) *PerformanceMetrics {
	metrics := &PerformanceMetrics{
		FinalBalance:   initialBalance,
		MonthlyReturns: make(map[string]float64),
		EquityCurve:    make([]EquityPoint, 0, len(trades)),
	}

	if len(trades) == 0 {
		return metrics
	}

	ordered := make([]domain.ClosedTrade, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ExitTime.Before(ordered[j].ExitTime)
	})

	currentBalance := initialBalance
	peakBalance := initialBalance
	var consecutiveWins, consecutiveLosses int
	var totalDuration time.Duration
	returns := make([]float64, 0, len(ordered))

	for _, trade := range ordered {
		metrics.TotalTrades++
		metrics.TotalFees += trade.Fees
		metrics.TotalSlippage += trade.Slippage
		totalDuration += trade.HoldingTime()
		returns = append(returns, trade.PnLPercent)

		if trade.PnL > 0 {
			metrics.WinningTrades++
			metrics.GrossProfit += trade.PnL
			metrics.LargestWin = math.Max(metrics.LargestWin, trade.PnL)
			consecutiveWins++
			consecutiveLosses = 0
		} else {
			metrics.LosingTrades++
			metrics.GrossLoss += -trade.PnL
			metrics.LargestLoss = math.Min(metrics.LargestLoss, trade.PnL)
			consecutiveLosses++
			consecutiveWins = 0
		}
		if consecutiveWins > metrics.MaxConsecutiveWins {
			metrics.MaxConsecutiveWins = consecutiveWins
		}
		if consecutiveLosses > metrics.MaxConsecutiveLosses {
			metrics.MaxConsecutiveLosses = consecutiveLosses
		}

		currentBalance += trade.PnL
		metrics.TotalProfit += trade.PnL
		metrics.MonthlyReturns[trade.ExitTime.Format("2006-01")] += trade.PnL

		if currentBalance > peakBalance {
			peakBalance = currentBalance
		}
		var drawdown float64
		if peakBalance > 0 {
			drawdown = (peakBalance - currentBalance) / peakBalance
		}
		metrics.MaxDrawdown = math.Max(metrics.MaxDrawdown, drawdown)

		metrics.EquityCurve = append(metrics.EquityCurve, EquityPoint{
			Time:     trade.ExitTime,
			Value:    currentBalance,
			Drawdown: drawdown,
		})
	}

	metrics.FinalBalance = currentBalance
	metrics.WinRate = float64(metrics.WinningTrades) / float64(metrics.TotalTrades)
	if metrics.WinningTrades > 0 {
		metrics.AverageWin = metrics.GrossProfit / float64(metrics.WinningTrades)
	}
	if metrics.LosingTrades > 0 {
		metrics.AverageLoss = -metrics.GrossLoss / float64(metrics.LosingTrades)
	}
	metrics.ProfitFactor = ProfitFactor(metrics.GrossProfit, metrics.GrossLoss)
	if initialBalance > 0 {
		metrics.ReturnPercent = (currentBalance - initialBalance) / initialBalance * 100
	}
	metrics.AverageHoldingTime = totalDuration / time.Duration(len(ordered))
	metrics.Expectancy = metrics.WinRate*metrics.AverageWin + (1-metrics.WinRate)*metrics.AverageLoss
	metrics.SharpeRatio = SharpeRatio(returns)

	return metrics
}

// ProfitFactor returns gross profit over gross loss. With no losses it is +Inf
// when there was any profit and 0 otherwise.
func ProfitFactor(grossProfit, grossLoss float64) float64 {
	if grossLoss == 0 {
		if grossProfit > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return grossProfit / grossLoss
}

// SharpeRatio is the mean over the sample standard deviation of per-trade returns.
// Not annualized. Returns 0 with fewer than two samples or zero deviation.
func SharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	stdDev := math.Sqrt(variance / float64(len(returns)-1))
	if stdDev == 0 {
		return 0
	}
	return mean / stdDev
}

// GetMonthlyReturns returns the monthly returns as a sorted slice
func (m *PerformanceMetrics) GetMonthlyReturns() []MonthlyReturn {
	returns := make([]MonthlyReturn, 0, len(m.MonthlyReturns))
	for month, profit := range m.MonthlyReturns {
		date, _ := time.Parse("2006-01", month)
		returns = append(returns, MonthlyReturn{
			Month:  date,
			Return: profit,
		})
	}
	sort.Slice(returns, func(i, j int) bool {
		return returns[i].Month.Before(returns[j].Month)
	})
	return returns
}

// MonthlyReturn represents a monthly return value
type MonthlyReturn struct {
	Month  time.Time
	Return float64
}
