package indicators

import (
	"context"
	"fmt"
)

// MovingAverageType defines the type of moving average
type MovingAverageType string

const (
	SimpleMovingAverage      MovingAverageType = "SMA"
	ExponentialMovingAverage MovingAverageType = "EMA"
)

// MovingAverageConfig holds configuration for moving average indicators
type MovingAverageConfig struct {
	IndicatorConfig
	Type MovingAverageType
}

// MovingAverage implements both SMA and EMA indicators
type MovingAverage struct {
	BaseIndicator
	maType MovingAverageType
}

// NewMovingAverage creates a new moving average indicator instance
func NewMovingAverage(config MovingAverageConfig) *MovingAverage {
	return &MovingAverage{
		BaseIndicator: BaseIndicator{Config: config.IndicatorConfig},
		maType:        config.Type,
	}
}

// Name returns the name of the indicator
func (m *MovingAverage) Name() string {
	return fmt.Sprintf("%s(%d)", m.maType, m.Config.Period)
}

// Calculate computes the moving average over the latest prices.
func (m *MovingAverage) Calculate(ctx context.Context, prices []float64) (float64, error) {
	if m.Config.Period <= 0 {
		return 0, fmt.Errorf("invalid moving average period %d", m.Config.Period)
	}
	if len(prices) < m.Config.Period {
		return 0, fmt.Errorf("%w: %d prices for %s", ErrInsufficientData, len(prices), m.Name())
	}
	switch m.maType {
	case SimpleMovingAverage:
		return SMA(prices, m.Config.Period), nil
	case ExponentialMovingAverage:
		return EMA(prices, m.Config.Period), nil
	default:
		return 0, fmt.Errorf("unsupported moving average type: %s", m.maType)
	}
}

// SMA averages the last period prices. The caller guarantees len(prices) >= period > 0.
func SMA(prices []float64, period int) float64 {
	total := 0.0
	for _, p := range prices[len(prices)-period:] {
		total += p
	}
	return total / float64(period)
}

// EMA seeds with the SMA of the first period prices and smooths the rest.
func EMA(prices []float64, period int) float64 {
	multiplier := 2.0 / float64(period+1)
	ema := SMA(prices[:period], period)
	for _, p := range prices[period:] {
		ema = (p-ema)*multiplier + ema
	}
	return ema
}
