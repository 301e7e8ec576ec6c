package indicators

import (
	"context"
	"errors"
)

// ErrInsufficientData is returned when a series is shorter than an indicator needs.
var ErrInsufficientData = errors.New("not enough price data")

// Indicator computes a single value from a price series ordered oldest first.
type Indicator interface {
	// Calculate computes the indicator value for the latest point of prices.
	Calculate(ctx context.Context, prices []float64) (float64, error)

	// RequiredDataPoints returns the minimum series length needed.
	RequiredDataPoints() int

	// Name returns the name of the indicator
	Name() string
}

// IndicatorConfig holds common configuration for indicators
type IndicatorConfig struct {
	Period int
}

// BaseIndicator provides common functionality for indicators
type BaseIndicator struct {
	Config IndicatorConfig
}

// RequiredDataPoints returns the minimum number of prices needed for calculation
func (b *BaseIndicator) RequiredDataPoints() int {
	return b.Config.Period
}
