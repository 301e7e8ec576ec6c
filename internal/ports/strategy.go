package ports

import (
	"context"

	"paperTrader/internal/domain"
)

// Strategy turns market data and optional external signals into a decision.
// A nil decision means there is nothing to do.
type Strategy interface {
	Name() string
	// RequiredDataPoints returns the minimum price history length the strategy needs.
	RequiredDataPoints() int
	Analyze(ctx context.Context, data domain.MarketData, signals []domain.Signal) (*domain.Decision, error)
}
