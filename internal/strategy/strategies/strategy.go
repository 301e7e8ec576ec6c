package strategies

import (
	"paperTrader/internal/ports"
)

// BaseStrategy provides common functionality for strategies
type BaseStrategy struct {
	name   string
	logger ports.Logger
}

// NewBaseStrategy creates a new base strategy instance
func NewBaseStrategy(name string, logger ports.Logger) *BaseStrategy {
	return &BaseStrategy{
		name:   name,
		logger: logger,
	}
}

// Name returns the name of the strategy
func (b *BaseStrategy) Name() string {
	return b.name
}
