package risk

import (
	"fmt"
	"math"

	"paperTrader/internal/domain"
	"paperTrader/internal/ports"
)

// Config holds the risk limits applied to new exposure.
type Config struct {
	MaxOpenPositions       int     // 0 = unlimited
	MaxPositionSizePercent float64 // fraction of equity per order, 0 = unlimited
	PositionSizePercent    float64 // fraction of equity a strategy order should use
	StopLossPercent        float64
	TakeProfitPercent      float64
}

// Manager evaluates position limits and derives protective price levels.
// It holds no state; callers pass in the account snapshot.
type Manager struct {
	config Config
}

// NewManager creates a new risk manager instance.
func NewManager(config Config) *Manager {
	return &Manager{config: config}
}

// Config returns the configured limits.
func (r *Manager) Config() Config {
	return r.config
}

// CheckNewPosition validates whether an order opening new exposure of orderValue
// may be placed given current equity and the number of open positions.
// The returned error wraps ports.ErrPositionSizeLimit or ports.ErrMaxPositions.
func (r *Manager) CheckNewPosition(orderValue, equity float64, openPositions int) error {
	if r.config.MaxPositionSizePercent > 0 {
		if equity <= 0 {
			return fmt.Errorf("%w: equity is %.2f", ports.ErrPositionSizeLimit, equity)
		}
		if share := orderValue / equity; share > r.config.MaxPositionSizePercent {
			return fmt.Errorf("%w: order value %.2f is %.2f%% of equity, maximum is %.2f%%",
				ports.ErrPositionSizeLimit, orderValue, share*100, r.config.MaxPositionSizePercent*100)
		}
	}

	if r.config.MaxOpenPositions > 0 && openPositions >= r.config.MaxOpenPositions {
		return fmt.Errorf("%w: %d open positions, maximum is %d",
			ports.ErrMaxPositions, openPositions, r.config.MaxOpenPositions)
	}

	return nil
}

// GetPositionSize calculates the quantity to trade given equity and price.
// Returns 0 when sizing is not configured or price is not positive.
func (r *Manager) GetPositionSize(equity, price float64) float64 {
	if r.config.PositionSizePercent <= 0 || price <= 0 || equity <= 0 {
		return 0
	}
	size := equity * r.config.PositionSizePercent / price
	if r.config.MaxPositionSizePercent > 0 {
		size = math.Min(size, equity*r.config.MaxPositionSizePercent/price)
	}
	return size
}

// GetStopLoss calculates the stop loss price for a position. Returns 0 when disabled.
func (r *Manager) GetStopLoss(entryPrice float64, side domain.PositionSide) float64 {
	if r.config.StopLossPercent <= 0 {
		return 0
	}
	if side == domain.SideShort {
		return entryPrice * (1 + r.config.StopLossPercent)
	}
	return entryPrice * (1 - r.config.StopLossPercent)
}

// GetTakeProfit calculates the take profit price for a position. Returns 0 when disabled.
func (r *Manager) GetTakeProfit(entryPrice float64, side domain.PositionSide) float64 {
	if r.config.TakeProfitPercent <= 0 {
		return 0
	}
	if side == domain.SideShort {
		return entryPrice * (1 - r.config.TakeProfitPercent)
	}
	return entryPrice * (1 + r.config.TakeProfitPercent)
}
