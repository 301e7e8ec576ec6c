package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"paperTrader/internal/domain"
	"paperTrader/internal/paper"
	"paperTrader/internal/ports"
	"paperTrader/internal/risk"
)

// RunnerConfig holds the strategy runner settings.
type RunnerConfig struct {
	OrderQuantity float64 // Fixed quantity per entry; 0 sizes from the risk manager
	HistorySize   int
}

// StrategyRunner keeps a price history per symbol and turns strategy
// decisions into engine orders. It is driven either by the service's event
// loop or directly by a replay.
type StrategyRunner struct {
	cfg      RunnerConfig
	engine   *paper.Engine
	strategy ports.Strategy
	risk     *risk.Manager
	logger   ports.Logger

	mu      sync.Mutex
	history map[string][]float64
}

// NewStrategyRunner creates a runner. HistorySize is raised to what the strategy needs.
func NewStrategyRunner(cfg RunnerConfig, engine *paper.Engine, strategy ports.Strategy, riskManager *risk.Manager, logger ports.Logger) (*StrategyRunner, error) {
	if engine == nil || strategy == nil || riskManager == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for StrategyRunner")
	}
	if cfg.OrderQuantity < 0 {
		return nil, fmt.Errorf("%w: order quantity must not be negative", ports.ErrConfigurationError)
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	if need := strategy.RequiredDataPoints(); cfg.HistorySize < need {
		cfg.HistorySize = need
	}
	return &StrategyRunner{
		cfg:      cfg,
		engine:   engine,
		strategy: strategy,
		risk:     riskManager,
		logger:   logger,
		history:  make(map[string][]float64),
	}, nil
}

// OnTick records the price and acts on the strategy's decision for the tick's symbol.
// The engine must already have processed the tick.
func (r *StrategyRunner) OnTick(ctx context.Context, tick domain.Tick) {
	op := "StrategyRunner.OnTick"
	prices := r.recordPrice(tick)
	if len(prices) < r.strategy.RequiredDataPoints() {
		return
	}

	data := domain.MarketData{
		Symbol:    tick.Symbol,
		Price:     tick.Price,
		Timestamp: tick.Timestamp,
		Prices:    prices,
	}
	pos, hasPos := r.position(tick.Symbol)
	if hasPos {
		data.HasPosition = true
		data.PositionSide = pos.Side
		data.EntryPrice = pos.EntryPrice
	}

	decision, err := r.strategy.Analyze(ctx, data, nil)
	if err != nil {
		r.logger.Warn(ctx, op+": strategy analysis failed", map[string]interface{}{"symbol": tick.Symbol, "error": err.Error()})
		return
	}
	if decision == nil || decision.Action == domain.ActionHold {
		return
	}

	switch decision.Action {
	case domain.ActionBuy, domain.ActionSell:
		if hasPos {
			return
		}
		r.enterPosition(ctx, tick, decision)
	case domain.ActionClose:
		if !hasPos {
			return
		}
		r.closePosition(ctx, pos, decision)
	}
}

// recordPrice appends the tick price and returns a copy of the trimmed history.
func (r *StrategyRunner) recordPrice(tick domain.Tick) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := append(r.history[tick.Symbol], tick.Price)
	if len(h) > r.cfg.HistorySize {
		h = append(h[:0:0], h[len(h)-r.cfg.HistorySize:]...)
	}
	r.history[tick.Symbol] = h
	return append([]float64(nil), h...)
}

func (r *StrategyRunner) position(symbol string) (domain.Position, bool) {
	for _, p := range r.engine.Positions() {
		if p.Symbol == symbol {
			return p, true
		}
	}
	return domain.Position{}, false
}

func (r *StrategyRunner) enterPosition(ctx context.Context, tick domain.Tick, decision *domain.Decision) {
	op := "StrategyRunner.enterPosition"
	side := domain.Buy
	posSide := domain.SideLong
	if decision.Action == domain.ActionSell {
		side = domain.Sell
		posSide = domain.SideShort
	}

	qty := r.cfg.OrderQuantity
	if qty == 0 {
		qty = r.risk.GetPositionSize(r.engine.GetBalance().Equity, tick.Price)
	}
	if qty <= 0 {
		r.logger.Warn(ctx, op+": computed quantity is zero, skipping entry", map[string]interface{}{"symbol": tick.Symbol})
		return
	}

	order, err := r.engine.PlaceOrder(ctx, paper.PlaceOrderRequest{
		Symbol:       tick.Symbol,
		Type:         domain.OrderTypeMarket,
		Side:         side,
		Quantity:     qty,
		Price:        tick.Price,
		StrategyName: r.strategy.Name(),
		Reason:       decision.Reason,
		StopLoss:     r.risk.GetStopLoss(tick.Price, posSide),
		TakeProfit:   r.risk.GetTakeProfit(tick.Price, posSide),
	})
	if err != nil {
		var rej *paper.RejectionError
		if errors.As(err, &rej) {
			r.logger.Info(ctx, op+": entry rejected", map[string]interface{}{"symbol": tick.Symbol, "reason": rej.Reason})
			return
		}
		r.logger.Error(ctx, err, op+": failed to place entry order", map[string]interface{}{"symbol": tick.Symbol})
		return
	}
	r.logger.Info(ctx, op+": entered position", map[string]interface{}{
		"symbol":     tick.Symbol,
		"side":       string(side),
		"quantity":   qty,
		"fillPrice":  order.AvgFillPrice,
		"confidence": decision.Confidence,
		"reason":     decision.Reason,
	})
}

func (r *StrategyRunner) closePosition(ctx context.Context, pos domain.Position, decision *domain.Decision) {
	op := "StrategyRunner.closePosition"
	pnl, err := r.engine.ClosePosition(ctx, paper.ClosePositionRequest{
		PositionID: pos.ID,
		Reason:     domain.ExitReasonStrategy,
	})
	if err != nil {
		// SL/TP can close the position between the snapshot and this call.
		if errors.Is(err, ports.ErrPositionNotFound) {
			return
		}
		r.logger.Error(ctx, err, op+": failed to close position", map[string]interface{}{"positionID": pos.ID})
		return
	}
	r.logger.Info(ctx, op+": closed position", map[string]interface{}{
		"symbol":      pos.Symbol,
		"realizedPnL": pnl,
		"reason":      decision.Reason,
	})
}
