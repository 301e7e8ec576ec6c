package app

import (
	"context"
	"sort"

	"paperTrader/internal/domain"
	"paperTrader/internal/paper"
	"paperTrader/internal/ports"
)

// ReplayReport is the outcome of a replay run.
type ReplayReport struct {
	Ticks         int                      `json:"ticks"`
	Trades        []domain.ClosedTrade     `json:"trades"`
	OpenPositions []domain.Position        `json:"openPositions"`
	Balance       domain.Balance           `json:"balance"`
	Stats         domain.PaperTradingStats `json:"stats"`
}

// ReplayOptions controls a replay run.
type ReplayOptions struct {
	// CloseAtEnd closes every position still open after the last tick.
	CloseAtEnd bool
}

// Replay pushes ticks through the engine in timestamp order, letting runner
// (may be nil) act after each one. The engine should be built with
// paper.WithTickTime so trades carry historical timestamps.
func Replay(ctx context.Context, engine *paper.Engine, runner *StrategyRunner, ticks []domain.Tick, opts ReplayOptions, logger ports.Logger) (*ReplayReport, error) {
	op := "Replay"
	ordered := append([]domain.Tick(nil), ticks...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	processed := 0
	for _, tick := range ordered {
		if err := ctx.Err(); err != nil {
			logger.Warn(ctx, op+": interrupted", map[string]interface{}{"processed": processed})
			return nil, err
		}
		engine.ProcessTick(ctx, tick)
		if runner != nil {
			runner.OnTick(ctx, tick)
		}
		processed++
	}

	if opts.CloseAtEnd {
		for _, pos := range engine.Positions() {
			if _, err := engine.ClosePosition(ctx, paper.ClosePositionRequest{
				PositionID: pos.ID,
				Reason:     domain.ExitReasonManual,
			}); err != nil {
				logger.Error(ctx, err, op+": failed to close position at end of replay", map[string]interface{}{"positionID": pos.ID})
			}
		}
	}

	report := &ReplayReport{
		Ticks:         processed,
		Trades:        engine.ClosedTrades(),
		OpenPositions: engine.Positions(),
		Balance:       engine.GetBalance(),
		Stats:         engine.GetStats(),
	}
	logger.Info(ctx, op+": completed", map[string]interface{}{
		"ticks":       processed,
		"trades":      len(report.Trades),
		"equity":      report.Balance.Equity,
		"realizedPnL": report.Balance.RealizedPnL,
	})
	return report, nil
}
