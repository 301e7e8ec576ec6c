package optimization

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"paperTrader/internal/analytics"
	"paperTrader/internal/app"
	"paperTrader/internal/domain"
	"paperTrader/internal/paper"
	"paperTrader/internal/ports"
	"paperTrader/internal/risk"
	"paperTrader/internal/strategy/strategies"
)

// Parameter names understood by the optimizer.
const (
	ParamFastMA        = "fast_ma"
	ParamSlowMA        = "slow_ma"
	ParamRSIPeriod     = "rsi_period"
	ParamRSIOverbought = "rsi_overbought"
	ParamRSIOversold   = "rsi_oversold"
)

// ParameterRange defines a range for a parameter to optimize
type ParameterRange struct {
	Name  string
	Min   float64
	Max   float64
	Step  float64
	IsInt bool
}

// ParseParameterRange parses "name=min:max:step". Period parameters are integers.
func ParseParameterRange(s string) (ParameterRange, error) {
	name, bounds, ok := strings.Cut(s, "=")
	if !ok {
		return ParameterRange{}, fmt.Errorf("%w: range %q must look like name=min:max:step", ports.ErrInvalidRequest, s)
	}
	name = strings.TrimSpace(name)
	parts := strings.Split(bounds, ":")
	if len(parts) != 3 {
		return ParameterRange{}, fmt.Errorf("%w: range %q must look like name=min:max:step", ports.ErrInvalidRequest, s)
	}
	var vals [3]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return ParameterRange{}, fmt.Errorf("%w: range %q: %v", ports.ErrInvalidRequest, s, err)
		}
		vals[i] = v
	}
	r := ParameterRange{Name: name, Min: vals[0], Max: vals[1], Step: vals[2]}
	switch name {
	case ParamFastMA, ParamSlowMA, ParamRSIPeriod:
		r.IsInt = true
	case ParamRSIOverbought, ParamRSIOversold:
	default:
		return ParameterRange{}, fmt.Errorf("%w: unknown parameter %q", ports.ErrInvalidRequest, name)
	}
	if r.Step <= 0 || r.Max < r.Min {
		return ParameterRange{}, fmt.Errorf("%w: range %q needs step > 0 and max >= min", ports.ErrInvalidRequest, s)
	}
	return r, nil
}

// OptimizationResult holds the outcome of one parameter combination
type OptimizationResult struct {
	Parameters map[string]float64            `json:"parameters"`
	Stats      domain.PaperTradingStats      `json:"stats"`
	Metrics    *analytics.PerformanceMetrics `json:"-"`
	Score      float64                       `json:"score"`

	index int
}

// OptimizerConfig holds configuration for the optimizer
type OptimizerConfig struct {
	ParameterRanges []ParameterRange
	Base            strategies.MACrossoverConfig // Values not covered by a range
	Engine          paper.Config
	Risk            risk.Config
	OrderQuantity   float64
	Concurrency     int // Replays run at once, defaults to 4
	ScoreFunction   func(*analytics.PerformanceMetrics) float64
	Logger          ports.Logger
}

// Optimizer replays the same ticks once per parameter combination, each
// through a fresh engine, and ranks the combinations by score.
type Optimizer struct {
	config OptimizerConfig
}

// NewOptimizer creates a new optimizer instance
func NewOptimizer(config OptimizerConfig) (*Optimizer, error) {
	if config.Logger == nil {
		return nil, fmt.Errorf("logger is required for optimizer")
	}
	if len(config.ParameterRanges) == 0 {
		return nil, fmt.Errorf("%w: at least one parameter range is required", ports.ErrConfigurationError)
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.ScoreFunction == nil {
		config.ScoreFunction = DefaultScoreFunction
	}
	return &Optimizer{config: config}, nil
}

// Optimize runs every valid combination and returns results best first.
// Combinations the strategy rejects (e.g. fast >= slow) are skipped.
func (o *Optimizer) Optimize(ctx context.Context, ticks []domain.Tick) ([]OptimizationResult, error) {
	op := "Optimizer.Optimize"
	combinations := o.generateParameterCombinations()

	var (
		mu      sync.Mutex
		results = make([]OptimizationResult, 0, len(combinations))
		skipped int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.Concurrency)

	for i, params := range combinations {
		stratCfg, err := applyParameters(o.config.Base, params)
		if err == nil {
			_, err = strategies.NewMACrossover(stratCfg, o.config.Logger)
		}
		if err != nil {
			skipped++
			continue
		}
		g.Go(func() error {
			res, err := o.run(gctx, stratCfg, ticks)
			if err != nil {
				return err
			}
			res.Parameters = params
			res.index = i
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sortResultsByScore(results)
	o.config.Logger.Info(ctx, op+": completed", map[string]interface{}{
		"combinations": len(combinations),
		"evaluated":    len(results),
		"skipped":      skipped,
	})
	return results, nil
}

func (o *Optimizer) run(ctx context.Context, stratCfg strategies.MACrossoverConfig, ticks []domain.Tick) (OptimizationResult, error) {
	strat, err := strategies.NewMACrossover(stratCfg, o.config.Logger)
	if err != nil {
		return OptimizationResult{}, err
	}
	engine, err := paper.New(o.config.Engine, nil, nil, o.config.Logger, paper.WithTickTime())
	if err != nil {
		return OptimizationResult{}, err
	}
	runner, err := app.NewStrategyRunner(app.RunnerConfig{OrderQuantity: o.config.OrderQuantity}, engine, strat, risk.NewManager(o.config.Risk), o.config.Logger)
	if err != nil {
		return OptimizationResult{}, err
	}
	report, err := app.Replay(ctx, engine, runner, ticks, app.ReplayOptions{CloseAtEnd: true}, o.config.Logger)
	if err != nil {
		return OptimizationResult{}, err
	}
	metrics := analytics.AnalyzePerformance(report.Trades, o.config.Engine.InitialBalance)
	return OptimizationResult{
		Stats:   report.Stats,
		Metrics: metrics,
		Score:   o.config.ScoreFunction(metrics),
	}, nil
}

// generateParameterCombinations generates all possible parameter combinations
func (o *Optimizer) generateParameterCombinations() []map[string]float64 {
	var combinations []map[string]float64
	currentCombination := make(map[string]float64)

	var generate func(int)
	generate = func(paramIndex int) {
		if paramIndex == len(o.config.ParameterRanges) {
			combination := make(map[string]float64, len(currentCombination))
			for k, v := range currentCombination {
				combination[k] = v
			}
			combinations = append(combinations, combination)
			return
		}

		param := o.config.ParameterRanges[paramIndex]
		steps := int(math.Floor((param.Max-param.Min)/param.Step + 1e-9))
		for n := 0; n <= steps; n++ {
			value := param.Min + float64(n)*param.Step
			if param.IsInt {
				value = math.Round(value)
			}
			currentCombination[param.Name] = value
			generate(paramIndex + 1)
		}
	}

	generate(0)
	return combinations
}

// applyParameters overlays params on base.
func applyParameters(base strategies.MACrossoverConfig, params map[string]float64) (strategies.MACrossoverConfig, error) {
	cfg := base
	for name, v := range params {
		switch name {
		case ParamFastMA:
			cfg.FastMAPeriod = int(v)
		case ParamSlowMA:
			cfg.SlowMAPeriod = int(v)
		case ParamRSIPeriod:
			cfg.RSIPeriod = int(v)
		case ParamRSIOverbought:
			cfg.RSIOverbought = v
		case ParamRSIOversold:
			cfg.RSIOversold = v
		default:
			return cfg, fmt.Errorf("%w: unknown parameter %q", ports.ErrInvalidRequest, name)
		}
	}
	return cfg, nil
}

// sortResultsByScore sorts by score, best first. Ties keep generation order.
func sortResultsByScore(results []OptimizationResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].index < results[j].index
	})
}

// maxScoredProfitFactor caps the profit factor term, which is +Inf without losses.
const maxScoredProfitFactor = 5

// DefaultScoreFunction blends win rate, profit factor, drawdown and return.
func DefaultScoreFunction(metrics *analytics.PerformanceMetrics) float64 {
	if metrics.TotalTrades == 0 {
		return 0
	}
	score := 0.0
	score += metrics.WinRate * 0.3
	score += math.Min(metrics.ProfitFactor, maxScoredProfitFactor) * 0.2
	score += (1 - metrics.MaxDrawdown) * 0.2
	score += metrics.ReturnPercent / 100 * 0.3
	return score
}
