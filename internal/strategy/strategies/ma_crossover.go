package strategies

import (
	"context"
	"fmt"
	"math"

	"paperTrader/internal/domain"
	"paperTrader/internal/ports"
	"paperTrader/internal/strategy/indicators"
)

// MACrossoverConfig holds configuration for the MA crossover strategy
type MACrossoverConfig struct {
	FastMAPeriod int                          // Fast MA period (e.g., 9)
	SlowMAPeriod int                          // Slow MA period (e.g., 21)
	MAType       indicators.MovingAverageType // SMA or EMA, defaults to SMA

	RSIPeriod     int     // RSI period, 0 disables the RSI filter
	RSIOverbought float64 // Longs are not opened above this, open longs close here
	RSIOversold   float64 // Shorts are not opened below this, open shorts close here

	AllowShort bool // Emit SELL entries on bearish crosses

	// SignalVeto suppresses an entry when the average external signal score
	// points the other way with at least this magnitude. 0 ignores signals.
	SignalVeto float64
}

// MACrossover enters on fast/slow moving average crosses, filtered by RSI and
// optional external signals, and exits on the opposite cross or an RSI extreme.
type MACrossover struct {
	*BaseStrategy
	config MACrossoverConfig
	fastMA *indicators.MovingAverage
	slowMA *indicators.MovingAverage
	rsi    *indicators.RSI
}

// NewMACrossover creates a new MA Crossover strategy instance
func NewMACrossover(config MACrossoverConfig, logger ports.Logger) (*MACrossover, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for strategy")
	}
	if config.FastMAPeriod <= 0 || config.SlowMAPeriod <= 0 {
		return nil, fmt.Errorf("strategy periods must be positive")
	}
	if config.FastMAPeriod >= config.SlowMAPeriod {
		return nil, fmt.Errorf("fast MA period must be less than slow MA period")
	}
	if config.RSIPeriod < 0 {
		return nil, fmt.Errorf("RSI period must not be negative")
	}
	if config.RSIPeriod > 0 && config.RSIOversold >= config.RSIOverbought {
		return nil, fmt.Errorf("RSI oversold level must be below overbought level")
	}
	if config.MAType == "" {
		config.MAType = indicators.SimpleMovingAverage
	}
	m := &MACrossover{
		BaseStrategy: NewBaseStrategy("ma_crossover", logger),
		config:       config,
		fastMA: indicators.NewMovingAverage(indicators.MovingAverageConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: config.FastMAPeriod},
			Type:            config.MAType,
		}),
		slowMA: indicators.NewMovingAverage(indicators.MovingAverageConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: config.SlowMAPeriod},
			Type:            config.MAType,
		}),
	}
	if config.RSIPeriod > 0 {
		m.rsi = indicators.NewRSI(indicators.RSIConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: config.RSIPeriod},
			Overbought:      config.RSIOverbought,
			Oversold:        config.RSIOversold,
		})
	}
	return m, nil
}

// RequiredDataPoints covers the slow MA on the previous bar plus the RSI window.
func (m *MACrossover) RequiredDataPoints() int {
	n := m.config.SlowMAPeriod + 1
	if m.rsi != nil && m.rsi.RequiredDataPoints() > n {
		n = m.rsi.RequiredDataPoints()
	}
	return n
}

type crossState struct {
	fast, slow           float64
	bullish, bearish     bool
	rsi                  float64
	overbought, oversold bool
}

func (m *MACrossover) evaluate(ctx context.Context, prices []float64) (crossState, error) {
	var s crossState
	prev := prices[:len(prices)-1]

	prevFast, err := m.fastMA.Calculate(ctx, prev)
	if err != nil {
		return s, err
	}
	prevSlow, err := m.slowMA.Calculate(ctx, prev)
	if err != nil {
		return s, err
	}
	if s.fast, err = m.fastMA.Calculate(ctx, prices); err != nil {
		return s, err
	}
	if s.slow, err = m.slowMA.Calculate(ctx, prices); err != nil {
		return s, err
	}
	s.bullish = prevFast <= prevSlow && s.fast > s.slow
	s.bearish = prevFast >= prevSlow && s.fast < s.slow

	if m.rsi != nil {
		if s.rsi, err = m.rsi.Calculate(ctx, prices); err != nil {
			return s, err
		}
		s.overbought = m.rsi.IsOverbought(s.rsi)
		s.oversold = m.rsi.IsOversold(s.rsi)
	}
	return s, nil
}

// Analyze implements ports.Strategy. It returns nil when there is nothing to do.
func (m *MACrossover) Analyze(ctx context.Context, data domain.MarketData, signals []domain.Signal) (*domain.Decision, error) {
	if len(data.Prices) < m.RequiredDataPoints() {
		return nil, nil
	}
	s, err := m.evaluate(ctx, data.Prices)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.Name(), err)
	}
	fields := map[string]interface{}{"symbol": data.Symbol, "fast": s.fast, "slow": s.slow, "rsi": s.rsi}

	if data.HasPosition {
		switch {
		case data.PositionSide == domain.SideLong && s.bearish:
			return m.decide(ctx, domain.ActionClose, data.Symbol, s, "bearish crossover", fields), nil
		case data.PositionSide == domain.SideLong && s.overbought:
			return m.decide(ctx, domain.ActionClose, data.Symbol, s, "RSI overbought", fields), nil
		case data.PositionSide == domain.SideShort && s.bullish:
			return m.decide(ctx, domain.ActionClose, data.Symbol, s, "bullish crossover", fields), nil
		case data.PositionSide == domain.SideShort && s.oversold:
			return m.decide(ctx, domain.ActionClose, data.Symbol, s, "RSI oversold", fields), nil
		}
		return nil, nil
	}

	bias := signalBias(data.Symbol, signals)
	switch {
	case s.bullish && !s.overbought:
		if m.vetoed(bias, 1) {
			m.logger.Debug(ctx, "Entry vetoed by signals", map[string]interface{}{"symbol": data.Symbol, "bias": bias})
			return nil, nil
		}
		return m.decide(ctx, domain.ActionBuy, data.Symbol, s, "bullish crossover", fields), nil
	case s.bearish && m.config.AllowShort && !s.oversold:
		if m.vetoed(bias, -1) {
			m.logger.Debug(ctx, "Entry vetoed by signals", map[string]interface{}{"symbol": data.Symbol, "bias": bias})
			return nil, nil
		}
		return m.decide(ctx, domain.ActionSell, data.Symbol, s, "bearish crossover", fields), nil
	}
	return nil, nil
}

func (m *MACrossover) decide(ctx context.Context, action domain.Action, symbol string, s crossState, reason string, fields map[string]interface{}) *domain.Decision {
	d := &domain.Decision{
		Action:     action,
		Symbol:     symbol,
		Confidence: confidence(s.fast, s.slow),
		Reason:     reason,
	}
	fields["action"] = action
	fields["reason"] = reason
	m.logger.Info(ctx, m.Name()+": decision", fields)
	return d
}

func (m *MACrossover) vetoed(bias float64, direction float64) bool {
	return m.config.SignalVeto > 0 && bias*direction <= -m.config.SignalVeto
}

// signalBias is the confidence-weighted mean score of signals for symbol.
// Signals without a symbol apply to every symbol.
func signalBias(symbol string, signals []domain.Signal) float64 {
	var sum, weight float64
	for _, sig := range signals {
		if sig.Symbol != "" && sig.Symbol != symbol {
			continue
		}
		w := sig.Confidence
		if w <= 0 {
			w = 1
		}
		sum += sig.Score * w
		weight += w
	}
	if weight == 0 {
		return 0
	}
	return sum / weight
}

// confidence grows with the MA spread: 0.5 at a bare cross, 1 at a 2% spread.
func confidence(fast, slow float64) float64 {
	if slow == 0 {
		return 0.5
	}
	spread := math.Abs(fast-slow) / slow
	return math.Min(1, 0.5+spread*25)
}
