package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"paperTrader/internal/domain"
	"paperTrader/internal/events"
	"paperTrader/internal/paper"
	"paperTrader/internal/ports"
	"paperTrader/internal/risk"
)

const (
	defaultHistorySize = 500
	eventBufferSize    = 4096
)

// Ticker abstracts time.Ticker so the stats loop can be driven by tests.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

type realTicker struct{ *time.Ticker }

func (t realTicker) Chan() <-chan time.Time { return t.C }

// NewRealTicker wraps time.NewTicker.
func NewRealTicker(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }

// Config holds the settings the host needs. The engine has its own config.
type Config struct {
	Symbols         []string
	OrderQuantity   float64       // Fixed quantity per entry; 0 sizes from risk.Config.PositionSizePercent
	StrategyEnabled bool          // Run the strategy on every tick
	StatsInterval   time.Duration // 0 disables periodic stats
	HistorySize     int           // Prices kept per symbol for the strategy
	HandleSignals   bool          // Cancel on SIGINT/SIGTERM
}

// TradingService hosts the paper engine: it subscribes the configured symbols,
// feeds ticks to the strategy, journals fills and prints stats periodically.
type TradingService struct {
	cfg       Config
	logger    ports.Logger
	engine    *paper.Engine
	bus       *events.Bus
	risk      *risk.Manager
	strategy  ports.Strategy     // optional
	journal   ports.TradeJournal // optional
	runner    *StrategyRunner
	out       io.Writer
	newTicker func(time.Duration) Ticker
}

// Option configures a TradingService.
type Option func(*TradingService)

// WithStrategy enables strategy-driven trading.
func WithStrategy(s ports.Strategy) Option { return func(ts *TradingService) { ts.strategy = s } }

// WithJournal persists orders and closed trades.
func WithJournal(j ports.TradeJournal) Option { return func(ts *TradingService) { ts.journal = j } }

// WithStatsOutput sets where periodic and final stats are written.
func WithStatsOutput(w io.Writer) Option { return func(ts *TradingService) { ts.out = w } }

// WithTicker replaces the ticker factory used by the stats loop.
func WithTicker(f func(time.Duration) Ticker) Option {
	return func(ts *TradingService) { ts.newTicker = f }
}

// NewTradingService creates a new application service instance.
func NewTradingService(cfg Config, logger ports.Logger, engine *paper.Engine, bus *events.Bus, riskManager *risk.Manager, opts ...Option) (*TradingService, error) {
	if logger == nil || engine == nil || bus == nil || riskManager == nil {
		return nil, fmt.Errorf("missing required dependencies for TradingService")
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("%w: at least one symbol is required", ports.ErrConfigurationError)
	}
	if cfg.OrderQuantity < 0 {
		return nil, fmt.Errorf("%w: order quantity must not be negative", ports.ErrConfigurationError)
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	symbols := make([]string, 0, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			symbols = append(symbols, s)
		}
	}
	cfg.Symbols = symbols

	s := &TradingService{
		cfg:       cfg,
		logger:    logger,
		engine:    engine,
		bus:       bus,
		risk:      riskManager,
		out:       os.Stdout,
		newTicker: NewRealTicker,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.StrategyEnabled && s.strategy == nil {
		return nil, fmt.Errorf("%w: strategy enabled but none provided", ports.ErrConfigurationError)
	}
	if s.cfg.StrategyEnabled {
		runner, err := NewStrategyRunner(RunnerConfig{
			OrderQuantity: s.cfg.OrderQuantity,
			HistorySize:   s.cfg.HistorySize,
		}, engine, s.strategy, riskManager, logger)
		if err != nil {
			return nil, err
		}
		s.runner = runner
	}
	return s, nil
}

// Run subscribes every symbol and blocks until ctx is cancelled or a
// component fails. Final stats are printed on the way out.
func (s *TradingService) Run(ctx context.Context) error {
	s.logger.Info(ctx, "Starting Trading Service...", map[string]interface{}{
		"symbols":  s.cfg.Symbols,
		"strategy": s.strategyName(),
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.cfg.HandleSignals {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		go func() {
			select {
			case sig := <-sigCh:
				s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	s.syncJournalState(ctx)

	eventsCh, unsubscribe := s.bus.Subscribe(eventBufferSize)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.consumeEvents(gctx, eventsCh)
		return nil
	})
	if s.cfg.StatsInterval > 0 {
		g.Go(func() error {
			s.statsLoop(gctx)
			return nil
		})
	}

	for _, symbol := range s.cfg.Symbols {
		if err := s.engine.SubscribeToMarketData(gctx, symbol); err != nil {
			s.logger.Error(ctx, err, "Failed to subscribe to market data", map[string]interface{}{"symbol": symbol})
			cancel()
			s.engine.Stop()
			unsubscribe()
			_ = g.Wait()
			return fmt.Errorf("subscribe %s: %w", symbol, err)
		}
	}
	s.logger.Info(ctx, "Market data subscriptions active", map[string]interface{}{"symbols": s.cfg.Symbols})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info(ctx, "Shutting down: stopping market data")
		s.engine.Stop()
		unsubscribe()
		return nil
	})

	err := g.Wait()
	if perr := s.engine.PrintStats(s.out); perr != nil {
		s.logger.Warn(context.Background(), "Failed to print final stats", map[string]interface{}{"error": perr.Error()})
	}
	s.logger.Info(context.Background(), "Trading Service stopped.", map[string]interface{}{"droppedEvents": s.bus.Dropped()})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// syncJournalState logs what the journal already holds from earlier runs.
func (s *TradingService) syncJournalState(ctx context.Context) {
	if s.journal == nil {
		return
	}
	total, err := s.journal.TotalRealizedPnL(ctx)
	if err != nil {
		s.logger.Warn(ctx, "Failed to read journal totals", map[string]interface{}{"error": err.Error()})
		return
	}
	since := time.Now().Add(-24 * time.Hour)
	counts := make(map[string]interface{}, len(s.cfg.Symbols))
	for _, symbol := range s.cfg.Symbols {
		n, err := s.journal.CountTradesSince(ctx, symbol, since)
		if err != nil {
			s.logger.Warn(ctx, "Failed to count journaled trades", map[string]interface{}{"symbol": symbol, "error": err.Error()})
			continue
		}
		counts[symbol] = n
	}
	s.logger.Info(ctx, "Journal state loaded", map[string]interface{}{"realizedPnL": total, "trades24h": counts})
}

// consumeEvents handles engine events until the channel is closed.
func (s *TradingService) consumeEvents(ctx context.Context, ch <-chan domain.Event) {
	for evt := range ch {
		switch evt.Type {
		case domain.EventTick:
			if s.runner != nil && evt.Tick != nil && ctx.Err() == nil {
				s.runner.OnTick(ctx, *evt.Tick)
			}
		case domain.EventOrderFilled, domain.EventOrderCancelled, domain.EventOrderRejected:
			if s.journal != nil && evt.Order != nil {
				if err := s.journal.SaveOrder(context.Background(), evt.Order); err != nil {
					s.logger.Error(ctx, err, "Failed to journal order", map[string]interface{}{"orderID": evt.Order.ID})
				}
			}
		case domain.EventPositionClosed:
			if s.journal != nil && evt.Trade != nil {
				if err := s.journal.SaveClosedTrade(context.Background(), evt.Trade); err != nil {
					s.logger.Error(ctx, err, "Failed to journal closed trade", map[string]interface{}{"tradeID": evt.Trade.ID})
				}
			}
		}
	}
}

func (s *TradingService) statsLoop(ctx context.Context) {
	ticker := s.newTicker(s.cfg.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := s.engine.PrintStats(s.out); err != nil {
				s.logger.Warn(ctx, "Failed to print stats", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

func (s *TradingService) strategyName() string {
	if s.strategy == nil {
		return ""
	}
	return s.strategy.Name()
}
