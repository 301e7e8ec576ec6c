package main

import (
	"context"
	"fmt"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"time"

	"paperTrader/config"
	"paperTrader/internal/adapters/binanceclient"
	"paperTrader/internal/adapters/csvfeed"
	"paperTrader/internal/adapters/logger"
	"paperTrader/internal/adapters/mockfeed"
	"paperTrader/internal/adapters/sqlite"
	"paperTrader/internal/app"
	"paperTrader/internal/events"
	"paperTrader/internal/paper"
	"paperTrader/internal/ports"
	"paperTrader/internal/risk"
	"paperTrader/internal/strategy/strategies"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger, err := logger.New(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	if syncer, ok := appLogger.(interface{ Sync() error }); ok {
		defer func() { _ = syncer.Sync() }()
	}
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{
		"level":  cfg.LogLevel.String(),
		"format": cfg.LogFormat,
	})

	// 3. Initialize Trade Journal (optional)
	var journal ports.TradeJournal
	if cfg.DBPath != "" {
		repo, err := sqlite.NewRepository(sqlite.Config{
			DBPath: cfg.DBPath,
			Logger: appLogger,
		})
		if err != nil {
			appLogger.Error(context.Background(), err, "FATAL: Failed to initialize trade journal")
			log.Fatalf("FATAL: Failed to initialize trade journal: %v", err) // Also log to stderr
		}
		defer func() {
			if err := repo.Close(); err != nil {
				appLogger.Error(context.Background(), err, "Error closing trade journal")
			}
		}()
		journal = repo
		appLogger.Info(context.Background(), "Trade journal initialized", map[string]interface{}{"path": cfg.DBPath})
	}

	// 4. Initialize Market Data Feed
	feed, err := newFeed(cfg, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize market data feed")
		log.Fatalf("FATAL: Failed to initialize market data feed: %v", err)
	}
	appLogger.Info(context.Background(), "Market data feed initialized", map[string]interface{}{"source": cfg.MarketDataSource})

	// 5. Initialize Paper Trading Engine
	bus := events.NewBus(appLogger)
	defer bus.Close()
	engine, err := paper.New(cfg.EngineConfig(), feed, bus, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize paper trading engine")
		log.Fatalf("FATAL: Failed to initialize paper trading engine: %v", err)
	}
	appLogger.Info(context.Background(), "Paper trading engine initialized", map[string]interface{}{
		"initialBalance": cfg.InitialBalance,
		"currency":       cfg.Currency,
	})

	// 6. Initialize Strategy
	opts := []app.Option{}
	if journal != nil {
		opts = append(opts, app.WithJournal(journal))
	}
	if cfg.StrategyEnabled {
		strat, err := strategies.NewMACrossover(cfg.StrategyConfig(), appLogger)
		if err != nil {
			appLogger.Error(context.Background(), err, "FATAL: Failed to initialize trading strategy")
			log.Fatalf("FATAL: Failed to initialize trading strategy: %v", err)
		}
		opts = append(opts, app.WithStrategy(strat))
		appLogger.Info(context.Background(), "Trading strategy initialized", map[string]interface{}{"strategy": strat.Name()})
	}

	// 7. Initialize Application Service
	tradingService, err := app.NewTradingService(
		app.Config{
			Symbols:         cfg.Symbols,
			OrderQuantity:   cfg.OrderQuantity,
			StrategyEnabled: cfg.StrategyEnabled,
			StatsInterval:   cfg.StatsInterval,
			HandleSignals:   true,
		},
		appLogger,
		engine,
		bus,
		risk.NewManager(cfg.RiskConfig()),
		opts...,
	)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize trading service")
		log.Fatalf("FATAL: Failed to initialize trading service: %v", err)
	}
	appLogger.Info(context.Background(), "Trading service initialized")

	// 8. Run the Service until SIGINT/SIGTERM
	if err := tradingService.Run(context.Background()); err != nil {
		appLogger.Error(context.Background(), err, "Trading service exited with error")
		log.Fatalf("FATAL: Trading service exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}

// newFeed builds the market data source selected by MARKET_DATA_SOURCE.
func newFeed(cfg *config.Config, appLogger ports.Logger) (ports.MarketDataFeed, error) {
	switch cfg.MarketDataSource {
	case config.SourceMock:
		return mockfeed.New(mockfeed.Config{
			StartPrices: cfg.MockStartPrices,
			Volatility:  cfg.MockVolatility,
			Interval:    cfg.MockTickInterval,
			Seed:        cfg.MockSeed,
			Logger:      appLogger,
		})
	case config.SourceCSV:
		return csvfeed.New(csvfeed.Config{
			Path:   cfg.CSVPath,
			Pace:   cfg.CSVPace,
			Logger: appLogger,
		})
	case config.SourceBinance:
		client, err := binanceclient.New(binanceclient.Config{
			UseTestnet:           cfg.IsTestnet,
			Logger:               appLogger,
			Interval:             cfg.KlineInterval,
			ReconnectDelay:       cfg.ReconnectDelay,
			MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		})
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client.Ping(ctx); err != nil {
			return nil, fmt.Errorf("binance connectivity check: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("%w: unknown market data source %q", ports.ErrConfigurationError, cfg.MarketDataSource)
	}
}
