package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"paperTrader/internal/adapters/logger"
	"paperTrader/internal/paper"
	"paperTrader/internal/risk"
	"paperTrader/internal/strategy/strategies"
)

// Market data sources.
const (
	SourceMock    = "mock"
	SourceBinance = "binance"
	SourceCSV     = "csv"
)

// Config holds all application configuration.
type Config struct {
	// Account
	InitialBalance float64
	Currency       string
	MakerFeeRate   float64
	TakerFeeRate   float64
	SlippageRate   float64
	AllowShorts    bool

	// Risk limits
	MaxPositions           int     // 0 = unlimited
	MaxPositionSizePercent float64 // fraction of equity, 0 = unlimited
	PositionSizePercent    float64 // used when ORDER_QUANTITY is 0

	// Trading Parameters
	Symbols       []string
	OrderQuantity float64
	StopLoss      float64 // Stop loss fraction (e.g., 0.02 for 2%), 0 disables
	TakeProfit    float64 // Take profit fraction, 0 disables

	// Strategy Parameters
	StrategyEnabled       bool
	StrategyShortMAPeriod int
	StrategyLongMAPeriod  int
	StrategyRSIPeriod     int
	StrategyRSIOverbought float64
	StrategyRSIOversold   float64

	// Market data
	MarketDataSource     string
	IsTestnet            bool
	KlineInterval        string
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	MockStartPrices      map[string]float64
	MockVolatility       float64
	MockTickInterval     time.Duration
	MockSeed             int64
	CSVPath              string
	CSVPace              time.Duration

	// Database; empty disables the journal
	DBPath string

	// Logging
	LogLevel  logger.LogLevel
	LogFormat string

	StatsInterval time.Duration
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Account
	cfg.InitialBalance, err = getEnvAsFloatRequired("INITIAL_BALANCE", 10000)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid INITIAL_BALANCE: %v", err))
	} else if cfg.InitialBalance <= 0 {
		errs = append(errs, "INITIAL_BALANCE must be positive")
	}
	cfg.Currency = getEnv("CURRENCY", "USDT")

	for _, rate := range []struct {
		key string
		def float64
		dst *float64
	}{
		{"MAKER_FEE_RATE", 0.001, &cfg.MakerFeeRate},
		{"TAKER_FEE_RATE", 0.001, &cfg.TakerFeeRate},
		{"SLIPPAGE_RATE", 0.0005, &cfg.SlippageRate},
	} {
		*rate.dst, err = getEnvAsFloatRequired(rate.key, rate.def)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", rate.key, err))
		} else if *rate.dst < 0 || *rate.dst >= 1 {
			errs = append(errs, fmt.Sprintf("%s must be in [0, 1)", rate.key))
		}
	}
	cfg.AllowShorts = getEnvAsBool("ALLOW_SHORTS", false)

	// Risk limits
	cfg.MaxPositions, err = getEnvAsIntRequired("MAX_POSITIONS", 5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_POSITIONS: %v", err))
	} else if cfg.MaxPositions < 0 {
		errs = append(errs, "MAX_POSITIONS cannot be negative")
	}
	cfg.MaxPositionSizePercent, err = getEnvAsFloatRequired("MAX_POSITION_SIZE_PERCENT", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_POSITION_SIZE_PERCENT: %v", err))
	} else if cfg.MaxPositionSizePercent < 0 || cfg.MaxPositionSizePercent > 1 {
		errs = append(errs, "MAX_POSITION_SIZE_PERCENT must be between 0.0 and 1.0")
	}
	cfg.PositionSizePercent, err = getEnvAsFloatRequired("POSITION_SIZE_PERCENT", 0.1)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid POSITION_SIZE_PERCENT: %v", err))
	} else if cfg.PositionSizePercent < 0 || cfg.PositionSizePercent > 1 {
		errs = append(errs, "POSITION_SIZE_PERCENT must be between 0.0 and 1.0")
	}

	// Trading Parameters
	cfg.Symbols = splitList(getEnv("SYMBOLS", "BTCUSDT,ETHUSDT"))
	if len(cfg.Symbols) == 0 {
		errs = append(errs, "SYMBOLS must be set")
	}

	cfg.OrderQuantity, err = getEnvAsFloatRequired("ORDER_QUANTITY", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid ORDER_QUANTITY: %v", err))
	} else if cfg.OrderQuantity < 0 {
		errs = append(errs, "ORDER_QUANTITY cannot be negative")
	}

	cfg.StopLoss, err = getEnvAsFloatRequired("STOP_LOSS", 0.02)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STOP_LOSS: %v", err))
	} else if cfg.StopLoss < 0 || cfg.StopLoss >= 1.0 {
		errs = append(errs, "STOP_LOSS must be in [0.0, 1.0)")
	}

	cfg.TakeProfit, err = getEnvAsFloatRequired("TAKE_PROFIT", 0.04)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TAKE_PROFIT: %v", err))
	} else if cfg.TakeProfit < 0 {
		errs = append(errs, "TAKE_PROFIT cannot be negative")
	}

	// Strategy Parameters (using defaults if not set)
	cfg.StrategyEnabled = getEnvAsBool("STRATEGY_ENABLED", true)
	cfg.StrategyShortMAPeriod = getEnvAsInt("STRATEGY_SHORT_MA_PERIOD", 9)
	cfg.StrategyLongMAPeriod = getEnvAsInt("STRATEGY_LONG_MA_PERIOD", 21)
	cfg.StrategyRSIPeriod = getEnvAsInt("STRATEGY_RSI_PERIOD", 14)
	cfg.StrategyRSIOverbought = getEnvAsFloat("STRATEGY_RSI_OVERBOUGHT", 70.0)
	cfg.StrategyRSIOversold = getEnvAsFloat("STRATEGY_RSI_OVERSOLD", 30.0)

	if cfg.StrategyShortMAPeriod <= 0 || cfg.StrategyLongMAPeriod <= 0 || cfg.StrategyRSIPeriod < 0 {
		errs = append(errs, "strategy periods must be positive")
	}
	if cfg.StrategyShortMAPeriod >= cfg.StrategyLongMAPeriod {
		errs = append(errs, "STRATEGY_SHORT_MA_PERIOD must be less than STRATEGY_LONG_MA_PERIOD")
	}
	if cfg.StrategyRSIOverbought <= cfg.StrategyRSIOversold || cfg.StrategyRSIOverbought > 100 || cfg.StrategyRSIOversold < 0 {
		errs = append(errs, "invalid RSI thresholds (Overbought must be > Oversold, between 0-100)")
	}

	// Market data
	cfg.MarketDataSource = strings.ToLower(getEnv("MARKET_DATA_SOURCE", SourceMock))
	switch cfg.MarketDataSource {
	case SourceMock, SourceBinance, SourceCSV:
	default:
		errs = append(errs, fmt.Sprintf("MARKET_DATA_SOURCE must be one of mock, binance, csv (got %q)", cfg.MarketDataSource))
	}
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", false)
	cfg.KlineInterval = getEnv("KLINE_INTERVAL", "1m")

	reconnectDelaySeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", 5)
	if reconnectDelaySeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second

	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10)
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	cfg.MockStartPrices, err = parsePriceList(getEnv("MOCK_START_PRICES", "BTCUSDT:50000,ETHUSDT:2500"))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MOCK_START_PRICES: %v", err))
	}
	cfg.MockVolatility = getEnvAsFloat("MOCK_VOLATILITY", 0.001)
	if cfg.MockVolatility < 0 {
		errs = append(errs, "MOCK_VOLATILITY cannot be negative")
	}
	cfg.MockTickInterval = time.Duration(getEnvAsInt("MOCK_TICK_INTERVAL_MS", 1000)) * time.Millisecond
	if cfg.MockTickInterval <= 0 {
		errs = append(errs, "MOCK_TICK_INTERVAL_MS must be positive")
	}
	cfg.MockSeed = int64(getEnvAsInt("MOCK_SEED", 0))

	cfg.CSVPath = getEnv("CSV_PATH", "")
	if cfg.MarketDataSource == SourceCSV && cfg.CSVPath == "" {
		errs = append(errs, "CSV_PATH must be set when MARKET_DATA_SOURCE=csv")
	}
	cfg.CSVPace = time.Duration(getEnvAsInt("CSV_PACE_MS", 0)) * time.Millisecond

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/paper_trading.db")

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))
	cfg.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", "text"))
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		errs = append(errs, "LOG_FORMAT must be text or json")
	}

	statsSeconds := getEnvAsInt("STATS_INTERVAL_SECONDS", 60)
	if statsSeconds < 0 {
		errs = append(errs, "STATS_INTERVAL_SECONDS cannot be negative")
	}
	cfg.StatsInterval = time.Duration(statsSeconds) * time.Second

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// EngineConfig returns the settings for the paper engine.
func (c *Config) EngineConfig() paper.Config {
	return paper.Config{
		InitialBalance:         c.InitialBalance,
		Currency:               c.Currency,
		MakerFeeRate:           c.MakerFeeRate,
		TakerFeeRate:           c.TakerFeeRate,
		SlippageRate:           c.SlippageRate,
		AllowShorts:            c.AllowShorts,
		MaxPositions:           c.MaxPositions,
		MaxPositionSizePercent: c.MaxPositionSizePercent,
	}
}

// RiskConfig returns the sizing and protection settings for strategy orders.
func (c *Config) RiskConfig() risk.Config {
	return risk.Config{
		MaxOpenPositions:       c.MaxPositions,
		MaxPositionSizePercent: c.MaxPositionSizePercent,
		PositionSizePercent:    c.PositionSizePercent,
		StopLossPercent:        c.StopLoss,
		TakeProfitPercent:      c.TakeProfit,
	}
}

// StrategyConfig returns the MA crossover settings.
func (c *Config) StrategyConfig() strategies.MACrossoverConfig {
	return strategies.MACrossoverConfig{
		FastMAPeriod:  c.StrategyShortMAPeriod,
		SlowMAPeriod:  c.StrategyLongMAPeriod,
		RSIPeriod:     c.StrategyRSIPeriod,
		RSIOverbought: c.StrategyRSIOverbought,
		RSIOversold:   c.StrategyRSIOversold,
		AllowShort:    c.AllowShorts,
	}
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.ToUpper(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parsePriceList parses "BTCUSDT:50000,ETHUSDT:2500".
func parsePriceList(s string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		sym, priceStr, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("entry %q is not SYMBOL:PRICE", part)
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(priceStr), 64)
		if err != nil || price <= 0 {
			return nil, fmt.Errorf("entry %q has an invalid price", part)
		}
		out[strings.ToUpper(strings.TrimSpace(sym))] = price
	}
	return out, nil
}
