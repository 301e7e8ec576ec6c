package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paperTrader/internal/adapters/logger"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.InDelta(t, 10000.0, cfg.InitialBalance, 1e-9)
	assert.Equal(t, "USDT", cfg.Currency)
	assert.InDelta(t, 0.001, cfg.MakerFeeRate, 1e-12)
	assert.InDelta(t, 0.001, cfg.TakerFeeRate, 1e-12)
	assert.InDelta(t, 0.0005, cfg.SlippageRate, 1e-12)
	assert.False(t, cfg.AllowShorts)
	assert.Equal(t, 5, cfg.MaxPositions)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Symbols)
	assert.Equal(t, SourceMock, cfg.MarketDataSource)
	assert.Equal(t, map[string]float64{"BTCUSDT": 50000, "ETHUSDT": 2500}, cfg.MockStartPrices)
	assert.Equal(t, time.Second, cfg.MockTickInterval)
	assert.Equal(t, logger.LevelInfo, cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, time.Minute, cfg.StatsInterval)

	engineCfg := cfg.EngineConfig()
	assert.InDelta(t, cfg.InitialBalance, engineCfg.InitialBalance, 1e-9)
	assert.Equal(t, cfg.MaxPositions, engineCfg.MaxPositions)

	riskCfg := cfg.RiskConfig()
	assert.InDelta(t, 0.02, riskCfg.StopLossPercent, 1e-12)
	assert.InDelta(t, 0.04, riskCfg.TakeProfitPercent, 1e-12)

	stratCfg := cfg.StrategyConfig()
	assert.Equal(t, 9, stratCfg.FastMAPeriod)
	assert.Equal(t, 21, stratCfg.SlowMAPeriod)
	assert.False(t, stratCfg.AllowShort)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("INITIAL_BALANCE", "2500")
	t.Setenv("ALLOW_SHORTS", "true")
	t.Setenv("SYMBOLS", " solusdt , ,xrpusdt")
	t.Setenv("MARKET_DATA_SOURCE", "CSV")
	t.Setenv("CSV_PATH", "ticks.csv")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "JSON")
	t.Setenv("STATS_INTERVAL_SECONDS", "0")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.InDelta(t, 2500.0, cfg.InitialBalance, 1e-9)
	assert.True(t, cfg.AllowShorts)
	assert.Equal(t, []string{"SOLUSDT", "XRPUSDT"}, cfg.Symbols)
	assert.Equal(t, SourceCSV, cfg.MarketDataSource)
	assert.Equal(t, "ticks.csv", cfg.CSVPath)
	assert.Equal(t, logger.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Zero(t, cfg.StatsInterval)
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantMsg string
	}{
		{name: "non-numeric balance", env: map[string]string{"INITIAL_BALANCE": "lots"}, wantMsg: "invalid INITIAL_BALANCE"},
		{name: "zero balance", env: map[string]string{"INITIAL_BALANCE": "0"}, wantMsg: "INITIAL_BALANCE must be positive"},
		{name: "fee rate too high", env: map[string]string{"TAKER_FEE_RATE": "1.5"}, wantMsg: "TAKER_FEE_RATE must be in [0, 1)"},
		{name: "negative max positions", env: map[string]string{"MAX_POSITIONS": "-1"}, wantMsg: "MAX_POSITIONS cannot be negative"},
		{name: "unknown source", env: map[string]string{"MARKET_DATA_SOURCE": "kafka"}, wantMsg: "MARKET_DATA_SOURCE"},
		{name: "csv without path", env: map[string]string{"MARKET_DATA_SOURCE": "csv"}, wantMsg: "CSV_PATH"},
		{name: "inverted MA periods", env: map[string]string{"STRATEGY_SHORT_MA_PERIOD": "30"}, wantMsg: "STRATEGY_SHORT_MA_PERIOD"},
		{name: "bad mock prices", env: map[string]string{"MOCK_START_PRICES": "BTCUSDT=1"}, wantMsg: "MOCK_START_PRICES"},
		{name: "bad log format", env: map[string]string{"LOG_FORMAT": "xml"}, wantMsg: "LOG_FORMAT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := LoadConfig()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestParsePriceList(t *testing.T) {
	prices, err := parsePriceList("btcusdt:100, ETHUSDT : 20 ,")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"BTCUSDT": 100, "ETHUSDT": 20}, prices)

	_, err = parsePriceList("BTCUSDT:-1")
	assert.Error(t, err)
}
