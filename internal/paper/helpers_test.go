package paper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"paperTrader/internal/domain"
	"paperTrader/internal/risk"
)

const tolerance = 1e-6

// mockLogger implements ports.Logger for testing
type mockLogger struct {
	mu        sync.Mutex
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg+": "+err.Error())
}

func (m *mockLogger) errors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.errorMsgs...)
}

// defaultConfig matches the reference scenario: 0.1% fees, 0.05% slippage.
func defaultConfig() Config {
	return Config{
		InitialBalance: 10000,
		Currency:       "USDT",
		MakerFeeRate:   0.001,
		TakerFeeRate:   0.001,
		SlippageRate:   0.0005,
	}
}

var testStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeClock advances one second per call so timestamps are distinct and ordered.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *mockLogger) {
	t.Helper()
	logger := &mockLogger{}
	clock := &fakeClock{now: testStart}
	engine, err := New(cfg, nil, nil, logger, WithClock(clock.Now))
	require.NoError(t, err)
	return engine, logger
}

func newTestAccount(t *testing.T, cfg AccountConfig, limits risk.Config) *Account {
	t.Helper()
	account, err := NewAccount(cfg, risk.NewManager(limits), &mockLogger{})
	require.NoError(t, err)
	return account
}

func tick(symbol string, price float64, at time.Time) domain.Tick {
	return domain.Tick{Symbol: symbol, Price: price, Timestamp: at}
}

// requireInvariants checks the ledger identities through the public surface.
func requireInvariants(t *testing.T, e *Engine) {
	t.Helper()
	b := e.GetBalance()
	require.GreaterOrEqual(t, b.Cash, -tolerance, "cash must not be negative")
	require.LessOrEqual(t, b.LockedCash, b.Cash+tolerance, "locked cash must not exceed cash")

	var marketValue float64
	for _, pos := range e.Positions() {
		marketValue += pos.MarketValue
	}
	require.InDelta(t, b.Cash+marketValue, b.Equity, tolerance)
	require.InDelta(t, b.InitialBalance+b.RealizedPnL+b.UnrealizedPnL, b.Equity, tolerance)
}
