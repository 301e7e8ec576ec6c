package app

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paperTrader/internal/domain"
	"paperTrader/internal/events"
	"paperTrader/internal/paper"
	"paperTrader/internal/ports"
	"paperTrader/internal/risk"
)

// Mock implementations
type mockLogger struct {
	mu        sync.Mutex
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

// mockStrategy buys on the first flat tick and closes when the price reaches closeAt.
type mockStrategy struct {
	mu      sync.Mutex
	closeAt float64
	calls   int
}

func (m *mockStrategy) Name() string            { return "mock" }
func (m *mockStrategy) RequiredDataPoints() int { return 1 }

func (m *mockStrategy) Analyze(ctx context.Context, data domain.MarketData, signals []domain.Signal) (*domain.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	switch {
	case !data.HasPosition && m.calls == 1:
		return &domain.Decision{Action: domain.ActionBuy, Symbol: data.Symbol, Confidence: 1, Reason: "test entry"}, nil
	case data.HasPosition && data.Price >= m.closeAt:
		return &domain.Decision{Action: domain.ActionClose, Symbol: data.Symbol, Confidence: 1, Reason: "test exit"}, nil
	}
	return nil, nil
}

type mockJournal struct {
	mu     sync.Mutex
	orders []*domain.Order
	trades []*domain.ClosedTrade
}

func (m *mockJournal) SaveOrder(ctx context.Context, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = append(m.orders, order)
	return nil
}

func (m *mockJournal) SaveClosedTrade(ctx context.Context, trade *domain.ClosedTrade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, trade)
	return nil
}

func (m *mockJournal) FindClosedTrades(ctx context.Context, symbol string, limit int) ([]*domain.ClosedTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.ClosedTrade(nil), m.trades...), nil
}

func (m *mockJournal) TotalRealizedPnL(ctx context.Context) (float64, error) { return 0, nil }

func (m *mockJournal) CountTradesSince(ctx context.Context, symbol string, since time.Time) (int, error) {
	return 0, nil
}

func (m *mockJournal) Close() error { return nil }

func (m *mockJournal) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders), len(m.trades)
}

type mockFeed struct {
	mu    sync.Mutex
	chans map[string]chan domain.Tick
	err   error
}

func newMockFeed() *mockFeed {
	return &mockFeed{chans: make(map[string]chan domain.Tick)}
}

func (f *mockFeed) Subscribe(ctx context.Context, symbol string) (<-chan domain.Tick, func(), error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan domain.Tick, 16)
	f.chans[symbol] = ch
	var once sync.Once
	return ch, func() { once.Do(func() { close(ch) }) }, nil
}

func (f *mockFeed) subscribed(symbol string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.chans[symbol]
	return ok
}

func (f *mockFeed) push(tick domain.Tick) {
	f.mu.Lock()
	ch := f.chans[tick.Symbol]
	f.mu.Unlock()
	ch <- tick
}

type fakeTicker struct{ ch chan time.Time }

func (t *fakeTicker) Chan() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()                  {}

// syncBuffer is a goroutine-safe bytes.Buffer.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fixture struct {
	engine *paper.Engine
	bus    *events.Bus
	feed   *mockFeed
	risk   *risk.Manager
	logger *mockLogger
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	logger := &mockLogger{}
	feed := newMockFeed()
	bus := events.NewBus(logger)
	engine, err := paper.New(paper.Config{
		InitialBalance: 10000,
		Currency:       "USDT",
		MakerFeeRate:   0.001,
		TakerFeeRate:   0.001,
		SlippageRate:   0.0005,
	}, feed, bus, logger)
	require.NoError(t, err)
	return fixture{
		engine: engine,
		bus:    bus,
		feed:   feed,
		risk:   risk.NewManager(risk.Config{PositionSizePercent: 0.1, StopLossPercent: 0.5, TakeProfitPercent: 0.5}),
		logger: logger,
	}
}

func TestNewTradingService(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name        string
		cfg         Config
		opts        []Option
		nilEngine   bool
		expectError bool
	}{
		{name: "valid", cfg: Config{Symbols: []string{"btcusdt"}}},
		{name: "missing engine", cfg: Config{Symbols: []string{"BTCUSDT"}}, nilEngine: true, expectError: true},
		{name: "no symbols", cfg: Config{}, expectError: true},
		{name: "negative quantity", cfg: Config{Symbols: []string{"BTCUSDT"}, OrderQuantity: -1}, expectError: true},
		{name: "strategy enabled without strategy", cfg: Config{Symbols: []string{"BTCUSDT"}, StrategyEnabled: true}, expectError: true},
		{
			name: "strategy enabled with strategy",
			cfg:  Config{Symbols: []string{"BTCUSDT"}, StrategyEnabled: true},
			opts: []Option{WithStrategy(&mockStrategy{})},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := f.engine
			if tt.nilEngine {
				engine = nil
			}
			svc, err := NewTradingService(tt.cfg, f.logger, engine, f.bus, f.risk, tt.opts...)
			if tt.expectError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, svc.cfg.Symbols)
			assert.Equal(t, defaultHistorySize, svc.cfg.HistorySize)
		})
	}
}

func TestTradingService_StrategyRoundTrip(t *testing.T) {
	f := newFixture(t)
	journal := &mockJournal{}
	out := &syncBuffer{}
	svc, err := NewTradingService(
		Config{Symbols: []string{"BTCUSDT"}, OrderQuantity: 0.1, StrategyEnabled: true},
		f.logger, f.engine, f.bus, f.risk,
		WithStrategy(&mockStrategy{closeAt: 102}),
		WithJournal(journal),
		WithStatsOutput(out),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool { return f.feed.subscribed("BTCUSDT") }, time.Second, 5*time.Millisecond)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	f.feed.push(domain.Tick{Symbol: "BTCUSDT", Price: 100, Timestamp: start})
	require.Eventually(t, func() bool { return len(f.engine.Positions()) == 1 }, time.Second, 5*time.Millisecond)

	pos := f.engine.Positions()[0]
	assert.Equal(t, "mock", pos.StrategyName)
	assert.InDelta(t, 0.1, pos.Quantity, 1e-9)
	assert.InDelta(t, 50.0, pos.StopLoss, 1e-6)
	assert.InDelta(t, 150.0, pos.TakeProfit, 1e-6)

	f.feed.push(domain.Tick{Symbol: "BTCUSDT", Price: 101, Timestamp: start.Add(time.Second)})
	f.feed.push(domain.Tick{Symbol: "BTCUSDT", Price: 102, Timestamp: start.Add(2 * time.Second)})
	require.Eventually(t, func() bool {
		orders, trades := journal.counts()
		return orders == 2 && trades == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}

	trades, _ := journal.FindClosedTrades(context.Background(), "", 0)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.ExitReasonStrategy, trades[0].ExitReason)
	assert.Empty(t, f.engine.Positions())
	assert.Empty(t, f.engine.Subscriptions())
	assert.Contains(t, out.String(), "Equity")
}

func TestTradingService_PeriodicStats(t *testing.T) {
	f := newFixture(t)
	out := &syncBuffer{}
	ticker := &fakeTicker{ch: make(chan time.Time)}
	svc, err := NewTradingService(
		Config{Symbols: []string{"BTCUSDT"}, StatsInterval: time.Minute},
		f.logger, f.engine, f.bus, f.risk,
		WithStatsOutput(out),
		WithTicker(func(time.Duration) Ticker { return ticker }),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	ticker.ch <- time.Now()
	require.Eventually(t, func() bool { return bytes.Contains([]byte(out.String()), []byte("Win rate")) }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestTradingService_SubscribeFailure(t *testing.T) {
	f := newFixture(t)
	f.feed.err = errors.New("feed down")
	svc, err := NewTradingService(Config{Symbols: []string{"BTCUSDT"}}, f.logger, f.engine, f.bus, f.risk, WithStatsOutput(&syncBuffer{}))
	require.NoError(t, err)

	err = svc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feed down")
}

func TestStrategyRunner_RecordPriceTrimsHistory(t *testing.T) {
	f := newFixture(t)
	runner, err := NewStrategyRunner(RunnerConfig{HistorySize: 3}, f.engine, &mockStrategy{}, f.risk, f.logger)
	require.NoError(t, err)

	var prices []float64
	for i := 1; i <= 5; i++ {
		prices = runner.recordPrice(domain.Tick{Symbol: "BTCUSDT", Price: float64(i)})
	}
	assert.Equal(t, []float64{3, 4, 5}, prices)
}

// warmupStrategy needs five prices before it decides anything.
type warmupStrategy struct{ mockStrategy }

func (w *warmupStrategy) RequiredDataPoints() int { return 5 }

func TestStrategyRunner_OnTick(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name          string
		strategy      ports.Strategy
		quantity      float64
		ticks         []float64
		wantPositions int
		wantTrades    int
	}{
		{name: "enters on first tick", strategy: &mockStrategy{closeAt: 1000}, quantity: 0.1, ticks: []float64{100}, wantPositions: 1},
		{name: "enters then closes", strategy: &mockStrategy{closeAt: 105}, quantity: 0.1, ticks: []float64{100, 103, 106}, wantTrades: 1},
		{name: "sizes from risk when quantity is zero", strategy: &mockStrategy{closeAt: 1000}, ticks: []float64{100}, wantPositions: 1},
		{name: "waits for enough history", strategy: &warmupStrategy{mockStrategy{closeAt: 1000}}, quantity: 0.1, ticks: []float64{100, 101, 102}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			runner, err := NewStrategyRunner(RunnerConfig{OrderQuantity: tt.quantity}, f.engine, tt.strategy, f.risk, f.logger)
			require.NoError(t, err)

			for i, price := range tt.ticks {
				tick := domain.Tick{Symbol: "BTCUSDT", Price: price, Timestamp: start.Add(time.Duration(i) * time.Second)}
				f.engine.ProcessTick(context.Background(), tick)
				runner.OnTick(context.Background(), tick)
			}
			assert.Len(t, f.engine.Positions(), tt.wantPositions)
			assert.Len(t, f.engine.ClosedTrades(), tt.wantTrades)
			if tt.wantTrades > 0 {
				assert.Equal(t, domain.ExitReasonStrategy, f.engine.ClosedTrades()[0].ExitReason)
			}
		})
	}
}

func TestNewStrategyRunner_RaisesHistorySize(t *testing.T) {
	f := newFixture(t)
	runner, err := NewStrategyRunner(RunnerConfig{HistorySize: 2}, f.engine, &warmupStrategy{}, f.risk, f.logger)
	require.NoError(t, err)
	assert.Equal(t, 5, runner.cfg.HistorySize)

	_, err = NewStrategyRunner(RunnerConfig{}, f.engine, nil, f.risk, f.logger)
	assert.Error(t, err)
}

var _ ports.TradeJournal = (*mockJournal)(nil)
