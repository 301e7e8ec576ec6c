package paper

import (
	"bytes"
	"context"
	"math"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paperTrader/internal/domain"
	"paperTrader/internal/events"
	"paperTrader/internal/ports"
)

// Scenario: buy 0.1 BTC at a 50000 tick with 0.1% taker fee and 0.05% slippage.
func TestEngine_MarketBuyScenario(t *testing.T) {
	engine, _ := newTestEngine(t, defaultConfig())
	ctx := context.Background()

	require.NoError(t, engine.UpdateMarketPrice(ctx, "BTCUSDT", 50000))
	order, err := engine.PlaceOrder(ctx, PlaceOrderRequest{Symbol: "BTCUSDT", Type: domain.OrderTypeMarket, Side: domain.Buy, Quantity: 0.1})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, order.Status)
	assert.InDelta(t, 50025.0, order.AvgFillPrice, tolerance)
	assert.InDelta(t, 5.0025, order.Fees, tolerance)

	positions := engine.Positions()
	require.Len(t, positions, 1)
	pos := positions[0]
	assert.InDelta(t, 0.1, pos.Quantity, tolerance)
	assert.InDelta(t, 50025.0, pos.EntryPrice, tolerance)
	assert.InDelta(t, -5.0025, pos.UnrealizedPnL, tolerance)

	b := engine.GetBalance()
	assert.InDelta(t, 10000-5007.5025, b.Cash, tolerance)
	requireInvariants(t, engine)

	// Price rises to 52000.
	require.NoError(t, engine.UpdateMarketPrice(ctx, "BTCUSDT", 52000))
	pos = engine.Positions()[0]
	assert.InDelta(t, 5200.0, pos.MarketValue, tolerance)
	assert.InDelta(t, 5200-(5002.5+5.0025), pos.UnrealizedPnL, tolerance)
	requireInvariants(t, engine)
}

func TestEngine_InsufficientFundsScenario(t *testing.T) {
	engine, _ := newTestEngine(t, defaultConfig())
	ctx := context.Background()
	require.NoError(t, engine.UpdateMarketPrice(ctx, "BTCUSDT", 50000))

	order, err := engine.PlaceOrder(ctx, PlaceOrderRequest{Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrInsufficientFunds)
	assert.Equal(t, domain.OrderStatusRejected, order.Status)

	b := engine.GetBalance()
	assert.Equal(t, 10000.0, b.Cash)
	assert.Zero(t, b.LockedCash)
	assert.Empty(t, engine.Positions())
}

func TestEngine_MaxPositionsScenario(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxPositions = 5
	engine, _ := newTestEngine(t, cfg)
	ctx := context.Background()
	require.NoError(t, engine.UpdateMarketPrice(ctx, "BTCUSDT", 50000))

	for i := 0; i < 5; i++ {
		_, err := engine.PlaceOrder(ctx, PlaceOrderRequest{Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 0.01})
		require.NoError(t, err)
	}
	before := engine.GetBalance()

	order, err := engine.PlaceOrder(ctx, PlaceOrderRequest{Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 0.01})
	assert.ErrorIs(t, err, ports.ErrMaxPositions)
	assert.Equal(t, domain.OrderStatusRejected, order.Status)
	assert.Contains(t, order.RejectReason, "maximum open positions")

	after := engine.GetBalance()
	assert.Equal(t, before.Cash, after.Cash)
	assert.Equal(t, before.LockedCash, after.LockedCash)
	assert.Len(t, engine.Positions(), 5)
}

func TestEngine_StopLossAutoCloseScenario(t *testing.T) {
	engine, _ := newTestEngine(t, defaultConfig())
	ctx := context.Background()
	require.NoError(t, engine.UpdateMarketPrice(ctx, "BTCUSDT", 50000))

	_, err := engine.PlaceOrder(ctx, PlaceOrderRequest{
		Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 0.1, StopLoss: 49000, TakeProfit: 55000,
	})
	require.NoError(t, err)

	require.NoError(t, engine.UpdateMarketPrice(ctx, "BTCUSDT", 49500))
	assert.Len(t, engine.Positions(), 1)

	require.NoError(t, engine.UpdateMarketPrice(ctx, "BTCUSDT", 48900))
	trades := engine.ClosedTrades()
	require.Len(t, trades, 1)
	assert.Equal(t, domain.ExitReasonStopLoss, trades[0].ExitReason)
	assert.InDelta(t, 48900*0.9995, trades[0].ExitPrice, tolerance)
	assert.Empty(t, engine.Positions())

	// Further ticks at the same or lower price never close twice.
	require.NoError(t, engine.UpdateMarketPrice(ctx, "BTCUSDT", 48900))
	require.NoError(t, engine.UpdateMarketPrice(ctx, "BTCUSDT", 47000))
	assert.Len(t, engine.ClosedTrades(), 1)
	assert.Equal(t, 1, engine.GetStats().TotalTrades)
	requireInvariants(t, engine)
}

func TestEngine_StopLossOrderAndThresholdCloseOnce(t *testing.T) {
	engine, _ := newTestEngine(t, defaultConfig())
	ctx := context.Background()
	require.NoError(t, engine.UpdateMarketPrice(ctx, "BTCUSDT", 50000))

	_, err := engine.PlaceOrder(ctx, PlaceOrderRequest{Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 0.1, StopLoss: 49000})
	require.NoError(t, err)
	pos := engine.Positions()[0]

	sl, err := engine.PlaceOrder(ctx, PlaceOrderRequest{
		Symbol: "BTCUSDT", Type: domain.OrderTypeStopLoss, Side: domain.Sell, Quantity: 0.1, Price: 49000, PositionID: pos.ID,
	})
	require.NoError(t, err)

	require.NoError(t, engine.UpdateMarketPrice(ctx, "BTCUSDT", 48000))
	trades := engine.ClosedTrades()
	require.Len(t, trades, 1)
	assert.Equal(t, domain.ExitReasonStopLoss, trades[0].ExitReason)
	assert.Equal(t, sl.ID, trades[0].ExitOrderID)
	assert.Empty(t, engine.PendingOrders())
}

func TestEngine_TakeProfitShort(t *testing.T) {
	cfg := defaultConfig()
	cfg.AllowShorts = true
	engine, _ := newTestEngine(t, cfg)
	ctx := context.Background()
	require.NoError(t, engine.UpdateMarketPrice(ctx, "BTCUSDT", 50000))

	_, err := engine.PlaceOrder(ctx, PlaceOrderRequest{Symbol: "BTCUSDT", Side: domain.Sell, Quantity: 0.1, TakeProfit: 48000})
	require.NoError(t, err)
	requireInvariants(t, engine)

	require.NoError(t, engine.UpdateMarketPrice(ctx, "BTCUSDT", 47900))
	trades := engine.ClosedTrades()
	require.Len(t, trades, 1)
	assert.Equal(t, domain.SideShort, trades[0].Side)
	assert.Equal(t, domain.ExitReasonTakeProfit, trades[0].ExitReason)
	assert.Greater(t, trades[0].PnL, 0.0)
	assert.Zero(t, engine.GetBalance().LockedCash)
	requireInvariants(t, engine)
}

func TestEngine_ClosePosition(t *testing.T) {
	engine, _ := newTestEngine(t, defaultConfig())
	ctx := context.Background()
	require.NoError(t, engine.UpdateMarketPrice(ctx, "BTCUSDT", 50000))
	require.NoError(t, engine.UpdateMarketPrice(ctx, "ETHUSDT", 3000))

	for _, sym := range []string{"BTCUSDT", "BTCUSDT", "ETHUSDT"} {
		_, err := engine.PlaceOrder(ctx, PlaceOrderRequest{Symbol: sym, Side: domain.Buy, Quantity: 0.01})
		require.NoError(t, err)
	}

	_, err := engine.ClosePosition(ctx, ClosePositionRequest{})
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
	_, err = engine.ClosePosition(ctx, ClosePositionRequest{PositionID: "missing"})
	assert.ErrorIs(t, err, ports.ErrPositionNotFound)
	_, err = engine.ClosePosition(ctx, ClosePositionRequest{Symbol: "SOLUSDT"})
	assert.ErrorIs(t, err, ports.ErrPositionNotFound)

	realized, err := engine.ClosePosition(ctx, ClosePositionRequest{Symbol: "BTCUSDT"})
	require.NoError(t, err)
	assert.Less(t, realized, 0.0)
	require.Len(t, engine.Positions(), 1)

	trades := engine.ClosedTrades()
	require.Len(t, trades, 2)
	for _, tr := range trades {
		assert.Equal(t, domain.ExitReasonManual, tr.ExitReason)
	}

	eth := engine.Positions()[0]
	realized, err = engine.ClosePosition(ctx, ClosePositionRequest{PositionID: eth.ID, Reason: domain.ExitReasonStrategy})
	require.NoError(t, err)
	assert.InDelta(t, engine.ClosedTrades()[2].PnL, realized, tolerance)
	assert.Equal(t, domain.ExitReasonStrategy, engine.ClosedTrades()[2].ExitReason)

	b := engine.GetBalance()
	assert.InDelta(t, 10000+b.RealizedPnL, b.Cash, tolerance)
	requireInvariants(t, engine)
}

func TestEngine_ZeroMovementRoundTrip(t *testing.T) {
	cfg := defaultConfig()
	cfg.SlippageRate = 0
	engine, _ := newTestEngine(t, cfg)
	ctx := context.Background()
	require.NoError(t, engine.UpdateMarketPrice(ctx, "BTCUSDT", 50000))

	_, err := engine.PlaceOrder(ctx, PlaceOrderRequest{Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 0.1})
	require.NoError(t, err)
	realized, err := engine.ClosePosition(ctx, ClosePositionRequest{Symbol: "BTCUSDT"})
	require.NoError(t, err)

	trade := engine.ClosedTrades()[0]
	assert.Equal(t, -trade.Fees, realized)
	assert.InDelta(t, -10.0, realized, tolerance)
}

func TestEngine_CancelIsIdempotent(t *testing.T) {
	engine, _ := newTestEngine(t, defaultConfig())
	ctx := context.Background()

	order, err := engine.PlaceOrder(ctx, PlaceOrderRequest{
		Symbol: "BTCUSDT", Type: domain.OrderTypeLimit, Side: domain.Buy, Quantity: 0.1, Price: 49000,
	})
	require.NoError(t, err)
	assert.Greater(t, engine.GetBalance().LockedCash, 0.0)

	_, err = engine.CancelOrder(ctx, order.ID)
	require.NoError(t, err)
	before := engine.GetBalance()

	_, err = engine.CancelOrder(ctx, order.ID)
	assert.ErrorIs(t, err, ports.ErrInvalidState)
	after := engine.GetBalance()
	assert.Equal(t, before.Cash, after.Cash)
	assert.Equal(t, before.LockedCash, after.LockedCash)
	assert.Equal(t, before.Equity, after.Equity)

	// A cancelled limit never fills.
	require.NoError(t, engine.UpdateMarketPrice(ctx, "BTCUSDT", 40000))
	assert.Empty(t, engine.Positions())
}

func TestEngine_LimitOrderFillsOnTick(t *testing.T) {
	engine, _ := newTestEngine(t, defaultConfig())
	ctx := context.Background()

	_, err := engine.PlaceOrder(ctx, PlaceOrderRequest{
		Symbol: "BTCUSDT", Type: domain.OrderTypeLimit, Side: domain.Buy, Quantity: 0.1, Price: 49000, StopLoss: 47000,
	})
	require.NoError(t, err)
	require.NoError(t, engine.UpdateMarketPrice(ctx, "BTCUSDT", 48800))

	positions := engine.Positions()
	require.Len(t, positions, 1)
	// Marked to the filling tick.
	assert.InDelta(t, 4880.0, positions[0].MarketValue, tolerance)
	assert.Equal(t, 47000.0, positions[0].StopLoss)
	requireInvariants(t, engine)
}

func TestEngine_ValidationErrorReturnsNilOrder(t *testing.T) {
	engine, _ := newTestEngine(t, defaultConfig())

	order, err := engine.PlaceOrder(context.Background(), PlaceOrderRequest{Symbol: "", Side: domain.Buy, Quantity: 1})
	assert.Nil(t, order)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)

	assert.ErrorIs(t, engine.UpdateMarketPrice(context.Background(), "BTCUSDT", 0), ports.ErrInvalidRequest)
	assert.ErrorIs(t, engine.UpdateMarketPrice(context.Background(), "", 1), ports.ErrInvalidRequest)
}

func TestEngine_OutOfOrderTicksIgnored(t *testing.T) {
	engine, _ := newTestEngine(t, defaultConfig())
	ctx := context.Background()

	engine.ProcessTick(ctx, tick("BTCUSDT", 50000, testStart.Add(time.Minute)))
	_, err := engine.PlaceOrder(ctx, PlaceOrderRequest{Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 0.1})
	require.NoError(t, err)

	engine.ProcessTick(ctx, tick("BTCUSDT", 10000, testStart))
	assert.InDelta(t, 50025.0, engine.Positions()[0].CurrentPrice, tolerance)
}

func TestEngine_NonFiniteTicksIgnored(t *testing.T) {
	engine, _ := newTestEngine(t, defaultConfig())
	ctx := context.Background()

	engine.ProcessTick(ctx, tick("BTCUSDT", 50000, testStart.Add(time.Minute)))
	_, err := engine.PlaceOrder(ctx, PlaceOrderRequest{Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 0.1})
	require.NoError(t, err)
	before := engine.GetBalance()

	for i, price := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		engine.ProcessTick(ctx, tick("BTCUSDT", price, testStart.Add(time.Duration(i+2)*time.Minute)))

		after := engine.GetBalance()
		assert.Equal(t, before.Equity, after.Equity)
		assert.Equal(t, before.UnrealizedPnL, after.UnrealizedPnL)
		assert.InDelta(t, 50025.0, engine.Positions()[0].CurrentPrice, tolerance)
		requireInvariants(t, engine)
	}

	// A dropped tick does not advance the symbol's clock.
	engine.ProcessTick(ctx, tick("BTCUSDT", 51000, testStart.Add(90*time.Second)))
	assert.InDelta(t, 51000.0, engine.Positions()[0].CurrentPrice, tolerance)
}

func TestEngine_UpdateMarketPriceAfterLaterFeedTick(t *testing.T) {
	engine, _ := newTestEngine(t, defaultConfig())
	ctx := context.Background()

	// The feed tick is stamped well ahead of the engine clock.
	engine.ProcessTick(ctx, tick("BTCUSDT", 50000, testStart.Add(time.Hour)))
	require.NoError(t, engine.UpdateMarketPrice(ctx, "BTCUSDT", 51000))

	order, err := engine.PlaceOrder(ctx, PlaceOrderRequest{Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 0.1})
	require.NoError(t, err)
	assert.InDelta(t, 51000*1.0005, order.AvgFillPrice, tolerance)
}

func TestEngine_ShortStopLossGapBeyondCash(t *testing.T) {
	cfg := defaultConfig()
	cfg.AllowShorts = true
	engine, logger := newTestEngine(t, cfg)
	ctx := context.Background()
	require.NoError(t, engine.UpdateMarketPrice(ctx, "BTCUSDT", 5000))

	_, err := engine.PlaceOrder(ctx, PlaceOrderRequest{Symbol: "BTCUSDT", Side: domain.Sell, Quantity: 1, StopLoss: 6000})
	require.NoError(t, err)

	// The price gaps past the stop to where the buy-back exceeds cash.
	for i := 0; i < 3; i++ {
		require.NoError(t, engine.UpdateMarketPrice(ctx, "BTCUSDT", 16000))
	}
	assert.Len(t, engine.Orders(), 1)
	assert.Len(t, engine.Positions(), 1)
	assert.Empty(t, engine.ClosedTrades())
	assert.Empty(t, logger.errors())

	var warned int
	logger.mu.Lock()
	for _, msg := range logger.warnMsgs {
		if strings.Contains(msg, "auto-close not fundable") {
			warned++
		}
	}
	logger.mu.Unlock()
	assert.Equal(t, 1, warned)

	// Back at the stop the cover is affordable and fills.
	require.NoError(t, engine.UpdateMarketPrice(ctx, "BTCUSDT", 6000))
	trades := engine.ClosedTrades()
	require.Len(t, trades, 1)
	assert.Equal(t, domain.ExitReasonStopLoss, trades[0].ExitReason)
	assert.InDelta(t, 6003.0, trades[0].ExitPrice, tolerance)
	assert.Empty(t, engine.Positions())
	assert.Len(t, engine.Orders(), 2)
	assert.Zero(t, engine.GetBalance().LockedCash)
	requireInvariants(t, engine)
}

func TestEngine_ShortEntryWithUnfundableStopRejected(t *testing.T) {
	cfg := defaultConfig()
	cfg.AllowShorts = true
	engine, _ := newTestEngine(t, cfg)
	ctx := context.Background()
	require.NoError(t, engine.UpdateMarketPrice(ctx, "BTCUSDT", 5000))

	order, err := engine.PlaceOrder(ctx, PlaceOrderRequest{Symbol: "BTCUSDT", Side: domain.Sell, Quantity: 1, StopLoss: 16000})
	assert.ErrorIs(t, err, ports.ErrInsufficientFunds)
	require.NotNil(t, order)
	assert.Equal(t, domain.OrderStatusRejected, order.Status)
	assert.Empty(t, engine.Positions())

	b := engine.GetBalance()
	assert.Equal(t, 10000.0, b.Cash)
	assert.Zero(t, b.LockedCash)
}

func TestEngine_StatsAndDrawdown(t *testing.T) {
	cfg := defaultConfig()
	cfg.SlippageRate = 0
	cfg.TakerFeeRate = 0
	cfg.MakerFeeRate = 0
	engine, _ := newTestEngine(t, cfg)
	ctx := context.Background()

	stats := engine.GetStats()
	assert.Zero(t, stats.TotalTrades)
	assert.Equal(t, 10000.0, stats.CurrentEquity)

	// Win 100.
	require.NoError(t, engine.UpdateMarketPrice(ctx, "BTCUSDT", 1000))
	_, err := engine.PlaceOrder(ctx, PlaceOrderRequest{Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 1})
	require.NoError(t, err)
	require.NoError(t, engine.UpdateMarketPrice(ctx, "BTCUSDT", 1100))
	_, err = engine.ClosePosition(ctx, ClosePositionRequest{Symbol: "BTCUSDT"})
	require.NoError(t, err)

	stats = engine.GetStats()
	assert.True(t, math.IsInf(stats.ProfitFactor, 1))

	// Lose 300 after the peak of 10100.
	_, err = engine.PlaceOrder(ctx, PlaceOrderRequest{Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 1})
	require.NoError(t, err)
	require.NoError(t, engine.UpdateMarketPrice(ctx, "BTCUSDT", 800))
	_, err = engine.ClosePosition(ctx, ClosePositionRequest{Symbol: "BTCUSDT"})
	require.NoError(t, err)

	stats = engine.GetStats()
	assert.Equal(t, 2, stats.TotalTrades)
	assert.Equal(t, 1, stats.WinningTrades)
	assert.InDelta(t, 0.5, stats.WinRate, tolerance)
	assert.InDelta(t, 100.0, stats.LargestWin, tolerance)
	assert.InDelta(t, -300.0, stats.LargestLoss, tolerance)
	assert.InDelta(t, 100.0/300.0, stats.ProfitFactor, tolerance)
	assert.InDelta(t, 300.0/10100.0, stats.MaxDrawdown, tolerance)
	assert.InDelta(t, 9800.0, stats.CurrentEquity, tolerance)
	assert.InDelta(t, -2.0, stats.ReturnPercent, tolerance)

	var buf bytes.Buffer
	require.NoError(t, engine.PrintStats(&buf))
	assert.Contains(t, buf.String(), "Win rate")
	assert.Contains(t, buf.String(), "50.00%")
}

func TestEngine_PublishesEvents(t *testing.T) {
	bus := events.NewBus(nil)
	ch, unsubscribe := bus.Subscribe(32)
	defer unsubscribe()

	engine, err := New(defaultConfig(), nil, bus, &mockLogger{})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, engine.UpdateMarketPrice(ctx, "BTCUSDT", 50000))
	_, err = engine.PlaceOrder(ctx, PlaceOrderRequest{Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 0.1})
	require.NoError(t, err)
	_, err = engine.ClosePosition(ctx, ClosePositionRequest{Symbol: "BTCUSDT"})
	require.NoError(t, err)

	var types []domain.EventType
	for len(ch) > 0 {
		types = append(types, (<-ch).Type)
	}
	assert.Equal(t, []domain.EventType{
		domain.EventTick,
		domain.EventOrderFilled,
		domain.EventPositionOpened,
		domain.EventOrderFilled,
		domain.EventPositionClosed,
	}, types)
}

// fakeFeed hands out one channel per symbol and lets the test push ticks.
type fakeFeed struct {
	mu     sync.Mutex
	chans  map[string]chan domain.Tick
	closed map[string]bool
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{chans: make(map[string]chan domain.Tick), closed: make(map[string]bool)}
}

func (f *fakeFeed) Subscribe(ctx context.Context, symbol string) (<-chan domain.Tick, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan domain.Tick, 16)
	f.chans[symbol] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.closed[symbol] = true
			close(ch)
		})
	}, nil
}

func (f *fakeFeed) push(symbol string, t domain.Tick) {
	f.mu.Lock()
	ch := f.chans[symbol]
	f.mu.Unlock()
	ch <- t
}

func TestEngine_SubscribeToMarketData(t *testing.T) {
	feed := newFakeFeed()
	engine, err := New(defaultConfig(), feed, nil, &mockLogger{})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, engine.SubscribeToMarketData(ctx, "btcusdt"))
	require.NoError(t, engine.SubscribeToMarketData(ctx, "BTCUSDT"))
	assert.Equal(t, []string{"BTCUSDT"}, engine.Subscriptions())

	feed.push("BTCUSDT", tick("BTCUSDT", 50000, testStart))
	assert.Eventually(t, func() bool {
		_, err := engine.PlaceOrder(ctx, PlaceOrderRequest{Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 0.01})
		return err == nil
	}, time.Second, 5*time.Millisecond)

	feed.push("BTCUSDT", tick("BTCUSDT", 51000, testStart.Add(time.Second)))
	assert.Eventually(t, func() bool {
		return engine.Positions()[0].CurrentPrice == 51000
	}, time.Second, 5*time.Millisecond)

	engine.Stop()
	assert.Empty(t, engine.Subscriptions())
	feed.mu.Lock()
	assert.True(t, feed.closed["BTCUSDT"])
	feed.mu.Unlock()
}

func TestEngine_SubscribeWithoutFeed(t *testing.T) {
	engine, _ := newTestEngine(t, defaultConfig())
	err := engine.SubscribeToMarketData(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}

// Random interleavings of ticks and commands must always leave a consistent ledger.
func TestEngine_InvariantsHoldUnderRandomActivity(t *testing.T) {
	cfg := defaultConfig()
	cfg.AllowShorts = true
	cfg.MaxPositions = 4
	engine, logger := newTestEngine(t, cfg)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	symbols := []string{"BTCUSDT", "ETHUSDT"}
	prices := map[string]float64{"BTCUSDT": 50000, "ETHUSDT": 3000}
	var peak float64

	for i := 0; i < 500; i++ {
		sym := symbols[rng.Intn(len(symbols))]
		switch rng.Intn(6) {
		case 0, 1:
			prices[sym] *= 1 + (rng.Float64()-0.5)*0.02
			require.NoError(t, engine.UpdateMarketPrice(ctx, sym, prices[sym]))
		case 2:
			side := domain.Buy
			if rng.Intn(2) == 0 {
				side = domain.Sell
			}
			qty := 1000 / prices[sym] * (0.5 + rng.Float64())
			_, _ = engine.PlaceOrder(ctx, PlaceOrderRequest{
				Symbol: sym, Side: side, Quantity: qty,
				StopLoss: prices[sym] * 0.99, StrategyName: "random",
			})
		case 3:
			_, _ = engine.PlaceOrder(ctx, PlaceOrderRequest{
				Symbol: sym, Type: domain.OrderTypeLimit, Side: domain.Buy,
				Quantity: 500 / prices[sym], Price: prices[sym] * 0.995,
			})
		case 4:
			if pending := engine.PendingOrders(); len(pending) > 0 {
				_, err := engine.CancelOrder(ctx, pending[rng.Intn(len(pending))].ID)
				require.NoError(t, err)
			}
		case 5:
			if positions := engine.Positions(); len(positions) > 0 {
				_, _ = engine.ClosePosition(ctx, ClosePositionRequest{PositionID: positions[rng.Intn(len(positions))].ID})
			}
		}

		requireInvariants(t, engine)
		b := engine.GetBalance()
		require.GreaterOrEqual(t, b.PeakEquity, peak)
		peak = b.PeakEquity
	}
	assert.Empty(t, logger.errors())
}
