package paper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"paperTrader/internal/domain"
	"paperTrader/internal/events"
	"paperTrader/internal/ports"
	"paperTrader/internal/risk"
)

// Config holds the engine settings. The engine never reads the environment.
type Config struct {
	InitialBalance         float64
	Currency               string
	MakerFeeRate           float64
	TakerFeeRate           float64
	SlippageRate           float64
	AllowShorts            bool
	MaxPositions           int     // 0 = unlimited
	MaxPositionSizePercent float64 // fraction of equity, 0 = unlimited
}

// ClosePositionRequest closes one position by id, or every position on a symbol.
type ClosePositionRequest struct {
	Symbol     string
	PositionID string
	Reason     domain.ExitReason
}

// Engine is the paper trading orchestrator. Ticks and commands are processed
// one at a time under a single lock, so a fill never interleaves with a
// mark-to-market update.
type Engine struct {
	mu       sync.Mutex
	account  *Account
	orders   *OrderManager
	stats    *StatsTracker
	feed     ports.MarketDataFeed
	bus      *events.Bus
	logger   ports.Logger
	lastTick map[string]time.Time

	// Positions whose auto-close was refused for lack of cash, warned once.
	coverWarned map[string]bool

	wallClock   func() time.Time
	useTickTime bool
	simTime     time.Time

	subMu sync.Mutex
	subs  map[string]func()
	wg    sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock used for order and trade timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.wallClock = now }
}

// WithTickTime stamps orders and trades with the time of the last processed
// tick instead of the wall clock. Used when replaying history.
func WithTickTime() Option {
	return func(e *Engine) { e.useTickTime = true }
}

// New builds an engine with a fresh account, order manager and stats tracker.
// feed and bus may be nil.
func New(cfg Config, feed ports.MarketDataFeed, bus *events.Bus, logger ports.Logger, opts ...Option) (*Engine, error) {
	riskManager := risk.NewManager(risk.Config{
		MaxOpenPositions:       cfg.MaxPositions,
		MaxPositionSizePercent: cfg.MaxPositionSizePercent,
	})
	account, err := NewAccount(AccountConfig{
		InitialBalance: cfg.InitialBalance,
		Currency:       cfg.Currency,
		Fees: FeeModel{
			MakerRate:    cfg.MakerFeeRate,
			TakerRate:    cfg.TakerFeeRate,
			SlippageRate: cfg.SlippageRate,
		},
		AllowShorts: cfg.AllowShorts,
	}, riskManager, logger)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderManager(account, logger)
	if err != nil {
		return nil, err
	}
	return NewEngine(account, orders, NewStatsTracker(cfg.InitialBalance), feed, bus, logger, opts...)
}

// NewEngine wires an engine from existing components.
func NewEngine(account *Account, orders *OrderManager, stats *StatsTracker, feed ports.MarketDataFeed, bus *events.Bus, logger ports.Logger, opts ...Option) (*Engine, error) {
	if account == nil || orders == nil || stats == nil {
		return nil, errors.New("account, order manager and stats tracker are required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	e := &Engine{
		account:   account,
		orders:    orders,
		stats:     stats,
		feed:      feed,
		bus:       bus,
		logger:    logger,
		lastTick:    make(map[string]time.Time),
		coverWarned: make(map[string]bool),
		subs:        make(map[string]func()),
		wallClock:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	account.now = e.now
	orders.now = e.now
	return e, nil
}

// now is the engine clock. Caller holds e.mu when tick time is in use.
func (e *Engine) now() time.Time {
	if e.useTickTime && !e.simTime.IsZero() {
		return e.simTime
	}
	return e.wallClock()
}

// SubscribeToMarketData starts consuming ticks for symbol from the feed.
// Subscribing to an already subscribed symbol is a no-op.
func (e *Engine) SubscribeToMarketData(ctx context.Context, symbol string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return fmt.Errorf("%w: symbol is required", ports.ErrInvalidRequest)
	}
	if e.feed == nil {
		return fmt.Errorf("%w: no market data feed configured", ports.ErrConfigurationError)
	}

	e.subMu.Lock()
	defer e.subMu.Unlock()
	if _, ok := e.subs[symbol]; ok {
		return nil
	}

	ticks, unsubscribe, err := e.feed.Subscribe(ctx, symbol)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", symbol, err)
	}
	e.subs[symbol] = unsubscribe

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for tick := range ticks {
			e.ProcessTick(ctx, tick)
		}
		e.logger.Debug(ctx, "subscribeToMarketData: tick stream ended", map[string]interface{}{"symbol": symbol})
	}()

	e.logger.Info(ctx, "subscribeToMarketData: subscribed", map[string]interface{}{"symbol": symbol})
	return nil
}

// UnsubscribeFromMarketData stops consuming ticks for symbol.
func (e *Engine) UnsubscribeFromMarketData(symbol string) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	e.subMu.Lock()
	unsubscribe, ok := e.subs[symbol]
	delete(e.subs, symbol)
	e.subMu.Unlock()
	if ok {
		unsubscribe()
	}
}

// Subscriptions returns the symbols currently subscribed.
func (e *Engine) Subscriptions() []string {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	out := make([]string, 0, len(e.subs))
	for s := range e.subs {
		out = append(out, s)
	}
	return out
}

// Stop unsubscribes every feed and waits for the tick consumers to exit.
// Resting orders stay pending.
func (e *Engine) Stop() {
	e.subMu.Lock()
	subs := e.subs
	e.subs = make(map[string]func())
	e.subMu.Unlock()

	for _, unsubscribe := range subs {
		unsubscribe()
	}
	e.wg.Wait()
}

// UpdateMarketPrice processes a synthetic tick for symbol at the current
// time, or at the last tick's time for symbol if that is later, so the update
// is never dropped as out of order.
func (e *Engine) UpdateMarketPrice(ctx context.Context, symbol string, price float64) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" || price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return fmt.Errorf("%w: symbol %q price %v", ports.ErrInvalidRequest, symbol, price)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ts := e.wallClock()
	if last, ok := e.lastTick[symbol]; ok && last.After(ts) {
		ts = last
	}
	e.processTick(ctx, domain.Tick{Symbol: symbol, Price: price, Timestamp: ts})
	return nil
}

// ProcessTick runs the tick pipeline: mark open positions, evaluate resting
// orders, then auto-close positions whose stop-loss or take-profit is crossed.
// Ticks older than the last processed tick for the symbol are ignored, as are
// ticks whose price is not a positive finite number.
func (e *Engine) ProcessTick(ctx context.Context, tick domain.Tick) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.processTick(ctx, tick)
}

// processTick is ProcessTick with e.mu held.
func (e *Engine) processTick(ctx context.Context, tick domain.Tick) {
	if tick.Symbol == "" || !positive(tick.Price) {
		e.logger.Debug(ctx, "processTick: dropping invalid tick", map[string]interface{}{
			"symbol": tick.Symbol,
			"price":  tick.Price,
		})
		return
	}

	if last, ok := e.lastTick[tick.Symbol]; ok && tick.Timestamp.Before(last) {
		e.logger.Debug(ctx, "processTick: dropping out-of-order tick", map[string]interface{}{
			"symbol":    tick.Symbol,
			"timestamp": tick.Timestamp,
			"last":      last,
		})
		return
	}
	e.lastTick[tick.Symbol] = tick.Timestamp
	if e.useTickTime {
		e.simTime = tick.Timestamp
	}
	e.publish(domain.Event{Type: domain.EventTick, Timestamp: tick.Timestamp, Tick: &tick})

	for _, pos := range e.account.PositionsBySymbol(tick.Symbol) {
		e.account.UpdatePosition(pos.ID, tick)
	}

	for _, res := range e.orders.EvaluatePendingOrders(ctx, tick) {
		if res.Opened != nil {
			e.account.UpdatePosition(res.Opened.ID, tick)
		}
		e.apply(res)
	}

	for _, pos := range e.account.PositionsBySymbol(tick.Symbol) {
		var reason domain.ExitReason
		switch {
		case pos.StopLossHit(tick.Price):
			reason = domain.ExitReasonStopLoss
		case pos.TakeProfitHit(tick.Price):
			reason = domain.ExitReasonTakeProfit
		default:
			continue
		}
		res, err := e.orders.ClosePosition(ctx, pos.ID, reason)
		if res != nil {
			e.apply(*res)
		}
		if errors.Is(err, ports.ErrInsufficientFunds) {
			if !e.coverWarned[pos.ID] {
				e.coverWarned[pos.ID] = true
				e.logger.Warn(ctx, "processTick: auto-close not fundable, position stays open", map[string]interface{}{
					"positionID": pos.ID,
					"symbol":     pos.Symbol,
					"price":      tick.Price,
					"reason":     reason,
					"error":      err.Error(),
				})
			}
			continue
		}
		if err != nil {
			e.logger.Error(ctx, err, "processTick: auto-close failed", map[string]interface{}{
				"positionID": pos.ID,
				"symbol":     pos.Symbol,
				"reason":     reason,
			})
			continue
		}
		e.logger.Info(ctx, "processTick: position auto-closed", map[string]interface{}{
			"positionID": pos.ID,
			"symbol":     pos.Symbol,
			"price":      tick.Price,
			"reason":     reason,
			"pnl":        res.Closed.PnL,
		})
	}

	e.afterMutation(ctx)
}

// PlaceOrder places an order. Business rejections return the REJECTED order
// together with a *RejectionError; invalid requests return a nil order.
func (e *Engine) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*domain.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	res, err := e.orders.PlaceOrder(ctx, req)
	if res == nil {
		return nil, err
	}
	e.apply(*res)
	e.afterMutation(ctx)
	return res.Order, err
}

// CancelOrder cancels a resting order. Cancelling a terminal order returns an
// error wrapping ports.ErrInvalidState and changes nothing.
func (e *Engine) CancelOrder(ctx context.Context, id string) (*domain.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, err := e.orders.CancelOrder(ctx, id)
	if err != nil {
		return order, err
	}
	e.publish(domain.Event{Type: domain.EventOrderCancelled, Timestamp: e.now(), Order: order})
	e.afterMutation(ctx)
	return order, nil
}

// ClosePosition closes the position with req.PositionID, or every open position
// on req.Symbol, at the last known price. Returns the total realized P&L.
func (e *Engine) ClosePosition(ctx context.Context, req ClosePositionRequest) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var ids []string
	switch {
	case req.PositionID != "":
		ids = []string{req.PositionID}
	case req.Symbol != "":
		for _, pos := range e.account.PositionsBySymbol(strings.ToUpper(strings.TrimSpace(req.Symbol))) {
			ids = append(ids, pos.ID)
		}
		if len(ids) == 0 {
			return 0, fmt.Errorf("%w: no open position on %s", ports.ErrPositionNotFound, req.Symbol)
		}
	default:
		return 0, fmt.Errorf("%w: symbol or position id is required", ports.ErrInvalidRequest)
	}

	reason := req.Reason
	if reason == "" {
		reason = domain.ExitReasonManual
	}
	if !reason.Valid() {
		return 0, fmt.Errorf("%w: unknown exit reason %q", ports.ErrInvalidRequest, reason)
	}

	var realized float64
	var firstErr error
	for _, id := range ids {
		res, err := e.orders.ClosePosition(ctx, id, reason)
		if res != nil {
			e.apply(*res)
		}
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		realized += res.Closed.PnL
	}
	e.afterMutation(ctx)
	return realized, firstErr
}

// GetBalance returns the current balance and raises peak equity if needed.
func (e *Engine) GetBalance() domain.Balance {
	e.mu.Lock()
	defer e.mu.Unlock()
	b := e.account.GetBalance()
	e.stats.RecordBalance(b)
	return b
}

// GetStats returns aggregate statistics including the current equity.
func (e *Engine) GetStats() domain.PaperTradingStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.RecordBalance(e.account.GetBalance())
	return e.stats.Stats()
}

// Positions returns the open positions, oldest first.
func (e *Engine) Positions() []domain.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.account.Positions()
}

// Orders returns every order placed, including terminal ones.
func (e *Engine) Orders() []*domain.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.orders.Orders()
}

// PendingOrders returns the resting orders.
func (e *Engine) PendingOrders() []*domain.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.orders.PendingOrders()
}

// ClosedTrades returns the closed trade history in close order.
func (e *Engine) ClosedTrades() []domain.ClosedTrade {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats.Trades()
}

// PrintStats writes a human readable balance and performance summary to w.
func (e *Engine) PrintStats(w io.Writer) error {
	b := e.GetBalance()
	s := e.GetStats()

	pf := "inf"
	if !math.IsInf(s.ProfitFactor, 0) {
		pf = fmt.Sprintf("%.2f", s.ProfitFactor)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Equity\t%.2f %s\n", b.Equity, b.Currency)
	fmt.Fprintf(tw, "Cash\t%.2f (locked %.2f)\n", b.Cash, b.LockedCash)
	fmt.Fprintf(tw, "Realized P&L\t%.2f\n", b.RealizedPnL)
	fmt.Fprintf(tw, "Unrealized P&L\t%.2f\n", b.UnrealizedPnL)
	fmt.Fprintf(tw, "Open positions\t%d\n", b.OpenPositions)
	fmt.Fprintf(tw, "Return\t%.2f%%\n", s.ReturnPercent)
	fmt.Fprintf(tw, "Trades\t%d (won %d, lost %d)\n", s.TotalTrades, s.WinningTrades, s.LosingTrades)
	fmt.Fprintf(tw, "Win rate\t%.2f%%\n", s.WinRate*100)
	fmt.Fprintf(tw, "Avg win / loss\t%.2f / %.2f\n", s.AverageWin, s.AverageLoss)
	fmt.Fprintf(tw, "Largest win / loss\t%.2f / %.2f\n", s.LargestWin, s.LargestLoss)
	fmt.Fprintf(tw, "Profit factor\t%s\n", pf)
	fmt.Fprintf(tw, "Sharpe ratio\t%.2f\n", s.SharpeRatio)
	fmt.Fprintf(tw, "Max drawdown\t%.2f%%\n", s.MaxDrawdown*100)
	fmt.Fprintf(tw, "Fees / slippage\t%.2f / %.2f\n", s.TotalFees, s.TotalSlippage)
	return tw.Flush()
}

// apply records the effects of an order operation. Caller holds e.mu.
func (e *Engine) apply(res Result) {
	ts := e.now()
	for _, o := range res.Cancelled {
		e.publish(domain.Event{Type: domain.EventOrderCancelled, Timestamp: ts, Order: o})
	}
	if res.Order != nil {
		switch res.Order.Status {
		case domain.OrderStatusRejected:
			e.publish(domain.Event{Type: domain.EventOrderRejected, Timestamp: ts, Order: res.Order})
		case domain.OrderStatusFilled:
			e.publish(domain.Event{Type: domain.EventOrderFilled, Timestamp: ts, Order: res.Order})
		}
	}
	if res.Opened != nil {
		e.publish(domain.Event{Type: domain.EventPositionOpened, Timestamp: ts, Position: res.Opened})
	}
	if res.Closed != nil {
		delete(e.coverWarned, res.Closed.PositionID)
		e.stats.RecordTrade(*res.Closed)
		trade := *res.Closed
		e.publish(domain.Event{Type: domain.EventPositionClosed, Timestamp: ts, Trade: &trade})
	}
}

// afterMutation samples equity and verifies the ledger. Caller holds e.mu.
func (e *Engine) afterMutation(ctx context.Context) {
	e.stats.RecordBalance(e.account.GetBalance())
	if err := e.account.CheckInvariants(); err != nil {
		e.logger.Error(ctx, err, "ledger invariant check failed")
	}
}

func (e *Engine) publish(evt domain.Event) {
	if e.bus != nil {
		e.bus.Publish(evt)
	}
}
