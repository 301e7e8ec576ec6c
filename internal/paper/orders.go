package paper

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"paperTrader/internal/domain"
	"paperTrader/internal/ports"
)

// PlaceOrderRequest is the command to place a simulated order.
type PlaceOrderRequest struct {
	Symbol   string           `json:"symbol"`
	Type     domain.OrderType `json:"type"`
	Side     domain.OrderSide `json:"side"`
	Quantity float64          `json:"quantity"`
	// Price is the limit or trigger price. For MARKET orders it is only a
	// fallback reference when no tick has been seen for the symbol.
	Price        float64 `json:"price,omitempty"`
	StrategyName string  `json:"strategyName,omitempty"`
	Reason       string  `json:"reason,omitempty"`
	// PositionID targets a specific open position to close or protect.
	PositionID string  `json:"positionId,omitempty"`
	StopLoss   float64 `json:"stopLoss,omitempty"`
	TakeProfit float64 `json:"takeProfit,omitempty"`
}

// RejectionError is returned alongside a REJECTED order.
type RejectionError struct {
	Reason string
	Err    error
}

func (e *RejectionError) Error() string { return e.Reason }

func (e *RejectionError) Unwrap() error { return e.Err }

// Result reports the effects of one order operation. Every pointer is a copy.
type Result struct {
	Order     *domain.Order
	Opened    *domain.Position
	Closed    *domain.ClosedTrade
	Cancelled []*domain.Order
}

// OrderManager owns the order lifecycle and commits fills to the Account.
// It is not safe for concurrent use; the engine serializes access to it.
type OrderManager struct {
	account *Account
	fees    FeeModel
	logger  ports.Logger
	now     func() time.Time
	newID   func() string

	orders     map[string]*domain.Order
	pending    []*domain.Order
	seq        uint64
	lastPrices map[string]float64
}

// NewOrderManager creates an order manager committing to account.
func NewOrderManager(account *Account, logger ports.Logger) (*OrderManager, error) {
	if account == nil {
		return nil, errors.New("account is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	return &OrderManager{
		account:    account,
		fees:       account.Fees(),
		logger:     logger,
		now:        time.Now,
		newID:      uuid.NewString,
		orders:     make(map[string]*domain.Order),
		lastPrices: make(map[string]float64),
	}, nil
}

// LastPrice returns the last observed price for symbol.
func (m *OrderManager) LastPrice(symbol string) (float64, bool) {
	p, ok := m.lastPrices[symbol]
	return p, ok
}

// ObservePrice records the latest price for symbol used by market orders.
func (m *OrderManager) ObservePrice(tick domain.Tick) {
	if positive(tick.Price) {
		m.lastPrices[tick.Symbol] = tick.Price
	}
}

// PlaceOrder validates and places an order. Validation failures return a nil
// result and an error wrapping ports.ErrInvalidRequest with no state change.
// Business rejections return the REJECTED order and a *RejectionError.
func (m *OrderManager) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Result, error) {
	op := "placeOrder"
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if req.Type == "" {
		req.Type = domain.OrderTypeMarket
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	m.seq++
	order := &domain.Order{
		ID:           m.newID(),
		Symbol:       req.Symbol,
		Type:         req.Type,
		Side:         req.Side,
		Status:       domain.OrderStatusPending,
		Quantity:     req.Quantity,
		StrategyName: req.StrategyName,
		Reason:       req.Reason,
		StopLoss:     req.StopLoss,
		TakeProfit:   req.TakeProfit,
		CreatedAt:    m.now(),
	}
	order.SetSeq(m.seq)
	if req.Type != domain.OrderTypeMarket {
		order.LimitPrice = req.Price
	}
	m.orders[order.ID] = order

	target, opening, err := m.resolveTarget(req)
	if err != nil {
		return m.reject(ctx, order, err)
	}
	if target != nil {
		order.PositionID = target.ID
	}

	switch req.Type {
	case domain.OrderTypeMarket:
		refPrice, ok := m.lastPrices[req.Symbol]
		if !ok {
			refPrice = req.Price
		}
		if refPrice <= 0 {
			return m.reject(ctx, order, fmt.Errorf("%w for %s", ports.ErrNoMarketPrice, req.Symbol))
		}
		q := m.fees.quote(order.Side, order.Quantity, refPrice, false)
		if err := m.account.CanPlaceOrder(order.Side, order.Quantity, q.price, opening); err != nil {
			return m.reject(ctx, order, err)
		}
		if opening {
			if err := m.checkStopCover(order, q); err != nil {
				return m.reject(ctx, order, err)
			}
			if err := m.lock(order, q.value+q.fee); err != nil {
				return m.reject(ctx, order, err)
			}
			return m.fillOpen(ctx, order, q)
		}
		return m.fillClose(ctx, order, *target, q, exitReasonFor(order))

	case domain.OrderTypeLimit:
		if err := m.account.CanPlaceOrder(order.Side, order.Quantity, order.LimitPrice, opening); err != nil {
			return m.reject(ctx, order, err)
		}
		if opening {
			if err := m.checkStopCover(order, m.fees.quote(order.Side, order.Quantity, order.LimitPrice, true)); err != nil {
				return m.reject(ctx, order, err)
			}
			value := order.Quantity * order.LimitPrice
			if err := m.lock(order, value+m.fees.Fee(value, false)); err != nil {
				return m.reject(ctx, order, err)
			}
		}

	case domain.OrderTypeStopLoss, domain.OrderTypeTakeProfit:
		if opening {
			return m.reject(ctx, order, fmt.Errorf("%w: %s order needs an open position on %s",
				ports.ErrPositionNotFound, order.Type, order.Symbol))
		}
	}

	m.pending = append(m.pending, order)
	m.logger.Info(ctx, op+": order resting", map[string]interface{}{
		"orderID":    order.ID,
		"symbol":     order.Symbol,
		"type":       order.Type,
		"side":       order.Side,
		"quantity":   order.Quantity,
		"price":      order.LimitPrice,
		"positionID": order.PositionID,
	})
	return &Result{Order: snapshot(order)}, nil
}

// EvaluatePendingOrders fills every resting order on the tick's symbol whose
// trigger is met, earliest created first.
func (m *OrderManager) EvaluatePendingOrders(ctx context.Context, tick domain.Tick) []Result {
	m.ObservePrice(tick)

	var candidates []*domain.Order
	for _, o := range m.pending {
		if o.Symbol == tick.Symbol {
			candidates = append(candidates, o)
		}
	}
	sortOrders(candidates)

	var results []Result
	for _, order := range candidates {
		// An earlier fill in this pass may have cancelled it.
		if order.Status != domain.OrderStatusPending || !m.triggered(order, tick.Price) {
			continue
		}
		res, err := m.fillPending(ctx, order, tick)
		if err != nil && errors.Is(err, ports.ErrInvariantViolation) {
			fields := map[string]interface{}{
				"orderID": order.ID,
				"symbol":  order.Symbol,
			}
			if res == nil {
				m.logger.Error(ctx, err, "evaluatePendingOrders: fill failed, order stays pending", fields)
				continue
			}
			m.logger.Error(ctx, err, "evaluatePendingOrders: resting order rejected on fill", fields)
		}
		if res != nil {
			results = append(results, *res)
		}
	}
	return results
}

// CancelOrder cancels a PENDING order and releases its locked cash. Cancelling
// a terminal order fails with ports.ErrInvalidState and changes nothing.
func (m *OrderManager) CancelOrder(ctx context.Context, id string) (*domain.Order, error) {
	order, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrOrderNotFound, id)
	}
	if order.Status.IsTerminal() {
		return snapshot(order), fmt.Errorf("%w: order %s is already %s", ports.ErrInvalidState, id, order.Status)
	}
	m.cancel(order)
	m.logger.Info(ctx, "cancelOrder: order cancelled", map[string]interface{}{
		"orderID": order.ID,
		"symbol":  order.Symbol,
	})
	return snapshot(order), nil
}

// ClosePosition closes an open position at the last observed price with a
// market order in the closing direction. A close the account cannot fund
// fails with ports.ErrInsufficientFunds before any order is created.
func (m *OrderManager) ClosePosition(ctx context.Context, positionID string, reason domain.ExitReason) (*Result, error) {
	pos, ok := m.account.Position(positionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrPositionNotFound, positionID)
	}
	if !reason.Valid() {
		reason = domain.ExitReasonManual
	}

	refPrice, ok := m.lastPrices[pos.Symbol]
	if !ok {
		refPrice = pos.CurrentPrice
	}
	q := m.fees.quote(pos.ClosingSide(), pos.Quantity, refPrice, false)
	if err := m.account.CanClosePosition(pos.ID, q.price, q.fee); err != nil {
		return nil, err
	}

	m.seq++
	order := &domain.Order{
		ID:           m.newID(),
		Symbol:       pos.Symbol,
		Type:         domain.OrderTypeMarket,
		Side:         pos.ClosingSide(),
		Status:       domain.OrderStatusPending,
		Quantity:     pos.Quantity,
		StrategyName: pos.StrategyName,
		Reason:       string(reason),
		PositionID:   pos.ID,
		CreatedAt:    m.now(),
	}
	order.SetSeq(m.seq)
	m.orders[order.ID] = order

	return m.fillClose(ctx, order, pos, q, reason)
}

// Order returns a copy of the order with id.
func (m *OrderManager) Order(id string) (*domain.Order, bool) {
	o, ok := m.orders[id]
	if !ok {
		return nil, false
	}
	return snapshot(o), true
}

// Orders returns copies of all orders, including terminal ones, in placement order.
func (m *OrderManager) Orders() []*domain.Order {
	out := make([]*domain.Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, snapshot(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq() < out[j].Seq() })
	return out
}

// PendingOrders returns copies of the resting orders, earliest created first.
func (m *OrderManager) PendingOrders() []*domain.Order {
	out := make([]*domain.Order, 0, len(m.pending))
	for _, o := range m.pending {
		out = append(out, snapshot(o))
	}
	sortOrders(out)
	return out
}

func validateRequest(req PlaceOrderRequest) error {
	var errs []string
	if req.Symbol == "" {
		errs = append(errs, "symbol is required")
	}
	if req.Quantity <= 0 || math.IsNaN(req.Quantity) || math.IsInf(req.Quantity, 0) {
		errs = append(errs, fmt.Sprintf("quantity must be positive, got %v", req.Quantity))
	}
	if req.Side != domain.Buy && req.Side != domain.Sell {
		errs = append(errs, fmt.Sprintf("unknown side %q", req.Side))
	}
	switch req.Type {
	case domain.OrderTypeMarket:
		if req.Price < 0 || !finite(req.Price) {
			errs = append(errs, fmt.Sprintf("price must be finite and not negative, got %v", req.Price))
		}
	case domain.OrderTypeLimit, domain.OrderTypeStopLoss, domain.OrderTypeTakeProfit:
		if !positive(req.Price) {
			errs = append(errs, fmt.Sprintf("%s order requires a positive price, got %v", req.Type, req.Price))
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown order type %q", req.Type))
	}
	if req.StopLoss < 0 || req.TakeProfit < 0 || !finite(req.StopLoss) || !finite(req.TakeProfit) {
		errs = append(errs, "stop-loss and take-profit must be finite and not negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ports.ErrInvalidRequest, strings.Join(errs, "; "))
	}
	return nil
}

// resolveTarget finds the position an order closes or protects. A nil
// position with opening=true means the order opens new exposure.
func (m *OrderManager) resolveTarget(req PlaceOrderRequest) (*domain.Position, bool, error) {
	var (
		pos   domain.Position
		found bool
	)
	if req.PositionID != "" {
		pos, found = m.account.Position(req.PositionID)
		if !found {
			return nil, false, fmt.Errorf("%w: %s", ports.ErrPositionNotFound, req.PositionID)
		}
		if pos.ClosingSide() != req.Side {
			return nil, false, fmt.Errorf("%w: %s order cannot close %s position %s",
				ports.ErrInvalidRequest, req.Side, pos.Side, pos.ID)
		}
	} else {
		want := domain.SideLong
		if req.Side == domain.Buy {
			want = domain.SideShort
		}
		pos, found = m.account.FindOpen(req.Symbol, req.StrategyName, want)
	}

	if !found {
		if req.Side == domain.Sell && !m.account.AllowShorts() && req.Type != domain.OrderTypeStopLoss && req.Type != domain.OrderTypeTakeProfit {
			return nil, false, fmt.Errorf("%w: no open long position on %s to sell", ports.ErrShortsDisabled, req.Symbol)
		}
		return nil, true, nil
	}
	if math.Abs(pos.Quantity-req.Quantity) > epsilon*math.Max(1, pos.Quantity) {
		return nil, false, fmt.Errorf("%w: quantity %v does not match position quantity %v, partial closes are not supported",
			ports.ErrInvalidRequest, req.Quantity, pos.Quantity)
	}
	return &pos, false, nil
}

// checkStopCover refuses a short entry whose stop-loss buy-back could not be
// paid for out of cash once the entry q has filled.
func (m *OrderManager) checkStopCover(order *domain.Order, q fill) error {
	if order.Side != domain.Sell || order.StopLoss <= 0 {
		return nil
	}
	cover := m.fees.quote(domain.Buy, order.Quantity, order.StopLoss, false)
	return m.account.CanCoverShort(q.value, q.fee, cover.value+cover.fee)
}

func (m *OrderManager) triggered(order *domain.Order, price float64) bool {
	switch order.Type {
	case domain.OrderTypeLimit:
		if order.Side == domain.Buy {
			return price <= order.LimitPrice
		}
		return price >= order.LimitPrice
	case domain.OrderTypeStopLoss:
		// A SELL stop protects a long, a BUY stop protects a short.
		if order.Side == domain.Sell {
			return price <= order.LimitPrice
		}
		return price >= order.LimitPrice
	case domain.OrderTypeTakeProfit:
		if order.Side == domain.Sell {
			return price >= order.LimitPrice
		}
		return price <= order.LimitPrice
	}
	return false
}

func (m *OrderManager) fillPending(ctx context.Context, order *domain.Order, tick domain.Tick) (*Result, error) {
	m.removePending(order.ID)

	if order.PositionID == "" {
		// Resting opening order: release the reservation and re-check limits
		// against the current account state.
		m.account.UnlockCash(order.LockedCash)
		order.LockedCash = 0
		q := m.fees.quote(order.Side, order.Quantity, order.LimitPrice, true)
		if err := m.account.CanPlaceOrder(order.Side, order.Quantity, q.price, true); err != nil {
			return m.reject(ctx, order, err)
		}
		if err := m.checkStopCover(order, q); err != nil {
			return m.reject(ctx, order, err)
		}
		return m.fillOpen(ctx, order, q)
	}

	pos, ok := m.account.Position(order.PositionID)
	if !ok {
		return m.reject(ctx, order, fmt.Errorf("%w: %s", ports.ErrPositionNotFound, order.PositionID))
	}

	var (
		q      fill
		reason domain.ExitReason
	)
	switch order.Type {
	case domain.OrderTypeStopLoss:
		q = m.fees.quote(order.Side, order.Quantity, tick.Price, false)
		reason = domain.ExitReasonStopLoss
	case domain.OrderTypeTakeProfit:
		q = m.fees.quote(order.Side, order.Quantity, tick.Price, false)
		reason = domain.ExitReasonTakeProfit
	default:
		q = m.fees.quote(order.Side, order.Quantity, order.LimitPrice, true)
		reason = exitReasonFor(order)
	}

	res, err := m.closeFill(ctx, order, pos, q, reason)
	if err != nil {
		if errors.Is(err, ports.ErrInvariantViolation) {
			// Keep it resting so a later tick can retry.
			m.pending = append(m.pending, order)
			return nil, err
		}
		return m.reject(ctx, order, err)
	}
	return res, nil
}

func (m *OrderManager) fillOpen(ctx context.Context, order *domain.Order, q fill) (*Result, error) {
	m.account.UnlockCash(order.LockedCash)
	order.LockedCash = 0

	side := domain.SideLong
	if order.Side == domain.Sell {
		side = domain.SideShort
	}
	filledAt := m.now()
	pos, err := m.account.OpenPosition(OpenPositionParams{
		ID:            m.newID(),
		OrderID:       order.ID,
		Symbol:        order.Symbol,
		Side:          side,
		EntryPrice:    q.price,
		Quantity:      order.Quantity,
		EntryFees:     q.fee,
		EntrySlippage: q.slippage,
		StopLoss:      order.StopLoss,
		TakeProfit:    order.TakeProfit,
		StrategyName:  order.StrategyName,
		EntryTime:     filledAt,
	})
	if err != nil {
		return m.reject(ctx, order, err)
	}

	m.markFilled(order, q, filledAt)
	order.PositionID = pos.ID

	m.logger.Info(ctx, "fillOrder: position opened", map[string]interface{}{
		"orderID":    order.ID,
		"positionID": pos.ID,
		"symbol":     pos.Symbol,
		"side":       pos.Side,
		"quantity":   pos.Quantity,
		"entryPrice": pos.EntryPrice,
		"fee":        q.fee,
	})
	return &Result{Order: snapshot(order), Opened: pos}, nil
}

func (m *OrderManager) fillClose(ctx context.Context, order *domain.Order, pos domain.Position, q fill, reason domain.ExitReason) (*Result, error) {
	res, err := m.closeFill(ctx, order, pos, q, reason)
	if err != nil {
		return m.reject(ctx, order, err)
	}
	return res, nil
}

// closeFill books the exit without touching the order on failure.
func (m *OrderManager) closeFill(ctx context.Context, order *domain.Order, pos domain.Position, q fill, reason domain.ExitReason) (*Result, error) {
	realized, err := m.account.ClosePosition(pos.ID, q.price, q.fee)
	if err != nil {
		return nil, err
	}

	filledAt := m.now()
	m.markFilled(order, q, filledAt)

	var pnlPercent float64
	if basis := pos.CostBasis(); basis > 0 {
		pnlPercent = realized / basis * 100
	}
	trade := &domain.ClosedTrade{
		ID:           m.newID(),
		PositionID:   pos.ID,
		Symbol:       pos.Symbol,
		Side:         pos.Side,
		EntryPrice:   pos.EntryPrice,
		ExitPrice:    q.price,
		Quantity:     pos.Quantity,
		EntryTime:    pos.EntryTime,
		ExitTime:     filledAt,
		PnL:          realized,
		PnLPercent:   pnlPercent,
		Fees:         pos.EntryFees + q.fee,
		Slippage:     pos.EntrySlippage + q.slippage,
		EntryOrderID: pos.OrderID,
		ExitOrderID:  order.ID,
		ExitReason:   reason,
		StrategyName: pos.StrategyName,
	}

	// Resting orders bound to the closed position can no longer fill.
	var cancelled []*domain.Order
	for _, o := range append([]*domain.Order(nil), m.pending...) {
		if o.PositionID == pos.ID && o.ID != order.ID {
			m.cancel(o)
			cancelled = append(cancelled, snapshot(o))
		}
	}

	m.logger.Info(ctx, "fillOrder: position closed", map[string]interface{}{
		"orderID":    order.ID,
		"positionID": pos.ID,
		"symbol":     pos.Symbol,
		"exitPrice":  q.price,
		"pnl":        realized,
		"reason":     reason,
		"cancelled":  len(cancelled),
	})
	return &Result{Order: snapshot(order), Closed: trade, Cancelled: cancelled}, nil
}

func (m *OrderManager) lock(order *domain.Order, amount float64) error {
	if err := m.account.LockCash(amount); err != nil {
		return err
	}
	order.LockedCash = amount
	return nil
}

func (m *OrderManager) markFilled(order *domain.Order, q fill, at time.Time) {
	m.transition(order, domain.OrderStatusFilled)
	order.FilledQty = order.Quantity
	order.AvgFillPrice = q.price
	order.Fees += q.fee
	order.Slippage += q.slippage
	order.FilledAt = &at
}

func (m *OrderManager) cancel(order *domain.Order) {
	m.account.UnlockCash(order.LockedCash)
	order.LockedCash = 0
	m.transition(order, domain.OrderStatusCancelled)
	at := m.now()
	order.CancelledAt = &at
	m.removePending(order.ID)
}

func (m *OrderManager) reject(ctx context.Context, order *domain.Order, err error) (*Result, error) {
	m.account.UnlockCash(order.LockedCash)
	order.LockedCash = 0
	m.transition(order, domain.OrderStatusRejected)
	order.RejectReason = err.Error()
	m.removePending(order.ID)

	m.logger.Warn(ctx, "placeOrder: order rejected", map[string]interface{}{
		"orderID": order.ID,
		"symbol":  order.Symbol,
		"side":    order.Side,
		"reason":  order.RejectReason,
	})
	return &Result{Order: snapshot(order)}, &RejectionError{Reason: order.RejectReason, Err: err}
}

// transition moves order to next. Illegal transitions are programming errors.
func (m *OrderManager) transition(order *domain.Order, next domain.OrderStatus) {
	if !order.Status.CanTransitionTo(next) {
		panic(fmt.Sprintf("paper: illegal order transition %s -> %s for %s", order.Status, next, order.ID))
	}
	order.Status = next
}

func (m *OrderManager) removePending(id string) {
	for i, o := range m.pending {
		if o.ID == id {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return
		}
	}
}

func exitReasonFor(order *domain.Order) domain.ExitReason {
	if r := domain.ExitReason(order.Reason); r.Valid() {
		return r
	}
	return domain.ExitReasonManual
}

func snapshot(o *domain.Order) *domain.Order {
	cp := *o
	if o.FilledAt != nil {
		t := *o.FilledAt
		cp.FilledAt = &t
	}
	if o.CancelledAt != nil {
		t := *o.CancelledAt
		cp.CancelledAt = &t
	}
	return &cp
}

// sortOrders orders by creation time, then placement sequence.
func sortOrders(orders []*domain.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.Before(orders[j].CreatedAt)
		}
		return orders[i].Seq() < orders[j].Seq()
	})
}
