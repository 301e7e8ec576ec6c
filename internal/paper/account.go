package paper

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"paperTrader/internal/domain"
	"paperTrader/internal/ports"
	"paperTrader/internal/risk"
)

// epsilon absorbs floating point drift in invariant checks.
const epsilon = 1e-9

// AccountConfig holds the ledger settings.
type AccountConfig struct {
	InitialBalance float64
	Currency       string
	Fees           FeeModel
	AllowShorts    bool
}

// OpenPositionParams describes a fill that opens a position.
type OpenPositionParams struct {
	ID            string
	OrderID       string
	Symbol        string
	Side          domain.PositionSide
	EntryPrice    float64
	Quantity      float64
	EntryFees     float64
	EntrySlippage float64
	StopLoss      float64
	TakeProfit    float64
	StrategyName  string
	EntryTime     time.Time
}

// Account is the paper ledger. It is the only component that moves money or
// mutates positions. Account is not safe for concurrent use; the engine
// serializes access to it.
type Account struct {
	logger      ports.Logger
	risk        *risk.Manager
	fees        FeeModel
	currency    string
	allowShorts bool
	now         func() time.Time

	initialBalance float64
	cash           float64
	lockedCash     float64
	realizedPnL    float64
	peakEquity     float64

	positions map[string]*domain.Position
	openOrder []string // position ids in opening order
}

// NewAccount creates a ledger funded with cfg.InitialBalance.
func NewAccount(cfg AccountConfig, riskManager *risk.Manager, logger ports.Logger) (*Account, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.InitialBalance <= 0 || math.IsNaN(cfg.InitialBalance) || math.IsInf(cfg.InitialBalance, 0) {
		return nil, fmt.Errorf("%w: initial balance must be positive, got %f", ports.ErrConfigurationError, cfg.InitialBalance)
	}
	if cfg.Fees.MakerRate < 0 || cfg.Fees.TakerRate < 0 || cfg.Fees.SlippageRate < 0 {
		return nil, fmt.Errorf("%w: fee and slippage rates must not be negative", ports.ErrConfigurationError)
	}
	if riskManager == nil {
		riskManager = risk.NewManager(risk.Config{})
	}
	return &Account{
		logger:         logger,
		risk:           riskManager,
		fees:           cfg.Fees,
		currency:       cfg.Currency,
		allowShorts:    cfg.AllowShorts,
		now:            time.Now,
		initialBalance: cfg.InitialBalance,
		cash:           cfg.InitialBalance,
		peakEquity:     cfg.InitialBalance,
		positions:      make(map[string]*domain.Position),
	}, nil
}

// CanPlaceOrder checks whether an order of quantity at price may be accepted.
// opening reports whether the order adds exposure (a new long or short) rather
// than closing an existing position. It has no side effects.
func (a *Account) CanPlaceOrder(side domain.OrderSide, quantity, price float64, opening bool) error {
	orderValue := quantity * price
	fee := a.fees.Fee(orderValue, false)
	totalCost := orderValue + fee

	if !opening {
		// Covering a short pays the buy-back out of cash, collateral included.
		if side == domain.Buy && totalCost > a.cash {
			return fmt.Errorf("%w: required %.2f, cash %.2f", ports.ErrInsufficientFunds, totalCost, a.cash)
		}
		return nil
	}

	if side == domain.Sell && !a.allowShorts {
		return ports.ErrShortsDisabled
	}
	// Long: pays value + fee. Short: needs margin equal to value + fee on top
	// of the locked proceeds.
	if available := a.available(); totalCost > available {
		return fmt.Errorf("%w: required %.2f, available %.2f", ports.ErrInsufficientFunds, totalCost, available)
	}
	return a.risk.CheckNewPosition(orderValue, a.equity(), len(a.positions))
}

// LockCash reserves amount for a pending order.
func (a *Account) LockCash(amount float64) error {
	if amount < 0 || math.IsNaN(amount) {
		return fmt.Errorf("%w: lock amount %f", ports.ErrInvalidRequest, amount)
	}
	if available := a.available(); amount > available+epsilon {
		return fmt.Errorf("%w: cannot lock %.2f, available %.2f", ports.ErrInsufficientFunds, amount, available)
	}
	a.lockedCash += amount
	return nil
}

// UnlockCash releases reserved cash. Locked cash never goes below zero.
func (a *Account) UnlockCash(amount float64) {
	a.lockedCash -= amount
	if a.lockedCash < 0 {
		a.lockedCash = 0
	}
}

// OpenPosition books a fill that opens a position and returns a copy of it.
// Initial unrealized P&L is -entryFees.
func (a *Account) OpenPosition(p OpenPositionParams) (*domain.Position, error) {
	if p.ID == "" || p.Symbol == "" || !positive(p.Quantity) || !positive(p.EntryPrice) || !finite(p.EntryFees) {
		return nil, fmt.Errorf("%w: open position %q", ports.ErrInvalidRequest, p.ID)
	}
	if _, exists := a.positions[p.ID]; exists {
		return nil, fmt.Errorf("%w: position %s already open", ports.ErrInvalidRequest, p.ID)
	}

	value := p.Quantity * p.EntryPrice
	newCash, newLocked := a.cash, a.lockedCash
	var collateral float64

	switch p.Side {
	case domain.SideLong:
		newCash -= value + p.EntryFees
	case domain.SideShort:
		if !a.allowShorts {
			return nil, ports.ErrShortsDisabled
		}
		collateral = 2 * value
		newCash += value - p.EntryFees
		newLocked += collateral
	default:
		return nil, fmt.Errorf("%w: position side %q", ports.ErrInvalidRequest, p.Side)
	}

	if err := a.checkCash(newCash, newLocked); err != nil {
		a.logger.Error(context.Background(), err, "openPosition: rejected fill", map[string]interface{}{
			"positionID": p.ID,
			"symbol":     p.Symbol,
			"value":      value,
		})
		return nil, err
	}

	entryTime := p.EntryTime
	if entryTime.IsZero() {
		entryTime = a.now()
	}
	pos := &domain.Position{
		ID:            p.ID,
		OrderID:       p.OrderID,
		Symbol:        p.Symbol,
		Side:          p.Side,
		EntryPrice:    p.EntryPrice,
		EntryTime:     entryTime,
		Quantity:      p.Quantity,
		EntryFees:     p.EntryFees,
		EntrySlippage: p.EntrySlippage,
		StopLoss:      p.StopLoss,
		TakeProfit:    p.TakeProfit,
		StrategyName:  p.StrategyName,
		Collateral:    collateral,
	}
	mark(pos, p.EntryPrice)

	a.cash, a.lockedCash = newCash, newLocked
	a.positions[pos.ID] = pos
	a.openOrder = append(a.openOrder, pos.ID)

	cp := *pos
	return &cp, nil
}

// ClosePosition books the exit of a position and returns its realized P&L:
// revenue - cost - (entryFees + exitFees), sign-inverted for shorts.
func (a *Account) ClosePosition(id string, exitPrice, exitFees float64) (float64, error) {
	pos, ok := a.positions[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ports.ErrPositionNotFound, id)
	}

	newCash, newLocked, realized, err := a.settle(pos, exitPrice, exitFees)
	if err != nil {
		a.logger.Error(context.Background(), err, "closePosition: rejected exit", map[string]interface{}{
			"positionID": id,
			"symbol":     pos.Symbol,
			"exitPrice":  exitPrice,
		})
		return 0, err
	}

	a.cash, a.lockedCash = newCash, newLocked
	a.realizedPnL += realized
	delete(a.positions, id)
	for i, pid := range a.openOrder {
		if pid == id {
			a.openOrder = append(a.openOrder[:i], a.openOrder[i+1:]...)
			break
		}
	}
	return realized, nil
}

// CanClosePosition reports whether the position could be closed at exitPrice
// paying exitFees. A cover the cash cannot fund fails with
// ports.ErrInsufficientFunds. It has no side effects.
func (a *Account) CanClosePosition(id string, exitPrice, exitFees float64) error {
	pos, ok := a.positions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ports.ErrPositionNotFound, id)
	}
	if _, _, _, err := a.settle(pos, exitPrice, exitFees); err != nil {
		if errors.Is(err, ports.ErrInvariantViolation) {
			return fmt.Errorf("%w: closing %s at %.8f: %v", ports.ErrInsufficientFunds, id, exitPrice, err)
		}
		return err
	}
	return nil
}

// CanCoverShort reports whether a short opened now for entryValue less
// entryFee could later be bought back for coverCost without overdrawing cash.
func (a *Account) CanCoverShort(entryValue, entryFee, coverCost float64) error {
	cash := a.cash + entryValue - entryFee - coverCost
	if err := a.checkCash(cash, a.lockedCash); err != nil {
		return fmt.Errorf("%w: buy-back of %.2f at the stop-loss would leave cash %.2f", ports.ErrInsufficientFunds, coverCost, cash)
	}
	return nil
}

// UpdatePosition marks one position to the tick price. Unknown ids, ticks for
// another symbol and non-positive or non-finite prices are ignored.
func (a *Account) UpdatePosition(id string, tick domain.Tick) {
	pos, ok := a.positions[id]
	if !ok || pos.Symbol != tick.Symbol || !positive(tick.Price) {
		return
	}
	mark(pos, tick.Price)
}

// SetProtection replaces the stop-loss and take-profit thresholds. Zero disables one.
func (a *Account) SetProtection(id string, stopLoss, takeProfit float64) error {
	pos, ok := a.positions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ports.ErrPositionNotFound, id)
	}
	if stopLoss < 0 || takeProfit < 0 || !finite(stopLoss) || !finite(takeProfit) {
		return fmt.Errorf("%w: protective prices must be finite and not negative", ports.ErrInvalidRequest)
	}
	pos.StopLoss, pos.TakeProfit = stopLoss, takeProfit
	return nil
}

// GetBalance projects the current balance. It is the only place peak equity
// is raised.
func (a *Account) GetBalance() domain.Balance {
	var unrealized float64
	for _, pos := range a.positions {
		unrealized += pos.UnrealizedPnL
	}
	equity := a.equity()
	if equity > a.peakEquity {
		a.peakEquity = equity
	}
	var drawdown float64
	if a.peakEquity > 0 {
		drawdown = (a.peakEquity - equity) / a.peakEquity
	}

	return domain.Balance{
		Currency:       a.currency,
		InitialBalance: a.initialBalance,
		Cash:           a.cash,
		LockedCash:     a.lockedCash,
		AvailableCash:  a.available(),
		Equity:         equity,
		UnrealizedPnL:  unrealized,
		RealizedPnL:    a.realizedPnL,
		PeakEquity:     a.peakEquity,
		Drawdown:       drawdown,
		OpenPositions:  len(a.positions),
		Timestamp:      a.now(),
	}
}

// Position returns a copy of an open position.
func (a *Account) Position(id string) (domain.Position, bool) {
	pos, ok := a.positions[id]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// Positions returns copies of all open positions, oldest first.
func (a *Account) Positions() []domain.Position {
	out := make([]domain.Position, 0, len(a.openOrder))
	for _, id := range a.openOrder {
		out = append(out, *a.positions[id])
	}
	return out
}

// PositionsBySymbol returns copies of the open positions on symbol, oldest first.
func (a *Account) PositionsBySymbol(symbol string) []domain.Position {
	var out []domain.Position
	for _, id := range a.openOrder {
		if pos := a.positions[id]; pos.Symbol == symbol {
			out = append(out, *pos)
		}
	}
	return out
}

// FindOpen returns the oldest open position matching symbol, strategy and side.
func (a *Account) FindOpen(symbol, strategyName string, side domain.PositionSide) (domain.Position, bool) {
	for _, id := range a.openOrder {
		pos := a.positions[id]
		if pos.Symbol == symbol && pos.StrategyName == strategyName && pos.Side == side {
			return *pos, true
		}
	}
	return domain.Position{}, false
}

// AllowShorts reports whether short positions may be opened.
func (a *Account) AllowShorts() bool { return a.allowShorts }

// Fees returns the fee model used for fills.
func (a *Account) Fees() FeeModel { return a.fees }

// CheckInvariants verifies the ledger identities. A non-nil error wraps
// ports.ErrInvariantViolation.
func (a *Account) CheckInvariants() error {
	if err := a.checkCash(a.cash, a.lockedCash); err != nil {
		return err
	}
	var marketValue, unrealized float64
	for _, pos := range a.positions {
		marketValue += pos.MarketValue
		unrealized += pos.UnrealizedPnL
	}
	equity := a.cash + marketValue
	expected := a.initialBalance + a.realizedPnL + unrealized
	if math.Abs(equity-expected) > 1e-6*math.Max(1, math.Abs(expected)) {
		return fmt.Errorf("%w: equity %.8f != initial + realized + unrealized %.8f",
			ports.ErrInvariantViolation, equity, expected)
	}
	return nil
}

func (a *Account) available() float64 {
	return a.cash - a.lockedCash
}

func (a *Account) equity() float64 {
	equity := a.cash
	for _, pos := range a.positions {
		equity += pos.MarketValue
	}
	return equity
}

// settle computes the ledger after closing pos without applying it.
func (a *Account) settle(pos *domain.Position, exitPrice, exitFees float64) (cash, locked, realized float64, err error) {
	if !positive(exitPrice) || !finite(exitFees) || exitFees < 0 {
		return 0, 0, 0, fmt.Errorf("%w: exit price %v fees %v", ports.ErrInvalidRequest, exitPrice, exitFees)
	}
	exitValue := pos.Quantity * exitPrice
	cash, locked = a.cash, a.lockedCash

	if pos.Side == domain.SideShort {
		locked -= pos.Collateral
		if locked < 0 {
			locked = 0
		}
		cash -= exitValue + exitFees
		realized = pos.CostBasis() - exitValue - (pos.EntryFees + exitFees)
	} else {
		cash += exitValue - exitFees
		realized = exitValue - pos.CostBasis() - (pos.EntryFees + exitFees)
	}
	if err := a.checkCash(cash, locked); err != nil {
		return 0, 0, 0, err
	}
	return cash, locked, realized, nil
}

// checkCash is written so that NaN fails every comparison it is part of.
func (a *Account) checkCash(cash, locked float64) error {
	if !(cash >= -epsilon) || math.IsInf(cash, 0) {
		return fmt.Errorf("%w: cash would be %.8f", ports.ErrInvariantViolation, cash)
	}
	if !(locked <= cash+epsilon) {
		return fmt.Errorf("%w: locked cash %.8f would exceed cash %.8f", ports.ErrInvariantViolation, locked, cash)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// positive reports whether v is a usable price or quantity.
func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}

// mark recomputes the mark-to-market fields of pos at price.
func mark(pos *domain.Position, price float64) {
	signedQty := pos.Quantity
	if pos.Side == domain.SideShort {
		signedQty = -signedQty
	}
	pos.CurrentPrice = price
	pos.MarketValue = signedQty * price
	pos.UnrealizedPnL = pos.MarketValue - signedQty*pos.EntryPrice - pos.EntryFees
	if basis := pos.CostBasis(); basis > 0 {
		pos.UnrealizedPnLPercent = pos.UnrealizedPnL / basis * 100
	}
}
