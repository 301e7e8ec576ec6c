package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the side that unwinds an exposure opened with s.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType represents how an order is executed.
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopLoss   OrderType = "STOP_LOSS"
	OrderTypeTakeProfit OrderType = "TAKE_PROFIT"
)

// PositionSide represents the direction of an open position.
type PositionSide string

const (
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

// ExitReason indicates why a position was closed.
type ExitReason string

const (
	ExitReasonManual     ExitReason = "manual"
	ExitReasonStopLoss   ExitReason = "stop-loss"
	ExitReasonTakeProfit ExitReason = "take-profit"
	ExitReasonStrategy   ExitReason = "strategy"
)

// Valid reports whether r is one of the known exit reasons.
func (r ExitReason) Valid() bool {
	switch r {
	case ExitReasonManual, ExitReasonStopLoss, ExitReasonTakeProfit, ExitReasonStrategy:
		return true
	}
	return false
}
