package domain

import "time"

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

// IsTerminal reports whether no further transition is possible from s.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusRejected
}

// CanTransitionTo reports whether moving from s to next is a legal lifecycle step.
// PARTIALLY_FILLED is accepted by the table but never produced by the simulator.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	switch s {
	case OrderStatusPending:
		return next == OrderStatusFilled || next == OrderStatusPartiallyFilled ||
			next == OrderStatusCancelled || next == OrderStatusRejected
	case OrderStatusPartiallyFilled:
		return next == OrderStatusFilled || next == OrderStatusCancelled
	default:
		return false
	}
}

// Order is a simulated order. It is owned and mutated by the order manager only;
// terminal orders are kept for audit.
type Order struct {
	ID           string      `json:"id"`
	Symbol       string      `json:"symbol"`
	Type         OrderType   `json:"type"`
	Side         OrderSide   `json:"side"`
	Status       OrderStatus `json:"status"`
	Quantity     float64     `json:"quantity"`
	FilledQty    float64     `json:"filledQuantity"`
	LimitPrice   float64     `json:"limitPrice,omitempty"` // limit or trigger price, 0 for market orders
	AvgFillPrice float64     `json:"averageFillPrice,omitempty"`
	Fees         float64     `json:"fees"`
	Slippage     float64     `json:"slippage"`

	// LockedCash is the amount reserved while the order rests.
	LockedCash float64 `json:"lockedCash,omitempty"`

	StrategyName string  `json:"strategyName,omitempty"`
	Reason       string  `json:"reason,omitempty"`
	PositionID   string  `json:"positionId,omitempty"` // position opened or closed by this order
	StopLoss     float64 `json:"stopLoss,omitempty"`
	TakeProfit   float64 `json:"takeProfit,omitempty"`
	RejectReason string  `json:"rejectReason,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	FilledAt    *time.Time `json:"filledAt,omitempty"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`

	seq uint64
}

// Seq returns the placement sequence number used to break creation-time ties.
func (o *Order) Seq() uint64 { return o.seq }

// SetSeq assigns the placement sequence number.
func (o *Order) SetSeq(seq uint64) { o.seq = seq }

// IsProtective reports whether the order is a stop-loss or take-profit attached to a position.
func (o *Order) IsProtective() bool {
	return o.Type == OrderTypeStopLoss || o.Type == OrderTypeTakeProfit
}
