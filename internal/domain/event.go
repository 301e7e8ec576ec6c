package domain

import "time"

// EventType identifies a notification published by the engine.
type EventType string

const (
	EventTick           EventType = "tick"
	EventOrderFilled    EventType = "order_filled"
	EventOrderCancelled EventType = "order_cancelled"
	EventOrderRejected  EventType = "order_rejected"
	EventPositionOpened EventType = "position_opened"
	EventPositionClosed EventType = "position_closed"
)

// Event is a message passed to event bus subscribers. Exactly one payload
// field is set, matching Type.
type Event struct {
	Type      EventType    `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	Tick      *Tick        `json:"tick,omitempty"`
	Order     *Order       `json:"order,omitempty"`
	Position  *Position    `json:"position,omitempty"`
	Trade     *ClosedTrade `json:"trade,omitempty"`
}
