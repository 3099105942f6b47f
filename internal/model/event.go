package model

import "time"

// EventType enumerates the platform events adapters and engines emit onto
// the bus. Kept as a simple string sum type, matching the teacher's
// internal/events.Event enum.
type EventType string

const (
	EventConnectionEstablished EventType = "CONNECTION_ESTABLISHED"
	EventConnectionLost        EventType = "CONNECTION_LOST"
	EventOrderPlaced           EventType = "ORDER_PLACED"
	EventOrderAccepted         EventType = "ORDER_ACCEPTED"
	EventOrderFilled           EventType = "ORDER_FILLED"
	EventOrderPartiallyFilled  EventType = "ORDER_PARTIALLY_FILLED"
	EventOrderCancelled        EventType = "ORDER_CANCELLED"
	EventOrderRejected         EventType = "ORDER_REJECTED"
	EventPositionOpened        EventType = "POSITION_OPENED"
	EventPositionChanged       EventType = "POSITION_CHANGED"
	EventPositionClosed        EventType = "POSITION_CLOSED"
	EventPriceTick             EventType = "PRICE_TICK"
	EventPnLUpdate             EventType = "PNL_UPDATE"
	EventRiskAlert             EventType = "RISK_ALERT"
	EventCircuitBreakerChanged EventType = "CIRCUIT_BREAKER_CHANGED"
	EventExitActionApplied     EventType = "EXIT_ACTION_APPLIED"
	EventAccountUpdate         EventType = "ACCOUNT_UPDATE"
)

// PlatformEvent is the uniform envelope every subsystem publishes onto the
// bus. SequenceNumber is assigned by the bus at publish time, not by the
// producer — producers leave it zero.
type PlatformEvent struct {
	EventID        string
	EventType      EventType
	Venue          string
	AccountID      string
	SequenceNumber uint64
	Timestamp      time.Time
	Data           any
	CorrelationID  string
}
