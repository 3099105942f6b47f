// Package model holds the unified vocabulary shared by every venue adapter,
// the resilient wrapper, the exit engine, and the risk engine: orders,
// positions, accounts, capabilities, and platform events. Adapters translate
// venue-native shapes into these types at the boundary; nothing above the
// adapter layer knows a venue's native representation.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the unified order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType enumerates the unified order types a venue may support.
type OrderType string

const (
	OrderTypeMarket          OrderType = "MARKET"
	OrderTypeLimit           OrderType = "LIMIT"
	OrderTypeStop            OrderType = "STOP"
	OrderTypeStopLimit       OrderType = "STOP_LIMIT"
	OrderTypeMarketIfTouched OrderType = "MARKET_IF_TOUCHED"
	OrderTypeTrailingStop    OrderType = "TRAILING_STOP"
	OrderTypeOCO             OrderType = "OCO"
)

// TimeInForce enumerates unified TIF values.
type TimeInForce string

const (
	TIFDay TimeInForce = "DAY"
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
	TIFFOK TimeInForce = "FOK"
	TIFGTD TimeInForce = "GTD"
)

// OrderStatus is the unified, venue-neutral order lifecycle state.
// Transitions are monotonic along a DAG: Pending -> New -> {PartiallyFilled*
// -> Filled | Canceled | Rejected | Expired}. PendingCancel/PendingReplace
// are transient sub-states of New/PartiallyFilled while a cancel or replace
// is in flight.
type OrderStatus string

const (
	StatusPending         OrderStatus = "PENDING"
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
	StatusSuspended       OrderStatus = "SUSPENDED"
	StatusPendingCancel   OrderStatus = "PENDING_CANCEL"
	StatusPendingReplace  OrderStatus = "PENDING_REPLACE"
)

// terminal reports whether status is a DAG sink; no further transition is
// valid from it.
func (s OrderStatus) terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further status transition is valid.
func (s OrderStatus) IsTerminal() bool { return s.terminal() }

// OrderMetadata carries optional linkage back to the strategy layer; the
// engine itself never interprets these fields beyond passing them through.
type OrderMetadata struct {
	StrategyID string
	SignalID   string
	Tags       []string
	ExpiresAt  *time.Time
}

// UnifiedOrder is the venue-neutral order submission shape.
type UnifiedOrder struct {
	ClientOrderID string
	Symbol        string
	Side          Side
	Type          OrderType
	Quantity      decimal.Decimal
	Price         *decimal.Decimal
	StopPrice     *decimal.Decimal
	TakeProfit    *decimal.Decimal
	StopLoss      *decimal.Decimal
	TIF           TimeInForce
	AccountID     string
	Metadata      OrderMetadata
}

// Modification describes a requested change to a resting order. Nil fields
// are left unchanged.
type Modification struct {
	Price      *decimal.Decimal
	Quantity   *decimal.Decimal
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
}

// UnifiedOrderResponse is the venue's ack/state snapshot for an order.
type UnifiedOrderResponse struct {
	UnifiedOrder
	PlatformOrderID    string
	Status             OrderStatus
	FilledQuantity     decimal.Decimal
	RemainingQuantity  decimal.Decimal
	AverageFillPrice   *decimal.Decimal
	SubmittedAt        time.Time
	UpdatedAt          time.Time
}

// Reconciled reports whether the invariant filled+remaining=quantity holds,
// within the usual decimal exactness (no epsilon needed for decimals).
func (r UnifiedOrderResponse) Reconciled() bool {
	return r.FilledQuantity.Add(r.RemainingQuantity).Equal(r.Quantity)
}

// ValidTransition reports whether moving from status from to status to is allowed by
// the order-status DAG (see OrderStatus doc).
func ValidTransition(from, to OrderStatus) bool {
	if from == to {
		return true
	}
	if from.terminal() {
		return false
	}
	switch from {
	case StatusPending:
		return to == StatusNew || to == StatusRejected || to == StatusExpired
	case StatusNew:
		switch to {
		case StatusPartiallyFilled, StatusFilled, StatusCanceled, StatusRejected, StatusExpired, StatusPendingCancel, StatusPendingReplace, StatusSuspended:
			return true
		}
	case StatusPartiallyFilled:
		switch to {
		case StatusPartiallyFilled, StatusFilled, StatusCanceled, StatusExpired, StatusPendingCancel, StatusPendingReplace:
			return true
		}
	case StatusPendingCancel:
		switch to {
		case StatusCanceled, StatusNew, StatusPartiallyFilled:
			return true
		}
	case StatusPendingReplace:
		switch to {
		case StatusNew, StatusPartiallyFilled, StatusRejected:
			return true
		}
	case StatusSuspended:
		switch to {
		case StatusNew, StatusCanceled, StatusExpired:
			return true
		}
	}
	return false
}
