package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// BreakerState is the circuit breaker's state (§3, §4.4).
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// BreakerStats is the point-in-time snapshot exposed by get_stats()/Stats().
type BreakerStats struct {
	State                     BreakerState
	FailureCount              int
	SuccessCount              int
	LastFailureTime           time.Time
	LastStateChange           time.Time
	HalfOpenOperationsInFlight int
}

// FIXSessionState is the FIX session lifecycle state (§3, §4.3).
type FIXSessionState string

const (
	FIXDisconnected FIXSessionState = "DISCONNECTED"
	FIXConnecting   FIXSessionState = "CONNECTING"
	FIXLogonSent    FIXSessionState = "LOGON_SENT"
	FIXLoggedIn     FIXSessionState = "LOGGED_IN"
	FIXLogoutSent   FIXSessionState = "LOGOUT_SENT"
	FIXReconnecting FIXSessionState = "RECONNECTING"
)

// EquityPoint is one sample in a per-account equity history series (§3).
type EquityPoint struct {
	Equity    decimal.Decimal
	Balance   decimal.Decimal
	Timestamp time.Time
}
