package model

import (
	"fmt"
	"time"
)

// Severity is the operator-facing error severity (§7).
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Code is a stable error code, E### per §7.
type Code string

const (
	ErrConnectionFailed      Code = "E001"
	ErrConnectionTimeout     Code = "E002"
	ErrDisconnected          Code = "E003"
	ErrNetworkError          Code = "E004"
	ErrRequestTimeout        Code = "E005"
	ErrAuthenticationFailed  Code = "E010"
	ErrInvalidCredentials    Code = "E011"
	ErrOrderValidationFailed Code = "E020"
	ErrOrderRejected         Code = "E021"
	ErrOrderNotFound         Code = "E022"
	ErrOrderModificationFailed Code = "E023"
	ErrPositionNotFound      Code = "E024"
	ErrInsufficientMargin    Code = "E025"
	ErrInsufficientFunds     Code = "E026"
	ErrTradingNotAllowed     Code = "E027"
	ErrSymbolNotFound        Code = "E028"
	ErrAccountNotFound       Code = "E029"
	ErrFeatureNotSupported   Code = "E030"
	ErrRateLimitExceeded     Code = "E040"
	ErrApiLimitReached       Code = "E041"
	ErrMarketDataUnavailable Code = "E050"
	ErrSubscriptionFailed    Code = "E051"
	ErrInconsistentPositionData Code = "E052"
	ErrInternalError         Code = "E090"
	ErrUnknown               Code = "E099"
)

// category groups codes for the shared recoverability/breaker-counting
// rules in §7; it is not itself exported, callers use the VenueError
// methods.
type category int

const (
	categoryConnection category = iota
	categoryAuth
	categoryOrderBusiness
	categoryThrottling
	categoryMarketData
	categoryInternal
)

var codeCategory = map[Code]category{
	ErrConnectionFailed:  categoryConnection,
	ErrConnectionTimeout: categoryConnection,
	ErrDisconnected:      categoryConnection,
	ErrNetworkError:      categoryConnection,
	ErrRequestTimeout:    categoryConnection,

	ErrAuthenticationFailed: categoryAuth,
	ErrInvalidCredentials:   categoryAuth,

	ErrOrderValidationFailed:   categoryOrderBusiness,
	ErrOrderRejected:           categoryOrderBusiness,
	ErrOrderNotFound:           categoryOrderBusiness,
	ErrOrderModificationFailed: categoryOrderBusiness,
	ErrPositionNotFound:        categoryOrderBusiness,
	ErrInsufficientMargin:      categoryOrderBusiness,
	ErrInsufficientFunds:       categoryOrderBusiness,
	ErrTradingNotAllowed:       categoryOrderBusiness,
	ErrSymbolNotFound:          categoryOrderBusiness,
	ErrAccountNotFound:         categoryOrderBusiness,
	ErrFeatureNotSupported:     categoryOrderBusiness,

	ErrRateLimitExceeded: categoryThrottling,
	ErrApiLimitReached:   categoryThrottling,

	ErrMarketDataUnavailable:    categoryMarketData,
	ErrSubscriptionFailed:       categoryMarketData,
	ErrInconsistentPositionData: categoryMarketData,

	ErrInternalError: categoryInternal,
	ErrUnknown:       categoryInternal,
}

// VenueError is the sum-type error every adapter and the resilient wrapper
// return. It always carries a stable code, a human message, optional
// wrapped cause, and (for throttling errors) a server-suggested retry delay.
type VenueError struct {
	Code          Code
	Message       string
	RetryAfterMs  int64
	Cause         error
}

func (e *VenueError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *VenueError) Unwrap() error { return e.Cause }

// NewVenueError builds a VenueError, optionally wrapping cause.
func NewVenueError(code Code, message string, cause error) *VenueError {
	return &VenueError{Code: code, Message: message, Cause: cause}
}

// IsRecoverable reports whether the adapter-level retry policy should ever
// retry this error. Order-business errors are never retried transparently;
// connection, throttling, and market-data errors are.
func (e *VenueError) IsRecoverable() bool {
	switch codeCategory[e.Code] {
	case categoryConnection, categoryThrottling, categoryMarketData:
		return true
	default:
		return false
	}
}

// CountsTowardBreaker reports whether this error should be classified as a
// failure by the circuit breaker's failure predicate (§4.4). Order-business
// errors explicitly do not count, so a stream of valid-but-rejected orders
// never trips the breaker.
func (e *VenueError) CountsTowardBreaker() bool {
	return codeCategory[e.Code] != categoryOrderBusiness
}

// SuggestedRetryDelay returns the delay the caller should wait before
// retrying, honoring a throttling error's server-specified RetryAfterMs.
func (e *VenueError) SuggestedRetryDelay() time.Duration {
	if e.RetryAfterMs > 0 {
		return time.Duration(e.RetryAfterMs) * time.Millisecond
	}
	if !e.IsRecoverable() {
		return 0
	}
	return time.Second
}

// Severity classifies operator urgency.
func (e *VenueError) Severity() Severity {
	switch codeCategory[e.Code] {
	case categoryAuth:
		return SeverityHigh
	case categoryInternal:
		return SeverityCritical
	case categoryConnection:
		return SeverityMedium
	case categoryThrottling:
		return SeverityLow
	case categoryMarketData:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// UserMessage renders an operator-facing message; kept separate from
// Error() so structured logs can stay terse while dashboards get prose.
func (e *VenueError) UserMessage() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// NewInconsistentPositionData builds the hard error the P&L calculator
// raises (and skips, never propagates) when a position's entry price or
// quantity can't support a P&L computation (§4.8 "Error handling").
func NewInconsistentPositionData(positionID, reason string) *VenueError {
	return NewVenueError(ErrInconsistentPositionData, fmt.Sprintf("position %s: %s", positionID, reason), nil)
}

// NewMarketDataUnavailable builds the hard error the P&L calculator raises
// (and skips) when no tick is available for a position's symbol.
func NewMarketDataUnavailable(symbol string) *VenueError {
	return NewVenueError(ErrMarketDataUnavailable, fmt.Sprintf("no market data for %s", symbol), nil)
}

// ErrCircuitOpen is the synthetic error returned by the resilient wrapper
// when the breaker rejects a call without invoking the underlying operation
// (§8, "from Open, any execute returns InternalError(circuit open)").
func ErrCircuitOpen() *VenueError {
	return NewVenueError(ErrInternalError, "circuit open", nil)
}
