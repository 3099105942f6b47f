package model

import "github.com/shopspring/decimal"

// AccountType classifies the venue account.
type AccountType string

const (
	AccountLive       AccountType = "LIVE"
	AccountDemo       AccountType = "DEMO"
	AccountSimulation AccountType = "SIMULATION"
	AccountPaper      AccountType = "PAPER"
)

// infiniteMarginSentinelValue is the exact value MarginLevel returns for the
// margin_used=0 case. Decimal has no native +Inf so an implausibly large
// constant stands in for it; callers must branch on IsInfiniteMarginLevel
// rather than comparing magnitudes directly.
const infiniteMarginSentinelValue = int64(1) << 62

// InfiniteMarginLevel is the sentinel returned whenever margin_used = 0 and
// the margin-level ratio would otherwise divide by zero (see spec §3, §8).
var InfiniteMarginLevel = decimal.NewFromInt(infiniteMarginSentinelValue)

// MarginLevel computes equity/margin_used*100, returning the +Inf sentinel
// when marginUsed is zero rather than dividing by it.
func MarginLevel(equity, marginUsed decimal.Decimal) decimal.Decimal {
	if marginUsed.IsZero() {
		return InfiniteMarginLevel
	}
	return equity.Div(marginUsed).Mul(decimal.NewFromInt(100))
}

// IsInfiniteMarginLevel reports whether level is the +Inf sentinel produced
// by MarginLevel for a zero margin_used.
func IsInfiniteMarginLevel(level decimal.Decimal) bool {
	return level.Equal(InfiniteMarginLevel)
}

// AccountInfo is the venue-neutral account snapshot.
//
// Invariant: equity = balance + sum(position.unrealized_pnl).
type AccountInfo struct {
	AccountID       string
	Currency        string
	Balance         decimal.Decimal
	Equity          decimal.Decimal
	MarginUsed      decimal.Decimal
	MarginAvailable decimal.Decimal
	UnrealizedPnL   decimal.Decimal
	RealizedPnL     decimal.Decimal
	AccountType     AccountType
}

// MarginLevelPct returns this account's current margin level, applying the
// +Inf sentinel rule.
func (a AccountInfo) MarginLevelPct() decimal.Decimal {
	return MarginLevel(a.Equity, a.MarginUsed)
}

// RateLimit describes one operation's allowance.
type RateLimit struct {
	RPS   int
	RPM   int
	RPH   int
	Burst int
}

// Capabilities declares what a venue supports; adapters consult this
// before submission so unsupported combinations fail
// locally with FeatureNotSupported instead of round-tripping to the venue.
type Capabilities struct {
	SupportedOrderTypes  map[OrderType]bool
	SupportedTIFs        map[TimeInForce]bool
	SupportedInstruments map[string]bool
	MaxOrdersPerSecond   int
	MaxOrderSize         decimal.Decimal
	MinOrderSize         decimal.Decimal
	RateLimits           map[string]RateLimit
	SLAMillis            map[string]int64
}

// Supports reports whether the order's type and TIF are both declared.
func (c Capabilities) Supports(t OrderType, tif TimeInForce) bool {
	return c.SupportedOrderTypes[t] && c.SupportedTIFs[tif]
}

// SupportsInstrument reports whether symbol is tradable on this venue. An
// empty SupportedInstruments set means "no restriction declared" and
// defaults to permissive, matching venues that don't publish an instrument
// list up front.
func (c Capabilities) SupportsInstrument(symbol string) bool {
	if len(c.SupportedInstruments) == 0 {
		return true
	}
	return c.SupportedInstruments[symbol]
}
