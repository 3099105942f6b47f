package exit

import (
	"context"
	"time"

	"trading-core/internal/model"
)

// SessionCalendar reports whether now falls inside a trading session for
// symbol; a false result (weekend, market close) also forces a full close
// via the time-based exit manager (§4.7 "supports weekend/market-close
// cutoffs via session calendar").
type SessionCalendar interface {
	InSession(symbol string, now time.Time) bool
}

// AlwaysOpenCalendar treats every symbol as always in-session (the default
// for venues without defined trading hours, e.g. 24/7 crypto).
type AlwaysOpenCalendar struct{}

func (AlwaysOpenCalendar) InSession(symbol string, now time.Time) bool { return true }

// TimeBasedExitManager closes a position once it has been held longer than
// maxHoldTime, or once the session calendar reports the symbol's market is
// closed (§4.7).
type TimeBasedExitManager struct {
	maxHoldTime time.Duration
	calendar    SessionCalendar
	now         func() time.Time
}

// NewTimeBasedExitManager builds a manager. calendar may be nil, in which
// case only maxHoldTime is enforced.
func NewTimeBasedExitManager(maxHoldTime time.Duration, calendar SessionCalendar) *TimeBasedExitManager {
	if calendar == nil {
		calendar = AlwaysOpenCalendar{}
	}
	return &TimeBasedExitManager{maxHoldTime: maxHoldTime, calendar: calendar, now: time.Now}
}

func (m *TimeBasedExitManager) Name() string { return "TimeExit" }

func (m *TimeBasedExitManager) Evaluate(ctx context.Context, pos model.UnifiedPosition, tick Tick) Action {
	now := m.now()
	if m.maxHoldTime > 0 && now.Sub(pos.OpenedAt) >= m.maxHoldTime {
		return Action{Kind: FullClose, Manager: m.Name(), Reason: "time-based exit"}
	}
	if !m.calendar.InSession(pos.Symbol, now) {
		return Action{Kind: FullClose, Manager: m.Name(), Reason: "market-close cutoff"}
	}
	return Action{Kind: NoAction, Manager: m.Name()}
}
