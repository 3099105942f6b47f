package risk

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"trading-core/internal/events"
	"trading-core/internal/model"
	"trading-core/internal/resilience"
	"trading-core/internal/venue"
)

// RiskType is the category of risk condition a RiskEvent reports (§4.11).
type RiskType string

const (
	RiskMarginLevel           RiskType = "margin_level"
	RiskDrawdownExceeded      RiskType = "drawdown_exceeded"
	RiskExposureConcentration RiskType = "exposure_concentration"
	RiskCorrelationRisk       RiskType = "correlation_risk"
)

// RiskEvent is the input to the response pipeline (§4.11).
type RiskEvent struct {
	RiskType       RiskType
	AccountID      string
	MetricValue    decimal.Decimal
	ThresholdValue decimal.Decimal
	Description    string
	Timestamp      time.Time
}

// Ratio returns metric/threshold, or the +Inf sentinel if threshold is zero.
func (e RiskEvent) Ratio() decimal.Decimal {
	if e.ThresholdValue.IsZero() {
		return model.InfiniteMarginLevel
	}
	return e.MetricValue.Div(e.ThresholdValue)
}

// ActionKind is the sum type of response actions (§4.11 step 2).
type ActionKind string

const (
	ActionMonitor                  ActionKind = "MONITOR"
	ActionReducePositions          ActionKind = "REDUCE_POSITIONS"
	ActionReducePositionSize       ActionKind = "REDUCE_POSITION_SIZE"
	ActionDiversifyPositions       ActionKind = "DIVERSIFY_POSITIONS"
	ActionReduceCorrelatedPositions ActionKind = "REDUCE_CORRELATED_POSITIONS"
	ActionEmergencyStop            ActionKind = "EMERGENCY_STOP"
)

// ResponseAction carries the action kind plus whichever parameters apply to
// it; unused fields are zero.
type ResponseAction struct {
	Kind              ActionKind
	ReducePct         decimal.Decimal // ReducePositions: % of exposure to shed
	Priority          string          // ReducePositions: which positions first (e.g. "worst-performing")
	NewRiskPct        decimal.Decimal // ReducePositionSize: new sizing percentage
	MaxPctPerSymbol   decimal.Decimal // DiversifyPositions
	CorrelationThresh decimal.Decimal // ReduceCorrelatedPositions
	ReduceFactor      decimal.Decimal // ReduceCorrelatedPositions
	Scope             string          // EmergencyStop: "account" | "all"
	Reason            string
}

// AccountExposure is the per-account position mix the severity and
// executor stages need: how many positions are losing, and each position's
// symbol/notional for diversification and correlation actions.
type AccountExposure struct {
	TotalPositions   int
	LosingPositions  int
	Positions        []model.UnifiedPosition
}

// ExposureSource supplies the current exposure for an account.
type ExposureSource interface {
	Exposure(ctx context.Context, accountID string) (AccountExposure, error)
}

// GatewayResolver looks up the resilient gateway owning an account's
// session, so the executor can act on it (§4.11 step 3: "ultimately calls
// the venue adapter through the resilient wrapper").
type GatewayResolver func(accountID string) (venue.Gateway, error)

// BreakerResolver looks up the account's resilient gateway breaker, so
// EmergencyStop can trip it directly (§4.11 step 2: "EmergencyStop also
// trips the account-level circuit breaker").
type BreakerResolver func(accountID string) (*resilience.Breaker, error)

// AuditSink records both the triggering event and its execution result
// (§4.11 step 4, §8 invariant 9: Critical+ alerts are persisted before the
// response action executes).
type AuditSink interface {
	RecordRiskEvent(ctx context.Context, event RiskEvent, severity model.Severity) (eventID string, err error)
	RecordRiskResponse(ctx context.Context, eventID string, action ResponseAction, err error)
}

// severityTable encodes the risk_type x ratio bands from §4.11's table.
// Bands are checked in order (Extreme, Critical, High, Medium); the first
// matching band wins. A type with no such tier (the "—" cells) simply
// has no band for it.
type severityBand struct {
	severity model.Severity
	matches  func(ratio decimal.Decimal) bool
}

func lt(bound float64) func(decimal.Decimal) bool {
	b := decimal.NewFromFloat(bound)
	return func(r decimal.Decimal) bool { return r.LessThan(b) }
}

func gt(bound float64) func(decimal.Decimal) bool {
	b := decimal.NewFromFloat(bound)
	return func(r decimal.Decimal) bool { return r.GreaterThan(b) }
}

func lte(bound float64) func(decimal.Decimal) bool {
	b := decimal.NewFromFloat(bound)
	return func(r decimal.Decimal) bool { return r.LessThanOrEqual(b) }
}

var severityTable = map[RiskType][]severityBand{
	RiskMarginLevel: {
		{model.SeverityCritical, lt(0.8)}, // "Extreme" collapses onto Critical severity
		{model.SeverityCritical, lt(0.9)},
		{model.SeverityHigh, lt(1.0)},
		{model.SeverityMedium, lte(1.0)},
	},
	RiskDrawdownExceeded: {
		{model.SeverityCritical, gt(2.0)},
		{model.SeverityCritical, gt(1.5)},
		{model.SeverityHigh, gt(1.2)},
		{model.SeverityMedium, lte(1.2)},
	},
	RiskExposureConcentration: {
		{model.SeverityHigh, gt(2.0)},
		{model.SeverityMedium, gt(1.5)},
	},
	RiskCorrelationRisk: {
		{model.SeverityMedium, gt(1.5)},
	},
}

// baseSeverity returns the first matching band's severity, or Low if none
// match (the risk type's mildest conditions are not met).
func baseSeverity(riskType RiskType, ratio decimal.Decimal) model.Severity {
	for _, band := range severityTable[riskType] {
		if band.matches(ratio) {
			return band.severity
		}
	}
	return model.SeverityLow
}

var severityRank = map[model.Severity]int{
	model.SeverityLow:      0,
	model.SeverityMedium:   1,
	model.SeverityHigh:     2,
	model.SeverityCritical: 3,
}

var rankSeverity = []model.Severity{model.SeverityLow, model.SeverityMedium, model.SeverityHigh, model.SeverityCritical}

// escalate bumps severity one level per 0.5 the multiplier sits above 1.0,
// capped at Critical (§4.11 step 1: "capped at 2.0").
func escalate(base model.Severity, multiplier decimal.Decimal) model.Severity {
	if multiplier.GreaterThan(decimal.NewFromFloat(2.0)) {
		multiplier = decimal.NewFromFloat(2.0)
	}
	steps := 0
	if multiplier.GreaterThan(decimal.NewFromFloat(1.0)) {
		over := multiplier.Sub(decimal.NewFromFloat(1.0))
		steps = int(over.Div(decimal.NewFromFloat(0.5)).Ceil().IntPart())
	}
	rank := severityRank[base] + steps
	if rank >= len(rankSeverity) {
		rank = len(rankSeverity) - 1
	}
	return rankSeverity[rank]
}

// accountMultiplier is 1 + losing/total, capped at 2.0 by escalate's own
// clamp (§4.11 step 1).
func accountMultiplier(exposure AccountExposure) decimal.Decimal {
	if exposure.TotalPositions == 0 {
		return decimal.NewFromFloat(1.0)
	}
	ratio := decimal.NewFromInt(int64(exposure.LosingPositions)).Div(decimal.NewFromInt(int64(exposure.TotalPositions)))
	return decimal.NewFromFloat(1.0).Add(ratio)
}

// selectAction implements the (risk_type, severity) -> action matrix
// (§4.11 step 2).
func selectAction(event RiskEvent, severity model.Severity) ResponseAction {
	if severity == model.SeverityCritical && (event.RiskType == RiskMarginLevel || event.RiskType == RiskDrawdownExceeded) {
		return ResponseAction{
			Kind:   ActionEmergencyStop,
			Scope:  "account",
			Reason: fmt.Sprintf("%s critical: %s", event.RiskType, event.Description),
		}
	}

	switch event.RiskType {
	case RiskMarginLevel:
		switch severity {
		case model.SeverityHigh:
			return ResponseAction{Kind: ActionReducePositions, ReducePct: decimal.NewFromInt(25), Priority: "worst-performing"}
		case model.SeverityMedium:
			return ResponseAction{Kind: ActionReducePositionSize, NewRiskPct: decimal.NewFromFloat(0.5)}
		}
	case RiskDrawdownExceeded:
		switch severity {
		case model.SeverityHigh:
			return ResponseAction{Kind: ActionReducePositionSize, NewRiskPct: decimal.NewFromFloat(0.5)}
		case model.SeverityMedium:
			return ResponseAction{Kind: ActionReducePositionSize, NewRiskPct: decimal.NewFromFloat(0.75)}
		}
	case RiskExposureConcentration:
		switch severity {
		case model.SeverityHigh:
			return ResponseAction{Kind: ActionDiversifyPositions, MaxPctPerSymbol: decimal.NewFromInt(20)}
		case model.SeverityMedium:
			return ResponseAction{Kind: ActionDiversifyPositions, MaxPctPerSymbol: decimal.NewFromInt(30)}
		}
	case RiskCorrelationRisk:
		if severity == model.SeverityMedium {
			return ResponseAction{Kind: ActionReduceCorrelatedPositions, CorrelationThresh: decimal.NewFromFloat(0.7), ReduceFactor: decimal.NewFromFloat(0.5)}
		}
	}
	return ResponseAction{Kind: ActionMonitor}
}

// ResponseExecutor applies a selected ResponseAction against an account's
// venue gateway (§4.11 step 3).
type ResponseExecutor struct {
	resolve        GatewayResolver
	resolveBreaker BreakerResolver
}

// NewResponseExecutor builds an executor. resolveBreaker may be nil, in
// which case EmergencyStop still closes positions but does not additionally
// trip a breaker.
func NewResponseExecutor(resolve GatewayResolver, resolveBreaker BreakerResolver) *ResponseExecutor {
	return &ResponseExecutor{resolve: resolve, resolveBreaker: resolveBreaker}
}

// Execute dispatches the action. ReducePositionSize/DiversifyPositions/
// ReduceCorrelatedPositions are policy hints consumed by the exit engine's
// sizing inputs (no single venue call corresponds to them); ReducePositions
// and EmergencyStop act immediately by closing positions.
func (x *ResponseExecutor) Execute(ctx context.Context, accountID string, exposure AccountExposure, action ResponseAction) error {
	switch action.Kind {
	case ActionMonitor:
		return nil
	case ActionReducePositions:
		return x.reduceWorstPerforming(ctx, accountID, exposure, action.ReducePct)
	case ActionEmergencyStop:
		if x.resolveBreaker != nil {
			if breaker, err := x.resolveBreaker(accountID); err == nil {
				breaker.ForceOpen()
			}
		}
		return x.closeAll(ctx, accountID, exposure)
	case ActionReducePositionSize, ActionDiversifyPositions, ActionReduceCorrelatedPositions:
		// Sizing/diversification policy; no immediate venue call. The exit
		// engine and the order-entry layer consult these via shared state
		// maintained by the caller (out of scope here, §1).
		return nil
	default:
		return fmt.Errorf("risk: unknown action kind %q", action.Kind)
	}
}

func (x *ResponseExecutor) closeAll(ctx context.Context, accountID string, exposure AccountExposure) error {
	gw, err := x.resolve(accountID)
	if err != nil {
		return err
	}
	var firstErr error
	for _, pos := range exposure.Positions {
		if err := gw.ClosePosition(ctx, pos.Symbol, nil); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (x *ResponseExecutor) reduceWorstPerforming(ctx context.Context, accountID string, exposure AccountExposure, pct decimal.Decimal) error {
	gw, err := x.resolve(accountID)
	if err != nil {
		return err
	}
	worst := worstPerforming(exposure.Positions, pct)
	var firstErr error
	for _, pos := range worst {
		qty := pos.Quantity.Mul(pct).Div(decimal.NewFromInt(100))
		if err := gw.ClosePosition(ctx, pos.Symbol, &qty); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// worstPerforming selects the losing positions, sorted most-negative
// unrealized P&L first, and returns the first ceil(pct% of the losing
// positions) of them (at least one when any position is losing).
func worstPerforming(positions []model.UnifiedPosition, pct decimal.Decimal) []model.UnifiedPosition {
	losing := make([]model.UnifiedPosition, 0, len(positions))
	for _, p := range positions {
		if p.UnrealizedPnL.LessThan(decimal.Zero) {
			losing = append(losing, p)
		}
	}
	for i := 0; i < len(losing); i++ {
		for j := i + 1; j < len(losing); j++ {
			if losing[j].UnrealizedPnL.LessThan(losing[i].UnrealizedPnL) {
				losing[i], losing[j] = losing[j], losing[i]
			}
		}
	}
	if len(losing) == 0 {
		return losing
	}
	take := int(decimal.NewFromInt(int64(len(losing))).Mul(pct).Div(decimal.NewFromInt(100)).Ceil().IntPart())
	if take < 1 {
		take = 1
	}
	if take > len(losing) {
		take = len(losing)
	}
	return losing[:take]
}

// RiskResponseEngine is the full pipeline: assess -> select -> execute ->
// audit (§4.11).
type RiskResponseEngine struct {
	exposures ExposureSource
	executor  *ResponseExecutor
	audit     AuditSink
	bus       *events.Bus
}

func NewRiskResponseEngine(exposures ExposureSource, executor *ResponseExecutor, audit AuditSink, bus *events.Bus) *RiskResponseEngine {
	return &RiskResponseEngine{exposures: exposures, executor: executor, audit: audit, bus: bus}
}

// Handle runs one event through the full pipeline.
func (e *RiskResponseEngine) Handle(ctx context.Context, event RiskEvent) error {
	exposure, err := e.exposures.Exposure(ctx, event.AccountID)
	if err != nil {
		return fmt.Errorf("risk: exposure lookup for %s: %w", event.AccountID, err)
	}

	ratio := event.Ratio()
	base := baseSeverity(event.RiskType, ratio)
	severity := escalate(base, accountMultiplier(exposure))

	var eventID string
	if e.audit != nil {
		eventID, err = e.audit.RecordRiskEvent(ctx, event, severity)
		if err != nil {
			log.Printf("risk: failed to audit risk event for %s: %v", event.AccountID, err)
		}
	}

	action := selectAction(event, severity)

	if e.bus != nil {
		e.bus.Publish(model.PlatformEvent{
			EventType: model.EventRiskAlert,
			AccountID: event.AccountID,
			Data:      map[string]interface{}{"event": event, "severity": severity, "action": action},
		})
	}

	execErr := e.executor.Execute(ctx, event.AccountID, exposure, action)
	if e.audit != nil {
		e.audit.RecordRiskResponse(ctx, eventID, action, execErr)
	}
	return execErr
}
