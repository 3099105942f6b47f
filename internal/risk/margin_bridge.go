package risk

import (
	"context"
	"time"
)

// MarginResponseBridge adapts a MarginMonitor's Critical/Emergency alerts
// onto the general RiskResponseEngine pipeline, so the two escalation paths
// §4.10 (margin tiers) and §4.11 (severity-scored actions) drive the same
// executor and audit trail instead of acting independently.
type MarginResponseBridge struct {
	engine     *RiskResponseEngine
	thresholds MarginThresholds
}

// NewMarginResponseBridge builds a MarginProtection backed by engine. The
// threshold passed to the risk event is always thresholds.Critical: a
// margin level at or below it is exactly the "at/over ratio 1.0" boundary
// baseSeverity's RiskMarginLevel band expects.
func NewMarginResponseBridge(engine *RiskResponseEngine, thresholds MarginThresholds) *MarginResponseBridge {
	return &MarginResponseBridge{engine: engine, thresholds: thresholds}
}

func (b *MarginResponseBridge) Protect(ctx context.Context, accountID string, snapshot MarginSnapshot) error {
	return b.handle(ctx, accountID, snapshot)
}

func (b *MarginResponseBridge) EmergencyStopOut(ctx context.Context, accountID string, snapshot MarginSnapshot) error {
	return b.handle(ctx, accountID, snapshot)
}

func (b *MarginResponseBridge) handle(ctx context.Context, accountID string, snapshot MarginSnapshot) error {
	computedAt := snapshot.ComputedAt
	if computedAt.IsZero() {
		computedAt = time.Now()
	}
	return b.engine.Handle(ctx, RiskEvent{
		RiskType:       RiskMarginLevel,
		AccountID:      accountID,
		MetricValue:    snapshot.Level,
		ThresholdValue: b.thresholds.Critical,
		Description:    "margin level " + string(snapshot.Alert) + " for " + accountID,
		Timestamp:      computedAt,
	})
}

var _ MarginProtection = (*MarginResponseBridge)(nil)
