// Package audit persists risk events, risk responses, and exit-engine
// actions to sqlite, giving every alert and every automated action a
// correlating record (§8 invariant 9: for every Critical+ alert, an audit
// record is persisted before the response action executes).
package audit

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"trading-core/internal/exit"
	"trading-core/internal/model"
	"trading-core/internal/risk"
	"trading-core/pkg/db"
)

const (
	categoryRiskEvent    = "risk_event"
	categoryRiskResponse = "risk_response"
	categoryExitAction   = "exit_action"
)

// Logger persists audit records to the audit_log table. It implements both
// risk.AuditSink and exit.AuditLogger so a single sink backs both engines.
type Logger struct {
	queries *db.AuditQueries
}

// NewLogger builds a Logger writing through the given AuditQueries handle.
func NewLogger(queries *db.AuditQueries) *Logger {
	return &Logger{queries: queries}
}

var _ risk.AuditSink = (*Logger)(nil)
var _ exit.AuditLogger = (*Logger)(nil)

// RecordRiskEvent persists the triggering condition before any response
// action runs, satisfying invariant 9 for the request path that calls it
// synchronously ahead of ResponseExecutor.Execute.
func (l *Logger) RecordRiskEvent(ctx context.Context, event risk.RiskEvent, severity model.Severity) (string, error) {
	payload, err := json.Marshal(struct {
		RiskType       risk.RiskType   `json:"risk_type"`
		MetricValue    string          `json:"metric_value"`
		ThresholdValue string          `json:"threshold_value"`
		Ratio          string          `json:"ratio"`
	}{event.RiskType, event.MetricValue.String(), event.ThresholdValue.String(), event.Ratio().String()})
	if err != nil {
		log.Printf("audit: marshal risk event payload: %v", err)
	}

	id, err := l.queries.Insert(ctx, db.AuditRecord{
		AccountID:   event.AccountID,
		Category:    categoryRiskEvent,
		Severity:    string(severity),
		Description: event.Description,
		Payload:     string(payload),
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// RecordRiskResponse persists the outcome of the selected response action,
// correlated to its triggering event via eventID.
func (l *Logger) RecordRiskResponse(ctx context.Context, eventID string, action risk.ResponseAction, execErr error) {
	errText := ""
	if execErr != nil {
		errText = execErr.Error()
	}
	payload, err := json.Marshal(struct {
		Kind   risk.ActionKind `json:"kind"`
		Reason string          `json:"reason"`
		Error  string          `json:"error,omitempty"`
	}{action.Kind, action.Reason, errText})
	if err != nil {
		log.Printf("audit: marshal risk response payload: %v", err)
	}

	if _, err := l.queries.Insert(ctx, db.AuditRecord{
		Category:    categoryRiskResponse,
		RefID:       eventID,
		Description: string(action.Kind),
		Payload:     string(payload),
	}); err != nil {
		log.Printf("audit: failed to record risk response for event %s: %v", eventID, err)
	}
}

// RecordExitAction persists an applied exit-engine action (trailing stop
// move, break-even promotion, partial close, time-based or news-driven
// close).
func (l *Logger) RecordExitAction(ctx context.Context, positionID, manager, old, new, reason string, ts time.Time) {
	payload, err := json.Marshal(struct {
		Manager string `json:"manager"`
		Old     string `json:"old"`
		New     string `json:"new"`
	}{manager, old, new})
	if err != nil {
		log.Printf("audit: marshal exit action payload: %v", err)
	}

	if _, err := l.queries.Insert(ctx, db.AuditRecord{
		Category:    categoryExitAction,
		RefID:       positionID,
		Description: reason,
		Payload:     string(payload),
	}); err != nil {
		log.Printf("audit: failed to record exit action for position %s: %v", positionID, err)
	}
}

// RecentForAccount returns the account's most recent audit trail, newest
// first.
func (l *Logger) RecentForAccount(ctx context.Context, accountID string, limit int) ([]db.AuditRecord, error) {
	return l.queries.ForAccount(ctx, accountID, limit)
}
