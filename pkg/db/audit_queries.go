package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditRecord is one row of audit_log: a risk event, a risk response, or an
// applied exit-engine action, correlated by id/ref_id.
type AuditRecord struct {
	ID          string
	AccountID   string
	Category    string // "risk_event" | "risk_response" | "exit_action"
	RefID       string // correlates a risk_response/exit_action back to its event
	Severity    string
	Description string
	Payload     string // JSON-encoded detail
	CreatedAt   time.Time
}

// AuditQueries provides access to the audit_log table.
type AuditQueries struct {
	db *sql.DB
}

// NewAuditQueries creates a new AuditQueries instance.
func NewAuditQueries(db *sql.DB) *AuditQueries {
	return &AuditQueries{db: db}
}

// Insert writes a new audit record, generating an id if rec.ID is empty, and
// returns the id used.
func (q *AuditQueries) Insert(ctx context.Context, rec AuditRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, account_id, category, ref_id, severity, description, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, rec.ID, rec.AccountID, rec.Category, rec.RefID, rec.Severity, rec.Description, rec.Payload)
	if err != nil {
		return "", fmt.Errorf("insert audit record: %w", err)
	}
	return rec.ID, nil
}

// ForAccount returns the most recent audit records for an account, newest
// first, capped at limit.
func (q *AuditQueries) ForAccount(ctx context.Context, accountID string, limit int) ([]AuditRecord, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, account_id, category, COALESCE(ref_id, ''), COALESCE(severity, ''), COALESCE(description, ''), COALESCE(payload, ''), created_at
		FROM audit_log
		WHERE account_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var records []AuditRecord
	for rows.Next() {
		var r AuditRecord
		if err := rows.Scan(&r.ID, &r.AccountID, &r.Category, &r.RefID, &r.Severity, &r.Description, &r.Payload, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// EquityQueries provides access to the equity_points table.
type EquityQueries struct {
	db *sql.DB
}

func NewEquityQueries(db *sql.DB) *EquityQueries {
	return &EquityQueries{db: db}
}

// Record inserts one equity/balance sample for an account.
func (q *EquityQueries) Record(ctx context.Context, accountID string, equity, balance float64, recordedAt time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO equity_points (account_id, equity, balance, recorded_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(account_id, recorded_at) DO UPDATE SET
			equity = excluded.equity,
			balance = excluded.balance
	`, accountID, equity, balance, recordedAt)
	if err != nil {
		return fmt.Errorf("record equity point: %w", err)
	}
	return nil
}

// EquityPointRow mirrors one equity_points row.
type EquityPointRow struct {
	Equity     float64
	Balance    float64
	RecordedAt time.Time
}

// Since returns every equity point for accountID recorded at or after since,
// oldest first.
func (q *EquityQueries) Since(ctx context.Context, accountID string, since time.Time) ([]EquityPointRow, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT equity, balance, recorded_at
		FROM equity_points
		WHERE account_id = ? AND recorded_at >= ?
		ORDER BY recorded_at ASC
	`, accountID, since)
	if err != nil {
		return nil, fmt.Errorf("query equity points: %w", err)
	}
	defer rows.Close()

	var points []EquityPointRow
	for rows.Next() {
		var p EquityPointRow
		if err := rows.Scan(&p.Equity, &p.Balance, &p.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan equity point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// ReconciliationQueries provides access to the reconciliation_reports table.
type ReconciliationQueries struct {
	db *sql.DB
}

func NewReconciliationQueries(db *sql.DB) *ReconciliationQueries {
	return &ReconciliationQueries{db: db}
}

// SaveReport persists a reconciliation run's summary.
func (q *ReconciliationQueries) SaveReport(ctx context.Context, accountID string, hasDiffs bool, diffCount, syncedCount int, detail string) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO reconciliation_reports (account_id, has_diffs, diff_count, synced_count, detail, created_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, accountID, boolToInt(hasDiffs), diffCount, syncedCount, detail)
	if err != nil {
		return fmt.Errorf("save reconciliation report: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// FIXSeqQueries provides access to the fix_seq_checkpoints table (§4.3
// sequence number persistence for logon-time gap recovery).
type FIXSeqQueries struct {
	db *sql.DB
}

func NewFIXSeqQueries(db *sql.DB) *FIXSeqQueries {
	return &FIXSeqQueries{db: db}
}

// Load returns the last persisted sequence numbers for a session, or (1, 1)
// if none have been saved yet.
func (q *FIXSeqQueries) Load(ctx context.Context, sessionID string) (nextOut, nextIn int, err error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT next_out_seq, next_in_seq FROM fix_seq_checkpoints WHERE session_id = ?
	`, sessionID)
	err = row.Scan(&nextOut, &nextIn)
	if err == sql.ErrNoRows {
		return 1, 1, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("load fix seq checkpoint: %w", err)
	}
	return nextOut, nextIn, nil
}

// Save upserts the sequence number checkpoint for a session.
func (q *FIXSeqQueries) Save(ctx context.Context, sessionID string, nextOut, nextIn int) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO fix_seq_checkpoints (session_id, next_out_seq, next_in_seq, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(session_id) DO UPDATE SET
			next_out_seq = excluded.next_out_seq,
			next_in_seq = excluded.next_in_seq,
			updated_at = CURRENT_TIMESTAMP
	`, sessionID, nextOut, nextIn)
	if err != nil {
		return fmt.Errorf("save fix seq checkpoint: %w", err)
	}
	return nil
}
