package db

import (
	"context"
	"fmt"
	"time"

	"callwatch/internal/models"
)

const recordColumns = `id, rule_id, event_sid, action_id, status, attempts,
	COALESCE(last_error, ''), first_attempt_at, resolved_at`

// CreatePending records a pending dispatch for the (rule, event, action) key
// unless a record already exists. The ON CONFLICT DO NOTHING insert is the
// atomic insert-if-absent that makes dispatch idempotent: losers of a race
// read back the winner's record.
func (d *DB) CreatePending(ctx context.Context, rec models.DispatchRecord) (models.DispatchRecord, bool, error) {
	query := `
	INSERT INTO dispatch_records (id, rule_id, event_sid, action_id, status, attempts, first_attempt_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (rule_id, event_sid, action_id) DO NOTHING`

	tag, err := d.Pool.Exec(ctx, query,
		rec.ID, rec.RuleID, rec.EventSID, rec.ActionID, models.DispatchPending, rec.Attempts, rec.FirstAttemptAt,
	)
	if err != nil {
		return models.DispatchRecord{}, false, fmt.Errorf("failed to create dispatch record: %w", err)
	}
	if tag.RowsAffected() == 1 {
		rec.Status = models.DispatchPending
		return rec, true, nil
	}

	existing, err := d.getRecord(ctx, rec.Key())
	if err != nil {
		return models.DispatchRecord{}, false, err
	}
	return existing, false, nil
}

func (d *DB) getRecord(ctx context.Context, key models.DispatchKey) (models.DispatchRecord, error) {
	var rec models.DispatchRecord
	query := `SELECT ` + recordColumns + ` FROM dispatch_records
	WHERE rule_id = $1 AND event_sid = $2 AND action_id = $3`

	err := d.Pool.QueryRow(ctx, query, key.RuleID, key.EventSID, key.ActionID).Scan(
		&rec.ID, &rec.RuleID, &rec.EventSID, &rec.ActionID, &rec.Status,
		&rec.Attempts, &rec.LastError, &rec.FirstAttemptAt, &rec.ResolvedAt,
	)
	if err != nil {
		return models.DispatchRecord{}, fmt.Errorf("failed to get dispatch record: %w", err)
	}
	return rec, nil
}

// MarkSuccess resolves a pending record as delivered.
func (d *DB) MarkSuccess(ctx context.Context, key models.DispatchKey, attempts int) error {
	return d.resolve(ctx, key, models.DispatchSuccess, attempts, "")
}

// MarkFailed resolves a pending record as permanently failed.
func (d *DB) MarkFailed(ctx context.Context, key models.DispatchKey, attempts int, lastErr string) error {
	return d.resolve(ctx, key, models.DispatchFailed, attempts, lastErr)
}

func (d *DB) resolve(ctx context.Context, key models.DispatchKey, status models.DispatchStatus, attempts int, lastErr string) error {
	query := `
	UPDATE dispatch_records
	SET status = $4, attempts = $5, last_error = NULLIF($6, ''), resolved_at = $7
	WHERE rule_id = $1 AND event_sid = $2 AND action_id = $3 AND status = $8`

	tag, err := d.Pool.Exec(ctx, query,
		key.RuleID, key.EventSID, key.ActionID, status, attempts, lastErr, time.Now().UTC(), models.DispatchPending,
	)
	if err != nil {
		return fmt.Errorf("failed to resolve dispatch record as %s: %w", status, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no pending dispatch record for rule=%s event=%s action=%s",
			key.RuleID, key.EventSID, key.ActionID)
	}
	return nil
}

// PendingRecords lists dispatches left unresolved by an earlier cycle.
func (d *DB) PendingRecords(ctx context.Context) ([]models.DispatchRecord, error) {
	return d.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM dispatch_records WHERE status = $1 ORDER BY first_attempt_at`,
		models.DispatchPending)
}

// ListDispatchRecords returns dispatch history, newest first. An empty status
// returns every record.
func (d *DB) ListDispatchRecords(ctx context.Context, status models.DispatchStatus, limit, offset int) ([]models.DispatchRecord, error) {
	if status == "" {
		return d.queryRecords(ctx,
			`SELECT `+recordColumns+` FROM dispatch_records ORDER BY first_attempt_at DESC LIMIT $1 OFFSET $2`,
			limit, offset)
	}
	return d.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM dispatch_records WHERE status = $1 ORDER BY first_attempt_at DESC LIMIT $2 OFFSET $3`,
		status, limit, offset)
}

func (d *DB) queryRecords(ctx context.Context, query string, args ...interface{}) ([]models.DispatchRecord, error) {
	rows, err := d.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query dispatch records: %w", err)
	}
	defer rows.Close()

	var records []models.DispatchRecord
	for rows.Next() {
		var rec models.DispatchRecord
		if err := rows.Scan(
			&rec.ID, &rec.RuleID, &rec.EventSID, &rec.ActionID, &rec.Status,
			&rec.Attempts, &rec.LastError, &rec.FirstAttemptAt, &rec.ResolvedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan dispatch record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
