package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"callwatch/internal/models"
)

// AdmitEvent inserts the event keyed on its external SID. The insert-if-absent
// is atomic in the database, so concurrent admissions of the same SID resolve
// to exactly one accepted row. Returns false for a duplicate.
func (d *DB) AdmitEvent(ctx context.Context, ev models.Event) (bool, error) {
	query := `
	INSERT INTO events (sid, category, timestamp, status, error_code, message, from_number, to_number, raw)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (sid) DO NOTHING`

	tag, err := d.Pool.Exec(ctx, query,
		ev.SID, ev.Category, ev.Timestamp, ev.Status, ev.ErrorCode,
		ev.Message, ev.FromNumber, ev.ToNumber, ev.Raw,
	)
	if err != nil {
		return false, fmt.Errorf("failed to admit event %s: %w", ev.SID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetEvent loads a previously admitted event by SID.
func (d *DB) GetEvent(ctx context.Context, sid string) (models.Event, bool, error) {
	var ev models.Event
	query := `
	SELECT sid, category, timestamp, status, error_code, message, from_number, to_number, raw
	FROM events WHERE sid = $1`

	err := d.Pool.QueryRow(ctx, query, sid).Scan(
		&ev.SID, &ev.Category, &ev.Timestamp, &ev.Status, &ev.ErrorCode,
		&ev.Message, &ev.FromNumber, &ev.ToNumber, &ev.Raw,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return models.Event{}, false, nil
		}
		return models.Event{}, false, fmt.Errorf("failed to get event %s: %w", sid, err)
	}
	return ev, true, nil
}

// ListEvents returns recent events, newest first.
func (d *DB) ListEvents(ctx context.Context, since time.Time, limit int) ([]models.Event, error) {
	query := `
	SELECT sid, category, timestamp, status, error_code, message, from_number, to_number, raw
	FROM events
	WHERE timestamp >= $1
	ORDER BY timestamp DESC
	LIMIT $2`

	rows, err := d.Pool.Query(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var ev models.Event
		if err := rows.Scan(
			&ev.SID, &ev.Category, &ev.Timestamp, &ev.Status, &ev.ErrorCode,
			&ev.Message, &ev.FromNumber, &ev.ToNumber, &ev.Raw,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
