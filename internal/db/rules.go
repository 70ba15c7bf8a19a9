package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"callwatch/internal/models"
)

const ruleColumns = `id, name, description, category, pattern_kind, pattern_value,
	threshold_count, threshold_window_seconds, clear_on_match, enabled, created_at, updated_at`

func scanRule(row pgx.Row) (models.Rule, error) {
	var (
		r             models.Rule
		windowSeconds int
	)
	err := row.Scan(
		&r.ID, &r.Name, &r.Description, &r.Category, &r.PatternKind, &r.PatternValue,
		&r.ThresholdCount, &windowSeconds, &r.ClearOnMatch, &r.Enabled, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return models.Rule{}, err
	}
	r.ThresholdWindow = time.Duration(windowSeconds) * time.Second
	return r, nil
}

// Snapshot loads every enabled rule together with all actions bound to any
// rule. The engine compiles and filters; this query only supplies a
// consistent read.
func (d *DB) Snapshot(ctx context.Context) ([]models.Rule, []models.Action, error) {
	tx, err := d.Pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin snapshot: %w", err)
	}
	defer tx.Rollback(ctx)

	ruleRows, err := tx.Query(ctx, `SELECT `+ruleColumns+` FROM rules WHERE enabled = TRUE`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load rules: %w", err)
	}
	var rules []models.Rule
	for ruleRows.Next() {
		r, err := scanRule(ruleRows)
		if err != nil {
			ruleRows.Close()
			return nil, nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, r)
	}
	ruleRows.Close()
	if err := ruleRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to load rules: %w", err)
	}

	actionRows, err := tx.Query(ctx, `SELECT id, rule_id, kind, config, enabled, created_at FROM actions`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load actions: %w", err)
	}
	var actions []models.Action
	for actionRows.Next() {
		var a models.Action
		if err := actionRows.Scan(&a.ID, &a.RuleID, &a.Kind, &a.Config, &a.Enabled, &a.CreatedAt); err != nil {
			actionRows.Close()
			return nil, nil, fmt.Errorf("failed to scan action: %w", err)
		}
		actions = append(actions, a)
	}
	actionRows.Close()
	if err := actionRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to load actions: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return rules, actions, nil
}

// CreateRule inserts a new rule.
func (d *DB) CreateRule(ctx context.Context, r models.Rule) error {
	query := `
	INSERT INTO rules (id, name, description, category, pattern_kind, pattern_value,
		threshold_count, threshold_window_seconds, clear_on_match, enabled, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := d.Pool.Exec(ctx, query,
		r.ID, r.Name, r.Description, r.Category, r.PatternKind, r.PatternValue,
		r.ThresholdCount, int(r.ThresholdWindow/time.Second), r.ClearOnMatch, r.Enabled,
		r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

// UpdateRule replaces a rule's mutable fields.
func (d *DB) UpdateRule(ctx context.Context, r models.Rule) error {
	query := `
	UPDATE rules
	SET name = $2, description = $3, category = $4, pattern_kind = $5, pattern_value = $6,
		threshold_count = $7, threshold_window_seconds = $8, clear_on_match = $9,
		enabled = $10, updated_at = now()
	WHERE id = $1`
	tag, err := d.Pool.Exec(ctx, query,
		r.ID, r.Name, r.Description, r.Category, r.PatternKind, r.PatternValue,
		r.ThresholdCount, int(r.ThresholdWindow/time.Second), r.ClearOnMatch, r.Enabled,
	)
	if err != nil {
		return fmt.Errorf("failed to update rule %s: %w", r.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rule %s not found", r.ID)
	}
	return nil
}

// DeleteRule removes a rule; bound actions cascade.
func (d *DB) DeleteRule(ctx context.Context, id uuid.UUID) error {
	tag, err := d.Pool.Exec(ctx, `DELETE FROM rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rule %s not found", id)
	}
	return nil
}

// GetRule loads one rule by id.
func (d *DB) GetRule(ctx context.Context, id uuid.UUID) (models.Rule, error) {
	row := d.Pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = $1`, id)
	r, err := scanRule(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return models.Rule{}, fmt.Errorf("rule %s not found", id)
		}
		return models.Rule{}, fmt.Errorf("failed to get rule %s: %w", id, err)
	}
	return r, nil
}

// ListRules returns all rules, enabled or not.
func (d *DB) ListRules(ctx context.Context) ([]models.Rule, error) {
	rows, err := d.Pool.Query(ctx, `SELECT `+ruleColumns+` FROM rules ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []models.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// CreateAction binds an action to a rule.
func (d *DB) CreateAction(ctx context.Context, a models.Action) error {
	query := `
	INSERT INTO actions (id, rule_id, kind, config, enabled, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := d.Pool.Exec(ctx, query, a.ID, a.RuleID, a.Kind, a.Config, a.Enabled, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create action: %w", err)
	}
	return nil
}

// DeleteAction removes one action.
func (d *DB) DeleteAction(ctx context.Context, id uuid.UUID) error {
	tag, err := d.Pool.Exec(ctx, `DELETE FROM actions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete action %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("action %s not found", id)
	}
	return nil
}

// ListActions returns the actions bound to a rule.
func (d *DB) ListActions(ctx context.Context, ruleID uuid.UUID) ([]models.Action, error) {
	rows, err := d.Pool.Query(ctx,
		`SELECT id, rule_id, kind, config, enabled, created_at FROM actions WHERE rule_id = $1 ORDER BY created_at`,
		ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions for rule %s: %w", ruleID, err)
	}
	defer rows.Close()

	var actions []models.Action
	for rows.Next() {
		var a models.Action
		if err := rows.Scan(&a.ID, &a.RuleID, &a.Kind, &a.Config, &a.Enabled, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}
