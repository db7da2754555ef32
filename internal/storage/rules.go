package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/Veraticus/cellflow/internal/common"
	"github.com/Veraticus/cellflow/internal/model"
)

const ruleColumns = `id, name, match_value, replacement, scope, column_name,
	priority, is_enabled, use_count, created_at, updated_at`

// CreateRule stores a new correction rule and fills in its ID and
// timestamps.
func (s *SQLiteStorage) CreateRule(ctx context.Context, rule *model.CorrectionRule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRule(rule); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO correction_rules (
			name, match_value, replacement, scope, column_name, priority, is_enabled
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rule.Name, rule.Match, rule.Replacement, rule.Scope, rule.Column, rule.Priority, rule.Enabled,
	)
	if err != nil {
		return wrapConstraint(err, "failed to create correction rule")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get correction rule ID: %w", err)
	}

	now := time.Now()
	rule.ID = int(id)
	rule.CreatedAt = now
	rule.UpdatedAt = now
	return nil
}

// GetRule retrieves a correction rule by ID.
func (s *SQLiteStorage) GetRule(ctx context.Context, id int) (*model.CorrectionRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM correction_rules WHERE id = ?`, id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("correction rule %d: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get correction rule: %w", err)
	}
	return rule, nil
}

// ListRules returns every rule, enabled or not, in application order.
func (s *SQLiteStorage) ListRules(ctx context.Context) ([]model.CorrectionRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.queryRules(ctx, `SELECT `+ruleColumns+` FROM correction_rules ORDER BY priority ASC, id ASC`)
}

// EnabledRules returns the enabled rules in application order. A nil scope
// returns every scope.
func (s *SQLiteStorage) EnabledRules(ctx context.Context, scope *model.RuleScope) ([]model.CorrectionRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if scope == nil {
		return s.queryRules(ctx, `
			SELECT `+ruleColumns+` FROM correction_rules
			WHERE is_enabled = 1
			ORDER BY priority ASC, id ASC`)
	}
	if err := validateScope(*scope); err != nil {
		return nil, err
	}
	return s.queryRules(ctx, `
		SELECT `+ruleColumns+` FROM correction_rules
		WHERE is_enabled = 1 AND scope = ?
		ORDER BY priority ASC, id ASC`, *scope)
}

// UpdateRule rewrites every editable field of an existing rule.
func (s *SQLiteStorage) UpdateRule(ctx context.Context, rule *model.CorrectionRule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRule(rule); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE correction_rules SET
			name = ?, match_value = ?, replacement = ?, scope = ?, column_name = ?,
			priority = ?, is_enabled = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		rule.Name, rule.Match, rule.Replacement, rule.Scope, rule.Column,
		rule.Priority, rule.Enabled, rule.ID,
	)
	if err != nil {
		return wrapConstraint(err, "failed to update correction rule")
	}
	if err := expectOneRow(result, "correction rule", rule.ID); err != nil {
		return err
	}
	rule.UpdatedAt = time.Now()
	return nil
}

// SetRuleEnabled turns a rule on or off.
func (s *SQLiteStorage) SetRuleEnabled(ctx context.Context, id int, enabled bool) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE correction_rules SET is_enabled = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		enabled, id)
	if err != nil {
		return fmt.Errorf("failed to update correction rule: %w", err)
	}
	return expectOneRow(result, "correction rule", id)
}

// DeleteRule removes a rule.
func (s *SQLiteStorage) DeleteRule(ctx context.Context, id int) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM correction_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete correction rule: %w", err)
	}
	return expectOneRow(result, "correction rule", id)
}

// RecordRuleUse adds each rule's number of applied entries to its use count.
func (s *SQLiteStorage) RecordRuleUse(ctx context.Context, entries []model.CorrectionEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	uses := make(map[int]int)
	for _, e := range entries {
		uses[e.RuleID]++
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `UPDATE correction_rules SET use_count = use_count + ? WHERE id = ?`)
		if err != nil {
			return fmt.Errorf("failed to prepare use count update: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for id, n := range uses {
			// Rules deleted since the run simply match nothing.
			if _, err := stmt.ExecContext(ctx, n, id); err != nil {
				return fmt.Errorf("failed to record use of rule %d: %w", id, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStorage) queryRules(ctx context.Context, query string, args ...any) ([]model.CorrectionRule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query correction rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []model.CorrectionRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan correction rule: %w", err)
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(row scanner) (*model.CorrectionRule, error) {
	var rule model.CorrectionRule
	err := row.Scan(
		&rule.ID, &rule.Name, &rule.Match, &rule.Replacement, &rule.Scope, &rule.Column,
		&rule.Priority, &rule.Enabled, &rule.UseCount, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func expectOneRow(result sql.Result, what string, id int) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, common.ErrNotFound)
	}
	return nil
}

// wrapConstraint maps unique constraint violations to ErrDuplicateEntry.
func wrapConstraint(err error, msg string) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%s: %w", msg, common.ErrDuplicateEntry)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
