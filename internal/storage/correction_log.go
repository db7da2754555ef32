package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/cellflow/internal/common"
	"github.com/Veraticus/cellflow/internal/model"
)

// CorrectionRunRecord is the stored summary of one correction run.
type CorrectionRunRecord struct {
	StartedAt  time.Time     `json:"started_at" yaml:"started_at"`
	RunID      string        `json:"run_id" yaml:"run_id"`
	Dataset    string        `json:"dataset" yaml:"dataset"`
	Mode       string        `json:"mode" yaml:"mode"`
	Fault      string        `json:"fault,omitempty" yaml:"fault,omitempty"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
	Processed  int           `json:"processed" yaml:"processed"`
	Changed    int           `json:"changed" yaml:"changed"`
	Failed     int           `json:"failed" yaml:"failed"`
	Skipped    int           `json:"skipped" yaml:"skipped"`
	Iterations int           `json:"iterations" yaml:"iterations"`
	CapReached bool          `json:"cap_reached" yaml:"cap_reached"`
	Canceled   bool          `json:"canceled" yaml:"canceled"`
}

// SaveCorrectionReport records a finished run with every entry it applied.
// Dry runs should not be recorded.
func (s *SQLiteStorage) SaveCorrectionReport(ctx context.Context, name string, report *model.CorrectionReport) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if report == nil {
		return fmt.Errorf("%w: report", ErrNilParameter)
	}
	if err := validateString(report.RunID, "run ID"); err != nil {
		return err
	}

	var fault sql.NullString
	if report.Fault != nil {
		fault = sql.NullString{String: report.Fault.Error(), Valid: true}
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO correction_runs (
				run_id, dataset, mode, started_at, duration_ms, processed, changed,
				failed, skipped, iterations, cap_reached, canceled, fault
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			report.RunID, name, string(report.Mode), report.StartedAt, report.Duration.Milliseconds(),
			report.Processed, report.Changed, report.Failed, report.Skipped, report.Iterations,
			report.IterationCapReached, report.Canceled, fault,
		)
		if err != nil {
			return wrapConstraint(err, "failed to save correction run")
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO correction_log (
				run_id, row_index, column_name, old_value, new_value,
				rule_id, rule_name, pass, iteration, applied_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare log insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, e := range report.Entries {
			if _, err := stmt.ExecContext(ctx,
				report.RunID, e.Cell.Row, e.Cell.Column, e.OldValue, e.NewValue,
				e.RuleID, e.RuleName, string(e.Pass), e.Iteration, e.AppliedAt,
			); err != nil {
				return fmt.Errorf("failed to log correction of %s: %w", e.Cell, err)
			}
		}
		return nil
	})
}

// ListCorrectionRuns returns the most recent runs for a dataset, newest
// first. A limit of zero or less returns them all.
func (s *SQLiteStorage) ListCorrectionRuns(ctx context.Context, name string, limit int) ([]CorrectionRunRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, dataset, mode, started_at, duration_ms, processed, changed,
			failed, skipped, iterations, cap_reached, canceled, fault
		FROM correction_runs
		WHERE dataset = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, name, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query correction runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []CorrectionRunRecord
	for rows.Next() {
		var (
			r          CorrectionRunRecord
			durationMS int64
			fault      sql.NullString
		)
		if err := rows.Scan(&r.RunID, &r.Dataset, &r.Mode, &r.StartedAt, &durationMS, &r.Processed,
			&r.Changed, &r.Failed, &r.Skipped, &r.Iterations, &r.CapReached, &r.Canceled, &fault); err != nil {
			return nil, fmt.Errorf("failed to scan correction run: %w", err)
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		r.Fault = fault.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// CorrectionLog returns the entries applied by one run in the order they
// were applied.
func (s *SQLiteStorage) CorrectionLog(ctx context.Context, runID string) ([]model.CorrectionEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM correction_runs WHERE run_id = ?`, runID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("correction run %q: %w", runID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get correction run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT row_index, column_name, old_value, new_value, rule_id, rule_name, pass, iteration, applied_at
		FROM correction_log
		WHERE run_id = ?
		ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query correction log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.CorrectionEntry
	for rows.Next() {
		var e model.CorrectionEntry
		if err := rows.Scan(&e.Cell.Row, &e.Cell.Column, &e.OldValue, &e.NewValue,
			&e.RuleID, &e.RuleName, &e.Pass, &e.Iteration, &e.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan correction entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
