package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Veraticus/cellflow/internal/model"
)

// SaveStatuses replaces the stored statuses of a dataset. Unchecked cells
// are not stored.
func (s *SQLiteStorage) SaveStatuses(ctx context.Context, name string, updates []model.StatusUpdate) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(name, "name"); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cell_statuses WHERE dataset = ?`, name); err != nil {
			return fmt.Errorf("failed to clear statuses: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT OR REPLACE INTO cell_statuses (dataset, row_index, column_name, status) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare status insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, u := range updates {
			if u.Status == model.StatusUnchecked {
				continue
			}
			if !u.Status.IsValid() {
				return fmt.Errorf("cell %s: unknown status %q", u.Cell, u.Status)
			}
			if _, err := stmt.ExecContext(ctx, name, u.Cell.Row, u.Cell.Column, string(u.Status)); err != nil {
				return fmt.Errorf("failed to save status of %s: %w", u.Cell, err)
			}
		}
		return nil
	})
}

// LoadStatuses returns the stored statuses of a dataset in row-major order.
func (s *SQLiteStorage) LoadStatuses(ctx context.Context, name string) ([]model.StatusUpdate, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT row_index, column_name, status FROM cell_statuses
		WHERE dataset = ?
		ORDER BY row_index, column_name`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query statuses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var updates []model.StatusUpdate
	for rows.Next() {
		var u model.StatusUpdate
		if err := rows.Scan(&u.Cell.Row, &u.Cell.Column, &u.Status); err != nil {
			return nil, fmt.Errorf("failed to scan status: %w", err)
		}
		updates = append(updates, u)
	}
	return updates, rows.Err()
}
