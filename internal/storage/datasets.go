package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/cellflow/internal/common"
	"github.com/Veraticus/cellflow/internal/dataset"
	"github.com/Veraticus/cellflow/internal/model"
)

// DatasetInfo describes a stored dataset.
type DatasetInfo struct {
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
	Name      string    `json:"name" yaml:"name"`
	Columns   []string  `json:"columns" yaml:"columns"`
	Rows      int       `json:"rows" yaml:"rows"`
}

// SaveDataset replaces the stored copy of the named dataset with the
// current contents of r. Stored statuses for the dataset are dropped.
func (s *SQLiteStorage) SaveDataset(ctx context.Context, name string, r dataset.Reader) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(name, "name"); err != nil {
		return err
	}
	if r == nil {
		return fmt.Errorf("%w: dataset", ErrNilParameter)
	}

	columns := r.Columns()
	values := make([][]string, len(columns))
	for i, c := range columns {
		col, err := r.ReadColumn(c)
		if err != nil {
			return common.NewReadFault(c, err)
		}
		values[i] = col
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM datasets WHERE name = ?`, name); err != nil {
			return fmt.Errorf("failed to clear dataset: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO datasets (name, row_count) VALUES (?, ?)`, name, r.RowCount()); err != nil {
			return fmt.Errorf("failed to save dataset: %w", err)
		}

		colStmt, err := tx.PrepareContext(ctx,
			`INSERT INTO dataset_columns (dataset, position, name) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare column insert: %w", err)
		}
		defer func() { _ = colStmt.Close() }()

		cellStmt, err := tx.PrepareContext(ctx,
			`INSERT INTO dataset_cells (dataset, row_index, column_name, value) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare cell insert: %w", err)
		}
		defer func() { _ = cellStmt.Close() }()

		for i, c := range columns {
			if _, err := colStmt.ExecContext(ctx, name, i, c); err != nil {
				return fmt.Errorf("failed to save column %q: %w", c, err)
			}
			for row, v := range values[i] {
				if _, err := cellStmt.ExecContext(ctx, name, row, c, v); err != nil {
					return fmt.Errorf("failed to save cell (%d, %s): %w", row, c, err)
				}
			}
		}
		return nil
	})
}

// SaveCells writes the current values of cells into the stored dataset.
// Statuses are left alone.
func (s *SQLiteStorage) SaveCells(ctx context.Context, name string, r dataset.Reader, cells []model.CellCoordinate) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if len(cells) == 0 {
		return nil
	}

	byColumn := make(map[string][]string)
	for _, c := range cells {
		if _, ok := byColumn[c.Column]; ok {
			continue
		}
		col, err := r.ReadColumn(c.Column)
		if err != nil {
			return common.NewReadFault(c.Column, err)
		}
		byColumn[c.Column] = col
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`UPDATE dataset_cells SET value = ? WHERE dataset = ? AND row_index = ? AND column_name = ?`)
		if err != nil {
			return fmt.Errorf("failed to prepare cell update: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, c := range cells {
			col := byColumn[c.Column]
			if c.Row < 0 || c.Row >= len(col) {
				return fmt.Errorf("cell %s: %w", c, common.ErrRowOutOfRange)
			}
			result, err := stmt.ExecContext(ctx, col[c.Row], name, c.Row, c.Column)
			if err != nil {
				return fmt.Errorf("failed to update cell %s: %w", c, err)
			}
			if n, _ := result.RowsAffected(); n == 0 {
				return fmt.Errorf("dataset %q cell %s: %w", name, c, common.ErrNotFound)
			}
		}
		_, err = tx.ExecContext(ctx, `UPDATE datasets SET updated_at = CURRENT_TIMESTAMP WHERE name = ?`, name)
		return err
	})
}

// LoadDataset reads the named dataset into a new in-memory table.
func (s *SQLiteStorage) LoadDataset(ctx context.Context, name string) (*dataset.Table, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	info, err := s.GetDataset(ctx, name)
	if err != nil {
		return nil, err
	}

	rows := make([][]string, info.Rows)
	index := make(map[string]int, len(info.Columns))
	for i, c := range info.Columns {
		index[c] = i
	}
	for i := range rows {
		rows[i] = make([]string, len(info.Columns))
	}

	cellRows, err := s.db.QueryContext(ctx,
		`SELECT row_index, column_name, value FROM dataset_cells WHERE dataset = ?`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query cells: %w", err)
	}
	defer func() { _ = cellRows.Close() }()

	for cellRows.Next() {
		var (
			row    int
			column string
			value  string
		)
		if err := cellRows.Scan(&row, &column, &value); err != nil {
			return nil, fmt.Errorf("failed to scan cell: %w", err)
		}
		i, ok := index[column]
		if !ok || row < 0 || row >= len(rows) {
			return nil, fmt.Errorf("dataset %q has stray cell (%d, %s)", name, row, column)
		}
		rows[row][i] = value
	}
	if err := cellRows.Err(); err != nil {
		return nil, err
	}

	return dataset.FromRows(info.Columns, rows)
}

// GetDataset returns the stored shape of one dataset.
func (s *SQLiteStorage) GetDataset(ctx context.Context, name string) (*DatasetInfo, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	info := DatasetInfo{Name: name}
	err := s.db.QueryRowContext(ctx,
		`SELECT row_count, updated_at FROM datasets WHERE name = ?`, name).Scan(&info.Rows, &info.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dataset %q: %w", name, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dataset: %w", err)
	}

	info.Columns, err = s.datasetColumns(ctx, name)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// ListDatasets returns every stored dataset ordered by name.
func (s *SQLiteStorage) ListDatasets(ctx context.Context) ([]DatasetInfo, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT name, row_count, updated_at FROM datasets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query datasets: %w", err)
	}
	var infos []DatasetInfo
	for rows.Next() {
		var info DatasetInfo
		if err := rows.Scan(&info.Name, &info.Rows, &info.UpdatedAt); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan dataset: %w", err)
		}
		infos = append(infos, info)
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, err
	}

	// Column lookups need the connection the row cursor was holding.
	for i := range infos {
		if infos[i].Columns, err = s.datasetColumns(ctx, infos[i].Name); err != nil {
			return nil, err
		}
	}
	return infos, nil
}

// DeleteDataset removes a dataset with its cells and statuses.
func (s *SQLiteStorage) DeleteDataset(ctx context.Context, name string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM datasets WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete dataset: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("dataset %q: %w", name, common.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStorage) datasetColumns(ctx context.Context, name string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM dataset_columns WHERE dataset = ? ORDER BY position`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns := []string{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		columns = append(columns, c)
	}
	return columns, rows.Err()
}
