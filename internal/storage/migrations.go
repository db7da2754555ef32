package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 4

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Correction rules",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS correction_rules (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL,
					match_value TEXT NOT NULL,
					replacement TEXT NOT NULL,
					scope TEXT NOT NULL CHECK (scope IN ('generic', 'column')),
					column_name TEXT NOT NULL DEFAULT '',
					priority INTEGER NOT NULL DEFAULT 0,
					is_enabled BOOLEAN NOT NULL DEFAULT 1,
					use_count INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (scope, column_name, match_value)
				)`,
				`CREATE INDEX idx_correction_rules_enabled ON correction_rules(is_enabled, priority, id)`,
			)
		},
	},
	{
		Version:     2,
		Description: "Datasets",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS datasets (
					name TEXT PRIMARY KEY,
					row_count INTEGER NOT NULL DEFAULT 0,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE TABLE IF NOT EXISTS dataset_columns (
					dataset TEXT NOT NULL REFERENCES datasets(name) ON DELETE CASCADE,
					position INTEGER NOT NULL,
					name TEXT NOT NULL,
					PRIMARY KEY (dataset, position),
					UNIQUE (dataset, name)
				)`,
				`CREATE TABLE IF NOT EXISTS dataset_cells (
					dataset TEXT NOT NULL REFERENCES datasets(name) ON DELETE CASCADE,
					row_index INTEGER NOT NULL,
					column_name TEXT NOT NULL,
					value TEXT NOT NULL,
					PRIMARY KEY (dataset, row_index, column_name)
				)`,
			)
		},
	},
	{
		Version:     3,
		Description: "Cell statuses",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS cell_statuses (
					dataset TEXT NOT NULL REFERENCES datasets(name) ON DELETE CASCADE,
					row_index INTEGER NOT NULL,
					column_name TEXT NOT NULL,
					status TEXT NOT NULL CHECK (status IN ('VALID', 'INVALID', 'INVALID_CORRECTABLE', 'CORRECTED')),
					PRIMARY KEY (dataset, row_index, column_name)
				)`,
			)
		},
	},
	{
		Version:     4,
		Description: "Correction log",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS correction_runs (
					run_id TEXT PRIMARY KEY,
					dataset TEXT NOT NULL,
					mode TEXT NOT NULL,
					started_at DATETIME NOT NULL,
					duration_ms INTEGER NOT NULL DEFAULT 0,
					processed INTEGER NOT NULL DEFAULT 0,
					changed INTEGER NOT NULL DEFAULT 0,
					failed INTEGER NOT NULL DEFAULT 0,
					skipped INTEGER NOT NULL DEFAULT 0,
					iterations INTEGER NOT NULL DEFAULT 0,
					cap_reached BOOLEAN NOT NULL DEFAULT 0,
					canceled BOOLEAN NOT NULL DEFAULT 0,
					fault TEXT
				)`,
				`CREATE INDEX idx_correction_runs_dataset ON correction_runs(dataset, started_at)`,
				`CREATE TABLE IF NOT EXISTS correction_log (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					run_id TEXT NOT NULL REFERENCES correction_runs(run_id) ON DELETE CASCADE,
					row_index INTEGER NOT NULL,
					column_name TEXT NOT NULL,
					old_value TEXT NOT NULL,
					new_value TEXT NOT NULL,
					rule_id INTEGER NOT NULL,
					rule_name TEXT NOT NULL,
					pass TEXT NOT NULL,
					iteration INTEGER NOT NULL,
					applied_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_correction_log_run ON correction_log(run_id)`,
			)
		},
	},
}

func execAll(tx *sql.Tx, queries ...string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	currentVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	finalVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}
	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
