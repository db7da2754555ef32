// Package testutil provides test helpers for setting up seeded databases and
// tables.
package testutil

import (
	"context"
	"testing"

	"github.com/Veraticus/cellflow/internal/dataset"
	"github.com/Veraticus/cellflow/internal/model"
	"github.com/Veraticus/cellflow/internal/storage"
)

// TestDB is a migrated in-memory database.
type TestDB struct {
	Storage *storage.SQLiteStorage
	t       *testing.T
}

// TestDBOptions seeds a test database.
type TestDBOptions struct {
	CustomSetup func(context.Context, *storage.SQLiteStorage) error
	Datasets    map[string]*dataset.Table
	Rules       []model.CorrectionRule
}

// SetupTestDB creates an in-memory database, runs migrations and closes it
// when the test ends.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()
	return SetupTestDBWithOptions(t, TestDBOptions{})
}

// SetupTestDBWithOptions creates a test database and seeds it.
func SetupTestDBWithOptions(t *testing.T, opts TestDBOptions) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	for i := range opts.Rules {
		rule := opts.Rules[i]
		if err := store.CreateRule(ctx, &rule); err != nil {
			t.Fatalf("failed to seed rule %q: %v", rule.Name, err)
		}
	}
	for name, table := range opts.Datasets {
		if err := store.SaveDataset(ctx, name, table); err != nil {
			t.Fatalf("failed to seed dataset %q: %v", name, err)
		}
	}

	if opts.CustomSetup != nil {
		if err := opts.CustomSetup(ctx, store); err != nil {
			t.Fatalf("custom setup failed: %v", err)
		}
	}

	return &TestDB{Storage: store, t: t}
}

// MustLoad loads a stored dataset or fails the test.
func (db *TestDB) MustLoad(name string) *dataset.Table {
	db.t.Helper()
	table, err := db.Storage.LoadDataset(context.Background(), name)
	if err != nil {
		db.t.Fatalf("failed to load dataset %q: %v", name, err)
	}
	return table
}

// MustRules returns every stored rule or fails the test.
func (db *TestDB) MustRules() []model.CorrectionRule {
	db.t.Helper()
	rules, err := db.Storage.ListRules(context.Background())
	if err != nil {
		db.t.Fatalf("failed to list rules: %v", err)
	}
	return rules
}

// Table builds a table from row-major values or fails the test.
func Table(t *testing.T, columns []string, rows ...[]string) *dataset.Table {
	t.Helper()
	table, err := dataset.FromRows(columns, rows)
	if err != nil {
		t.Fatalf("failed to build table: %v", err)
	}
	return table
}

// GenericRule returns an enabled rule that applies to every correctable
// column.
func GenericRule(name, match, replacement string) model.CorrectionRule {
	return model.CorrectionRule{
		Name:        name,
		Match:       match,
		Replacement: replacement,
		Scope:       model.ScopeGeneric,
		Enabled:     true,
	}
}

// ColumnRule returns an enabled rule scoped to one column.
func ColumnRule(name, column, match, replacement string) model.CorrectionRule {
	rule := GenericRule(name, match, replacement)
	rule.Scope = model.ScopeColumn
	rule.Column = column
	return rule
}
