package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Veraticus/cellflow/internal/common"
	"github.com/Veraticus/cellflow/internal/config"
	"github.com/Veraticus/cellflow/internal/model"
	"github.com/Veraticus/cellflow/internal/storage"
	"github.com/Veraticus/cellflow/internal/validation"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const leagueCSV = `Player,Team
JohnSmiht,Rds
Ann Lee,Blues
Bo Diaz,Reds
`

// useTestSettings points the commands at a fresh database for one test.
func useTestSettings(t *testing.T) {
	t.Helper()
	old := settings
	settings = config.Default()
	settings.Database.Path = filepath.Join(t.TempDir(), "cellflow.db")
	settings.Database.Dataset = "league"
	settings.Engine.DebounceWindow = time.Millisecond
	settings.Validation = []validation.ColumnRule{
		{Column: "Team", Allowed: []string{"Reds", "Blues"}},
		{Column: "Player", Required: true},
	}
	t.Cleanup(func() { settings = old })
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func mustExecute(t *testing.T, cmd *cobra.Command, args ...string) string {
	t.Helper()
	out, err := execute(t, cmd, args...)
	require.NoError(t, err, out)
	return out
}

func importLeague(t *testing.T) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "league.csv")
	require.NoError(t, os.WriteFile(path, []byte(leagueCSV), 0o600))
	out := mustExecute(t, dataCmd(), "import", path)
	assert.Contains(t, out, `Imported "league": 3 rows × 2 columns`)
}

func openTestStorage(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	store, err := initStorage(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRulesCommands(t *testing.T) {
	useTestSettings(t)

	out := mustExecute(t, rulesCmd(), "add", "smith", "JohnSmiht", "John Smith")
	assert.Contains(t, out, "Created rule 1 (smith)")
	mustExecute(t, rulesCmd(), "add", "reds", "Rds", "Reds", "--column", "Team", "--priority", "5")

	_, err := execute(t, rulesCmd(), "add", "again", "JohnSmiht", "Jon")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrDuplicateEntry)

	out = mustExecute(t, rulesCmd(), "list", "--output", "json")
	var rules []model.CorrectionRule
	require.NoError(t, json.Unmarshal([]byte(out), &rules))
	require.Len(t, rules, 2)
	assert.Equal(t, model.ScopeColumn, rules[1].Scope)
	assert.Equal(t, "Team", rules[1].Column)

	mustExecute(t, rulesCmd(), "edit", "2", "--generic", "--replace", "Reds FC")
	mustExecute(t, rulesCmd(), "disable", "1")

	out = mustExecute(t, rulesCmd(), "list", "--enabled", "--output", "yaml")
	assert.Contains(t, out, "replacement: Reds FC")
	assert.Contains(t, out, "scope: generic")
	assert.NotContains(t, out, "JohnSmiht")

	mustExecute(t, rulesCmd(), "delete", "1")
	_, err = execute(t, rulesCmd(), "delete", "1")
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = execute(t, rulesCmd(), "enable", "abc")
	assert.ErrorContains(t, err, `invalid rule ID "abc"`)
}

func TestDataCommands(t *testing.T) {
	useTestSettings(t)
	importLeague(t)

	out := mustExecute(t, dataCmd(), "list")
	assert.Contains(t, out, "league")
	assert.Contains(t, out, "Player, Team")

	out = mustExecute(t, dataCmd(), "show", "--output", "json")
	var doc datasetDocument
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, []string{"Player", "Team"}, doc.Columns)
	assert.Equal(t, "Rds", doc.Rows[0][1].Value)
	assert.Empty(t, doc.Rows[0][1].Status)

	out = mustExecute(t, dataCmd(), "set", "1", "Team", "Reds")
	assert.Contains(t, out, `Set (1, Team) = "Reds"`)
	out = mustExecute(t, dataCmd(), "set", "1", "Team", "Reds")
	assert.Contains(t, out, "already has that value")

	_, err := execute(t, dataCmd(), "set", "9", "Team", "Reds")
	assert.ErrorIs(t, err, common.ErrRowOutOfRange)

	out = mustExecute(t, dataCmd(), "export")
	assert.Equal(t, "Player,Team\nJohnSmiht,Rds\nAnn Lee,Reds\nBo Diaz,Reds\n", out)

	mustExecute(t, dataCmd(), "delete", "league")
	_, err = execute(t, dataCmd(), "delete", "league")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestValidateThenCorrect(t *testing.T) {
	useTestSettings(t)
	importLeague(t)
	mustExecute(t, rulesCmd(), "add", "smith", "JohnSmiht", "John Smith")
	mustExecute(t, rulesCmd(), "add", "reds", "Rds", "Reds", "--column", "Team")

	out := mustExecute(t, validateCmd(), "--mark-correctable")
	assert.Contains(t, out, "Validation")

	store := openTestStorage(t)
	statuses, err := store.LoadStatuses(context.Background(), "league")
	require.NoError(t, err)
	byCell := make(map[model.CellCoordinate]model.CellStatus)
	for _, s := range statuses {
		byCell[s.Cell] = s.Status
	}
	assert.Equal(t, model.StatusInvalidCorrectable, byCell[model.Cell(0, "Team")])
	assert.Equal(t, model.StatusValid, byCell[model.Cell(1, "Team")])
	assert.Len(t, statuses, 6)

	// A dry run reports without writing.
	out = mustExecute(t, correctCmd(), "--dry-run", "--verbose")
	assert.Contains(t, out, "Correction preview")
	assert.Contains(t, out, `"Rds" → "Reds"`)
	table, err := store.LoadDataset(context.Background(), "league")
	require.NoError(t, err)
	v, err := table.Value(0, "Team")
	require.NoError(t, err)
	assert.Equal(t, "Rds", v)

	out = mustExecute(t, correctCmd(), "--output", "json")
	var report model.CorrectionReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 2, report.Changed)
	require.NotEmpty(t, report.RunID)

	table, err = store.LoadDataset(context.Background(), "league")
	require.NoError(t, err)
	v, err = table.Value(0, "Player")
	require.NoError(t, err)
	assert.Equal(t, "John Smith", v)

	statuses, err = store.LoadStatuses(context.Background(), "league")
	require.NoError(t, err)
	corrected := 0
	for _, s := range statuses {
		if s.Status == model.StatusCorrected {
			corrected++
		}
	}
	assert.Equal(t, 2, corrected)

	rules, err := store.ListRules(context.Background())
	require.NoError(t, err)
	for _, r := range rules {
		assert.Equal(t, 1, r.UseCount, r.Name)
	}

	out = mustExecute(t, historyCmd())
	assert.Contains(t, out, report.RunID)
	assert.Contains(t, out, "settled")

	out = mustExecute(t, historyCmd(), report.RunID, "--output", "json")
	var entries []model.CorrectionEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	assert.Len(t, entries, 2)

	_, err = execute(t, historyCmd(), "no-such-run")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestValidate_RequiresRules(t *testing.T) {
	useTestSettings(t)
	settings.Validation = nil
	importLeague(t)

	_, err := execute(t, validateCmd())
	assert.ErrorContains(t, err, "no validation rules configured")
}

func TestCorrect_NoRules(t *testing.T) {
	useTestSettings(t)
	importLeague(t)

	out := mustExecute(t, correctCmd())
	assert.Contains(t, out, "No enabled correction rules")
}

func TestMigrateStatus(t *testing.T) {
	useTestSettings(t)

	out := mustExecute(t, migrateCmd(), "--status")
	assert.Contains(t, out, "Current:  0")
	assert.Contains(t, out, "Migrations pending")

	mustExecute(t, migrateCmd())
	out = mustExecute(t, migrateCmd(), "--status")
	assert.NotContains(t, out, "Migrations pending")
}

func TestReadCSV(t *testing.T) {
	table, err := readCSV(strings.NewReader("A,B,C\n1,2\n4,5,6\n"))
	require.NoError(t, err)
	row, err := table.Row(0)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", ""}, row)

	_, err = readCSV(strings.NewReader("A\n1,2\n"))
	assert.ErrorContains(t, err, "line 2 has 2 fields")

	_, err = readCSV(strings.NewReader(""))
	assert.ErrorContains(t, err, "file is empty")
}

func TestVersion(t *testing.T) {
	out := mustExecute(t, versionCmd())
	assert.Equal(t, "cellflow dev\n", out)
}
