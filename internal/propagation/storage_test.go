package propagation_test

import (
	"context"
	"testing"
	"time"

	"github.com/Veraticus/cellflow/internal/config"
	"github.com/Veraticus/cellflow/internal/dataset"
	"github.com/Veraticus/cellflow/internal/model"
	"github.com/Veraticus/cellflow/internal/propagation"
	"github.com/Veraticus/cellflow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Rules come from storage and the results go back to it.
func TestHub_StoredRulesRoundTrip(t *testing.T) {
	db := testutil.SetupTestDBWithOptions(t, testutil.TestDBOptions{
		Datasets: map[string]*dataset.Table{
			"league": testutil.Table(t, []string{"Player", "Team"},
				[]string{"JohnSmiht", "Rds"},
				[]string{"Ann Lee", "Blues"},
			),
		},
		Rules: []model.CorrectionRule{
			testutil.GenericRule("smith", "JohnSmiht", "John Smith"),
			testutil.ColumnRule("reds", "Team", "Rds", "Reds"),
		},
	})
	ctx := context.Background()
	table := db.MustLoad("league")

	settings := config.Default()
	settings.Engine.DebounceWindow = time.Millisecond
	hub, err := propagation.New(table, settings)
	require.NoError(t, err)
	hub.Start(ctx)
	t.Cleanup(hub.Close)

	run, err := hub.StartCorrectionFrom(ctx, db.Storage, hub.CorrectionOptions())
	require.NoError(t, err)
	require.NoError(t, run.Wait())
	report := run.Report()
	require.NotNil(t, report)
	assert.Equal(t, 2, report.Changed)

	require.NoError(t, db.Storage.SaveCells(ctx, "league", table, report.ChangedCells()))
	require.NoError(t, db.Storage.SaveStatuses(ctx, "league", hub.StatusEntries()))
	require.NoError(t, db.Storage.RecordRuleUse(ctx, report.Entries))

	reloaded := db.MustLoad("league")
	v, err := reloaded.Value(0, "Team")
	require.NoError(t, err)
	assert.Equal(t, "Reds", v)

	statuses, err := db.Storage.LoadStatuses(ctx, "league")
	require.NoError(t, err)
	assert.Len(t, statuses, 2)
	for _, s := range statuses {
		assert.Equal(t, model.StatusCorrected, s.Status)
	}

	for _, r := range db.MustRules() {
		assert.Equal(t, 1, r.UseCount, r.Name)
	}
}
