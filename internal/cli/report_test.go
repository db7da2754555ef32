package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Veraticus/cellflow/internal/config"
	"github.com/Veraticus/cellflow/internal/dataset"
	"github.com/Veraticus/cellflow/internal/model"
	"github.com/Veraticus/cellflow/internal/propagation"
	"github.com/Veraticus/cellflow/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Format
		wantErr bool
	}{
		{name: "table", input: "table", want: FormatTable},
		{name: "upper json", input: "JSON", want: FormatJSON},
		{name: "yaml", input: "yaml", want: FormatYAML},
		{name: "unknown", input: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncode(t *testing.T) {
	rule := model.CorrectionRule{ID: 3, Name: "smith", Match: "JohnSmiht", Replacement: "John Smith", Scope: model.ScopeGeneric}

	var js bytes.Buffer
	require.NoError(t, Encode(&js, FormatJSON, []model.CorrectionRule{rule}))
	assert.Contains(t, js.String(), `"replacement": "John Smith"`)

	var ym bytes.Buffer
	require.NoError(t, Encode(&ym, FormatYAML, []model.CorrectionRule{rule}))
	assert.Contains(t, ym.String(), "replacement: John Smith")
	assert.Contains(t, ym.String(), "use_count: 0")

	assert.Error(t, Encode(&js, FormatTable, rule))
}

func TestPrintValidationReport(t *testing.T) {
	var buf bytes.Buffer
	PrintValidationReport(&buf, model.ValidationReport{Processed: 4, Valid: 3, Invalid: 1, Chunks: 1, Canceled: true},
		map[model.CellStatus]int{model.StatusValid: 3, model.StatusInvalid: 1})

	out := buf.String()
	assert.Contains(t, out, "Validation")
	assert.Contains(t, out, "Invalid:")
	assert.Contains(t, out, "VALID 3")
	assert.Contains(t, out, "INVALID 1")
	assert.Contains(t, out, "canceled")
}

func TestPrintCorrectionReport(t *testing.T) {
	report := &model.CorrectionReport{
		RunID:      "run-1",
		Mode:       model.ModeAllCells,
		Processed:  4,
		Changed:    1,
		Iterations: 2,
		Entries: []model.CorrectionEntry{{
			Cell: model.Cell(0, "Player"), OldValue: "JohnSmiht", NewValue: "John Smith", RuleName: "smith", Iteration: 1,
		}},
		IterationCapReached: true,
	}

	var buf bytes.Buffer
	PrintCorrectionReport(&buf, report, true, true)
	out := buf.String()
	assert.Contains(t, out, "Correction preview")
	assert.Contains(t, out, `(0, Player) "JohnSmiht" → "John Smith"`)
	assert.Contains(t, out, "Iteration cap reached")

	buf.Reset()
	report.Fault = errors.New("write refused")
	PrintCorrectionReport(&buf, report, false, false)
	assert.Contains(t, buf.String(), "Correction aborted: write refused")
	assert.NotContains(t, buf.String(), "JohnSmiht")
}

func TestPrintTables(t *testing.T) {
	var buf bytes.Buffer
	PrintRules(&buf, nil)
	assert.Contains(t, buf.String(), "No correction rules.")

	buf.Reset()
	PrintRules(&buf, []model.CorrectionRule{{ID: 1, Name: "smith", Match: "JohnSmiht", Replacement: "John Smith", Scope: model.ScopeColumn, Column: "Player", Enabled: true}})
	assert.Contains(t, buf.String(), "JohnSmiht")
	assert.Contains(t, buf.String(), "Player")

	buf.Reset()
	PrintDatasets(&buf, []storage.DatasetInfo{{Name: "league", Rows: 2, Columns: []string{"Player", "Team"}, UpdatedAt: time.Now()}})
	assert.Contains(t, buf.String(), "Player, Team")

	buf.Reset()
	PrintRuns(&buf, []storage.CorrectionRunRecord{{RunID: "r1", Mode: "all", Canceled: true, StartedAt: time.Now()}})
	assert.Contains(t, buf.String(), "canceled")

	buf.Reset()
	PrintEntries(&buf, []model.CorrectionEntry{{Cell: model.Cell(1, "Team"), OldValue: "Rds", NewValue: "Reds", RuleName: "reds", Pass: model.PassScoped}})
	assert.Contains(t, buf.String(), "(1, Team)")
	assert.Contains(t, buf.String(), "scoped")
}

func TestPrintGrid(t *testing.T) {
	table, err := dataset.FromRows([]string{"Player", "Team"}, [][]string{{"JohnSmiht", "Reds"}, {"Ann Lee", "Blues"}})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, PrintGrid(&buf, table, []model.StatusUpdate{{Cell: model.Cell(0, "Player"), Status: model.StatusInvalid}}))
	out := buf.String()
	assert.Contains(t, out, "JohnSmiht")
	assert.Contains(t, out, "Blues")
	assert.Contains(t, out, "INVALID 1")
}

func TestProgress_SilentWithoutTerminal(t *testing.T) {
	table, err := dataset.FromRows([]string{"A"}, [][]string{{"x"}, {"y"}})
	require.NoError(t, err)
	settings := config.Default()
	settings.Engine.DebounceWindow = time.Millisecond
	hub, err := propagation.New(table, settings)
	require.NoError(t, err)
	hub.Start(context.Background())
	t.Cleanup(hub.Close)

	var buf bytes.Buffer
	assert.False(t, IsTerminal(&buf))

	p, err := TrackValidation(hub, &buf)
	require.NoError(t, err)
	_, err = hub.RecordValidationResult(context.Background(), model.Cell(0, "A"), true)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	p.Finish()

	c, err := TrackCorrection(hub, &buf)
	require.NoError(t, err)
	c.Finish()

	assert.Empty(t, buf.String())
}
