package tui

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/Veraticus/cellflow/internal/model"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testModel(t *testing.T) Model {
	t.Helper()
	cfg := defaultConfig()
	WithSize(60, 10)(&cfg)
	m := newModel(context.Background(), cfg)
	return update(t, m, gridMsg{
		columns: []string{"Player", "Team"},
		rows: [][]string{
			{"JohnSmiht", "Reds"},
			{"Ann Lee", "Blues"},
			{"Bo Diaz", "Greens"},
		},
		statuses: map[model.CellCoordinate]model.CellStatus{
			model.Cell(0, "Player"): model.StatusInvalid,
		},
		summary: model.CellsChanged(model.Cell(0, "Player")),
	})
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
}

type fakeRun struct {
	canceled atomic.Bool
}

func (f *fakeRun) Cancel() { f.canceled.Store(true) }

func TestModel_GridMessage(t *testing.T) {
	m := testModel(t)

	assert.True(t, m.ready)
	assert.Equal(t, 1, m.refreshes)
	assert.Len(t, m.rows, 3)
	assert.Contains(t, m.changed, model.Cell(0, "Player"))

	view := m.View()
	assert.Contains(t, view, "Player")
	assert.Contains(t, view, "JohnSmiht")
	assert.Contains(t, view, "3 rows")
}

func TestModel_Navigation(t *testing.T) {
	m := testModel(t)

	m = update(t, m, keyMsg("down"))
	m = update(t, m, keyMsg("l"))
	assert.Equal(t, 1, m.cursorRow)
	assert.Equal(t, 1, m.cursorCol)

	// The cursor stays inside the grid.
	for i := 0; i < 10; i++ {
		m = update(t, m, keyMsg("j"))
		m = update(t, m, keyMsg("l"))
	}
	assert.Equal(t, 2, m.cursorRow)
	assert.Equal(t, 1, m.cursorCol)

	m = update(t, m, keyMsg("g"))
	assert.Equal(t, 0, m.cursorRow)
	m = update(t, m, keyMsg("G"))
	assert.Equal(t, 2, m.cursorRow)
}

func TestModel_ShrinkingGridClampsCursor(t *testing.T) {
	m := testModel(t)
	m = update(t, m, keyMsg("G"))
	m = update(t, m, gridMsg{columns: []string{"Player"}, rows: [][]string{{"x"}}})
	assert.Equal(t, 0, m.cursorRow)
	assert.Equal(t, 0, m.cursorCol)
}

func TestModel_RunLifecycle(t *testing.T) {
	m := testModel(t)
	run := &fakeRun{}

	next, cmd := m.Update(runStartedMsg{kind: "correction", run: run, wait: func() tea.Msg { return nil }})
	m = next.(Model)
	assert.NotNil(t, cmd)
	assert.Equal(t, "correction running", m.message)

	// Starting another run is refused while one is active.
	m = update(t, m, keyMsg("v"))
	assert.Equal(t, "correction already running", m.message)

	// Quit is refused too.
	next, cmd = m.Update(keyMsg("q"))
	m = next.(Model)
	assert.Nil(t, cmd)
	assert.False(t, m.quitting)

	m = update(t, m, keyMsg("x"))
	assert.True(t, run.canceled.Load())

	m = update(t, m, correctionDoneMsg{report: &model.CorrectionReport{Changed: 2, Iterations: 1, Canceled: true}})
	assert.Nil(t, m.run)
	assert.Equal(t, "corrected 2 cells in 1 iteration(s) (canceled)", m.message)

	_, cmd = m.Update(keyMsg("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestModel_ForceQuitCancelsRun(t *testing.T) {
	m := testModel(t)
	run := &fakeRun{}
	m = update(t, m, runStartedMsg{kind: "validation", run: run, wait: func() tea.Msg { return nil }})

	next, cmd := m.Update(keyMsg("ctrl+c"))
	require.NotNil(t, cmd)
	assert.True(t, next.(Model).quitting)
	assert.True(t, run.canceled.Load())
	assert.Empty(t, next.(Model).View())
}

func TestModel_ValidateWithoutValidator(t *testing.T) {
	m := testModel(t)

	next, cmd := m.Update(keyMsg("v"))
	m = next.(Model)
	require.NotNil(t, cmd)
	assert.Equal(t, "validation", m.runKind)

	m = update(t, m, cmd())
	assert.ErrorIs(t, m.lastError, errNoValidator)
	assert.Empty(t, m.runKind)
	assert.Contains(t, m.View(), "no validation rules configured")
}

func TestModel_StatusBar(t *testing.T) {
	m := testModel(t)
	m = update(t, m, countsMsg{counts: map[model.CellStatus]int{model.StatusInvalid: 1}, cells: 6})
	m = update(t, m, validationDoneMsg{report: model.ValidationReport{Processed: 6, Valid: 5, Invalid: 1}})

	bar := m.renderStatusBar()
	assert.Contains(t, bar, "(0, Player)")
	assert.Contains(t, bar, "INVALID:1")
	assert.Contains(t, bar, "validated 6 cells: 5 valid, 1 invalid")

	m = update(t, m, Reloaded(errors.New("disk gone")))
	assert.Contains(t, m.renderStatusBar(), "disk gone")
}

func TestFit(t *testing.T) {
	assert.Equal(t, "abc     ", fit("abc", 8))
	assert.Equal(t, "abcdefg…", fit("abcdefghij", 8))
	// Wide runes count double.
	assert.Equal(t, 8, runewidth.StringWidth(fit("日本語テキスト", 8)))
}

func TestModel_PatchTouchesOnlyNamedCells(t *testing.T) {
	m := testModel(t)
	m = update(t, m, gridPatchMsg{
		values: map[model.CellCoordinate]string{model.Cell(2, "Team"): "Golds"},
		statuses: map[model.CellCoordinate]model.CellStatus{
			model.Cell(0, "Player"): model.StatusUnchecked,
			model.Cell(1, "Team"):   model.StatusValid,
		},
		summary: model.CellsChanged(model.Cell(2, "Team")),
	})

	assert.Equal(t, [][]string{
		{"JohnSmiht", "Reds"},
		{"Ann Lee", "Blues"},
		{"Bo Diaz", "Golds"},
	}, m.rows)
	assert.Equal(t, map[model.CellCoordinate]model.CellStatus{
		model.Cell(1, "Team"): model.StatusValid,
	}, m.statuses)
	assert.Equal(t, map[model.CellCoordinate]struct{}{model.Cell(2, "Team"): {}}, m.changed)
	assert.Equal(t, 2, m.refreshes)
}

func TestModel_PatchIgnoresCellsOutsideGrid(t *testing.T) {
	m := testModel(t)
	m = update(t, m, gridPatchMsg{values: map[model.CellCoordinate]string{
		model.Cell(9, "Team"):  "x",
		model.Cell(0, "Coach"): "y",
	}})
	assert.Equal(t, "Reds", m.rows[0][1])
	assert.Len(t, m.rows, 3)
}
