package tui

import (
	"github.com/Veraticus/cellflow/internal/model"
	tea "github.com/charmbracelet/bubbletea"
)

// gridMsg carries a fresh copy of the dataset and its statuses.
type gridMsg struct {
	statuses map[model.CellCoordinate]model.CellStatus
	columns  []string
	rows     [][]string
	summary  model.ChangeSummary
}

// gridPatchMsg carries only the values and statuses that changed since the
// last grid message. A status of Unchecked clears the cell's status.
type gridPatchMsg struct {
	values   map[model.CellCoordinate]string
	statuses map[model.CellCoordinate]model.CellStatus
	summary  model.ChangeSummary
}

// countsMsg carries per-status totals, computed after the grid refreshed.
type countsMsg struct {
	counts map[model.CellStatus]int
	cells  int
}

// canceler is a background run that can be stopped.
type canceler interface {
	Cancel()
}

// runStartedMsg reports a run that is now in flight. wait blocks until it
// finishes and returns its result message.
type runStartedMsg struct {
	run  canceler
	wait tea.Cmd
	kind string
}

type validationDoneMsg struct {
	err    error
	report model.ValidationReport
}

type correctionDoneMsg struct {
	err     error
	report  *model.CorrectionReport
	preview bool
}

type errorMsg struct {
	err error
}

// reloadedMsg reports that the dataset was replaced from disk.
type reloadedMsg struct {
	err error
}
