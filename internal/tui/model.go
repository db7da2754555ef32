package tui

import (
	"context"
	"fmt"

	"github.com/Veraticus/cellflow/internal/model"
	"github.com/Veraticus/cellflow/internal/tui/themes"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// Model holds the grid TUI state.
type Model struct {
	ctx       context.Context
	run       canceler
	lastError error
	statuses  map[model.CellCoordinate]model.CellStatus
	changed   map[model.CellCoordinate]struct{}
	counts    map[model.CellStatus]int
	theme     themes.Theme
	config    Config
	message   string
	runKind   string
	columns   []string
	rows      [][]string
	keymap    KeyMap
	help      help.Model
	spinner   spinner.Model
	cells     int
	refreshes int
	cursorRow int
	cursorCol int
	offset    int
	colOffset int
	width     int
	height    int
	showHelp  bool
	quitting  bool
	ready     bool
}

// newModel creates a new model with the given configuration.
func newModel(ctx context.Context, cfg Config) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{
		ctx:      ctx,
		config:   cfg,
		theme:    cfg.Theme,
		keymap:   DefaultKeyMap(),
		help:     help.New(),
		spinner:  sp,
		statuses: make(map[model.CellCoordinate]model.CellStatus),
		width:    cfg.Width,
		height:   cfg.Height,
	}
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.clampCursor()

	case gridMsg:
		m.columns = msg.columns
		m.rows = msg.rows
		m.statuses = msg.statuses
		m.changed = make(map[model.CellCoordinate]struct{}, len(msg.summary.Cells))
		for c := range msg.summary.Cells {
			m.changed[c] = struct{}{}
		}
		m.refreshes++
		m.ready = true
		m.clampCursor()

	case gridPatchMsg:
		m.applyPatch(msg)
		m.refreshes++

	case countsMsg:
		m.counts = msg.counts
		m.cells = msg.cells

	case runStartedMsg:
		m.run = msg.run
		m.runKind = msg.kind
		m.message = msg.kind + " running"
		return m, tea.Batch(msg.wait, m.spinner.Tick)

	case validationDoneMsg:
		m.run = nil
		m.runKind = ""
		m.lastError = msg.err
		m.message = describeValidation(msg.report)

	case correctionDoneMsg:
		m.run = nil
		m.runKind = ""
		m.lastError = msg.err
		if msg.report != nil {
			m.message = describeCorrection(msg.report, msg.preview)
		}

	case reloadedMsg:
		m.lastError = msg.err
		if msg.err == nil {
			m.message = "reloaded from disk"
		}

	case errorMsg:
		m.lastError = msg.err

	case spinner.TickMsg:
		if m.run == nil {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keymap.ForceQuit):
		if m.run != nil {
			m.run.Cancel()
		}
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keymap.Quit):
		if m.run != nil {
			m.message = "a run is in progress; cancel it first or press Ctrl+C"
			return m, nil
		}
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keymap.Help):
		m.showHelp = !m.showHelp
		m.help.ShowAll = m.showHelp

	case key.Matches(msg, m.keymap.Up):
		m.cursorRow--
	case key.Matches(msg, m.keymap.Down):
		m.cursorRow++
	case key.Matches(msg, m.keymap.Left):
		m.cursorCol--
	case key.Matches(msg, m.keymap.Right):
		m.cursorCol++
	case key.Matches(msg, m.keymap.PageUp):
		m.cursorRow -= m.visibleRows()
	case key.Matches(msg, m.keymap.PageDown):
		m.cursorRow += m.visibleRows()
	case key.Matches(msg, m.keymap.Home):
		m.cursorRow = 0
	case key.Matches(msg, m.keymap.End):
		m.cursorRow = len(m.rows) - 1

	case key.Matches(msg, m.keymap.Validate):
		return m.startRun("validation", m.validateCmd())
	case key.Matches(msg, m.keymap.Correct):
		return m.startRun("correction", m.correctCmd())
	case key.Matches(msg, m.keymap.Preview):
		return m.startRun("preview", m.previewCmd())

	case key.Matches(msg, m.keymap.Cancel):
		if m.run != nil {
			m.run.Cancel()
			m.message = m.runKind + " canceling"
		}
	}

	m.clampCursor()
	return m, nil
}

func (m Model) startRun(kind string, cmd tea.Cmd) (tea.Model, tea.Cmd) {
	if m.run != nil || m.runKind != "" {
		m.message = fmt.Sprintf("%s already running", m.runKind)
		return m, nil
	}
	if cmd == nil {
		return m, nil
	}
	m.runKind = kind
	m.lastError = nil
	return m, cmd
}

func (m *Model) clampCursor() {
	m.cursorRow = clamp(m.cursorRow, 0, len(m.rows)-1)
	m.cursorCol = clamp(m.cursorCol, 0, len(m.columns)-1)

	visible := m.visibleRows()
	if m.cursorRow < m.offset {
		m.offset = m.cursorRow
	}
	if m.cursorRow >= m.offset+visible {
		m.offset = m.cursorRow - visible + 1
	}
	m.offset = clamp(m.offset, 0, max(0, len(m.rows)-visible))

	fit := m.visibleColumns()
	if m.cursorCol < m.colOffset {
		m.colOffset = m.cursorCol
	}
	if m.cursorCol >= m.colOffset+fit {
		m.colOffset = m.cursorCol - fit + 1
	}
	m.colOffset = clamp(m.colOffset, 0, max(0, len(m.columns)-fit))
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	return min(max(v, lo), hi)
}

func describeValidation(r model.ValidationReport) string {
	msg := fmt.Sprintf("validated %d cells: %d valid, %d invalid", r.Processed, r.Valid, r.Invalid)
	if r.Canceled {
		msg += " (canceled)"
	}
	return msg
}

func describeCorrection(r *model.CorrectionReport, preview bool) string {
	verb := "corrected"
	if preview {
		verb = "would correct"
	}
	msg := fmt.Sprintf("%s %d cells in %d iteration(s)", verb, r.Changed, r.Iterations)
	if r.Failed > 0 {
		msg += fmt.Sprintf(", %d failed", r.Failed)
	}
	if r.IterationCapReached {
		msg += ", iteration cap reached"
	}
	if r.Canceled {
		msg += " (canceled)"
	}
	return msg
}

func (m *Model) applyPatch(msg gridPatchMsg) {
	index := make(map[string]int, len(m.columns))
	for i, c := range m.columns {
		index[c] = i
	}
	for cell, v := range msg.values {
		col, ok := index[cell.Column]
		if !ok || cell.Row < 0 || cell.Row >= len(m.rows) {
			continue
		}
		m.rows[cell.Row][col] = v
	}

	if len(msg.statuses) > 0 {
		statuses := make(map[model.CellCoordinate]model.CellStatus, len(m.statuses)+len(msg.statuses))
		for c, st := range m.statuses {
			statuses[c] = st
		}
		for c, st := range msg.statuses {
			if st == model.StatusUnchecked {
				delete(statuses, c)
				continue
			}
			statuses[c] = st
		}
		m.statuses = statuses
	}

	m.changed = make(map[model.CellCoordinate]struct{}, len(msg.values))
	for c := range msg.values {
		m.changed[c] = struct{}{}
	}
}
