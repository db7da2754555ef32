package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Veraticus/cellflow/internal/model"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

const (
	minCellWidth = 8
	maxCellWidth = 24
	// title, header row, status bar and help line.
	chromeLines = 4
)

// View renders the grid.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center,
			m.theme.Subtitle.Render("Loading dataset..."))
	}

	sections := []string{
		m.renderTitle(),
		m.renderGrid(),
		m.renderStatusBar(),
		m.help.View(m.keymap),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderTitle() string {
	title := m.theme.Title.Render(m.config.Title)
	shape := m.theme.Subtitle.Render(fmt.Sprintf(" %d rows × %d columns", len(m.rows), len(m.columns)))
	return title + shape
}

func (m Model) renderGrid() string {
	if len(m.columns) == 0 {
		return m.theme.Subtitle.Render("(no columns)")
	}

	numWidth := len(strconv.Itoa(len(m.rows)))
	width := m.cellWidth()
	last := min(m.colOffset+m.visibleColumns(), len(m.columns))

	var b strings.Builder
	b.WriteString(strings.Repeat(" ", numWidth+1))
	for _, name := range m.columns[m.colOffset:last] {
		b.WriteString(m.theme.Header.Render(fit(name, width)))
		b.WriteString(" ")
	}

	end := min(m.offset+m.visibleRows(), len(m.rows))
	for r := m.offset; r < end; r++ {
		b.WriteString("\n")
		b.WriteString(m.theme.RowNumber.Render(fmt.Sprintf("%*d ", numWidth, r)))
		for c := m.colOffset; c < last; c++ {
			b.WriteString(m.renderCell(r, c, width))
			b.WriteString(" ")
		}
	}
	return b.String()
}

func (m Model) renderCell(row, col, width int) string {
	cell := model.Cell(row, m.columns[col])
	style := m.theme.ForStatus(m.statuses[cell])
	if _, ok := m.changed[cell]; ok {
		style = style.Inherit(m.theme.Changed)
	}
	if row == m.cursorRow && col == m.cursorCol {
		style = m.theme.Selected
	}
	return style.Render(fit(m.rows[row][col], width))
}

func (m Model) renderStatusBar() string {
	parts := make([]string, 0, len(model.AllStatuses)+2)
	if len(m.rows) > 0 && len(m.columns) > 0 {
		cell := model.Cell(m.cursorRow, m.columns[m.cursorCol])
		st := m.statuses[cell]
		if st == "" {
			st = model.StatusUnchecked
		}
		parts = append(parts, fmt.Sprintf("%s %s", cell, m.theme.ForStatus(st).Render(string(st))))
	}
	for _, st := range model.AllStatuses[1:] {
		if n := m.counts[st]; n > 0 {
			parts = append(parts, m.theme.ForStatus(st).Render(fmt.Sprintf("%s:%d", st, n)))
		}
	}

	line := strings.Join(parts, "  ")
	if m.run != nil {
		line = m.spinner.View() + " " + line
	}
	if m.message != "" {
		line += "  " + m.theme.StatusBar.Render(m.message)
	}
	if m.lastError != nil {
		line += "  " + m.theme.StatusError.Render("error: "+m.lastError.Error())
	}
	return line
}

// visibleRows is how many data rows fit under the chrome.
func (m Model) visibleRows() int {
	return max(1, m.height-chromeLines)
}

func (m Model) cellWidth() int {
	if len(m.columns) == 0 {
		return minCellWidth
	}
	avail := m.width - len(strconv.Itoa(len(m.rows))) - 1
	return clamp(avail/len(m.columns)-1, minCellWidth, maxCellWidth)
}

// visibleColumns is how many columns fit at the current cell width.
func (m Model) visibleColumns() int {
	avail := m.width - len(strconv.Itoa(len(m.rows))) - 1
	return max(1, avail/(m.cellWidth()+1))
}

// fit truncates or pads s to exactly width terminal cells.
func fit(s string, width int) string {
	return runewidth.FillRight(runewidth.Truncate(s, width, "…"), width)
}
