package themes

import (
	"github.com/Veraticus/cellflow/internal/model"
	"github.com/charmbracelet/lipgloss"
)

// Theme defines the visual style for the TUI.
type Theme struct {
	Title         lipgloss.Style
	Subtitle      lipgloss.Style
	Normal        lipgloss.Style
	Header        lipgloss.Style
	RowNumber     lipgloss.Style
	Selected      lipgloss.Style
	Changed       lipgloss.Style
	StatusBar     lipgloss.Style
	StatusValid   lipgloss.Style
	StatusInvalid lipgloss.Style
	StatusFixable lipgloss.Style
	StatusFixed   lipgloss.Style
	StatusError   lipgloss.Style
	Primary       lipgloss.Color
	Muted         lipgloss.Color
	Border        lipgloss.Color
}

// ForStatus returns the cell style for a status.
func (t Theme) ForStatus(s model.CellStatus) lipgloss.Style {
	switch s {
	case model.StatusValid:
		return t.StatusValid
	case model.StatusInvalid:
		return t.StatusInvalid
	case model.StatusInvalidCorrectable:
		return t.StatusFixable
	case model.StatusCorrected:
		return t.StatusFixed
	default:
		return t.Normal
	}
}

// Default is the default theme.
var Default = Theme{
	Primary: lipgloss.Color("#7c3aed"),
	Muted:   lipgloss.Color("#737373"),
	Border:  lipgloss.Color("#404040"),

	Title: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#fafafa")),
	Subtitle: lipgloss.NewStyle().
		Foreground(lipgloss.Color("#a3a3a3")),
	Normal: lipgloss.NewStyle().
		Foreground(lipgloss.Color("#fafafa")),
	Header: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#a78bfa")),
	RowNumber: lipgloss.NewStyle().
		Foreground(lipgloss.Color("#737373")),
	Selected: lipgloss.NewStyle().
		Background(lipgloss.Color("#7c3aed")).
		Foreground(lipgloss.Color("#fafafa")).
		Bold(true),
	Changed: lipgloss.NewStyle().
		Underline(true),
	StatusBar: lipgloss.NewStyle().
		Foreground(lipgloss.Color("#a3a3a3")),

	StatusValid: lipgloss.NewStyle().
		Foreground(lipgloss.Color("#10b981")),
	StatusInvalid: lipgloss.NewStyle().
		Foreground(lipgloss.Color("#ef4444")),
	StatusFixable: lipgloss.NewStyle().
		Foreground(lipgloss.Color("#f59e0b")),
	StatusFixed: lipgloss.NewStyle().
		Foreground(lipgloss.Color("#3b82f6")).
		Italic(true),
	StatusError: lipgloss.NewStyle().
		Foreground(lipgloss.Color("#ef4444")).
		Bold(true),
}

// CatppuccinMocha is the Catppuccin Mocha theme.
var CatppuccinMocha = Theme{
	Primary: lipgloss.Color("#cba6f7"),
	Muted:   lipgloss.Color("#6c7086"),
	Border:  lipgloss.Color("#45475a"),

	Title: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#cdd6f4")),
	Subtitle: lipgloss.NewStyle().
		Foreground(lipgloss.Color("#a6adc8")),
	Normal: lipgloss.NewStyle().
		Foreground(lipgloss.Color("#cdd6f4")),
	Header: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#f5c2e7")),
	RowNumber: lipgloss.NewStyle().
		Foreground(lipgloss.Color("#6c7086")),
	Selected: lipgloss.NewStyle().
		Background(lipgloss.Color("#cba6f7")).
		Foreground(lipgloss.Color("#1e1e2e")).
		Bold(true),
	Changed: lipgloss.NewStyle().
		Underline(true),
	StatusBar: lipgloss.NewStyle().
		Foreground(lipgloss.Color("#a6adc8")),

	StatusValid: lipgloss.NewStyle().
		Foreground(lipgloss.Color("#a6e3a1")),
	StatusInvalid: lipgloss.NewStyle().
		Foreground(lipgloss.Color("#f38ba8")),
	StatusFixable: lipgloss.NewStyle().
		Foreground(lipgloss.Color("#f9e2af")),
	StatusFixed: lipgloss.NewStyle().
		Foreground(lipgloss.Color("#89dceb")).
		Italic(true),
	StatusError: lipgloss.NewStyle().
		Foreground(lipgloss.Color("#f38ba8")).
		Bold(true),
}

// GetTheme returns a theme by name.
func GetTheme(name string) Theme {
	switch name {
	case "catppuccin-mocha":
		return CatppuccinMocha
	default:
		return Default
	}
}
