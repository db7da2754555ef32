package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/Veraticus/cellflow/internal/dataset"
	"github.com/Veraticus/cellflow/internal/model"
	"github.com/Veraticus/cellflow/internal/storage"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/fatih/color"
	"gopkg.in/yaml.v3"
)

// Format selects how list commands print their results.
type Format string

// Output formats.
const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates an --output flag value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want table, json or yaml)", s)
	}
}

// Encode writes v as JSON or YAML.
func Encode(w io.Writer, f Format, v any) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("format %q is not an encoding", f)
	}
}

var (
	labelColor   = color.New(color.Bold)
	validColor   = color.New(color.FgGreen)
	invalidColor = color.New(color.FgRed, color.Bold)
	fixColor     = color.New(color.FgYellow)
	fixedColor   = color.New(color.FgCyan)
	mutedColor   = color.New(color.Faint)
)

func line(w io.Writer, label string, value any, c *color.Color) {
	labelColor.Fprintf(w, "  %-12s", label+":")
	c.Fprintln(w, value)
}

// PrintValidationReport prints a validation summary with the dataset's
// resulting status counts.
func PrintValidationReport(w io.Writer, r model.ValidationReport, counts map[model.CellStatus]int) {
	fmt.Fprintln(w, FormatTitle("Validation"))
	line(w, "Cells", r.Processed, mutedColor)
	line(w, "Valid", r.Valid, validColor)
	line(w, "Invalid", r.Invalid, invalidColor)
	line(w, "Changed", r.Changed, mutedColor)
	line(w, "Chunks", r.Chunks, mutedColor)
	line(w, "Duration", r.Duration.Round(time.Millisecond), mutedColor)
	printCounts(w, counts)
	if r.Canceled {
		fmt.Fprintln(w, FormatWarning("Validation was canceled; later chunks were not checked."))
	}
}

// PrintCorrectionReport prints a correction summary. With verbose set every
// rewritten cell is listed.
func PrintCorrectionReport(w io.Writer, r *model.CorrectionReport, dryRun, verbose bool) {
	title := "Correction"
	if dryRun {
		title = "Correction preview"
	}
	fmt.Fprintln(w, FormatTitle(title))
	if r.RunID != "" {
		line(w, "Run", r.RunID, mutedColor)
	}
	line(w, "Mode", r.Mode, mutedColor)
	line(w, "Processed", r.Processed, mutedColor)
	line(w, "Changed", r.Changed, fixedColor)
	line(w, "Skipped", r.Skipped, mutedColor)
	if r.Failed > 0 {
		line(w, "Failed", r.Failed, invalidColor)
	}
	line(w, "Iterations", r.Iterations, mutedColor)
	line(w, "Duration", r.Duration.Round(time.Millisecond), mutedColor)

	if verbose {
		for _, e := range r.Entries {
			fmt.Fprintf(w, "  %s %s → %s %s\n",
				labelColor.Sprint(e.Cell),
				invalidColor.Sprint(strconv.Quote(e.OldValue)),
				fixedColor.Sprint(strconv.Quote(e.NewValue)),
				mutedColor.Sprintf("[%s, iteration %d]", e.RuleName, e.Iteration))
		}
	}

	switch {
	case r.Fault != nil:
		fmt.Fprintln(w, FormatError("Correction aborted: "+r.Fault.Error()))
	case r.Canceled:
		fmt.Fprintln(w, FormatWarning("Correction was canceled; committed passes were kept."))
	case r.IterationCapReached:
		fmt.Fprintln(w, FormatWarning("Iteration cap reached before the rules settled."))
	}
}

func printCounts(w io.Writer, counts map[model.CellStatus]int) {
	if len(counts) == 0 {
		return
	}
	parts := make([]string, 0, len(counts))
	for _, st := range model.AllStatuses {
		if n := counts[st]; n > 0 {
			parts = append(parts, statusColor(st).Sprintf("%s %d", st, n))
		}
	}
	labelColor.Fprintf(w, "  %-12s", "Statuses:")
	fmt.Fprintln(w, strings.Join(parts, "  "))
}

func statusColor(s model.CellStatus) *color.Color {
	switch s {
	case model.StatusValid:
		return validColor
	case model.StatusInvalid:
		return invalidColor
	case model.StatusInvalidCorrectable:
		return fixColor
	case model.StatusCorrected:
		return fixedColor
	default:
		return mutedColor
	}
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(SubtleStyle).
		Headers(headers...)
}

// PrintRules prints correction rules as a table.
func PrintRules(w io.Writer, rules []model.CorrectionRule) {
	if len(rules) == 0 {
		fmt.Fprintln(w, FormatInfo("No correction rules."))
		return
	}
	t := newTable("ID", "Name", "Scope", "Column", "Match", "Replacement", "Priority", "Enabled", "Uses")
	for _, r := range rules {
		enabled := "yes"
		if !r.Enabled {
			enabled = "no"
		}
		t.Row(strconv.Itoa(r.ID), r.Name, string(r.Scope), r.Column,
			r.Match, r.Replacement, strconv.Itoa(r.Priority), enabled, strconv.Itoa(r.UseCount))
	}
	fmt.Fprintln(w, t.String())
}

// PrintDatasets prints stored dataset summaries as a table.
func PrintDatasets(w io.Writer, infos []storage.DatasetInfo) {
	if len(infos) == 0 {
		fmt.Fprintln(w, FormatInfo("No datasets imported."))
		return
	}
	t := newTable("Name", "Rows", "Columns", "Updated")
	for _, d := range infos {
		t.Row(d.Name, strconv.Itoa(d.Rows), strings.Join(d.Columns, ", "), d.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	fmt.Fprintln(w, t.String())
}

// PrintRuns prints recorded correction runs as a table.
func PrintRuns(w io.Writer, runs []storage.CorrectionRunRecord) {
	if len(runs) == 0 {
		fmt.Fprintln(w, FormatInfo("No correction runs recorded."))
		return
	}
	t := newTable("Run", "Started", "Mode", "Changed", "Failed", "Iterations", "Outcome")
	for _, r := range runs {
		outcome := "settled"
		switch {
		case r.Fault != "":
			outcome = "fault: " + r.Fault
		case r.Canceled:
			outcome = "canceled"
		case r.CapReached:
			outcome = "cap reached"
		}
		t.Row(r.RunID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Mode,
			strconv.Itoa(r.Changed), strconv.Itoa(r.Failed), strconv.Itoa(r.Iterations), outcome)
	}
	fmt.Fprintln(w, t.String())
}

// PrintEntries prints the cells rewritten by one run.
func PrintEntries(w io.Writer, entries []model.CorrectionEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, FormatInfo("The run changed no cells."))
		return
	}
	t := newTable("Cell", "Old", "New", "Rule", "Pass", "Iteration")
	for _, e := range entries {
		t.Row(e.Cell.String(), e.OldValue, e.NewValue, e.RuleName, string(e.Pass), strconv.Itoa(e.Iteration))
	}
	fmt.Fprintln(w, t.String())
}

// PrintGrid prints a dataset with each cell styled by its status.
func PrintGrid(w io.Writer, r dataset.Reader, statuses []model.StatusUpdate) error {
	columns := r.Columns()
	if len(columns) == 0 {
		fmt.Fprintln(w, FormatInfo("The dataset has no columns."))
		return nil
	}

	values := make([][]string, len(columns))
	for i, c := range columns {
		col, err := r.ReadColumn(c)
		if err != nil {
			return err
		}
		values[i] = col
	}
	byCell := make(map[model.CellCoordinate]model.CellStatus, len(statuses))
	for _, s := range statuses {
		byCell[s.Cell] = s.Status
	}

	rows := make([][]string, r.RowCount())
	for row := range rows {
		rows[row] = make([]string, len(columns)+1)
		rows[row][0] = strconv.Itoa(row)
		for i := range columns {
			if row < len(values[i]) {
				rows[row][i+1] = values[i][row]
			}
		}
	}

	t := newTable(append([]string{"#"}, columns...)...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow || col == 0 {
				return SubtleStyle.Padding(0, 1)
			}
			return StatusStyle(byCell[model.Cell(row, columns[col-1])]).Padding(0, 1)
		})
	fmt.Fprintln(w, t.String())

	counts := make(map[model.CellStatus]int)
	for _, s := range statuses {
		counts[s.Status]++
	}
	printCounts(w, counts)
	return nil
}
