package model

import "time"

// CorrectionMode selects which cells a correction run may rewrite.
type CorrectionMode string

// Correction modes.
const (
	ModeAllCells    CorrectionMode = "all"
	ModeOnlyInvalid CorrectionMode = "only-invalid"
)

// CorrectionPass identifies which rule group produced an entry.
type CorrectionPass string

// Correction passes, applied in this order.
const (
	PassGeneric CorrectionPass = "generic"
	PassScoped  CorrectionPass = "scoped"
)

// CorrectionEntry records one rewritten cell.
type CorrectionEntry struct {
	AppliedAt time.Time      `json:"applied_at" yaml:"applied_at"`
	OldValue  string         `json:"old_value" yaml:"old_value"`
	NewValue  string         `json:"new_value" yaml:"new_value"`
	RuleName  string         `json:"rule_name" yaml:"rule_name"`
	Pass      CorrectionPass `json:"pass" yaml:"pass"`
	Cell      CellCoordinate `json:"cell" yaml:"cell"`
	RuleID    int            `json:"rule_id" yaml:"rule_id"`
	Iteration int            `json:"iteration" yaml:"iteration"`
}

// CorrectionReport summarizes a correction run. When Fault is set the
// report holds the work committed before the faulting pass was aborted;
// that work is not rolled back.
type CorrectionReport struct {
	StartedAt  time.Time         `json:"started_at" yaml:"started_at"`
	Fault      error             `json:"-" yaml:"-"`
	RunID      string            `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Mode       CorrectionMode    `json:"mode" yaml:"mode"`
	Entries    []CorrectionEntry `json:"entries" yaml:"entries"`
	Duration   time.Duration     `json:"duration" yaml:"duration"`
	Processed  int               `json:"processed" yaml:"processed"`
	Changed    int               `json:"changed" yaml:"changed"`
	Failed     int               `json:"failed" yaml:"failed"`
	Skipped    int               `json:"skipped" yaml:"skipped"`
	Iterations int               `json:"iterations" yaml:"iterations"`
	Passes     int               `json:"passes" yaml:"passes"`
	// IterationCapReached is set when a recursive run stopped at the
	// iteration cap instead of reaching a fixed point.
	IterationCapReached bool `json:"iteration_cap_reached" yaml:"iteration_cap_reached"`
	Canceled            bool `json:"canceled" yaml:"canceled"`
}

// ChangedCells returns the distinct cells rewritten during the run.
func (r *CorrectionReport) ChangedCells() []CellCoordinate {
	seen := make(map[CellCoordinate]struct{}, len(r.Entries))
	out := make([]CellCoordinate, 0, len(r.Entries))
	for _, e := range r.Entries {
		if _, ok := seen[e.Cell]; ok {
			continue
		}
		seen[e.Cell] = struct{}{}
		out = append(out, e.Cell)
	}
	SortCells(out)
	return out
}

// ValidationReport summarizes a validation run.
type ValidationReport struct {
	StartedAt time.Time     `json:"started_at" yaml:"started_at"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
	Processed int           `json:"processed" yaml:"processed"`
	Valid     int           `json:"valid" yaml:"valid"`
	Invalid   int           `json:"invalid" yaml:"invalid"`
	Changed   int           `json:"changed" yaml:"changed"`
	Chunks    int           `json:"chunks" yaml:"chunks"`
	Canceled  bool          `json:"canceled" yaml:"canceled"`
}
