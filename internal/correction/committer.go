package correction

import (
	"context"
	"errors"

	"github.com/Veraticus/cellflow/internal/common"
	"github.com/Veraticus/cellflow/internal/dataset"
	"github.com/Veraticus/cellflow/internal/model"
)

// Outcome is what a committer did with one pass's planned entries.
type Outcome struct {
	Applied []model.CorrectionEntry
	Skipped int
}

// Committer makes one pass's planned writes visible. On a write failure it
// returns the entries written before the failure along with the fault.
type Committer interface {
	CommitPass(ctx context.Context, entries []model.CorrectionEntry) (Outcome, error)
}

// StatusWriter applies status batches.
type StatusWriter interface {
	SetBatch(updates []model.StatusUpdate) []model.CellCoordinate
}

type cellValuer interface {
	Value(row int, column string) (string, error)
}

// DirectCommitter writes a pass into a dataset as one batch and marks every
// written cell Corrected. Entries for one cell may chain (x to y, then y to
// z); the cell's first entry must still match its stored value, otherwise
// every entry for that cell is skipped. Callers that share the dataset with
// other writers must run CommitPass on the goroutine that owns it.
type DirectCommitter struct {
	Dataset dataset.Dataset
	Status  StatusWriter
}

// CommitPass implements Committer. A failed batch write applies nothing from
// the pass and returns a DatasetAccessFault.
func (c *DirectCommitter) CommitPass(_ context.Context, entries []model.CorrectionEntry) (Outcome, error) {
	var out Outcome
	valuer, canCompare := c.Dataset.(cellValuer)

	stale := make(map[model.CellCoordinate]bool)
	final := make(map[model.CellCoordinate]string)
	var order []model.CellCoordinate
	for _, e := range entries {
		if _, seen := stale[e.Cell]; !seen {
			drop := false
			if canCompare {
				current, err := valuer.Value(e.Cell.Row, e.Cell.Column)
				drop = err != nil || current != e.OldValue
			}
			stale[e.Cell] = drop
			if !drop {
				order = append(order, e.Cell)
			}
		}
		if stale[e.Cell] {
			out.Skipped++
			continue
		}
		final[e.Cell] = e.NewValue
		out.Applied = append(out.Applied, e)
	}

	if len(out.Applied) == 0 {
		return out, nil
	}

	writes := make([]dataset.CellWrite, 0, len(order))
	for _, cell := range order {
		writes = append(writes, dataset.CellWrite{Cell: cell, Value: final[cell]})
	}
	if err := c.Dataset.WriteCells(writes); err != nil {
		cell := writes[0].Cell
		var we *dataset.WriteError
		if errors.As(err, &we) {
			cell, err = we.Cell, we.Err
		}
		out.Applied = nil
		return out, common.NewWriteFault(cell.Row, cell.Column, err)
	}

	// Publish the data mutation first; listeners reset edited cells to
	// Unchecked, and the Corrected batch below must land after that.
	c.Dataset.Commit()

	if c.Status != nil {
		updates := make([]model.StatusUpdate, 0, len(order))
		for _, cell := range order {
			updates = append(updates, model.StatusUpdate{Cell: cell, Status: model.StatusCorrected})
		}
		c.Status.SetBatch(updates)
	}
	return out, nil
}

// overlay is an in-memory committer used for dry runs. Planned values are
// layered over the dataset so later passes see earlier ones.
type overlay struct {
	values    map[model.CellCoordinate]string
	corrected map[model.CellCoordinate]struct{}
}

func newOverlay() *overlay {
	return &overlay{
		values:    make(map[model.CellCoordinate]string),
		corrected: make(map[model.CellCoordinate]struct{}),
	}
}

func (o *overlay) CommitPass(_ context.Context, entries []model.CorrectionEntry) (Outcome, error) {
	for _, e := range entries {
		o.values[e.Cell] = e.NewValue
		o.corrected[e.Cell] = struct{}{}
	}
	return Outcome{Applied: entries}, nil
}

func (o *overlay) value(c model.CellCoordinate, stored string) string {
	if o == nil {
		return stored
	}
	if v, ok := o.values[c]; ok {
		return v
	}
	return stored
}

func (o *overlay) isCorrected(c model.CellCoordinate) bool {
	if o == nil {
		return false
	}
	_, ok := o.corrected[c]
	return ok
}
