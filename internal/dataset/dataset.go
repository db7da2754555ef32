// Package dataset defines the tabular dataset collaborator and an in-memory
// implementation of it.
package dataset

import (
	"fmt"

	"github.com/Veraticus/cellflow/internal/model"
)

// Reader is the read side of the dataset contract.
type Reader interface {
	RowCount() int
	Columns() []string
	// ReadColumn returns the values of column in row order.
	ReadColumn(column string) ([]string, error)
}

// Writer is the write side of the dataset contract.
type Writer interface {
	WriteCell(row int, column, value string) error
	// WriteCells applies every write or none of them. Readers never see a
	// batch half applied.
	WriteCells(writes []CellWrite) error
}

// CellWrite is one value in a batch write.
type CellWrite struct {
	Cell  model.CellCoordinate
	Value string
}

// WriteError names the write that stopped a batch.
type WriteError struct {
	Err  error
	Cell model.CellCoordinate
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Cell, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Dataset is the collaborator the engine reads, writes and watches.
type Dataset interface {
	Reader
	Writer
	// Commit publishes pending writes as one mutation.
	Commit() Mutation
	// Subscribe registers fn for mutation-committed notifications and
	// returns a function that removes the subscription.
	Subscribe(fn func(Mutation)) (cancel func())
}

// Mutation describes one committed change to the dataset.
type Mutation struct {
	// Cells lists cells whose value actually changed. No-op writes are
	// never recorded.
	Cells          []model.CellCoordinate
	ColumnsAdded   []string
	ColumnsRemoved []string
	// RemovedFrom is the first row whose index shifted because rows were
	// removed, or -1.
	RemovedFrom  int
	RowsInserted int
	RowsRemoved  int
}

// IsEmpty reports whether the mutation changed nothing.
func (m Mutation) IsEmpty() bool {
	return len(m.Cells) == 0 && len(m.ColumnsAdded) == 0 && len(m.ColumnsRemoved) == 0 &&
		m.RowsInserted == 0 && m.RowsRemoved == 0
}

// Structural reports whether rows or columns were added or removed.
func (m Mutation) Structural() bool {
	return m.RowsInserted != 0 || m.RowsRemoved != 0 ||
		len(m.ColumnsAdded) != 0 || len(m.ColumnsRemoved) != 0
}
