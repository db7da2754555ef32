package dataset

import (
	"fmt"
	"sync"

	"github.com/Veraticus/cellflow/internal/common"
	"github.com/Veraticus/cellflow/internal/model"
)

// Table is an in-memory, column-major Dataset. It is safe for concurrent
// readers; writers are expected to be the owning goroutine.
type Table struct {
	listeners    map[int]func(Mutation)
	index        map[string]int
	dirty        map[model.CellCoordinate]string
	columns      []string
	data         [][]string
	pending      Mutation
	rows         int
	nextListener int
	mu           sync.RWMutex
	listenMu     sync.Mutex
}

var _ Dataset = (*Table)(nil)

// NewTable creates an empty table with the given columns.
func NewTable(columns ...string) (*Table, error) {
	t := &Table{
		listeners: make(map[int]func(Mutation)),
		index:     make(map[string]int, len(columns)),
		dirty:     make(map[model.CellCoordinate]string),
	}
	t.pending.RemovedFrom = -1
	for _, c := range columns {
		if c == "" {
			return nil, fmt.Errorf("%w: empty column name", common.ErrInvalidConfig)
		}
		if _, exists := t.index[c]; exists {
			return nil, fmt.Errorf("%w: column %q", common.ErrDuplicateEntry, c)
		}
		t.index[c] = len(t.columns)
		t.columns = append(t.columns, c)
		t.data = append(t.data, nil)
	}
	return t, nil
}

// FromRows builds a table from row-major values. The returned table has no
// pending mutation.
func FromRows(columns []string, rows [][]string) (*Table, error) {
	t, err := NewTable(columns...)
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("row %d has %d values, want %d", i, len(row), len(columns))
		}
		for c := range columns {
			t.data[c] = append(t.data[c], row[c])
		}
	}
	t.rows = len(rows)
	return t, nil
}

// RowCount returns the number of rows.
func (t *Table) RowCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rows
}

// Columns returns the ordered column names.
func (t *Table) Columns() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.columns...)
}

// ReadColumn returns a copy of the column values.
func (t *Table) ReadColumn(column string) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.index[column]
	if !ok {
		return nil, fmt.Errorf("%w: %q", common.ErrUnknownColumn, column)
	}
	return append([]string(nil), t.data[idx]...), nil
}

// Value returns a single cell value.
func (t *Table) Value(row int, column string) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, err := t.locate(row, column)
	if err != nil {
		return "", err
	}
	return t.data[idx][row], nil
}

// Row returns the values of one row in column order.
func (t *Table) Row(row int) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if row < 0 || row >= t.rows {
		return nil, fmt.Errorf("%w: %d", common.ErrRowOutOfRange, row)
	}
	out := make([]string, len(t.columns))
	for c := range t.columns {
		out[c] = t.data[c][row]
	}
	return out, nil
}

// WriteCell sets a cell value. Writing the value already present is a no-op
// and is not recorded in the pending mutation; neither is a cell written back
// to its original value before Commit.
func (t *Table) WriteCell(row int, column, value string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, err := t.locate(row, column)
	if err != nil {
		return err
	}
	t.setLocked(idx, row, column, value)
	return nil
}

// WriteCells applies a batch under one lock. Every coordinate is checked
// before anything is written, so a bad coordinate leaves the table as it
// was and returns a *WriteError.
func (t *Table) WriteCells(writes []CellWrite) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	indexes := make([]int, len(writes))
	for i, w := range writes {
		idx, err := t.locate(w.Cell.Row, w.Cell.Column)
		if err != nil {
			return &WriteError{Cell: w.Cell, Err: err}
		}
		indexes[i] = idx
	}
	for i, w := range writes {
		t.setLocked(indexes[i], w.Cell.Row, w.Cell.Column, w.Value)
	}
	return nil
}

func (t *Table) setLocked(idx, row int, column, value string) {
	old := t.data[idx][row]
	if old == value {
		return
	}
	cell := model.Cell(row, column)
	if _, seen := t.dirty[cell]; !seen {
		t.dirty[cell] = old
	}
	t.data[idx][row] = value
}

// AppendRow adds a row at the end of the table.
func (t *Table) AppendRow(values ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(values) != len(t.columns) {
		return fmt.Errorf("row has %d values, want %d", len(values), len(t.columns))
	}
	for c := range t.columns {
		t.data[c] = append(t.data[c], values[c])
	}
	t.rows++
	t.pending.RowsInserted++
	return nil
}

// RemoveRows deletes rows in [from, to).
func (t *Table) RemoveRows(from, to int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if from < 0 || to > t.rows || from >= to {
		return fmt.Errorf("%w: [%d, %d)", common.ErrRowOutOfRange, from, to)
	}
	for c := range t.columns {
		t.data[c] = append(t.data[c][:from], t.data[c][to:]...)
	}
	t.rows -= to - from
	t.pending.RowsRemoved += to - from
	if t.pending.RemovedFrom < 0 || from < t.pending.RemovedFrom {
		t.pending.RemovedFrom = from
	}
	for cell := range t.dirty {
		if cell.Row >= from {
			delete(t.dirty, cell)
		}
	}
	return nil
}

// AddColumn appends a column filled with empty values.
func (t *Table) AddColumn(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if name == "" {
		return fmt.Errorf("%w: empty column name", common.ErrInvalidConfig)
	}
	if _, exists := t.index[name]; exists {
		return fmt.Errorf("%w: column %q", common.ErrDuplicateEntry, name)
	}
	t.index[name] = len(t.columns)
	t.columns = append(t.columns, name)
	t.data = append(t.data, make([]string, t.rows))
	t.pending.ColumnsAdded = append(t.pending.ColumnsAdded, name)
	return nil
}

// RemoveColumn deletes a column and its values.
func (t *Table) RemoveColumn(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, ok := t.index[name]
	if !ok {
		return fmt.Errorf("%w: %q", common.ErrUnknownColumn, name)
	}
	t.columns = append(t.columns[:idx], t.columns[idx+1:]...)
	t.data = append(t.data[:idx], t.data[idx+1:]...)
	delete(t.index, name)
	for i, c := range t.columns {
		t.index[c] = i
	}
	for cell := range t.dirty {
		if cell.Column == name {
			delete(t.dirty, cell)
		}
	}
	t.pending.ColumnsRemoved = append(t.pending.ColumnsRemoved, name)
	return nil
}

// Sync makes the table hold the same cells as src, recording the
// differences as pending writes. Columns new to the table are appended in
// src order; the order of existing columns is kept. Call Commit to publish.
func (t *Table) Sync(src Reader) error {
	srcColumns := src.Columns()
	values := make(map[string][]string, len(srcColumns))
	for _, c := range srcColumns {
		col, err := src.ReadColumn(c)
		if err != nil {
			return common.NewReadFault(c, err)
		}
		values[c] = col
	}

	for _, c := range t.Columns() {
		if _, keep := values[c]; !keep {
			if err := t.RemoveColumn(c); err != nil {
				return err
			}
		}
	}
	existing := make(map[string]struct{})
	for _, c := range t.Columns() {
		existing[c] = struct{}{}
	}
	for _, c := range srcColumns {
		if _, ok := existing[c]; !ok {
			if err := t.AddColumn(c); err != nil {
				return err
			}
		}
	}

	rows := src.RowCount()
	if current := t.RowCount(); current > rows {
		if err := t.RemoveRows(rows, current); err != nil {
			return err
		}
	}
	columns := t.Columns()
	for row := 0; row < rows; row++ {
		if row >= t.RowCount() {
			appended := make([]string, len(columns))
			for i, c := range columns {
				appended[i] = cellAt(values[c], row)
			}
			if err := t.AppendRow(appended...); err != nil {
				return err
			}
			continue
		}
		for _, c := range columns {
			if err := t.WriteCell(row, c, cellAt(values[c], row)); err != nil {
				return err
			}
		}
	}
	return nil
}

func cellAt(col []string, row int) string {
	if row < len(col) {
		return col[row]
	}
	return ""
}

// Commit publishes pending writes to subscribers and returns the mutation.
// Listeners run on the calling goroutine after the table lock is released.
func (t *Table) Commit() Mutation {
	t.mu.Lock()
	m := t.pending
	m.Cells = make([]model.CellCoordinate, 0, len(t.dirty))
	for cell, original := range t.dirty {
		idx, ok := t.index[cell.Column]
		if !ok || t.data[idx][cell.Row] == original {
			continue
		}
		m.Cells = append(m.Cells, cell)
	}
	model.SortCells(m.Cells)
	t.dirty = make(map[model.CellCoordinate]string)
	t.pending = Mutation{RemovedFrom: -1}
	t.mu.Unlock()

	if m.IsEmpty() {
		return m
	}

	t.listenMu.Lock()
	fns := make([]func(Mutation), 0, len(t.listeners))
	for i := 0; i < t.nextListener; i++ {
		if fn, ok := t.listeners[i]; ok {
			fns = append(fns, fn)
		}
	}
	t.listenMu.Unlock()

	for _, fn := range fns {
		fn(m)
	}
	return m
}

// Subscribe registers fn for committed mutations.
func (t *Table) Subscribe(fn func(Mutation)) func() {
	t.listenMu.Lock()
	defer t.listenMu.Unlock()
	id := t.nextListener
	t.nextListener++
	t.listeners[id] = fn
	return func() {
		t.listenMu.Lock()
		defer t.listenMu.Unlock()
		delete(t.listeners, id)
	}
}

func (t *Table) locate(row int, column string) (int, error) {
	idx, ok := t.index[column]
	if !ok {
		return 0, fmt.Errorf("%w: %q", common.ErrUnknownColumn, column)
	}
	if row < 0 || row >= t.rows {
		return 0, fmt.Errorf("%w: %d", common.ErrRowOutOfRange, row)
	}
	return idx, nil
}
