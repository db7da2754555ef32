package model

import (
	"sort"
	"strconv"
	"strings"
)

// ChangeSummary describes what changed during one settled delivery window.
// A summary is the union of every reason coalesced into the window.
type ChangeSummary struct {
	Columns  map[string]struct{}
	Rows     map[int]struct{}
	Cells    map[CellCoordinate]struct{}
	Status   map[CellCoordinate]struct{}
	Upstream map[ObserverID]struct{}
	// Requests counts how many update requests were merged into the summary.
	Requests         int
	Everything       bool
	RowCountChanged  bool
	ColumnSetChanged bool
}

// EverythingChanged returns a summary that forces a full refresh.
func EverythingChanged() ChangeSummary {
	return ChangeSummary{Everything: true}
}

// CellsChanged returns a summary for cells whose values changed.
func CellsChanged(cells ...CellCoordinate) ChangeSummary {
	var s ChangeSummary
	for _, c := range cells {
		s.addCell(c)
	}
	return s
}

// StatusChanged returns a summary for cells whose status changed.
func StatusChanged(cells ...CellCoordinate) ChangeSummary {
	var s ChangeSummary
	for _, c := range cells {
		if s.Status == nil {
			s.Status = make(map[CellCoordinate]struct{}, len(cells))
		}
		s.Status[c] = struct{}{}
		s.addRow(c.Row)
		s.addColumn(c.Column)
	}
	return s
}

// ObserverRefreshed returns a summary noting that upstream finished a refresh.
func ObserverRefreshed(upstream ObserverID) ChangeSummary {
	return ChangeSummary{Upstream: map[ObserverID]struct{}{upstream: {}}}
}

// ColumnsChanged returns a summary naming whole columns as changed.
func ColumnsChanged(columns ...string) ChangeSummary {
	var s ChangeSummary
	for _, c := range columns {
		s.addColumn(c)
	}
	return s
}

// Merge folds other into s.
func (s *ChangeSummary) Merge(other ChangeSummary) {
	s.Everything = s.Everything || other.Everything
	s.RowCountChanged = s.RowCountChanged || other.RowCountChanged
	s.ColumnSetChanged = s.ColumnSetChanged || other.ColumnSetChanged
	s.Requests += other.Requests
	for c := range other.Columns {
		s.addColumn(c)
	}
	for r := range other.Rows {
		s.addRow(r)
	}
	for c := range other.Cells {
		s.addCell(c)
	}
	for c := range other.Status {
		if s.Status == nil {
			s.Status = make(map[CellCoordinate]struct{}, len(other.Status))
		}
		s.Status[c] = struct{}{}
	}
	for id := range other.Upstream {
		if s.Upstream == nil {
			s.Upstream = make(map[ObserverID]struct{}, len(other.Upstream))
		}
		s.Upstream[id] = struct{}{}
	}
}

// IsEmpty reports whether the summary carries no change at all.
func (s ChangeSummary) IsEmpty() bool {
	return !s.Everything && !s.RowCountChanged && !s.ColumnSetChanged &&
		len(s.Columns) == 0 && len(s.Rows) == 0 && len(s.Cells) == 0 &&
		len(s.Status) == 0 && len(s.Upstream) == 0
}

// HasColumn reports whether column is named in the summary.
func (s ChangeSummary) HasColumn(column string) bool {
	_, ok := s.Columns[column]
	return ok
}

// HasCell reports whether the value of c changed.
func (s ChangeSummary) HasCell(c CellCoordinate) bool {
	_, ok := s.Cells[c]
	return ok
}

// HasStatus reports whether the status of c changed.
func (s ChangeSummary) HasStatus(c CellCoordinate) bool {
	_, ok := s.Status[c]
	return ok
}

// SortedColumns returns the changed columns in lexical order.
func (s ChangeSummary) SortedColumns() []string {
	out := make([]string, 0, len(s.Columns))
	for c := range s.Columns {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func (s ChangeSummary) String() string {
	if s.Everything {
		return "everything"
	}
	var parts []string
	if s.RowCountChanged {
		parts = append(parts, "row-count")
	}
	if s.ColumnSetChanged {
		parts = append(parts, "column-set")
	}
	if len(s.Columns) > 0 {
		parts = append(parts, "columns="+strings.Join(s.SortedColumns(), ","))
	}
	if len(s.Cells) > 0 {
		parts = append(parts, "cells="+strconv.Itoa(len(s.Cells)))
	}
	if len(s.Status) > 0 {
		parts = append(parts, "status="+strconv.Itoa(len(s.Status)))
	}
	if len(s.Upstream) > 0 {
		parts = append(parts, "upstream="+strconv.Itoa(len(s.Upstream)))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, " ")
}

func (s *ChangeSummary) addColumn(c string) {
	if s.Columns == nil {
		s.Columns = make(map[string]struct{})
	}
	s.Columns[c] = struct{}{}
}

func (s *ChangeSummary) addRow(r int) {
	if s.Rows == nil {
		s.Rows = make(map[int]struct{})
	}
	s.Rows[r] = struct{}{}
}

func (s *ChangeSummary) addCell(c CellCoordinate) {
	if s.Cells == nil {
		s.Cells = make(map[CellCoordinate]struct{})
	}
	s.Cells[c] = struct{}{}
	s.addRow(c.Row)
	s.addColumn(c.Column)
}

// SortCells orders coordinates by row then column.
func SortCells(cells []CellCoordinate) {
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Row != cells[j].Row {
			return cells[i].Row < cells[j].Row
		}
		return cells[i].Column < cells[j].Column
	})
}
