// Package model defines the core domain types shared by the cell state engine.
package model

import "fmt"

// CellCoordinate identifies a single cell by row index and column name.
type CellCoordinate struct {
	Column string `json:"column" yaml:"column"`
	Row    int    `json:"row" yaml:"row"`
}

// Cell is a convenience constructor for CellCoordinate.
func Cell(row int, column string) CellCoordinate {
	return CellCoordinate{Row: row, Column: column}
}

func (c CellCoordinate) String() string {
	return fmt.Sprintf("(%d, %s)", c.Row, c.Column)
}

// CellStatus classifies a cell's validation/correction state.
type CellStatus string

// Cell status constants.
const (
	StatusUnchecked          CellStatus = "UNCHECKED"
	StatusValid              CellStatus = "VALID"
	StatusInvalid            CellStatus = "INVALID"
	StatusInvalidCorrectable CellStatus = "INVALID_CORRECTABLE"
	StatusCorrected          CellStatus = "CORRECTED"
)

// AllStatuses lists every status in state machine order.
var AllStatuses = []CellStatus{
	StatusUnchecked,
	StatusValid,
	StatusInvalid,
	StatusInvalidCorrectable,
	StatusCorrected,
}

// IsInvalid reports whether the status is one of the invalid states.
func (s CellStatus) IsInvalid() bool {
	return s == StatusInvalid || s == StatusInvalidCorrectable
}

// IsValid reports whether s is a known status value.
func (s CellStatus) IsValid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// StatusUpdate is a single entry of a status batch.
type StatusUpdate struct {
	Status CellStatus
	Cell   CellCoordinate
}
