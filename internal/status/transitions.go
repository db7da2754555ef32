package status

import "github.com/Veraticus/cellflow/internal/model"

// transitions lists the allowed status moves. Any status returns to
// Unchecked when the underlying value changes, and correction may mark any
// rewritten cell Corrected.
var transitions = map[model.CellStatus][]model.CellStatus{
	model.StatusUnchecked:          {model.StatusValid, model.StatusInvalid, model.StatusCorrected},
	model.StatusValid:              {model.StatusUnchecked, model.StatusInvalid, model.StatusCorrected},
	model.StatusInvalid:            {model.StatusUnchecked, model.StatusValid, model.StatusInvalidCorrectable, model.StatusCorrected},
	model.StatusInvalidCorrectable: {model.StatusUnchecked, model.StatusValid, model.StatusCorrected},
	model.StatusCorrected:          {model.StatusUnchecked, model.StatusValid, model.StatusInvalid},
}

// CanTransition reports whether from may move to to. Staying put is always
// allowed.
func CanTransition(from, to model.CellStatus) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ApplyValidation returns the status a validation outcome moves current to.
// An invalid result keeps the more specific InvalidCorrectable.
func ApplyValidation(current model.CellStatus, valid bool) model.CellStatus {
	if valid {
		return model.StatusValid
	}
	if current == model.StatusInvalidCorrectable {
		return current
	}
	return model.StatusInvalid
}
