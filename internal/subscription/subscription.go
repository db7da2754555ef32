// Package subscription declares which aspects of the dataset an observer
// depends on and resolves which observers a change makes stale.
package subscription

import (
	"fmt"
	"strings"

	"github.com/Veraticus/cellflow/internal/common"
	"github.com/Veraticus/cellflow/internal/model"
	"github.com/Veraticus/cellflow/internal/snapshot"
)

// Aspect is the part of the dataset a subscription watches.
type Aspect int

// Subscription aspects.
const (
	AspectEverything Aspect = iota
	AspectRowCount
	AspectColumnSet
	AspectColumns
	AspectCellStatus
	// AspectRefreshed watches another observer finishing its refresh.
	AspectRefreshed
)

func (a Aspect) String() string {
	switch a {
	case AspectEverything:
		return "everything"
	case AspectRowCount:
		return "row-count"
	case AspectColumnSet:
		return "column-set"
	case AspectColumns:
		return "columns"
	case AspectCellStatus:
		return "cell-status"
	case AspectRefreshed:
		return "refreshed"
	default:
		return "unknown"
	}
}

// Subscription declares one interest of an observer.
type Subscription struct {
	Columns  []string
	Aspect   Aspect
	Upstream model.ObserverID
}

// Everything subscribes to any data change.
func Everything() Subscription { return Subscription{Aspect: AspectEverything} }

// RowCount subscribes to the row count changing.
func RowCount() Subscription { return Subscription{Aspect: AspectRowCount} }

// ColumnSet subscribes to columns being added, removed or reordered.
func ColumnSet() Subscription { return Subscription{Aspect: AspectColumnSet} }

// Columns subscribes to the content of the named columns.
func Columns(names ...string) Subscription {
	return Subscription{Aspect: AspectColumns, Columns: append([]string(nil), names...)}
}

// CellStatus subscribes to any cell status change.
func CellStatus() Subscription { return Subscription{Aspect: AspectCellStatus} }

// After subscribes to upstream finishing a refresh.
func After(upstream model.ObserverID) Subscription {
	return Subscription{Aspect: AspectRefreshed, Upstream: upstream}
}

// Validate checks the subscription is well formed.
func (s Subscription) Validate() error {
	switch s.Aspect {
	case AspectEverything, AspectRowCount, AspectColumnSet, AspectCellStatus, AspectRefreshed:
		return nil
	case AspectColumns:
		if len(s.Columns) == 0 {
			return fmt.Errorf("%w: column subscription names no columns", common.ErrInvalidAspect)
		}
		for _, c := range s.Columns {
			if c == "" {
				return fmt.Errorf("%w: empty column name", common.ErrInvalidAspect)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %d", common.ErrInvalidAspect, int(s.Aspect))
	}
}

func (s Subscription) String() string {
	switch s.Aspect {
	case AspectColumns:
		return "columns(" + strings.Join(s.Columns, ",") + ")"
	case AspectRefreshed:
		return "after(" + s.Upstream.String() + ")"
	default:
		return s.Aspect.String()
	}
}

// Matches reports whether a dataset change of the given kind makes the
// subscriber stale. Widening kind can only turn false into true.
func Matches(s Subscription, kind snapshot.ChangeKind) bool {
	if kind.IsZero() {
		return false
	}
	switch s.Aspect {
	case AspectEverything:
		return true
	case AspectRowCount:
		return kind.Everything || kind.RowCountChanged
	case AspectColumnSet:
		return kind.Everything || kind.ColumnSetChanged
	case AspectColumns:
		for _, c := range s.Columns {
			if kind.HasColumn(c) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// MatchesStatus reports whether a status delta over cells makes the
// subscriber stale.
func MatchesStatus(s Subscription, cells []model.CellCoordinate) bool {
	if len(cells) == 0 {
		return false
	}
	switch s.Aspect {
	case AspectEverything, AspectCellStatus:
		return true
	case AspectColumns:
		for _, cell := range cells {
			for _, c := range s.Columns {
				if cell.Column == c {
					return true
				}
			}
		}
		return false
	default:
		return false
	}
}

// DataCells returns the edited cells that subs care about. Everything
// subscribers get all of them and column subscribers get their columns.
func DataCells(subs []Subscription, cells []model.CellCoordinate) []model.CellCoordinate {
	return filterCells(subs, cells, func(a Aspect) bool { return a == AspectEverything })
}

// StatusCells returns the cells of a status delta that subs care about.
func StatusCells(subs []Subscription, cells []model.CellCoordinate) []model.CellCoordinate {
	return filterCells(subs, cells, func(a Aspect) bool {
		return a == AspectEverything || a == AspectCellStatus
	})
}

func filterCells(subs []Subscription, cells []model.CellCoordinate, wantsAll func(Aspect) bool) []model.CellCoordinate {
	columns := make(map[string]struct{})
	for _, s := range subs {
		if wantsAll(s.Aspect) {
			return cells
		}
		if s.Aspect == AspectColumns {
			for _, c := range s.Columns {
				columns[c] = struct{}{}
			}
		}
	}
	if len(columns) == 0 {
		return nil
	}
	var out []model.CellCoordinate
	for _, cell := range cells {
		if _, ok := columns[cell.Column]; ok {
			out = append(out, cell)
		}
	}
	return out
}

// ResolveStale unions every observer with at least one subscription
// matching kind.
func ResolveStale(kind snapshot.ChangeKind, subs map[model.ObserverID][]Subscription) []model.ObserverID {
	return resolve(subs, func(s Subscription) bool { return Matches(s, kind) })
}

// ResolveStatusStale unions every observer with at least one subscription
// matching a status delta over cells.
func ResolveStatusStale(cells []model.CellCoordinate, subs map[model.ObserverID][]Subscription) []model.ObserverID {
	return resolve(subs, func(s Subscription) bool { return MatchesStatus(s, cells) })
}

func resolve(subs map[model.ObserverID][]Subscription, match func(Subscription) bool) []model.ObserverID {
	var out []model.ObserverID
	for id, list := range subs {
		for _, s := range list {
			if match(s) {
				out = append(out, id)
				break
			}
		}
	}
	sortIDs(out)
	return out
}
