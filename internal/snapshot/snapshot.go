// Package snapshot captures cheap fingerprints of a dataset and diffs them to
// classify what kind of change a mutation caused.
//
// A snapshot is a performance hint. A fingerprint collision is reported as
// "unchanged"; nothing downstream relies on the diff for correctness.
package snapshot

import (
	"encoding/binary"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/Veraticus/cellflow/internal/common"
	"github.com/Veraticus/cellflow/internal/dataset"
	"github.com/Veraticus/cellflow/internal/model"
)

// Snapshot is an immutable fingerprint of a dataset's shape and content.
type Snapshot struct {
	fingerprints map[string]uint64
	columns      []string
	rows         int
}

// Capture fingerprints every column of ds in a single pass.
func Capture(ds dataset.Reader) (Snapshot, error) {
	columns := ds.Columns()
	snap := Snapshot{
		rows:         ds.RowCount(),
		columns:      append([]string(nil), columns...),
		fingerprints: make(map[string]uint64, len(columns)),
	}

	digest := xxhash.New()
	var lenBuf [binary.MaxVarintLen64]byte
	for _, column := range columns {
		values, err := ds.ReadColumn(column)
		if err != nil {
			return Snapshot{}, common.NewReadFault(column, err)
		}
		digest.Reset()
		for _, v := range values {
			// Length prefix keeps ["ab","c"] and ["a","bc"] distinct.
			n := binary.PutUvarint(lenBuf[:], uint64(len(v)))
			_, _ = digest.Write(lenBuf[:n])
			_, _ = digest.WriteString(v)
		}
		snap.fingerprints[column] = digest.Sum64()
	}
	return snap, nil
}

// RowCount returns the captured row count.
func (s Snapshot) RowCount() int { return s.rows }

// Columns returns the captured column names in order.
func (s Snapshot) Columns() []string { return append([]string(nil), s.columns...) }

// Fingerprint returns the content fingerprint of column.
func (s Snapshot) Fingerprint(column string) (uint64, bool) {
	fp, ok := s.fingerprints[column]
	return fp, ok
}

// ChangeKind classifies the difference between two snapshots.
type ChangeKind struct {
	// Columns holds columns whose content fingerprint changed, including
	// columns that were added or removed.
	Columns          map[string]struct{}
	Everything       bool
	RowCountChanged  bool
	ColumnSetChanged bool
}

// Everything returns the conservative "everything changed" kind.
func Everything() ChangeKind {
	return ChangeKind{Everything: true}
}

// Diff compares old against current. A nil old snapshot means this is the
// first capture and everything is reported as changed.
func Diff(old *Snapshot, current Snapshot) ChangeKind {
	if old == nil {
		return Everything()
	}

	var kind ChangeKind
	kind.RowCountChanged = old.rows != current.rows
	kind.ColumnSetChanged = !sameOrder(old.columns, current.columns)

	for column, fp := range current.fingerprints {
		if prev, ok := old.fingerprints[column]; !ok || prev != fp {
			kind.addColumn(column)
		}
	}
	for column := range old.fingerprints {
		if _, ok := current.fingerprints[column]; !ok {
			kind.addColumn(column)
		}
	}
	return kind
}

// IsZero reports whether nothing changed.
func (k ChangeKind) IsZero() bool {
	return !k.Everything && !k.RowCountChanged && !k.ColumnSetChanged && len(k.Columns) == 0
}

// HasColumn reports whether column is marked changed. Everything implies
// every column.
func (k ChangeKind) HasColumn(column string) bool {
	if k.Everything {
		return true
	}
	_, ok := k.Columns[column]
	return ok
}

// Union merges two kinds.
func (k ChangeKind) Union(other ChangeKind) ChangeKind {
	out := ChangeKind{
		Everything:       k.Everything || other.Everything,
		RowCountChanged:  k.RowCountChanged || other.RowCountChanged,
		ColumnSetChanged: k.ColumnSetChanged || other.ColumnSetChanged,
	}
	for c := range k.Columns {
		out.addColumn(c)
	}
	for c := range other.Columns {
		out.addColumn(c)
	}
	return out
}

// SortedColumns returns the changed columns in lexical order.
func (k ChangeKind) SortedColumns() []string {
	out := make([]string, 0, len(k.Columns))
	for c := range k.Columns {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Summary converts the kind into an observer-facing change summary.
func (k ChangeKind) Summary() model.ChangeSummary {
	if k.Everything {
		return model.EverythingChanged()
	}
	s := model.ColumnsChanged(k.SortedColumns()...)
	s.RowCountChanged = k.RowCountChanged
	s.ColumnSetChanged = k.ColumnSetChanged
	return s
}

func (k ChangeKind) String() string {
	if k.Everything {
		return "everything"
	}
	var parts []string
	if k.RowCountChanged {
		parts = append(parts, "row-count")
	}
	if k.ColumnSetChanged {
		parts = append(parts, "column-set")
	}
	if len(k.Columns) > 0 {
		parts = append(parts, "columns="+strings.Join(k.SortedColumns(), ","))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, " ")
}

func (k *ChangeKind) addColumn(c string) {
	if k.Columns == nil {
		k.Columns = make(map[string]struct{})
	}
	k.Columns[c] = struct{}{}
}

func sameOrder(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
