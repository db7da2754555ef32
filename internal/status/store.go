// Package status keeps the sparse per-cell status map.
package status

import (
	"sync"

	"github.com/Veraticus/cellflow/internal/common"
	"github.com/Veraticus/cellflow/internal/metrics"
	"github.com/Veraticus/cellflow/internal/model"
)

// DefaultLogLimit bounds how many committed batches the change log keeps.
const DefaultLogLimit = 256

type logEntry struct {
	cells   []model.CellCoordinate
	version uint64
}

// Store maps cell coordinates to statuses. Absent cells are Unchecked.
// Each batch is applied under one write lock, so readers observe either all
// of a batch or none of it.
type Store struct {
	cells    map[model.CellCoordinate]model.CellStatus
	counts   map[model.CellStatus]int
	log      []logEntry
	version  uint64
	logLimit int
	mu       sync.RWMutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogLimit sets how many batches ChangedSince can look back.
func WithLogLimit(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.logLimit = n
		}
	}
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		cells:    make(map[model.CellCoordinate]model.CellStatus),
		counts:   make(map[model.CellStatus]int),
		logLimit: DefaultLogLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the status of c.
func (s *Store) Get(c model.CellCoordinate) model.CellStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(c)
}

// GetMany returns the statuses of cells as one consistent read.
func (s *Store) GetMany(cells []model.CellCoordinate) []model.CellStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.CellStatus, len(cells))
	for i, c := range cells {
		out[i] = s.getLocked(c)
	}
	return out
}

// SetBatch applies updates atomically and returns the cells whose status
// actually changed, ordered by row then column. Later updates for the same
// cell win; no-op writes are dropped, and so are moves CanTransition
// forbids.
func (s *Store) SetBatch(updates []model.StatusUpdate) []model.CellCoordinate {
	changed, rejected := s.apply(updates, true)
	if len(rejected) > 0 {
		common.LogDebug("Dropped illegal status transitions", common.Fields{"cells": len(rejected), "first": rejected[0].String()})
	}
	return changed
}

// Restore applies previously saved statuses without checking transitions.
func (s *Store) Restore(updates []model.StatusUpdate) []model.CellCoordinate {
	changed, _ := s.apply(updates, false)
	return changed
}

func (s *Store) apply(updates []model.StatusUpdate, checked bool) (changed, rejected []model.CellCoordinate) {
	if len(updates) == 0 {
		return nil, nil
	}

	final := make(map[model.CellCoordinate]model.CellStatus, len(updates))
	for _, u := range updates {
		final[u.Cell] = u.Status
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	changed = make([]model.CellCoordinate, 0, len(final))
	for cell, next := range final {
		current := s.getLocked(cell)
		if current == next {
			continue
		}
		if checked && !CanTransition(current, next) {
			rejected = append(rejected, cell)
			continue
		}
		s.setLocked(cell, next)
		changed = append(changed, cell)
	}
	model.SortCells(rejected)
	return s.commitLocked(changed), rejected
}

// ClearRegion resets every cell in rows [from, to) to Unchecked. A negative
// to clears through the last row.
func (s *Store) ClearRegion(from, to int) []model.CellCoordinate {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []model.CellCoordinate
	for cell := range s.cells {
		if cell.Row < from || (to >= 0 && cell.Row >= to) {
			continue
		}
		s.setLocked(cell, model.StatusUnchecked)
		changed = append(changed, cell)
	}
	return s.commitLocked(changed)
}

// ClearColumns resets every cell in the named columns to Unchecked.
func (s *Store) ClearColumns(columns ...string) []model.CellCoordinate {
	if len(columns) == 0 {
		return nil
	}
	drop := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		drop[c] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []model.CellCoordinate
	for cell := range s.cells {
		if _, ok := drop[cell.Column]; !ok {
			continue
		}
		s.setLocked(cell, model.StatusUnchecked)
		changed = append(changed, cell)
	}
	return s.commitLocked(changed)
}

// Reset clears every cell.
func (s *Store) Reset() []model.CellCoordinate {
	return s.ClearRegion(0, -1)
}

// Version increments once per batch that changed something.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// ChangedSince returns the cells changed by batches after version. ok is
// false when the log no longer reaches back that far and the caller must
// treat every cell as changed.
func (s *Store) ChangedSince(version uint64) (cells []model.CellCoordinate, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if version >= s.version {
		return nil, true
	}
	if len(s.log) == 0 || s.log[0].version > version+1 {
		return nil, false
	}

	seen := make(map[model.CellCoordinate]struct{})
	for _, entry := range s.log {
		if entry.version <= version {
			continue
		}
		for _, c := range entry.cells {
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			cells = append(cells, c)
		}
	}
	model.SortCells(cells)
	return cells, true
}

// Counts returns how many cells hold each non-Unchecked status.
func (s *Store) Counts() map[model.CellStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.CellStatus]int, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}

// Len returns the number of cells holding a non-Unchecked status.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cells)
}

// Entries returns every non-Unchecked cell with its status in row-major
// order.
func (s *Store) Entries() []model.StatusUpdate {
	s.mu.RLock()
	cells := make([]model.CellCoordinate, 0, len(s.cells))
	for c := range s.cells {
		cells = append(cells, c)
	}
	out := make([]model.StatusUpdate, len(cells))
	model.SortCells(cells)
	for i, c := range cells {
		out[i] = model.StatusUpdate{Cell: c, Status: s.cells[c]}
	}
	s.mu.RUnlock()
	return out
}

func (s *Store) getLocked(c model.CellCoordinate) model.CellStatus {
	if st, ok := s.cells[c]; ok {
		return st
	}
	return model.StatusUnchecked
}

func (s *Store) setLocked(c model.CellCoordinate, next model.CellStatus) {
	if prev, ok := s.cells[c]; ok {
		s.counts[prev]--
		if s.counts[prev] == 0 {
			delete(s.counts, prev)
		}
	}
	metrics.StatusChanges.WithLabelValues(string(next)).Inc()
	if next == model.StatusUnchecked {
		delete(s.cells, c)
		return
	}
	s.cells[c] = next
	s.counts[next]++
}

func (s *Store) commitLocked(changed []model.CellCoordinate) []model.CellCoordinate {
	if len(changed) == 0 {
		return nil
	}
	model.SortCells(changed)
	s.version++
	s.log = append(s.log, logEntry{version: s.version, cells: changed})
	if over := len(s.log) - s.logLimit; over > 0 {
		s.log = append([]logEntry(nil), s.log[over:]...)
	}
	return changed
}
