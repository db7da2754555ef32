package snapshot

import (
	"sync"

	"github.com/Veraticus/cellflow/internal/dataset"
)

// Tracker keeps the previous snapshot just long enough to diff it against
// the next capture.
type Tracker struct {
	previous *Snapshot
	mu       sync.Mutex
}

// Next captures ds, diffs it against the retained snapshot and retains the
// new one in its place.
func (t *Tracker) Next(ds dataset.Reader) (ChangeKind, error) {
	current, err := Capture(ds)
	if err != nil {
		return ChangeKind{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	kind := Diff(t.previous, current)
	t.previous = &current
	return kind, nil
}

// Reset drops the retained snapshot so the next diff reports everything.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.previous = nil
}
