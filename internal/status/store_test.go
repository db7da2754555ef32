package status

import (
	"fmt"
	"sync"
	"testing"

	"github.com/Veraticus/cellflow/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func upd(row int, column string, st model.CellStatus) model.StatusUpdate {
	return model.StatusUpdate{Cell: model.Cell(row, column), Status: st}
}

func TestStore_DefaultUnchecked(t *testing.T) {
	s := NewStore()
	assert.Equal(t, model.StatusUnchecked, s.Get(model.Cell(12, "Player")))
	assert.Zero(t, s.Len())
	assert.Zero(t, s.Version())
}

func TestStore_SetBatchReturnsOnlyChanges(t *testing.T) {
	s := NewStore()

	changed := s.SetBatch([]model.StatusUpdate{
		upd(0, "Player", model.StatusInvalid),
		upd(1, "Player", model.StatusValid),
		upd(2, "Player", model.StatusUnchecked), // already unchecked
	})
	assert.Equal(t, []model.CellCoordinate{model.Cell(0, "Player"), model.Cell(1, "Player")}, changed)
	assert.Equal(t, uint64(1), s.Version())

	changed = s.SetBatch([]model.StatusUpdate{
		upd(0, "Player", model.StatusInvalid),
		upd(1, "Player", model.StatusValid),
	})
	assert.Empty(t, changed, "no-op writes must not be reported")
	assert.Equal(t, uint64(1), s.Version(), "no-op batches do not bump the version")

	assert.Nil(t, s.SetBatch(nil))
}

func TestStore_SetBatchLastWriteWins(t *testing.T) {
	s := NewStore()
	changed := s.SetBatch([]model.StatusUpdate{
		upd(0, "A", model.StatusInvalid),
		upd(0, "A", model.StatusCorrected),
	})
	assert.Equal(t, []model.CellCoordinate{model.Cell(0, "A")}, changed)
	assert.Equal(t, model.StatusCorrected, s.Get(model.Cell(0, "A")))

	// A batch that ends where it started changes nothing.
	changed = s.SetBatch([]model.StatusUpdate{
		upd(0, "A", model.StatusValid),
		upd(0, "A", model.StatusCorrected),
	})
	assert.Empty(t, changed)
}

func TestStore_SetBatchDropsIllegalTransitions(t *testing.T) {
	s := NewStore()
	s.SetBatch([]model.StatusUpdate{upd(0, "A", model.StatusValid)})

	changed := s.SetBatch([]model.StatusUpdate{
		upd(0, "A", model.StatusInvalidCorrectable),
		upd(1, "A", model.StatusInvalidCorrectable),
		upd(2, "A", model.StatusInvalid),
	})
	assert.Equal(t, []model.CellCoordinate{model.Cell(2, "A")}, changed)
	assert.Equal(t, model.StatusValid, s.Get(model.Cell(0, "A")))
	assert.Equal(t, model.StatusUnchecked, s.Get(model.Cell(1, "A")))

	changed = s.SetBatch([]model.StatusUpdate{upd(2, "A", model.StatusInvalidCorrectable)})
	assert.Equal(t, []model.CellCoordinate{model.Cell(2, "A")}, changed)
	assert.Nil(t, s.SetBatch([]model.StatusUpdate{upd(2, "A", model.StatusInvalid)}))
	assert.Equal(t, model.StatusInvalidCorrectable, s.Get(model.Cell(2, "A")))
}

func TestStore_Restore(t *testing.T) {
	s := NewStore()
	changed := s.Restore([]model.StatusUpdate{
		upd(0, "A", model.StatusInvalidCorrectable),
		upd(1, "A", model.StatusCorrected),
	})
	assert.Equal(t, []model.CellCoordinate{model.Cell(0, "A"), model.Cell(1, "A")}, changed)
	assert.Equal(t, model.StatusInvalidCorrectable, s.Get(model.Cell(0, "A")))
	assert.Equal(t, uint64(1), s.Version())
}

func TestStore_Counts(t *testing.T) {
	s := NewStore()
	s.SetBatch([]model.StatusUpdate{
		upd(0, "A", model.StatusInvalid),
		upd(1, "A", model.StatusInvalid),
		upd(2, "A", model.StatusValid),
	})
	s.SetBatch([]model.StatusUpdate{
		upd(1, "A", model.StatusCorrected),
		upd(2, "A", model.StatusUnchecked),
	})

	assert.Equal(t, map[model.CellStatus]int{
		model.StatusInvalid:   1,
		model.StatusCorrected: 1,
	}, s.Counts())
	assert.Equal(t, 2, s.Len())
}

func TestStore_ClearRegion(t *testing.T) {
	s := NewStore()
	for row := 0; row < 5; row++ {
		s.SetBatch([]model.StatusUpdate{upd(row, "A", model.StatusValid), upd(row, "B", model.StatusInvalid)})
	}

	changed := s.ClearRegion(1, 3)
	assert.Equal(t, []model.CellCoordinate{
		model.Cell(1, "A"), model.Cell(1, "B"), model.Cell(2, "A"), model.Cell(2, "B"),
	}, changed)
	assert.Equal(t, model.StatusUnchecked, s.Get(model.Cell(2, "B")))
	assert.Equal(t, model.StatusValid, s.Get(model.Cell(3, "A")))

	changed = s.ClearRegion(3, -1)
	assert.Len(t, changed, 4)
	assert.Equal(t, 2, s.Len())

	assert.Empty(t, s.ClearRegion(10, 20))
	assert.Len(t, s.Reset(), 2)
	assert.Zero(t, s.Len())
}

func TestStore_ClearColumns(t *testing.T) {
	s := NewStore()
	s.SetBatch([]model.StatusUpdate{
		upd(0, "A", model.StatusValid),
		upd(0, "B", model.StatusInvalid),
		upd(1, "B", model.StatusCorrected),
	})

	changed := s.ClearColumns("B", "missing")
	assert.Equal(t, []model.CellCoordinate{model.Cell(0, "B"), model.Cell(1, "B")}, changed)
	assert.Equal(t, model.StatusValid, s.Get(model.Cell(0, "A")))
	assert.Nil(t, s.ClearColumns())
}

func TestStore_Entries(t *testing.T) {
	s := NewStore()
	s.SetBatch([]model.StatusUpdate{
		upd(1, "A", model.StatusCorrected),
		upd(0, "B", model.StatusInvalid),
		upd(0, "A", model.StatusValid),
		upd(2, "A", model.StatusUnchecked),
	})

	assert.Equal(t, []model.StatusUpdate{
		upd(0, "A", model.StatusValid),
		upd(0, "B", model.StatusInvalid),
		upd(1, "A", model.StatusCorrected),
	}, s.Entries())
	assert.Empty(t, NewStore().Entries())
}

func TestStore_ChangedSince(t *testing.T) {
	s := NewStore(WithLogLimit(2))
	v0 := s.Version()

	s.SetBatch([]model.StatusUpdate{upd(0, "A", model.StatusValid)})
	v1 := s.Version()
	s.SetBatch([]model.StatusUpdate{upd(1, "A", model.StatusValid), upd(0, "A", model.StatusInvalid)})

	cells, ok := s.ChangedSince(v1)
	require.True(t, ok)
	assert.Equal(t, []model.CellCoordinate{model.Cell(0, "A"), model.Cell(1, "A")}, cells)

	cells, ok = s.ChangedSince(v0)
	require.True(t, ok)
	assert.Len(t, cells, 2)

	cells, ok = s.ChangedSince(s.Version())
	assert.True(t, ok)
	assert.Empty(t, cells)

	// A third batch pushes the first out of the bounded log.
	s.SetBatch([]model.StatusUpdate{upd(2, "A", model.StatusValid)})
	_, ok = s.ChangedSince(v0)
	assert.False(t, ok)
	_, ok = s.ChangedSince(v1)
	assert.True(t, ok)
}

func TestStore_BatchAtomicity(t *testing.T) {
	s := NewStore()
	cells := make([]model.CellCoordinate, 100)
	for i := range cells {
		cells[i] = model.Cell(i, "Player")
	}
	batch := func(st model.CellStatus) []model.StatusUpdate {
		out := make([]model.StatusUpdate, len(cells))
		for i, c := range cells {
			out[i] = model.StatusUpdate{Cell: c, Status: st}
		}
		return out
	}
	s.SetBatch(batch(model.StatusValid))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		statuses := []model.CellStatus{model.StatusInvalid, model.StatusCorrected, model.StatusValid}
		for i := 0; i < 500; i++ {
			s.SetBatch(batch(statuses[i%len(statuses)]))
		}
		close(stop)
	}()

	reads := 0
	for done := false; !done; {
		select {
		case <-stop:
			done = true
		default:
		}
		got := s.GetMany(cells)
		for i := 1; i < len(got); i++ {
			if got[i] != got[0] {
				require.FailNow(t, "observed partial batch", fmt.Sprintf("cell %d is %s, cell 0 is %s", i, got[i], got[0]))
			}
		}
		reads++
	}
	wg.Wait()
	assert.Positive(t, reads)
}

func TestTransitions(t *testing.T) {
	assert.True(t, CanTransition(model.StatusUnchecked, model.StatusValid))
	assert.True(t, CanTransition(model.StatusUnchecked, model.StatusInvalid))
	assert.True(t, CanTransition(model.StatusInvalid, model.StatusInvalidCorrectable))
	assert.True(t, CanTransition(model.StatusInvalidCorrectable, model.StatusCorrected))
	assert.True(t, CanTransition(model.StatusCorrected, model.StatusUnchecked))
	assert.True(t, CanTransition(model.StatusValid, model.StatusValid))
	assert.False(t, CanTransition(model.StatusUnchecked, model.StatusInvalidCorrectable))
	assert.False(t, CanTransition(model.StatusValid, model.StatusInvalidCorrectable))

	assert.Equal(t, model.StatusValid, ApplyValidation(model.StatusCorrected, true))
	assert.Equal(t, model.StatusInvalid, ApplyValidation(model.StatusUnchecked, false))
	assert.Equal(t, model.StatusInvalidCorrectable, ApplyValidation(model.StatusInvalidCorrectable, false))
	assert.Equal(t, model.StatusInvalid, ApplyValidation(model.StatusCorrected, false))
}
