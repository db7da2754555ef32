package propagation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/cellflow/internal/common"
	"github.com/Veraticus/cellflow/internal/config"
	"github.com/Veraticus/cellflow/internal/dataset"
	"github.com/Veraticus/cellflow/internal/model"
	"github.com/Veraticus/cellflow/internal/scheduler"
	"github.com/Veraticus/cellflow/internal/status"
	"github.com/Veraticus/cellflow/internal/subscription"
	"github.com/Veraticus/cellflow/internal/validation"
)

const settle = 5 * time.Millisecond

// spy records every refresh it receives.
type spy struct {
	fail      error
	summaries []model.ChangeSummary
	mu        sync.Mutex
}

func (p *spy) Refresh(s model.ChangeSummary) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.summaries = append(p.summaries, s)
	return p.fail
}

func (p *spy) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.summaries)
}

func (p *spy) last() model.ChangeSummary {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.summaries[len(p.summaries)-1]
}

func (p *spy) merged() model.ChangeSummary {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out model.ChangeSummary
	for _, s := range p.summaries {
		out.Merge(s)
	}
	return out
}

func newHub(t *testing.T, columns []string, rows [][]string, opts ...Option) (*Hub, *dataset.Table) {
	t.Helper()
	table, err := dataset.FromRows(columns, rows)
	require.NoError(t, err)

	settings := config.Default()
	settings.Engine.DebounceWindow = settle
	h, err := New(table, settings, opts...)
	require.NoError(t, err)
	h.Start(context.Background())
	t.Cleanup(h.Close)
	return h, table
}

func register(t *testing.T, h *Hub, subs ...subscription.Subscription) (*spy, Handle) {
	t.Helper()
	p := &spy{}
	handle, err := h.Register(p, subs...)
	require.NoError(t, err)
	return p, handle
}

// write edits cells on the delivery goroutine and commits.
func write(t *testing.T, h *Hub, table *dataset.Table, edits map[model.CellCoordinate]string) {
	t.Helper()
	require.NoError(t, h.Do(context.Background(), func() error {
		for c, v := range edits {
			if err := table.WriteCell(c.Row, c.Column, v); err != nil {
				return err
			}
		}
		table.Commit()
		return nil
	}))
}

func record(t *testing.T, h *Hub, results ...Result) {
	t.Helper()
	_, err := h.RecordValidationResults(context.Background(), results)
	require.NoError(t, err)
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, time.Millisecond)
}

func quiet(t *testing.T, p *spy, want int) {
	t.Helper()
	time.Sleep(10 * settle)
	assert.Equal(t, want, p.count())
}

func TestHub_CorrectsMisspelledNameEndToEnd(t *testing.T) {
	h, table := newHub(t, []string{"Player", "Source"}, [][]string{{"JohnSmiht", "stream"}})
	player, _ := register(t, h, subscription.Columns("Player"))
	source, _ := register(t, h, subscription.Columns("Source"))
	statuses, _ := register(t, h, subscription.CellStatus())

	rules, err := validation.NewRuleSet(validation.ColumnRule{Column: "Player", Allowed: []string{"John Smith"}})
	require.NoError(t, err)

	validated := h.StartValidation(context.Background(), rules)
	require.NoError(t, validated.Wait())
	assert.Equal(t, model.StatusInvalid, h.CellStatus(model.Cell(0, "Player")))
	assert.Equal(t, model.StatusValid, h.CellStatus(model.Cell(0, "Source")))
	assert.Equal(t, 2, validated.Report().Processed)
	assert.Equal(t, 1, validated.Report().Invalid)

	run := h.StartCorrection(context.Background(), []model.CorrectionRule{{
		ID: 1, Name: "fix name", Match: "JohnSmiht", Replacement: "John Smith",
		Scope: model.ScopeGeneric, Enabled: true,
	}}, h.CorrectionOptions())
	require.NoError(t, run.Wait())

	report := run.Report()
	require.NotNil(t, report)
	assert.Equal(t, 1, report.Changed)
	assert.Equal(t, run.ID(), report.RunID)

	value, err := table.Value(0, "Player")
	require.NoError(t, err)
	assert.Equal(t, "John Smith", value)
	assert.Equal(t, model.StatusCorrected, h.CellStatus(model.Cell(0, "Player")))

	eventually(t, func() bool { return player.count() >= 1 })
	assert.True(t, player.merged().HasCell(model.Cell(0, "Player")))

	// Source only ever hears about its own status changes, never data edits.
	time.Sleep(10 * settle)
	assert.Empty(t, source.merged().Cells)
	assert.False(t, source.merged().HasStatus(model.Cell(0, "Player")))

	eventually(t, func() bool { return statuses.merged().HasStatus(model.Cell(0, "Player")) })
	assert.True(t, statuses.merged().HasStatus(model.Cell(0, "Source")))
}

func TestHub_NoOpWriteRefreshesNobody(t *testing.T) {
	h, table := newHub(t, []string{"A"}, [][]string{{"x"}})
	everything, _ := register(t, h, subscription.Everything())

	write(t, h, table, map[model.CellCoordinate]string{model.Cell(0, "A"): "x"})
	quiet(t, everything, 0)
}

func TestHub_EditResetsStatus(t *testing.T) {
	h, table := newHub(t, []string{"A", "B"}, [][]string{{"x", "y"}})
	statuses, _ := register(t, h, subscription.CellStatus())
	columnB, _ := register(t, h, subscription.Columns("B"))

	record(t, h, Result{Cell: model.Cell(0, "A"), Valid: true})
	eventually(t, func() bool { return statuses.count() == 1 })

	write(t, h, table, map[model.CellCoordinate]string{model.Cell(0, "A"): "changed"})

	assert.Equal(t, model.StatusUnchecked, h.CellStatus(model.Cell(0, "A")))
	eventually(t, func() bool { return statuses.count() == 2 })
	assert.True(t, statuses.last().HasStatus(model.Cell(0, "A")))
	quiet(t, columnB, 0)
}

func TestHub_RowRemovalClearsStatuses(t *testing.T) {
	h, table := newHub(t, []string{"A"}, [][]string{{"1"}, {"2"}, {"3"}})
	rowCount, _ := register(t, h, subscription.RowCount())

	record(t, h,
		Result{Cell: model.Cell(0, "A"), Valid: true},
		Result{Cell: model.Cell(2, "A"), Valid: false},
	)

	require.NoError(t, h.Do(context.Background(), func() error {
		if err := table.RemoveRows(1, 2); err != nil {
			return err
		}
		table.Commit()
		return nil
	}))

	assert.Equal(t, model.StatusValid, h.CellStatus(model.Cell(0, "A")))
	assert.Equal(t, model.StatusUnchecked, h.CellStatus(model.Cell(2, "A")))
	eventually(t, func() bool { return rowCount.count() == 1 })
	assert.True(t, rowCount.last().RowCountChanged)
}

func TestHub_DependentsRefreshAfterUpstream(t *testing.T) {
	h, table := newHub(t, []string{"A"}, [][]string{{"x"}})

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) scheduler.ObserverFunc {
		return func(model.ChangeSummary) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}

	grid, err := h.Register(record("grid"), subscription.Columns("A"))
	require.NoError(t, err)
	_, err = h.Register(record("totals"), subscription.After(grid.ID()))
	require.NoError(t, err)

	write(t, h, table, map[model.CellCoordinate]string{model.Cell(0, "A"): "y"})

	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	})
	assert.Equal(t, []string{"grid", "totals"}, order)
}

func TestHub_RejectsCycles(t *testing.T) {
	h, table := newHub(t, []string{"A"}, [][]string{{"x"}})
	upstream, first := register(t, h, subscription.Columns("A"))
	downstream, second := register(t, h, subscription.After(first.ID()))

	err := h.Subscribe(first, subscription.After(second.ID()))
	require.Error(t, err)
	assert.True(t, common.IsConfigurationError(err))
	assert.ErrorIs(t, err, common.ErrCyclicDependency)

	_, err = h.Register(&spy{}, subscription.After(model.ObserverID(999)))
	assert.ErrorIs(t, err, common.ErrUnknownObserver)

	write(t, h, table, map[model.CellCoordinate]string{model.Cell(0, "A"): "y"})
	eventually(t, func() bool { return upstream.count() == 1 && downstream.count() == 1 })
	quiet(t, upstream, 1)
}

func TestHub_UnregisterCancelsPending(t *testing.T) {
	h, table := newHub(t, []string{"A"}, [][]string{{"x"}})
	p, handle := register(t, h, subscription.Everything())

	write(t, h, table, map[model.CellCoordinate]string{model.Cell(0, "A"): "y"})
	h.Unregister(handle)
	quiet(t, p, 0)
}

func TestHub_FaultingObserverDoesNotBlockOthers(t *testing.T) {
	var (
		mu     sync.Mutex
		faults []model.ObserverID
	)
	h, table := newHub(t, []string{"A"}, [][]string{{"x"}}, WithFaultSink(func(id model.ObserverID, _ error) {
		mu.Lock()
		defer mu.Unlock()
		faults = append(faults, id)
	}))

	broken := &spy{fail: errors.New("render failed")}
	brokenHandle, err := h.Register(broken, subscription.Everything())
	require.NoError(t, err)
	healthy, _ := register(t, h, subscription.Everything())

	write(t, h, table, map[model.CellCoordinate]string{model.Cell(0, "A"): "y"})

	eventually(t, func() bool { return healthy.count() == 1 && broken.count() == 1 })
	mu.Lock()
	assert.Equal(t, []model.ObserverID{brokenHandle.ID()}, faults)
	mu.Unlock()
}

func TestHub_MarkCorrectable(t *testing.T) {
	h, _ := newHub(t, []string{"A"}, [][]string{{"bad"}, {"worse"}})
	record(t, h,
		Result{Cell: model.Cell(0, "A"), Valid: false},
		Result{Cell: model.Cell(1, "A"), Valid: false},
	)
	rules := []model.CorrectionRule{{ID: 1, Match: "bad", Replacement: "good", Scope: model.ScopeGeneric, Enabled: true}}

	changed, err := h.MarkCorrectable(context.Background(), rules)
	require.NoError(t, err)
	assert.Equal(t, []model.CellCoordinate{model.Cell(0, "A")}, changed)
	assert.Equal(t, model.StatusInvalidCorrectable, h.CellStatus(model.Cell(0, "A")))
	assert.Equal(t, model.StatusInvalid, h.CellStatus(model.Cell(1, "A")))

	// A later invalid result keeps the correctable marker.
	record(t, h, Result{Cell: model.Cell(0, "A"), Valid: false})
	assert.Equal(t, model.StatusInvalidCorrectable, h.CellStatus(model.Cell(0, "A")))
}

func TestHub_CanceledValidation(t *testing.T) {
	rows := make([][]string, 250)
	for i := range rows {
		rows[i] = []string{"v"}
	}
	h, _ := newHub(t, []string{"A"}, rows)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	v := validation.Func(func(string, string) bool {
		once.Do(func() {
			close(started)
			<-release
		})
		return true
	})

	run := h.StartValidation(context.Background(), v)
	<-started
	run.Cancel()
	close(release)
	require.NoError(t, run.Wait())

	report := run.Report()
	assert.True(t, report.Canceled)
	assert.Equal(t, 1, report.Chunks)
	assert.Equal(t, 100, report.Processed)
	assert.Equal(t, 100, h.StatusCounts()[model.StatusValid])
}

type staticRules []model.CorrectionRule

func (s staticRules) EnabledRules(context.Context, *model.RuleScope) ([]model.CorrectionRule, error) {
	return s, nil
}

func TestHub_StartCorrectionFrom(t *testing.T) {
	h, table := newHub(t, []string{"A"}, [][]string{{"a"}})
	src := staticRules{{ID: 1, Match: "a", Replacement: "b", Scope: model.ScopeColumn, Column: "A", Enabled: true}}

	run, err := h.StartCorrectionFrom(context.Background(), src, h.CorrectionOptions())
	require.NoError(t, err)
	require.NoError(t, run.Wait())

	value, err := table.Value(0, "A")
	require.NoError(t, err)
	assert.Equal(t, "b", value)
	assert.Equal(t, model.PassScoped, run.Report().Entries[0].Pass)
}

func TestNew_RejectsNilDataset(t *testing.T) {
	_, err := New(nil, config.Default())
	assert.True(t, common.IsConfigurationError(err))
}

func TestHub_RestoreStatuses(t *testing.T) {
	h, _ := newHub(t, []string{"A", "B"}, [][]string{{"1", "2"}})
	statuses, _ := register(t, h, subscription.CellStatus())

	require.NoError(t, h.RestoreStatuses(context.Background(), []model.StatusUpdate{
		{Cell: model.Cell(0, "A"), Status: model.StatusInvalid},
		{Cell: model.Cell(0, "gone"), Status: model.StatusValid},
		{Cell: model.Cell(7, "B"), Status: model.StatusValid},
	}))

	assert.Equal(t, []model.StatusUpdate{{Cell: model.Cell(0, "A"), Status: model.StatusInvalid}}, h.StatusEntries())
	eventually(t, func() bool { return statuses.count() == 1 })
	assert.True(t, statuses.last().HasStatus(model.Cell(0, "A")))
}

func TestHub_SharedStatusStore(t *testing.T) {
	store := status.NewStore()
	store.SetBatch([]model.StatusUpdate{{Cell: model.Cell(0, "A"), Status: model.StatusInvalid}})

	h, _ := newHub(t, []string{"A", "B"}, [][]string{{"1", "2"}}, WithStatusStore(store))

	assert.Equal(t,
		[]model.CellStatus{model.StatusInvalid, model.StatusUnchecked},
		h.CellStatuses([]model.CellCoordinate{model.Cell(0, "A"), model.Cell(0, "B")}),
	)
	assert.Equal(t, map[model.CellStatus]int{model.StatusInvalid: 1}, h.StatusCounts())
}

func TestHub_ValidationResultsWaitForDeliveryGoroutine(t *testing.T) {
	h, _ := newHub(t, []string{"A"}, [][]string{{"x"}})

	busy := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = h.Do(context.Background(), func() error {
			close(busy)
			<-release
			return nil
		})
	}()
	<-busy

	recorded := make(chan error, 1)
	go func() {
		_, err := h.RecordValidationResult(context.Background(), model.Cell(0, "A"), false)
		recorded <- err
	}()

	time.Sleep(10 * settle)
	assert.Equal(t, model.StatusUnchecked, h.CellStatus(model.Cell(0, "A")))

	close(release)
	require.NoError(t, <-recorded)
	assert.Equal(t, model.StatusInvalid, h.CellStatus(model.Cell(0, "A")))
}

// Saved statuses load as they were, even where a live move would be refused.
func TestHub_RestoredCorrectableCellIsCorrected(t *testing.T) {
	h, _ := newHub(t, []string{"A"}, [][]string{{"x"}})
	require.NoError(t, h.RestoreStatuses(context.Background(), []model.StatusUpdate{
		{Cell: model.Cell(0, "A"), Status: model.StatusInvalidCorrectable},
	}))
	assert.Equal(t, model.StatusInvalidCorrectable, h.CellStatus(model.Cell(0, "A")))

	run := h.StartCorrection(context.Background(), []model.CorrectionRule{
		{ID: 1, Match: "x", Replacement: "y", Scope: model.ScopeGeneric, Enabled: true},
	}, h.CorrectionOptions())
	require.NoError(t, run.Wait())
	assert.Equal(t, model.StatusCorrected, h.CellStatus(model.Cell(0, "A")))
}
