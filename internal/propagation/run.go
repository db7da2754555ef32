package propagation

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/cellflow/internal/common"
	"github.com/Veraticus/cellflow/internal/correction"
	"github.com/Veraticus/cellflow/internal/dataset"
	"github.com/Veraticus/cellflow/internal/metrics"
	"github.com/Veraticus/cellflow/internal/model"
	"github.com/Veraticus/cellflow/internal/validation"
)

// Run is a background pass over the whole dataset. It checks its
// cancellation flag once per chunk; a chunk that has started always
// finishes.
type Run struct {
	done   chan struct{}
	err    error
	id     string
	cancel atomic.Bool
}

func (r *Run) init() {
	r.id = uuid.NewString()
	r.done = make(chan struct{})
}

// ID returns the run's unique identifier.
func (r *Run) ID() string { return r.id }

// Cancel asks the run to stop at the next chunk boundary.
func (r *Run) Cancel() { r.cancel.Store(true) }

// Done is closed when the run has finished.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run finishes and returns its error.
func (r *Run) Wait() error {
	<-r.done
	return r.err
}

func (r *Run) finish(err error) {
	r.err = err
	close(r.done)
}

// ValidationRun validates every cell in chunks.
type ValidationRun struct {
	Run
	report model.ValidationReport
}

// Report waits for the run and returns its summary.
func (r *ValidationRun) Report() model.ValidationReport {
	<-r.done
	return r.report
}

// CorrectionRun applies correction rules in the background.
type CorrectionRun struct {
	Run
	report *model.CorrectionReport
}

// Report waits for the run and returns its summary. The report is nil only
// if the run failed before the engine started.
func (r *CorrectionRun) Report() *model.CorrectionReport {
	<-r.done
	return r.report
}

// StartValidation validates the dataset in chunks of the configured size.
// Each chunk's results are committed on the delivery goroutine and their
// observers notified before the next chunk is validated.
func (h *Hub) StartValidation(ctx context.Context, v validation.Validator) *ValidationRun {
	run := &ValidationRun{}
	run.init()
	go func() {
		run.finish(h.validate(ctx, run, v))
	}()
	return run
}

type checked struct {
	value  string
	result Result
}

func (h *Hub) validate(ctx context.Context, run *ValidationRun, v validation.Validator) error {
	report := &run.report
	report.StartedAt = time.Now()
	defer func() { report.Duration = time.Since(report.StartedAt) }()

	columns := h.dataset.Columns()
	values := make(map[string][]string, len(columns))
	rows := 0
	for _, c := range columns {
		col, err := h.dataset.ReadColumn(c)
		if err != nil {
			return common.NewReadFault(c, err)
		}
		values[c] = col
		rows = max(rows, len(col))
	}

	for _, chunk := range dataset.Chunks(rows, h.chunkSize()) {
		if ctx.Err() != nil || run.cancel.Load() {
			report.Canceled = true
			return ctx.Err()
		}

		batch := make([]checked, 0, chunk.Len()*len(columns))
		for row := chunk.From; row < chunk.To; row++ {
			for _, c := range columns {
				col := values[c]
				if row >= len(col) {
					continue
				}
				ok := v.Validate(c, col[row])
				if ok {
					report.Valid++
				} else {
					report.Invalid++
				}
				batch = append(batch, checked{value: col[row], result: Result{Cell: model.Cell(row, c), Valid: ok}})
			}
		}
		report.Processed += len(batch)

		var changed int
		if err := h.scheduler.Do(ctx, func() error {
			changed = len(h.recordChecked(batch))
			return nil
		}); err != nil {
			return err
		}
		report.Changed += changed
		report.Chunks++
		metrics.ValidationChunks.Inc()
	}

	common.LogDebug("Validation run finished", common.Fields{
		"run_id":    run.id,
		"processed": report.Processed,
		"invalid":   report.Invalid,
		"changed":   report.Changed,
	})
	return nil
}

type cellValuer interface {
	Value(row int, column string) (string, error)
}

// recordChecked drops results for cells edited since they were read, then
// records the rest.
func (h *Hub) recordChecked(batch []checked) []model.CellCoordinate {
	results := make([]Result, 0, len(batch))
	valuer, canCompare := h.dataset.(cellValuer)
	for _, c := range batch {
		if canCompare {
			current, err := valuer.Value(c.result.Cell.Row, c.result.Cell.Column)
			if err != nil || current != c.value {
				continue
			}
		}
		results = append(results, c.result)
	}
	return h.recordResults(results)
}

// StartCorrection applies rules in the background. Each pass is committed
// on the delivery goroutine.
func (h *Hub) StartCorrection(ctx context.Context, rules []model.CorrectionRule, opts correction.Options) *CorrectionRun {
	run := &CorrectionRun{}
	run.init()
	opts.Cancel = &run.cancel
	opts.RunID = run.id
	go func() {
		report, err := h.engine.Apply(ctx, rules, opts)
		run.report = report
		run.finish(err)
	}()
	return run
}

// StartCorrectionFrom loads the enabled rules from src and starts a run.
func (h *Hub) StartCorrectionFrom(ctx context.Context, src RuleSource, opts correction.Options) (*CorrectionRun, error) {
	rules, err := src.EnabledRules(ctx, nil)
	if err != nil {
		return nil, err
	}
	return h.StartCorrection(ctx, rules, opts), nil
}

func (h *Hub) chunkSize() int {
	if h.settings.Engine.ChunkSize > 0 {
		return h.settings.Engine.ChunkSize
	}
	return dataset.DefaultChunkSize
}
