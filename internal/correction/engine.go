// Package correction rewrites cells using user-defined match/replacement rules.
package correction

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Veraticus/cellflow/internal/common"
	"github.com/Veraticus/cellflow/internal/dataset"
	"github.com/Veraticus/cellflow/internal/metrics"
	"github.com/Veraticus/cellflow/internal/model"
)

// DefaultMaxIterations caps recursive runs when no cap is configured.
const DefaultMaxIterations = 10

// StatusReader exposes cell statuses to the engine.
type StatusReader interface {
	Get(c model.CellCoordinate) model.CellStatus
}

// Config holds engine-wide settings.
type Config struct {
	// CorrectableColumns limits generic rules to these columns. Empty means
	// every column in the dataset.
	CorrectableColumns []string
	ChunkSize          int
	MaxIterations      int
}

// DefaultConfig returns the default engine settings.
func DefaultConfig() Config {
	return Config{
		ChunkSize:     dataset.DefaultChunkSize,
		MaxIterations: DefaultMaxIterations,
	}
}

// Options controls a single run.
type Options struct {
	// Cancel is checked once per chunk boundary.
	Cancel    *atomic.Bool
	RunID     string
	Mode      model.CorrectionMode
	Recursive bool
	// MaxIterations overrides the configured cap when positive.
	MaxIterations int
}

// Engine applies correction rules to a dataset.
type Engine struct {
	reader    dataset.Reader
	status    StatusReader
	committer Committer
	now       func() time.Time
	config    Config
}

// New creates an engine. Zero values in cfg fall back to DefaultConfig.
func New(reader dataset.Reader, status StatusReader, committer Committer, cfg Config) (*Engine, error) {
	if reader == nil || status == nil || committer == nil {
		return nil, common.NewConfigurationError("correction.New", errors.New("reader, status and committer are required"))
	}
	defaults := DefaultConfig()
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = defaults.ChunkSize
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = defaults.MaxIterations
	}
	if cfg.ChunkSize < 0 {
		return nil, common.NewConfigurationError("correction.New", fmt.Errorf("%w: chunk size %d", common.ErrInvalidConfig, cfg.ChunkSize))
	}
	if cfg.MaxIterations < 0 {
		return nil, common.NewConfigurationError("correction.New", fmt.Errorf("%w: max iterations %d", common.ErrInvalidConfig, cfg.MaxIterations))
	}

	return &Engine{
		reader:    reader,
		status:    status,
		committer: committer,
		config:    cfg,
		now:       time.Now,
	}, nil
}

// Apply runs the rules against the dataset. Generic rules run first over
// every correctable column, then column rules over their own column, each
// pass committed as one unit. Recursive runs repeat until an iteration
// changes nothing or the iteration cap is reached.
//
// A DatasetAccessFault aborts the current pass. Work committed before the
// fault stays applied and the partial report is returned with the fault.
func (e *Engine) Apply(ctx context.Context, rules []model.CorrectionRule, opts Options) (*model.CorrectionReport, error) {
	return e.run(ctx, rules, opts, e.committer, nil)
}

// Preview plans a run without writing anything. The returned report lists
// the entries Apply would produce against the current dataset.
func (e *Engine) Preview(ctx context.Context, rules []model.CorrectionRule, opts Options) (*model.CorrectionReport, error) {
	ov := newOverlay()
	return e.run(ctx, rules, opts, ov, ov)
}

// Correctable returns the invalid cells that at least one rule would rewrite.
func (e *Engine) Correctable(ctx context.Context, rules []model.CorrectionRule) ([]model.CellCoordinate, error) {
	report, err := e.Preview(ctx, rules, Options{Mode: model.ModeOnlyInvalid})
	if err != nil {
		return nil, err
	}
	return report.ChangedCells(), nil
}

func (e *Engine) run(ctx context.Context, rules []model.CorrectionRule, opts Options, committer Committer, ov *overlay) (*model.CorrectionReport, error) {
	if opts.Mode == "" {
		opts.Mode = model.ModeAllCells
	}
	started := e.now()
	report := &model.CorrectionReport{
		StartedAt: started,
		RunID:     opts.RunID,
		Mode:      opts.Mode,
	}
	defer func() { report.Duration = e.now().Sub(started) }()

	generic, scoped := Partition(rules)
	passes := []struct {
		pass  model.CorrectionPass
		rules []model.CorrectionRule
	}{
		{model.PassGeneric, generic},
		{model.PassScoped, scoped},
	}
	limit := e.iterationLimit(opts)
	dryRun := ov != nil

	for iteration := 1; ; iteration++ {
		changed := 0
		for _, p := range passes {
			if len(p.rules) == 0 {
				continue
			}
			n, canceled, err := e.runPass(ctx, report, committer, ov, p.pass, p.rules, iteration, opts)
			changed += n
			if !dryRun && n > 0 {
				metrics.CorrectedCells.WithLabelValues(string(p.pass)).Add(float64(n))
			}
			if err != nil {
				report.Iterations = iteration
				report.Fault = err
				e.finish(report, "fault", dryRun)
				common.LogError(err, "Correction pass aborted", common.Fields{
					"run_id":    report.RunID,
					"pass":      p.pass,
					"iteration": iteration,
					"changed":   report.Changed,
				})
				return report, err
			}
			if canceled {
				report.Iterations = iteration
				report.Canceled = true
				e.finish(report, "canceled", dryRun)
				return report, ctx.Err()
			}
		}
		report.Iterations = iteration

		if !opts.Recursive {
			e.finish(report, "completed", dryRun)
			break
		}
		if changed == 0 {
			e.finish(report, "fixed_point", dryRun)
			break
		}
		if iteration >= limit {
			report.IterationCapReached = true
			e.finish(report, "cap_reached", dryRun)
			common.LogWarn("Correction stopped at iteration cap", common.Fields{
				"run_id":         report.RunID,
				"max_iterations": limit,
				"changed":        report.Changed,
			})
			break
		}
	}

	return report, nil
}

func (e *Engine) finish(report *model.CorrectionReport, result string, dryRun bool) {
	if dryRun {
		return
	}
	metrics.CorrectionRuns.WithLabelValues(result).Inc()
	common.LogDebug("Correction run finished", common.Fields{
		"run_id":     report.RunID,
		"result":     result,
		"iterations": report.Iterations,
		"changed":    report.Changed,
		"processed":  report.Processed,
	})
}

// runPass plans one pass and commits it. It returns how many cells were
// written and whether planning stopped at a cancellation point.
func (e *Engine) runPass(
	ctx context.Context,
	report *model.CorrectionReport,
	committer Committer,
	ov *overlay,
	pass model.CorrectionPass,
	rules []model.CorrectionRule,
	iteration int,
	opts Options,
) (int, bool, error) {
	plan, planErr := e.plan(ctx, ov, pass, rules, iteration, opts)
	report.Passes++
	report.Processed += plan.processed

	applied := 0
	if len(plan.entries) > 0 {
		outcome, err := committer.CommitPass(ctx, plan.entries)
		applied = len(outcome.Applied)
		report.Entries = append(report.Entries, outcome.Applied...)
		report.Changed += applied
		report.Skipped += outcome.Skipped
		if err != nil {
			report.Failed += len(plan.entries) - applied - outcome.Skipped
			return applied, false, err
		}
	}
	if planErr != nil {
		return applied, false, planErr
	}
	return applied, plan.canceled, nil
}

type passPlan struct {
	entries   []model.CorrectionEntry
	processed int
	canceled  bool
}

// plan computes a pass. Rules run one after another in priority order over
// a working copy of each column, so a rule sees what earlier rules in the
// same pass wrote; nothing reaches the dataset until the pass is committed.
// Status checks read the store, which only changes at pass commits. A read
// failure returns what was planned before it.
func (e *Engine) plan(
	ctx context.Context,
	ov *overlay,
	pass model.CorrectionPass,
	rules []model.CorrectionRule,
	iteration int,
	opts Options,
) (passPlan, error) {
	var p passPlan
	working := make(map[string][]string)
	correctable := e.correctableColumns()
	known := make(map[string]struct{}, len(correctable))
	for _, c := range e.reader.Columns() {
		known[c] = struct{}{}
	}
	appliedAt := e.now()

	for _, rule := range rules {
		targets := correctable
		if pass == model.PassScoped {
			if _, ok := known[rule.Column]; !ok {
				common.LogDebug("Skipping rule for missing column", common.Fields{
					"rule":   rule.Name,
					"column": rule.Column,
				})
				continue
			}
			targets = []string{rule.Column}
		}

		for _, column := range targets {
			values, ok := working[column]
			if !ok {
				read, err := e.reader.ReadColumn(column)
				if err != nil {
					return p, asReadFault(column, err)
				}
				values = make([]string, len(read))
				for row, v := range read {
					values[row] = ov.value(model.Cell(row, column), v)
				}
				working[column] = values
				p.processed += len(values)
			}

			for _, chunk := range dataset.Chunks(len(values), e.config.ChunkSize) {
				if canceled(ctx, opts.Cancel) {
					p.canceled = true
					return p, nil
				}
				for row := chunk.From; row < chunk.To; row++ {
					current := values[row]
					if current != rule.Match {
						continue
					}
					cell := model.Cell(row, column)
					if opts.Mode == model.ModeOnlyInvalid && !e.invalid(cell, ov) {
						continue
					}
					values[row] = rule.Replacement
					p.entries = append(p.entries, model.CorrectionEntry{
						AppliedAt: appliedAt,
						Cell:      cell,
						OldValue:  current,
						NewValue:  rule.Replacement,
						RuleID:    rule.ID,
						RuleName:  rule.Name,
						Pass:      pass,
						Iteration: iteration,
					})
				}
			}
		}
	}
	return p, nil
}

func (e *Engine) invalid(c model.CellCoordinate, ov *overlay) bool {
	if ov.isCorrected(c) {
		return false
	}
	return e.status.Get(c).IsInvalid()
}

// correctableColumns returns the dataset columns generic rules may touch,
// in dataset order.
func (e *Engine) correctableColumns() []string {
	all := e.reader.Columns()
	if len(e.config.CorrectableColumns) == 0 {
		return all
	}
	allowed := make(map[string]struct{}, len(e.config.CorrectableColumns))
	for _, c := range e.config.CorrectableColumns {
		allowed[c] = struct{}{}
	}
	out := make([]string, 0, len(allowed))
	for _, c := range all {
		if _, ok := allowed[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (e *Engine) iterationLimit(opts Options) int {
	if opts.MaxIterations > 0 {
		return opts.MaxIterations
	}
	return e.config.MaxIterations
}

func canceled(ctx context.Context, flag *atomic.Bool) bool {
	if ctx.Err() != nil {
		return true
	}
	return flag != nil && flag.Load()
}

func asReadFault(column string, err error) error {
	var fault *common.DatasetAccessFault
	if errors.As(err, &fault) {
		return err
	}
	return common.NewReadFault(column, err)
}
