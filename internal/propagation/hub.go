// Package propagation wires dataset changes, cell statuses and observers
// together. A Hub is built once at the application root and passed to every
// component that needs to observe or drive the dataset.
package propagation

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/Veraticus/cellflow/internal/common"
	"github.com/Veraticus/cellflow/internal/config"
	"github.com/Veraticus/cellflow/internal/correction"
	"github.com/Veraticus/cellflow/internal/dataset"
	"github.com/Veraticus/cellflow/internal/model"
	"github.com/Veraticus/cellflow/internal/scheduler"
	"github.com/Veraticus/cellflow/internal/snapshot"
	"github.com/Veraticus/cellflow/internal/status"
	"github.com/Veraticus/cellflow/internal/subscription"
)

// Handle identifies a registered observer.
type Handle struct {
	id model.ObserverID
}

// ID returns the observer's identifier, used to declare dependencies on it.
func (h Handle) ID() model.ObserverID { return h.id }

// Result is one validation outcome.
type Result struct {
	Cell  model.CellCoordinate
	Valid bool
}

// RuleSource provides enabled correction rules. A nil scope means every
// scope.
type RuleSource interface {
	EnabledRules(ctx context.Context, scope *model.RuleScope) ([]model.CorrectionRule, error)
}

// Option configures a Hub.
type Option func(*options)

type options struct {
	sink  scheduler.FaultSink
	store *status.Store
}

// WithFaultSink routes observer refresh faults to sink.
func WithFaultSink(sink scheduler.FaultSink) Option {
	return func(o *options) { o.sink = sink }
}

// WithStatusStore uses an existing status store.
func WithStatusStore(store *status.Store) Option {
	return func(o *options) { o.store = store }
}

// Hub connects a dataset to its observers. Every dataset commit is diffed
// against the previous snapshot and only observers whose subscriptions
// match the difference are scheduled. Status changes are routed the same
// way.
type Hub struct {
	dataset     dataset.Dataset
	graph       *subscription.Graph
	scheduler   *scheduler.Scheduler
	store       *status.Store
	engine      *correction.Engine
	unsubscribe func()
	settings    config.Settings
	tracker     snapshot.Tracker
	nextID      atomic.Uint64
}

// New builds a hub over ds. Call Start before using it and Close when done.
func New(ds dataset.Dataset, settings config.Settings, opts ...Option) (*Hub, error) {
	if ds == nil {
		return nil, common.NewConfigurationError("propagation.New", errors.New("nil dataset"))
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.store == nil {
		o.store = status.NewStore()
	}

	graph := subscription.NewGraph()
	sched, err := scheduler.New(scheduler.Config{
		Dependencies: graph,
		FaultSink:    o.sink,
		Window:       settings.Engine.DebounceWindow,
	})
	if err != nil {
		return nil, err
	}

	h := &Hub{
		dataset:   ds,
		graph:     graph,
		scheduler: sched,
		store:     o.store,
		settings:  settings,
	}

	committer := &loopCommitter{
		scheduler: sched,
		inner:     &correction.DirectCommitter{Dataset: ds, Status: statusNotifier{hub: h}},
	}
	h.engine, err = correction.New(ds, o.store, committer, settings.CorrectionConfig())
	if err != nil {
		return nil, err
	}

	// The first snapshot is the baseline; nothing is stale yet.
	if _, err := h.tracker.Next(ds); err != nil {
		return nil, err
	}
	h.unsubscribe = ds.Subscribe(h.onMutation)
	return h, nil
}

// Start begins delivering refreshes.
func (h *Hub) Start(ctx context.Context) {
	h.scheduler.Start(ctx)
}

// Close detaches from the dataset and stops delivery. Pending refreshes are
// dropped.
func (h *Hub) Close() {
	h.unsubscribe()
	h.scheduler.Stop()
}

// Dataset returns the dataset the hub observes.
func (h *Hub) Dataset() dataset.Dataset { return h.dataset }

// Register adds an observer with its subscriptions. A subscription to an
// unknown upstream is a ConfigurationError and nothing is registered.
func (h *Hub) Register(observer scheduler.Observer, subs ...subscription.Subscription) (Handle, error) {
	id := model.ObserverID(h.nextID.Add(1))
	if err := h.graph.Register(id, subs...); err != nil {
		return Handle{}, err
	}
	if err := h.scheduler.Register(id, observer); err != nil {
		h.graph.Unregister(id)
		return Handle{}, err
	}
	common.LogDebug("Observer registered", common.Fields{"observer": id.String(), "subscriptions": len(subs)})
	return Handle{id: id}, nil
}

// Subscribe adds subscriptions to a registered observer. A subscription
// that would close a refresh cycle is a ConfigurationError and leaves the
// existing subscriptions untouched.
func (h *Hub) Subscribe(handle Handle, subs ...subscription.Subscription) error {
	if !h.graph.Registered(handle.id) {
		return common.NewConfigurationError("subscribe "+handle.id.String(), common.ErrUnknownObserver)
	}
	return h.graph.Register(handle.id, subs...)
}

// Unregister removes an observer. A pending refresh is canceled.
func (h *Hub) Unregister(handle Handle) {
	h.scheduler.Unregister(handle.id)
	h.graph.Unregister(handle.id)
}

// Refresh delivers to the observer immediately with reason merged into any
// pending change. It must not be called from inside a refresh.
func (h *Hub) Refresh(ctx context.Context, handle Handle, reason model.ChangeSummary) error {
	return h.scheduler.ImmediateUpdate(ctx, handle.id, reason)
}

// Do runs fn on the delivery goroutine. Dataset writes that must not
// interleave with refreshes go through here.
func (h *Hub) Do(ctx context.Context, fn func() error) error {
	return h.scheduler.Do(ctx, fn)
}

// CellStatus returns the status of one cell.
func (h *Hub) CellStatus(c model.CellCoordinate) model.CellStatus {
	return h.store.Get(c)
}

// CellStatuses reads several cells as one consistent view.
func (h *Hub) CellStatuses(cells []model.CellCoordinate) []model.CellStatus {
	return h.store.GetMany(cells)
}

// StatusCounts returns how many cells hold each non-Unchecked status.
func (h *Hub) StatusCounts() map[model.CellStatus]int {
	return h.store.Counts()
}

// StatusVersion returns the status store's current version.
func (h *Hub) StatusVersion() uint64 {
	return h.store.Version()
}

// StatusChangedSince returns the cells whose status changed after version.
// ok is false when that history is gone and every status must be re-read.
func (h *Hub) StatusChangedSince(version uint64) ([]model.CellCoordinate, bool) {
	return h.store.ChangedSince(version)
}

// StatusEntries returns every cell holding a non-Unchecked status.
func (h *Hub) StatusEntries() []model.StatusUpdate {
	return h.store.Entries()
}

// RestoreStatuses loads previously saved statuses. Entries for cells the
// dataset no longer has are dropped.
func (h *Hub) RestoreStatuses(ctx context.Context, updates []model.StatusUpdate) error {
	rows := h.dataset.RowCount()
	known := make(map[string]struct{})
	for _, c := range h.dataset.Columns() {
		known[c] = struct{}{}
	}
	kept := make([]model.StatusUpdate, 0, len(updates))
	for _, u := range updates {
		if _, ok := known[u.Cell.Column]; !ok || u.Cell.Row < 0 || u.Cell.Row >= rows {
			continue
		}
		kept = append(kept, u)
	}
	return h.scheduler.Do(ctx, func() error {
		h.notifyStatus(h.store.Restore(kept))
		return nil
	})
}

// RecordValidationResult records one validation outcome.
func (h *Hub) RecordValidationResult(ctx context.Context, c model.CellCoordinate, valid bool) ([]model.CellCoordinate, error) {
	return h.RecordValidationResults(ctx, []Result{{Cell: c, Valid: valid}})
}

// RecordValidationResults applies validation outcomes as one batch and
// returns the cells whose status changed. The current statuses are read and
// the batch written on the delivery goroutine, the same goroutine that
// commits corrections.
func (h *Hub) RecordValidationResults(ctx context.Context, results []Result) ([]model.CellCoordinate, error) {
	if len(results) == 0 {
		return nil, nil
	}
	var changed []model.CellCoordinate
	err := h.scheduler.Do(ctx, func() error {
		changed = h.recordResults(results)
		return nil
	})
	return changed, err
}

// recordResults must run on the delivery goroutine.
func (h *Hub) recordResults(results []Result) []model.CellCoordinate {
	if len(results) == 0 {
		return nil
	}
	cells := make([]model.CellCoordinate, len(results))
	for i, r := range results {
		cells[i] = r.Cell
	}
	current := h.store.GetMany(cells)

	updates := make([]model.StatusUpdate, len(results))
	for i, r := range results {
		updates[i] = model.StatusUpdate{Cell: r.Cell, Status: status.ApplyValidation(current[i], r.Valid)}
	}
	return h.setStatuses(updates)
}

// MarkCorrectable moves Invalid cells that some rule would rewrite to
// InvalidCorrectable.
func (h *Hub) MarkCorrectable(ctx context.Context, rules []model.CorrectionRule) ([]model.CellCoordinate, error) {
	cells, err := h.engine.Correctable(ctx, rules)
	if err != nil || len(cells) == 0 {
		return nil, err
	}

	var changed []model.CellCoordinate
	err = h.scheduler.Do(ctx, func() error {
		current := h.store.GetMany(cells)
		updates := make([]model.StatusUpdate, 0, len(cells))
		for i, c := range cells {
			if current[i] == model.StatusInvalid {
				updates = append(updates, model.StatusUpdate{Cell: c, Status: model.StatusInvalidCorrectable})
			}
		}
		changed = h.setStatuses(updates)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changed, nil
}

// CorrectionOptions returns run options seeded from the hub's settings.
func (h *Hub) CorrectionOptions() correction.Options {
	opts := correction.Options{
		Mode:      model.ModeAllCells,
		Recursive: h.settings.Engine.Recursive,
	}
	if h.settings.Engine.OnlyInvalid {
		opts.Mode = model.ModeOnlyInvalid
	}
	return opts
}

// Preview plans a correction run without writing.
func (h *Hub) Preview(ctx context.Context, rules []model.CorrectionRule, opts correction.Options) (*model.CorrectionReport, error) {
	return h.engine.Preview(ctx, rules, opts)
}

func (h *Hub) onMutation(m dataset.Mutation) {
	kind, err := h.tracker.Next(h.dataset)
	if err != nil {
		common.LogError(err, "Snapshot failed, treating mutation as a full change", nil)
		h.tracker.Reset()
		kind = snapshot.Everything()
	}

	var reset []model.CellCoordinate
	if m.RemovedFrom >= 0 {
		reset = append(reset, h.store.ClearRegion(m.RemovedFrom, -1)...)
	}
	if len(m.ColumnsRemoved) > 0 {
		reset = append(reset, h.store.ClearColumns(m.ColumnsRemoved...)...)
	}
	if len(m.Cells) > 0 {
		updates := make([]model.StatusUpdate, len(m.Cells))
		for i, c := range m.Cells {
			updates[i] = model.StatusUpdate{Cell: c, Status: model.StatusUnchecked}
		}
		reset = append(reset, h.store.SetBatch(updates)...)
	}

	h.notifyData(kind, m.Cells)
	h.notifyStatus(reset)
}

func (h *Hub) notifyData(kind snapshot.ChangeKind, cells []model.CellCoordinate) {
	if kind.IsZero() {
		return
	}
	for _, id := range h.graph.ResolveStale(kind) {
		reason := kind.Summary()
		if !kind.Everything {
			if relevant := subscription.DataCells(h.graph.Subscriptions(id), cells); len(relevant) > 0 {
				reason.Merge(model.CellsChanged(relevant...))
			}
		}
		h.request(id, reason)
	}
}

func (h *Hub) notifyStatus(cells []model.CellCoordinate) {
	if len(cells) == 0 {
		return
	}
	for _, id := range h.graph.ResolveStatus(cells) {
		h.request(id, model.StatusChanged(subscription.StatusCells(h.graph.Subscriptions(id), cells)...))
	}
}

func (h *Hub) request(id model.ObserverID, reason model.ChangeSummary) {
	err := h.scheduler.RequestUpdate(id, reason)
	if err == nil || errors.Is(err, common.ErrSchedulerStopped) {
		return
	}
	// The observer was unregistered between resolution and scheduling.
	common.LogDebug("Dropped update request", common.Fields{"observer": id.String(), "error": err.Error()})
}

func (h *Hub) setStatuses(updates []model.StatusUpdate) []model.CellCoordinate {
	changed := h.store.SetBatch(updates)
	h.notifyStatus(changed)
	return changed
}

// statusNotifier writes statuses through the hub so observers hear about
// corrections.
type statusNotifier struct {
	hub *Hub
}

func (n statusNotifier) SetBatch(updates []model.StatusUpdate) []model.CellCoordinate {
	return n.hub.setStatuses(updates)
}

// loopCommitter commits correction passes on the delivery goroutine.
type loopCommitter struct {
	scheduler *scheduler.Scheduler
	inner     correction.Committer
}

func (c *loopCommitter) CommitPass(ctx context.Context, entries []model.CorrectionEntry) (correction.Outcome, error) {
	var (
		out       correction.Outcome
		commitErr error
	)
	if err := c.scheduler.Do(ctx, func() error {
		out, commitErr = c.inner.CommitPass(ctx, entries)
		return nil
	}); err != nil {
		return correction.Outcome{}, err
	}
	return out, commitErr
}
