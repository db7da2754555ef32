// Package scheduler debounces observer refreshes and delivers them on a
// single owner goroutine.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Veraticus/cellflow/internal/common"
	"github.com/Veraticus/cellflow/internal/metrics"
	"github.com/Veraticus/cellflow/internal/model"
)

// DefaultWindow is the debounce window used when none is configured.
const DefaultWindow = 30 * time.Millisecond

// Observer is notified once per settled change window.
type Observer interface {
	Refresh(summary model.ChangeSummary) error
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(summary model.ChangeSummary) error

// Refresh calls f(summary).
func (f ObserverFunc) Refresh(summary model.ChangeSummary) error {
	return f(summary)
}

// FaultSink receives errors and panics raised by observer refreshes.
type FaultSink func(id model.ObserverID, err error)

// DependencyResolver lists the observers that want to hear about a
// completed refresh of id.
type DependencyResolver interface {
	Dependents(id model.ObserverID) []model.ObserverID
}

// State is where an observer is in its delivery cycle.
type State int

// Delivery states.
const (
	Idle State = iota
	PendingDebounce
	Delivered
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case PendingDebounce:
		return "pending"
	case Delivered:
		return "delivered"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config holds scheduler settings.
type Config struct {
	Dependencies DependencyResolver
	FaultSink    FaultSink
	Window       time.Duration
}

type entry struct {
	observer   Observer
	timer      *time.Timer
	summary    model.ChangeSummary
	generation uint64
	state      State
}

// Scheduler owns observer delivery. Refresh callbacks, and any work handed
// to Post or Do, run one at a time on the loop goroutine started by Start.
type Scheduler struct {
	entries  map[model.ObserverID]*entry
	deps     DependencyResolver
	sink     FaultSink
	wake     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	tasks    []func()
	window   time.Duration
	mu       sync.Mutex
	stopOnce sync.Once
	started  bool
	stopped  bool
}

// New creates a scheduler. It does nothing until Start is called.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Window < 0 {
		return nil, common.NewConfigurationError("scheduler.New", fmt.Errorf("%w: negative debounce window %s", common.ErrInvalidConfig, cfg.Window))
	}
	if cfg.Window == 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.FaultSink == nil {
		cfg.FaultSink = logFault
	}

	return &Scheduler{
		entries: make(map[model.ObserverID]*entry),
		deps:    cfg.Dependencies,
		sink:    cfg.FaultSink,
		window:  cfg.Window,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Window returns the debounce window.
func (s *Scheduler) Window() time.Duration { return s.window }

// Register adds an observer in the Idle state.
func (s *Scheduler) Register(id model.ObserverID, observer Observer) error {
	if observer == nil {
		return common.NewConfigurationError("scheduler.Register", errors.New("nil observer"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[id]; exists {
		return fmt.Errorf("%w: %s", common.ErrDuplicateEntry, id)
	}
	s.entries[id] = &entry{observer: observer}
	return nil
}

// Unregister removes an observer. A pending delivery is canceled and its
// callback never runs.
func (s *Scheduler) Unregister(id model.ObserverID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(s.entries, id)
}

// State reports where an observer is in its delivery cycle.
func (s *Scheduler) State(id model.ObserverID) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return Idle, false
	}
	return e.state, true
}

// RequestUpdate folds reason into the observer's pending summary and
// restarts its debounce window.
func (s *Scheduler) RequestUpdate(id model.ObserverID, reason model.ChangeSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return common.ErrSchedulerStopped
	}
	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", common.ErrUnknownObserver, id)
	}

	if e.state == PendingDebounce {
		metrics.CoalescedRequests.Inc()
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	gen := s.pendLocked(e, reason)
	e.timer = time.AfterFunc(s.window, func() {
		s.enqueue(func() { s.deliver(id, gen, "debounced") })
	})
	return nil
}

// ImmediateUpdate delivers to the observer now, skipping the debounce
// window. Any pending summary is merged in and its timer canceled. It
// blocks until the refresh has run and must not be called from inside a
// refresh or a function passed to Do.
func (s *Scheduler) ImmediateUpdate(ctx context.Context, id model.ObserverID, reason model.ChangeSummary) error {
	return s.Do(ctx, func() error {
		s.mu.Lock()
		e, ok := s.entries[id]
		if !ok {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s", common.ErrUnknownObserver, id)
		}
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		gen := s.pendLocked(e, reason)
		s.mu.Unlock()

		s.deliver(id, gen, "immediate")
		return nil
	})
}

func (s *Scheduler) pendLocked(e *entry, reason model.ChangeSummary) uint64 {
	e.summary.Merge(reason)
	e.summary.Requests++
	e.generation++
	e.state = PendingDebounce
	return e.generation
}

// Post queues fn to run on the loop goroutine.
func (s *Scheduler) Post(fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return common.ErrSchedulerStopped
	}
	s.tasks = append(s.tasks, fn)
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Do runs fn on the loop goroutine and waits for its result.
func (s *Scheduler) Do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	if err := s.Post(func() { result <- fn() }); err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return common.ErrSchedulerStopped
	}
}

// Start launches the loop goroutine. It exits when ctx is canceled or Stop
// is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go s.loop(ctx)
}

// Stop cancels every pending delivery and waits for the loop to exit.
// Queued work that has not started is dropped.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		for _, e := range s.entries {
			if e.timer != nil {
				e.timer.Stop()
				e.timer = nil
			}
		}
		s.tasks = nil
		started := s.started
		s.mu.Unlock()

		close(s.stop)
		if !started {
			close(s.done)
		}
	})
	<-s.done
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			s.markStopped()
			return
		case <-s.stop:
			return
		case <-s.wake:
		}

		for {
			tasks := s.drain()
			if len(tasks) == 0 {
				break
			}
			for _, task := range tasks {
				s.runTask(task)
			}
		}
	}
}

func (s *Scheduler) markStopped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for _, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
	}
	s.tasks = nil
}

func (s *Scheduler) drain() []func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks := s.tasks
	s.tasks = nil
	return tasks
}

func (s *Scheduler) enqueue(fn func()) {
	// A timer may fire after Stop; the error only means there is nobody left
	// to deliver to.
	_ = s.Post(fn)
}

func (s *Scheduler) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			common.LogError(fmt.Errorf("%v", r), "Scheduled task panicked", nil)
		}
	}()
	task()
}

// deliver runs one refresh if gen is still the observer's latest pending
// generation, then queues a second round for its dependents.
func (s *Scheduler) deliver(id model.ObserverID, gen uint64, mode string) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok || e.generation != gen || e.state != PendingDebounce {
		s.mu.Unlock()
		return
	}
	summary := e.summary
	e.summary = model.ChangeSummary{}
	e.state = Delivered
	e.timer = nil
	observer := e.observer
	s.mu.Unlock()

	err := s.refresh(id, observer, summary)
	metrics.Deliveries.WithLabelValues(mode).Inc()

	s.mu.Lock()
	if current, ok := s.entries[id]; ok && current == e && e.state == Delivered {
		e.state = Idle
	}
	s.mu.Unlock()

	if err != nil {
		metrics.DeliveryFaults.Inc()
		s.sink(id, err)
	}

	if s.deps == nil {
		return
	}
	for _, dependent := range s.deps.Dependents(id) {
		if err := s.RequestUpdate(dependent, model.ObserverRefreshed(id)); err != nil && !errors.Is(err, common.ErrSchedulerStopped) {
			common.LogDebug("Dropped dependent update", common.Fields{
				"upstream":  id.String(),
				"dependent": dependent.String(),
				"error":     err.Error(),
			})
		}
	}
}

func (s *Scheduler) refresh(id model.ObserverID, observer Observer, summary model.ChangeSummary) (err error) {
	started := time.Now()
	defer func() {
		metrics.DeliveryDuration.Observe(time.Since(started).Seconds())
		if r := recover(); r != nil {
			err = fmt.Errorf("observer %s panicked: %v", id, r)
		}
	}()
	return observer.Refresh(summary)
}

func logFault(id model.ObserverID, err error) {
	common.LogError(err, "Observer refresh failed", common.Fields{"observer": id.String()})
}
