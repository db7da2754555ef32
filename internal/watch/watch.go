// Package watch reports changes to a single file, such as the database
// another process writes to, after they settle.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Veraticus/cellflow/internal/common"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the file must stay quiet before the handler
// runs.
const DefaultDebounce = 200 * time.Millisecond

// Handler is called once per settled burst of changes.
type Handler func(ctx context.Context)

// FileWatcher watches one file. Its directory is watched rather than the
// file itself so replaced files and SQLite sidecars (-wal, -journal) are
// seen too.
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	handler  Handler
	events   chan struct{}
	done     chan struct{}
	path     string
	debounce time.Duration
	stopOnce sync.Once
	mu       sync.Mutex
	watching bool
}

// NewFileWatcher creates a watcher for path. A debounce of zero uses
// DefaultDebounce.
func NewFileWatcher(path string, debounce time.Duration, handler Handler) (*FileWatcher, error) {
	if handler == nil {
		return nil, common.NewConfigurationError("watch.NewFileWatcher", fmt.Errorf("%w: nil handler", common.ErrInvalidConfig))
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &FileWatcher{
		watcher:  watcher,
		handler:  handler,
		path:     abs,
		debounce: debounce,
		events:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. The handler runs on a single goroutine until ctx
// is canceled or Stop is called.
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watching {
		return nil
	}
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}
	w.watching = true

	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
	return nil
}

// Stop stops the watcher. A pending burst is dropped.
func (w *FileWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

// Matches reports whether name is the watched file or one of its sidecars.
func (w *FileWatcher) Matches(name string) bool {
	abs, err := filepath.Abs(name)
	if err != nil {
		return false
	}
	return abs == w.path || strings.HasPrefix(abs, w.path+"-")
}

func (w *FileWatcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if !w.Matches(event.Name) {
				continue
			}
			select {
			case w.events <- struct{}{}:
			default:
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			common.LogWarn("File watcher error", common.Fields{"path": w.path, "error": err.Error()})
		}
	}
}

func (w *FileWatcher) debounceLoop(ctx context.Context) {
	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-w.events:
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			w.handler(ctx)
		}
	}
}
