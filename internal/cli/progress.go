package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/Veraticus/cellflow/internal/model"
	"github.com/Veraticus/cellflow/internal/propagation"
	"github.com/Veraticus/cellflow/internal/scheduler"
	"github.com/Veraticus/cellflow/internal/subscription"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Progress is a hub observer that drives a terminal progress bar.
type Progress struct {
	hub    *propagation.Hub
	bar    *progressbar.ProgressBar
	handle propagation.Handle
	mu     sync.Mutex
	total  int
}

// TrackValidation shows a bar that fills as cells receive a status. The
// hub's statuses should be cleared before the run starts.
func TrackValidation(hub *propagation.Hub, w io.Writer) (*Progress, error) {
	ds := hub.Dataset()
	total := ds.RowCount() * len(ds.Columns())
	p := &Progress{hub: hub, total: total, bar: newBar(w, total, "Validating cells...")}

	handle, err := hub.Register(scheduler.ObserverFunc(func(model.ChangeSummary) error {
		checked := 0
		for _, n := range hub.StatusCounts() {
			checked += n
		}
		p.set(checked)
		return nil
	}), subscription.CellStatus())
	if err != nil {
		return nil, err
	}
	p.handle = handle
	return p, nil
}

// TrackCorrection shows an open-ended bar that counts rewritten cells.
func TrackCorrection(hub *propagation.Hub, w io.Writer) (*Progress, error) {
	p := &Progress{hub: hub, total: -1, bar: newBar(w, -1, "Correcting cells...")}

	changed := 0
	handle, err := hub.Register(scheduler.ObserverFunc(func(s model.ChangeSummary) error {
		changed += len(s.Cells)
		p.set(changed)
		return nil
	}), subscription.Everything())
	if err != nil {
		return nil, err
	}
	p.handle = handle
	return p, nil
}

func (p *Progress) set(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar == nil {
		return
	}
	if err := p.bar.Set(n); err != nil {
		slog.Warn("Failed to update progress bar", "error", err)
	}
}

// Finish unregisters the observer and completes the bar.
func (p *Progress) Finish() {
	p.hub.Unregister(p.handle)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar == nil {
		return
	}
	if p.total >= 0 {
		_ = p.bar.Set(p.total)
	}
	if err := p.bar.Finish(); err != nil {
		slog.Warn("Failed to finish progress bar", "error", err)
	}
	p.bar = nil
}

// newBar returns nil when w is not a terminal.
func newBar(w io.Writer, total int, description string) *progressbar.ProgressBar {
	if !IsTerminal(w) {
		return nil
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]"+description+"[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprintln(w); err != nil {
				slog.Warn("Failed to write newline after progress bar", "error", err)
			}
		}),
	)
}
