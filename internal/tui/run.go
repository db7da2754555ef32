package tui

import (
	"context"
	"fmt"

	"github.com/Veraticus/cellflow/internal/common"
	tea "github.com/charmbracelet/bubbletea"
)

// Program is a running grid attached to a hub.
type Program struct {
	program    *tea.Program
	attachment *Attachment
	ctx        context.Context
}

// New builds the grid program and attaches it to the configured hub. Call
// Run to take over the terminal.
func New(ctx context.Context, opts ...Option) (*Program, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	p := tea.NewProgram(newModel(ctx, cfg), tea.WithAltScreen(), tea.WithContext(ctx))
	attachment, err := Attach(cfg.Hub, p)
	if err != nil {
		return nil, fmt.Errorf("failed to attach grid: %w", err)
	}
	return &Program{program: p, attachment: attachment, ctx: ctx}, nil
}

// Send forwards msg to the running program.
func (p *Program) Send(msg tea.Msg) {
	p.program.Send(msg)
}

// Run shows the grid until the user quits or ctx is canceled.
func (p *Program) Run() error {
	defer p.attachment.Detach()

	go func() {
		// Blocks until the program starts reading messages.
		if err := p.attachment.Refresh(p.ctx); err != nil {
			common.LogDebug("Initial grid refresh failed", common.Fields{"error": err.Error()})
		}
	}()

	_, err := p.program.Run()
	if err != nil && p.ctx.Err() != nil {
		return nil
	}
	return err
}
