package tui

import (
	"context"
	"errors"

	"github.com/Veraticus/cellflow/internal/common"
	"github.com/Veraticus/cellflow/internal/model"
	"github.com/Veraticus/cellflow/internal/propagation"
	"github.com/Veraticus/cellflow/internal/tui/themes"
	"github.com/Veraticus/cellflow/internal/validation"
)

// Config holds TUI configuration.
type Config struct {
	Theme     themes.Theme
	Hub       *propagation.Hub
	Rules     propagation.RuleSource
	Validator validation.Validator
	// OnValidated and OnCorrected run after a run finishes, before the
	// result is shown. Saving results to storage happens here.
	OnValidated func(context.Context, model.ValidationReport) error
	OnCorrected func(context.Context, *model.CorrectionReport) error
	Title       string
	Width       int
	Height      int
}

// Option is a functional option for configuring the TUI.
type Option func(*Config)

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		Theme:  themes.Default,
		Title:  "cellflow",
		Width:  80,
		Height: 24,
	}
}

// WithTheme sets the color theme.
func WithTheme(theme themes.Theme) Option {
	return func(c *Config) { c.Theme = theme }
}

// WithHub sets the hub the grid observes.
func WithHub(hub *propagation.Hub) Option {
	return func(c *Config) { c.Hub = hub }
}

// WithRules sets where correction rules are loaded from.
func WithRules(rules propagation.RuleSource) Option {
	return func(c *Config) { c.Rules = rules }
}

// WithValidator sets the validator used by validation runs.
func WithValidator(v validation.Validator) Option {
	return func(c *Config) { c.Validator = v }
}

// WithTitle sets the header title.
func WithTitle(title string) Option {
	return func(c *Config) { c.Title = title }
}

// WithSize sets the initial size used before the terminal reports its own.
func WithSize(width, height int) Option {
	return func(c *Config) {
		c.Width = width
		c.Height = height
	}
}

// WithResultHooks sets the callbacks run after validation and correction.
func WithResultHooks(
	validated func(context.Context, model.ValidationReport) error,
	corrected func(context.Context, *model.CorrectionReport) error,
) Option {
	return func(c *Config) {
		c.OnValidated = validated
		c.OnCorrected = corrected
	}
}

func (c Config) validate() error {
	if c.Hub == nil {
		return common.NewConfigurationError("tui", errors.New("hub is required"))
	}
	return nil
}
