package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/Veraticus/cellflow/internal/common"
	"github.com/Veraticus/cellflow/internal/correction"
	"github.com/Veraticus/cellflow/internal/dataset"
	"github.com/Veraticus/cellflow/internal/scheduler"
	"github.com/Veraticus/cellflow/internal/validation"
)

// Engine holds the propagation and correction policy values.
type Engine struct {
	// CorrectableColumns limits generic rules. Empty means every column.
	CorrectableColumns []string      `mapstructure:"correctable_columns"`
	DebounceWindow     time.Duration `mapstructure:"debounce_window" validate:"gte=0"`
	ChunkSize          int           `mapstructure:"chunk_size" validate:"gt=0"`
	MaxIterations      int           `mapstructure:"max_iterations" validate:"gt=0,lte=1000"`
	OnlyInvalid        bool          `mapstructure:"only_invalid"`
	Recursive          bool          `mapstructure:"recursive"`
}

// Logging configures the global slog logger.
type Logging struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=console json"`
}

// Database locates the SQLite file and the dataset commands work on by
// default.
type Database struct {
	Path    string `mapstructure:"path" validate:"required"`
	Dataset string `mapstructure:"dataset" validate:"required"`
}

// UI configures the interactive grid.
type UI struct {
	Theme         string        `mapstructure:"theme" validate:"omitempty,oneof=default catppuccin-mocha"`
	WatchDebounce time.Duration `mapstructure:"watch_debounce" validate:"gte=0"`
}

// Metrics configures the Prometheus endpoint. An empty address disables it.
type Metrics struct {
	Addr string `mapstructure:"addr" validate:"omitempty,hostname_port"`
}

// Settings is the full application configuration.
type Settings struct {
	// Validation is a list so column names keep their case; viper folds
	// map keys to lower case.
	Validation []validation.ColumnRule `mapstructure:"validation"`
	Database   Database                `mapstructure:"database"`
	Logging    Logging                 `mapstructure:"logging"`
	Metrics    Metrics                 `mapstructure:"metrics"`
	Engine     Engine                  `mapstructure:"engine"`
	UI         UI                      `mapstructure:"ui"`
}

var settingsValidate = validator.New()

// Default returns the settings used when nothing is configured.
func Default() Settings {
	return Settings{
		Database: Database{Path: DefaultDatabasePath, Dataset: DefaultDataset},
		Logging:  Logging{Level: "info", Format: "console"},
		Engine: Engine{
			DebounceWindow: scheduler.DefaultWindow,
			ChunkSize:      dataset.DefaultChunkSize,
			MaxIterations:  correction.DefaultMaxIterations,
		},
		UI: UI{Theme: "default", WatchDebounce: 200 * time.Millisecond},
	}
}

// SetDefaults registers every default with v so env vars and config files
// only need to name what they change.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.dataset", d.Database.Dataset)
	v.SetDefault("ui.theme", d.UI.Theme)
	v.SetDefault("ui.watch_debounce", d.UI.WatchDebounce)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("engine.debounce_window", d.Engine.DebounceWindow)
	v.SetDefault("engine.chunk_size", d.Engine.ChunkSize)
	v.SetDefault("engine.max_iterations", d.Engine.MaxIterations)
	v.SetDefault("engine.only_invalid", d.Engine.OnlyInvalid)
	v.SetDefault("engine.recursive", d.Engine.Recursive)
	v.SetDefault("engine.correctable_columns", d.Engine.CorrectableColumns)
}

// Load reads and validates settings from v.
func Load(v *viper.Viper) (Settings, error) {
	SetDefaults(v)

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, common.NewConfigurationError("config.Load", fmt.Errorf("%w: %w", common.ErrInvalidConfig, err))
	}
	s.Database.Path = ExpandPath(s.Database.Path)

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks field constraints and that validation patterns compile.
func (s Settings) Validate() error {
	if err := settingsValidate.Struct(s); err != nil {
		return common.NewConfigurationError("config.Validate", fmt.Errorf("%w: %w", common.ErrInvalidConfig, err))
	}
	if _, err := validation.NewRuleSet(s.Validation...); err != nil {
		return err
	}
	return nil
}

// CorrectionConfig returns the engine-wide correction settings.
func (s Settings) CorrectionConfig() correction.Config {
	return correction.Config{
		CorrectableColumns: append([]string(nil), s.Engine.CorrectableColumns...),
		ChunkSize:          s.Engine.ChunkSize,
		MaxIterations:      s.Engine.MaxIterations,
	}
}

// Validator builds the configured column validator.
func (s Settings) Validator() (*validation.RuleSet, error) {
	return validation.NewRuleSet(s.Validation...)
}
