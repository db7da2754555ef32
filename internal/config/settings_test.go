package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/cellflow/internal/common"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", "/home/tester")

	s, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "/home/tester/.local/share/cellflow/cellflow.db", s.Database.Path)
	assert.Equal(t, 30*time.Millisecond, s.Engine.DebounceWindow)
	assert.Equal(t, 100, s.Engine.ChunkSize)
	assert.Equal(t, 10, s.Engine.MaxIterations)
	assert.False(t, s.Engine.OnlyInvalid)
	assert.Empty(t, s.Engine.CorrectableColumns)
	assert.Equal(t, "info", s.Logging.Level)
	assert.Equal(t, "default", s.Database.Dataset)
	assert.Equal(t, "default", s.UI.Theme)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  path: /tmp/cells.db
engine:
  debounce_window: 50ms
  chunk_size: 25
  max_iterations: 5
  only_invalid: true
  correctable_columns: [Player, Source]
validation:
  - column: Player
    allowed: ["John Smith"]
    required: true
`), 0o600))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	s, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/cells.db", s.Database.Path)
	assert.Equal(t, 50*time.Millisecond, s.Engine.DebounceWindow)
	assert.Equal(t, 25, s.Engine.ChunkSize)
	assert.True(t, s.Engine.OnlyInvalid)
	assert.Equal(t, []string{"Player", "Source"}, s.CorrectionConfig().CorrectableColumns)

	rs, err := s.Validator()
	require.NoError(t, err)
	assert.False(t, rs.Validate("Player", "JohnSmiht"))
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  any
	}{
		{name: "zero chunk size", key: "engine.chunk_size", val: 0},
		{name: "negative window", key: "engine.debounce_window", val: "-1s"},
		{name: "huge iteration cap", key: "engine.max_iterations", val: 5000},
		{name: "unknown log format", key: "logging.format", val: "xml"},
		{name: "unknown theme", key: "ui.theme", val: "neon"},
		{name: "empty dataset", key: "database.dataset", val: ""},
		{name: "bad pattern", key: "validation", val: []any{map[string]any{"column": "Score", "pattern": "("}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			v.Set(tt.key, tt.val)

			_, err := Load(v)
			require.Error(t, err)
			assert.True(t, common.IsConfigurationError(err))
		})
	}
}

func TestExpandPath(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	t.Setenv("CELLFLOW_DIR", "/data")

	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: "~", want: "/home/tester"},
		{in: "~/cells.db", want: "/home/tester/cells.db"},
		{in: "$CELLFLOW_DIR/cells.db", want: "/data/cells.db"},
		{in: "/abs/path", want: "/abs/path"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpandPath(tt.in))
		})
	}
}
