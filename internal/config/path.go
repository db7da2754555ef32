// Package config loads cellflow settings from viper.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// DefaultDatabasePath is where the SQLite database lives when unconfigured.
const DefaultDatabasePath = "$HOME/.local/share/cellflow/cellflow.db"

// DefaultDataset names the dataset commands use when none is given.
const DefaultDataset = "default"

// ExpandPath expands a leading ~ and any $VAR references in path.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}

	return os.ExpandEnv(path)
}
