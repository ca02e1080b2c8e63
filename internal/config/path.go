// Package config maps viper settings onto the engine's typed configuration.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandPath expands a leading ~ and $VAR style environment variables in a
// file path.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			path = home
		}
	}

	return os.ExpandEnv(path)
}

// DefaultDatabasePath is where the receipt database lives unless configured
// otherwise.
func DefaultDatabasePath() string {
	return ExpandPath("$HOME/.local/share/matchbook/matchbook.db")
}
