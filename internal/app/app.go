package app

import (
	"os"
	"path/filepath"
)

const (
	// DefaultHomeDirName is created under the user's home directory.
	DefaultHomeDirName = ".relaychat"
	// ConfigFileName is read from the home directory.
	ConfigFileName = "config.toml"
)

// ResolveHome returns home, or ~/.relaychat when home is empty, and makes
// sure the directory exists with owner-only permissions.
func ResolveHome(home string) (string, error) {
	if home == "" {
		dir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		home = filepath.Join(dir, DefaultHomeDirName)
	}
	if err := os.MkdirAll(home, 0o700); err != nil {
		return "", err
	}
	return home, nil
}
