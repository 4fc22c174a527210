package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	platformLinux  = "linux"
	platformDarwin = "darwin"

	appName        = "seedr-go"
	configFileName = "config.toml"
)

// xdgDir resolves an XDG base directory for seedr-go: the env var when set
// on Linux, otherwise fallback under the home directory. macOS keeps both
// config and data in Application Support. Returns "" without a home dir.
func xdgDir(envVar string, fallback ...string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	if runtime.GOOS == platformDarwin {
		return filepath.Join(home, "Library", "Application Support", appName)
	}

	if runtime.GOOS == platformLinux {
		if base := os.Getenv(envVar); base != "" {
			return filepath.Join(base, appName)
		}
	}

	return filepath.Join(append(append([]string{home}, fallback...), appName)...)
}

// DefaultConfigDir is $XDG_CONFIG_HOME/seedr-go, ~/.config/seedr-go when
// unset.
func DefaultConfigDir() string {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// DefaultDataDir holds token files and the token database:
// $XDG_DATA_HOME/seedr-go, ~/.local/share/seedr-go when unset.
func DefaultDataDir() string {
	return xdgDir("XDG_DATA_HOME", ".local", "share")
}

// DefaultConfigPath is the config file read when neither SEEDR_GO_CONFIG nor
// --config names one.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

func expandTilde(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, rest)
}
