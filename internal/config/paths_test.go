package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPaths_UnderAppDir(t *testing.T) {
	assert.Equal(t, appName, filepath.Base(DefaultConfigDir()))
	assert.Equal(t, appName, filepath.Base(DefaultDataDir()))
	assert.Equal(t, filepath.Join(DefaultConfigDir(), "config.toml"), DefaultConfigPath())
}

func TestDefaultPaths_XDGOverrides(t *testing.T) {
	if runtime.GOOS != platformLinux {
		t.Skip("XDG variables apply on Linux only")
	}

	t.Setenv("XDG_CONFIG_HOME", "/xdg/config")
	t.Setenv("XDG_DATA_HOME", "/xdg/data")

	assert.Equal(t, "/xdg/config/seedr-go", DefaultConfigDir())
	assert.Equal(t, "/xdg/data/seedr-go", DefaultDataDir())
}

func TestDefaultPaths_XDGUnset(t *testing.T) {
	if runtime.GOOS != platformLinux {
		t.Skip("XDG variables apply on Linux only")
	}

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_DATA_HOME", "")

	assert.Equal(t, filepath.Join(home, ".config", appName), DefaultConfigDir())
	assert.Equal(t, filepath.Join(home, ".local", "share", appName), DefaultDataDir())
}

func TestExpandTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "tokens"), expandTilde("~/tokens"))
	assert.Equal(t, "/abs/tokens", expandTilde("/abs/tokens"))
	assert.Equal(t, "~user/x", expandTilde("~user/x"))
}
