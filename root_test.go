package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/seedr-go/internal/config"
	"github.com/tonimelisma/seedr-go/internal/seedr"
	"github.com/tonimelisma/seedr-go/internal/tokenfile"
)

// isolate points every config and data lookup at a temp dir and resets the
// package-level flag state between command runs.
func isolate(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv(config.EnvConfig, "")
	t.Setenv(config.EnvLogLevel, "")

	t.Cleanup(func() {
		resolvedCfg = nil
		resolvedPath = ""
		flagVerbose = false
		flagQuiet = false
	})

	return dir
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()

	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func execute(args ...string) error {
	cmd := newRootCmd()
	cmd.SetArgs(args)

	return cmd.ExecuteContext(context.Background())
}

func TestUseJSON(t *testing.T) {
	assert.True(t, useJSON("json", true))
	assert.False(t, useJSON("text", false))
	assert.False(t, useJSON("auto", true))
	assert.True(t, useJSON("auto", false))
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	}

	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), "level %q", in)
	}
}

func TestBuildLogger_FlagsOverrideConfig(t *testing.T) {
	isolate(t)

	resolvedCfg = config.DefaultConfig()
	resolvedCfg.Logging.LogLevel = "warn"

	ctx := context.Background()

	logger := buildLogger()
	assert.False(t, logger.Enabled(ctx, slog.LevelInfo))
	assert.True(t, logger.Enabled(ctx, slog.LevelWarn))

	flagVerbose = true
	assert.True(t, buildLogger().Enabled(ctx, slog.LevelDebug))

	flagVerbose = false
	flagQuiet = true
	assert.False(t, buildLogger().Enabled(ctx, slog.LevelWarn))
}

func TestBuildLogger_LogFile(t *testing.T) {
	dir := isolate(t)

	resolvedCfg = config.DefaultConfig()
	resolvedCfg.Logging.LogFile = filepath.Join(dir, "logs", "seedr-go.log")

	buildLogger().Info("hello", "k", "v")

	data, err := os.ReadFile(resolvedCfg.Logging.LogFile)
	require.NoError(t, err)
	// A file is never a terminal, so "auto" picks JSON.
	assert.Contains(t, string(data), `"msg":"hello"`)
}

func TestLoadConfig_OverrideChain(t *testing.T) {
	dir := isolate(t)
	path := writeConfig(t, dir, "[logging]\nlog_level = \"debug\"\n[storage]\nbackend = \"sqlite\"\n")

	require.NoError(t, execute("--config", path, "--storage", "memory", "config", "show", "--json"))

	require.NotNil(t, resolvedCfg)
	assert.Equal(t, path, resolvedPath)
	assert.Equal(t, "debug", resolvedCfg.Logging.LogLevel)
	assert.Equal(t, config.BackendMemory, resolvedCfg.Storage.Backend)
}

func TestLoadConfig_EnvPath(t *testing.T) {
	dir := isolate(t)
	path := writeConfig(t, dir, "[network]\nmax_retries = 5\n")
	t.Setenv(config.EnvConfig, path)

	require.NoError(t, execute("config", "show"))
	assert.Equal(t, 5, resolvedCfg.Network.MaxRetries)
}

func TestLoadConfig_Errors(t *testing.T) {
	dir := isolate(t)

	err := execute("--storage", "floppy", "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading config")

	path := writeConfig(t, dir, "[auth]\npoll_timout = \"5m\"\n")
	err = execute("--config", path, "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poll_timeout")
}

func TestCommands_RequireLogin(t *testing.T) {
	isolate(t)

	err := execute("--storage", "memory", "ls")
	require.ErrorIs(t, err, seedr.ErrAuthRequired)
}

func TestCommands_UseSavedToken(t *testing.T) {
	dir := isolate(t)

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		if r.URL.Query().Get("access_token") != "acc-cli" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":0,"folders":[],"files":[{"id":7,"name":"a.mkv","url":"https://dl/u7"}]}`))
	}))
	t.Cleanup(srv.Close)

	tokenDir := filepath.Join(dir, "tokens")
	path := writeConfig(t, dir, fmt.Sprintf(
		"[service]\nbase_url = %q\n[storage]\nbackend = \"file\"\ntoken_dir = %q\n", srv.URL, tokenDir))

	require.NoError(t, tokenfile.NewDir(tokenDir, nil).SaveToken(context.Background(), "alice", &oauth2.Token{
		AccessToken:  "acc-cli",
		RefreshToken: "ref-cli",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	}))

	require.NoError(t, execute("--config", path, "--user", "alice", "-q", "link", "7"))
	assert.Equal(t, int32(1), calls.Load())

	err := execute("--config", path, "--user", "bob", "-q", "link", "7")
	require.ErrorIs(t, err, seedr.ErrAuthRequired)
	assert.Equal(t, int32(1), calls.Load())
}
