package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as an annotated summary
// to w. It backs the "config show" command.
func RenderEffective(cfg *Config, path string, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", path)

	renderServiceSection(ew, &cfg.Service)
	renderAuthSection(ew, &cfg.Auth)
	renderNetworkSection(ew, &cfg.Network)
	renderStorageSection(ew, &cfg.Storage)
	renderLoggingSection(ew, &cfg.Logging)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderServiceSection(ew *errWriter, s *ServiceConfig) {
	ew.printf("[service]\n")
	ew.printf("  base_url          = %q\n", s.BaseURL)
	ew.printf("  client_id         = %q\n", s.ClientID)
	ew.printf("  device_code_path  = %q\n", s.DeviceCodePath)
	ew.printf("  token_path        = %q\n", s.TokenPath)
	ew.printf("  folder_path       = %q\n", s.FolderPath)
	ew.printf("  device_grant_type = %q\n", s.DeviceGrantType)

	if s.UserAgent != "" {
		ew.printf("  user_agent        = %q\n", s.UserAgent)
	}

	ew.printf("\n")
}

func renderAuthSection(ew *errWriter, a *AuthConfig) {
	ew.printf("[auth]\n")
	ew.printf("  method               = %q\n", a.Method)
	ew.printf("  poll_timeout         = %q\n", a.PollTimeout)
	ew.printf("  slow_down_factor     = %g\n", a.SlowDownFactor)
	ew.printf("  max_poll_interval    = %q\n", a.MaxPollInterval)
	ew.printf("  max_concurrent_polls = %d\n", a.MaxConcurrentPolls)
	ew.printf("\n")
}

func renderNetworkSection(ew *errWriter, n *NetworkConfig) {
	ew.printf("[network]\n")
	ew.printf("  timeout     = %q\n", n.Timeout)
	ew.printf("  max_retries = %d\n", n.MaxRetries)
	ew.printf("\n")
}

func renderStorageSection(ew *errWriter, s *StorageConfig) {
	ew.printf("[storage]\n")
	ew.printf("  backend = %q\n", s.Backend)

	switch s.Backend {
	case BackendFile:
		ew.printf("  token_dir = %q\n", s.TokenDir)
	case BackendSQLite:
		ew.printf("  db_path = %q\n", s.DBPath)
	case BackendKeyring:
		ew.printf("  keyring_service = %q\n", s.KeyringService)
	}

	ew.printf("\n")
}

func renderLoggingSection(ew *errWriter, l *LoggingConfig) {
	ew.printf("[logging]\n")
	ew.printf("  log_level          = %q\n", l.LogLevel)

	if l.LogFile != "" {
		ew.printf("  log_file           = %q\n", l.LogFile)
	}

	ew.printf("  log_format         = %q\n", l.LogFormat)
	ew.printf("  log_retention_days = %d\n", l.LogRetentionDays)
}
