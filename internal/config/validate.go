package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validation range constants.
const (
	minPollTimeout     = 10 * time.Second
	minMaxPollInterval = 1 * time.Second
	minTimeout         = 1 * time.Second
	minSlowDownFactor  = 1.0
	maxSlowDownFactor  = 10.0
	minConcurrentPolls = 1
	maxConcurrentPolls = 1024
	maxRetriesLimit    = 10
	minLogRetention    = 1
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateService(&cfg.Service)...)
	errs = append(errs, validateAuth(&cfg.Auth)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateService(s *ServiceConfig) []error {
	var errs []error

	u, err := url.Parse(s.BaseURL)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("base_url: %w", err))
	case u.Scheme != "https" && u.Scheme != "http":
		errs = append(errs, fmt.Errorf("base_url: must be an http(s) URL, got %q", s.BaseURL))
	case u.Host == "":
		errs = append(errs, fmt.Errorf("base_url: missing host in %q", s.BaseURL))
	}

	if s.ClientID == "" {
		errs = append(errs, errors.New("client_id: must not be empty"))
	}

	if s.DeviceGrantType == "" {
		errs = append(errs, errors.New("device_grant_type: must not be empty"))
	}

	errs = append(errs, validatePath("device_code_path", s.DeviceCodePath)...)
	errs = append(errs, validatePath("token_path", s.TokenPath)...)
	errs = append(errs, validatePath("folder_path", s.FolderPath)...)

	return errs
}

func validatePath(field, value string) []error {
	if !strings.HasPrefix(value, "/") {
		return []error{fmt.Errorf("%s: must start with /, got %q", field, value)}
	}

	return nil
}

var validAuthMethods = map[string]bool{
	MethodDevice:      true,
	MethodCredentials: true,
}

func validateAuth(a *AuthConfig) []error {
	var errs []error

	if !validAuthMethods[a.Method] {
		errs = append(errs, fmt.Errorf("method: must be one of device, credentials; got %q", a.Method))
	}

	errs = append(errs, validateDurationMin("poll_timeout", a.PollTimeout, minPollTimeout)...)
	errs = append(errs, validateDurationMin("max_poll_interval", a.MaxPollInterval, minMaxPollInterval)...)

	if a.SlowDownFactor <= minSlowDownFactor || a.SlowDownFactor > maxSlowDownFactor {
		errs = append(errs, fmt.Errorf("slow_down_factor: must be > %.0f and <= %.0f, got %g",
			minSlowDownFactor, maxSlowDownFactor, a.SlowDownFactor))
	}

	if a.MaxConcurrentPolls < minConcurrentPolls || a.MaxConcurrentPolls > maxConcurrentPolls {
		errs = append(errs, fmt.Errorf("max_concurrent_polls: must be between %d and %d, got %d",
			minConcurrentPolls, maxConcurrentPolls, a.MaxConcurrentPolls))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("timeout", n.Timeout, minTimeout)...)

	if n.MaxRetries < 0 || n.MaxRetries > maxRetriesLimit {
		errs = append(errs, fmt.Errorf("max_retries: must be between 0 and %d, got %d", maxRetriesLimit, n.MaxRetries))
	}

	return errs
}

var validBackends = map[string]bool{
	BackendFile:    true,
	BackendSQLite:  true,
	BackendKeyring: true,
	BackendMemory:  true,
}

func validateStorage(s *StorageConfig) []error {
	if !validBackends[s.Backend] {
		return []error{fmt.Errorf("backend: must be one of file, sqlite, keyring, memory; got %q", s.Backend)}
	}

	if s.Backend == BackendKeyring && s.KeyringService == "" {
		return []error{errors.New("keyring_service: must not be empty with the keyring backend")}
	}

	return nil
}

// validateDuration checks that a duration string is valid and meets a minimum.
func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	if err := validateDuration(field, value, minimum); err != nil {
		return []error{err}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	if l.LogRetentionDays < minLogRetention {
		errs = append(errs, fmt.Errorf("log_retention_days: must be >= %d, got %d", minLogRetention, l.LogRetentionDays))
	}

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}
