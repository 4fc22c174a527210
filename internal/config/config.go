// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for seedr-go. Values resolve through a
// four-layer override chain: defaults -> config file -> environment -> CLI
// flags.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Service ServiceConfig `toml:"service"`
	Auth    AuthConfig    `toml:"auth"`
	Network NetworkConfig `toml:"network"`
	Storage StorageConfig `toml:"storage"`
	Logging LoggingConfig `toml:"logging"`
}

// ServiceConfig locates the Seedr API and identifies this client to it.
type ServiceConfig struct {
	BaseURL         string `toml:"base_url"`
	ClientID        string `toml:"client_id"`
	DeviceCodePath  string `toml:"device_code_path"`
	TokenPath       string `toml:"token_path"`
	FolderPath      string `toml:"folder_path"`
	DeviceGrantType string `toml:"device_grant_type"`
	UserAgent       string `toml:"user_agent"`
}

// AuthConfig controls sign-in: the default method and the device polling
// policy.
type AuthConfig struct {
	Method             string  `toml:"method"`
	PollTimeout        string  `toml:"poll_timeout"`
	SlowDownFactor     float64 `toml:"slow_down_factor"`
	MaxPollInterval    string  `toml:"max_poll_interval"`
	MaxConcurrentPolls int     `toml:"max_concurrent_polls"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	Timeout    string `toml:"timeout"`
	MaxRetries int    `toml:"max_retries"`
}

// StorageConfig selects where tokens are kept between runs. Empty paths
// resolve under the platform data directory.
type StorageConfig struct {
	Backend        string `toml:"backend"`
	TokenDir       string `toml:"token_dir"`
	DBPath         string `toml:"db_path"`
	KeyringService string `toml:"keyring_service"`
}

// LoggingConfig controls log output behavior: level, format, and rotation.
type LoggingConfig struct {
	LogLevel         string `toml:"log_level"`
	LogFile          string `toml:"log_file"`
	LogFormat        string `toml:"log_format"`
	LogRetentionDays int    `toml:"log_retention_days"`
}

// CLIOverrides holds values from CLI flags. Pointer fields distinguish
// "not specified" (nil) from an explicit value.
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	LogLevel   *string // --log-level flag
	Backend    *string // --storage flag
}

// Storage backends.
const (
	BackendFile    = "file"
	BackendSQLite  = "sqlite"
	BackendKeyring = "keyring"
	BackendMemory  = "memory"
)

// Sign-in methods.
const (
	MethodDevice      = "device"
	MethodCredentials = "credentials"
)

// PollTimeoutDuration returns the parsed poll ceiling. Validate has already
// rejected malformed values.
func (a *AuthConfig) PollTimeoutDuration() time.Duration {
	return mustDuration(a.PollTimeout)
}

// MaxPollIntervalDuration returns the parsed slow_down ceiling.
func (a *AuthConfig) MaxPollIntervalDuration() time.Duration {
	return mustDuration(a.MaxPollInterval)
}

// TimeoutDuration returns the parsed per-request timeout.
func (n *NetworkConfig) TimeoutDuration() time.Duration {
	return mustDuration(n.Timeout)
}

func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}

	return d
}
