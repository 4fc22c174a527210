package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig   = "SEEDR_GO_CONFIG"
	EnvLogLevel = "SEEDR_GO_LOG_LEVEL"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // SEEDR_GO_CONFIG: override config file path
	LogLevel   string // SEEDR_GO_LOG_LEVEL: override [logging] log_level
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies them.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		LogLevel:   os.Getenv(EnvLogLevel),
	}
}
