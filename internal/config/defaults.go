package config

import "path/filepath"

// Default values for configuration options: layer 0 of the override chain.
const (
	defaultBaseURL            = "https://www.seedr.cc"
	defaultClientID           = "seedr_chrome"
	defaultDeviceCodePath     = "/oauth/device/code"
	defaultTokenPath          = "/oauth/token"
	defaultFolderPath         = "/api/folder"
	defaultDeviceGrantType    = "device_code"
	defaultAuthMethod         = MethodDevice
	defaultPollTimeout        = "30m"
	defaultSlowDownFactor     = 1.5
	defaultMaxPollInterval    = "60s"
	defaultMaxConcurrentPolls = 16
	defaultTimeout            = "30s"
	defaultMaxRetries         = 3
	defaultBackend            = BackendFile
	defaultKeyringService     = "seedr-go"
	defaultLogLevel           = "info"
	defaultLogFormat          = "auto"
	defaultLogRetentionDays   = 30

	tokenDirName = "tokens"
	dbFileName   = "tokens.db"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields keep defaults.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			BaseURL:         defaultBaseURL,
			ClientID:        defaultClientID,
			DeviceCodePath:  defaultDeviceCodePath,
			TokenPath:       defaultTokenPath,
			FolderPath:      defaultFolderPath,
			DeviceGrantType: defaultDeviceGrantType,
		},
		Auth: AuthConfig{
			Method:             defaultAuthMethod,
			PollTimeout:        defaultPollTimeout,
			SlowDownFactor:     defaultSlowDownFactor,
			MaxPollInterval:    defaultMaxPollInterval,
			MaxConcurrentPolls: defaultMaxConcurrentPolls,
		},
		Network: NetworkConfig{
			Timeout:    defaultTimeout,
			MaxRetries: defaultMaxRetries,
		},
		Storage: StorageConfig{
			Backend:        defaultBackend,
			KeyringService: defaultKeyringService,
		},
		Logging: LoggingConfig{
			LogLevel:         defaultLogLevel,
			LogFormat:        defaultLogFormat,
			LogRetentionDays: defaultLogRetentionDays,
		},
	}
}

// fillStoragePaths resolves empty storage paths under the data directory
// and expands a leading ~ in configured ones.
func fillStoragePaths(s *StorageConfig) {
	dataDir := DefaultDataDir()

	if s.TokenDir == "" && dataDir != "" {
		s.TokenDir = filepath.Join(dataDir, tokenDirName)
	}

	if s.DBPath == "" && dataDir != "" {
		s.DBPath = filepath.Join(dataDir, dbFileName)
	}

	s.TokenDir = expandTilde(s.TokenDir)
	s.DBPath = expandTilde(s.DBPath)
}
