package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"relative base url", func(c *Config) { c.Service.BaseURL = "seedr.cc" }, "base_url"},
		{"ftp base url", func(c *Config) { c.Service.BaseURL = "ftp://seedr.cc" }, "base_url"},
		{"empty client id", func(c *Config) { c.Service.ClientID = "" }, "client_id"},
		{"relative token path", func(c *Config) { c.Service.TokenPath = "oauth/token" }, "token_path"},
		{"unknown method", func(c *Config) { c.Auth.Method = "cookie" }, "method"},
		{"short poll timeout", func(c *Config) { c.Auth.PollTimeout = "1s" }, "poll_timeout"},
		{"bad duration", func(c *Config) { c.Auth.MaxPollInterval = "soon" }, "max_poll_interval"},
		{"slow down factor of one", func(c *Config) { c.Auth.SlowDownFactor = 1 }, "slow_down_factor"},
		{"zero pollers", func(c *Config) { c.Auth.MaxConcurrentPolls = 0 }, "max_concurrent_polls"},
		{"negative retries", func(c *Config) { c.Network.MaxRetries = -1 }, "max_retries"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "redis" }, "backend"},
		{"keyring without service", func(c *Config) {
			c.Storage.Backend = BackendKeyring
			c.Storage.KeyringService = ""
		}, "keyring_service"},
		{"log level", func(c *Config) { c.Logging.LogLevel = "trace" }, "log_level"},
		{"log format", func(c *Config) { c.Logging.LogFormat = "xml" }, "log_format"},
		{"retention", func(c *Config) { c.Logging.LogRetentionDays = 0 }, "log_retention_days"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.field)
			}
		})
	}
}

func TestValidate_AcceptsHTTPForLocalTesting(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Service.BaseURL = "http://127.0.0.1:8080"

	assert.NoError(t, Validate(cfg))
}
