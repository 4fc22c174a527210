package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/seedr-go/internal/accounts"
	"github.com/tonimelisma/seedr-go/internal/config"
	"github.com/tonimelisma/seedr-go/internal/seedr"
	"github.com/tonimelisma/seedr-go/internal/session"
	"github.com/tonimelisma/seedr-go/internal/tokendb"
	"github.com/tonimelisma/seedr-go/internal/tokenfile"
	"github.com/tonimelisma/seedr-go/internal/tokenkeyring"
)

// App holds the wired account manager for one CLI invocation.
type App struct {
	Manager *accounts.Manager
	Logger  *slog.Logger

	closeStore func() error
}

// newApp wires transport, flows, token storage, and the account manager
// from the resolved configuration.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	persister, closeStore, err := openPersister(ctx, &cfg.Storage, logger)
	if err != nil {
		return nil, err
	}

	retries := cfg.Network.MaxRetries
	if retries == 0 {
		retries = -1 // the transport treats 0 as "use the default"
	}

	tr := seedr.NewTransport(cfg.Service.BaseURL, seedr.Endpoints{
		DeviceCode: cfg.Service.DeviceCodePath,
		Token:      cfg.Service.TokenPath,
		Folder:     cfg.Service.FolderPath,
	}, nil, seedr.TransportOptions{
		Timeout:    cfg.Network.TimeoutDuration(),
		MaxRetries: retries,
		UserAgent:  userAgent(cfg.Service.UserAgent),
	}, logger)

	device := seedr.NewDeviceFlow(tr, seedr.FlowConfig{
		ClientID:        cfg.Service.ClientID,
		DeviceGrantType: cfg.Service.DeviceGrantType,
		PollTimeout:     cfg.Auth.PollTimeoutDuration(),
		SlowDownFactor:  cfg.Auth.SlowDownFactor,
		MaxPollInterval: cfg.Auth.MaxPollIntervalDuration(),
	}, logger)

	registry := session.NewRegistry(persister, seedr.NewTokenRefresher(tr, cfg.Service.ClientID), logger)

	m := accounts.NewManager(registry, device,
		seedr.NewCredentialFlow(tr, cfg.Service.ClientID, logger),
		tr, accounts.Options{MaxConcurrentPolls: cfg.Auth.MaxConcurrentPolls}, logger)

	return &App{Manager: m, Logger: logger, closeStore: closeStore}, nil
}

// Close stops the manager and releases token storage.
func (a *App) Close() error {
	a.Manager.Close()

	if a.closeStore == nil {
		return nil
	}

	return a.closeStore()
}

// openPersister selects the token backend named by [storage] backend. The
// memory backend has no persister: tokens live for one invocation only.
func openPersister(
	ctx context.Context, sc *config.StorageConfig, logger *slog.Logger,
) (session.TokenPersister, func() error, error) {
	switch sc.Backend {
	case config.BackendFile:
		return tokenfile.NewDir(sc.TokenDir, logger), nil, nil
	case config.BackendSQLite:
		db, err := tokendb.Open(ctx, sc.DBPath, logger)
		if err != nil {
			return nil, nil, err
		}

		return db, db.Close, nil
	case config.BackendKeyring:
		return tokenkeyring.New(sc.KeyringService, logger), nil, nil
	case config.BackendMemory:
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
	}
}

func userAgent(configured string) string {
	if configured != "" {
		return configured
	}

	return "seedr-go/" + version
}

// withApp loads the app for a command, runs fn, and closes the app.
func withApp(ctx context.Context, fn func(*App) error) error {
	app, err := newApp(ctx, resolvedCfg, buildLogger())
	if err != nil {
		return err
	}

	defer func() {
		if cerr := app.Close(); cerr != nil {
			app.Logger.Warn("closing token storage", slog.String("error", cerr.Error()))
		}
	}()

	return fn(app)
}
