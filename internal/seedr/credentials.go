package seedr

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/oauth2"
)

// CredentialFlow exchanges a username and password for a token in a single
// request. It never retries and never keeps the credentials.
type CredentialFlow struct {
	transport *Transport
	clientID  string
	logger    *slog.Logger
}

// NewCredentialFlow creates a password-grant flow over the shared transport.
func NewCredentialFlow(transport *Transport, clientID string, logger *slog.Logger) *CredentialFlow {
	if logger == nil {
		logger = slog.Default()
	}

	if clientID == "" {
		clientID = DefaultClientID
	}

	return &CredentialFlow{
		transport: transport,
		clientID:  clientID,
		logger:    logger,
	}
}

// Login performs the password grant. Any non-2xx answer is ErrAuthDenied
// with the remote status and reason; an unreachable service is
// ErrAuthService.
func (f *CredentialFlow) Login(ctx context.Context, username, password string) (*oauth2.Token, error) {
	const op = "password login"

	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, fmt.Errorf("seedr: %s: username and password are required: %w", op, ErrInvalidInput)
	}

	f.logger.Info("exchanging credentials for token")

	cfg := f.transport.OAuthConfig(f.clientID)

	tok, err := cfg.PasswordCredentialsToken(f.transport.OAuthContext(ctx), username, password)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("seedr: %s canceled: %w", op, ctx.Err())
		}

		authErr := retrieveAuthError(op, err, ErrAuthDenied)

		f.logger.Warn("credential login failed", slog.String("error", authErr.Error()))

		return nil, authErr
	}

	f.logger.Info("credential login succeeded",
		slog.Time("expiry", tok.Expiry),
		slog.Bool("has_refresh_token", tok.RefreshToken != ""),
	)

	return tok, nil
}
