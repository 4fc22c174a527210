package seedr

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// OAuthConfig builds the oauth2 configuration for the Seedr token endpoints.
// Seedr's public clients have no secret, so credentials go in the form body.
func (t *Transport) OAuthConfig(clientID string) *oauth2.Config {
	return &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{
			DeviceAuthURL: t.URL(t.endpoints.DeviceCode),
			TokenURL:      t.URL(t.endpoints.Token),
			AuthStyle:     oauth2.AuthStyleInParams,
		},
	}
}

// OAuthContext returns ctx carrying the transport's HTTP client, so oauth2
// calls share its timeout and User-Agent.
func (t *Transport) OAuthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, t.plain)
}

// TokenRefresher exchanges a refresh token for a new access token.
type TokenRefresher struct {
	transport *Transport
	clientID  string
}

// NewTokenRefresher creates a refresher for the given client id.
func NewTokenRefresher(transport *Transport, clientID string) *TokenRefresher {
	if clientID == "" {
		clientID = DefaultClientID
	}

	return &TokenRefresher{transport: transport, clientID: clientID}
}

// Refresh returns a fresh token for tok. A refresh the service rejects is
// ErrAuthRequired: the user has to sign in again. Other failures are
// ErrAuthService and leave tok usable for a later attempt.
func (r *TokenRefresher) Refresh(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error) {
	const op = "refresh token"

	if tok == nil || tok.RefreshToken == "" {
		return nil, &AuthError{Op: op, Reason: "no_refresh_token", Err: ErrAuthRequired}
	}

	// Force the exchange: the oauth2 source would hand back a still-valid
	// token unchanged.
	stale := &oauth2.Token{RefreshToken: tok.RefreshToken}

	fresh, err := r.transport.OAuthConfig(r.clientID).TokenSource(r.transport.OAuthContext(ctx), stale).Token()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("seedr: %s canceled: %w", op, ctx.Err())
		}

		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			if re.Response != nil && (re.Response.StatusCode >= http.StatusInternalServerError ||
				re.Response.StatusCode == http.StatusTooManyRequests) {
				return nil, retrieveAuthError(op, err, ErrAuthService)
			}

			return nil, retrieveAuthError(op, err, ErrAuthRequired)
		}

		return nil, &AuthError{Op: op, Err: ErrAuthService, Cause: scrubURLError(err)}
	}

	// Some servers omit the refresh token when it was not rotated.
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = tok.RefreshToken
	}

	return fresh, nil
}
