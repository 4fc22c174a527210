// Package tokenkeyring stores per-user OAuth tokens in the operating
// system's keyring (Keychain, Secret Service, Windows Credential Manager).
package tokenkeyring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zalando/go-keyring"
	"golang.org/x/oauth2"
)

// DefaultService is the keyring service name entries are filed under.
const DefaultService = "seedr-go"

// Store is a TokenPersister backed by the OS keyring. Each user is one
// keyring account holding the token as JSON.
type Store struct {
	service string
	logger  *slog.Logger
}

// New creates a keyring store. An empty service uses DefaultService.
func New(service string, logger *slog.Logger) *Store {
	if service == "" {
		service = DefaultService
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Store{service: service, logger: logger}
}

// LoadToken returns the user's token, or (nil, nil) if none is stored.
func (s *Store) LoadToken(_ context.Context, userID string) (*oauth2.Token, error) {
	data, err := keyring.Get(s.service, userID)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("tokenkeyring: reading entry: %w", err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal([]byte(data), &tok); err != nil {
		return nil, fmt.Errorf("tokenkeyring: decoding entry: %w", err)
	}

	if tok.AccessToken == "" {
		return nil, errors.New("tokenkeyring: entry has no access token")
	}

	return &tok, nil
}

// SaveToken writes the user's token, replacing any previous entry.
func (s *Store) SaveToken(_ context.Context, userID string, tok *oauth2.Token) error {
	if tok == nil || tok.AccessToken == "" {
		return errors.New("tokenkeyring: refusing to save an empty token")
	}

	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("tokenkeyring: encoding token: %w", err)
	}

	if err := keyring.Set(s.service, userID, string(data)); err != nil {
		return fmt.Errorf("tokenkeyring: writing entry: %w", err)
	}

	s.logger.Debug("token saved to keyring",
		slog.String("service", s.service),
		slog.Time("expiry", tok.Expiry),
	)

	return nil
}

// DeleteToken removes the user's entry. A missing entry is not an error.
func (s *Store) DeleteToken(_ context.Context, userID string) error {
	err := keyring.Delete(s.service, userID)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("tokenkeyring: deleting entry: %w", err)
	}

	return nil
}
