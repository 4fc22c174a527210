// Package session tracks one authentication session per end-user: the auth
// state machine, the token store it owns, and the registry that guarantees a
// single session object per user id.
package session

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/seedr-go/internal/seedr"
)

// ChangeHook is called synchronously whenever a new token is stored.
type ChangeHook func(ctx context.Context, tok *oauth2.Token) error

// TokenStore holds a session's current token. Set runs the change hook
// before returning, so a persisted copy exists before the token is used.
type TokenStore struct {
	// setMu serializes Set so hook calls happen in store order.
	setMu sync.Mutex

	mu       sync.RWMutex
	token    *oauth2.Token
	onChange ChangeHook
}

// NewTokenStore creates an empty store. A nil hook is a no-op.
func NewTokenStore(onChange ChangeHook) *TokenStore {
	return &TokenStore{onChange: onChange}
}

// SetOnChange replaces the change hook.
func (s *TokenStore) SetOnChange(hook ChangeHook) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.onChange = hook
}

// Token returns a copy of the held token, or ErrAuthRequired when none is
// held.
func (s *TokenStore) Token() (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.token == nil || s.token.AccessToken == "" {
		return nil, fmt.Errorf("session: no token: %w", seedr.ErrAuthRequired)
	}

	cp := *s.token

	return &cp, nil
}

// AccessToken returns the held access token string.
func (s *TokenStore) AccessToken() (string, error) {
	tok, err := s.Token()
	if err != nil {
		return "", err
	}

	return tok.AccessToken, nil
}

// HasToken reports whether a non-empty token is held.
func (s *TokenStore) HasToken() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.token != nil && s.token.AccessToken != ""
}

// Set stores tok and then runs the change hook. The token stays stored even
// when the hook fails; the hook's error is returned for the caller to report.
func (s *TokenStore) Set(ctx context.Context, tok *oauth2.Token) error {
	if tok == nil || tok.AccessToken == "" {
		return fmt.Errorf("session: refusing to store an empty token: %w", seedr.ErrInvalidInput)
	}

	s.setMu.Lock()
	defer s.setMu.Unlock()

	cp := *tok

	s.mu.Lock()
	s.token = &cp
	hook := s.onChange
	s.mu.Unlock()

	if hook == nil {
		return nil
	}

	if err := hook(ctx, &cp); err != nil {
		return fmt.Errorf("session: token change hook: %w", err)
	}

	return nil
}

// restore stores a token loaded from durable storage without running the
// hook.
func (s *TokenStore) restore(tok *oauth2.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *tok
	s.token = &cp
}

// Clear drops the held token. The hook is not called; durable copies are
// removed by the registry on logout.
func (s *TokenStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = nil
}
