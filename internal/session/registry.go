package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/seedr-go/internal/seedr"
)

// TokenPersister is durable token storage keyed by user id. LoadToken
// returns (nil, nil) when nothing is stored.
type TokenPersister interface {
	LoadToken(ctx context.Context, userID string) (*oauth2.Token, error)
	SaveToken(ctx context.Context, userID string, tok *oauth2.Token) error
	DeleteToken(ctx context.Context, userID string) error
}

// Registry maps user ids to their single Session. The map lock covers only
// insert and lookup; everything else is per-session.
type Registry struct {
	persister TokenPersister
	refresher Refresher
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates a registry. persister and refresher may be nil.
func NewRegistry(persister TokenPersister, refresher Refresher, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		persister: persister,
		refresher: refresher,
		logger:    logger,
		sessions:  make(map[string]*Session),
	}
}

// GetOrCreate returns the user's session, creating it on first use. A new
// session starts Authenticated when a persisted token exists.
func (r *Registry) GetOrCreate(ctx context.Context, userID string) (*Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("session: user id is required: %w", seedr.ErrInvalidInput)
	}

	r.mu.Lock()

	if s, ok := r.sessions[userID]; ok {
		r.mu.Unlock()
		return s, nil
	}

	s := newSession(userID, NewTokenStore(r.hookFor(userID)), r.refresher, r.logger)
	s.discard = r.discardFor(userID)

	// Publish the session locked so nobody observes it before the restore.
	s.mu.Lock()
	r.sessions[userID] = s
	r.mu.Unlock()

	defer s.mu.Unlock()

	r.restoreLocked(ctx, s)

	return s, nil
}

// Lookup returns the user's session if one exists.
func (r *Registry) Lookup(userID string) (*Session, bool) {
	userID = strings.TrimSpace(userID)

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[userID]

	return s, ok
}

// Users returns the ids of all known sessions, sorted.
func (r *Registry) Users() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// BeginAuth starts a device attempt for the user.
func (r *Registry) BeginAuth(ctx context.Context, userID string) (*Session, Attempt, error) {
	s, err := r.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, Attempt{}, err
	}

	a, err := s.Begin(AttemptDevice)
	if err != nil {
		return nil, Attempt{}, err
	}

	return s, a, nil
}

// Complete finishes the user's attempt with a token.
func (r *Registry) Complete(ctx context.Context, userID, attemptID string, tok *oauth2.Token) error {
	s, ok := r.Lookup(userID)
	if !ok {
		return ErrStaleAttempt
	}

	return s.Complete(ctx, attemptID, tok)
}

// Fail finishes the user's attempt with an error.
func (r *Registry) Fail(userID, attemptID string, cause error) error {
	s, ok := r.Lookup(userID)
	if !ok {
		return ErrStaleAttempt
	}

	return s.Fail(attemptID, cause)
}

// Abandon cancels the user's in-flight attempt. It reports whether one was
// pending.
func (r *Registry) Abandon(userID string) bool {
	s, ok := r.Lookup(userID)
	if !ok {
		return false
	}

	return s.Abandon()
}

// Logout resets the user's session and deletes the persisted token.
func (r *Registry) Logout(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("session: user id is required: %w", seedr.ErrInvalidInput)
	}

	if s, ok := r.Lookup(userID); ok {
		s.Reset()
	}

	if r.persister == nil {
		return nil
	}

	if err := r.persister.DeleteToken(ctx, userID); err != nil {
		return fmt.Errorf("session: deleting stored token for %s: %w", userID, err)
	}

	r.logger.Info("logged out", slog.String("user", userID))

	return nil
}

// Close cancels every in-flight attempt.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))

	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Abandon()
	}
}

func (r *Registry) hookFor(userID string) ChangeHook {
	if r.persister == nil {
		return nil
	}

	return func(ctx context.Context, tok *oauth2.Token) error {
		return r.persister.SaveToken(ctx, userID, tok)
	}
}

func (r *Registry) discardFor(userID string) func(context.Context) error {
	if r.persister == nil {
		return nil
	}

	return func(ctx context.Context) error {
		return r.persister.DeleteToken(ctx, userID)
	}
}

// restoreLocked loads a persisted token into s. A broken store leaves the
// session Unauthenticated; the user can sign in again.
func (r *Registry) restoreLocked(ctx context.Context, s *Session) {
	if r.persister == nil {
		return
	}

	tok, err := r.persister.LoadToken(ctx, s.userID)
	if err != nil {
		s.logger.Warn("loading stored token failed", slog.String("error", err.Error()))
		return
	}

	if tok == nil || tok.AccessToken == "" {
		return
	}

	if err := s.restore(tok); err != nil {
		s.logger.Warn("restoring stored token failed", slog.String("error", err.Error()))
		return
	}

	s.logger.Info("restored stored token",
		slog.Time("expiry", tok.Expiry),
		slog.Bool("has_refresh_token", tok.RefreshToken != ""),
	)
}
