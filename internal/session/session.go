package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/seedr-go/internal/seedr"
)

// State is a session's authentication state.
type State string

// Session states.
const (
	StateUnauthenticated       State = "unauthenticated"
	StatePendingDeviceApproval State = "pending_device_approval"
	StateAuthenticating        State = "authenticating"
	StateAuthenticated         State = "authenticated"
	StateFailed                State = "failed"
)

// State machine events.
const (
	eventBeginDevice      = "begin_device"
	eventBeginCredentials = "begin_credentials"
	eventApprove          = "approve"
	eventFail             = "fail"
	eventReset            = "reset"
	eventRestore          = "restore"
)

// expiryDelta refreshes tokens slightly before they expire.
const expiryDelta = 30 * time.Second

// ErrStaleAttempt is returned when an auth attempt completes after it was
// abandoned or superseded. The result is discarded.
var ErrStaleAttempt = errors.New("session: auth attempt no longer current")

// Refresher renews an expired token. seedr.TokenRefresher is the real
// implementation.
type Refresher interface {
	Refresh(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error)
}

// AttemptKind tells device and credential attempts apart.
type AttemptKind int

const (
	AttemptDevice AttemptKind = iota
	AttemptCredentials
)

// Attempt is one in-flight authentication. Its context is canceled when the
// attempt is abandoned or finishes; pollers run on it instead of on any
// caller's context.
type Attempt struct {
	ID    string
	Kind  AttemptKind
	Grant *seedr.DeviceCodeGrant // device attempts, once issued

	ctx context.Context
}

// Context returns the attempt's lifetime context.
func (a Attempt) Context() context.Context {
	return a.ctx
}

// Session is one user's authentication state and token. Transitions take
// the write lock; token reads take the read lock.
type Session struct {
	userID string
	logger *slog.Logger

	mu        sync.RWMutex
	machine   *fsm.FSM
	tokens    *TokenStore
	refresher Refresher
	attempt   *Attempt
	cancel    context.CancelFunc
	failure   error

	// discard removes the durable copy of a token the service no longer
	// accepts. Nil without a persister.
	discard func(ctx context.Context) error

	nowFunc func() time.Time
}

func newSession(userID string, tokens *TokenStore, refresher Refresher, logger *slog.Logger) *Session {
	s := &Session{
		userID:    userID,
		logger:    logger.With(slog.String("user", userID)),
		tokens:    tokens,
		refresher: refresher,
		nowFunc:   time.Now,
	}

	s.machine = fsm.NewFSM(
		string(StateUnauthenticated),
		fsm.Events{
			{Name: eventBeginDevice, Src: []string{string(StateUnauthenticated)}, Dst: string(StatePendingDeviceApproval)},
			{Name: eventBeginCredentials, Src: []string{string(StateUnauthenticated)}, Dst: string(StateAuthenticating)},
			{
				Name: eventApprove,
				Src:  []string{string(StatePendingDeviceApproval), string(StateAuthenticating)},
				Dst:  string(StateAuthenticated),
			},
			{
				Name: eventFail,
				Src:  []string{string(StatePendingDeviceApproval), string(StateAuthenticating)},
				Dst:  string(StateFailed),
			},
			{
				Name: eventReset,
				Src: []string{
					string(StatePendingDeviceApproval), string(StateAuthenticating),
					string(StateAuthenticated), string(StateFailed),
				},
				Dst: string(StateUnauthenticated),
			},
			{Name: eventRestore, Src: []string{string(StateUnauthenticated)}, Dst: string(StateAuthenticated)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.logger.Info("session state changed",
					slog.String("event", e.Event),
					slog.String("from", e.Src),
					slog.String("to", e.Dst),
				)
			},
		},
	)

	return s
}

// UserID returns the user this session belongs to.
func (s *Session) UserID() string {
	return s.userID
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state()
}

func (s *Session) state() State {
	return State(s.machine.Current())
}

// fire runs a transition. Callers hold the write lock and have checked the
// source state, so an error here is a programming error.
func (s *Session) fire(event string) error {
	if err := s.machine.Event(context.Background(), event); err != nil {
		return fmt.Errorf("session: %s from %s: %w", event, s.state(), err)
	}

	return nil
}

// Failure returns the error that moved the session to Failed, or nil.
func (s *Session) Failure() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.failure
}

// Pending returns the in-flight attempt, if any.
func (s *Session) Pending() (Attempt, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.attempt == nil {
		return Attempt{}, false
	}

	return *s.attempt, true
}

// Begin starts an auth attempt of the given kind. A session already waiting
// on an attempt returns ErrAlreadyPending and is left unchanged; a Failed or
// Authenticated session is reset first.
func (s *Session) Begin(kind AttemptKind) (Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state() {
	case StatePendingDeviceApproval, StateAuthenticating:
		return Attempt{}, fmt.Errorf("session: user %s: %w", s.userID, seedr.ErrAlreadyPending)
	case StateFailed, StateAuthenticated:
		s.resetLocked()
	case StateUnauthenticated:
	}

	event := eventBeginDevice
	if kind == AttemptCredentials {
		event = eventBeginCredentials
	}

	if err := s.fire(event); err != nil {
		return Attempt{}, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	s.attempt = &Attempt{ID: uuid.NewString(), Kind: kind, ctx: ctx}
	s.cancel = cancel
	s.failure = nil

	s.logger.Info("auth attempt started", slog.String("attempt", s.attempt.ID))

	return *s.attempt, nil
}

// AttachGrant records the device grant issued for attempt id.
func (s *Session) AttachGrant(id string, grant *seedr.DeviceCodeGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.currentLocked(id) {
		return ErrStaleAttempt
	}

	s.attempt.Grant = grant

	return nil
}

// Complete stores tok and moves the session to Authenticated. A failing
// change hook is logged; the session still authenticates with the token.
func (s *Session) Complete(ctx context.Context, id string, tok *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.currentLocked(id) {
		s.logger.Info("discarding result of stale auth attempt", slog.String("attempt", id))
		return ErrStaleAttempt
	}

	if tok == nil || tok.AccessToken == "" {
		return fmt.Errorf("session: completing with an empty token: %w", seedr.ErrInvalidInput)
	}

	if err := s.tokens.Set(ctx, tok); err != nil {
		s.logger.Warn("token persistence failed, keeping token in memory",
			slog.String("error", err.Error()),
		)
	}

	if err := s.fire(eventApprove); err != nil {
		return err
	}

	s.endAttemptLocked()
	s.failure = nil

	return nil
}

// Fail moves the session to Failed with cause.
func (s *Session) Fail(id string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.currentLocked(id) {
		s.logger.Info("discarding failure of stale auth attempt", slog.String("attempt", id))
		return ErrStaleAttempt
	}

	if err := s.fire(eventFail); err != nil {
		return err
	}

	s.endAttemptLocked()
	s.failure = cause

	s.logger.Warn("auth attempt failed", slog.String("attempt", id), slog.String("error", cause.Error()))

	return nil
}

// Abandon cancels the in-flight attempt and returns the session to
// Unauthenticated at once. It reports whether anything was pending.
func (s *Session) Abandon() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.attempt == nil {
		return false
	}

	s.logger.Info("auth attempt abandoned", slog.String("attempt", s.attempt.ID))
	s.resetLocked()

	return true
}

// Reset drops any attempt and token and returns to Unauthenticated.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resetLocked()
}

// Invalidate is Reset for a token the service rejected. The persisted copy
// is deleted too, so the next process does not restore it.
func (s *Session) Invalidate(ctx context.Context, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state() != StateAuthenticated {
		return
	}

	s.logger.Warn("token rejected, session reset", slog.String("error", cause.Error()))
	s.resetLocked()
	s.discardStoredLocked(ctx)
}

// discardStoredLocked deletes the persisted token. The caller's
// cancellation does not apply: a half-done discard would resurrect the
// token in the next process.
func (s *Session) discardStoredLocked(ctx context.Context) {
	if s.discard == nil {
		return
	}

	if err := s.discard(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn("deleting stored token failed", slog.String("error", err.Error()))
		return
	}

	s.logger.Info("stored token deleted")
}

// restore authenticates with a token loaded from durable storage. Called by
// the registry before the session is published.
func (s *Session) restore(tok *oauth2.Token) error {
	if s.state() != StateUnauthenticated {
		return nil
	}

	s.tokens.restore(tok)

	return s.fire(eventRestore)
}

// AccessToken returns a usable access token, refreshing it first when it
// has expired. Only Authenticated sessions have one; everything else is
// ErrAuthRequired without any network I/O.
func (s *Session) AccessToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	state := s.state()
	tok, tokErr := s.tokens.Token()
	s.mu.RUnlock()

	if state != StateAuthenticated || tokErr != nil {
		return "", fmt.Errorf("session: user %s is %s: %w", s.userID, state, seedr.ErrAuthRequired)
	}

	if !s.expired(tok) {
		return tok.AccessToken, nil
	}

	return s.refresh(ctx, tok)
}

func (s *Session) expired(tok *oauth2.Token) bool {
	return !tok.Expiry.IsZero() && !tok.Expiry.After(s.nowFunc().Add(expiryDelta))
}

// refresh renews seen under the write lock. If another caller already
// replaced it, that token is used instead.
func (s *Session) refresh(ctx context.Context, seen *oauth2.Token) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state() != StateAuthenticated {
		return "", fmt.Errorf("session: user %s is %s: %w", s.userID, s.state(), seedr.ErrAuthRequired)
	}

	current, err := s.tokens.Token()
	if err != nil {
		return "", err
	}

	if current.AccessToken != seen.AccessToken && !s.expired(current) {
		return current.AccessToken, nil
	}

	if current.RefreshToken == "" || s.refresher == nil {
		s.logger.Info("token expired and cannot be refreshed")
		s.resetLocked()
		s.discardStoredLocked(ctx)

		return "", fmt.Errorf("session: token expired: %w", seedr.ErrAuthRequired)
	}

	s.logger.Info("refreshing expired token", slog.Time("expiry", current.Expiry))

	fresh, err := s.refresher.Refresh(ctx, current)
	if err != nil {
		if errors.Is(err, seedr.ErrAuthRequired) {
			s.logger.Warn("token refresh rejected, session reset", slog.String("error", err.Error()))
			s.resetLocked()
			s.discardStoredLocked(ctx)
		}

		return "", err
	}

	if err := s.tokens.Set(ctx, fresh); err != nil {
		s.logger.Warn("persisting refreshed token failed", slog.String("error", err.Error()))
	}

	s.logger.Info("token refreshed", slog.Time("expiry", fresh.Expiry))

	return fresh.AccessToken, nil
}

func (s *Session) currentLocked(id string) bool {
	return s.attempt != nil && s.attempt.ID == id
}

func (s *Session) endAttemptLocked() {
	if s.cancel != nil {
		s.cancel()
	}

	s.attempt = nil
	s.cancel = nil
}

func (s *Session) resetLocked() {
	s.endAttemptLocked()
	s.tokens.Clear()
	s.failure = nil

	if s.state() != StateUnauthenticated {
		// Source states are exhaustive, so reset cannot fail here.
		_ = s.fire(eventReset)
	}
}
