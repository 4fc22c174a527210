// Package accounts is the surface a front end drives: per-user device and
// credential sign-in, sign-out, and the authenticated folder operations.
// Every method is keyed by an opaque user id.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/alitto/pond"
	"golang.org/x/sync/singleflight"

	"github.com/tonimelisma/seedr-go/internal/seedr"
	"github.com/tonimelisma/seedr-go/internal/session"
)

// Default sizing for the background watcher pool.
const (
	DefaultMaxConcurrentPolls = 16
	defaultWatchQueue         = 256
)

// ErrClosed is returned by methods called after Close.
var ErrClosed = errors.New("accounts: manager closed")

// Notify receives the outcome of a watched device authorization. err is nil
// on success.
type Notify func(userID string, err error)

// Options configures a Manager. Zero values take defaults.
type Options struct {
	MaxConcurrentPolls int
}

// Manager ties the session registry to the Seedr flows and resource client.
type Manager struct {
	registry    *session.Registry
	device      *seedr.DeviceFlow
	credentials *seedr.CredentialFlow
	transport   *seedr.Transport
	logger      *slog.Logger

	polls  singleflight.Group
	pool   *pond.WorkerPool
	closed atomic.Bool
}

// NewManager creates a Manager. The caller owns registry and must not close
// it separately; Close handles it.
func NewManager(
	registry *session.Registry,
	device *seedr.DeviceFlow,
	credentials *seedr.CredentialFlow,
	transport *seedr.Transport,
	opts Options,
	logger *slog.Logger,
) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	workers := opts.MaxConcurrentPolls
	if workers <= 0 {
		workers = DefaultMaxConcurrentPolls
	}

	return &Manager{
		registry:    registry,
		device:      device,
		credentials: credentials,
		transport:   transport,
		logger:      logger,
		pool:        pond.New(workers, defaultWatchQueue),
	}
}

// StartDeviceAuth begins a device attempt and returns the grant to show the
// user. A user with an attempt already in flight gets ErrAlreadyPending.
func (m *Manager) StartDeviceAuth(ctx context.Context, userID string) (*seedr.DeviceCodeGrant, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}

	s, attempt, err := m.registry.BeginAuth(ctx, userID)
	if err != nil {
		return nil, err
	}

	// The code request ends early if either the caller or the attempt goes away.
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := context.AfterFunc(attempt.Context(), cancel)
	defer stop()

	grant, err := m.device.RequestCode(reqCtx)
	if err != nil {
		if ferr := s.Fail(attempt.ID, err); errors.Is(ferr, session.ErrStaleAttempt) {
			return nil, abandonedError("start device auth", err)
		}

		return nil, err
	}

	if err := s.AttachGrant(attempt.ID, grant); err != nil {
		return nil, abandonedError("start device auth", err)
	}

	m.logger.Info("device authorization started",
		slog.String("user", userID),
		slog.String("verification_uri", grant.VerificationURI),
		slog.Time("expires_at", grant.ExpiresAt),
	)

	return grant, nil
}

// AwaitDeviceAuth blocks until the user's device attempt resolves. Any
// number of callers share one poll. Canceling ctx only detaches this caller;
// the poll keeps running until it resolves or the attempt is abandoned.
func (m *Manager) AwaitDeviceAuth(ctx context.Context, userID string) error {
	s, ok := m.registry.Lookup(userID)
	if !ok {
		return fmt.Errorf("accounts: no sign-in in progress for %s: %w", userID, seedr.ErrAuthRequired)
	}

	switch s.State() {
	case session.StateAuthenticated:
		return nil
	case session.StateFailed:
		return s.Failure()
	case session.StateUnauthenticated, session.StatePendingDeviceApproval, session.StateAuthenticating:
	}

	attempt, ok := s.Pending()
	if !ok || attempt.Kind != session.AttemptDevice || attempt.Grant == nil {
		return fmt.Errorf("accounts: no device authorization pending for %s: %w", userID, seedr.ErrAuthRequired)
	}

	ch := m.polls.DoChan(attempt.ID, func() (any, error) {
		return nil, m.poll(s, attempt)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return fmt.Errorf("accounts: waiting for device authorization: %w", ctx.Err())
	}
}

// poll runs one attempt's device poll to completion on the attempt's own
// context and records the outcome on the session.
func (m *Manager) poll(s *session.Session, attempt session.Attempt) error {
	const op = "await device auth"

	tok, err := m.device.PollForToken(attempt.Context(), attempt.Grant)
	if err != nil {
		if attempt.Context().Err() != nil {
			return abandonedError(op, err)
		}

		if ferr := s.Fail(attempt.ID, err); errors.Is(ferr, session.ErrStaleAttempt) {
			return abandonedError(op, err)
		}

		return err
	}

	// The token is persisted even if the attempt context ends mid-write.
	if err := s.Complete(context.WithoutCancel(attempt.Context()), attempt.ID, tok); err != nil {
		if errors.Is(err, session.ErrStaleAttempt) {
			return abandonedError(op, err)
		}

		return err
	}

	m.logger.Info("device authorization approved", slog.String("user", s.UserID()))

	return nil
}

// WatchDeviceAuth waits for the user's device attempt in the background and
// reports the outcome to notify.
func (m *Manager) WatchDeviceAuth(userID string, notify Notify) error {
	if m.closed.Load() {
		return ErrClosed
	}

	ok := m.pool.TrySubmit(func() {
		err := m.AwaitDeviceAuth(context.Background(), userID)
		if notify != nil {
			notify(userID, err)
		}
	})
	if !ok {
		return fmt.Errorf("accounts: watcher queue full, cannot watch %s", userID)
	}

	return nil
}

// AbandonAuth cancels the user's in-flight attempt. The session is
// Unauthenticated when this returns. It reports whether anything was pending.
func (m *Manager) AbandonAuth(userID string) bool {
	return m.registry.Abandon(userID)
}

// LoginWithCredentials signs the user in with a username and password.
// The credentials are used for one exchange and never stored.
func (m *Manager) LoginWithCredentials(ctx context.Context, userID, username, password string) error {
	if m.closed.Load() {
		return ErrClosed
	}

	s, err := m.registry.GetOrCreate(ctx, userID)
	if err != nil {
		return err
	}

	attempt, err := s.Begin(session.AttemptCredentials)
	if err != nil {
		return err
	}

	loginCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := context.AfterFunc(attempt.Context(), cancel)
	defer stop()

	tok, err := m.credentials.Login(loginCtx, username, password)
	if err != nil {
		if ferr := s.Fail(attempt.ID, err); errors.Is(ferr, session.ErrStaleAttempt) {
			return abandonedError("credential login", err)
		}

		return err
	}

	if err := s.Complete(ctx, attempt.ID, tok); err != nil {
		if errors.Is(err, session.ErrStaleAttempt) {
			return abandonedError("credential login", err)
		}

		return err
	}

	return nil
}

// Logout forgets the user's token, in memory and in durable storage.
func (m *Manager) Logout(ctx context.Context, userID string) error {
	return m.registry.Logout(ctx, userID)
}

// Status reports the user's session state, restoring a persisted token the
// first time the user is seen.
func (m *Manager) Status(ctx context.Context, userID string) (session.State, error) {
	s, err := m.registry.GetOrCreate(ctx, userID)
	if err != nil {
		return session.StateUnauthenticated, err
	}

	return s.State(), nil
}

// AddMagnet queues a magnet link in the user's account.
func (m *Manager) AddMagnet(ctx context.Context, userID, magnet, folderID string) (*seedr.AddResult, error) {
	if err := seedr.ValidateMagnet(magnet); err != nil {
		return nil, err
	}

	c, s, err := m.client(ctx, userID)
	if err != nil {
		return nil, err
	}

	res, err := c.AddMagnet(ctx, magnet, folderID)

	return res, m.checkAuth(ctx, s, err)
}

// ListContents lists a folder in the user's account; empty folderID is the
// root.
func (m *Manager) ListContents(ctx context.Context, userID, folderID string) (*seedr.Listing, error) {
	c, s, err := m.client(ctx, userID)
	if err != nil {
		return nil, err
	}

	l, err := c.ListContents(ctx, folderID)

	return l, m.checkAuth(ctx, s, err)
}

// ResolveDownloadLink returns a download URL for itemID.
func (m *Manager) ResolveDownloadLink(ctx context.Context, userID, itemID, folderID string) (string, error) {
	c, s, err := m.client(ctx, userID)
	if err != nil {
		return "", err
	}

	link, err := c.ResolveDownloadLink(ctx, itemID, folderID)

	return link, m.checkAuth(ctx, s, err)
}

// DeleteItems deletes files or folders from the user's account.
func (m *Manager) DeleteItems(ctx context.Context, userID string, itemIDs ...string) error {
	c, s, err := m.client(ctx, userID)
	if err != nil {
		return err
	}

	return m.checkAuth(ctx, s, c.DeleteItems(ctx, itemIDs...))
}

// Close abandons every pending attempt and waits for background watchers.
func (m *Manager) Close() {
	if !m.closed.CompareAndSwap(false, true) {
		return
	}

	m.registry.Close()
	m.pool.StopAndWait()
}

func (m *Manager) client(ctx context.Context, userID string) (*seedr.Client, *session.Session, error) {
	s, err := m.registry.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	return seedr.NewClient(m.transport, s, m.logger.With(slog.String("user", userID))), s, nil
}

// checkAuth resets the session when the service rejected its token.
func (m *Manager) checkAuth(ctx context.Context, s *session.Session, err error) error {
	if errors.Is(err, seedr.ErrAuthRequired) {
		s.Invalidate(ctx, err)
	}

	return err
}

func abandonedError(op string, cause error) error {
	return &seedr.AuthError{
		Op:     op,
		Reason: seedr.ReasonAbandoned,
		Err:    seedr.ErrAuthDenied,
		Cause:  cause,
	}
}
