package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/seedr-go/internal/seedr"
)

// fakeRefresher returns scripted refresh results and counts calls.
type fakeRefresher struct {
	calls atomic.Int32
	token *oauth2.Token
	err   error
}

func (f *fakeRefresher) Refresh(_ context.Context, _ *oauth2.Token) (*oauth2.Token, error) {
	f.calls.Add(1)

	if f.err != nil {
		return nil, f.err
	}

	cp := *f.token

	return &cp, nil
}

// recordingHook captures every token passed to the change hook.
type recordingHook struct {
	mu     sync.Mutex
	tokens []string
	err    error
}

func (h *recordingHook) hook(_ context.Context, tok *oauth2.Token) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.tokens = append(h.tokens, tok.AccessToken)

	return h.err
}

func (h *recordingHook) seen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]string(nil), h.tokens...)
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestSession(t *testing.T, hook ChangeHook, refresher Refresher) *Session {
	t.Helper()

	s := newSession("alice", NewTokenStore(hook), refresher, slog.Default())
	s.nowFunc = func() time.Time { return testNow }

	return s
}

// authenticate drives s through a device attempt to Authenticated.
func authenticate(t *testing.T, s *Session, tok *oauth2.Token) {
	t.Helper()

	a, err := s.Begin(AttemptDevice)
	require.NoError(t, err)
	require.NoError(t, s.Complete(context.Background(), a.ID, tok))
}

func TestSession_StartsUnauthenticated(t *testing.T) {
	s := newTestSession(t, nil, nil)

	assert.Equal(t, StateUnauthenticated, s.State())

	_, err := s.AccessToken(context.Background())
	assert.ErrorIs(t, err, seedr.ErrAuthRequired)
}

func TestSession_BeginWhilePending(t *testing.T) {
	for _, kind := range []AttemptKind{AttemptDevice, AttemptCredentials} {
		s := newTestSession(t, nil, nil)

		first, err := s.Begin(kind)
		require.NoError(t, err)
		assert.NotEmpty(t, first.ID)

		_, err = s.Begin(AttemptDevice)
		require.ErrorIs(t, err, seedr.ErrAlreadyPending)

		pending, ok := s.Pending()
		require.True(t, ok)
		assert.Equal(t, first.ID, pending.ID, "state unchanged by the rejected begin")
	}
}

func TestSession_BeginStates(t *testing.T) {
	s := newTestSession(t, nil, nil)

	_, err := s.Begin(AttemptDevice)
	require.NoError(t, err)
	assert.Equal(t, StatePendingDeviceApproval, s.State())

	s.Reset()

	_, err = s.Begin(AttemptCredentials)
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticating, s.State())
}

func TestSession_CompleteAuthenticates(t *testing.T) {
	hook := &recordingHook{}
	s := newTestSession(t, hook.hook, nil)

	a, err := s.Begin(AttemptDevice)
	require.NoError(t, err)

	grant := &seedr.DeviceCodeGrant{UserCode: "ABCD"}
	require.NoError(t, s.AttachGrant(a.ID, grant))

	pending, ok := s.Pending()
	require.True(t, ok)
	assert.Same(t, grant, pending.Grant)

	require.NoError(t, s.Complete(context.Background(), a.ID, &oauth2.Token{AccessToken: "acc"}))

	assert.Equal(t, StateAuthenticated, s.State())
	assert.Equal(t, []string{"acc"}, hook.seen())
	assert.ErrorIs(t, a.Context().Err(), context.Canceled, "attempt context ends with the attempt")

	_, ok = s.Pending()
	assert.False(t, ok, "grant discarded on success")

	got, err := s.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "acc", got)
}

func TestSession_HookFailureStillAuthenticates(t *testing.T) {
	hook := &recordingHook{err: errors.New("read-only filesystem")}
	s := newTestSession(t, hook.hook, nil)

	authenticate(t, s, &oauth2.Token{AccessToken: "acc"})

	assert.Equal(t, StateAuthenticated, s.State())

	got, err := s.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "acc", got)
}

func TestSession_FailThenRetry(t *testing.T) {
	s := newTestSession(t, nil, nil)

	a, err := s.Begin(AttemptDevice)
	require.NoError(t, err)

	cause := &seedr.AuthError{Op: "poll", Reason: seedr.ReasonAccessDenied, Err: seedr.ErrAuthDenied}
	require.NoError(t, s.Fail(a.ID, cause))

	assert.Equal(t, StateFailed, s.State())
	assert.ErrorIs(t, s.Failure(), seedr.ErrAuthDenied)

	_, err = s.AccessToken(context.Background())
	assert.ErrorIs(t, err, seedr.ErrAuthRequired)

	_, err = s.Begin(AttemptDevice)
	require.NoError(t, err, "a failed session may begin again")
	assert.Equal(t, StatePendingDeviceApproval, s.State())
	assert.NoError(t, s.Failure())
}

func TestSession_BeginFromAuthenticatedClearsToken(t *testing.T) {
	s := newTestSession(t, nil, nil)
	authenticate(t, s, &oauth2.Token{AccessToken: "acc"})

	_, err := s.Begin(AttemptDevice)
	require.NoError(t, err)

	assert.Equal(t, StatePendingDeviceApproval, s.State())
	assert.False(t, s.tokens.HasToken())
}

func TestSession_AbandonDiscardsLateResult(t *testing.T) {
	s := newTestSession(t, nil, nil)

	a, err := s.Begin(AttemptDevice)
	require.NoError(t, err)

	assert.True(t, s.Abandon())
	assert.Equal(t, StateUnauthenticated, s.State())
	assert.ErrorIs(t, a.Context().Err(), context.Canceled)

	assert.ErrorIs(t, s.Complete(context.Background(), a.ID, &oauth2.Token{AccessToken: "late"}), ErrStaleAttempt)
	assert.ErrorIs(t, s.Fail(a.ID, errors.New("late")), ErrStaleAttempt)
	assert.Equal(t, StateUnauthenticated, s.State())

	assert.False(t, s.Abandon(), "nothing left to abandon")
}

func TestSession_CompleteWithEmptyToken(t *testing.T) {
	s := newTestSession(t, nil, nil)

	a, err := s.Begin(AttemptDevice)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Complete(context.Background(), a.ID, &oauth2.Token{}), seedr.ErrInvalidInput)
	assert.Equal(t, StatePendingDeviceApproval, s.State())
}

func TestSession_RefreshesExpiredToken(t *testing.T) {
	hook := &recordingHook{}
	refresher := &fakeRefresher{token: &oauth2.Token{
		AccessToken: "fresh", RefreshToken: "r2", Expiry: testNow.Add(time.Hour),
	}}
	s := newTestSession(t, hook.hook, refresher)

	authenticate(t, s, &oauth2.Token{AccessToken: "old", RefreshToken: "r1", Expiry: testNow.Add(-time.Minute)})

	var g errgroup.Group

	for range 10 {
		g.Go(func() error {
			got, err := s.AccessToken(context.Background())
			if err != nil {
				return err
			}

			if got != "fresh" {
				return errors.New("got " + got)
			}

			return nil
		})
	}

	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), refresher.calls.Load(), "concurrent callers share one refresh")
	assert.Equal(t, []string{"old", "fresh"}, hook.seen(), "rotated token persisted")
}

func TestSession_RefreshRejectedResets(t *testing.T) {
	refresher := &fakeRefresher{err: &seedr.AuthError{Op: "refresh", Err: seedr.ErrAuthRequired}}
	s := newTestSession(t, nil, refresher)

	authenticate(t, s, &oauth2.Token{AccessToken: "old", RefreshToken: "r1", Expiry: testNow.Add(-time.Minute)})

	_, err := s.AccessToken(context.Background())
	require.ErrorIs(t, err, seedr.ErrAuthRequired)
	assert.Equal(t, StateUnauthenticated, s.State())
}

func TestSession_RefreshOutageKeepsSession(t *testing.T) {
	refresher := &fakeRefresher{err: &seedr.AuthError{Op: "refresh", Err: seedr.ErrAuthService}}
	s := newTestSession(t, nil, refresher)

	authenticate(t, s, &oauth2.Token{AccessToken: "old", RefreshToken: "r1", Expiry: testNow.Add(-time.Minute)})

	_, err := s.AccessToken(context.Background())
	require.ErrorIs(t, err, seedr.ErrAuthService)
	assert.Equal(t, StateAuthenticated, s.State())
}

func TestSession_ExpiredWithoutRefreshToken(t *testing.T) {
	s := newTestSession(t, nil, &fakeRefresher{})

	authenticate(t, s, &oauth2.Token{AccessToken: "old", Expiry: testNow.Add(-time.Minute)})

	_, err := s.AccessToken(context.Background())
	require.ErrorIs(t, err, seedr.ErrAuthRequired)
	assert.Equal(t, StateUnauthenticated, s.State())
}

func TestSession_TokenWithoutExpiryNeverRefreshes(t *testing.T) {
	refresher := &fakeRefresher{}
	s := newTestSession(t, nil, refresher)

	authenticate(t, s, &oauth2.Token{AccessToken: "forever", RefreshToken: "r"})

	got, err := s.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "forever", got)
	assert.Equal(t, int32(0), refresher.calls.Load())
}

// discardCounter stands in for the registry's persisted-token delete.
type discardCounter struct {
	calls atomic.Int32
}

func (d *discardCounter) discard(context.Context) error {
	d.calls.Add(1)
	return nil
}

func TestSession_Invalidate(t *testing.T) {
	d := &discardCounter{}
	s := newTestSession(t, nil, nil)
	s.discard = d.discard

	s.Invalidate(context.Background(), seedr.ErrAuthRequired)
	assert.Equal(t, StateUnauthenticated, s.State(), "no-op when not authenticated")
	assert.Equal(t, int32(0), d.calls.Load())

	authenticate(t, s, &oauth2.Token{AccessToken: "acc"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Invalidate(ctx, seedr.ErrAuthRequired)

	assert.Equal(t, StateUnauthenticated, s.State())
	assert.False(t, s.tokens.HasToken())
	assert.Equal(t, int32(1), d.calls.Load(), "stored copy deleted even for a canceled caller")
}

func TestSession_UnusableTokenDiscarded(t *testing.T) {
	tests := []struct {
		name      string
		refresher *fakeRefresher
		tok       *oauth2.Token
		discards  int32
	}{
		{
			name:      "refresh rejected",
			refresher: &fakeRefresher{err: &seedr.AuthError{Op: "refresh", Err: seedr.ErrAuthRequired}},
			tok:       &oauth2.Token{AccessToken: "old", RefreshToken: "r1", Expiry: testNow.Add(-time.Minute)},
			discards:  1,
		},
		{
			name:      "no refresh token",
			refresher: &fakeRefresher{},
			tok:       &oauth2.Token{AccessToken: "old", Expiry: testNow.Add(-time.Minute)},
			discards:  1,
		},
		{
			name:      "refresh outage keeps the token",
			refresher: &fakeRefresher{err: &seedr.AuthError{Op: "refresh", Err: seedr.ErrAuthService}},
			tok:       &oauth2.Token{AccessToken: "old", RefreshToken: "r1", Expiry: testNow.Add(-time.Minute)},
			discards:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &discardCounter{}
			s := newTestSession(t, nil, tt.refresher)
			s.discard = d.discard

			authenticate(t, s, tt.tok)

			_, err := s.AccessToken(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.discards, d.calls.Load())
		})
	}
}
