package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/seedr-go/internal/seedr"
)

// memPersister is an in-memory TokenPersister for tests.
type memPersister struct {
	mu      sync.Mutex
	tokens  map[string]oauth2.Token
	loadErr error
	saves   atomic.Int32
	deletes atomic.Int32
}

func newMemPersister() *memPersister {
	return &memPersister{tokens: make(map[string]oauth2.Token)}
}

func (m *memPersister) LoadToken(_ context.Context, userID string) (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loadErr != nil {
		return nil, m.loadErr
	}

	tok, ok := m.tokens[userID]
	if !ok {
		return nil, nil
	}

	return &tok, nil
}

func (m *memPersister) SaveToken(_ context.Context, userID string, tok *oauth2.Token) error {
	m.saves.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.tokens[userID] = *tok

	return nil
}

func (m *memPersister) DeleteToken(_ context.Context, userID string) error {
	m.deletes.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.tokens, userID)

	return nil
}

func (m *memPersister) has(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.tokens[userID]

	return ok
}

func TestRegistry_OneSessionPerUser(t *testing.T) {
	r := NewRegistry(nil, nil, nil)

	var (
		g    errgroup.Group
		mu   sync.Mutex
		seen = map[*Session]bool{}
	)

	for range 50 {
		g.Go(func() error {
			s, err := r.GetOrCreate(context.Background(), "alice")
			if err != nil {
				return err
			}

			mu.Lock()
			seen[s] = true
			mu.Unlock()

			return nil
		})
	}

	require.NoError(t, g.Wait())
	assert.Len(t, seen, 1)
	assert.Equal(t, []string{"alice"}, r.Users())
}

func TestRegistry_RejectsEmptyUser(t *testing.T) {
	r := NewRegistry(nil, nil, nil)

	_, err := r.GetOrCreate(context.Background(), "  ")
	assert.ErrorIs(t, err, seedr.ErrInvalidInput)
}

func TestRegistry_RestoresPersistedToken(t *testing.T) {
	p := newMemPersister()
	p.tokens["alice"] = oauth2.Token{AccessToken: "saved"}

	r := NewRegistry(p, nil, nil)

	s, err := r.GetOrCreate(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, s.State())

	got, err := s.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "saved", got)
	assert.Equal(t, int32(0), p.saves.Load(), "restoring does not write back")

	other, err := r.GetOrCreate(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, StateUnauthenticated, other.State())
}

func TestRegistry_BrokenStoreStartsUnauthenticated(t *testing.T) {
	p := newMemPersister()
	p.loadErr = errors.New("corrupt")

	r := NewRegistry(p, nil, nil)

	s, err := r.GetOrCreate(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, StateUnauthenticated, s.State())
}

func TestRegistry_ConcurrentBeginForDistinctUsers(t *testing.T) {
	r := NewRegistry(nil, nil, nil)

	var g errgroup.Group

	for i := range 20 {
		g.Go(func() error {
			_, _, err := r.BeginAuth(context.Background(), fmt.Sprintf("user-%d", i))
			return err
		})
	}

	require.NoError(t, g.Wait())

	for _, id := range r.Users() {
		s, ok := r.Lookup(id)
		require.True(t, ok)
		assert.Equal(t, StatePendingDeviceApproval, s.State())
	}

	assert.Len(t, r.Users(), 20)
}

func TestRegistry_ConcurrentBeginForSameUser(t *testing.T) {
	r := NewRegistry(nil, nil, nil)

	var (
		g       errgroup.Group
		ok      atomic.Int32
		pending atomic.Int32
	)

	for range 20 {
		g.Go(func() error {
			_, _, err := r.BeginAuth(context.Background(), "alice")

			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, seedr.ErrAlreadyPending):
				pending.Add(1)
			default:
				return err
			}

			return nil
		})
	}

	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(19), pending.Load())
}

func TestRegistry_CompletePersists(t *testing.T) {
	p := newMemPersister()
	r := NewRegistry(p, nil, nil)

	_, a, err := r.BeginAuth(context.Background(), "alice")
	require.NoError(t, err)

	require.NoError(t, r.Complete(context.Background(), "alice", a.ID, &oauth2.Token{AccessToken: "acc"}))
	assert.True(t, p.has("alice"))
	assert.Equal(t, int32(1), p.saves.Load())
}

func TestRegistry_FailAndUnknownUser(t *testing.T) {
	r := NewRegistry(nil, nil, nil)

	_, a, err := r.BeginAuth(context.Background(), "alice")
	require.NoError(t, err)

	require.NoError(t, r.Fail("alice", a.ID, seedr.ErrAuthDenied))

	s, _ := r.Lookup("alice")
	assert.Equal(t, StateFailed, s.State())

	assert.ErrorIs(t, r.Complete(context.Background(), "nobody", "x", &oauth2.Token{AccessToken: "a"}), ErrStaleAttempt)
	assert.ErrorIs(t, r.Fail("nobody", "x", seedr.ErrAuthDenied), ErrStaleAttempt)
	assert.False(t, r.Abandon("nobody"))
}

func TestRegistry_Logout(t *testing.T) {
	p := newMemPersister()
	p.tokens["alice"] = oauth2.Token{AccessToken: "saved"}

	r := NewRegistry(p, nil, nil)

	s, err := r.GetOrCreate(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, StateAuthenticated, s.State())

	require.NoError(t, r.Logout(context.Background(), "alice"))

	assert.Equal(t, StateUnauthenticated, s.State())
	assert.False(t, p.has("alice"))

	_, err = s.AccessToken(context.Background())
	assert.ErrorIs(t, err, seedr.ErrAuthRequired)
}

func TestRegistry_RejectedTokenNotRestored(t *testing.T) {
	p := newMemPersister()
	p.tokens["alice"] = oauth2.Token{AccessToken: "rejected"}

	r := NewRegistry(p, nil, nil)

	s, err := r.GetOrCreate(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, StateAuthenticated, s.State())

	s.Invalidate(context.Background(), seedr.ErrAuthRequired)

	assert.False(t, p.has("alice"))
	assert.Equal(t, int32(1), p.deletes.Load())

	fresh, err := NewRegistry(p, nil, nil).GetOrCreate(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, StateUnauthenticated, fresh.State())
}

func TestRegistry_TrimsUserIDEverywhere(t *testing.T) {
	p := newMemPersister()
	p.tokens["alice"] = oauth2.Token{AccessToken: "saved"}

	r := NewRegistry(p, nil, nil)

	s, a, err := r.BeginAuth(context.Background(), " bob ")
	require.NoError(t, err)

	got, ok := r.Lookup("bob\t")
	require.True(t, ok)
	assert.Same(t, s, got)

	assert.True(t, r.Abandon(" bob"))
	assert.ErrorIs(t, a.Context().Err(), context.Canceled)

	require.NoError(t, r.Logout(context.Background(), " alice "))
	assert.False(t, p.has("alice"))

	assert.ErrorIs(t, r.Logout(context.Background(), "  "), seedr.ErrInvalidInput)
}

func TestRegistry_CloseAbandonsAttempts(t *testing.T) {
	r := NewRegistry(nil, nil, nil)

	_, a, err := r.BeginAuth(context.Background(), "alice")
	require.NoError(t, err)

	r.Close()

	assert.ErrorIs(t, a.Context().Err(), context.Canceled)

	s, _ := r.Lookup("alice")
	assert.Equal(t, StateUnauthenticated, s.State())
}
