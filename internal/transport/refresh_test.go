// ABOUTME: Tests for the single-flight refresh coordinator.
// ABOUTME: Covers one-exchange-per-storm, single session clear, and abandoned waiters.

package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remindful/sync-engine/internal/api"
	"github.com/remindful/sync-engine/internal/creds"
)

// countingStore wraps a credential store and counts Clear calls.
type countingStore struct {
	creds.Store
	clears atomic.Int32
}

func (s *countingStore) Clear() error {
	s.clears.Add(1)
	return s.Store.Clear()
}

func seededStore(t *testing.T) *creds.MemoryStore {
	t.Helper()
	store := creds.NewMemoryStore()
	require.NoError(t, store.Set(creds.Session{
		AccessToken:  "stale-access",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Hour),
	}))
	return store
}

func TestRefreshCoordinator_SingleFlight(t *testing.T) {
	store := seededStore(t)

	var exchanges atomic.Int32
	coord := NewRefreshCoordinator(store, func(ctx context.Context) (api.SessionData, error) {
		exchanges.Add(1)
		// Hold the exchange open so every caller joins the same flight.
		time.Sleep(50 * time.Millisecond)
		return api.SessionData{AccessToken: "fresh-access", RefreshToken: "refresh-2"}, nil
	}, time.Second, nil)

	const n = 10
	tokens := make([]string, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens[i], errs[i] = coord.Refresh(context.Background())
		}()
	}
	wg.Wait()

	for i := range n {
		require.NoError(t, errs[i])
		assert.Equal(t, "fresh-access", tokens[i])
	}
	assert.Equal(t, int32(1), exchanges.Load(), "expected exactly one refresh exchange")

	session, err := store.Get()
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", session.AccessToken)
	assert.Equal(t, "refresh-2", session.RefreshToken)
}

func TestRefreshCoordinator_FailureClearsSessionOnce(t *testing.T) {
	store := &countingStore{Store: seededStore(t)}

	var exchanges atomic.Int32
	coord := NewRefreshCoordinator(store, func(ctx context.Context) (api.SessionData, error) {
		exchanges.Add(1)
		time.Sleep(20 * time.Millisecond)
		return api.SessionData{}, &api.APIError{Code: api.CodeUnauthenticated, Message: "refresh token revoked"}
	}, time.Second, nil)

	const n = 6
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = coord.Refresh(context.Background())
		}()
	}
	wg.Wait()

	for i := range n {
		assert.ErrorIs(t, errs[i], api.ErrRefreshFailed)
	}
	assert.Equal(t, int32(1), exchanges.Load())
	assert.Equal(t, int32(1), store.clears.Load(), "session must be cleared exactly once")

	_, err := store.Get()
	assert.ErrorIs(t, err, creds.ErrNoSession)
}

func TestRefreshCoordinator_RotatesAccessTokenOnly(t *testing.T) {
	store := seededStore(t)

	coord := NewRefreshCoordinator(store, func(ctx context.Context) (api.SessionData, error) {
		// Server rotated the access token but kept the refresh token.
		return api.SessionData{AccessToken: "fresh-access"}, nil
	}, time.Second, nil)

	_, err := coord.Refresh(context.Background())
	require.NoError(t, err)

	session, err := store.Get()
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", session.RefreshToken, "existing refresh token must be preserved")
}

func TestRefreshCoordinator_NoStoredSession(t *testing.T) {
	store := creds.NewMemoryStore()

	var exchanges atomic.Int32
	coord := NewRefreshCoordinator(store, func(ctx context.Context) (api.SessionData, error) {
		exchanges.Add(1)
		return api.SessionData{}, nil
	}, time.Second, nil)

	_, err := coord.Refresh(context.Background())
	assert.ErrorIs(t, err, api.ErrRefreshFailed)
	assert.ErrorIs(t, err, api.ErrNoSession)
	assert.Zero(t, exchanges.Load(), "no exchange without a refresh token")
}

func TestRefreshCoordinator_AbandonedWaiterStillCompletes(t *testing.T) {
	store := seededStore(t)
	release := make(chan struct{})

	coord := NewRefreshCoordinator(store, func(ctx context.Context) (api.SessionData, error) {
		<-release
		return api.SessionData{AccessToken: "fresh-access", RefreshToken: "refresh-2"}, nil
	}, 5*time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := coord.Refresh(ctx)
		done <- err
	}()

	// The waiter is abandoned mid-flight, as disconnect does.
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, api.ErrDisconnected)
	case <-time.After(time.Second):
		t.Fatal("abandoned waiter did not resolve")
	}

	// The exchange itself still completes and lands in the store.
	close(release)
	require.Eventually(t, func() bool {
		session, err := store.Get()
		return err == nil && session.AccessToken == "fresh-access"
	}, time.Second, 10*time.Millisecond)
}
