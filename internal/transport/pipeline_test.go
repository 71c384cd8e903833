// ABOUTME: Tests for the transport pipeline's stage chain against a fake API server.
// ABOUTME: Covers auth retry, single-flight under load, cache stages, and error surfacing.

package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remindful/sync-engine/internal/api"
	"github.com/remindful/sync-engine/internal/cache"
	"github.com/remindful/sync-engine/internal/creds"
	"github.com/remindful/sync-engine/internal/entity"
)

// fakeAPI is an in-process server speaking the JSON envelope. It accepts a
// single valid bearer token and answers a handful of operations.
type fakeAPI struct {
	mu           sync.Mutex
	validToken   string
	alwaysReject bool // reject every op regardless of token
	refreshDelay time.Duration
	refreshFails bool
	refreshCalls int
	opCalls      map[string]int
	server       *httptest.Server

	// respond overrides per-operation data payloads; respondErr makes an
	// operation answer with a structured error instead.
	respond    map[string]any
	respondErr map[string]api.ResponseError
}

func newFakeAPI(validToken string) *fakeAPI {
	f := &fakeAPI{
		validToken: validToken,
		opCalls:    make(map[string]int),
		respond:    make(map[string]any),
		respondErr: make(map[string]api.ResponseError),
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	return f
}

func (f *fakeAPI) handle(w http.ResponseWriter, r *http.Request) {
	var req api.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if req.OperationName == "refreshSession" {
		f.handleRefresh(w)
		return
	}

	f.mu.Lock()
	f.opCalls[req.OperationName]++
	valid := f.validToken
	reject := f.alwaysReject
	payload, hasPayload := f.respond[req.OperationName]
	respErr, hasErr := f.respondErr[req.OperationName]
	f.mu.Unlock()

	if reject || r.Header.Get("Authorization") != "Bearer "+valid {
		writeEnvelope(w, api.Response{Errors: []api.ResponseError{{
			Message:    "access token expired",
			Extensions: api.Extensions{Code: api.CodeUnauthenticated},
		}}})
		return
	}

	if hasErr {
		writeEnvelope(w, api.Response{Errors: []api.ResponseError{respErr}})
		return
	}

	if !hasPayload {
		payload = map[string]any{}
	}
	data, _ := json.Marshal(payload)
	writeEnvelope(w, api.Response{Data: data})
}

func (f *fakeAPI) handleRefresh(w http.ResponseWriter) {
	f.mu.Lock()
	f.refreshCalls++
	n := f.refreshCalls
	fails := f.refreshFails
	delay := f.refreshDelay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	if fails {
		writeEnvelope(w, api.Response{Errors: []api.ResponseError{{
			Message:    "refresh token revoked",
			Extensions: api.Extensions{Code: api.CodeUnauthenticated},
		}}})
		return
	}

	token := fmt.Sprintf("fresh-%d", n)
	f.mu.Lock()
	f.validToken = token
	f.mu.Unlock()

	data, _ := json.Marshal(map[string]any{"refreshSession": api.SessionData{
		AccessToken:  token,
		RefreshToken: "refresh-next",
		ExpiresAt:    time.Now().Add(time.Hour),
	}})
	writeEnvelope(w, api.Response{Data: data})
}

func (f *fakeAPI) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCalls
}

func (f *fakeAPI) opCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opCalls[name]
}

func writeEnvelope(w http.ResponseWriter, resp api.Response) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func newTestPipeline(t *testing.T, f *fakeAPI, accessToken string) (*Pipeline, *cache.Cache, *creds.MemoryStore) {
	t.Helper()
	store := creds.NewMemoryStore()
	require.NoError(t, store.Set(creds.Session{
		AccessToken:  accessToken,
		RefreshToken: "refresh-0",
		ExpiresAt:    time.Now().Add(time.Hour),
	}))
	c := cache.New(nil)
	p := New(f.server.URL, 5*time.Second, store, c, nil)
	return p, c, store
}

func TestPipeline_SuccessWritesCache(t *testing.T) {
	f := newFakeAPI("good")
	defer f.server.Close()

	due := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	f.respond["reminders"] = map[string]any{"reminders": []*entity.Reminder{
		{ID: "r1", Version: 1, Title: "Buy milk", DueAt: &due},
		{ID: "r2", Version: 4, Title: "Walk dog"},
	}}

	p, c, _ := newTestPipeline(t, f, "good")

	res, err := p.Do(t.Context(), api.Reminders("", false))
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Len(t, res.Entities, 2)

	got := c.Get(entity.KindReminder, "r1")
	require.NotNil(t, got)
	assert.Equal(t, "Buy milk", got.(*entity.Reminder).Title)
	assert.Equal(t, int64(1), got.EntityVersion())
}

func TestPipeline_CacheFirstShortCircuit(t *testing.T) {
	f := newFakeAPI("good")
	defer f.server.Close()

	p, c, _ := newTestPipeline(t, f, "good")
	c.Put(&entity.Reminder{ID: "r1", Version: 1, Title: "cached"})

	res, err := p.Do(t.Context(), api.Reminders("", false))
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	require.Len(t, res.Entities, 1)
	assert.Equal(t, "cached", res.Entities[0].(*entity.Reminder).Title)
	assert.Zero(t, f.opCount("reminders"), "cache hit must not reach the network")
}

func TestPipeline_BypassCacheForcesNetwork(t *testing.T) {
	f := newFakeAPI("good")
	defer f.server.Close()
	f.respond["reminders"] = map[string]any{"reminders": []*entity.Reminder{
		{ID: "r1", Version: 2, Title: "fresh"},
	}}

	p, c, _ := newTestPipeline(t, f, "good")
	c.Put(&entity.Reminder{ID: "r1", Version: 1, Title: "cached"})

	res, err := p.Do(t.Context(), api.Reminders("", false), BypassCache())
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, 1, f.opCount("reminders"))
	assert.Equal(t, "fresh", c.Get(entity.KindReminder, "r1").(*entity.Reminder).Title)
}

func TestPipeline_RefreshAndRetryOnce(t *testing.T) {
	f := newFakeAPI("other") // stored token is not valid
	defer f.server.Close()
	f.respond["me"] = map[string]any{"me": &entity.User{ID: "u1", Version: 1, Email: "me@example.com"}}

	p, c, store := newTestPipeline(t, f, "stale")

	res, err := p.Do(t.Context(), api.Me(), BypassCache())
	require.NoError(t, err)
	require.Len(t, res.Entities, 1)
	assert.Equal(t, "me@example.com", res.Entities[0].(*entity.User).Email)

	assert.Equal(t, 1, f.refreshCount())
	assert.Equal(t, 2, f.opCount("me"), "one failed attempt plus one retry")

	// Retried-and-succeeded response is still persisted.
	require.NotNil(t, c.Get(entity.KindUser, "u1"))

	// The store now holds the refreshed session.
	session, err := store.Get()
	require.NoError(t, err)
	assert.Equal(t, "fresh-1", session.AccessToken)
}

func TestPipeline_SingleFlightUnderConcurrentStorm(t *testing.T) {
	f := newFakeAPI("other")
	defer f.server.Close()
	f.refreshDelay = 50 * time.Millisecond
	f.respond["reminders"] = map[string]any{"reminders": []*entity.Reminder{}}

	p, _, _ := newTestPipeline(t, f, "stale")

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = p.Do(t.Context(), api.Reminders("", false), BypassCache())
		}()
	}
	wg.Wait()

	for i := range n {
		require.NoError(t, errs[i], "request %d", i)
	}
	assert.Equal(t, 1, f.refreshCount(), "N concurrent 401s must produce exactly one refresh")
}

func TestPipeline_TerminalAuthErrorAfterFailedRetry(t *testing.T) {
	// Refresh succeeds, but the server rejects even the fresh token.
	f := newFakeAPI("stale")
	defer f.server.Close()
	f.alwaysReject = true

	p, _, _ := newTestPipeline(t, f, "stale")

	_, err := p.Do(t.Context(), api.Me(), BypassCache())
	assert.ErrorIs(t, err, api.ErrAuthExpired)
	assert.Equal(t, 1, f.refreshCount())
	assert.Equal(t, 2, f.opCount("me"), "exactly one retry per logical call, never a loop")
}

func TestPipeline_RefreshFailureForcesLogout(t *testing.T) {
	f := newFakeAPI("other")
	defer f.server.Close()
	f.refreshFails = true

	p, _, store := newTestPipeline(t, f, "stale")

	_, err := p.Do(t.Context(), api.Me(), BypassCache())
	assert.ErrorIs(t, err, api.ErrRefreshFailed)
	assert.Equal(t, 1, f.refreshCount(), "a failed refresh is not retried")

	_, err = store.Get()
	assert.ErrorIs(t, err, creds.ErrNoSession, "session cleared after failed refresh")
}

func TestPipeline_PremiumRequiredSurfacedVerbatim(t *testing.T) {
	f := newFakeAPI("good")
	defer f.server.Close()

	f.respondErr["createList"] = api.ResponseError{
		Message:    "upgrade required",
		Extensions: api.Extensions{Code: api.CodePremiumRequired},
	}

	p, _, _ := newTestPipeline(t, f, "good")

	_, err := p.Do(t.Context(), api.CreateList("Work", "blue"))
	var apiErr *api.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.CodePremiumRequired, apiErr.Code)
	assert.Zero(t, f.refreshCount(), "premium errors never trigger a refresh")
}

func TestPipeline_DeleteEvictsFromCache(t *testing.T) {
	f := newFakeAPI("good")
	defer f.server.Close()
	f.respond["deleteReminder"] = map[string]any{"deleteReminder": true}

	p, c, _ := newTestPipeline(t, f, "good")
	c.Put(&entity.Reminder{ID: "r1", Version: 1, Title: "doomed"})

	_, err := p.Do(t.Context(), api.DeleteReminder("r1"))
	require.NoError(t, err)
	assert.Nil(t, c.Get(entity.KindReminder, "r1"))
}

func TestPipeline_NetworkErrorNotRetried(t *testing.T) {
	f := newFakeAPI("good")
	f.server.Close() // nothing listening

	p, _, _ := newTestPipeline(t, f, "good")

	_, err := p.Do(t.Context(), api.Me(), BypassCache())
	var netErr *api.NetworkError
	assert.ErrorAs(t, err, &netErr)
}

func TestPipeline_NoSession(t *testing.T) {
	f := newFakeAPI("good")
	defer f.server.Close()

	store := creds.NewMemoryStore()
	p := New(f.server.URL, 5*time.Second, store, cache.New(nil), nil)

	_, err := p.Do(t.Context(), api.Me(), BypassCache())
	assert.ErrorIs(t, err, api.ErrNoSession)
	assert.ErrorIs(t, err, creds.ErrNoSession, "the store's sentinel stays reachable through the wrap")
}

func TestPipeline_PreflightRefreshOnExpiredSession(t *testing.T) {
	f := newFakeAPI("other")
	defer f.server.Close()
	f.respond["me"] = map[string]any{"me": &entity.User{ID: "u1"}}

	store := creds.NewMemoryStore()
	require.NoError(t, store.Set(creds.Session{
		AccessToken:  "stale",
		RefreshToken: "refresh-0",
		ExpiresAt:    time.Now().Add(-time.Minute), // known expired
	}))
	p := New(f.server.URL, 5*time.Second, store, cache.New(nil), nil)

	_, err := p.Do(t.Context(), api.Me(), BypassCache())
	require.NoError(t, err)

	assert.Equal(t, 1, f.refreshCount())
	assert.Equal(t, 1, f.opCount("me"), "expired token must be refreshed before the first attempt")
}

func TestPipeline_CreateReminderScenario(t *testing.T) {
	f := newFakeAPI("good")
	defer f.server.Close()

	due := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	f.respond["createReminder"] = map[string]any{"createReminder": &entity.Reminder{
		ID: "r-new", Version: 1, Title: "Buy milk", DueAt: &due,
	}}

	p, c, _ := newTestPipeline(t, f, "good")

	res, err := p.Do(t.Context(), api.CreateReminder(api.ReminderInput{
		ListID: "l1", Title: "Buy milk", DueAt: &due,
	}))
	require.NoError(t, err)
	require.Len(t, res.Entities, 1)

	got := c.Get(entity.KindReminder, "r-new")
	require.NotNil(t, got)
	r := got.(*entity.Reminder)
	assert.Equal(t, "Buy milk", r.Title)
	assert.Equal(t, int64(1), r.Version)
	require.NotNil(t, r.DueAt)
	assert.True(t, due.Equal(*r.DueAt))
}
