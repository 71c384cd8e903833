// ABOUTME: Ordered request pipeline: cache read, auth inject, fetch, parse, refresh-retry, cache write.
// ABOUTME: Stage order is fixed; the one-shot auth retry runs after parsing and before persistence.

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/remindful/sync-engine/internal/api"
	"github.com/remindful/sync-engine/internal/cache"
	"github.com/remindful/sync-engine/internal/creds"
	"github.com/remindful/sync-engine/internal/entity"
)

// Result is the outcome of a successful pipeline call.
type Result struct {
	// Entities extracted from the response (or served from cache).
	Entities []entity.Entity

	// Data is the raw response payload; nil for cache-served results.
	Data json.RawMessage

	// FromCache marks a cache-first short circuit that never hit the
	// network.
	FromCache bool
}

type callOptions struct {
	bypassCache bool
}

// CallOption adjusts a single pipeline call.
type CallOption func(*callOptions)

// BypassCache forces the network even for cache-first operations. Used by
// watcher refetches and pull-to-refresh.
func BypassCache() CallOption {
	return func(o *callOptions) { o.bypassCache = true }
}

// Pipeline executes logical operations against the remote API, consulting
// the credential store and the cache at fixed stages.
type Pipeline struct {
	endpoint string
	client   *http.Client
	creds    creds.Store
	cache    *cache.Cache
	refresh  *RefreshCoordinator
	logger   *slog.Logger
	nowFn    func() time.Time
}

// New creates a pipeline. The refresh coordinator is owned by the pipeline
// and wired to its own network stage.
func New(endpoint string, timeout time.Duration, store creds.Store, c *cache.Cache, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		creds:    store,
		cache:    c,
		logger:   logger.With("component", "pipeline"),
		nowFn:    time.Now,
	}
	p.refresh = NewRefreshCoordinator(store, p.refreshExchange, timeout, logger)
	return p
}

// Coordinator exposes the refresh coordinator for engine-level logout
// handling.
func (p *Pipeline) Coordinator() *RefreshCoordinator { return p.refresh }

// Do executes one logical operation through the stage chain.
func (p *Pipeline) Do(ctx context.Context, op api.Operation, opts ...CallOption) (*Result, error) {
	var options callOptions
	for _, opt := range opts {
		opt(&options)
	}

	// Stage 1: cache read. Best-effort reads are served locally when the
	// cache already holds what the operation covers.
	if op.Policy == api.CacheFirst && !op.Mutation && !options.bypassCache {
		if res, ok := p.fromCache(op); ok {
			return res, nil
		}
	}

	// Stage 2: auth inject, with a pre-flight refresh when the stored
	// token is already past its expiry — a guaranteed 401 round trip
	// otherwise.
	token, err := p.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	// Stages 3-4: network fetch and response parse.
	resp, err := p.execute(ctx, op, token)
	if err != nil {
		return nil, err
	}

	// Stage 5: refresh-and-retry, exactly once per logical call. The
	// refresh exchange itself never re-enters this stage.
	if respErr := resp.Err(); respErr != nil {
		if !api.IsAuthFailure(respErr) {
			return nil, respErr
		}

		newToken, refreshErr := p.refresh.Refresh(ctx)
		if refreshErr != nil {
			return nil, refreshErr
		}

		p.logger.Debug("retrying after refresh", "operation", op.Name)
		resp, err = p.execute(ctx, op, newToken)
		if err != nil {
			return nil, err
		}
		if retryErr := resp.Err(); retryErr != nil {
			if api.IsAuthFailure(retryErr) {
				// Server still refuses a freshly-minted token.
				return nil, fmt.Errorf("%w: %w", api.ErrAuthExpired, retryErr)
			}
			return nil, retryErr
		}
	}

	// Stage 6: cache write. A retried-and-succeeded response lands here
	// the same as a first-attempt success.
	return p.commit(op, resp)
}

// fromCache serves a cache-first read locally when possible.
func (p *Pipeline) fromCache(op api.Operation) (*Result, bool) {
	if op.ID != "" {
		if e := p.cache.Get(op.Kind, op.ID); e != nil {
			return &Result{Entities: []entity.Entity{e}, FromCache: true}, true
		}
		return nil, false
	}
	if p.cache.Has(op.Kind) {
		return &Result{Entities: p.cache.List(op.Kind), FromCache: true}, true
	}
	return nil, false
}

// accessToken returns the token to attach, refreshing first when the
// stored one is known-expired.
func (p *Pipeline) accessToken(ctx context.Context) (string, error) {
	session, err := p.creds.Get()
	if err != nil {
		// Both sentinels satisfy errors.Is: the store's and the API
		// taxonomy's view of "nothing to authenticate with".
		return "", fmt.Errorf("%w: %w", api.ErrNoSession, err)
	}

	if p.tokenExpired(session) {
		p.logger.Debug("access token expired, refreshing before request")
		token, err := p.refresh.Refresh(ctx)
		if err != nil {
			return "", err
		}
		return token, nil
	}
	return session.AccessToken, nil
}

// tokenExpired checks the session's recorded expiry, falling back to the
// JWT exp claim when the session does not carry one. The token is not
// verified here; the server is the authority, this check only avoids a
// round trip that is certain to fail.
func (p *Pipeline) tokenExpired(session creds.Session) bool {
	now := p.nowFn()
	if !session.ExpiresAt.IsZero() {
		return session.Expired(now)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(session.AccessToken, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return now.After(exp.Time)
}

// execute performs one network round trip and decodes the envelope.
// An empty token sends the request unauthenticated (the refresh exchange).
func (p *Pipeline) execute(ctx context.Context, op api.Operation, token string) (*api.Response, error) {
	body, err := json.Marshal(api.Request{OperationName: op.Name, Variables: op.Variables})
	if err != nil {
		return nil, fmt.Errorf("encoding request %s: %w", op.Name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request %s: %w", op.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	httpResp, err := p.client.Do(req)
	if err != nil {
		return nil, &api.NetworkError{Op: op.Name, Err: err}
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &api.NetworkError{Op: op.Name, Err: err}
	}

	// Servers that speak the envelope return structured errors with 200;
	// anything else without a decodable envelope is a server failure.
	var resp api.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		if httpResp.StatusCode != http.StatusOK {
			return nil, &api.ServerError{Status: httpResp.StatusCode}
		}
		return nil, &api.ServerError{Body: truncate(string(raw), 200)}
	}
	if httpResp.StatusCode != http.StatusOK && len(resp.Errors) == 0 {
		return nil, &api.ServerError{Status: httpResp.StatusCode}
	}

	return &resp, nil
}

// commit runs the cache-write stage and assembles the result.
func (p *Pipeline) commit(op api.Operation, resp *api.Response) (*Result, error) {
	result := &Result{Data: resp.Data}

	if op.Extract != nil && len(resp.Data) > 0 {
		entities, err := op.Extract(resp.Data)
		if err != nil {
			return nil, &api.ServerError{Body: err.Error()}
		}
		if len(entities) > 0 {
			p.cache.PutBatch(entities)
		}
		result.Entities = entities
	}

	for _, ev := range op.Evictions {
		p.cache.Evict(ev.Kind, ev.ID)
	}

	return result, nil
}

// refreshExchange is the network half of the refresh coordinator. It posts
// the refreshSession operation unauthenticated and decodes the new session.
// Declared envelope errors here are terminal — there is no refresh of a
// refresh.
func (p *Pipeline) refreshExchange(ctx context.Context) (api.SessionData, error) {
	session, err := p.creds.Get()
	if err != nil {
		return api.SessionData{}, err
	}

	resp, err := p.execute(ctx, api.RefreshSession(session.RefreshToken), "")
	if err != nil {
		return api.SessionData{}, err
	}
	if respErr := resp.Err(); respErr != nil {
		return api.SessionData{}, respErr
	}

	return api.DecodeSession(resp.Data)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
