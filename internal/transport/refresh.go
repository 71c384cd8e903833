// ABOUTME: Single-flight token refresh coordinator shared by all in-flight requests.
// ABOUTME: One exchange per storm of auth failures; every waiter gets the same outcome.

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/remindful/sync-engine/internal/api"
	"github.com/remindful/sync-engine/internal/creds"
)

// refreshKey is the single-flight key; there is only ever one logical
// refresh per session.
const refreshKey = "refresh"

// exchangeFunc performs the actual refresh call against the remote
// endpoint. Supplied by the pipeline so the coordinator stays free of
// wire concerns.
type exchangeFunc func(ctx context.Context) (api.SessionData, error)

// RefreshCoordinator serializes credential renewal. Any number of requests
// that hit an authorization failure may call Refresh concurrently; exactly
// one exchange runs, and all callers resolve with its outcome. On exchange
// failure the session is cleared exactly once and every caller receives
// ErrRefreshFailed — the engine is expected to force a logout.
type RefreshCoordinator struct {
	group    singleflight.Group
	creds    creds.Store
	exchange exchangeFunc
	timeout  time.Duration
	logger   *slog.Logger
}

// NewRefreshCoordinator creates a coordinator over the given credential
// store and exchange function.
func NewRefreshCoordinator(store creds.Store, exchange exchangeFunc, timeout time.Duration, logger *slog.Logger) *RefreshCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefreshCoordinator{
		creds:    store,
		exchange: exchange,
		timeout:  timeout,
		logger:   logger.With("component", "refresh"),
	}
}

// Refresh returns a fresh access token, joining an in-flight exchange when
// one exists. A caller whose context ends while waiting resolves with
// ErrDisconnected; the exchange itself keeps running on a detached context
// so the shared outcome (and the credential store) stays consistent for
// everyone else.
func (r *RefreshCoordinator) Refresh(ctx context.Context) (string, error) {
	ch := r.group.DoChan(refreshKey, func() (any, error) {
		return r.doExchange()
	})

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", api.ErrDisconnected, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// doExchange runs exactly once per storm. It never triggers another
// refresh: a failure here is terminal by construction.
func (r *RefreshCoordinator) doExchange() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	session, err := r.creds.Get()
	if err != nil || session.RefreshToken == "" {
		r.logger.Warn("refresh requested with no refresh token")
		return "", fmt.Errorf("%w: %w", api.ErrRefreshFailed, api.ErrNoSession)
	}

	data, err := r.exchange(ctx)
	if err != nil {
		// Dead refresh token: tear the session down once, inside the
		// single flight, so concurrent waiters cannot double-clear.
		if clearErr := r.creds.Clear(); clearErr != nil {
			r.logger.Error("clearing session after failed refresh", "error", clearErr)
		}
		r.logger.Warn("session refresh failed", "error", err)
		return "", fmt.Errorf("%w: %w", api.ErrRefreshFailed, err)
	}

	newSession := creds.Session{
		AccessToken:  data.AccessToken,
		RefreshToken: data.RefreshToken,
		ExpiresAt:    data.ExpiresAt,
	}
	if newSession.RefreshToken == "" {
		// Server may rotate only the access token.
		newSession.RefreshToken = session.RefreshToken
	}
	if err := r.creds.Set(newSession); err != nil {
		return "", fmt.Errorf("storing refreshed session: %w", err)
	}

	r.logger.Info("session refreshed", "expires_at", data.ExpiresAt)
	return data.AccessToken, nil
}
