// ABOUTME: Long-lived websocket listener for server-pushed change events.
// ABOUTME: Reconciles events into the cache and reconnects with bounded backoff.

package push

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"

	"github.com/remindful/sync-engine/internal/cache"
	"github.com/remindful/sync-engine/internal/creds"
	"github.com/remindful/sync-engine/internal/entity"
)

// Actions carried by change events.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

// ChangeEvent is one server-originated mutation notification. Transient:
// consumed during reconciliation, never cached.
type ChangeEvent struct {
	Action   string          `json:"action"`
	Kind     entity.Kind     `json:"kind"`
	EntityID string          `json:"entityId"`
	Entity   json.RawMessage `json:"entity,omitempty"`
}

// State describes the listener's connection lifecycle.
type State int

const (
	StateConnected State = iota
	StateReconnecting
	StateOffline // reconnect attempts exhausted
)

// Refetcher is the slice of the watch registry the listener drives:
// list-level watchers are refetched after reminder events because pushed
// payloads do not carry server-derived counts.
type Refetcher interface {
	RefetchKind(kind entity.Kind)
}

// Config holds the listener's connection policy.
type Config struct {
	Endpoint     string
	MinDelay     time.Duration
	MaxDelay     time.Duration
	PingInterval time.Duration
	MaxAttempts  int

	// OnState observes lifecycle transitions. Optional.
	OnState func(State)
}

// Listener owns one duplex connection per account session.
type Listener struct {
	cfg      Config
	creds    creds.Store
	cache    *cache.Cache
	registry Refetcher
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	connected bool
}

// New creates a listener. Start must be called to connect.
func New(cfg Config, store creds.Store, c *cache.Cache, registry Refetcher, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Listener{
		cfg:      cfg,
		creds:    store,
		cache:    c,
		registry: registry,
		logger:   logger.With("component", "push"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the connection loop in the background.
func (l *Listener) Start() {
	l.wg.Add(1)
	go l.run()
}

// Close tears the connection down and waits for the loop to exit. Safe to
// call more than once.
func (l *Listener) Close() {
	l.cancel()
	l.wg.Wait()
}

// Connected reports whether the duplex channel is currently up.
func (l *Listener) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *Listener) setConnected(v bool) {
	l.mu.Lock()
	l.connected = v
	l.mu.Unlock()
}

func (l *Listener) notify(s State) {
	if l.cfg.OnState != nil {
		l.cfg.OnState(s)
	}
}

// run dials, serves one connection until it drops, then retries with
// exponential backoff. The backoff resets after every successful connect;
// exhausting MaxAttempts consecutive failures reports offline and stops —
// the engine keeps serving cached data.
func (l *Listener) run() {
	defer l.wg.Done()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.cfg.MinDelay
	bo.MaxInterval = l.cfg.MaxDelay
	bo.MaxElapsedTime = 0
	failures := 0

	for {
		if l.ctx.Err() != nil {
			return
		}

		err := l.serveOnce()
		l.setConnected(false)
		if l.ctx.Err() != nil {
			return
		}

		if err == nil {
			// Clean connect-and-serve cycle that still ended: the
			// server closed on us. Reset and reconnect promptly.
			failures = 0
			bo.Reset()
		} else {
			failures++
			l.logger.Warn("push connection lost", "error", err, "failures", failures)
		}

		if l.cfg.MaxAttempts > 0 && failures >= l.cfg.MaxAttempts {
			l.logger.Error("push reconnect attempts exhausted", "attempts", failures)
			l.notify(StateOffline)
			return
		}

		l.notify(StateReconnecting)
		select {
		case <-l.ctx.Done():
			return
		case <-time.After(bo.NextBackOff()):
		}
	}
}

// serveOnce dials and reads events until the connection fails. Returns nil
// only when the remote closed normally after a successful session.
func (l *Listener) serveOnce() error {
	session, err := l.creds.Get()
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(l.ctx, 30*time.Second)
	conn, _, err := websocket.Dial(dialCtx, l.cfg.Endpoint+"?access_token="+session.AccessToken, nil)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	l.setConnected(true)
	l.notify(StateConnected)
	l.logger.Info("push connected")

	// Keepalive pings on the same connection.
	pingCtx, stopPing := context.WithCancel(l.ctx)
	defer stopPing()
	go l.keepalive(pingCtx, conn)

	for {
		_, data, err := conn.Read(l.ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return err
		}

		var ev ChangeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			l.logger.Warn("undecodable push event", "error", err)
			continue
		}
		l.Reconcile(ev)
	}
}

func (l *Listener) keepalive(ctx context.Context, conn *websocket.Conn) {
	if l.cfg.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(l.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Ping(ctx); err != nil {
				return
			}
		}
	}
}

// Reconcile applies one change event to the cache. Idempotent: replaying
// an event leaves the cache in the same final state, and payloads older
// than the cached version are dropped.
func (l *Listener) Reconcile(ev ChangeEvent) {
	if !ev.Kind.Valid() {
		l.logger.Warn("push event with unknown kind", "kind", ev.Kind, "entity_id", ev.EntityID)
		return
	}

	switch ev.Action {
	case ActionDeleted:
		l.cache.Evict(ev.Kind, ev.EntityID)

	case ActionCreated, ActionUpdated:
		if len(ev.Entity) == 0 {
			// Nothing to upsert; let the watchers pull the truth.
			l.registry.RefetchKind(ev.Kind)
			break
		}

		decoded, err := entity.NewOfKind(ev.Kind)
		if err != nil {
			return
		}
		if err := json.Unmarshal(ev.Entity, decoded); err != nil {
			l.logger.Warn("undecodable push payload", "kind", ev.Kind, "entity_id", ev.EntityID, "error", err)
			return
		}

		if existing := l.cache.Get(ev.Kind, ev.EntityID); existing != nil &&
			decoded.EntityVersion() < existing.EntityVersion() {
			l.logger.Debug("dropping stale push payload",
				"kind", ev.Kind, "entity_id", ev.EntityID,
				"pushed_version", decoded.EntityVersion(),
				"cached_version", existing.EntityVersion())
			return
		}
		l.cache.Put(decoded)

	default:
		l.logger.Warn("push event with unknown action", "action", ev.Action)
		return
	}

	// Server-derived list fields (counts) are not carried on reminder
	// payloads; conservatively refetch list watchers after any reminder
	// event.
	if ev.Kind == entity.KindReminder {
		l.registry.RefetchKind(entity.KindList)
	}
}
