// ABOUTME: Sync orchestrator façade tying transport, cache, watch, and push together.
// ABOUTME: One Engine per account session; owns lifecycle, status, and snapshots.

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/remindful/sync-engine/internal/api"
	"github.com/remindful/sync-engine/internal/cache"
	"github.com/remindful/sync-engine/internal/config"
	"github.com/remindful/sync-engine/internal/creds"
	"github.com/remindful/sync-engine/internal/entity"
	"github.com/remindful/sync-engine/internal/push"
	"github.com/remindful/sync-engine/internal/transport"
	"github.com/remindful/sync-engine/internal/watch"
)

// Status is the engine's coarse sync state.
type Status string

const (
	StatusSynced  Status = "synced"
	StatusSyncing Status = "syncing"
	StatusOffline Status = "offline"
	StatusError   Status = "error"
)

// ReminderEvent is a semantic change derived from cache notifications,
// distinct from the raw push stream: created/updated carry the new state,
// deleted carries only the ID.
type ReminderEvent struct {
	Reminder *entity.Reminder // nil for deletions
	ID       string
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithLogger sets the engine's logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine is the per-session sync orchestrator. All methods are safe for
// concurrent use.
type Engine struct {
	cfg    *config.Config
	store  creds.Store
	logger *slog.Logger

	cache    *cache.Cache
	pipeline *transport.Pipeline
	registry *watch.Registry

	mu        sync.Mutex
	listener  *push.Listener // nil while disconnected
	connected bool
	status    Status
	diffStop  context.CancelFunc
	diffDone  chan struct{}

	pending atomic.Int64 // mutations dispatched but not yet resolved

	cbMu      sync.Mutex
	onCreated []func(ReminderEvent)
	onUpdated []func(ReminderEvent)
	onDeleted []func(ReminderEvent)
}

// New builds an engine from configuration and a credential store. The
// engine starts disconnected; Connect brings it online.
func New(cfg *config.Config, store creds.Store, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:    cfg,
		store:  store,
		status: StatusOffline,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}

	var cacheOpts []cache.Option
	if cfg.Cache.Path != "" {
		backend, err := cache.NewSQLiteBackend(cfg.Cache.Path)
		if err != nil {
			return nil, fmt.Errorf("opening cache persistence: %w", err)
		}
		cacheOpts = append(cacheOpts, cache.WithPersistence(backend))
	}
	e.cache = cache.New(e.logger, cacheOpts...)

	e.pipeline = transport.New(cfg.API.Endpoint, cfg.API.RequestTimeout, store, e.cache, e.logger)
	e.registry = watch.NewRegistry(e.pipeline, e.cache, e.logger)

	return e, nil
}

// newListener builds a fresh push listener. Listeners are single-use; each
// connect cycle gets its own.
func (e *Engine) newListener() *push.Listener {
	return push.New(push.Config{
		Endpoint:     e.cfg.Push.Endpoint,
		MinDelay:     e.cfg.Push.ReconnectMinDelay,
		MaxDelay:     e.cfg.Push.ReconnectMaxDelay,
		PingInterval: e.cfg.Push.PingInterval,
		MaxAttempts:  e.cfg.Push.MaxReconnectAttempts,
		OnState:      e.onPushState,
	}, e.store, e.cache, e.registry, e.logger)
}

// Connect brings the engine online: primes the primary collections, then
// starts the push listener and the semantic change loop. Idempotent; a
// second call while connected is a no-op. On priming failure the engine
// stays disconnected (the cache still serves warm-start data).
func (e *Engine) Connect(ctx context.Context) error {
	e.mu.Lock()
	if e.connected {
		e.mu.Unlock()
		return nil
	}
	e.status = StatusSyncing
	e.mu.Unlock()

	if err := e.prime(ctx); err != nil {
		e.setStatus(StatusError)
		return fmt.Errorf("priming collections: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.connected {
		return nil
	}

	diffCtx, cancel := context.WithCancel(context.Background())
	e.diffStop = cancel
	e.diffDone = make(chan struct{})
	// Subscribe and seed before Connect returns so no post-connect
	// mutation can slip past the semantic change loop: anything already
	// cached is "seen", anything later arrives on the channel.
	changes, subID := e.cache.Subscribe(diffCtx, entity.KindReminder)
	seen := make(map[string]int64)
	for _, ent := range e.cache.List(entity.KindReminder) {
		seen[ent.EntityID()] = ent.EntityVersion()
	}
	go e.diffLoop(diffCtx, changes, subID, seen, e.diffDone)

	e.listener = e.newListener()
	e.listener.Start()
	e.connected = true
	e.status = StatusSynced
	e.logger.Info("engine connected")
	return nil
}

// Disconnect cancels every watcher, closes the push listener, and stops
// the semantic change loop. Safe to call when already disconnected.
func (e *Engine) Disconnect() {
	e.mu.Lock()
	if !e.connected {
		e.mu.Unlock()
		return
	}
	e.connected = false
	e.status = StatusOffline
	stop, done := e.diffStop, e.diffDone
	listener := e.listener
	e.listener = nil
	e.mu.Unlock()

	e.registry.CancelAll()
	if listener != nil {
		listener.Close()
	}
	if stop != nil {
		stop()
		<-done
	}
	e.logger.Info("engine disconnected")
}

// Close disconnects and releases the cache (and its persistence backend).
// The engine cannot be reused afterwards.
func (e *Engine) Close() error {
	e.Disconnect()
	return e.cache.Close()
}

// prime pulls the primary collections fresh, concurrently. Any failure
// fails the connect.
func (e *Engine) prime(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, op := range []api.Operation{
		api.Reminders("", false),
		api.Lists(),
		api.Me(),
	} {
		g.Go(func() error {
			_, err := e.pipeline.Do(ctx, op, transport.BypassCache())
			return err
		})
	}
	return g.Wait()
}

// Refetch forces cache-bypass pulls of all primary collections. Used after
// a reconnect or whenever the caller suspects drift.
func (e *Engine) Refetch(ctx context.Context) error {
	e.setStatus(StatusSyncing)
	if err := e.prime(ctx); err != nil {
		e.setStatus(StatusError)
		return err
	}
	e.setStatus(StatusSynced)
	return nil
}

// Watch registers a live query. The handle's callback fires on the current
// cached projection and again after every relevant cache change.
func (e *Engine) Watch(q watch.Query, onChange watch.Callback) *watch.Handle {
	return e.registry.Watch(q, onChange)
}

// Mutate runs a write operation through the pipeline. The result (when the
// server returns the written entity) is already in the cache by the time
// Mutate returns.
func (e *Engine) Mutate(ctx context.Context, op api.Operation) (*transport.Result, error) {
	e.pending.Add(1)
	defer e.pending.Add(-1)
	return e.pipeline.Do(ctx, op)
}

// Do runs any operation through the pipeline, reads included.
func (e *Engine) Do(ctx context.Context, op api.Operation, opts ...transport.CallOption) (*transport.Result, error) {
	return e.pipeline.Do(ctx, op, opts...)
}

// ---- typed convenience surface ----

func (e *Engine) CreateReminder(ctx context.Context, input api.ReminderInput) (*entity.Reminder, error) {
	return e.mutateReminder(ctx, api.CreateReminder(input))
}

func (e *Engine) UpdateReminder(ctx context.Context, id string, input api.ReminderInput) (*entity.Reminder, error) {
	return e.mutateReminder(ctx, api.UpdateReminder(id, input))
}

func (e *Engine) CompleteReminder(ctx context.Context, id string) (*entity.Reminder, error) {
	return e.mutateReminder(ctx, api.CompleteReminder(id))
}

func (e *Engine) SnoozeReminder(ctx context.Context, id string, until time.Time) (*entity.Reminder, error) {
	return e.mutateReminder(ctx, api.SnoozeReminder(id, until))
}

func (e *Engine) DeleteReminder(ctx context.Context, id string) error {
	_, err := e.Mutate(ctx, api.DeleteReminder(id))
	return err
}

func (e *Engine) CreateList(ctx context.Context, name, color string) (*entity.ReminderList, error) {
	res, err := e.Mutate(ctx, api.CreateList(name, color))
	if err != nil {
		return nil, err
	}
	for _, ent := range res.Entities {
		if l, ok := ent.(*entity.ReminderList); ok {
			return l, nil
		}
	}
	return nil, nil
}

func (e *Engine) DeleteList(ctx context.Context, id string) error {
	_, err := e.Mutate(ctx, api.DeleteList(id))
	return err
}

func (e *Engine) mutateReminder(ctx context.Context, op api.Operation) (*entity.Reminder, error) {
	res, err := e.Mutate(ctx, op)
	if err != nil {
		return nil, err
	}
	for _, ent := range res.Entities {
		if r, ok := ent.(*entity.Reminder); ok {
			return r, nil
		}
	}
	return nil, nil
}

// ---- snapshots ----

// Reminders returns the cached reminders for a list (all lists when listID
// is empty), due-date ordered. Purely local; never touches the network.
func (e *Engine) Reminders(listID string) []*entity.Reminder {
	q := watch.RemindersQuery{ListID: listID}
	out := make([]*entity.Reminder, 0)
	for _, ent := range q.Project(e.cache) {
		out = append(out, ent.(*entity.Reminder))
	}
	return out
}

// Lists returns the cached reminder lists, name ordered.
func (e *Engine) Lists() []*entity.ReminderList {
	out := make([]*entity.ReminderList, 0)
	for _, ent := range (watch.ListsQuery{}).Project(e.cache) {
		out = append(out, ent.(*entity.ReminderList))
	}
	return out
}

// Devices fetches the account's registered devices. Cache-first like any
// other read; pass transport.BypassCache via Do for a forced pull.
func (e *Engine) Devices(ctx context.Context) ([]*entity.Device, error) {
	res, err := e.pipeline.Do(ctx, api.Devices())
	if err != nil {
		return nil, err
	}
	out := make([]*entity.Device, 0, len(res.Entities))
	for _, ent := range res.Entities {
		if d, ok := ent.(*entity.Device); ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// Profile returns the cached user profile, or nil before the first fetch.
func (e *Engine) Profile() *entity.User {
	ents := (watch.UserQuery{}).Project(e.cache)
	if len(ents) == 0 {
		return nil
	}
	return ents[0].(*entity.User)
}

// Status reports the engine's coarse state. Syncing is reported whenever
// mutations are in flight, even between explicit transitions.
func (e *Engine) Status() Status {
	e.mu.Lock()
	s := e.status
	e.mu.Unlock()
	if s == StatusSynced && e.pending.Load() > 0 {
		return StatusSyncing
	}
	return s
}

// Pending reports the number of in-flight mutations.
func (e *Engine) Pending() int {
	return int(e.pending.Load())
}

func (e *Engine) setStatus(s Status) {
	e.mu.Lock()
	e.status = s
	e.mu.Unlock()
}

func (e *Engine) onPushState(s push.State) {
	switch s {
	case push.StateConnected:
		e.setStatus(StatusSynced)
	case push.StateReconnecting:
		e.setStatus(StatusSyncing)
	case push.StateOffline:
		e.setStatus(StatusOffline)
		e.logger.Warn("push channel offline; serving cached data")
	}
}

// ---- semantic reminder callbacks ----

// OnReminderCreated registers a callback fired when a reminder appears in
// the cache for the first time, regardless of whether it arrived by push,
// by fetch, or by local mutation.
func (e *Engine) OnReminderCreated(fn func(ReminderEvent)) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.onCreated = append(e.onCreated, fn)
}

// OnReminderUpdated registers a callback fired when a cached reminder
// changes version.
func (e *Engine) OnReminderUpdated(fn func(ReminderEvent)) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.onUpdated = append(e.onUpdated, fn)
}

// OnReminderDeleted registers a callback fired when a reminder leaves the
// cache.
func (e *Engine) OnReminderDeleted(fn func(ReminderEvent)) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.onDeleted = append(e.onDeleted, fn)
}

// diffLoop turns raw cache notifications into semantic events by tracking
// which reminder versions have been seen. A put for an unseen ID is a
// create; a put that moves the version is an update; a re-put of the same
// version (replayed push event) is dropped.
func (e *Engine) diffLoop(ctx context.Context, changes <-chan cache.Change, subID string, seen map[string]int64, done chan struct{}) {
	defer close(done)
	defer e.cache.Unsubscribe(subID)

	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			switch change.Op {
			case cache.OpEvict:
				if _, known := seen[change.ID]; !known {
					continue
				}
				delete(seen, change.ID)
				e.fire(e.deletedCallbacks(), ReminderEvent{ID: change.ID})
			case cache.OpPut:
				r, ok := change.Entity.(*entity.Reminder)
				if !ok {
					continue
				}
				prev, known := seen[change.ID]
				if known && r.Version <= prev {
					continue
				}
				seen[change.ID] = r.Version
				ev := ReminderEvent{Reminder: r, ID: change.ID}
				if known {
					e.fire(e.updatedCallbacks(), ev)
				} else {
					e.fire(e.createdCallbacks(), ev)
				}
			}
		}
	}
}

func (e *Engine) createdCallbacks() []func(ReminderEvent) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	return append([]func(ReminderEvent){}, e.onCreated...)
}

func (e *Engine) updatedCallbacks() []func(ReminderEvent) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	return append([]func(ReminderEvent){}, e.onUpdated...)
}

func (e *Engine) deletedCallbacks() []func(ReminderEvent) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	return append([]func(ReminderEvent){}, e.onDeleted...)
}

func (e *Engine) fire(fns []func(ReminderEvent), ev ReminderEvent) {
	for _, fn := range fns {
		fn(ev)
	}
}
