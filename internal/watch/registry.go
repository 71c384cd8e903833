// ABOUTME: Watch registry turning declarative queries into live subscriptions.
// ABOUTME: Watchers re-project on cache changes; cancel is race-safe against in-flight fetches.

package watch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/remindful/sync-engine/internal/api"
	"github.com/remindful/sync-engine/internal/cache"
	"github.com/remindful/sync-engine/internal/entity"
	"github.com/remindful/sync-engine/internal/transport"
)

// Fetcher is the slice of the transport pipeline the registry needs.
type Fetcher interface {
	Do(ctx context.Context, op api.Operation, opts ...transport.CallOption) (*transport.Result, error)
}

// Result is delivered to a watcher's callback: either a fresh projection
// or a fetch error. On error the previous projection remains valid; the
// watcher keeps serving the last good snapshot.
type Result struct {
	Entities []entity.Entity
	Err      error
}

// Callback receives watch results. It is invoked serially per handle.
// Callbacks must not call Cancel on their own handle.
type Callback func(Result)

// Registry tracks active watch subscriptions and drives their refetches.
type Registry struct {
	mu       sync.Mutex
	fetcher  Fetcher
	cache    *cache.Cache
	logger   *slog.Logger
	watchers map[string]*Handle
}

// NewRegistry creates an empty registry. Pass nil logger for default.
func NewRegistry(fetcher Fetcher, c *cache.Cache, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		fetcher:  fetcher,
		cache:    c,
		logger:   logger.With("component", "watch"),
		watchers: make(map[string]*Handle),
	}
}

// Watch creates a live subscription for the query. The current cached
// projection (when non-empty) is delivered synchronously before Watch
// returns; a cache-bypassing fetch then runs in the background, and every
// relevant cache change afterwards re-projects and re-invokes onChange.
func (r *Registry) Watch(q Query, onChange Callback) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		id:        uuid.New().String(),
		query:     q,
		onChange:  onChange,
		registry:  r,
		ctxCancel: cancel,
	}

	// Initial synchronous emission from cache.
	if proj := q.Project(r.cache); len(proj) > 0 {
		h.emit(Result{Entities: proj})
	}

	// Cache subscription: the context tears it down on cancel.
	changes, subID := r.cache.Subscribe(ctx, q.Kinds()...)
	h.subID = subID
	go h.run(changes)

	r.mu.Lock()
	r.watchers[h.id] = h
	r.mu.Unlock()

	// Background fetch ignoring cache staleness.
	go h.fetch()

	return h
}

// RefetchKind forces a refetch on every watcher covering the given kind.
// The push listener uses this to repair server-derived fields (counts)
// that pushed payloads do not carry.
func (r *Registry) RefetchKind(kind entity.Kind) {
	for _, h := range r.snapshot() {
		for _, k := range h.query.Kinds() {
			if k == kind {
				go h.fetch()
				break
			}
		}
	}
}

// CancelAll cancels every active watcher. Used by engine disconnect.
func (r *Registry) CancelAll() {
	for _, h := range r.snapshot() {
		h.Cancel()
	}
}

// Active returns the number of live watchers.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watchers)
}

func (r *Registry) snapshot() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Handle, 0, len(r.watchers))
	for _, h := range r.watchers {
		out = append(out, h)
	}
	return out
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	delete(r.watchers, id)
	r.mu.Unlock()
}

// Handle is a live watch subscription.
type Handle struct {
	id        string
	query     Query
	onChange  Callback
	registry  *Registry
	ctxCancel context.CancelFunc
	subID     string

	mu        sync.Mutex
	cancelled bool
}

// Cancel tears the subscription down. After Cancel returns, onChange is
// never invoked again — including for fetches already in flight, whose
// results still land in the cache for other watchers.
func (h *Handle) Cancel() {
	h.mu.Lock()
	already := h.cancelled
	h.cancelled = true
	h.mu.Unlock()
	if already {
		return
	}

	h.ctxCancel()
	h.registry.cache.Unsubscribe(h.subID)
	h.registry.remove(h.id)
}

// Refetch forces a cache-bypassing fetch now, without waiting for a push
// signal. Used after local mutations to pick up server-computed fields.
func (h *Handle) Refetch() {
	go h.fetch()
}

// run re-projects on every relevant cache change. The channel closes when
// the subscription is torn down.
func (h *Handle) run(changes <-chan cache.Change) {
	for range changes {
		h.emit(Result{Entities: h.query.Project(h.registry.cache)})
	}
}

// fetch performs the network read. It deliberately ignores h.ctx: a
// cancelled watcher must not abort a fetch whose results other watchers
// may still want cached.
func (h *Handle) fetch() {
	res, err := h.registry.fetcher.Do(context.Background(), h.query.Operation(), transport.BypassCache())
	if err != nil {
		h.registry.logger.Warn("watch fetch failed", "operation", h.query.Operation().Name, "error", err)
		h.emit(Result{Err: err})
		return
	}

	// Cache writes already notified the run loop for non-empty results;
	// an explicit emission covers fetches that wrote nothing (empty
	// collections) so the watcher still observes an authoritative state.
	if len(res.Entities) == 0 {
		h.emit(Result{Entities: h.query.Project(h.registry.cache)})
	}
}

// emit invokes the callback unless the handle is cancelled. The lock is
// held across the call so Cancel returning guarantees silence.
func (h *Handle) emit(r Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled {
		return
	}
	h.onChange(r)
}
