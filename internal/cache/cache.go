// ABOUTME: Normalized key->entity cache with change-notification fan-out.
// ABOUTME: Writes are atomic per logical operation; reads never touch the network.

package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/remindful/sync-engine/internal/entity"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Key addresses one cache slot.
type Key struct {
	Kind entity.Kind
	ID   string
}

// Op is the kind of change a notification describes.
type Op int

const (
	OpPut Op = iota
	OpEvict
)

// Change is one cache mutation delivered to subscribers. Entity is nil
// for evictions.
type Change struct {
	Op     Op
	Kind   entity.Kind
	ID     string
	Entity entity.Entity
}

type record struct {
	entity        entity.Entity
	lastWrittenAt time.Time
}

type subscriber struct {
	ch    chan Change
	kinds map[entity.Kind]bool // empty means all kinds
}

func (s *subscriber) wants(k entity.Kind) bool {
	return len(s.kinds) == 0 || s.kinds[k]
}

// Cache is the normalized object store all engine components read and
// write. It allows concurrent readers; writers hold a short exclusive
// section per logical write and never hold it across I/O. An optional
// sqlite backend mirrors the contents for warm starts; backend failures
// degrade to memory-only operation.
type Cache struct {
	mu          sync.RWMutex
	entries     map[Key]record
	subscribers map[string]*subscriber

	persist *SQLiteBackend
	logger  *slog.Logger
	nowFn   func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithPersistence mirrors the cache into the given sqlite backend and
// preloads its contents so cold starts render from the last known state.
func WithPersistence(b *SQLiteBackend) Option {
	return func(c *Cache) { c.persist = b }
}

// New creates an empty cache. Pass nil logger for default.
func New(logger *slog.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		entries:     make(map[Key]record),
		subscribers: make(map[string]*subscriber),
		logger:      logger.With("component", "cache"),
		nowFn:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.persist != nil {
		c.warmStart()
	}
	return c
}

// warmStart loads the persisted snapshot into memory. Load failures are
// non-fatal; the cache starts empty and repopulates from the network.
func (c *Cache) warmStart() {
	loaded, err := c.persist.LoadAll()
	if err != nil {
		c.logger.Warn("cache warm start failed", "error", err)
		return
	}
	c.mu.Lock()
	for _, l := range loaded {
		c.entries[Key{Kind: l.Entity.EntityKind(), ID: l.Entity.EntityID()}] = record{
			entity:        l.Entity,
			lastWrittenAt: l.LastWrittenAt,
		}
	}
	c.mu.Unlock()
	c.logger.Info("cache warm start", "entities", len(loaded))
}

// Get returns the cached entity or nil when absent.
func (c *Cache) Get(kind entity.Kind, id string) entity.Entity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if rec, ok := c.entries[Key{Kind: kind, ID: id}]; ok {
		return rec.entity
	}
	return nil
}

// Has reports whether any entity of the kind is cached. Used by the
// pipeline's cache-first stage to decide if a collection read can be
// served locally.
func (c *Cache) Has(kind entity.Kind) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for k := range c.entries {
		if k.Kind == kind {
			return true
		}
	}
	return false
}

// List returns all cached entities of a kind, unordered.
func (c *Cache) List(kind entity.Kind) []entity.Entity {
	return c.Query(kind, nil)
}

// Query returns cached entities of a kind matching pred (nil matches all).
func (c *Cache) Query(kind entity.Kind, pred func(entity.Entity) bool) []entity.Entity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []entity.Entity
	for k, rec := range c.entries {
		if k.Kind != kind {
			continue
		}
		if pred == nil || pred(rec.entity) {
			out = append(out, rec.entity)
		}
	}
	return out
}

// Put writes a single entity and notifies matching subscribers.
func (c *Cache) Put(e entity.Entity) {
	c.PutBatch([]entity.Entity{e})
}

// PutBatch applies one logical write: every entity lands under a single
// lock acquisition so no reader observes a partially-applied result, then
// subscribers are notified once per entity.
func (c *Cache) PutBatch(entities []entity.Entity) {
	if len(entities) == 0 {
		return
	}
	now := c.nowFn()

	c.mu.Lock()
	changes := make([]Change, 0, len(entities))
	for _, e := range entities {
		key := Key{Kind: e.EntityKind(), ID: e.EntityID()}
		c.entries[key] = record{entity: e, lastWrittenAt: now}
		changes = append(changes, Change{Op: OpPut, Kind: key.Kind, ID: key.ID, Entity: e})
	}
	c.mu.Unlock()

	if c.persist != nil {
		if err := c.persist.Save(entities, now); err != nil {
			c.logger.Warn("cache persistence write failed", "error", err)
		}
	}

	for _, ch := range changes {
		c.publish(ch)
	}
}

// Evict removes an entry and emits a removal notification. Evicting an
// absent key is a no-op.
func (c *Cache) Evict(kind entity.Kind, id string) {
	key := Key{Kind: kind, ID: id}

	c.mu.Lock()
	_, existed := c.entries[key]
	delete(c.entries, key)
	c.mu.Unlock()

	if !existed {
		return
	}

	if c.persist != nil {
		if err := c.persist.Delete(kind, id); err != nil {
			c.logger.Warn("cache persistence delete failed", "error", err)
		}
	}

	c.publish(Change{Op: OpEvict, Kind: kind, ID: id})
}

// Subscribe registers for change notifications on the given kinds (none
// means all). The subscription is removed when ctx is cancelled or on an
// explicit Unsubscribe.
func (c *Cache) Subscribe(ctx context.Context, kinds ...entity.Kind) (<-chan Change, string) {
	subID := uuid.New().String()
	sub := &subscriber{
		ch:    make(chan Change, subscriberBufferSize),
		kinds: make(map[entity.Kind]bool, len(kinds)),
	}
	for _, k := range kinds {
		sub.kinds[k] = true
	}

	c.mu.Lock()
	c.subscribers[subID] = sub
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.Unsubscribe(subID)
	}()

	return sub.ch, subID
}

// Unsubscribe removes a subscription and closes its channel. Safe to call
// more than once.
func (c *Cache) Unsubscribe(subID string) {
	c.mu.Lock()
	sub, ok := c.subscribers[subID]
	if ok {
		delete(c.subscribers, subID)
	}
	c.mu.Unlock()

	if ok {
		close(sub.ch)
	}
}

// publish fans a change out to interested subscribers. Non-blocking:
// a subscriber that falls behind loses the notification, and recovers by
// re-reading the cache on its next one.
func (c *Cache) publish(change Change) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for id, sub := range c.subscribers {
		if !sub.wants(change.Kind) {
			continue
		}
		select {
		case sub.ch <- change:
		default:
			c.logger.Warn("subscriber channel full, dropping change",
				"sub_id", id, "kind", change.Kind, "entity_id", change.ID)
		}
	}
}

// Close releases the persistence backend, if any.
func (c *Cache) Close() error {
	if c.persist != nil {
		return c.persist.Close()
	}
	return nil
}
