// Package cache provides the normalized in-memory entity cache that backs
// every read surface of the engine.
//
// # Normalization
//
// Entities are stored in a flat map keyed by (kind, id) — there is one copy
// of each entity regardless of how many queries reference it, so a detail
// view and a list view can never disagree.
//
// # Conflict resolution
//
// Writes are last-write-wins: a Put replaces whatever is stored. Callers
// that can receive out-of-order state (the push reconciler) compare entity
// versions before writing. Evict removes silently whether or not the key
// exists.
//
// # Change notifications
//
// Subscribe returns a buffered channel of Change values filtered by kind.
// Publishing never blocks: a subscriber that falls behind loses
// notifications (with a warning) rather than stalling writers. Subscriptions
// are removed on Unsubscribe or when the subscriber's context ends.
//
// # Persistence
//
// With WithPersistence, entities are mirrored to a SQLite file (WAL mode)
// and loaded back on construction, giving the app a warm snapshot before
// the first network fetch. Persistence failures are logged and never fail
// the in-memory write.
package cache
