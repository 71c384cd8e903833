// Package engine is the façade applications talk to.
//
// An Engine is a per-session object wiring the cache, the transport
// pipeline, the watch registry, and the push listener together. Connect
// primes the primary collections and brings the push channel up;
// Disconnect tears both down and cancels every watcher. In between, the
// app reads snapshots (Reminders, Lists, Profile), registers watchers, and
// runs mutations — all against the one shared cache.
//
// Semantic reminder callbacks (created/updated/deleted) are derived by
// diffing cache notifications against seen versions, so they fire once per
// logical change regardless of how the change arrived.
package engine
