// Package push maintains the server-to-client change stream.
//
// One websocket per session, authenticated by access token at dial. Events
// reconcile into the cache: created/updated upsert (guarded by entity
// version, so replays and stale deliveries are harmless), deleted evicts,
// and payload-less events fall back to a watcher refetch. Reminder events
// additionally refetch list watchers, because list payloads carry
// server-derived counts the reminder payload cannot update.
//
// On connection loss the listener reconnects with capped exponential
// backoff. When the attempt budget is exhausted it reports offline and
// stops; the engine keeps serving cached data.
package push
