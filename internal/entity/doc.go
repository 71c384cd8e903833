// Package entity defines the server-owned data model the engine mirrors
// locally: reminders, reminder lists, the user profile, and devices.
//
// Every entity satisfies the Entity interface (kind, ID, version). Versions
// are server-assigned and monotonically increasing per entity; the cache and
// the push reconciler use them for last-writer-wins conflict resolution.
//
// Reminders carry optional scheduling state (due time, snooze, recurrence).
// EffectiveDueAt folds snoozing into the due time so ordering code has a
// single value to sort on.
package entity
