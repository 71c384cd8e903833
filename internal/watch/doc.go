// Package watch implements live queries over the entity cache.
//
// A Query names an operation to fetch and a projection over cached
// entities. Watch emits the current cached projection synchronously (when
// non-empty), starts a background fetch, and then re-emits after every
// relevant cache change — whatever its origin: this watcher's fetch,
// another watcher's fetch, a local mutation, or a push event.
//
// Handle.Cancel is synchronous with respect to the callback: once Cancel
// returns, the callback will not fire again. An in-flight fetch still
// completes and lands in the cache for other watchers. Because emission
// holds the handle's lock, a callback must not cancel its own handle.
package watch
