// Package transport implements the request pipeline between typed
// operations and the HTTP API.
//
// # Pipeline
//
// Every operation passes through a fixed stage order:
//
//  1. cache read — CacheFirst reads short-circuit on a warm cache
//  2. auth inject — bearer token, with a pre-flight expiry check
//  3. network — POST the envelope, classify transport failures
//  4. parse — decode the envelope, classify API errors
//  5. refresh and retry — on an auth failure, refresh once and replay
//  6. cache write — extracted entities upsert, evictions apply
//
// The retry happens at most once per logical operation: a second auth
// failure surfaces ErrAuthExpired.
//
// # Refresh coordination
//
// RefreshCoordinator collapses concurrent refresh attempts into one token
// exchange (singleflight). Waiters select on their own context, so an
// abandoned waiter unblocks immediately while the exchange completes on a
// detached context and still updates the credential store. A failed
// exchange clears the session exactly once and fails every waiter with
// ErrRefreshFailed — the caller must re-authenticate.
package transport
