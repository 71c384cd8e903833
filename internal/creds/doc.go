// Package creds abstracts secure session storage.
//
// The Store interface has the shape of a platform keychain entry: get, set,
// clear. MemoryStore serves tests and short-lived processes; FileStore
// persists the session as a mode-0600 JSON file for the CLI. The access
// token is treated as opaque by everything except the transport's pre-flight
// expiry check.
package creds
