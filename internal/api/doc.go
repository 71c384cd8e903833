// Package api defines the wire protocol and the typed operation catalog.
//
// # Envelope
//
// Operations are POSTed as a JSON envelope:
//
//	{"operationName": "reminders", "variables": {...}}
//
// and answered with:
//
//	{"data": {...}, "errors": [{"message": "...", "extensions": {"code": "..."}}]}
//
// A response may carry both data and errors; the first error wins.
//
// # Error taxonomy
//
//   - NetworkError: the request never produced a decodable response
//   - ServerError: non-200 HTTP status
//   - APIError: a structured error inside a 200 envelope, classified by code
//
// The codes UNAUTHORIZED, UNAUTHENTICATED, and FORBIDDEN are auth failures
// and trigger the transport's refresh-and-retry path. Every other code
// (PREMIUM_REQUIRED, NOT_FOUND, ...) surfaces to the caller verbatim.
//
// # Operations
//
// Operation values bundle the wire name, variables, cache policy, and an
// Extract function that turns the response payload into entities for the
// cache. Mutations get a client-generated idempotency key so a
// retried-after-refresh write is safe server-side.
package api
