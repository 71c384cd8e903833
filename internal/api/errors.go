// ABOUTME: Error taxonomy for the sync engine's remote API boundary.
// ABOUTME: Distinguishes transport, server, structured-application, and auth failures.

package api

import (
	"errors"
	"fmt"
)

// Structured error codes the engine recognizes in response extensions.
const (
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeForbidden       = "FORBIDDEN"
	CodePremiumRequired = "PREMIUM_REQUIRED"
	CodeNotFound        = "NOT_FOUND"
)

// Sentinel errors surfaced by the transport layer.
var (
	// ErrAuthExpired is the terminal authorization failure: the one-shot
	// refresh-and-retry already ran and the server still refused the call.
	ErrAuthExpired = errors.New("authorization expired")

	// ErrRefreshFailed means the refresh exchange itself was rejected.
	// A dead refresh token cannot self-heal; callers must log out.
	ErrRefreshFailed = errors.New("session refresh failed")

	// ErrNoSession means no credentials are stored at all.
	ErrNoSession = errors.New("no stored session")

	// ErrDisconnected resolves refresh waiters abandoned by engine shutdown.
	ErrDisconnected = errors.New("engine disconnected")
)

// NetworkError wraps a transport or connectivity failure. The engine never
// retries these automatically; retry intent belongs to the caller.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network: %s: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError is a non-2xx status or a payload the client cannot decode.
type ServerError struct {
	Status int
	Body   string
}

func (e *ServerError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("server: status %d", e.Status)
	}
	return fmt.Sprintf("server: malformed response: %s", e.Body)
}

// APIError is a structured application error declared in the response
// envelope, e.g. unauthorized or premium-required.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api: %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("api: %s", e.Message)
}

// AuthFailure reports whether the error's code should trigger the
// refresh-and-retry stage.
func (e *APIError) AuthFailure() bool {
	switch e.Code {
	case CodeUnauthorized, CodeUnauthenticated, CodeForbidden:
		return true
	}
	return false
}

// IsAuthFailure reports whether err carries an auth-failure API code.
func IsAuthFailure(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.AuthFailure()
}
