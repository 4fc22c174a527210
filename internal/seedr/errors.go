// Package seedr provides an HTTP client for the Seedr cloud-torrent API:
// device-code and password OAuth flows, and the folder operations
// (list, add magnet, delete, resolve download link) layered on top.
package seedr

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the failure taxonomy. Every error returned by this
// package and by the session/accounts packages wraps exactly one of these.
// Use errors.Is(err, seedr.ErrNotFound) to check.
var (
	ErrAuthService     = errors.New("seedr: auth service unavailable")
	ErrAuthDenied      = errors.New("seedr: authorization denied")
	ErrAuthTimeout     = errors.New("seedr: authorization timed out")
	ErrAlreadyPending  = errors.New("seedr: authorization already pending")
	ErrAuthRequired    = errors.New("seedr: authentication required")
	ErrInvalidInput    = errors.New("seedr: invalid input")
	ErrNotFound        = errors.New("seedr: item not found")
	ErrRemoteOperation = errors.New("seedr: remote operation failed")
)

// Denial reasons reported by the token endpoint or synthesized locally.
const (
	ReasonAccessDenied = "access_denied"
	ReasonExpiredToken = "expired_token"
	ReasonAbandoned    = "abandoned"
)

// AuthError carries the details of a failed authentication step: the HTTP
// status (0 for network failures), the machine-readable reason from the
// remote, and its human description. Never contains credentials.
type AuthError struct {
	Op          string
	StatusCode  int
	Reason      string
	Description string
	Err         error // sentinel, for errors.Is()
	Cause       error // underlying transport error, if any
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Err.Error())

	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}

	if e.Reason != "" {
		msg += ": " + e.Reason
	}

	if e.Description != "" {
		msg += ": " + e.Description
	}

	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}

	return msg
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// RemoteError wraps a sentinel error with the HTTP status and the message
// the API returned for a folder operation.
type RemoteError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("seedr: %s: HTTP %d: %s", e.Op, e.StatusCode, e.Message)
	}

	return fmt.Sprintf("seedr: %s: %s", e.Op, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// classifyStatus maps a non-2xx HTTP status from a folder endpoint to a
// sentinel. A rejected token means the session must re-authenticate.
func classifyStatus(code int) error {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuthRequired
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return ErrRemoteOperation
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
