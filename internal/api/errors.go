// Package api is the authenticated HTTP gateway to the administration
// backend: transport, credential attachment, 401 recovery through a
// single-flight refresh, and typed helpers over the response envelope.
package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status classification.
// Use errors.Is(err, api.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("api: bad request")
	ErrUnauthorized = errors.New("api: unauthorized")
	ErrForbidden    = errors.New("api: forbidden")
	ErrNotFound     = errors.New("api: not found")
	ErrConflict     = errors.New("api: conflict")
	ErrValidation   = errors.New("api: validation failed")
	ErrThrottled    = errors.New("api: throttled")
	ErrServerError  = errors.New("api: server error")
	ErrHTTP         = errors.New("api: unexpected HTTP status")
)

// Errors raised by the client core itself.
var (
	// ErrNetwork means the request never reached the server or the response
	// never arrived.
	ErrNetwork = errors.New("api: network failure")

	// ErrRefreshFailed means the renewal endpoint rejected the session cookie
	// or could not be reached.
	ErrRefreshFailed = errors.New("api: credential refresh failed")

	// ErrSessionExpired is the terminal error returned to a caller whose
	// request could not be recovered by a refresh.
	ErrSessionExpired = errors.New("api: session expired")
)

// Error is a non-2xx response. Message carries the envelope's
// human-readable message verbatim; the core never interprets it.
type Error struct {
	StatusCode int
	RequestID  string
	Message    string
	Body       []byte
	Err        error // sentinel, for errors.Is()
}

func (e *Error) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("api: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("api: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NetworkError is a transport-level failure: no HTTP response was received.
type NetworkError struct {
	Method string
	Path   string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("api: %s %s: %v", e.Method, e.Path, e.Err)
}

// Unwrap exposes both the cause and ErrNetwork to errors.Is.
func (e *NetworkError) Unwrap() []error {
	return []error{ErrNetwork, e.Err}
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusUnprocessableEntity:
		return ErrValidation
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusOK && code < http.StatusMultipleChoices {
			return nil
		}

		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return ErrHTTP
	}
}

// isRetryable reports whether a status is worth an automatic throttle retry.
func isRetryable(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable
}

// StatusCode extracts the HTTP status from an *Error anywhere in err's chain.
// Returns 0 when err carries no HTTP response.
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}

	return 0
}
