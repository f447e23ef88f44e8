// Package backend is the HTTP client for the hosted portfolio backend.
package backend

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	apperrors "portfolio_sync/internal/errors"
)

var (
	// ErrCircuitOpen indicates recent backend failures have opened the circuit breaker.
	ErrCircuitOpen = errors.New("backend circuit breaker is open")

	// ErrEmptyResponse indicates a 2xx response without a body.
	ErrEmptyResponse = errors.New("empty response body")
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 512

// errorBody trims body and cuts it to at most maxErrorBody bytes on a rune boundary.
func errorBody(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) <= maxErrorBody {
		return text
	}
	cut := maxErrorBody
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// APIError is returned for any non-2xx backend response.
type APIError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend %s: status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("backend %s: status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Unwrap lets a 401 match apperrors.ErrUnauthorized and anything else apperrors.ErrUpstream.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return apperrors.ErrUnauthorized
	}
	return apperrors.ErrUpstream
}

// Temporary reports whether the failure is on the backend's side and may clear on its own.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}
