package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// AuthError indicates a missing or rejected credential.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return "authentication failed: " + e.Message
}

// RateLimitError indicates the provider refused the request due to throttling.
type RateLimitError struct {
	Message string
}

func (e *RateLimitError) Error() string {
	return "rate limited: " + e.Message
}

// ServerError indicates an upstream provider failure (5xx or malformed reply).
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider error (status %d): %s", e.StatusCode, e.Message)
	}
	return "provider error: " + e.Message
}

// NetworkError wraps a transport-level failure reaching the provider.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return "network error: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// classifyHTTPError maps a non-200 provider status to the error taxonomy.
func classifyHTTPError(status int, body string) error {
	msg := strings.TrimSpace(body)
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthError{Message: msg}
	case status == http.StatusTooManyRequests:
		return &RateLimitError{Message: msg}
	default:
		return &ServerError{StatusCode: status, Message: msg}
	}
}

// wrapTransportError distinguishes cancellation from genuine network failures.
func wrapTransportError(ctx context.Context, err error) error {
	if IsCancelled(err) || ctx.Err() != nil {
		return context.Canceled
	}
	return &NetworkError{Err: err}
}

// IsCancelled reports whether err stems from an explicit cancellation.
// Cancellation must never be treated as a failure: it produces a stopped
// session, not an errored one, and never triggers repair.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}
