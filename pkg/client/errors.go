package client

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled
	// during a backoff wait.
	ErrContextCancelled = errors.New("context cancelled")
)

// APIError is one element of a response envelope's errors array.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RateLimitError reports an HTTP 429. RetryAfter carries the
// server-specified wait; the executor sleeps that long before retrying.
type RateLimitError struct {
	Endpoint   string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited on %s (retry after %s)", e.Endpoint, e.RetryAfter)
}

// StatusError reports a retryable non-2xx status (5xx). Terminal statuses
// are returned as failure envelopes instead of errors.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Errors     []APIError
	Headers    http.Header
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("API error on %s (status %d): %s: %s",
			e.Endpoint, e.StatusCode, e.Errors[0].Code, e.Errors[0].Message)
	}
	return fmt.Sprintf("API error on %s (status %d)", e.Endpoint, e.StatusCode)
}

// terminalAPIErrors reports whether the error list flags an unauthorized
// or invalid-input condition. Such requests are never retried.
func terminalAPIErrors(errs []APIError) bool {
	for _, apiErr := range errs {
		s := strings.ToLower(apiErr.Code + " " + apiErr.Message)
		if strings.Contains(s, "unauthorized") ||
			strings.Contains(s, "invalidinput") ||
			strings.Contains(s, "invalid input") {
			return true
		}
	}
	return false
}
