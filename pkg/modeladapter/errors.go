package modeladapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ClientError is a failure reported by (or while talking to) a backend.
// StatusCode, RawRequest and RawResponse are zero when unknown.
type ClientError struct {
	Message      string
	ProviderType string
	StatusCode   int
	RawRequest   string
	RawResponse  string
	// RetryAfter is a backend-requested delay before the next attempt.
	RetryAfter time.Duration
}

func (e *ClientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.ProviderType, e.Message, e.StatusCode)
	}

	return fmt.Sprintf("%s: %s", e.ProviderType, e.Message)
}

// Retryable reports whether another attempt could succeed. Client-side
// request errors (4xx other than timeouts and rate limits) are not retried.
func (e *ClientError) Retryable() bool {
	switch {
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 400 && e.StatusCode < 500:
		return false
	}

	return true
}

// UnsupportedError reports an operation a provider cannot perform. It is
// terminal and never retried.
type UnsupportedError struct {
	Operation    string
	ProviderType string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("modeladapter: %s is not supported by provider %s", e.Operation, e.ProviderType)
}

// Retryable always returns false.
func (e *UnsupportedError) Retryable() bool { return false }

// APIKeyMissingError reports an absent credential.
type APIKeyMissingError struct {
	Provider string
}

func (e *APIKeyMissingError) Error() string {
	return fmt.Sprintf("modeladapter: API key missing for provider %s", e.Provider)
}

// Retryable always returns false.
func (e *APIKeyMissingError) Retryable() bool { return false }

// IsRetryable reports whether err is worth another attempt. Errors opt in by
// implementing Retryable() bool; context cancellation never retries.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}

	return false
}
