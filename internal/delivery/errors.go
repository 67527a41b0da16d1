package delivery

import (
	"errors"
	"strings"
)

// Terminal errors surfaced to callers.
var (
	ErrInvalidAddress  = errors.New("invalid destination address")
	ErrMessageNotFound = errors.New("message not found")
	ErrEmptyBody       = errors.New("message body is empty")
)

// RetryableError wraps an error and marks it as retryable or not.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

// IsRetryable returns whether the error is retryable.
func (e *RetryableError) IsRetryable() bool {
	return e.Retryable
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a retryable error.
func NewRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: true}
}

// NewNonRetryableError creates a non-retryable error.
func NewNonRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: false}
}

// transientMarkers match error text by failure category, not exact string.
var transientMarkers = []string{
	"timeout",
	"timed out",
	"unavailable",
	"rate limit",
	"too many requests",
	"temporar",
	"connection reset",
	"connection refused",
}

// isRetryable classifies a delivery error. Errors carrying an explicit
// IsRetryable marker win; otherwise the error text is matched against known
// transient categories, and unknown errors default to retryable.
func isRetryable(err error) bool {
	type retryable interface {
		IsRetryable() bool
	}
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	// Default: retry unknown errors
	return true
}
