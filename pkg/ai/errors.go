package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrNotConfigured is returned when the client is used without a credential.
var ErrNotConfigured = errors.New("ai client not configured")

// APIError is a non-2xx response from the provider. It keeps the HTTP status
// so callers can branch on the concrete failure kind.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("provider api error: HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider api error: HTTP %d", e.StatusCode)
}

// retryableStatuses are transient provider failures worth retrying.
var retryableStatuses = map[int]bool{
	408: true,
	409: true,
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// IsRetryable reports whether an error is a connection-level failure or a
// provider response with a retryable HTTP status. Anything else propagates
// immediately.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return retryableStatuses[apiErr.StatusCode]
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
