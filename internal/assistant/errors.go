package assistant

import (
	"context"
	"errors"
	"fmt"
)

// APIError is a non-2xx answer from the upstream API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("OpenAI %d: %s", e.StatusCode, e.Body)
}

// upstreamFault reports whether the status says something about upstream
// health rather than about the request itself.
func (e *APIError) upstreamFault() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// isBreakerSuccess decides which errors count against the circuit breaker.
// Caller cancellations and 4xx answers leave the breaker alone.
func isBreakerSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return !apiErr.upstreamFault()
	}
	return false
}
