package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrTimeout is returned when the upstream call exceeds its time budget
var ErrTimeout = errors.New("upstream request timed out")

// StatusError is returned when the upstream responds with a non-success HTTP status
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Retryable returns true for server errors; client errors will not improve on retry
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500
}

// IsRetryable classifies an error for the caller-side retry wrapper.
// Timeouts and 5xx statuses are retryable; everything else is not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	return false
}
