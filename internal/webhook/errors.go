package webhook

import (
	"context"
	"errors"
	"net/http"
)

// Describe maps a Forward error to the HTTP status and message relayed to
// callers. Timeouts surface as 504 so clients can fall back to a direct call.
func Describe(err error) (status int, message string) {
	switch {
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout, "Webhook request timed out"
	case errors.Is(err, ErrCircuitOpen):
		return http.StatusServiceUnavailable, "Assessment service temporarily unavailable"
	default:
		return http.StatusInternalServerError, "Failed to forward request to webhook"
	}
}

// Retryable reports whether another attempt might succeed.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}
	return true
}
