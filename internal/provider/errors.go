package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/techmajster/time8-product-sub008/pkg/circuitbreaker"
)

var (
	// ErrNotConfigured means the API key or store id is missing. It is never
	// worth retrying.
	ErrNotConfigured = errors.New("billing provider is not configured")
	// ErrUnknownOutcome means the request may or may not have been applied
	// by the provider, usually because it timed out.
	ErrUnknownOutcome = errors.New("billing provider outcome unknown")
)

// APIError is a non-2xx response from the provider.
type APIError struct {
	Operation  string
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("provider %s failed with status %d: %s", e.Operation, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("provider %s failed with status %d", e.Operation, e.StatusCode)
}

// Transient reports whether a later attempt could succeed.
func (e *APIError) Transient() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

// IsTransient reports whether err is worth retrying on the next scheduled run.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrNotConfigured) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	return true
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// countsAsFailure feeds the circuit breaker: only provider-side trouble
// trips it, caller mistakes do not.
func countsAsFailure(err error) bool {
	if errors.Is(err, circuitbreaker.ErrOpen) || errors.Is(err, context.Canceled) {
		return false
	}
	return IsTransient(err)
}
