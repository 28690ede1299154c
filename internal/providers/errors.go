package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorCategory is the failure taxonomy every provider client maps onto.
// The orchestrator branches on it: retryable categories go back on the queue,
// the rest end in manual review.
type ErrorCategory string

const (
	ErrorTimeout        ErrorCategory = "timeout"
	ErrorBadData        ErrorCategory = "bad_data"
	ErrorAuthentication ErrorCategory = "authentication"
	// ErrorProviderOutage covers 5xx, refused connections and an open breaker.
	ErrorProviderOutage ErrorCategory = "provider_outage"
	ErrorNotFound       ErrorCategory = "not_found"
	ErrorRateLimited    ErrorCategory = "rate_limited"
	ErrorInternal       ErrorCategory = "internal"
)

// Retryable reports whether a later attempt can plausibly succeed.
func (c ErrorCategory) Retryable() bool {
	switch c {
	case ErrorTimeout, ErrorProviderOutage, ErrorRateLimited:
		return true
	}
	return false
}

// ErrCircuitOpen is returned while a provider's breaker is open.
var ErrCircuitOpen = errors.New("circuit open")

type ProviderError struct {
	Category   ErrorCategory
	ProviderID string
	Message    string
	Underlying error
	Retryable  bool
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("provider %s [%s]: %s", e.ProviderID, e.Category, e.Message)
	if e.Underlying != nil {
		msg += ": " + e.Underlying.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Underlying
}

func NewProviderError(category ErrorCategory, providerID, message string, underlying error) *ProviderError {
	return &ProviderError{
		Category:   category,
		ProviderID: providerID,
		Message:    message,
		Underlying: underlying,
		Retryable:  category.Retryable(),
	}
}

// IsRetryable also treats a bare context.DeadlineExceeded as a timeout.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// GetCategory returns ErrorInternal for errors that did not come from a provider.
func GetCategory(err error) ErrorCategory {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ErrorInternal
}

func classifyTransport(err error) ErrorCategory {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return ErrorTimeout
	}
	return ErrorProviderOutage
}

// classifyStatus maps a non-2xx response onto a category. ok is false for 2xx.
func classifyStatus(code int) (category ErrorCategory, ok bool) {
	switch {
	case code == http.StatusTooManyRequests:
		return ErrorRateLimited, true
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrorAuthentication, true
	case code == http.StatusNotFound:
		return ErrorNotFound, true
	case code >= 500:
		return ErrorProviderOutage, true
	case code >= 300 || code < 200:
		return ErrorBadData, true
	}
	return "", false
}
