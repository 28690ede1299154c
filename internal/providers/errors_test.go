package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code     int
		want     ErrorCategory
		failed   bool
		retrying bool
	}{
		{http.StatusOK, "", false, false},
		{http.StatusAccepted, "", false, false},
		{http.StatusTooManyRequests, ErrorRateLimited, true, true},
		{http.StatusForbidden, ErrorAuthentication, true, false},
		{http.StatusNotFound, ErrorNotFound, true, false},
		{http.StatusBadGateway, ErrorProviderOutage, true, true},
		{http.StatusMovedPermanently, ErrorBadData, true, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			got, failed := classifyStatus(tt.code)
			assert.Equal(t, tt.failed, failed)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.retrying, got.Retryable())
		})
	}
}

func TestIsRetryable(t *testing.T) {
	outage := NewProviderError(ErrorProviderOutage, "fsca", "503", nil)
	assert.True(t, IsRetryable(fmt.Errorf("verify license: %w", outage)))
	assert.False(t, IsRetryable(NewProviderError(ErrorBadData, "fsca", "decode", nil)))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.False(t, IsRetryable(errors.New("boom")))

	assert.Equal(t, ErrorProviderOutage, GetCategory(outage))
	assert.Equal(t, ErrorInternal, GetCategory(errors.New("boom")))
	assert.ErrorIs(t, NewProviderError(ErrorProviderOutage, "fsca", "circuit open", ErrCircuitOpen), ErrCircuitOpen)
}
