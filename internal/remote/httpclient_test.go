package remote

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statusSequence(t *testing.T, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1)) - 1
		if n >= len(statuses) {
			n = len(statuses) - 1
		}
		w.WriteHeader(statuses[n])
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestNewHTTPClient_RetriesRetryableStatuses(t *testing.T) {
	srv, calls := statusSequence(t, http.StatusRequestTimeout, http.StatusServiceUnavailable, http.StatusTooManyRequests, http.StatusOK)

	client := NewHTTPClient(ClientOptions{
		BaseURL:       srv.URL,
		RetryCount:    3,
		RetryWaitTime: time.Millisecond,
	})

	resp, err := client.R().Get("/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, int32(4), calls.Load())
}

func TestNewHTTPClient_DoesNotRetryClientErrors(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound} {
		srv, calls := statusSequence(t, status, http.StatusOK)

		client := NewHTTPClient(ClientOptions{
			BaseURL:       srv.URL,
			RetryCount:    3,
			RetryWaitTime: time.Millisecond,
		})

		resp, err := client.R().Get("/")
		require.NoError(t, err)
		assert.Equal(t, status, resp.StatusCode())
		assert.Equal(t, int32(1), calls.Load(), "status %d", status)
	}
}

func TestClassifyHTTPError_RetryableStatuses(t *testing.T) {
	for status := 400; status < 600; status++ {
		assert.Equal(t, ClassifyHTTPError(status).Retryable, status == 408 || status == 429 || status >= 500, "status %d", status)
	}
}
