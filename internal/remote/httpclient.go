package remote

import (
	"log/slog"
	"net/http"
	"time"

	"resty.dev/v3"
)

const (
	// Default retry configuration
	defaultRetryCount       = 3
	defaultRetryWaitTime    = 1 * time.Second
	defaultRetryMaxWaitTime = 10 * time.Second
	defaultTimeout          = 30 * time.Second
)

// ClientOptions configures NewHTTPClient. Zero values fall back to defaults,
// except RetryCount where a negative value disables retries.
type ClientOptions struct {
	BaseURL       string
	Timeout       time.Duration
	RetryCount    int
	RetryWaitTime time.Duration
	Transport     http.RoundTripper
	Headers       map[string]string
}

// NewHTTPClient creates a new HTTP client with retry logic and exponential backoff
func NewHTTPClient(opts ClientOptions) *resty.Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := opts.RetryCount
	switch {
	case retries == 0:
		retries = defaultRetryCount
	case retries < 0:
		retries = 0
	}
	wait := opts.RetryWaitTime
	if wait <= 0 {
		wait = defaultRetryWaitTime
	}

	client := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeaders(opts.Headers).
		SetRetryCount(retries).
		SetRetryWaitTime(wait).
		SetRetryMaxWaitTime(defaultRetryMaxWaitTime).
		AddRetryConditions(retryCondition).
		AddRetryHooks(retryHook)

	if opts.Transport != nil {
		client.SetTransport(opts.Transport)
	}

	return client
}

// retryCondition determines whether a request should be retried based on the response and error
func retryCondition(r *resty.Response, err error) bool {
	// Retry on network errors
	if err != nil {
		return true
	}

	if r.StatusCode() < 400 {
		return false
	}

	// 408, 429 and 5xx are retryable; other 4xx are not
	return ClassifyHTTPError(r.StatusCode()).Retryable
}

// retryHook logs retry attempts for observability
func retryHook(r *resty.Response, err error) {
	if err != nil {
		slog.Debug("retrying request due to error",
			"url", r.Request.URL,
			"attempt", r.Request.Attempt,
			"error", err.Error())
		return
	}

	slog.Debug("retrying request due to status code",
		"url", r.Request.URL,
		"attempt", r.Request.Attempt,
		"status_code", r.StatusCode())
}
