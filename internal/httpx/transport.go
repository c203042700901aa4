// Package httpx provides shared HTTP plumbing for the remote clients.
package httpx

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Default retry policy for transient remote failures.
const (
	DefaultMaxRetries      = 3
	defaultInitialInterval = 500 * time.Millisecond
	defaultMaxInterval     = 10 * time.Second
)

// RetryTransport is an http.RoundTripper that retries transient failures
// (network errors, 408, 429, 5xx) with exponential backoff. Only requests
// that can be replayed are retried: bodyless requests and requests carrying
// GetBody.
type RetryTransport struct {
	base       http.RoundTripper
	maxRetries uint64
	logger     zerolog.Logger
}

// Option is a functional option for configuring the transport.
type Option func(*RetryTransport)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(t *RetryTransport) {
		t.logger = logger
	}
}

// WithMaxRetries sets the number of retries after the first attempt.
func WithMaxRetries(n uint64) Option {
	return func(t *RetryTransport) {
		t.maxRetries = n
	}
}

// WithBase sets the underlying round tripper.
func WithBase(rt http.RoundTripper) Option {
	return func(t *RetryTransport) {
		t.base = rt
	}
}

// NewRetryTransport creates a retrying round tripper.
func NewRetryTransport(opts ...Option) *RetryTransport {
	t := &RetryTransport{
		base:       http.DefaultTransport,
		maxRetries: DefaultMaxRetries,
		logger:     zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// RoundTrip implements http.RoundTripper.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !replayable(req) {
		return t.base.RoundTrip(req)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = defaultInitialInterval
	policy.MaxInterval = defaultMaxInterval

	attempt := 0
	operation := func() (*http.Response, error) {
		if attempt > 0 {
			if err := rewind(req); err != nil {
				return nil, backoff.Permanent(err)
			}
		}
		attempt++

		resp, err := t.base.RoundTrip(req)
		if err != nil {
			// Network-level failure; the request context cancels the backoff.
			return nil, err
		}

		if retryableStatus(resp.StatusCode) {
			// Drain so the connection can be reused, then retry.
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			_ = resp.Body.Close()
			t.logger.Debug().
				Int("status", resp.StatusCode).
				Str("url", req.URL.Redacted()).
				Int("attempt", attempt).
				Msg("retrying request")
			return nil, fmt.Errorf("transient status %d", resp.StatusCode)
		}

		return resp, nil
	}

	return backoff.RetryWithData(
		operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, t.maxRetries), req.Context()),
	)
}

// replayable reports whether the request body can be re-sent.
func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

// rewind resets the request body before a retry.
func rewind(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody == nil {
		return nil
	}
	body, err := req.GetBody()
	if err != nil {
		return err
	}
	req.Body = body
	return nil
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}
