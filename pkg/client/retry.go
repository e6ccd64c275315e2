package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spapi_retries_total",
		Help: "Total retry attempts by reason",
	}, []string{"reason"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spapi_retry_backoff_seconds",
		Help:    "Backoff duration before retries by reason",
		Buckets: []float64{0.5, 1, 2, 4, 8, 10, 30},
	}, []string{"reason"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spapi_retry_exhausted_total",
		Help: "Total requests that exhausted all attempts by reason",
	}, []string{"reason"})
)

// Backoff policy: min(1s x 2^attempt, 10s) between attempts. A 429's
// server-specified retry-after replaces the exponential wait for that
// attempt and does not advance the curve.
const (
	baseBackoff = 1 * time.Second
	maxBackoff  = 10 * time.Second
)

// backoffForAttempt returns the exponential wait before retry number
// attempt (0-based).
func backoffForAttempt(attempt int) time.Duration {
	backoff := baseBackoff << uint(attempt)
	if backoff > maxBackoff || backoff <= 0 {
		return maxBackoff
	}
	return backoff
}

// retryReason labels an error for retry metrics.
func retryReason(err error) string {
	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return "rate_limit"
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return "server"
	}
	return "network"
}

// waitBeforeRetry sleeps the appropriate duration before retry number
// attempt: the server-mandated retry-after for rate limits, the
// exponential curve otherwise. Respects context cancellation.
func (c *Client) waitBeforeRetry(ctx context.Context, endpoint string, attempt int, lastErr error) error {
	wait := backoffForAttempt(attempt - 1)
	reason := retryReason(lastErr)

	var rateLimitErr *RateLimitError
	if errors.As(lastErr, &rateLimitErr) && rateLimitErr.RetryAfter > 0 {
		wait = rateLimitErr.RetryAfter
	}

	retriesTotal.WithLabelValues(reason).Inc()
	retryBackoffSeconds.WithLabelValues(reason).Observe(wait.Seconds())

	c.logger.Warn().
		Str("endpoint", endpoint).
		Str("reason", reason).
		Int("attempt", attempt).
		Dur("backoff", wait).
		Msg("Retrying request after backoff")

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
	case <-time.After(wait):
		return nil
	}
}
