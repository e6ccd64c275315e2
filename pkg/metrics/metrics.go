// Package metrics provides the central Prometheus registry reference for
// the client. Metrics are defined in their owning packages (client, auth,
// ratelimit) via promauto to avoid circular dependencies; this package
// documents them in one place.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registerer used by the client.
// All metrics register themselves via promauto in their owning packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - spapi_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - spapi_request_duration_seconds{endpoint} (Histogram): End-to-end call duration including queueing and retries
//
// Retry Metrics (pkg/client):
//   - spapi_retries_total{reason} (Counter): Retry attempts by reason (rate_limit, server, network)
//   - spapi_retry_backoff_seconds{reason} (Histogram): Backoff duration before retries
//   - spapi_retry_exhausted_total{reason} (Counter): Requests that exhausted all attempts
//
// Rate Limiter Metrics (pkg/ratelimit):
//   - spapi_ratelimit_dispatched_total{limiter} (Counter): Operations dispatched per endpoint class
//   - spapi_ratelimit_queue_depth{limiter} (Gauge): Currently queued operations
//   - spapi_ratelimit_queue_wait_seconds{limiter} (Histogram): Time operations waited in queue
//   - spapi_ratelimit_rate_adjustments_total{limiter} (Counter): Adaptive corrections from server-reported limits
//   - spapi_ratelimit_rejected_total{limiter, reason} (Counter): Queued operations rejected without dispatch (cleared, closed, context)
//
// Credential Metrics (pkg/auth):
//   - spapi_auth_token_refreshes_total{outcome} (Counter): LWA token refreshes by outcome
//   - spapi_auth_role_assumptions_total{outcome} (Counter): Role assumptions by outcome
//
// Example Prometheus Queries:
//
//   # Request error rate
//   sum(rate(spapi_requests_total{status=~"5.."}[5m])) / sum(rate(spapi_requests_total[5m]))
//
//   # P95 call latency per endpoint
//   histogram_quantile(0.95, rate(spapi_request_duration_seconds_bucket[5m]))
//
//   # Queue backlog per endpoint class
//   spapi_ratelimit_queue_depth
//
//   # Share of calls hitting server rate limits
//   rate(spapi_retries_total{reason="rate_limit"}[5m])
