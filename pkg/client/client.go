// Package client provides the core API client: credential handling,
// request signing, rate-limited execution, and retry orchestration.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/sellerkit/spapi-client/pkg/auth"
	"github.com/sellerkit/spapi-client/pkg/logging"
	"github.com/sellerkit/spapi-client/pkg/ratelimit"
	"github.com/sellerkit/spapi-client/pkg/signing"
)

// Prometheus metrics for client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spapi_requests_total",
		Help: "Total API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spapi_request_duration_seconds",
		Help:    "API request duration in seconds by endpoint, including queueing and retries",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})
)

// HeaderAccessToken carries the LWA bearer token on every request. It is
// not part of the signed header set.
const HeaderAccessToken = "x-amz-access-token"

const defaultUserAgent = "spapi-client/1.0 (Language=Go)"

// Response is the envelope returned for every completed call. Terminal
// API-level failures set Success to false and fill Errors instead of
// surfacing a Go error, so callers branch on Success for ordinary
// failures.
type Response struct {
	Success    bool
	Data       json.RawMessage
	Errors     []APIError
	StatusCode int
	Headers    http.Header
}

// RequestOptions customizes a single call.
type RequestOptions struct {
	// Query parameters. They are canonicalized once and the same string
	// is used for both the signature and the final URL.
	Query url.Values

	// Body is the request payload: []byte and string pass through, any
	// other value is JSON-encoded.
	Body any

	// Headers are extra request headers. Headers outside the signed set
	// never affect the signature.
	Headers http.Header

	// Limiter selects the endpoint-class limiter. Defaults to the
	// client's own limiter.
	Limiter *ratelimit.Limiter

	// Priority orders the call within the limiter queue.
	Priority int

	// Retries overrides the client-wide attempt limit when > 0.
	Retries int
}

// Config holds the client configuration. Everything is injected; nothing
// is read from the process environment.
type Config struct {
	// Auth supplies bearer tokens and signing credentials.
	Auth *auth.Manager

	// Region selects the API host and signing region (na, eu, fe).
	Region string

	// MarketplaceID is the default marketplace for callers that build
	// query parameters; the core passes it through untouched.
	MarketplaceID string

	// UserAgent sent (and signed into nothing) on every request.
	UserAgent string

	// Endpoint overrides the region host ("https://host"), for tests
	// and the sandbox. Signing still uses the region's signing region.
	Endpoint string

	// HTTPClient is the transport. Defaults to a 30s-timeout client.
	HTTPClient *http.Client

	// MaxRetries is the attempt limit per logical call (default 3).
	MaxRetries int

	// Limiter is the default endpoint-class limiter. When nil the
	// client creates and owns one with ratelimit.DefaultConfig.
	Limiter *ratelimit.Limiter
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(authManager *auth.Manager, region string) Config {
	return Config{
		Auth:       authManager,
		Region:     region,
		UserAgent:  defaultUserAgent,
		MaxRetries: 3,
	}
}

// Client executes signed, rate-limited API calls.
type Client struct {
	cfg        Config
	auth       *auth.Manager
	signer     *signing.Signer
	httpClient *http.Client
	scheme     string
	host       string
	limiter    *ratelimit.Limiter
	ownLimiter bool
	logger     zerolog.Logger
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.Auth == nil {
		return nil, fmt.Errorf("auth manager is required")
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	endpoint, ok := EndpointForRegion(cfg.Region)
	if !ok {
		return nil, fmt.Errorf("unknown region %q", cfg.Region)
	}

	scheme, host := "https", endpoint.Host
	if cfg.Endpoint != "" {
		parsed, err := url.Parse(cfg.Endpoint)
		if err != nil || parsed.Host == "" {
			return nil, fmt.Errorf("invalid endpoint override %q", cfg.Endpoint)
		}
		scheme, host = parsed.Scheme, parsed.Host
	}

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	limiter := cfg.Limiter
	ownLimiter := false
	if limiter == nil {
		var err error
		limiter, err = ratelimit.New("default", ratelimit.DefaultConfig())
		if err != nil {
			return nil, fmt.Errorf("create default limiter: %w", err)
		}
		ownLimiter = true
	}

	return &Client{
		cfg:        cfg,
		auth:       cfg.Auth,
		signer:     signing.New(endpoint.SigningRegion, cfg.UserAgent),
		httpClient: httpClient,
		scheme:     scheme,
		host:       host,
		limiter:    limiter,
		ownLimiter: ownLimiter,
		logger:     logging.NewLogger("client"),
	}, nil
}

// Request performs one logical API call: obtain credentials, sign, submit
// through the endpoint's rate limiter, classify the response, and retry
// transient failures. Configuration and authentication failures surface as
// errors; terminal API failures come back as a Success=false envelope.
func (c *Client) Request(ctx context.Context, method, path string, opts *RequestOptions) (*Response, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}
	if path == "" || path[0] != '/' {
		path = "/" + path
	}

	attempts := c.cfg.MaxRetries
	if opts.Retries > 0 {
		attempts = opts.Retries
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = c.limiter
	}

	body, err := encodeBody(opts.Body)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}

	rawQuery := signing.CanonicalQueryString(opts.Query)

	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	}()

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := c.waitBeforeRetry(ctx, path, attempt, lastErr); err != nil {
				return nil, err
			}
		}

		resp, err := c.attempt(ctx, method, path, opts, rawQuery, body, limiter)
		if err == nil {
			if attempt > 0 {
				c.logger.Info().
					Str("endpoint", path).
					Int("attempt", attempt+1).
					Msg("Request succeeded after retry")
			}
			return resp, nil
		}
		lastErr = err

		// Fatal classes: configuration, authentication, a torn-down
		// limiter, or a dead context. Never retried.
		var authErr *auth.AuthenticationError
		var confErr *auth.ConfigurationError
		if errors.As(err, &authErr) || errors.As(err, &confErr) {
			return nil, err
		}
		if errors.Is(err, ratelimit.ErrQueueCleared) || errors.Is(err, ratelimit.ErrLimiterClosed) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		}

		// Unauthorized / invalid-input conditions are terminal even on
		// an otherwise-retryable status: convert to a failure envelope.
		var statusErr *StatusError
		if errors.As(err, &statusErr) && terminalAPIErrors(statusErr.Errors) {
			return &Response{
				Success:    false,
				Errors:     statusErr.Errors,
				StatusCode: statusErr.StatusCode,
				Headers:    statusErr.Headers,
			}, nil
		}
	}

	retryExhaustedTotal.WithLabelValues(retryReason(lastErr)).Inc()
	c.logger.Error().
		Str("endpoint", path).
		Int("attempts", attempts).
		Err(lastErr).
		Msg("Retry attempts exhausted")

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, attempts, lastErr)
}

// attempt runs one pass of the AUTH -> SIGN -> QUEUED -> IN_FLIGHT chain.
func (c *Client) attempt(ctx context.Context, method, path string, opts *RequestOptions, rawQuery string, body []byte, limiter *ratelimit.Limiter) (*Response, error) {
	token, err := c.auth.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	creds, err := c.auth.AssumedCredentials(ctx)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	for k, vs := range opts.Headers {
		for _, v := range vs {
			headers.Add(k, v)
		}
	}
	headers.Set(HeaderAccessToken, token)
	if len(body) > 0 && headers.Get("Content-Type") == "" {
		headers.Set("Content-Type", "application/json")
	}

	signed, err := c.signer.Sign(signing.Credentials{
		AccessKeyID:     creds.AccessKeyID,
		SecretAccessKey: creds.SecretAccessKey,
		SessionToken:    creds.SessionToken,
	}, method, c.host, path, opts.Query, headers, body)
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	// The URL carries the exact query string that was signed.
	requestURL := c.scheme + "://" + c.host + path
	if rawQuery != "" {
		requestURL += "?" + rawQuery
	}

	var httpResp *http.Response
	err = limiter.Do(ctx, func(ctx context.Context) error {
		req, reqErr := http.NewRequestWithContext(ctx, method, requestURL, bytes.NewReader(body))
		if reqErr != nil {
			return reqErr
		}
		req.Header = signed
		req.Host = c.host

		var doErr error
		httpResp, doErr = c.httpClient.Do(req)
		return doErr
	}, opts.Priority)
	if err != nil {
		requestsTotal.WithLabelValues(path, "network_error").Inc()
		return nil, fmt.Errorf("transport: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	limiter.AdjustFromHeaders(httpResp.Header)
	requestsTotal.WithLabelValues(path, strconv.Itoa(httpResp.StatusCode)).Inc()

	switch {
	case httpResp.StatusCode >= 200 && httpResp.StatusCode < 300:
		resp := &Response{
			Success:    true,
			StatusCode: httpResp.StatusCode,
			Headers:    httpResp.Header,
		}
		if len(respBody) > 0 {
			resp.Data = respBody
		}
		return resp, nil

	case httpResp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(httpResp.Header)
		c.logger.Warn().
			Str("endpoint", path).
			Dur("retry_after", retryAfter).
			Msg("Rate limited by server")
		return nil, &RateLimitError{Endpoint: path, RetryAfter: retryAfter}

	case httpResp.StatusCode >= 500:
		return nil, &StatusError{
			Endpoint:   path,
			StatusCode: httpResp.StatusCode,
			Errors:     parseAPIErrors(respBody),
			Headers:    httpResp.Header,
		}

	default:
		// Terminal 4xx: a structured failure, not an error.
		c.logger.Warn().
			Str("endpoint", path).
			Int("status_code", httpResp.StatusCode).
			Msg("Request failed with terminal status")
		return &Response{
			Success:    false,
			Errors:     parseAPIErrors(respBody),
			StatusCode: httpResp.StatusCode,
			Headers:    httpResp.Header,
		}, nil
	}
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string, opts *RequestOptions) (*Response, error) {
	return c.Request(ctx, http.MethodGet, path, opts)
}

// Post performs a POST request with the given body.
func (c *Client) Post(ctx context.Context, path string, body any, opts *RequestOptions) (*Response, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}
	opts.Body = body
	return c.Request(ctx, http.MethodPost, path, opts)
}

// Put performs a PUT request with the given body.
func (c *Client) Put(ctx context.Context, path string, body any, opts *RequestOptions) (*Response, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}
	opts.Body = body
	return c.Request(ctx, http.MethodPut, path, opts)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, opts *RequestOptions) (*Response, error) {
	return c.Request(ctx, http.MethodDelete, path, opts)
}

// Limiter returns the client's default rate limiter.
func (c *Client) Limiter() *ratelimit.Limiter {
	return c.limiter
}

// MarketplaceID returns the configured default marketplace.
func (c *Client) MarketplaceID() string {
	return c.cfg.MarketplaceID
}

// Close releases the client's owned resources. Caller-provided limiters
// are left running.
func (c *Client) Close() {
	if c.ownLimiter {
		c.limiter.Close()
	}
}

// encodeBody converts a request body to bytes. []byte and string pass
// through; other values are JSON-encoded.
func encodeBody(body any) ([]byte, error) {
	switch v := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return json.Marshal(v)
	}
}

// parseAPIErrors extracts the provider's errors array. Non-JSON bodies
// become a single synthetic error so diagnostics are never lost.
func parseAPIErrors(body []byte) []APIError {
	if len(body) == 0 {
		return nil
	}
	var payload struct {
		Errors []APIError `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Errors) > 0 {
		return payload.Errors
	}
	msg := string(body)
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return []APIError{{Code: "UnknownError", Message: msg}}
}

// parseRetryAfter reads the server-specified wait in seconds. Returns 0
// when absent or unparseable; the retry loop then falls back to the
// exponential curve.
func parseRetryAfter(headers http.Header) time.Duration {
	raw := headers.Get("Retry-After")
	if raw == "" {
		return 0
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
