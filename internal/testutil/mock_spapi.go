// Package testutil provides mock servers for client tests: a fake API
// host and a fake LWA token endpoint.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior of a mock API endpoint.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockAPI is a configurable mock Selling Partner API host.
type MockAPI struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount      int
	LastRequestHeader http.Header
	LastRequestURI    string
}

// NewMockAPI creates a mock API server.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		mock.LastRequestURI = r.URL.RequestURI()
		mock.mu.Unlock()

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// Reset clears all tracking state.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.LastRequestHeader = nil
	m.LastRequestURI = ""
}

// SetHandler sets a custom handler for a path.
func (m *MockAPI) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a canned response for a path.
func (m *MockAPI) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetResponseSequence serves the given responses in order, repeating the
// last one once the sequence is exhausted. Useful for retry tests.
func (m *MockAPI) SetResponseSequence(path string, responses []MockResponse) {
	var mu sync.Mutex
	index := 0
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		resp := responses[index]
		if index < len(responses)-1 {
			index++
		}
		mu.Unlock()

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// GetRequestCount returns the number of requests received.
func (m *MockAPI) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetLastHeader returns a header value from the most recent request.
func (m *MockAPI) GetLastHeader(name string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.LastRequestHeader == nil {
		return ""
	}
	return m.LastRequestHeader.Get(name)
}

// GetLastRequestURI returns the most recent request URI (path + query).
func (m *MockAPI) GetLastRequestURI() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestURI
}

// defaultHandler serves a generic success payload.
func (m *MockAPI) defaultHandler(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("x-amzn-RateLimit-Limit", "5")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"payload":{}}`))
}

// NewHealthyResponse creates a 200 OK response with the given payload.
func NewHealthyResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"Content-Type":           "application/json",
			"x-amzn-RateLimit-Limit": "5",
		},
	}
}

// NewRateLimitResponse creates a 429 with the given retry-after seconds.
func NewRateLimitResponse(retryAfterSeconds int) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"errors":[{"code":"QuotaExceeded","message":"You exceeded your quota"}]}`,
		Headers: map[string]string{
			"Content-Type": "application/json",
			"Retry-After":  fmt.Sprintf("%d", retryAfterSeconds),
		},
	}
}

// NewServerErrorResponse creates a 500 response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"errors":[{"code":"InternalFailure","message":"Something went wrong"}]}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewUnauthorizedResponse creates a 403 with an Unauthorized error code.
func NewUnauthorizedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusForbidden,
		Body:       `{"errors":[{"code":"Unauthorized","message":"Access to requested resource is denied"}]}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// MockLWA is a fake token endpoint that counts exchanges.
type MockLWA struct {
	server *httptest.Server
	mu     sync.Mutex
	count  int
}

// NewMockLWA creates a token endpoint that always vends the given token.
func NewMockLWA(accessToken string) *MockLWA {
	mock := &MockLWA{}
	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.count++
		mock.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":%q,"token_type":"bearer","expires_in":3600}`, accessToken)
	}))
	return mock
}

// URL returns the token endpoint URL.
func (m *MockLWA) URL() string {
	return m.server.URL
}

// Close shuts down the endpoint.
func (m *MockLWA) Close() {
	m.server.Close()
}

// ExchangeCount returns the number of token exchanges performed.
func (m *MockLWA) ExchangeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}
