package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// newMockLWA returns a token endpoint that counts exchanges and records the
// last form submission.
func newMockLWA(t *testing.T, status int, body string) (*httptest.Server, *int, *map[string]string) {
	t.Helper()

	var mu sync.Mutex
	count := 0
	lastForm := map[string]string{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		mu.Lock()
		count++
		for k := range r.PostForm {
			lastForm[k] = r.PostForm.Get(k)
		}
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	return server, &count, &lastForm
}

func newTestManager(t *testing.T, tokenURL string) *Manager {
	t.Helper()

	manager, err := New(Config{
		ClientID:     " client-id ",
		ClientSecret: "client-secret",
		RefreshToken: " refresh-token\n",
		TokenURL:     tokenURL,
		STSClient:    &fakeSTS{},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return manager
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
	}{
		{
			name: "valid config",
			config: Config{
				ClientID:     "id",
				ClientSecret: "secret",
				RefreshToken: "refresh",
				STSClient:    &fakeSTS{},
			},
			expectError: false,
		},
		{
			name:        "missing client id",
			config:      Config{ClientSecret: "secret", RefreshToken: "refresh"},
			expectError: true,
		},
		{
			name:        "missing client secret",
			config:      Config{ClientID: "id", RefreshToken: "refresh"},
			expectError: true,
		},
		{
			name:        "whitespace refresh token",
			config:      Config{ClientID: "id", ClientSecret: "secret", RefreshToken: "   "},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.config)
			if tt.expectError && err == nil {
				t.Error("New() expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("New() unexpected error: %v", err)
			}
		})
	}
}

func TestAccessToken_ExchangeAndCache(t *testing.T) {
	server, count, lastForm := newMockLWA(t, http.StatusOK,
		`{"access_token":"token-1","token_type":"bearer","expires_in":3600}`)
	manager := newTestManager(t, server.URL)

	ctx := context.Background()

	token, err := manager.AccessToken(ctx)
	if err != nil {
		t.Fatalf("AccessToken() error = %v", err)
	}
	if token != "token-1" {
		t.Errorf("AccessToken() = %q, want %q", token, "token-1")
	}

	// Second call within the expiry buffer must hit the cache.
	if _, err := manager.AccessToken(ctx); err != nil {
		t.Fatalf("second AccessToken() error = %v", err)
	}
	if *count != 1 {
		t.Errorf("exchange count = %d, want 1", *count)
	}

	form := *lastForm
	if form["grant_type"] != "refresh_token" {
		t.Errorf("grant_type = %q", form["grant_type"])
	}
	if form["client_id"] != "client-id" {
		t.Errorf("client_id = %q, want trimmed value", form["client_id"])
	}
	if form["refresh_token"] != "refresh-token" {
		t.Errorf("refresh_token = %q, want trimmed value", form["refresh_token"])
	}
}

// Concurrent callers racing on a cold cache must result in exactly one
// exchange.
func TestAccessToken_SingleFlight(t *testing.T) {
	server, count, _ := newMockLWA(t, http.StatusOK,
		`{"access_token":"token-1","token_type":"bearer","expires_in":3600}`)
	manager := newTestManager(t, server.URL)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := manager.AccessToken(context.Background()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("AccessToken() error = %v", err)
	}
	if *count != 1 {
		t.Errorf("exchange count = %d, want 1", *count)
	}
}

func TestAccessToken_RefreshesNearExpiry(t *testing.T) {
	server, count, _ := newMockLWA(t, http.StatusOK,
		`{"access_token":"token-2","token_type":"bearer","expires_in":3600}`)
	manager := newTestManager(t, server.URL)

	// Seed a token with less than the 5-minute buffer remaining.
	stale := &Token{Value: "stale", ExpiresAt: time.Now().Add(2 * time.Minute)}
	if err := manager.store.Put(context.Background(), stale); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	token, err := manager.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken() error = %v", err)
	}
	if token != "token-2" {
		t.Errorf("AccessToken() = %q, want refreshed token", token)
	}
	if *count != 1 {
		t.Errorf("exchange count = %d, want 1", *count)
	}
}

func TestAccessToken_ExchangeFailure(t *testing.T) {
	server, _, _ := newMockLWA(t, http.StatusBadRequest,
		`{"error":"invalid_grant","error_description":"refresh token revoked"}`)
	manager := newTestManager(t, server.URL)

	_, err := manager.AccessToken(context.Background())
	if err == nil {
		t.Fatal("AccessToken() expected error, got nil")
	}

	authErr, ok := err.(*AuthenticationError)
	if !ok {
		t.Fatalf("error type = %T, want *AuthenticationError", err)
	}
	if authErr.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want %d", authErr.StatusCode, http.StatusBadRequest)
	}
	if authErr.Body == "" {
		t.Error("expected provider body to be carried for diagnostics")
	}
}
