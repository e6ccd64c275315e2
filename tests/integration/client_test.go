package integration

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	ststypes "github.com/aws/aws-sdk-go-v2/service/sts/types"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sellerkit/spapi-client/internal/testutil"
	"github.com/sellerkit/spapi-client/pkg/auth"
	"github.com/sellerkit/spapi-client/pkg/client"
	"github.com/sellerkit/spapi-client/pkg/ratelimit"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

// stubSTS satisfies auth.STSAPI without network access.
type stubSTS struct{}

func (stubSTS) AssumeRole(_ context.Context, _ *sts.AssumeRoleInput, _ ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
	return &sts.AssumeRoleOutput{
		Credentials: &ststypes.Credentials{
			AccessKeyId:     aws.String("ASIATESTKEY"),
			SecretAccessKey: aws.String("test-secret"),
			SessionToken:    aws.String("test-session-token"),
			Expiration:      aws.Time(time.Now().Add(time.Hour)),
		},
	}, nil
}

func newAuthManager(t *testing.T, tokenURL string, store auth.TokenStore) *auth.Manager {
	t.Helper()

	manager, err := auth.New(auth.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RefreshToken: "refresh-token",
		RoleArn:      "arn:aws:iam::123456789012:role/SellingPartner",
		SellerID:     "SELLER123",
		Region:       "us-east-1",
		TokenURL:     tokenURL,
		TokenStore:   store,
		STSClient:    stubSTS{},
	})
	if err != nil {
		t.Fatalf("auth.New() error = %v", err)
	}
	return manager
}

// TestFullRequestFlow exercises the complete chain: token exchange, role
// assumption, signing, rate-limited dispatch, and envelope handling.
func TestFullRequestFlow(t *testing.T) {
	mockAPI := testutil.NewMockAPI()
	defer mockAPI.Close()
	mockAPI.SetResponse("/orders/v0/orders", testutil.NewHealthyResponse(`{"payload":{"Orders":[{"AmazonOrderId":"123-4567890-1234567"}]}}`))

	lwa := testutil.NewMockLWA("integration-token")
	defer lwa.Close()

	limiter, err := ratelimit.New("integration", ratelimit.Config{
		RequestsPerSecond: 50,
		BurstLimit:        10,
	})
	if err != nil {
		t.Fatalf("ratelimit.New() error = %v", err)
	}
	defer limiter.Close()

	apiClient, err := client.New(client.Config{
		Auth:       newAuthManager(t, lwa.URL(), nil),
		Region:     "na",
		UserAgent:  "integration-test/1.0",
		Endpoint:   mockAPI.URL(),
		MaxRetries: 3,
		Limiter:    limiter,
	})
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	defer apiClient.Close()

	ctx := context.Background()
	resp, err := apiClient.Get(ctx, "/orders/v0/orders", nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if !resp.Success {
		t.Error("Success = false, want true")
	}
	if !strings.Contains(string(resp.Data), "123-4567890-1234567") {
		t.Errorf("Data = %s", resp.Data)
	}
	if got := mockAPI.GetLastHeader("x-amz-access-token"); got != "integration-token" {
		t.Errorf("access token header = %q", got)
	}
	if got := mockAPI.GetLastHeader("Authorization"); !strings.HasPrefix(got, "AWS4-HMAC-SHA256 ") {
		t.Errorf("Authorization = %q", got)
	}
	if lwa.ExchangeCount() != 1 {
		t.Errorf("token exchanges = %d, want 1", lwa.ExchangeCount())
	}

	// A second call reuses the cached token and credentials.
	if _, err := apiClient.Get(ctx, "/orders/v0/orders", nil); err != nil {
		t.Fatalf("second Get() error = %v", err)
	}
	if lwa.ExchangeCount() != 1 {
		t.Errorf("token exchanges after second call = %d, want 1", lwa.ExchangeCount())
	}
}

// TestSharedTokenStore verifies that two managers sharing a Redis store
// perform only one token exchange between them.
func TestSharedTokenStore(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping testcontainers test in short mode")
	}

	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	lwa := testutil.NewMockLWA("shared-token")
	defer lwa.Close()

	store := auth.NewRedisStore(redisClient, auth.DefaultRedisKey)
	first := newAuthManager(t, lwa.URL(), store)
	second := newAuthManager(t, lwa.URL(), store)

	ctx := context.Background()
	tokenA, err := first.AccessToken(ctx)
	if err != nil {
		t.Fatalf("first AccessToken() error = %v", err)
	}
	tokenB, err := second.AccessToken(ctx)
	if err != nil {
		t.Fatalf("second AccessToken() error = %v", err)
	}

	if tokenA != "shared-token" || tokenB != "shared-token" {
		t.Errorf("tokens = %q, %q, want the shared LWA token", tokenA, tokenB)
	}
	if lwa.ExchangeCount() != 1 {
		t.Errorf("token exchanges = %d, want 1 across both managers", lwa.ExchangeCount())
	}
}

// TestRedisStoreRoundTrip verifies TTL-bound storage against a real Redis.
func TestRedisStoreRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping testcontainers test in short mode")
	}

	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	store := auth.NewRedisStore(redisClient, "spapi:test:token")
	ctx := context.Background()

	token := &auth.Token{
		Value:     "round-trip",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := store.Put(ctx, token); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := store.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil || got.Value != "round-trip" {
		t.Fatalf("Get() = %+v, want the stored token", got)
	}

	// An expired token is treated as a miss.
	expired := &auth.Token{Value: "stale", ExpiresAt: time.Now().Add(-time.Minute)}
	if err := store.Put(ctx, expired); err != nil {
		t.Fatalf("Put(expired) error = %v", err)
	}
	// Put skips expired tokens, so the live one is still returned.
	got, err = store.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil || got.Value != "round-trip" {
		t.Errorf("Get() after expired Put = %+v, want the live token", got)
	}
}

// TestRateLimitedFlowUnderLoad pushes more requests than the burst allows
// and checks both completion and pacing.
func TestRateLimitedFlowUnderLoad(t *testing.T) {
	mockAPI := testutil.NewMockAPI()
	defer mockAPI.Close()

	lwa := testutil.NewMockLWA("load-token")
	defer lwa.Close()

	limiter, err := ratelimit.New("load", ratelimit.Config{
		RequestsPerSecond: 10,
		BurstLimit:        3,
	})
	if err != nil {
		t.Fatalf("ratelimit.New() error = %v", err)
	}
	defer limiter.Close()

	apiClient, err := client.New(client.Config{
		Auth:       newAuthManager(t, lwa.URL(), nil),
		Region:     "na",
		UserAgent:  "integration-test/1.0",
		Endpoint:   mockAPI.URL(),
		MaxRetries: 2,
		Limiter:    limiter,
	})
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	defer apiClient.Close()

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 8; i++ {
		if _, err := apiClient.Get(ctx, "/orders/v0/orders", nil); err != nil {
			t.Fatalf("Get() %d error = %v", i, err)
		}
	}
	elapsed := time.Since(start)

	if mockAPI.GetRequestCount() != 8 {
		t.Errorf("request count = %d, want 8", mockAPI.GetRequestCount())
	}
	// 3 burst + 5 refills at 100ms each.
	if elapsed < 400*time.Millisecond {
		t.Errorf("8 requests finished in %s, faster than the configured rate", elapsed)
	}
}
