package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/sellerkit/spapi-client/pkg/auth"
	"github.com/sellerkit/spapi-client/pkg/client"
	"github.com/sellerkit/spapi-client/pkg/logging"
)

func main() {
	logging.Setup(logging.DefaultConfig())

	// Configuration from environment
	port := getEnv("PORT", "8080")
	region := getEnv("SPAPI_REGION", "na")
	userAgent := getEnv("USER_AGENT", "spapi-proxy/1.0 (Language=Go)")
	redisURL := getEnv("REDIS_URL", "")

	authCfg := auth.Config{
		ClientID:        os.Getenv("LWA_CLIENT_ID"),
		ClientSecret:    os.Getenv("LWA_CLIENT_SECRET"),
		RefreshToken:    os.Getenv("LWA_REFRESH_TOKEN"),
		AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		RoleArn:         os.Getenv("SPAPI_ROLE_ARN"),
		SellerID:        os.Getenv("SPAPI_SELLER_ID"),
		Region:          getEnv("AWS_REGION", "us-east-1"),
	}

	// Optional shared token store so replicas reuse one LWA token.
	var redisClient *redis.Client
	if redisURL != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: redisURL})
		ctx := context.Background()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		authCfg.TokenStore = auth.NewRedisStore(redisClient, auth.DefaultRedisKey)
		log.Printf("Connected to Redis at %s", redisURL)
	}

	authManager, err := auth.New(authCfg)
	if err != nil {
		log.Fatalf("Failed to create credential manager: %v", err)
	}

	clientCfg := client.DefaultConfig(authManager, region)
	clientCfg.UserAgent = userAgent
	apiClient, err := client.New(clientCfg)
	if err != nil {
		log.Fatalf("Failed to create API client: %v", err)
	}
	defer apiClient.Close()

	http.HandleFunc("/health", healthHandler)
	http.HandleFunc("/ready", readyHandler(redisClient))
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/api/", proxyHandler(apiClient))

	addr := ":" + port
	log.Printf("Starting SP-API proxy server on %s", addr)
	log.Printf("Region: %s, User-Agent: %s", region, userAgent)

	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports readiness. With no Redis configured the process is
// ready as soon as it is serving.
func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := redisClient.Ping(ctx).Err(); err != nil {
				http.Error(w, fmt.Sprintf("Redis unavailable: %v", err), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

// proxyHandler forwards /api/* to the partner API through the resilient
// client. Example: GET /api/orders/v0/orders?MarketplaceIds=X becomes a
// signed, rate-limited GET /orders/v0/orders.
func proxyHandler(apiClient *client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		endpoint := strings.TrimPrefix(r.URL.Path, "/api")

		var body []byte
		if r.Body != nil {
			var err error
			body, err = io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, "failed to read request body", http.StatusBadRequest)
				return
			}
		}

		ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
		defer cancel()

		opts := &client.RequestOptions{Query: r.URL.Query()}
		if len(body) > 0 {
			opts.Body = body
		}

		resp, err := apiClient.Request(ctx, r.Method, endpoint, opts)
		if err != nil {
			http.Error(w, fmt.Sprintf("upstream request failed: %v", err), http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)

		if resp.Success {
			w.Write(resp.Data)
			return
		}
		payload, _ := json.Marshal(map[string]any{"errors": resp.Errors})
		w.Write(payload)
	}
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
