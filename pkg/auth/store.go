package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the Redis key under which the shared access token is
// stored.
const DefaultRedisKey = "spapi:auth:access_token"

// Token is a cached LWA access token. Tokens are replaced wholesale on
// refresh, never mutated in place.
type Token struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TTL returns the remaining lifetime of the token.
func (t *Token) TTL() time.Duration {
	return time.Until(t.ExpiresAt)
}

// TokenStore caches the access token. Get returns (nil, nil) on a miss.
// Stores may be shared between processes; the manager treats store errors
// as cache misses and refreshes.
type TokenStore interface {
	Get(ctx context.Context) (*Token, error)
	Put(ctx context.Context, token *Token) error
}

// MemoryStore is the default single-process token store.
type MemoryStore struct {
	mu    sync.RWMutex
	token *Token
}

// NewMemoryStore creates an empty in-memory token store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Get returns the cached token, or (nil, nil) if none is cached.
func (s *MemoryStore) Get(_ context.Context) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, nil
}

// Put replaces the cached token.
func (s *MemoryStore) Put(_ context.Context, token *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

// RedisStore shares one access token between processes via Redis. Entries
// are stored as JSON with a TTL matching the token expiry, so Redis evicts
// dead tokens on its own.
type RedisStore struct {
	redis *redis.Client
	key   string
}

// NewRedisStore creates a Redis-backed token store. An empty key uses
// DefaultRedisKey.
func NewRedisStore(redisClient *redis.Client, key string) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{redis: redisClient, key: key}
}

// Get retrieves the shared token. Returns (nil, nil) when no token is
// stored or the stored token has expired.
func (s *RedisStore) Get(ctx context.Context) (*Token, error) {
	data, err := s.redis.Get(ctx, s.key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var token Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("unmarshal token: %w", err)
	}
	if token.TTL() <= 0 {
		return nil, nil
	}
	return &token, nil
}

// Put stores the token with a TTL equal to its remaining lifetime.
// Already-expired tokens are not stored.
func (s *RedisStore) Put(ctx context.Context, token *Token) error {
	if token == nil {
		return fmt.Errorf("token cannot be nil")
	}
	ttl := token.TTL()
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	if err := s.redis.Set(ctx, s.key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
