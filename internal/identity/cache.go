package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyCache shares a fetched key set between service instances.
type KeyCache interface {
	// Load returns the cached document and its expiry, or ok=false on a miss.
	Load(ctx context.Context) (doc []byte, expiresAt time.Time, ok bool, err error)
	Store(ctx context.Context, doc []byte, expiresAt time.Time) error
}

// DefaultKeyCacheKey is the Redis key holding Google's signing keys.
const DefaultKeyCacheKey = "meer:auth:google:jwks"

// AppleKeyCacheKey is the Redis key holding Apple's signing keys.
const AppleKeyCacheKey = "meer:auth:apple:jwks"

type cachedKeySet struct {
	ExpiresAt time.Time       `json:"expires_at"`
	Document  json.RawMessage `json:"document"`
}

// RedisKeyCache stores the key set document in Redis until it expires.
type RedisKeyCache struct {
	client redis.Cmdable
	key    string
	now    func() time.Time
}

// NewRedisKeyCache returns a cache under key, or DefaultKeyCacheKey when
// key is empty.
func NewRedisKeyCache(client redis.Cmdable, key string) *RedisKeyCache {
	if key == "" {
		key = DefaultKeyCacheKey
	}
	return &RedisKeyCache{client: client, key: key, now: time.Now}
}

// Load implements KeyCache.
func (c *RedisKeyCache) Load(ctx context.Context) ([]byte, time.Time, bool, error) {
	raw, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("load cached key set: %w", err)
	}

	var entry cachedKeySet
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, time.Time{}, false, fmt.Errorf("decode cached key set: %w", err)
	}
	if !c.now().Before(entry.ExpiresAt) {
		return nil, time.Time{}, false, nil
	}
	return entry.Document, entry.ExpiresAt, true, nil
}

// Store implements KeyCache. Already-expired documents are not stored.
func (c *RedisKeyCache) Store(ctx context.Context, doc []byte, expiresAt time.Time) error {
	ttl := expiresAt.Sub(c.now())
	if ttl <= 0 {
		return nil
	}

	raw, err := json.Marshal(cachedKeySet{ExpiresAt: expiresAt.UTC(), Document: doc})
	if err != nil {
		return fmt.Errorf("encode key set: %w", err)
	}
	if err := c.client.Set(ctx, c.key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("store key set: %w", err)
	}
	return nil
}
