package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKeyPrefix namespaces session keys.
const DefaultRedisKeyPrefix = "aicl:session:"

// RedisBackend stores sessions as JSON strings with a TTL, so replicas
// behind a load balancer share logins.
type RedisBackend struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisBackend connects to the Redis server at url
// (redis://[user:password@]host:port/db) and verifies the connection.
func NewRedisBackend(ctx context.Context, url string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisBackendWithClient(client, DefaultRedisKeyPrefix), nil
}

// NewRedisBackendWithClient wraps a pre-configured client.
// This is useful for testing with miniredis.
func NewRedisBackendWithClient(client redis.UniversalClient, keyPrefix string) *RedisBackend {
	return &RedisBackend{client: client, keyPrefix: keyPrefix}
}

func (b *RedisBackend) key(id string) string {
	return b.keyPrefix + id
}

// Load implements Backend.
func (b *RedisBackend) Load(ctx context.Context, id string) (map[string]json.RawMessage, error) {
	raw, err := b.client.Get(ctx, b.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	var values map[string]json.RawMessage
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return values, nil
}

// Save implements Backend.
func (b *RedisBackend) Save(ctx context.Context, id string, values map[string]json.RawMessage, ttl time.Duration) error {
	raw, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := b.client.Set(ctx, b.key(id), raw, ttl).Err(); err != nil {
		return fmt.Errorf("set session: %w", err)
	}
	return nil
}

// Delete implements Backend.
func (b *RedisBackend) Delete(ctx context.Context, id string) error {
	if err := b.client.Del(ctx, b.key(id)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Close releases the client.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
