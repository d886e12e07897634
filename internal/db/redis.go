package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/openadcp/salesagent/internal/models"
)

// RedisStore wraps a redis client used for format-spec and principal caching.
type RedisStore struct {
	Client *redis.Client
}

// InitRedis initializes a Redis client and returns a RedisStore.
func InitRedis(addr string) (*RedisStore, error) {
	rs := &RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: addr}),
	}

	// Add OpenTelemetry instrumentation to Redis client
	if err := redisotel.InstrumentTracing(rs.Client); err != nil {
		return nil, fmt.Errorf("failed to instrument redis tracing: %w", err)
	}

	if err := rs.Client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	zap.L().Info("Connected to Redis", zap.String("addr", addr))
	return rs, nil
}

// NewRedisStore wraps an existing client. Used by tests with miniredis.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{Client: client}
}

// CacheFormatSpec stores a fetched format spec under its normalized id.
func (r *RedisStore) CacheFormatSpec(ctx context.Context, tenantID, key string, spec any, ttl time.Duration) error {
	data, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("marshal format spec: %w", err)
	}
	return r.Client.Set(ctx, formatSpecKey(tenantID, key), data, ttl).Err()
}

// GetFormatSpec loads a cached format spec into out. Returns false on miss.
func (r *RedisStore) GetFormatSpec(ctx context.Context, tenantID, key string, out any) (bool, error) {
	data, err := r.Client.Get(ctx, formatSpecKey(tenantID, key)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get format spec: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("parse cached format spec: %w", err)
	}
	return true, nil
}

func formatSpecKey(tenantID, key string) string {
	return fmt.Sprintf("formatspec:%s:%s", tenantID, key)
}

// CachePrincipal stores a token-to-principal resolution with a short TTL to
// keep revocation responsive.
func (r *RedisStore) CachePrincipal(ctx context.Context, token string, pr *models.Principal, ttl time.Duration) error {
	data, err := json.Marshal(pr)
	if err != nil {
		return fmt.Errorf("marshal principal: %w", err)
	}
	return r.Client.Set(ctx, "principal:"+token, data, ttl).Err()
}

// GetCachedPrincipal loads a cached token resolution. Returns nil on miss.
func (r *RedisStore) GetCachedPrincipal(ctx context.Context, token string) (*models.Principal, error) {
	data, err := r.Client.Get(ctx, "principal:"+token).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached principal: %w", err)
	}
	var pr models.Principal
	if err := json.Unmarshal(data, &pr); err != nil {
		return nil, fmt.Errorf("parse cached principal: %w", err)
	}
	return &pr, nil
}

// InvalidatePrincipal drops a cached token resolution.
func (r *RedisStore) InvalidatePrincipal(ctx context.Context, token string) error {
	return r.Client.Del(ctx, "principal:"+token).Err()
}

// Close shuts down the Redis client.
func (r *RedisStore) Close() {
	if r != nil && r.Client != nil {
		if err := r.Client.Close(); err != nil {
			zap.L().Error("redis close", zap.Error(err))
		}
	}
}
