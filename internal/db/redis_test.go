package db

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openadcp/salesagent/internal/models"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	return s, NewRedisStore(redis.NewClient(&redis.Options{Addr: s.Addr()}))
}

func TestFormatSpecCacheRoundTrip(t *testing.T) {
	_, store := setupTestRedis(t)
	ctx := context.Background()

	type spec struct {
		Name string `json:"name"`
	}
	require.NoError(t, store.CacheFormatSpec(ctx, "tenant_1", "https://h#display_300x250", spec{Name: "Display 300x250"}, time.Hour))

	var out spec
	hit, err := store.GetFormatSpec(ctx, "tenant_1", "https://h#display_300x250", &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "Display 300x250", out.Name)

	// Different tenant misses.
	hit, err = store.GetFormatSpec(ctx, "tenant_2", "https://h#display_300x250", &out)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestPrincipalCacheExpiry(t *testing.T) {
	s, store := setupTestRedis(t)
	ctx := context.Background()

	pr := &models.Principal{TenantID: "tenant_1", PrincipalID: "buyer_1", Name: "Buyer One"}
	require.NoError(t, store.CachePrincipal(ctx, "tok_abc", pr, time.Minute))

	got, err := store.GetCachedPrincipal(ctx, "tok_abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "buyer_1", got.PrincipalID)

	s.FastForward(2 * time.Minute)
	got, err = store.GetCachedPrincipal(ctx, "tok_abc")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPrincipalCacheInvalidation(t *testing.T) {
	_, store := setupTestRedis(t)
	ctx := context.Background()

	pr := &models.Principal{TenantID: "tenant_1", PrincipalID: "buyer_1"}
	require.NoError(t, store.CachePrincipal(ctx, "tok_abc", pr, time.Minute))
	require.NoError(t, store.InvalidatePrincipal(ctx, "tok_abc"))

	got, err := store.GetCachedPrincipal(ctx, "tok_abc")
	require.NoError(t, err)
	assert.Nil(t, got)
}
