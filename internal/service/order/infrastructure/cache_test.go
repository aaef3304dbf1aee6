package infrastructure

import (
	"context"
	"testing"
	"time"

	"orderhub/internal/pkg/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisViewCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := redis.NewClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	cache := NewRedisViewCache(client)
	ctx := context.Background()

	_, found, err := cache.Get(ctx, "Order:O1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, cache.Set(ctx, "AllOrders", []byte(`[]`), 30*time.Second))
	raw, found, err := cache.Get(ctx, "AllOrders")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `[]`, string(raw))
	assert.Equal(t, 30*time.Second, mr.TTL("AllOrders"))

	mr.FastForward(10 * time.Second)
	replaced, err := cache.Replace(ctx, "AllOrders", []byte(`[1]`))
	require.NoError(t, err)
	assert.True(t, replaced)
	assert.Equal(t, 20*time.Second, mr.TTL("AllOrders"), "replace must preserve the remaining ttl")

	mr.FastForward(21 * time.Second)
	_, found, err = cache.Get(ctx, "AllOrders")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, cache.Set(ctx, "Order:O1", []byte(`x`), time.Minute))
	require.NoError(t, cache.Remove(ctx, "Order:O1"))
	assert.False(t, mr.Exists("Order:O1"))
	require.NoError(t, cache.Remove(ctx, "Order:O1"))

	mr.SetError("LOADING")
	_, _, err = cache.Get(ctx, "Order:O1")
	assert.Error(t, err)
	_, err = cache.Replace(ctx, "Order:O1", []byte(`x`))
	assert.Error(t, err)
}

func TestRedisViewCache_ReplaceDoesNotRecreateExpiredKey(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := redis.NewClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	cache := NewRedisViewCache(client)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "AllOrders", []byte(`[]`), 30*time.Second))
	_, found, err := cache.Get(ctx, "AllOrders")
	require.NoError(t, err)
	require.True(t, found)

	mr.FastForward(31 * time.Second)
	replaced, err := cache.Replace(ctx, "AllOrders", []byte(`[1]`))
	require.NoError(t, err)
	assert.False(t, replaced)
	assert.False(t, mr.Exists("AllOrders"))

	replaced, err = cache.Replace(ctx, "UserOrders:C1", []byte(`[]`))
	require.NoError(t, err)
	assert.False(t, replaced)
	assert.False(t, mr.Exists("UserOrders:C1"))
}

func TestMemoryViewCache(t *testing.T) {
	cache := NewMemoryViewCache()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "AllOrders", []byte("v1"), 30*time.Second))
	buf := []byte("v1")
	raw, found, err := cache.Get(ctx, "AllOrders")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, buf, raw)
	raw[0] = 'x'
	again, _, _ := cache.Get(ctx, "AllOrders")
	assert.Equal(t, "v1", string(again), "returned slices must be copies")

	now = now.Add(20 * time.Second)
	replaced, err := cache.Replace(ctx, "AllOrders", []byte("v2"))
	require.NoError(t, err)
	assert.True(t, replaced)
	now = now.Add(9 * time.Second)
	raw, found, _ = cache.Get(ctx, "AllOrders")
	assert.True(t, found)
	assert.Equal(t, "v2", string(raw))

	now = now.Add(time.Second)
	_, found, _ = cache.Get(ctx, "AllOrders")
	assert.False(t, found, "patched entry expires with the original deadline")
	assert.Zero(t, cache.Len())

	require.NoError(t, cache.Set(ctx, "Order:O1", []byte("o"), 0))
	now = now.Add(24 * time.Hour)
	_, found, _ = cache.Get(ctx, "Order:O1")
	assert.True(t, found, "zero ttl never expires")
	require.NoError(t, cache.Remove(ctx, "Order:O1"))
	assert.Zero(t, cache.Len())

	replaced, err = cache.Replace(ctx, "Order:O1", []byte("o"))
	require.NoError(t, err)
	assert.False(t, replaced, "absent keys are not created")
	assert.Zero(t, cache.Len())
}

func TestMemoryViewCache_ReplaceDoesNotRecreateExpiredKey(t *testing.T) {
	cache := NewMemoryViewCache()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "AllOrders", []byte("v1"), 30*time.Second))
	now = now.Add(30 * time.Second)

	replaced, err := cache.Replace(ctx, "AllOrders", []byte("v2"))
	require.NoError(t, err)
	assert.False(t, replaced)
	assert.Zero(t, cache.Len(), "the expired entry is dropped, not revived")

	now = now.Add(24 * time.Hour)
	_, found, _ := cache.Get(ctx, "AllOrders")
	assert.False(t, found)
}
