package state

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisStore(client, "vitalwatch:alert:")
}

func TestRedisStore_MissingKeyIsFalse(t *testing.T) {
	_, store := setupTestRedis(t)

	got, err := store.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.False(t, got)
}

func TestRedisStore_CompareAndSwap(t *testing.T) {
	mr, store := setupTestRedis(t)
	ctx := context.Background()

	ok, err := store.CompareAndSwap(ctx, "p1", true, false)
	require.NoError(t, err)
	assert.False(t, ok, "state is false, swap from true must fail")

	ok, err = store.CompareAndSwap(ctx, "p1", false, true)
	require.NoError(t, err)
	assert.True(t, ok)

	val, err := mr.Get("vitalwatch:alert:p1")
	require.NoError(t, err)
	assert.Equal(t, "1", val)

	got, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, got)

	ok, err = store.CompareAndSwap(ctx, "p1", false, true)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.CompareAndSwap(ctx, "p1", true, false)
	require.NoError(t, err)
	assert.True(t, ok)

	val, err = mr.Get("vitalwatch:alert:p1")
	require.NoError(t, err)
	assert.Equal(t, "0", val, "resolved patient keeps an explicit false")
}

func TestRedisStore_ErrorWrapped(t *testing.T) {
	mr, store := setupTestRedis(t)
	mr.Close()

	_, err := store.Get(context.Background(), "p1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to get alert state for p1")

	_, err = store.CompareAndSwap(context.Background(), "p1", false, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to swap alert state for p1")
}
