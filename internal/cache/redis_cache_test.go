package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func setupTestCache(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, NewRedisCache(rdb)
}

func TestRedisCache_SetAndGet(t *testing.T) {
	_, c := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetJSON(ctx, "k", payload{Name: "x", Count: 3}, time.Minute))

	var got payload
	hit, err := c.GetJSON(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, payload{Name: "x", Count: 3}, got)
}

func TestRedisCache_MissingKeyIsMiss(t *testing.T) {
	_, c := setupTestCache(t)

	var got payload
	hit, err := c.GetJSON(context.Background(), "absent", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestRedisCache_CorruptEntryTreatedAsMissAndDeleted(t *testing.T) {
	mr, c := setupTestCache(t)
	ctx := context.Background()

	mr.Set("k", "{not json")

	var got payload
	hit, err := c.GetJSON(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.False(t, mr.Exists("k"))
}

func TestRedisCache_TTLExpires(t *testing.T) {
	mr, c := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetJSON(ctx, "k", payload{Name: "x"}, time.Second))
	mr.FastForward(2 * time.Second)

	var got payload
	hit, err := c.GetJSON(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestRedisCache_Del(t *testing.T) {
	_, c := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetJSON(ctx, "a", payload{}, time.Minute))
	require.NoError(t, c.SetJSON(ctx, "b", payload{}, time.Minute))
	require.NoError(t, c.Del(ctx, "a", "b"))
	require.NoError(t, c.Del(ctx)) // no keys is a no-op

	var got payload
	hit, err := c.GetJSON(ctx, "a", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}
