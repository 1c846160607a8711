package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/l0p7/journalgate/internal/redisconn"
	"github.com/stretchr/testify/require"
)

func TestRedisStoreLookup(t *testing.T) {
	server := miniredis.RunT(t)
	clock := newFakeClock()
	cache, err := NewRedis(redisconn.Config{Address: server.Addr()}, RedisOptions{Now: clock.Now})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close(context.Background()) })

	ctx := context.Background()
	key := Key("timetable", 4477, 1000, 2024)
	require.NoError(t, cache.Store(ctx, key, json.RawMessage(`[{"lesson":1}]`)))
	require.True(t, server.Exists(defaultRedisPrefix+key))
	require.Equal(t, DefaultRetention, server.TTL(defaultRedisPrefix+key))

	entry, ok, err := cache.Lookup(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `[{"lesson":1}]`, string(entry.Payload))

	clock.Advance(6 * time.Minute)
	entry, ok, err = cache.Lookup(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)
	require.NotEmpty(t, entry.Payload)

	size, err := cache.Size(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, size)

	server.FastForward(DefaultRetention + time.Second)
	_, ok, err = cache.Lookup(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)

	size, err = cache.Size(ctx)
	require.NoError(t, err)
	require.Zero(t, size)

	removed, err := cache.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, removed)
}

func TestRedisRejectsInvalidPayload(t *testing.T) {
	server := miniredis.RunT(t)
	cache, err := NewRedis(redisconn.Config{Address: server.Addr()}, RedisOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close(context.Background()) })

	require.Error(t, cache.Store(context.Background(), "k", json.RawMessage(`{broken`)))
	require.NoError(t, server.Set(defaultRedisPrefix+"bad", "nope"))
	_, _, err = cache.Lookup(context.Background(), "bad")
	require.Error(t, err)
}

func TestNewRedisRequiresAddress(t *testing.T) {
	_, err := NewRedis(redisconn.Config{}, RedisOptions{})
	require.Error(t, err)
}
