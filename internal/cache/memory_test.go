package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryStoreLookup(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	cache := NewMemory(MemoryOptions{Now: clock.Now})
	key := Key("marks", 4477, 1000)

	_, ok, err := cache.Lookup(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, cache.Store(ctx, key, json.RawMessage(`[{"mark":5}]`)))
	entry, ok, err := cache.Lookup(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `[{"mark":5}]`, string(entry.Payload))
	require.Equal(t, clock.Now(), entry.FetchedAt)
}

func TestMemoryFreshnessAtReadTime(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	cache := NewMemory(MemoryOptions{Now: clock.Now})
	key := Key("marks", 4477, 1000)
	require.NoError(t, cache.Store(ctx, key, json.RawMessage(`[]`)))

	clock.Advance(4*time.Minute + 59*time.Second)
	_, ok, err := cache.Lookup(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(time.Second)
	entry, ok, err := cache.Lookup(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)
	require.JSONEq(t, `[]`, string(entry.Payload), "stale entries stay readable")

	size, err := cache.Size(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, size)

	require.NoError(t, cache.Store(ctx, key, json.RawMessage(`[1]`)))
	entry, ok, err = cache.Lookup(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `[1]`, string(entry.Payload))
}

func TestMemorySnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	cache := NewMemory(MemoryOptions{})
	payload := json.RawMessage(`[1,2,3]`)
	require.NoError(t, cache.Store(ctx, "k", payload))
	payload[1] = '9'

	entry, _, err := cache.Lookup(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, `[1,2,3]`, string(entry.Payload))

	entry.Payload[1] = '8'
	again, _, err := cache.Lookup(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, `[1,2,3]`, string(again.Payload))
}

func TestMemorySweep(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	var removedTotal int
	cache := NewMemory(MemoryOptions{
		Now:            clock.Now,
		SweepThreshold: 2,
		OnSweep:        func(removed int) { removedTotal += removed },
	})

	require.NoError(t, cache.Store(ctx, "a", json.RawMessage(`1`)))
	require.NoError(t, cache.Store(ctx, "b", json.RawMessage(`2`)))

	clock.Advance(20 * time.Minute)
	removed, err := cache.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, removed, "stale but retained entries survive a sweep")

	clock.Advance(11 * time.Minute)
	require.NoError(t, cache.Store(ctx, "c", json.RawMessage(`3`)))
	require.Equal(t, 2, removedTotal)

	size, err := cache.Size(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, size)
	require.NoError(t, cache.Close(ctx))
}

func TestMemoryConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	cache := NewMemory(MemoryOptions{SweepThreshold: 1000})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				key := Key("marks", w, i)
				assert.NoError(t, cache.Store(ctx, key, json.RawMessage(fmt.Sprintf(`[%d]`, i))))
				_, ok, err := cache.Lookup(ctx, key)
				assert.NoError(t, err)
				assert.True(t, ok)
			}
		}(w)
	}
	wg.Wait()

	size, err := cache.Size(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 400, size)
}
