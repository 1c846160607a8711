package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

const defaultSweepThreshold = 100

// MemoryOptions tunes the in-process cache.
type MemoryOptions struct {
	TTL            time.Duration
	Retention      time.Duration
	SweepThreshold int
	OnSweep        func(removed int)
	Now            func() time.Time
}

type memoryCache struct {
	ttl       time.Duration
	retention time.Duration
	threshold int
	onSweep   func(int)
	now       func() time.Time

	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemory returns a process-local cache. A Store that leaves more than SweepThreshold
// entries behind triggers a sweep of entries older than Retention.
func NewMemory(opts MemoryOptions) PayloadCache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Retention < opts.TTL {
		opts.Retention = max(DefaultRetention, opts.TTL)
	}
	if opts.SweepThreshold <= 0 {
		opts.SweepThreshold = defaultSweepThreshold
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &memoryCache{
		ttl:       opts.TTL,
		retention: opts.Retention,
		threshold: opts.SweepThreshold,
		onSweep:   opts.OnSweep,
		now:       opts.Now,
		entries:   make(map[string]Entry),
	}
}

func (c *memoryCache) Lookup(_ context.Context, key string) (Entry, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return Entry{}, false, nil
	}
	out := Entry{Payload: clonePayload(entry.Payload), FetchedAt: entry.FetchedAt}
	return out, fresh(entry, c.now(), c.ttl), nil
}

func (c *memoryCache) Store(ctx context.Context, key string, payload json.RawMessage) error {
	entry := Entry{Payload: clonePayload(payload), FetchedAt: c.now().UTC()}

	c.mu.Lock()
	c.entries[key] = entry
	size := len(c.entries)
	c.mu.Unlock()

	if size > c.threshold {
		_, err := c.Sweep(ctx)
		return err
	}
	return nil
}

func (c *memoryCache) Sweep(context.Context) (int, error) {
	now := c.now()
	c.mu.Lock()
	removed := 0
	for key, entry := range c.entries {
		if entry.Age(now) > c.retention {
			delete(c.entries, key)
			removed++
		}
	}
	c.mu.Unlock()

	if c.onSweep != nil {
		c.onSweep(removed)
	}
	return removed, nil
}

func (c *memoryCache) Size(context.Context) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int64(len(c.entries)), nil
}

func (c *memoryCache) Close(context.Context) error {
	return nil
}
