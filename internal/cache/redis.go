package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/l0p7/journalgate/internal/redisconn"
	valkey "github.com/valkey-io/valkey-go"
)

const defaultRedisPrefix = "journalgate:cache:v1:"

// RedisOptions tunes the valkey-backed cache.
type RedisOptions struct {
	TTL       time.Duration
	Retention time.Duration
	Prefix    string
	Now       func() time.Time
}

type redisCache struct {
	client    valkey.Client
	ttl       time.Duration
	retention time.Duration
	prefix    string
	now       func() time.Time
}

// NewRedis keeps entries for the retention window via PX; freshness is still judged
// against FetchedAt on every read.
func NewRedis(cfg redisconn.Config, opts RedisOptions) (PayloadCache, error) {
	client, err := redisconn.Dial(cfg)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Retention < opts.TTL {
		opts.Retention = max(DefaultRetention, opts.TTL)
	}
	if opts.Prefix == "" {
		opts.Prefix = defaultRedisPrefix
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &redisCache{
		client:    client,
		ttl:       opts.TTL,
		retention: opts.Retention,
		prefix:    opts.Prefix,
		now:       opts.Now,
	}, nil
}

func (c *redisCache) Lookup(ctx context.Context, key string) (Entry, bool, error) {
	resp := c.client.Do(ctx, c.client.B().Get().Key(c.prefix+key).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("cache: redis get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache: redis get bytes: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("cache: redis unmarshal: %w", err)
	}
	return entry, fresh(entry, c.now(), c.ttl), nil
}

func (c *redisCache) Store(ctx context.Context, key string, payload json.RawMessage) error {
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	body, err := json.Marshal(Entry{Payload: payload, FetchedAt: c.now().UTC()})
	if err != nil {
		return fmt.Errorf("cache: redis marshal: %w", err)
	}
	cmd := c.client.B().Set().Key(c.prefix + key).Value(string(body)).Px(c.retention).Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

func (c *redisCache) Sweep(context.Context) (int, error) {
	return 0, nil
}

func (c *redisCache) Size(ctx context.Context) (int64, error) {
	n, err := redisconn.CountPrefix(ctx, c.client, c.prefix)
	if err != nil {
		return 0, fmt.Errorf("cache: %w", err)
	}
	return n, nil
}

func (c *redisCache) Close(context.Context) error {
	c.client.Close()
	return nil
}
