package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/l0p7/journalgate/internal/redisconn"
	valkey "github.com/valkey-io/valkey-go"
)

const defaultRedisPrefix = "journalgate:session:v1:"

// RedisOptions tunes the valkey-backed store.
type RedisOptions struct {
	Retention time.Duration
	Prefix    string
	Now       func() time.Time
}

type redisStore struct {
	client    valkey.Client
	retention time.Duration
	prefix    string
	now       func() time.Time
	newToken  func() (string, error)
}

// NewRedis stores sessions as JSON with a PX equal to the retention window, so the
// server expires them natively and Sweep has nothing to do.
func NewRedis(cfg redisconn.Config, opts RedisOptions) (Store, error) {
	client, err := redisconn.Dial(cfg)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	return newRedisStore(client, opts), nil
}

func newRedisStore(client valkey.Client, opts RedisOptions) *redisStore {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Prefix == "" {
		opts.Prefix = defaultRedisPrefix
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &redisStore{client: client, retention: opts.Retention, prefix: opts.Prefix, now: opts.Now, newToken: NewToken}
}

func (s *redisStore) key(token string) string {
	return s.prefix + token
}

func (s *redisStore) Create(ctx context.Context, user User, cookies string) (Session, error) {
	sess := Session{
		Cookies:   cookies,
		User:      user,
		CreatedAt: s.now().UTC(),
	}
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		token, err := s.newToken()
		if err != nil {
			return Session{}, err
		}
		sess.Token = token
		payload, err := json.Marshal(sess)
		if err != nil {
			return Session{}, fmt.Errorf("session: redis marshal: %w", err)
		}
		// NX keeps an existing session from being overwritten by a repeated token.
		cmd := s.client.B().Set().Key(s.key(token)).Value(string(payload)).Nx().Px(s.retention).Build()
		err = s.client.Do(ctx, cmd).Error()
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, valkey.Nil) {
			return Session{}, fmt.Errorf("session: redis set: %w", err)
		}
	}
	return Session{}, errTokenCollision
}

func (s *redisStore) Get(ctx context.Context, token string) (Session, error) {
	if token == "" {
		return Session{}, ErrNotFound
	}
	resp := s.client.Do(ctx, s.client.B().Get().Key(s.key(token)).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("session: redis get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return Session{}, fmt.Errorf("session: redis get bytes: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return Session{}, fmt.Errorf("session: redis unmarshal: %w", err)
	}
	if expired(sess, s.now(), s.retention) {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

func (s *redisStore) Delete(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.key(token)).Build()).Error(); err != nil {
		return fmt.Errorf("session: redis del: %w", err)
	}
	return nil
}

func (s *redisStore) Sweep(context.Context) (int, error) {
	return 0, nil
}

func (s *redisStore) Size(ctx context.Context) (int64, error) {
	n, err := redisconn.CountPrefix(ctx, s.client, s.prefix)
	if err != nil {
		return 0, fmt.Errorf("session: %w", err)
	}
	return n, nil
}

func (s *redisStore) Close(context.Context) error {
	s.client.Close()
	return nil
}
