package session

import (
	"context"
	"sync"
	"time"
)

const (
	defaultSweepThreshold = 100
	maxTokenAttempts      = 3
)

// MemoryOptions tunes the in-process store.
type MemoryOptions struct {
	Retention      time.Duration
	SweepThreshold int
	// OnSweep, when set, receives the number of sessions each sweep removed.
	OnSweep func(removed int)
	Now     func() time.Time
}

type memoryStore struct {
	retention time.Duration
	threshold int
	onSweep   func(int)
	now       func() time.Time
	newToken  func() (string, error)

	mu       sync.RWMutex
	sessions map[string]Session
}

// NewMemory returns a process-local store. Creating a session while the store holds
// more than SweepThreshold entries triggers a sweep of aged-out sessions.
func NewMemory(opts MemoryOptions) Store {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.SweepThreshold <= 0 {
		opts.SweepThreshold = defaultSweepThreshold
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &memoryStore{
		retention: opts.Retention,
		threshold: opts.SweepThreshold,
		onSweep:   opts.OnSweep,
		now:       opts.Now,
		newToken:  NewToken,
		sessions:  make(map[string]Session),
	}
}

func (s *memoryStore) Create(ctx context.Context, user User, cookies string) (Session, error) {
	sess := Session{
		Cookies:   cookies,
		User:      user,
		CreatedAt: s.now().UTC(),
	}

	s.mu.Lock()
	for attempt := 0; ; attempt++ {
		token, err := s.newToken()
		if err != nil {
			s.mu.Unlock()
			return Session{}, err
		}
		if _, taken := s.sessions[token]; !taken {
			sess.Token = token
			break
		}
		if attempt+1 >= maxTokenAttempts {
			s.mu.Unlock()
			return Session{}, errTokenCollision
		}
	}
	s.sessions[sess.Token] = sess
	size := len(s.sessions)
	s.mu.Unlock()

	if size > s.threshold {
		if _, err := s.Sweep(ctx); err != nil {
			return Session{}, err
		}
	}
	return sess, nil
}

func (s *memoryStore) Get(_ context.Context, token string) (Session, error) {
	if token == "" {
		return Session{}, ErrNotFound
	}
	s.mu.RLock()
	sess, ok := s.sessions[token]
	s.mu.RUnlock()
	if !ok || expired(sess, s.now(), s.retention) {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

func (s *memoryStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

func (s *memoryStore) Sweep(_ context.Context) (int, error) {
	now := s.now()
	s.mu.Lock()
	removed := 0
	for token, sess := range s.sessions {
		if expired(sess, now, s.retention) {
			delete(s.sessions, token)
			removed++
		}
	}
	s.mu.Unlock()

	if s.onSweep != nil {
		s.onSweep(removed)
	}
	return removed, nil
}

func (s *memoryStore) Size(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.sessions)), nil
}

func (s *memoryStore) Close(context.Context) error {
	return nil
}
