package identity

import (
	"context"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// SessionStore tracks live session ids so sign out revokes tokens that have
// not expired yet.
type SessionStore interface {
	Put(ctx context.Context, sessionID, userID string, ttl time.Duration) error
	Valid(ctx context.Context, sessionID string) (bool, error)
	Delete(ctx context.Context, sessionID string) error
}

type memEntry struct {
	userID string
	exp    time.Time
}

// MemoryStore is a process-local SessionStore.
type MemoryStore struct {
	mu sync.Mutex
	m  map[string]memEntry
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{m: map[string]memEntry{}} }

func (s *MemoryStore) Put(_ context.Context, sid, userID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	// opportunistic sweep keeps the map bounded by live sessions
	for k, e := range s.m {
		if now.After(e.exp) {
			delete(s.m, k)
		}
	}
	s.m[sid] = memEntry{userID: userID, exp: now.Add(ttl)}
	return nil
}

func (s *MemoryStore) Valid(_ context.Context, sid string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[sid]
	if !ok {
		return false, nil
	}
	if time.Now().After(e.exp) {
		delete(s.m, sid)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, sid string) error {
	s.mu.Lock()
	delete(s.m, sid)
	s.mu.Unlock()
	return nil
}

// RedisStore shares sessions between replicas.
type RedisStore struct {
	cli    *redis.Client
	prefix string
}

func NewRedisStore(cli *redis.Client) *RedisStore { return &RedisStore{cli: cli, prefix: "session:"} }

func (s *RedisStore) Put(ctx context.Context, sid, userID string, ttl time.Duration) error {
	return s.cli.Set(ctx, s.prefix+sid, userID, ttl).Err()
}

func (s *RedisStore) Valid(ctx context.Context, sid string) (bool, error) {
	n, err := s.cli.Exists(ctx, s.prefix+sid).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) Delete(ctx context.Context, sid string) error {
	return s.cli.Del(ctx, s.prefix+sid).Err()
}
