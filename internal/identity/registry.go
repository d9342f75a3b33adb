package identity

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnknownSession is returned by a Registry for an absent or expired id.
var ErrUnknownSession = errors.New("unknown session")

// Registry stores live sessions by id.
type Registry interface {
	Put(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	Delete(ctx context.Context, id string) error
}

// MemoryRegistry keeps sessions in process memory. Expired entries are
// dropped lazily on Get.
type MemoryRegistry struct {
	mu       sync.Mutex
	sessions map[string]Session
	now      func() time.Time
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{sessions: map[string]Session{}, now: time.Now}
}

func (r *MemoryRegistry) Put(_ context.Context, s Session) error {
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return nil
}

func (r *MemoryRegistry) Get(_ context.Context, id string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, ErrUnknownSession
	}
	if s.Expired(r.now()) {
		delete(r.sessions, id)
		return Session{}, ErrUnknownSession
	}
	return s, nil
}

func (r *MemoryRegistry) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
	return nil
}

// RedisRegistry stores each session as JSON under identity:session:<id>
// with a TTL matching its expiry, so every instance behind the load
// balancer resolves the same sessions.
type RedisRegistry struct {
	rdb *redis.Client
}

func NewRedisRegistry(rdb *redis.Client) *RedisRegistry { return &RedisRegistry{rdb: rdb} }

func sessionKey(id string) string { return "identity:session:" + id }

func (r *RedisRegistry) Put(ctx context.Context, s Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	return r.rdb.Set(ctx, sessionKey(s.ID), b, ttl).Err()
}

func (r *RedisRegistry) Get(ctx context.Context, id string) (Session, error) {
	b, err := r.rdb.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrUnknownSession
	}
	if err != nil {
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return Session{}, err
	}
	return s, nil
}

func (r *RedisRegistry) Delete(ctx context.Context, id string) error {
	return r.rdb.Del(ctx, sessionKey(id)).Err()
}
