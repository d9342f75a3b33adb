package identity

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/parking-reservation/internal/model"
	"github.com/iliyamo/parking-reservation/internal/repository"
)

// RevocationChannel is the redis pub/sub channel carrying invalidated
// session ids between instances.
const RevocationChannel = "identity:revoked"

// Manager opens, resolves and invalidates sessions. Contexts bound with
// Bind are cancelled when their session is invalidated, whether the
// invalidation happened in this process or, with redis, in another one.
type Manager struct {
	reg Registry
	rdb *redis.Client
	now func() time.Time

	mu    sync.Mutex
	bound map[string]map[*binding]struct{}
}

type binding struct{ cancel context.CancelFunc }

// NewManager returns a Manager over reg. rdb may be nil, in which case
// invalidation stays local to this process.
func NewManager(reg Registry, rdb *redis.Client) *Manager {
	return &Manager{reg: reg, rdb: rdb, now: time.Now, bound: map[string]map[*binding]struct{}{}}
}

// Open starts a new session for u lasting ttl.
func (m *Manager) Open(ctx context.Context, u model.User, ttl time.Duration) (Session, error) {
	now := m.now().UTC()
	s := Session{
		ID:        uuid.NewString(),
		UserID:    u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      u.Role,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := m.reg.Put(ctx, s); err != nil {
		return Session{}, fmt.Errorf("identity: open: %w", err)
	}
	return s, nil
}

// Refresh extends an existing session to now+ttl and stores the new
// profile fields of u.
func (m *Manager) Refresh(ctx context.Context, id string, u model.User, ttl time.Duration) (Session, error) {
	s, err := m.Resolve(ctx, id)
	if err != nil {
		return Session{}, err
	}
	s.Email, s.Name, s.Role = u.Email, u.Name, u.Role
	s.ExpiresAt = m.now().UTC().Add(ttl)
	if err := m.reg.Put(ctx, s); err != nil {
		return Session{}, fmt.Errorf("identity: refresh: %w", err)
	}
	return s, nil
}

// Resolve returns the live session for id or a wrapped
// repository.ErrUnauthorized.
func (m *Manager) Resolve(ctx context.Context, id string) (Session, error) {
	if id == "" {
		return Session{}, fmt.Errorf("%w: missing session", repository.ErrUnauthorized)
	}
	s, err := m.reg.Get(ctx, id)
	if errors.Is(err, ErrUnknownSession) {
		return Session{}, fmt.Errorf("%w: session is no longer valid", repository.ErrUnauthorized)
	}
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", repository.ErrTransient, err)
	}
	if s.Expired(m.now()) {
		return Session{}, fmt.Errorf("%w: session expired", repository.ErrUnauthorized)
	}
	return s, nil
}

// Invalidate removes the session and cancels every context bound to it.
func (m *Manager) Invalidate(ctx context.Context, id string) error {
	if err := m.reg.Delete(ctx, id); err != nil {
		return fmt.Errorf("identity: invalidate: %w", err)
	}
	m.cancelBound(id)
	if m.rdb != nil {
		if err := m.rdb.Publish(ctx, RevocationChannel, id).Err(); err != nil {
			log.Printf("identity: publish revocation: %v", err)
		}
	}
	return nil
}

// Bind derives a context from parent that is cancelled when session id is
// invalidated. The caller must call the returned cancel func when done.
func (m *Manager) Bind(parent context.Context, id string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	b := &binding{cancel: cancel}
	m.mu.Lock()
	if m.bound[id] == nil {
		m.bound[id] = map[*binding]struct{}{}
	}
	m.bound[id][b] = struct{}{}
	m.mu.Unlock()
	return ctx, func() {
		m.mu.Lock()
		delete(m.bound[id], b)
		if len(m.bound[id]) == 0 {
			delete(m.bound, id)
		}
		m.mu.Unlock()
		cancel()
	}
}

func (m *Manager) cancelBound(id string) {
	m.mu.Lock()
	bs := m.bound[id]
	delete(m.bound, id)
	m.mu.Unlock()
	for b := range bs {
		b.cancel()
	}
}

// Listen consumes revocations published by other instances until ctx is
// done. It is a no-op without redis.
func (m *Manager) Listen(ctx context.Context) {
	if m.rdb == nil {
		return
	}
	sub := m.rdb.Subscribe(ctx, RevocationChannel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			m.cancelBound(msg.Payload)
		}
	}
}
