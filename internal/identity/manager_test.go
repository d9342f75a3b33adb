package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iliyamo/parking-reservation/internal/model"
	"github.com/iliyamo/parking-reservation/internal/repository"
)

func TestOpenResolveInvalidate(t *testing.T) {
	m := NewManager(NewMemoryRegistry(), nil)
	ctx := context.Background()
	u := model.User{ID: "u1", Email: "a@b.c", Role: model.RoleDriver}

	s, err := m.Open(ctx, u, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	got, err := m.Resolve(ctx, s.ID)
	if err != nil || got.UserID != "u1" || got.IsStaff() {
		t.Fatalf("resolve = %+v, %v", got, err)
	}

	bound, done := m.Bind(ctx, s.ID)
	defer done()
	if err := m.Invalidate(ctx, s.ID); err != nil {
		t.Fatal(err)
	}
	select {
	case <-bound.Done():
	case <-time.After(time.Second):
		t.Fatal("bound context not cancelled")
	}
	if _, err := m.Resolve(ctx, s.ID); !errors.Is(err, repository.ErrUnauthorized) {
		t.Fatalf("resolve after invalidate err = %v", err)
	}
}

func TestResolveExpired(t *testing.T) {
	reg := NewMemoryRegistry()
	m := NewManager(reg, nil)
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	reg.now = m.now

	s, err := m.Open(context.Background(), model.User{ID: "u1"}, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := m.Resolve(context.Background(), s.ID); !errors.Is(err, repository.ErrUnauthorized) {
		t.Fatalf("expired session err = %v", err)
	}
}

func TestOwns(t *testing.T) {
	driver := Session{UserID: "u1", Role: model.RoleDriver}
	staff := Session{UserID: "s1", Role: model.RoleStaff}
	if !driver.Owns("u1") || driver.Owns("u2") || !staff.Owns("u2") {
		t.Fatal("ownership rules violated")
	}
}
