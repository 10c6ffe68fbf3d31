package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewManager(db, time.Hour)
}

func (m *Manager) save(t *testing.T, key, userID, scope, hash string, status int, body string) {
	t.Helper()
	ctx := context.Background()
	if rec, err := m.Reserve(ctx, key, userID, scope, hash); err != nil || rec != nil {
		t.Fatalf("reserve = %+v, %v", rec, err)
	}
	if err := m.Complete(ctx, key, userID, scope, status, []byte(body)); err != nil {
		t.Fatalf("complete: %v", err)
	}
}

func TestLookupReplaysSavedResponse(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	h := Hash([]byte(`{"content":"hi"}`))
	if rec, err := m.Lookup(ctx, "k1", "u1", "messages.send", h); err != nil || rec != nil {
		t.Fatalf("fresh lookup = %+v, %v", rec, err)
	}
	m.save(t, "k1", "u1", "messages.send", h, 201, `{"id":"m1"}`)
	rec, err := m.Lookup(ctx, "k1", "u1", "messages.send", h)
	if err != nil || rec == nil || rec.StatusCode != 201 || rec.ResponseBody != `{"id":"m1"}` {
		t.Fatalf("lookup = %+v, %v", rec, err)
	}
	if rec, _ := m.Lookup(ctx, "k1", "u2", "messages.send", h); rec != nil {
		t.Fatalf("key leaked across users")
	}
	if _, err := m.Lookup(ctx, "k1", "u1", "messages.send", Hash([]byte("other"))); !errors.Is(err, ErrKeyReused) {
		t.Fatalf("expected ErrKeyReused, got %v", err)
	}
}

func TestExpiredRecords(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	h := Hash([]byte("x"))
	m.save(t, "k", "u", "s", h, 200, "{}")
	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if rec, err := m.Lookup(ctx, "k", "u", "s", h); err != nil || rec != nil {
		t.Fatalf("expired record served: %+v, %v", rec, err)
	}
	m.save(t, "k", "u", "s", h, 200, "{}")
	m.now = func() time.Time { return time.Now().Add(4 * time.Hour) }
	n, err := m.CleanExpired(ctx)
	if err != nil || n != 1 {
		t.Fatalf("clean = %d, %v", n, err)
	}
}

func TestReserveBlocksConcurrentDuplicate(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	h := Hash([]byte(`{"content":"hi"}`))
	if rec, err := m.Reserve(ctx, "k", "u", "messages.send", h); err != nil || rec != nil {
		t.Fatalf("first reserve = %+v, %v", rec, err)
	}
	if _, err := m.Reserve(ctx, "k", "u", "messages.send", h); !errors.Is(err, ErrInProgress) {
		t.Fatalf("second reserve: expected ErrInProgress, got %v", err)
	}
	if _, err := m.Reserve(ctx, "k", "u", "messages.send", Hash([]byte("other"))); !errors.Is(err, ErrKeyReused) {
		t.Fatalf("different body: expected ErrKeyReused, got %v", err)
	}
	if err := m.Complete(ctx, "k", "u", "messages.send", 201, []byte(`{"id":"m1"}`)); err != nil {
		t.Fatalf("complete: %v", err)
	}
	rec, err := m.Reserve(ctx, "k", "u", "messages.send", h)
	if err != nil || rec == nil || rec.StatusCode != 201 {
		t.Fatalf("reserve after complete = %+v, %v", rec, err)
	}
	if err := m.Complete(ctx, "k", "u", "messages.send", 201, nil); err == nil {
		t.Fatalf("completing a finished key should fail")
	}
}

func TestReleaseFreesKey(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	h := Hash([]byte("x"))
	if _, err := m.Reserve(ctx, "k", "u", "s", h); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := m.Release(ctx, "k", "u", "s"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if rec, err := m.Reserve(ctx, "k", "u", "s", h); err != nil || rec != nil {
		t.Fatalf("reserve after release = %+v, %v", rec, err)
	}
}

func TestStalePendingReservationExpires(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	h := Hash([]byte("x"))
	if _, err := m.Reserve(ctx, "k", "u", "s", h); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	m.now = func() time.Time { return time.Now().Add(pendingTTL + time.Second) }
	if rec, err := m.Reserve(ctx, "k", "u", "s", h); err != nil || rec != nil {
		t.Fatalf("stale reservation still held: %+v, %v", rec, err)
	}
}
