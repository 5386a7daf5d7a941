package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestVerifiedEmailStore(t *testing.T) (*VerifiedEmailStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewVerifiedEmailStore(rdb, ""), mr
}

func TestVerifiedEmailUpsertGet(t *testing.T) {
	store, mr := newTestVerifiedEmailStore(t)
	ctx := context.Background()
	now := time.UnixMilli(time.Now().UnixMilli())

	mark := &VerifiedEmail{TenantID: "t1", Email: "a@x.com", Purpose: "registration", IsVerified: true, VerifiedAt: now, ExpiresAt: now.Add(24 * time.Hour)}
	if err := store.Upsert(ctx, mark); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := store.Get(ctx, "t1", "a@x.com", "registration")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Valid(now) || !got.ExpiresAt.Equal(now.Add(24*time.Hour)) {
		t.Fatalf("unexpected mark: %+v", got)
	}
	if ttl := mr.TTL("aove:t1:a@x.com:registration"); ttl != 24*time.Hour {
		t.Fatalf("expected 24h ttl, got %v", ttl)
	}

	mr.FastForward(25 * time.Hour)
	if _, err := store.Get(ctx, "t1", "a@x.com", "registration"); !errors.Is(err, ErrVerifiedEmailNotFound) {
		t.Fatalf("expected expired mark to be gone, got %v", err)
	}
}

func TestVerifiedEmailConsumeOnce(t *testing.T) {
	store, _ := newTestVerifiedEmailStore(t)
	ctx := context.Background()
	now := time.Now()

	mark := &VerifiedEmail{TenantID: "t1", Email: "a@x.com", Purpose: "registration", IsVerified: true, VerifiedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := store.Upsert(ctx, mark); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if _, err := store.Consume(ctx, "t1", "a@x.com", "registration", now); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if _, err := store.Consume(ctx, "t1", "a@x.com", "registration", now); !errors.Is(err, ErrVerifiedEmailNotFound) {
		t.Fatalf("second consume must fail, got %v", err)
	}
}

func TestVerifiedEmailConsumeRejectsLogicallyExpired(t *testing.T) {
	store, _ := newTestVerifiedEmailStore(t)
	ctx := context.Background()
	now := time.Now()

	mark := &VerifiedEmail{TenantID: "t1", Email: "a@x.com", Purpose: "registration", IsVerified: true, VerifiedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := store.Upsert(ctx, mark); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := store.Consume(ctx, "t1", "a@x.com", "registration", now.Add(2*time.Hour)); !errors.Is(err, ErrVerifiedEmailNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestVerifiedEmailInvalidate(t *testing.T) {
	store, _ := newTestVerifiedEmailStore(t)
	ctx := context.Background()
	now := time.Now()

	for _, p := range []string{"registration", "password-recovery"} {
		mark := &VerifiedEmail{TenantID: "t1", Email: "a@x.com", Purpose: p, IsVerified: true, VerifiedAt: now, ExpiresAt: now.Add(time.Hour)}
		if err := store.Upsert(ctx, mark); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	if err := store.Invalidate(ctx, "t1", "a@x.com", "registration"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := store.Get(ctx, "t1", "a@x.com", "registration"); !errors.Is(err, ErrVerifiedEmailNotFound) {
		t.Fatalf("expected invalidated mark to be gone, got %v", err)
	}
	if _, err := store.Get(ctx, "t1", "a@x.com", "password-recovery"); err != nil {
		t.Fatalf("other purpose must survive: %v", err)
	}
}
