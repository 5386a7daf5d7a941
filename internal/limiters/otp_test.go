package limiters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goIdentity/internal/rate"
)

func newTestLimiter(t *testing.T, cfg OTPConfig) (*OTPLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewOTPLimiter(rdb, cfg), mr
}

func TestOTPLimiterIdentifierWindow(t *testing.T) {
	l, mr := newTestLimiter(t, OTPConfig{EnableIdentifierThrottle: true, Window: time.Minute, MaxSendsPerWindow: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.CheckSend(ctx, "t1", "a@x.com", ""); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if err := l.CheckSend(ctx, "t1", "a@x.com", ""); !errors.Is(err, ErrOTPThrottled) {
		t.Fatalf("expected throttled, got %v", err)
	}
	if err := l.CheckSend(ctx, "t2", "a@x.com", ""); err != nil {
		t.Fatalf("other tenant must not be throttled: %v", err)
	}

	mr.FastForward(time.Minute + time.Second)
	if err := l.CheckSend(ctx, "t1", "a@x.com", ""); err != nil {
		t.Fatalf("expected new window, got %v", err)
	}
}

func TestOTPLimiterIPWindow(t *testing.T) {
	l, _ := newTestLimiter(t, OTPConfig{EnableIPThrottle: true, Window: time.Minute, MaxVerifiesPerWindow: 1})
	ctx := context.Background()

	if err := l.CheckVerify(ctx, "t1", "a@x.com", "10.0.0.1"); err != nil {
		t.Fatalf("first verify: %v", err)
	}
	if err := l.CheckVerify(ctx, "t1", "b@x.com", "10.0.0.1"); !errors.Is(err, ErrOTPThrottled) {
		t.Fatalf("expected ip throttle, got %v", err)
	}
	if err := l.CheckVerify(ctx, "t1", "b@x.com", ""); err != nil {
		t.Fatalf("missing ip must skip ip throttle: %v", err)
	}
}

func TestOTPLimiterNilAndDisabled(t *testing.T) {
	var l *OTPLimiter
	if err := l.CheckSend(context.Background(), "t1", "a@x.com", "ip"); err != nil {
		t.Fatalf("nil limiter must allow: %v", err)
	}

	enabled, _ := newTestLimiter(t, OTPConfig{EnableIdentifierThrottle: true})
	for i := 0; i < 10; i++ {
		if err := enabled.CheckSend(context.Background(), "t1", "a@x.com", ""); err != nil {
			t.Fatalf("zero limit must disable throttle: %v", err)
		}
	}
}

func TestOTPLimiterCarriesRetryAfter(t *testing.T) {
	l, _ := newTestLimiter(t, OTPConfig{EnableIdentifierThrottle: true, Window: time.Minute, MaxSendsPerWindow: 1})
	ctx := context.Background()

	if err := l.CheckSend(ctx, "t1", "a@x.com", ""); err != nil {
		t.Fatalf("first send: %v", err)
	}
	err := l.CheckSend(ctx, "t1", "a@x.com", "")
	if !errors.Is(err, ErrOTPThrottled) {
		t.Fatalf("expected throttled, got %v", err)
	}
	if got := rate.RetryAfter(err); got <= 0 || got > time.Minute {
		t.Fatalf("retry after = %s", got)
	}
	if err := l.CheckVerify(ctx, "t1", "a@x.com", ""); err != nil {
		t.Fatalf("send and verify budgets are separate: %v", err)
	}
}
