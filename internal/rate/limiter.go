package rate

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter tuning parameters.
type Config struct {
	EnableIPThrottle        bool
	EnableRefreshThrottle   bool
	MaxLoginAttempts        int
	LoginCooldownDuration   time.Duration
	MaxRefreshAttempts      int
	RefreshCooldownDuration time.Duration
}

// Limiter guards password login and token refresh. Failed logins are counted per
// email and, optionally, per client IP; refreshes are counted per session. A nil
// *Limiter allows everything.
type Limiter struct {
	login   Window
	refresh Window
	byIP    bool
}

func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	refresh := NewWindow(redisClient, cfg.MaxRefreshAttempts, cfg.RefreshCooldownDuration)
	if !cfg.EnableRefreshThrottle {
		refresh.Limit = 0
	}
	return &Limiter{
		login:   NewWindow(redisClient, cfg.MaxLoginAttempts, cfg.LoginCooldownDuration),
		refresh: refresh,
		byIP:    cfg.EnableIPThrottle,
	}
}

func (l *Limiter) loginKeys(tenantID, email, ip string) []string {
	keys := []string{loginEmailKey(tenantID, email)}
	if l.byIP && ip != "" {
		keys = append(keys, loginIPKey(tenantID, ip))
	}
	return keys
}

// CheckLogin fails with a LimitedError once the email or IP has spent its
// failed-login budget. It does not count.
func (l *Limiter) CheckLogin(ctx context.Context, tenantID, email, ip string) error {
	if l == nil {
		return nil
	}
	for _, key := range l.loginKeys(tenantID, email, ip) {
		if err := l.login.Peek(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// IncrementLogin records one failed login.
func (l *Limiter) IncrementLogin(ctx context.Context, tenantID, email, ip string) error {
	if l == nil {
		return nil
	}
	for _, key := range l.loginKeys(tenantID, email, ip) {
		if err := l.login.Hit(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// ResetLogin clears the failed-login counters after a successful login or a
// password reset.
func (l *Limiter) ResetLogin(ctx context.Context, tenantID, email, ip string) error {
	if l == nil {
		return nil
	}
	return l.login.Clear(ctx, l.loginKeys(tenantID, email, ip)...)
}

// CheckRefresh counts one refresh for the session.
func (l *Limiter) CheckRefresh(ctx context.Context, tenantID, sessionID string) error {
	if l == nil || sessionID == "" {
		return nil
	}
	return l.refresh.Hit(ctx, refreshKey(tenantID, sessionID))
}
