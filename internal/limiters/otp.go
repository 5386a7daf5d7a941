package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goIdentity/internal/rate"
)

var (
	ErrOTPThrottled        = errors.New("otp requests throttled")
	ErrOTPRedisUnavailable = errors.New("otp limiter redis unavailable")
)

// OTPConfig bounds how many OTP sends and verifies an identifier or IP may issue per
// window. Zero limits disable the corresponding check.
type OTPConfig struct {
	EnableIdentifierThrottle bool
	EnableIPThrottle         bool
	Window                   time.Duration
	MaxSendsPerWindow        int
	MaxVerifiesPerWindow     int
}

// OTPLimiter caps OTP volume. The per-challenge resend delay is enforced by the OTP
// store itself.
type OTPLimiter struct {
	send   rate.Window
	verify rate.Window
	cfg    OTPConfig
}

func NewOTPLimiter(redisClient redis.UniversalClient, cfg OTPConfig) *OTPLimiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	return &OTPLimiter{
		send:   rate.NewWindow(redisClient, cfg.MaxSendsPerWindow, cfg.Window),
		verify: rate.NewWindow(redisClient, cfg.MaxVerifiesPerWindow, cfg.Window),
		cfg:    cfg,
	}
}

// CheckSend counts one send for identifier and ip.
func (l *OTPLimiter) CheckSend(ctx context.Context, tenantID, identifier, ip string) error {
	if l == nil {
		return nil
	}
	return l.hit(ctx, l.send, tenantID, "send", identifier, ip)
}

// CheckVerify counts one verify for identifier and ip.
func (l *OTPLimiter) CheckVerify(ctx context.Context, tenantID, identifier, ip string) error {
	if l == nil {
		return nil
	}
	return l.hit(ctx, l.verify, tenantID, "verify", identifier, ip)
}

func (l *OTPLimiter) hit(ctx context.Context, w rate.Window, tenantID, op, identifier, ip string) error {
	var keys []string
	if l.cfg.EnableIdentifierThrottle {
		keys = append(keys, rate.OTPKey(tenantID, op, "email", identifier))
	}
	if l.cfg.EnableIPThrottle && ip != "" {
		keys = append(keys, rate.OTPKey(tenantID, op, "ip", ip))
	}
	for _, key := range keys {
		err := w.Hit(ctx, key)
		switch {
		case err == nil:
		case errors.Is(err, rate.ErrRateLimited):
			// Keep the LimitedError in the chain so callers can read RetryAfter.
			return fmt.Errorf("%w: %w", ErrOTPThrottled, err)
		default:
			return fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
		}
	}
	return nil
}
