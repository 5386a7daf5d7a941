package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// hitScript counts one event and arms the window expiry on the first hit. It returns
// the new count and the remaining window in milliseconds.
var hitScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 and tonumber(ARGV[1]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {n, redis.call('PTTL', KEYS[1])}
`)

// LimitedError reports a spent window budget. It matches ErrRateLimited.
type LimitedError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter)
}

func (e *LimitedError) Unwrap() error { return ErrRateLimited }

// RetryAfter extracts the remaining window from err, or 0 when err is not a
// LimitedError.
func RetryAfter(err error) time.Duration {
	var limited *LimitedError
	if errors.As(err, &limited) {
		return limited.RetryAfter
	}
	return 0
}

// Window is a fixed-window budget of Limit events per Length. A zero Limit allows
// everything.
type Window struct {
	rdb    redis.UniversalClient
	Limit  int
	Length time.Duration
}

func NewWindow(rdb redis.UniversalClient, limit int, length time.Duration) Window {
	return Window{rdb: rdb, Limit: limit, Length: length}
}

// Hit counts one event on key and fails once the count passes Limit.
func (w Window) Hit(ctx context.Context, key string) error {
	if w.Limit <= 0 {
		return nil
	}
	res, err := hitScript.Run(ctx, w.rdb, []string{key}, w.Length.Milliseconds()).Int64Slice()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 2 {
		return fmt.Errorf("%w: unexpected window reply %v", ErrRedisUnavailable, res)
	}
	if res[0] > int64(w.Limit) {
		return w.limited(key, res[1])
	}
	return nil
}

// Peek fails when key has already spent its budget. It does not count.
func (w Window) Peek(ctx context.Context, key string) error {
	if w.Limit <= 0 {
		return nil
	}
	pipe := w.rdb.Pipeline()
	get := pipe.Get(ctx, key)
	ttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	count, err := get.Int64()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count >= int64(w.Limit) {
		return w.limited(key, ttl.Val().Milliseconds())
	}
	return nil
}

// Clear drops the counters under keys.
func (w Window) Clear(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := w.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (w Window) limited(key string, pttl int64) error {
	retry := time.Duration(pttl) * time.Millisecond
	if retry <= 0 {
		retry = w.Length
	}
	return &LimitedError{Key: key, RetryAfter: retry}
}
