package rate

import "errors"

var (
	// ErrRateLimited is returned once a counter passes its window budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps counter read/write failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
