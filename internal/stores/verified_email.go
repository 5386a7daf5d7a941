package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrVerifiedEmailNotFound    = errors.New("verified email mark not found")
	ErrVerifiedEmailUnavailable = errors.New("verified email store unavailable")
)

// VerifiedEmail asserts that an address completed OTP verification for a purpose. It
// is a short-lived capability consumed by a later registration step.
type VerifiedEmail struct {
	TenantID   string
	Email      string
	Purpose    string
	IsVerified bool
	VerifiedAt time.Time
	ExpiresAt  time.Time
}

// Valid reports whether the mark still grants its capability at now.
func (v *VerifiedEmail) Valid(now time.Time) bool {
	return v != nil && v.IsVerified && now.Before(v.ExpiresAt)
}

// consumeVerifiedEmailLua returns and deletes a mark if it is still valid.
// KEYS[1] = mark key
// ARGV[1] = now ms
var consumeVerifiedEmailLua = redis.NewScript(`
local f = redis.call('HMGET', KEYS[1], 'verified', 'verified_at', 'expires_at')
if not f[1] then
  return {err='not_found'}
end
if f[1] ~= '1' or tonumber(f[3]) <= tonumber(ARGV[1]) then
  redis.call('DEL', KEYS[1])
  return {err='not_found'}
end
redis.call('DEL', KEYS[1])
return {tonumber(f[2]), tonumber(f[3])}
`)

// VerifiedEmailStore keeps VerifiedEmail marks in Redis hashes that expire on their own.
type VerifiedEmailStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewVerifiedEmailStore(redisClient redis.UniversalClient, prefix string) *VerifiedEmailStore {
	if prefix == "" {
		prefix = "aove"
	}
	return &VerifiedEmailStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *VerifiedEmailStore) key(tenantID, email, purpose string) string {
	return s.prefix + ":" + normalizeTenantID(tenantID) + ":" + email + ":" + purpose
}

// Upsert writes the mark, replacing any previous one for the same key.
func (s *VerifiedEmailStore) Upsert(ctx context.Context, mark *VerifiedEmail) error {
	ttl := mark.ExpiresAt.Sub(mark.VerifiedAt)
	if ttl <= 0 {
		return errors.New("verified email mark already expired")
	}
	verified := "0"
	if mark.IsVerified {
		verified = "1"
	}
	key := s.key(mark.TenantID, mark.Email, mark.Purpose)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"verified", verified,
			"verified_at", mark.VerifiedAt.UnixMilli(),
			"expires_at", mark.ExpiresAt.UnixMilli(),
		)
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerifiedEmailUnavailable, err)
	}
	return nil
}

// Get returns the stored mark without judging its validity.
func (s *VerifiedEmailStore) Get(ctx context.Context, tenantID, email, purpose string) (*VerifiedEmail, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(tenantID, email, purpose)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerifiedEmailUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrVerifiedEmailNotFound
	}
	verifiedAt, err1 := strconv.ParseInt(fields["verified_at"], 10, 64)
	expiresAt, err2 := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err1 != nil || err2 != nil {
		return nil, fmt.Errorf("%w: corrupt verified email mark", ErrVerifiedEmailUnavailable)
	}
	return &VerifiedEmail{
		TenantID:   normalizeTenantID(tenantID),
		Email:      email,
		Purpose:    purpose,
		IsVerified: fields["verified"] == "1",
		VerifiedAt: time.UnixMilli(verifiedAt),
		ExpiresAt:  time.UnixMilli(expiresAt),
	}, nil
}

// Consume atomically checks and deletes a valid mark. Invalid or missing marks yield
// ErrVerifiedEmailNotFound.
func (s *VerifiedEmailStore) Consume(ctx context.Context, tenantID, email, purpose string, now time.Time) (*VerifiedEmail, error) {
	res, err := consumeVerifiedEmailLua.Run(ctx, s.redis, []string{s.key(tenantID, email, purpose)}, now.UnixMilli()).Int64Slice()
	if err != nil {
		if scriptErrorCode(err) == "not_found" {
			return nil, ErrVerifiedEmailNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrVerifiedEmailUnavailable, err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("%w: unexpected lua result", ErrVerifiedEmailUnavailable)
	}
	return &VerifiedEmail{
		TenantID:   normalizeTenantID(tenantID),
		Email:      email,
		Purpose:    purpose,
		IsVerified: true,
		VerifiedAt: time.UnixMilli(res[0]),
		ExpiresAt:  time.UnixMilli(res[1]),
	}, nil
}

// Invalidate deletes the marks for the given purposes.
func (s *VerifiedEmailStore) Invalidate(ctx context.Context, tenantID, email string, purposes ...string) error {
	if len(purposes) == 0 {
		return nil
	}
	keys := make([]string, 0, len(purposes))
	for _, p := range purposes {
		keys = append(keys, s.key(tenantID, email, p))
	}
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrVerifiedEmailUnavailable, err)
	}
	return nil
}
