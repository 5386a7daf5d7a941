package stores

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrOTPNotFound         = errors.New("otp challenge not found")
	ErrOTPNotActive        = errors.New("otp challenge not active")
	ErrOTPExhausted        = errors.New("otp challenge attempts exhausted")
	ErrOTPRecentSibling    = errors.New("otp challenge recently issued")
	ErrOTPStoreUnavailable = errors.New("otp store unavailable")
)

// RecentSiblingError is returned by Create when an active challenge for the same key
// was issued less than the requested minimum gap ago.
type RecentSiblingError struct {
	CreatedAt time.Time
}

func (e *RecentSiblingError) Error() string {
	return fmt.Sprintf("otp challenge issued at %s is still within the resend window", e.CreatedAt.UTC().Format(time.RFC3339))
}

func (e *RecentSiblingError) Is(target error) bool { return target == ErrOTPRecentSibling }

// OTPChallenge is one outstanding verification attempt. Verified doubles as the
// consumed/retired flag; Exhausted is set with it when the attempt budget ran out.
type OTPChallenge struct {
	ID        string
	TenantID  string
	Email     string
	Purpose   string
	CodeHash  [32]byte
	Attempts  int
	Verified  bool
	Exhausted bool
	ExpiresAt time.Time
	CreatedAt time.Time
	UsedAt    time.Time
}

// Active reports whether the challenge is unverified and unexpired at now.
func (c *OTPChallenge) Active(now time.Time) bool {
	return c != nil && !c.Verified && now.Before(c.ExpiresAt)
}

// createOTPLua retires every active sibling and inserts the new challenge in one step.
// KEYS[1] = index zset, KEYS[2] = new challenge hash, KEYS[3] = global expiry zset
// ARGV[1] = now ms, ARGV[2] = min gap ms, ARGV[3] = challenge key prefix,
// ARGV[4] = id, ARGV[5] = email, ARGV[6] = purpose, ARGV[7] = code hash (hex),
// ARGV[8] = expires_at ms, ARGV[9] = key ttl ms, ARGV[10] = expiry index member
var createOTPLua = redis.NewScript(`
local now = tonumber(ARGV[1])
local minGap = tonumber(ARGV[2])
local ids = redis.call('ZRANGE', KEYS[1], 0, -1)
local live = {}
for _, sid in ipairs(ids) do
  local f = redis.call('HMGET', ARGV[3] .. sid, 'verified', 'expires_at', 'created_at')
  if not f[1] then
    redis.call('ZREM', KEYS[1], sid)
  elseif f[1] == '0' then
    if tonumber(f[2]) > now and minGap > 0 and now - tonumber(f[3]) < minGap then
      return {err='recent_sibling:' .. f[3]}
    end
    table.insert(live, sid)
  end
end
for _, sid in ipairs(live) do
  redis.call('HSET', ARGV[3] .. sid, 'verified', '1', 'used_at', ARGV[1])
end
redis.call('HSET', KEYS[2],
  'id', ARGV[4], 'email', ARGV[5], 'purpose', ARGV[6], 'code_hash', ARGV[7],
  'attempts', '0', 'verified', '0', 'exhausted', '0',
  'expires_at', ARGV[8], 'created_at', ARGV[1], 'used_at', '0')
redis.call('PEXPIRE', KEYS[2], ARGV[9])
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[9])
redis.call('ZADD', KEYS[3], ARGV[8], ARGV[10])
return #live
`)

// incrementOTPLua adds one failed attempt if the challenge is still active.
// KEYS[1] = challenge hash
// ARGV[1] = now ms, ARGV[2] = max attempts
// Returns {attempts, exhausted(0|1)}.
var incrementOTPLua = redis.NewScript(`
local f = redis.call('HMGET', KEYS[1], 'verified', 'expires_at', 'attempts', 'exhausted')
if not f[1] then
  return {err='not_found'}
end
if f[4] == '1' then
  return {err='exhausted'}
end
if f[1] ~= '0' or tonumber(f[2]) <= tonumber(ARGV[1]) then
  return {err='not_active'}
end
local max = tonumber(ARGV[2])
local attempts = tonumber(f[3])
if attempts < max then
  attempts = attempts + 1
  redis.call('HSET', KEYS[1], 'attempts', attempts)
end
if attempts >= max then
  redis.call('HSET', KEYS[1], 'verified', '1', 'exhausted', '1', 'used_at', ARGV[1])
  return {attempts, 1}
end
return {attempts, 0}
`)

// markUsedOTPLua consumes the challenge if it is still active.
// KEYS[1] = challenge hash
// ARGV[1] = now ms
var markUsedOTPLua = redis.NewScript(`
local f = redis.call('HMGET', KEYS[1], 'verified', 'expires_at', 'exhausted')
if not f[1] then
  return {err='not_found'}
end
if f[3] == '1' then
  return {err='exhausted'}
end
if f[1] ~= '0' or tonumber(f[2]) <= tonumber(ARGV[1]) then
  return {err='not_active'}
end
redis.call('HSET', KEYS[1], 'verified', '1', 'used_at', ARGV[1])
return 1
`)

// retireOTPLua retires one challenge (KEYS[1]) or, when ARGV[3] is set, every
// unverified challenge listed in the index zset KEYS[1].
// ARGV[1] = now ms, ARGV[2] = exhausted flag, ARGV[3] = challenge key prefix (index mode)
var retireOTPLua = redis.NewScript(`
local keys = {}
if ARGV[3] ~= '' then
  for _, sid in ipairs(redis.call('ZRANGE', KEYS[1], 0, -1)) do
    table.insert(keys, ARGV[3] .. sid)
  end
else
  keys = {KEYS[1]}
end
local n = 0
for _, k in ipairs(keys) do
  if redis.call('HGET', k, 'verified') == '0' then
    redis.call('HSET', k, 'verified', '1', 'used_at', ARGV[1])
    if ARGV[2] == '1' then
      redis.call('HSET', k, 'exhausted', '1')
    end
    n = n + 1
  end
end
return n
`)

// OTPStore persists OTP challenges in Redis.
//
// Layout per tenant:
//
//	{prefix}:{tenant}:{id}                 hash, TTL = expiry + grace
//	{prefix}i:{tenant}:{email}:{purpose}   zset of ids scored by creation time
//	{prefix}x                              zset of "{tenant}:{id}" scored by expiry
//
// The store makes no policy decisions: callers pass the clock, limits and TTLs.
type OTPStore struct {
	redis  redis.UniversalClient
	prefix string
	grace  time.Duration
}

// NewOTPStore creates a store. grace extends the key TTL past the logical expiry so
// expired challenges remain observable until the sweep removes them.
func NewOTPStore(redisClient redis.UniversalClient, prefix string, grace time.Duration) *OTPStore {
	if prefix == "" {
		prefix = "aotp"
	}
	if grace < 0 {
		grace = 0
	}
	return &OTPStore{
		redis:  redisClient,
		prefix: prefix,
		grace:  grace,
	}
}

func (s *OTPStore) keyPrefix(tenantID string) string {
	return s.prefix + ":" + normalizeTenantID(tenantID) + ":"
}

func (s *OTPStore) key(tenantID, id string) string {
	return s.keyPrefix(tenantID) + id
}

func (s *OTPStore) indexKey(tenantID, email, purpose string) string {
	return s.prefix + "i:" + normalizeTenantID(tenantID) + ":" + email + ":" + purpose
}

func (s *OTPStore) expiryKey() string {
	return s.prefix + "x"
}

func expiryMember(tenantID, id string) string {
	return normalizeTenantID(tenantID) + ":" + id
}

// Create retires active siblings and stores ch atomically. When minGap is positive and
// an active sibling is younger than minGap, nothing is written and a
// *RecentSiblingError is returned.
func (s *OTPStore) Create(ctx context.Context, ch *OTPChallenge, minGap time.Duration) error {
	if ch == nil || ch.ID == "" || ch.Email == "" || ch.Purpose == "" {
		return errors.New("otp challenge requires id, email and purpose")
	}
	ttl := ch.ExpiresAt.Sub(ch.CreatedAt) + s.grace
	if ttl <= 0 {
		return errors.New("otp challenge already expired")
	}

	err := createOTPLua.Run(ctx, s.redis,
		[]string{s.indexKey(ch.TenantID, ch.Email, ch.Purpose), s.key(ch.TenantID, ch.ID), s.expiryKey()},
		ch.CreatedAt.UnixMilli(),
		minGap.Milliseconds(),
		s.keyPrefix(ch.TenantID),
		ch.ID,
		ch.Email,
		ch.Purpose,
		hex.EncodeToString(ch.CodeHash[:]),
		ch.ExpiresAt.UnixMilli(),
		ttl.Milliseconds(),
		expiryMember(ch.TenantID, ch.ID),
	).Err()
	if err == nil {
		return nil
	}
	if raw, ok := strings.CutPrefix(scriptErrorCode(err), "recent_sibling:"); ok {
		ms, convErr := strconv.ParseInt(raw, 10, 64)
		if convErr != nil {
			return fmt.Errorf("%w: %v", ErrOTPStoreUnavailable, convErr)
		}
		return &RecentSiblingError{CreatedAt: time.UnixMilli(ms)}
	}
	return fmt.Errorf("%w: %v", ErrOTPStoreUnavailable, err)
}

// Get loads one challenge by id.
func (s *OTPStore) Get(ctx context.Context, tenantID, id string) (*OTPChallenge, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(tenantID, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOTPStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrOTPNotFound
	}
	return decodeOTPChallenge(tenantID, fields)
}

// List returns every stored challenge for the key, newest first. Index entries whose
// hash has already been evicted are pruned.
func (s *OTPStore) List(ctx context.Context, tenantID, email, purpose string) ([]*OTPChallenge, error) {
	indexKey := s.indexKey(tenantID, email, purpose)
	ids, err := s.redis.ZRevRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOTPStoreUnavailable, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.key(tenantID, id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOTPStoreUnavailable, err)
	}

	out := make([]*OTPChallenge, 0, len(ids))
	var stale []interface{}
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			stale = append(stale, ids[i])
			continue
		}
		ch, decErr := decodeOTPChallenge(tenantID, fields)
		if decErr != nil {
			return nil, decErr
		}
		out = append(out, ch)
	}
	if len(stale) > 0 {
		// Best-effort; a failed prune is repeated on the next read.
		_ = s.redis.ZRem(ctx, indexKey, stale...).Err()
	}
	return out, nil
}

// FindLatest returns the most recently created challenge for the key regardless of
// state, or ErrOTPNotFound.
func (s *OTPStore) FindLatest(ctx context.Context, tenantID, email, purpose string) (*OTPChallenge, error) {
	all, err := s.List(ctx, tenantID, email, purpose)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, ErrOTPNotFound
	}
	return all[0], nil
}

// FindActive returns the unverified, unexpired challenge for the key, or ErrOTPNotFound.
func (s *OTPStore) FindActive(ctx context.Context, tenantID, email, purpose string, now time.Time) (*OTPChallenge, error) {
	all, err := s.List(ctx, tenantID, email, purpose)
	if err != nil {
		return nil, err
	}
	for _, ch := range all {
		if ch.Active(now) {
			return ch, nil
		}
	}
	return nil, ErrOTPNotFound
}

// RetireAllActive marks every unverified challenge for the key as verified. It is
// idempotent and returns the number of challenges it retired.
func (s *OTPStore) RetireAllActive(ctx context.Context, tenantID, email, purpose string, now time.Time) (int, error) {
	n, err := retireOTPLua.Run(ctx, s.redis,
		[]string{s.indexKey(tenantID, email, purpose)},
		now.UnixMilli(), "0", s.keyPrefix(tenantID),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrOTPStoreUnavailable, err)
	}
	return n, nil
}

// Retire marks one challenge verified, optionally flagging it exhausted. Already
// retired challenges are left untouched.
func (s *OTPStore) Retire(ctx context.Context, tenantID, id string, exhausted bool, now time.Time) error {
	flag := "0"
	if exhausted {
		flag = "1"
	}
	if err := retireOTPLua.Run(ctx, s.redis, []string{s.key(tenantID, id)}, now.UnixMilli(), flag, "").Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrOTPStoreUnavailable, err)
	}
	return nil
}

// IncrementAttempts records one failed guess. It only applies while the challenge is
// active, never exceeds max, and retires the challenge as exhausted once max is
// reached. Returns the attempt count after the write and whether the challenge is now
// exhausted.
func (s *OTPStore) IncrementAttempts(ctx context.Context, tenantID, id string, now time.Time, max int) (int, bool, error) {
	res, err := incrementOTPLua.Run(ctx, s.redis, []string{s.key(tenantID, id)}, now.UnixMilli(), max).Int64Slice()
	if err != nil {
		return 0, false, mapOTPScriptError(err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("%w: unexpected lua result", ErrOTPStoreUnavailable)
	}
	return int(res[0]), res[1] == 1, nil
}

// MarkUsed consumes an active challenge. A challenge that is no longer active yields
// ErrOTPNotActive (or ErrOTPExhausted), so only one concurrent caller can succeed.
func (s *OTPStore) MarkUsed(ctx context.Context, tenantID, id string, now time.Time) error {
	if err := markUsedOTPLua.Run(ctx, s.redis, []string{s.key(tenantID, id)}, now.UnixMilli()).Err(); err != nil {
		return mapOTPScriptError(err)
	}
	return nil
}

// Delete physically removes a challenge. Used to roll back a send whose delivery
// failed.
func (s *OTPStore) Delete(ctx context.Context, ch *OTPChallenge) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(ch.TenantID, ch.ID))
		pipe.ZRem(ctx, s.indexKey(ch.TenantID, ch.Email, ch.Purpose), ch.ID)
		pipe.ZRem(ctx, s.expiryKey(), expiryMember(ch.TenantID, ch.ID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOTPStoreUnavailable, err)
	}
	return nil
}

// DeleteExpired removes every challenge, in every tenant, whose expiry plus the store
// grace is at or before now. It returns the number of challenges removed.
func (s *OTPStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.grace)
	members, err := s.redis.ZRangeByScore(ctx, s.expiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrOTPStoreUnavailable, err)
	}

	removed := 0
	for _, member := range members {
		sep := strings.LastIndexByte(member, ':')
		if sep < 0 {
			_ = s.redis.ZRem(ctx, s.expiryKey(), member).Err()
			continue
		}
		tenantID, id := member[:sep], member[sep+1:]
		key := s.key(tenantID, id)

		fields, err := s.redis.HMGet(ctx, key, "email", "purpose").Result()
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrOTPStoreUnavailable, err)
		}
		_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			email, _ := fields[0].(string)
			purpose, _ := fields[1].(string)
			if email != "" && purpose != "" {
				pipe.ZRem(ctx, s.indexKey(tenantID, email, purpose), id)
			}
			pipe.ZRem(ctx, s.expiryKey(), member)
			return nil
		})
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrOTPStoreUnavailable, err)
		}
		removed++
	}
	return removed, nil
}

// scriptErrorCode returns the {err=...} payload of a Lua error reply. Some server
// versions prefix it with "ERR ".
func scriptErrorCode(err error) string {
	return strings.TrimPrefix(err.Error(), "ERR ")
}

func mapOTPScriptError(err error) error {
	switch scriptErrorCode(err) {
	case "not_found":
		return ErrOTPNotFound
	case "not_active":
		return ErrOTPNotActive
	case "exhausted":
		return ErrOTPExhausted
	default:
		return fmt.Errorf("%w: %v", ErrOTPStoreUnavailable, err)
	}
}

func decodeOTPChallenge(tenantID string, fields map[string]string) (*OTPChallenge, error) {
	ch := &OTPChallenge{
		ID:        fields["id"],
		TenantID:  normalizeTenantID(tenantID),
		Email:     fields["email"],
		Purpose:   fields["purpose"],
		Verified:  fields["verified"] == "1",
		Exhausted: fields["exhausted"] == "1",
	}

	raw, err := hex.DecodeString(fields["code_hash"])
	if err != nil || len(raw) != len(ch.CodeHash) {
		return nil, fmt.Errorf("%w: corrupt otp challenge %q", ErrOTPStoreUnavailable, ch.ID)
	}
	copy(ch.CodeHash[:], raw)

	ints := [4]int64{}
	for i, name := range []string{"attempts", "expires_at", "created_at", "used_at"} {
		v, err := strconv.ParseInt(fields[name], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: corrupt otp challenge %q field %s", ErrOTPStoreUnavailable, ch.ID, name)
		}
		ints[i] = v
	}
	ch.Attempts = int(ints[0])
	ch.ExpiresAt = time.UnixMilli(ints[1])
	ch.CreatedAt = time.UnixMilli(ints[2])
	if ints[3] > 0 {
		ch.UsedAt = time.UnixMilli(ints[3])
	}
	return ch, nil
}

func normalizeTenantID(tenantID string) string {
	if tenantID == "" {
		return "0"
	}
	return tenantID
}
