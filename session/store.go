package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRedisUnavailable wraps every Redis failure of the store.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrSessionNotFound is returned when the session key does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists is returned by Create when the id is already taken.
	ErrSessionExists = errors.New("session id already exists")
	// ErrSessionClosed is returned by mutations that only apply to online sessions.
	ErrSessionClosed = errors.New("session closed")
	// ErrSessionCorrupt is returned when a stored session cannot be decoded.
	ErrSessionCorrupt = errors.New("session corrupt")
)

const (
	// DefaultRetention keeps closed and expired sessions readable for history.
	DefaultRetention = 24 * time.Hour
	// DefaultMaxActivities caps each activity stream.
	DefaultMaxActivities = 1000

	maxTxRetries = 4
)

const decrementCountScript = `
local count = tonumber(redis.call("GET", KEYS[1]) or "0")
if count > 1 then
  redis.call("DECR", KEYS[1])
elseif count == 1 then
  redis.call("DEL", KEYS[1])
end
return count
`

var decrementCountLua = redis.NewScript(decrementCountScript)

// extendTTLScript raises the key's TTL to ARGV[1] ms and never lowers it.
const extendTTLScript = `
local ttl = redis.call("PTTL", KEYS[1])
if ttl == -2 then
  return 0
end
local want = tonumber(ARGV[1])
if ttl == -1 or ttl < want then
  redis.call("PEXPIRE", KEYS[1], want)
  return 1
end
return 0
`

var extendTTLLua = redis.NewScript(extendTTLScript)

// Options configures a Store.
type Options struct {
	// Prefix namespaces session keys. Defaults to "as".
	Prefix string
	// Retention is how long a session stays readable after its token expiry.
	Retention time.Duration
	// MaxActivities caps the per-session activity stream. Zero uses DefaultMaxActivities.
	MaxActivities int64
}

// Store persists sessions and their activity streams in Redis.
//
// Keys, per tenant:
//
//	{prefix}:{tenant}:{sid}   session JSON, TTL = tokenExpiresAt + Retention
//	au:{tenant}:{uid}         set of online session ids
//	ah:{tenant}:{uid}         zset of session ids by login time
//	aact:{tenant}:{sid}       activity stream, same deadline as the session
//	ast:{tenant}:count        online session counter
//
// plus the global zset ax of "{tenant}:{sid}" scored by token expiry, online only.
type Store struct {
	redis         redis.UniversalClient
	prefix        string
	retention     time.Duration
	maxActivities int64
}

// NewStore creates a session [Store] backed by the given Redis client.
func NewStore(redisClient redis.UniversalClient, opts Options) *Store {
	if opts.Prefix == "" {
		opts.Prefix = "as"
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.MaxActivities <= 0 {
		opts.MaxActivities = DefaultMaxActivities
	}
	return &Store{
		redis:         redisClient,
		prefix:        opts.Prefix,
		retention:     opts.Retention,
		maxActivities: opts.MaxActivities,
	}
}

func (s *Store) key(tenantID, sessionID string) string {
	return s.prefix + ":" + normalizeTenantID(tenantID) + ":" + sessionID
}

func (s *Store) userKey(tenantID, userID string) string {
	return "au:" + normalizeTenantID(tenantID) + ":" + userID
}

func (s *Store) historyKey(tenantID, userID string) string {
	return "ah:" + normalizeTenantID(tenantID) + ":" + userID
}

func (s *Store) activityKey(tenantID, sessionID string) string {
	return "aact:" + normalizeTenantID(tenantID) + ":" + sessionID
}

func (s *Store) tenantCountKey(tenantID string) string {
	return "ast:" + normalizeTenantID(tenantID) + ":count"
}

func (s *Store) expiryKey() string {
	return "ax"
}

func expiryMember(tenantID, sessionID string) string {
	return normalizeTenantID(tenantID) + ":" + sessionID
}

func normalizeTenantID(tenantID string) string {
	if tenantID == "" {
		return "0"
	}
	return tenantID
}

func (s *Store) deadline(sess *Session) time.Time {
	return sess.TokenExpiresAt.Add(s.retention)
}

// Ping checks Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Create stores a new online session and appends its login activity. The id is
// claimed with SETNX; a taken id returns ErrSessionExists and writes nothing.
func (s *Store) Create(ctx context.Context, sess *Session, login Activity) error {
	sess.TenantID = normalizeTenantID(sess.TenantID)
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	deadline := s.deadline(sess)
	ttl := deadline.Sub(sess.LoginAt)
	if ttl <= 0 {
		return errors.New("session token already expired")
	}

	key := s.key(sess.TenantID, sess.ID)
	ok, err := s.redis.SetNX(ctx, key, data, ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if !ok {
		return ErrSessionExists
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, s.userKey(sess.TenantID, sess.UserID), sess.ID)
		pipe.ZAdd(ctx, s.historyKey(sess.TenantID, sess.UserID), redis.Z{Score: float64(sess.LoginAt.UnixMilli()), Member: sess.ID})
		s.extendHistory(ctx, pipe, sess, ttl)
		pipe.ZAdd(ctx, s.expiryKey(), redis.Z{Score: float64(sess.TokenExpiresAt.UnixMilli()), Member: expiryMember(sess.TenantID, sess.ID)})
		pipe.Incr(ctx, s.tenantCountKey(sess.TenantID))
		s.appendActivity(ctx, pipe, sess.TenantID, login, deadline)
		return nil
	})
	if err != nil {
		// Leave no half-indexed session behind.
		_ = s.redis.Del(ctx, key).Err()
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get loads a session regardless of its status.
func (s *Store) Get(ctx context.Context, tenantID, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(tenantID, sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return decodeSession(data)
}

// Touch records one tracked request on an online session.
func (s *Store) Touch(ctx context.Context, tenantID, sessionID string, now time.Time, act Activity) (*Session, error) {
	return s.mutate(ctx, tenantID, sessionID, func(sess *Session) (func(redis.Pipeliner), error) {
		if !sess.Online() {
			return nil, ErrSessionClosed
		}
		sess.LastActivity = now
		sess.ActivityCount++
		act.UserID = sess.UserID
		return func(pipe redis.Pipeliner) {
			s.appendActivity(ctx, pipe, sess.TenantID, act, s.deadline(sess))
		}, nil
	})
}

// UpdateTokens stores a re-issued access token on an online session and moves its
// expiry forward.
func (s *Store) UpdateTokens(ctx context.Context, tenantID, sessionID, accessToken string, expiresAt, now time.Time, act Activity) (*Session, error) {
	return s.mutate(ctx, tenantID, sessionID, func(sess *Session) (func(redis.Pipeliner), error) {
		if !sess.Online() {
			return nil, ErrSessionClosed
		}
		sess.AccessToken = accessToken
		sess.TokenExpiresAt = expiresAt
		sess.LastActivity = now
		act.UserID = sess.UserID
		return func(pipe redis.Pipeliner) {
			deadline := s.deadline(sess)
			pipe.ZAdd(ctx, s.expiryKey(), redis.Z{Score: float64(expiresAt.UnixMilli()), Member: expiryMember(sess.TenantID, sess.ID)})
			s.extendHistory(ctx, pipe, sess, deadline.Sub(now))
			s.appendActivity(ctx, pipe, sess.TenantID, act, deadline)
		}, nil
	})
}

// Close takes an online session offline. Closing an already-closed session returns
// the stored record unchanged with closed=false; otherwise closed=true.
func (s *Store) Close(ctx context.Context, tenantID, sessionID, reason string, now time.Time, act Activity) (sess *Session, closed bool, err error) {
	sess, err = s.mutate(ctx, tenantID, sessionID, func(sess *Session) (func(redis.Pipeliner), error) {
		closed = false
		if !sess.Online() {
			return nil, nil
		}
		closed = true
		logoutAt := now
		if logoutAt.Before(sess.LoginAt) {
			logoutAt = sess.LoginAt
		}
		minutes := wholeMinutes(sess.LoginAt, logoutAt)
		sess.Status = StatusOffline
		sess.LogoutAt = &logoutAt
		sess.Duration = &minutes
		sess.CloseReason = reason
		act.UserID = sess.UserID
		return func(pipe redis.Pipeliner) {
			pipe.SRem(ctx, s.userKey(sess.TenantID, sess.UserID), sess.ID)
			pipe.ZRem(ctx, s.expiryKey(), expiryMember(sess.TenantID, sess.ID))
			s.appendActivity(ctx, pipe, sess.TenantID, act, s.deadline(sess))
		}, nil
	})
	if err != nil {
		return nil, false, err
	}
	if closed {
		if derr := decrementCountLua.Run(ctx, s.redis, []string{s.tenantCountKey(tenantID)}).Err(); derr != nil {
			return sess, true, fmt.Errorf("%w: %v", ErrRedisUnavailable, derr)
		}
	}
	return sess, closed, nil
}

// Forget drops the indexes of a session whose key has already been evicted.
func (s *Store) Forget(ctx context.Context, ref Ref, userID string) error {
	removed, err := s.redis.ZRem(ctx, s.expiryKey(), expiryMember(ref.TenantID, ref.SessionID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if userID != "" {
		if err := s.redis.SRem(ctx, s.userKey(ref.TenantID, userID), ref.SessionID).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	if removed > 0 {
		if err := decrementCountLua.Run(ctx, s.redis, []string{s.tenantCountKey(ref.TenantID)}).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return nil
}

// mutate runs fn against the current session under WATCH and writes the result in a
// MULTI block. fn returning a nil pipeline func means "no write". Contention is
// retried a bounded number of times.
func (s *Store) mutate(ctx context.Context, tenantID, sessionID string, fn func(*Session) (func(redis.Pipeliner), error)) (*Session, error) {
	key := s.key(tenantID, sessionID)

	for i := 0; i < maxTxRetries; i++ {
		var out *Session
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrSessionNotFound
				}
				return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
			sess, err := decodeSession(data)
			if err != nil {
				return err
			}

			extra, err := fn(sess)
			if err != nil {
				return err
			}
			out = sess
			if extra == nil {
				return nil
			}

			encoded, err := json.Marshal(sess)
			if err != nil {
				return fmt.Errorf("encode session: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, 0)
				pipe.ExpireAt(ctx, key, s.deadline(sess))
				extra(pipe)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrSessionClosed) ||
				errors.Is(err, ErrSessionCorrupt) || errors.Is(err, ErrRedisUnavailable) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: session update contention", ErrRedisUnavailable)
}

// ListOnline returns the user's online sessions, newest login first. Ids whose key has
// been evicted are pruned from the online set.
func (s *Store) ListOnline(ctx context.Context, tenantID, userID string) ([]*Session, error) {
	userKey := s.userKey(tenantID, userID)
	ids, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sessions, missing, err := s.getMany(ctx, tenantID, ids)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		_ = s.redis.SRem(ctx, userKey, missing...).Err()
	}

	online := sessions[:0]
	for _, sess := range sessions {
		if sess.Online() {
			online = append(online, sess)
		}
	}
	sort.Slice(online, func(i, j int) bool { return online[i].LoginAt.After(online[j].LoginAt) })
	return online, nil
}

// ListRecent returns up to limit of the user's sessions in any status, newest login
// first.
func (s *Store) ListRecent(ctx context.Context, tenantID, userID string, limit int) ([]*Session, error) {
	if limit <= 0 {
		return []*Session{}, nil
	}
	historyKey := s.historyKey(tenantID, userID)
	ids, err := s.redis.ZRevRange(ctx, historyKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sessions, missing, err := s.getMany(ctx, tenantID, ids)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		_ = s.redis.ZRem(ctx, historyKey, missing...).Err()
	}
	return sessions, nil
}

func (s *Store) getMany(ctx context.Context, tenantID string, ids []string) ([]*Session, []interface{}, error) {
	if len(ids) == 0 {
		return []*Session{}, nil, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, sid := range ids {
		cmds[i] = pipe.Get(ctx, s.key(tenantID, sid))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sessions := make([]*Session, 0, len(ids))
	var missing []interface{}
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				missing = append(missing, ids[i])
				continue
			}
			return nil, nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		sess, err := decodeSession(data)
		if err != nil {
			return nil, nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, missing, nil
}

// ExpiredOnline returns up to limit online sessions, across tenants, whose token
// expired at or before now.
func (s *Store) ExpiredOnline(ctx context.Context, now time.Time, limit int) ([]Ref, error) {
	members, err := s.redis.ZRangeByScore(ctx, s.expiryKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	refs := make([]Ref, 0, len(members))
	for _, m := range members {
		sep := strings.LastIndexByte(m, ':')
		if sep < 0 {
			_ = s.redis.ZRem(ctx, s.expiryKey(), m).Err()
			continue
		}
		refs = append(refs, Ref{TenantID: m[:sep], SessionID: m[sep+1:]})
	}
	return refs, nil
}

// OnlineCount returns the tracked number of online sessions in a tenant.
func (s *Store) OnlineCount(ctx context.Context, tenantID string) (int, error) {
	count, err := s.redis.Get(ctx, s.tenantCountKey(tenantID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

// AppendActivity writes one entry to the session's activity stream outside of any
// state change.
func (s *Store) AppendActivity(ctx context.Context, tenantID string, act Activity, deadline time.Time) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.appendActivity(ctx, pipe, tenantID, act, deadline)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// extendHistory keeps the user's history index alive for at least ttl. A session
// with an earlier deadline never shortens what a longer-lived sibling set.
func (s *Store) extendHistory(ctx context.Context, pipe redis.Pipeliner, sess *Session, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	extendTTLLua.Eval(ctx, pipe, []string{s.historyKey(sess.TenantID, sess.UserID)}, ttl.Milliseconds())
}

func (s *Store) appendActivity(ctx context.Context, pipe redis.Pipeliner, tenantID string, act Activity, deadline time.Time) {
	details := ""
	if len(act.Details) > 0 {
		if b, err := json.Marshal(act.Details); err == nil {
			details = string(b)
		}
	}
	key := s.activityKey(tenantID, act.SessionID)
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: s.maxActivities,
		Approx: true,
		Values: map[string]interface{}{
			"session_id": act.SessionID,
			"user_id":    act.UserID,
			"action":     string(act.Action),
			"ts":         act.Timestamp.UnixMilli(),
			"details":    details,
		},
	})
	pipe.ExpireAt(ctx, key, deadline)
}

// Activities returns up to limit of the most recent activity entries in
// chronological order.
func (s *Store) Activities(ctx context.Context, tenantID, sessionID string, limit int64) ([]Activity, error) {
	if limit <= 0 {
		limit = s.maxActivities
	}
	msgs, err := s.redis.XRevRangeN(ctx, s.activityKey(tenantID, sessionID), "+", "-", limit).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	out := make([]Activity, len(msgs))
	for i, msg := range msgs {
		out[len(msgs)-1-i] = decodeActivity(msg)
	}
	return out, nil
}

func decodeActivity(msg redis.XMessage) Activity {
	str := func(k string) string {
		v, _ := msg.Values[k].(string)
		return v
	}
	act := Activity{
		ID:        msg.ID,
		SessionID: str("session_id"),
		UserID:    str("user_id"),
		Action:    Action(str("action")),
	}
	if ms, err := strconv.ParseInt(str("ts"), 10, 64); err == nil {
		act.Timestamp = time.UnixMilli(ms)
	}
	if raw := str("details"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &act.Details)
	}
	return act
}

func decodeSession(data []byte) (*Session, error) {
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
	}
	return &sess, nil
}
