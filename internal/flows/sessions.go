package flows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goIdentity/session"
)

const (
	maxSessionIDAttempts    = 3
	defaultSweepBatchSize   = 200
	defaultHistoryLimit     = 20
	CloseReasonTokenExpired = "token_expired"
	CloseReasonPassword     = "password_reset"
	CloseReasonManual       = "manual"
	CloseReasonRevoked      = "revoked"
)

// SessionStore is the subset of session.Store used by session flows.
type SessionStore interface {
	Create(ctx context.Context, sess *session.Session, login session.Activity) error
	Get(ctx context.Context, tenantID, sessionID string) (*session.Session, error)
	Touch(ctx context.Context, tenantID, sessionID string, now time.Time, act session.Activity) (*session.Session, error)
	UpdateTokens(ctx context.Context, tenantID, sessionID, accessToken string, expiresAt, now time.Time, act session.Activity) (*session.Session, error)
	Close(ctx context.Context, tenantID, sessionID, reason string, now time.Time, act session.Activity) (*session.Session, bool, error)
	Forget(ctx context.Context, ref session.Ref, userID string) error
	ListOnline(ctx context.Context, tenantID, userID string) ([]*session.Session, error)
	ListRecent(ctx context.Context, tenantID, userID string, limit int) ([]*session.Session, error)
	ExpiredOnline(ctx context.Context, now time.Time, limit int) ([]session.Ref, error)
	Activities(ctx context.Context, tenantID, sessionID string, limit int64) ([]session.Activity, error)
}

// SessionIdentity is who a session is created for.
type SessionIdentity struct {
	TenantID string
	UserID   string
	Email    string
	Name     string
	Role     string
	SubRole  string
	Verified bool
}

// RequestInfo is the transport context of the current request.
type RequestInfo struct {
	IP        string
	UserAgent string
	Route     string
	Method    string
	IsSecure  bool
	Country   string
	City      string
	Timezone  string
}

func (r RequestInfo) details(extra map[string]string) map[string]string {
	out := make(map[string]string, 4+len(extra))
	for k, v := range map[string]string{
		"ip":        r.IP,
		"userAgent": r.UserAgent,
		"route":     r.Route,
		"method":    r.Method,
	} {
		if v != "" {
			out[k] = v
		}
	}
	for k, v := range extra {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// TokenPair is an issued access/refresh pair.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// SessionMetrics carries metric IDs used by session flows.
type SessionMetrics struct {
	Created     int
	Closed      int
	Expired     int
	TouchFailed int
}

// SessionEvents carries audit event names used by session flows.
type SessionEvents struct {
	Created   string
	Closed    string
	ClosedAll string
	Expired   string
}

// SessionErrors carries host-level errors used by session flows.
type SessionErrors struct {
	EngineNotReady     error
	NotFound           error
	ServiceUnavailable error
}

// SessionDeps captures session lifecycle dependencies.
type SessionDeps struct {
	Runtime

	RequestInfoFromContext func(context.Context) RequestInfo
	NewID                  func() (string, error)
	Store                  SessionStore
	TokenVersion           int
	SweepBatchSize         int
	HistoryLimit           int

	Metrics SessionMetrics
	Events  SessionEvents
	Errors  SessionErrors
}

func normalizeSessionDeps(deps SessionDeps) SessionDeps {
	deps.Runtime = deps.Runtime.normalize()
	if deps.RequestInfoFromContext == nil {
		deps.RequestInfoFromContext = func(context.Context) RequestInfo { return RequestInfo{} }
	}
	if deps.SweepBatchSize <= 0 {
		deps.SweepBatchSize = defaultSweepBatchSize
	}
	if deps.HistoryLimit <= 0 {
		deps.HistoryLimit = defaultHistoryLimit
	}
	return deps
}

func (deps SessionDeps) unavailable(ctx context.Context, op string, err error) error {
	deps.Logger.ErrorContext(ctx, "session store failed", "op", op, "error", err)
	return fmt.Errorf("%w: %v", deps.Errors.ServiceUnavailable, err)
}

// RunCreateSession opens a new online session for id in the context tenant. issue is
// called with the tenant-bound identity and the new session id so both tokens carry
// them; an id collision retries with a fresh id.
func RunCreateSession(ctx context.Context, id SessionIdentity, issue func(id SessionIdentity, sessionID string) (TokenPair, error), deps SessionDeps) (*session.Session, TokenPair, error) {
	deps = normalizeSessionDeps(deps)
	if deps.Store == nil || deps.NewID == nil || issue == nil {
		return nil, TokenPair{}, deps.Errors.EngineNotReady
	}
	tenantID := deps.TenantIDFromContext(ctx)
	id.TenantID = tenantID
	info := deps.RequestInfoFromContext(ctx)
	now := deps.Now()
	device := session.ClassifyDevice(info.UserAgent)

	for attempt := 0; attempt < maxSessionIDAttempts; attempt++ {
		sid, err := deps.NewID()
		if err != nil {
			return nil, TokenPair{}, deps.unavailable(ctx, "new_id", err)
		}
		pair, err := issue(id, sid)
		if err != nil {
			return nil, TokenPair{}, err
		}

		sess := &session.Session{
			ID:           sid,
			TenantID:     tenantID,
			UserID:       id.UserID,
			UserRole:     id.Role,
			UserEmail:    id.Email,
			UserName:     id.Name,
			LoginAt:      now,
			LastActivity: now,
			Status:       session.StatusOnline,
			Device:       device,
			Location: session.Location{
				IP:       info.IP,
				Country:  info.Country,
				City:     info.City,
				Timezone: info.Timezone,
			},
			Security: session.Security{
				UserAgent:    info.UserAgent,
				IsSecure:     info.IsSecure,
				TokenVersion: deps.TokenVersion,
			},
			AccessToken:    pair.AccessToken,
			RefreshToken:   pair.RefreshToken,
			TokenExpiresAt: pair.AccessExpiresAt,
			ActivityCount:  1,
		}
		login := session.Activity{
			SessionID: sid,
			UserID:    id.UserID,
			Action:    session.ActionLogin,
			Timestamp: now,
			Details:   info.details(nil),
		}

		err = deps.Store.Create(ctx, sess, login)
		if errors.Is(err, session.ErrSessionExists) {
			deps.Logger.WarnContext(ctx, "session id collision", "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, TokenPair{}, deps.unavailable(ctx, "create", err)
		}

		deps.MetricInc(deps.Metrics.Created)
		deps.EmitAudit(ctx, deps.Events.Created, true, id.UserID, tenantID, sid, nil, func() map[string]string {
			return map[string]string{"device": device.Type, "browser": device.Browser}
		})
		return sess, pair, nil
	}
	return nil, TokenPair{}, deps.unavailable(ctx, "create", session.ErrSessionExists)
}

// RunTouchSession records one request on a session. Missing and closed sessions are
// ignored and store failures are only logged.
func RunTouchSession(ctx context.Context, sessionID string, deps SessionDeps) {
	deps = normalizeSessionDeps(deps)
	if deps.Store == nil || sessionID == "" {
		return
	}
	tenantID := deps.TenantIDFromContext(ctx)
	info := deps.RequestInfoFromContext(ctx)
	now := deps.Now()

	act := session.Activity{
		SessionID: sessionID,
		Action:    session.ActionActivity,
		Timestamp: now,
		Details:   info.details(nil),
	}
	_, err := deps.Store.Touch(ctx, tenantID, sessionID, now, act)
	switch {
	case err == nil,
		errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrSessionClosed):
		return
	default:
		deps.MetricInc(deps.Metrics.TouchFailed)
		deps.Logger.WarnContext(ctx, "session touch failed", "session_id", sessionID, "error", err)
	}
}

// RunRecordRefresh stores a re-issued access token on the session. It is best-effort:
// failures are logged and never returned.
func RunRecordRefresh(ctx context.Context, sessionID, accessToken string, expiresAt time.Time, deps SessionDeps) {
	deps = normalizeSessionDeps(deps)
	if deps.Store == nil || sessionID == "" {
		return
	}
	tenantID := deps.TenantIDFromContext(ctx)
	info := deps.RequestInfoFromContext(ctx)
	now := deps.Now()

	act := session.Activity{
		SessionID: sessionID,
		Action:    session.ActionRefresh,
		Timestamp: now,
		Details:   info.details(nil),
	}
	_, err := deps.Store.UpdateTokens(ctx, tenantID, sessionID, accessToken, expiresAt, now, act)
	if err != nil && !errors.Is(err, session.ErrSessionNotFound) && !errors.Is(err, session.ErrSessionClosed) {
		deps.Logger.WarnContext(ctx, "session refresh update failed", "session_id", sessionID, "error", err)
	}
}

// RunCloseSession takes a session offline. Closing a closed session returns the stored
// record without error.
func RunCloseSession(ctx context.Context, sessionID, reason string, deps SessionDeps) (*session.Session, error) {
	deps = normalizeSessionDeps(deps)
	if deps.Store == nil {
		return nil, deps.Errors.EngineNotReady
	}
	if sessionID == "" {
		return nil, deps.Errors.NotFound
	}
	if reason == "" {
		reason = CloseReasonManual
	}
	tenantID := deps.TenantIDFromContext(ctx)
	return closeOne(ctx, tenantID, sessionID, reason, session.ActionLogout, deps)
}

func closeOne(ctx context.Context, tenantID, sessionID, reason string, action session.Action, deps SessionDeps) (*session.Session, error) {
	info := deps.RequestInfoFromContext(ctx)
	now := deps.Now()
	act := session.Activity{
		SessionID: sessionID,
		Action:    action,
		Timestamp: now,
		Details:   info.details(map[string]string{"reason": reason}),
	}
	sess, closed, err := deps.Store.Close(ctx, tenantID, sessionID, reason, now, act)
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return nil, deps.Errors.NotFound
	case err != nil && sess == nil:
		return nil, deps.unavailable(ctx, "close", err)
	case err != nil:
		// The session is closed; only the tenant counter update failed.
		deps.Logger.WarnContext(ctx, "session counter update failed", "session_id", sessionID, "error", err)
	}
	if closed {
		deps.MetricInc(deps.Metrics.Closed)
		deps.EmitAudit(ctx, deps.Events.Closed, true, sess.UserID, tenantID, sessionID, nil, func() map[string]string {
			return map[string]string{"reason": reason}
		})
	}
	return sess, nil
}

// RunGetSession loads one session in any status.
func RunGetSession(ctx context.Context, sessionID string, deps SessionDeps) (*session.Session, error) {
	deps = normalizeSessionDeps(deps)
	if deps.Store == nil {
		return nil, deps.Errors.EngineNotReady
	}
	sess, err := deps.Store.Get(ctx, deps.TenantIDFromContext(ctx), sessionID)
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return nil, deps.Errors.NotFound
	case err != nil:
		return nil, deps.unavailable(ctx, "get", err)
	}
	return sess, nil
}

// RunCloseAllSessions closes every online session of userID independently and returns
// how many were closed by this call.
func RunCloseAllSessions(ctx context.Context, userID, reason string, deps SessionDeps) (int, error) {
	deps = normalizeSessionDeps(deps)
	if deps.Store == nil {
		return 0, deps.Errors.EngineNotReady
	}
	tenantID := deps.TenantIDFromContext(ctx)
	online, err := deps.Store.ListOnline(ctx, tenantID, userID)
	if err != nil {
		return 0, deps.unavailable(ctx, "list_online", err)
	}

	now := deps.Now()
	info := deps.RequestInfoFromContext(ctx)
	terminated := 0
	for _, s := range online {
		act := session.Activity{
			SessionID: s.ID,
			UserID:    userID,
			Action:    session.ActionLogout,
			Timestamp: now,
			Details:   info.details(map[string]string{"reason": reason}),
		}
		_, closed, err := deps.Store.Close(ctx, tenantID, s.ID, reason, now, act)
		if err != nil && !closed {
			deps.Logger.WarnContext(ctx, "session close failed", "session_id", s.ID, "error", err)
			continue
		}
		if closed {
			terminated++
			deps.MetricInc(deps.Metrics.Closed)
		}
	}

	deps.EmitAudit(ctx, deps.Events.ClosedAll, true, userID, tenantID, "", nil, func() map[string]string {
		return map[string]string{"reason": reason, "count": fmt.Sprint(terminated)}
	})
	return terminated, nil
}

// RunSweepExpiredSessions closes online sessions, in every tenant, whose access token
// has expired. Indexes of sessions that already vanished are dropped.
func RunSweepExpiredSessions(ctx context.Context, deps SessionDeps) (int, error) {
	deps = normalizeSessionDeps(deps)
	if deps.Store == nil {
		return 0, deps.Errors.EngineNotReady
	}

	expired := 0
	for {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		now := deps.Now()
		refs, err := deps.Store.ExpiredOnline(ctx, now, deps.SweepBatchSize)
		if err != nil {
			return expired, deps.unavailable(ctx, "expired_online", err)
		}
		if len(refs) == 0 {
			return expired, nil
		}

		progressed := 0
		for _, ref := range refs {
			act := session.Activity{
				SessionID: ref.SessionID,
				Action:    session.ActionTimeout,
				Timestamp: now,
				Details:   map[string]string{"reason": CloseReasonTokenExpired},
			}
			sess, closed, err := deps.Store.Close(ctx, ref.TenantID, ref.SessionID, CloseReasonTokenExpired, now, act)
			switch {
			case errors.Is(err, session.ErrSessionNotFound):
				if ferr := deps.Store.Forget(ctx, ref, ""); ferr != nil {
					deps.Logger.WarnContext(ctx, "session forget failed", "session_id", ref.SessionID, "error", ferr)
					continue
				}
				progressed++
				continue
			case err != nil && !closed:
				deps.Logger.WarnContext(ctx, "session expire failed", "session_id", ref.SessionID, "error", err)
				continue
			}
			progressed++
			if closed {
				expired++
				deps.MetricInc(deps.Metrics.Expired)
				deps.EmitAudit(ctx, deps.Events.Expired, true, sess.UserID, ref.TenantID, ref.SessionID, nil, nil)
			}
		}
		if progressed == 0 || len(refs) < deps.SweepBatchSize {
			return expired, nil
		}
	}
}

// RunListActiveSessions returns the online sessions of userID, newest first.
func RunListActiveSessions(ctx context.Context, userID string, deps SessionDeps) ([]*session.Session, error) {
	deps = normalizeSessionDeps(deps)
	if deps.Store == nil {
		return nil, deps.Errors.EngineNotReady
	}
	out, err := deps.Store.ListOnline(ctx, deps.TenantIDFromContext(ctx), userID)
	if err != nil {
		return nil, deps.unavailable(ctx, "list_online", err)
	}
	return out, nil
}

// RunListSessionHistory returns up to limit sessions of userID in any status. A
// non-positive limit uses the configured default.
func RunListSessionHistory(ctx context.Context, userID string, limit int, deps SessionDeps) ([]*session.Session, error) {
	deps = normalizeSessionDeps(deps)
	if deps.Store == nil {
		return nil, deps.Errors.EngineNotReady
	}
	if limit <= 0 {
		limit = deps.HistoryLimit
	}
	out, err := deps.Store.ListRecent(ctx, deps.TenantIDFromContext(ctx), userID, limit)
	if err != nil {
		return nil, deps.unavailable(ctx, "list_recent", err)
	}
	return out, nil
}

// RunSessionActivity returns the most recent activity entries of a session in
// chronological order.
func RunSessionActivity(ctx context.Context, sessionID string, limit int64, deps SessionDeps) ([]session.Activity, error) {
	deps = normalizeSessionDeps(deps)
	if deps.Store == nil {
		return nil, deps.Errors.EngineNotReady
	}
	out, err := deps.Store.Activities(ctx, deps.TenantIDFromContext(ctx), sessionID, limit)
	if err != nil {
		return nil, deps.unavailable(ctx, "activities", err)
	}
	return out, nil
}
