package flows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goIdentity/internal/rate"
	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/session"
)

// RefreshCodec is the subset of jwt.Codec used by the refresh flow.
type RefreshCodec interface {
	Refresh(refreshToken string) (string, time.Time, *jwt.Claims, error)
	AccessTTL() time.Duration
}

// RefreshRateLimiter caps refreshes per session.
type RefreshRateLimiter interface {
	CheckRefresh(ctx context.Context, tenantID, sessionID string) error
}

// RefreshResult is a newly issued access token.
type RefreshResult struct {
	AccessToken string
	ExpiresAt   time.Time
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64
	SessionID string
	UserID    string
}

// RefreshMetrics carries metric IDs used by the refresh flow.
type RefreshMetrics struct {
	Success     int
	Failure     int
	RateLimited int
}

// RefreshEvents carries audit event names used by the refresh flow.
type RefreshEvents struct {
	Success     string
	Failure     string
	RateLimited string
}

// RefreshErrors carries host-level errors used by the refresh flow.
type RefreshErrors struct {
	EngineNotReady      error
	InvalidRefreshToken error
	RateLimited         error
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	Runtime

	Codec       RefreshCodec
	RateLimiter RefreshRateLimiter
	Sessions    SessionDeps

	Metrics RefreshMetrics
	Events  RefreshEvents
	Errors  RefreshErrors
}

// RunRefresh verifies a refresh token and issues a new access token with the same
// claims. A session that is known and already closed rejects the refresh; a missing
// session or a session store failure does not.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) (*RefreshResult, error) {
	deps.Runtime = deps.Runtime.normalize()
	if deps.Codec == nil {
		return nil, deps.Errors.EngineNotReady
	}
	tenantID := deps.TenantIDFromContext(ctx)

	access, expiresAt, claims, err := deps.Codec.Refresh(refreshToken)
	if err != nil {
		wrapped := fmt.Errorf("%w: %w", deps.Errors.InvalidRefreshToken, err)
		deps.MetricInc(deps.Metrics.Failure)
		deps.EmitAudit(ctx, deps.Events.Failure, false, "", tenantID, "", wrapped, nil)
		return nil, wrapped
	}
	sid := claims.SessionID
	if !sameTenant(claims, tenantID) {
		wrapped := fmt.Errorf("%w: %w", deps.Errors.InvalidRefreshToken, errTenantMismatch)
		deps.MetricInc(deps.Metrics.Failure)
		deps.EmitAudit(ctx, deps.Events.Failure, false, claims.SubjectID, tenantID, sid, wrapped, nil)
		return nil, wrapped
	}

	if sid != "" && deps.Sessions.Store != nil {
		sess, err := deps.Sessions.Store.Get(ctx, tenantID, sid)
		switch {
		case err == nil && !sess.Online():
			wrapped := fmt.Errorf("%w: %w", deps.Errors.InvalidRefreshToken, session.ErrSessionClosed)
			deps.MetricInc(deps.Metrics.Failure)
			deps.EmitAudit(ctx, deps.Events.Failure, false, claims.SubjectID, tenantID, sid, wrapped, nil)
			return nil, wrapped
		case err != nil && !errors.Is(err, session.ErrSessionNotFound):
			deps.Logger.WarnContext(ctx, "refresh session lookup failed", "session_id", sid, "error", err)
		}
	}

	if sid != "" && deps.RateLimiter != nil {
		if err := deps.RateLimiter.CheckRefresh(ctx, tenantID, sid); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				deps.MetricInc(deps.Metrics.RateLimited)
				deps.EmitAudit(ctx, deps.Events.RateLimited, false, claims.SubjectID, tenantID, sid, deps.Errors.RateLimited, nil)
				return nil, deps.Errors.RateLimited
			}
			deps.Logger.WarnContext(ctx, "refresh limiter unavailable", "error", err)
		}
	}

	RunRecordRefresh(ctx, sid, access, expiresAt, deps.Sessions)

	deps.MetricInc(deps.Metrics.Success)
	deps.EmitAudit(ctx, deps.Events.Success, true, claims.SubjectID, tenantID, sid, nil, nil)
	return &RefreshResult{
		AccessToken: access,
		ExpiresAt:   expiresAt,
		ExpiresIn:   int64(deps.Codec.AccessTTL() / time.Second),
		SessionID:   sid,
		UserID:      claims.SubjectID,
	}, nil
}
