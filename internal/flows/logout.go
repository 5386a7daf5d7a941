package flows

import (
	"context"

	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/session"
)

// LogoutEvents carries audit event names used by logout flows.
type LogoutEvents struct {
	Logout       string
	RevokeDenied string
}

// LogoutErrors carries host-level errors used by logout flows.
type LogoutErrors struct {
	EngineNotReady error
	Unauthorized   error
}

// LogoutDeps captures logout and revoke dependencies.
type LogoutDeps struct {
	Runtime

	VerifyAccess func(token string) (*jwt.Claims, error)
	Sessions     SessionDeps

	Events LogoutEvents
	Errors LogoutErrors
}

// RunLogout closes sessionID with reason. Repeated logouts return the closed record.
func RunLogout(ctx context.Context, sessionID, reason string, deps LogoutDeps) (*session.Session, error) {
	deps.Runtime = deps.Runtime.normalize()
	sess, err := RunCloseSession(ctx, sessionID, reason, deps.Sessions)
	if err != nil {
		return nil, err
	}
	deps.EmitAudit(ctx, deps.Events.Logout, true, sess.UserID, sess.TenantID, sess.ID, nil, nil)
	return sess, nil
}

// RunLogoutByAccessToken closes the session named by a valid access token.
func RunLogoutByAccessToken(ctx context.Context, token string, deps LogoutDeps) (*session.Session, error) {
	deps.Runtime = deps.Runtime.normalize()
	if deps.VerifyAccess == nil {
		return nil, deps.Errors.EngineNotReady
	}
	claims, err := deps.VerifyAccess(token)
	if err != nil {
		return nil, err
	}
	if claims.SessionID == "" || !sameTenant(claims, deps.TenantIDFromContext(ctx)) {
		return nil, deps.Errors.Unauthorized
	}
	return RunLogout(ctx, claims.SessionID, CloseReasonManual, deps)
}

// RunRevokeSession closes sessionID on behalf of callerUserID, who must own it.
func RunRevokeSession(ctx context.Context, callerUserID, sessionID string, deps LogoutDeps) (*session.Session, error) {
	deps.Runtime = deps.Runtime.normalize()
	sess, err := RunGetSession(ctx, sessionID, deps.Sessions)
	if err != nil {
		return nil, err
	}
	if callerUserID == "" || sess.UserID != callerUserID {
		tenantID := deps.TenantIDFromContext(ctx)
		deps.EmitAudit(ctx, deps.Events.RevokeDenied, false, callerUserID, tenantID, sessionID, deps.Errors.Unauthorized, nil)
		return nil, deps.Errors.Unauthorized
	}
	return RunLogout(ctx, sessionID, CloseReasonRevoked, deps)
}
