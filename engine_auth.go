package goIdentity

import (
	"context"
	"time"
)

// Login authenticates email and password and opens a session. Unknown emails and
// wrong passwords both return ErrInvalidCredentials. Repeated failures are throttled
// per email and per client IP with ErrLoginRateLimited.
func (e *Engine) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	return e.flows.Login(ctx, LoginRequest{Email: email, Password: password})
}

// Refresh exchanges a refresh token for a new access token carrying the same claims.
// An access token fails with ErrTokenKindMismatch. A refresh for a session that has
// already been closed fails with ErrInvalidRefreshToken.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	return e.flows.Refresh(ctx, refreshToken)
}

// ForgotPassword sends a password-recovery code when email belongs to a user. It
// returns nil for unknown emails, throttled sends and delivery failures so callers
// cannot probe which accounts exist.
func (e *Engine) ForgotPassword(ctx context.Context, email string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return e.flows.ForgotPassword(ctx, email)
}

// ResetPassword verifies a password-recovery code, stores the new password and
// closes every online session of the user. It returns the number of closed sessions.
func (e *Engine) ResetPassword(ctx context.Context, email, code, newPassword string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	return e.flows.ResetPassword(ctx, ResetPasswordRequest{Email: email, Code: code, NewPassword: newPassword})
}

// VerifyAccount checks an OTP and marks the owning user verified. An empty purpose
// means email-verification.
func (e *Engine) VerifyAccount(ctx context.Context, email, code, purpose string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return e.flows.VerifyAccount(ctx, email, code, purpose)
}

// Logout closes sessionID. Logging out a closed session returns its stored record.
func (e *Engine) Logout(ctx context.Context, sessionID, reason string) (*Session, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if reason == "" {
		reason = CloseReasonManual
	}
	return e.flows.Logout(ctx, sessionID, reason)
}

// LogoutByAccessToken closes the session named by a valid access token.
func (e *Engine) LogoutByAccessToken(ctx context.Context, accessToken string) (*Session, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	return e.flows.LogoutByAccessToken(ctx, accessToken)
}

// RevokeSession closes sessionID on behalf of callerUserID. Sessions of other users
// fail with ErrUnauthorized.
func (e *Engine) RevokeSession(ctx context.Context, callerUserID, sessionID string) (*Session, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	return e.flows.RevokeSession(ctx, callerUserID, sessionID)
}

// ValidateAccess verifies an access token for request authorization. With
// Config.Session.RequireLiveSession the session must also still be online.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (*TokenClaims, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricValidateLatency, time.Since(start)) }()
	}
	return e.flows.ValidateAccess(ctx, accessToken)
}
