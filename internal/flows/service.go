package flows

import (
	"context"

	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/session"
)

// Service is the centralized flow runner built once by the Engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.OTP.Store != nil && s.deps.Sessions.Store != nil && s.deps.Validate.VerifyAccess != nil
}

func (s Service) SendOTP(ctx context.Context, req OTPSendRequest) error {
	return RunSendOTP(ctx, req, s.deps.OTP)
}

func (s Service) VerifyOTP(ctx context.Context, req OTPVerifyRequest) (*OTPVerifyResult, error) {
	return RunVerifyOTP(ctx, req, s.deps.OTP)
}

func (s Service) ResendOTP(ctx context.Context, email, displayName string) error {
	return RunResendOTP(ctx, email, displayName, s.deps.OTP)
}

func (s Service) OTPStatus(ctx context.Context, email string) (OTPStatus, error) {
	return RunOTPStatus(ctx, email, s.deps.OTP)
}

func (s Service) InvalidateOTP(ctx context.Context, email, purpose string) (int, error) {
	return RunInvalidateOTP(ctx, email, purpose, s.deps.OTP)
}

func (s Service) CleanupExpiredOTPs(ctx context.Context) (int, error) {
	return RunCleanupExpiredOTPs(ctx, s.deps.OTP)
}

func (s Service) IsEmailVerified(ctx context.Context, email, purpose string) (bool, error) {
	return RunCheckVerifiedEmail(ctx, email, purpose, s.deps.OTP)
}

func (s Service) ClaimVerifiedEmail(ctx context.Context, email, purpose string) error {
	return RunClaimVerifiedEmail(ctx, email, purpose, s.deps.OTP)
}

func (s Service) InvalidateVerifiedEmail(ctx context.Context, email string, purposes []string) error {
	return RunInvalidateVerifiedEmail(ctx, email, purposes, s.deps.OTP)
}

func (s Service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	return RunLogin(ctx, req, s.deps.Login)
}

func (s Service) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	return RunRefresh(ctx, refreshToken, s.deps.Refresh)
}

func (s Service) ForgotPassword(ctx context.Context, email string) error {
	return RunForgotPassword(ctx, email, s.deps.Password)
}

func (s Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) (int, error) {
	return RunResetPassword(ctx, req, s.deps.Password)
}

func (s Service) VerifyAccount(ctx context.Context, email, code, purpose string) error {
	return RunVerifyAccount(ctx, email, code, purpose, s.deps.Account)
}

func (s Service) Logout(ctx context.Context, sessionID, reason string) (*session.Session, error) {
	return RunLogout(ctx, sessionID, reason, s.deps.Logout)
}

func (s Service) LogoutByAccessToken(ctx context.Context, token string) (*session.Session, error) {
	return RunLogoutByAccessToken(ctx, token, s.deps.Logout)
}

func (s Service) RevokeSession(ctx context.Context, callerUserID, sessionID string) (*session.Session, error) {
	return RunRevokeSession(ctx, callerUserID, sessionID, s.deps.Logout)
}

func (s Service) ValidateAccess(ctx context.Context, token string) (*jwt.Claims, error) {
	return RunValidateAccess(ctx, token, s.deps.Validate)
}

func (s Service) TouchSession(ctx context.Context, sessionID string) {
	RunTouchSession(ctx, sessionID, s.deps.Sessions)
}

func (s Service) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	return RunGetSession(ctx, sessionID, s.deps.Sessions)
}

func (s Service) CloseAllSessions(ctx context.Context, userID, reason string) (int, error) {
	return RunCloseAllSessions(ctx, userID, reason, s.deps.Sessions)
}

func (s Service) SweepExpiredSessions(ctx context.Context) (int, error) {
	return RunSweepExpiredSessions(ctx, s.deps.Sessions)
}

func (s Service) ListActiveSessions(ctx context.Context, userID string) ([]*session.Session, error) {
	return RunListActiveSessions(ctx, userID, s.deps.Sessions)
}

func (s Service) ListSessionHistory(ctx context.Context, userID string, limit int) ([]*session.Session, error) {
	return RunListSessionHistory(ctx, userID, limit, s.deps.Sessions)
}

func (s Service) SessionActivity(ctx context.Context, sessionID string, limit int64) ([]session.Activity, error) {
	return RunSessionActivity(ctx, sessionID, limit, s.deps.Sessions)
}
