package flows

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/goIdentity/internal"
)

// PasswordMetrics carries metric IDs used by password flows.
type PasswordMetrics struct {
	ResetRequested int
	ResetSuccess   int
	ResetFailure   int
}

// PasswordEvents carries audit event names used by password flows.
type PasswordEvents struct {
	ResetRequested string
	ResetSuccess   string
	ResetFailure   string
}

// PasswordErrors carries host-level errors used by password flows.
type PasswordErrors struct {
	EngineNotReady     error
	PasswordPolicy     error
	UserNotFound       error
	ServiceUnavailable error
}

// PasswordDeps captures forgot/reset password dependencies.
type PasswordDeps struct {
	Runtime

	ClientIPFromContext func(context.Context) string
	CheckPolicy         func(password string) error
	FindUser            func(ctx context.Context, email string) (UserRecord, error)
	HashPassword        func(password string) (string, error)
	UpdatePassword      func(ctx context.Context, userID, hash string) error
	Limiter             LoginLimiter

	OTP      OTPDeps
	Sessions SessionDeps

	Metrics PasswordMetrics
	Events  PasswordEvents
	Errors  PasswordErrors
}

func normalizePasswordDeps(deps PasswordDeps) PasswordDeps {
	deps.Runtime = deps.Runtime.normalize()
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.CheckPolicy == nil {
		deps.CheckPolicy = func(string) error { return nil }
	}
	return deps
}

// ResetPasswordRequest is the input of RunResetPassword.
type ResetPasswordRequest struct {
	Email       string
	Code        string
	NewPassword string
}

// RunForgotPassword sends a password-recovery code when the email belongs to a user.
// Unknown emails, resend throttling and delivery failures all look like success.
func RunForgotPassword(ctx context.Context, email string, deps PasswordDeps) error {
	deps = normalizePasswordDeps(deps)
	if deps.FindUser == nil {
		return deps.Errors.EngineNotReady
	}
	email = internal.NormalizeEmail(email)
	if !ValidEmail(email) {
		return deps.OTP.Errors.RequestInvalid
	}
	tenantID := deps.TenantIDFromContext(ctx)
	deps.MetricInc(deps.Metrics.ResetRequested)

	user, err := deps.FindUser(ctx, email)
	if err != nil {
		if deps.Errors.UserNotFound != nil && errors.Is(err, deps.Errors.UserNotFound) {
			deps.EmitAudit(ctx, deps.Events.ResetRequested, false, "", tenantID, "", err, nil)
			return nil
		}
		deps.Logger.ErrorContext(ctx, "user lookup failed", "error", err)
		return fmt.Errorf("%w: %v", deps.Errors.ServiceUnavailable, err)
	}

	err = RunSendOTP(ctx, OTPSendRequest{
		Email:       email,
		Purpose:     PurposePasswordRecovery,
		DisplayName: user.Name,
	}, deps.OTP)
	switch {
	case err == nil:
		deps.EmitAudit(ctx, deps.Events.ResetRequested, true, user.UserID, tenantID, "", nil, nil)
		return nil
	case errors.Is(err, deps.OTP.Errors.ServiceUnavailable), errors.Is(err, deps.OTP.Errors.EngineNotReady):
		return err
	default:
		deps.Logger.InfoContext(ctx, "password recovery code not sent", "user_id", user.UserID, "error", err)
		deps.EmitAudit(ctx, deps.Events.ResetRequested, false, user.UserID, tenantID, "", err, nil)
		return nil
	}
}

// RunResetPassword verifies a password-recovery code, stores the new password and
// closes every online session of the user. It returns how many sessions were closed.
func RunResetPassword(ctx context.Context, req ResetPasswordRequest, deps PasswordDeps) (int, error) {
	deps = normalizePasswordDeps(deps)
	if deps.FindUser == nil || deps.HashPassword == nil || deps.UpdatePassword == nil {
		return 0, deps.Errors.EngineNotReady
	}
	tenantID := deps.TenantIDFromContext(ctx)

	failed := func(userID string, err error) (int, error) {
		deps.MetricInc(deps.Metrics.ResetFailure)
		deps.EmitAudit(ctx, deps.Events.ResetFailure, false, userID, tenantID, "", err, nil)
		return 0, err
	}

	if err := deps.CheckPolicy(req.NewPassword); err != nil {
		return failed("", fmt.Errorf("%w: %w", deps.Errors.PasswordPolicy, err))
	}

	if _, err := RunVerifyOTP(ctx, OTPVerifyRequest{
		Email:   req.Email,
		Code:    req.Code,
		Purpose: PurposePasswordRecovery,
	}, deps.OTP); err != nil {
		return failed("", err)
	}

	email := internal.NormalizeEmail(req.Email)
	user, err := deps.FindUser(ctx, email)
	if err != nil {
		if deps.Errors.UserNotFound != nil && errors.Is(err, deps.Errors.UserNotFound) {
			return failed("", err)
		}
		deps.Logger.ErrorContext(ctx, "user lookup failed", "error", err)
		return 0, fmt.Errorf("%w: %v", deps.Errors.ServiceUnavailable, err)
	}

	hash, err := deps.HashPassword(req.NewPassword)
	if err != nil {
		deps.Logger.ErrorContext(ctx, "password hash failed", "error", err)
		return 0, fmt.Errorf("%w: %v", deps.Errors.ServiceUnavailable, err)
	}
	if err := deps.UpdatePassword(ctx, user.UserID, hash); err != nil {
		deps.Logger.ErrorContext(ctx, "password update failed", "user_id", user.UserID, "error", err)
		return 0, fmt.Errorf("%w: %v", deps.Errors.ServiceUnavailable, err)
	}

	terminated, err := RunCloseAllSessions(ctx, user.UserID, CloseReasonPassword, deps.Sessions)
	if err != nil {
		return terminated, err
	}

	if deps.Limiter != nil {
		if err := deps.Limiter.ResetLogin(ctx, tenantID, email, deps.ClientIPFromContext(ctx)); err != nil {
			deps.Logger.WarnContext(ctx, "login limiter reset failed", "error", err)
		}
	}

	deps.MetricInc(deps.Metrics.ResetSuccess)
	deps.EmitAudit(ctx, deps.Events.ResetSuccess, true, user.UserID, tenantID, "", nil, func() map[string]string {
		return map[string]string{"sessions_closed": fmt.Sprint(terminated)}
	})
	return terminated, nil
}
