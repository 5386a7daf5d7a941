package goIdentity

import (
	"context"
	"errors"
)

const (
	auditEventOTPSent              = "otp_sent"
	auditEventOTPSendFailed        = "otp_send_failed"
	auditEventOTPRateLimited       = "otp_rate_limited"
	auditEventOTPVerified          = "otp_verified"
	auditEventOTPVerifyFailed      = "otp_verify_failed"
	auditEventOTPExhausted         = "otp_exhausted"
	auditEventOTPInvalidated       = "otp_invalidated"
	auditEventVerifiedEmailClaimed = "verified_email_claimed"
	auditEventLoginSuccess         = "login_success"
	auditEventLoginFailure         = "login_failure"
	auditEventLoginRateLimited     = "login_rate_limited"
	auditEventRefreshSuccess       = "refresh_success"
	auditEventRefreshInvalid       = "refresh_invalid"
	auditEventRefreshRateLimited   = "refresh_rate_limited"
	auditEventPasswordResetRequest = "password_reset_request"
	auditEventPasswordResetConfirm = "password_reset_confirm"
	auditEventPasswordResetFailure = "password_reset_failure"
	auditEventAccountVerified      = "account_verified"
	auditEventSessionCreated       = "session_created"
	auditEventSessionClosed        = "session_closed"
	auditEventSessionsClosedAll    = "sessions_closed_all"
	auditEventSessionExpired       = "session_expired"
	auditEventLogout               = "logout_session"
	auditEventRevokeDenied         = "session_revoke_denied"
)

// AuditErrorCode is the stable error classification written to AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrUnauthorized       AuditErrorCode = "unauthorized"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrTokenExpired       AuditErrorCode = "token_expired"
	auditErrSessionNotFound    AuditErrorCode = "session_not_found"
	auditErrUserNotFound       AuditErrorCode = "user_not_found"
	auditErrAccountDisabled    AuditErrorCode = "account_disabled"
	auditErrAccountUnverified  AuditErrorCode = "account_unverified"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrAttemptsExceeded   AuditErrorCode = "attempts_exceeded"
	auditErrCodeMismatch       AuditErrorCode = "code_mismatch"
	auditErrCodeExpired        AuditErrorCode = "code_not_found_or_expired"
	auditErrDeliveryFailed     AuditErrorCode = "delivery_failed"
	auditErrInvalidRequest     AuditErrorCode = "invalid_request"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	tenantID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil || eventType == "" {
		return
	}
	if tenantID == "" {
		tenantID = tenantIDFromContext(ctx)
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		TenantID:  tenantID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrOTPRateLimited),
		errors.Is(err, ErrLoginRateLimited),
		errors.Is(err, ErrRefreshRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrInvalidRefreshToken),
		errors.Is(err, ErrTokenMalformed),
		errors.Is(err, ErrTokenInvalidSignature),
		errors.Is(err, ErrTokenKindMismatch):
		return auditErrInvalidToken
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrAccountDisabled):
		return auditErrAccountDisabled
	case errors.Is(err, ErrEmailNotVerified):
		return auditErrAccountUnverified
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrOTPAttemptsExhausted):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrOTPCodeMismatch):
		return auditErrCodeMismatch
	case errors.Is(err, ErrOTPNotFoundOrExpired):
		return auditErrCodeExpired
	case errors.Is(err, ErrDeliveryFailed):
		return auditErrDeliveryFailed
	case errors.Is(err, ErrOTPRequestInvalid):
		return auditErrInvalidRequest
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, ErrEngineNotReady):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
