package goIdentity

import "context"

// SendOTP issues a code for (email, purpose) and delivers it through the Notifier.
// Any previous live challenge for the pair is retired. A send inside the resend delay
// fails with *RateLimitedError; a delivery failure leaves no pending challenge.
func (e *Engine) SendOTP(ctx context.Context, email, purpose, displayName string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return e.flows.SendOTP(ctx, OTPSendRequest{Email: email, Purpose: purpose, DisplayName: displayName})
}

// VerifyOTP checks code against the live challenge for (email, purpose). Success
// consumes the challenge and records a verified-email mark. Failures are
// ErrOTPNotFoundOrExpired, ErrOTPAttemptsExhausted or *CodeMismatchError.
func (e *Engine) VerifyOTP(ctx context.Context, email, code, purpose string) (*OTPVerifyResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	return e.flows.VerifyOTP(ctx, OTPVerifyRequest{Email: email, Code: code, Purpose: purpose})
}

// ResendOTP sends a fresh code for the purpose of the newest pending challenge of
// email, or for registration when nothing is pending. The resend delay applies.
func (e *Engine) ResendOTP(ctx context.Context, email, displayName string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return e.flows.ResendOTP(ctx, email, displayName)
}

// OTPStatus describes the newest unexpired challenge of email across purposes.
func (e *Engine) OTPStatus(ctx context.Context, email string) (OTPStatus, error) {
	if !e.ready() {
		return OTPStatus{}, ErrEngineNotReady
	}
	return e.flows.OTPStatus(ctx, email)
}

// InvalidateOTP retires every live challenge for (email, purpose) and reports how
// many there were.
func (e *Engine) InvalidateOTP(ctx context.Context, email, purpose string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	return e.flows.InvalidateOTP(ctx, email, purpose)
}

// CleanupExpiredOTPs deletes challenges past their expiry plus the cleanup grace,
// across all tenants.
func (e *Engine) CleanupExpiredOTPs(ctx context.Context) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	return e.flows.CleanupExpiredOTPs(ctx)
}

// IsEmailVerified reports whether a valid verified-email mark exists.
func (e *Engine) IsEmailVerified(ctx context.Context, email, purpose string) (bool, error) {
	if !e.ready() {
		return false, ErrEngineNotReady
	}
	return e.flows.IsEmailVerified(ctx, email, purpose)
}

// ClaimVerifiedEmail consumes the verified-email mark. Account creation calls it
// once so one verification cannot register two accounts.
func (e *Engine) ClaimVerifiedEmail(ctx context.Context, email, purpose string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return e.flows.ClaimVerifiedEmail(ctx, email, purpose)
}

// InvalidateVerifiedEmail removes marks for the given purposes, or all purposes when
// none are given.
func (e *Engine) InvalidateVerifiedEmail(ctx context.Context, email string, purposes ...string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return e.flows.InvalidateVerifiedEmail(ctx, email, purposes)
}
