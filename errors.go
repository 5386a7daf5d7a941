package goIdentity

import (
	"errors"
	"fmt"

	"github.com/MrEthical07/goIdentity/jwt"
)

var (
	// ErrOTPRateLimited is matched by *RateLimitedError.
	ErrOTPRateLimited = errors.New("otp resend rate limited")
	// ErrDeliveryFailed means the notifier could not send the code. No pending
	// challenge is left behind.
	ErrDeliveryFailed = errors.New("otp delivery failed")
	// ErrOTPNotFoundOrExpired means there is no live challenge to verify against.
	ErrOTPNotFoundOrExpired = errors.New("otp not found or expired")
	// ErrOTPAttemptsExhausted means the challenge is terminal after too many wrong codes.
	ErrOTPAttemptsExhausted = errors.New("otp attempts exhausted")
	// ErrOTPCodeMismatch is matched by *CodeMismatchError.
	ErrOTPCodeMismatch = errors.New("otp code mismatch")
	// ErrOTPRequestInvalid covers malformed email, purpose or code input.
	ErrOTPRequestInvalid = errors.New("invalid otp request")

	ErrTokenExpired          = jwt.ErrTokenExpired
	ErrTokenMalformed        = jwt.ErrTokenMalformed
	ErrTokenInvalidSignature = jwt.ErrTokenInvalidSignature
	ErrTokenKindMismatch     = jwt.ErrTokenKindMismatch

	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrAccountDisabled     = errors.New("account disabled")
	ErrEmailNotVerified    = errors.New("email not verified")
	ErrLoginRateLimited    = errors.New("login rate limited")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrRefreshRateLimited  = errors.New("refresh rate limited")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrSessionNotFound     = errors.New("session not found")
	ErrPasswordPolicy      = errors.New("password policy violation")

	// ErrUserNotFound is returned by UserDirectory implementations for unknown emails.
	ErrUserNotFound = errors.New("user not found")

	// ErrServiceUnavailable wraps store and notifier infrastructure failures. Callers
	// may retry with backoff.
	ErrServiceUnavailable = errors.New("service unavailable")
	// ErrEngineNotReady is returned by methods called on a nil or closed Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// RateLimitedError reports a send refused by the resend delay or the per-window
// volume throttle. For the resend delay RetryAfterSeconds is in [1, delay]; for the
// throttle it is the window length.
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("otp resend rate limited: retry after %ds", e.RetryAfterSeconds)
}

func (e *RateLimitedError) Is(target error) bool { return target == ErrOTPRateLimited }

// CodeMismatchError reports a wrong code on a challenge that still accepts guesses.
type CodeMismatchError struct {
	AttemptsRemaining int
}

func (e *CodeMismatchError) Error() string {
	return fmt.Sprintf("otp code mismatch: %d attempts remaining", e.AttemptsRemaining)
}

func (e *CodeMismatchError) Is(target error) bool { return target == ErrOTPCodeMismatch }
