package flows

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/MrEthical07/goIdentity/internal"
	"github.com/MrEthical07/goIdentity/internal/stores"
)

const (
	PurposeRegistration      = "registration"
	PurposePasswordRecovery  = "password-recovery"
	PurposeLogin             = "login"
	PurposeEmailVerification = "email-verification"
)

// Purposes lists every OTP purpose in resend/status scan order.
var Purposes = []string{
	PurposeRegistration,
	PurposePasswordRecovery,
	PurposeLogin,
	PurposeEmailVerification,
}

// ValidPurpose reports whether p is a known OTP purpose.
func ValidPurpose(p string) bool {
	for _, known := range Purposes {
		if p == known {
			return true
		}
	}
	return false
}

// OTPStore is the subset of stores.OTPStore used by OTP flows.
type OTPStore interface {
	Create(ctx context.Context, ch *stores.OTPChallenge, minGap time.Duration) error
	FindLatest(ctx context.Context, tenantID, email, purpose string) (*stores.OTPChallenge, error)
	FindActive(ctx context.Context, tenantID, email, purpose string, now time.Time) (*stores.OTPChallenge, error)
	RetireAllActive(ctx context.Context, tenantID, email, purpose string, now time.Time) (int, error)
	Retire(ctx context.Context, tenantID, id string, exhausted bool, now time.Time) error
	IncrementAttempts(ctx context.Context, tenantID, id string, now time.Time, max int) (int, bool, error)
	MarkUsed(ctx context.Context, tenantID, id string, now time.Time) error
	Delete(ctx context.Context, ch *stores.OTPChallenge) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// VerifiedEmailStore is the subset of stores.VerifiedEmailStore used by OTP flows.
type VerifiedEmailStore interface {
	Upsert(ctx context.Context, mark *stores.VerifiedEmail) error
	Get(ctx context.Context, tenantID, email, purpose string) (*stores.VerifiedEmail, error)
	Consume(ctx context.Context, tenantID, email, purpose string, now time.Time) (*stores.VerifiedEmail, error)
	Invalidate(ctx context.Context, tenantID, email string, purposes ...string) error
}

// OTPPolicy holds the lifecycle limits. Zero values are replaced by defaults.
type OTPPolicy struct {
	DefaultTTL       time.Duration
	TTLByPurpose     map[string]time.Duration
	MaxAttempts      int
	ResendDelay      time.Duration
	VerifiedEmailTTL time.Duration
	CodeLength       int
}

// TTL returns the challenge lifetime for purpose.
func (p OTPPolicy) TTL(purpose string) time.Duration {
	if ttl, ok := p.TTLByPurpose[purpose]; ok && ttl > 0 {
		return ttl
	}
	return p.DefaultTTL
}

func (p OTPPolicy) normalize() OTPPolicy {
	if p.DefaultTTL <= 0 {
		p.DefaultTTL = 10 * time.Minute
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	if p.ResendDelay < 0 {
		p.ResendDelay = 0
	}
	if p.VerifiedEmailTTL <= 0 {
		p.VerifiedEmailTTL = 24 * time.Hour
	}
	if p.CodeLength <= 0 {
		p.CodeLength = 6
	}
	return p
}

// OTPMetrics carries metric IDs used by OTP flows.
type OTPMetrics struct {
	Sent              int
	SendRateLimited   int
	DeliveryFailed    int
	VerifySuccess     int
	VerifyFailure     int
	AttemptsExhausted int
	Invalidated       int
}

// OTPEvents carries audit event names used by OTP flows.
type OTPEvents struct {
	Sent          string
	SendFailed    string
	RateLimited   string
	Verified      string
	VerifyFailed  string
	Exhausted     string
	Invalidated   string
	EmailConsumed string
}

// OTPErrors carries host-level errors used by OTP flows.
type OTPErrors struct {
	EngineNotReady     error
	RequestInvalid     error
	NotFoundOrExpired  error
	AttemptsExhausted  error
	DeliveryFailed     error
	ServiceUnavailable error
	RateLimited        func(retryAfterSeconds int) error
	CodeMismatch       func(attemptsRemaining int) error
}

// OTPDeps captures OTP lifecycle dependencies.
type OTPDeps struct {
	Runtime
	Policy OTPPolicy

	ClientIPFromContext func(context.Context) string
	GenerateCode        func() (string, error)
	NewID               func() (string, error)
	HashCode            func(string) [32]byte
	Deliver             func(ctx context.Context, email, code, purpose, displayName string) error

	// CheckSendLimit and CheckVerifyLimit are optional volume throttles.
	CheckSendLimit   func(ctx context.Context, tenantID, email, ip string) error
	CheckVerifyLimit func(ctx context.Context, tenantID, email, ip string) error
	MapLimiterError  func(error) error

	Store         OTPStore
	VerifiedEmail VerifiedEmailStore

	Metrics OTPMetrics
	Events  OTPEvents
	Errors  OTPErrors
}

func normalizeOTPDeps(deps OTPDeps) OTPDeps {
	deps.Runtime = deps.Runtime.normalize()
	deps.Policy = deps.Policy.normalize()
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.MapLimiterError == nil {
		deps.MapLimiterError = func(err error) error { return err }
	}
	if deps.Errors.RateLimited == nil {
		deps.Errors.RateLimited = func(int) error { return deps.Errors.RequestInvalid }
	}
	if deps.Errors.CodeMismatch == nil {
		deps.Errors.CodeMismatch = func(int) error { return deps.Errors.RequestInvalid }
	}
	return deps
}

func otpReady(deps OTPDeps) bool {
	return deps.Store != nil && deps.VerifiedEmail != nil &&
		deps.GenerateCode != nil && deps.NewID != nil && deps.HashCode != nil && deps.Deliver != nil
}

// OTPSendRequest is the input of RunSendOTP.
type OTPSendRequest struct {
	Email       string
	Purpose     string
	DisplayName string
}

// OTPVerifyRequest is the input of RunVerifyOTP.
type OTPVerifyRequest struct {
	Email   string
	Code    string
	Purpose string
}

// OTPVerifyResult describes a successful verification.
type OTPVerifyResult struct {
	Email      string
	Purpose    string
	VerifiedAt time.Time
	ExpiresAt  time.Time
}

// OTPStatus is a read-only snapshot of the newest unexpired challenge of an email.
type OTPStatus struct {
	Exists            bool
	Purpose           string
	Verified          bool
	Exhausted         bool
	Attempts          int
	AttemptsRemaining int
	ExpiresAt         time.Time
}

// ValidEmail is a shape check only: one '@' with a non-empty local part and a dotted
// domain.
func ValidEmail(email string) bool {
	if email == "" || len(email) > 254 || strings.ContainsAny(email, " \t\r\n") {
		return false
	}
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
		return false
	}
	dot := strings.LastIndexByte(domain, '.')
	return dot > 0 && dot < len(domain)-1
}

func validCode(code string, length int) bool {
	if len(code) != length {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// RunSendOTP issues a new challenge for (email, purpose) and delivers its code.
func RunSendOTP(ctx context.Context, req OTPSendRequest, deps OTPDeps) error {
	deps = normalizeOTPDeps(deps)
	if !otpReady(deps) {
		return deps.Errors.EngineNotReady
	}

	email := internal.NormalizeEmail(req.Email)
	if !ValidEmail(email) || !ValidPurpose(req.Purpose) {
		return deps.Errors.RequestInvalid
	}
	tenantID := deps.TenantIDFromContext(ctx)
	now := deps.Now()

	if deps.CheckSendLimit != nil {
		if err := deps.CheckSendLimit(ctx, tenantID, email, deps.ClientIPFromContext(ctx)); err != nil {
			mapped := deps.MapLimiterError(err)
			deps.MetricInc(deps.Metrics.SendRateLimited)
			deps.EmitAudit(ctx, deps.Events.RateLimited, false, "", tenantID, "", mapped, purposeMeta(req.Purpose))
			return mapped
		}
	}

	code, err := deps.GenerateCode()
	if err != nil {
		deps.Logger.ErrorContext(ctx, "otp code generation failed", "error", err)
		return fmt.Errorf("%w: %v", deps.Errors.ServiceUnavailable, err)
	}
	id, err := deps.NewID()
	if err != nil {
		deps.Logger.ErrorContext(ctx, "otp id generation failed", "error", err)
		return fmt.Errorf("%w: %v", deps.Errors.ServiceUnavailable, err)
	}

	ch := &stores.OTPChallenge{
		ID:        id,
		TenantID:  tenantID,
		Email:     email,
		Purpose:   req.Purpose,
		CodeHash:  deps.HashCode(code),
		ExpiresAt: now.Add(deps.Policy.TTL(req.Purpose)),
		CreatedAt: now,
	}
	if err := deps.Store.Create(ctx, ch, deps.Policy.ResendDelay); err != nil {
		var recent *stores.RecentSiblingError
		if errors.As(err, &recent) {
			limited := deps.Errors.RateLimited(retryAfterSeconds(deps.Policy.ResendDelay, now.Sub(recent.CreatedAt)))
			deps.MetricInc(deps.Metrics.SendRateLimited)
			deps.EmitAudit(ctx, deps.Events.RateLimited, false, "", tenantID, "", limited, purposeMeta(req.Purpose))
			return limited
		}
		deps.Logger.ErrorContext(ctx, "otp create failed", "tenant_id", tenantID, "purpose", req.Purpose, "error", err)
		return fmt.Errorf("%w: %v", deps.Errors.ServiceUnavailable, err)
	}

	if err := deps.Deliver(ctx, email, code, req.Purpose, req.DisplayName); err != nil {
		if delErr := deps.Store.Delete(ctx, ch); delErr != nil {
			deps.Logger.ErrorContext(ctx, "otp rollback failed", "challenge_id", ch.ID, "error", delErr)
		}
		deps.MetricInc(deps.Metrics.DeliveryFailed)
		deps.EmitAudit(ctx, deps.Events.SendFailed, false, "", tenantID, "", err, purposeMeta(req.Purpose))
		return fmt.Errorf("%w: %v", deps.Errors.DeliveryFailed, err)
	}

	deps.MetricInc(deps.Metrics.Sent)
	deps.EmitAudit(ctx, deps.Events.Sent, true, "", tenantID, "", nil, purposeMeta(req.Purpose))
	return nil
}

// retryAfterSeconds rounds the remaining resend window up and keeps it in [1, delay].
func retryAfterSeconds(delay, elapsed time.Duration) int {
	maxSeconds := int(math.Ceil(delay.Seconds()))
	if maxSeconds < 1 {
		maxSeconds = 1
	}
	secs := int(math.Ceil((delay - elapsed).Seconds()))
	if secs < 1 {
		secs = 1
	}
	if secs > maxSeconds {
		secs = maxSeconds
	}
	return secs
}

// RunVerifyOTP checks code against the newest challenge for (email, purpose) and,
// on success, consumes it and records a verified-email mark.
func RunVerifyOTP(ctx context.Context, req OTPVerifyRequest, deps OTPDeps) (*OTPVerifyResult, error) {
	deps = normalizeOTPDeps(deps)
	if !otpReady(deps) {
		return nil, deps.Errors.EngineNotReady
	}

	email := internal.NormalizeEmail(req.Email)
	code := strings.TrimSpace(req.Code)
	if !ValidEmail(email) || !ValidPurpose(req.Purpose) || !validCode(code, deps.Policy.CodeLength) {
		return nil, deps.Errors.RequestInvalid
	}
	tenantID := deps.TenantIDFromContext(ctx)
	now := deps.Now()

	fail := func(err error, metric int, event string) (*OTPVerifyResult, error) {
		deps.MetricInc(metric)
		deps.EmitAudit(ctx, event, false, "", tenantID, "", err, purposeMeta(req.Purpose))
		return nil, err
	}
	unavailable := func(err error) (*OTPVerifyResult, error) {
		deps.Logger.ErrorContext(ctx, "otp store failed", "tenant_id", tenantID, "purpose", req.Purpose, "error", err)
		return nil, fmt.Errorf("%w: %v", deps.Errors.ServiceUnavailable, err)
	}

	if deps.CheckVerifyLimit != nil {
		if err := deps.CheckVerifyLimit(ctx, tenantID, email, deps.ClientIPFromContext(ctx)); err != nil {
			return fail(deps.MapLimiterError(err), deps.Metrics.VerifyFailure, deps.Events.RateLimited)
		}
	}

	ch, err := deps.Store.FindLatest(ctx, tenantID, email, req.Purpose)
	switch {
	case errors.Is(err, stores.ErrOTPNotFound):
		return fail(deps.Errors.NotFoundOrExpired, deps.Metrics.VerifyFailure, deps.Events.VerifyFailed)
	case err != nil:
		return unavailable(err)
	}
	if !now.Before(ch.ExpiresAt) {
		return fail(deps.Errors.NotFoundOrExpired, deps.Metrics.VerifyFailure, deps.Events.VerifyFailed)
	}
	if ch.Exhausted {
		return fail(deps.Errors.AttemptsExhausted, deps.Metrics.AttemptsExhausted, deps.Events.Exhausted)
	}
	if ch.Verified {
		return fail(deps.Errors.NotFoundOrExpired, deps.Metrics.VerifyFailure, deps.Events.VerifyFailed)
	}

	// Exhaustion is decided before the code is compared.
	if ch.Attempts >= deps.Policy.MaxAttempts {
		if err := deps.Store.Retire(ctx, tenantID, ch.ID, true, now); err != nil {
			return unavailable(err)
		}
		return fail(deps.Errors.AttemptsExhausted, deps.Metrics.AttemptsExhausted, deps.Events.Exhausted)
	}

	submitted := deps.HashCode(code)
	if subtle.ConstantTimeCompare(submitted[:], ch.CodeHash[:]) != 1 {
		attempts, exhausted, err := deps.Store.IncrementAttempts(ctx, tenantID, ch.ID, now, deps.Policy.MaxAttempts)
		switch {
		case errors.Is(err, stores.ErrOTPExhausted):
			return fail(deps.Errors.AttemptsExhausted, deps.Metrics.AttemptsExhausted, deps.Events.Exhausted)
		case errors.Is(err, stores.ErrOTPNotFound), errors.Is(err, stores.ErrOTPNotActive):
			return fail(deps.Errors.NotFoundOrExpired, deps.Metrics.VerifyFailure, deps.Events.VerifyFailed)
		case err != nil:
			return unavailable(err)
		}
		if exhausted {
			return fail(deps.Errors.AttemptsExhausted, deps.Metrics.AttemptsExhausted, deps.Events.Exhausted)
		}
		return fail(deps.Errors.CodeMismatch(deps.Policy.MaxAttempts-attempts), deps.Metrics.VerifyFailure, deps.Events.VerifyFailed)
	}

	err = deps.Store.MarkUsed(ctx, tenantID, ch.ID, now)
	switch {
	case errors.Is(err, stores.ErrOTPExhausted):
		return fail(deps.Errors.AttemptsExhausted, deps.Metrics.AttemptsExhausted, deps.Events.Exhausted)
	case errors.Is(err, stores.ErrOTPNotFound), errors.Is(err, stores.ErrOTPNotActive):
		return fail(deps.Errors.NotFoundOrExpired, deps.Metrics.VerifyFailure, deps.Events.VerifyFailed)
	case err != nil:
		return unavailable(err)
	}

	mark := &stores.VerifiedEmail{
		TenantID:   tenantID,
		Email:      email,
		Purpose:    req.Purpose,
		IsVerified: true,
		VerifiedAt: now,
		ExpiresAt:  now.Add(deps.Policy.VerifiedEmailTTL),
	}
	if err := deps.VerifiedEmail.Upsert(ctx, mark); err != nil {
		return unavailable(err)
	}

	deps.MetricInc(deps.Metrics.VerifySuccess)
	deps.EmitAudit(ctx, deps.Events.Verified, true, "", tenantID, "", nil, purposeMeta(req.Purpose))
	return &OTPVerifyResult{
		Email:      email,
		Purpose:    req.Purpose,
		VerifiedAt: mark.VerifiedAt,
		ExpiresAt:  mark.ExpiresAt,
	}, nil
}

// RunResendOTP re-sends a code for the purpose of the newest pending challenge of
// email, or for registration when nothing is pending. The resend window still applies.
func RunResendOTP(ctx context.Context, email, displayName string, deps OTPDeps) error {
	deps = normalizeOTPDeps(deps)
	if !otpReady(deps) {
		return deps.Errors.EngineNotReady
	}
	email = internal.NormalizeEmail(email)
	if !ValidEmail(email) {
		return deps.Errors.RequestInvalid
	}
	tenantID := deps.TenantIDFromContext(ctx)
	now := deps.Now()

	purpose := PurposeRegistration
	var newest time.Time
	for _, p := range Purposes {
		ch, err := deps.Store.FindActive(ctx, tenantID, email, p, now)
		if errors.Is(err, stores.ErrOTPNotFound) {
			continue
		}
		if err != nil {
			deps.Logger.ErrorContext(ctx, "otp lookup failed", "tenant_id", tenantID, "error", err)
			return fmt.Errorf("%w: %v", deps.Errors.ServiceUnavailable, err)
		}
		if ch.CreatedAt.After(newest) {
			newest = ch.CreatedAt
			purpose = p
		}
	}

	return RunSendOTP(ctx, OTPSendRequest{Email: email, Purpose: purpose, DisplayName: displayName}, deps)
}

// RunOTPStatus reports the newest unexpired challenge of email across purposes.
func RunOTPStatus(ctx context.Context, email string, deps OTPDeps) (OTPStatus, error) {
	deps = normalizeOTPDeps(deps)
	if !otpReady(deps) {
		return OTPStatus{}, deps.Errors.EngineNotReady
	}
	email = internal.NormalizeEmail(email)
	if !ValidEmail(email) {
		return OTPStatus{}, deps.Errors.RequestInvalid
	}
	tenantID := deps.TenantIDFromContext(ctx)
	now := deps.Now()

	var latest *stores.OTPChallenge
	for _, p := range Purposes {
		ch, err := deps.Store.FindLatest(ctx, tenantID, email, p)
		if errors.Is(err, stores.ErrOTPNotFound) {
			continue
		}
		if err != nil {
			deps.Logger.ErrorContext(ctx, "otp lookup failed", "tenant_id", tenantID, "error", err)
			return OTPStatus{}, fmt.Errorf("%w: %v", deps.Errors.ServiceUnavailable, err)
		}
		if !now.Before(ch.ExpiresAt) {
			continue
		}
		if latest == nil || ch.CreatedAt.After(latest.CreatedAt) {
			latest = ch
		}
	}
	if latest == nil {
		return OTPStatus{}, nil
	}

	remaining := deps.Policy.MaxAttempts - latest.Attempts
	if remaining < 0 || latest.Verified {
		remaining = 0
	}
	return OTPStatus{
		Exists:            true,
		Purpose:           latest.Purpose,
		Verified:          latest.Verified && !latest.Exhausted,
		Exhausted:         latest.Exhausted,
		Attempts:          latest.Attempts,
		AttemptsRemaining: remaining,
		ExpiresAt:         latest.ExpiresAt,
	}, nil
}

// RunInvalidateOTP retires the active challenges of email for purpose, or for every
// purpose when purpose is empty. It returns how many challenges were retired.
func RunInvalidateOTP(ctx context.Context, email, purpose string, deps OTPDeps) (int, error) {
	deps = normalizeOTPDeps(deps)
	if deps.Store == nil {
		return 0, deps.Errors.EngineNotReady
	}
	email = internal.NormalizeEmail(email)
	if !ValidEmail(email) || (purpose != "" && !ValidPurpose(purpose)) {
		return 0, deps.Errors.RequestInvalid
	}
	tenantID := deps.TenantIDFromContext(ctx)
	now := deps.Now()

	purposes := Purposes
	if purpose != "" {
		purposes = []string{purpose}
	}
	total := 0
	for _, p := range purposes {
		n, err := deps.Store.RetireAllActive(ctx, tenantID, email, p, now)
		if err != nil {
			deps.Logger.ErrorContext(ctx, "otp invalidate failed", "tenant_id", tenantID, "purpose", p, "error", err)
			return total, fmt.Errorf("%w: %v", deps.Errors.ServiceUnavailable, err)
		}
		total += n
	}
	if total > 0 {
		deps.MetricInc(deps.Metrics.Invalidated)
		deps.EmitAudit(ctx, deps.Events.Invalidated, true, "", tenantID, "", nil, func() map[string]string {
			return map[string]string{"purpose": purpose, "count": fmt.Sprint(total)}
		})
	}
	return total, nil
}

// RunCleanupExpiredOTPs physically removes expired challenges in every tenant.
func RunCleanupExpiredOTPs(ctx context.Context, deps OTPDeps) (int, error) {
	deps = normalizeOTPDeps(deps)
	if deps.Store == nil {
		return 0, deps.Errors.EngineNotReady
	}
	n, err := deps.Store.DeleteExpired(ctx, deps.Now())
	if err != nil {
		deps.Logger.ErrorContext(ctx, "otp cleanup failed", "removed", n, "error", err)
		return n, fmt.Errorf("%w: %v", deps.Errors.ServiceUnavailable, err)
	}
	return n, nil
}

// RunCheckVerifiedEmail reports whether a valid verified-email mark exists.
func RunCheckVerifiedEmail(ctx context.Context, email, purpose string, deps OTPDeps) (bool, error) {
	deps = normalizeOTPDeps(deps)
	if deps.VerifiedEmail == nil {
		return false, deps.Errors.EngineNotReady
	}
	email = internal.NormalizeEmail(email)
	if !ValidEmail(email) || !ValidPurpose(purpose) {
		return false, deps.Errors.RequestInvalid
	}
	mark, err := deps.VerifiedEmail.Get(ctx, deps.TenantIDFromContext(ctx), email, purpose)
	switch {
	case errors.Is(err, stores.ErrVerifiedEmailNotFound):
		return false, nil
	case err != nil:
		deps.Logger.ErrorContext(ctx, "verified email lookup failed", "error", err)
		return false, fmt.Errorf("%w: %v", deps.Errors.ServiceUnavailable, err)
	}
	return mark.Valid(deps.Now()), nil
}

// RunClaimVerifiedEmail consumes a valid verified-email mark and retires any challenge
// still pending for the key, so the code cannot be replayed against a later
// registration. A missing or expired mark yields NotFoundOrExpired.
func RunClaimVerifiedEmail(ctx context.Context, email, purpose string, deps OTPDeps) error {
	deps = normalizeOTPDeps(deps)
	if deps.VerifiedEmail == nil || deps.Store == nil {
		return deps.Errors.EngineNotReady
	}
	email = internal.NormalizeEmail(email)
	if !ValidEmail(email) || !ValidPurpose(purpose) {
		return deps.Errors.RequestInvalid
	}
	tenantID := deps.TenantIDFromContext(ctx)
	now := deps.Now()

	_, err := deps.VerifiedEmail.Consume(ctx, tenantID, email, purpose, now)
	switch {
	case errors.Is(err, stores.ErrVerifiedEmailNotFound):
		return deps.Errors.NotFoundOrExpired
	case err != nil:
		deps.Logger.ErrorContext(ctx, "verified email consume failed", "error", err)
		return fmt.Errorf("%w: %v", deps.Errors.ServiceUnavailable, err)
	}
	if _, err := deps.Store.RetireAllActive(ctx, tenantID, email, purpose, now); err != nil {
		deps.Logger.WarnContext(ctx, "otp retire after claim failed", "purpose", purpose, "error", err)
	}
	deps.EmitAudit(ctx, deps.Events.EmailConsumed, true, "", tenantID, "", nil, purposeMeta(purpose))
	return nil
}

// RunInvalidateVerifiedEmail drops the verified-email marks of email for the given
// purposes, or for every purpose when none is given.
func RunInvalidateVerifiedEmail(ctx context.Context, email string, purposes []string, deps OTPDeps) error {
	deps = normalizeOTPDeps(deps)
	if deps.VerifiedEmail == nil {
		return deps.Errors.EngineNotReady
	}
	email = internal.NormalizeEmail(email)
	if !ValidEmail(email) {
		return deps.Errors.RequestInvalid
	}
	if len(purposes) == 0 {
		purposes = Purposes
	}
	for _, p := range purposes {
		if !ValidPurpose(p) {
			return deps.Errors.RequestInvalid
		}
	}
	if err := deps.VerifiedEmail.Invalidate(ctx, deps.TenantIDFromContext(ctx), email, purposes...); err != nil {
		deps.Logger.ErrorContext(ctx, "verified email invalidate failed", "error", err)
		return fmt.Errorf("%w: %v", deps.Errors.ServiceUnavailable, err)
	}
	return nil
}

func purposeMeta(purpose string) func() map[string]string {
	return func() map[string]string {
		return map[string]string{"purpose": purpose}
	}
}
