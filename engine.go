package goIdentity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goIdentity/internal"
	"github.com/MrEthical07/goIdentity/internal/flows"
	"github.com/MrEthical07/goIdentity/internal/limiters"
	"github.com/MrEthical07/goIdentity/internal/rate"
	"github.com/MrEthical07/goIdentity/internal/stores"
	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/password"
	"github.com/MrEthical07/goIdentity/session"
)

// Engine is the identity core: OTP issuance and verification, login, token refresh,
// password recovery and the session lifecycle. Build one with New().Build(). It is
// safe for concurrent use; Close releases the background dispatchers.
type Engine struct {
	config Config
	now    func() time.Time
	logger *slog.Logger

	directory  UserDirectory
	notifier   Notifier
	rolePolicy RolePolicy

	codes     *internal.CodeGenerator
	hasher    *password.Hasher
	dummyHash string
	pwPolicy  password.Policy
	codec     *jwt.Codec

	otpStore      *stores.OTPStore
	verifiedStore *stores.VerifiedEmailStore
	sessionStore  *session.Store
	otpLimiter    *limiters.OTPLimiter
	rateLimiter   *rate.Limiter

	audit    *auditDispatcher
	metrics  *Metrics
	activity *activityDispatcher

	flows  flows.Service
	closed atomic.Bool
}

// Close drains the audit and activity dispatchers. Calls after Close return
// ErrEngineNotReady. The Redis client is owned by the caller and stays open.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if !e.closed.CompareAndSwap(false, true) {
		return
	}
	e.activity.Close()
	e.audit.Close()
}

// AuditDropped reports how many audit events were dropped under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// ActivityDropped reports how many session touches were dropped because the
// activity buffer was full.
func (e *Engine) ActivityDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.activity.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return emptySnapshot()
	}
	return e.metrics.Snapshot()
}

// Ping checks the Redis connection.
func (e *Engine) Ping(ctx context.Context) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := e.sessionStore.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	return nil
}

func (e *Engine) ready() bool {
	return e != nil && !e.closed.Load() && e.flows.Initialized()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) buildFlows() flows.Service {
	rt := flows.Runtime{
		TenantIDFromContext: tenantIDFromContext,
		Now:                 e.now,
		Logger:              e.logger,
		MetricInc:           func(id int) { e.metricInc(MetricID(id)) },
		EmitAudit:           e.emitAudit,
	}

	otp := flows.OTPDeps{
		Runtime: rt,
		Policy: flows.OTPPolicy{
			DefaultTTL:       e.config.OTP.DefaultTTL,
			TTLByPurpose:     e.config.OTP.TTLByPurpose,
			MaxAttempts:      e.config.OTP.MaxAttempts,
			ResendDelay:      e.config.OTP.ResendDelay,
			VerifiedEmailTTL: e.config.OTP.VerifiedEmailTTL,
			CodeLength:       e.config.OTP.CodeLength,
		},
		ClientIPFromContext: clientIPFromContext,
		GenerateCode:        e.codes.Generate,
		NewID:               internal.NewID,
		HashCode:            internal.HashCode,
		Deliver:             e.notifier.SendCode,
		CheckSendLimit:      e.otpLimiter.CheckSend,
		CheckVerifyLimit:    e.otpLimiter.CheckVerify,
		MapLimiterError:     e.mapOTPLimiterError,
		Store:               e.otpStore,
		VerifiedEmail:       e.verifiedStore,
		Metrics: flows.OTPMetrics{
			Sent:              int(MetricOTPSent),
			SendRateLimited:   int(MetricOTPSendRateLimited),
			DeliveryFailed:    int(MetricOTPDeliveryFailed),
			VerifySuccess:     int(MetricOTPVerifySuccess),
			VerifyFailure:     int(MetricOTPVerifyFailure),
			AttemptsExhausted: int(MetricOTPAttemptsExhausted),
			Invalidated:       int(MetricOTPInvalidated),
		},
		Events: flows.OTPEvents{
			Sent:          auditEventOTPSent,
			SendFailed:    auditEventOTPSendFailed,
			RateLimited:   auditEventOTPRateLimited,
			Verified:      auditEventOTPVerified,
			VerifyFailed:  auditEventOTPVerifyFailed,
			Exhausted:     auditEventOTPExhausted,
			Invalidated:   auditEventOTPInvalidated,
			EmailConsumed: auditEventVerifiedEmailClaimed,
		},
		Errors: flows.OTPErrors{
			EngineNotReady:     ErrEngineNotReady,
			RequestInvalid:     ErrOTPRequestInvalid,
			NotFoundOrExpired:  ErrOTPNotFoundOrExpired,
			AttemptsExhausted:  ErrOTPAttemptsExhausted,
			DeliveryFailed:     ErrDeliveryFailed,
			ServiceUnavailable: ErrServiceUnavailable,
			RateLimited: func(retryAfter int) error {
				return &RateLimitedError{RetryAfterSeconds: retryAfter}
			},
			CodeMismatch: func(remaining int) error {
				return &CodeMismatchError{AttemptsRemaining: remaining}
			},
		},
	}

	sessions := flows.SessionDeps{
		Runtime:                rt,
		RequestInfoFromContext: requestInfoFromContext,
		NewID:                  internal.NewID,
		Store:                  e.sessionStore,
		TokenVersion:           e.config.Session.TokenVersion,
		SweepBatchSize:         e.config.Session.SweepBatchSize,
		HistoryLimit:           e.config.Session.HistoryLimit,
		Metrics: flows.SessionMetrics{
			Created:     int(MetricSessionCreated),
			Closed:      int(MetricSessionClosed),
			Expired:     int(MetricSessionExpired),
			TouchFailed: int(MetricSessionTouchFailed),
		},
		Events: flows.SessionEvents{
			Created:   auditEventSessionCreated,
			Closed:    auditEventSessionClosed,
			ClosedAll: auditEventSessionsClosedAll,
			Expired:   auditEventSessionExpired,
		},
		Errors: flows.SessionErrors{
			EngineNotReady:     ErrEngineNotReady,
			NotFound:           ErrSessionNotFound,
			ServiceUnavailable: ErrServiceUnavailable,
		},
	}

	return flows.New(flows.Deps{
		OTP:      otp,
		Sessions: sessions,
		Login: flows.LoginDeps{
			Runtime:              rt,
			ClientIPFromContext:  clientIPFromContext,
			FindUser:             e.findUser,
			RecordLogin:          e.directory.RecordLogin,
			UpdatePassword:       e.directory.UpdatePassword,
			VerifyPassword:       e.hasher.Verify,
			HashPassword:         e.hasher.Hash,
			DummyHash:            e.dummyHash,
			UpgradeOnLogin:       e.config.Password.UpgradeOnLogin,
			RequiresVerification: e.rolePolicy.RequiresVerification,
			IssueTokens:          e.issueTokens,
			Limiter:              e.rateLimiter,
			Sessions:             sessions,
			Metrics: flows.LoginMetrics{
				Success:     int(MetricLoginSuccess),
				Failure:     int(MetricLoginFailure),
				RateLimited: int(MetricLoginRateLimited),
				Rehashed:    int(MetricPasswordRehashed),
			},
			Events: flows.LoginEvents{
				Success:     auditEventLoginSuccess,
				Failure:     auditEventLoginFailure,
				RateLimited: auditEventLoginRateLimited,
			},
			Errors: flows.LoginErrors{
				EngineNotReady:     ErrEngineNotReady,
				InvalidCredentials: ErrInvalidCredentials,
				AccountDisabled:    ErrAccountDisabled,
				EmailNotVerified:   ErrEmailNotVerified,
				RateLimited:        ErrLoginRateLimited,
				UserNotFound:       ErrUserNotFound,
				ServiceUnavailable: ErrServiceUnavailable,
			},
		},
		Refresh: flows.RefreshDeps{
			Runtime:     rt,
			Codec:       e.codec,
			RateLimiter: e.rateLimiter,
			Sessions:    sessions,
			Metrics: flows.RefreshMetrics{
				Success:     int(MetricRefreshSuccess),
				Failure:     int(MetricRefreshFailure),
				RateLimited: int(MetricRefreshRateLimited),
			},
			Events: flows.RefreshEvents{
				Success:     auditEventRefreshSuccess,
				Failure:     auditEventRefreshInvalid,
				RateLimited: auditEventRefreshRateLimited,
			},
			Errors: flows.RefreshErrors{
				EngineNotReady:      ErrEngineNotReady,
				InvalidRefreshToken: ErrInvalidRefreshToken,
				RateLimited:         ErrRefreshRateLimited,
			},
		},
		Password: flows.PasswordDeps{
			Runtime:             rt,
			ClientIPFromContext: clientIPFromContext,
			CheckPolicy:         e.pwPolicy.Check,
			FindUser:            e.findUser,
			HashPassword:        e.hasher.Hash,
			UpdatePassword:      e.directory.UpdatePassword,
			Limiter:             e.rateLimiter,
			OTP:                 otp,
			Sessions:            sessions,
			Metrics: flows.PasswordMetrics{
				ResetRequested: int(MetricPasswordResetRequest),
				ResetSuccess:   int(MetricPasswordResetSuccess),
				ResetFailure:   int(MetricPasswordResetFailure),
			},
			Events: flows.PasswordEvents{
				ResetRequested: auditEventPasswordResetRequest,
				ResetSuccess:   auditEventPasswordResetConfirm,
				ResetFailure:   auditEventPasswordResetFailure,
			},
			Errors: flows.PasswordErrors{
				EngineNotReady:     ErrEngineNotReady,
				PasswordPolicy:     ErrPasswordPolicy,
				UserNotFound:       ErrUserNotFound,
				ServiceUnavailable: ErrServiceUnavailable,
			},
		},
		Account: flows.AccountDeps{
			Runtime:        rt,
			FindUser:       e.findUser,
			MarkVerified:   e.directory.MarkVerified,
			OTP:            otp,
			VerifiedMetric: int(MetricAccountVerified),
			Events:         flows.AccountEvents{Verified: auditEventAccountVerified},
			Errors: flows.AccountErrors{
				EngineNotReady:     ErrEngineNotReady,
				UserNotFound:       ErrUserNotFound,
				ServiceUnavailable: ErrServiceUnavailable,
			},
		},
		Logout: flows.LogoutDeps{
			Runtime:      rt,
			VerifyAccess: e.verifyAccess,
			Sessions:     sessions,
			Events: flows.LogoutEvents{
				Logout:       auditEventLogout,
				RevokeDenied: auditEventRevokeDenied,
			},
			Errors: flows.LogoutErrors{
				EngineNotReady: ErrEngineNotReady,
				Unauthorized:   ErrUnauthorized,
			},
		},
		Validate: flows.ValidateDeps{
			VerifyAccess:       e.verifyAccess,
			RequireLiveSession: e.config.Session.RequireLiveSession,
			Sessions:           sessions,
			Errors: flows.ValidateErrors{
				EngineNotReady:     ErrEngineNotReady,
				Unauthorized:       ErrUnauthorized,
				ServiceUnavailable: ErrServiceUnavailable,
			},
		},
	})
}

// findUser adapts the directory to the flow record, resolving the role through the
// role policy.
func (e *Engine) findUser(ctx context.Context, email string) (flows.UserRecord, error) {
	rec, err := e.directory.FindByEmail(ctx, email)
	if err != nil {
		return flows.UserRecord{}, err
	}
	out := rec.flowRecord()
	out.Role = e.rolePolicy.resolveRole(rec)
	return out, nil
}

func (e *Engine) issueTokens(id flows.SessionIdentity, sessionID string) (flows.TokenPair, error) {
	claims := jwt.Identity{
		TenantID:   id.TenantID,
		SubjectID:  id.UserID,
		Email:      id.Email,
		Role:       id.Role,
		SubRole:    id.SubRole,
		IsVerified: id.Verified,
		SessionID:  sessionID,
	}
	access, accessExp, err := e.codec.IssueAccess(claims)
	if err != nil {
		return flows.TokenPair{}, err
	}
	refresh, refreshExp, err := e.codec.IssueRefresh(claims)
	if err != nil {
		return flows.TokenPair{}, err
	}
	return flows.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (e *Engine) verifyAccess(token string) (*jwt.Claims, error) {
	return e.codec.Verify(token, jwt.KindAccess)
}

// mapOTPLimiterError turns volume-throttle results into the resend error shape so
// callers handle both the same way.
func (e *Engine) mapOTPLimiterError(err error) error {
	switch {
	case errors.Is(err, limiters.ErrOTPThrottled):
		wait := rate.RetryAfter(err)
		if wait <= 0 {
			wait = e.config.OTP.ThrottleWindow
		}
		retry := int((wait + time.Second - 1) / time.Second)
		if retry < 1 {
			retry = 1
		}
		return &RateLimitedError{RetryAfterSeconds: retry}
	case errors.Is(err, limiters.ErrOTPRedisUnavailable):
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	default:
		return err
	}
}
