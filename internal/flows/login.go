package flows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goIdentity/internal"
	"github.com/MrEthical07/goIdentity/internal/rate"
	"github.com/MrEthical07/goIdentity/session"
)

// UserRecord is the flow-local view of a directory user.
type UserRecord struct {
	UserID       string
	Email        string
	Name         string
	Role         string
	SubRole      string
	PasswordHash string
	Active       bool
	Verified     bool
}

func (u UserRecord) identity() SessionIdentity {
	return SessionIdentity{
		UserID:   u.UserID,
		Email:    u.Email,
		Name:     u.Name,
		Role:     u.Role,
		SubRole:  u.SubRole,
		Verified: u.Verified,
	}
}

// LoginLimiter is the subset of rate.Limiter used by login and password flows.
type LoginLimiter interface {
	CheckLogin(ctx context.Context, tenantID, identifier, ip string) error
	IncrementLogin(ctx context.Context, tenantID, identifier, ip string) error
	ResetLogin(ctx context.Context, tenantID, identifier, ip string) error
}

// LoginRequest is the input of RunLogin.
type LoginRequest struct {
	Email    string
	Password string
}

// LoginResult is returned on successful authentication.
type LoginResult struct {
	UserID           string
	SessionID        string
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	Session          *session.Session
}

// LoginMetrics carries metric IDs used by the login flow.
type LoginMetrics struct {
	Success     int
	Failure     int
	RateLimited int
	Rehashed    int
}

// LoginEvents carries audit event names used by the login flow.
type LoginEvents struct {
	Success     string
	Failure     string
	RateLimited string
}

// LoginErrors carries host-level errors used by the login flow.
type LoginErrors struct {
	EngineNotReady     error
	InvalidCredentials error
	AccountDisabled    error
	EmailNotVerified   error
	RateLimited        error
	UserNotFound       error
	ServiceUnavailable error
}

// LoginDeps captures login dependencies.
type LoginDeps struct {
	Runtime

	ClientIPFromContext func(context.Context) string
	FindUser            func(ctx context.Context, email string) (UserRecord, error)
	RecordLogin         func(ctx context.Context, userID string, at time.Time) error
	UpdatePassword      func(ctx context.Context, userID, hash string) error

	VerifyPassword func(password, encoded string) (ok bool, needsRehash bool, err error)
	HashPassword   func(password string) (string, error)
	// DummyHash is verified against when the user is unknown so both paths cost the
	// same.
	DummyHash      string
	UpgradeOnLogin bool

	RequiresVerification func(role string) bool
	IssueTokens          func(id SessionIdentity, sessionID string) (TokenPair, error)

	Limiter  LoginLimiter
	Sessions SessionDeps

	Metrics LoginMetrics
	Events  LoginEvents
	Errors  LoginErrors
}

func normalizeLoginDeps(deps LoginDeps) LoginDeps {
	deps.Runtime = deps.Runtime.normalize()
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.RequiresVerification == nil {
		deps.RequiresVerification = func(string) bool { return false }
	}
	if deps.RecordLogin == nil {
		deps.RecordLogin = func(context.Context, string, time.Time) error { return nil }
	}
	return deps
}

// RunLogin authenticates email/password and opens a session.
func RunLogin(ctx context.Context, req LoginRequest, deps LoginDeps) (*LoginResult, error) {
	deps = normalizeLoginDeps(deps)
	if deps.FindUser == nil || deps.VerifyPassword == nil || deps.IssueTokens == nil {
		return nil, deps.Errors.EngineNotReady
	}

	tenantID := deps.TenantIDFromContext(ctx)
	ip := deps.ClientIPFromContext(ctx)
	email := internal.NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return nil, deps.Errors.InvalidCredentials
	}

	failed := func(userID string, err error) (*LoginResult, error) {
		deps.MetricInc(deps.Metrics.Failure)
		deps.EmitAudit(ctx, deps.Events.Failure, false, userID, tenantID, "", err, nil)
		return nil, err
	}
	countFailure := func() {
		if deps.Limiter == nil {
			return
		}
		if err := deps.Limiter.IncrementLogin(ctx, tenantID, email, ip); err != nil && !errors.Is(err, rate.ErrRateLimited) {
			deps.Logger.WarnContext(ctx, "login limiter increment failed", "error", err)
		}
	}

	if deps.Limiter != nil {
		if err := deps.Limiter.CheckLogin(ctx, tenantID, email, ip); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				deps.MetricInc(deps.Metrics.RateLimited)
				deps.EmitAudit(ctx, deps.Events.RateLimited, false, "", tenantID, "", deps.Errors.RateLimited, nil)
				return nil, deps.Errors.RateLimited
			}
			deps.Logger.ErrorContext(ctx, "login limiter unavailable", "error", err)
			return nil, fmt.Errorf("%w: %v", deps.Errors.ServiceUnavailable, err)
		}
	}

	user, err := deps.FindUser(ctx, email)
	if err != nil {
		if deps.Errors.UserNotFound != nil && errors.Is(err, deps.Errors.UserNotFound) {
			if deps.DummyHash != "" {
				_, _, _ = deps.VerifyPassword(req.Password, deps.DummyHash)
			}
			countFailure()
			return failed("", deps.Errors.InvalidCredentials)
		}
		deps.Logger.ErrorContext(ctx, "user lookup failed", "error", err)
		return nil, fmt.Errorf("%w: %v", deps.Errors.ServiceUnavailable, err)
	}

	ok, needsRehash, err := deps.VerifyPassword(req.Password, user.PasswordHash)
	if err != nil || !ok {
		if err != nil {
			deps.Logger.WarnContext(ctx, "stored password hash unusable", "user_id", user.UserID, "error", err)
		}
		countFailure()
		return failed(user.UserID, deps.Errors.InvalidCredentials)
	}
	if !user.Active {
		return failed(user.UserID, deps.Errors.AccountDisabled)
	}
	if !user.Verified && deps.RequiresVerification(user.Role) {
		return failed(user.UserID, deps.Errors.EmailNotVerified)
	}

	sess, pair, err := RunCreateSession(ctx, user.identity(), deps.IssueTokens, deps.Sessions)
	if err != nil {
		return nil, err
	}

	if deps.Limiter != nil {
		if err := deps.Limiter.ResetLogin(ctx, tenantID, email, ip); err != nil {
			deps.Logger.WarnContext(ctx, "login limiter reset failed", "error", err)
		}
	}
	if err := deps.RecordLogin(ctx, user.UserID, deps.Now()); err != nil {
		deps.Logger.WarnContext(ctx, "record login failed", "user_id", user.UserID, "error", err)
	}
	if needsRehash && deps.UpgradeOnLogin && deps.HashPassword != nil && deps.UpdatePassword != nil {
		if hash, err := deps.HashPassword(req.Password); err != nil {
			deps.Logger.WarnContext(ctx, "password rehash failed", "user_id", user.UserID, "error", err)
		} else if err := deps.UpdatePassword(ctx, user.UserID, hash); err != nil {
			deps.Logger.WarnContext(ctx, "password upgrade write failed", "user_id", user.UserID, "error", err)
		} else {
			deps.MetricInc(deps.Metrics.Rehashed)
		}
	}

	deps.MetricInc(deps.Metrics.Success)
	deps.EmitAudit(ctx, deps.Events.Success, true, user.UserID, tenantID, sess.ID, nil, nil)
	return &LoginResult{
		UserID:           user.UserID,
		SessionID:        sess.ID,
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		Session:          sess,
	}, nil
}
