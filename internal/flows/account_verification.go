package flows

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/goIdentity/internal"
)

// AccountEvents carries audit event names used by the account verification flow.
type AccountEvents struct {
	Verified string
}

// AccountErrors carries host-level errors used by the account verification flow.
type AccountErrors struct {
	EngineNotReady     error
	UserNotFound       error
	ServiceUnavailable error
}

// AccountDeps captures account verification dependencies.
type AccountDeps struct {
	Runtime

	FindUser     func(ctx context.Context, email string) (UserRecord, error)
	MarkVerified func(ctx context.Context, userID string) error
	OTP          OTPDeps

	VerifiedMetric int
	Events         AccountEvents
	Errors         AccountErrors
}

// RunVerifyAccount checks an OTP and marks the owning user verified. When no user
// exists yet (registration before account creation) the verified-email mark is the
// only outcome.
func RunVerifyAccount(ctx context.Context, email, code, purpose string, deps AccountDeps) error {
	deps.Runtime = deps.Runtime.normalize()
	if deps.FindUser == nil || deps.MarkVerified == nil {
		return deps.Errors.EngineNotReady
	}
	if purpose == "" {
		purpose = PurposeEmailVerification
	}

	if _, err := RunVerifyOTP(ctx, OTPVerifyRequest{Email: email, Code: code, Purpose: purpose}, deps.OTP); err != nil {
		return err
	}

	tenantID := deps.TenantIDFromContext(ctx)
	user, err := deps.FindUser(ctx, internal.NormalizeEmail(email))
	if err != nil {
		if deps.Errors.UserNotFound != nil && errors.Is(err, deps.Errors.UserNotFound) {
			return nil
		}
		deps.Logger.ErrorContext(ctx, "user lookup failed", "error", err)
		return fmt.Errorf("%w: %v", deps.Errors.ServiceUnavailable, err)
	}
	if user.Verified {
		return nil
	}
	if err := deps.MarkVerified(ctx, user.UserID); err != nil {
		deps.Logger.ErrorContext(ctx, "mark verified failed", "user_id", user.UserID, "error", err)
		return fmt.Errorf("%w: %v", deps.Errors.ServiceUnavailable, err)
	}

	deps.MetricInc(deps.VerifiedMetric)
	deps.EmitAudit(ctx, deps.Events.Verified, true, user.UserID, tenantID, "", nil, purposeMeta(purpose))
	return nil
}
