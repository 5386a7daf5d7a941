package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/goIdentity/jwt"
)

// ValidateErrors carries host-level errors used by access validation.
type ValidateErrors struct {
	EngineNotReady     error
	Unauthorized       error
	ServiceUnavailable error
}

// ValidateDeps captures access validation dependencies.
type ValidateDeps struct {
	VerifyAccess func(token string) (*jwt.Claims, error)
	// RequireLiveSession additionally rejects tokens whose session is closed or gone.
	RequireLiveSession bool
	Sessions           SessionDeps
	Errors             ValidateErrors
}

// errTenantMismatch is wrapped when a token is presented outside the tenant it was
// issued in.
var errTenantMismatch = errors.New("token issued for another tenant")

// sameTenant reports whether claims were issued in tenantID. A token without a tenant
// belongs to the default tenant "0".
func sameTenant(claims *jwt.Claims, tenantID string) bool {
	issued := claims.TenantID
	if issued == "" {
		issued = "0"
	}
	if tenantID == "" {
		tenantID = "0"
	}
	return issued == tenantID
}

// RunValidateAccess verifies an access token for request authorization. The token
// must belong to the context tenant.
func RunValidateAccess(ctx context.Context, token string, deps ValidateDeps) (*jwt.Claims, error) {
	if deps.VerifyAccess == nil {
		return nil, deps.Errors.EngineNotReady
	}
	claims, err := deps.VerifyAccess(token)
	if err != nil {
		return nil, err
	}
	deps.Sessions = normalizeSessionDeps(deps.Sessions)
	if !sameTenant(claims, deps.Sessions.TenantIDFromContext(ctx)) {
		return nil, deps.Errors.Unauthorized
	}
	if !deps.RequireLiveSession {
		return claims, nil
	}
	if claims.SessionID == "" {
		return nil, deps.Errors.Unauthorized
	}

	sess, err := RunGetSession(ctx, claims.SessionID, deps.Sessions)
	switch {
	case err == nil && sess.Online():
		return claims, nil
	case err == nil, errors.Is(err, deps.Sessions.Errors.NotFound):
		return nil, deps.Errors.Unauthorized
	default:
		return nil, err
	}
}
