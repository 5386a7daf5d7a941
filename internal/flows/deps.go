package flows

import (
	"context"
	"log/slog"
	"time"
)

// AuditFunc matches Engine.emitAudit.
type AuditFunc func(ctx context.Context, eventType string, success bool, userID, tenantID, sessionID string, err error, metadata func() map[string]string)

// Runtime carries the ambient hooks every flow needs. The Engine builds one and
// embeds it into each flow's deps struct.
type Runtime struct {
	TenantIDFromContext func(context.Context) string
	Now                 func() time.Time
	Logger              *slog.Logger
	MetricInc           func(int)
	EmitAudit           AuditFunc
}

func (r Runtime) normalize() Runtime {
	if r.TenantIDFromContext == nil {
		r.TenantIDFromContext = func(context.Context) string { return "0" }
	}
	if r.Now == nil {
		r.Now = time.Now
	}
	if r.Logger == nil {
		r.Logger = slog.New(slog.DiscardHandler)
	}
	if r.MetricInc == nil {
		r.MetricInc = func(int) {}
	}
	if r.EmitAudit == nil {
		r.EmitAudit = func(context.Context, string, bool, string, string, string, error, func() map[string]string) {}
	}
	return r
}

// Deps groups flow dependency sets. The Engine builds this once and delegates
// request methods to the matching flow.
type Deps struct {
	OTP      OTPDeps
	Sessions SessionDeps
	Login    LoginDeps
	Refresh  RefreshDeps
	Password PasswordDeps
	Account  AccountDeps
	Logout   LogoutDeps
	Validate ValidateDeps
}
