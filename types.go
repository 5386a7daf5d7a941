package goIdentity

import (
	"context"
	"time"

	"github.com/MrEthical07/goIdentity/internal/flows"
	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/session"
)

// OTP purposes. Each (email, purpose) pair has at most one live challenge.
const (
	PurposeRegistration      = flows.PurposeRegistration
	PurposePasswordRecovery  = flows.PurposePasswordRecovery
	PurposeLogin             = flows.PurposeLogin
	PurposeEmailVerification = flows.PurposeEmailVerification
)

// Session close reasons written by the Engine.
const (
	CloseReasonManual       = flows.CloseReasonManual
	CloseReasonRevoked      = flows.CloseReasonRevoked
	CloseReasonTokenExpired = flows.CloseReasonTokenExpired
	CloseReasonPassword     = flows.CloseReasonPassword
)

func validPurpose(p string) bool { return flows.ValidPurpose(p) }

// Role names understood by the default RolePolicy.
const (
	RoleClient   = "client"
	RoleEmployee = "employee"
	RoleAdmin    = "admin"
)

// RoleProfile is the role-specific part of a UserRecord. It is one of
// ClientProfile, EmployeeProfile or AdminProfile.
type RoleProfile interface {
	Role() string
	isRoleProfile()
}

// ClientProfile is the profile of a self-registered customer.
type ClientProfile struct {
	Phone   string `json:"phone,omitempty"`
	Company string `json:"company,omitempty"`
	Country string `json:"country,omitempty"`
}

func (ClientProfile) Role() string   { return RoleClient }
func (ClientProfile) isRoleProfile() {}

// EmployeeProfile is the profile of a staff account.
type EmployeeProfile struct {
	EmployeeNumber string `json:"employee_number,omitempty"`
	Department     string `json:"department,omitempty"`
	Title          string `json:"title,omitempty"`
}

func (EmployeeProfile) Role() string   { return RoleEmployee }
func (EmployeeProfile) isRoleProfile() {}

// AdminProfile is the profile of an administrator.
type AdminProfile struct {
	Scopes []string `json:"scopes,omitempty"`
}

func (AdminProfile) Role() string   { return RoleAdmin }
func (AdminProfile) isRoleProfile() {}

// UserRecord is one account as returned by a UserDirectory. Role and Profile agree:
// Profile.Role() == Role whenever Profile is set.
type UserRecord struct {
	UserID       string
	Email        string
	Name         string
	Role         string
	SubRole      string
	PasswordHash string
	Active       bool
	Verified     bool
	LastLogin    time.Time
	LoginCount   int64
	Profile      RoleProfile
}

func (u UserRecord) flowRecord() flows.UserRecord {
	return flows.UserRecord{
		UserID:       u.UserID,
		Email:        u.Email,
		Name:         u.Name,
		Role:         u.Role,
		SubRole:      u.SubRole,
		PasswordHash: u.PasswordHash,
		Active:       u.Active,
		Verified:     u.Verified,
	}
}

// UserDirectory is the account store behind the Engine. Implementations return
// ErrUserNotFound for unknown emails and are safe for concurrent use. The tenant is
// carried in ctx.
type UserDirectory interface {
	FindByEmail(ctx context.Context, email string) (UserRecord, error)
	MarkVerified(ctx context.Context, userID string) error
	UpdatePassword(ctx context.Context, userID, hash string) error
	RecordLogin(ctx context.Context, userID string, at time.Time) error
}

// Notifier delivers one-time codes. SendCode may be called again for the same code
// on retry.
type Notifier interface {
	SendCode(ctx context.Context, email, code, purpose, displayName string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, email, code, purpose, displayName string) error

func (f NotifierFunc) SendCode(ctx context.Context, email, code, purpose, displayName string) error {
	return f(ctx, email, code, purpose, displayName)
}

// RolePolicy holds the per-role account rules shared by every role.
type RolePolicy struct {
	// VerificationRequired lists roles that cannot log in before their email is
	// verified.
	VerificationRequired map[string]bool
	// DefaultRole is used for records that carry a profile but no role.
	DefaultRole string
}

// DefaultRolePolicy requires verified email for clients only.
func DefaultRolePolicy() RolePolicy {
	return RolePolicy{
		VerificationRequired: map[string]bool{RoleClient: true},
		DefaultRole:          RoleClient,
	}
}

// RequiresVerification reports whether role must verify its email before login.
func (p RolePolicy) RequiresVerification(role string) bool {
	return p.VerificationRequired[role]
}

func (p RolePolicy) resolveRole(u UserRecord) string {
	switch {
	case u.Role != "":
		return u.Role
	case u.Profile != nil:
		return u.Profile.Role()
	default:
		return p.DefaultRole
	}
}

// Result and request types shared with callers.
type (
	OTPSendRequest       = flows.OTPSendRequest
	OTPVerifyRequest     = flows.OTPVerifyRequest
	OTPVerifyResult      = flows.OTPVerifyResult
	OTPStatus            = flows.OTPStatus
	LoginRequest         = flows.LoginRequest
	LoginResult          = flows.LoginResult
	RefreshResult        = flows.RefreshResult
	ResetPasswordRequest = flows.ResetPasswordRequest
	TokenClaims          = jwt.Claims
	Session              = session.Session
	SessionActivity      = session.Activity
)
