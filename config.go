package goIdentity

import (
	"errors"
	"fmt"
	"time"
)

// Config is the full Engine configuration. Build a value with DefaultConfig, override
// fields, and pass it to Builder.WithConfig. The Engine keeps its own copy.
type Config struct {
	JWT      JWTConfig
	OTP      OTPConfig
	Session  SessionConfig
	Password PasswordConfig
	Security SecurityConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
	Activity ActivityConfig
	Redis    RedisConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig holds the HS256 signing secrets and token lifetimes. AccessSecret and
// RefreshSecret must both be set and must differ.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	AccessSecret  []byte
	RefreshSecret []byte
	Issuer        string
	Leeway        time.Duration
}

/*
====================================
OTP CONFIG
====================================
*/

// OTPConfig controls one-time code issuance and verification.
type OTPConfig struct {
	CodeLength  int
	DefaultTTL  time.Duration
	MaxAttempts int
	ResendDelay time.Duration
	// TTLByPurpose overrides DefaultTTL for individual purposes.
	TTLByPurpose map[string]time.Duration
	// VerifiedEmailTTL is how long a successful verification stays claimable.
	VerifiedEmailTTL time.Duration
	// CleanupGrace keeps expired challenges readable for status queries before
	// CleanupExpiredOTPs removes them.
	CleanupGrace time.Duration

	EnableIdentifierThrottle bool
	EnableIPThrottle         bool
	ThrottleWindow           time.Duration
	MaxSendsPerWindow        int
	MaxVerifiesPerWindow     int
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls session persistence and sweeping.
type SessionConfig struct {
	RedisPrefix string
	// Retention keeps closed sessions readable for history after token expiry.
	Retention      time.Duration
	MaxActivities  int64
	SweepBatchSize int
	HistoryLimit   int
	TouchTimeout   time.Duration
	// RequireLiveSession makes ValidateAccess reject tokens whose session is closed.
	RequireLiveSession bool
	TokenVersion       int
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds argon2id parameters and the new-password policy.
type PasswordConfig struct {
	Memory         uint32
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool

	MinLength     int
	MaxLength     int
	RequireLetter bool
	RequireDigit  bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig controls login and refresh throttling.
type SecurityConfig struct {
	EnableIPThrottle        bool
	EnableRefreshThrottle   bool
	MaxLoginAttempts        int
	LoginCooldownDuration   time.Duration
	MaxRefreshAttempts      int
	RefreshCooldownDuration time.Duration
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// ActivityConfig sizes the background session-touch dispatcher.
type ActivityConfig struct {
	BufferSize int
	Workers    int
}

// RedisConfig namespaces the non-session keys written by the Engine.
type RedisConfig struct {
	OTPPrefix           string
	VerifiedEmailPrefix string
}

// DefaultConfig returns a usable configuration except for the JWT secrets, which the
// caller must supply.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:  time.Hour,
			RefreshTTL: 7 * 24 * time.Hour,
			Issuer:     "goidentity",
			Leeway:     0,
		},
		OTP: OTPConfig{
			CodeLength:  6,
			DefaultTTL:  10 * time.Minute,
			MaxAttempts: 5,
			ResendDelay: 60 * time.Second,
			TTLByPurpose: map[string]time.Duration{
				PurposePasswordRecovery: 15 * time.Minute,
				PurposeLogin:            5 * time.Minute,
			},
			VerifiedEmailTTL:         24 * time.Hour,
			CleanupGrace:             time.Hour,
			EnableIdentifierThrottle: true,
			EnableIPThrottle:         true,
			ThrottleWindow:           time.Hour,
			MaxSendsPerWindow:        10,
			MaxVerifiesPerWindow:     30,
		},
		Session: SessionConfig{
			RedisPrefix:    "as",
			Retention:      30 * 24 * time.Hour,
			MaxActivities:  500,
			SweepBatchSize: 200,
			HistoryLimit:   20,
			TouchTimeout:   2 * time.Second,
			TokenVersion:   1,
		},
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
			MinLength:      10,
			MaxLength:      1024,
		},
		Security: SecurityConfig{
			EnableIPThrottle:        true,
			EnableRefreshThrottle:   true,
			MaxLoginAttempts:        5,
			LoginCooldownDuration:   15 * time.Minute,
			MaxRefreshAttempts:      20,
			RefreshCooldownDuration: time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Activity: ActivityConfig{
			BufferSize: 1024,
			Workers:    1,
		},
		Redis: RedisConfig{
			OTPPrefix:           "aotp",
			VerifiedEmailPrefix: "aove",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.AccessSecret = cloneBytes(cfg.JWT.AccessSecret)
	out.JWT.RefreshSecret = cloneBytes(cfg.JWT.RefreshSecret)
	if cfg.OTP.TTLByPurpose != nil {
		out.OTP.TTLByPurpose = make(map[string]time.Duration, len(cfg.OTP.TTLByPurpose))
		for k, v := range cfg.OTP.TTLByPurpose {
			out.OTP.TTLByPurpose[k] = v
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be >= AccessTTL")
	}
	if len(c.JWT.AccessSecret) == 0 || len(c.JWT.RefreshSecret) == 0 {
		return errors.New("JWT AccessSecret and RefreshSecret are required")
	}
	if string(c.JWT.AccessSecret) == string(c.JWT.RefreshSecret) {
		return errors.New("JWT AccessSecret and RefreshSecret must differ")
	}
	if c.JWT.Leeway < 0 {
		return errors.New("JWT Leeway must be >= 0")
	}

	// OTP
	if c.OTP.CodeLength < 4 || c.OTP.CodeLength > 10 {
		return errors.New("OTP CodeLength must be between 4 and 10")
	}
	if c.OTP.DefaultTTL <= 0 {
		return errors.New("OTP DefaultTTL must be > 0")
	}
	for purpose, ttl := range c.OTP.TTLByPurpose {
		if !validPurpose(purpose) {
			return fmt.Errorf("OTP TTLByPurpose has unknown purpose %q", purpose)
		}
		if ttl <= 0 {
			return fmt.Errorf("OTP TTLByPurpose[%s] must be > 0", purpose)
		}
	}
	if c.OTP.MaxAttempts <= 0 {
		return errors.New("OTP MaxAttempts must be > 0")
	}
	if c.OTP.ResendDelay < 0 {
		return errors.New("OTP ResendDelay must be >= 0")
	}
	if c.OTP.VerifiedEmailTTL <= 0 {
		return errors.New("OTP VerifiedEmailTTL must be > 0")
	}
	if c.OTP.CleanupGrace < 0 {
		return errors.New("OTP CleanupGrace must be >= 0")
	}
	if (c.OTP.EnableIdentifierThrottle || c.OTP.EnableIPThrottle) && c.OTP.ThrottleWindow <= 0 {
		return errors.New("OTP ThrottleWindow must be > 0 when throttling is enabled")
	}
	if c.OTP.MaxSendsPerWindow < 0 || c.OTP.MaxVerifiesPerWindow < 0 {
		return errors.New("OTP throttle limits must be >= 0")
	}

	// Session
	if c.Session.RedisPrefix == "" {
		return errors.New("Session RedisPrefix must not be empty")
	}
	if c.Session.Retention < 0 {
		return errors.New("Session Retention must be >= 0")
	}
	if c.Session.MaxActivities < 0 {
		return errors.New("Session MaxActivities must be >= 0")
	}
	if c.Session.SweepBatchSize < 0 || c.Session.HistoryLimit < 0 {
		return errors.New("Session SweepBatchSize and HistoryLimit must be >= 0")
	}
	if c.Session.TouchTimeout <= 0 {
		return errors.New("Session TouchTimeout must be > 0")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}
	if c.Password.MaxLength > 0 && c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MaxLength must be >= MinLength")
	}

	// Security
	if c.Security.MaxLoginAttempts < 0 || c.Security.MaxRefreshAttempts < 0 {
		return errors.New("Security attempt limits must be >= 0")
	}
	if c.Security.MaxLoginAttempts > 0 && c.Security.LoginCooldownDuration <= 0 {
		return errors.New("Security LoginCooldownDuration must be > 0")
	}
	if c.Security.EnableRefreshThrottle && c.Security.MaxRefreshAttempts > 0 && c.Security.RefreshCooldownDuration <= 0 {
		return errors.New("Security RefreshCooldownDuration must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	// Activity
	if c.Activity.BufferSize <= 0 {
		return errors.New("Activity BufferSize must be > 0")
	}
	if c.Activity.Workers <= 0 {
		return errors.New("Activity Workers must be > 0")
	}

	// Redis
	if c.Redis.OTPPrefix == "" || c.Redis.VerifiedEmailPrefix == "" {
		return errors.New("Redis OTPPrefix and VerifiedEmailPrefix must not be empty")
	}
	if c.Redis.OTPPrefix == c.Redis.VerifiedEmailPrefix || c.Redis.OTPPrefix == c.Session.RedisPrefix {
		return errors.New("Redis key prefixes must be distinct")
	}

	return nil
}
