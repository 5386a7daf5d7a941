package goIdentity

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings is what LoadConfig reads from the environment: the Engine configuration
// plus the connection settings a host process needs to build one.
type Settings struct {
	Config Config

	RedisAddr      string
	DatabaseURL    string
	SweepInterval  time.Duration
	LogLevel       slog.Level
	NotifierStream string
	AuditStream    string
}

// LoadConfig builds Settings from v on top of DefaultConfig. A nil v reads the process
// environment. Recognised keys:
//
//	OTP_LENGTH, OTP_TTL_MINUTES, OTP_MAX_ATTEMPTS, OTP_RESEND_DELAY_SECONDS,
//	VERIFIED_EMAIL_TTL, ACCESS_TOKEN_TTL, REFRESH_TOKEN_TTL, ACCESS_SECRET,
//	REFRESH_SECRET, TOKEN_ISSUER, SESSION_RETENTION, REDIS_ADDR, REDIS_PREFIX,
//	DATABASE_URL, SWEEP_INTERVAL, LOG_LEVEL, NOTIFIER_STREAM, AUDIT_STREAM
//
// Setting AUDIT_STREAM also enables the audit pipeline.
//
// Duration values accept Go syntax ("15m") or a bare number of seconds.
func LoadConfig(v *viper.Viper) (*Settings, error) {
	if v == nil {
		v = viper.New()
		v.AutomaticEnv()
	}

	s := &Settings{
		Config:        DefaultConfig(),
		RedisAddr:     "localhost:6379",
		SweepInterval: time.Minute,
		LogLevel:      slog.LevelInfo,
	}
	cfg := &s.Config

	if v.IsSet("OTP_LENGTH") {
		cfg.OTP.CodeLength = v.GetInt("OTP_LENGTH")
	}
	if v.IsSet("OTP_TTL_MINUTES") {
		cfg.OTP.DefaultTTL = time.Duration(v.GetInt("OTP_TTL_MINUTES")) * time.Minute
		// An explicit TTL applies to every purpose.
		cfg.OTP.TTLByPurpose = nil
	}
	if v.IsSet("OTP_MAX_ATTEMPTS") {
		cfg.OTP.MaxAttempts = v.GetInt("OTP_MAX_ATTEMPTS")
	}
	if v.IsSet("OTP_RESEND_DELAY_SECONDS") {
		cfg.OTP.ResendDelay = time.Duration(v.GetInt("OTP_RESEND_DELAY_SECONDS")) * time.Second
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"VERIFIED_EMAIL_TTL", &cfg.OTP.VerifiedEmailTTL},
		{"ACCESS_TOKEN_TTL", &cfg.JWT.AccessTTL},
		{"REFRESH_TOKEN_TTL", &cfg.JWT.RefreshTTL},
		{"SESSION_RETENTION", &cfg.Session.Retention},
		{"SWEEP_INTERVAL", &s.SweepInterval},
	}
	for _, d := range durations {
		raw := strings.TrimSpace(v.GetString(d.key))
		if raw == "" {
			continue
		}
		parsed, err := parseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	if secret := v.GetString("ACCESS_SECRET"); secret != "" {
		cfg.JWT.AccessSecret = []byte(secret)
	}
	if secret := v.GetString("REFRESH_SECRET"); secret != "" {
		cfg.JWT.RefreshSecret = []byte(secret)
	}
	if issuer := v.GetString("TOKEN_ISSUER"); issuer != "" {
		cfg.JWT.Issuer = issuer
	}
	if prefix := v.GetString("REDIS_PREFIX"); prefix != "" {
		cfg.Session.RedisPrefix = prefix
		cfg.Redis.OTPPrefix = prefix + "otp"
		cfg.Redis.VerifiedEmailPrefix = prefix + "ve"
	}

	if addr := v.GetString("REDIS_ADDR"); addr != "" {
		s.RedisAddr = addr
	}
	s.DatabaseURL = v.GetString("DATABASE_URL")
	s.NotifierStream = v.GetString("NOTIFIER_STREAM")
	if stream := v.GetString("AUDIT_STREAM"); stream != "" {
		s.AuditStream = stream
		cfg.Audit.Enabled = true
	}
	if level := v.GetString("LOG_LEVEL"); level != "" {
		if err := s.LogLevel.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("LOG_LEVEL: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func parseDuration(raw string) (time.Duration, error) {
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(raw)
}
