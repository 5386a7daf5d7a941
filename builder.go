package goIdentity

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goIdentity/internal"
	"github.com/MrEthical07/goIdentity/internal/limiters"
	"github.com/MrEthical07/goIdentity/internal/rate"
	"github.com/MrEthical07/goIdentity/internal/stores"
	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/password"
	"github.com/MrEthical07/goIdentity/session"
)

// Builder assembles an Engine. A Builder can be used once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	directory  UserDirectory
	notifier   Notifier
	auditSink  AuditSink
	logger     *slog.Logger
	rolePolicy *RolePolicy
	entropy    io.Reader
	clock      func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing every store. Both *redis.Client and
// *redis.ClusterClient work.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithUserDirectory(dir UserDirectory) *Builder {
	b.directory = dir
	return b
}

func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithAuditSink sets the sink and enables auditing.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = sink != nil
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithRolePolicy(p RolePolicy) *Builder {
	b.rolePolicy = &p
	return b
}

// WithEntropySource replaces crypto/rand for OTP codes. Intended for tests.
func (b *Builder) WithEntropySource(r io.Reader) *Builder {
	b.entropy = r
	return b
}

// WithClock replaces time.Now for every time-dependent decision. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.directory == nil {
		return nil, errors.New("user directory required")
	}
	if b.notifier == nil {
		return nil, errors.New("notifier required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := b.clock
	if now == nil {
		now = time.Now
	}
	policy := DefaultRolePolicy()
	if b.rolePolicy != nil {
		policy = *b.rolePolicy
	}

	codes, err := internal.NewCodeGenerator(cfg.OTP.CodeLength)
	if err != nil {
		return nil, err
	}
	codes.Reader = b.entropy

	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	// Verified against when the email is unknown so both login paths cost the same.
	dummyHash, err := hasher.Hash("goidentity-timing-equalizer")
	if err != nil {
		return nil, err
	}

	codec, err := jwt.NewCodec(jwt.Config{
		AccessSecret:  cloneBytes(cfg.JWT.AccessSecret),
		RefreshSecret: cloneBytes(cfg.JWT.RefreshSecret),
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		Issuer:        cfg.JWT.Issuer,
		Leeway:        cfg.JWT.Leeway,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:     cloneConfig(cfg),
		now:        now,
		logger:     logger,
		directory:  b.directory,
		notifier:   b.notifier,
		rolePolicy: policy,
		codes:      codes,
		hasher:     hasher,
		dummyHash:  dummyHash,
		pwPolicy: password.Policy{
			MinBytes:      cfg.Password.MinLength,
			MaxBytes:      cfg.Password.MaxLength,
			RequireLetter: cfg.Password.RequireLetter,
			RequireDigit:  cfg.Password.RequireDigit,
		},
		codec:         codec,
		otpStore:      stores.NewOTPStore(b.redis, cfg.Redis.OTPPrefix, cfg.OTP.CleanupGrace),
		verifiedStore: stores.NewVerifiedEmailStore(b.redis, cfg.Redis.VerifiedEmailPrefix),
		sessionStore: session.NewStore(b.redis, session.Options{
			Prefix:        cfg.Session.RedisPrefix,
			Retention:     cfg.Session.Retention,
			MaxActivities: cfg.Session.MaxActivities,
		}),
		otpLimiter: limiters.NewOTPLimiter(b.redis, limiters.OTPConfig{
			EnableIdentifierThrottle: cfg.OTP.EnableIdentifierThrottle,
			EnableIPThrottle:         cfg.OTP.EnableIPThrottle,
			Window:                   cfg.OTP.ThrottleWindow,
			MaxSendsPerWindow:        cfg.OTP.MaxSendsPerWindow,
			MaxVerifiesPerWindow:     cfg.OTP.MaxVerifiesPerWindow,
		}),
		rateLimiter: rate.New(b.redis, rate.Config{
			EnableIPThrottle:        cfg.Security.EnableIPThrottle,
			EnableRefreshThrottle:   cfg.Security.EnableRefreshThrottle,
			MaxLoginAttempts:        cfg.Security.MaxLoginAttempts,
			LoginCooldownDuration:   cfg.Security.LoginCooldownDuration,
			MaxRefreshAttempts:      cfg.Security.MaxRefreshAttempts,
			RefreshCooldownDuration: cfg.Security.RefreshCooldownDuration,
		}),
		audit:    newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:  NewMetrics(cfg.Metrics),
		activity: newActivityDispatcher(cfg.Activity, cfg.Session.TouchTimeout, logger),
	}
	engine.flows = engine.buildFlows()

	b.built = true

	return engine, nil
}
