package jwt

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind distinguishes access tokens from refresh tokens.
type Kind string

const (
	// KindAccess marks short-lived tokens presented on every request.
	KindAccess Kind = "access"
	// KindRefresh marks long-lived tokens exchanged for new access tokens.
	KindRefresh Kind = "refresh"
)

const (
	// DefaultAccessTTL is used when Config.AccessTTL is zero.
	DefaultAccessTTL = time.Hour
	// DefaultRefreshTTL is used when Config.RefreshTTL is zero.
	DefaultRefreshTTL = 7 * 24 * time.Hour

	minSecretLength = 16
	maxLeeway       = 2 * time.Minute
)

var (
	// ErrTokenExpired is returned when a token is past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenMalformed is returned when a token cannot be decoded or fails claim validation.
	ErrTokenMalformed = errors.New("token malformed")
	// ErrTokenInvalidSignature is returned when the signature or algorithm check fails.
	ErrTokenInvalidSignature = errors.New("token signature invalid")
	// ErrTokenKindMismatch is returned when a token of the other kind is presented.
	ErrTokenKindMismatch = errors.New("token kind mismatch")
	// ErrInvalidConfig is returned by NewCodec for unusable secrets or lifetimes.
	ErrInvalidConfig = errors.New("invalid token codec configuration")
)

// Config holds the signing material and lifetimes of a Codec.
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Leeway        time.Duration

	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// Identity is the caller-supplied part of the claims. It is preserved verbatim when an
// access token is re-issued from a refresh token.
type Identity struct {
	// TenantID binds the token to the tenant it was issued in. Empty means the
	// default tenant.
	TenantID   string `json:"tid,omitempty"`
	SubjectID  string `json:"sub_id"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	SubRole    string `json:"sub_role,omitempty"`
	IsVerified bool   `json:"verified"`
	SessionID  string `json:"sid,omitempty"`
}

// Claims is the full claim set carried by a token.
type Claims struct {
	Identity
	Kind Kind `json:"kind"`
	jwt.RegisteredClaims
}

// IssuedAtTime returns the iat claim or the zero time.
func (c *Claims) IssuedAtTime() time.Time {
	if c == nil || c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

// ExpiresAtTime returns the exp claim or the zero time.
func (c *Claims) ExpiresAtTime() time.Time {
	if c == nil || c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Codec signs and verifies tokens. It is immutable after NewCodec and safe for
// concurrent use.
type Codec struct {
	config Config
}

// NewCodec validates cfg and returns a Codec. The two secrets must both be set and must
// differ.
func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.AccessSecret) < minSecretLength || len(cfg.RefreshSecret) < minSecretLength {
		return nil, fmt.Errorf("%w: secrets must be at least %d bytes", ErrInvalidConfig, minSecretLength)
	}
	if bytes.Equal(cfg.AccessSecret, cfg.RefreshSecret) {
		return nil, fmt.Errorf("%w: access and refresh secrets must differ", ErrInvalidConfig)
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.AccessTTL < 0 || cfg.RefreshTTL < 0 {
		return nil, fmt.Errorf("%w: negative token lifetime", ErrInvalidConfig)
	}
	if cfg.Leeway < 0 || cfg.Leeway > maxLeeway {
		return nil, fmt.Errorf("%w: leeway must be within [0, %s]", ErrInvalidConfig, maxLeeway)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.AccessSecret = append([]byte(nil), cfg.AccessSecret...)
	cfg.RefreshSecret = append([]byte(nil), cfg.RefreshSecret...)
	return &Codec{config: cfg}, nil
}

// AccessTTL returns the configured access-token lifetime.
func (c *Codec) AccessTTL() time.Duration { return c.config.AccessTTL }

// RefreshTTL returns the configured refresh-token lifetime.
func (c *Codec) RefreshTTL() time.Duration { return c.config.RefreshTTL }

// IssueAccess signs an access token for id.
func (c *Codec) IssueAccess(id Identity) (string, time.Time, error) {
	return c.issue(id, KindAccess)
}

// IssueRefresh signs a refresh token for id.
func (c *Codec) IssueRefresh(id Identity) (string, time.Time, error) {
	return c.issue(id, KindRefresh)
}

func (c *Codec) issue(id Identity, kind Kind) (string, time.Time, error) {
	now := c.config.Now()
	expiresAt := now.Add(c.ttl(kind))

	claims := Claims{
		Identity: id,
		Kind:     kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   id.SubjectID,
			Issuer:    c.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret(kind))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", kind, err)
	}
	// NumericDate truncates to seconds; report what the token actually carries.
	return signed, claims.ExpiresAt.Time, nil
}

// Verify checks structure, kind, signature and expiry in that order.
//
// The kind is read from the unverified payload first so a token of the wrong kind
// reports ErrTokenKindMismatch even though it was signed with the other secret.
func (c *Codec) Verify(token string, expected Kind) (*Claims, error) {
	peek := c.DecodeUnsafe(token)
	if peek == nil {
		return nil, ErrTokenMalformed
	}
	if peek.Kind != expected {
		return nil, ErrTokenKindMismatch
	}

	parser := jwt.NewParser(c.parserOptions()...)
	parsed, err := parser.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return c.secret(expected), nil
	})
	if err != nil {
		return nil, classify(err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

// DecodeUnsafe extracts claims without checking signature or expiry. It returns nil for
// undecodable input. Never use the result for authorization.
func (c *Codec) DecodeUnsafe(token string) *Claims {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	return claims
}

// Refresh verifies a refresh token and issues a new access token carrying the same
// identity. The verified refresh claims are returned alongside.
func (c *Codec) Refresh(refreshToken string) (string, time.Time, *Claims, error) {
	claims, err := c.Verify(refreshToken, KindRefresh)
	if err != nil {
		return "", time.Time{}, nil, err
	}
	access, expiresAt, err := c.IssueAccess(claims.Identity)
	if err != nil {
		return "", time.Time{}, nil, err
	}
	return access, expiresAt, claims, nil
}

func (c *Codec) parserOptions() []jwt.ParserOption {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.config.Now),
	}
	if c.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(c.config.Leeway))
	}
	if c.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.config.Issuer))
	}
	return options
}

func (c *Codec) secret(kind Kind) []byte {
	if kind == KindRefresh {
		return c.config.RefreshSecret
	}
	return c.config.AccessSecret
}

func (c *Codec) ttl(kind Kind) time.Duration {
	if kind == KindRefresh {
		return c.config.RefreshTTL
	}
	return c.config.AccessTTL
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrTokenInvalidSignature, err)
	default:
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
}
