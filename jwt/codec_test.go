package jwt

import (
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func newTestCodec(t *testing.T, clock *fakeClock) *Codec {
	t.Helper()
	c, err := NewCodec(Config{
		AccessSecret:  []byte("access-secret-0123456789"),
		RefreshSecret: []byte("refresh-secret-0123456789"),
		AccessTTL:     time.Hour,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "goidentity-test",
		Now:           clock.Now,
	})
	require.NoError(t, err)
	return c
}

func testIdentity() Identity {
	return Identity{
		TenantID:   "t-1",
		SubjectID:  "u-1",
		Email:      "a@x.com",
		Role:       "client",
		IsVerified: true,
		SessionID:  "s-1",
	}
}

func TestNewCodecRejectsEqualSecrets(t *testing.T) {
	_, err := NewCodec(Config{
		AccessSecret:  []byte("same-secret-0123456789"),
		RefreshSecret: []byte("same-secret-0123456789"),
	})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewCodecRejectsShortSecretAndLeeway(t *testing.T) {
	_, err := NewCodec(Config{AccessSecret: []byte("short"), RefreshSecret: []byte("refresh-secret-0123456789")})
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewCodec(Config{
		AccessSecret:  []byte("access-secret-0123456789"),
		RefreshSecret: []byte("refresh-secret-0123456789"),
		Leeway:        time.Hour,
	})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewCodecDefaultsLifetimes(t *testing.T) {
	c, err := NewCodec(Config{
		AccessSecret:  []byte("access-secret-0123456789"),
		RefreshSecret: []byte("refresh-secret-0123456789"),
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultAccessTTL, c.AccessTTL())
	assert.Equal(t, DefaultRefreshTTL, c.RefreshTTL())
}

func TestIssueAndVerifyAccess(t *testing.T) {
	clock := &fakeClock{now: time.Now().Truncate(time.Second)}
	c := newTestCodec(t, clock)

	token, exp, err := c.IssueAccess(testIdentity())
	require.NoError(t, err)
	assert.Equal(t, clock.now.Add(time.Hour), exp)

	claims, err := c.Verify(token, KindAccess)
	require.NoError(t, err)
	assert.Equal(t, KindAccess, claims.Kind)
	assert.Equal(t, testIdentity(), claims.Identity)
	assert.Equal(t, "u-1", claims.Subject)
	assert.NotEmpty(t, claims.ID)
	assert.Equal(t, exp, claims.ExpiresAtTime())
	assert.Equal(t, clock.now, claims.IssuedAtTime())
}

func TestVerifyRejectsWrongKindBothWays(t *testing.T) {
	c := newTestCodec(t, &fakeClock{now: time.Now()})

	refresh, _, err := c.IssueRefresh(testIdentity())
	require.NoError(t, err)
	_, err = c.Verify(refresh, KindAccess)
	require.ErrorIs(t, err, ErrTokenKindMismatch)

	access, _, err := c.IssueAccess(testIdentity())
	require.NoError(t, err)
	_, err = c.Verify(access, KindRefresh)
	require.ErrorIs(t, err, ErrTokenKindMismatch)
}

func TestVerifyExpired(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := newTestCodec(t, clock)

	token, _, err := c.IssueAccess(testIdentity())
	require.NoError(t, err)

	clock.now = clock.now.Add(2 * time.Hour)
	_, err = c.Verify(token, KindAccess)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyTamperedSignature(t *testing.T) {
	c := newTestCodec(t, &fakeClock{now: time.Now()})
	token, _, err := c.IssueAccess(testIdentity())
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	_, err = c.Verify(parts[0]+"."+parts[1]+"."+string(sig), KindAccess)
	require.ErrorIs(t, err, ErrTokenInvalidSignature)
}

func TestVerifyRejectsTokenSignedWithOtherCodec(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := newTestCodec(t, clock)
	other, err := NewCodec(Config{
		AccessSecret:  []byte("another-access-secret-xyz"),
		RefreshSecret: []byte("another-refresh-secret-xyz"),
		Issuer:        "goidentity-test",
		Now:           clock.Now,
	})
	require.NoError(t, err)

	token, _, err := other.IssueAccess(testIdentity())
	require.NoError(t, err)
	_, err = c.Verify(token, KindAccess)
	require.ErrorIs(t, err, ErrTokenInvalidSignature)
}

func TestVerifyRejectsForeignAlgorithm(t *testing.T) {
	c := newTestCodec(t, &fakeClock{now: time.Now()})
	claims := Claims{
		Identity: testIdentity(),
		Kind:     KindAccess,
		RegisteredClaims: gjwt.RegisteredClaims{
			Issuer:    "goidentity-test",
			ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	token, err := gjwt.NewWithClaims(gjwt.SigningMethodHS512, claims).SignedString([]byte("access-secret-0123456789"))
	require.NoError(t, err)

	_, err = c.Verify(token, KindAccess)
	require.ErrorIs(t, err, ErrTokenInvalidSignature)
}

func TestVerifyMalformed(t *testing.T) {
	c := newTestCodec(t, &fakeClock{now: time.Now()})
	for _, token := range []string{"", "abc", "a.b.c", "not.a.token.at.all"} {
		_, err := c.Verify(token, KindAccess)
		assert.ErrorIs(t, err, ErrTokenMalformed, "token %q", token)
	}
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := newTestCodec(t, clock)
	other, err := NewCodec(Config{
		AccessSecret:  []byte("access-secret-0123456789"),
		RefreshSecret: []byte("refresh-secret-0123456789"),
		Issuer:        "someone-else",
		Now:           clock.Now,
	})
	require.NoError(t, err)

	token, _, err := other.IssueAccess(testIdentity())
	require.NoError(t, err)
	_, err = c.Verify(token, KindAccess)
	require.ErrorIs(t, err, ErrTokenMalformed)
}

func TestDecodeUnsafe(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := newTestCodec(t, clock)
	token, _, err := c.IssueRefresh(testIdentity())
	require.NoError(t, err)

	clock.now = clock.now.Add(30 * 24 * time.Hour)
	claims := c.DecodeUnsafe(token)
	require.NotNil(t, claims)
	assert.Equal(t, "s-1", claims.SessionID)
	assert.Equal(t, KindRefresh, claims.Kind)

	assert.Nil(t, c.DecodeUnsafe("garbage"))
}

func TestRefreshPreservesIdentity(t *testing.T) {
	clock := &fakeClock{now: time.Now().Truncate(time.Second)}
	c := newTestCodec(t, clock)

	refresh, _, err := c.IssueRefresh(testIdentity())
	require.NoError(t, err)

	clock.now = clock.now.Add(10 * time.Minute)
	access, exp, claims, err := c.Refresh(refresh)
	require.NoError(t, err)
	assert.Equal(t, clock.now.Add(time.Hour), exp)
	assert.Equal(t, KindRefresh, claims.Kind)

	parsed, err := c.Verify(access, KindAccess)
	require.NoError(t, err)
	assert.Equal(t, testIdentity(), parsed.Identity)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	c := newTestCodec(t, &fakeClock{now: time.Now()})
	access, _, err := c.IssueAccess(testIdentity())
	require.NoError(t, err)

	_, _, _, err = c.Refresh(access)
	require.ErrorIs(t, err, ErrTokenKindMismatch)
}
