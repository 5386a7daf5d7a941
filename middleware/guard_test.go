package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/directory/memory"
	"github.com/MrEthical07/goIdentity/password"
)

func newTestEngine(t *testing.T) (*goIdentity.Engine, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := goIdentity.DefaultConfig()
	cfg.JWT.AccessSecret = []byte("access-secret-for-middleware-tests")
	cfg.JWT.RefreshSecret = []byte("refresh-secret-for-middleware-tests")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1

	hasher, err := password.NewHasher(password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	require.NoError(t, err)
	hash, err := hasher.Hash("correct-horse-battery")
	require.NoError(t, err)

	dir := memory.New()
	require.NoError(t, dir.Put(context.Background(), goIdentity.UserRecord{
		UserID:       "u1",
		Email:        "ana@example.com",
		Role:         goIdentity.RoleEmployee,
		PasswordHash: hash,
		Active:       true,
		Verified:     true,
	}))

	engine, err := goIdentity.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserDirectory(dir).
		WithNotifier(goIdentity.NotifierFunc(func(context.Context, string, string, string, string) error { return nil })).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	return engine, mr
}

func TestGuardAcceptsValidAccessToken(t *testing.T) {
	engine, _ := newTestEngine(t)
	res, err := engine.Login(context.Background(), "ana@example.com", "correct-horse-battery")
	require.NoError(t, err)

	var got *goIdentity.TokenClaims
	h := Guard(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+res.AccessToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.SubjectID)
	assert.Equal(t, res.SessionID, got.SessionID)
}

func TestGuardRejectsMissingOrBadToken(t *testing.T) {
	engine, _ := newTestEngine(t)
	h := Guard(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	for _, header := range []string{"", "Basic abc", "Bearer ", "Bearer not-a-jwt"} {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
	}

	rec := httptest.NewRecorder()
	Guard(nil)(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestActivityTouchesSession(t *testing.T) {
	engine, _ := newTestEngine(t)
	res, err := engine.Login(context.Background(), "ana@example.com", "correct-horse-battery")
	require.NoError(t, err)
	before := res.Session.ActivityCount

	h := Guard(engine)(Activity(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+res.AccessToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Eventually(t, func() bool {
		sess, err := engine.GetSession(context.Background(), res.SessionID)
		return err == nil && sess.ActivityCount > before
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRequestContextPopulatesMetadata(t *testing.T) {
	var tenant string
	h := RequestContext("X-Tenant-ID")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant = goIdentity.TenantID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.Header.Set("X-Tenant-ID", " acme ")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "acme", tenant)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/login", nil))
	assert.Equal(t, "0", tenant)
}

func TestClientIPIgnoresForwardedForByDefault(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	assert.Equal(t, "10.0.0.7", clientIP(req, nil))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "10.0.0.7", clientIP(req, nil))

	var ip string
	h := RequestContext("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip = goIdentity.ClientIP(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "10.0.0.7", ip)
}

func TestClientIPHonorsTrustedProxies(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
	cases := []struct {
		name   string
		remote string
		fwd    string
		want   string
	}{
		{"untrusted peer", "198.51.100.4:1234", "203.0.113.9", "198.51.100.4"},
		{"single hop", "10.0.0.7:5555", "203.0.113.9", "203.0.113.9"},
		{"chained proxies", "10.0.0.7:5555", "203.0.113.9, 10.0.0.1", "203.0.113.9"},
		{"spoofed prefix", "10.0.0.7:5555", "1.2.3.4, 203.0.113.9", "203.0.113.9"},
		{"garbage hop", "10.0.0.7:5555", "not-an-ip", "10.0.0.7"},
		{"no header", "10.0.0.7:5555", "", "10.0.0.7"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			if tc.fwd != "" {
				req.Header.Set("X-Forwarded-For", tc.fwd)
			}
			assert.Equal(t, tc.want, clientIP(req, trusted))
		})
	}

	var ip string
	h := RequestContext("", TrustProxies(trusted...))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip = goIdentity.ClientIP(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "203.0.113.9", ip)
}
