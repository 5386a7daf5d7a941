package flows

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goIdentity/internal"
	"github.com/MrEthical07/goIdentity/internal/stores"
	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/session"
)

var (
	errNotReady       = errors.New("not ready")
	errInvalid        = errors.New("invalid request")
	errNotFound       = errors.New("otp not found or expired")
	errExhausted      = errors.New("otp exhausted")
	errDelivery       = errors.New("delivery failed")
	errUnavailable    = errors.New("unavailable")
	errRateLimited    = errors.New("rate limited")
	errMismatch       = errors.New("code mismatch")
	errSessionMissing = errors.New("session not found")
	errUserNotFound   = errors.New("user not found")
	errBadCredentials = errors.New("invalid credentials")
	errDisabled       = errors.New("account disabled")
	errUnverified     = errors.New("email not verified")
	errLoginLimited   = errors.New("login rate limited")
	errBadRefresh     = errors.New("invalid refresh token")
	errRefreshLimited = errors.New("refresh rate limited")
	errUnauthorized   = errors.New("unauthorized")
	errPolicy         = errors.New("password policy")
)

type retryAfterError struct{ seconds int }

func (e *retryAfterError) Error() string        { return fmt.Sprintf("retry after %ds", e.seconds) }
func (e *retryAfterError) Is(target error) bool { return target == errRateLimited }

type remainingError struct{ remaining int }

func (e *remainingError) Error() string        { return fmt.Sprintf("%d attempts remaining", e.remaining) }
func (e *remainingError) Is(target error) bool { return target == errMismatch }

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.UnixMilli(time.Now().UnixMilli())}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sentCode struct {
	Email, Code, Purpose, DisplayName string
}

type captureNotifier struct {
	mu   sync.Mutex
	sent []sentCode
	fail error
}

func (n *captureNotifier) Deliver(_ context.Context, email, code, purpose, displayName string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.sent = append(n.sent, sentCode{email, code, purpose, displayName})
	return nil
}

func (n *captureNotifier) last(t *testing.T) sentCode {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		t.Fatal("no code delivered")
	}
	return n.sent[len(n.sent)-1]
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type harness struct {
	mr       *miniredis.Miniredis
	rdb      redis.UniversalClient
	clock    *testClock
	notifier *captureNotifier
	otpStore *stores.OTPStore
	marks    *stores.VerifiedEmailStore
	sessions *session.Store
	codec    *jwt.Codec
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := newTestClock()
	codec, err := jwt.NewCodec(jwt.Config{
		AccessSecret:  []byte("access-secret-0123456789"),
		RefreshSecret: []byte("refresh-secret-0123456789"),
		Issuer:        "goidentity-test",
		Now:           clock.Now,
	})
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	return &harness{
		mr:       mr,
		rdb:      rdb,
		clock:    clock,
		notifier: &captureNotifier{},
		otpStore: stores.NewOTPStore(rdb, "aotp", time.Minute),
		marks:    stores.NewVerifiedEmailStore(rdb, "aove"),
		sessions: session.NewStore(rdb, session.Options{}),
		codec:    codec,
	}
}

func (h *harness) runtime() Runtime {
	return Runtime{
		TenantIDFromContext: func(context.Context) string { return "t1" },
		Now:                 h.clock.Now,
	}
}

func (h *harness) otpDeps() OTPDeps {
	gen, _ := internal.NewCodeGenerator(6)
	return OTPDeps{
		Runtime: h.runtime(),
		Policy: OTPPolicy{
			DefaultTTL:  10 * time.Minute,
			MaxAttempts: 5,
			ResendDelay: 60 * time.Second,
		},
		GenerateCode:  gen.Generate,
		NewID:         internal.NewID,
		HashCode:      internal.HashCode,
		Deliver:       h.notifier.Deliver,
		Store:         h.otpStore,
		VerifiedEmail: h.marks,
		Errors: OTPErrors{
			EngineNotReady:     errNotReady,
			RequestInvalid:     errInvalid,
			NotFoundOrExpired:  errNotFound,
			AttemptsExhausted:  errExhausted,
			DeliveryFailed:     errDelivery,
			ServiceUnavailable: errUnavailable,
			RateLimited:        func(s int) error { return &retryAfterError{seconds: s} },
			CodeMismatch:       func(n int) error { return &remainingError{remaining: n} },
		},
	}
}

func (h *harness) sessionDeps() SessionDeps {
	return SessionDeps{
		Runtime: h.runtime(),
		RequestInfoFromContext: func(context.Context) RequestInfo {
			return RequestInfo{
				IP:        "203.0.113.7",
				UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
			}
		},
		NewID: internal.NewID,
		Store: h.sessions,
		Errors: SessionErrors{
			EngineNotReady:     errNotReady,
			NotFound:           errSessionMissing,
			ServiceUnavailable: errUnavailable,
		},
	}
}

func (h *harness) issueTokens(id SessionIdentity, sid string) (TokenPair, error) {
	claims := jwt.Identity{
		TenantID:   id.TenantID,
		SubjectID:  id.UserID,
		Email:      id.Email,
		Role:       id.Role,
		SubRole:    id.SubRole,
		IsVerified: id.Verified,
		SessionID:  sid,
	}
	access, accessExp, err := h.codec.IssueAccess(claims)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := h.codec.IssueRefresh(claims)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// openSession creates an online session for userID through the lifecycle flow.
func (h *harness) openSession(t *testing.T, userID string) *session.Session {
	t.Helper()
	id := SessionIdentity{UserID: userID, Email: userID + "@x.com", Role: "client", Verified: true}
	sess, _, err := RunCreateSession(context.Background(), id, h.issueTokens, h.sessionDeps())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess
}
