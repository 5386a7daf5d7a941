package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"strings"

	goIdentity "github.com/MrEthical07/goIdentity"
)

type claimsContextKey struct{}

// ClaimsFromContext returns the claims stored by Guard.
func ClaimsFromContext(ctx context.Context) (*goIdentity.TokenClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*goIdentity.TokenClaims)
	return claims, ok
}

// Guard rejects requests without a valid access token with 401. Infrastructure
// failures answer 503 so clients do not discard their tokens.
func Guard(engine *goIdentity.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := engine.ValidateAccess(r.Context(), token)
			if err != nil {
				if errors.Is(err, goIdentity.ErrServiceUnavailable) {
					http.Error(w, "service unavailable", http.StatusServiceUnavailable)
					return
				}
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Activity records a touch on the caller's session after Guard has run. The touch
// happens on the engine's activity workers.
func Activity(engine *goIdentity.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if claims, ok := ClaimsFromContext(r.Context()); ok && engine != nil {
				engine.TrackActivity(r.Context(), claims.SessionID)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestOption tunes RequestContext.
type RequestOption func(*requestOptions)

type requestOptions struct {
	trustedProxies []netip.Prefix
}

// TrustProxies makes RequestContext honor X-Forwarded-For, but only when the peer
// address lies in one of prefixes. Hops are read right to left and trusted hops are
// skipped, so the client IP is the first address no trusted proxy vouches past.
func TrustProxies(prefixes ...netip.Prefix) RequestOption {
	return func(o *requestOptions) {
		o.trustedProxies = append(o.trustedProxies, prefixes...)
	}
}

// RequestContext populates the request metadata the engine attaches to sessions.
// tenantHeader names the header carrying the tenant; empty disables it. The client
// IP is the peer address unless TrustProxies says otherwise.
func RequestContext(tenantHeader string, opts ...RequestOption) func(http.Handler) http.Handler {
	var o requestOptions
	for _, opt := range opts {
		opt(&o)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ctx = goIdentity.WithClientIP(ctx, clientIP(r, o.trustedProxies))
			ctx = goIdentity.WithUserAgent(ctx, r.UserAgent())
			ctx = goIdentity.WithRequestRoute(ctx, r.URL.Path, r.Method, r.TLS != nil)
			if tenantHeader != "" {
				if tenant := strings.TrimSpace(r.Header.Get(tenantHeader)); tenant != "" {
					ctx = goIdentity.WithTenantID(ctx, tenant)
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func clientIP(r *http.Request, trusted []netip.Prefix) string {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}
	if len(trusted) == 0 || !isTrusted(peer, trusted) {
		return peer
	}

	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	client := peer
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if _, err := netip.ParseAddr(hop); err != nil {
			break
		}
		client = hop
		if !isTrusted(hop, trusted) {
			break
		}
	}
	return client
}

func isTrusted(ip string, trusted []netip.Prefix) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
