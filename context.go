package goIdentity

import (
	"context"

	"github.com/MrEthical07/goIdentity/internal/flows"
)

type clientIPContextKey struct{}
type tenantIDContextKey struct{}
type userAgentContextKey struct{}
type requestRouteContextKey struct{}
type locationContextKey struct{}

type requestRoute struct {
	route    string
	method   string
	isSecure bool
}

// Location is the coarse geolocation of a request, as resolved by the host.
type Location struct {
	Country  string
	City     string
	Timezone string
}

// WithClientIP attaches the caller's IP address to ctx. The Engine uses it for
// per-IP throttling, audit events and session location.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithTenantID attaches a tenant identifier to ctx. Every store key is namespaced
// by it; without one the default tenant "0" is used.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDContextKey{}, tenantID)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx. Session creation
// classifies the device from it.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithRequestRoute records the route, method and transport security of the current
// request for session activity entries.
func WithRequestRoute(ctx context.Context, route, method string, isSecure bool) context.Context {
	return context.WithValue(ctx, requestRouteContextKey{}, requestRoute{route: route, method: method, isSecure: isSecure})
}

// WithLocation attaches a resolved geolocation to ctx.
func WithLocation(ctx context.Context, loc Location) context.Context {
	return context.WithValue(ctx, locationContextKey{}, loc)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	return userAgent
}

func tenantIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return "0"
	}

	tenantID, _ := ctx.Value(tenantIDContextKey{}).(string)
	if tenantID == "" {
		return "0"
	}

	return tenantID
}

func requestInfoFromContext(ctx context.Context) flows.RequestInfo {
	info := flows.RequestInfo{
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
	}
	if ctx == nil {
		return info
	}
	if rr, ok := ctx.Value(requestRouteContextKey{}).(requestRoute); ok {
		info.Route = rr.route
		info.Method = rr.method
		info.IsSecure = rr.isSecure
	}
	if loc, ok := ctx.Value(locationContextKey{}).(Location); ok {
		info.Country = loc.Country
		info.City = loc.City
		info.Timezone = loc.Timezone
	}
	return info
}

// detachedContext keeps the request-scoped values of ctx for background work that
// must outlive the request.
func detachedContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}

// TenantID returns the tenant carried by ctx, or "0" when none was set.
func TenantID(ctx context.Context) string {
	return tenantIDFromContext(ctx)
}

// ClientIP returns the caller IP carried by ctx, or "" when none was set.
func ClientIP(ctx context.Context) string {
	return clientIPFromContext(ctx)
}
