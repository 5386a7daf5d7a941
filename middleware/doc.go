// Package middleware adapts goIdentity.Engine to net/http.
//
// [Guard] reads the bearer token, calls Engine.ValidateAccess and stores the claims
// in the request context. [RequestContext] copies client IP, user agent, tenant and
// route into the context the engine reads its session metadata from. [Activity]
// schedules a session touch for every authenticated request without blocking it.
//
// This package does not parse tokens or talk to Redis itself.
package middleware
