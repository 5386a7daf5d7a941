// Package limiters provides the volume throttles that sit in front of the OTP
// lifecycle.
//
// [OTPLimiter] counts sends and verifies per identifier and per IP on rate.Window
// counters. A throttled call returns an error matching [ErrOTPThrottled] that also
// carries the remaining window (see rate.RetryAfter). Methods on a nil receiver
// allow everything.
//
// The per-challenge resend delay is not enforced here; the OTP store owns that.
package limiters
