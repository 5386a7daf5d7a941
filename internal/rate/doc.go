// Package rate provides the fixed-window counters guarding login, refresh and the OTP
// send/verify volume.
//
// A [Window] counts with one Lua script (INCR, PEXPIRE on the first hit, PTTL) so the
// count and the remaining window come back in a single round trip. A spent budget is a
// [*LimitedError] carrying that remaining window. Keys are tenant-scoped:
//
//	gid:rl:<tenant>:login:email:<email>
//	gid:rl:<tenant>:login:ip:<ip>
//	gid:rl:<tenant>:refresh:<session>
//	gid:rl:<tenant>:otp:<send|verify>:<email|ip>:<value>
//
// Callers decide what a spent budget means; this package only reports it.
package rate
