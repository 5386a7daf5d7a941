package rate

func loginEmailKey(tenantID, email string) string {
	return "gid:rl:" + tenant(tenantID) + ":login:email:" + email
}

func loginIPKey(tenantID, ip string) string {
	return "gid:rl:" + tenant(tenantID) + ":login:ip:" + ip
}

func refreshKey(tenantID, sessionID string) string {
	return "gid:rl:" + tenant(tenantID) + ":refresh:" + sessionID
}

// OTPKey scopes an OTP throttle counter. op is "send" or "verify"; scope is "email"
// or "ip".
func OTPKey(tenantID, op, scope, value string) string {
	return "gid:rl:" + tenant(tenantID) + ":otp:" + op + ":" + scope + ":" + value
}

func tenant(tenantID string) string {
	if tenantID == "" {
		return "0"
	}
	return tenantID
}
