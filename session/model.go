package session

import (
	"time"
)

// Status is the stored presence of a session.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	// StatusIdle is never stored; see [Session.Presence].
	StatusIdle Status = "idle"
)

// Action labels an activity stream entry.
type Action string

const (
	ActionLogin    Action = "login"
	ActionLogout   Action = "logout"
	ActionRefresh  Action = "refresh"
	ActionActivity Action = "activity"
	ActionTimeout  Action = "timeout"
)

// Device is the best-effort classification of the client user agent.
type Device struct {
	Type     string `json:"type"`
	Browser  string `json:"browser"`
	OS       string `json:"os"`
	Platform string `json:"platform"`
}

// Location is where the login came from. Only IP is filled by the core; country, city
// and timezone come from the caller when it has them.
type Location struct {
	IP       string `json:"ip,omitempty"`
	Country  string `json:"country,omitempty"`
	City     string `json:"city,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// Security holds transport facts about the login request.
type Security struct {
	UserAgent    string `json:"user_agent,omitempty"`
	IsSecure     bool   `json:"is_secure"`
	TokenVersion int    `json:"token_version"`
}

// Session is one authenticated device/browser instance.
//
// Invariant: Status is online exactly while LogoutAt is nil.
type Session struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	UserID    string `json:"user_id"`
	UserRole  string `json:"user_role"`
	UserEmail string `json:"user_email"`
	UserName  string `json:"user_name,omitempty"`

	LoginAt      time.Time  `json:"login_at"`
	LogoutAt     *time.Time `json:"logout_at,omitempty"`
	LastActivity time.Time  `json:"last_activity"`
	Status       Status     `json:"status"`

	Device   Device   `json:"device"`
	Location Location `json:"location"`
	Security Security `json:"security"`

	AccessToken    string    `json:"access_token"`
	RefreshToken   string    `json:"refresh_token"`
	TokenExpiresAt time.Time `json:"token_expires_at"`

	// Duration is the session length in whole minutes, set on close.
	Duration      *int   `json:"duration,omitempty"`
	ActivityCount int64  `json:"activity_count"`
	CloseReason   string `json:"close_reason,omitempty"`
}

// Online reports whether the session has not been closed.
func (s *Session) Online() bool {
	return s != nil && s.Status == StatusOnline && s.LogoutAt == nil
}

// Presence is the display status: online sessions without activity for idleAfter
// are reported idle. A non-positive idleAfter disables idle detection.
func (s *Session) Presence(now time.Time, idleAfter time.Duration) Status {
	if !s.Online() {
		return StatusOffline
	}
	if idleAfter > 0 && now.Sub(s.LastActivity) >= idleAfter {
		return StatusIdle
	}
	return StatusOnline
}

// Activity is one append-only entry of a session's activity stream.
type Activity struct {
	ID        string            `json:"id,omitempty"`
	SessionID string            `json:"session_id"`
	UserID    string            `json:"user_id"`
	Action    Action            `json:"action"`
	Timestamp time.Time         `json:"timestamp"`
	Details   map[string]string `json:"details,omitempty"`
}

// Ref addresses a session across tenants.
type Ref struct {
	TenantID  string
	SessionID string
}

func wholeMinutes(from, to time.Time) int {
	d := to.Sub(from)
	if d < 0 {
		return 0
	}
	return int(d / time.Minute)
}
