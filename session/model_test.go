package session

import (
	"testing"
	"time"
)

func TestPresence(t *testing.T) {
	now := time.Now()
	sess := &Session{Status: StatusOnline, LastActivity: now.Add(-20 * time.Minute)}

	if got := sess.Presence(now, 15*time.Minute); got != StatusIdle {
		t.Fatalf("expected idle, got %s", got)
	}
	if got := sess.Presence(now, time.Hour); got != StatusOnline {
		t.Fatalf("expected online, got %s", got)
	}
	if got := sess.Presence(now, 0); got != StatusOnline {
		t.Fatalf("idle detection must be disabled by zero window, got %s", got)
	}

	logout := now
	sess.Status = StatusOffline
	sess.LogoutAt = &logout
	if got := sess.Presence(now, time.Minute); got != StatusOffline {
		t.Fatalf("expected offline, got %s", got)
	}
}

func TestWholeMinutes(t *testing.T) {
	base := time.Now()
	cases := []struct {
		d    time.Duration
		want int
	}{
		{0, 0},
		{59 * time.Second, 0},
		{60 * time.Second, 1},
		{119 * time.Second, 1},
		{3 * time.Hour, 180},
		{-time.Minute, 0},
	}
	for _, tc := range cases {
		if got := wholeMinutes(base, base.Add(tc.d)); got != tc.want {
			t.Fatalf("wholeMinutes(%v) = %d, want %d", tc.d, got, tc.want)
		}
	}
}
