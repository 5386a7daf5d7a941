package main

import (
	"context"
	"log/slog"
	"time"
)

type maintenanceEngine interface {
	SweepExpiredSessions(ctx context.Context) (int, error)
	CleanupExpiredOTPs(ctx context.Context) (int, error)
}

// sweeper runs the periodic session expiry sweep and OTP cleanup.
type sweeper struct {
	engine   maintenanceEngine
	interval time.Duration
	logger   *slog.Logger
}

// runOnce performs one pass. A failure in one job does not skip the other.
func (s *sweeper) runOnce(ctx context.Context) (expired, removed int) {
	var err error
	expired, err = s.engine.SweepExpiredSessions(ctx)
	if err != nil {
		s.logger.Error("session sweep failed", "err", err)
	}
	removed, err = s.engine.CleanupExpiredOTPs(ctx)
	if err != nil {
		s.logger.Error("otp cleanup failed", "err", err)
	}
	if expired > 0 || removed > 0 {
		s.logger.Info("maintenance pass", "sessions_expired", expired, "otps_removed", removed)
	}
	return expired, removed
}

// run blocks until ctx is done.
func (s *sweeper) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}
