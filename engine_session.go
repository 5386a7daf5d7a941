package goIdentity

import "context"

// GetSession returns a session of the current tenant, open or closed.
func (e *Engine) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	return e.flows.GetSession(ctx, sessionID)
}

// ListActiveSessions returns the online sessions of userID.
func (e *Engine) ListActiveSessions(ctx context.Context, userID string) ([]*Session, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	return e.flows.ListActiveSessions(ctx, userID)
}

// ListSessionHistory returns up to limit sessions of userID, newest login first. A
// zero limit uses Config.Session.HistoryLimit.
func (e *Engine) ListSessionHistory(ctx context.Context, userID string, limit int) ([]*Session, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	return e.flows.ListSessionHistory(ctx, userID, limit)
}

// SessionActivity returns the newest limit activity entries of a session, oldest
// first. A zero limit returns the whole stream.
func (e *Engine) SessionActivity(ctx context.Context, sessionID string, limit int64) ([]SessionActivity, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	return e.flows.SessionActivity(ctx, sessionID, limit)
}

// CloseAllSessions closes every online session of userID and reports how many it
// closed. Individual failures are logged and do not stop the others.
func (e *Engine) CloseAllSessions(ctx context.Context, userID, reason string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	if reason == "" {
		reason = CloseReasonManual
	}
	return e.flows.CloseAllSessions(ctx, userID, reason)
}

// SweepExpiredSessions closes online sessions whose access token has expired, across
// all tenants, with reason token_expired.
func (e *Engine) SweepExpiredSessions(ctx context.Context) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	return e.flows.SweepExpiredSessions(ctx)
}

// TouchSession records activity on sessionID synchronously. Missing or closed
// sessions are ignored and errors are only logged.
func (e *Engine) TouchSession(ctx context.Context, sessionID string) {
	if !e.ready() {
		return
	}
	e.flows.TouchSession(ctx, sessionID)
}

// TrackActivity schedules a TouchSession on the activity dispatcher and returns at
// once. It reports false when the engine is closed or the buffer is full.
func (e *Engine) TrackActivity(ctx context.Context, sessionID string) bool {
	if !e.ready() || sessionID == "" {
		return false
	}
	return e.activity.Enqueue(ctx, func(jobCtx context.Context) {
		e.flows.TouchSession(jobCtx, sessionID)
	})
}
