package goIdentity

import (
	"context"
	"log/slog"
	"time"
)

type activityJob struct {
	ctx context.Context
	run func(context.Context)
}

// activityDispatcher runs fire-and-forget session work (touch, activity append) off
// the request path. Jobs never wait for room: a full buffer drops them. Each job runs
// under its own timeout on a context detached from the request.
type activityDispatcher struct {
	q *queue[activityJob]
}

func newActivityDispatcher(cfg ActivityConfig, timeout time.Duration, logger *slog.Logger) *activityDispatcher {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	exec := func(job activityJob) {
		ctx, cancel := context.WithTimeout(job.ctx, timeout)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("activity job panicked", "panic", r)
			}
		}()
		job.run(ctx)
	}
	return &activityDispatcher{q: newQueue(cfg.BufferSize, cfg.Workers, exec)}
}

// Enqueue schedules run and reports whether it was accepted.
func (d *activityDispatcher) Enqueue(ctx context.Context, run func(context.Context)) bool {
	if d == nil || run == nil {
		return false
	}
	return d.q.offer(activityJob{ctx: detachedContext(ctx), run: run})
}

// Close stops intake and waits for queued jobs to finish.
func (d *activityDispatcher) Close() {
	if d != nil {
		d.q.close()
	}
}

func (d *activityDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.q.dropped.Load()
}
