package goIdentity

import "context"

// auditDispatcher hands events to the sink on a single worker so the sink sees them
// in emit order. With DropIfFull a full buffer drops the event; otherwise Emit waits
// for room until ctx ends. A nil dispatcher (audit disabled) ignores everything.
type auditDispatcher struct {
	q          *queue[AuditEvent]
	dropIfFull bool
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	emit := func(event AuditEvent) { sink.Emit(context.Background(), event) }
	return &auditDispatcher{
		q:          newQueue(cfg.BufferSize, 1, emit),
		dropIfFull: cfg.DropIfFull,
	}
}

func (d *auditDispatcher) Emit(ctx context.Context, event AuditEvent) {
	if d == nil {
		return
	}
	if d.dropIfFull {
		d.q.offer(event)
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	d.q.put(ctx, event)
}

// Close stops intake and flushes buffered events to the sink.
func (d *auditDispatcher) Close() {
	if d != nil {
		d.q.close()
	}
}

func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.q.dropped.Load()
}
