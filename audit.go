package goIdentity

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// AuditEvent is one security-relevant outcome: an OTP send or verify, a login, a
// refresh, a session close.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	TenantID  string            `json:"tenant_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

// NoOpSink discards every event.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, AuditEvent) {}

// FanOutSink hands every event to each of its sinks in order.
type FanOutSink []AuditSink

func (f FanOutSink) Emit(ctx context.Context, event AuditEvent) {
	for _, sink := range f {
		if sink != nil {
			sink.Emit(ctx, event)
		}
	}
}

// DefaultAuditStream is the Redis Stream RedisStreamSink appends to by default.
const DefaultAuditStream = "goidentity:audit"

// RedisStreamSink appends each event to a capped Redis Stream as one JSON field, so
// downstream consumers can read the audit trail with XREAD or a consumer group.
// Write errors are logged and the event is lost.
type RedisStreamSink struct {
	rdb    redis.UniversalClient
	stream string
	maxLen int64
	logger *slog.Logger
}

// NewRedisStreamSink returns a sink on stream (DefaultAuditStream when empty). A
// positive maxLen trims the stream approximately to that many entries.
func NewRedisStreamSink(rdb redis.UniversalClient, stream string, maxLen int64, logger *slog.Logger) *RedisStreamSink {
	if stream == "" {
		stream = DefaultAuditStream
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStreamSink{rdb: rdb, stream: stream, maxLen: maxLen, logger: logger}
}

func (s *RedisStreamSink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || s.rdb == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{"event_type": event.EventType, "tenant_id": event.TenantID, "event": data},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.rdb.XAdd(ctx, args).Err(); err != nil {
		s.logger.WarnContext(ctx, "audit stream append failed", "stream", s.stream, "event", event.EventType, "error", err)
	}
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
}

// SlogSink logs events through a structured logger: failures at Warn, the rest at
// Info.
type SlogSink struct {
	logger *slog.Logger
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil {
		return
	}
	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	attrs := []slog.Attr{
		slog.String("event", event.EventType),
		slog.Bool("success", event.Success),
		slog.Time("at", event.Timestamp),
	}
	for _, kv := range [][2]string{
		{"user_id", event.UserID},
		{"tenant_id", event.TenantID},
		{"session_id", event.SessionID},
		{"ip", event.IP},
		{"error", event.Error},
	} {
		if kv[1] != "" {
			attrs = append(attrs, slog.String(kv[0], kv[1]))
		}
	}
	if len(event.Metadata) > 0 {
		meta := make([]any, 0, len(event.Metadata))
		for k, v := range event.Metadata {
			meta = append(meta, slog.String(k, v))
		}
		attrs = append(attrs, slog.Group("meta", meta...))
	}
	s.logger.LogAttrs(ctx, level, "audit", attrs...)
}
