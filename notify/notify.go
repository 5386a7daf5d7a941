// Package notify delivers one-time codes produced by the engine. LogNotifier writes
// them to a slog.Logger for development. StreamNotifier appends them to a Redis
// stream consumed by a separate mail worker.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	goIdentity "github.com/MrEthical07/goIdentity"
)

// DefaultStream is the stream key used when none is configured.
const DefaultStream = "goidentity:codes"

// LogNotifier logs each code instead of sending it.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) SendCode(ctx context.Context, email, code, purpose, displayName string) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.LogAttrs(ctx, slog.LevelInfo, "one-time code issued",
		slog.String("email", email),
		slog.String("code", code),
		slog.String("purpose", purpose),
		slog.String("display_name", displayName),
		slog.String("tenant_id", goIdentity.TenantID(ctx)),
	)
	return nil
}

// StreamOptions configures StreamNotifier.
type StreamOptions struct {
	Stream string
	// MaxLen caps the stream approximately. Zero leaves it unbounded.
	MaxLen int64
	Now    func() time.Time
}

// StreamNotifier publishes codes with XADD. Each entry carries the tenant, email,
// code, purpose, display name and the Unix time it was queued.
type StreamNotifier struct {
	rdb    redis.UniversalClient
	stream string
	maxLen int64
	now    func() time.Time
}

func NewStreamNotifier(rdb redis.UniversalClient, opts StreamOptions) (*StreamNotifier, error) {
	if rdb == nil {
		return nil, errors.New("notify: redis client is required")
	}
	stream := strings.TrimSpace(opts.Stream)
	if stream == "" {
		stream = DefaultStream
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &StreamNotifier{rdb: rdb, stream: stream, maxLen: opts.MaxLen, now: now}, nil
}

func (n *StreamNotifier) SendCode(ctx context.Context, email, code, purpose, displayName string) error {
	args := &redis.XAddArgs{
		Stream: n.stream,
		Values: map[string]any{
			"tenant_id":    goIdentity.TenantID(ctx),
			"email":        email,
			"code":         code,
			"purpose":      purpose,
			"display_name": displayName,
			"queued_at":    n.now().Unix(),
		},
	}
	if n.maxLen > 0 {
		args.MaxLen = n.maxLen
		args.Approx = true
	}
	return n.rdb.XAdd(ctx, args).Err()
}

var (
	_ goIdentity.Notifier = LogNotifier{}
	_ goIdentity.Notifier = (*StreamNotifier)(nil)
)
