// Command identityd runs the background maintenance of a goIdentity deployment: it
// closes sessions whose access token expired and removes stale OTP challenges on a
// fixed interval. Configuration comes from the environment (see goIdentity.LoadConfig).
//
//	ACCESS_SECRET=... REFRESH_SECRET=... REDIS_ADDR=localhost:6379 go run ./cmd/identityd
//
// With DATABASE_URL set the schema migrations are applied and the PostgreSQL user
// directory is used. With NOTIFIER_STREAM set codes are published to that Redis stream.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/directory/memory"
	"github.com/MrEthical07/goIdentity/directory/pg"
	"github.com/MrEthical07/goIdentity/metrics/export/prometheus"
	"github.com/MrEthical07/goIdentity/notify"
)

func main() {
	metricsAddr := flag.String("metrics-addr", ":9090", "address serving /metrics and /healthz; empty disables")
	flag.Parse()

	settings, err := goIdentity.LoadConfig(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: settings.LogLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, settings, *metricsAddr, logger); err != nil {
		logger.Error("identityd stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, settings *goIdentity.Settings, metricsAddr string, logger *slog.Logger) error {
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{settings.RedisAddr}})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	var directory goIdentity.UserDirectory = memory.New()
	if settings.DatabaseURL != "" {
		if err := pg.Migrate(settings.DatabaseURL); err != nil {
			return err
		}
		pool, err := pg.NewPool(ctx, settings.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		directory = pg.New(pool)
	} else {
		logger.Warn("DATABASE_URL not set, using an empty in-memory user directory")
	}

	var notifier goIdentity.Notifier = notify.LogNotifier{Logger: logger}
	if settings.NotifierStream != "" {
		sn, err := notify.NewStreamNotifier(rdb, notify.StreamOptions{Stream: settings.NotifierStream, MaxLen: 100_000})
		if err != nil {
			return err
		}
		notifier = sn
	}

	var auditSink goIdentity.AuditSink = goIdentity.NewSlogSink(logger)
	if settings.AuditStream != "" {
		auditSink = goIdentity.FanOutSink{
			auditSink,
			goIdentity.NewRedisStreamSink(rdb, settings.AuditStream, 1_000_000, logger),
		}
	}

	engine, err := goIdentity.New().
		WithConfig(settings.Config).
		WithRedis(rdb).
		WithUserDirectory(directory).
		WithNotifier(notifier).
		WithAuditSink(auditSink).
		WithLogger(logger).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	if metricsAddr != "" {
		srv := metricsServer(metricsAddr, engine)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("identityd started", "redis", settings.RedisAddr, "sweep_interval", settings.SweepInterval.String())
	(&sweeper{engine: engine, interval: settings.SweepInterval, logger: logger}).run(ctx)
	logger.Info("identityd shutting down")
	return nil
}

func metricsServer(addr string, engine *goIdentity.Engine) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", prometheus.NewExporter(engine).Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := engine.Ping(r.Context()); err != nil {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
