// Command transferdesk serves the cross-border data-transfer compliance
// review API.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/transferdesk/transferdesk/pkg/api"
	"github.com/transferdesk/transferdesk/pkg/audit"
	"github.com/transferdesk/transferdesk/pkg/config"
	"github.com/transferdesk/transferdesk/pkg/kvstore"
	"github.com/transferdesk/transferdesk/pkg/notify"
	"github.com/transferdesk/transferdesk/pkg/review"
)

func main() {
	os.Exit(run(os.Stderr))
}

func run(stderr io.Writer) int {
	cfg := config.Load()
	logger := newLogger(stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	store, closer, err := openStore(cfg)
	if err != nil {
		logger.Error("store init failed", "backend", cfg.StoreBackend, "error", err)
		return 1
	}
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}

	profile, err := config.LoadProfile(cfg.ProfilePath)
	if err != nil {
		logger.Error("review profile load failed", "path", cfg.ProfilePath, "error", err)
		return 1
	}

	var sink notify.Sink = notify.NewLogSink(logger)
	if cfg.WebhookURL != "" {
		sink = notify.NewWebhookSink(cfg.WebhookURL, 5*time.Second)
	}

	engine := review.NewEngine(store, audit.NewTrail(store), sink,
		review.WithLogger(logger),
		review.WithProfile(profile),
	)

	handler, err := api.NewHandler(engine, logger)
	if err != nil {
		logger.Error("api init failed", "error", err)
		return 1
	}

	limiter := api.NewGlobalRateLimiter(cfg.RateRPS, cfg.RateBurst)
	root := api.RequestID(api.RequestLogger(logger)(limiter.Middleware(handler.Routes())))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr, "store", cfg.StoreBackend)
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Error("server failed", "error", err)
		return 1
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", "error", err)
		return 1
	}
	return 0
}

// openStore selects the persistence backend named in config. The returned
// closer is nil for backends with nothing to release.
func openStore(cfg *config.Config) (kvstore.Store, io.Closer, error) {
	switch strings.ToLower(cfg.StoreBackend) {
	case "memory":
		return kvstore.NewMemoryStore(), nil, nil
	case "sqlite":
		s, err := kvstore.OpenSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "postgres":
		s, err := kvstore.OpenPostgresStore(cfg.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "redis":
		s := kvstore.NewRedisStore(cfg.RedisAddr, os.Getenv("REDIS_PASSWORD"), cfg.RedisDB)
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}
