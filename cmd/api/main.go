package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bugradar/bugradar/internal/app/migrate"
	httpx "github.com/bugradar/bugradar/internal/http"
	"github.com/bugradar/bugradar/internal/repository/postgres"
	"github.com/bugradar/bugradar/internal/service/apikey"
	"github.com/bugradar/bugradar/internal/service/auth"
	"github.com/bugradar/bugradar/internal/service/events"
	"github.com/bugradar/bugradar/internal/service/latency"
	"github.com/bugradar/bugradar/internal/service/metrics"
	"github.com/bugradar/bugradar/internal/service/project"
	"github.com/bugradar/bugradar/internal/service/recurrence"
	"github.com/bugradar/bugradar/internal/service/status"
	"github.com/bugradar/bugradar/internal/ws"
	"github.com/bugradar/bugradar/pkg/config"
	"github.com/bugradar/bugradar/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	repo := postgres.New(pool)
	if err := repo.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	loc := cfg.Location()
	hub := ws.NewHub()
	defer hub.Close()

	eventSvc := events.New(repo, hub, log)
	latencySvc := latency.NewService(repo, repo, log, cfg.LatencyBucketSpan, cfg.LatencyFlushEvery)
	latencyDone := make(chan struct{})
	go func() {
		defer close(latencyDone)
		latencySvc.Run(ctx)
	}()

	health := map[string]httpx.HealthCheck{"database": repo.Ping}
	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable, using in-memory limiter", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
			health["redis"] = redisLimiter.Ping
		}
	}
	if cfg.LegacyIngestEnabled {
		log.Warn("legacy body-addressed ingestion is enabled")
	}

	router := httpx.NewRouter(httpx.Options{
		Logger:        log,
		Auth:          auth.New(repo, log, cfg),
		Projects:      project.New(repo, log),
		Keys:          apikey.NewResolver(repo),
		Events:        eventSvc,
		Latency:       latencySvc,
		Status:        status.New(repo, eventSvc, cfg.UptimeFreshness, log),
		Metrics:       metrics.New(repo, loc, cfg.NoisyStatsQueryTimeout),
		Recurrence:    recurrence.New(repo, loc),
		Limiter:       limiter,
		Health:        health,
		LegacyIngest:  cfg.LegacyIngestEnabled,
		AllowOrigins:  httpx.SplitOrigins(cfg.CORSAllowedOrigin),
		Heartbeat:     cfg.LiveStreamHeartbeat,
		IsDevelopment: cfg.Environment == "development",
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "env", cfg.Environment, "timezone", loc.String())
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		select {
		case <-latencyDone:
		case <-shutdownCtx.Done():
			log.Warn("latency flusher did not finish before shutdown deadline")
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
