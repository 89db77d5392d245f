// Package main is the entrypoint for the MerchMate API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/merchmate/internal/api"
	"github.com/kiranshivaraju/merchmate/internal/api/handler"
	mw "github.com/kiranshivaraju/merchmate/internal/api/middleware"
	"github.com/kiranshivaraju/merchmate/internal/api/response"
	"github.com/kiranshivaraju/merchmate/internal/cache"
	"github.com/kiranshivaraju/merchmate/internal/config"
	"github.com/kiranshivaraju/merchmate/internal/gate"
	"github.com/kiranshivaraju/merchmate/internal/imagegen"
	"github.com/kiranshivaraju/merchmate/internal/orchestrator"
	"github.com/kiranshivaraju/merchmate/internal/registry"
	"github.com/kiranshivaraju/merchmate/internal/store"
	"github.com/kiranshivaraju/merchmate/internal/stream"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		bootstrap := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootstrap.Error().Err(err).Msg("server failed")
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid values
	if err := config.LoadEnvFiles(".env.local", ".env"); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg)
	logger.Info().
		Str("backend", cfg.Generator.Backend).
		Str("env", cfg.Server.Env).
		Int("max_concurrent", cfg.Generator.MaxConcurrent).
		Msg("config loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Optional archive database
	var (
		pgStore store.Store
		archive orchestrator.Archive
		stats   handler.StatsReader
	)
	if cfg.Database.URL != "" {
		pool, err := store.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
		logger.Info().Msg("database connected")

		if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		logger.Info().Msg("database migrations applied")

		pg := store.NewPostgresStore(pool)
		pgStore, archive, stats = pg, pg, pg
	} else {
		logger.Info().Msg("DATABASE_URL not set, job archive disabled")
	}

	// 3. Optional Redis for rate limiting and converted downloads
	var redisCache cache.Cache
	if cfg.Redis.URL != "" {
		rc, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("create redis cache: %w", err)
		}
		defer rc.Close()

		if err := rc.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		redisCache = rc
		logger.Info().Msg("redis connected")
	} else {
		logger.Info().Msg("REDIS_URL not set, rate limiting disabled")
	}

	// 4. Generation backend
	gen, err := imagegen.NewGenerator(cfg.Generator, logger)
	if err != nil {
		return fmt.Errorf("create generator: %w", err)
	}
	logger.Info().Str("generator", gen.Name()).Msg("generator initialized")

	// 5. Job state and orchestration
	reg := registry.New()
	activity := gate.New()
	orch := orchestrator.New(gen, reg, activity, orchestrator.Options{
		Logger:        logger,
		MaxConcurrent: cfg.Generator.MaxConcurrent,
		Archive:       archive,
		Exclusive:     !cfg.Server.AllowConcurrentSubmissions,
	})

	hub := stream.NewHub(reg, logger)
	go hub.Run(ctx)
	unsubscribe := reg.Subscribe(hub.Publish)
	defer unsubscribe()

	// 6. Build router with dependencies
	submitOpts := handler.SubmitOptions{Logger: logger}

	deps := api.Dependencies{
		Logger:       logger,
		RateLimit:    rateLimiter(redisCache, cfg, logger),
		CORSOrigins:  cfg.Server.CORSOrigins,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,

		HealthHandler:       healthHandler(pgStore, redisCache),
		LegacyHealthHandler: handler.NewLegacyHealthHandler(time.Now),
		GenerateHandler:     handler.NewGenerateHandler(gen, logger),

		SubmitBatchHandler: handler.NewSubmitBatchHandler(orch, activity, submitOpts),
		SubmitMerchHandler: handler.NewSubmitMerchHandler(orch, activity, submitOpts),
		SubmitEditHandler:  handler.NewSubmitEditHandler(orch, activity, submitOpts),
		ListJobsHandler:    handler.NewListJobsHandler(orch),
		GetJobHandler:      handler.NewGetJobHandler(reg),
		DownloadHandler: handler.NewDownloadHandler(reg, handler.DownloadOptions{
			Cache:  redisCache,
			Logger: logger,
		}),
		ActivityHandler: handler.NewActivityHandler(activity),
		ProductsHandler: handler.NewProductsHandler(),
		StreamHandler:   hub.ServeWS,
	}
	if stats != nil {
		deps.StatsHandler = handler.NewStatsHandler(stats, logger)
	}

	router := api.NewRouter(deps)

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// Generation proxies wait on the backend for up to the generator timeout.
		WriteTimeout: cfg.Generator.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received, draining connections")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := orch.Wait(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("in-flight jobs did not settle before shutdown")
	}

	logger.Info().Msg("server stopped gracefully")
	return nil
}

// newLogger returns a JSON logger, or a console logger at debug level in development.
func newLogger(cfg *config.Config) zerolog.Logger {
	level := zerolog.InfoLevel
	if cfg.IsDevelopment() {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	if cfg.IsDevelopment() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger
}

func rateLimiter(c cache.Cache, cfg *config.Config, logger zerolog.Logger) *mw.RateLimit {
	if c == nil {
		return nil
	}
	return mw.NewRateLimit(c, cfg.Redis.RequestsPerMinute, cfg.Server.TrustedProxies, logger)
}

// healthHandler checks database and cache connectivity. A dependency that
// is not configured reports "disabled" and does not degrade the server.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "disabled",
			"cache":    "disabled",
		}

		if s != nil {
			checks["database"] = "ok"
			if err := s.Ping(r.Context()); err != nil {
				checks["database"] = "degraded"
			}
		}
		if c != nil {
			checks["cache"] = "ok"
			if err := c.Ping(r.Context()); err != nil {
				checks["cache"] = "degraded"
			}
		}

		if checks["database"] == "degraded" || checks["cache"] == "degraded" {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
