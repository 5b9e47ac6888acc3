// Package main is the entrypoint for the carinspect API server and analysis worker.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kiranshivaraju/carinspect/internal/ai"
	"github.com/kiranshivaraju/carinspect/internal/api"
	"github.com/kiranshivaraju/carinspect/internal/api/handler"
	mw "github.com/kiranshivaraju/carinspect/internal/api/middleware"
	"github.com/kiranshivaraju/carinspect/internal/api/response"
	"github.com/kiranshivaraju/carinspect/internal/cache"
	"github.com/kiranshivaraju/carinspect/internal/carlock"
	"github.com/kiranshivaraju/carinspect/internal/config"
	"github.com/kiranshivaraju/carinspect/internal/jobs"
	"github.com/kiranshivaraju/carinspect/internal/media"
	"github.com/kiranshivaraju/carinspect/internal/queue"
	"github.com/kiranshivaraju/carinspect/internal/report"
	"github.com/kiranshivaraju/carinspect/internal/store"
	"github.com/kiranshivaraju/carinspect/internal/worker"
	"github.com/kiranshivaraju/carinspect/pkg/models"
)

const shutdownTimeout = 30 * time.Second

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel()}
	if cfg.IsDevelopment() {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func run() error {
	// 1. Load config, fail fast on invalid config
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)
	slog.Info("config loaded",
		"ai_provider", cfg.AI.Provider,
		"storage", cfg.Storage.Type,
		"worker_enabled", cfg.Worker.Enabled,
		"env", cfg.Server.Env,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")
	pgStore := store.NewPostgresStore(pool)

	// 4. Redis cache and queue share one client
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	q := queue.NewRedisQueue(redisCache.Client(), queue.Config{
		Name:              cfg.Queue.Name,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
	})

	// 5. AI analyzer
	analyzer, err := ai.NewAnalyzer(cfg.AI)
	if err != nil {
		return fmt.Errorf("create analyzer: %w", err)
	}
	slog.Info("analyzer initialized", "backend", analyzer.Name())

	// 6. Media resolution
	var presigner media.Presigner
	if cfg.Storage.Type == "s3" {
		s3p, err := media.NewS3Presigner(cfg.Storage.S3)
		if err != nil {
			return fmt.Errorf("create s3 presigner: %w", err)
		}
		presigner = s3p
	}
	resolver := media.NewResolver(cfg.Server.InternalURL, presigner, cfg.Storage.URLTTL)

	// 7. Domain services
	jobService := jobs.NewService(pgStore, q, redisCache, jobs.Config{
		MaxRetries:     cfg.Jobs.MaxRetries,
		StatusCacheTTL: cfg.Jobs.StatusCacheTTL,
	})
	coordinator := carlock.NewCoordinator(pgStore, jobService)
	reports := report.NewService(pgStore)
	policy := queue.RetryPolicy{MaxAttempts: cfg.Jobs.MaxRetries, BaseDelay: cfg.Jobs.BackoffBase}

	// 8. Build router with dependencies
	cars := handler.NewCarHandler(coordinator, reports)
	jobHandler := handler.NewJobHandler(jobService, coordinator, coordinator)

	router := api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(redisCache, cfg.RateLimit.RequestsPerMinute),

		HealthHandler: healthHandler(pgStore, redisCache, analyzer),

		CreateCar:     cars.Create,
		GetCar:        cars.Get,
		UpdateCar:     cars.Update,
		AttachMedia:   cars.AttachMedia,
		DetachMedia:   cars.DetachMedia,
		ValidateMedia: cars.ValidateMedia,
		CarSummary:    cars.Summary,
		TransitionCar: cars.Transition,
		SubmitCar:     cars.Submit,
		CarReport:     cars.Report,
		ListCarJobs:   jobHandler.ListByCar,
		GetJob:        jobHandler.Get,
		GetJobStatus:  jobHandler.Status,
		RetryJob:      jobHandler.Retry,
		CancelJob:     jobHandler.Cancel,
	})

	// 9. Start HTTP server and worker pool
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, draining connections...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if cfg.Worker.Enabled {
		processor := worker.NewProcessor(worker.Deps{
			Jobs:     jobService,
			Cars:     coordinator,
			CarData:  pgStore,
			Reports:  reports,
			Resolver: resolver,
			Analyzer: analyzer,
		}, worker.ProcessorConfig{
			Policy:             policy,
			FailFastOnNoImages: cfg.Worker.FailFastOnNoImages,
		})

		wcfg := worker.DefaultConfig()
		wcfg.Concurrency = cfg.Worker.Concurrency
		wcfg.PollInterval = cfg.Worker.PollInterval
		wcfg.ShutdownTimeout = cfg.Worker.ShutdownTimeout

		workers, err := worker.NewPool(q, processor, policy, wcfg, logger)
		if err != nil {
			return fmt.Errorf("create worker pool: %w", err)
		}
		g.Go(func() error {
			return workers.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("server stopped gracefully")
	return nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler checks database and cache connectivity. The analysis service is
// reported but never fails the check, since jobs queue up and retry while it is down.
func healthHandler(db, c pinger, analyzer models.Analyzer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database":    "ok",
			"cache":       "ok",
			"ai_analyzer": "ok",
		}

		if err := db.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}
		if analyzer != nil {
			if err := analyzer.Ping(r.Context()); err != nil {
				checks["ai_analyzer"] = "degraded"
			}
		}

		if checks["database"] != "ok" || checks["cache"] != "ok" {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		status := "ok"
		if checks["ai_analyzer"] != "ok" {
			status = "degraded"
		}
		response.JSON(w, map[string]any{
			"status":   status,
			"services": checks,
		})
	}
}
