package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lumora/postdispatch/internal/alert"
	"github.com/lumora/postdispatch/internal/api"
	"github.com/lumora/postdispatch/internal/circuitbreaker"
	"github.com/lumora/postdispatch/internal/clock"
	"github.com/lumora/postdispatch/internal/config"
	"github.com/lumora/postdispatch/internal/db"
	"github.com/lumora/postdispatch/internal/dispatch"
	"github.com/lumora/postdispatch/internal/metrics"
	"github.com/lumora/postdispatch/internal/observ"
	"github.com/lumora/postdispatch/internal/redis"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting postdispatch server",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	ctx := context.Background()

	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	repo := db.NewRepository(database, logger)

	// Redis backs the trigger rate limiter; the engine itself runs fine
	// without it.
	var rateLimiter *redis.RateLimiter
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, trigger rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	} else {
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  30,
			Window: 1 * time.Minute,
		})
		defer redisClient.Close()
	}

	var alerter dispatch.Alerter
	if cfg.AlertTopicARN != "" {
		publisher, err := alert.NewPublisher(ctx, cfg.AlertTopicARN, cfg.AWSRegion)
		if err != nil {
			logger.Warn("sns publisher unavailable, terminal-failure alerts disabled",
				zap.Error(err),
			)
		} else {
			alerter = publisher
		}
	}

	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig("webhook"), logger)
	dispatcher := dispatch.NewWebhookDispatcher(dispatch.WebhookConfig{
		URL:     cfg.WebhookURL,
		Timeout: time.Duration(cfg.WebhookTimeout) * time.Second,
	}, repo, breaker, logger)

	policy := dispatch.RetryPolicy{
		Base:       time.Duration(cfg.BackoffBaseMinutes) * time.Minute,
		Cap:        time.Duration(cfg.BackoffCapMinutes) * time.Minute,
		MaxRetries: cfg.MaxRetries,
	}

	orchestrator := dispatch.NewOrchestrator(
		repo,
		dispatcher,
		policy,
		clock.SystemClock{},
		alerter,
		dispatch.Config{
			BatchLimit: cfg.BatchLimit,
			StaleAfter: time.Duration(cfg.StaleReclaimMinutes) * time.Minute,
		},
		logger,
	)

	runnerCtx, runnerCancel := context.WithCancel(context.Background())
	defer runnerCancel()

	if cfg.PollIntervalSeconds > 0 {
		runner := dispatch.NewRunner(orchestrator,
			time.Duration(cfg.PollIntervalSeconds)*time.Second, logger)
		go runner.Start(runnerCtx)
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute)) // a trigger waits for the whole batch
	r.Use(metrics.Middleware)

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	handler := api.NewHandler(logger, repo, orchestrator, cfg.TriggerSecret)

	r.Route("/v1", func(r chi.Router) {
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.IPKeyFunc))

		r.Post("/dispatch/run", handler.RunDispatch)
		r.Get("/schedules/{id}", handler.GetSchedule)
		r.Get("/schedules/{id}/attempts", handler.ListAttempts)
		r.Post("/schedules/{id}/reschedule", handler.Reschedule)
		r.Post("/schedules/{id}/cancel", handler.Cancel)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unreachable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		runnerCancel()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
