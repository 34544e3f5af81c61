package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/DukeRupert/wellpass/internal"
	"github.com/DukeRupert/wellpass/internal/app"
	"github.com/DukeRupert/wellpass/internal/auth"
	"github.com/DukeRupert/wellpass/internal/handler"
	"github.com/DukeRupert/wellpass/internal/jobs"
	"github.com/DukeRupert/wellpass/internal/metrics"
	"github.com/DukeRupert/wellpass/internal/middleware"
	"github.com/DukeRupert/wellpass/internal/worker"
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// The store may be unreachable at startup. Migrations are retried on
	// every reconnect until they succeed, before the queue is replayed.
	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := a.EnsureSchema(migrateCtx); err != nil {
		logger.Warn("Migrations deferred until the store is reachable", "error", err)
	}
	cancel()

	a.Monitor.OnOnline(func(ctx context.Context) {
		if err := a.EnsureSchema(ctx); err != nil {
			logger.Error("Migration failed", "error", err)
		}
	})
	jobs.ReplayOnReconnect(a.Monitor, a.Clients, logger)

	// ==========================================================================
	// Background tasks
	// ==========================================================================

	workerCfg := worker.DefaultConfig()
	workerCfg.PollInterval = cfg.WorkerPollInterval
	workerCfg.TaskTimeout = cfg.WorkerJobTimeout
	runner, err := worker.New(workerCfg, logger)
	if err != nil {
		return fmt.Errorf("worker initialization failed: %w", err)
	}
	runner.Register(jobs.NewProbeTask(a.Monitor), cfg.ConnectivityInterval)
	runner.Register(jobs.NewPurgeDeletedClientsTask(a.Retention, logger), cfg.PurgeInterval)

	// ==========================================================================
	// Middleware
	// ==========================================================================

	isSecure := !cfg.IsDevelopment()
	tokens := auth.NewTokens(cfg.SessionSecret, cfg.SessionTTL)

	tokenFailures := middleware.NewRateLimiter(cfg.RateLimitTokenFailures, time.Minute, logger)
	defer tokenFailures.Stop()
	requests := middleware.NewRateLimiter(cfg.RateLimitRequests, time.Minute, logger)
	defer requests.Stop()

	sessionMw := middleware.NewSessionMiddleware(tokens, tokenFailures, logger)
	rateLimitMw := middleware.NewRateLimitMiddleware(requests, logger)
	metricsAuth := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword)
	if !metricsAuth.Enabled() {
		logger.Warn("Metrics endpoint is unprotected, set METRICS_USERNAME and METRICS_PASSWORD")
	}

	api := middleware.Stack(rateLimitMw.Limit, sessionMw.WithSession, sessionMw.RequireSession)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("GET /metrics", metricsAuth.Handler(promhttp.Handler()))

	handler.NewFormHandler(a.Forms, logger).RegisterRoutes(mux, api)
	handler.NewClientHandler(a.Clients, logger).RegisterRoutes(mux, api)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		handler.NotFoundResponse(w, r, logger)
	})

	root := middleware.Stack(
		metrics.Middleware,
		middleware.NewRequestLoggingMiddleware(logger).Handler,
		middleware.NewSecurityHeadersMiddleware(isSecure).Handler,
	)(mux)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	runner.Start(ctx)
	defer runner.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env, "force_offline", cfg.ForceOffline)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received, initiating graceful shutdown...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Graceful shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
