package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/clinic-requests/internal/config"
	auditHandler "github.com/jwalitptl/clinic-requests/internal/handler/audit"
	"github.com/jwalitptl/clinic-requests/internal/handler/health"
	"github.com/jwalitptl/clinic-requests/internal/middleware"
	"github.com/jwalitptl/clinic-requests/internal/repository/postgres"
	"github.com/jwalitptl/clinic-requests/internal/service/audit"
	"github.com/jwalitptl/clinic-requests/internal/worker"
	"github.com/jwalitptl/clinic-requests/pkg/logger"
	"github.com/jwalitptl/clinic-requests/pkg/messaging/redis"
	"github.com/jwalitptl/clinic-requests/pkg/metrics"
)

// setupHealthServer serves probes, metrics and audit reads on the worker port.
func setupHealthServer(port int, checks map[string]health.Check, registry *prometheus.Registry, reader auditHandler.Reader, log *logger.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(middleware.RequestID(), middleware.Recovery(), middleware.Logger(), middleware.ErrorHandler())

	health.NewHandler(checks, registry).RegisterRoutes(engine)
	auditHandler.NewHandler(reader).RegisterRoutes(engine)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "Health check server failed")
			os.Exit(1)
		}
	}()
	return srv
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	appLogger := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		Console:    cfg.Log.Console,
	}).With("audit_worker")
	log.Logger = appLogger.ZL

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(cfg.Monitoring.MetricsNamespace, registry)

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		appLogger.Fatal(err, "Failed to connect to database")
	}
	defer db.Close()

	repo := postgres.NewAuditRepository(postgres.NewBaseRepository(db))
	service := audit.NewService(repo, m, appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker, err := redis.NewRedisBroker(ctx, redis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, appLogger)
	if err != nil {
		appLogger.Fatal(err, "Failed to create Redis broker")
	}
	defer broker.Close()

	srv := setupHealthServer(cfg.Audit.HealthPort, map[string]health.Check{
		"database": service.Ping,
	}, registry, service, appLogger)

	consumer := worker.NewEventConsumer(broker, service, worker.ConsumerConfig{
		Channel: cfg.Events.Channel,
	}, m, appLogger)
	cleaner := worker.NewAuditCleanupWorker(service, cfg.Audit.Retention, cfg.Audit.CleanupInterval, appLogger)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Shutting down...")
		cancel()
	}()

	go cleaner.Start(ctx)

	if err := consumer.Start(ctx); err != nil {
		appLogger.Error(err, "Event consumer stopped")
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(err, "Health check server forced to shutdown")
	}
}
