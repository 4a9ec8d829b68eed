package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/clinic-requests/internal/clinicapi"
	"github.com/jwalitptl/clinic-requests/internal/config"
	"github.com/jwalitptl/clinic-requests/internal/handler"
	"github.com/jwalitptl/clinic-requests/internal/handler/auth"
	"github.com/jwalitptl/clinic-requests/internal/handler/clinicrequest"
	"github.com/jwalitptl/clinic-requests/internal/handler/health"
	"github.com/jwalitptl/clinic-requests/internal/handler/patient"
	"github.com/jwalitptl/clinic-requests/internal/handler/reference"
	"github.com/jwalitptl/clinic-requests/internal/middleware"
	"github.com/jwalitptl/clinic-requests/internal/router"
	"github.com/jwalitptl/clinic-requests/internal/service/coordinator"
	"github.com/jwalitptl/clinic-requests/internal/service/events"
	"github.com/jwalitptl/clinic-requests/internal/service/listing"
	"github.com/jwalitptl/clinic-requests/internal/service/notification"
	"github.com/jwalitptl/clinic-requests/internal/session"
	"github.com/jwalitptl/clinic-requests/internal/storage"
	"github.com/jwalitptl/clinic-requests/pkg/logger"
	"github.com/jwalitptl/clinic-requests/pkg/messaging"
	"github.com/jwalitptl/clinic-requests/pkg/messaging/redis"
	"github.com/jwalitptl/clinic-requests/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		Console:    cfg.Log.Console,
	})
	zerolog.SetGlobalLevel(logger.ParseLevel(cfg.Log.Level))
	log.Logger = appLogger.ZL

	var registry *prometheus.Registry
	m := metrics.NewNop()
	if cfg.Monitoring.PrometheusEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.NewMetrics(cfg.Monitoring.MetricsNamespace, registry)
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelStart()

	// Identity storage: Redis when reachable, process memory otherwise.
	var redisClient *goredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(startCtx, redis.Config{
			URL:          cfg.Redis.URL,
			MaxRetries:   cfg.Redis.MaxRetries,
			RetryBackoff: cfg.Redis.RetryBackoff,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
		if err != nil {
			appLogger.Warn("redis unavailable, sessions fall back to memory", "error", err.Error())
		}
	}

	var primary storage.Store
	if redisClient != nil {
		primary = storage.NewRedisStore(redisClient, "clinic_requests:", cfg.Session.StoreTTL)
	}
	store := storage.NewFallbackStore(startCtx, primary, storage.NewMemoryStore(cfg.Session.StoreTTL), m, appLogger)

	client := clinicapi.NewClient(clinicapi.Config{
		BaseURL: cfg.Upstream.BaseURL,
		Timeout: cfg.Upstream.Timeout,
	}, m, appLogger)

	dispatcher := notification.NewDispatcher(client, notification.Options{
		Workers:         cfg.Notification.Workers,
		QueueSize:       cfg.Notification.QueueSize,
		Timeout:         cfg.Notification.Timeout,
		BreakerFailures: cfg.Notification.BreakerFailures,
		BreakerTimeout:  cfg.Notification.BreakerTimeout,
	}, m, appLogger)
	dispatcher.Start()

	hooks := []coordinator.Hook{dispatcher}

	var (
		broker    messaging.Broker
		publisher *events.Publisher
	)
	if cfg.Events.Enabled {
		if redisClient != nil {
			broker = redis.NewRedisBrokerFromClient(redisClient, appLogger)
			publisher = events.NewPublisher(broker, events.PublisherConfig{Channel: cfg.Events.Channel}, appLogger)
			hooks = append(hooks, publisher)
		} else {
			appLogger.Warn("lifecycle events disabled, no redis broker")
		}
	}

	service := coordinator.NewService(client, hooks, m, appLogger)

	sessions := session.NewManager(store, client, client, session.Options{
		IdleTTL: cfg.Session.IdleTTL,
		Listing: listing.Options{
			Debounce:        cfg.Listing.Debounce,
			DefaultPageSize: cfg.Listing.DefaultPageSize,
			MaxPageSize:     cfg.Listing.MaxPageSize,
		},
	}, m, appLogger)

	var gatherer prometheus.Gatherer
	if registry != nil {
		gatherer = registry
	}
	healthH := health.NewHandler(map[string]health.Check{
		"clinic_api": func(ctx context.Context) error {
			_, err := client.AccessToken(ctx)
			return err
		},
	}, gatherer)

	authH := auth.NewHandler(session.NewTokenDecoder(cfg.Session.HostTokenSecret), client, handler.DefaultHandshake("/api/v1"))

	r := router.NewRouter(sessions, healthH, authH, []router.Handler{
		clinicrequest.NewHandler(service),
		patient.NewHandler(service),
		reference.NewHandler(client),
	}, registry, router.RouterConfig{
		Mode:        cfg.Server.Mode,
		RateLimit:   rate.Limit(cfg.Security.RequestsPerSecond),
		RateBurst:   cfg.Security.Burst,
		RateEnabled: cfg.Security.RateLimitEnabled,
		CORSConfig: middleware.CORSConfig{
			AllowOrigins:     cfg.Security.AllowedOrigins,
			AllowMethods:     cfg.Security.AllowedMethods,
			AllowHeaders:     cfg.Security.AllowedHeaders,
			ExposeHeaders:    []string{"Content-Length", "Content-Type", "X-Request-ID", cfg.Session.HeaderName},
			AllowCredentials: true,
			MaxAge:           86400,
		},
		Security: middleware.SecurityConfig{
			FrameAncestors:     cfg.Security.FrameAncestors,
			ContentTypeOptions: "nosniff",
			ReferrerPolicy:     "strict-origin-when-cross-origin",
		},
		Session: middleware.SessionConfig{
			CookieName: cfg.Session.CookieName,
			HeaderName: cfg.Session.HeaderName,
			MaxAge:     int(cfg.Session.StoreTTL / time.Second),
			Secure:     cfg.Session.SecureCookie,
		},
		MaxBodySize:   cfg.Security.MaxBodyBytes,
		Timeout:       cfg.Upstream.Timeout + 5*time.Second,
		MetricsPrefix: cfg.Monitoring.MetricsNamespace,
	})
	r.Setup()

	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        r.Engine(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go func() {
		appLogger.Info("starting server", "port", cfg.Server.Port, "storage", store.Type())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal(err, "failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error(err, "server forced to shutdown")
	}
	if err := dispatcher.Stop(ctx); err != nil {
		appLogger.Error(err, "notification queue not drained")
	}
	if publisher != nil {
		publisher.Wait()
	}
	if broker != nil {
		broker.Close()
	}
	if redisClient != nil {
		redisClient.Close()
	}

	appLogger.Info("server exited properly")
}
