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

	"github.com/jeontongju-dev/notification-service/internal/api"
	"github.com/jeontongju-dev/notification-service/internal/config"
	"github.com/jeontongju-dev/notification-service/internal/db"
	"github.com/jeontongju-dev/notification-service/internal/identity"
	"github.com/jeontongju-dev/notification-service/internal/metrics"
	"github.com/jeontongju-dev/notification-service/internal/notify"
	"github.com/jeontongju-dev/notification-service/internal/observ"
	"github.com/jeontongju-dev/notification-service/internal/push"
	"github.com/jeontongju-dev/notification-service/internal/redis"
	"github.com/jeontongju-dev/notification-service/internal/sqs"
	"github.com/jeontongju-dev/notification-service/internal/stream"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting notification service",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	// Initialize database connection
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

	// Redis holds failed-order payloads awaiting client pickup. Without it
	// the error-notification path cannot work, so it is required.
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()

	stash := redis.NewOrderStash(redisClient, logger)

	// Member-service client, resolves member ids to routing emails.
	members := identity.NewClient(identity.Config{
		BaseURL: cfg.AuthServiceURL,
	}, logger)

	registry := stream.NewRegistry()

	// Optional mobile push for the order-failure path.
	var gateway push.Gateway
	if cfg.SNSPlatformEnabled {
		snsGateway, err := push.NewSNSGateway(ctx, push.SNSConfig{
			Region: cfg.SNSRegion,
		}, logger)
		if err != nil {
			logger.Warn("sns unavailable, mobile push disabled", zap.Error(err))
		} else {
			gateway = snsGateway
		}
	}

	svcCfg := notify.Config{
		StreamTimeout: time.Duration(cfg.StreamTimeout) * time.Second,
	}

	var svc *notify.Service
	if gateway != nil {
		svc = notify.NewServiceWithPush(repo, registry, members, stash, members, gateway, svcCfg, logger)
	} else {
		svc = notify.NewService(repo, registry, members, stash, svcCfg, logger)
	}

	// Inbound events arrive on SQS from the order, payment, and product
	// services. Without a queue only the HTTP surface is served.
	var producer *sqs.Producer
	if cfg.SQSQueueURL != "" {
		sqsCfg := sqs.Config{
			Region:   cfg.SQSRegion,
			QueueURL: cfg.SQSQueueURL,
		}

		producer, err = sqs.NewProducer(ctx, sqsCfg, logger)
		if err != nil {
			logger.Warn("sqs producer unavailable, test publishing disabled", zap.Error(err))
		}

		consumer, err := sqs.NewConsumer(ctx, sqsCfg, logger)
		if err != nil {
			return fmt.Errorf("failed to create sqs consumer: %w", err)
		}

		listenerCtx, listenerCancel := context.WithCancel(context.Background())
		defer listenerCancel()

		listener := sqs.NewListener(consumer, svc, logger)
		go listener.Start(listenerCtx)
	} else {
		logger.Warn("SQS_QUEUE_URL not set, inbound events disabled")
	}

	// Setup router
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	// Custom logging middleware. No timeout middleware: streaming
	// connections outlive any sensible request deadline.
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

	var handler *api.Handler
	if producer != nil {
		handler = api.NewHandlerWithProducer(logger, svc, producer)
	} else {
		handler = api.NewHandler(logger, svc)
	}
	r.Route("/v1", handler.Routes)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unreachable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server. WriteTimeout must be zero or streaming
	// connections would be cut off mid-stream.
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 120 * time.Second,
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

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
