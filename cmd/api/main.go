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

	"github.com/rs/zerolog/log"

	"github.com/avikram/notify-service/internal/config"
	adminHandler "github.com/avikram/notify-service/internal/handler/admin"
	healthHandler "github.com/avikram/notify-service/internal/handler/health"
	notificationHandler "github.com/avikram/notify-service/internal/handler/notification"
	"github.com/avikram/notify-service/internal/queue"
	"github.com/avikram/notify-service/internal/ratelimit"
	"github.com/avikram/notify-service/internal/registry"
	"github.com/avikram/notify-service/internal/router"
	notificationService "github.com/avikram/notify-service/internal/service/notification"
	"github.com/avikram/notify-service/internal/store"
	"github.com/avikram/notify-service/pkg/logger"
	redisbroker "github.com/avikram/notify-service/pkg/messaging/redis"
	"github.com/avikram/notify-service/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		Console:    true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The store client is owned here and passed into each component;
	// components never reach for a global connection.
	client, err := store.Connect(ctx, cfg.Redis.ToStoreConfig())
	if err != nil {
		appLogger.Fatal(err, "failed to connect to store")
	}
	defer client.Close()

	m := metrics.New("notify_api")

	q := queue.New(client)
	reg := registry.New(client, cfg.Retention.ToRegistryConfig())
	limiter := ratelimit.New(client, cfg.RateLimit.ToLimiterConfig())

	svc := notificationService.NewService(q, reg, limiter, appLogger, m)

	broker := redisbroker.NewBroker(client.Redis(), &log.Logger)
	if err := svc.WatchMaintenance(ctx, broker); err != nil {
		appLogger.Error(err, "maintenance watcher unavailable, continuing without it")
	}

	r := router.NewRouter(
		notificationHandler.NewHandler(svc),
		adminHandler.NewHandler(svc, broker),
		healthHandler.NewHandler(client),
		router.Config{},
	)
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
	}

	go func() {
		appLogger.Info("admission API listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal(err, "server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	appLogger.Info("shutting down admission API")

	// Stop accepting new enqueues before releasing the store connection.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(err, "server shutdown failed")
	}
	cancel()
}
