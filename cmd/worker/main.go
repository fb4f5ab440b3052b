package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/avikram/notify-service/internal/config"
	"github.com/avikram/notify-service/internal/model"
	"github.com/avikram/notify-service/internal/provider"
	"github.com/avikram/notify-service/internal/provider/email"
	"github.com/avikram/notify-service/internal/provider/push"
	"github.com/avikram/notify-service/internal/provider/sms"
	"github.com/avikram/notify-service/internal/queue"
	"github.com/avikram/notify-service/internal/registry"
	"github.com/avikram/notify-service/internal/repository/postgres"
	"github.com/avikram/notify-service/internal/retry"
	"github.com/avikram/notify-service/internal/store"
	"github.com/avikram/notify-service/internal/worker"
	"github.com/avikram/notify-service/pkg/logger"
	"github.com/avikram/notify-service/pkg/messaging"
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

	client, err := store.Connect(ctx, cfg.Redis.ToStoreConfig())
	if err != nil {
		appLogger.Fatal(err, "failed to connect to store")
	}
	defer client.Close()

	m := metrics.New("notify_worker")

	q := queue.New(client)
	reg := registry.New(client, cfg.Retention.ToRegistryConfig())
	scheduler := retry.NewScheduler(client, cfg.Retry.ToSchedulerConfig())

	senders := map[model.Channel]provider.Sender{
		model.ChannelEmail: email.NewSender(cfg.Providers.Email.ToSenderConfig()),
		model.ChannelSMS:   sms.NewSender(cfg.Providers.SMS.ToSenderConfig()),
		model.ChannelPush:  push.NewSender(cfg.Providers.Push.ToSenderConfig()),
	}

	var archiver worker.Archiver
	if cfg.Database.Enabled {
		db, err := postgres.NewDB(cfg.Database.ToPostgresConfig())
		if err != nil {
			appLogger.Fatal(err, "failed to connect to archive database")
		}
		defer db.Close()
		archiver = postgres.NewDeliveryArchive(db)
	}

	dispatcher := worker.NewDispatcher(
		q, reg, scheduler, senders, archiver,
		cfg.Workers.ToDispatcherConfig(cfg.Retry.MaxAttempts),
		appLogger, m,
	)
	drainer := retry.NewDrainer(scheduler, q, reg, cfg.Retry.ToDrainerConfig(), appLogger, m)
	cleanup := worker.NewCleanupWorker(
		reg,
		time.Duration(cfg.Retention.MaxAgeSeconds)*time.Second,
		time.Duration(cfg.Retention.CleanupIntervalSeconds)*time.Second,
		appLogger, m,
	)

	setupHealthServer(cfg.Workers.HealthPort, client, appLogger)

	// A system:shutdown signal drains the pools the same way SIGTERM does.
	broker := redisbroker.NewBroker(client.Redis(), &log.Logger)
	if msgs, err := broker.Subscribe(ctx, messaging.TopicShutdown); err != nil {
		appLogger.Error(err, "shutdown topic unavailable, relying on signals only")
	} else {
		go func() {
			if _, ok := <-msgs; ok {
				appLogger.Info("shutdown signal received on control channel")
				cancel()
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("shutting down")
		cancel()
	}()

	go drainer.Start(ctx)
	go cleanup.Start(ctx)

	// Blocks until the context is cancelled and in-flight work finished.
	dispatcher.Start(ctx)
}

func setupHealthServer(port int, client *store.Client, appLogger *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := client.Healthcheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
			appLogger.Error(err, "health server failed")
			os.Exit(1)
		}
	}()
}
