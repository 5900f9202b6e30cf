package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/courierhq/dispatch-api/config"
	"github.com/courierhq/dispatch-api/internal/push"
	"github.com/courierhq/dispatch-api/internal/repository/postgres"
	notificationService "github.com/courierhq/dispatch-api/internal/service/notification"
	"github.com/courierhq/dispatch-api/pkg/logger"
	redisbroker "github.com/courierhq/dispatch-api/pkg/messaging/redis"
	"github.com/courierhq/dispatch-api/pkg/metrics"
	"github.com/courierhq/dispatch-api/pkg/worker"
)

// workerEnv overrides the file-based config for containerized deploys where
// only environment variables are available.
type workerEnv struct {
	HealthPort    int           `envconfig:"WORKER_HEALTH_PORT" default:"8081"`
	BatchSize     int           `envconfig:"OUTBOX_BATCH_SIZE" default:"0"`
	PollInterval  time.Duration `envconfig:"OUTBOX_POLL_INTERVAL" default:"0"`
	RedisURL      string        `envconfig:"REDIS_URL" default:""`
	PushServerKey string        `envconfig:"PUSH_SERVER_KEY" default:""`
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	var env workerEnv
	if err := envconfig.Process("", &env); err != nil {
		log.Fatal().Err(err).Msg("failed to process environment config")
	}
	if env.BatchSize > 0 {
		cfg.Outbox.BatchSize = env.BatchSize
	}
	if env.PollInterval > 0 {
		cfg.Outbox.PollInterval = env.PollInterval
	}
	if env.RedisURL != "" {
		cfg.Redis.URL = env.RedisURL
	}
	if env.PushServerKey != "" {
		cfg.Push.ServerKey = env.PushServerKey
	}

	l := logger.NewLogger(nil)
	m := metrics.NewMetrics("dispatch", "worker")

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// The worker has no other redis consumers, so the broker owns its own
	// connection pool.
	broker, err := redisbroker.NewRedisBroker(cfg.Redis.ToBrokerConfig(), l.Zerolog())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis broker")
	}
	defer broker.Close()

	outboxRepo := postgres.NewOutboxRepository(db)
	notificationRepo := postgres.NewNotificationRepository(db)
	deviceTokenRepo := postgres.NewDeviceTokenRepository(db)

	pushClient := push.NewClient(push.Config{
		Endpoint:  cfg.Push.Endpoint,
		ServerKey: cfg.Push.ServerKey,
		Timeout:   cfg.Push.Timeout,
	})
	notificationSvc := notificationService.NewService(notificationRepo, deviceTokenRepo, pushClient, m, l)
	consumer := notificationService.NewConsumer(notificationSvc, broker, l)

	processor := worker.NewOutboxProcessor(
		outboxRepo,
		broker,
		cfg.Outbox.ToWorkerConfig(),
		l,
		m,
	)

	startHealthCheck(env.HealthPort, l)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		l.Info("shutting down worker")
		cancel()
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		processor.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := consumer.Start(ctx); err != nil && err != context.Canceled {
			l.Error(err, "notification consumer stopped")
		}
	}()
	wg.Wait()
}

func startHealthCheck(port int, l *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	go func() {
		if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
			l.Error(err, "health check server failed")
			os.Exit(1)
		}
	}()
}
