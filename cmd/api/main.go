package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/courierhq/dispatch-api/config"
	"github.com/courierhq/dispatch-api/internal/handler"
	notificationHandler "github.com/courierhq/dispatch-api/internal/handler/notification"
	shipmentHandler "github.com/courierhq/dispatch-api/internal/handler/shipment"
	trackingHandler "github.com/courierhq/dispatch-api/internal/handler/tracking"
	"github.com/courierhq/dispatch-api/internal/middleware"
	"github.com/courierhq/dispatch-api/internal/push"
	"github.com/courierhq/dispatch-api/internal/repository/postgres"
	redisrepo "github.com/courierhq/dispatch-api/internal/repository/redis"
	"github.com/courierhq/dispatch-api/internal/router"
	eventService "github.com/courierhq/dispatch-api/internal/service/event"
	notificationService "github.com/courierhq/dispatch-api/internal/service/notification"
	shipmentService "github.com/courierhq/dispatch-api/internal/service/shipment"
	trackingService "github.com/courierhq/dispatch-api/internal/service/tracking"
	"github.com/courierhq/dispatch-api/pkg/logger"
	redisbroker "github.com/courierhq/dispatch-api/pkg/messaging/redis"
	"github.com/courierhq/dispatch-api/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	l := logger.NewLogger(nil)
	m := metrics.NewMetrics("dispatch", "api")

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	redisOpts, err := goredis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse Redis URL")
	}
	redisClient := goredis.NewClient(redisOpts)
	defer redisClient.Close()

	// Repositories
	shipmentRepo := postgres.NewShipmentRepository(db)
	codLedgerRepo := postgres.NewCODLedgerRepository(db)
	notificationRepo := postgres.NewNotificationRepository(db)
	deviceTokenRepo := postgres.NewDeviceTokenRepository(db)
	outboxRepo := postgres.NewOutboxRepository(db)
	locationCache := redisrepo.NewLocationCache(redisClient)
	matchingQueue := redisrepo.NewMatchingQueue(redisClient)

	broker := redisbroker.NewRedisBrokerWithClient(redisClient, l.Zerolog())

	// Services
	eventSvc := eventService.NewService(outboxRepo, broker, l)
	shipmentSvc := shipmentService.NewService(shipmentRepo, codLedgerRepo, matchingQueue, eventSvc, m, l)

	hub := trackingService.NewHub(m)
	trackingSvc := trackingService.NewService(locationCache, shipmentRepo, hub, trackingService.Config{
		PositionTTL: cfg.Tracking.PositionTTL,
		SessionTTL:  cfg.Tracking.SessionTTL,
	}, m, l)

	pushClient := push.NewClient(push.Config{
		Endpoint:  cfg.Push.Endpoint,
		ServerKey: cfg.Push.ServerKey,
		Timeout:   cfg.Push.Timeout,
	})
	notificationSvc := notificationService.NewService(notificationRepo, deviceTokenRepo, pushClient, m, l)

	// Handlers
	h := handler.NewHandler()
	shipmentH := shipmentHandler.NewHandler(shipmentSvc)
	trackingH := trackingHandler.NewHandler(trackingSvc)
	notificationH := notificationHandler.NewHandler(notificationSvc)

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret)

	r := router.NewRouter(
		authMiddleware,
		shipmentH,
		trackingH,
		notificationH,
		h,
		router.RouterConfig{
			RateLimit:     cfg.RateLimit.RequestsPerSecond,
			RateBurst:     cfg.RateLimit.Burst,
			PingLimit:     cfg.Tracking.PingLimit,
			PingWindow:    cfg.Tracking.PingWindow,
			CORSConfig: middleware.CORSConfigFrom(
				cfg.Security.AllowedOrigins,
				cfg.Security.AllowedMethods,
				cfg.Security.AllowedHeaders,
			),
			MetricsEnabled: cfg.Monitoring.PrometheusEnabled,
			MetricsPath:    cfg.Monitoring.MetricsPath,
			MetricsPrefix:  "dispatch_api",
		},
	)

	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        r.Engine(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()
	l.Info("server started", "port", cfg.Server.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}
	hub.CloseAll()

	log.Info().Msg("server exited properly")
}
