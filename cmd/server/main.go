package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/marminbh/webhook-gateway/internal/alerts"
	"github.com/marminbh/webhook-gateway/internal/config"
	"github.com/marminbh/webhook-gateway/internal/database"
	"github.com/marminbh/webhook-gateway/internal/dispatcher"
	"github.com/marminbh/webhook-gateway/internal/forward"
	"github.com/marminbh/webhook-gateway/internal/handlers"
	"github.com/marminbh/webhook-gateway/internal/logger"
	"github.com/marminbh/webhook-gateway/internal/metrics"
	"github.com/marminbh/webhook-gateway/internal/models"
	"github.com/marminbh/webhook-gateway/internal/rabbitmq"
	"github.com/marminbh/webhook-gateway/internal/routes"
	"github.com/marminbh/webhook-gateway/internal/scheduler"
	"github.com/marminbh/webhook-gateway/internal/service"
)

func main() {
	if err := logger.Init(os.Getenv("LOG_LEVEL")); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	db, err := database.Connect(&cfg.Database, logger.Logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := database.Close(db, logger.Logger); err != nil {
			logger.Error("Error closing database", zap.Error(err))
		}
	}()

	if err := database.RunMigrations(&cfg.Database, logger.Logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// RabbitMQ carries dead-letter alerts only; the gateway runs without it
	var rmq *rabbitmq.Connection
	var alerter scheduler.Alerter
	if cfg.RabbitMQ.Enabled {
		rmq = rabbitmq.NewConnection(&cfg.RabbitMQ, logger.Logger)
		if err := rmq.Connect(); err != nil {
			logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		}
		defer rmq.Close()
		alerter = alerts.NewPublisher(rmq, cfg.RabbitMQ.AlertExchange, cfg.RabbitMQ.AlertRoutingKey, logger.Logger)
	}

	svc := service.New(cfg, db, rmq, alerter, logger.Logger)
	registerLogOnlyHandlers(svc, cfg.Routes.LogOnly)
	registerForwardHandlers(svc, &cfg.Routes)

	svc.Scheduler.Start()
	defer svc.Scheduler.Stop()
	defer svc.Processor.Stop()

	purger := startDedupPurge(svc, &cfg.Dedup)
	defer purger.Stop()

	app := fiber.New(fiber.Config{
		AppName:      "Webhook Ingestion Gateway",
		ServerHeader: "Fiber",
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	routes.SetupRoutes(app,
		handlers.NewWebhookHandler(svc.Pipeline, logger.Logger),
		handlers.NewEventsHandler(db, svc.Audit, logger.Logger),
		handlers.NewDeadLettersHandler(db, svc.Pipeline, logger.Logger),
		handlers.NewHealthHandler(db, rmq),
	)

	go func() {
		addr := cfg.Server.Host + ":" + cfg.Server.Port
		logger.Info("Server starting",
			zap.String("address", addr),
			zap.Int("providers", len(cfg.Providers)),
			zap.Strings("routes", svc.Registry.Routes()),
		)
		if err := app.Listen(addr); err != nil {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")
	if err := app.Shutdown(); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}

// registerLogOnlyHandlers installs the built-in log-only handler for each
// provider/topic pair named in HANDLER_LOG_ROUTES. Real handlers registered
// here in code take their place as integrations are built out.
func registerLogOnlyHandlers(svc *service.Service, pairs []string) {
	for _, pair := range pairs {
		provider, topic, ok := strings.Cut(pair, "/")
		if !ok {
			logger.Warn("Ignoring malformed handler route, want provider/topic",
				zap.String("route", pair),
			)
			continue
		}
		svc.Registry.Register(provider, topic, dispatcher.HandlerFunc(func(ctx context.Context, event *models.WebhookEvent) error {
			logger.Info("Webhook handled",
				zap.String("webhook_id", event.ID.String()),
				zap.String("provider", event.Provider),
				zap.String("topic", event.Topic),
				zap.Int("payload_bytes", len(event.RawPayload)),
			)
			return nil
		}))
	}
}

// registerForwardHandlers installs an HTTP forwarding handler for each
// provider/topic=url triple named in HANDLER_FORWARD_ROUTES.
func registerForwardHandlers(svc *service.Service, cfg *config.RoutesConfig) {
	for _, route := range cfg.Forward {
		pair, url, ok := strings.Cut(route, "=")
		if !ok {
			logger.Warn("Ignoring malformed forward route, want provider/topic=url",
				zap.String("route", route),
			)
			continue
		}
		provider, topic, ok := strings.Cut(pair, "/")
		if !ok {
			logger.Warn("Ignoring malformed forward route, want provider/topic=url",
				zap.String("route", route),
			)
			continue
		}
		svc.Registry.Register(provider, topic, forward.New(url, cfg.ForwardSecret, cfg.ForwardTimeout, logger.Logger))
	}
}

// startDedupPurge schedules the retention sweep over dedup records.
func startDedupPurge(svc *service.Service, cfg *config.DedupConfig) *cron.Cron {
	c := cron.New()
	_, err := c.AddFunc(cfg.PurgeSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		purged, err := svc.Dedup.PurgeExpired(ctx, cfg.Retention)
		if err != nil {
			logger.Error("Failed to purge expired dedup records", zap.Error(err))
			return
		}
		if purged > 0 {
			metrics.DedupRecordsPurged.Add(float64(purged))
			logger.Info("Purged expired dedup records",
				zap.Int64("purged", purged),
				zap.Duration("retention", cfg.Retention),
			)
		}
	})
	if err != nil {
		logger.Fatal("Invalid dedup purge schedule",
			zap.String("schedule", cfg.PurgeSchedule),
			zap.Error(err),
		)
	}
	c.Start()
	return c
}
