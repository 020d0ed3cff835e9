package main

import (
	"context"
	"time"

	"reachly/config"
	controller "reachly/controllers"
	"reachly/middleware"
	"reachly/routes"
	"reachly/utils"
	"reachly/worker"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	if config.AppConfig.Environment == "production" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Warnf("Sentry init failed: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := config.ConnectRedis(); err != nil {
		logger.Warnf("Redis unavailable, continuing without cache: %v", err)
	}

	controller.InitStripe()

	// Shared services
	usage := utils.NewUsageTracker(config.DB, config.Redis, logger)
	dispatcher := utils.NewEmailDispatcher(
		config.DB,
		logger,
		config.AppConfig.AppURL,
		config.AppConfig.Google.ClientID,
		config.AppConfig.Google.ClientSecret,
	)
	enrichment := utils.NewBulkContactEnrichmentService(
		config.DB,
		logger,
		config.AppConfig.EnrichmentProcessURL,
		config.AppConfig.EnrichmentBatchSize,
	)
	enrichment.Track = func(userID uint, count int) {
		if err := usage.UpdateUsage(userID, utils.ActionEnrichContact, count); err != nil {
			logger.Warnf("enrichment usage update failed for user %d: %v", userID, err)
		}
	}

	hub := controller.NewNotificationHub()
	enrichment.Notify = hub.Publish

	processor := worker.NewCampaignProcessor(
		config.DB,
		dispatcher,
		usage,
		logger,
		config.AppConfig.CampaignPollInterval,
		time.Duration(config.AppConfig.SendDelayMinSeconds)*time.Second,
		time.Duration(config.AppConfig.SendDelayMaxSeconds)*time.Second,
	)
	bounces := worker.NewBounceWorker(config.DB, logger, config.AppConfig.BouncePollInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Serverless deployments drive the workers through the cron endpoints
	// instead of in-process tickers.
	if !config.AppConfig.Serverless {
		go processor.Start(ctx)
		go bounces.Start(ctx)
	}

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName: "reachly",
	})
	app.Use(middleware.CORS())

	routes.SetupRoutes(app, routes.Controllers{
		Campaigns:     controller.NewCampaignController(config.DB, usage, logger),
		Contacts:      controller.NewContactController(config.DB, usage, logger),
		Accounts:      controller.NewAccountController(config.DB, usage, logger),
		Enrichment:    controller.NewEnrichmentController(config.DB, enrichment, usage, logger),
		Usage:         controller.NewUsageController(config.DB, usage, logger),
		Billing:       controller.NewBillingController(config.DB, logger),
		Tracking:      controller.NewTrackingController(config.DB, logger),
		Notifications: controller.NewNotificationController(config.DB, hub, logger),
		Cron:          controller.NewCronController(config.DB, processor, enrichment, logger),
	})

	logger.Infof("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
