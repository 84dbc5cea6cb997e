package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"sendloop/config"
	controller "sendloop/controllers"
	"sendloop/middleware"
	"sendloop/repository"
	"sendloop/routes"
	"sendloop/utils"
	"sendloop/worker"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if err := config.LoadConfig(); err != nil {
		logger.WithError(err).Fatal("failed to load configuration")
	}
	if config.AppConfig.Environment == "development" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		logger.SetLevel(logrus.DebugLevel)
	}

	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.WithError(err).Warn("sentry init failed, continuing without it")
		}
		defer sentry.Flush(2 * time.Second)
	}

	if err := config.ConnectDB(); err != nil {
		logger.WithError(err).Fatal("failed to connect to database")
	}

	// Engine wiring.
	engineCtx, stopEngine := context.WithCancel(context.Background())
	defer stopEngine()

	conn := worker.NewGatewayConnection(config.AppConfig.GatewayBaseURL, config.AppConfig.GatewayAPIKey)
	hub := controller.NewProgressHub(logger)
	notifier := worker.Notifiers{
		hub,
		utils.NewWebhookNotifier(config.DB, logger),
	}

	blacklistRepo := repository.NewBlacklistRepository(config.DB)
	campaignRepo := repository.NewCampaignRepository(config.DB)
	senderRepo := repository.NewSenderRepository(config.DB)

	engine := worker.NewRegistry(engineCtx, worker.Deps{
		Campaigns:  campaignRepo,
		Contacts:   repository.NewContactRepository(config.DB),
		Messages:   repository.NewSentMessageRepository(config.DB),
		Senders:    senderRepo,
		Blacklist:  blacklistRepo,
		Tx:         repository.NewTransactor(config.DB),
		Connection: conn,
		Renderer:   utils.NewTemplateRenderer(),
		Notifier:   notifier,
		Logger:     logger,
	}, worker.Config{
		PollInterval: time.Duration(config.AppConfig.Engine.PollIntervalSeconds) * time.Second,
		SendTimeout:  time.Duration(config.AppConfig.Engine.SendTimeoutSeconds) * time.Second,
		MaxAttempts:  config.AppConfig.Engine.MaxSendAttempts,
	})

	scheduler := worker.NewScheduler(engine, campaignRepo, senderRepo,
		time.Duration(config.AppConfig.Engine.SchedulerScanSeconds)*time.Second, logger)
	if err := scheduler.Start(engineCtx); err != nil {
		logger.WithError(err).Fatal("failed to start scheduler")
	}

	app := fiber.New(fiber.Config{
		AppName: "sendloop",
	})
	app.Use(middleware.CORS())

	routes.SetupRoutes(app, routes.Deps{
		DB:        config.DB,
		Logger:    logger,
		Engine:    engine,
		Conn:      conn,
		Hub:       hub,
		Blacklist: blacklistRepo,
	})

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	// Graceful shutdown: stop accepting requests, then stop the engine.
	// Campaign rows stay running so the next boot resumes them.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		logger.Info("shutting down")
		scheduler.Stop()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.WithError(err).Error("server shutdown failed")
		}
		stopEngine()
	}()

	logger.WithField("port", config.AppConfig.ServerPort).Info("server starting")
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.WithError(err).Fatal("failed to start server")
	}
}
