// Package main is the entry point for the application.
// It initializes all dependencies, sets up the HTTP server,
// and starts the application.
package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"payvault/internal/config"
	"payvault/internal/events"
	"payvault/internal/idempotency"
	"payvault/internal/logger"
	"payvault/internal/middleware"
	"payvault/internal/repositories"
	"payvault/internal/repositories/cache"
	"payvault/internal/routes"
	"payvault/internal/services/deposit"
	"payvault/internal/services/gateway"
	"payvault/internal/services/notification"
	"payvault/internal/services/transfer"
	"payvault/internal/services/wallet"
	"payvault/internal/services/withdrawal"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(config.IsProduction())
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// Postgres
	db, err := repositories.InitDB(cfg)
	if err != nil {
		log.Fatal("database init failed", zap.Error(err))
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}()

	// Redis snapshot cache + idempotency guard
	redisClient := cache.NewRedisClient(&cache.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	cacheService := cache.NewService(redisClient, 5*time.Minute)
	guard := idempotency.NewRedisGuard(redisClient, 2*time.Minute)

	// NATS event stream
	var publisher events.Publisher = events.NoopPublisher{}
	natsPublisher, err := events.NewNATSPublisher(cfg.NATSURL)
	if err != nil {
		log.Warn("nats unavailable, events disabled", zap.Error(err))
	} else {
		publisher = natsPublisher
		defer natsPublisher.Close()
	}

	// Services
	repo := repositories.NewWalletRepository(db)
	metrics := wallet.NewPrometheusCollector(prometheus.DefaultRegisterer)
	stripeGateway := gateway.NewStripeGateway(cfg.StripeKey, log)

	walletService := wallet.NewService(repo, cacheService, publisher, wallet.Config{
		DefaultCurrency: cfg.DefaultCurrency,
	}, metrics, log)
	transferService := transfer.NewService(repo, cacheService, publisher, log)
	depositService := deposit.NewService(repo, cacheService, publisher, stripeGateway, guard, deposit.Config{
		DefaultCurrency: cfg.DefaultCurrency,
		StuckAfter:      cfg.StuckDeposit,
	}, log)
	withdrawalService := withdrawal.NewService(repo, cacheService, publisher, stripeGateway, guard, withdrawal.Config{
		MinAmount:  cfg.MinWithdrawal,
		StuckAfter: cfg.StuckWithdrawal,
	}, log)

	// Notifications consume the event stream out of band.
	if natsPublisher != nil {
		notifier := notification.NewService(
			notification.LogDispatcher{Logger: log},
			notification.LogAuditLogger{Logger: log},
			log,
		)
		if _, err := natsPublisher.Subscribe("wallet.>", notifier.Handle); err != nil {
			log.Warn("wallet event subscription failed", zap.Error(err))
		}
		for _, subject := range []string{"deposit.>", "withdrawal.>", "transfer.>"} {
			if _, err := natsPublisher.Subscribe(subject, notifier.Handle); err != nil {
				log.Warn("event subscription failed", zap.String("subject", subject), zap.Error(err))
			}
		}
	}

	app := fiber.New(fiber.Config{
		AppName:      "payvault",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET,POST,HEAD,PUT,DELETE,PATCH",
	}))

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret, log)
	routes.SetupRoutes(app, routes.Deps{
		DB:                db,
		Cache:             cacheService,
		WalletService:     walletService,
		TransferService:   transferService,
		DepositService:    depositService,
		WithdrawalService: withdrawalService,
	}, authMiddleware)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatal("server stopped", zap.Error(err))
		}
	}()
	log.Info("server started", zap.String("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
}
