package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"gorm.io/gorm"

	"beast/internal/config"
	"beast/internal/db"
	"beast/internal/handlers"
	"beast/internal/repositories"
	"beast/internal/services"
	"beast/pkg/logging"
	"beast/pkg/rabbitmq"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	if err := db.Migrate(conn); err != nil {
		return err
	}
	if sqlDB, err := conn.DB(); err == nil {
		defer sqlDB.Close()
	}

	hasher, err := services.NewSaltedHasher(cfg.PasswordSalt, cfg.PasswordDigest)
	if err != nil {
		return fmt.Errorf("configure password hasher: %w", err)
	}

	serviceCfg := services.AccountServiceConfig{
		OnlineThreshold: cfg.OnlineThreshold,
		Logger:          logger,
	}
	if cfg.RabbitMQURL != "" {
		mqClient, err := rabbitmq.NewClient(rabbitmq.Config{URL: cfg.RabbitMQURL, Queue: cfg.RabbitMQQueue, Logger: logger})
		if err != nil {
			return fmt.Errorf("initialize RabbitMQ client: %w", err)
		}
		defer mqClient.Close()
		serviceCfg.Events = mqClient

		if cfg.RabbitMQAuditLog {
			if err := mqClient.Consume(ctx, rabbitmq.AuditHandler(logger)); err != nil {
				logger.Warn("failed to start event audit consumer", "error", err)
			}
		}
	} else {
		logger.Info("RABBITMQ_URL not set, account events are not published")
	}

	service := newAccountService(conn, hasher, serviceCfg)
	app := newApp(service, logger, serviceCfg.Events != nil)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.AppPort)
		errCh <- app.Listen(cfg.AppPort)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		return fmt.Errorf("fiber shutdown: %w", err)
	}
	logger.Info("server gracefully stopped")
	return nil
}

func newAccountService(conn *gorm.DB, hasher services.PasswordHasher, cfg services.AccountServiceConfig) *services.AccountService {
	return services.NewAccountService(
		repositories.NewGORMUserRepository(conn),
		repositories.NewGORMPostRepository(conn),
		hasher,
		cfg,
	)
}

// newApp wires routes and middleware onto a new Fiber app.
func newApp(service *services.AccountService, logger *slog.Logger, eventsEnabled bool) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(fiberlogger.New())

	handlers.NewAccountHandler(service, logger).RegisterRoutes(app.Group("/api/v1"))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
			"events": eventsEnabled,
		})
	})
	return app
}
