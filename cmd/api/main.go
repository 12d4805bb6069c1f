package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-autograder-api/internal/config"
	"github.com/noah-isme/gema-autograder-api/internal/database"
	"github.com/noah-isme/gema-autograder-api/internal/events"
	"github.com/noah-isme/gema-autograder-api/internal/feedback"
	"github.com/noah-isme/gema-autograder-api/internal/handler"
	"github.com/noah-isme/gema-autograder-api/internal/middleware"
	"github.com/noah-isme/gema-autograder-api/internal/repository"
	"github.com/noah-isme/gema-autograder-api/internal/router"
	"github.com/noah-isme/gema-autograder-api/internal/service"
	cloud "github.com/noah-isme/gema-autograder-api/pkg/cloudinary"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("app", cfg.AppName).Logger()

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelStartup()

	db, err := database.ConnectPostgres(startupCtx, cfg.DatabaseURL, database.PoolConfig{})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("failed to access database pool: %v", err)
	}
	probes := []handler.HealthProbe{{Name: "database", Check: sqlDB.PingContext}}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(startupCtx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
		probes = append(probes, handler.HealthProbe{Name: "redis", Check: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	} else {
		logger.Warn().Msg("REDIS_URL not set, feedback caching disabled")
	}

	var conn events.Conn
	if cfg.NATSURL != "" {
		nc, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName+"-api")
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer nc.Drain()
		conn = nc
		probes = append(probes, handler.HealthProbe{Name: "nats", Check: func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("nats: %s", nc.Status())
			}
			return nil
		}})
	} else {
		logger.Warn().Msg("NATS_URL not set, submission events are dropped")
	}
	bus := events.NewBus(conn, cfg.EventsPrefix, logger)

	uploader, err := cloud.New(cloud.Config{
		CloudName: cfg.CloudinaryCloudName,
		APIKey:    cfg.CloudinaryAPIKey,
		APISecret: cfg.CloudinaryAPISecret,
		Folder:    cfg.CloudinaryUploadFolder,
	}, logger)
	if err != nil {
		log.Fatalf("failed to create cloudinary client: %v", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	engine := feedback.NewEngine(feedback.NewRoleResolver(nil))

	projectRepo := repository.NewProjectRepository(db)
	groupRepo := repository.NewGroupRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	userRepo := repository.NewUserRepository(db)

	feedbackService := service.NewFeedbackService(projectRepo, groupRepo, submissionRepo, userRepo, engine, redisClient, cfg.FeedbackCacheTTL, logger)
	submissionService := service.NewSubmissionService(submissionRepo, groupRepo, projectRepo, engine, validate, uploader, bus, feedbackService, logger)
	groupService := service.NewGroupService(groupRepo, projectRepo, userRepo, engine.Roles(), validate, bus, logger)

	feedbackHandler := handler.NewFeedbackHandler(feedbackService, validate, logger)
	submissionHandler := handler.NewSubmissionHandler(submissionService, logger,
		middleware.RateLimit("submissions", cfg.SubmissionRateLimit, cfg.SubmissionRateWindow))
	groupHandler := handler.NewGroupHandler(groupService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, AccessLog: cfg.AppEnv == "development"})
	router.Register(app, cfg, router.Dependencies{
		FeedbackHandler:   feedbackHandler,
		SubmissionHandler: submissionHandler,
		GroupHandler:      groupHandler,
		JWTMiddleware:     middleware.JWTProtected(cfg.JWTSecret),
		HealthProbes:      probes,
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, logger)
}

func waitForShutdown(app *fiber.App, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
