package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-autograder-api/internal/config"
	"github.com/noah-isme/gema-autograder-api/internal/database"
	"github.com/noah-isme/gema-autograder-api/internal/events"
	"github.com/noah-isme/gema-autograder-api/internal/feedback"
	"github.com/noah-isme/gema-autograder-api/internal/grader"
	"github.com/noah-isme/gema-autograder-api/internal/repository"
	"github.com/noah-isme/gema-autograder-api/internal/service"
	cloud "github.com/noah-isme/gema-autograder-api/pkg/cloudinary"
	dockerexec "github.com/noah-isme/gema-autograder-api/pkg/docker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("app", cfg.AppName).Str("process", "grader").Logger()

	if cfg.NATSURL == "" {
		log.Fatal("NATS_URL is required to receive submissions")
	}

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelStartup()

	// Each concurrently graded suite writes nothing until the end, so a
	// small pool is enough.
	db, err := database.ConnectPostgres(startupCtx, cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns: cfg.GraderConcurrency + 2,
		MaxIdleConns: 2,
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	nc, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName+"-grader")
	if err != nil {
		log.Fatalf("failed to connect to nats: %v", err)
	}
	defer nc.Drain()
	bus := events.NewBus(nc, cfg.EventsPrefix, logger)

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(startupCtx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	}

	files, err := cloud.New(cloud.Config{
		CloudName: cfg.CloudinaryCloudName,
		APIKey:    cfg.CloudinaryAPIKey,
		APISecret: cfg.CloudinaryAPISecret,
		Folder:    cfg.CloudinaryUploadFolder,
	}, logger)
	if err != nil {
		log.Fatalf("failed to create cloudinary client: %v", err)
	}

	executor, err := dockerexec.NewDockerExecutor(dockerexec.Config{
		Host:          cfg.DockerHost,
		Timeout:       cfg.ExecutionTimeout,
		MemoryLimitMB: int64(cfg.CodeRunMemoryMB),
		CPUShares:     int64(cfg.CodeRunCPUShares),
		Logger:        logger,
	})
	if err != nil {
		log.Fatalf("failed to create docker executor: %v", err)
	}
	defer executor.Close()

	engine := feedback.NewEngine(feedback.NewRoleResolver(nil))
	validate := validator.New(validator.WithRequiredStructEnabled())

	projectRepo := repository.NewProjectRepository(db)
	groupRepo := repository.NewGroupRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	userRepo := repository.NewUserRepository(db)

	// Results cached by the API go stale once grading finishes.
	feedbackService := service.NewFeedbackService(projectRepo, groupRepo, submissionRepo, userRepo, engine, redisClient, cfg.FeedbackCacheTTL, logger)
	submissionService := service.NewSubmissionService(submissionRepo, groupRepo, projectRepo, engine, validate, files, bus, feedbackService, logger)

	worker := grader.NewWorker(submissionRepo, groupRepo, projectRepo, submissionService, files, executor, grader.Config{
		Queue:         cfg.GraderQueue,
		Image:         cfg.GraderImage,
		Concurrency:   cfg.GraderConcurrency,
		MemoryLimitMB: cfg.CodeRunMemoryMB,
		CPUShares:     cfg.CodeRunCPUShares,
		SweepInterval: cfg.GraderSweepInterval,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := worker.Run(ctx, bus); err != nil {
		logger.Error().Err(err).Msg("grader stopped with error")
		return
	}

	logger.Info().Msg("grader stopped")
}
