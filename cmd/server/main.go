package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/codebuildervaibhav/voice-recap/internal/cleanup"
	"github.com/codebuildervaibhav/voice-recap/internal/config"
	"github.com/codebuildervaibhav/voice-recap/internal/delivery"
	"github.com/codebuildervaibhav/voice-recap/internal/gateway"
	"github.com/codebuildervaibhav/voice-recap/internal/handlers"
	"github.com/codebuildervaibhav/voice-recap/internal/logging"
	"github.com/codebuildervaibhav/voice-recap/internal/metrics"
	"github.com/codebuildervaibhav/voice-recap/internal/queue"
	"github.com/codebuildervaibhav/voice-recap/internal/session"
	"github.com/codebuildervaibhav/voice-recap/internal/storage"
	"github.com/codebuildervaibhav/voice-recap/internal/summary"
	"github.com/codebuildervaibhav/voice-recap/internal/telemetry"
	"github.com/codebuildervaibhav/voice-recap/internal/transcription"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the YAML config file")
	driveCode := flag.String("drive-auth-code", "", "exchange a Google Drive authorization code for a cached token and exit")
	flag.Parse()

	if *driveCode != "" {
		if err := authorizeDrive(*configPath, *driveCode); err != nil {
			fmt.Fprintf(os.Stderr, "voice-recap: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "voice-recap: %v\n", err)
		os.Exit(1)
	}
}

func authorizeDrive(configPath, code string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := storage.AuthorizeDrive(ctx, cfg.Delivery.Drive.CredentialsFile, cfg.Delivery.Drive.TokenFile, code); err != nil {
		return err
	}
	fmt.Printf("Drive token saved to %s\n", cfg.Delivery.Drive.TokenFile)
	return nil
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logBuffer := logging.NewLogBuffer(cfg.Log.BufferLines)
	logger, err := logging.New(cfg.Log, logBuffer)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	collector := metrics.NewCollector(cfg.Server.MetricsNamespace, logger)

	localDir := ""
	if cfg.Delivery.Local.Enabled {
		localDir = cfg.Delivery.Local.Dir
	}
	if err := cleanup.EnsureDirs(logger, cfg.Capture.ArtifactsDir, cfg.Transcription.TempDir, localDir); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	// Report history
	db, err := storage.NewReportDB(cfg.Storage.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	archive := queue.NewWorkerPool(db, queue.Options{
		Workers:     cfg.Storage.ArchiveWorkers,
		MaxAttempts: cfg.Storage.ArchiveRetries,
	}, logger)
	archive.Start()

	// Google Drive client (optional)
	var driveClient *storage.DriveClient
	if cfg.Delivery.Drive.Enabled {
		driveClient, err = storage.NewDriveClient(ctx,
			cfg.Delivery.Drive.CredentialsFile,
			cfg.Delivery.Drive.TokenFile,
			cfg.Delivery.Drive.FolderName,
		)
		if err != nil {
			logger.Warn("Google Drive not available, continuing without it", zap.Error(err))
			driveClient = nil
		} else {
			logger.Info("Google Drive delivery enabled", zap.String("folder", cfg.Delivery.Drive.FolderName))
		}
	}
	sinks := delivery.NewFactory(cfg.Delivery, driveClient, logger)

	transcriber, err := transcription.New(cfg.Transcription, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize transcriber: %w", err)
	}
	summarizer, err := summary.New(cfg.Summary, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize summarizer: %w", err)
	}
	prompt, err := summary.LoadPrompt(cfg.Summary.PromptFile)
	if err != nil {
		logger.Warn("summary prompt file unreadable, using the built-in prompt", zap.Error(err))
	}
	dialogPrompt, err := summary.LoadDialogPrompt(cfg.Summary.DialogPromptFile)
	if err != nil {
		logger.Warn("dialog prompt file unreadable, transcripts stay unformatted", zap.Error(err))
	}
	logger.Info("pipeline ready",
		zap.String("transcriber", transcriber.Name()),
		zap.String("summarizer", summarizer.Name()),
		zap.String("policy", cfg.Capture.Policy),
		zap.String("language", cfg.Capture.Language),
		zap.Bool("dialog_formatting", dialogPrompt != ""),
	)

	manager := session.NewManager(session.NewDirectory(), cfg.SessionOptions(prompt, dialogPrompt), session.Deps{
		Transcriber: transcriber,
		Summarizer:  summarizer,
		Reports:     archive,
		Metrics:     collector,
		Logger:      logger,
	})

	// Orphan sweep
	if cfg.Cleanup.MaxAgeHours > 0 {
		scheduler := cleanup.NewScheduler(
			[]string{cfg.Capture.ArtifactsDir, cfg.Transcription.TempDir},
			time.Duration(cfg.Cleanup.IntervalMinutes)*time.Minute,
			time.Duration(cfg.Cleanup.MaxAgeHours)*time.Hour,
			logger, collector,
		)
		scheduler.Start()
		defer scheduler.Stop()
	}

	app := fiber.New(fiber.Config{
		BodyLimit:             cfg.Server.BodyLimitMB * 1024 * 1024,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{Output: zap.NewStdLog(logger.Named("http")).Writer()}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.AllowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "healthy",
			"sessions": manager.Directory().Len(),
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(collector.Handler()))
	app.Get("/logs", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"logs": logBuffer.Lines(),
		})
	})

	gateway.New(manager, logger).Register(app)
	handlers.Register(app,
		handlers.NewSessionHandler(manager, sinks, logger),
		handlers.NewReportHandler(db, logger),
	)

	addr := cfg.Addr()
	logger.Info("server starting",
		zap.String("addr", addr),
		zap.Strings("endpoints", []string{
			"POST /sessions/:key",
			"POST /sessions/:key/stop",
			"GET  /ws/voice/:key",
			"GET  /status",
			"GET  /reports",
			"GET  /reports/:id/transcript",
			"GET  /metrics",
			"GET  /logs",
			"GET  /health",
		}),
	)

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- app.Listen(addr)
	}()

	select {
	case err := <-listenErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// Graceful shutdown: finalize every live session before the stores close.
	logger.Info("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Warn("sessions still finalizing at deadline", zap.Error(err))
	}
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := archive.Stop(shutdownCtx); err != nil {
		logger.Warn("archive shutdown", zap.Error(err))
	}
	return nil
}
