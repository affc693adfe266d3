package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/codebuildervaibhav/speech-insights/internal/app"
	"github.com/codebuildervaibhav/speech-insights/internal/config"
	"github.com/codebuildervaibhav/speech-insights/internal/handlers"
	"github.com/codebuildervaibhav/speech-insights/internal/logger"
	"github.com/codebuildervaibhav/speech-insights/internal/queue"
	"github.com/codebuildervaibhav/speech-insights/internal/recovery"
)

func main() {
	configPath := flag.String("config", envOr("CONFIG_PATH", "config/config.yaml"), "path to the YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Custom logger setup: console plus an in-memory tail for /logs
	logBuffer := logger.NewLogBuffer(1000)
	log := logger.New(logger.Options{
		Environment: cfg.Logging.Environment,
		Level:       cfg.Logging.Level,
		Output:      io.MultiWriter(os.Stdout, logBuffer),
	})
	log.Info("Initializing components...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log.Entry)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize")
	}

	// Worker pool
	workerPool := queue.NewWorkerPool(
		cfg.Workers.Count,
		cfg.Workers.QueueSize,
		a.Orchestrator,
		a.Reader,
		a.Exporters,
		log.Entry,
	)
	workerPool.Start(context.Background())

	// Recovery scheduler
	scheduler := recovery.NewScheduler(recovery.Options{
		TempDir:        cfg.Storage.TempDir,
		Interval:       cfg.Recovery.Interval,
		StaleAfter:     cfg.Recovery.StaleAfter,
		TempMaxAge:     cfg.Recovery.TempMaxAge,
		RequeueOnStart: cfg.Recovery.RequeueOnStart,
	}, a.Orchestrator, workerPool, log.Entry)
	scheduler.Start(ctx)

	// Create Fiber app
	server := fiber.New(fiber.Config{
		BodyLimit:             cfg.Limits.MaxFileSizeMB * 1024 * 1024,
		DisableStartupMessage: cfg.Logging.Environment != "local",
	})

	// Middleware
	server.Use(recover.New())
	server.Use(fiberlogger.New(fiberlogger.Config{Output: io.MultiWriter(os.Stdout, logBuffer)}))
	server.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	handlers.Register(server, handlers.Deps{
		Store:          a.Store,
		Files:          a.Files,
		Reader:         a.Reader,
		Runner:         a.Orchestrator,
		Jobs:           workerPool,
		Pool:           workerPool,
		Logs:           logBuffer,
		MaxFileSizeMB:  cfg.Limits.MaxFileSizeMB,
		AllowedFormats: cfg.Limits.AllowedExtensions,
		PollInterval:   time.Second,
		Log:            log.Entry,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.WithField("addr", addr).Info("Server starting")
	log.Info("Endpoints:")
	log.Info("   POST   /api/v1/audio                  - Upload audio (process=true to queue)")
	log.Info("   GET    /api/v1/audio                  - List records")
	log.Info("   GET    /api/v1/audio/:id              - Get record")
	log.Info("   DELETE /api/v1/audio/:id              - Delete record")
	log.Info("   POST   /api/v1/audio/:id/process      - Run the pipeline (wait=true to block)")
	log.Info("   GET    /api/v1/analysis/:id           - Full analysis")
	log.Info("   GET    /api/v1/analysis/:id/{stage}   - transcript | sentiment | entities | summary")
	log.Info("   GET    /api/v1/analysis/export.xlsx   - Excel export")
	log.Info("   GET    /ws/analysis/:id               - WebSocket progress")
	log.Info("   GET    /ws/stream                     - WebSocket audio ingest")
	log.Info("   GET    /logs                          - View server logs")
	log.Info("   GET    /health                        - Health check")

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		log.Info("Shutting down gracefully...")
		if err := server.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.WithError(err).Warn("HTTP shutdown incomplete")
		}
	}()

	if err := server.Listen(addr); err != nil {
		log.WithError(err).Error("Server failed")
	}

	scheduler.Stop()

	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := workerPool.Stop(drainCtx); err != nil {
		log.WithError(err).Warn("In-flight runs cancelled; recovery will requeue them")
	}
	if err := a.Close(drainCtx); err != nil {
		log.WithError(err).Warn("Shutdown cleanup failed")
	}
	log.Info("Server stopped")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
