package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/neriyabudraham/flowbotomat-sub003/internal/config"
	"github.com/neriyabudraham/flowbotomat-sub003/internal/constants"
	"github.com/neriyabudraham/flowbotomat-sub003/internal/database"
	"github.com/neriyabudraham/flowbotomat-sub003/internal/retry"
	"github.com/neriyabudraham/flowbotomat-sub003/internal/schedule"
	"github.com/neriyabudraham/flowbotomat-sub003/internal/service"
	"github.com/neriyabudraham/flowbotomat-sub003/internal/tracing"
	"github.com/neriyabudraham/flowbotomat-sub003/pkg/whatsapp"
	"github.com/neriyabudraham/flowbotomat-sub003/pkg/whatsapp/types"

	"github.com/neriyabudraham/flowbotomat-sub003/internal/auth"
	"github.com/neriyabudraham/flowbotomat-sub003/internal/models"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes sensitive information)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("StatusFlow %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	// Missing .env is fine; the environment may be set by the supervisor.
	_ = godotenv.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting StatusFlow")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - sensitive information will be logged")
	} else if cfg.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
			logger.SetLevel(logrus.InfoLevel)
		} else {
			logger.SetLevel(level)
		}
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	tracingManager := tracing.NewManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	// Initialize database with exponential backoff retry
	var db *database.Database
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  cfg.Retry.MaxAttempts,
		Jitter:       true,
	})
	err = backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(cfg.Database.Path)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	defer db.Close()

	gateway := whatsapp.NewClient(types.ClientConfig{
		BaseURL: cfg.Gateway.APIBaseURL,
		APIKey:  cfg.Gateway.APIKey,
		Timeout: time.Duration(cfg.Gateway.TimeoutSec) * time.Second,
	})

	quarantine := time.Duration(cfg.Queue.QuarantineHours) * time.Hour
	resolver := auth.NewResolver(db, quarantine)

	calc, err := schedule.NewCalculator(cfg.Schedule.OwnerTimezone)
	if err != nil {
		return err
	}

	queue := service.NewQueue(db, logger)
	machine := service.NewMachine(db, gateway, resolver, calc, queue, cfg.Gateway.BotSession, logger)

	notifier := service.NewNotifier(db, gateway, cfg.Gateway.BotSession, machine.Locks(), logger)
	processor := service.NewProcessor(db, gateway, notifier, service.ProcessorConfig{
		TickInterval:    time.Duration(cfg.Queue.TickIntervalSec) * time.Second,
		SendCooldown:    time.Duration(cfg.Queue.SendCooldownSec) * time.Second,
		LockStaleAfter:  time.Duration(cfg.Queue.LockStaleAfterSec) * time.Second,
		DispatchTimeout: time.Duration(cfg.Queue.DispatchTimeoutSec) * time.Second,
		Quarantine:      quarantine,
	}, logger)
	processor.Start(ctx)
	defer processor.Stop()

	// Session status events keep the quarantine clock honest: every
	// reconnect restamps last_connected_at.
	if cfg.Gateway.EventsEnabled && cfg.Gateway.EventsURL != "" {
		listener := whatsapp.NewEventListener(
			cfg.Gateway.EventsURL,
			cfg.Gateway.APIKey,
			cfg.Gateway.ReconnectSec,
			func(ctx context.Context, event types.SessionEvent) {
				status := models.ConnectionDisconnected
				if event.Status == types.SessionStatusConnected {
					status = models.ConnectionConnected
				}
				if err := db.UpdateConnectionStatus(ctx, event.SessionName, status, event.Timestamp); err != nil {
					logger.WithError(err).WithField("session", event.SessionName).
						Warn("Failed to update connection status")
					return
				}
				resolver.Flush()
				logger.WithFields(logrus.Fields{
					"session": event.SessionName,
					"status":  status,
				}).Info("Connection status updated")
			},
			logger,
		)
		if err := listener.Start(ctx); err != nil {
			logger.Warnf("Failed to start gateway event listener: %v", err)
		} else {
			defer listener.Stop()
		}
	} else {
		logger.Info("Gateway event stream is disabled")
	}

	server := NewServer(cfg, db, machine, queue, logger)
	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}
