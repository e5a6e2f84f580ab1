package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mikronoc/mikronoc/internal/alerting"
	"github.com/mikronoc/mikronoc/internal/api"
	"github.com/mikronoc/mikronoc/internal/auth"
	"github.com/mikronoc/mikronoc/internal/channels"
	"github.com/mikronoc/mikronoc/internal/config"
	"github.com/mikronoc/mikronoc/internal/database"
	"github.com/mikronoc/mikronoc/internal/live"
	"github.com/mikronoc/mikronoc/internal/poller"
	"github.com/mikronoc/mikronoc/internal/routeros"
	"github.com/mikronoc/mikronoc/internal/store"
)

func main() {
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := initLogger(cfg.Logging)
	logger.Info("starting mikronoc server",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"in_memory", cfg.Database.InMemory,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage: Postgres in production, in-memory for demo mode.
	var st store.Store
	if cfg.Database.InMemory {
		logger.Warn("running with the in-memory store, nothing will survive a restart")
		st = store.NewMemory()
	} else {
		if err := database.RunMigrations(cfg.Database); err != nil {
			log.Fatalf("Migrations failed: %v", err)
		}
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			log.Fatalf("DB init failed: %v", err)
		}
		defer pool.Close()
		st = store.NewPostgres(pool)
	}

	authService, err := auth.NewService(
		cfg.Auth.JWTSecret,
		cfg.Auth.AdminUsername,
		cfg.Auth.AdminPasswordHash,
		uuid.MustParse(cfg.Auth.DefaultTenantID),
		cfg.Auth.GetJWTExpiry(),
	)
	if err != nil {
		log.Fatalf("Failed to initialize auth service: %v", err)
	}
	cipher, err := auth.NewCipher(cfg.Auth.EncryptionKey)
	if err != nil {
		log.Fatalf("Failed to initialize credential cipher: %v", err)
	}

	events := channels.NewEventChannels(channels.Config{
		RouterStateBufferSize: cfg.EventBus.RouterStateChannelSize,
		AlertBufferSize:       cfg.EventBus.AlertChannelSize,
	})
	defer events.Close()
	channels.StartEventLogger(ctx, events, logger)

	evaluator := alerting.NewEvaluator(st, events, logger, alerting.Thresholds{
		CPUPercent:          cfg.Alerting.CPUThresholdPercent,
		LatencyMS:           cfg.Alerting.LatencyThresholdMS,
		RateDebounceSamples: cfg.Alerting.RateDebounceSamples,
	})

	dialer := routeros.NewDialer(cipher, cfg.Poller.GetPollTimeout(), logger)

	scheduler := poller.NewScheduler(st, dialer, evaluator, events, logger, poller.Config{
		TickInterval:      cfg.Poller.GetTickInterval(),
		PollTimeout:       cfg.Poller.GetPollTimeout(),
		Workers:           cfg.Poller.Workers,
		RecoveryThreshold: cfg.Poller.RecoveryThreshold,
	})
	go func() {
		if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("poll scheduler error", "error", err)
		}
	}()

	liveService := live.NewService(st, dialer, evaluator, logger, live.Config{
		TickInterval:  cfg.Live.GetTickInterval(),
		PollTimeout:   cfg.Live.GetPollTimeout(),
		FlushInterval: cfg.Live.GetFlushInterval(),
		SlotRefresh:   cfg.Live.GetSlotRefresh(),
		RingSize:      cfg.Live.RingSize,
	})
	go func() {
		if err := liveService.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("live counter service error", "error", err)
		}
	}()

	router := api.NewRouter(cfg, &api.Dependencies{
		Store:        st,
		Auth:         authService,
		Cipher:       cipher,
		Dialer:       dialer,
		Live:         liveService,
		Evaluator:    evaluator,
		Logger:       logger,
		ProbeTimeout: cfg.Poller.GetPollTimeout(),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
	}

	go func() {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
}

func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
