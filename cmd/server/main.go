package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"slotline/internal/api"
	"slotline/internal/config"
	"slotline/internal/conversation"
	"slotline/internal/database"
	"slotline/internal/events"
	"slotline/internal/logging"
	"slotline/internal/metrics"
	"slotline/internal/models"
	"slotline/internal/nlu"
	"slotline/internal/repository"
	"slotline/internal/service"
	"slotline/internal/transport"
	"slotline/internal/worker"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}
	logger := baseLogger.With().Str("component", "server").Logger()

	if err := prepareDirectories(cfg); err != nil {
		return err
	}
	metrics.Register()

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := initRedis(ctx, cfg, &logger)
	guard := buildGuard(redisClient, &logger)

	eventBus := events.NewEventBus()
	subscribeEvents(eventBus, &logger)

	bookingService := service.NewBookingService(db, eventBus, cfg.Booking, &logger)

	sender := transport.NewSender(cfg.Transport.BaseURL, cfg.Transport, &logger)
	outbound := worker.NewOutboundWorker(db, sender, redisClient, cfg.Outbound, cfg.Transport, &logger)
	go outbound.Start(ctx)

	classifier := nlu.NewResilientClassifier(
		nlu.NewClient(cfg.NLU),
		nlu.NewRulesClassifier(),
		cfg.NLU.MinConfidence,
		&logger,
	)

	orchestrator := conversation.NewOrchestrator(
		bookingService, db, db, db,
		classifier, guard, outbound, eventBus,
		cfg.Conversation, cfg.NLU, &logger,
	)

	reaper := worker.NewReaper(db, db, db, outbound, eventBus, cfg.Reaper, &logger)
	go reaper.Start(ctx)

	if cfg.Backup.Enabled {
		backupService := database.NewBackupService(cfg.Database.Path, cfg.Backup, &logger)
		go backupService.Start(ctx)
	}

	httpServer := api.NewHTTPServer(cfg, db, bookingService, orchestrator, guard, &logger)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("HTTP shutdown error")
		}
	}()

	return httpServer.Start()
}

func prepareDirectories(cfg *config.Config) error {
	dirs := []string{filepath.Dir(cfg.Database.Path)}
	if cfg.Backup.Enabled && cfg.Backup.StoragePath != "" {
		dirs = append(dirs, cfg.Backup.StoragePath)
	}
	if cfg.Exports.Path != "" {
		dirs = append(dirs, cfg.Exports.Path)
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		logger.Warn().Msg("Redis is not configured, idempotency guard runs in memory only")
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, client); err != nil {
		logger.Warn().Err(err).Msg("Redis unreachable at startup, failover guard will keep probing")
	}
	return client
}

func buildGuard(client *redis.Client, logger *zerolog.Logger) *repository.FailoverGuard {
	ttl := models.DefaultIdempotencyTTL * time.Second
	memory := repository.NewMemoryGuard(ttl)
	if client == nil {
		// Без Redis деградируем сразу в память, но через ту же обертку.
		return repository.NewFailoverGuard(memory, memory, logger)
	}
	return repository.NewFailoverGuard(repository.NewRedisGuard(client, ttl), memory, logger)
}

func subscribeEvents(bus *events.EventBus, logger *zerolog.Logger) {
	audit := logger.With().Str("component", "events").Logger()
	for _, eventType := range []string{
		events.EventAppointmentBooked,
		events.EventAppointmentCancelled,
		events.EventAppointmentRescheduled,
		events.EventConversationReset,
		events.EventContactOptedOut,
	} {
		bus.Subscribe(eventType, func(event *events.Event) error {
			audit.Info().Str("event", event.Type).RawJSON("payload", event.Payload).Msg("domain event")
			return nil
		})
	}
}
