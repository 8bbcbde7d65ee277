// Package app assembles the sync components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"bookingsync/internal/availability"
	"bookingsync/internal/clock"
	"bookingsync/internal/config"
	"bookingsync/internal/database"
	"bookingsync/internal/domain"
	"bookingsync/internal/events"
	"bookingsync/internal/export"
	"bookingsync/internal/google"
	"bookingsync/internal/lock"
	"bookingsync/internal/models"
	"bookingsync/internal/notify"
	"bookingsync/internal/repository"
	"bookingsync/internal/service"
	"bookingsync/internal/storefront"
	"bookingsync/internal/worker"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// App holds the wired components. The sync stack is only built by InitSync,
// so read-only tooling does not need storefront or calendar credentials.
type App struct {
	Config      *config.Config
	Logger      *zerolog.Logger
	Clock       clock.Clock
	Location    *time.Location
	DB          *database.DB
	Redis       *redis.Client
	Locker      lock.Locker
	Bus         *events.EventBus
	DeadLetters domain.DeadLetterQueue
	Retries     *worker.RetryQueue

	Calendar     *google.CalendarService
	Storefront   *storefront.Client
	Processor    *service.OrderProcessor
	Engine       *service.SyncEngine
	Orchestrator *worker.Orchestrator
	Commands     *notify.CommandBot
}

// Open connects storage and builds the retry queue and lock.
func Open(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	loc, err := cfg.Sync.Location()
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	if dir := filepath.Dir(cfg.Database.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error().Err(err).Msg("Ошибка создания директории для базы данных")
			return nil, err
		}
	}
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Clock:    clock.Real{},
		Location: loc,
		DB:       db,
		Bus:      events.NewEventBus(),
	}
	a.Bus.OnError(func(ev *events.Event, err error) {
		logger.Warn().Err(err).Str("event", ev.Type).Msg("event handler failed")
	})

	a.Redis = initRedis(ctx, cfg, logger)
	if err := a.initLocker(); err != nil {
		a.Close()
		return nil, err
	}
	a.initDeadLetters()

	a.Retries = worker.NewRetryQueue(db, worker.RetryPolicy{
		MaxRetries: cfg.Sync.MaxRetries,
		BaseDelay:  cfg.Sync.RetryBaseDelay,
		MaxDelay:   cfg.Sync.RetryMaxDelay,
		Jitter:     cfg.Sync.RetryJitter,
	}, a.Clock, a.DeadLetters, a.Bus, logger)

	return a, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = client.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

func (a *App) initLocker() error {
	switch a.Config.Sync.LockBackend {
	case config.LockBackendRedis:
		if a.Redis == nil {
			return errors.New("sync.lock_backend is redis but redis is unavailable")
		}
		a.Locker = lock.NewRedisLocker(a.Redis, a.Clock)
	default:
		a.Locker = lock.NewDBLocker(a.DB, a.Clock)
	}
	return nil
}

// initDeadLetters parks exhausted entries in redis, falling back to memory while it is down.
func (a *App) initDeadLetters() {
	memory := repository.NewMemoryDeadLetter(1000)
	if a.Redis == nil {
		a.DeadLetters = memory
		return
	}
	primary := repository.NewRedisDeadLetter(a.Redis, models.DeadLetterKey, 1000)
	a.DeadLetters = repository.NewFailoverDeadLetter(primary, memory, a.Clock, a.Logger)
}

// InitSync builds the storefront and calendar clients and the sync pipeline.
func (a *App) InitSync(ctx context.Context) error {
	if a.Orchestrator != nil {
		return nil
	}
	cfg := a.Config

	sf, err := storefront.NewClient(cfg.Storefront, a.Logger)
	if err != nil {
		return err
	}

	if err := a.InitCalendar(ctx); err != nil {
		return err
	}
	cal := a.Calendar

	trigger, err := worker.NewTrigger(cfg.Sync.Schedule, cfg.Sync.SyncInterval, a.Location)
	if err != nil {
		return err
	}

	detector := availability.NewDetector(cal, cfg.Sync.Session(), cfg.Sync.Buffer(), a.Location)
	a.Processor = service.NewOrderProcessor(cal, detector, a.DB, a.Retries, a.Bus, a.Clock, service.ProcessorConfig{
		Session:    cfg.Sync.Session(),
		Location:   a.Location,
		EventLabel: cfg.Sync.EventLabel,
	}, a.Logger)
	a.Engine = service.NewSyncEngine(sf, a.Processor, a.DB, a.Retries, a.DB, a.Locker, a.Clock, service.EngineConfig{
		BatchSize:          cfg.Sync.BatchSize,
		Overlap:            cfg.Sync.Overlap,
		Lookback:           cfg.Sync.Lookback,
		DelayBetweenOrders: cfg.Sync.DelayBetweenOrders,
		OrderLockTTL:       cfg.Sync.OrderLockTTL,
	}, a.Logger)
	a.Orchestrator = worker.NewOrchestrator(a.Engine, a.Locker, a.DB, a.Retries, a.Bus, a.Clock, worker.OrchestratorConfig{
		MaxSyncDuration: cfg.Sync.MaxSyncDuration,
		Trigger:         trigger,
		RunOnStart:      true,
	}, a.Logger)

	a.Storefront = sf
	return nil
}

// InitCalendar connects the Google Calendar client.
func (a *App) InitCalendar(ctx context.Context) error {
	if a.Calendar != nil {
		return nil
	}
	cfg := a.Config.Google
	if cfg.CredentialsFile == "" {
		return errors.New("google.credentials_file is required")
	}
	cal, err := google.NewCalendarService(ctx, cfg.CredentialsFile, cfg.CalendarID, a.Location)
	if err != nil {
		return err
	}
	if err := cal.Ping(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("calendar connection test failed")
	}
	a.Calendar = cal
	return nil
}

// AttachNotifier forwards alerts to Telegram when a bot token is configured.
// With telegram.commands set and the sync pipeline built, it also prepares
// the operator command bot; the caller starts it.
func (a *App) AttachNotifier() error {
	tg := a.Config.Telegram
	if tg.BotToken == "" || tg.ChatID == 0 {
		return nil
	}
	bot, err := notify.NewBotSender(tg)
	if err != nil {
		return err
	}
	notify.NewTelegramNotifier(bot, tg.ChatID, a.Logger).Attach(a.Bus)

	if tg.Commands && a.Orchestrator != nil {
		a.Commands = notify.NewCommandBot(bot, tg.ChatID, a.Orchestrator, a.Retries, a.Exporter(), a.Location, a.Logger)
	}
	return nil
}

// StatusReporter returns the orchestrator for status reports. Without InitSync
// it has no engine and must only be used for Status.
func (a *App) StatusReporter() *worker.Orchestrator {
	if a.Orchestrator != nil {
		return a.Orchestrator
	}
	return worker.NewOrchestrator(nil, a.Locker, a.DB, a.Retries, nil, a.Clock, worker.OrchestratorConfig{
		MaxSyncDuration: a.Config.Sync.MaxSyncDuration,
	}, a.Logger)
}

// Exporter builds the manual-review workbook writer.
func (a *App) Exporter() *export.Exporter {
	return export.NewExporter(a.DB, a.DeadLetters, a.Location)
}

// Close releases storage connections.
func (a *App) Close() {
	if a.Redis != nil {
		_ = repository.Close(a.Redis)
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}
