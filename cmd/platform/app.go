package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/clinicops/platform/internal/ehrsync"
	"github.com/clinicops/platform/internal/notification"
	"github.com/clinicops/platform/internal/reconciliation"
	"github.com/clinicops/platform/internal/reminder"
	"github.com/clinicops/platform/internal/scenario"
	"github.com/clinicops/platform/internal/shared/config"
	"github.com/clinicops/platform/internal/shared/database"
	"github.com/clinicops/platform/internal/shared/events"
	"github.com/clinicops/platform/internal/shared/logging"
	"github.com/clinicops/platform/internal/shared/settings"
)

// settingsTTL bounds how long a changed tenant setting can go unnoticed.
const settingsTTL = time.Minute

// App holds all application dependencies
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	DB     *database.DB
	Bus    *events.Bus
	Redis  *redis.Client

	Publisher events.Publisher
	Settings  *settings.Resolver

	Reminders      *reminder.Repository
	Dispatcher     *reminder.Dispatcher
	Scenarios      *scenario.Repository
	Runner         *scenario.Runner
	Reconciliation *reconciliation.Service
	EHR            *ehrsync.Service
}

// newApp loads configuration and connects to Postgres. Redis and
// EventStoreDB are optional and degrade to in-process fallbacks.
func newApp(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	app := &App{Config: cfg, Logger: logging.Setup(cfg.Log), Publisher: events.Nop{}}

	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	app.DB = db

	if cfg.EventStore.Enabled {
		bus, err := events.NewBus(cfg.EventStore)
		if err != nil {
			app.Logger.Warn().Err(err).Msg("EventStoreDB not available, events are dropped")
		} else {
			app.Bus = bus
			app.Publisher = bus
		}
	}

	var guard reminder.Guard = reminder.NopGuard{}
	if cfg.Redis.Addr != "" {
		app.Redis = reminder.NewRedisClient(cfg.Redis)
		if err := app.Redis.Ping(ctx).Err(); err != nil {
			app.Logger.Warn().Err(err).Msg("Redis not available, relying on the send log alone")
		}
		guard = reminder.NewRedisGuard(app.Redis, cfg.Redis.ClaimTTL)
	}

	app.Settings = settings.NewResolver(settings.NewPostgresStore(db.Pool), settingsTTL)
	sender := app.sender()

	app.Reminders = reminder.NewRepository(db.Pool)
	app.Dispatcher = reminder.NewDispatcher(app.Reminders, sender, reminder.DispatcherConfig{
		Concurrency: cfg.Dispatch.Concurrency,
		Guard:       guard,
		Publisher:   app.Publisher,
	}, app.Logger)

	app.Scenarios = scenario.NewRepository(db.Pool)
	engine := scenario.NewEngine(scenario.NewLineMessenger(sender, app.Scenarios, app.Logger), app.Scenarios, app.Scenarios)
	app.Runner = scenario.NewRunner(app.Scenarios, engine, scenario.RunnerConfig{
		Concurrency: cfg.Dispatch.Concurrency,
	}, app.Logger)

	app.Reconciliation = reconciliation.NewService(reconciliation.NewRepository(db.Pool), app.Publisher,
		cfg.Dispatch.Concurrency, app.Logger)

	factory := ehrsync.NewFactory(app.Settings, cfg.EHR.RequestTimeout, app.Logger)
	app.EHR = ehrsync.NewService(ehrsync.NewRepository(db.Pool), factory, app.Publisher,
		cfg.EHR.PushConcurrency, app.Logger)

	return app, nil
}

// sender pushes over LINE. Development without a channel token logs the
// messages instead.
func (a *App) sender() notification.Sender {
	if !a.Config.IsProduction() && a.Config.Line.ChannelToken == "" {
		a.Logger.Info().Msg("no LINE channel token, pushes are logged only")
		return notification.NewConsoleSender(a.Logger)
	}
	return notification.NewLineClient(a.Config.Line, a.Settings, a.Logger)
}

// Close releases the event bus, Redis and the database pool.
func (a *App) Close() {
	if a.Bus != nil {
		a.Bus.Close()
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
