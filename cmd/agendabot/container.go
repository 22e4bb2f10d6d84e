package main

import (
	"context"
	"errors"
	"io"
	"time"

	"agendabot/internal/app/hub"
	"agendabot/internal/app/scheduler"
	"agendabot/internal/config"
	"agendabot/internal/domain/reminder"
	"agendabot/internal/infra/observability"
	"agendabot/internal/infra/store"
	boterrors "agendabot/internal/shared/errors"
	"agendabot/internal/shared/logging"
	"agendabot/internal/shared/watch"
)

// Container holds the long-lived dependencies shared by the commands.
type Container struct {
	Config    config.Config
	Logger    *logging.SlogLogger
	Metrics   *observability.MetricsCollector
	Backend   store.Backend
	Agenda    *store.AgendaStore
	Reminders *store.ReminderStore
	Signal    *watch.Cell[reminder.Type]
	Hub       *hub.Hub
	Scheduler *scheduler.Scheduler
}

// buildStore opens only the document store; read-only commands need nothing more.
func buildStore(ctx context.Context, cfg config.Config) (store.Backend, error) {
	storeCfg := cfg.StoreConfig()
	backend, err := store.Open(ctx, storeCfg)
	if err != nil {
		return nil, boterrors.NewStoreError("open", string(storeCfg.Backend), err)
	}
	return backend, nil
}

func buildContainer(ctx context.Context, cfg config.Config, logOutput io.Writer) (*Container, error) {
	logger := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: logOutput,
	})

	metrics, err := observability.NewMetricsCollector(observability.MetricsConfig{Enabled: cfg.Metrics.Enabled})
	if err != nil {
		return nil, err
	}

	backend, err := buildStore(ctx, cfg)
	if err != nil {
		_ = metrics.Shutdown(ctx)
		return nil, err
	}

	anchor, err := cfg.Anchor()
	if err != nil {
		_ = backend.Close()
		_ = metrics.Shutdown(ctx)
		return nil, &boterrors.ConfigError{Key: "meeting", Err: err}
	}

	agendaStore := store.NewAgendaStore(backend)
	reminderStore := store.NewReminderStore(backend, time.Now)
	signal := watch.NewCell(reminder.Void)

	c := &Container{
		Config:    cfg,
		Logger:    logger,
		Metrics:   metrics,
		Backend:   backend,
		Agenda:    agendaStore,
		Reminders: reminderStore,
		Signal:    signal,
		Hub: hub.New(hub.Config{
			InboxSize:        cfg.Hub.InboxSize,
			SubscriberBuffer: cfg.Hub.SubscriberBuffer,
			UnknownCommand:   hub.UnknownCommandPolicy(cfg.Hub.UnknownCommand),
			Version:          version,
		}, agendaStore, logger.Component("hub"), metrics),
		Scheduler: scheduler.New(scheduler.Config{
			Anchor:   anchor,
			Interval: cfg.Scheduler.Tick,
		}, reminderStore, signal, logger.Component("scheduler"), metrics),
	}
	logger.Info("Container built (%s, config=%q)", cfg, cfg.Source())
	return c, nil
}

// Close releases the store and flushes metrics.
func (c *Container) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.Join(
		c.Backend.Close(),
		c.Metrics.Shutdown(ctx),
	)
}
