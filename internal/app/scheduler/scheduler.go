// Package scheduler polls the clock and raises the reminder signal once per
// reminder window before each weekly meeting.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"agendabot/internal/domain/reminder"
	"agendabot/internal/infra/observability"
	"agendabot/internal/shared/logging"
	"agendabot/internal/shared/watch"
)

const defaultInterval = time.Second

// ReminderRepository is the persisted fire history.
type ReminderRepository interface {
	Read(ctx context.Context) ([]reminder.Record, error)
	Write(ctx context.Context, records []reminder.Record) error
}

// Config sets the meeting slot and the polling interval.
type Config struct {
	Anchor   reminder.Anchor
	Interval time.Duration
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// Scheduler evaluates the reminder windows on every tick.
type Scheduler struct {
	config  Config
	store   ReminderRepository
	signal  *watch.Cell[reminder.Type]
	logger  logging.Logger
	metrics *observability.MetricsCollector
	now     func() time.Time
}

// New builds a scheduler publishing on signal. metrics may be nil.
func New(config Config, store ReminderRepository, signal *watch.Cell[reminder.Type], logger logging.Logger, metrics *observability.MetricsCollector, opts ...Option) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = defaultInterval
	}
	s := &Scheduler{
		config:  config,
		store:   store,
		signal:  signal,
		logger:  logging.OrNop(logger),
		metrics: metrics,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run ticks immediately and then every interval until ctx is done. A store
// failure ends the loop with that error.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("Scheduler started (meeting=%s, interval=%s)", s.config.Anchor, s.config.Interval)
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.Tick(ctx); err != nil {
			s.logger.Error("Scheduler: tick failed: %v", err)
			return err
		}
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs one evaluation and returns the reminder types it signalled.
// The records are written back on every tick, fired or not.
func (s *Scheduler) Tick(ctx context.Context) ([]reminder.Type, error) {
	s.metrics.RecordSchedulerTick(ctx)
	now := s.now()

	meeting, err := s.config.Anchor.NextMeeting(now)
	if err != nil {
		return nil, fmt.Errorf("next meeting: %w", err)
	}

	storeCtx := context.WithoutCancel(ctx)
	records, err := s.store.Read(storeCtx)
	if err != nil {
		return nil, fmt.Errorf("read reminders: %w", err)
	}

	var fired []reminder.Type
	for i, rec := range records {
		lead, ok := rec.Type.Lead()
		if !ok {
			continue
		}
		window := reminder.RemindWindow(meeting, lead)
		if !window.Contains(now) || firedFor(window, rec.LastFire) {
			continue
		}
		s.signal.Set(rec.Type)
		fired = append(fired, rec.Type)
		s.metrics.RecordReminderFired(ctx, string(rec.Type))
		s.logger.Info("Scheduler: %s reminder for meeting at %s", rec.Type, meeting.Format(time.RFC3339))
		if now.After(rec.LastFire) {
			records[i].LastFire = now
		}
	}

	if err := s.store.Write(storeCtx, records); err != nil {
		return fired, fmt.Errorf("write reminders: %w", err)
	}
	return fired, nil
}

// firedFor reports whether lastFire already accounts for window. A lastFire
// past the window's end (the clock moved backwards) also counts, so the
// record never needs to go back in time.
func firedFor(window reminder.Window, lastFire time.Time) bool {
	return window.Contains(lastFire) || !lastFire.Before(window.End)
}
