package channels

import (
	"context"
	"errors"

	"agendabot/internal/domain/reminder"
	"agendabot/internal/domain/routing"
	"agendabot/internal/shared/logging"
	"agendabot/internal/shared/watch"
)

// DeliverFunc renders one outbound message on the adapter's transport.
type DeliverFunc func(ctx context.Context, out Outbound) error

// Pump forwards events addressed to Origin, and reminder announcements,
// to Deliver. Delivery failures are logged and skipped. Reminders may be nil.
type Pump struct {
	Origin    routing.Origin
	Events    <-chan routing.Event
	Reminders *watch.Receiver[reminder.Type]
	Agenda    AgendaReader
	Deliver   DeliverFunc
	Logger    logging.Logger
}

// Run blocks until ctx is done or Events is closed.
func (p Pump) Run(ctx context.Context) error {
	logger := logging.OrNop(p.Logger)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	signals := make(chan reminder.Type)
	if p.Reminders != nil {
		go func() {
			for {
				t, err := p.Reminders.Changed(ctx)
				if err != nil {
					return
				}
				select {
				case signals <- t:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-p.Events:
			if !ok {
				return nil
			}
			if !routing.IsAddressed(ev.To, p.Origin) {
				continue
			}
			p.deliver(ctx, logger, Outbound{Kind: OutboundEvent, Text: ev.Message})
		case t := <-signals:
			text, err := p.reminderText(ctx, t)
			if err != nil {
				logger.Warn("Pump %s: reminder agenda read failed: %v", p.Origin, err)
				continue
			}
			if text == "" {
				continue
			}
			p.deliver(ctx, logger, Outbound{Kind: OutboundReminder, Text: text})
		}
	}
}

func (p Pump) reminderText(ctx context.Context, t reminder.Type) (string, error) {
	if p.Agenda == nil {
		return "", errors.New("no agenda reader")
	}
	a, err := p.Agenda.Read(ctx)
	if err != nil {
		return "", err
	}
	return ReminderMessage(t, a), nil
}

func (p Pump) deliver(ctx context.Context, logger logging.Logger, out Outbound) {
	if err := p.Deliver(ctx, out); err != nil {
		logger.Warn("Pump %s: deliver %s failed: %v", p.Origin, out.Kind, err)
	}
}
