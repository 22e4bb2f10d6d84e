// Package channels holds what every chat adapter shares: the hub contract,
// the outbound pump that filters events and renders reminders, and the
// feedback waiter.
package channels

import (
	"context"
	"fmt"
	"time"

	"agendabot/internal/app/command"
	"agendabot/internal/domain/agenda"
	"agendabot/internal/domain/reminder"
	"agendabot/internal/domain/routing"
)

const defaultFeedbackTimeout = 30 * time.Second

// BaseConfig holds the config fields shared by every channel.
type BaseConfig struct {
	FeedbackTimeout time.Duration
}

// Timeout returns the feedback timeout, defaulting to 30s.
func (c BaseConfig) Timeout() time.Duration {
	if c.FeedbackTimeout <= 0 {
		return defaultFeedbackTimeout
	}
	return c.FeedbackTimeout
}

// Hub is the part of the routing hub adapters talk to.
type Hub interface {
	Submit(ctx context.Context, req routing.Request) error
	Subscribe(origin routing.Origin) (<-chan routing.Event, func())
}

// AgendaReader gives adapters read access to the agenda for reminders.
type AgendaReader interface {
	Read(ctx context.Context) (agenda.Agenda, error)
}

// OutboundKind tags what an adapter is about to render.
type OutboundKind string

const (
	OutboundEvent    OutboundKind = "event"
	OutboundReminder OutboundKind = "reminder"
	OutboundAck      OutboundKind = "ack"
)

// Outbound is one message an adapter renders for its origin.
type Outbound struct {
	Kind OutboundKind
	Text string
}

// ReminderMessage renders the reminder announcement for t, or "" for kinds
// that are never announced.
func ReminderMessage(t reminder.Type, a agenda.Agenda) string {
	switch t {
	case reminder.OneHour:
		return fmt.Sprintf("Reminder: the meeting starts in one hour.\nAgenda:\n%s", a.Render())
	default:
		return ""
	}
}

// NewRequest builds a request and, when message is an Add command,
// attaches a feedback channel. The returned channel is nil otherwise.
func NewRequest(origin routing.Origin, message, sender string) (routing.Request, <-chan routing.Feedback) {
	req := routing.Request{Origin: origin, Message: message, Sender: sender}
	if command.Parse(message, sender).Kind != command.Add {
		return req, nil
	}
	fb := routing.NewFeedback()
	req.Feedback = fb
	return req, fb
}
