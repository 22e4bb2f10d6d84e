// Package hub is the single consumer of chat requests. It applies agenda
// commands in arrival order, persists every mutation before announcing it,
// and fans the resulting events out to all subscribed adapters.
package hub

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"agendabot/internal/app/command"
	"agendabot/internal/domain/agenda"
	"agendabot/internal/domain/routing"
	"agendabot/internal/infra/observability"
	"agendabot/internal/shared/logging"

	"github.com/google/uuid"
)

// AgendaRepository is the persisted agenda. The hub is its only writer.
type AgendaRepository interface {
	Read(ctx context.Context) (agenda.Agenda, error)
	Write(ctx context.Context, a agenda.Agenda) error
}

// UnknownCommandPolicy decides what happens to "!something" the parser does
// not recognise.
type UnknownCommandPolicy string

const (
	UnknownSilent UnknownCommandPolicy = "silent"
	UnknownReply  UnknownCommandPolicy = "reply"
)

// UnknownCommandReply is sent back to the origin under UnknownReply.
const UnknownCommandReply = "Unknown command. Try !help"

const (
	defaultInboxSize        = 64
	defaultSubscriberBuffer = 256
)

// Config tunes queue sizes and reply policy.
type Config struct {
	InboxSize        int
	SubscriberBuffer int
	UnknownCommand   UnknownCommandPolicy
	Version          string
}

// HelpText lists the supported commands.
func HelpText(version string) string {
	var b strings.Builder
	b.WriteString("agendabot")
	if version != "" {
		b.WriteString(" ")
		b.WriteString(version)
	}
	b.WriteString("\n!add <title>: add a point to the agenda")
	b.WriteString("\n!agenda: show the agenda")
	b.WriteString("\n!clear: clear the agenda")
	b.WriteString("\n!help: show this message")
	return b.String()
}

type subscriber struct {
	origin routing.Origin
	ch     chan routing.Event
}

// Hub serializes all agenda commands.
type Hub struct {
	cfg     Config
	agenda  AgendaRepository
	logger  logging.Logger
	metrics *observability.MetricsCollector
	inbox   chan routing.Request

	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64
}

// New builds a hub. metrics may be nil.
func New(cfg Config, repo AgendaRepository, logger logging.Logger, metrics *observability.MetricsCollector) *Hub {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = defaultInboxSize
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = defaultSubscriberBuffer
	}
	if cfg.UnknownCommand == "" {
		cfg.UnknownCommand = UnknownSilent
	}
	return &Hub{
		cfg:     cfg,
		agenda:  repo,
		logger:  logging.OrNop(logger),
		metrics: metrics,
		inbox:   make(chan routing.Request, cfg.InboxSize),
		subs:    make(map[uint64]*subscriber),
	}
}

// Submit queues req for processing, waiting while the inbox is full.
func (h *Hub) Submit(ctx context.Context, req routing.Request) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	select {
	case h.inbox <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers an adapter for every event the hub publishes. The
// adapter filters by address itself. The returned cancel func unregisters
// and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(origin routing.Origin) (<-chan routing.Event, func()) {
	sub := &subscriber{origin: origin, ch: make(chan routing.Event, h.cfg.SubscriberBuffer)}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = sub
	h.mu.Unlock()
	h.metrics.AddSubscribers(context.Background(), 1)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(sub.ch)
			h.mu.Unlock()
			h.metrics.AddSubscribers(context.Background(), -1)
		})
	}
	return sub.ch, cancel
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Run processes requests until ctx is done or a request fails fatally.
func (h *Hub) Run(ctx context.Context) error {
	h.logger.Info("Hub started (inbox=%d, unknown=%s)", h.cfg.InboxSize, h.cfg.UnknownCommand)
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Hub stopped")
			return nil
		case req := <-h.inbox:
			if err := h.Handle(ctx, req); err != nil {
				h.logger.Error("Hub: request %s from %s failed: %v", req.ID, req.Origin, err)
				return err
			}
		}
	}
}

// Handle applies one request. Errors are store failures and are fatal to
// the caller; nothing is published or acknowledged for a failed mutation.
func (h *Hub) Handle(ctx context.Context, req routing.Request) error {
	start := time.Now()
	cmd := command.Parse(req.Message, req.Sender)
	if cmd.Kind != command.NotACommand {
		h.logger.Debug("Hub: request %s from %s: %s", req.ID, req.Origin, cmd.Kind)
	}
	defer func() {
		h.metrics.RecordHubRequest(ctx, cmd.Kind.String(), time.Since(start))
	}()

	// A mutation that has started is carried through even during shutdown.
	storeCtx := context.WithoutCancel(ctx)

	switch cmd.Kind {
	case command.Add:
		current, err := h.agenda.Read(storeCtx)
		if err != nil {
			return fmt.Errorf("add point: %w", err)
		}
		point := agenda.Point{Title: cmd.Title, Adder: cmd.Sender}
		if err := h.agenda.Write(storeCtx, current.With(point)); err != nil {
			return fmt.Errorf("add point: %w", err)
		}
		h.logger.Info("Hub: %s added %q via %s", point.Adder, point.Title, req.Origin)
		h.publish(ctx, routing.Event{To: routing.Not(req.Origin), Message: point.AddedMessage()})
		if req.Feedback != nil && !req.Acknowledge(routing.FeedbackOK) {
			h.logger.Debug("Hub: feedback for %s not delivered", req.ID)
		}

	case command.ShowAgenda:
		current, err := h.agenda.Read(storeCtx)
		if err != nil {
			return fmt.Errorf("show agenda: %w", err)
		}
		h.publish(ctx, routing.Event{To: routing.Only(req.Origin), Message: current.Render()})

	case command.Clear:
		if err := h.agenda.Write(storeCtx, agenda.Agenda{}); err != nil {
			return fmt.Errorf("clear agenda: %w", err)
		}
		h.logger.Info("Hub: agenda cleared by %s via %s", cmd.Sender, req.Origin)
		h.publish(ctx, routing.Event{To: routing.All(), Message: agenda.ClearedMessage(cmd.Sender)})

	case command.Help:
		h.publish(ctx, routing.Event{To: routing.Only(req.Origin), Message: HelpText(h.cfg.Version)})

	case command.Unrecognized:
		h.logger.Debug("Hub: unrecognized command from %s via %s", cmd.Sender, req.Origin)
		if h.cfg.UnknownCommand == UnknownReply {
			h.publish(ctx, routing.Event{To: routing.Only(req.Origin), Message: UnknownCommandReply})
		}

	case command.NotACommand:
	}
	return nil
}

// publish hands ev to every subscriber without blocking. A subscriber whose
// buffer is full misses the event.
func (h *Hub) publish(ctx context.Context, ev routing.Event) {
	h.metrics.RecordHubEvent(ctx, addressLabel(ev.To))

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			h.logger.Warn("Hub: subscriber %s is full, dropping event to %s", sub.origin, ev.To)
			h.metrics.RecordDroppedEvent(ctx, string(sub.origin))
		}
	}
}

func addressLabel(a routing.Address) string {
	switch a.Kind {
	case routing.ToOnly:
		return "only"
	case routing.ToAllBut:
		return "not"
	default:
		return "all"
	}
}
