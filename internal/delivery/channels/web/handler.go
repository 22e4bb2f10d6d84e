// Package web exposes the agenda hub over websockets. Every connection is
// its own origin, so "!agenda" answers only the connection that asked.
package web

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"agendabot/internal/delivery/channels"
	"agendabot/internal/domain/reminder"
	"agendabot/internal/domain/routing"
	"agendabot/internal/infra/observability"
	jsonx "agendabot/internal/shared/json"
	"agendabot/internal/shared/logging"
	"agendabot/internal/shared/watch"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	channelName = "web"
	writeWait   = 10 * time.Second
	// OriginPrefix starts every connection's origin.
	OriginPrefix = "web:"
)

// Frame is the JSON message exchanged with clients. Clients send
// {"message": "..."}; the server sends typed frames.
type Frame struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message,omitempty"`
	Origin  string `json:"origin,omitempty"`
}

const (
	FrameHello = "hello"
	FrameError = "error"
)

// Config configures the handler.
type Config struct {
	channels.BaseConfig
}

// Handler upgrades requests to websockets and bridges each one to the hub.
type Handler struct {
	cfg       Config
	hub       channels.Hub
	agenda    channels.AgendaReader
	reminders *watch.Cell[reminder.Type]
	logger    logging.Logger
	metrics   *observability.MetricsCollector
	upgrader  websocket.Upgrader

	// ctx parents every connection and is canceled by Close, so a submit
	// stuck on a stalled hub gives up on shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	conns  map[*connection]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewHandler builds the handler. reminders and metrics may be nil.
func NewHandler(cfg Config, hub channels.Hub, agenda channels.AgendaReader, reminders *watch.Cell[reminder.Type], logger logging.Logger, metrics *observability.MetricsCollector) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		ctx:       ctx,
		cancel:    cancel,
		cfg:       cfg,
		hub:       hub,
		agenda:    agenda,
		reminders: reminders,
		logger:    logging.OrNop(logger),
		metrics:   metrics,
		conns:     make(map[*connection]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Cross-origin policy is enforced by the HTTP server's CORS layer.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP expects GET ?name=<display name>.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		http.Error(w, "name query parameter is required", http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Web: upgrade failed: %v", err)
		return
	}
	origin := routing.Origin(OriginPrefix + uuid.NewString())
	c := &connection{conn: conn, origin: origin, name: name, handler: h}
	if !h.track(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	defer h.untrack(c)
	c.serve(h.ctx)
}

func (h *Handler) track(c *connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c] = struct{}{}
	h.wg.Add(1)
	return true
}

func (h *Handler) untrack(c *connection) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	h.wg.Done()
}

// Connections returns the number of open websocket connections.
func (h *Handler) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close refuses new connections, closes the open ones and waits for them
// to unsubscribe from the hub.
func (h *Handler) Close() {
	h.mu.Lock()
	h.closed = true
	h.cancel()
	open := make([]*connection, 0, len(h.conns))
	for c := range h.conns {
		open = append(open, c)
	}
	h.mu.Unlock()

	for _, c := range open {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	}
	h.wg.Wait()
}

type connection struct {
	conn    *websocket.Conn
	origin  routing.Origin
	name    string
	handler *Handler

	writeMu sync.Mutex
}

func (c *connection) serve(parent context.Context) {
	h := c.handler
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	defer c.conn.Close()

	h.logger.Info("Web: %s connected as %s", c.name, c.origin)
	events, unsubscribe := h.hub.Subscribe(c.origin)
	pump := channels.Pump{
		Origin:  c.origin,
		Events:  events,
		Agenda:  h.agenda,
		Deliver: c.deliver,
		Logger:  h.logger,
	}
	if h.reminders != nil {
		pump.Reminders = h.reminders.Subscribe()
	}
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		_ = pump.Run(ctx)
	}()
	defer func() {
		unsubscribe()
		cancel()
		<-pumpDone
		h.logger.Info("Web: %s (%s) disconnected", c.name, c.origin)
	}()

	if err := c.write(Frame{Type: FrameHello, Origin: string(c.origin)}); err != nil {
		return
	}
	c.readLoop(ctx)
}

func (c *connection) readLoop(ctx context.Context) {
	h := c.handler
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var in Frame
		if err := jsonx.Unmarshal(data, &in); err != nil || strings.TrimSpace(in.Message) == "" {
			_ = c.write(Frame{Type: FrameError, Message: "expected {\"message\": \"...\"}"})
			h.metrics.RecordChannelMessage(ctx, channelName, "in", "dropped")
			continue
		}
		h.metrics.RecordChannelMessage(ctx, channelName, "in", "ok")

		req, fb := channels.NewRequest(c.origin, in.Message, c.name)
		if err := h.hub.Submit(ctx, req); err != nil {
			return
		}
		if fb != nil {
			message := in.Message
			go channels.AwaitFeedback(ctx, fb, h.cfg.Timeout(), func() {
				_ = c.write(Frame{Type: string(channels.OutboundAck), Message: message})
			})
		}
	}
}

func (c *connection) deliver(ctx context.Context, out channels.Outbound) error {
	err := c.write(Frame{Type: string(out.Kind), Message: out.Text})
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.handler.metrics.RecordChannelMessage(ctx, channelName, "out", status)
	return err
}

func (c *connection) write(f Frame) error {
	data, err := jsonx.Marshal(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
