// Package lark connects the agenda hub to one Lark (Feishu) group chat over
// the open platform's websocket event stream.
package lark

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"agendabot/internal/delivery/channels"
	"agendabot/internal/domain/reminder"
	"agendabot/internal/domain/routing"
	"agendabot/internal/infra/observability"
	jsonx "agendabot/internal/shared/json"
	"agendabot/internal/shared/logging"
	"agendabot/internal/shared/namecache"
	"agendabot/internal/shared/watch"

	lru "github.com/hashicorp/golang-lru/v2"
	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"
	"golang.org/x/time/rate"
)

// Origin is the routing identity of the Lark channel.
const Origin routing.Origin = "lark"

const (
	channelName           = "lark"
	messageDedupCacheSize = 2048
	inboundQueueSize      = 256
)

// Config configures the gateway.
type Config struct {
	channels.BaseConfig
	Enabled       bool
	AppID         string
	AppSecret     string
	ChatID        string
	BaseDomain    string
	AckEmoji      string
	SendRate      float64
	SendBurst     int
	NameCacheSize int
}

// Gateway bridges one Lark chat and the hub.
type Gateway struct {
	cfg       Config
	hub       channels.Hub
	agenda    channels.AgendaReader
	reminders *watch.Cell[reminder.Type]
	logger    logging.Logger
	metrics   *observability.MetricsCollector

	client    *lark.Client
	messenger Messenger
	names     *namecache.Cache
	limiter   *rate.Limiter
	dedup     *lru.Cache[string, struct{}]

	// inbound hands parsed messages from the event callback to the
	// dispatch worker, which owns name lookups and hub submits.
	inbound    chan *incomingMessage
	workerOnce sync.Once
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// Option customises a Gateway.
type Option func(*Gateway)

// WithMessenger replaces the SDK messenger, e.g. with a RecordingMessenger.
func WithMessenger(m Messenger) Option {
	return func(g *Gateway) {
		g.messenger = m
	}
}

// NewGateway builds the gateway. Nothing connects until Start.
func NewGateway(cfg Config, hub channels.Hub, agenda channels.AgendaReader, reminders *watch.Cell[reminder.Type], logger logging.Logger, metrics *observability.MetricsCollector, opts ...Option) (*Gateway, error) {
	if cfg.AckEmoji == "" {
		cfg.AckEmoji = "DONE"
	}
	if cfg.SendRate <= 0 {
		cfg.SendRate = 5
	}
	if cfg.SendBurst <= 0 {
		cfg.SendBurst = 5
	}
	if cfg.NameCacheSize <= 0 {
		cfg.NameCacheSize = 512
	}
	dedup, err := lru.New[string, struct{}](messageDedupCacheSize)
	if err != nil {
		return nil, fmt.Errorf("lark message deduper init: %w", err)
	}
	g := &Gateway{
		cfg:       cfg,
		hub:       hub,
		agenda:    agenda,
		reminders: reminders,
		logger:    logging.OrNop(logger),
		metrics:   metrics,
		limiter:   rate.NewLimiter(rate.Limit(cfg.SendRate), cfg.SendBurst),
		dedup:     dedup,
		inbound:   make(chan *incomingMessage, inboundQueueSize),
	}
	g.ctx, g.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(g)
	}
	if g.messenger == nil {
		var clientOpts []lark.ClientOptionFunc
		if domain := strings.TrimSpace(cfg.BaseDomain); domain != "" {
			clientOpts = append(clientOpts, lark.WithOpenBaseUrl(domain))
		}
		g.client = lark.NewClient(cfg.AppID, cfg.AppSecret, clientOpts...)
		g.messenger = newSDKMessenger(g.client)
	}
	names, err := namecache.New(cfg.NameCacheSize, g.messenger.UserName)
	if err != nil {
		return nil, fmt.Errorf("lark name cache init: %w", err)
	}
	g.names = names
	return g, nil
}

// Start subscribes to the hub, connects the websocket and blocks until ctx
// is done or the connection fails.
func (g *Gateway) Start(ctx context.Context) error {
	if !g.cfg.Enabled {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer g.Close()

	pumpDone := g.startPump(ctx)
	defer func() {
		cancel()
		<-pumpDone
	}()

	eventDispatcher := dispatcher.NewEventDispatcher("", "")
	eventDispatcher.OnP2MessageReceiveV1(g.handleMessage)

	var wsOpts []larkws.ClientOption
	wsOpts = append(wsOpts, larkws.WithEventHandler(eventDispatcher))
	wsOpts = append(wsOpts, larkws.WithLogLevel(larkcore.LogLevelInfo))
	if domain := strings.TrimSpace(g.cfg.BaseDomain); domain != "" {
		wsOpts = append(wsOpts, larkws.WithDomain(domain))
	}
	wsClient := larkws.NewClient(g.cfg.AppID, g.cfg.AppSecret, wsOpts...)

	g.logger.Info("Lark gateway connecting (app_id=%s, chat_id=%s)...", g.cfg.AppID, g.cfg.ChatID)
	// The SDK client does not return on cancellation.
	errCh := make(chan error, 1)
	go func() { errCh <- wsClient.Start(ctx) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("lark websocket: %w", err)
		}
		return nil
	}
}

// Close stops the dispatch worker and waits for pending acknowledgements to
// give up. Messages still queued are dropped. Safe to call more than once.
func (g *Gateway) Close() {
	// Claims the once so no worker can start after this point.
	g.workerOnce.Do(func() {})
	g.cancel()
	g.wg.Wait()
}

func (g *Gateway) startPump(ctx context.Context) <-chan struct{} {
	events, unsubscribe := g.hub.Subscribe(Origin)
	pump := channels.Pump{
		Origin:  Origin,
		Events:  events,
		Agenda:  g.agenda,
		Deliver: g.deliver,
		Logger:  g.logger,
	}
	if g.reminders != nil {
		pump.Reminders = g.reminders.Subscribe()
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer unsubscribe()
		_ = pump.Run(ctx)
	}()
	return done
}

func (g *Gateway) deliver(ctx context.Context, out channels.Outbound) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := g.messenger.SendMessage(ctx, g.cfg.ChatID, "text", textContent(out.Text)); err != nil {
		g.metrics.RecordChannelMessage(ctx, channelName, "out", "error")
		return err
	}
	g.metrics.RecordChannelMessage(ctx, channelName, "out", "ok")
	return nil
}

type incomingMessage struct {
	messageID string
	senderID  string
	text      string
}

// handleMessage filters one received chat message and queues it for the
// dispatch worker. It only blocks while the queue is full.
func (g *Gateway) handleMessage(ctx context.Context, event *larkim.P2MessageReceiveV1) error {
	msg := g.parseIncomingMessage(event)
	if msg == nil {
		return nil
	}
	g.metrics.RecordChannelMessage(ctx, channelName, "in", "ok")

	g.workerOnce.Do(func() {
		g.wg.Add(1)
		go g.dispatchLoop()
	})
	select {
	case g.inbound <- msg:
	case <-g.ctx.Done():
		g.logger.Warn("Lark: gateway closed, dropping %s", msg.messageID)
	case <-ctx.Done():
		g.logger.Warn("Lark: dropping %s: %v", msg.messageID, ctx.Err())
	}
	return nil
}

// dispatchLoop submits queued messages one at a time so a chat's messages
// reach the hub in arrival order.
func (g *Gateway) dispatchLoop() {
	defer g.wg.Done()
	for {
		select {
		case <-g.ctx.Done():
			return
		case msg := <-g.inbound:
			g.dispatch(msg)
		}
	}
}

func (g *Gateway) dispatch(msg *incomingMessage) {
	sender := g.displayName(g.ctx, msg.senderID)
	req, fb := channels.NewRequest(Origin, msg.text, sender)
	req.ID = msg.messageID
	if err := g.hub.Submit(g.ctx, req); err != nil {
		g.logger.Warn("Lark: submit %s failed: %v", msg.messageID, err)
		return
	}
	if fb == nil {
		return
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		channels.AwaitFeedback(g.ctx, fb, g.cfg.Timeout(), func() {
			g.addReaction(g.ctx, msg.messageID)
		})
	}()
}

// parseIncomingMessage returns nil for anything the hub should not see:
// other chats, bot senders, non-text messages, empty text and redeliveries.
func (g *Gateway) parseIncomingMessage(event *larkim.P2MessageReceiveV1) *incomingMessage {
	if event == nil || event.Event == nil || event.Event.Message == nil {
		return nil
	}
	if isBotSender(event) {
		return nil
	}
	raw := event.Event.Message
	if strings.ToLower(strings.TrimSpace(deref(raw.MessageType))) != "text" {
		return nil
	}
	if chatID := deref(raw.ChatId); g.cfg.ChatID != "" && chatID != g.cfg.ChatID {
		return nil
	}
	text := extractText(deref(raw.Content), raw.Mentions)
	if strings.TrimSpace(text) == "" {
		return nil
	}
	messageID := deref(raw.MessageId)
	if messageID != "" && g.isDuplicateMessage(messageID) {
		g.logger.Warn("Lark duplicate message skipped (WS re-delivery): msg_id=%s", messageID)
		return nil
	}
	return &incomingMessage{
		messageID: messageID,
		senderID:  extractSenderID(event),
		text:      text,
	}
}

func (g *Gateway) isDuplicateMessage(messageID string) bool {
	seen, _ := g.dedup.ContainsOrAdd(messageID, struct{}{})
	return seen
}

func (g *Gateway) displayName(ctx context.Context, openID string) string {
	if openID == "" {
		return "unknown"
	}
	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	name, err := g.names.Resolve(lookupCtx, openID)
	if err != nil {
		g.logger.Debug("Lark: name lookup for %s failed: %v", openID, err)
		return openID
	}
	return name
}

func (g *Gateway) addReaction(ctx context.Context, messageID string) {
	if messageID == "" {
		return
	}
	if err := g.messenger.AddReaction(ctx, messageID, g.cfg.AckEmoji); err != nil {
		g.logger.Warn("Lark: ack reaction on %s failed: %v", messageID, err)
	}
}

// InjectMessage feeds a synthetic text message through handleMessage, as if
// it had arrived over the websocket.
func (g *Gateway) InjectMessage(ctx context.Context, chatID, senderID, messageID, text string) error {
	msgType := "text"
	contentJSON := textContent(text)
	senderType := "user"
	event := &larkim.P2MessageReceiveV1{
		Event: &larkim.P2MessageReceiveV1Data{
			Message: &larkim.EventMessage{
				MessageId:   &messageID,
				ChatId:      &chatID,
				MessageType: &msgType,
				Content:     &contentJSON,
			},
			Sender: &larkim.EventSender{
				SenderId:   &larkim.UserId{OpenId: &senderID},
				SenderType: &senderType,
			},
		},
	}
	return g.handleMessage(ctx, event)
}

func textContent(text string) string {
	payload, _ := jsonx.Marshal(map[string]string{"text": text})
	return string(payload)
}

// extractText decodes a text message body and drops @mention placeholders.
// Only the leading whitespace a removed mention leaves behind is trimmed; the
// rest of the text is passed on as typed.
func extractText(content string, mentions []*larkim.MentionEvent) string {
	var body struct {
		Text string `json:"text"`
	}
	if err := jsonx.Unmarshal([]byte(content), &body); err != nil {
		return ""
	}
	text := body.Text
	stripped := false
	for _, m := range mentions {
		if m == nil || m.Key == nil || *m.Key == "" {
			continue
		}
		if strings.Contains(text, *m.Key) {
			text = strings.ReplaceAll(text, *m.Key, "")
			stripped = true
		}
	}
	if stripped {
		text = strings.TrimLeft(text, " \t")
	}
	return text
}

func extractSenderID(event *larkim.P2MessageReceiveV1) string {
	if event == nil || event.Event == nil || event.Event.Sender == nil || event.Event.Sender.SenderId == nil {
		return ""
	}
	id := strings.TrimSpace(deref(event.Event.Sender.SenderId.OpenId))
	if id != "" {
		return id
	}
	id = strings.TrimSpace(deref(event.Event.Sender.SenderId.UserId))
	if id != "" {
		return id
	}
	return strings.TrimSpace(deref(event.Event.Sender.SenderId.UnionId))
}

func isBotSender(event *larkim.P2MessageReceiveV1) bool {
	if event == nil || event.Event == nil || event.Event.Sender == nil {
		return false
	}
	return deref(event.Event.Sender.SenderType) == "app"
}

// deref safely dereferences a string pointer.
func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
