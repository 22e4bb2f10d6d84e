package lark

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"agendabot/internal/app/hub"
	"agendabot/internal/delivery/channels"
	"agendabot/internal/domain/agenda"
	"agendabot/internal/domain/reminder"
	"agendabot/internal/domain/routing"
	"agendabot/internal/shared/watch"

	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChat = "oc_agenda"

type memoryAgenda struct {
	mu sync.Mutex
	a  agenda.Agenda
}

func (m *memoryAgenda) Read(context.Context) (agenda.Agenda, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.a, nil
}

func (m *memoryAgenda) Write(_ context.Context, a agenda.Agenda) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.a = a
	return nil
}

type fixture struct {
	gw        *Gateway
	hub       *hub.Hub
	agenda    *memoryAgenda
	messenger *RecordingMessenger
	signal    *watch.Cell[reminder.Type]
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := &memoryAgenda{}
	h := hub.New(hub.Config{}, repo, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	messenger := NewRecordingMessenger()
	messenger.Names["ou_alice"] = "Alice"
	signal := watch.NewCell(reminder.Void)
	gw, err := NewGateway(Config{
		BaseConfig: channels.BaseConfig{FeedbackTimeout: time.Second},
		Enabled:    true,
		ChatID:     testChat,
		SendRate:   1000,
		SendBurst:  100,
	}, h, repo, signal, nil, nil, WithMessenger(messenger))
	require.NoError(t, err)
	t.Cleanup(gw.Close)
	return &fixture{gw: gw, hub: h, agenda: repo, messenger: messenger, signal: signal}
}

func nextCall(t *testing.T, m *RecordingMessenger, method string) MessengerCall {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for {
		call, err := m.Next(ctx)
		require.NoError(t, err, "waiting for %s", method)
		if call.Method == method {
			return call
		}
	}
}

func waitForAgenda(t *testing.T, repo *memoryAgenda, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		a, _ := repo.Read(context.Background())
		return a.Render() == want
	}, time.Second, 5*time.Millisecond)
}

func TestAddIsAcknowledgedWithReaction(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.gw.InjectMessage(context.Background(), testChat, "ou_alice", "om_1", "!add Budget review"))

	react := nextCall(t, f.messenger, "AddReaction")
	assert.Equal(t, "om_1", react.MsgID)
	assert.Equal(t, "DONE", react.Emoji)
	waitForAgenda(t, f.agenda, "Budget review (Alice)")
}

func TestAddKeepsTitleAsTyped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.gw.InjectMessage(ctx, testChat, "ou_alice", "om_empty", "!add "))
	react := nextCall(t, f.messenger, "AddReaction")
	assert.Equal(t, "om_empty", react.MsgID)

	require.NoError(t, f.gw.InjectMessage(ctx, testChat, "ou_alice", "om_spaced", "!add  indented title  "))
	react = nextCall(t, f.messenger, "AddReaction")
	assert.Equal(t, "om_spaced", react.MsgID)

	a, err := f.agenda.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []agenda.Point{
		{Title: "", Adder: "Alice"},
		{Title: " indented title  ", Adder: "Alice"},
	}, a.Points)
}

// slowNames holds every name lookup until release is closed.
type slowNames struct {
	*RecordingMessenger
	release chan struct{}
}

func (s *slowNames) UserName(ctx context.Context, openID string) (string, error) {
	select {
	case <-s.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return s.RecordingMessenger.UserName(ctx, openID)
}

func TestEventCallbackDoesNotWaitForNameLookup(t *testing.T) {
	repo := &memoryAgenda{}
	h := hub.New(hub.Config{}, repo, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	messenger := &slowNames{RecordingMessenger: NewRecordingMessenger(), release: make(chan struct{})}
	messenger.Names["ou_alice"] = "Alice"
	gw, err := NewGateway(Config{Enabled: true, ChatID: testChat}, h, repo, nil, nil, nil, WithMessenger(messenger))
	require.NoError(t, err)
	t.Cleanup(gw.Close)

	returned := make(chan struct{})
	go func() {
		defer close(returned)
		_ = gw.InjectMessage(context.Background(), testChat, "ou_alice", "om_1", "!add first")
		_ = gw.InjectMessage(context.Background(), testChat, "ou_alice", "om_2", "!add second")
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("event callback blocked on the name lookup")
	}
	a, _ := repo.Read(context.Background())
	assert.Empty(t, a.Points)

	close(messenger.release)
	waitForAgenda(t, repo, "first (Alice)\nsecond (Alice)")
}

func TestCloseReturnsWhileHubIsStalled(t *testing.T) {
	// Never run, so the second submit waits on a full inbox.
	h := hub.New(hub.Config{InboxSize: 1}, &memoryAgenda{}, nil, nil)
	messenger := NewRecordingMessenger()
	messenger.Names["ou_alice"] = "Alice"
	gw, err := NewGateway(Config{Enabled: true, ChatID: testChat}, h, nil, nil, nil, nil, WithMessenger(messenger))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, gw.InjectMessage(ctx, testChat, "ou_alice", "om_1", "!add one"))
	require.NoError(t, gw.InjectMessage(ctx, testChat, "ou_alice", "om_2", "!add two"))

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		gw.Close()
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close hung on a blocked submit")
	}
	require.NoError(t, gw.InjectMessage(ctx, testChat, "ou_alice", "om_3", "!add three"))
}

func TestUnknownSenderFallsBackToOpenID(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.gw.InjectMessage(context.Background(), testChat, "ou_bob", "om_2", "!add x"))
	waitForAgenda(t, f.agenda, "x (ou_bob)")
}

func TestNonAddCommandsAreNotAcknowledged(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.gw.InjectMessage(context.Background(), testChat, "ou_alice", "om_3", "!clear"))
	require.NoError(t, f.gw.InjectMessage(context.Background(), testChat, "ou_alice", "om_4", "!add marker"))

	react := nextCall(t, f.messenger, "AddReaction")
	assert.Equal(t, "om_4", react.MsgID)
	assert.Len(t, f.messenger.CallsByMethod("AddReaction"), 1)
}

func TestIgnoredMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.gw.InjectMessage(ctx, "oc_other", "ou_alice", "om_5", "!add elsewhere"))
	require.NoError(t, f.gw.InjectMessage(ctx, testChat, "ou_alice", "om_6", "!add once"))
	require.NoError(t, f.gw.InjectMessage(ctx, testChat, "ou_alice", "om_6", "!add once"))

	msgType, content, chat, sender, senderType, id := "text", textContent("!add from bot"), testChat, "ou_bot", "app", "om_7"
	require.NoError(t, f.gw.handleMessage(ctx, &larkim.P2MessageReceiveV1{Event: &larkim.P2MessageReceiveV1Data{
		Message: &larkim.EventMessage{MessageId: &id, ChatId: &chat, MessageType: &msgType, Content: &content},
		Sender:  &larkim.EventSender{SenderId: &larkim.UserId{OpenId: &sender}, SenderType: &senderType},
	}}))

	imageType := "image"
	id8 := "om_8"
	require.NoError(t, f.gw.handleMessage(ctx, &larkim.P2MessageReceiveV1{Event: &larkim.P2MessageReceiveV1Data{
		Message: &larkim.EventMessage{MessageId: &id8, ChatId: &chat, MessageType: &imageType, Content: &content},
	}}))
	require.NoError(t, f.gw.handleMessage(ctx, nil))

	waitForAgenda(t, f.agenda, "once (Alice)")
	require.NoError(t, f.gw.InjectMessage(ctx, testChat, "ou_alice", "om_9", "!add last"))
	waitForAgenda(t, f.agenda, "once (Alice)\nlast (Alice)")
}

func TestPumpSendsAddressedEventsAndReminders(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := f.gw.startPump(ctx)
	defer func() {
		cancel()
		<-done
	}()
	require.Eventually(t, func() bool { return f.hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.hub.Submit(ctx, routing.Request{Origin: "web:1", Message: "!add From web", Sender: "carol"}))
	send := nextCall(t, f.messenger, "SendMessage")
	assert.Equal(t, testChat, send.ChatID)
	assert.Equal(t, "text", send.MsgType)
	assert.JSONEq(t, `{"text":"'From web' added by carol"}`, send.Content)

	f.signal.Set(reminder.OneHour)
	send = nextCall(t, f.messenger, "SendMessage")
	assert.JSONEq(t, `{"text":"Reminder: the meeting starts in one hour.\nAgenda:\nFrom web (carol)"}`, send.Content)
}

func TestSendFailureDoesNotStopPump(t *testing.T) {
	f := newFixture(t)
	f.messenger.NextError = errors.New("rate limited")
	ctx, cancel := context.WithCancel(context.Background())
	done := f.gw.startPump(ctx)
	defer func() {
		cancel()
		<-done
	}()
	require.Eventually(t, func() bool { return f.hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.hub.Submit(ctx, routing.Request{Origin: "console", Message: "!clear", Sender: "x"}))
	require.NoError(t, f.hub.Submit(ctx, routing.Request{Origin: "console", Message: "!clear", Sender: "y"}))
	nextCall(t, f.messenger, "SendMessage")
	second := nextCall(t, f.messenger, "SendMessage")
	assert.JSONEq(t, `{"text":"Agenda cleared by y"}`, second.Content)
}

func TestStartDisabledReturnsImmediately(t *testing.T) {
	gw, err := NewGateway(Config{}, hub.New(hub.Config{}, &memoryAgenda{}, nil, nil), nil, nil, nil, nil, WithMessenger(NewRecordingMessenger()))
	require.NoError(t, err)
	assert.NoError(t, gw.Start(context.Background()))
}

func TestExtractText(t *testing.T) {
	key := "@_user_1"
	mentions := []*larkim.MentionEvent{{Key: &key}, nil}
	assert.Equal(t, "!add Budget", extractText(`{"text":"@_user_1 !add Budget"}`, mentions))
	assert.Equal(t, "!add ", extractText(`{"text":"!add "}`, nil))
	assert.Equal(t, "!add  two  spaces ", extractText(`{"text":"!add  two  spaces "}`, nil))
	assert.Equal(t, "!add ", extractText(`{"text":"@_user_1 !add @_user_1"}`, mentions))
	assert.Equal(t, "", extractText(`not json`, nil))
	assert.Equal(t, "   ", extractText(`{"text":"   "}`, nil))
}
