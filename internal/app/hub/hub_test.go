package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"agendabot/internal/domain/agenda"
	"agendabot/internal/domain/routing"
	"agendabot/internal/infra/observability"
	boterrors "agendabot/internal/shared/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryAgenda struct {
	mu       sync.Mutex
	current  agenda.Agenda
	writes   int
	readErr  error
	writeErr error
}

func (m *memoryAgenda) Read(context.Context) (agenda.Agenda, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return agenda.Agenda{}, m.readErr
	}
	return m.current, nil
}

func (m *memoryAgenda) Write(_ context.Context, a agenda.Agenda) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.current = a
	m.writes++
	return nil
}

func (m *memoryAgenda) snapshot() agenda.Agenda {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func receive(t *testing.T, ch <-chan routing.Event) routing.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return routing.Event{}
	}
}

func assertNoEvent(t *testing.T, ch <-chan routing.Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestAddPersistsThenAnnouncesToOthers(t *testing.T) {
	repo := &memoryAgenda{}
	h := New(Config{}, repo, nil, nil)
	events, cancel := h.Subscribe("console")
	defer cancel()

	fb := routing.NewFeedback()
	req := routing.Request{Origin: "lark", Message: "!add Buy milk", Sender: "alice", Feedback: fb}
	require.NoError(t, h.Handle(context.Background(), req))

	assert.Equal(t, agenda.Agenda{Points: []agenda.Point{{Title: "Buy milk", Adder: "alice"}}}, repo.snapshot())

	ev := receive(t, events)
	assert.Equal(t, routing.Not("lark"), ev.To)
	assert.Equal(t, "'Buy milk' added by alice", ev.Message)
	assert.False(t, routing.IsAddressed(ev.To, "lark"))
	assert.True(t, routing.IsAddressed(ev.To, "console"))

	select {
	case got := <-fb:
		assert.Equal(t, routing.FeedbackOK, got)
	default:
		t.Fatal("expected feedback")
	}
	select {
	case <-fb:
		t.Fatal("feedback delivered twice")
	default:
	}
}

func TestAddWithEmptyTitle(t *testing.T) {
	repo := &memoryAgenda{}
	h := New(Config{}, repo, nil, nil)
	require.NoError(t, h.Handle(context.Background(), routing.Request{Origin: "lark", Message: "!add ", Sender: "bob"}))
	assert.Equal(t, " (bob)", repo.snapshot().Render())
}

func TestShowAgendaGoesOnlyToOrigin(t *testing.T) {
	repo := &memoryAgenda{current: agenda.Agenda{Points: []agenda.Point{{Title: "Budget", Adder: "bob"}}}}
	h := New(Config{}, repo, nil, nil)
	events, cancel := h.Subscribe("lark")
	defer cancel()

	fb := routing.NewFeedback()
	require.NoError(t, h.Handle(context.Background(), routing.Request{Origin: "web:1", Message: "!agenda", Sender: "x", Feedback: fb}))

	ev := receive(t, events)
	assert.Equal(t, routing.Only("web:1"), ev.To)
	assert.Equal(t, "Budget (bob)", ev.Message)
	assert.Empty(t, fb, "show does not acknowledge")
	assert.Equal(t, 0, repo.writes)
}

func TestShowEmptyAgenda(t *testing.T) {
	h := New(Config{}, &memoryAgenda{}, nil, nil)
	events, cancel := h.Subscribe("lark")
	defer cancel()

	require.NoError(t, h.Handle(context.Background(), routing.Request{Origin: "lark", Message: "!agenda", Sender: "x"}))
	assert.Equal(t, "Empty agenda", receive(t, events).Message)
}

func TestClearBroadcastsToAll(t *testing.T) {
	repo := &memoryAgenda{current: agenda.Agenda{Points: []agenda.Point{{Title: "a", Adder: "b"}}}}
	h := New(Config{}, repo, nil, nil)
	lark, cancelLark := h.Subscribe("lark")
	defer cancelLark()
	web, cancelWeb := h.Subscribe("web:1")
	defer cancelWeb()

	require.NoError(t, h.Handle(context.Background(), routing.Request{Origin: "lark", Message: "!clear", Sender: "carol"}))

	assert.Equal(t, agenda.Agenda{}, repo.snapshot())
	for _, ch := range []<-chan routing.Event{lark, web} {
		ev := receive(t, ch)
		assert.Equal(t, routing.All(), ev.To)
		assert.Equal(t, "Agenda cleared by carol", ev.Message)
	}
}

func TestHelpIsVersioned(t *testing.T) {
	h := New(Config{Version: "v1.2.3"}, &memoryAgenda{}, nil, nil)
	events, cancel := h.Subscribe("lark")
	defer cancel()

	require.NoError(t, h.Handle(context.Background(), routing.Request{Origin: "lark", Message: "!help", Sender: "x"}))
	ev := receive(t, events)
	assert.Equal(t, routing.Only("lark"), ev.To)
	assert.Contains(t, ev.Message, "v1.2.3")
	for _, c := range []string{"!add", "!agenda", "!clear", "!help"} {
		assert.Contains(t, ev.Message, c)
	}
}

func TestUnknownCommandPolicy(t *testing.T) {
	ctx := context.Background()
	req := routing.Request{Origin: "lark", Message: "!dance", Sender: "x"}

	silent := New(Config{}, &memoryAgenda{}, nil, nil)
	events, cancel := silent.Subscribe("lark")
	require.NoError(t, silent.Handle(ctx, req))
	assertNoEvent(t, events)
	cancel()

	reply := New(Config{UnknownCommand: UnknownReply}, &memoryAgenda{}, nil, nil)
	events, cancel = reply.Subscribe("lark")
	defer cancel()
	require.NoError(t, reply.Handle(ctx, req))
	ev := receive(t, events)
	assert.Equal(t, routing.Only("lark"), ev.To)
	assert.Equal(t, UnknownCommandReply, ev.Message)
}

func TestPlainChatterIsIgnored(t *testing.T) {
	repo := &memoryAgenda{}
	h := New(Config{UnknownCommand: UnknownReply}, repo, nil, nil)
	events, cancel := h.Subscribe("lark")
	defer cancel()

	fb := routing.NewFeedback()
	require.NoError(t, h.Handle(context.Background(), routing.Request{Origin: "lark", Message: "lunch?", Sender: "x", Feedback: fb}))
	assertNoEvent(t, events)
	assert.Empty(t, fb)
	assert.Equal(t, 0, repo.writes)
}

func TestWriteFailureIsFatalAndSilent(t *testing.T) {
	cause := boterrors.NewStoreError("write", "agenda", errors.New("read-only filesystem"))
	repo := &memoryAgenda{writeErr: cause}
	h := New(Config{}, repo, nil, nil)
	events, cancel := h.Subscribe("console")
	defer cancel()

	fb := routing.NewFeedback()
	err := h.Handle(context.Background(), routing.Request{Origin: "lark", Message: "!add x", Sender: "a", Feedback: fb})
	require.Error(t, err)
	assert.True(t, boterrors.IsFatal(err))
	assertNoEvent(t, events)
	assert.Empty(t, fb)
}

func TestRunProcessesInOrderAndStopsOnStoreError(t *testing.T) {
	repo := &memoryAgenda{}
	h := New(Config{}, repo, nil, nil)
	events, cancel := h.Subscribe("observer")
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	for _, title := range []string{"one", "two", "three"} {
		require.NoError(t, h.Submit(ctx, routing.Request{Origin: "lark", Message: "!add " + title, Sender: "a"}))
	}
	for _, want := range []string{"'one' added by a", "'two' added by a", "'three' added by a"} {
		assert.Equal(t, want, receive(t, events).Message)
	}
	assert.Equal(t, "one (a)\ntwo (a)\nthree (a)", repo.snapshot().Render())

	repo.mu.Lock()
	repo.readErr = boterrors.NewStoreError("decode", "agenda", errors.New("bad json"))
	repo.mu.Unlock()
	require.NoError(t, h.Submit(ctx, routing.Request{Origin: "lark", Message: "!agenda", Sender: "a"}))

	select {
	case err := <-done:
		assert.True(t, boterrors.IsStoreError(err))
	case <-time.After(time.Second):
		t.Fatal("hub did not stop on store error")
	}
}

func TestRunReturnsNilOnCancel(t *testing.T) {
	h := New(Config{}, &memoryAgenda{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, h.Run(ctx))
}

func TestSubmitRespectsContext(t *testing.T) {
	h := New(Config{InboxSize: 1}, &memoryAgenda{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.Submit(ctx, routing.Request{Message: "first"}))
	cancel()
	assert.ErrorIs(t, h.Submit(ctx, routing.Request{Message: "second"}), context.Canceled)
}

func TestFullSubscriberDropsInsteadOfBlocking(t *testing.T) {
	metrics, err := observability.NewMetricsCollector(observability.MetricsConfig{})
	require.NoError(t, err)
	var dropped []string
	metrics.SetTestHooks(observability.MetricsTestHooks{DroppedEvent: func(o string) { dropped = append(dropped, o) }})

	h := New(Config{SubscriberBuffer: 1}, &memoryAgenda{}, nil, metrics)
	slow, cancelSlow := h.Subscribe("slow")
	defer cancelSlow()
	fast, cancelFast := h.Subscribe("fast")
	defer cancelFast()

	ctx := context.Background()
	require.NoError(t, h.Handle(ctx, routing.Request{Origin: "x", Message: "!add a", Sender: "s"}))
	assert.Equal(t, "'a' added by s", receive(t, fast).Message)
	require.NoError(t, h.Handle(ctx, routing.Request{Origin: "x", Message: "!add b", Sender: "s"}))
	assert.Equal(t, "'b' added by s", receive(t, fast).Message)

	assert.Equal(t, "'a' added by s", receive(t, slow).Message)
	assertNoEvent(t, slow)
	assert.Equal(t, []string{"slow"}, dropped)
}

func TestCancelSubscription(t *testing.T) {
	h := New(Config{}, &memoryAgenda{}, nil, nil)
	events, cancel := h.Subscribe("web:1")
	assert.Equal(t, 1, h.Subscribers())

	cancel()
	cancel()
	assert.Equal(t, 0, h.Subscribers())
	_, open := <-events
	assert.False(t, open)

	require.NoError(t, h.Handle(context.Background(), routing.Request{Origin: "lark", Message: "!clear", Sender: "x"}))
}
