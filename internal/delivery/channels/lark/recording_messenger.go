package lark

import (
	"context"
	"fmt"
	"sync"
)

// MessengerCall records a single outbound call made through a Messenger.
type MessengerCall struct {
	Method  string // "SendMessage", "AddReaction", "UserName"
	ChatID  string
	MsgType string
	Content string
	MsgID   string
	Emoji   string
	OpenID  string
}

// RecordingMessenger implements Messenger by recording all outbound calls
// for later assertion in tests.
type RecordingMessenger struct {
	mu    sync.Mutex
	calls []MessengerCall

	// Names maps open ids to display names for UserName. Unknown ids fail.
	Names map[string]string

	// NextError, when set, is returned by the next call (any method) and then cleared.
	NextError error

	sendCount int
	notify    chan MessengerCall
}

// NewRecordingMessenger creates a RecordingMessenger with sensible defaults.
func NewRecordingMessenger() *RecordingMessenger {
	return &RecordingMessenger{Names: map[string]string{}, notify: make(chan MessengerCall, 64)}
}

func (r *RecordingMessenger) record(call MessengerCall) {
	r.calls = append(r.calls, call)
	select {
	case r.notify <- call:
	default:
	}
}

func (r *RecordingMessenger) popError() error {
	if r.NextError != nil {
		err := r.NextError
		r.NextError = nil
		return err
	}
	return nil
}

func (r *RecordingMessenger) SendMessage(_ context.Context, chatID, msgType, content string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(MessengerCall{Method: "SendMessage", ChatID: chatID, MsgType: msgType, Content: content})
	if err := r.popError(); err != nil {
		return "", err
	}
	r.sendCount++
	return fmt.Sprintf("om_recorded_%d", r.sendCount), nil
}

func (r *RecordingMessenger) AddReaction(_ context.Context, messageID, emojiType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(MessengerCall{Method: "AddReaction", MsgID: messageID, Emoji: emojiType})
	return r.popError()
}

func (r *RecordingMessenger) UserName(_ context.Context, openID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(MessengerCall{Method: "UserName", OpenID: openID})
	if err := r.popError(); err != nil {
		return "", err
	}
	name, ok := r.Names[openID]
	if !ok {
		return "", fmt.Errorf("unknown user %s", openID)
	}
	return name, nil
}

// Calls returns a copy of all recorded calls.
func (r *RecordingMessenger) Calls() []MessengerCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]MessengerCall(nil), r.calls...)
}

// CallsByMethod returns recorded calls for one method.
func (r *RecordingMessenger) CallsByMethod(method string) []MessengerCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []MessengerCall
	for _, c := range r.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Next waits for the next recorded call.
func (r *RecordingMessenger) Next(ctx context.Context) (MessengerCall, error) {
	select {
	case c := <-r.notify:
		return c, nil
	case <-ctx.Done():
		return MessengerCall{}, ctx.Err()
	}
}
