package lark

import (
	"context"
	"fmt"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcontact "github.com/larksuite/oapi-sdk-go/v3/service/contact/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
)

// Messenger is the slice of the Lark open API the gateway uses.
type Messenger interface {
	SendMessage(ctx context.Context, chatID, msgType, content string) (string, error)
	AddReaction(ctx context.Context, messageID, emojiType string) error
	UserName(ctx context.Context, openID string) (string, error)
}

type sdkMessenger struct {
	client *lark.Client
}

func newSDKMessenger(client *lark.Client) *sdkMessenger {
	return &sdkMessenger{client: client}
}

func (m *sdkMessenger) SendMessage(ctx context.Context, chatID, msgType, content string) (string, error) {
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType("chat_id").
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(chatID).
			MsgType(msgType).
			Content(content).
			Build()).
		Build()

	resp, err := m.client.Im.Message.Create(ctx, req)
	if err != nil {
		return "", fmt.Errorf("lark send: %w", err)
	}
	if !resp.Success() {
		return "", fmt.Errorf("lark send error: code=%d msg=%s", resp.Code, resp.Msg)
	}
	if resp.Data == nil || resp.Data.MessageId == nil {
		return "", nil
	}
	return *resp.Data.MessageId, nil
}

func (m *sdkMessenger) AddReaction(ctx context.Context, messageID, emojiType string) error {
	req := larkim.NewCreateMessageReactionReqBuilder().
		MessageId(messageID).
		Body(larkim.NewCreateMessageReactionReqBodyBuilder().
			ReactionType(larkim.NewEmojiBuilder().EmojiType(emojiType).Build()).
			Build()).
		Build()

	resp, err := m.client.Im.MessageReaction.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("lark reaction: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("lark reaction error: code=%d msg=%s", resp.Code, resp.Msg)
	}
	return nil
}

func (m *sdkMessenger) UserName(ctx context.Context, openID string) (string, error) {
	req := larkcontact.NewGetUserReqBuilder().
		UserId(openID).
		UserIdType("open_id").
		Build()

	resp, err := m.client.Contact.V3.User.Get(ctx, req)
	if err != nil {
		return "", fmt.Errorf("get user: %w", err)
	}
	if !resp.Success() {
		return "", fmt.Errorf("get user error: code=%d msg=%s", resp.Code, resp.Msg)
	}
	if resp.Data == nil || resp.Data.User == nil || resp.Data.User.Name == nil || *resp.Data.User.Name == "" {
		return "", fmt.Errorf("get user: no name for %s", openID)
	}
	return *resp.Data.User.Name, nil
}
