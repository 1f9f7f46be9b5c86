package data

import (
	"context"
	"fmt"

	"github.com/tgwatch/tg-session-watch/internal/biz/domain"
	"github.com/tgwatch/tg-session-watch/internal/biz/repo"
	"github.com/tgwatch/tg-session-watch/internal/infra/feishu"
)

// feishuMirrorSink copies forwarded messages into one Feishu chat
type feishuMirrorSink struct {
	client *feishu.Client
	chatID string
}

// NewFeishuMirrorSink creates a sink that posts into chatID
func NewFeishuMirrorSink(client *feishu.Client, chatID string) repo.DeliverySink {
	return &feishuMirrorSink{client: client, chatID: chatID}
}

func (s *feishuMirrorSink) Deliver(ctx context.Context, owner domain.OwnerID, text string) error {
	return s.client.SendText(ctx, s.chatID, fmt.Sprintf("[owner %s]\n%s", owner, text))
}
