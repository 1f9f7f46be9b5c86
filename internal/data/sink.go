package data

import (
	"context"

	"github.com/tgwatch/tg-session-watch/internal/biz/domain"
	"github.com/tgwatch/tg-session-watch/internal/biz/repo"
	"github.com/tgwatch/tg-session-watch/internal/infra/telegram"
	"github.com/tgwatch/tg-session-watch/internal/pkg/logger"
)

// telegramSink delivers through the monitor bot's private chat with the owner
type telegramSink struct {
	client *telegram.Client
}

// NewTelegramSink creates a sink backed by a Bot API client
func NewTelegramSink(client *telegram.Client) repo.DeliverySink {
	return &telegramSink{client: client}
}

func (s *telegramSink) Deliver(ctx context.Context, owner domain.OwnerID, text string) error {
	return s.client.SendMessage(ctx, int64(owner), text)
}

// fanoutSink delivers to a primary sink and best-effort to mirrors
type fanoutSink struct {
	primary repo.DeliverySink
	mirrors []repo.DeliverySink
}

// NewFanoutSink returns a sink whose result is the primary's; mirror failures are only logged
func NewFanoutSink(primary repo.DeliverySink, mirrors ...repo.DeliverySink) repo.DeliverySink {
	return &fanoutSink{primary: primary, mirrors: mirrors}
}

func (s *fanoutSink) Deliver(ctx context.Context, owner domain.OwnerID, text string) error {
	err := s.primary.Deliver(ctx, owner, text)
	for _, m := range s.mirrors {
		if merr := m.Deliver(ctx, owner, text); merr != nil {
			logger.C(ctx, logger.Named("sink")).Warn().Err(merr).Msg("mirror delivery failed")
		}
	}
	return err
}
