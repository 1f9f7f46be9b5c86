package repo

import (
	"context"

	"github.com/tgwatch/tg-session-watch/internal/biz/domain"
)

// DeliverySink sends formatted text to an owner
type DeliverySink interface {
	Deliver(ctx context.Context, owner domain.OwnerID, text string) error
}
