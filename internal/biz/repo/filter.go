package repo

import (
	"context"

	"github.com/tgwatch/tg-session-watch/internal/biz/domain"
)

// FilterRepo is the filter persistence interface
type FilterRepo interface {
	// Add appends a filter and sets its ID
	Add(ctx context.Context, f *domain.Filter) error

	// List returns the filters of a credential in insertion order
	List(ctx context.Context, ref domain.CredentialRef) ([]*domain.Filter, error)

	// DeleteByCredential drops every filter of a credential
	DeleteByCredential(ctx context.Context, ref domain.CredentialRef) (int64, error)
}
