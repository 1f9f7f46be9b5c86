package repo

import (
	"context"

	"github.com/tgwatch/tg-session-watch/internal/biz/domain"
)

// CredentialRepo is the credential store interface
// (owner, phone) is unique; Put replaces the blob of an existing pair
type CredentialRepo interface {
	// Put creates or replaces a credential
	Put(ctx context.Context, cred *domain.Credential) error

	// PutWithinQuota upserts a credential if the owner holds fewer than max
	// other credentials; returns domain.ErrQuotaExceeded otherwise
	PutWithinQuota(ctx context.Context, cred *domain.Credential, max int) error

	// Get returns the credential or nil if missing
	Get(ctx context.Context, owner domain.OwnerID, phone string) (*domain.Credential, error)

	// ListByOwner lists credentials in creation order
	ListByOwner(ctx context.Context, owner domain.OwnerID) ([]*domain.Credential, error)

	// CountByOwner counts credentials of an owner
	CountByOwner(ctx context.Context, owner domain.OwnerID) (int, error)

	// Delete removes a credential, reporting whether a row existed
	Delete(ctx context.Context, owner domain.OwnerID, phone string) (bool, error)
}
