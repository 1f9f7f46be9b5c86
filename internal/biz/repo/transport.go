package repo

import (
	"context"
	"errors"

	"github.com/tgwatch/tg-session-watch/internal/biz/domain"
)

var (
	// ErrPasswordRequired is returned by SignIn when the account has two-step verification
	ErrPasswordRequired = errors.New("two-step verification password required")

	// ErrNotAuthorized is returned by Self when the handle holds no valid authorization
	ErrNotAuthorized = errors.New("session is not authorized")

	// ErrMalformedBlob is returned by Restore when the blob cannot be decoded
	ErrMalformedBlob = errors.New("malformed session blob")
)

// EventHandler receives inbound private messages of a handle
type EventHandler func(ctx context.Context, ev domain.InboundEvent)

// Transport creates connections to the messaging platform
type Transport interface {
	// Connect opens a fresh, unauthenticated handle
	Connect(ctx context.Context) (Handle, error)

	// Restore opens a handle authenticated by an exported blob
	Restore(ctx context.Context, blob string) (Handle, error)
}

// Handle is one live connection to the platform
type Handle interface {
	// RequestCode asks the platform to send a login code; returns the code hash
	RequestCode(ctx context.Context, phone string) (codeHash string, err error)

	// SignIn completes login with a code; returns ErrPasswordRequired for 2FA accounts
	SignIn(ctx context.Context, phone, code, codeHash string) error

	// SignInPassword completes login with the 2FA password
	SignInPassword(ctx context.Context, password string) error

	// Export serializes the authorization into a portable blob
	Export(ctx context.Context) (string, error)

	// Self returns the authorized account or ErrNotAuthorized
	Self(ctx context.Context) (*domain.Account, error)

	// Subscribe installs the handler for inbound private messages
	Subscribe(handler EventHandler)

	// Disconnect closes the connection; safe to call more than once
	Disconnect() error

	// Done is closed once the connection has terminated
	Done() <-chan struct{}
}
