// Package mtproto connects user accounts over MTProto with gotd/td
package mtproto

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/updates"
	updhook "github.com/gotd/td/telegram/updates/hook"
	"github.com/gotd/td/tg"

	"github.com/tgwatch/tg-session-watch/internal/biz/domain"
	"github.com/tgwatch/tg-session-watch/internal/biz/repo"
	"github.com/tgwatch/tg-session-watch/internal/pkg/logger"
)

// Config holds the application credentials issued by my.telegram.org
type Config struct {
	AppID   int
	AppHash string
	// ConnectTimeout bounds the initial handshake
	ConnectTimeout time.Duration
	// DisconnectTimeout bounds waiting for the run loop to exit
	DisconnectTimeout time.Duration
}

// Transport implements repo.Transport
type Transport struct {
	cfg Config
	log *logger.Logger
}

// New creates a transport
func New(cfg Config) *Transport {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.DisconnectTimeout <= 0 {
		cfg.DisconnectTimeout = 10 * time.Second
	}
	return &Transport{cfg: cfg, log: logger.Named("mtproto")}
}

// Connect opens a fresh, unauthenticated handle
func (t *Transport) Connect(ctx context.Context) (repo.Handle, error) {
	return t.open(ctx, &memoryStorage{})
}

// Restore opens a handle from an exported blob
func (t *Transport) Restore(ctx context.Context, blob string) (repo.Handle, error) {
	st, err := decodeBlob(ctx, blob)
	if err != nil {
		return nil, err
	}
	return t.open(ctx, st)
}

func (t *Transport) open(ctx context.Context, st *memoryStorage) (repo.Handle, error) {
	h := &handle{
		storage: st,
		done:    make(chan struct{}),
		timeout: t.cfg.DisconnectTimeout,
	}

	h.gaps = newUpdateManager(h)
	h.client = telegram.NewClient(t.cfg.AppID, t.cfg.AppHash, telegram.Options{
		SessionStorage: st,
		UpdateHandler:  h.gaps,
		Middlewares:    []telegram.Middleware{updhook.UpdateHook(h.gaps.Handle)},
	})

	// the connection outlives the request that opened it
	runCtx, cancel := context.WithCancel(context.Background())
	h.runCtx = runCtx
	h.cancel = cancel

	ready := make(chan struct{})
	go func() {
		defer close(h.done)
		err := h.client.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			h.runErr.Store(&err)
			t.log.Warn().Err(err).Msg("connection terminated")
		}
	}()

	timer := time.NewTimer(t.cfg.ConnectTimeout)
	defer timer.Stop()

	select {
	case <-ready:
		return h, nil
	case <-h.done:
		return nil, fmt.Errorf("connect: %w", h.err())
	case <-timer.C:
		_ = h.Disconnect()
		return nil, errors.New("connect: timed out")
	case <-ctx.Done():
		_ = h.Disconnect()
		return nil, ctx.Err()
	}
}

// newUpdateManager routes updates through gotd's gap manager, which turns
// short updates into full messages and refetches missed ones
func newUpdateManager(h *handle) *updates.Manager {
	dispatcher := tg.NewUpdateDispatcher()
	dispatcher.OnNewMessage(h.onNewMessage)
	return updates.New(updates.Config{Handler: dispatcher})
}

// handle is one gotd client running in its own goroutine
type handle struct {
	client  *telegram.Client
	gaps    *updates.Manager
	storage *memoryStorage
	runCtx  context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	timeout time.Duration

	handler    atomic.Pointer[repo.EventHandler]
	runErr     atomic.Pointer[error]
	disconnect sync.Once
	updatesRun sync.Once
	updatesErr error
}

func (h *handle) err() error {
	if p := h.runErr.Load(); p != nil {
		return *p
	}
	return errors.New("connection closed")
}

// RequestCode asks Telegram to send a login code
func (h *handle) RequestCode(ctx context.Context, phone string) (string, error) {
	sent, err := h.client.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		return "", err
	}
	switch s := sent.(type) {
	case *tg.AuthSentCode:
		return s.PhoneCodeHash, nil
	default:
		return "", fmt.Errorf("unexpected sent code type %T", sent)
	}
}

// SignIn completes the login with a code
func (h *handle) SignIn(ctx context.Context, phone, code, codeHash string) error {
	_, err := h.client.Auth().SignIn(ctx, phone, code, codeHash)
	if errors.Is(err, auth.ErrPasswordAuthNeeded) {
		return repo.ErrPasswordRequired
	}
	var signUp *auth.SignUpRequired
	if errors.As(err, &signUp) {
		return errors.New("phone number is not registered")
	}
	return err
}

// SignInPassword completes the login with the 2FA password
func (h *handle) SignInPassword(ctx context.Context, password string) error {
	_, err := h.client.Auth().Password(ctx, password)
	return err
}

// Export returns the session blob held by the handle's storage
func (h *handle) Export(ctx context.Context) (string, error) {
	data, err := h.storage.LoadSession(ctx)
	if err != nil {
		return "", fmt.Errorf("export session: %w", err)
	}
	return encodeBlob(data), nil
}

// Self returns the authorized account and subscribes the connection to updates
func (h *handle) Self(ctx context.Context) (*domain.Account, error) {
	status, err := h.client.Auth().Status(ctx)
	if err != nil {
		return nil, err
	}
	if !status.Authorized || status.User == nil {
		return nil, repo.ErrNotAuthorized
	}
	u := status.User
	if err := h.startUpdates(ctx, h.client.API(), u.ID); err != nil {
		return nil, fmt.Errorf("start updates: %w", err)
	}
	return &domain.Account{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: domain.DisplayName(u.FirstName, u.LastName, u.Username),
	}, nil
}

// startUpdates runs the gap manager for the authorized account and waits
// until it has loaded the update state. Only the first call starts it.
func (h *handle) startUpdates(ctx context.Context, api updates.API, selfID int64) error {
	h.updatesRun.Do(func() {
		started := make(chan struct{})
		failed := make(chan error, 1)
		go func() {
			err := h.gaps.Run(h.runCtx, api, selfID, updates.AuthOptions{
				OnStart: func(context.Context) { close(started) },
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Named("mtproto").Warn().Err(err).Int64("self_id", selfID).Msg("updates manager stopped")
			}
			failed <- err
		}()

		select {
		case <-started:
		case err := <-failed:
			if err == nil {
				err = errors.New("updates manager exited")
			}
			h.updatesErr = err
		case <-ctx.Done():
			h.updatesErr = ctx.Err()
		}
	})
	return h.updatesErr
}

// Subscribe installs the inbound message handler
func (h *handle) Subscribe(handler repo.EventHandler) {
	h.handler.Store(&handler)
}

// Disconnect stops the run loop and waits for it to exit
func (h *handle) Disconnect() error {
	h.disconnect.Do(func() {
		h.cancel()
		select {
		case <-h.done:
		case <-time.After(h.timeout):
			logger.Named("mtproto").Warn().Msg("disconnect timed out")
		}
	})
	return nil
}

// Done is closed when the run loop exits
func (h *handle) Done() <-chan struct{} {
	return h.done
}

func (h *handle) onNewMessage(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
	ev, ok := toInboundEvent(e, u)
	if !ok {
		return nil
	}
	if p := h.handler.Load(); p != nil {
		(*p)(ctx, ev)
	}
	return nil
}

// toInboundEvent keeps incoming private messages only
func toInboundEvent(e tg.Entities, u *tg.UpdateNewMessage) (domain.InboundEvent, bool) {
	msg, ok := u.Message.(*tg.Message)
	if !ok || msg.Out {
		return domain.InboundEvent{}, false
	}
	peer, ok := msg.PeerID.(*tg.PeerUser)
	if !ok {
		return domain.InboundEvent{}, false
	}

	ev := domain.InboundEvent{
		SenderID:  peer.UserID,
		Text:      msg.Message,
		Timestamp: time.Unix(int64(msg.Date), 0),
	}
	if from, ok := msg.GetFromID(); ok {
		if pu, ok := from.(*tg.PeerUser); ok {
			ev.SenderID = pu.UserID
		}
	}
	if user, ok := e.Users[ev.SenderID]; ok && user != nil {
		ev.SenderName = domain.DisplayName(user.FirstName, user.LastName, user.Username)
		ev.SenderUsername = user.Username
	}
	return ev, true
}
