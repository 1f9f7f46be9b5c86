package data

import (
	"context"

	"github.com/tgwatch/tg-session-watch/internal/biz/repo"
	"github.com/tgwatch/tg-session-watch/internal/infra/feishu"
	"github.com/tgwatch/tg-session-watch/internal/infra/telegram"
	"github.com/tgwatch/tg-session-watch/internal/pkg/logger"
)

// Store is a credential and filter backend
type Store interface {
	repo.CredentialRepo
	repo.FilterRepo
	Close() error
}

// StoreConfig selects the backend; DatabaseURL wins over SQLitePath
type StoreConfig struct {
	DatabaseURL string
	SQLitePath  string
	MaxConns    int32
}

// OpenStore opens the configured backend and returns its name
func OpenStore(ctx context.Context, cfg StoreConfig) (Store, string, error) {
	if cfg.DatabaseURL != "" {
		s, err := NewPostgresStore(ctx, PGConfig{URL: cfg.DatabaseURL, MaxConns: cfg.MaxConns})
		return s, "postgres", err
	}
	s, err := NewSQLiteStore(cfg.SQLitePath)
	return s, "sqlite", err
}

// Repositories contains all repositories
type Repositories struct {
	Credential repo.CredentialRepo
	Filter     repo.FilterRepo
	Transport  repo.Transport
	Sink       repo.DeliverySink

	store Store
}

// MirrorConfig enables copying forwarded messages into a Feishu chat
type MirrorConfig struct {
	Client *feishu.Client
	ChatID string
}

// NewRepositories opens the store and wires the delivery sink
func NewRepositories(
	ctx context.Context,
	storeCfg StoreConfig,
	transport repo.Transport,
	monitorBot *telegram.Client,
	mirror MirrorConfig,
) (*Repositories, error) {
	store, backend, err := OpenStore(ctx, storeCfg)
	if err != nil {
		return nil, err
	}
	logger.Named("data").Info().Str("backend", backend).Msg("credential store opened")

	var sink repo.DeliverySink = NewTelegramSink(monitorBot)
	if mirror.Client != nil && mirror.ChatID != "" {
		sink = NewFanoutSink(sink, NewFeishuMirrorSink(mirror.Client, mirror.ChatID))
	}

	return &Repositories{
		Credential: store,
		Filter:     store,
		Transport:  transport,
		Sink:       sink,
		store:      store,
	}, nil
}

// Close releases the store
func (r *Repositories) Close() error {
	if r.store == nil {
		return nil
	}
	return r.store.Close()
}
