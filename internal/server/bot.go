package server

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tgwatch/tg-session-watch/internal/biz/domain"
	"github.com/tgwatch/tg-session-watch/internal/infra/telegram"
	"github.com/tgwatch/tg-session-watch/internal/pkg/logger"
	"github.com/tgwatch/tg-session-watch/internal/pkg/supervisor"
	"github.com/tgwatch/tg-session-watch/internal/pkg/worker"
)

// Dispatcher turns one owner message into a reply
type Dispatcher interface {
	Dispatch(ctx context.Context, owner domain.OwnerID, text string) string
}

// BotConfig configures a BotServer
type BotConfig struct {
	// Name identifies the bot in logs ("session", "monitor")
	Name           string
	PollTimeout    time.Duration
	MaxConcurrency int
	// QueueDepth bounds pending messages per owner
	QueueDepth int
	// MaxRestarts bounds consecutive poller failures; 0 means unlimited
	MaxRestarts uint64
}

type botJob struct {
	updateID int64
	owner    domain.OwnerID
	chatID   int64
	text     string
}

// BotServer long-polls one bot and answers private messages.
// Messages of one owner are handled in order; different owners run concurrently.
type BotServer struct {
	client *telegram.Client
	router Dispatcher
	cfg    BotConfig
	log    *logger.Logger

	// next getUpdates offset; only the poll loop touches it
	offset int64
}

// NewBotServer creates a bot server
func NewBotServer(client *telegram.Client, router Dispatcher, cfg BotConfig) *BotServer {
	if cfg.Name == "" {
		cfg.Name = "bot"
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 16
	}
	log := logger.Named("bot").With().Str("bot", cfg.Name).Logger()
	return &BotServer{
		client: client,
		router: router,
		cfg:    cfg,
		log:    &log,
	}
}

// Run polls until ctx is done. Poll failures restart the loop with backoff.
// Owner workers live as long as Run, so a restart never touches jobs in flight.
func (s *BotServer) Run(ctx context.Context) error {
	pool := worker.NewPool[domain.OwnerID, botJob](ctx, s.cfg.MaxConcurrency, s.cfg.QueueDepth, s.handle)
	defer pool.Close()

	return supervisor.Run(ctx, supervisor.Options{
		Name:        s.cfg.Name + "-poller",
		MaxRestarts: s.cfg.MaxRestarts,
	}, func(ctx context.Context) error {
		return s.poll(ctx, pool)
	})
}

func (s *BotServer) poll(ctx context.Context, pool *worker.Pool[domain.OwnerID, botJob]) error {
	me, err := s.client.GetMe(ctx)
	if err != nil {
		return err
	}
	s.log.Info().Str("username", me.Username).Msg("polling started")

	for {
		if ctx.Err() != nil {
			return nil
		}
		updates, next, err := s.client.GetUpdates(ctx, s.offset, s.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if telegram.IsPollTimeout(err) {
				continue
			}
			return err
		}
		s.offset = next

		for _, u := range updates {
			job, ok := toJob(u)
			if !ok {
				continue
			}
			if err := pool.Submit(ctx, job.owner, job); err != nil {
				return nil
			}
		}
	}
}

// toJob keeps text messages from humans in private chats
func toJob(u telegram.Update) (botJob, bool) {
	m := u.Message
	if m == nil || m.Chat == nil || m.From == nil {
		return botJob{}, false
	}
	if m.Chat.Type != "private" || m.From.IsBot || m.Text == "" {
		return botJob{}, false
	}
	return botJob{
		updateID: u.UpdateID,
		owner:    domain.OwnerID(m.From.ID),
		chatID:   m.Chat.ID,
		text:     m.Text,
	}, true
}

func (s *BotServer) handle(ctx context.Context, job botJob) {
	ctx = logger.WithRequest(ctx, uuid.NewString(), int64(job.owner))
	log := logger.C(ctx, s.log)
	// free text may be a login code or password
	log.Debug().Int64("update_id", job.updateID).Str("command", commandOf(job.text)).Msg("message received")

	reply := s.router.Dispatch(ctx, job.owner, job.text)
	if reply == "" {
		return
	}
	if err := s.client.SendMessage(ctx, job.chatID, reply); err != nil {
		log.Error().Err(err).Msg("failed to send reply")
	}
}

// commandOf returns the leading /command of text, or "" for free text
func commandOf(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}
	return fields[0]
}
