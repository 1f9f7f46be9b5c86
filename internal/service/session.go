package service

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/tgwatch/tg-session-watch/internal/biz/domain"
	"github.com/tgwatch/tg-session-watch/internal/biz/usecase"
	"github.com/tgwatch/tg-session-watch/internal/conf"
	"github.com/tgwatch/tg-session-watch/internal/pkg/logger"
)

const previewRunes = 24

// SessionService is the session bot: login flow and credential management
type SessionService struct {
	acq  *usecase.AcquisitionUsecase
	msgs conf.SessionMessages
	log  *logger.Logger
}

// NewSessionService creates the session bot handler
func NewSessionService(acq *usecase.AcquisitionUsecase, msgs conf.SessionMessages) *SessionService {
	return &SessionService{acq: acq, msgs: msgs, log: logger.Named("session-bot")}
}

// Commands implements Handler
func (s *SessionService) Commands() []string {
	return []string{"newsession", "mysessions", "delsession", "cancel"}
}

// Help implements Handler
func (s *SessionService) Help(ctx context.Context, owner domain.OwnerID) string {
	return conf.Render(s.msgs.Help, "max", strconv.Itoa(s.acq.MaxCredentials()))
}

// HandleCommand implements Handler
func (s *SessionService) HandleCommand(ctx context.Context, owner domain.OwnerID, cmd, args string) string {
	switch cmd {
	case "newsession":
		if _, err := s.acq.Begin(ctx, owner); err != nil {
			return s.fail(ctx, err)
		}
		return s.msgs.AskPhone

	case "mysessions":
		return s.listSessions(ctx, owner)

	case "delsession":
		res, err := s.acq.BeginDelete(ctx, owner)
		if err != nil {
			return s.fail(ctx, err)
		}
		return conf.Render(s.msgs.DeletePrompt, "list", numbered(res.Choices))

	case "cancel":
		if s.acq.Cancel(ctx, owner) {
			return s.msgs.Cancelled
		}
		return s.msgs.NothingPending
	}
	return s.msgs.Unknown
}

// HandleText implements Handler by feeding the owner's pending flow
func (s *SessionService) HandleText(ctx context.Context, owner domain.OwnerID, text string) (string, bool) {
	res, handled, err := s.acq.HandleText(ctx, owner, text)
	if !handled {
		return "", false
	}
	if err != nil {
		if res.Phase == domain.PhaseAborted {
			logger.C(ctx, s.log).Info().Err(err).Msg("login aborted")
			return conf.Render(s.msgs.Aborted, "error", domain.MessageOf(err)), true
		}
		return s.fail(ctx, err), true
	}

	switch res.Phase {
	case domain.PhaseAwaitingCode:
		return conf.Render(s.msgs.AskCode, "phone", strings.TrimSpace(text)), true
	case domain.PhaseAwaitingPassword:
		return s.msgs.AskPassword, true
	case domain.PhaseSaved:
		return conf.Render(s.msgs.Saved, "phone", res.Credential.Phone, "blob", res.Credential.Blob), true
	case domain.PhaseIdle:
		if res.Deleted != "" {
			return conf.Render(s.msgs.Deleted, "phone", res.Deleted), true
		}
	}
	return "", true
}

func (s *SessionService) listSessions(ctx context.Context, owner domain.OwnerID) string {
	creds, err := s.acq.ListCredentials(ctx, owner)
	if err != nil {
		return s.fail(ctx, err)
	}
	if len(creds) == 0 {
		return s.msgs.NoSessions
	}

	lines := []string{conf.Render(s.msgs.SessionsHeader,
		"count", strconv.Itoa(len(creds)),
		"max", strconv.Itoa(s.acq.MaxCredentials()),
	)}
	for i, c := range creds {
		lines = append(lines, conf.Render(s.msgs.SessionItem,
			"index", strconv.Itoa(i+1),
			"phone", c.Phone,
			"preview", c.Preview(previewRunes),
		))
	}
	return strings.Join(lines, "\n")
}

// fail renders err for the owner; unexpected errors are logged with their cause
func (s *SessionService) fail(ctx context.Context, err error) string {
	if errors.Is(err, domain.ErrStore) || domain.KindOf(err) == domain.KindUnknown {
		logger.C(ctx, s.log).Error().Err(err).Msg("request failed")
	}
	return conf.Render(s.msgs.Error, "error", domain.MessageOf(err))
}

func numbered(items []string) string {
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = strconv.Itoa(i+1) + ". " + it
	}
	return strings.Join(lines, "\n")
}

var _ Handler = (*SessionService)(nil)
