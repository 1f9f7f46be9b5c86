package service

import (
	"context"
	"strings"

	"github.com/tgwatch/tg-session-watch/internal/biz/domain"
)

// Handler serves one bot's command set
type Handler interface {
	// Commands lists the commands the handler owns, without the slash
	Commands() []string
	// Help is the reply to /start and /help
	Help(ctx context.Context, owner domain.OwnerID) string
	// HandleCommand answers a command the handler owns
	HandleCommand(ctx context.Context, owner domain.OwnerID, cmd, args string) string
	// HandleText answers free text; handled is false when the text is not for this handler
	HandleText(ctx context.Context, owner domain.OwnerID, text string) (reply string, handled bool)
}

// Router dispatches bot input to one or more handlers.
// A bot serving both command sets gets a router with both handlers.
type Router struct {
	handlers []Handler
	owners   map[string]Handler
	fallback string
}

// NewRouter creates a router; fallback answers input nobody handles
func NewRouter(fallback string, handlers ...Handler) *Router {
	r := &Router{
		handlers: handlers,
		owners:   make(map[string]Handler),
		fallback: fallback,
	}
	for _, h := range handlers {
		for _, c := range h.Commands() {
			if _, taken := r.owners[c]; !taken {
				r.owners[c] = h
			}
		}
	}
	return r
}

// Dispatch returns the reply for one message; empty means no reply
func (r *Router) Dispatch(ctx context.Context, owner domain.OwnerID, text string) string {
	cmd, args, ok := ParseCommand(text)
	if !ok {
		for _, h := range r.handlers {
			if reply, handled := h.HandleText(ctx, owner, text); handled {
				return reply
			}
		}
		return r.fallback
	}

	switch cmd {
	case "start", "help":
		parts := make([]string, 0, len(r.handlers))
		for _, h := range r.handlers {
			parts = append(parts, h.Help(ctx, owner))
		}
		return strings.Join(parts, "\n\n")
	}

	if h, ok := r.owners[cmd]; ok {
		return h.HandleCommand(ctx, owner, cmd, args)
	}
	return r.fallback
}

// ParseCommand splits "/cmd@bot args" into a lower-cased command and its arguments
func ParseCommand(text string) (cmd, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest := cutSpace(text[1:])
	if at := strings.IndexByte(head, '@'); at >= 0 {
		head = head[:at]
	}
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), rest, true
}

// cutSpace splits s at the first run of whitespace
func cutSpace(s string) (head, rest string) {
	s = strings.TrimSpace(s)
	i := strings.IndexAny(s, " \t\n")
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}
