package usecase

import (
	"fmt"
	"strings"

	"github.com/tgwatch/tg-session-watch/internal/biz/domain"
)

// FormatForward renders an inbound message for delivery to the owner.
// The output is plain text; no parse mode is applied on the way out.
func FormatForward(sub domain.Subscription, ev domain.InboundEvent, annotation string) string {
	name := ev.SenderName
	if name == "" {
		name = "Unknown"
	}

	var who strings.Builder
	who.WriteString(name)
	who.WriteString(" (")
	if ev.SenderUsername != "" {
		who.WriteString("@" + ev.SenderUsername + ", ")
	}
	fmt.Fprintf(&who, "id %d)", ev.SenderID)

	var b strings.Builder
	fmt.Fprintf(&b, "📨 New message on %s\n", sub.Phone)
	fmt.Fprintf(&b, "From: %s\n", who.String())
	fmt.Fprintf(&b, "Filter: %s\n", annotation)
	if !ev.Timestamp.IsZero() {
		fmt.Fprintf(&b, "At: %s\n", ev.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC"))
	}
	b.WriteString("\n")
	b.WriteString(ev.Text)
	return b.String()
}

// FormatStopped tells the owner a monitor went away without a detach
func FormatStopped(phone string) string {
	return fmt.Sprintf("⚠️ Monitoring of %s stopped: the connection was closed. Use /addmonitor %s to start it again.", phone, phone)
}
