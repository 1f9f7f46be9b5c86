package domain

import (
	"strings"
	"time"
)

// InboundEvent is a private message received by a monitored account
type InboundEvent struct {
	SenderID       int64
	SenderName     string
	SenderUsername string
	Text           string
	Timestamp      time.Time
}

// Account is the Telegram account a credential authenticates to
type Account struct {
	ID          int64
	Username    string
	DisplayName string
}

// Subscription is the read-only view of an attached credential
type Subscription struct {
	Owner      OwnerID
	Phone      string
	Account    Account
	AttachedAt time.Time
	Filters    int
}

// Ref returns the credential identity of the subscription
func (s *Subscription) Ref() CredentialRef {
	return CredentialRef{Owner: s.Owner, Phone: s.Phone}
}

// DisplayName joins first and last name, falling back to @username
func DisplayName(first, last, username string) string {
	first = strings.TrimSpace(first)
	last = strings.TrimSpace(last)
	username = strings.TrimSpace(username)
	switch {
	case first != "" && last != "":
		return first + " " + last
	case first != "":
		return first
	case last != "":
		return last
	case username != "":
		return "@" + username
	default:
		return ""
	}
}
