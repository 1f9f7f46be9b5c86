package domain

import (
	"fmt"
	"strconv"
	"time"
)

// OwnerID is the Telegram user id of a bot user; it doubles as the private chat id
type OwnerID int64

func (o OwnerID) String() string {
	return strconv.FormatInt(int64(o), 10)
}

// ParseOwnerID parses a decimal owner id
func ParseOwnerID(s string) (OwnerID, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid owner id %q: %w", s, err)
	}
	return OwnerID(id), nil
}

// Credential is an exported, portable login blob for one Telegram account
type Credential struct {
	Owner     OwnerID
	Phone     string
	Blob      string
	CreatedAt time.Time
}

// CredentialRef identifies a credential; (Owner, Phone) is unique
type CredentialRef struct {
	Owner OwnerID
	Phone string
}

func (r CredentialRef) String() string {
	return r.Owner.String() + "/" + r.Phone
}

// Ref returns the identity of the credential
func (c *Credential) Ref() CredentialRef {
	return CredentialRef{Owner: c.Owner, Phone: c.Phone}
}

// Preview returns the first n runes of the blob followed by "..."
func (c *Credential) Preview(n int) string {
	r := []rune(c.Blob)
	if n <= 0 || len(r) <= n {
		return c.Blob
	}
	return string(r[:n]) + "..."
}
