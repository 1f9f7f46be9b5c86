package mtproto

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/gotd/td/session"

	"github.com/tgwatch/tg-session-watch/internal/biz/repo"
)

// blobPrefix versions the exported format
const blobPrefix = "tgw1."

// memoryStorage is a per-handle session.Storage
type memoryStorage struct {
	mu   sync.Mutex
	data []byte
}

func (s *memoryStorage) LoadSession(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.data) == 0 {
		return nil, session.ErrNotFound
	}
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out, nil
}

func (s *memoryStorage) StoreSession(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append(s.data[:0], data...)
	return nil
}

func encodeBlob(data []byte) string {
	return blobPrefix + base64.RawURLEncoding.EncodeToString(data)
}

// decodeBlob fills a fresh storage from an exported blob. Telethon
// StringSession strings are accepted as well.
func decodeBlob(ctx context.Context, blob string) (*memoryStorage, error) {
	blob = strings.TrimSpace(blob)
	st := &memoryStorage{}

	if rest, ok := strings.CutPrefix(blob, blobPrefix); ok {
		data, err := base64.RawURLEncoding.DecodeString(rest)
		if err != nil || len(data) == 0 {
			return nil, fmt.Errorf("%w: %v", repo.ErrMalformedBlob, err)
		}
		st.data = data
		return st, nil
	}

	sd, err := session.TelethonSession(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", repo.ErrMalformedBlob, err)
	}
	loader := session.Loader{Storage: st}
	if err := loader.Save(ctx, sd); err != nil {
		return nil, fmt.Errorf("%w: %v", repo.ErrMalformedBlob, err)
	}
	return st, nil
}
