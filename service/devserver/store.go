package devserver

import (
	"context"
	"sort"
	"sync"
	"time"

	chatmodel "github.com/williamtheodoruswijaya/mood-bridge-v2/module/chat/model"
	"github.com/williamtheodoruswijaya/mood-bridge-v2/tools/errs"
)

// UnreadWindow 上线时补发多久以内的未读消息
const UnreadWindow = 7 * 24 * time.Hour

// Store keeps private messages for the dev endpoint.
type Store interface {
	// Save assigns ID, Timestamp and Status(sent) and persists m.
	Save(ctx context.Context, m *chatmodel.ChatMessage) error
	// Conversation returns messages between a and b, oldest first.
	Conversation(ctx context.Context, a, b int64, limit, offset int) ([]chatmodel.ChatMessage, error)
	// Unread returns messages to user that are not read and newer than since, oldest first.
	Unread(ctx context.Context, user int64, since time.Time) ([]chatmodel.ChatMessage, error)
	SetStatus(ctx context.Context, id int64, st chatmodel.MessageStatus) error
}

// MemoryStore is the default store when no redis address is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	msgs   []chatmodel.ChatMessage // append order == ID order
	byID   map[int64]int

	Clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[int64]int), Clock: time.Now}
}

func (s *MemoryStore) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

func (s *MemoryStore) Save(_ context.Context, m *chatmodel.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	m.ID = s.nextID
	m.Timestamp = s.now().UTC()
	m.Status = chatmodel.StatusSent
	m.Kind = ""
	s.byID[m.ID] = len(s.msgs)
	s.msgs = append(s.msgs, *m)
	return nil
}

func (s *MemoryStore) Conversation(_ context.Context, a, b int64, limit, offset int) ([]chatmodel.ChatMessage, error) {
	s.mu.RLock()
	var hits []chatmodel.ChatMessage
	for _, m := range s.msgs {
		if m.Between(a, b) {
			hits = append(hits, m)
		}
	}
	s.mu.RUnlock()

	sortAsc(hits)
	return page(hits, limit, offset), nil
}

func (s *MemoryStore) Unread(_ context.Context, user int64, since time.Time) ([]chatmodel.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []chatmodel.ChatMessage
	for _, m := range s.msgs {
		if m.RecipientID == user && m.Status != chatmodel.StatusRead && m.Timestamp.After(since) {
			out = append(out, m)
		}
	}
	sortAsc(out)
	return out, nil
}

func (s *MemoryStore) SetStatus(_ context.Context, id int64, st chatmodel.MessageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byID[id]
	if !ok {
		return errs.ErrInvalidInput.WrapMsg("message not found", "id", id)
	}
	if s.msgs[i].Status == chatmodel.StatusRead {
		return nil // read is final
	}
	s.msgs[i].Status = st
	return nil
}

// ---- helpers ----

func sortAsc(msgs []chatmodel.ChatMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
}

func page(msgs []chatmodel.ChatMessage, limit, offset int) []chatmodel.ChatMessage {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(msgs) {
		return []chatmodel.ChatMessage{}
	}
	msgs = msgs[offset:]
	if limit > 0 && limit < len(msgs) {
		msgs = msgs[:limit]
	}
	return msgs
}
