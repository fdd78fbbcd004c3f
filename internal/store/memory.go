package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/projectchat/internal/chat"
)

// MemoryStore keeps messages in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	messages []chat.Message
	users    map[string]chat.Sender
	now      func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]chat.Sender),
		now:   time.Now,
	}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateMessage(ctx context.Context, msg chat.NewMessage) (*chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := chat.Message{
		ID:        uuid.NewString(),
		Content:   msg.Content,
		SenderID:  msg.SenderID,
		ProjectID: msg.ProjectID,
		CreatedAt: s.now().UTC(),
	}
	s.messages = append(s.messages, stored)

	out := s.enrichLocked(stored)
	return &out, nil
}

func (s *MemoryStore) GetMessage(_ context.Context, id string) (*chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, msg := range s.messages {
		if msg.ID == id {
			out := s.enrichLocked(msg)
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListMessages(_ context.Context, projectID string, limit int) ([]*chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*chat.Message
	for i := len(s.messages) - 1; i >= 0 && len(out) < limit; i-- {
		msg := s.messages[i]
		if projectID != "" && msg.ProjectID != projectID {
			continue
		}
		enriched := s.enrichLocked(msg)
		out = append(out, &enriched)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *MemoryStore) DeleteMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, msg := range s.messages {
		if msg.ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) UpsertUser(_ context.Context, user chat.Sender) error {
	if strings.TrimSpace(user.ID) == "" {
		return fmt.Errorf("user id is required")
	}
	s.mu.Lock()
	s.users[user.ID] = user
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) enrichLocked(msg chat.Message) chat.Message {
	if user, ok := s.users[msg.SenderID]; ok {
		msg.Sender = user
	}
	msg.Sender.ID = msg.SenderID
	return msg
}
