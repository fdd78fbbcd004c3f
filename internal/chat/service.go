package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// DefaultMaxContentLength bounds a message in runes.
	DefaultMaxContentLength = 4000
	// DefaultHistoryLimit is the number of messages History returns by default
	// and at most.
	DefaultHistoryLimit = 100
)

// Store is the durable message store consumed by MessageService.
// CreateMessage assigns ID and CreatedAt and returns the message joined with
// the sender profile; missing rows are reported with ErrNotFound.
type Store interface {
	CreateMessage(ctx context.Context, msg NewMessage) (*Message, error)
	GetMessage(ctx context.Context, id string) (*Message, error)
	ListMessages(ctx context.Context, projectID string, limit int) ([]*Message, error)
	DeleteMessage(ctx context.Context, id string) error
}

// ServiceConfig tunes a MessageService. Zero values select defaults.
type ServiceConfig struct {
	MaxContentLength int
	HistoryLimit     int
	Recorder         Recorder
	Logger           *slog.Logger
}

// MessageService validates, persists and dispatches chat messages.
type MessageService struct {
	store        Store
	dispatcher   *Dispatcher
	recorder     Recorder
	logger       *slog.Logger
	maxContent   int
	historyLimit int
}

// NewMessageService wires a store to a dispatcher.
func NewMessageService(store Store, dispatcher *Dispatcher, cfg ServiceConfig) *MessageService {
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = DefaultMaxContentLength
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &MessageService{
		store:        store,
		dispatcher:   dispatcher,
		recorder:     cfg.Recorder,
		logger:       cfg.Logger,
		maxContent:   cfg.MaxContentLength,
		historyLimit: cfg.HistoryLimit,
	}
}

// Persist stores a message from sender. Content is trimmed; empty content is
// rejected with ErrValidation before the store is touched. Store failures are
// wrapped in ErrStore.
func (s *MessageService) Persist(ctx context.Context, content string, sender Identity, projectID string) (*Message, error) {
	content, err := s.validate(content, sender)
	if err != nil {
		return nil, err
	}
	return s.create(ctx, content, sender, projectID)
}

func (s *MessageService) validate(content string, sender Identity) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		s.recorder.MessagePersisted("invalid")
		return "", invalid("Message content is required")
	}
	if utf8.RuneCountInString(content) > s.maxContent {
		s.recorder.MessagePersisted("invalid")
		return "", invalid(fmt.Sprintf("Message content exceeds %d characters", s.maxContent))
	}
	if sender.ID == "" {
		return "", fmt.Errorf("persist message: missing sender: %w", ErrAuth)
	}
	return content, nil
}

// create writes validated content and fills profile gaps from the claims.
func (s *MessageService) create(ctx context.Context, content string, sender Identity, projectID string) (*Message, error) {
	start := time.Now()
	msg, err := s.store.CreateMessage(ctx, NewMessage{
		Content:   content,
		SenderID:  sender.ID,
		ProjectID: strings.TrimSpace(projectID),
	})
	s.recorder.StoreObserved("create", time.Since(start).Seconds())
	if err != nil {
		s.recorder.MessagePersisted("error")
		return nil, fmt.Errorf("persist message: %w: %w", ErrStore, err)
	}
	s.recorder.MessagePersisted("ok")

	if msg.Sender.ID == "" {
		msg.Sender.ID = sender.ID
	}
	if msg.Sender.Name == "" {
		msg.Sender.Name = sender.Name
	}
	if msg.Sender.Email == "" {
		msg.Sender.Email = sender.Email
	}
	return msg, nil
}

// Send persists a message and dispatches it to the room its project id
// resolves to. The store write and the delivery share the room's ordering
// lock, so live order matches history order. Nothing is dispatched if
// persistence fails.
func (s *MessageService) Send(ctx context.Context, sender Identity, content, projectID string) (*Message, error) {
	content, err := s.validate(content, sender)
	if err != nil {
		return nil, err
	}
	room := ResolveScope(projectID)
	msg, _, err := s.dispatcher.Publish(room, func() (*Message, error) {
		return s.create(ctx, content, sender, projectID)
	})
	if msg == nil {
		return nil, err
	}
	if err != nil {
		s.logger.Error("dispatch failed", "message_id", msg.ID, "room", room.String(), "error", err)
	}
	return msg, nil
}

// History returns up to limit of the most recent messages, oldest first. An
// empty project id lists messages from every scope.
func (s *MessageService) History(ctx context.Context, projectID string, limit int) ([]*Message, error) {
	if limit <= 0 || limit > s.historyLimit {
		limit = s.historyLimit
	}
	start := time.Now()
	msgs, err := s.store.ListMessages(ctx, strings.TrimSpace(projectID), limit)
	s.recorder.StoreObserved("list", time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("list messages: %w: %w", ErrStore, err)
	}
	return msgs, nil
}

// Delete removes a message owned by requester.
func (s *MessageService) Delete(ctx context.Context, requester Identity, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("delete message: %w", ErrNotFound)
	}

	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("get message %s: %w: %w", id, ErrStore, err)
	}
	if msg.SenderID != requester.ID {
		return fmt.Errorf("delete message %s: %w", id, ErrForbidden)
	}

	start := time.Now()
	err = s.store.DeleteMessage(ctx, id)
	s.recorder.StoreObserved("delete", time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("delete message %s: %w: %w", id, ErrStore, err)
	}
	return nil
}
