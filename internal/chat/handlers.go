package chat

import (
	"context"
	"encoding/json"
	"errors"
)

// HandlerFunc handles one inbound event for a session.
type HandlerFunc func(ctx context.Context, s *Session, data json.RawMessage) error

// Handlers maps event names to handlers.
type Handlers map[string]HandlerFunc

// NewHandlers returns the chat:send, project:join and project:leave handlers.
func NewHandlers(service *MessageService, registry *Registry) Handlers {
	return Handlers{
		EventChatSend:     sendHandler(service),
		EventProjectJoin:  joinHandler(registry),
		EventProjectLeave: leaveHandler(registry),
	}
}

func sendHandler(service *MessageService) HandlerFunc {
	return func(ctx context.Context, s *Session, data json.RawMessage) error {
		var payload SendPayload
		if len(data) == 0 || json.Unmarshal(data, &payload) != nil {
			return invalid("Message content is required")
		}
		// A message whose sender disconnects mid-flight is still stored and
		// broadcast to its room.
		_, err := service.Send(context.WithoutCancel(ctx), s.Identity(), payload.Content, payload.ProjectID)
		return err
	}
}

func joinHandler(registry *Registry) HandlerFunc {
	return func(_ context.Context, s *Session, data json.RawMessage) error {
		projectID, err := decodeProjectID(data)
		if err != nil {
			return err
		}
		if err := registry.Join(s.ID(), ProjectRoom(projectID)); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		return nil
	}
}

func leaveHandler(registry *Registry) HandlerFunc {
	return func(_ context.Context, s *Session, data json.RawMessage) error {
		projectID, err := decodeProjectID(data)
		if err != nil {
			return err
		}
		registry.Leave(s.ID(), ProjectRoom(projectID))
		return nil
	}
}
