package chat

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Identity is the user a connection is bound to after its credential was
// validated. ID is the stable identifier; Name and Email are informational
// claims carried by the credential.
type Identity struct {
	ID    string
	Name  string
	Email string
}

// Sender is the minimal user profile attached to a message for rendering.
type Sender struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"avatar,omitempty"`
}

// Message is a persisted chat message. CreatedAt is assigned by the store.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	SenderID  string    `json:"senderId"`
	Sender    Sender    `json:"sender"`
	ProjectID string    `json:"projectId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewMessage is what the store is asked to persist.
type NewMessage struct {
	Content   string
	SenderID  string
	ProjectID string
}

// Event names exchanged with clients.
const (
	EventChatSend     = "chat:send"
	EventChatMessage  = "chat:message"
	EventProjectJoin  = "project:join"
	EventProjectLeave = "project:leave"
	EventError        = "error"
)

// Envelope frames every event on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SendPayload is the data of a chat:send event.
type SendPayload struct {
	Content   string `json:"content"`
	ProjectID string `json:"projectId,omitempty"`
}

// ErrorPayload is the data of an error event.
type ErrorPayload struct {
	Message string `json:"message"`
}

// EncodeEvent frames data as an event envelope.
func EncodeEvent(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// DecodeEnvelope parses a frame received from a client.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, invalid("Malformed event")
	}
	env.Event = strings.TrimSpace(env.Event)
	if env.Event == "" {
		return Envelope{}, invalid("Event name is required")
	}
	return env, nil
}

// decodeProjectID accepts either a bare JSON string or {"projectId": "..."}.
func decodeProjectID(data json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		var obj struct {
			ProjectID string `json:"projectId"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return "", invalid("Project id is required")
		}
		id = obj.ProjectID
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", invalid("Project id is required")
	}
	return id, nil
}
