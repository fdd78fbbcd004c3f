package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"
)

// recordingSink collects delivered frames in memory.
type recordingSink struct {
	mu       sync.Mutex
	frames   [][]byte
	capacity int
	closed   bool
}

func newRecordingSink() *recordingSink {
	return &recordingSink{capacity: 1024}
}

func (s *recordingSink) Deliver(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	if len(s.frames) >= s.capacity {
		return ErrSinkFull
	}
	s.frames = append(s.frames, append([]byte(nil), frame...))
	return nil
}

func (s *recordingSink) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *recordingSink) envelopes(t *testing.T) []Envelope {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Envelope, 0, len(s.frames))
	for _, f := range s.frames {
		var env Envelope
		if err := json.Unmarshal(f, &env); err != nil {
			t.Fatalf("Failed to decode frame %q: %v", f, err)
		}
		out = append(out, env)
	}
	return out
}

func (s *recordingSink) messages(t *testing.T) []Message {
	t.Helper()
	var out []Message
	for _, env := range s.envelopes(t) {
		if env.Event != EventChatMessage {
			continue
		}
		var msg Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			t.Fatalf("Failed to decode chat:message: %v", err)
		}
		out = append(out, msg)
	}
	return out
}

func (s *recordingSink) errorEvents(t *testing.T) []ErrorPayload {
	t.Helper()
	var out []ErrorPayload
	for _, env := range s.envelopes(t) {
		if env.Event != EventError {
			continue
		}
		var p ErrorPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			t.Fatalf("Failed to decode error event: %v", err)
		}
		out = append(out, p)
	}
	return out
}

// fakeStore is an in-memory Store with failure injection.
type fakeStore struct {
	mu       sync.Mutex
	messages []*Message
	profiles map[string]Sender
	seq      int
	failWith error
	calls    int
	block    chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{profiles: map[string]Sender{}}
}

func (f *fakeStore) CreateMessage(ctx context.Context, in NewMessage) (*Message, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.seq++
	msg := &Message{
		ID:        fmt.Sprintf("m%d", f.seq),
		Content:   in.Content,
		SenderID:  in.SenderID,
		ProjectID: in.ProjectID,
		CreatedAt: time.Now().UTC(),
		Sender:    Sender{ID: in.SenderID},
	}
	if p, ok := f.profiles[in.SenderID]; ok {
		msg.Sender = p
	}
	f.messages = append(f.messages, msg)
	cp := *msg
	return &cp, nil
}

func (f *fakeStore) GetMessage(_ context.Context, id string) (*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID == id {
			cp := *m
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
}

func (f *fakeStore) ListMessages(_ context.Context, projectID string, limit int) ([]*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	var out []*Message
	for _, m := range f.messages {
		if projectID == "" || m.ProjectID == projectID {
			cp := *m
			out = append(out, &cp)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeStore) DeleteMessage(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, m := range f.messages {
		if m.ID == id {
			f.messages = append(f.messages[:i], f.messages[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("message %s: %w", id, ErrNotFound)
}

func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// staticValidator accepts "token-<id>" credentials.
type staticValidator struct{}

func (staticValidator) Validate(credential string) (Identity, error) {
	const prefix = "token-"
	if len(credential) <= len(prefix) || credential[:len(prefix)] != prefix {
		return Identity{}, fmt.Errorf("bad credential: %w", ErrAuth)
	}
	id := credential[len(prefix):]
	return Identity{ID: id, Name: "User " + id}, nil
}

// harness wires a registry, dispatcher, service and lifecycle together.
type harness struct {
	registry   *Registry
	dispatcher *Dispatcher
	store      *fakeStore
	service    *MessageService
	lifecycle  *Lifecycle
}

func newHarness() *harness {
	registry := NewRegistry()
	dispatcher := NewDispatcher(registry, nil, nil)
	store := newFakeStore()
	service := NewMessageService(store, dispatcher, ServiceConfig{})
	lifecycle := NewLifecycle(LifecycleConfig{
		Registry:  registry,
		Validator: staticValidator{},
		Handlers:  NewHandlers(service, registry),
	})
	return &harness{
		registry:   registry,
		dispatcher: dispatcher,
		store:      store,
		service:    service,
		lifecycle:  lifecycle,
	}
}

// connect opens, authorizes and activates a session for userID.
func (h *harness) connect(t *testing.T, connID, userID string) (*Session, *recordingSink) {
	t.Helper()
	sink := newRecordingSink()
	session := h.lifecycle.Open(connID, sink)
	if _, err := session.Authorize("token-" + userID); err != nil {
		t.Fatalf("Authorize(%s) failed: %v", userID, err)
	}
	if err := session.Activate(); err != nil {
		t.Fatalf("Activate(%s) failed: %v", connID, err)
	}
	return session, sink
}

func mustRaw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Failed to marshal %v: %v", v, err)
	}
	return raw
}

func sortedRooms(rooms []Room) []string {
	out := make([]string, len(rooms))
	for i, r := range rooms {
		out[i] = string(r)
	}
	sort.Strings(out)
	return out
}

var errUnreachable = errors.New("database unreachable")
