package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// TestSessionLifecycleTransitions walks the happy path through every state.
func TestSessionLifecycleTransitions(t *testing.T) {
	h := newHarness()
	session := h.lifecycle.Open("c1", newRecordingSink())

	if session.State() != StateConnecting {
		t.Fatalf("Expected connecting, got %s", session.State())
	}
	if err := session.Handle(context.Background(), EventProjectJoin, mustRaw(t, "p1")); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected events to be refused before activation, got %v", err)
	}

	identity, err := session.Authorize("token-u1")
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if identity.ID != "u1" || session.State() != StateAuthorized {
		t.Errorf("Expected authorized u1, got %s as %+v", session.State(), identity)
	}
	if _, err := session.Authorize("token-u1"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected second Authorize to fail, got %v", err)
	}

	if err := session.Activate(); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if session.State() != StateActive {
		t.Errorf("Expected active, got %s", session.State())
	}

	if !session.Disconnect() {
		t.Error("Expected first Disconnect to perform the transition")
	}
	if session.Disconnect() {
		t.Error("Expected second Disconnect to be a no-op")
	}
	if session.State() != StateDisconnected {
		t.Errorf("Expected disconnected, got %s", session.State())
	}
	if err := session.Activate(); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected Activate after disconnect to fail, got %v", err)
	}
	if h.registry.Len() != 0 {
		t.Errorf("Expected registry to be empty, got %d", h.registry.Len())
	}
}

// TestSessionRejectedCredential verifies that an invalid credential creates no
// registry state and skips straight to Disconnected.
func TestSessionRejectedCredential(t *testing.T) {
	h := newHarness()
	session := h.lifecycle.Open("bad", newRecordingSink())

	_, err := session.Authorize("forged")
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("Expected ErrAuth, got %v", err)
	}
	if session.State() != StateDisconnected {
		t.Errorf("Expected disconnected, got %s", session.State())
	}
	for _, id := range h.registry.MembersOf(GlobalRoom) {
		if id == "bad" {
			t.Error("Rejected connection appears in the registry")
		}
	}
	if session.Disconnect() {
		t.Error("Expected Disconnect after rejection to be a no-op")
	}
}

// TestProjectRoomScenario: A and B join p1, A sends to p1, C receives nothing.
func TestProjectRoomScenario(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	a, aSink := h.connect(t, "A", "u1")
	b, bSink := h.connect(t, "B", "u2")
	_, cSink := h.connect(t, "C", "u3")

	if err := a.Handle(ctx, EventProjectJoin, mustRaw(t, "p1")); err != nil {
		t.Fatalf("A join failed: %v", err)
	}
	if err := b.Handle(ctx, EventProjectJoin, mustRaw(t, map[string]string{"projectId": "p1"})); err != nil {
		t.Fatalf("B join failed: %v", err)
	}

	start := time.Now().UTC().Add(-time.Millisecond)
	if err := a.Handle(ctx, EventChatSend, mustRaw(t, SendPayload{Content: "hi", ProjectID: "p1"})); err != nil {
		t.Fatalf("A send failed: %v", err)
	}

	for name, sink := range map[string]*recordingSink{"A": aSink, "B": bSink} {
		msgs := sink.messages(t)
		if len(msgs) != 1 {
			t.Fatalf("Expected %s to receive one message, got %d", name, len(msgs))
		}
		if msgs[0].Content != "hi" || msgs[0].ProjectID != "p1" {
			t.Errorf("Unexpected message for %s: %+v", name, msgs[0])
		}
		if msgs[0].CreatedAt.Before(start) {
			t.Errorf("Expected createdAt after %v, got %v", start, msgs[0].CreatedAt)
		}
	}
	if msgs := cSink.messages(t); len(msgs) != 0 {
		t.Errorf("Expected C to receive nothing, got %+v", msgs)
	}
}

// TestGlobalScenario: a message without project id reaches every connection.
func TestGlobalScenario(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	a, aSink := h.connect(t, "A", "u1")
	b, bSink := h.connect(t, "B", "u2")
	_, cSink := h.connect(t, "C", "u3")

	if err := b.Handle(ctx, EventProjectJoin, mustRaw(t, "p1")); err != nil {
		t.Fatalf("B join failed: %v", err)
	}
	if err := a.Handle(ctx, EventChatSend, mustRaw(t, SendPayload{Content: "hello all"})); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	for name, sink := range map[string]*recordingSink{"A": aSink, "B": bSink, "C": cSink} {
		msgs := sink.messages(t)
		if len(msgs) != 1 || msgs[0].Content != "hello all" || msgs[0].ProjectID != "" {
			t.Errorf("Expected %s to receive the global message once, got %+v", name, msgs)
		}
	}
}

// TestDisconnectedMemberScenario: B disconnects, then A sends to p1.
func TestDisconnectedMemberScenario(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	a, aSink := h.connect(t, "A", "u1")
	b, bSink := h.connect(t, "B", "u2")

	for _, s := range []*Session{a, b} {
		if err := s.Handle(ctx, EventProjectJoin, mustRaw(t, "p1")); err != nil {
			t.Fatalf("Join failed: %v", err)
		}
	}
	b.Disconnect()
	bSink.Close()

	if err := a.Handle(ctx, EventChatSend, mustRaw(t, SendPayload{Content: "still here", ProjectID: "p1"})); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(aSink.messages(t)) != 1 {
		t.Error("Expected A to receive its own message")
	}
	if len(bSink.messages(t)) != 0 {
		t.Error("Expected disconnected B to receive nothing")
	}
	if err := b.Handle(ctx, EventChatSend, mustRaw(t, SendPayload{Content: "ghost"})); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed after disconnect, got %v", err)
	}
}

// TestEmptyContentScenario: empty content yields one error event to the sender
// and nothing else.
func TestEmptyContentScenario(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	a, aSink := h.connect(t, "A", "u1")
	_, bSink := h.connect(t, "B", "u2")

	err := a.Handle(ctx, EventChatSend, mustRaw(t, SendPayload{Content: "   "}))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Expected ErrValidation, got %v", err)
	}

	errs := aSink.errorEvents(t)
	if len(errs) != 1 || errs[0].Message != "Message content is required" {
		t.Errorf("Expected one error event, got %+v", errs)
	}
	if len(aSink.messages(t)) != 0 || len(bSink.envelopes(t)) != 0 {
		t.Error("Expected no broadcast for empty content")
	}
	if h.store.callCount() != 0 {
		t.Error("Expected store not to be called")
	}
}

// TestStoreFailureScenario: a store failure reaches the sender only.
func TestStoreFailureScenario(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	a, aSink := h.connect(t, "A", "u1")
	_, bSink := h.connect(t, "B", "u2")
	h.store.failWith = errUnreachable

	if err := a.Handle(ctx, EventChatSend, mustRaw(t, SendPayload{Content: "hi"})); !errors.Is(err, ErrStore) {
		t.Fatalf("Expected ErrStore, got %v", err)
	}
	if errs := aSink.errorEvents(t); len(errs) != 1 || errs[0].Message != "Failed to send message" {
		t.Errorf("Expected one store error event, got %+v", errs)
	}
	if len(bSink.envelopes(t)) != 0 {
		t.Error("Expected other connections to receive nothing")
	}
}

// TestUnknownAndMalformedEvents verifies error events for bad input.
func TestUnknownAndMalformedEvents(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	a, aSink := h.connect(t, "A", "u1")

	if err := a.Handle(ctx, "task:create", nil); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for unknown event, got %v", err)
	}
	if err := a.Handle(ctx, EventProjectJoin, mustRaw(t, "")); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for empty project id, got %v", err)
	}
	if err := a.Handle(ctx, EventProjectLeave, mustRaw(t, 42)); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for numeric project id, got %v", err)
	}
	if err := a.Handle(ctx, EventChatSend, []byte(`"not an object"`)); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for malformed send, got %v", err)
	}
	if got := len(aSink.errorEvents(t)); got != 4 {
		t.Errorf("Expected 4 error events, got %d", got)
	}
}

// TestLeaveProjectRoom verifies project:leave stops delivery.
func TestLeaveProjectRoom(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	a, _ := h.connect(t, "A", "u1")
	b, bSink := h.connect(t, "B", "u2")

	for _, s := range []*Session{a, b} {
		if err := s.Handle(ctx, EventProjectJoin, mustRaw(t, "p1")); err != nil {
			t.Fatalf("Join failed: %v", err)
		}
	}
	if err := b.Handle(ctx, EventProjectLeave, mustRaw(t, "p1")); err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
	if err := a.Handle(ctx, EventChatSend, mustRaw(t, SendPayload{Content: "hi", ProjectID: "p1"})); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(bSink.messages(t)) != 0 {
		t.Error("Expected B to receive nothing after leaving")
	}
}

// TestDisconnectDuringPersist verifies that a message whose sender disconnects
// while the store call is in flight is still broadcast, but not to the sender.
func TestDisconnectDuringPersist(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, aSink := h.connect(t, "A", "u1")
	b, bSink := h.connect(t, "B", "u2")
	for _, s := range []*Session{a, b} {
		if err := s.Handle(ctx, EventProjectJoin, mustRaw(t, "p1")); err != nil {
			t.Fatalf("Join failed: %v", err)
		}
	}

	h.store.block = make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.Handle(ctx, EventChatSend, mustRaw(t, SendPayload{Content: "in flight", ProjectID: "p1"})); err != nil {
			t.Errorf("Send failed: %v", err)
		}
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	a.Disconnect()
	close(h.store.block)
	wg.Wait()

	if len(aSink.messages(t)) != 0 {
		t.Error("Expected disconnected sender not to receive the message")
	}
	if msgs := bSink.messages(t); len(msgs) != 1 || msgs[0].Content != "in flight" {
		t.Errorf("Expected B to receive the in-flight message, got %+v", msgs)
	}
}

// TestStateString covers the state names used in logs.
func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateConnecting:   "connecting",
		StateAuthorized:   "authorized",
		StateActive:       "active",
		StateDisconnected: "disconnected",
		State(9):          "state(9)",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("Expected %q, got %q", want, got)
		}
	}
}
