package server

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/projectchat/internal/auth"
	"github.com/Tyrowin/projectchat/internal/chat"
	"github.com/Tyrowin/projectchat/internal/store"
)

const (
	testSecret = "test-secret"
	testOrigin = "http://localhost:8080"
)

type testEnv struct {
	t      *testing.T
	srv    *Server
	ts     *httptest.Server
	store  *store.MemoryStore
	issuer *auth.Issuer
}

func newTestEnv(t *testing.T, customize func(cfg *Config)) *testEnv {
	t.Helper()

	cfg := NewConfig()
	cfg.JWTSecret = testSecret
	if customize != nil {
		customize(cfg)
	}

	st := store.NewMemoryStore()
	srv, err := New(Options{
		Config:    cfg,
		Store:     st,
		Validator: auth.NewValidator(testSecret),
	})
	if err != nil {
		t.Fatalf("Failed to build server: %v", err)
	}
	srv.StartHub()

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Hub().Shutdown(2 * time.Second)
	})

	return &testEnv{
		t:      t,
		srv:    srv,
		ts:     ts,
		store:  st,
		issuer: auth.NewIssuer(testSecret, time.Hour),
	}
}

func (e *testEnv) token(userID string) string {
	e.t.Helper()
	token, err := e.issuer.Issue(chat.Identity{ID: userID, Name: "User " + userID})
	if err != nil {
		e.t.Fatalf("Failed to issue token: %v", err)
	}
	return token
}

func (e *testEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws"
}

func (e *testEnv) dialWithToken(token string) (*websocket.Conn, *http.Response, error) {
	header := http.Header{}
	header.Set("Origin", testOrigin)
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	return dialer.Dial(e.wsURL(), header)
}

// connect dials as userID and waits until the hub has registered the client.
func (e *testEnv) connect(userID string) *websocket.Conn {
	e.t.Helper()
	before := e.srv.Hub().ClientCount()
	conn, resp, err := e.dialWithToken(e.token(userID))
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		e.t.Fatalf("Failed to connect as %s: %v", userID, err)
	}
	e.t.Cleanup(func() { _ = conn.Close() })
	waitFor(e.t, "client registration", func() bool {
		return e.srv.Hub().ClientCount() > before
	})
	return conn
}

func (e *testEnv) do(method, path, token string, body io.Reader) *http.Response {
	e.t.Helper()
	req, err := http.NewRequest(method, e.ts.URL+path, body)
	if err != nil {
		e.t.Fatalf("Failed to create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		e.t.Fatalf("Failed to make request: %v", err)
	}
	e.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("Failed to marshal payload: %v", err)
	}
	frame, err := json.Marshal(chat.Envelope{Event: event, Data: payload})
	if err != nil {
		t.Fatalf("Failed to marshal envelope: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("Failed to send %s: %v", event, err)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) chat.Envelope {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}
	env, err := chat.DecodeEnvelope(frame)
	if err != nil {
		t.Fatalf("Failed to decode event %q: %v", frame, err)
	}
	return env
}

func readChatMessage(t *testing.T, conn *websocket.Conn) chat.Message {
	t.Helper()
	env := readEnvelope(t, conn)
	if env.Event != chat.EventChatMessage {
		t.Fatalf("Expected %s, got %s: %s", chat.EventChatMessage, env.Event, env.Data)
	}
	var msg chat.Message
	if err := json.Unmarshal(env.Data, &msg); err != nil {
		t.Fatalf("Failed to decode message: %v", err)
	}
	return msg
}

func readErrorEvent(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	env := readEnvelope(t, conn)
	if env.Event != chat.EventError {
		t.Fatalf("Expected %s, got %s: %s", chat.EventError, env.Event, env.Data)
	}
	var payload chat.ErrorPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("Failed to decode error payload: %v", err)
	}
	return payload.Message
}

func expectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, frame, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("Expected no message, but received %s", frame)
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return
	}
	t.Fatalf("Unexpected error while waiting for absence of message: %v", err)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}
