package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/Tyrowin/projectchat/internal/auth"
	"github.com/Tyrowin/projectchat/internal/chat"
)

// WebSocketHandler authenticates and upgrades a connection. The credential
// is checked before the upgrade, so a rejected handshake is answered with a
// plain 401 and leaves no state behind.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}
	if !s.origins.check(r) {
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	connID := uuid.NewString()
	client := NewClient(connID, s.hub, r.RemoteAddr)
	client.session = s.hub.lifecycle.Open(connID, client)

	if _, err := client.session.Authorize(auth.BearerToken(r)); err != nil {
		client.logger.Warn("handshake rejected", "error", err)
		client.close()
		writeError(w, err)
		return
	}
	s.hub.track(client)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		client.logger.Warn("WebSocket upgrade failed", "error", err)
		s.hub.forget(client)
		return
	}
	client.attach(conn)

	if !s.hub.registerClient(client) {
		s.hub.forget(client)
		s.hub.closeConn(client)
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Project chat server is running!")
}

// ReadinessHandler reports the server state as JSON.
func (s *Server) ReadinessHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": s.registry.Len(),
		"rooms":       s.registry.RoomCount(),
	})
}

// ListMessagesHandler returns message history, oldest first.
func (s *Server) ListMessagesHandler(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, apiError{Message: "Invalid limit"})
			return
		}
		limit = parsed
	}

	msgs, err := s.service.History(r.Context(), r.URL.Query().Get("projectId"), limit)
	if err != nil {
		s.logger.Error("list messages failed", "error", err)
		writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []*chat.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// CreateMessageHandler stores a message and broadcasts it exactly like a
// chat:send event.
func (s *Server) CreateMessageHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, chat.ErrAuth)
		return
	}

	var req sendRequest
	body := http.MaxBytesReader(w, r.Body, s.config.MaxMessageSize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Message: "Invalid request body"})
		return
	}

	msg, err := s.service.Send(r.Context(), identity, req.Content, req.ProjectID)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			s.logger.Error("create message failed", "user_id", identity.ID, "error", err)
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// DeleteMessageHandler deletes a message owned by the caller.
func (s *Server) DeleteMessageHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, chat.ErrAuth)
		return
	}

	if err := s.service.Delete(r.Context(), identity, r.PathValue("id")); err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			s.logger.Error("delete message failed", "user_id", identity.ID, "error", err)
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiError{Message: "Message deleted"})
}

// TestPageHandler serves a small HTML client for trying the chat by hand.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprint(w, testPage)
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>Project Chat Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages { border: 1px solid #ccc; height: 300px; padding: 10px; overflow-y: scroll; margin: 10px 0; }
        input[type="text"] { width: 240px; padding: 5px; margin-right: 10px; }
        .error { color: #721c24; }
    </style>
</head>
<body>
    <h1>Project Chat Test</h1>
    <div>
        <input type="text" id="token" placeholder="Bearer token">
        <button onclick="connect()">Connect</button>
    </div>
    <div>
        <input type="text" id="project" placeholder="Project id (empty for global)">
        <button onclick="send('project:join', project.value)">Join</button>
        <button onclick="send('project:leave', project.value)">Leave</button>
    </div>
    <div>
        <input type="text" id="content" placeholder="Type a message...">
        <button onclick="send('chat:send', {content: content.value, projectId: project.value})">Send</button>
    </div>
    <div id="messages"></div>
    <script>
        let ws = null;
        const log = (text, cls) => {
            const el = document.createElement('div');
            el.textContent = text;
            if (cls) el.className = cls;
            messages.appendChild(el);
            messages.scrollTop = messages.scrollHeight;
        };
        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws?token=' + encodeURIComponent(token.value));
            ws.onopen = () => log('connected');
            ws.onclose = () => log('disconnected');
            ws.onmessage = (e) => {
                const env = JSON.parse(e.data);
                if (env.event === 'chat:message') {
                    const m = env.data;
                    log((m.projectId ? '[' + m.projectId + '] ' : '') + (m.sender.name || m.senderId) + ': ' + m.content);
                } else if (env.event === 'error') {
                    log(env.data.message, 'error');
                }
            };
        }
        function send(event, data) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({event: event, data: data}));
            }
        }
    </script>
</body>
</html>`
