package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/Tyrowin/projectchat/internal/chat"
)

// sendRequest is the POST /api/messages body.
type sendRequest struct {
	Content   string `json:"content"`
	ProjectID string `json:"projectId"`
}

// apiError is the JSON body of every REST error response.
type apiError struct {
	Message string `json:"message"`
}

// statusFor maps a chat error onto an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, chat.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, chat.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), apiError{Message: chat.ErrorMessage(err)})
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
