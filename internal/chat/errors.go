package chat

import "errors"

var (
	// ErrAuth reports a missing, malformed, expired or unverifiable credential.
	ErrAuth = errors.New("authentication error")
	// ErrValidation reports a request payload that cannot be accepted.
	ErrValidation = errors.New("validation error")
	// ErrStore reports a failure of the underlying message store.
	ErrStore = errors.New("store error")
	// ErrNotFound reports a reference to a connection, room or message that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden reports an operation on a resource the caller does not own.
	ErrForbidden = errors.New("forbidden")
	// ErrSessionClosed is returned for operations on a session that is not active.
	ErrSessionClosed = errors.New("session closed")
	// ErrAlreadyAdmitted is returned when a connection id is admitted twice.
	ErrAlreadyAdmitted = errors.New("connection already admitted")

	// ErrSinkClosed is returned by a Sink whose connection has gone away.
	ErrSinkClosed = errors.New("sink closed")
	// ErrSinkFull is returned by a Sink whose outbound buffer is full.
	ErrSinkFull = errors.New("sink buffer full")
)

// RequestError is a client-facing failure. Message is safe to send back to
// the originating connection; Kind is one of the sentinel errors above.
type RequestError struct {
	Kind    error
	Message string
}

func (e *RequestError) Error() string {
	return e.Kind.Error() + ": " + e.Message
}

func (e *RequestError) Unwrap() error {
	return e.Kind
}

func invalid(message string) error {
	return &RequestError{Kind: ErrValidation, Message: message}
}

// ErrorMessage maps an error to the text sent to clients in an error event.
// Store and internal causes are never leaked.
func ErrorMessage(err error) string {
	var reqErr *RequestError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &reqErr):
		return reqErr.Message
	case errors.Is(err, ErrValidation):
		return "Invalid request"
	case errors.Is(err, ErrAuth):
		return "Authentication error"
	case errors.Is(err, ErrForbidden):
		return "Unauthorized to delete this message"
	case errors.Is(err, ErrNotFound):
		return "Message not found"
	case errors.Is(err, ErrSessionClosed):
		return "Connection closed"
	case errors.Is(err, ErrStore):
		return "Failed to send message"
	default:
		return "Request failed"
	}
}
