package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// State is a connection's position in its lifecycle.
type State int32

// Lifecycle states. Disconnected is terminal.
const (
	StateConnecting State = iota
	StateAuthorized
	StateActive
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthorized:
		return "authorized"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Validator resolves a bearer credential to an identity. Failures wrap ErrAuth.
type Validator interface {
	Validate(credential string) (Identity, error)
}

// LifecycleConfig wires the collaborators sessions need.
type LifecycleConfig struct {
	Registry  *Registry
	Validator Validator
	Handlers  Handlers
	Recorder  Recorder
	Logger    *slog.Logger
}

// Lifecycle opens sessions that share one registry and handler table.
type Lifecycle struct {
	registry  *Registry
	validator Validator
	handlers  Handlers
	recorder  Recorder
	logger    *slog.Logger
}

// NewLifecycle builds a Lifecycle from cfg.
func NewLifecycle(cfg LifecycleConfig) *Lifecycle {
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Handlers == nil {
		cfg.Handlers = Handlers{}
	}
	return &Lifecycle{
		registry:  cfg.Registry,
		validator: cfg.Validator,
		handlers:  cfg.Handlers,
		recorder:  cfg.Recorder,
		logger:    cfg.Logger,
	}
}

// Open starts a session for a freshly accepted connection. The session is
// Connecting until Authorize succeeds.
func (l *Lifecycle) Open(connID string, sink Sink) *Session {
	return &Session{
		lc:     l,
		id:     connID,
		sink:   sink,
		state:  StateConnecting,
		logger: l.logger.With("conn_id", connID),
	}
}

// Session is the per-connection state machine:
//
//	Connecting -> Authorized -> Active -> Disconnected
//	Connecting -> Disconnected            (credential rejected)
type Session struct {
	lc     *Lifecycle
	id     string
	sink   Sink
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	identity Identity
	admitted bool
}

// ID returns the connection id.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Identity returns the identity bound at authorization.
func (s *Session) Identity() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Authorize validates credential and admits the connection to the registry.
// On failure the session moves straight to Disconnected and no registry state
// exists for it.
func (s *Session) Authorize(credential string) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnecting {
		return Identity{}, fmt.Errorf("authorize while %s: %w", s.state, ErrSessionClosed)
	}

	identity, err := s.lc.validator.Validate(credential)
	if err != nil {
		s.state = StateDisconnected
		if !errors.Is(err, ErrAuth) {
			err = fmt.Errorf("%w: %w", ErrAuth, err)
		}
		return Identity{}, err
	}

	if err := s.lc.registry.Admit(s.id, identity, s.sink); err != nil {
		s.state = StateDisconnected
		return Identity{}, err
	}

	s.identity = identity
	s.admitted = true
	s.state = StateAuthorized
	s.logger = s.logger.With("user_id", identity.ID)
	s.logger.Info("connection authorized")
	return identity, nil
}

// Activate moves an authorized session into its steady state.
func (s *Session) Activate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAuthorized {
		return fmt.Errorf("activate while %s: %w", s.state, ErrSessionClosed)
	}
	s.state = StateActive
	return nil
}

// Handle runs the handler registered for event. Failures are reported to
// this connection as an error event and returned for logging.
func (s *Session) Handle(ctx context.Context, event string, data json.RawMessage) error {
	if s.State() != StateActive {
		return fmt.Errorf("handle %s: %w", event, ErrSessionClosed)
	}

	handler, ok := s.lc.handlers[event]
	var err error
	if !ok {
		err = invalid("Unknown event " + event)
	} else {
		err = handler(ctx, s, data)
	}

	if err != nil {
		s.lc.recorder.EventHandled(event, "error")
		s.ReportError(err)
		return err
	}
	s.lc.recorder.EventHandled(event, "ok")
	return nil
}

// ReportError sends an error event to this connection only.
func (s *Session) ReportError(err error) {
	frame, encErr := EncodeEvent(EventError, ErrorPayload{Message: ErrorMessage(err)})
	if encErr != nil {
		s.logger.Error("encode error event", "error", encErr)
		return
	}
	if deliverErr := s.sink.Deliver(frame); deliverErr != nil && !errors.Is(deliverErr, ErrSinkClosed) {
		s.logger.Warn("error event not delivered", "error", deliverErr)
	}
}

// Disconnect moves the session to Disconnected and removes it from the
// registry. Only the first call has any effect; it reports whether this call
// performed the transition.
func (s *Session) Disconnect() bool {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return false
	}
	prev := s.state
	s.state = StateDisconnected
	admitted := s.admitted
	s.mu.Unlock()

	if admitted {
		s.lc.registry.Remove(s.id)
	}
	s.logger.Info("connection closed", "previous_state", prev.String())
	return true
}
