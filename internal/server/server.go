package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Tyrowin/projectchat/internal/chat"
	"github.com/Tyrowin/projectchat/internal/observability"
)

// Options carries the collaborators a Server is built from.
type Options struct {
	Config    *Config
	Store     chat.Store
	Validator chat.Validator
	Logger    *slog.Logger

	// Registry receives the chat metrics and backs /metrics. A fresh registry
	// is created when nil.
	Registry *prometheus.Registry
}

// Server is the assembled chat service: registry, dispatcher, message
// service, WebSocket hub and HTTP routes.
type Server struct {
	config     *Config
	logger     *slog.Logger
	metrics    *observability.Metrics
	gatherer   prometheus.Gatherer
	validator  chat.Validator
	registry   *chat.Registry
	dispatcher *chat.Dispatcher
	service    *chat.MessageService
	hub        *Hub
	origins    *originPolicy
	upgrader   websocket.Upgrader
	mux        *http.ServeMux
	httpServer *http.Server
}

// New wires a Server from opts.
func New(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, errors.New("server: store is required")
	}
	if opts.Validator == nil {
		return nil, errors.New("server: validator is required")
	}

	cfg := NewConfig()
	if opts.Config != nil {
		sanitized := sanitizeConfig(*opts.Config)
		cfg = &sanitized
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	metrics := observability.NewMetrics(reg)
	validator := countingValidator{Validator: opts.Validator, metrics: metrics}

	registry := chat.NewRegistry()
	dispatcher := chat.NewDispatcher(registry, metrics, logger.With("component", "dispatcher"))
	service := chat.NewMessageService(opts.Store, dispatcher, chat.ServiceConfig{
		HistoryLimit: cfg.HistoryLimit,
		Recorder:     metrics,
		Logger:       logger.With("component", "messages"),
	})
	lifecycle := chat.NewLifecycle(chat.LifecycleConfig{
		Registry:  registry,
		Validator: validator,
		Handlers:  chat.NewHandlers(service, registry),
		Recorder:  metrics,
		Logger:    logger.With("component", "session"),
	})
	hub := NewHub(registry, lifecycle, metrics, cfg, logger.With("component", "hub"))
	dispatcher.OnSlowConsumer(hub.dropSlowConsumer)

	s := &Server{
		config:     cfg,
		logger:     logger,
		metrics:    metrics,
		gatherer:   reg,
		validator:  validator,
		registry:   registry,
		dispatcher: dispatcher,
		service:    service,
		hub:        hub,
		origins:    newOriginPolicy(cfg.AllowedOrigins, logger),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.isAllowed,
	}
	s.mux = s.SetupRoutes()
	s.httpServer = CreateServer(cfg.Port, s.mux)
	return s, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Registry returns the connection registry.
func (s *Server) Registry() *chat.Registry {
	return s.registry
}

// CreateServer creates and configures an HTTP server with the specified port and handler.
// It sets reasonable timeout values for production use.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              port,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// StartHub starts the hub's run loop in a separate goroutine.
func (s *Server) StartHub() {
	go s.hub.Run()
	s.logger.Info("hub started and ready to manage WebSocket connections")
}

// Start runs the hub and serves HTTP until Shutdown. It returns nil after a
// graceful shutdown.
func (s *Server) Start() error {
	s.StartHub()
	s.logger.Info("server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

// minHubDrain is the least time the hub gets to stop its pumps, even when
// the HTTP shutdown used up the caller's deadline.
const minHubDrain = time.Second

// Shutdown stops accepting requests, then closes every WebSocket connection.
func (s *Server) Shutdown(ctx context.Context) error {
	httpErr := s.httpServer.Shutdown(ctx)

	timeout := 10 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = max(time.Until(deadline), minHubDrain)
	}
	hubErr := s.hub.Shutdown(timeout)
	return errors.Join(httpErr, hubErr)
}

// countingValidator records rejected credentials.
type countingValidator struct {
	chat.Validator
	metrics *observability.Metrics
}

func (v countingValidator) Validate(credential string) (chat.Identity, error) {
	identity, err := v.Validator.Validate(credential)
	if err != nil {
		v.metrics.AuthFailed()
	}
	return identity, err
}
