package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/projectchat/internal/chat"
	"github.com/Tyrowin/projectchat/internal/observability"
)

// Hub owns the live WebSocket clients. Room membership lives in the chat
// registry; the hub tracks connections so it can start their pumps, drop
// slow consumers and close everything on shutdown.
type Hub struct {
	registry  *chat.Registry
	lifecycle *chat.Lifecycle
	metrics   *observability.Metrics
	logger    *slog.Logger
	config    *Config

	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates a hub. Call Run in its own goroutine before accepting
// connections.
func NewHub(registry *chat.Registry, lifecycle *chat.Lifecycle, metrics *observability.Metrics, cfg *Config, logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		registry:   registry,
		lifecycle:  lifecycle,
		metrics:    metrics,
		logger:     logger,
		config:     cfg,
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// ClientCount returns the number of connections the hub is tracking.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Run starts the hub's main event loop, handling client registration and
// unregistration. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			h.handleRegister(client)

		case client := <-h.unregister:
			h.handleUnregister(client)
		}
	}
}

// track records an authorized client from the moment it is admitted, so a
// slow-consumer drop can reach it even before its pumps start.
func (h *Hub) track(client *Client) {
	h.mutex.Lock()
	h.clients[client.id] = client
	h.mutex.Unlock()
	h.refreshGauges()
}

// forget tears down a client that never reached the run loop.
func (h *Hub) forget(client *Client) {
	h.mutex.Lock()
	delete(h.clients, client.id)
	h.mutex.Unlock()

	client.session.Disconnect()
	client.close()
	h.refreshGauges()
}

func (h *Hub) refreshGauges() {
	h.metrics.SetConnections(h.registry.Len())
	h.metrics.SetRooms(h.registry.RoomCount())
}

func (h *Hub) handleRegister(client *Client) {
	if client == nil {
		h.logger.Warn("received nil client registration; skipping")
		return
	}
	if err := client.session.Activate(); err != nil {
		// Dropped as a slow consumer before its pumps started.
		h.forget(client)
		h.closeConn(client)
		return
	}

	client.logger.Info("client registered",
		"user_id", client.session.Identity().ID,
		"total_clients", h.ClientCount())

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

func (h *Hub) handleUnregister(client *Client) {
	h.forget(client)
	client.logger.Info("client unregistered", "total_clients", h.ClientCount())
}

// registerClient hands an upgraded client to the run loop. It reports false
// when the hub is shutting down.
func (h *Hub) registerClient(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// unregisterClient is called by a read pump on exit. After Run returned the
// client is torn down directly.
func (h *Hub) unregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		h.forget(client)
	}
}

// dropSlowConsumer removes a client whose send buffer filled up. It runs on
// the dispatching goroutine, so it never waits on the run loop: the session
// leaves the registry at once and the pumps wind down on their own.
func (h *Hub) dropSlowConsumer(connID string) {
	h.mutex.RLock()
	client, ok := h.clients[connID]
	h.mutex.RUnlock()

	h.metrics.SlowConsumerDropped()
	if !ok {
		h.registry.Remove(connID)
		h.refreshGauges()
		return
	}

	client.logger.Warn("client removed due to full send buffer")
	client.session.Disconnect()
	client.close()
	h.refreshGauges()
}

func (h *Hub) closeConn(client *Client) {
	if client.conn == nil {
		return
	}
	if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
		client.logger.Warn("error closing client connection", "error", err)
	}
}

// shutdownClients gracefully closes all active client connections
func (h *Hub) shutdownClients() {
	h.logger.Info("shutting down all client connections")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[string]*Client)
	h.mutex.Unlock()

	for _, client := range clients {
		client.session.Disconnect()
		client.close()
	}
	h.refreshGauges()

	h.logger.Info("closed client connections", "count", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
