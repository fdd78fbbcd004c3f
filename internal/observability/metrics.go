package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Tyrowin/projectchat/internal/chat"
)

var _ chat.Recorder = (*Metrics)(nil)

// Metrics holds the chat server's Prometheus collectors. It satisfies
// chat.Recorder.
type Metrics struct {
	// ConnectionsActive tracks admitted WebSocket connections.
	ConnectionsActive prometheus.Gauge

	// RoomsActive tracks non-empty rooms, identity rooms included.
	RoomsActive prometheus.Gauge

	// MessagesPersisted counts persist attempts.
	// Labels: status (ok|invalid|error)
	MessagesPersisted *prometheus.CounterVec

	// DeliveredTotal counts frames queued to connections.
	// Labels: scope (global|project|identity|other)
	DeliveredTotal *prometheus.CounterVec

	// EventsHandled counts inbound client events.
	// Labels: event, status (ok|error)
	EventsHandled *prometheus.CounterVec

	// StoreDuration measures message store latency.
	// Labels: operation (create|list|delete)
	StoreDuration *prometheus.HistogramVec

	// AuthFailures counts rejected handshakes and REST calls.
	AuthFailures prometheus.Counter

	// SlowConsumers counts connections dropped for a full send buffer.
	SlowConsumers prometheus.Counter
}

// NewMetrics creates all collectors and registers them with reg. Tests pass
// a fresh prometheus.NewRegistry so metrics never leak between them.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chat_connections_active",
			Help: "Number of admitted WebSocket connections",
		}),
		RoomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chat_rooms_active",
			Help: "Number of rooms with at least one member",
		}),
		MessagesPersisted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_messages_persisted_total",
				Help: "Chat messages handed to the store by outcome",
			},
			[]string{"status"},
		),
		DeliveredTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_messages_delivered_total",
				Help: "Frames queued to connections by room scope",
			},
			[]string{"scope"},
		),
		EventsHandled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_events_total",
				Help: "Inbound client events by name and outcome",
			},
			[]string{"event", "status"},
		),
		StoreDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chat_store_duration_seconds",
				Help:    "Duration of message store operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation"},
		),
		AuthFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_auth_failures_total",
			Help: "Rejected credentials",
		}),
		SlowConsumers: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_slow_consumers_total",
			Help: "Connections dropped because their send buffer was full",
		}),
	}
}

func (m *Metrics) MessagePersisted(status string) {
	m.MessagesPersisted.WithLabelValues(status).Inc()
}

func (m *Metrics) MessagesDelivered(scope string, n int) {
	if n > 0 {
		m.DeliveredTotal.WithLabelValues(scope).Add(float64(n))
	}
}

func (m *Metrics) StoreObserved(operation string, seconds float64) {
	m.StoreDuration.WithLabelValues(operation).Observe(seconds)
}

func (m *Metrics) EventHandled(event, status string) {
	m.EventsHandled.WithLabelValues(event, status).Inc()
}

// SetConnections records the current number of admitted connections.
func (m *Metrics) SetConnections(n int) { m.ConnectionsActive.Set(float64(n)) }

// SetRooms records the current room count.
func (m *Metrics) SetRooms(n int) { m.RoomsActive.Set(float64(n)) }

func (m *Metrics) AuthFailed() { m.AuthFailures.Inc() }

func (m *Metrics) SlowConsumerDropped() { m.SlowConsumers.Inc() }
