package chat

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Recorder receives chat metrics. observability.Metrics implements it.
type Recorder interface {
	MessagePersisted(status string)
	MessagesDelivered(scope string, n int)
	StoreObserved(operation string, seconds float64)
	EventHandled(event, status string)
}

type nopRecorder struct{}

func (nopRecorder) MessagePersisted(string) {}
func (nopRecorder) MessagesDelivered(string, int) {}
func (nopRecorder) StoreObserved(string, float64) {}
func (nopRecorder) EventHandled(string, string) {}

// Dispatcher fans persisted messages out to the members of a room.
//
// Every room has an ordering lock. Deliveries for a room happen under it, and
// Publish also holds it across the store write, so members observe a room's
// messages in the order the store accepted them. Rooms never share a lock.
type Dispatcher struct {
	registry *Registry
	recorder Recorder
	logger   *slog.Logger

	locksMu sync.Mutex
	locks   map[Room]*roomLock

	slowMu sync.RWMutex
	onSlow func(connID string)
}

// roomLock is dropped from the table once no caller holds or waits on it.
type roomLock struct {
	mu   sync.Mutex
	refs int
}

// NewDispatcher builds a dispatcher over registry. A nil recorder or logger
// disables metrics or logging respectively.
func NewDispatcher(registry *Registry, recorder Recorder, logger *slog.Logger) *Dispatcher {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{
		registry: registry,
		recorder: recorder,
		logger:   logger,
		locks:    make(map[Room]*roomLock),
	}
}

// OnSlowConsumer registers a callback invoked, outside any lock, for every
// connection whose buffer was full during a dispatch.
func (d *Dispatcher) OnSlowConsumer(fn func(connID string)) {
	d.slowMu.Lock()
	d.onSlow = fn
	d.slowMu.Unlock()
}

// lockRoom acquires room's ordering lock and returns its release func.
func (d *Dispatcher) lockRoom(room Room) func() {
	d.locksMu.Lock()
	l, ok := d.locks[room]
	if !ok {
		l = &roomLock{}
		d.locks[room] = l
	}
	l.refs++
	d.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		d.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(d.locks, room)
		}
		d.locksMu.Unlock()
	}
}

// fanout is the outcome of one delivery pass.
type fanout struct {
	targets   int
	delivered int
	slow      []string
}

// Dispatch delivers msg as a chat:message event to every connection in room,
// once each, and returns the number of successful deliveries. Connections
// that went away between the snapshot and the send are skipped silently.
func (d *Dispatcher) Dispatch(msg *Message, room Room) (int, error) {
	if msg == nil {
		return 0, fmt.Errorf("dispatch: %w", ErrValidation)
	}
	unlock := d.lockRoom(room)
	out, err := d.deliver(msg, room)
	unlock()
	if err != nil {
		return 0, err
	}
	d.report(msg, room, out)
	return out.delivered, nil
}

// Publish runs persist under room's ordering lock and delivers the message it
// returns before releasing the lock. Messages published to one room reach its
// members in the order persist completed, which is the store's order. If
// persist fails nothing is delivered and its error is returned unchanged. A
// delivery error is returned together with the persisted message.
func (d *Dispatcher) Publish(room Room, persist func() (*Message, error)) (*Message, int, error) {
	unlock := d.lockRoom(room)
	msg, err := persist()
	if err != nil {
		unlock()
		return nil, 0, err
	}
	if msg == nil {
		unlock()
		return nil, 0, fmt.Errorf("publish: %w", ErrValidation)
	}
	out, err := d.deliver(msg, room)
	unlock()
	if err != nil {
		return msg, 0, fmt.Errorf("publish %s: %w", msg.ID, err)
	}
	d.report(msg, room, out)
	return msg, out.delivered, nil
}

// deliver queues msg to every member of room. The caller holds room's lock.
func (d *Dispatcher) deliver(msg *Message, room Room) (fanout, error) {
	frame, err := EncodeEvent(EventChatMessage, msg)
	if err != nil {
		return fanout{}, err
	}

	targets := d.registry.targets(room)
	out := fanout{targets: len(targets)}
	for _, t := range targets {
		switch err := t.sink.Deliver(frame); {
		case err == nil:
			out.delivered++
		case errors.Is(err, ErrSinkFull):
			out.slow = append(out.slow, t.id)
		case errors.Is(err, ErrSinkClosed):
		default:
			d.logger.Warn("delivery failed", "conn_id", t.id, "room", room.String(), "error", err)
		}
	}
	return out, nil
}

// report records metrics and hands slow consumers to the callback. It runs
// after the room lock is released.
func (d *Dispatcher) report(msg *Message, room Room, out fanout) {
	d.recorder.MessagesDelivered(room.Scope(), out.delivered)
	d.logger.Debug("message dispatched",
		"message_id", msg.ID,
		"room", room.String(),
		"targets", out.targets,
		"delivered", out.delivered)

	if len(out.slow) == 0 {
		return
	}
	d.slowMu.RLock()
	onSlow := d.onSlow
	d.slowMu.RUnlock()
	for _, id := range out.slow {
		d.logger.Warn("dropping slow consumer", "conn_id", id, "room", room.String())
		if onSlow != nil {
			onSlow(id)
		}
	}
}

// SendTo delivers a single event to one connection. A connection that is no
// longer registered yields ErrNotFound.
func (d *Dispatcher) SendTo(connID, event string, data any) error {
	sink, ok := d.registry.sinkFor(connID)
	if !ok {
		return fmt.Errorf("send %s to %q: %w", event, connID, ErrNotFound)
	}
	frame, err := EncodeEvent(event, data)
	if err != nil {
		return err
	}
	return sink.Deliver(frame)
}
