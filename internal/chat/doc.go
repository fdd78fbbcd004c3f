// Package chat implements room-scoped real-time chat independently of any
// transport: a connection registry with lazily created rooms, a scope router,
// a persist-then-dispatch message service, a per-room FIFO broadcast
// dispatcher and the per-connection lifecycle state machine.
//
// Transports plug in by implementing Sink for outbound frames and by feeding
// decoded events into Session.Handle.
package chat
