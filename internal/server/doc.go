// Package server exposes the chat subsystem over HTTP.
//
// A Hub tracks WebSocket clients and runs their read/write pumps; each Client
// is the delivery sink the chat dispatcher fans messages into. The REST
// endpoints under /api/messages share the same message service, so a message
// posted over HTTP is broadcast exactly like one sent over a socket.
// Configuration, origin checks and per-connection rate limiting live here too.
package server
