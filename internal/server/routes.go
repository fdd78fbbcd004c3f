package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Tyrowin/projectchat/internal/auth"
)

// SetupRoutes configures and returns an HTTP ServeMux with all application routes.
func (s *Server) SetupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.HealthHandler)
	mux.HandleFunc("GET /healthz", s.ReadinessHandler)
	mux.HandleFunc("/ws", s.WebSocketHandler)
	mux.HandleFunc("GET /test", TestPageHandler)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	requireAuth := auth.Middleware(s.validator, s.logger)
	mux.Handle("GET /api/messages", requireAuth(http.HandlerFunc(s.ListMessagesHandler)))
	mux.Handle("POST /api/messages", requireAuth(http.HandlerFunc(s.CreateMessageHandler)))
	mux.Handle("DELETE /api/messages/{id}", requireAuth(http.HandlerFunc(s.DeleteMessageHandler)))
	return mux
}
