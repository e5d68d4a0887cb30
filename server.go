package main

import (
	"log/slog"
	"net/http"

	"github.com/relaylab/serialterm/chat"
)

// Server handles incoming HTTP requests: WebSocket chat attachments and a
// health probe
type Server struct {
	Logger  *slog.Logger
	Gateway *chat.Gateway
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux := http.NewServeMux()
	mux.Handle("GET /ws", s.Gateway)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
