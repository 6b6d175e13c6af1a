package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tumf/oneoff-docker-runner/internal/mcp"
	"github.com/tumf/oneoff-docker-runner/internal/session"
)

type Server struct {
	runs       RunService
	engine     EngineService
	dispatcher *mcp.Dispatcher
	sessions   *session.Store
	logger     *slog.Logger
	validate   *validator.Validate
	heartbeat  time.Duration
	mux        *http.ServeMux
}

func NewServer(runs RunService, engine EngineService, dispatcher *mcp.Dispatcher, sessions *session.Store, heartbeat time.Duration, logger *slog.Logger) *Server {
	s := &Server{
		runs:       runs,
		engine:     engine,
		dispatcher: dispatcher,
		sessions:   sessions,
		logger:     logger,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		heartbeat:  heartbeat,
		mux:        http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.requestIDMiddleware(s.mux))
}

func (s *Server) routes() {
	// REST surface
	s.mux.HandleFunc("POST /run", s.handleRun)
	s.mux.HandleFunc("POST /volume", s.handleCreateVolume)
	s.mux.HandleFunc("GET /health", s.handleHealth)

	// MCP endpoint; /sse and /stream are aliases kept for clients that
	// expect the older paths.
	for _, path := range []string{"/mcp", "/sse", "/stream"} {
		s.mux.HandleFunc("POST "+path, s.handleMCPPost)
		s.mux.HandleFunc("GET "+path, s.handleMCPStream)
	}
	s.mux.HandleFunc("DELETE /mcp", s.handleMCPDelete)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
