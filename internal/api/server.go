// Package api exposes the engine's query surface over HTTP: session
// lookups, project history, stats, packet run history, and live event
// streams over SSE and websocket. The server reads through a narrow
// directory interface and never mutates sessions itself; the only
// writes it triggers are run feedback and bus-mediated stop requests.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/G-TechSD/Claudia-Coder-sub001/internal/errors"
	"github.com/G-TechSD/Claudia-Coder-sub001/internal/event"
	"github.com/G-TechSD/Claudia-Coder-sub001/internal/logging"
	"github.com/G-TechSD/Claudia-Coder-sub001/internal/runledger"
	"github.com/G-TechSD/Claudia-Coder-sub001/internal/session"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8844"

// SessionDirectory is the view of the session layer the server reads
// from. *session.Manager implements it.
type SessionDirectory interface {
	GetSession(id string) (*session.ExecutionSession, error)
	ActiveSessionForProject(projectID string) (*session.ExecutionSession, error)
	History(projectID string, limit int) ([]*session.ExecutionSession, error)
	Stats() (*session.Stats, error)
	ClearCompleted() (int, error)
}

// Config holds the dependencies for constructing a Server.
type Config struct {
	Sessions SessionDirectory
	Runs     *runledger.Ledger
	Bus      *event.Bus
	Logger   *logging.Logger
	Addr     string
}

// Server is the HTTP query surface.
type Server struct {
	sessions SessionDirectory
	runs     *runledger.Ledger
	bus      *event.Bus
	logger   *logging.Logger

	mux      *http.ServeMux
	hub      *SSEHub
	upgrader websocket.Upgrader
	srv      *http.Server
	busSub   string
}

// NewServer creates a server from the given config. The stream hub
// starts immediately so handlers can be driven without Start (tests,
// embedding); Shutdown releases it.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("api: server requires a non-nil session directory")
	}
	if cfg.Runs == nil {
		return nil, fmt.Errorf("api: server requires a non-nil run ledger")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("api: server requires a non-nil event bus")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	addr := cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}

	s := &Server{
		sessions: cfg.Sessions,
		runs:     cfg.Runs,
		bus:      cfg.Bus,
		logger:   logger.WithComponent("api"),
		mux:      http.NewServeMux(),
		hub:      NewSSEHub(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.routes()
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.hub.Run()
	s.busSub = s.bus.SubscribeAll(s.relay)

	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("GET /api/sessions/{id}/events", s.handleSessionEvents)
	s.mux.HandleFunc("GET /api/sessions/{id}/events/ws", s.handleSessionEventsWS)
	s.mux.HandleFunc("POST /api/sessions/clear-completed", s.handleClearCompleted)
	s.mux.HandleFunc("GET /api/projects/{id}/sessions/active", s.handleActiveSession)
	s.mux.HandleFunc("GET /api/projects/{id}/sessions", s.handleProjectHistory)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	s.mux.HandleFunc("GET /api/packets/{id}/runs", s.handlePacketRuns)
	s.mux.HandleFunc("POST /api/packets/{id}/stop", s.handleStopPacket)
	s.mux.HandleFunc("POST /api/runs/{id}/feedback", s.handleRunFeedback)
}

// Handler returns the route table for embedding in another server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves HTTP until Shutdown is called or the listener fails.
func (s *Server) Start() error {
	s.logger.Info("api server listening", "addr", s.srv.Addr)
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the listener gracefully, detaches from the bus, and
// closes every live stream.
func (s *Server) Shutdown(ctx context.Context) error {
	s.bus.Unsubscribe(s.busSub)
	s.hub.Stop()
	err := s.srv.Shutdown(ctx)
	s.logger.Info("api server stopped")
	return err
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
