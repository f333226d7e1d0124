package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/G-TechSD/Claudia-Coder-sub001/internal/errors"
	"github.com/G-TechSD/Claudia-Coder-sub001/internal/event"
	"github.com/G-TechSD/Claudia-Coder-sub001/internal/session"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.runs.HealthCheck(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "run ledger unavailable")
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.GetSession(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, sess)
}

func (s *Server) handleActiveSession(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	sess, err := s.sessions.ActiveSessionForProject(projectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "no active session for project")
		return
	}
	writeJSON(w, sess)
}

func (s *Server) handleProjectHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	sessions, err := s.sessions.History(r.PathValue("id"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sessions == nil {
		sessions = []*session.ExecutionSession{}
	}
	writeJSON(w, sessions)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.sessions.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, stats)
}

func (s *Server) handleClearCompleted(w http.ResponseWriter, r *http.Request) {
	cleared, err := s.sessions.ClearCompleted()
	if err != nil {
		// Clearing needs the store's write lock, which a running batch
		// holds for its whole lifetime.
		if errors.Is(err, errors.ErrStoreLocked) {
			writeError(w, http.StatusConflict, "session store is locked by a running batch")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]int{"cleared": cleared})
}

func (s *Server) handlePacketRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.runs.History(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, runs)
}

func (s *Server) handleStopPacket(w http.ResponseWriter, r *http.Request) {
	packetID := r.PathValue("id")

	// An optional body narrows the stop to one session.
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.bus.Publish(event.NewStopRequestedEvent(req.SessionID, packetID))
	s.logger.Info("stop requested", "packet_id", packetID, "session_id", req.SessionID)
	writeJSON(w, map[string]string{"status": "stop requested"})
}

func (s *Server) handleRunFeedback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rating  int    `json:"rating"`
		Comment string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	run, err := s.runs.AttachFeedback(r.Context(), r.PathValue("id"), req.Rating, req.Comment)
	if err != nil {
		switch {
		case errors.Is(err, errors.ErrRunNotFound):
			writeError(w, http.StatusNotFound, "run not found")
		case errors.Is(err, errors.ErrRunNotTerminal):
			writeError(w, http.StatusConflict, "run is still in flight")
		case errors.IsValidation(err):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, run)
}
