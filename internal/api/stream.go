package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/G-TechSD/Claudia-Coder-sub001/internal/event"
	"github.com/G-TechSD/Claudia-Coder-sub001/internal/session"
)

// clientBuffer is the per-client frame backlog. It has to absorb the
// frames published while a handler is still replaying history; a
// client that falls further behind than this is dropped.
const clientBuffer = 64

// SSEEvent is one frame on the live stream, shared by the SSE and
// websocket endpoints.
type SSEEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// SSEHub fans live frames out to connected stream clients.
type SSEHub struct {
	clients    map[chan SSEEvent]bool
	broadcast  chan SSEEvent
	register   chan chan SSEEvent
	unregister chan chan SSEEvent
	stop       chan struct{}
}

// NewSSEHub creates a hub. Run must be started before clients attach.
func NewSSEHub() *SSEHub {
	return &SSEHub{
		clients:    make(map[chan SSEEvent]bool),
		broadcast:  make(chan SSEEvent, clientBuffer),
		register:   make(chan chan SSEEvent),
		unregister: make(chan chan SSEEvent),
		stop:       make(chan struct{}),
	}
}

// Run owns the client set; every map access happens on this goroutine.
// It returns after Stop, closing all client channels.
func (h *SSEHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client)
			}

		case frame := <-h.broadcast:
			for client := range h.clients {
				select {
				case client <- frame:
				default:
					// The client stopped draining; drop it rather than
					// stall every other stream.
					delete(h.clients, client)
					close(client)
				}
			}

		case <-h.stop:
			for client := range h.clients {
				delete(h.clients, client)
				close(client)
			}
			return
		}
	}
}

// Register attaches a new client channel. After Stop the returned
// channel is already closed.
func (h *SSEHub) Register() chan SSEEvent {
	client := make(chan SSEEvent, clientBuffer)
	select {
	case h.register <- client:
	case <-h.stop:
		close(client)
	}
	return client
}

// Unregister detaches a client and closes its channel.
func (h *SSEHub) Unregister(client chan SSEEvent) {
	select {
	case h.unregister <- client:
	case <-h.stop:
	}
}

// Broadcast queues a frame for every connected client.
func (h *SSEHub) Broadcast(frame SSEEvent) {
	select {
	case h.broadcast <- frame:
	case <-h.stop:
	}
}

// Stop shuts the hub down and closes every client channel.
func (h *SSEHub) Stop() {
	close(h.stop)
}

// relay translates bus traffic into stream frames. Only events that
// name a session are forwarded; the stream endpoints are
// session-scoped.
func (s *Server) relay(e event.Event) {
	switch ev := e.(type) {
	case event.SessionEventAddedEvent:
		s.hub.Broadcast(SSEEvent{Type: ev.EventType(), SessionID: ev.SessionID, Data: session.ExecutionEvent{
			ID:        ev.EventID,
			Type:      session.EventType(ev.Kind),
			Message:   ev.Message,
			Timestamp: ev.Timestamp(),
		}})
	case event.SessionUpdatedEvent:
		s.hub.Broadcast(SSEEvent{Type: ev.EventType(), SessionID: ev.SessionID, Data: map[string]any{
			"status":             ev.Status,
			"progress":           ev.Progress,
			"currentPacketIndex": ev.CurrentPacketIndex,
		}})
	case event.SessionCompletedEvent:
		s.hub.Broadcast(SSEEvent{Type: ev.EventType(), SessionID: ev.SessionID, Data: map[string]any{
			"status": ev.Status,
			"error":  ev.Error,
		}})
	case event.RunStartedEvent:
		if ev.SessionID == "" {
			return
		}
		s.hub.Broadcast(SSEEvent{Type: ev.EventType(), SessionID: ev.SessionID, Data: map[string]any{
			"runId":     ev.RunID,
			"packetId":  ev.PacketID,
			"iteration": ev.Iteration,
		}})
	}
}

// frameWriter abstracts the transport under streamSession so SSE and
// websocket share one replay-then-follow loop.
type frameWriter interface {
	WriteFrame(SSEEvent) error
}

type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (sw sseWriter) WriteFrame(frame SSEEvent) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(sw.w, "event: %s\ndata: %s\n\n", frame.Type, data); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

type wsWriter struct {
	conn *websocket.Conn
}

func (ww wsWriter) WriteFrame(frame SSEEvent) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return ww.conn.WriteMessage(websocket.TextMessage, data)
}

// streamSession replays the session's persisted events and then
// follows live frames until the session completes or the client goes
// away. Registration happens before the snapshot read, so frames
// published in between arrive twice and are dropped by event id.
func (s *Server) streamSession(fw frameWriter, clientDone <-chan struct{}, id string) {
	client := s.hub.Register()
	defer s.hub.Unregister(client)

	sess, err := s.sessions.GetSession(id)
	if err != nil || sess == nil {
		return
	}

	seen := make(map[string]bool, len(sess.Events))
	for _, ev := range sess.Events {
		seen[ev.ID] = true
		if err := fw.WriteFrame(SSEEvent{Type: "session.event", SessionID: sess.ID, Data: ev}); err != nil {
			return
		}
	}
	if sess.Terminal() {
		fw.WriteFrame(SSEEvent{Type: "session.completed", SessionID: sess.ID, Data: map[string]any{
			"status": string(sess.Status),
			"error":  sess.Error,
		}})
		return
	}

	for {
		select {
		case <-clientDone:
			return
		case frame, ok := <-client:
			if !ok {
				return
			}
			if frame.SessionID != id {
				continue
			}
			if ev, ok := frame.Data.(session.ExecutionEvent); ok {
				if seen[ev.ID] {
					continue
				}
				seen[ev.ID] = true
			}
			if err := fw.WriteFrame(frame); err != nil {
				return
			}
			if frame.Type == "session.completed" {
				return
			}
		}
	}
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.sessions.GetSession(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	flusher.Flush()

	s.streamSession(sseWriter{w: w, flusher: flusher}, r.Context().Done(), id)
}

func (s *Server) handleSessionEventsWS(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.sessions.GetSession(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	logger := s.logger.WithSession(id).With("remote", r.RemoteAddr)
	logger.Debug("websocket client attached")
	defer logger.Debug("websocket client detached")

	// The reader only exists to notice the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.streamSession(wsWriter{conn: conn}, done, id)

	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
