// Package ws terminates WebSocket connections and translates the wire
// protocol into coordinator calls. Clients send JSON control messages
// (audio.start, audio.end, ping) interleaved with binary PCM chunks and
// receive JSON session events back.
package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/camara-coder/talking-game/internal/event"
	"github.com/camara-coder/talking-game/internal/turn"
)

const maxMessageBytes = 1 << 20

// controlMessage is a client-to-server text frame.
type controlMessage struct {
	Type   string         `json:"type"`
	Config map[string]any `json:"config,omitempty"`
}

// Handler upgrades HTTP requests and pumps frames between the client and the
// turn coordinator.
type Handler struct {
	coordinator *turn.Coordinator
	upgrader    websocket.Upgrader
}

// NewHandler creates the WebSocket handler.
func NewHandler(coordinator *turn.Coordinator) *Handler {
	return &Handler{
		coordinator: coordinator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id query parameter required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageBytes)

	sink := newConnSink(conn)
	h.coordinator.RegisterConnection(sessionID, sink)
	defer h.coordinator.DeregisterConnection(sessionID, sink)

	slog.Info("websocket connected", "session_id", sessionID, "remote", r.RemoteAddr)
	h.readLoop(r, sessionID, conn, sink)
	slog.Info("websocket disconnected", "session_id", sessionID)
}

func (h *Handler) readLoop(r *http.Request, sessionID string, conn *websocket.Conn, sink *connSink) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("websocket read error", "session_id", sessionID, "error", err)
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			h.coordinator.OnAudioChunk(sessionID, data)
		case websocket.TextMessage:
			h.handleControl(r, sessionID, data, sink)
		}
	}
}

func (h *Handler) handleControl(r *http.Request, sessionID string, data []byte, sink *connSink) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("malformed control message", "session_id", sessionID, "error", err)
		return
	}

	switch msg.Type {
	case "audio.start":
		h.coordinator.OnAudioStart(r.Context(), sessionID, msg.Config)
	case "audio.end":
		h.coordinator.OnAudioEnd(sessionID)
	case "ping":
		if err := sink.writeJSON(map[string]string{"type": "pong"}); err != nil {
			slog.Debug("pong write failed", "session_id", sessionID, "error", err)
		}
	default:
		slog.Debug("unknown control message", "session_id", sessionID, "type", msg.Type)
	}
}

// connSink serializes writes to one connection. Gorilla connections allow a
// single concurrent writer, and events arrive from broadcast goroutines as
// well as the read loop's pong replies.
type connSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newConnSink(conn *websocket.Conn) *connSink {
	return &connSink{conn: conn}
}

func (s *connSink) WriteEvent(ev event.Event) error {
	return s.writeJSON(ev)
}

func (s *connSink) writeJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}
