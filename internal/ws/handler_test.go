package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camara-coder/talking-game/internal/event"
	"github.com/camara-coder/talking-game/internal/session"
	"github.com/camara-coder/talking-game/internal/turn"
	"github.com/camara-coder/talking-game/internal/vad"
)

type captureProcessor struct {
	requests chan turn.ProcessRequest
}

func (p *captureProcessor) ProcessTurn(_ context.Context, req turn.ProcessRequest) {
	p.requests <- req
}

type silentDetector struct{}

func (silentDetector) Feed([]float32) (vad.Boundary, error) { return vad.BoundaryNone, nil }
func (silentDetector) Reset()                               {}

func dialTestServer(t *testing.T, sessionID string) (*websocket.Conn, *captureProcessor, *session.Registry) {
	t.Helper()

	proc := &captureProcessor{requests: make(chan turn.ProcessRequest, 1)}
	reg := session.NewRegistry(10, time.Minute, nil)
	coord := turn.NewCoordinator(turn.Config{
		SampleRate:    16000,
		FrameSize:     512,
		ConfirmWindow: 50 * time.Millisecond,
		PostRoll:      30 * time.Millisecond,
	}, reg, proc, func() vad.Detector { return silentDetector{} })

	srv := httptest.NewServer(NewHandler(coord))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?session_id=" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn, proc, reg
}

func readEvent(t *testing.T, conn *websocket.Conn) event.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev event.Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestHandlerRequiresSessionID(t *testing.T) {
	reg := session.NewRegistry(10, time.Minute, nil)
	coord := turn.NewCoordinator(turn.Config{FrameSize: 512}, reg, nil, func() vad.Detector { return silentDetector{} })
	srv := httptest.NewServer(NewHandler(coord))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestHandlerTurnRoundTrip(t *testing.T) {
	conn, proc, reg := dialTestServer(t, "s1")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"audio.start","config":{"sample_rate":16000}}`)))

	ev := readEvent(t, conn)
	assert.Equal(t, event.TypeState, ev.Type)
	assert.Equal(t, "s1", ev.SessionID)

	// Two seconds of audio in 4000-byte chunks.
	chunk := make([]byte, 4000)
	for range 16 {
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, chunk))
	}
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"audio.end"}`)))

	select {
	case req := <-proc.requests:
		assert.Equal(t, "s1", req.Session.ID)
		assert.Len(t, req.Audio, 64000)
		assert.Equal(t, turn.SourceExplicit, req.Source)
		assert.Equal(t, 16000, req.Config.SampleRate)
	case <-time.After(2 * time.Second):
		t.Fatal("utterance never reached the processor")
	}

	// The state broadcast for processing also reaches this connection.
	ev = readEvent(t, conn)
	assert.Equal(t, event.TypeState, ev.Type)

	sess, ok := reg.Get("s1")
	require.True(t, ok)
	assert.Equal(t, session.StatusProcessing, sess.Status())
}

func TestHandlerPing(t *testing.T) {
	conn, _, _ := dialTestServer(t, "s1")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]string
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "pong", msg["type"])
}
