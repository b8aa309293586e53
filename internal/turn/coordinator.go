// Package turn coordinates audio capture, endpoint confirmation and the
// at-most-once hand-off of a finished utterance to the reply pipeline. It
// also multiplexes session events out to every attached connection.
package turn

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/camara-coder/talking-game/internal/audio"
	"github.com/camara-coder/talking-game/internal/event"
	"github.com/camara-coder/talking-game/internal/metrics"
	"github.com/camara-coder/talking-game/internal/session"
	"github.com/camara-coder/talking-game/internal/vad"
)

// Trigger sources, used for logs and metrics.
const (
	SourceExplicit = "explicit"
	SourceEndpoint = "endpoint"
)

// EventSink receives session events. *websocket.Conn wrapped with a write
// mutex satisfies this; tests use in-memory sinks.
type EventSink interface {
	WriteEvent(ev event.Event) error
}

// Processor consumes a committed utterance and drives the reply pipeline.
// Implementations run synchronously; the coordinator calls them on their own
// goroutine.
type Processor interface {
	ProcessTurn(ctx context.Context, req ProcessRequest)
}

// ProcessRequest is one committed utterance.
type ProcessRequest struct {
	Session *session.Session
	TurnID  string
	Audio   []byte
	Config  audio.CaptureConfig
	Source  string
}

// Config controls capture and endpoint confirmation.
type Config struct {
	SampleRate    int
	FrameSize     int
	ConfirmWindow time.Duration
	PostRoll      time.Duration
}

// Coordinator owns the per-session capture state and the connection sets.
// One Coordinator serves all sessions of the process.
type Coordinator struct {
	cfg         Config
	registry    *session.Registry
	processor   Processor
	newDetector func() vad.Detector

	mu       sync.Mutex
	conns    map[string]map[EventSink]struct{}
	captures map[string]*capture
}

// capture is the in-flight state of one listening turn. Its mutex serializes
// audio handling, the confirmation timer and the trigger guard.
type capture struct {
	mu      sync.Mutex
	sess    *session.Session
	turnID  string
	acc     *audio.Accumulator
	ep      *vad.Endpointer
	confirm *time.Timer
	fired   bool
}

// NewCoordinator wires the coordinator. newDetector builds a fresh endpoint
// detector per turn.
func NewCoordinator(cfg Config, registry *session.Registry, processor Processor, newDetector func() vad.Detector) *Coordinator {
	return &Coordinator{
		cfg:         cfg,
		registry:    registry,
		processor:   processor,
		newDetector: newDetector,
		conns:       make(map[string]map[EventSink]struct{}),
		captures:    make(map[string]*capture),
	}
}

// RegisterConnection attaches a sink to a session's event stream.
func (c *Coordinator) RegisterConnection(sessionID string, sink EventSink) {
	c.mu.Lock()
	set := c.conns[sessionID]
	if set == nil {
		set = make(map[EventSink]struct{})
		c.conns[sessionID] = set
	}
	set[sink] = struct{}{}
	n := len(set)
	c.mu.Unlock()

	metrics.ConnectionsActive.Inc()
	slog.Info("connection attached", "session_id", sessionID, "connections", n)
}

// DeregisterConnection detaches a sink. When the last connection of a session
// goes away its capture resources are released; session history is untouched.
func (c *Coordinator) DeregisterConnection(sessionID string, sink EventSink) {
	c.mu.Lock()
	set := c.conns[sessionID]
	if set != nil {
		if _, ok := set[sink]; ok {
			delete(set, sink)
			metrics.ConnectionsActive.Dec()
		}
		if len(set) == 0 {
			delete(c.conns, sessionID)
		}
	}
	last := c.conns[sessionID] == nil
	c.mu.Unlock()

	if last {
		c.releaseCapture(sessionID)
	}
}

// Broadcast sends an event to every connection of the session. A failing
// connection is dropped and the rest still receive the event.
func (c *Coordinator) Broadcast(sessionID string, ev event.Event) {
	c.mu.Lock()
	set := c.conns[sessionID]
	sinks := make([]EventSink, 0, len(set))
	for s := range set {
		sinks = append(sinks, s)
	}
	c.mu.Unlock()

	var failed []EventSink
	for _, s := range sinks {
		if err := s.WriteEvent(ev); err != nil {
			slog.Warn("event write failed, dropping connection",
				"session_id", sessionID, "event", ev.Type, "error", err)
			failed = append(failed, s)
		}
	}
	for _, s := range failed {
		c.DeregisterConnection(sessionID, s)
	}
}

// OnAudioStart begins capture for a new turn. Repeated starts while a turn is
// in progress are no-ops against the same turn.
func (c *Coordinator) OnAudioStart(ctx context.Context, sessionID string, clientCfg map[string]any) {
	sess := c.registry.ResumeOrCreate(ctx, sessionID)
	turn := sess.StartTurn()

	c.mu.Lock()
	if cp, ok := c.captures[sess.ID]; ok && cp.turnID == turn.ID {
		c.mu.Unlock()
		sess.Touch()
		slog.Debug("audio.start for turn already in progress",
			"session_id", sess.ID, "turn_id", turn.ID)
		return
	}
	cp := &capture{
		sess:   sess,
		turnID: turn.ID,
		acc:    audio.NewAccumulator(audio.CaptureConfigFromMap(clientCfg)),
		ep:     vad.NewEndpointer(c.newDetector(), c.cfg.FrameSize, sess.ID),
	}
	c.captures[sess.ID] = cp
	c.mu.Unlock()

	slog.Info("turn capture started", "session_id", sess.ID, "turn_id", turn.ID)
	c.Broadcast(sess.ID, event.State(sess.ID, turn.ID, session.StatusListening))
}

// OnAudioChunk buffers one chunk and advances endpoint detection. Chunks
// outside an active capture are dropped.
func (c *Coordinator) OnAudioChunk(sessionID string, chunk []byte) {
	cp := c.getCapture(sessionID)
	if cp == nil {
		metrics.AudioChunksDropped.Inc()
		return
	}

	cp.mu.Lock()
	defer cp.mu.Unlock()

	if cp.fired {
		metrics.AudioChunksDropped.Inc()
		return
	}

	cp.acc.Append(chunk)
	metrics.AudioChunks.Inc()
	cp.sess.Touch()

	res := cp.ep.ProcessChunk(chunk)
	if res.SpeechResumed {
		metrics.EndpointsCancelled.Inc()
		if cp.confirm != nil {
			cp.confirm.Stop()
			cp.confirm = nil
		}
		slog.Debug("speech resumed, endpoint cancelled", "session_id", sessionID)
	}
	if res.EndDetected {
		metrics.EndpointsDetected.Inc()
		if cp.confirm != nil {
			cp.confirm.Stop()
		}
		cp.confirm = time.AfterFunc(c.cfg.ConfirmWindow, func() {
			c.confirmEndpoint(sessionID, cp)
		})
		slog.Debug("endpoint pending confirmation",
			"session_id", sessionID, "end_sample", res.EndSample)
	}
}

// OnAudioEnd is the explicit end-of-utterance signal. It commits the full
// buffer immediately and wins over any pending endpoint confirmation.
func (c *Coordinator) OnAudioEnd(sessionID string) {
	cp := c.getCapture(sessionID)
	if cp == nil {
		slog.Debug("audio.end with no active capture", "session_id", sessionID)
		return
	}

	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.fired {
		metrics.TriggersSuppressed.Inc()
		return
	}
	c.commitLocked(cp, cp.acc.Bytes(), SourceExplicit)
}

// confirmEndpoint runs when the confirmation window elapses. The endpoint is
// re-checked under the capture lock: it may have been cancelled by resumed
// speech or superseded by an explicit end while the timer was in flight.
func (c *Coordinator) confirmEndpoint(sessionID string, cp *capture) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if cp.fired {
		metrics.TriggersSuppressed.Inc()
		return
	}
	endSample, pending := cp.ep.Pending()
	if !pending {
		return
	}

	// Keep a short post-roll after the detected end, discard trailing audio
	// beyond it.
	cutoff := endSample + int64(float64(c.cfg.SampleRate)*c.cfg.PostRoll.Seconds())
	c.commitLocked(cp, cp.acc.Prefix(int(cutoff)), SourceEndpoint)
}

// commitLocked performs the single trigger of a turn: flips the guard, seals
// the buffer and hands the utterance to the processor. Callers hold cp.mu.
func (c *Coordinator) commitLocked(cp *capture, data []byte, source string) {
	cp.fired = true
	cp.acc.Seal()
	if cp.confirm != nil {
		cp.confirm.Stop()
		cp.confirm = nil
	}

	sess := cp.sess
	turnID := cp.turnID

	c.mu.Lock()
	delete(c.captures, sess.ID)
	c.mu.Unlock()

	if len(data) == 0 {
		slog.Warn("turn ended with no audio", "session_id", sess.ID, "turn_id", turnID)
		metrics.Errors.WithLabelValues("capture", "no_audio").Inc()
		sess.AbortTurn()
		c.Broadcast(sess.ID, event.Error(sess.ID, turnID, event.CodeNoAudio, "no audio received for this turn"))
		c.Broadcast(sess.ID, event.State(sess.ID, "", session.StatusIdle))
		return
	}

	metrics.Triggers.WithLabelValues(source).Inc()
	sess.SetStatus(session.StatusProcessing)
	c.Broadcast(sess.ID, event.State(sess.ID, turnID, session.StatusProcessing))
	slog.Info("turn committed", "session_id", sess.ID, "turn_id", turnID,
		"source", source, "bytes", len(data))

	req := ProcessRequest{
		Session: sess,
		TurnID:  turnID,
		Audio:   data,
		Config:  cp.acc.Config(),
		Source:  source,
	}
	go c.processor.ProcessTurn(context.Background(), req)
}

func (c *Coordinator) getCapture(sessionID string) *capture {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.captures[sessionID]
}

// releaseCapture tears down capture state after the last connection of a
// session disconnects. A turn that never committed is discarded; completed
// history stays on the session.
func (c *Coordinator) releaseCapture(sessionID string) {
	c.mu.Lock()
	cp := c.captures[sessionID]
	delete(c.captures, sessionID)
	c.mu.Unlock()

	if cp == nil {
		return
	}

	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.confirm != nil {
		cp.confirm.Stop()
		cp.confirm = nil
	}
	if !cp.fired {
		cp.fired = true
		cp.acc.Seal()
		cp.sess.AbortTurn()
		slog.Info("capture released on disconnect",
			"session_id", sessionID, "turn_id", cp.turnID)
	}
}
